package evidence

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/corvid-core/internal/corvidlog"
	"github.com/corvidlabs/corvid-core/internal/eventbus"
)

func newTestManager() *Manager {
	return New(true, 1000, nil, nil, eventbus.New(), corvidlog.Nop())
}

func TestCollectEvidenceAutoVerifies(t *testing.T) {
	m := newTestManager()
	m.CreateInvestigation("inv1")
	item, err := m.CollectEvidence("inv1", "screenshot", []byte("data"), nil)
	require.NoError(t, err)
	require.True(t, item.Verified)
	require.Len(t, item.CustodyChain, 2) // created, verified
}

func TestCollectEvidenceUnknownInvestigation(t *testing.T) {
	m := newTestManager()
	_, err := m.CollectEvidence("nope", "screenshot", []byte("data"), nil)
	require.Error(t, err)
}

func TestGetEvidenceAppendsAccessedEntry(t *testing.T) {
	m := newTestManager()
	m.CreateInvestigation("inv1")
	item, _ := m.CollectEvidence("inv1", "screenshot", []byte("data"), nil)
	got, err := m.GetEvidence(item.ID, "analyst1", "review")
	require.NoError(t, err)
	last := got.CustodyChain[len(got.CustodyChain)-1]
	require.Equal(t, CustodyAccessed, last.Action)
	require.Equal(t, "analyst1", last.Actor)
}

func TestSealItemRejectsDoubleSeal(t *testing.T) {
	m := newTestManager()
	m.CreateInvestigation("inv1")
	item, _ := m.CollectEvidence("inv1", "screenshot", []byte("data"), nil)
	require.NoError(t, m.SealItem(item.ID, "investigator"))
	require.Error(t, m.SealItem(item.ID, "investigator"))
}

func TestVerifyAppendsEntryOnSealedItem(t *testing.T) {
	m := New(false, 1000, nil, nil, eventbus.New(), corvidlog.Nop())
	m.CreateInvestigation("inv1")
	item, _ := m.CollectEvidence("inv1", "screenshot", []byte("data"), nil)
	require.NoError(t, m.SealItem(item.ID, "x"))
	before := len(m.items[item.ID].CustodyChain)

	passed, err := m.Verify(item.ID)
	require.NoError(t, err)
	require.True(t, passed)
	chain := m.items[item.ID].CustodyChain
	require.Len(t, chain, before+1)
	require.Equal(t, CustodyVerified, chain[len(chain)-1].Action)
}

// Package hash is order-independent: identical item sets yield identical
// package hashes regardless of add order.
func TestPackageHashOrderIndependent(t *testing.T) {
	m := newTestManager()
	m.CreateInvestigation("inv1")
	i1, _ := m.CollectEvidence("inv1", "a", []byte("one"), nil)
	i2, _ := m.CollectEvidence("inv1", "b", []byte("two"), nil)

	pkgA := m.CreatePackage("pkgA", "inv1", "case1")
	require.NoError(t, m.AddToPackage(pkgA.ID, i1.ID))
	require.NoError(t, m.AddToPackage(pkgA.ID, i2.ID))
	require.NoError(t, m.SealPackage(pkgA.ID, "investigator"))

	pkgB := m.CreatePackage("pkgB", "inv1", "case1")
	require.NoError(t, m.AddToPackage(pkgB.ID, i2.ID))
	require.NoError(t, m.AddToPackage(pkgB.ID, i1.ID))
	require.NoError(t, m.SealPackage(pkgB.ID, "investigator"))

	m.mu.Lock()
	hashA := m.packages[pkgA.ID].Hash
	hashB := m.packages[pkgB.ID].Hash
	m.mu.Unlock()
	require.Equal(t, hashA, hashB)
}

func TestSealPackageSealsContainedItems(t *testing.T) {
	m := newTestManager()
	m.CreateInvestigation("inv1")
	i1, _ := m.CollectEvidence("inv1", "a", []byte("one"), nil)
	pkg := m.CreatePackage("pkg", "inv1", "case1")
	require.NoError(t, m.AddToPackage(pkg.ID, i1.ID))
	require.NoError(t, m.SealPackage(pkg.ID, "investigator"))

	m.mu.Lock()
	sealed := m.items[i1.ID].Sealed
	m.mu.Unlock()
	require.True(t, sealed)
}

func TestExportSWGDEReportContainsRequiredMarkers(t *testing.T) {
	m := newTestManager()
	m.CreateInvestigation("inv1")
	i1, _ := m.CollectEvidence("inv1", "screenshot", []byte("one"), nil)
	pkg := m.CreatePackage("pkg", "inv1", "case-42")
	require.NoError(t, m.AddToPackage(pkg.ID, i1.ID))
	require.NoError(t, m.SealPackage(pkg.ID, "investigator"))

	out, err := m.ExportPackage(pkg.ID, FormatSWGDEReport, ExportOpts{})
	require.NoError(t, err)
	s := string(out)
	require.Contains(t, s, "DIGITAL FORENSIC EXAMINATION REPORT")
	require.Contains(t, s, "SWGDE Requirements for Report Writing Compliant")
	require.Contains(t, s, "SHA-256")
	require.Contains(t, s, "case-42")
}

func TestExportUnknownFormat(t *testing.T) {
	m := newTestManager()
	m.CreateInvestigation("inv1")
	pkg := m.CreatePackage("pkg", "inv1", "case1")
	_, err := m.ExportPackage(pkg.ID, ExportFormat("bogus"), ExportOpts{})
	require.Error(t, err)
}

func TestExportArchiveProducesNonEmptyBundle(t *testing.T) {
	m := newTestManager()
	m.CreateInvestigation("inv1")
	i1, _ := m.CollectEvidence("inv1", "screenshot", []byte("one"), nil)
	pkg := m.CreatePackage("pkg", "inv1", "case1")
	require.NoError(t, m.AddToPackage(pkg.ID, i1.ID))
	require.NoError(t, m.SealPackage(pkg.ID, "investigator"))

	out, err := m.ExportPackage(pkg.ID, FormatArchive, ExportOpts{})
	require.NoError(t, err)
	require.NotEmpty(t, out)
}

func TestAuditLogFilterByInvestigation(t *testing.T) {
	m := newTestManager()
	m.CreateInvestigation("inv1")
	m.CreateInvestigation("inv2")
	_, _ = m.CollectEvidence("inv1", "a", []byte("x"), nil)
	_, _ = m.CollectEvidence("inv2", "a", []byte("y"), nil)

	entries := m.GetAuditLog(AuditFilter{InvestigationID: "inv1"})
	require.Len(t, entries, 1)
}
