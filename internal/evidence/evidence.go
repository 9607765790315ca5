// Package evidence implements the Evidence Manager (spec.md §4.I):
// content-addressed evidence items with an append-only custody chain,
// order-independent package hashing, seal/verify, and a bounded audit log.
//
// Grounded on the teacher's internal/audit/audit_trail.go (append-only
// bounded log with FIFO eviction and filtered query — reused directly for
// the audit log) and internal/session/verify.go's hash-verification/
// tamper-detection pattern for item verify/seal.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/corvidlabs/corvid-core/internal/errs"
	"github.com/corvidlabs/corvid-core/internal/eventbus"
)

// CustodyAction is the closed custody-chain action set.
type CustodyAction string

const (
	CustodyCreated  CustodyAction = "created"
	CustodyVerified CustodyAction = "verified"
	CustodyAccessed CustodyAction = "accessed"
	CustodySealed   CustodyAction = "sealed"
)

// CustodyEntry is one append-only custody-chain record.
type CustodyEntry struct {
	Action    CustodyAction
	Actor     string
	Reason    string
	Timestamp time.Time
	Passed    *bool // set for "verified" entries
}

// Item is spec §3's EvidenceItem.
type Item struct {
	ID              string
	InvestigationID string
	Kind            string // screenshot, recording, cookie-export, dom-snapshot, ...
	Data            []byte
	Hash            string
	Verified        bool
	Sealed          bool
	SealedBy        string
	SealedAt        *time.Time
	CustodyChain    []CustodyEntry
	Metadata        map[string]any
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Package is spec §3's EvidencePackage.
type Package struct {
	ID              string
	Name            string
	InvestigationID string
	CaseID          string
	ItemIDs         []string
	Hash            string
	Sealed          bool
	SealedBy        string
	SealedAt        *time.Time
}

// Manager is the Evidence Manager.
type Manager struct {
	mu              sync.Mutex
	items           map[string]*Item
	packages        map[string]*Package
	investigations  map[string]bool
	autoVerify      bool

	auditMu sync.Mutex
	audit   []AuditEntry
	maxAuditSize int

	verificationsFailed int64
	itemsCollected      int64
	itemsSealed         int64

	bus   *eventbus.Bus
	log   zerolog.Logger
	vault *Vault
	index Indexer
}

// AuditEntry mirrors the teacher's AuditTrail entry shape, generalized
// from tool-invocation records to evidence-pipeline actions.
type AuditEntry struct {
	ID              string
	InvestigationID string
	Action          string
	Actor           string
	Timestamp       time.Time
	Details         string
}

// New constructs a Manager. vault may be nil to skip persistence (tests);
// index may be nil to skip the SQLite mirror.
func New(autoVerify bool, maxAuditSize int, vault *Vault, index Indexer, bus *eventbus.Bus, log zerolog.Logger) *Manager {
	if maxAuditSize <= 0 {
		maxAuditSize = 10000
	}
	return &Manager{
		items: make(map[string]*Item), packages: make(map[string]*Package),
		investigations: make(map[string]bool), autoVerify: autoVerify,
		maxAuditSize: maxAuditSize, bus: bus, log: log, vault: vault, index: index,
	}
}

// Indexer is the optional secondary-index mirror (SQLite, SPEC_FULL §2
// component Q).
type Indexer interface {
	IndexItem(it Item) error
	IndexPackage(pk Package) error
	IndexAudit(e AuditEntry) error
}

// CreateInvestigation registers a new investigation id.
func (m *Manager) CreateInvestigation(id string) {
	m.mu.Lock()
	m.investigations[id] = true
	m.mu.Unlock()
}

func (m *Manager) appendAudit(action, investigationID, actor, details string) {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	m.audit = append(m.audit, AuditEntry{
		ID: uuid.NewString(), InvestigationID: investigationID, Action: action,
		Actor: actor, Timestamp: time.Now(), Details: details,
	})
	if len(m.audit) > m.maxAuditSize {
		m.audit = m.audit[len(m.audit)-m.maxAuditSize:]
	}
	if m.index != nil {
		if err := m.index.IndexAudit(m.audit[len(m.audit)-1]); err != nil {
			m.log.Warn().Err(err).Msg("evidence: audit index mirror failed")
		}
	}
}

// CollectEvidence builds an Item, hashes it, optionally auto-verifies, and
// persists it to the vault.
func (m *Manager) CollectEvidence(investigationID, kind string, data []byte, metadata map[string]any) (*Item, error) {
	m.mu.Lock()
	if !m.investigations[investigationID] {
		m.mu.Unlock()
		return nil, errs.New(errs.NotFound, "investigation not found: "+investigationID)
	}

	item := &Item{
		ID: uuid.NewString(), InvestigationID: investigationID, Kind: kind,
		Data: data, Hash: hashBytes(data), Metadata: metadata,
	}
	item.CustodyChain = append(item.CustodyChain, CustodyEntry{Action: CustodyCreated, Timestamp: time.Now()})

	if m.autoVerify {
		m.verifyLocked(item)
	}
	m.items[item.ID] = item
	m.itemsCollected++
	m.mu.Unlock()

	if m.vault != nil {
		if err := m.vault.WriteItem(item); err != nil {
			return nil, errs.Wrap(errs.IllegalState, "evidence: vault persist failed", err)
		}
	}
	if m.index != nil {
		if err := m.index.IndexItem(*item); err != nil {
			m.log.Warn().Err(err).Msg("evidence: item index mirror failed")
		}
	}
	m.publish("evidence-collected", item.ID)
	m.appendAudit("collect", investigationID, "", "kind="+kind)
	return item, nil
}

func (m *Manager) verifyLocked(item *Item) bool {
	recomputed := hashBytes(item.Data)
	passed := recomputed == item.Hash
	item.Verified = passed
	item.CustodyChain = append(item.CustodyChain, CustodyEntry{
		Action: CustodyVerified, Timestamp: time.Now(), Passed: &passed,
	})
	if !passed {
		m.verificationsFailed++
		m.publish("verification-failed", item.ID)
	}
	return passed
}

// Verify recomputes an item's hash and appends a custody entry.
func (m *Manager) Verify(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return false, errs.New(errs.NotFound, "evidence item not found: "+id)
	}
	// Sealed items still accept accessed/verified custody entries; only
	// mutation of the underlying data is forbidden once sealed.
	return m.verifyLocked(item), nil
}

// GetEvidence returns an item and appends an "accessed" custody entry.
func (m *Manager) GetEvidence(id, actor, reason string) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "evidence item not found: "+id)
	}
	item.CustodyChain = append(item.CustodyChain, CustodyEntry{
		Action: CustodyAccessed, Actor: actor, Reason: reason, Timestamp: time.Now(),
	})
	cp := *item
	return &cp, nil
}

// SealItem rejects an already-sealed item; otherwise freezes it.
func (m *Manager) SealItem(id, sealedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return errs.New(errs.NotFound, "evidence item not found: "+id)
	}
	if item.Sealed {
		return errs.New(errs.IllegalState, "evidence item already sealed")
	}
	now := time.Now()
	item.Sealed = true
	item.SealedBy = sealedBy
	item.SealedAt = &now
	item.CustodyChain = append(item.CustodyChain, CustodyEntry{Action: CustodySealed, Actor: sealedBy, Timestamp: now})
	m.itemsSealed++
	return nil
}

// CreatePackage groups items under a case.
func (m *Manager) CreatePackage(name, investigationID, caseID string) *Package {
	m.mu.Lock()
	defer m.mu.Unlock()
	pkg := &Package{ID: uuid.NewString(), Name: name, InvestigationID: investigationID, CaseID: caseID}
	m.packages[pkg.ID] = pkg
	return pkg
}

// AddToPackage adds an item id to a package, rejecting a sealed package.
func (m *Manager) AddToPackage(packageID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pkg, ok := m.packages[packageID]
	if !ok {
		return errs.New(errs.NotFound, "package not found: "+packageID)
	}
	if pkg.Sealed {
		return errs.New(errs.IllegalState, "package already sealed")
	}
	if _, ok := m.items[itemID]; !ok {
		return errs.New(errs.NotFound, "evidence item not found: "+itemID)
	}
	pkg.ItemIDs = append(pkg.ItemIDs, itemID)
	return nil
}

// packageHashLocked is SHA-256 of the sorted, joined item hashes so identical
// item sets always produce identical package hashes regardless of add
// order.
func (m *Manager) packageHashLocked(pkg *Package) string {
	hashes := make([]string, 0, len(pkg.ItemIDs))
	for _, id := range pkg.ItemIDs {
		if item, ok := m.items[id]; ok {
			hashes = append(hashes, item.Hash)
		}
	}
	sort.Strings(hashes)
	sum := sha256.Sum256([]byte(strings.Join(hashes, "")))
	return hex.EncodeToString(sum[:])
}

// SealPackage seals every contained item atomically, then the package.
func (m *Manager) SealPackage(packageID, sealedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pkg, ok := m.packages[packageID]
	if !ok {
		return errs.New(errs.NotFound, "package not found: "+packageID)
	}
	if pkg.Sealed {
		return errs.New(errs.IllegalState, "package already sealed")
	}
	now := time.Now()
	for _, id := range pkg.ItemIDs {
		item := m.items[id]
		if item == nil || item.Sealed {
			continue
		}
		item.Sealed = true
		item.SealedBy = sealedBy
		item.SealedAt = &now
		item.CustodyChain = append(item.CustodyChain, CustodyEntry{Action: CustodySealed, Actor: sealedBy, Timestamp: now})
		m.itemsSealed++
	}
	pkg.Hash = m.packageHashLocked(pkg)
	pkg.Sealed = true
	m.itemsSealed++
	pkg.SealedBy = sealedBy
	pkg.SealedAt = &now
	if m.index != nil {
		if err := m.index.IndexPackage(*pkg); err != nil {
			m.log.Warn().Err(err).Msg("evidence: package index mirror failed")
		}
	}
	return nil
}

// VerificationsFailed returns the running counter.
func (m *Manager) VerificationsFailed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verificationsFailed
}

// ItemsCollected returns the running count of evidence items collected.
func (m *Manager) ItemsCollected() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.itemsCollected
}

// ItemsSealed returns the running count of seals: every item sealed, directly
// or through its package, plus one for each sealed package.
func (m *Manager) ItemsSealed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.itemsSealed
}

// AuditFilter narrows GetAuditLog.
type AuditFilter struct {
	InvestigationID string
}

// GetAuditLog returns entries optionally filtered by investigation id.
func (m *Manager) GetAuditLog(filter AuditFilter) []AuditEntry {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	if filter.InvestigationID == "" {
		return append([]AuditEntry(nil), m.audit...)
	}
	var out []AuditEntry
	for _, e := range m.audit {
		if e.InvestigationID == filter.InvestigationID {
			out = append(out, e)
		}
	}
	return out
}

func (m *Manager) publish(kind string, data any) {
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Kind: kind, Data: data})
	}
}
