package cookiejar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/corvid-core/internal/corvidlog"
	"github.com/corvidlabs/corvid-core/internal/eventbus"
)

func newTestManager() *Manager {
	return New(500, eventbus.New(), corvidlog.Nop())
}

func TestDefaultJarUndeletable(t *testing.T) {
	m := newTestManager()
	err := m.DeleteJar("default")
	require.Error(t, err)
}

func TestCreateJarRejectsDuplicate(t *testing.T) {
	m := newTestManager()
	_, err := m.CreateJar("work", JarOpts{Isolated: true})
	require.NoError(t, err)
	_, err = m.CreateJar("work", JarOpts{})
	require.Error(t, err)
}

// Scenario: merge syncJars from spec.md §8.
func TestSyncJarsMerge(t *testing.T) {
	m := newTestManager()
	_, _ = m.CreateJar("src", JarOpts{})
	_, _ = m.CreateJar("dst", JarOpts{})

	require.NoError(t, m.SwitchJar("src", SwitchOpts{}))
	m.SetLiveCookies([]Cookie{{Name: "c1", Domain: "ex.com"}, {Name: "c2", Domain: "test.com"}})
	require.NoError(t, m.SaveToJar("src"))

	result, err := m.SyncJars("src", "dst", SyncOpts{
		Mode:   SyncMerge,
		Filter: func(c Cookie) bool { return c.Domain == "ex.com" },
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Added)
	require.Equal(t, 1, result.Skipped)

	require.NoError(t, m.LoadFromJar("dst"))
	require.Len(t, m.LiveCookies(), 1)
}

func TestSyncJarsReplace(t *testing.T) {
	m := newTestManager()
	_, _ = m.CreateJar("src", JarOpts{})
	_, _ = m.CreateJar("dst", JarOpts{})
	require.NoError(t, m.SwitchJar("src", SwitchOpts{}))
	m.SetLiveCookies([]Cookie{{Name: "c1", Domain: "ex.com"}})
	require.NoError(t, m.SaveToJar("src"))

	require.NoError(t, m.SwitchJar("dst", SwitchOpts{}))
	m.SetLiveCookies([]Cookie{{Name: "old", Domain: "old.com"}})
	require.NoError(t, m.SaveToJar("dst"))

	result, err := m.SyncJars("src", "dst", SyncOpts{Mode: SyncReplace})
	require.NoError(t, err)
	require.Equal(t, 1, result.Added)

	require.NoError(t, m.LoadFromJar("dst"))
	live := m.LiveCookies()
	require.Len(t, live, 1)
	require.Equal(t, "c1", live[0].Name)
}

func TestSwitchJarAtomicSaveAndLoad(t *testing.T) {
	m := newTestManager()
	_, _ = m.CreateJar("a", JarOpts{})
	m.SetLiveCookies([]Cookie{{Name: "d1", Domain: "d.com"}})
	require.NoError(t, m.SwitchJar("a", SwitchOpts{SaveCurrent: true, LoadTarget: true}))
	require.Empty(t, m.LiveCookies())

	require.NoError(t, m.SwitchJar("default", SwitchOpts{SaveCurrent: false, LoadTarget: true}))
	require.Len(t, m.LiveCookies(), 1)
}

func TestHistoryRingBufferTrims(t *testing.T) {
	m := New(3, eventbus.New(), corvidlog.Nop())
	for i := 0; i < 5; i++ {
		m.RecordHistory(HistoryCreated, Cookie{Name: "c", Domain: "x.com"})
	}
	require.Len(t, m.GetHistory(HistoryFilter{}), 3)
}

func TestAnalyzeSensitiveCookieMissingSecureIsHigh(t *testing.T) {
	a := Analyze(Cookie{Name: "session_id", Secure: false, HTTPOnly: false})
	require.Equal(t, ClassAuthentication, a.Classification)
	found := false
	for _, iss := range a.Issues {
		if iss.Code == "missing_secure" {
			require.Equal(t, SeverityHigh, iss.Severity)
			found = true
		}
	}
	require.True(t, found)
	require.Less(t, a.Score, 100)
}

func TestAnalyzeLongExpiry(t *testing.T) {
	future := time.Now().Add(400 * 24 * time.Hour)
	a := Analyze(Cookie{Name: "pref_theme", Secure: true, HTTPOnly: true, SameSite: SameSiteLax, ExpirationDate: &future})
	found := false
	for _, iss := range a.Issues {
		if iss.Code == "long_expiry" {
			found = true
			require.Equal(t, SeverityLow, iss.Severity)
		}
	}
	require.True(t, found)
	require.Equal(t, ClassPreferences, a.Classification)
}

func TestCodecRoundTripJSON(t *testing.T) {
	exp := time.Unix(1893456000, 0)
	cookies := []Cookie{{Name: "a", Value: "1", Domain: "ex.com", Path: "/", Secure: true, ExpirationDate: &exp}}
	payload, err := ExportJSON(cookies)
	require.NoError(t, err)
	got, err := ImportJSON(payload)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].Name)
}

func TestCodecNetscapeRoundTrip(t *testing.T) {
	cookies := []Cookie{{Name: "a", Value: "1", Domain: "ex.com", Path: "/", Secure: true}}
	payload := ExportNetscape(cookies)
	require.Contains(t, payload, netscapeHeader)
	got, err := ImportNetscape(payload)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].Name)
	require.True(t, got[0].Secure)
}

func TestCodecCSVRoundTrip(t *testing.T) {
	cookies := []Cookie{{Name: "a", Value: "1", Domain: "ex.com", Path: "/"}}
	payload, err := ExportCSV(cookies)
	require.NoError(t, err)
	got, err := ImportCSV(payload)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].Name)
}

func TestExportCurl(t *testing.T) {
	cookies := []Cookie{{Name: "a", Value: "1", Domain: "ex.com"}}
	out := ExportCurl(cookies, "ex.com")
	require.Contains(t, out, "a=1")
}

func TestExportUnknownFormat(t *testing.T) {
	_, err := Export(Format("bogus"), nil, "")
	require.Error(t, err)
}
