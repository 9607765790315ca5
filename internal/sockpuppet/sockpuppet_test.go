package sockpuppet

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/corvid-core/internal/corvidlog"
	"github.com/corvidlabs/corvid-core/internal/eventbus"
)

func newTestServer(t *testing.T, hits *int) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/entities/puppet1", func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		_ = json.NewEncoder(w).Encode(Entity{
			ID: "puppet1", Name: "Jane Doe", Platform: "windows",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
		})
	})
	mux.HandleFunc("/api/v1/entities/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/api/v1/entities/puppet1/credentials", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/entities", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Entity{{ID: "puppet1", Name: "Jane Doe"}})
	})
	return httptest.NewServer(mux)
}

func newTestManager(t *testing.T, srv *httptest.Server) *Manager {
	client := NewIdentityClient(srv.URL, nil)
	return New(client, 50*time.Millisecond, nil, eventbus.New(), corvidlog.Nop())
}

func TestGetPuppetFetchesAndCaches(t *testing.T) {
	hits := 0
	srv := newTestServer(t, &hits)
	defer srv.Close()
	m := newTestManager(t, srv)

	e1, err := m.GetPuppet(t.Context(), "puppet1", false)
	require.NoError(t, err)
	require.Equal(t, "Jane Doe", e1.Name)

	_, err = m.GetPuppet(t.Context(), "puppet1", false)
	require.NoError(t, err)
	require.Equal(t, 1, hits, "second call should be served from cache")
}

func TestGetPuppetForceRefreshBypassesCache(t *testing.T) {
	hits := 0
	srv := newTestServer(t, &hits)
	defer srv.Close()
	m := newTestManager(t, srv)

	_, _ = m.GetPuppet(t.Context(), "puppet1", false)
	_, err := m.GetPuppet(t.Context(), "puppet1", true)
	require.NoError(t, err)
	require.Equal(t, 2, hits)
}

func TestGetPuppetCacheExpires(t *testing.T) {
	hits := 0
	srv := newTestServer(t, &hits)
	defer srv.Close()
	m := newTestManager(t, srv)

	_, _ = m.GetPuppet(t.Context(), "puppet1", false)
	time.Sleep(75 * time.Millisecond)
	_, err := m.GetPuppet(t.Context(), "puppet1", false)
	require.NoError(t, err)
	require.Equal(t, 2, hits)
}

func TestGetPuppetNotFound(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()
	m := newTestManager(t, srv)
	_, err := m.GetPuppet(t.Context(), "missing", false)
	require.Error(t, err)
}

func TestLinkProfileToSockPuppetUpdatesMetadata(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()
	m := newTestManager(t, srv)

	meta, err := m.LinkProfileToSockPuppet(t.Context(), "profile1", "puppet1")
	require.NoError(t, err)
	require.Equal(t, "puppet1", meta.SockPuppetID)
	require.Equal(t, "Jane Doe", meta.SockPuppetName)

	got, ok := m.GetProfileMetadata("profile1")
	require.True(t, ok)
	require.Equal(t, "puppet1", got.SockPuppetID)
}

func TestCheckFingerprintConsistencyMatch(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()
	m := newTestManager(t, srv)
	m.SetProfileFingerprint("p1", "windows", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")
	ok, err := m.CheckFingerprintConsistency("p1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckFingerprintConsistencyMismatch(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()
	m := newTestManager(t, srv)
	m.SetProfileFingerprint("p1", "macos", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")
	ok, err := m.CheckFingerprintConsistency("p1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCheckFingerprintConsistencyUnknownProfile(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()
	m := newTestManager(t, srv)
	_, err := m.CheckFingerprintConsistency("ghost")
	require.Error(t, err)
}

func TestSessionLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()
	m := newTestManager(t, srv)

	s := m.StartSession("profile1")
	require.NotEmpty(t, s.ID)
	require.Nil(t, s.EndedAt)

	require.NoError(t, m.EndSession(s.ID))
	got, ok := m.GetSession(s.ID)
	require.True(t, ok)
	require.NotNil(t, got.EndedAt)
	require.GreaterOrEqual(t, got.Duration(), time.Duration(0))

	require.Error(t, m.EndSession(s.ID))
}

func TestEndSessionNotFound(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()
	m := newTestManager(t, srv)
	require.Error(t, m.EndSession("nope"))
}

func TestActivityLogFilterByType(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()
	m := newTestManager(t, srv)

	m.RecordActivity("p1", "navigate", "https://example.com")
	m.RecordActivity("p1", "click", "#submit")
	m.RecordActivity("p2", "navigate", "https://example.org")

	all := m.GetActivity("")
	require.Len(t, all, 3)

	navOnly := m.GetActivity("navigate")
	require.Len(t, navOnly, 2)
}

func TestListSessions(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()
	m := newTestManager(t, srv)
	m.StartSession("p1")
	m.StartSession("p2")
	require.Len(t, m.ListSessions(), 2)
}

func TestSearchPuppets(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()
	m := newTestManager(t, srv)
	results, err := m.SearchPuppets(t.Context(), "jane")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "puppet1", results[0].ID)
}

func TestPostCredentials(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()
	client := NewIdentityClient(srv.URL, nil)
	err := client.PostCredentials(t.Context(), "puppet1", map[string]string{"password": "hunter2"})
	require.NoError(t, err)
}
