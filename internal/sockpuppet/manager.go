package sockpuppet

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/corvidlabs/corvid-core/internal/errs"
	"github.com/corvidlabs/corvid-core/internal/eventbus"
)

// DistCache mirrors cached entities across instances (optional, Redis-backed
// in production per SPEC_FULL §4.D's same distributed-cache pattern).
type DistCache interface {
	Get(id string) (*Entity, bool)
	Set(id string, e *Entity, ttl time.Duration)
}

type cacheEntry struct {
	entity    *Entity
	expiresAt time.Time
}

// Session is one browsing session attributed to a linked sock puppet.
type Session struct {
	ID        string
	ProfileID string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Duration returns the session length, using now if still open.
func (s Session) Duration() time.Duration {
	end := time.Now()
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	return end.Sub(s.StartedAt)
}

// ActivityEntry is one in-memory, filterable log record.
type ActivityEntry struct {
	ProfileID string
	Type      string
	Detail    string
	Timestamp time.Time
}

// ProfileMetadata is the subset of a browser profile's metadata this
// component reads and writes.
type ProfileMetadata struct {
	Platform       string
	UserAgent      string
	SockPuppetID   string
	SockPuppetName string
}

// Manager links browser profiles to sock-puppet identities, caches identity
// lookups, and tracks sessions/activity.
type Manager struct {
	client       *IdentityClient
	cacheTimeout time.Duration
	dist         DistCache
	bus          *eventbus.Bus
	log          zerolog.Logger

	mu       sync.Mutex
	cache    map[string]cacheEntry
	profiles map[string]*ProfileMetadata
	sessions map[string]*Session

	actMu    sync.Mutex
	activity []ActivityEntry
}

// New builds a Manager. dist may be nil to skip the distributed mirror.
func New(client *IdentityClient, cacheTimeout time.Duration, dist DistCache, bus *eventbus.Bus, log zerolog.Logger) *Manager {
	if cacheTimeout <= 0 {
		cacheTimeout = 5 * time.Minute
	}
	return &Manager{
		client: client, cacheTimeout: cacheTimeout, dist: dist, bus: bus, log: log,
		cache: make(map[string]cacheEntry), profiles: make(map[string]*ProfileMetadata),
		sessions: make(map[string]*Session),
	}
}

// GetPuppet fetches a sock-puppet entity, serving from cache unless
// forceRefresh is set or the cached entry has expired.
func (m *Manager) GetPuppet(ctx context.Context, id string, forceRefresh bool) (*Entity, error) {
	if !forceRefresh {
		if e, ok := m.cacheGet(id); ok {
			return e, nil
		}
	}
	entity, err := m.client.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	m.cacheSet(id, entity)
	return entity, nil
}

func (m *Manager) cacheGet(id string) (*Entity, bool) {
	m.mu.Lock()
	entry, ok := m.cache[id]
	m.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.entity, true
	}
	if m.dist != nil {
		if e, ok := m.dist.Get(id); ok {
			return e, true
		}
	}
	return nil, false
}

func (m *Manager) cacheSet(id string, e *Entity) {
	m.mu.Lock()
	m.cache[id] = cacheEntry{entity: e, expiresAt: time.Now().Add(m.cacheTimeout)}
	m.mu.Unlock()
	if m.dist != nil {
		m.dist.Set(id, e, m.cacheTimeout)
	}
}

// LinkProfileToSockPuppet updates a profile's metadata with the puppet's id
// and name.
func (m *Manager) LinkProfileToSockPuppet(ctx context.Context, profileID, puppetID string) (*ProfileMetadata, error) {
	entity, err := m.GetPuppet(ctx, puppetID, false)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.profiles[profileID]
	if !ok {
		meta = &ProfileMetadata{}
		m.profiles[profileID] = meta
	}
	meta.SockPuppetID = entity.ID
	meta.SockPuppetName = entity.Name
	if meta.Platform == "" {
		meta.Platform = entity.Platform
	}
	if meta.UserAgent == "" {
		meta.UserAgent = entity.UserAgent
	}
	m.publish("sockpuppet-linked", profileID)
	cp := *meta
	return &cp, nil
}

// SetProfileFingerprint records the observed platform/user-agent for a
// profile, independent of any puppet link.
func (m *Manager) SetProfileFingerprint(profileID, platform, userAgent string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.profiles[profileID]
	if !ok {
		meta = &ProfileMetadata{}
		m.profiles[profileID] = meta
	}
	meta.Platform = platform
	meta.UserAgent = userAgent
}

// GetProfileMetadata returns a copy of a profile's metadata.
func (m *Manager) GetProfileMetadata(profileID string) (ProfileMetadata, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.profiles[profileID]
	if !ok {
		return ProfileMetadata{}, false
	}
	return *meta, true
}

// platformHints maps a platform token to the substrings its user agent
// strings are expected to carry.
var platformHints = map[string][]string{
	"windows": {"windows"},
	"macos":   {"mac os", "macintosh"},
	"linux":   {"linux", "x11"},
	"android": {"android"},
	"ios":     {"iphone", "ipad", "ios"},
}

// CheckFingerprintConsistency flags a mismatch between a profile's declared
// platform and its user-agent string.
func (m *Manager) CheckFingerprintConsistency(profileID string) (bool, error) {
	meta, ok := m.GetProfileMetadata(profileID)
	if !ok {
		return false, errs.New(errs.NotFound, "profile not found: "+profileID)
	}
	platform := strings.ToLower(meta.Platform)
	ua := strings.ToLower(meta.UserAgent)
	hints, known := platformHints[platform]
	if !known || ua == "" {
		return true, nil
	}
	for _, hint := range hints {
		if strings.Contains(ua, hint) {
			return true, nil
		}
	}
	return false, nil
}

// StartSession opens a session attributed to profileID.
func (m *Manager) StartSession(profileID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Session{ID: uuid.NewString(), ProfileID: profileID, StartedAt: time.Now()}
	m.sessions[s.ID] = s
	return s
}

// EndSession closes a session, recording its end time.
func (m *Manager) EndSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return errs.New(errs.NotFound, "sock-puppet session not found: "+id)
	}
	if s.EndedAt != nil {
		return errs.New(errs.IllegalState, "sock-puppet session already ended")
	}
	now := time.Now()
	s.EndedAt = &now
	return nil
}

// GetSession returns a copy of a session by id.
func (m *Manager) GetSession(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// ListSessions returns a snapshot of every tracked session.
func (m *Manager) ListSessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

// SearchPuppets proxies the identity store's entity search.
func (m *Manager) SearchPuppets(ctx context.Context, query string) ([]Entity, error) {
	return m.client.SearchEntities(ctx, query)
}

// RecordActivity appends an activity-log entry.
func (m *Manager) RecordActivity(profileID, activityType, detail string) {
	m.actMu.Lock()
	defer m.actMu.Unlock()
	m.activity = append(m.activity, ActivityEntry{
		ProfileID: profileID, Type: activityType, Detail: detail, Timestamp: time.Now(),
	})
}

// GetActivity returns the activity log, optionally filtered by type.
func (m *Manager) GetActivity(activityType string) []ActivityEntry {
	m.actMu.Lock()
	defer m.actMu.Unlock()
	if activityType == "" {
		return append([]ActivityEntry(nil), m.activity...)
	}
	var out []ActivityEntry
	for _, e := range m.activity {
		if e.Type == activityType {
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
