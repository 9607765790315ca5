// Package cookiejar implements the Cookie Jar Manager (spec.md §4.E): named
// isolated jars, atomic switch/sync semantics, a per-cookie security
// analyzer, and JSON/Netscape/CSV/curl export-import codecs.
//
// Grounded on the teacher's internal/security/security_checks.go (rule-list
// → issue-list scoring pattern) for the analyzer, and its
// cmd/gasoline-cmd/output/{csv,json}.go codec style (format-specific writer
// functions returning a serialized payload) for the codecs.
package cookiejar

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/corvidlabs/corvid-core/internal/errs"
	"github.com/corvidlabs/corvid-core/internal/eventbus"
)

// SameSite is the closed set from spec §3.
type SameSite string

const (
	SameSiteStrict       SameSite = "strict"
	SameSiteLax          SameSite = "lax"
	SameSiteNoRestriction SameSite = "no_restriction"
)

// Cookie is the serialization form from spec §3.
type Cookie struct {
	Name           string
	Value          string
	Domain         string
	Path           string
	Secure         bool
	HTTPOnly       bool
	SameSite       SameSite
	ExpirationDate *time.Time
}

func (c Cookie) key() string { return c.Name + "\x00" + c.Domain + "\x00" + c.Path }

// JarOpts configures createJar.
type JarOpts struct {
	Isolated    bool
	SyncEnabled bool
}

// Jar mirrors spec §3's Cookie Jar entity.
type Jar struct {
	Name        string
	Isolated    bool
	SyncEnabled bool
	Cookies     []Cookie
	Metadata    map[string]any
}

func (j *Jar) cookieCount() int { return len(j.Cookies) }

// HistoryAction is the closed set for ring-buffer entries.
type HistoryAction string

const (
	HistoryCreated  HistoryAction = "created"
	HistoryModified HistoryAction = "modified"
	HistoryDeleted  HistoryAction = "deleted"
)

// HistoryEntry is one ring-buffer record.
type HistoryEntry struct {
	Action    HistoryAction
	Cookie    Cookie
	Timestamp time.Time
}

// HistoryFilter narrows getHistory.
type HistoryFilter struct {
	Action HistoryAction
	Domain string
}

// SyncMode is the closed set for syncJars.
type SyncMode string

const (
	SyncMerge   SyncMode = "merge"
	SyncReplace SyncMode = "replace"
)

// SyncOpts configures syncJars.
type SyncOpts struct {
	Mode   SyncMode
	Filter func(Cookie) bool
}

// SyncResult reports what a sync did.
type SyncResult struct {
	Added   int
	Updated int
	Skipped int
}

// SwitchOpts configures switchJar.
type SwitchOpts struct {
	SaveCurrent bool
	LoadTarget  bool
}

const defaultJarName = "default"

// Manager is the Cookie Jar Manager.
type Manager struct {
	mu         sync.Mutex
	jars       map[string]*Jar
	order      []string
	activeJar  string
	liveCookies []Cookie

	history        []HistoryEntry
	maxHistorySize int

	bus *eventbus.Bus
	log zerolog.Logger
}

// New constructs a Manager with the undeletable "default" jar pre-created.
func New(maxHistorySize int, bus *eventbus.Bus, log zerolog.Logger) *Manager {
	if maxHistorySize <= 0 {
		maxHistorySize = 500
	}
	m := &Manager{
		jars:           make(map[string]*Jar),
		maxHistorySize: maxHistorySize,
		bus:            bus,
		log:            log,
	}
	m.jars[defaultJarName] = &Jar{Name: defaultJarName, Metadata: map[string]any{}}
	m.order = append(m.order, defaultJarName)
	m.activeJar = defaultJarName
	return m
}

// CreateJar rejects a duplicate name.
func (m *Manager) CreateJar(name string, opts JarOpts) (*Jar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jars[name]; exists {
		return nil, errs.New(errs.AlreadyExists, "jar already exists: "+name)
	}
	jar := &Jar{Name: name, Isolated: opts.Isolated, SyncEnabled: opts.SyncEnabled, Metadata: map[string]any{}}
	m.jars[name] = jar
	m.order = append(m.order, name)
	m.publish("jar:created", name)
	return jar, nil
}

// DeleteJar rejects the "default" jar.
func (m *Manager) DeleteJar(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == defaultJarName {
		return errs.New(errs.IllegalState, "the default jar cannot be deleted")
	}
	if _, ok := m.jars[name]; !ok {
		return errs.New(errs.NotFound, "jar not found: "+name)
	}
	delete(m.jars, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.activeJar == name {
		m.activeJar = defaultJarName
	}
	m.publish("jar:deleted", name)
	return nil
}

// JarSummary is the read-only listing view.
type JarSummary struct {
	Name        string
	Isolated    bool
	SyncEnabled bool
	CookieCount int
	Active      bool
}

// ListJars returns every jar's summary.
func (m *Manager) ListJars() []JarSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]JarSummary, 0, len(m.order))
	for _, name := range m.order {
		j := m.jars[name]
		out = append(out, JarSummary{
			Name: j.Name, Isolated: j.Isolated, SyncEnabled: j.SyncEnabled,
			CookieCount: j.cookieCount(), Active: name == m.activeJar,
		})
	}
	return out
}

// SwitchJar is atomic per spec §4.E: optionally snapshot live cookies into
// the current jar, mark target active, optionally load target's cookies
// into the live set.
func (m *Manager) SwitchJar(name string, opts SwitchOpts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.jars[name]
	if !ok {
		return errs.New(errs.NotFound, "jar not found: "+name)
	}
	from := m.activeJar

	if opts.SaveCurrent {
		if cur, ok := m.jars[m.activeJar]; ok {
			cur.Cookies = append([]Cookie(nil), m.liveCookies...)
		}
	}
	m.activeJar = name
	if opts.LoadTarget {
		m.liveCookies = append([]Cookie(nil), target.Cookies...)
	}
	m.publish("jar:switched", map[string]string{"from": from, "to": name})
	return nil
}

// SaveToJar snapshots the live cookie set into the named jar.
func (m *Manager) SaveToJar(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	jar, ok := m.jars[name]
	if !ok {
		return errs.New(errs.NotFound, "jar not found: "+name)
	}
	jar.Cookies = append([]Cookie(nil), m.liveCookies...)
	return nil
}

// LoadFromJar replaces the live cookie set with the named jar's cookies.
func (m *Manager) LoadFromJar(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	jar, ok := m.jars[name]
	if !ok {
		return errs.New(errs.NotFound, "jar not found: "+name)
	}
	m.liveCookies = append([]Cookie(nil), jar.Cookies...)
	return nil
}

// SyncJars applies merge or replace semantics from src into dst.
func (m *Manager) SyncJars(src, dst string, opts SyncOpts) (SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	srcJar, ok := m.jars[src]
	if !ok {
		return SyncResult{}, errs.New(errs.NotFound, "source jar not found: "+src)
	}
	dstJar, ok := m.jars[dst]
	if !ok {
		return SyncResult{}, errs.New(errs.NotFound, "destination jar not found: "+dst)
	}

	var filtered []Cookie
	for _, c := range srcJar.Cookies {
		if opts.Filter == nil || opts.Filter(c) {
			filtered = append(filtered, c)
		} else {
			continue
		}
	}
	skipped := len(srcJar.Cookies) - len(filtered)

	result := SyncResult{Skipped: skipped}
	switch opts.Mode {
	case SyncReplace:
		dstJar.Cookies = filtered
		result.Added = len(filtered)
	default: // merge
		byKey := make(map[string]int, len(dstJar.Cookies))
		for i, c := range dstJar.Cookies {
			byKey[c.key()] = i
		}
		for _, c := range filtered {
			if idx, exists := byKey[c.key()]; exists {
				dstJar.Cookies[idx] = c
				result.Updated++
			} else {
				dstJar.Cookies = append(dstJar.Cookies, c)
				byKey[c.key()] = len(dstJar.Cookies) - 1
				result.Added++
			}
		}
	}
	return result, nil
}

// RecordHistory appends to the ring buffer, dropping the oldest entry once
// maxHistorySize is reached.
func (m *Manager) RecordHistory(action HistoryAction, c Cookie) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, HistoryEntry{Action: action, Cookie: c, Timestamp: time.Now()})
	if len(m.history) > m.maxHistorySize {
		m.history = m.history[len(m.history)-m.maxHistorySize:]
	}
}

// GetHistory returns entries matching the optional filter, newest last.
func (m *Manager) GetHistory(filter HistoryFilter) []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HistoryEntry
	for _, e := range m.history {
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.Domain != "" && e.Cookie.Domain != filter.Domain {
			continue
		}
		out = append(out, e)
	}
	return out
}

// LiveCookies returns the current live cookie set (what the active page
// host actually holds).
func (m *Manager) LiveCookies() []Cookie {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Cookie(nil), m.liveCookies...)
}

// SetLiveCookies replaces the live set, e.g. after a page host reports its
// current cookies.
func (m *Manager) SetLiveCookies(cookies []Cookie) {
	m.mu.Lock()
	m.liveCookies = append([]Cookie(nil), cookies...)
	m.mu.Unlock()
}

func (m *Manager) publish(kind string, data any) {
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Kind: kind, Data: data})
	}
}
