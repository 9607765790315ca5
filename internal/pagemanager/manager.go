// Package pagemanager implements the Multi-Page Manager (spec.md §4.C):
// concurrency-limited page lifecycle, per-domain navigation politeness, and
// resource-aware admission control, layered on top of the Window Pool.
//
// Grounded on the teacher's internal/capture/rate_limit.go (token-window
// rate limiting) and circuit_breaker.go (resource-health state machine),
// generalized into the domain-delay scheduler and profile table spec §4.C
// defines.
package pagemanager

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/corvidlabs/corvid-core/internal/errs"
	"github.com/corvidlabs/corvid-core/internal/eventbus"
	"github.com/corvidlabs/corvid-core/internal/idgen"
	"github.com/corvidlabs/corvid-core/internal/pagehost"
	"github.com/corvidlabs/corvid-core/internal/windowpool"
)

// Profile is one of the four closed profiles from spec §4.C.
type Profile struct {
	Name                    string
	MaxConcurrentPages      int
	MaxConcurrentNavigations int
	MinNavDelay             time.Duration
	DomainDelay             time.Duration
	Monitoring              bool
	MaxMemoryMB             float64
	MaxCPUPercent           float64
}

// Profiles is the closed set spec §4.C enumerates.
var Profiles = map[string]Profile{
	"stealth": {
		Name: "stealth", MaxConcurrentPages: 2, MaxConcurrentNavigations: 1,
		MinNavDelay: 3000 * time.Millisecond, DomainDelay: 5000 * time.Millisecond,
		Monitoring: true, MaxMemoryMB: 512, MaxCPUPercent: 40,
	},
	"balanced": {
		Name: "balanced", MaxConcurrentPages: 5, MaxConcurrentNavigations: 3,
		MinNavDelay: 500 * time.Millisecond, DomainDelay: 1000 * time.Millisecond,
		Monitoring: true, MaxMemoryMB: 1536, MaxCPUPercent: 70,
	},
	"aggressive": {
		Name: "aggressive", MaxConcurrentPages: 10, MaxConcurrentNavigations: 5,
		MinNavDelay: 0, DomainDelay: 200 * time.Millisecond,
		Monitoring: true, MaxMemoryMB: 4096, MaxCPUPercent: 90,
	},
	"single": {
		Name: "single", MaxConcurrentPages: 1, MaxConcurrentNavigations: 1,
		MinNavDelay: 0, DomainDelay: 0,
		Monitoring: false, MaxMemoryMB: 0, MaxCPUPercent: 0,
	},
}

// Page mirrors spec §3's Page entity.
type Page struct {
	PageID   string
	HostRef  pagehost.Host
	URL      string
	Title    string
	Loading  bool
	Created  time.Time
	Metadata map[string]any
}

// NavResult is what navigatePage resolves to.
type NavResult struct {
	Success bool
	URL     string
	Err     error
}

type navRequest struct {
	ctx    context.Context
	pageID string
	url    string
	result chan NavResult
}

// Manager is the Multi-Page Manager.
type Manager struct {
	mu       sync.Mutex
	pool     *windowpool.Pool
	profile  Profile
	bus      *eventbus.Bus
	log      zerolog.Logger
	monitor  *ResourceMonitor

	pages        map[string]*Page
	activePageID string

	activeNavigations int
	domainLastNav     map[string]time.Time
	domainInFlight    map[string]bool
	lastNavAny        time.Time
	navQueue          []navRequest
	rateLimitDelays   int64
	navigationsFailed int64

	shuttingDown bool
}

// New builds a Manager bound to a Window Pool and starting profile.
func New(pool *windowpool.Pool, profileName string, bus *eventbus.Bus, log zerolog.Logger) *Manager {
	profile, ok := Profiles[profileName]
	if !ok {
		profile = Profiles["balanced"]
	}
	m := &Manager{
		pool: pool, profile: profile, bus: bus, log: log,
		pages:          make(map[string]*Page),
		domainLastNav:  make(map[string]time.Time),
		domainInFlight: make(map[string]bool),
	}
	m.monitor = NewResourceMonitor(ResourceLimits{
		MaxMemoryMB: profile.MaxMemoryMB, MaxCPUPercent: profile.MaxCPUPercent,
		Enabled: profile.Monitoring,
	}, bus)
	m.monitor.Start()
	return m
}

// CreatePage enforces the concurrency cap and resource-health admission
// from spec §4.C.
func (m *Manager) CreatePage(metadata map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.monitor.IsHealthy() {
		return "", errs.New(errs.ResourceExhausted, "resource monitor reports unhealthy")
	}
	if len(m.pages) >= m.profile.MaxConcurrentPages {
		return "", errs.New(errs.LimitExceeded, "maxConcurrentPages reached")
	}
	host := m.pool.Acquire()
	if host == nil {
		return "", errs.New(errs.ResourceExhausted, "no available page host")
	}

	id := idgen.Prefixed("page")
	p := &Page{PageID: id, HostRef: host, Created: time.Now(), Metadata: metadata}
	m.pages[id] = p
	if m.activePageID == "" {
		m.activePageID = id
	}
	return id, nil
}

// DestroyPage recycles the page's host and resolves any in-flight
// navigation with PageGone.
func (m *Manager) DestroyPage(pageID string) error {
	m.mu.Lock()
	p, ok := m.pages[pageID]
	if !ok {
		m.mu.Unlock()
		return errs.New(errs.NotFound, "page not found: "+pageID)
	}
	delete(m.pages, pageID)
	if m.activePageID == pageID {
		m.activePageID = ""
	}
	remaining := make([]navRequest, 0, len(m.navQueue))
	for _, req := range m.navQueue {
		if req.pageID == pageID {
			req.result <- NavResult{Success: false, Err: errs.New(errs.PageGone, "page destroyed")}
			continue
		}
		remaining = append(remaining, req)
	}
	m.navQueue = remaining
	m.mu.Unlock()

	m.pool.Recycle(p.HostRef)
	return nil
}

// SetActivePage marks pageID as the active page; exactly one (or none)
// active page exists at any time per spec §3.
func (m *Manager) SetActivePage(pageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pages[pageID]; !ok {
		return errs.New(errs.NotFound, "page not found: "+pageID)
	}
	m.activePageID = pageID
	return nil
}

// ListPages returns a snapshot copy of all pages.
func (m *Manager) ListPages() []Page {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Page, 0, len(m.pages))
	for _, p := range m.pages {
		out = append(out, *p)
	}
	return out
}

// ActivePageID returns the currently active page id, or "" if none.
func (m *Manager) ActivePageID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activePageID
}

// GetPage returns a copy of one page, or an error if unknown.
func (m *Manager) GetPage(pageID string) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pageID]
	if !ok {
		return Page{}, errs.New(errs.NotFound, "page not found: "+pageID)
	}
	return *p, nil
}

// CloseAllPages destroys every page.
func (m *Manager) CloseAllPages() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.pages))
	for id := range m.pages {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.DestroyPage(id)
	}
}

// CloseOtherPages destroys every page not in keep.
func (m *Manager) CloseOtherPages(keep []string) {
	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}
	m.mu.Lock()
	ids := make([]string, 0, len(m.pages))
	for id := range m.pages {
		if !keepSet[id] {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.DestroyPage(id)
	}
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}

// NavigatePage runs the navigation scheduler from spec §4.C: a request is
// admitted when the manager is under the concurrency cap and no navigation
// to its domain is in flight, and then waits out whatever remains of the
// domain delay and minimum navigation delay before loading; otherwise it
// stays queued FIFO. A completion (success or failure) admits every queued
// request that has become admissible.
func (m *Manager) NavigatePage(ctx context.Context, pageID, target string) NavResult {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return NavResult{Success: false, Err: errs.New(errs.Shutdown, "manager is shutting down")}
	}
	if _, ok := m.pages[pageID]; !ok {
		m.mu.Unlock()
		return NavResult{Success: false, Err: errs.New(errs.NotFound, "page not found: "+pageID)}
	}
	resultCh := make(chan NavResult, 1)
	m.navQueue = append(m.navQueue, navRequest{ctx: ctx, pageID: pageID, url: target, result: resultCh})
	var toRun []*admissible
	for {
		next := m.popAdmissibleLocked()
		if next == nil {
			break
		}
		toRun = append(toRun, next)
	}
	m.mu.Unlock()

	for _, next := range toRun {
		go m.execute(next.navRequest, next.delay)
	}
	return <-resultCh
}

func (m *Manager) execute(req navRequest, delay time.Duration) {
	if delay > 0 {
		if m.bus != nil {
			m.bus.Publish(eventbus.Event{Kind: "rate-limit-delay", Data: map[string]any{
				"domain": domainOf(req.url), "delay": delay,
			}})
		}
		m.mu.Lock()
		m.rateLimitDelays++
		m.mu.Unlock()
		time.Sleep(delay)
	}

	m.mu.Lock()
	p, ok := m.pages[req.pageID]
	m.mu.Unlock()
	if !ok {
		m.finishNav(req, domainOf(req.url), NavResult{Success: false, Err: errs.New(errs.PageGone, "page gone before navigation ran")})
		return
	}

	ctx := req.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	err := p.HostRef.LoadURL(ctx, req.url, true)
	res := NavResult{Success: err == nil, URL: req.url, Err: err}
	if err != nil {
		m.mu.Lock()
		m.navigationsFailed++
		m.mu.Unlock()
	} else {
		m.mu.Lock()
		p.URL = req.url
		m.mu.Unlock()
	}
	m.finishNav(req, domainOf(req.url), res)
}

func (m *Manager) finishNav(req navRequest, domain string, res NavResult) {
	m.mu.Lock()
	m.activeNavigations--
	m.domainLastNav[domain] = time.Now()
	m.lastNavAny = time.Now()
	delete(m.domainInFlight, domain)
	m.mu.Unlock()

	req.result <- res

	// A completion may free up capacity for more than one queued request
	// (distinct domains run concurrently), so drain every admissible one.
	for {
		m.mu.Lock()
		next := m.popAdmissibleLocked()
		m.mu.Unlock()
		if next == nil {
			return
		}
		go m.execute(next.navRequest, next.delay)
	}
}

type admissible struct {
	navRequest
	delay time.Duration
}

// popAdmissibleLocked scans the FIFO queue for the earliest request whose
// domain has no navigation currently in flight, preserving same-domain
// sequencing while letting distinct domains proceed out of order.
func (m *Manager) popAdmissibleLocked() *admissible {
	if len(m.navQueue) == 0 {
		return nil
	}
	if m.shuttingDown {
		for _, req := range m.navQueue {
			req.result <- NavResult{Success: false, Err: errs.New(errs.Shutdown, "manager shut down")}
		}
		m.navQueue = nil
		return nil
	}
	if m.activeNavigations >= m.profile.MaxConcurrentNavigations {
		return nil
	}
	for i, req := range m.navQueue {
		domain := domainOf(req.url)
		if m.domainInFlight[domain] {
			continue
		}
		m.navQueue = append(m.navQueue[:i:i], m.navQueue[i+1:]...)
		m.activeNavigations++
		m.domainInFlight[domain] = true
		delay := time.Duration(0)
		if last, seen := m.domainLastNav[domain]; seen {
			if wait := m.profile.DomainDelay - time.Since(last); wait > 0 {
				delay = wait
			}
		}
		if !m.lastNavAny.IsZero() {
			if wait := m.profile.MinNavDelay - time.Since(m.lastNavAny); wait > delay {
				delay = wait
			}
		}
		return &admissible{navRequest: req, delay: delay}
	}
	return nil
}

// ExecuteOnPage evaluates code in the page's host.
func (m *Manager) ExecuteOnPage(ctx context.Context, pageID, code string) (any, error) {
	m.mu.Lock()
	p, ok := m.pages[pageID]
	m.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.NotFound, "page not found: "+pageID)
	}
	return p.HostRef.Evaluate(ctx, code, nil)
}

// GetPageScreenshot captures the page's viewport via its host.
func (m *Manager) GetPageScreenshot(ctx context.Context, pageID string) ([]byte, error) {
	m.mu.Lock()
	p, ok := m.pages[pageID]
	m.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.NotFound, "page not found: "+pageID)
	}
	return p.HostRef.Capture(ctx, pagehost.CaptureOptions{Format: "png"})
}

// UpdateConfig switches the active profile.
func (m *Manager) UpdateConfig(profileName string) {
	profile, ok := Profiles[profileName]
	if !ok {
		return
	}
	m.mu.Lock()
	m.profile = profile
	m.mu.Unlock()
	m.monitor.Stop()
	m.monitor = NewResourceMonitor(ResourceLimits{
		MaxMemoryMB: profile.MaxMemoryMB, MaxCPUPercent: profile.MaxCPUPercent, Enabled: profile.Monitoring,
	}, m.bus)
	m.monitor.Start()
}

// Shutdown drains pages and clears rate-limiter state; queued navigations
// reject with Shutdown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.shuttingDown = true
	queued := m.navQueue
	m.navQueue = nil
	m.domainLastNav = make(map[string]time.Time)
	m.mu.Unlock()

	for _, req := range queued {
		req.result <- NavResult{Success: false, Err: errs.New(errs.Shutdown, "manager shut down")}
	}
	m.monitor.Stop()
	m.CloseAllPages()
}

// Stats exposes the counters spec §4.C names.
type Stats struct {
	RateLimitDelays   int64
	NavigationsFailed int64
	ActivePages       int
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		RateLimitDelays:   m.rateLimitDelays,
		NavigationsFailed: m.navigationsFailed,
		ActivePages:       len(m.pages),
	}
}

// ResourceStats exposes the resource monitor's snapshot.
func (m *Manager) ResourceStats() ResourceStats {
	return m.monitor.Stats()
}
