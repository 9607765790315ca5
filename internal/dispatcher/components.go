package dispatcher

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/corvidlabs/corvid-core/internal/cookiejar"
	"github.com/corvidlabs/corvid-core/internal/evidence"
	"github.com/corvidlabs/corvid-core/internal/eventbus"
	"github.com/corvidlabs/corvid-core/internal/idgen"
	"github.com/corvidlabs/corvid-core/internal/pagemanager"
	"github.com/corvidlabs/corvid-core/internal/proxypool"
	"github.com/corvidlabs/corvid-core/internal/recorder"
	"github.com/corvidlabs/corvid-core/internal/sockpuppet"
	"github.com/corvidlabs/corvid-core/internal/windowpool"
)

// Components bundles every manager the dispatcher routes commands to
// (B through K). Any field may be nil in tests that only exercise verbs
// outside that component's scope.
type Components struct {
	Pool     *windowpool.Pool
	Pages    *pagemanager.Manager
	Proxies  *proxypool.Pool
	Cookies  *cookiejar.Manager
	Evidence *evidence.Manager
	Puppets  *sockpuppet.Manager

	Recorders *RecorderRegistry

	Bus *eventbus.Bus
	Log zerolog.Logger
}

// RecorderRegistry owns the set of named Interaction Recorder instances;
// Design Notes §9's "owner-per-cache" pattern applied to per-session
// recorders instead of a single global one.
type RecorderRegistry struct {
	mu     sync.Mutex
	recs   map[string]*recorder.Recorder
	sealed map[string]*recorder.Sealed
	bus    *eventbus.Bus
	log    zerolog.Logger
}

// NewRecorderRegistry builds an empty registry.
func NewRecorderRegistry(bus *eventbus.Bus, log zerolog.Logger) *RecorderRegistry {
	return &RecorderRegistry{
		recs:   make(map[string]*recorder.Recorder),
		sealed: make(map[string]*recorder.Sealed),
		bus:    bus, log: log,
	}
}

// PutSealed stashes a stopped recording's sealed form so a later
// recording_export call can render it without re-stopping the recorder.
func (rr *RecorderRegistry) PutSealed(id string, s *recorder.Sealed) {
	rr.mu.Lock()
	rr.sealed[id] = s
	rr.mu.Unlock()
}

// GetSealed returns the sealed form of a stopped recording, if any.
func (rr *RecorderRegistry) GetSealed(id string) (*recorder.Sealed, bool) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	s, ok := rr.sealed[id]
	return s, ok
}

// Create starts a new named recording session and returns its id.
func (rr *RecorderRegistry) Create(opts recorder.Options) string {
	id := idgen.Prefixed("recording")
	rr.mu.Lock()
	rr.recs[id] = recorder.New(opts, rr.bus, rr.log)
	rr.mu.Unlock()
	return id
}

// Get returns the recorder for id, if any.
func (rr *RecorderRegistry) Get(id string) (*recorder.Recorder, bool) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	r, ok := rr.recs[id]
	return r, ok
}

// Delete removes a recording session (after export, typically).
func (rr *RecorderRegistry) Delete(id string) {
	rr.mu.Lock()
	delete(rr.recs, id)
	rr.mu.Unlock()
}
