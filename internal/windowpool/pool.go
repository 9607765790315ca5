// Package windowpool implements the Window Pool (spec.md §4.B): it
// pre-warms, loans out, recycles, and disposes Page Hosts, health-checking
// idle entries on a ticker.
//
// Grounded on the teacher's internal/capture/ttl.go (time-based eviction)
// and circuit_breaker.go (consecutive-failure-before-terminal-transition),
// generalized into the entry-map + FIFO-acquire pool spec §4.B describes.
package windowpool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/corvidlabs/corvid-core/internal/eventbus"
	"github.com/corvidlabs/corvid-core/internal/idgen"
	"github.com/corvidlabs/corvid-core/internal/pagehost"
)

// State is one of the Page Host lifecycle states from spec §3.
type State string

const (
	StateWarming   State = "warming"
	StateAvailable State = "available"
	StateAcquired  State = "acquired"
	StateRecycling State = "recycling"
	StateDisposed  State = "disposed"
)

// Config mirrors spec §4.B's enumerated knobs.
type Config struct {
	MinPoolSize         int
	MaxPoolSize         int
	WarmupDelay         time.Duration
	RecycleTimeout      time.Duration
	HealthCheckInterval time.Duration
	MaxIdleTime         time.Duration
	MaxHealthFailures   int
}

// HostFactory creates a new backing Host; production wiring plugs in the
// real browser-launcher adapter, tests plug in pagehost.NewFakeHost.
type HostFactory func() (pagehost.Host, error)

type entry struct {
	host          pagehost.Host
	state         State
	createdAt     time.Time
	lastUsed      time.Time
	healthFailures int
}

// Status is the snapshot returned by Pool.Status.
type Status struct {
	Available     int
	Acquired      int
	Warming       int
	AcquireMisses int64
}

// Pool is the Window Pool. Its entry map is the sole mutator of pool-entry
// state; acquire/recycle/dispose are mutually exclusive per entry via mu.
type Pool struct {
	mu     sync.Mutex
	cfg    Config
	factory HostFactory
	bus    *eventbus.Bus
	log    zerolog.Logger

	entries map[string]*entry
	order   []string // FIFO by acquire-eligibility among available entries

	acquireMisses int64

	ticker   *time.Ticker
	tickerMu sync.Mutex
	done     chan struct{}
	running  bool
}

// New constructs a Pool. Call Initialize to start warmup and health checks.
func New(cfg Config, factory HostFactory, bus *eventbus.Bus, log zerolog.Logger) *Pool {
	if cfg.MaxHealthFailures <= 0 {
		cfg.MaxHealthFailures = 3
	}
	if cfg.MaxPoolSize < cfg.MinPoolSize {
		cfg.MaxPoolSize = cfg.MinPoolSize
	}
	return &Pool{
		cfg:     cfg,
		factory: factory,
		bus:     bus,
		log:     log,
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
}

// Initialize starts the health-check ticker and asynchronously warms the
// pool to MinPoolSize. It never blocks the caller.
func (p *Pool) Initialize() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.warmupLoop(p.cfg.MinPoolSize)
	p.startHealthTicker()
}

func (p *Pool) warmupLoop(n int) {
	for i := 0; i < n; i++ {
		p.spawnOne()
		if p.cfg.WarmupDelay > 0 {
			time.Sleep(p.cfg.WarmupDelay)
		}
	}
}

// Warmup spawns n additional hosts beyond whatever already exists.
func (p *Pool) Warmup(n int) {
	go p.warmupLoop(n)
}

func (p *Pool) spawnOne() {
	host, err := p.factory()
	if err != nil {
		// Warmup failures count against pool health but never surface
		// (spec §4.B Failure semantics).
		p.log.Warn().Err(err).Msg("windowpool: warmup spawn failed")
		return
	}
	id := host.ID()
	if id == "" {
		id = idgen.Prefixed("host")
	}
	e := &entry{host: host, state: StateWarming, createdAt: time.Now()}
	p.mu.Lock()
	p.entries[id] = e
	p.mu.Unlock()

	if p.cfg.WarmupDelay > 0 {
		time.Sleep(p.cfg.WarmupDelay)
	}
	if !host.IsAlive() {
		p.disposeByID(id)
		return
	}
	p.mu.Lock()
	e.state = StateAvailable
	e.lastUsed = time.Now()
	p.order = append(p.order, id)
	p.mu.Unlock()
}

// Acquire returns an available host or nil; it never blocks.
func (p *Pool) Acquire() pagehost.Host {
	p.mu.Lock()
	defer p.mu.Unlock()

	sort.SliceStable(p.order, func(i, j int) bool {
		ei, oki := p.entries[p.order[i]]
		ej, okj := p.entries[p.order[j]]
		if !oki || !okj {
			return false
		}
		return ei.lastUsed.Before(ej.lastUsed)
	})

	for i, id := range p.order {
		e, ok := p.entries[id]
		if !ok || e.state != StateAvailable {
			continue
		}
		e.state = StateAcquired
		e.lastUsed = time.Now()
		p.order = append(p.order[:i], p.order[i+1:]...)
		if p.bus != nil {
			p.bus.Publish(eventbus.Event{Kind: "window-acquired", Data: id})
		}
		return e.host
	}
	p.acquireMisses++
	return nil
}

// Recycle returns a host to the available pool, or disposes it if the pool
// is already full of available entries. Returns false on a nil/dead host.
func (p *Pool) Recycle(host pagehost.Host) bool {
	if host == nil || !host.IsAlive() {
		return false
	}
	id := host.ID()

	p.mu.Lock()
	e, ok := p.entries[id]
	if !ok {
		p.mu.Unlock()
		return false
	}
	availableCount := 0
	for _, other := range p.entries {
		if other.state == StateAvailable {
			availableCount++
		}
	}
	if availableCount >= p.cfg.MaxPoolSize {
		p.disposeLocked(id)
		p.mu.Unlock()
		if p.bus != nil {
			p.bus.Publish(eventbus.Event{Kind: "window-disposed", Data: id})
		}
		return false
	}
	e.state = StateRecycling
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.recycleTimeout())
	defer cancel()
	_ = host.LoadURL(ctx, "about:blank", false)

	p.mu.Lock()
	e.state = StateAvailable
	e.lastUsed = time.Now()
	p.order = append(p.order, id)
	p.mu.Unlock()

	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Kind: "window-recycled", Data: id})
	}
	return true
}

func (p *Pool) recycleTimeout() time.Duration {
	if p.cfg.RecycleTimeout > 0 {
		return p.cfg.RecycleTimeout
	}
	return 5 * time.Second
}

// Status returns a point-in-time snapshot of pool occupancy.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	var s Status
	s.AcquireMisses = p.acquireMisses
	for _, e := range p.entries {
		switch e.state {
		case StateAvailable:
			s.Available++
		case StateAcquired:
			s.Acquired++
		case StateWarming:
			s.Warming++
		}
	}
	return s
}

// UpdateConfig swaps in new pool limits/timeouts; takes effect on the next
// health tick and acquire/recycle call.
func (p *Pool) UpdateConfig(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

func (p *Pool) startHealthTicker() {
	interval := p.cfg.HealthCheckInterval
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	p.tickerMu.Lock()
	p.ticker = time.NewTicker(interval)
	ticker := p.ticker
	p.tickerMu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				p.healthCheckOnce()
			case <-p.done:
				return
			}
		}
	}()
}

func (p *Pool) healthCheckOnce() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	minSize := p.cfg.MinPoolSize
	maxIdle := p.cfg.MaxIdleTime
	maxFailures := p.cfg.MaxHealthFailures
	p.mu.Unlock()

	now := time.Now()
	for _, id := range ids {
		p.mu.Lock()
		e, ok := p.entries[id]
		if !ok {
			p.mu.Unlock()
			continue
		}
		host := e.host
		state := e.state
		lastUsed := e.lastUsed
		p.mu.Unlock()

		if !host.IsAlive() {
			p.mu.Lock()
			e.healthFailures++
			dispose := e.healthFailures >= maxFailures
			p.mu.Unlock()
			if dispose {
				p.disposeByID(id)
			}
			continue
		}
		p.mu.Lock()
		e.healthFailures = 0
		p.mu.Unlock()

		if state == StateAvailable && maxIdle > 0 && now.Sub(lastUsed) > maxIdle {
			p.mu.Lock()
			availableCount := 0
			for _, other := range p.entries {
				if other.state == StateAvailable {
					availableCount++
				}
			}
			p.mu.Unlock()
			if availableCount > minSize {
				p.disposeByID(id)
			}
		}
	}
}

func (p *Pool) disposeByID(id string) {
	p.mu.Lock()
	p.disposeLocked(id)
	p.mu.Unlock()
}

// disposeLocked must be called with p.mu held; it is fire-and-forget and
// terminal per spec §4.B.
func (p *Pool) disposeLocked(id string) {
	e, ok := p.entries[id]
	if !ok {
		return
	}
	e.state = StateDisposed
	go func(h pagehost.Host) { _ = h.Close() }(e.host)
	delete(p.entries, id)
	for i, oid := range p.order {
		if oid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Drain disposes every entry, leaving the pool at zero occupancy.
func (p *Pool) Drain() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	for _, id := range ids {
		p.disposeLocked(id)
	}
	p.mu.Unlock()
}

// Cleanup stops the health-check ticker and drains the pool. Safe to call
// more than once.
func (p *Pool) Cleanup() {
	p.tickerMu.Lock()
	if p.ticker != nil {
		p.ticker.Stop()
	}
	p.tickerMu.Unlock()

	p.mu.Lock()
	running := p.running
	p.running = false
	p.mu.Unlock()
	if running {
		select {
		case <-p.done:
		default:
			close(p.done)
		}
	}
	p.Drain()
}
