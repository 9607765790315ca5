package proxypool

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/corvidlabs/corvid-core/internal/errs"
	"github.com/corvidlabs/corvid-core/internal/eventbus"
)

// Strategy is the closed set of rotation strategies from spec §4.D.
type Strategy string

const (
	StrategyRoundRobin Strategy = "round-robin"
	StrategyRandom     Strategy = "random"
	StrategyLeastUsed  Strategy = "least-used"
	StrategyFastest    Strategy = "fastest"
	StrategyWeighted   Strategy = "weighted"
)

// Filter narrows getNextProxy per spec §4.D.
type Filter struct {
	Country        string
	Type           Type
	Tags           []string
	MinSuccessRate float64
	MaxResponseTime time.Duration
}

// AutoBlacklistConfig controls the automatic blacklist-on-consecutive-
// failures behavior.
type AutoBlacklistConfig struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
}

// Pool is the Proxy Pool.
type Pool struct {
	mu       sync.Mutex
	proxies  map[string]*Proxy
	order    []string // insertion order, used by round-robin
	rrCursor int
	strategy Strategy
	autoBL   AutoBlacklistConfig
	bus      *eventbus.Bus
	log      zerolog.Logger
	cache    DistCache
}

// DistCache is the optional cross-instance mirror for rate-limit counters
// (SPEC_FULL §2 component P). A nil DistCache means local-only state.
type DistCache interface {
	RecordRequest(proxyID string, at time.Time) error
	CountRecentRequests(proxyID string, window time.Duration) (int, error)
}

// New builds an empty Pool.
func New(strategy Strategy, autoBL AutoBlacklistConfig, bus *eventbus.Bus, log zerolog.Logger) *Pool {
	if strategy == "" {
		strategy = StrategyRoundRobin
	}
	return &Pool{
		proxies:  make(map[string]*Proxy),
		strategy: strategy,
		autoBL:   autoBL,
		bus:      bus,
		log:      log,
	}
}

// SetDistCache wires an optional Redis-backed mirror.
func (p *Pool) SetDistCache(c DistCache) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = c
}

// AddProxy rejects a duplicate id.
func (p *Pool) AddProxy(cfg Config) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.proxies[cfg.ID]; exists {
		return Snapshot{}, errs.New(errs.AlreadyExists, "proxy already exists: "+cfg.ID)
	}
	proxy := newProxy(cfg)
	p.proxies[cfg.ID] = proxy
	p.order = append(p.order, cfg.ID)
	p.publish("proxy:added", cfg.ID)
	return proxy.snapshot(), nil
}

// RemoveProxy deletes a proxy by id.
func (p *Pool) RemoveProxy(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.proxies[id]; !ok {
		return errs.New(errs.NotFound, "proxy not found: "+id)
	}
	delete(p.proxies, id)
	for i, oid := range p.order {
		if oid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.publish("proxy:removed", id)
	return nil
}

func matches(pr *Proxy, f Filter) bool {
	if f.Country != "" && pr.Country != f.Country {
		return false
	}
	if f.Type != "" && pr.Type != f.Type {
		return false
	}
	if f.MinSuccessRate > 0 && pr.GetSuccessRate() < f.MinSuccessRate {
		return false
	}
	if f.MaxResponseTime > 0 && pr.AverageResponseTime > f.MaxResponseTime {
		return false
	}
	if len(f.Tags) > 0 {
		for _, want := range f.Tags {
			found := false
			for _, have := range pr.Tags {
				if have == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

// GetNextProxy selects per the active strategy; returns ProxyUnavailable
// when no proxy passes the filter and availability check.
func (p *Pool) GetNextProxy(filter Filter) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var candidates []*Proxy
	for _, id := range p.order {
		pr := p.proxies[id]
		if pr == nil || !pr.isAvailable(now) || !matches(pr, filter) {
			continue
		}
		candidates = append(candidates, pr)
	}
	if len(candidates) == 0 {
		return Snapshot{}, errs.New(errs.ProxyUnavailable, "no available proxy matches filter")
	}

	var chosen *Proxy
	switch p.strategy {
	case StrategyRandom:
		chosen = candidates[rand.Intn(len(candidates))]
	case StrategyLeastUsed:
		chosen = candidates[0]
		for _, c := range candidates[1:] {
			if c.SuccessCount+c.FailureCount < chosen.SuccessCount+chosen.FailureCount {
				chosen = c
			}
		}
	case StrategyFastest:
		best := (*Proxy)(nil)
		for _, c := range candidates {
			if len(c.responseTimeHistory) == 0 {
				continue
			}
			if best == nil || c.AverageResponseTime < best.AverageResponseTime {
				best = c
			}
		}
		if best == nil {
			chosen = candidates[rand.Intn(len(candidates))]
		} else {
			chosen = best
		}
	case StrategyWeighted:
		total := 0
		for _, c := range candidates {
			total += c.Weight
		}
		r := rand.Intn(total)
		for _, c := range candidates {
			r -= c.Weight
			if r < 0 {
				chosen = c
				break
			}
		}
		if chosen == nil {
			chosen = candidates[len(candidates)-1]
		}
	default: // round-robin
		p.rrCursor = (p.rrCursor + 1) % len(candidates)
		chosen = candidates[p.rrCursor%len(candidates)]
	}
	return chosen.snapshot(), nil
}

// SetRotationStrategy changes the selection strategy.
func (p *Pool) SetRotationStrategy(s Strategy) {
	p.mu.Lock()
	p.strategy = s
	p.mu.Unlock()
	p.publish("strategy:changed", string(s))
}

// RecordSuccess applies the health-transition rules and mirrors the request
// timestamp into the distributed cache when configured.
func (p *Pool) RecordSuccess(id string, responseTime time.Duration) error {
	p.mu.Lock()
	pr, ok := p.proxies[id]
	if !ok {
		p.mu.Unlock()
		return errs.New(errs.NotFound, "proxy not found: "+id)
	}
	now := time.Now()
	pr.recordSuccess(responseTime, now)
	cache := p.cache
	p.mu.Unlock()

	if cache != nil {
		if err := cache.RecordRequest(id, now); err != nil {
			p.log.Warn().Err(err).Str("proxy_id", id).Msg("proxypool: distcache record failed, continuing local-only")
		}
	}
	p.publish("proxy:success", id)
	return nil
}

// RecordFailure applies the health-transition rules and, when auto-blacklist
// is enabled and the consecutive-failure threshold is crossed, blacklists
// the proxy.
func (p *Pool) RecordFailure(id string, reason string) error {
	p.mu.Lock()
	pr, ok := p.proxies[id]
	if !ok {
		p.mu.Unlock()
		return errs.New(errs.NotFound, "proxy not found: "+id)
	}
	now := time.Now()
	pr.recordFailure(now)
	shouldBlacklist := p.autoBL.Enabled && pr.ConsecutiveFailures >= p.autoBL.Threshold
	if shouldBlacklist {
		pr.blacklist(p.autoBL.Duration, "auto: "+reason, now)
	}
	p.mu.Unlock()

	p.publish("proxy:failure", map[string]any{"id": id, "reason": reason})
	if shouldBlacklist {
		p.publish("proxy:blacklisted", id)
	}
	return nil
}

// BlacklistProxy explicitly blacklists a proxy for duration.
func (p *Pool) BlacklistProxy(id string, duration time.Duration, reason string) error {
	p.mu.Lock()
	pr, ok := p.proxies[id]
	if !ok {
		p.mu.Unlock()
		return errs.New(errs.NotFound, "proxy not found: "+id)
	}
	pr.blacklist(duration, reason, time.Now())
	p.mu.Unlock()
	p.publish("proxy:blacklisted", id)
	return nil
}

// WhitelistProxy clears a blacklist and resets health to healthy.
func (p *Pool) WhitelistProxy(id string) error {
	p.mu.Lock()
	pr, ok := p.proxies[id]
	if !ok {
		p.mu.Unlock()
		return errs.New(errs.NotFound, "proxy not found: "+id)
	}
	pr.whitelist()
	p.mu.Unlock()
	p.publish("proxy:whitelisted", id)
	return nil
}

// Get returns a snapshot of one proxy.
func (p *Pool) Get(id string) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.proxies[id]
	if !ok {
		return Snapshot{}, errs.New(errs.NotFound, "proxy not found: "+id)
	}
	return pr.snapshot(), nil
}

// List returns snapshots of every proxy.
func (p *Pool) List() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Snapshot, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.proxies[id].snapshot())
	}
	return out
}

// Clear removes every proxy.
func (p *Pool) Clear() {
	p.mu.Lock()
	p.proxies = make(map[string]*Proxy)
	p.order = nil
	p.mu.Unlock()
	p.publish("pool:cleared", nil)
}

func (p *Pool) publish(kind string, data any) {
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Kind: kind, Data: data})
	}
}
