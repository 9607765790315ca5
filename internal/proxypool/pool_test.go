package proxypool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/corvid-core/internal/corvidlog"
	"github.com/corvidlabs/corvid-core/internal/eventbus"
)

func newTestPool(strategy Strategy) *Pool {
	return New(strategy, AutoBlacklistConfig{Enabled: true, Threshold: 5, Duration: 15 * time.Minute},
		eventbus.New(), corvidlog.Nop())
}

func TestAddProxyRejectsDuplicate(t *testing.T) {
	p := newTestPool(StrategyRoundRobin)
	_, err := p.AddProxy(Config{ID: "p1", Type: TypeHTTP})
	require.NoError(t, err)
	_, err = p.AddProxy(Config{ID: "p1", Type: TypeHTTP})
	require.Error(t, err)
}

func TestGetNextProxyUnavailableWhenEmpty(t *testing.T) {
	p := newTestPool(StrategyRoundRobin)
	_, err := p.GetNextProxy(Filter{})
	require.Error(t, err)
}

// Scenario: ∀ proxy p with consecutiveFailures ≥ 5: status(p)=unhealthy and
// isAvailable(p)=false.
func TestFiveConsecutiveFailuresMarksUnhealthyAndUnavailable(t *testing.T) {
	p := newTestPool(StrategyRoundRobin)
	_, err := p.AddProxy(Config{ID: "p1", Type: TypeHTTP})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.RecordFailure("p1", "timeout"))
	}

	snap, err := p.Get("p1")
	require.NoError(t, err)
	require.Equal(t, StatusUnhealthy, snap.Status)

	_, err = p.GetNextProxy(Filter{})
	require.Error(t, err)
}

func TestAutoBlacklistOnThreshold(t *testing.T) {
	p := newTestPool(StrategyRoundRobin)
	_, _ = p.AddProxy(Config{ID: "p1", Type: TypeHTTP})
	for i := 0; i < 5; i++ {
		require.NoError(t, p.RecordFailure("p1", "refused"))
	}
	snap, _ := p.Get("p1")
	require.Equal(t, StatusBlacklisted, snap.Status)
	require.NotNil(t, snap.BlacklistedUntil)
}

func TestRecoverySuccessUpgradesDegradedToHealthy(t *testing.T) {
	p := newTestPool(StrategyRoundRobin)
	_, _ = p.AddProxy(Config{ID: "p1", Type: TypeHTTP})
	for i := 0; i < 3; i++ {
		require.NoError(t, p.RecordFailure("p1", "x"))
	}
	snap, _ := p.Get("p1")
	require.Equal(t, StatusDegraded, snap.Status)

	require.NoError(t, p.RecordSuccess("p1", 50*time.Millisecond))
	snap, _ = p.Get("p1")
	require.Equal(t, StatusHealthy, snap.Status)
}

func TestWhitelistClearsBlacklist(t *testing.T) {
	p := newTestPool(StrategyRoundRobin)
	_, _ = p.AddProxy(Config{ID: "p1", Type: TypeHTTP})
	require.NoError(t, p.BlacklistProxy("p1", time.Hour, "manual"))
	snap, _ := p.Get("p1")
	require.Equal(t, StatusBlacklisted, snap.Status)

	require.NoError(t, p.WhitelistProxy("p1"))
	snap, _ = p.Get("p1")
	require.Equal(t, StatusHealthy, snap.Status)
	require.Nil(t, snap.BlacklistedUntil)
}

func TestRoundRobinCyclesThroughAllProxies(t *testing.T) {
	p := newTestPool(StrategyRoundRobin)
	_, _ = p.AddProxy(Config{ID: "p1", Type: TypeHTTP})
	_, _ = p.AddProxy(Config{ID: "p2", Type: TypeHTTP})

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		snap, err := p.GetNextProxy(Filter{})
		require.NoError(t, err)
		seen[snap.ID] = true
	}
	require.Len(t, seen, 2)
}

func TestFilterByCountryAndMinSuccessRate(t *testing.T) {
	p := newTestPool(StrategyRoundRobin)
	_, _ = p.AddProxy(Config{ID: "us1", Type: TypeHTTP, Country: "US"})
	_, _ = p.AddProxy(Config{ID: "de1", Type: TypeHTTP, Country: "DE"})

	snap, err := p.GetNextProxy(Filter{Country: "DE"})
	require.NoError(t, err)
	require.Equal(t, "de1", snap.ID)
}

func TestRemoveProxyNotFound(t *testing.T) {
	p := newTestPool(StrategyRoundRobin)
	err := p.RemoveProxy("nope")
	require.Error(t, err)
}

func TestClearEmptiesPool(t *testing.T) {
	p := newTestPool(StrategyRoundRobin)
	_, _ = p.AddProxy(Config{ID: "p1", Type: TypeHTTP})
	p.Clear()
	require.Empty(t, p.List())
}
