package pagemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/corvid-core/internal/corvidlog"
	"github.com/corvidlabs/corvid-core/internal/errs"
	"github.com/corvidlabs/corvid-core/internal/eventbus"
	"github.com/corvidlabs/corvid-core/internal/idgen"
	"github.com/corvidlabs/corvid-core/internal/pagehost"
	"github.com/corvidlabs/corvid-core/internal/windowpool"
)

func newTestManager(t *testing.T, profile string) *Manager {
	t.Helper()
	bus := eventbus.New()
	pool := windowpool.New(windowpool.Config{
		MinPoolSize: 0, MaxPoolSize: 20, WarmupDelay: time.Millisecond,
		HealthCheckInterval: time.Minute, MaxIdleTime: time.Hour,
	}, func() (pagehost.Host, error) {
		return pagehost.NewFakeHost(idgen.Prefixed("host")), nil
	}, bus, corvidlog.Nop())
	for i := 0; i < 10; i++ {
		pool.Warmup(1)
	}
	time.Sleep(50 * time.Millisecond)
	m := New(pool, profile, bus, corvidlog.Nop())
	t.Cleanup(m.Shutdown)
	return m
}

func TestCreatePageLimitExceeded(t *testing.T) {
	m := newTestManager(t, "single")
	id1, err := m.CreatePage(nil)
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	_, err = m.CreatePage(nil)
	require.Error(t, err)
}

func TestFirstPageBecomesActive(t *testing.T) {
	m := newTestManager(t, "balanced")
	id1, err := m.CreatePage(nil)
	require.NoError(t, err)
	p, err := m.GetPage(id1)
	require.NoError(t, err)
	require.Equal(t, id1, p.PageID)
	require.Equal(t, id1, m.ActivePageID())
}

// Scenario 2 from spec.md §8: rate-limited navigation.
func TestRateLimitedNavigationSameDomainSequential(t *testing.T) {
	m := newTestManager(t, "balanced")
	m.profile.DomainDelay = 200 * time.Millisecond
	p1, _ := m.CreatePage(nil)
	p2, _ := m.CreatePage(nil)
	p3, _ := m.CreatePage(nil)

	start := time.Now()
	var r1, r2, r3 NavResult
	done := make(chan struct{}, 3)

	go func() { r1 = m.NavigatePage(context.Background(), p1, "https://ex.com/a"); done <- struct{}{} }()
	time.Sleep(10 * time.Millisecond) // ensure r1 admitted first
	go func() { r2 = m.NavigatePage(context.Background(), p2, "https://ex.com/b"); done <- struct{}{} }()
	go func() { r3 = m.NavigatePage(context.Background(), p3, "https://other.com/x"); done <- struct{}{} }()

	for i := 0; i < 3; i++ {
		<-done
	}
	elapsed := time.Since(start)

	require.True(t, r1.Success)
	require.True(t, r2.Success)
	require.True(t, r3.Success)
	require.GreaterOrEqual(t, elapsed, 190*time.Millisecond)
}

func TestDestroyPageDuringNavigationResolvesPageGone(t *testing.T) {
	m := newTestManager(t, "stealth")
	m.profile.MinNavDelay = 0
	m.profile.DomainDelay = 200 * time.Millisecond
	p1, _ := m.CreatePage(nil)
	// The first navigation records the domain, so the second one waits out
	// DomainDelay before loading and is still in flight when the page goes.
	require.True(t, m.NavigatePage(context.Background(), p1, "https://slow.example.com/a").Success)

	resCh := make(chan NavResult, 1)
	go func() { resCh <- m.NavigatePage(context.Background(), p1, "https://slow.example.com/b") }()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, m.DestroyPage(p1))

	select {
	case res := <-resCh:
		require.False(t, res.Success)
		require.Equal(t, errs.PageGone, errs.KindOf(res.Err))
	case <-time.After(time.Second):
		t.Fatal("navigation never resolved")
	}
}

func TestResourceMonitorDisabledAlwaysHealthy(t *testing.T) {
	m := newTestManager(t, "single")
	require.True(t, m.ResourceStats().ChecksPerformed == 0)
	require.True(t, m.monitor.IsHealthy())
}
