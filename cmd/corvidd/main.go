// Command corvidd is the thin entrypoint: load configuration, wire every
// component together, and serve the dispatcher's WebSocket transport.
//
// Grounded on joestump-claude-ops/cmd/claudeops/main.go's cobra+viper root
// command (flag registration, env-prefixed binding, RunE-driven startup).
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/corvidlabs/corvid-core/internal/config"
	"github.com/corvidlabs/corvid-core/internal/cookiejar"
	"github.com/corvidlabs/corvid-core/internal/corvidlog"
	"github.com/corvidlabs/corvid-core/internal/corvidtls"
	"github.com/corvidlabs/corvid-core/internal/dispatcher"
	"github.com/corvidlabs/corvid-core/internal/evidence"
	"github.com/corvidlabs/corvid-core/internal/eventbus"
	"github.com/corvidlabs/corvid-core/internal/idgen"
	"github.com/corvidlabs/corvid-core/internal/metrics"
	"github.com/corvidlabs/corvid-core/internal/pagehost"
	"github.com/corvidlabs/corvid-core/internal/pagemanager"
	"github.com/corvidlabs/corvid-core/internal/proxypool"
	"github.com/corvidlabs/corvid-core/internal/sockpuppet"
	"github.com/corvidlabs/corvid-core/internal/windowpool"
)

// version is stamped at build time via -ldflags; unset in dev builds.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{Use: "corvidd", Short: "corvid-core browser orchestration server"}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dispatcher and serve client connections",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "path to a YAML config file")
	serveCmd.Flags().Bool("debug", false, "enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the corvidd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("corvidd " + version)
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Debug = cfg.Debug || debug

	log := corvidlog.New(os.Stderr, cfg.Debug)
	bus := eventbus.New()

	// The Page Host Adapter is an external collaborator per spec's Non-goals
	// (no in-core browser runtime); FakeHost stands in as the factory until
	// a real adapter process is wired over this same Host interface.
	hostFactory := func() (pagehost.Host, error) {
		return pagehost.NewFakeHost(idgen.Prefixed("host")), nil
	}
	pool := windowpool.New(windowpool.Config{
		MinPoolSize: cfg.WindowPool.MinPoolSize, MaxPoolSize: cfg.WindowPool.MaxPoolSize,
		WarmupDelay: cfg.WindowPool.WarmupDelay, RecycleTimeout: cfg.WindowPool.RecycleTimeout,
		HealthCheckInterval: cfg.WindowPool.HealthCheckInterval, MaxIdleTime: cfg.WindowPool.MaxIdleTime,
		MaxHealthFailures: cfg.WindowPool.MaxHealthFailures,
	}, hostFactory, bus, corvidlog.For(log, "windowpool"))
	pool.Initialize()
	defer pool.Cleanup()

	pages := pagemanager.New(pool, "balanced", bus, corvidlog.For(log, "pagemanager"))
	defer pages.Shutdown()

	proxies := proxypool.New(
		proxypool.Strategy(cfg.ProxyPool.Strategy),
		proxypool.AutoBlacklistConfig{
			Enabled: cfg.ProxyPool.AutoBlacklist, Threshold: cfg.ProxyPool.BlacklistThreshold,
			Duration: cfg.ProxyPool.BlacklistDuration,
		},
		bus, corvidlog.For(log, "proxypool"),
	)

	cookies := cookiejar.New(cfg.CookieJar.MaxHistorySize, bus, corvidlog.For(log, "cookiejar"))

	vault, err := evidence.NewVault(cfg.Evidence.BasePath)
	if err != nil {
		return fmt.Errorf("opening evidence vault: %w", err)
	}
	var index evidence.Indexer
	if cfg.Evidence.IndexDSN != "" {
		index, err = evidence.NewSQLiteIndex(cfg.Evidence.IndexDSN)
		if err != nil {
			return fmt.Errorf("opening evidence index: %w", err)
		}
	}
	evidenceMgr := evidence.New(cfg.Evidence.AutoVerify, 10000, vault, index, bus, corvidlog.For(log, "evidence"))

	var dist sockpuppet.DistCache
	if cfg.ProxyPool.RedisAddr != "" {
		dist = sockpuppet.NewRedisDistCache(cfg.ProxyPool.RedisAddr)
	}
	identityClient := sockpuppet.NewIdentityClient(cfg.SockPuppet.IdentityStoreBaseURL, http.DefaultClient)
	puppets := sockpuppet.New(identityClient, cfg.SockPuppet.CacheTimeout, dist, bus, corvidlog.For(log, "sockpuppet"))

	components := &dispatcher.Components{
		Pool: pool, Pages: pages, Proxies: proxies, Cookies: cookies,
		Evidence: evidenceMgr, Puppets: puppets,
		Recorders: dispatcher.NewRecorderRegistry(bus, corvidlog.For(log, "recorder")),
		Bus:       bus, Log: log,
	}
	d := dispatcher.New(components)

	reg := metrics.New()
	serverCfg := dispatcher.ServerConfig{
		Addr: fmt.Sprintf(":%d", cfg.Dispatcher.Port),
		RequireAuth: cfg.Dispatcher.RequireAuth, JWTSecret: cfg.Dispatcher.JWTSecret,
		Metrics: reg,
	}
	if cfg.Dispatcher.TLS.Enabled {
		tlsCfg, err := resolveTLS(cfg)
		if err != nil {
			return err
		}
		serverCfg.TLS = &dispatcher.TLSServerConfig{CertFile: tlsCfg.certFile, KeyFile: tlsCfg.keyFile}
	}
	srv := dispatcher.NewServer(serverCfg, d, corvidlog.For(log, "dispatcher"))

	stopMetrics := make(chan struct{})
	defer close(stopMetrics)
	go refreshMetrics(reg, pool, pages, proxies, stopMetrics)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	log.Info().Int("port", cfg.Dispatcher.Port).Msg("corvidd: dispatcher listening")

	select {
	case <-sigCh:
		log.Info().Msg("corvidd: shutting down")
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("dispatcher server: %w", err)
		}
		return nil
	}
}

// refreshMetrics mirrors pool/page/proxy counters into the
// Prometheus registry every few seconds; these are dashboard gauges, not a
// durable telemetry store (evidence vault and recordings remain the only
// durable artifacts).
func refreshMetrics(
	reg *metrics.Registry, pool *windowpool.Pool, pages *pagemanager.Manager,
	proxies *proxypool.Pool, stop <-chan struct{},
) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			status := pool.Status()
			reg.PoolAvailable.Set(float64(status.Available))
			reg.PoolAcquired.Set(float64(status.Acquired))

			stats := pages.Stats()
			reg.PagesActive.Set(float64(stats.ActivePages))

			healthy, blacklisted := 0, 0
			for _, p := range proxies.List() {
				switch p.Status {
				case proxypool.StatusBlacklisted:
					blacklisted++
				case proxypool.StatusHealthy, proxypool.StatusDegraded:
					healthy++
				}
			}
			reg.ProxiesHealthy.Set(float64(healthy))
			reg.ProxiesBlacklisted.Set(float64(blacklisted))
		}
	}
}

type resolvedTLSFiles struct {
	certFile, keyFile string
}

// resolveTLS loads a configured cert/key pair, or falls back to the
// self-signed store under TLS.CertsDir when no explicit paths are given.
func resolveTLS(cfg config.Config) (resolvedTLSFiles, error) {
	tlsCfg := cfg.Dispatcher.TLS
	minVersion := corvidtls.MinVersion(tlsCfg.MinVersion)
	if tlsCfg.CertPath != "" || tlsCfg.KeyPath != "" {
		if _, err := corvidtls.LoadServerConfig(tlsCfg.CertPath, tlsCfg.KeyPath, minVersion); err != nil {
			return resolvedTLSFiles{}, err
		}
		return resolvedTLSFiles{certFile: tlsCfg.CertPath, keyFile: tlsCfg.KeyPath}, nil
	}
	if _, err := corvidtls.EnsureServerConfig(tlsCfg.CertsDir, minVersion); err != nil {
		return resolvedTLSFiles{}, err
	}
	return resolvedTLSFiles{
		certFile: tlsCfg.CertsDir + "/cert.pem",
		keyFile:  tlsCfg.CertsDir + "/key.pem",
	}, nil
}
