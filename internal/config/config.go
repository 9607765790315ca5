// Package config loads corvid-core's configuration: every enumerated knob
// from spec.md §4 collected into one struct, loaded from a YAML file with
// CORVID_-prefixed environment overrides via viper. This is the ambient
// config-loading layer the system overview calls "thin CLI" — outside the
// core's own line budget, but still built the way the rest of the pack
// builds configuration (joestump-claude-ops: viper + cobra) rather than
// by hand-parsing flags.
package config

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// WindowPoolConfig mirrors spec §4.B.
type WindowPoolConfig struct {
	MinPoolSize        int           `mapstructure:"min_pool_size" yaml:"min_pool_size"`
	MaxPoolSize        int           `mapstructure:"max_pool_size" yaml:"max_pool_size"`
	WarmupDelay        time.Duration `mapstructure:"warmup_delay" yaml:"warmup_delay"`
	RecycleTimeout     time.Duration `mapstructure:"recycle_timeout" yaml:"recycle_timeout"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval" yaml:"health_check_interval"`
	MaxIdleTime        time.Duration `mapstructure:"max_idle_time" yaml:"max_idle_time"`
	MaxHealthFailures  int           `mapstructure:"max_health_failures" yaml:"max_health_failures"`
}

// ProxyPoolConfig mirrors spec §4.D.
type ProxyPoolConfig struct {
	Strategy             string        `mapstructure:"strategy" yaml:"strategy"`
	AutoBlacklist        bool          `mapstructure:"auto_blacklist" yaml:"auto_blacklist"`
	BlacklistThreshold   int           `mapstructure:"blacklist_threshold" yaml:"blacklist_threshold"`
	BlacklistDuration    time.Duration `mapstructure:"blacklist_duration" yaml:"blacklist_duration"`
	RedisAddr            string        `mapstructure:"redis_addr" yaml:"redis_addr"`
}

// CookieJarConfig mirrors spec §4.E.
type CookieJarConfig struct {
	MaxHistorySize int `mapstructure:"max_history_size" yaml:"max_history_size"`
}

// RecorderConfig mirrors spec §4.H.
type RecorderConfig struct {
	MaxEvents              int           `mapstructure:"max_events" yaml:"max_events"`
	MouseMoveThrottle      time.Duration `mapstructure:"mouse_move_throttle" yaml:"mouse_move_throttle"`
	ScrollThrottle         time.Duration `mapstructure:"scroll_throttle" yaml:"scroll_throttle"`
	MaskSensitiveData      bool          `mapstructure:"mask_sensitive_data" yaml:"mask_sensitive_data"`
	AutoCheckpointInterval time.Duration `mapstructure:"auto_checkpoint_interval" yaml:"auto_checkpoint_interval"`
}

// EvidenceConfig mirrors spec §4.I / §6's vault layout.
type EvidenceConfig struct {
	BasePath   string `mapstructure:"base_path" yaml:"base_path"`
	AutoVerify bool   `mapstructure:"auto_verify" yaml:"auto_verify"`
	IndexDSN   string `mapstructure:"index_dsn" yaml:"index_dsn"`
}

// TLSConfig mirrors spec §4.J's transport security section.
type TLSConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	CertPath       string `mapstructure:"cert_path" yaml:"cert_path"`
	KeyPath        string `mapstructure:"key_path" yaml:"key_path"`
	CertsDir       string `mapstructure:"certs_dir" yaml:"certs_dir"`
	MinVersion     string `mapstructure:"min_version" yaml:"min_version"`
}

// DispatcherConfig mirrors spec §4.J / §6.
type DispatcherConfig struct {
	Port        int       `mapstructure:"port" yaml:"port"`
	RequireAuth bool      `mapstructure:"require_auth" yaml:"require_auth"`
	JWTSecret   string    `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	TLS         TLSConfig `mapstructure:"tls" yaml:"tls"`
	MetricsPort int       `mapstructure:"metrics_port" yaml:"metrics_port"`
}

// SockPuppetConfig mirrors spec §4.K.
type SockPuppetConfig struct {
	IdentityStoreBaseURL string        `mapstructure:"identity_store_base_url" yaml:"identity_store_base_url"`
	CacheTimeout          time.Duration `mapstructure:"cache_timeout" yaml:"cache_timeout"`
}

// Config is the full set of knobs for one corvid-core instance.
type Config struct {
	WindowPool WindowPoolConfig `mapstructure:"window_pool" yaml:"window_pool"`
	ProxyPool  ProxyPoolConfig  `mapstructure:"proxy_pool" yaml:"proxy_pool"`
	CookieJar  CookieJarConfig  `mapstructure:"cookie_jar" yaml:"cookie_jar"`
	Recorder   RecorderConfig   `mapstructure:"recorder" yaml:"recorder"`
	Evidence   EvidenceConfig   `mapstructure:"evidence" yaml:"evidence"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`
	SockPuppet SockPuppetConfig `mapstructure:"sock_puppet" yaml:"sock_puppet"`
	Debug      bool             `mapstructure:"debug" yaml:"debug"`
}

// Defaults returns a Config with every knob set to the values spec.md names
// explicitly (minPoolSize>=0 etc.), suitable as a base before Load overlays
// a file and environment.
func Defaults() Config {
	return Config{
		WindowPool: WindowPoolConfig{
			MinPoolSize: 2, MaxPoolSize: 8,
			WarmupDelay: 100 * time.Millisecond, RecycleTimeout: 5 * time.Second,
			HealthCheckInterval: 10 * time.Second, MaxIdleTime: 60 * time.Second,
			MaxHealthFailures: 3,
		},
		ProxyPool: ProxyPoolConfig{
			Strategy: "round-robin", AutoBlacklist: true,
			BlacklistThreshold: 5, BlacklistDuration: 15 * time.Minute,
		},
		CookieJar: CookieJarConfig{MaxHistorySize: 500},
		Recorder: RecorderConfig{
			MaxEvents: 50000, MouseMoveThrottle: 50 * time.Millisecond,
			ScrollThrottle: 50 * time.Millisecond, MaskSensitiveData: true,
		},
		Evidence: EvidenceConfig{BasePath: "./evidence-vault", AutoVerify: true, IndexDSN: "file:./evidence-vault/index.db"},
		Dispatcher: DispatcherConfig{
			Port: 8765, TLS: TLSConfig{MinVersion: "TLSv1.2", CertsDir: "./certs"},
			MetricsPort: 9765,
		},
		SockPuppet: SockPuppetConfig{CacheTimeout: 10 * time.Minute},
	}
}

// Load reads path (if non-empty and present) over the defaults, then applies
// CORVID_-prefixed environment overrides (e.g. CORVID_DISPATCHER_PORT).
func Load(path string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("CORVID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Seed viper with every default key: Unmarshal only consults the
	// environment for keys viper already knows about.
	seed, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("config: encode defaults: %w", err)
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(seed)); err != nil {
		return cfg, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return cfg, fmt.Errorf("config: read %q: %w", path, err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
