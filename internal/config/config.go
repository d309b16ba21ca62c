// Package config provides configuration management for ThreatPulse.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lvonguyen/threatpulse/internal/api/gateway"
	"github.com/lvonguyen/threatpulse/internal/cache"
	"github.com/lvonguyen/threatpulse/internal/observability"
	"github.com/lvonguyen/threatpulse/internal/push"
	"github.com/lvonguyen/threatpulse/internal/risk"
	"github.com/lvonguyen/threatpulse/internal/splunk"
	"github.com/lvonguyen/threatpulse/internal/telemetry"
)

// Validation errors.
var (
	ErrInvalidPort         = errors.New("server port must be between 1 and 65535")
	ErrMissingSearchURL    = errors.New("opensearch url is required")
	ErrInvalidFetchTimeout = errors.New("opensearch fetch_timeout must be positive")
	ErrInvalidMatchMode    = errors.New("engine internal_mode must be prefix or cidr")
	ErrNoInternalNetworks  = errors.New("engine internal_networks is required in cidr mode")
	ErrInvalidPushInterval = errors.New("push interval must be at least one second")
	ErrUnknownTimeframe    = errors.New("unknown push timeframe")
	ErrMissingHECURL       = errors.New("splunk hec_url is required when splunk is enabled")
	ErrInvalidSampling     = errors.New("observability sampling_rate must be between 0 and 1")
)

// Config holds all ThreatPulse configuration.
type Config struct {
	Server        ServerConfig            `yaml:"server"`
	OpenSearch    OpenSearchConfig        `yaml:"opensearch"`
	Postgres      PostgresConfig          `yaml:"postgres"`
	Redis         RedisConfig             `yaml:"redis"`
	Cache         cache.Config            `yaml:"cache"`
	RateLimit     gateway.RateLimitConfig `yaml:"rate_limit"`
	Auth          AuthConfig              `yaml:"auth"`
	Push          PushConfig              `yaml:"push"`
	Splunk        SplunkConfig            `yaml:"splunk"`
	Engine        EngineConfig            `yaml:"engine"`
	Logging       LoggingConfig           `yaml:"logging"`
	Observability observability.Config    `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// OpenSearchConfig holds search backend settings.
type OpenSearchConfig struct {
	URL          string        `yaml:"url"`
	UsernameEnv  string        `yaml:"username_env"`
	PasswordEnv  string        `yaml:"password_env"`
	Insecure     bool          `yaml:"insecure"`
	Index        string        `yaml:"index"`
	PANWIndex    string        `yaml:"panw_index"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	BucketSize   int           `yaml:"bucket_size"`
	HitSize      int           `yaml:"hit_size"`
}

// PostgresConfig holds settings for the countip event mirror.
type PostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSNEnv  string `yaml:"dsn_env"`
	Migrate bool   `yaml:"migrate"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	PoolSize    int    `yaml:"pool_size"`
}

// AuthConfig names the environment variables holding service credentials.
type AuthConfig struct {
	ServiceKeyEnv string `yaml:"service_key_env"`
	JWTSecretEnv  string `yaml:"jwt_secret_env"`
	JWTIssuer     string `yaml:"jwt_issuer"`
}

// PushConfig holds the summary push loop settings.
type PushConfig struct {
	Enabled         bool          `yaml:"enabled"`
	URL             string        `yaml:"url"`
	TokenEnv        string        `yaml:"token_env"`
	Interval        time.Duration `yaml:"interval"`
	Timeframes      []string      `yaml:"timeframes"`
	SubjectPrefix   string        `yaml:"subject_prefix"`
	ForwardToSplunk bool          `yaml:"forward_to_splunk"`
}

// SplunkConfig holds Splunk HEC forwarder settings.
type SplunkConfig struct {
	Enabled bool                `yaml:"enabled"`
	Sender  splunk.SenderConfig `yaml:"sender"`
}

// EngineConfig holds analytics engine settings.
type EngineConfig struct {
	InternalMode     string   `yaml:"internal_mode"`
	InternalPrefix   string   `yaml:"internal_prefix"`
	InternalNetworks []string `yaml:"internal_networks"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Load reads configuration from a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	search := telemetryDefaults()
	sender := splunk.DefaultSenderConfig()
	loop := push.DefaultLoopConfig()

	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		OpenSearch: search,
		Postgres: PostgresConfig{
			DSNEnv:  "THREATPULSE_DATABASE_URL",
			Migrate: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Cache: cache.DefaultConfig(),
		Auth: AuthConfig{
			ServiceKeyEnv: "INTERNAL_SERVICE_KEY",
			JWTSecretEnv:  "SERVICE_JWT_SECRET",
			JWTIssuer:     gateway.DefaultIssuer,
		},
		Push: PushConfig{
			URL:           push.DefaultConfig().URL,
			TokenEnv:      "NATS_TOKEN",
			Interval:      loop.Interval,
			Timeframes:    loop.Timeframes,
			SubjectPrefix: loop.SubjectPrefix,
		},
		Splunk: SplunkConfig{Sender: sender},
		Engine: EngineConfig{
			InternalMode:   string(risk.MatchPrefix),
			InternalPrefix: risk.DefaultInternalPrefix,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: observability.Config{
			ServiceName:    "threatpulse",
			Environment:    "development",
			SamplingRate:   0.1,
			MetricsEnabled: true,
		},
	}
}

func telemetryDefaults() OpenSearchConfig {
	return OpenSearchConfig{
		URL:          "https://localhost:9200",
		UsernameEnv:  "OPENSEARCH_USERNAME",
		PasswordEnv:  "OPENSEARCH_PASSWORD",
		Index:        "logs-*",
		PANWIndex:    ".ds-logs-panw.panos-default-*",
		FetchTimeout: 30 * time.Second,
		BucketSize:   500,
		HitSize:      500,
	}
}

// Validate rejects configurations the server cannot run with. All problems
// are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ErrInvalidPort)
	}
	if c.OpenSearch.URL == "" {
		errs = append(errs, ErrMissingSearchURL)
	}
	if c.OpenSearch.FetchTimeout <= 0 {
		errs = append(errs, ErrInvalidFetchTimeout)
	}

	switch risk.MatchMode(c.Engine.InternalMode) {
	case "", risk.MatchPrefix:
	case risk.MatchCIDR:
		if len(c.Engine.InternalNetworks) == 0 {
			errs = append(errs, ErrNoInternalNetworks)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidMatchMode, c.Engine.InternalMode))
	}

	if c.Push.Enabled {
		if c.Push.Interval < time.Second {
			errs = append(errs, ErrInvalidPushInterval)
		}
		for _, tf := range c.Push.Timeframes {
			if !telemetry.KnownTimeframe(tf) {
				errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownTimeframe, tf))
			}
		}
	}

	if c.Splunk.Enabled && c.Splunk.Sender.HECURL == "" {
		errs = append(errs, ErrMissingHECURL)
	}

	if r := c.Observability.SamplingRate; r < 0 || r > 1 {
		errs = append(errs, ErrInvalidSampling)
	}

	return errors.Join(errs...)
}

// InternalMatcher builds the engine's internal-address matcher.
func (c *Config) InternalMatcher() (risk.Matcher, error) {
	return risk.NewMatcher(risk.MatchMode(c.Engine.InternalMode), c.Engine.InternalPrefix, c.Engine.InternalNetworks)
}

// EnabledSinks returns the names of the enabled optional outputs.
func (c *Config) EnabledSinks() []string {
	var sinks []string
	if c.Push.Enabled {
		sinks = append(sinks, "nats")
	}
	if c.Postgres.Enabled {
		sinks = append(sinks, "postgres")
	}
	if c.Splunk.Enabled {
		sinks = append(sinks, "splunk")
	}
	return sinks
}
