package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the consensus service
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	DataSource DataSourceConfig `mapstructure:"datasource"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Consensus  ConsensusConfig  `mapstructure:"consensus"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Storage    StorageConfig    `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string        `mapstructure:"address"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// DataSourceConfig configures the financial data provider client.
type DataSourceConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerRecovery  time.Duration `mapstructure:"breaker_recovery"`
}

// Normalize applies defaults for unset data source values.
func (c DataSourceConfig) Normalize() DataSourceConfig {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080"
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerRecovery <= 0 {
		c.BreakerRecovery = 30 * time.Second
	}
	return c
}

// Validate checks the data source configuration.
func (c DataSourceConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("datasource.base_url must be an absolute URL, got %q", c.BaseURL)
	}
	if c.MaxRetries > 10 {
		return fmt.Errorf("datasource.max_retries must be <= 10")
	}
	return nil
}

// SnapshotConfig controls the per-user snapshot cache.
type SnapshotConfig struct {
	TTL     time.Duration `mapstructure:"ttl"`
	Sources []string      `mapstructure:"sources"`
	// RefreshTimeout bounds one shared fetch, independent of the callers waiting on it.
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
}

// Normalize applies defaults and removes blank or duplicate sources.
func (c SnapshotConfig) Normalize() SnapshotConfig {
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = 30 * time.Second
	}
	seen := make(map[string]struct{}, len(c.Sources))
	var out []string
	for _, s := range c.Sources {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	c.Sources = out
	return c
}

// DispatchConfig controls producer fan-out.
type DispatchConfig struct {
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	ProducerTimeout time.Duration `mapstructure:"producer_timeout"`
	SelectionFloor  float64       `mapstructure:"selection_floor"`
}

// Normalize applies defaults for unset dispatch values.
func (c DispatchConfig) Normalize() DispatchConfig {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	if c.ProducerTimeout <= 0 {
		c.ProducerTimeout = 30 * time.Second
	}
	if c.SelectionFloor < 0 {
		c.SelectionFloor = 0
	}
	return c
}

// ConsensusConfig tunes scoring, weighting and conflict handling.
type ConsensusConfig struct {
	QueryTimeout        time.Duration `mapstructure:"query_timeout"`
	ResultCacheTTL      time.Duration `mapstructure:"result_cache_ttl"`
	ConflictThreshold   float64       `mapstructure:"conflict_threshold"`
	MinRelevance        float64       `mapstructure:"min_relevance"`
	AlwaysRelevantFloor float64       `mapstructure:"always_relevant_floor"`
	SynthesisEnabled    bool          `mapstructure:"synthesis_enabled"`
}

// Normalize clamps ratios into [0,1] and fills durations.
func (c ConsensusConfig) Normalize() ConsensusConfig {
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 60 * time.Second
	}
	if c.ResultCacheTTL < 0 {
		c.ResultCacheTTL = 0
	}
	c.ConflictThreshold = clamp01(c.ConflictThreshold)
	c.MinRelevance = clamp01(c.MinRelevance)
	c.AlwaysRelevantFloor = clamp01(c.AlwaysRelevantFloor)
	return c
}

// Validate ensures consensus settings are usable.
func (c ConsensusConfig) Validate() error {
	if c.QueryTimeout < time.Second {
		return fmt.Errorf("consensus.query_timeout must be at least 1s")
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai or compatible
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig defines which model to use for each reasoning task
type LLMRoutingConfig struct {
	Weighting  string `mapstructure:"weighting"`
	Resolution string `mapstructure:"resolution"`
	Synthesis  string `mapstructure:"synthesis"`
	Analysis   string `mapstructure:"analysis"`
	Fallback   string `mapstructure:"fallback"`
}

// Model returns the routed model for a task, falling back to the fallback route.
func (r LLMRoutingConfig) Model(task string) string {
	var m string
	switch task {
	case "weighting":
		m = r.Weighting
	case "resolution":
		m = r.Resolution
	case "synthesis":
		m = r.Synthesis
	case "analysis":
		m = r.Analysis
	}
	if m == "" {
		m = r.Fallback
	}
	return m
}

// Enabled reports whether any provider is configured.
func (c LLMConfig) Enabled() bool {
	return len(c.Providers) > 0
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port cannot be negative")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Cache    string         `mapstructure:"cache"` // memory or redis
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// Validate checks the configured cache backend and its connection settings.
func (s StorageConfig) Validate() error {
	switch s.Cache {
	case "", "memory":
	case "redis":
		if err := s.Redis.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("storage.cache must be memory or redis, got %q", s.Cache)
	}
	if s.Postgres.Configured() {
		return s.Postgres.Validate()
	}
	return nil
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Configured reports whether result persistence was requested.
func (p PostgresConfig) Configured() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a connection string, preferring the explicit url.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.token_ttl", 24*time.Hour)
	v.SetDefault("datasource.base_url", "http://localhost:8080")
	v.SetDefault("datasource.call_timeout", 30*time.Second)
	v.SetDefault("datasource.max_retries", 3)
	v.SetDefault("datasource.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("datasource.cache_ttl", 5*time.Minute)
	v.SetDefault("datasource.breaker_threshold", 5)
	v.SetDefault("datasource.breaker_recovery", 30*time.Second)
	v.SetDefault("snapshot.ttl", time.Hour)
	v.SetDefault("snapshot.refresh_timeout", 30*time.Second)
	v.SetDefault("dispatch.max_concurrency", 8)
	v.SetDefault("dispatch.producer_timeout", 30*time.Second)
	v.SetDefault("dispatch.selection_floor", 0.0)
	v.SetDefault("consensus.query_timeout", 60*time.Second)
	v.SetDefault("consensus.result_cache_ttl", 5*time.Minute)
	v.SetDefault("consensus.conflict_threshold", 0.3)
	v.SetDefault("consensus.min_relevance", 0.2)
	v.SetDefault("consensus.always_relevant_floor", 0.7)
	v.SetDefault("consensus.synthesis_enabled", true)
	v.SetDefault("storage.cache", "memory")
	v.SetDefault("storage.redis.prefix", "artha:")
}

// Load reads configuration from path (or the default search paths when path
// is empty) layered with ARTHA_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("ARTHA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// running on defaults + env is fine when no explicit file was requested
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.DataSource = cfg.DataSource.Normalize()
	cfg.Snapshot = cfg.Snapshot.Normalize()
	cfg.Dispatch = cfg.Dispatch.Normalize()
	cfg.Consensus = cfg.Consensus.Normalize()

	if err := cfg.DataSource.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Consensus.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig loads config from file and panics on failure
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
