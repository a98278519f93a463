package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/marketing-kpi/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Fetch    FetchConfig    `yaml:"fetch" mapstructure:"fetch"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// CacheConfig configures the in-memory result cache.
type CacheConfig struct {
	TTLSecs    int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`
}

// TTL returns the entry time-to-live as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// PipelineConfig configures ingestion and aggregation.
type PipelineConfig struct {
	MaxRows        int    `yaml:"max_rows" mapstructure:"max_rows"`
	TopN           int    `yaml:"top_n" mapstructure:"top_n"`
	PhaseTablePath string `yaml:"phase_table_path" mapstructure:"phase_table_path"`
	// Sheets restricts workbook loading to these tab names. Empty loads all.
	Sheets []string `yaml:"sheets" mapstructure:"sheets"`
}

// StoreConfig configures the persistent cache backing and run history.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Persistent reports whether a database backs the cache.
func (s StoreConfig) Persistent() bool {
	return s.Driver != "" && s.Driver != store.DriverMemory
}

// FetchConfig configures downloads of URL sources.
type FetchConfig struct {
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	HostRate    float64 `yaml:"host_rate" mapstructure:"host_rate"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	RateLimit   float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst   int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxBodyMB   int      `yaml:"max_body_mb" mapstructure:"max_body_mb"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("KPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("cache.ttl_secs", 300)
	v.SetDefault("cache.max_entries", 32)
	v.SetDefault("pipeline.max_rows", 50000)
	v.SetDefault("pipeline.top_n", 20)
	v.SetDefault("pipeline.phase_table_path", "")
	v.SetDefault("pipeline.sheets", []string{})
	v.SetDefault("store.driver", store.DriverMemory)
	v.SetDefault("store.database_url", "")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.host_rate", 5)
	v.SetDefault("fetch.user_agent", "marketing-kpi/1.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 10)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_body_mb", 32)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Every problem is
// reported, not just the first.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "kpi", "serve", "cache", "runs":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case store.DriverMemory, store.DriverSQLite, store.DriverPostgres:
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, sqlite, postgres", c.Store.Driver))
	}
	if c.Store.Persistent() && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for driver "+c.Store.Driver)
	}
	if (mode == "cache" || mode == "runs") && !c.Store.Persistent() {
		errs = append(errs, "store.driver must be sqlite or postgres to manage persisted entries")
	}

	if c.Cache.TTLSecs <= 0 {
		errs = append(errs, "cache.ttl_secs must be > 0")
	}
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, "cache.max_entries must be > 0")
	}
	if c.Pipeline.MaxRows <= 0 {
		errs = append(errs, "pipeline.max_rows must be > 0")
	}
	if c.Pipeline.TopN <= 0 {
		errs = append(errs, "pipeline.top_n must be > 0")
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.RateLimit <= 0 {
			errs = append(errs, "server.rate_limit must be > 0")
		}
		if c.Server.RateBurst <= 0 {
			errs = append(errs, "server.rate_burst must be > 0")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
