// Package config loads sitepulse settings from defaults, environment
// variables and an optional YAML file named by CONFIG_FILE.
package config

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/djlord-it/sitepulse/internal/activity"
	"github.com/djlord-it/sitepulse/internal/domain"
	"github.com/djlord-it/sitepulse/internal/timing"
)

// Config holds all configuration for sitepulse.
type Config struct {
	ConfigFile string `json:"config_file,omitempty"`

	// StoreDriver: "postgres", "sqlite" or "memory".
	StoreDriver string `json:"store_driver"`
	DatabaseURL string `json:"database_url"`
	SQLitePath  string `json:"sqlite_path,omitempty"`

	// Directory: "file" (SITES_FILE) or "postgres".
	Directory string `json:"directory"`
	SitesFile string `json:"sites_file,omitempty"`

	RedisAddr          string        `json:"redis_addr,omitempty"`
	AnalyticsRetention time.Duration `json:"-"`

	HTTPAddr            string        `json:"http_addr"`
	HTTPShutdownTimeout time.Duration `json:"-"`

	TickInterval     time.Duration `json:"-"`
	SchedulerWorkers int           `json:"scheduler_workers"`
	ReportBufferSize int           `json:"report_buffer_size"`

	DBOpTimeout       time.Duration `json:"-"`
	DBMaxOpenConns    int           `json:"db_max_open_conns"`
	DBMaxIdleConns    int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime time.Duration `json:"-"`
	DBConnMaxIdleTime time.Duration `json:"-"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	// MetricsPort serves metrics on a separate listener; 0 uses HTTPAddr.
	MetricsPort int `json:"metrics_port"`

	SweepEnabled   bool          `json:"sweep_enabled"`
	SweepInterval  time.Duration `json:"-"`
	SweepBatchSize int           `json:"sweep_batch_size"`

	// DispatchMode: "webhook" or "log" (dry run).
	DispatchMode    string        `json:"dispatch_mode"`
	DispatchURL     string        `json:"dispatch_url,omitempty"`
	DispatchSecret  string        `json:"dispatch_secret,omitempty"`
	DispatchTimeout time.Duration `json:"-"`

	// DispatchRate is dispatches per second across the process; 0 is unlimited.
	DispatchRate  float64 `json:"dispatch_rate"`
	DispatchBurst int     `json:"dispatch_burst"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown  time.Duration `json:"-"`

	// LeaderElection requires the postgres store. All instances sharing the
	// database must use the same LeaderLockKey.
	LeaderElection          bool          `json:"leader_election"`
	LeaderLockKey           int64         `json:"leader_lock_key"`
	LeaderRetryInterval     time.Duration `json:"-"`
	LeaderHeartbeatInterval time.Duration `json:"-"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	FallbackStart   string   `json:"fallback_start"`
	FallbackEnd     string   `json:"fallback_end"`
	FallbackWeekend []string `json:"fallback_weekend"`

	// SkipClosedDays skips sites whose configured hours leave today closed
	// instead of applying the fallback window.
	SkipClosedDays bool `json:"skip_closed_days"`

	// Activities overrides the built-in policy table when non-empty.
	Activities []activity.Policy `json:"activities,omitempty"`

	// loadErrs carries values that could not be parsed; Validate reports them.
	loadErrs ValidationErrors
}

var durationKeys = map[string]func(*Config) *time.Duration{
	"TICK_INTERVAL":             func(c *Config) *time.Duration { return &c.TickInterval },
	"DB_OP_TIMEOUT":             func(c *Config) *time.Duration { return &c.DBOpTimeout },
	"DB_CONN_MAX_LIFETIME":      func(c *Config) *time.Duration { return &c.DBConnMaxLifetime },
	"DB_CONN_MAX_IDLE_TIME":     func(c *Config) *time.Duration { return &c.DBConnMaxIdleTime },
	"HTTP_SHUTDOWN_TIMEOUT":     func(c *Config) *time.Duration { return &c.HTTPShutdownTimeout },
	"SWEEP_INTERVAL":            func(c *Config) *time.Duration { return &c.SweepInterval },
	"DISPATCH_TIMEOUT":          func(c *Config) *time.Duration { return &c.DispatchTimeout },
	"CIRCUIT_BREAKER_COOLDOWN":  func(c *Config) *time.Duration { return &c.CircuitBreakerCooldown },
	"LEADER_RETRY_INTERVAL":     func(c *Config) *time.Duration { return &c.LeaderRetryInterval },
	"LEADER_HEARTBEAT_INTERVAL": func(c *Config) *time.Duration { return &c.LeaderHeartbeatInterval },
	"ANALYTICS_RETENTION":       func(c *Config) *time.Duration { return &c.AnalyticsRetention },
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SQLITE_PATH", "sitepulse.db")
	v.SetDefault("DIRECTORY", "file")
	v.SetDefault("SITES_FILE", "sites.yaml")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("ANALYTICS_RETENTION", "336h")
	v.SetDefault("HTTP_SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("TICK_INTERVAL", "1m")
	v.SetDefault("SCHEDULER_WORKERS", 8)
	v.SetDefault("REPORT_BUFFER_SIZE", 100)
	v.SetDefault("DB_OP_TIMEOUT", "5s")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", "5m")
	v.SetDefault("METRICS_ENABLED", false)
	v.SetDefault("METRICS_PATH", "/metrics")
	v.SetDefault("METRICS_PORT", 0)
	v.SetDefault("SWEEP_ENABLED", true)
	v.SetDefault("SWEEP_INTERVAL", "10m")
	v.SetDefault("SWEEP_BATCH_SIZE", 100)
	v.SetDefault("DISPATCH_MODE", "log")
	v.SetDefault("DISPATCH_URL", "")
	v.SetDefault("DISPATCH_SECRET", "")
	v.SetDefault("DISPATCH_TIMEOUT", "10s")
	v.SetDefault("DISPATCH_RATE", 0.0)
	v.SetDefault("DISPATCH_BURST", 10)
	v.SetDefault("CIRCUIT_BREAKER_THRESHOLD", 5)
	v.SetDefault("CIRCUIT_BREAKER_COOLDOWN", "2m")
	v.SetDefault("LEADER_ELECTION", false)
	v.SetDefault("LEADER_LOCK_KEY", 728380)
	v.SetDefault("LEADER_RETRY_INTERVAL", "5s")
	v.SetDefault("LEADER_HEARTBEAT_INTERVAL", "2s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("FALLBACK_START", "08:00")
	v.SetDefault("FALLBACK_END", "16:00")
	v.SetDefault("FALLBACK_WEEKEND", "sat,sun")
	v.SetDefault("SKIP_CLOSED_DAYS", false)
}

// NewViper returns a viper instance with defaults and environment binding.
// Keys are the bare environment variable names.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	_ = v.BindEnv("CONFIG_FILE")
	_ = v.BindEnv("HTTP_ADDR")
	// PORT is honoured as a fallback for HTTP_ADDR on platforms that set it.
	_ = v.BindEnv("PORT")
	return v
}

// Load reads configuration from the environment and CONFIG_FILE.
func Load() (Config, error) {
	return LoadWith(NewViper())
}

// LoadWith reads configuration from v. Malformed values do not fail the
// load; they are reported by Validate.
func LoadWith(v *viper.Viper) (Config, error) {
	cfg := Config{ConfigFile: v.GetString("CONFIG_FILE")}
	if cfg.ConfigFile != "" {
		v.SetConfigFile(cfg.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.WithHint(
				errors.Wrapf(err, "read config file %s", cfg.ConfigFile),
				"CONFIG_FILE must point to a readable YAML file",
			)
		}
	}

	cfg.StoreDriver = v.GetString("STORE_DRIVER")
	cfg.DatabaseURL = v.GetString("DATABASE_URL")
	cfg.SQLitePath = v.GetString("SQLITE_PATH")
	cfg.Directory = v.GetString("DIRECTORY")
	cfg.SitesFile = v.GetString("SITES_FILE")
	cfg.RedisAddr = v.GetString("REDIS_ADDR")
	cfg.HTTPAddr = v.GetString("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
		if port := v.GetString("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		}
	}
	cfg.SchedulerWorkers = v.GetInt("SCHEDULER_WORKERS")
	cfg.ReportBufferSize = v.GetInt("REPORT_BUFFER_SIZE")
	cfg.DBMaxOpenConns = v.GetInt("DB_MAX_OPEN_CONNS")
	cfg.DBMaxIdleConns = v.GetInt("DB_MAX_IDLE_CONNS")
	cfg.MetricsEnabled = v.GetBool("METRICS_ENABLED")
	cfg.MetricsPath = v.GetString("METRICS_PATH")
	cfg.MetricsPort = v.GetInt("METRICS_PORT")
	cfg.SweepEnabled = v.GetBool("SWEEP_ENABLED")
	cfg.SweepBatchSize = v.GetInt("SWEEP_BATCH_SIZE")
	cfg.DispatchMode = v.GetString("DISPATCH_MODE")
	cfg.DispatchURL = v.GetString("DISPATCH_URL")
	cfg.DispatchSecret = v.GetString("DISPATCH_SECRET")
	cfg.DispatchRate = v.GetFloat64("DISPATCH_RATE")
	cfg.DispatchBurst = v.GetInt("DISPATCH_BURST")
	cfg.CircuitBreakerThreshold = v.GetInt("CIRCUIT_BREAKER_THRESHOLD")
	cfg.LeaderElection = v.GetBool("LEADER_ELECTION")
	cfg.LeaderLockKey = v.GetInt64("LEADER_LOCK_KEY")
	cfg.LogLevel = v.GetString("LOG_LEVEL")
	cfg.LogFormat = v.GetString("LOG_FORMAT")
	cfg.FallbackStart = v.GetString("FALLBACK_START")
	cfg.FallbackEnd = v.GetString("FALLBACK_END")
	cfg.FallbackWeekend = stringList(v, "FALLBACK_WEEKEND")
	cfg.SkipClosedDays = v.GetBool("SKIP_CLOSED_DAYS")

	for key, field := range durationKeys {
		raw := v.GetString(key)
		d, err := time.ParseDuration(raw)
		if err != nil {
			cfg.loadErrs = append(cfg.loadErrs, ValidationError{Field: key, Message: "invalid duration: " + err.Error()})
			continue
		}
		*field(&cfg) = d
	}
	sort.Slice(cfg.loadErrs, func(i, j int) bool { return cfg.loadErrs[i].Field < cfg.loadErrs[j].Field })

	if v.IsSet("activities") {
		if err := v.UnmarshalKey("activities", &cfg.Activities); err != nil {
			cfg.loadErrs = append(cfg.loadErrs, ValidationError{Field: "activities", Message: err.Error()})
		}
	}

	return cfg, nil
}

// Policies returns the configured activity table, or the built-in one.
func (c Config) Policies() []activity.Policy {
	if len(c.Activities) > 0 {
		return c.Activities
	}
	return activity.DefaultPolicies()
}

// Fallback builds the decision engine's fallback policy.
func (c Config) Fallback() (timing.FallbackPolicy, error) {
	start, err := domain.ParseTimeOfDay(c.FallbackStart)
	if err != nil {
		return timing.FallbackPolicy{}, errors.Wrap(err, "FALLBACK_START")
	}
	end, err := domain.ParseTimeOfDay(c.FallbackEnd)
	if err != nil {
		return timing.FallbackPolicy{}, errors.Wrap(err, "FALLBACK_END")
	}

	p := timing.FallbackPolicy{Start: start, End: end, SkipClosedDays: c.SkipClosedDays}
	for _, name := range c.FallbackWeekend {
		d, err := domain.ParseWeekday(name)
		if err != nil {
			return timing.FallbackPolicy{}, errors.Wrap(err, "FALLBACK_WEEKEND")
		}
		p.Weekend = append(p.Weekend, d)
	}
	return p, nil
}

// stringList accepts a YAML sequence or a comma separated string.
func stringList(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// MaskedJSON returns the configuration as JSON with secrets masked.
// Durations are rendered as Go duration strings.
func (c Config) MaskedJSON() ([]byte, error) {
	type durations struct {
		TickInterval            string `json:"tick_interval"`
		DBOpTimeout             string `json:"db_op_timeout"`
		DBConnMaxLifetime       string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime       string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		SweepInterval           string `json:"sweep_interval"`
		DispatchTimeout         string `json:"dispatch_timeout"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
		AnalyticsRetention      string `json:"analytics_retention"`
	}

	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	masked.DispatchSecret = maskSecret(c.DispatchSecret)
	masked.Activities = nil

	policies := make([]string, 0, len(c.Policies()))
	for _, p := range c.Policies() {
		policies = append(policies, p.Key)
	}

	return json.MarshalIndent(struct {
		Config
		durations
		Activities []string `json:"activities"`
	}{
		Config: masked,
		durations: durations{
			TickInterval:            c.TickInterval.String(),
			DBOpTimeout:             c.DBOpTimeout.String(),
			DBConnMaxLifetime:       c.DBConnMaxLifetime.String(),
			DBConnMaxIdleTime:       c.DBConnMaxIdleTime.String(),
			HTTPShutdownTimeout:     c.HTTPShutdownTimeout.String(),
			SweepInterval:           c.SweepInterval.String(),
			DispatchTimeout:         c.DispatchTimeout.String(),
			CircuitBreakerCooldown:  c.CircuitBreakerCooldown.String(),
			LeaderRetryInterval:     c.LeaderRetryInterval.String(),
			LeaderHeartbeatInterval: c.LeaderHeartbeatInterval.String(),
			AnalyticsRetention:      c.AnalyticsRetention.String(),
		},
		Activities: policies,
	}, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
