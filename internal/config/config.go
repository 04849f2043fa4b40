package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	Environment string `toml:"environment"`
	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	SentryEnabled bool   `toml:"sentry_enabled"`
	// metrics
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`
	// postgres
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`
	PostgresUser   string `toml:"postgres_user"`
	// redis
	RedisHost string `toml:"redis_host"`
	RedisPort string `toml:"redis_port"`
	// sessions & accounts
	SessionStore       string     `toml:"session_store"`
	AccountStore       string     `toml:"account_store"`
	SessionLifetimeStr string     `toml:"session_lifetime"`
	StoreTimeoutStr    string     `toml:"store_timeout"`
	CleanupIntervalStr string     `toml:"cleanup_interval"`
	PasswordCost       int        `toml:"password_cost"`
	DevAdmins          []DevAdmin `toml:"dev_admins"`
	// http
	CorsAllowedOrigins []string `toml:"cors_allowed_origins"`

	SessionLifetime time.Duration `toml:"-"`
	StoreTimeout    time.Duration `toml:"-"`
	CleanupInterval time.Duration `toml:"-"`
}

// DevAdmin seeds the in-memory account store.
type DevAdmin struct {
	Username     string `toml:"username"`
	PasswordHash string `toml:"password_hash"`
	Inactive     bool   `toml:"inactive"`
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	switch strings.ToLower(env) {
	case "dev", "development":
		return t.Development, nil
	case "prod", "production":
		return t.Production, nil
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
}

// Load reads the TOML file at path and returns the config of the given env,
// with defaults applied and validated.
func Load(env, path string) (*Config, error) {
	var t Toml
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("decode config file [%s]: %w", path, err)
	}

	cfg, err := t.Get(env)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config for env [%s] missing", env)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 9000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.PrometheusMetricsHost == "" {
		c.PrometheusMetricsHost = "localhost"
	}
	if c.PrometheusMetricsPort == "" {
		c.PrometheusMetricsPort = "2112"
	}
	if c.PostgresPort == "" {
		c.PostgresPort = "5432"
	}
	if c.RedisPort == "" {
		c.RedisPort = "6379"
	}
	if c.SessionStore == "" {
		c.SessionStore = StoreRedis
	}
	if c.AccountStore == "" {
		c.AccountStore = StorePostgres
	}

	var err error
	if c.SessionLifetime, err = parseDuration("session_lifetime", c.SessionLifetimeStr, 24*time.Hour); err != nil {
		return err
	}
	if c.StoreTimeout, err = parseDuration("store_timeout", c.StoreTimeoutStr, 3*time.Second); err != nil {
		return err
	}
	if c.CleanupInterval, err = parseDuration("cleanup_interval", c.CleanupIntervalStr, time.Hour); err != nil {
		return err
	}

	return nil
}

func parseDuration(key, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func (c *Config) Validate() error {
	switch c.SessionStore {
	case StoreRedis, StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("unknown session_store: %s", c.SessionStore)
	}
	switch c.AccountStore {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("unknown account_store: %s", c.AccountStore)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.SessionLifetime <= 0 {
		return errors.New("session_lifetime must be positive")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("store_timeout must be positive")
	}
	if c.CleanupInterval <= 0 {
		return errors.New("cleanup_interval must be positive")
	}
	if c.PasswordCost != 0 && (c.PasswordCost < 4 || c.PasswordCost > 31) {
		return fmt.Errorf("password_cost out of range: %d", c.PasswordCost)
	}

	if c.NeedsPostgres() && c.PostgresHost == "" {
		return errors.New("postgres_host not set")
	}
	if c.SessionStore == StoreRedis && c.RedisHost == "" {
		return errors.New("redis_host not set")
	}
	if c.AccountStore == StoreMemory && len(c.DevAdmins) == 0 {
		return errors.New("account_store is memory but no dev_admins configured")
	}
	for _, admin := range c.DevAdmins {
		if admin.Username == "" || admin.PasswordHash == "" {
			return errors.New("dev admin username or password hash empty")
		}
	}

	return nil
}

func (c *Config) NeedsPostgres() bool {
	return c.SessionStore == StorePostgres || c.AccountStore == StorePostgres
}
