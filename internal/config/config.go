package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig shared PostgreSQL instance settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// DSNForSchema returns a DSN whose search_path is pinned to one tenant schema.
// Used by the pool manager so every connection in a tenant pool is scoped.
func (c *DatabaseConfig) DSNForSchema(schemaName string) string {
	return c.DSN() + fmt.Sprintf(" search_path=%s", schemaName)
}

// PoolConfig tenant connection pool settings.
type PoolConfig struct {
	PerTenantMax   int           // max open connections per tenant pool
	GlobalMax      int           // ceiling on the sum of all pool caps
	IdleTTL        time.Duration // pools idle longer than this are swept
	AcquireTimeout time.Duration // default wait for a free connection
	SweepInterval  time.Duration
}

// ProvisioningConfig orchestrator settings.
type ProvisioningConfig struct {
	MaxSubdomainRetries int
	DriftCheckInterval  time.Duration // 0 disables the drift detector
	WebhookEnabled      bool
	WebhookURL          string
}

// Config deskwise-control (tenant control plane) configuration.
type Config struct {
	HTTP struct {
		Addr string
	}
	Database DatabaseConfig
	Redis    struct {
		Addr     string
		Password string
		DB       int
	}
	Log struct {
		Level  string
		Format string
	}
	Pool         PoolConfig
	Provisioning ProvisioningConfig
}

func Load() *Config {
	cfg := &Config{}
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "deskwise")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	cfg.Pool.PerTenantMax = parseInt(getEnv("POOL_PER_TENANT_MAX", "5"), 5)
	cfg.Pool.GlobalMax = parseInt(getEnv("POOL_GLOBAL_MAX", "100"), 100)
	cfg.Pool.IdleTTL = parseDuration(getEnv("POOL_IDLE_TTL", "10m"), 10*time.Minute)
	cfg.Pool.AcquireTimeout = parseDuration(getEnv("POOL_ACQUIRE_TIMEOUT", "5s"), 5*time.Second)
	cfg.Pool.SweepInterval = parseDuration(getEnv("POOL_SWEEP_INTERVAL", "1m"), time.Minute)

	cfg.Provisioning.MaxSubdomainRetries = parseInt(getEnv("SUBDOMAIN_MAX_RETRIES", "5"), 5)
	cfg.Provisioning.DriftCheckInterval = parseDuration(getEnv("DRIFT_CHECK_INTERVAL", "0"), 0)
	cfg.Provisioning.WebhookEnabled = getEnv("PROVISION_WEBHOOK_ENABLED", "false") == "true"
	cfg.Provisioning.WebhookURL = getEnv("PROVISION_WEBHOOK_URL", "")

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" || s == "0" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
