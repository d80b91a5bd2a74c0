package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv applies RDSGUARD_* environment overrides on top of an
// already populated config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("RDSGUARD_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("RDSGUARD_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}

	if v := os.Getenv("RDSGUARD_CLUSTER_ID"); v != "" {
		cfg.Cluster.ID = v
	}
	if v := os.Getenv("RDSGUARD_PRIMARY_ADDR"); v != "" {
		cfg.Cluster.Primary.Address = v
	}
	if v := os.Getenv("RDSGUARD_DB_USER"); v != "" {
		cfg.Cluster.User = v
	}
	if v := os.Getenv("RDSGUARD_DB_PASSWORD"); v != "" {
		cfg.Cluster.Password = v
	}

	if v := os.Getenv("RDSGUARD_POOL_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxSize = n
		}
	}
	if v := os.Getenv("RDSGUARD_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Health.PollInterval = Duration(d)
		}
	}

	if v := os.Getenv("RDSGUARD_REDIS_ADDR"); v != "" {
		cfg.Cache.Backend = "redis"
		cfg.Cache.Redis.Addr = v
	}
	if v := os.Getenv("RDSGUARD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.WebhookURL = v
	}
	if v := os.Getenv("RDSGUARD_WEBHOOK_SECRET"); v != "" {
		cfg.Alerts.Secret = v
	}
	if v := os.Getenv("RDSGUARD_HISTORY_HOST"); v != "" {
		cfg.History.Enabled = true
		cfg.History.Host = v
	}
}

// GetEnvOrDefault returns the environment variable or a fallback.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
