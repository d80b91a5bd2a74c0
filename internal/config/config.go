package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration unmarshals YAML strings like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Pool     PoolConfig     `yaml:"pool"`
	Retry    RetryConfig    `yaml:"retry"`
	Health   HealthConfig   `yaml:"health"`
	Failover FailoverConfig `yaml:"failover"`
	Cache    CacheConfig    `yaml:"cache"`
	Alerts   AlertConfig    `yaml:"alerts"`
	History  HistoryConfig  `yaml:"history"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type ClusterConfig struct {
	ID string `yaml:"id"`

	// ControlPlane selects the management backend: "memory" or "rds".
	ControlPlane string    `yaml:"control_plane"`
	RDS          RDSConfig `yaml:"rds"`

	Primary EndpointConfig  `yaml:"primary"`
	Standby *EndpointConfig `yaml:"standby,omitempty"`

	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

type RDSConfig struct {
	Region string `yaml:"region"`
	Engine string `yaml:"engine"`
}

type EndpointConfig struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

type PoolConfig struct {
	MaxSize        int      `yaml:"max_size"`
	MinIdle        int      `yaml:"min_idle"`
	AcquireTimeout Duration `yaml:"acquire_timeout"`
}

type RetryConfig struct {
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	MaxAttempts int      `yaml:"max_attempts"`
}

type HealthConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	BadThreshold int      `yaml:"bad_threshold"`
	PollTimeout  Duration `yaml:"poll_timeout"`
}

type FailoverConfig struct {
	Auto             bool     `yaml:"auto"`
	FailoverDeadline Duration `yaml:"failover_deadline"`
	RestoreDeadline  Duration `yaml:"restore_deadline"`
	VerifyInterval   Duration `yaml:"verify_interval"`
}

type CacheConfig struct {
	// Backend selects the store: "memory" or "redis".
	Backend    string      `yaml:"backend"`
	Namespace  string      `yaml:"namespace"`
	DefaultTTL Duration    `yaml:"default_ttl"`
	Redis      RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AlertConfig struct {
	QueueSize  int      `yaml:"queue_size"`
	RateLimit  float64  `yaml:"rate_limit"`
	RateBurst  int      `yaml:"rate_burst"`
	WebhookURL string   `yaml:"webhook_url"`
	Secret     string   `yaml:"secret"`
	Timeout    Duration `yaml:"timeout"`
}

type HistoryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			LogLevel: "info",
		},
		Cluster: ClusterConfig{
			ControlPlane: "memory",
			Database:     "postgres",
			User:         "postgres",
			SSLMode:      "require",
		},
		Pool: PoolConfig{
			MaxSize:        16,
			MinIdle:        2,
			AcquireTimeout: Duration(5 * time.Second),
		},
		Retry: RetryConfig{
			BaseDelay:   Duration(100 * time.Millisecond),
			MaxDelay:    Duration(5 * time.Second),
			MaxAttempts: 4,
		},
		Health: HealthConfig{
			PollInterval: Duration(10 * time.Second),
			BadThreshold: 2,
			PollTimeout:  Duration(5 * time.Second),
		},
		Failover: FailoverConfig{
			Auto:             true,
			FailoverDeadline: Duration(5 * time.Minute),
			RestoreDeadline:  Duration(time.Hour),
			VerifyInterval:   Duration(5 * time.Second),
		},
		Cache: CacheConfig{
			Backend:    "memory",
			Namespace:  "rdsguard",
			DefaultTTL: Duration(30 * time.Second),
		},
		Alerts: AlertConfig{
			QueueSize: 256,
			RateLimit: 5,
			RateBurst: 10,
			Timeout:   Duration(10 * time.Second),
		},
	}
}

// Load reads a YAML config file over the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	LoadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.Cluster.ID == "" {
		return fmt.Errorf("cluster.id is required")
	}
	if c.Cluster.Primary.Address == "" {
		return fmt.Errorf("cluster.primary.address is required")
	}
	if c.Pool.MaxSize <= 0 {
		return fmt.Errorf("pool.max_size must be positive")
	}
	if c.Pool.MinIdle > c.Pool.MaxSize {
		return fmt.Errorf("pool.min_idle exceeds pool.max_size")
	}
	if c.Health.BadThreshold < 1 {
		return fmt.Errorf("health.bad_threshold must be at least 1")
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	switch c.Cluster.ControlPlane {
	case "memory", "rds":
	default:
		return fmt.Errorf("cluster.control_plane must be memory or rds, got %q", c.Cluster.ControlPlane)
	}
	return nil
}
