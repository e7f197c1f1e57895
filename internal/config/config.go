// Package config loads application configuration from config/config.yaml,
// .env and BIDDING_* environment variables
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "BIDDING"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Event     EventConfig     `mapstructure:"event"`
	Bidding   BiddingConfig   `mapstructure:"bidding"`
	Store     StoreConfig     `mapstructure:"store"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Session   SessionConfig   `mapstructure:"session"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Poll      PollConfig      `mapstructure:"poll"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type EventConfig struct {
	Timezone      string        `mapstructure:"timezone"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

type BiddingConfig struct {
	MinIncrement       int64 `mapstructure:"min_increment"`
	MaxConflictRetries int   `mapstructure:"max_conflict_retries"`
	RecentLimit        int   `mapstructure:"recent_limit"`
}

type StoreConfig struct {
	// Driver is memory or postgres
	Driver   string `mapstructure:"driver"`
	SeedFile string `mapstructure:"seed_file"`
	// DemoUsers is the number of userN/passwordN accounts seeded into the memory store
	DemoUsers int `mapstructure:"demo_users"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	Listen   bool   `mapstructure:"listen"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimitConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Capacity       int           `mapstructure:"capacity"`
	RefillTokens   int           `mapstructure:"refill_tokens"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
	TTL            time.Duration `mapstructure:"ttl"`
	KeyStrategy    string        `mapstructure:"key_strategy"`
	Prefix         string        `mapstructure:"prefix"`
}

type RabbitMQConfig struct {
	URL     string `mapstructure:"url"`
	Queue   string `mapstructure:"queue"`
	LogFile string `mapstructure:"log_file"`
}

type SessionConfig struct {
	Secret       string        `mapstructure:"secret"`
	TTL          time.Duration `mapstructure:"ttl"`
	SecureCookie bool          `mapstructure:"secure_cookie"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type PollConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Interval       time.Duration `mapstructure:"interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RecentLimit    int           `mapstructure:"recent_limit"`
}

// Load reads .env (if present), then the optional config file, then the
// environment. paths are searched for config.yaml; the default is ./config.
func Load(paths ...string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if len(paths) == 0 {
		paths = []string{"./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", envPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("bind PORT: %w", err)
	}

	return Parse(v)
}

// Parse decodes a populated viper instance and validates it
func Parse(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("config: database.url is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Bidding.MinIncrement <= 0 {
		return fmt.Errorf("config: bidding.min_increment must be positive")
	}
	if c.Store.DemoUsers < 0 {
		return fmt.Errorf("config: store.demo_users must not be negative")
	}
	if c.Session.Secret == "" {
		return fmt.Errorf("config: session.secret is required")
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Server.Port, ":")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_grace", 10*time.Second)

	v.SetDefault("log.level", "info")

	v.SetDefault("event.timezone", "Asia/Kolkata")
	v.SetDefault("event.check_interval", time.Second)

	v.SetDefault("bidding.min_increment", 1000)
	v.SetDefault("bidding.max_conflict_retries", 3)
	v.SetDefault("bidding.recent_limit", 20)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.seed_file", "seed/tables.yaml")
	v.SetDefault("store.demo_users", 40)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.listen", true)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "bidding.changes")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.capacity", 10)
	v.SetDefault("rate_limit.refill_tokens", 1)
	v.SetDefault("rate_limit.refill_interval", time.Second)
	v.SetDefault("rate_limit.ttl", 10*time.Minute)
	v.SetDefault("rate_limit.key_strategy", "ip_user")
	v.SetDefault("rate_limit.prefix", "rl")

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.queue", "bids.accepted")
	v.SetDefault("rabbitmq.log_file", "logs/bids.log")

	v.SetDefault("session.secret", "change-me-in-production")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.secure_cookie", false)

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("poll.base_url", "http://localhost:8080")
	v.SetDefault("poll.interval", time.Second)
	v.SetDefault("poll.request_timeout", 5*time.Second)
	v.SetDefault("poll.recent_limit", 20)
}
