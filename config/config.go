// Package config loads the chat server configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backplane names accepted by CHAT_BACKPLANE.
const (
	BackplaneLocal    = "local"
	BackplaneEventBus = "eventbus"
	BackplaneRedis    = "redis"
)

// Config is the root configuration.
type Config struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	HTTP     HTTPConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Chat     ChatConfig
}

// HTTPConfig configures the Fiber server.
type HTTPConfig struct {
	Port          int           `env:"HTTP_PORT" envDefault:"3000"`
	PublicBaseURL string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:3000"`
	AllowOrigins  string        `env:"CORS_ALLOW_ORIGINS" envDefault:"http://localhost:3000"`
	ReadTimeout   time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout  time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout   time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	MaxUploadSize int           `env:"MAX_UPLOAD_SIZE" envDefault:"20971520"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path  string `env:"DB_PATH" envDefault:"realtime_chat.db"`
	Debug bool   `env:"DB_DEBUG" envDefault:"false"`
}

// JWTConfig configures token issuance.
type JWTConfig struct {
	SecretKey            string        `env:"JWT_SECRET_KEY"`
	Issuer               string        `env:"JWT_ISSUER" envDefault:"realtime-chat"`
	AccessTokenDuration  time.Duration `env:"JWT_ACCESS_TTL" envDefault:"1h"`
	RefreshTokenDuration time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`
}

// StorageConfig configures the embedded JetStream object store.
type StorageConfig struct {
	Dir      string `env:"STORAGE_PATH" envDefault:"/tmp/realtime-chat"`
	Bucket   string `env:"STORAGE_BUCKET" envDefault:"uploads"`
	MaxBytes int64  `env:"STORAGE_MAX_BYTES" envDefault:"1073741824"`
}

// RedisConfig configures the optional Redis connection. An empty Addr disables
// rate limiting and the redis backplane.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// ChatConfig configures the chat core.
type ChatConfig struct {
	RoomSecret       string        `env:"ROOM_KEY_SECRET"`
	Backplane        string        `env:"CHAT_BACKPLANE" envDefault:"eventbus"`
	BackplaneChannel string        `env:"CHAT_BACKPLANE_CHANNEL" envDefault:"realtime-chat:rooms"`
	FanoutQueueSize  int           `env:"FANOUT_QUEUE_SIZE" envDefault:"256"`
	SendTimeout      time.Duration `env:"FANOUT_SEND_TIMEOUT" envDefault:"5s"`
	RateLimit        int           `env:"MESSAGE_RATE_LIMIT" envDefault:"30"`
	RateWindow       time.Duration `env:"MESSAGE_RATE_WINDOW" envDefault:"10s"`
	AuthRateLimit    int           `env:"AUTH_RATE_LIMIT" envDefault:"20"`
	AuthRateWindow   time.Duration `env:"AUTH_RATE_WINDOW" envDefault:"1m"`
}

const devSecret = "dev-secret-change-in-production"

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.IsDevelopment() {
		if cfg.JWT.SecretKey == "" {
			cfg.JWT.SecretKey = devSecret
		}
		if cfg.Chat.RoomSecret == "" {
			cfg.Chat.RoomSecret = devSecret
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsDevelopment reports whether development defaults are allowed.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Validate checks invariants that env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.SecretKey == "" {
		errs = append(errs, errors.New("JWT_SECRET_KEY is required"))
	}
	if c.Chat.RoomSecret == "" {
		errs = append(errs, errors.New("ROOM_KEY_SECRET is required"))
	}
	if c.Chat.FanoutQueueSize <= 0 {
		errs = append(errs, errors.New("FANOUT_QUEUE_SIZE must be positive"))
	}
	if c.Chat.SendTimeout <= 0 {
		errs = append(errs, errors.New("FANOUT_SEND_TIMEOUT must be positive"))
	}
	if c.Chat.RateLimit <= 0 || c.Chat.RateWindow <= 0 {
		errs = append(errs, errors.New("MESSAGE_RATE_LIMIT and MESSAGE_RATE_WINDOW must be positive"))
	}
	switch c.Chat.Backplane {
	case BackplaneLocal, BackplaneEventBus:
	case BackplaneRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis backplane"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CHAT_BACKPLANE %q", c.Chat.Backplane))
	}
	return errors.Join(errs...)
}
