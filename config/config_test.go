package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HTTP.Port != 3000 {
		t.Errorf("HTTP.Port = %d, want 3000", cfg.HTTP.Port)
	}
	if cfg.Chat.Backplane != BackplaneEventBus {
		t.Errorf("Chat.Backplane = %q, want %q", cfg.Chat.Backplane, BackplaneEventBus)
	}
	if cfg.Chat.SendTimeout != 5*time.Second {
		t.Errorf("Chat.SendTimeout = %v, want 5s", cfg.Chat.SendTimeout)
	}
	if cfg.JWT.SecretKey == "" {
		t.Error("JWT.SecretKey should get a development default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET_KEY", "s3cret")
	t.Setenv("ROOM_KEY_SECRET", "r00m")
	t.Setenv("HTTP_PORT", "8080")
	t.Setenv("FANOUT_SEND_TIMEOUT", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("HTTP.Port = %d, want 8080", cfg.HTTP.Port)
	}
	if cfg.Chat.SendTimeout != 250*time.Millisecond {
		t.Errorf("Chat.SendTimeout = %v, want 250ms", cfg.Chat.SendTimeout)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Env: "production",
			JWT: JWTConfig{SecretKey: "k"},
			Chat: ChatConfig{
				RoomSecret:      "r",
				Backplane:       BackplaneLocal,
				FanoutQueueSize: 4,
				SendTimeout:     time.Second,
				RateLimit:       30,
				RateWindow:      10 * time.Second,
			},
		}
	}

	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing jwt secret", mutate: func(c *Config) { c.JWT.SecretKey = "" }, expectError: true},
		{name: "missing room secret", mutate: func(c *Config) { c.Chat.RoomSecret = "" }, expectError: true},
		{name: "zero fanout queue", mutate: func(c *Config) { c.Chat.FanoutQueueSize = 0 }, expectError: true},
		{name: "zero rate window", mutate: func(c *Config) { c.Chat.RateWindow = 0 }, expectError: true},
		{name: "unknown backplane", mutate: func(c *Config) { c.Chat.Backplane = "kafka" }, expectError: true},
		{name: "redis backplane without addr", mutate: func(c *Config) { c.Chat.Backplane = BackplaneRedis }, expectError: true},
		{
			name: "redis backplane with addr",
			mutate: func(c *Config) {
				c.Chat.Backplane = BackplaneRedis
				c.Redis.Addr = "localhost:6379"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.expectError && err == nil {
				t.Error("Validate() expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}
