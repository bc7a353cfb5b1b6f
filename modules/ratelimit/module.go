package ratelimit

import (
	"context"
	"fmt"

	"github.com/example/realtime-chat/config"
	domain "github.com/example/realtime-chat/domain/chat"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the prefix for every rate limit key in Redis.
const KeyPrefix = "realtime-chat:ratelimit:"

// Module owns the Redis client. Without REDIS_ADDR every check passes.
type Module struct {
	addr     string
	client   *redis.Client
	messages *SlidingWindowLimiter
	auth     *SlidingWindowLimiter
	logger   types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates the module. The client is created eagerly so the
// broadcast module can share it before Start.
func NewModule(redisCfg config.RedisConfig, chatCfg config.ChatConfig, logger types.Logger) *Module {
	m := &Module{addr: redisCfg.Addr, logger: logger}
	if redisCfg.Addr == "" {
		return m
	}
	m.client = redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	m.messages = NewSlidingWindowLimiter(m.client, Config{
		RequestsPerWindow: chatCfg.RateLimit,
		WindowSize:        chatCfg.RateWindow,
	}, KeyPrefix+"message:")
	m.auth = NewSlidingWindowLimiter(m.client, Config{
		RequestsPerWindow: chatCfg.AuthRateLimit,
		WindowSize:        chatCfg.AuthRateWindow,
	}, KeyPrefix+"auth:")
	return m
}

// Name returns the module name.
func (m *Module) Name() string {
	return "rate-limiter"
}

// Start verifies the Redis connection.
func (m *Module) Start(ctx context.Context) error {
	if m.client == nil {
		m.logger.Info("Rate limiting disabled", "reason", "REDIS_ADDR not set")
		return nil
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	m.logger.Info("Connected to Redis", "addr", m.addr)
	return nil
}

// Stop closes the Redis connection.
func (m *Module) Stop(_ context.Context) error {
	if m.client != nil {
		if err := m.client.Close(); err != nil {
			m.logger.Warn("Error closing Redis connection", "error", err)
		}
	}
	m.logger.Info("Rate limiter stopped")
	return nil
}

// Health pings Redis when it is configured.
func (m *Module) Health(ctx context.Context) mono.HealthStatus {
	if m.client == nil {
		return mono.HealthStatus{Healthy: true, Message: "disabled"}
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("redis ping failed: %v", err)}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{"addr": m.addr},
	}
}

// Client returns the shared Redis client, or nil when Redis is not configured.
func (m *Module) Client() *redis.Client {
	return m.client
}

// MessageLimiter returns the per-user message limiter.
func (m *Module) MessageLimiter() *MessageLimiter {
	return &MessageLimiter{limiter: m.messages, logger: m.logger}
}

// Middleware returns the per-IP limiter for auth endpoints.
func (m *Module) Middleware() *Middleware {
	return &Middleware{limiter: m.auth, logger: m.logger}
}

// MessageLimiter caps how often one user may submit messages.
type MessageLimiter struct {
	limiter *SlidingWindowLimiter
	logger  types.Logger
}

// Allow returns a RateLimited error once userID exhausts its window. Redis
// failures let the message through.
func (l *MessageLimiter) Allow(ctx context.Context, userID string) error {
	if l.limiter == nil {
		return nil
	}
	res, err := l.limiter.Allow(ctx, userID)
	if err != nil {
		l.logger.Warn("Rate limit check failed, allowing", "userID", userID, "error", err)
		return nil
	}
	if !res.Allowed {
		return domain.E(domain.KindRateLimited, "send message",
			fmt.Sprintf("Too many messages. Retry in %.0f seconds.", retrySeconds(res)))
	}
	return nil
}

func retrySeconds(res *Result) float64 {
	s := res.RetryAfter.Seconds()
	if s < 1 {
		return 1
	}
	return s
}
