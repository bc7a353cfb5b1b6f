package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/example/realtime-chat/events"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
)

// Backplane kinds.
const (
	BackplaneLocal    = "local"
	BackplaneEventBus = "eventbus"
	BackplaneRedis    = "redis"
)

// Options configures the broadcast module.
type Options struct {
	Backplane   string
	Channel     string
	// QueueSize is how many events may wait for one connection.
	QueueSize   int
	SendTimeout time.Duration
	// Redis is required for the redis backplane.
	Redis *redis.Client
}

// Module owns the connection registry and the fan-out path.
type Module struct {
	opts      Options
	registry  *Registry
	fanout    *Fanout
	eventBus  *EventBusBackplane
	redis     *RedisBackplane
	cancelSub context.CancelFunc
	logger    types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.EventConsumerModule   = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates the broadcast module. The registry and fan-out exist from
// construction so other modules can be wired to them before Start.
func NewModule(opts Options, logger types.Logger) *Module {
	registry := NewRegistry()
	fanout := NewFanout(registry, opts.QueueSize, opts.SendTimeout, logger)
	m := &Module{
		opts:     opts,
		registry: registry,
		fanout:   fanout,
		eventBus: &EventBusBackplane{},
		logger:   logger,
	}
	if opts.Backplane == BackplaneRedis && opts.Redis != nil {
		m.redis = NewRedisBackplane(opts.Redis, opts.Channel, fanout, logger)
	}
	return m
}

// Name returns the module name.
func (m *Module) Name() string {
	return "broadcast"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus.bus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.RoomBroadcastV1.ToBase(),
	}
}

// RegisterEventConsumers subscribes the local fan-out to room broadcasts.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomBroadcastV1, m.handleRoomBroadcast, m,
	); err != nil {
		return fmt.Errorf("failed to register RoomBroadcast consumer: %w", err)
	}
	m.logger.Info("Registered event consumers", "events", "RoomBroadcast")
	return nil
}

func (m *Module) handleRoomBroadcast(_ context.Context, env events.RoomBroadcastEvent, _ *mono.Msg) error {
	// Only enqueues: the bus hands messages over one at a time.
	d := m.fanout.Publish(env.RoomID, decodeEnvelope(env))
	m.logger.Debug("Queued room broadcast",
		"roomID", env.RoomID,
		"event", env.Type,
		"recipients", d.Recipients,
		"dropped", d.Dropped)
	return nil
}

// Start begins the redis subscription when that backplane is selected.
func (m *Module) Start(ctx context.Context) error {
	if m.opts.Backplane == BackplaneRedis {
		if m.redis == nil {
			return fmt.Errorf("redis backplane selected without a redis client")
		}
		sub, err := m.redis.Subscribe(ctx)
		if err != nil {
			return err
		}
		runCtx, cancel := context.WithCancel(context.Background())
		m.cancelSub = cancel
		go m.redis.Run(runCtx, sub)
	}
	m.logger.Info("Broadcast module started", "backplane", m.opts.Backplane)
	return nil
}

// Stop gives queued events one send timeout to go out, then closes every
// live connection.
func (m *Module) Stop(ctx context.Context) error {
	if m.cancelSub != nil {
		m.cancelSub()
	}
	drainCtx, cancel := context.WithTimeout(ctx, m.opts.SendTimeout)
	defer cancel()
	if err := m.fanout.Drain(drainCtx); err != nil {
		m.logger.Warn("Stopping with undelivered events", "connections", m.fanout.Backlog())
	}
	closed := m.registry.CloseAll()
	m.logger.Info("Broadcast module stopped", "closedConnections", closed)
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"backplane":         m.opts.Backplane,
			"connected_clients": m.registry.ConnectionCount(),
			"active_groups":     m.registry.GroupCount(),
			"send_backlog":      m.fanout.Backlog(),
		},
	}
}

// Registry returns the connection registry.
func (m *Module) Registry() *Registry {
	return m.registry
}

// Fanout returns the local fan-out.
func (m *Module) Fanout() *Fanout {
	return m.fanout
}

// Publisher returns the configured backplane.
func (m *Module) Publisher() Publisher {
	switch m.opts.Backplane {
	case BackplaneRedis:
		if m.redis != nil {
			return m.redis
		}
	case BackplaneEventBus:
		return m.eventBus
	}
	return m.fanout
}
