package chat

import (
	"context"
	"fmt"

	"github.com/example/realtime-chat/config"
	"github.com/example/realtime-chat/modules/auth"
	"github.com/example/realtime-chat/modules/broadcast"
	"github.com/example/realtime-chat/modules/files"
	"github.com/example/realtime-chat/modules/ratelimit"
	"github.com/example/realtime-chat/modules/store"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
)

// Module hosts the chat core.
type Module struct {
	cfg       config.ChatConfig
	store     *store.Module
	broadcast *broadcast.Module
	files     *files.Module
	limiter   *ratelimit.Module
	auth      Authenticator
	service   *Service
	logger    types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.DependentModule       = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates the chat module. The store, broadcast, files and rate
// limiter modules are wired directly; auth is reached through its service
// container.
func NewModule(
	cfg config.ChatConfig,
	storeModule *store.Module,
	broadcastModule *broadcast.Module,
	filesModule *files.Module,
	limiterModule *ratelimit.Module,
	logger types.Logger,
) *Module {
	return &Module{
		cfg:       cfg,
		store:     storeModule,
		broadcast: broadcastModule,
		files:     filesModule,
		limiter:   limiterModule,
		logger:    logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "chat"
}

// Dependencies returns the modules that must start first.
func (m *Module) Dependencies() []string {
	return []string{"store", "auth", "broadcast", "files", "rate-limiter"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	if dependency == "auth" {
		m.auth = auth.NewAuthAdapter(container)
	}
}

// Start builds the chat service.
func (m *Module) Start(_ context.Context) error {
	if m.store == nil || m.store.Repository() == nil {
		return fmt.Errorf("store dependency not started")
	}
	if m.auth == nil {
		return fmt.Errorf("auth dependency not set")
	}
	if m.broadcast == nil {
		return fmt.Errorf("broadcast dependency not set")
	}
	if m.files == nil || m.files.Service() == nil {
		return fmt.Errorf("files dependency not started")
	}

	var limiter Limiter
	if m.limiter != nil {
		limiter = m.limiter.MessageLimiter()
	}
	m.service = NewService(
		m.store.Repository(),
		m.auth,
		m.broadcast.Registry(),
		m.broadcast.Publisher(),
		m.files.Service(),
		limiter,
		m.cfg.RoomSecret,
		m.logger,
	)

	m.logger.Info("Chat module started", "backplane", m.cfg.Backplane)
	return nil
}

// Stop shuts down the module. Live connections are closed by the broadcast
// module.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("Chat module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.service == nil {
		return mono.HealthStatus{Healthy: false, Message: "not started"}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"active_sessions": m.service.Sessions().ActiveCount(),
		},
	}
}

// Service returns the chat service; nil before Start.
func (m *Module) Service() *Service {
	return m.service
}
