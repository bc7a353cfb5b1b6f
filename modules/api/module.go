// Package api is the HTTP and websocket transport: the REST routes, the
// object download route and the chat websocket endpoint.
package api

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/example/realtime-chat/config"
	"github.com/example/realtime-chat/modules/auth"
	"github.com/example/realtime-chat/modules/chat"
	"github.com/example/realtime-chat/modules/files"
	"github.com/example/realtime-chat/modules/ratelimit"
	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// multipart framing on top of the largest accepted upload
const bodySlack = 1 << 20

// APIModule is the HTTP API module.
type APIModule struct {
	cfg          config.HTTPConfig
	writeTimeout time.Duration
	app          *fiber.App
	authAdapter  auth.AuthPort
	chat         *chat.Module
	files        *files.Module
	limiter      *ratelimit.Module
	health       map[string]HealthReporter
	logger       types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*APIModule)(nil)
	_ mono.DependentModule       = (*APIModule)(nil)
	_ mono.HealthCheckableModule = (*APIModule)(nil)
)

// NewModule creates a new APIModule. writeTimeout bounds websocket writes.
func NewModule(
	cfg config.HTTPConfig,
	writeTimeout time.Duration,
	chatModule *chat.Module,
	filesModule *files.Module,
	limiterModule *ratelimit.Module,
	logger types.Logger,
) *APIModule {
	return &APIModule{
		cfg:          cfg,
		writeTimeout: writeTimeout,
		chat:         chatModule,
		files:        filesModule,
		limiter:      limiterModule,
		health:       make(map[string]HealthReporter),
		logger:       logger,
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *APIModule) Dependencies() []string {
	return []string{"auth", "chat", "files", "rate-limiter"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	if dependency == "auth" {
		m.authAdapter = auth.NewAuthAdapter(container)
	}
}

// SetHealthSource registers a module reported by GET /health under name.
// Call before Start.
func (m *APIModule) SetHealthSource(name string, module HealthReporter) {
	m.health[name] = module
}

// Start initializes the Fiber HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if m.authAdapter == nil {
		return fmt.Errorf("auth dependency not set")
	}
	if m.chat == nil || m.chat.Service() == nil {
		return fmt.Errorf("chat dependency not started")
	}
	if m.files == nil || m.files.Service() == nil {
		return fmt.Errorf("files dependency not started")
	}
	if m.limiter == nil {
		return fmt.Errorf("rate-limiter dependency not set")
	}

	m.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
		ReadTimeout:           m.cfg.ReadTimeout,
		WriteTimeout:          m.cfg.WriteTimeout,
		IdleTimeout:           m.cfg.IdleTimeout,
		BodyLimit:             m.cfg.MaxUploadSize + bodySlack,
	})

	m.app.Use(recover.New())
	m.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	m.app.Use(cors.New(cors.Config{
		AllowOrigins: m.cfg.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	h := NewHandlers(m.authAdapter, m.chat.Service(), m.files.Service(), m.health, m.writeTimeout, m.logger)
	h.Routes(m.app, m.limiter.Middleware().IPRateLimit())

	addr := ":" + strconv.Itoa(m.cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(addr); err != nil {
			errCh <- err
		}
	}()

	// Wait briefly to catch immediate startup errors
	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	m.logger.Info("HTTP server started", "addr", addr)
	return nil
}

// Stop shuts down the Fiber HTTP server.
func (m *APIModule) Stop(ctx context.Context) error {
	if m.app == nil {
		return nil
	}
	m.logger.Info("Shutting down HTTP server")
	if err := m.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Health returns the health status.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: map[string]any{
			"port": m.cfg.Port,
		},
	}
}
