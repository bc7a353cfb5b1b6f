package files

import (
	"context"
	"fmt"

	"github.com/example/realtime-chat/config"
	"github.com/go-monolith/mono"
	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"
	"github.com/go-monolith/mono/pkg/types"
)

// StoragePluginAlias is the alias the fs-jetstream plugin is registered under.
const StoragePluginAlias = "storage"

// Module implements the object store using the fs-jetstream plugin.
type Module struct {
	storageCfg config.StorageConfig
	httpCfg    config.HTTPConfig
	storage    *fsjetstream.PluginModule
	service    *Service
	logger     types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.UsePluginModule       = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new files module.
func NewModule(storageCfg config.StorageConfig, httpCfg config.HTTPConfig, logger types.Logger) *Module {
	return &Module{
		storageCfg: storageCfg,
		httpCfg:    httpCfg,
		logger:     logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "files"
}

// SetPlugin receives the storage plugin from the framework before Start.
func (m *Module) SetPlugin(alias string, plugin mono.PluginModule) {
	if alias != StoragePluginAlias {
		return
	}
	storage, ok := plugin.(*fsjetstream.PluginModule)
	if !ok {
		m.logger.Error("Invalid plugin type for storage",
			"alias", alias,
			"expected", "*fsjetstream.PluginModule")
		return
	}
	m.storage = storage
	m.logger.Info("Received storage plugin", "alias", alias)
}

// Start resolves the uploads bucket.
func (m *Module) Start(_ context.Context) error {
	if m.storage == nil {
		return fmt.Errorf("required plugin %q not registered", StoragePluginAlias)
	}
	bucket := m.storage.Bucket(m.storageCfg.Bucket)
	if bucket == nil {
		return fmt.Errorf("bucket %q not found in storage plugin", m.storageCfg.Bucket)
	}
	m.service = NewService(NewBucketStore(bucket), m.httpCfg.PublicBaseURL, m.httpCfg.MaxUploadSize)

	m.logger.Info("Files module started", "bucket", m.storageCfg.Bucket)
	return nil
}

// Stop shuts down the module.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("Files module stopped")
	return nil
}

// Health reports whether the bucket is available.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.service == nil {
		return mono.HealthStatus{Healthy: false, Message: "bucket not initialized"}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{"bucket": m.storageCfg.Bucket},
	}
}

// Service returns the file service; nil before Start.
func (m *Module) Service() *Service {
	return m.service
}

// BucketConfig returns the fs-jetstream bucket definition for cfg.
func BucketConfig(cfg config.StorageConfig) fsjetstream.BucketConfig {
	return fsjetstream.BucketConfig{
		Name:        cfg.Bucket,
		Description: "Avatars and message attachments",
		MaxBytes:    cfg.MaxBytes,
		Storage:     fsjetstream.FileStorage,
		Compression: true,
	}
}
