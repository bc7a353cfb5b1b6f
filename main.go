package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/example/realtime-chat/config"
	"github.com/example/realtime-chat/modules/api"
	"github.com/example/realtime-chat/modules/auth"
	"github.com/example/realtime-chat/modules/broadcast"
	"github.com/example/realtime-chat/modules/chat"
	"github.com/example/realtime-chat/modules/files"
	"github.com/example/realtime-chat/modules/ratelimit"
	"github.com/example/realtime-chat/modules/store"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"
	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("=== Realtime Chat ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create mono application with embedded NATS JetStream
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
		mono.WithJetStreamStorageDir(cfg.Storage.Dir),
	)
	if err != nil {
		log.Fatalf("Failed to create mono application: %v", err)
	}

	// Avatars and attachments live in a JetStream object store bucket
	storagePlugin, err := fsjetstream.New(fsjetstream.Config{
		Buckets: []fsjetstream.BucketConfig{files.BucketConfig(cfg.Storage)},
	})
	if err != nil {
		log.Fatalf("Failed to create storage plugin: %v", err)
	}
	if err := app.RegisterPlugin(storagePlugin, files.StoragePluginAlias); err != nil {
		log.Fatalf("Failed to register storage plugin: %v", err)
	}

	logger := app.Logger()

	storeModule := store.NewModule(cfg.Database, logger)
	limiterModule := ratelimit.NewModule(cfg.Redis, cfg.Chat, logger)
	broadcastModule := broadcast.NewModule(broadcast.Options{
		Backplane:   cfg.Chat.Backplane,
		Channel:     cfg.Chat.BackplaneChannel,
		QueueSize:   cfg.Chat.FanoutQueueSize,
		SendTimeout: cfg.Chat.SendTimeout,
		Redis:       limiterModule.Client(),
	}, logger)
	authModule := auth.NewModule(cfg.JWT, storeModule, logger)
	filesModule := files.NewModule(cfg.Storage, cfg.HTTP, logger)
	chatModule := chat.NewModule(cfg.Chat, storeModule, broadcastModule, filesModule, limiterModule, logger)
	apiModule := api.NewModule(cfg.HTTP, cfg.Chat.SendTimeout, chatModule, filesModule, limiterModule, logger)

	apiModule.SetHealthSource(storeModule.Name(), storeModule)
	apiModule.SetHealthSource(limiterModule.Name(), limiterModule)
	apiModule.SetHealthSource(broadcastModule.Name(), broadcastModule)
	apiModule.SetHealthSource(authModule.Name(), authModule)
	apiModule.SetHealthSource(filesModule.Name(), filesModule)
	apiModule.SetHealthSource(chatModule.Name(), chatModule)
	apiModule.SetHealthSource(apiModule.Name(), apiModule)

	app.Register(storeModule)
	app.Register(limiterModule)
	app.Register(broadcastModule)
	app.Register(authModule)
	app.Register(filesModule)
	app.Register(chatModule)
	app.Register(apiModule)

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		log.Fatalf("Failed to start app: %v", err)
	}

	printStartupInfo(cfg)

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo(cfg *config.Config) {
	log.Println("=== Application Started ===")
	log.Printf("API available at %s", cfg.HTTP.PublicBaseURL)
	log.Printf("Backplane: %s", cfg.Chat.Backplane)
	if cfg.Redis.Addr == "" {
		log.Println("Redis not configured: rate limiting disabled")
	}
	log.Println("Endpoints:")
	log.Println("  POST   /api/v1/auth/register     - Create an account")
	log.Println("  POST   /api/v1/auth/login        - Obtain tokens")
	log.Println("  POST   /api/v1/auth/refresh      - Refresh tokens")
	log.Println("  GET    /api/v1/rooms             - Rooms you belong to")
	log.Println("  GET    /api/v1/profile           - Your profile")
	log.Println("  PATCH  /api/v1/profile           - Update your profile")
	log.Println("  POST   /api/v1/profile/avatar    - Upload an avatar")
	log.Println("  POST   /api/v1/uploads           - Upload an attachment")
	log.Println("  GET    /files/*                  - Download an upload")
	log.Println("  GET    /ws                       - Chat websocket")
	log.Println("  GET    /health                   - Health check")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown")
}
