// Command standards-cached wires the tiered cache and search engine
// together and serves until signaled to stop. Packaging a real transport
// in front of pkg/toolsurface.Service is out of scope; this binary only
// demonstrates the construction and graceful-shutdown sequence the
// teacher's cmd/server/main.go follows.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/menoncello/standards-cache/internal/config"
	"github.com/menoncello/standards-cache/internal/observability"
	"github.com/menoncello/standards-cache/internal/storage"
	"github.com/menoncello/standards-cache/pkg/toolsurface"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := observability.NewLogger("standards-cached")

	configDir := os.Getenv("STANDARDS_CACHE_CONFIG_DIR")
	if configDir == "" {
		configDir = "config"
	}
	env := os.Getenv("STANDARDS_CACHE_ENV")

	cfg, err := config.NewLoader(configDir).Load(env)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	adapter := storage.New(cfg.Storage, logger)
	if err := adapter.Initialize(ctx); err != nil {
		log.Fatalf("failed to initialize storage adapter: %v", err)
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			logger.Error("storage adapter close failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	service, err := toolsurface.NewService(cfg, adapter, logger)
	if err != nil {
		log.Fatalf("failed to construct service: %v", err)
	}
	if err := service.Start(ctx); err != nil {
		log.Fatalf("failed to start service: %v", err)
	}

	logger.Info("standards-cached started", map[string]interface{}{"env": env})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", map[string]interface{}{"signal": sig.String()})
	case <-ctx.Done():
	}

	service.Stop()
	logger.Info("standards-cached stopped", nil)
}
