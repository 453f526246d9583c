package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"questweaver/server/internal/assets"
	"questweaver/server/internal/config"
	"questweaver/server/internal/engine"
	"questweaver/server/internal/session"
	"questweaver/server/internal/storage"
	"questweaver/server/internal/web"
)

func main() {
	// Load configuration
	cfgPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.AI.APIKey == "" {
		log.Println("Warning: No API key provided. Narrative generation will fail.")
	}

	// Initialize AI components
	gmClient := engine.NewGMClient(cfg.AI)

	compactor := storage.Compactor{
		Summarize:  gmClient.Summarize,
		MaxEntries: cfg.History.MaxEntries,
		KeepTail:   cfg.History.KeepTail,
	}

	// Initialize storage: MySQL when configured, files otherwise
	var store storage.Store
	if cfg.Storage.MySQL.Host != "" {
		mysqlStore, err := storage.NewMySQLStore(cfg.Storage.MySQL, compactor)
		if err != nil {
			log.Printf("Warning: Failed to connect to MySQL: %v", err)
		} else {
			defer mysqlStore.Close()
			log.Println("MySQL connected successfully")
			store = mysqlStore
		}
	}
	if store == nil {
		fileStore, err := storage.NewFileStore(cfg.Storage.DataDir, compactor)
		if err != nil {
			log.Fatalf("Failed to open adventure store: %v", err)
		}
		defer fileStore.Close()
		store = fileStore
	}

	var redisStore *storage.RedisStore
	if cfg.Storage.Redis.Host != "" {
		redisStore, err = storage.NewRedisStore(cfg.Storage.Redis)
		if err != nil {
			log.Printf("Warning: Failed to connect to Redis: %v", err)
			redisStore = nil
		} else {
			defer redisStore.Close()
			log.Println("Redis connected successfully")
		}
	}

	themes, err := assets.NewCatalogProvider(cfg.Themes.CatalogFile, cfg.Themes.CacheTTL)
	if err != nil {
		log.Fatalf("Failed to load theme catalog: %v", err)
	}

	registry := session.NewRegistry(session.Deps{
		Store:      store,
		Generator:  gmClient,
		Summarizer: gmClient,
		Themes:     themes,
		Redis:      redisStore,
	}, session.Options{
		MaxConnections:    cfg.Server.MaxConnections,
		ReconnectGrace:    cfg.Server.ReconnectGrace,
		GenerationTimeout: cfg.AI.GenerationTimeout,
		KeepTail:          cfg.History.KeepTail,
		TurnLimit:         cfg.Server.TurnLimit,
		TurnWindow:        cfg.Server.TurnWindow,
	})

	r := web.NewRouter(registry)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in background
	go func() {
		log.Printf("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Close sessions last so each can persist its adventure
	registry.Shutdown(ctx)

	log.Println("Server stopped")
}
