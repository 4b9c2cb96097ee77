package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/bowerhall/parley/internal/binding"
	"github.com/bowerhall/parley/internal/chat"
	"github.com/bowerhall/parley/internal/config"
	"github.com/bowerhall/parley/internal/discussion"
	"github.com/bowerhall/parley/internal/gateway"
	"github.com/bowerhall/parley/internal/logger"
	"github.com/bowerhall/parley/internal/personality"
	"github.com/bowerhall/parley/internal/storage"
)

func init() {
	godotenv.Load()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	store, err := discussion.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to open discussion store", "error", err)
	}
	defer store.Close()

	person, err := personality.Load(cfg.PersonalityPath)
	if err != nil {
		logger.Warn("personality card not loaded, using defaults", "path", cfg.PersonalityPath, "error", err)
		person = personality.Default()
	}

	model, err := binding.New(binding.Config{
		Provider: cfg.Binding.Provider,
		Model:    cfg.Binding.Model,
		BaseURL:  cfg.Binding.BaseURL,
		APIKey:   cfg.Binding.APIKey,
	})
	if err != nil {
		logger.Fatal("failed to create binding", "error", err)
	}

	srv := gateway.NewServer()
	engine := chat.NewEngine(cfg, store, model, person, srv)
	srv.Bind(engine)

	// optional scheduled database backup to object storage
	if cfg.Storage.Enabled {
		storageClient, err := storage.NewClient(storage.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Backup.Bucket,
		})
		if err != nil {
			logger.Error("failed to create storage client", "error", err)
		} else {
			initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := storageClient.Init(initCtx); err != nil {
				logger.Error("failed to init storage bucket", "error", err)
				storageClient = nil
			}
			cancel()
		}

		if storageClient != nil && cfg.Backup.Enabled {
			scheduler := cron.New()
			_, err := scheduler.AddFunc(cfg.Backup.Schedule, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()
				if _, err := storageClient.BackupDatabase(ctx, cfg.DBPath); err != nil {
					logger.Error("backup failed", "error", err)
				}
			})
			if err != nil {
				logger.Error("invalid backup schedule", "schedule", cfg.Backup.Schedule, "error", err)
			} else {
				scheduler.Start()
				defer scheduler.Stop()
				logger.Info("backup enabled", "schedule", cfg.Backup.Schedule)
			}
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
	}

	go func() {
		logger.Info("parley started",
			"addr", cfg.Addr,
			"binding", cfg.Binding.Provider,
			"model", model.ModelName(),
			"personality", person.Name,
			"db", cfg.DBPath,
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
