package main

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"bggsync/internal/config"
	"bggsync/internal/core/bgg"
	"bggsync/internal/core/catalog"
	"bggsync/internal/core/job"
	"bggsync/internal/core/match"
	"bggsync/internal/core/syncjob"
	"bggsync/internal/core/upc"
	"bggsync/internal/health"
	"bggsync/internal/logger"
	rds "bggsync/internal/platform/redis"
	"bggsync/internal/platform/storage"
	tasks "bggsync/internal/platform/tasks"
	"bggsync/internal/server"
	"bggsync/internal/worker"
)

func main() {
	cfg := config.Load()
	log.Printf("[bggsync] starting at %s (env=%s)\n", cfg.HTTPAddr, cfg.AppEnv)

	logr := logger.New("main")
	if err := cfg.Validate(); err != nil {
		// Keep serving health and config so the problem is visible; sync
		// requests are rejected until it is fixed.
		logr.LogWarnf("configuration incomplete: %v", err)
	}

	// Redis client
	redisSvc, err := rds.New(rds.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer redisSvc.Close()

	// Asynq client and server
	taskClient := tasks.New(redisSvc)
	defer taskClient.Close()
	asynqServer := worker.NewServer(redisSvc.AsynqRedisOpt(), cfg.SyncConcurrency, logger.New("TaskServer"))

	// External clients
	bggClient, err := bgg.FromConfig(cfg)
	if err != nil {
		log.Fatal(err)
	}
	upcClient := upc.New(cfg.UPCBaseURL, cfg.UPCAPIKey)

	var archive catalog.Archiver
	if a, err := storage.New(cfg); err != nil {
		logr.LogWarnf("asset archive disabled: %v", err)
	} else if a != nil {
		archive = a
	}
	catalogClient := catalog.FromConfig(cfg, archive)

	// Core services
	jobSvc := job.NewJobService(redisSvc, cfg.RunRecordTTL)
	engine := match.New(bggClient, upcClient, logger.New("MatchEngine"))
	dispatcher := syncjob.NewDispatcher(syncjob.DispatcherConfig{
		Catalog:    catalogClient,
		Tasks:      taskClient,
		Jobs:       jobSvc,
		BatchSize:  cfg.BatchSize,
		MaxRetries: cfg.TaskMaxRetries,
		Validate:   cfg.Validate,
	})
	itemWorker := syncjob.NewWorker(syncjob.WorkerConfig{
		Matcher:        engine,
		Catalog:        catalogClient,
		Jobs:           jobSvc,
		AuthErrorLimit: cfg.AuthErrorLimit,
	})

	// Worker mux
	mux := worker.NewMux()
	mux.HandleFunc(tasks.TaskTypeDispatch, dispatcher.HandleDispatchTask)
	mux.HandleFunc(tasks.TaskTypeItem, itemWorker.HandleItemTask)

	// Start worker
	go func() {
		if err := asynqServer.Start(mux.Mux()); err != nil {
			log.Printf("[worker] stopped: %v\n", err)
		}
	}()

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName: "BGG Catalog Sync",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})

	syncHandler := syncjob.NewHandler(dispatcher, jobSvc, mux, cfg, redisSvc.HealthCheck)
	healthHandler := server.RegisterRoutes(app, server.Dependencies{
		Sync: syncHandler,
		Checks: map[string]health.Check{
			"redis": redisSvc.HealthCheck,
		},
	})

	// Mark application as ready after all services are initialized
	go func() {
		time.Sleep(2 * time.Second)
		healthHandler.SetReady()
	}()

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("Shutting down...")
		asynqServer.Shutdown()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}
