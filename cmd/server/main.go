package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/tabledeck/importd/internal/config"
	"github.com/tabledeck/importd/internal/db"
	"github.com/tabledeck/importd/internal/importjob"
	"github.com/tabledeck/importd/internal/middleware"
	"github.com/tabledeck/importd/internal/queue"
	"github.com/tabledeck/importd/internal/repository"
	"github.com/tabledeck/importd/internal/server"
	"github.com/tabledeck/importd/internal/storage"
	"github.com/tabledeck/importd/internal/webhook"
)

const staleCleanupInterval = time.Hour

func main() {
	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database, "./migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repositories
	importerRepo := repository.NewImporterRepository(conn.Pool)
	jobRepo := repository.NewImportJobRepository(conn.Pool)
	eventRepo := repository.NewWebhookEventRepository(conn.Pool)

	store, err := storage.NewDiskStore(cfg.Storage.Dir)
	if err != nil {
		log.Fatalf("Failed to open storage directory: %v", err)
	}

	notifier := webhook.NewNotifier(eventRepo,
		webhook.NewHTTPSender(&http.Client{Timeout: cfg.Webhook.Timeout}), logger)

	// The worker handles the tasks the dispatcher delivers, and the promoter
	// inside it enqueues follow-up tasks, so wire the two through a closure.
	var worker *importjob.Worker
	handle := func(ctx context.Context, task queue.Task) error {
		return worker.Handle(ctx, task)
	}

	var dispatcher queue.Dispatcher
	var inproc *queue.InProcQueue
	var redisQueue *queue.RedisQueue
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		redisQueue = queue.NewRedisQueue(client, cfg.Redis.QueueKey, logger)
		dispatcher = redisQueue
	} else {
		inproc = queue.NewInProcQueue(handle, logger)
		dispatcher = inproc
	}

	promoter := importjob.NewPromoter(jobRepo, importerRepo, store, dispatcher, logger)
	worker = importjob.NewWorker(jobRepo, importerRepo, store, notifier, promoter, logger)
	service := importjob.NewService(jobRepo, importerRepo, store, dispatcher, notifier, promoter, logger)

	if redisQueue != nil {
		go func() {
			if err := redisQueue.Run(ctx, handle); err != nil && ctx.Err() == nil {
				logger.Error("task queue stopped", zap.Error(err))
			}
		}()
	}

	// Periodically remove portal jobs abandoned before mapping completed
	go func() {
		ticker := time.NewTicker(staleCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := service.CleanupStale(ctx, 100); err != nil {
					logger.Error("stale job cleanup failed", zap.Error(err))
				} else if n > 0 {
					logger.Info("removed stale import jobs", zap.Int("count", n))
				}
			}
		}
	}()

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	mux := http.NewServeMux()
	mux.Handle("/api/importers", server.NewImporterHandler(importerRepo))
	mux.Handle("/api/importers/", server.NewImporterHandler(importerRepo))
	mux.Handle("/api/imports", server.NewJobHandler(service))
	mux.Handle("/api/imports/", server.NewJobHandler(service))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(middleware.LoggingMiddleware(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting import server on %s", cfg.Server.Addr)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	cancel()
	if inproc != nil {
		inproc.Wait()
	}

	log.Println("Server exited")
}
