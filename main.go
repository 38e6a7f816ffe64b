package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-archive/internal/database"
	"media-archive/internal/enrich"
	"media-archive/internal/handlers"
	"media-archive/internal/importer"
	"media-archive/internal/jobqueue"
	"media-archive/internal/logging"
	"media-archive/internal/media"
	"media-archive/internal/middleware"
	"media-archive/internal/startup"
	"media-archive/internal/workers"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()
	ctx := context.Background()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		logging.Fatal("Configuration error: %v", err)
	}

	// Initialize database
	dbStart := time.Now()
	db, err := database.New(ctx, config.DatabasePath)
	if err != nil {
		logging.Fatal("Failed to initialize database: %v", err)
	}
	defer db.Close()
	startup.LogDatabaseInit(time.Since(dbStart))

	// Initialize libvips for fast image decoding
	if err := media.InitVips(); err != nil {
		logging.Warn("libvips unavailable, falling back to pure-Go decoding: %v", err)
	}
	defer media.ShutdownVips()

	startup.LogToolchainInit()

	// Job worker with all five enrichment queues
	worker := jobqueue.NewWorker(db,
		jobqueue.WithPollInterval(config.PollInterval),
		jobqueue.WithBackoffBase(config.BackoffBase),
		jobqueue.WithMaxAttempts(config.MaxAttempts),
	)

	concurrency := enrich.Concurrency{
		Metadata:   orDefault(config.MetadataWorkers, workers.ForIO(8)),
		Thumbnails: orDefault(config.ThumbnailWorkers, workers.ForCPU(8)),
		Preview:    orDefault(config.PreviewWorkers, 2),
		Proxy:      orDefault(config.ProxyWorkers, 1),
		// The manifest is rewritten whole per append, so this stays 1.
		Integrity: 1,
	}
	if err := enrich.RegisterAll(worker, db, config.ArchiveDir, concurrency); err != nil {
		logging.Fatal("Failed to register queues: %v", err)
	}
	startup.LogWorkerInit(5, config.PollInterval)

	// Jobs stranded in processing by a crash are never claimable;
	// sweep them back to pending before the first claim.
	if n, err := db.RequeueOrphanedJobs(ctx); err != nil {
		logging.Warn("Failed to requeue orphaned jobs: %v", err)
	} else if n > 0 {
		logging.Info("Requeued %d jobs orphaned by an unclean shutdown", n)
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	worker.Start(workerCtx)

	// Drain queue lifecycle events into the debug log.
	go func() {
		for ev := range worker.Events() {
			logging.Debug("Queue event: %s job=%s queue=%s attempt=%d", ev.Type, ev.JobID, ev.Queue, ev.Attempt)
		}
	}()

	// Prune finished jobs periodically. Dead-letter jobs are kept for
	// inspection.
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if n, err := db.PruneFinishedJobs(ctx, time.Now().Add(-24*time.Hour)); err != nil {
				logging.Warn("Job pruning failed: %v", err)
			} else if n > 0 {
				logging.Debug("Pruned %d finished jobs", n)
			}
			db.UpdateDBMetrics()
		}
	}()

	// Import orchestrator
	imp := importer.New(db, worker, config.ArchiveDir, config.ChunkSize)

	// Initialize handlers and router
	h := handlers.New(db, imp, worker, config)
	router := setupRouter(h)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler := middleware.Logger(loggingConfig)(router)

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Metrics on a separate listener so operational scrapes never
	// contend with API traffic.
	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:        ":" + config.MetricsPort,
			Handler:     metricsMux,
			ReadTimeout: 15 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	// A broken job store is unrecoverable; shut the whole process down.
	go func() {
		if err := <-worker.Fatal(); err != nil {
			logging.Error("Job worker halted: %v", err)
			p, _ := os.FindProcess(os.Getpid())
			_ = p.Signal(syscall.SIGTERM)
		}
	}()

	go handleShutdown(srv, metricsSrv, worker, stopWorker)

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("Server error: %v", err)
	}
}

func orDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))

	// Health and version routes
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/import", h.StartImport).Methods("POST")
	api.HandleFunc("/import/{batchId}", h.GetImportBatch).Methods("GET")
	api.HandleFunc("/import/{batchId}/cancel", h.CancelImportBatch).Methods("POST")
	api.HandleFunc("/queues/stats", h.GetQueueStats).Methods("GET")
	api.HandleFunc("/collections/{id}/assets", h.ListCollectionAssets).Methods("GET")
	api.HandleFunc("/collections/{id}/validate", h.ValidateCollection).Methods("POST")
	api.HandleFunc("/collections/{id}/manifest", h.RebuildCollectionManifest).Methods("POST")
	api.HandleFunc("/collections/{id}/regenerate", h.RegenerateCollection).Methods("POST")

	return r
}

func handleShutdown(srv, metricsSrv *http.Server, worker *jobqueue.Worker, stopWorker context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Drain first: Stop halts claiming and waits for in-flight
	// handlers, which must settle before their context is released.
	worker.Stop()
	stopWorker()
	startup.LogShutdownStepComplete("Job worker drained")

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownComplete()
}
