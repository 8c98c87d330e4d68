package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/choiwjun/chamgab-sub000/config"
	"github.com/choiwjun/chamgab-sub000/internal/api"
	"github.com/choiwjun/chamgab-sub000/internal/artifacts"
	"github.com/choiwjun/chamgab-sub000/internal/database"
	"github.com/choiwjun/chamgab-sub000/internal/enrichment"
	"github.com/choiwjun/chamgab-sub000/internal/features"
	"github.com/choiwjun/chamgab-sub000/internal/prediction"
	"github.com/choiwjun/chamgab-sub000/internal/processor"
	"github.com/choiwjun/chamgab-sub000/internal/queue"
	"github.com/choiwjun/chamgab-sub000/internal/scheduler"
	"github.com/choiwjun/chamgab-sub000/internal/training"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
	}

	regions, err := config.LoadRegionOverrides(cfg.Artifacts.RegionOverrides)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load region overrides")
	}
	keys := features.NewDistrictKeys(regions)

	db, err := database.NewDatabase(cfg, regions, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	store := artifacts.NewFileStore(cfg.Artifacts.Dir)
	holder := artifacts.NewHolder(store, logger)
	if _, err := holder.Reload(); err != nil {
		if errors.Is(err, artifacts.ErrArtifactLoad) {
			logger.WithError(err).WithField("path", store.Path()).Fatal("No servable artifacts, run cmd/train first")
		}
		logger.WithError(err).Fatal("Failed to load artifacts")
	}

	enricher := enrichment.NewDefaultChain(db, cfg, logger)
	pipelineConfig := training.ConfigFromEnv(cfg)

	service := prediction.NewService(db, holder, db, enricher, keys, prediction.Config{
		Temporal: pipelineConfig.Temporal,
	}, logger)

	// Ingest
	ingest := queue.NewTransactionQueue(cfg.Ingest.BufferSize, logger)
	batchProcessor := processor.NewBatchProcessor(db.GetDB(), ingest, cfg, logger)
	batchProcessor.Start()
	defer batchProcessor.Stop()

	// Retraining
	pipeline := training.NewPipeline(pipelineConfig, keys, enricher, logger).WithBuildings(db)
	jobs := scheduler.NewScheduler(db, db, pipeline, store, holder,
		time.Duration(cfg.Scheduler.RetrainInterval)*time.Hour, logger)
	if cfg.Scheduler.Enabled {
		jobs.Start()
		defer jobs.Stop()
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(service, ingest, holder, jobs, db, logger)
	router := api.NewRouter(cfg.Server.CORSOrigins)
	api.SetupRoutes(router, handler, api.NewRegionHandler(handler, keys))

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shut down")
	}
}
