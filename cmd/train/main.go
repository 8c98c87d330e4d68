package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/choiwjun/chamgab-sub000/config"
	"github.com/choiwjun/chamgab-sub000/internal/artifacts"
	"github.com/choiwjun/chamgab-sub000/internal/database"
	"github.com/choiwjun/chamgab-sub000/internal/enrichment"
	"github.com/choiwjun/chamgab-sub000/internal/features"
	"github.com/choiwjun/chamgab-sub000/internal/geocoding"
	"github.com/choiwjun/chamgab-sub000/internal/training"
)

func main() {
	poiPath := flag.String("pois", "", "GeoJSON file of points of interest to import before training")
	geocode := flag.Bool("geocode", false, "look up coordinates for properties stored without them")
	dryRun := flag.Bool("dry-run", false, "train and report metrics without saving artifacts")
	ensemble := flag.Bool("ensemble", false, "also fit the random forest and keep the blend if it scores better")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
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

	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *poiPath != "" {
		f, err := os.Open(*poiPath)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open poi file")
		}
		pois, err := enrichment.DecodePOIs(f)
		f.Close()
		if err != nil {
			logger.WithError(err).Fatal("Failed to decode poi file")
		}
		if err := db.InsertPOIs(ctx, pois); err != nil {
			logger.WithError(err).Fatal("Failed to import pois")
		}
	}

	if *geocode {
		geocoder := geocoding.NewGeocoder(geocoding.Config{
			BaseURL:  cfg.Geocoding.BaseURL,
			CacheDir: cfg.Geocoding.CacheDir,
			Delay:    time.Duration(cfg.Geocoding.DelayMs) * time.Millisecond,
		}, logger)
		if _, err := geocoder.Backfill(ctx, db); err != nil {
			logger.WithError(err).Error("Geocoding stopped early")
		}
	}

	removed, err := db.DeduplicateComplexes(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to deduplicate complexes")
	}
	if removed > 0 {
		logger.WithField("removed", removed).Info("Merged duplicate complexes")
	}

	txs, err := db.ListTransactions(ctx, 0)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load transactions")
	}

	pipelineConfig := training.ConfigFromEnv(cfg)
	if *ensemble {
		pipelineConfig.Ensemble = true
	}
	pipeline := training.NewPipeline(pipelineConfig, keys, enrichment.NewDefaultChain(db, cfg, logger), logger).
		WithBuildings(db)

	result, err := pipeline.Train(ctx, txs)
	if err != nil {
		logger.WithError(err).Fatal("Training failed")
	}

	logger.WithFields(logrus.Fields{
		"version":    result.Set.Version,
		"train_rows": result.Rows.Train,
		"val_rows":   result.Rows.Validation,
		"test_rows":  result.Rows.Test,
		"mae":        result.Set.Metrics.MAE,
		"rmse":       result.Set.Metrics.RMSE,
		"r2":         result.Set.Metrics.R2,
		"mape":       result.Set.Metrics.MAPE,
		"dropped":    result.Dropped,
	}).Info("Model evaluated on the test split")

	if *dryRun {
		return
	}

	store := artifacts.NewFileStore(cfg.Artifacts.Dir)
	if err := store.Save(result.Set); err != nil {
		logger.WithError(err).Fatal("Failed to save artifacts")
	}
	logger.WithField("path", store.Path()).Info("Artifacts saved")
}
