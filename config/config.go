package config

import "github.com/caarlos0/env/v6"

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Database configuration
	Database struct {
		// Driver is either "postgres" or "sqlite"
		Driver   string `env:"DB_DRIVER" envDefault:"postgres"`
		Host     string `env:"DB_HOST" envDefault:"localhost"`
		Port     string `env:"DB_PORT" envDefault:"5432"`
		User     string `env:"DB_USER" envDefault:"postgres"`
		Password string `env:"DB_PASSWORD"`
		Name     string `env:"DB_NAME" envDefault:"chamgab"`
		SSLMode  string `env:"DB_SSLMODE" envDefault:"require"`

		// Path of the database file when Driver is sqlite
		SQLitePath string `env:"DB_SQLITE_PATH" envDefault:"database/chamgab.db"`
	}

	Server struct {
		Port        string   `env:"SERVER_PORT" envDefault:"5250"`
		CORSOrigins []string `env:"SERVER_CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	}

	Artifacts struct {
		Dir string `env:"ARTIFACT_DIR" envDefault:"artifacts"`

		// Optional JSON file with extra province prefixes and compound cities
		RegionOverrides string `env:"REGION_OVERRIDES_PATH"`
	}

	Training struct {
		KFolds          int     `env:"TRAIN_KFOLDS" envDefault:"5"`
		Smoothing       float64 `env:"TRAIN_SMOOTHING" envDefault:"20"`
		TrainRatio      float64 `env:"TRAIN_RATIO" envDefault:"0.70"`
		ValidationRatio float64 `env:"TRAIN_VALIDATION_RATIO" envDefault:"0.15"`
		Seed            int64   `env:"TRAIN_SEED" envDefault:"42"`

		// Gradient boosting hyperparameters
		Rounds              int     `env:"TRAIN_ROUNDS" envDefault:"400"`
		LearningRate        float64 `env:"TRAIN_LEARNING_RATE" envDefault:"0.05"`
		MaxDepth            int     `env:"TRAIN_MAX_DEPTH" envDefault:"6"`
		MinSamplesLeaf      int     `env:"TRAIN_MIN_SAMPLES_LEAF" envDefault:"20"`
		Subsample           float64 `env:"TRAIN_SUBSAMPLE" envDefault:"0.8"`
		EarlyStoppingRounds int     `env:"TRAIN_EARLY_STOPPING" envDefault:"30"`

		// Small grid over learning rate and depth, scored on the validation split
		HyperparameterSearch bool `env:"TRAIN_HYPERPARAMETER_SEARCH" envDefault:"false"`

		// Feature selection
		FeatureSelection     bool    `env:"TRAIN_FEATURE_SELECTION" envDefault:"false"`
		ImportanceThreshold  float64 `env:"TRAIN_IMPORTANCE_THRESHOLD" envDefault:"0.001"`
		CorrelationThreshold float64 `env:"TRAIN_CORRELATION_THRESHOLD" envDefault:"0.95"`

		// Ensemble with a random forest secondary model
		Ensemble       bool    `env:"TRAIN_ENSEMBLE" envDefault:"false"`
		EnsembleWeight float64 `env:"TRAIN_ENSEMBLE_WEIGHT" envDefault:"0.5"`
		ForestTrees    int     `env:"TRAIN_FOREST_TREES" envDefault:"100"`
	}

	Temporal struct {
		// Minimum comparable transactions before falling back to global medians
		MinHistory     int `env:"TEMPORAL_MIN_HISTORY" envDefault:"5"`
		LookbackMonths int `env:"TEMPORAL_LOOKBACK_MONTHS" envDefault:"12"`
		CacheSize      int `env:"TEMPORAL_CACHE_SIZE" envDefault:"4096"`
		CacheTTL       int `env:"TEMPORAL_CACHE_TTL" envDefault:"600"` // seconds
	}

	Enrichment struct {
		POIRadiusMeters  float64 `env:"ENRICH_POI_RADIUS" envDefault:"1000"`
		FailureThreshold uint32  `env:"ENRICH_FAILURE_THRESHOLD" envDefault:"5"`
		OpenTimeout      int     `env:"ENRICH_OPEN_TIMEOUT" envDefault:"30"` // seconds
	}

	// Address geocoding for properties stored without coordinates
	Geocoding struct {
		BaseURL  string `env:"GEOCODE_BASE_URL" envDefault:"https://nominatim.openstreetmap.org"`
		CacheDir string `env:"GEOCODE_CACHE_DIR" envDefault:"cache/geocode"`
		DelayMs  int    `env:"GEOCODE_DELAY_MS" envDefault:"1000"` // between upstream requests
	}

	// Ingest configuration for incoming transaction batches
	Ingest struct {
		BufferSize     int `env:"INGEST_BUFFER_SIZE" envDefault:"100"`
		ProcessorCount int `env:"INGEST_PROCESSOR_COUNT" envDefault:"2"`
		MaxRetries     int `env:"INGEST_MAX_RETRIES" envDefault:"3"`
		RetryDelay     int `env:"INGEST_RETRY_DELAY" envDefault:"5"` // seconds
	}

	Scheduler struct {
		Enabled         bool `env:"SCHEDULER_ENABLED" envDefault:"false"`
		RetrainInterval int  `env:"SCHEDULER_RETRAIN_HOURS" envDefault:"168"`
	}
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
