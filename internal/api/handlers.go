package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/choiwjun/chamgab-sub000/internal/artifacts"
	"github.com/choiwjun/chamgab-sub000/internal/database"
	"github.com/choiwjun/chamgab-sub000/internal/ml"
	"github.com/choiwjun/chamgab-sub000/internal/models"
	"github.com/choiwjun/chamgab-sub000/internal/queue"
	"github.com/choiwjun/chamgab-sub000/internal/scheduler"
)

// Estimator is the prediction side the handlers call
type Estimator interface {
	Predict(ctx context.Context, propertyID int64) (*models.Estimate, error)
	SimilarTransactions(ctx context.Context, propertyID int64, limit int) ([]models.Transaction, error)
}

// Ingest accepts transaction batches for storage
type Ingest interface {
	Push(batch []*models.Transaction) error
}

// ArtifactHolder exposes the serving artifacts
type ArtifactHolder interface {
	Current() *artifacts.Bundle
	Reload() (*artifacts.Bundle, error)
}

// JobRunner runs maintenance jobs on demand
type JobRunner interface {
	Run(ctx context.Context, job scheduler.JobType) error
}

type Handler struct {
	estimator Estimator
	ingest    Ingest
	holder    ArtifactHolder
	jobs      JobRunner
	history   TransactionHistory
	logger    *logrus.Logger
}

// TransactionRequest is one sale as posted by collectors
type TransactionRequest struct {
	Price           int64    `json:"price" binding:"required,gt=0"`
	AreaExclusive   float64  `json:"area_exclusive" binding:"required,gt=0"`
	Floor           int      `json:"floor"`
	TransactionDate string   `json:"transaction_date" binding:"required"`
	Province        string   `json:"province" binding:"required"`
	District        string   `json:"district" binding:"required"`
	SubDistrict     string   `json:"sub_district"`
	BuildingName    string   `json:"building_name"`
	BuildYear       int      `json:"build_year"`
	RegionCode      string   `json:"region_code"`
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
}

const dateLayout = "2006-01-02"

func (r TransactionRequest) toModel() (*models.Transaction, error) {
	date, err := time.Parse(dateLayout, r.TransactionDate)
	if err != nil {
		return nil, err
	}
	return &models.Transaction{
		Price:           r.Price,
		AreaExclusive:   r.AreaExclusive,
		Floor:           r.Floor,
		TransactionDate: date,
		Province:        r.Province,
		District:        r.District,
		SubDistrict:     r.SubDistrict,
		BuildingName:    r.BuildingName,
		BuildYear:       r.BuildYear,
		RegionCode:      r.RegionCode,
		Latitude:        r.Latitude,
		Longitude:       r.Longitude,
	}, nil
}

// NewHandler wires the handlers. jobs and history may be nil, which
// disables their routes.
func NewHandler(estimator Estimator, ingest Ingest, holder ArtifactHolder, jobs JobRunner, history TransactionHistory, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	return &Handler{
		estimator: estimator,
		ingest:    ingest,
		holder:    holder,
		jobs:      jobs,
		history:   history,
		logger:    logger,
	}
}

func propertyID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid property id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) GetEstimate(c *gin.Context) {
	id, ok := propertyID(c)
	if !ok {
		return
	}

	estimate, err := h.estimator.Predict(c.Request.Context(), id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
		return
	case errors.Is(err, artifacts.ErrArtifactLoad):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Model is not available"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to estimate price"})
		return
	}

	c.JSON(http.StatusOK, estimate)
}

func (h *Handler) GetSimilarTransactions(c *gin.Context) {
	id, ok := propertyID(c)
	if !ok {
		return
	}
	limit := min(parseLimit(c.Query("limit"), 10), 100)

	txs, err := h.estimator.SimilarTransactions(c.Request.Context(), id, limit)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Property not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("property_id", id).Error("Failed to get similar transactions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get similar transactions"})
		return
	}

	c.JSON(http.StatusOK, txs)
}

func (h *Handler) PostTransactions(c *gin.Context) {
	var requests []TransactionRequest
	if err := c.ShouldBindJSON(&requests); err != nil {
		h.logger.WithError(err).Warn("Invalid transaction batch")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if len(requests) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Empty batch"})
		return
	}

	batch := make([]*models.Transaction, 0, len(requests))
	for i, r := range requests {
		tx, err := r.toModel()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid transaction_date", "index": i})
			return
		}
		batch = append(batch, tx)
	}

	if err := h.ingest.Push(batch); err != nil {
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrQueueClosed) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Ingest queue is not accepting batches"})
			return
		}
		h.logger.WithError(err).Error("Failed to queue transactions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue transactions"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "count": len(batch)})
}

// modelInfo summarises the serving artifact set
type modelInfo struct {
	Version        string                  `json:"version"`
	TrainedAt      time.Time               `json:"trained_at"`
	Strategy       string                  `json:"strategy"`
	Features       []string                `json:"features"`
	Metrics        ml.Metrics              `json:"metrics"`
	Residuals      artifacts.ResidualStats `json:"residuals"`
	TrainingRows   int                     `json:"training_rows"`
	EnsembleWeight float64                 `json:"ensemble_weight,omitempty"`
}

func describe(bundle *artifacts.Bundle) modelInfo {
	info := modelInfo{
		Version:      bundle.Set.Version,
		TrainedAt:    bundle.Set.TrainedAt,
		Strategy:     bundle.Strategy.Name(),
		Features:     bundle.Set.FeatureNames,
		Metrics:      bundle.Set.Metrics,
		Residuals:    bundle.Set.Residuals,
		TrainingRows: bundle.Set.TrainingRows,
	}
	if bundle.Set.Ensemble {
		info.EnsembleWeight = bundle.Set.EnsembleWeight
	}
	return info
}

func (h *Handler) GetModel(c *gin.Context) {
	bundle := h.holder.Current()
	if bundle == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Model is not available"})
		return
	}
	c.JSON(http.StatusOK, describe(bundle))
}

func (h *Handler) ReloadArtifacts(c *gin.Context) {
	bundle, err := h.holder.Reload()
	if err != nil {
		h.logger.WithError(err).Error("Failed to reload artifacts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reload artifacts"})
		return
	}
	c.JSON(http.StatusOK, describe(bundle))
}

// Retrain starts a retrain job in the background
func (h *Handler) Retrain(c *gin.Context) {
	if h.jobs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Retraining is not enabled"})
		return
	}

	go func() {
		if err := h.jobs.Run(context.Background(), scheduler.JobTypeRetrain); err != nil {
			h.logger.WithError(err).Error("Requested retrain failed")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "Retrain started"})
}

func (h *Handler) Health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	if bundle := h.holder.Current(); bundle != nil {
		body["model_version"] = bundle.Set.Version
	} else {
		status = http.StatusServiceUnavailable
		body["status"] = "no model"
	}
	c.JSON(status, body)
}
