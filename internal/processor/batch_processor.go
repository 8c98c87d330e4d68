// Package processor stores queued transaction batches in the database.
package processor

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/choiwjun/chamgab-sub000/config"
	"github.com/choiwjun/chamgab-sub000/internal/database"
	"github.com/choiwjun/chamgab-sub000/internal/models"
	"github.com/choiwjun/chamgab-sub000/internal/queue"
)

var storedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "chamgab",
	Name:      "ingested_transactions_total",
	Help:      "Transactions from queued batches by outcome.",
}, []string{"outcome"})

// TxRunner runs a function inside a database transaction
type TxRunner interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

// BatchProcessor writes transaction batches from the queue, retrying a
// failed batch as a whole
type BatchProcessor struct {
	db     TxRunner
	queue  *queue.TransactionQueue
	logger *logrus.Logger

	workers    int
	maxRetries int
	retryDelay time.Duration

	// stored counts rows written since the processor started
	stored atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

func NewBatchProcessor(db TxRunner, q *queue.TransactionQueue, cfg *config.Config, logger *logrus.Logger) *BatchProcessor {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BatchProcessor{
		db:         db,
		queue:      q,
		logger:     logger,
		workers:    cfg.Ingest.ProcessorCount,
		maxRetries: cfg.Ingest.MaxRetries,
		retryDelay: time.Duration(cfg.Ingest.RetryDelay) * time.Second,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the queue and starts its consumers
func (p *BatchProcessor) Start() {
	p.queue.Subscribe(p.processBatch)
	p.queue.Start(p.workers)
}

// Stop interrupts pending retries and waits for the consumers to finish
func (p *BatchProcessor) Stop() {
	p.cancel()
	if err := p.queue.Close(); err != nil {
		p.logger.WithError(err).Error("Failed to close queue")
	}
}

// Stored returns the number of transactions written so far
func (p *BatchProcessor) Stored() int64 {
	return p.stored.Load()
}

// processBatch writes one batch in a single database transaction, retrying
// up to maxRetries more times
func (p *BatchProcessor) processBatch(batch []*models.Transaction) error {
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Infof("Retrying batch, attempt %d of %d", attempt, p.maxRetries)
			select {
			case <-p.ctx.Done():
				storedTotal.WithLabelValues("failed").Add(float64(len(batch)))
				return fmt.Errorf("batch abandoned on shutdown: %w", err)
			case <-time.After(p.retryDelay):
			}
		}

		err = p.db.Transaction(func(tx *gorm.DB) error {
			return database.UpsertTransactions(tx, batch)
		})
		if err == nil {
			p.stored.Add(int64(len(batch)))
			storedTotal.WithLabelValues("stored").Add(float64(len(batch)))
			p.logger.WithField("batch_size", len(batch)).Info("Stored transaction batch")
			return nil
		}

		p.logger.WithError(err).Error("Batch processing failed")
	}

	storedTotal.WithLabelValues("failed").Add(float64(len(batch)))
	return fmt.Errorf("failed to process batch after %d attempts: %w", p.maxRetries+1, err)
}
