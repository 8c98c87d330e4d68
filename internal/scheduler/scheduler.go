package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/choiwjun/chamgab-sub000/internal/artifacts"
	"github.com/choiwjun/chamgab-sub000/internal/models"
	"github.com/choiwjun/chamgab-sub000/internal/training"
)

// JobType represents the maintenance jobs the scheduler runs
type JobType int

const (
	JobTypeRetrain JobType = iota
	JobTypeDeduplicate
)

// String returns the string representation of a JobType
func (j JobType) String() string {
	switch j {
	case JobTypeRetrain:
		return "retrain"
	case JobTypeDeduplicate:
		return "deduplicate"
	default:
		return "unknown"
	}
}

var ErrUnknownJob = errors.New("unknown job type")

// History loads the transactions a retrain learns from
type History interface {
	ListTransactions(ctx context.Context, batchSize int) ([]models.Transaction, error)
}

// Deduplicator merges duplicate complex rows
type Deduplicator interface {
	DeduplicateComplexes(ctx context.Context) (int, error)
}

type Trainer interface {
	Train(ctx context.Context, txs []models.Transaction) (*training.Result, error)
}

// Swapper installs a freshly trained set for serving
type Swapper interface {
	Swap(set *artifacts.Set) (*artifacts.Bundle, error)
}

// Scheduler periodically retrains the model and swaps the new artifacts
// in. A failed job leaves the serving artifacts untouched.
type Scheduler struct {
	history  History
	dedup    Deduplicator
	trainer  Trainer
	store    artifacts.Store
	swapper  Swapper
	interval time.Duration
	logger   *logrus.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	jobMutex sync.Mutex // Ensures sequential job execution
}

// NewScheduler creates a new scheduler. dedup may be nil.
func NewScheduler(history History, dedup Deduplicator, trainer Trainer, store artifacts.Store, swapper Swapper, interval time.Duration, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}
	if interval <= 0 {
		interval = 7 * 24 * time.Hour
	}
	return &Scheduler{
		history:  history,
		dedup:    dedup,
		trainer:  trainer,
		store:    store,
		swapper:  swapper,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic retrain loop
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.runScheduler()
}

// Stop ends the loop and waits for a running job to finish
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Scheduler) runScheduler() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := s.jobContext()
			if s.dedup != nil {
				if err := s.Run(ctx, JobTypeDeduplicate); err != nil {
					s.logger.WithError(err).Error("Scheduled deduplication failed")
				}
			}
			if err := s.Run(ctx, JobTypeRetrain); err != nil {
				s.logger.WithError(err).Error("Scheduled retrain failed, previous artifacts keep serving")
			}
			cancel()
		}
	}
}

// jobContext is cancelled when the scheduler stops
func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Run executes one job now. Jobs never overlap.
func (s *Scheduler) Run(ctx context.Context, job JobType) error {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	start := time.Now()
	logger := s.logger.WithField("job", job.String())
	logger.Info("Starting job")

	var err error
	switch job {
	case JobTypeRetrain:
		err = s.retrain(ctx)
	case JobTypeDeduplicate:
		err = s.deduplicate(ctx)
	default:
		err = fmt.Errorf("%w: %d", ErrUnknownJob, job)
	}
	if err != nil {
		return err
	}

	logger.WithField("duration", time.Since(start).String()).Info("Completed job")
	return nil
}

func (s *Scheduler) retrain(ctx context.Context) error {
	txs, err := s.history.ListTransactions(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	result, err := s.trainer.Train(ctx, txs)
	if err != nil {
		return fmt.Errorf("failed to train: %w", err)
	}

	// Saved first so a restart serves what is in memory
	if err := s.store.Save(result.Set); err != nil {
		return fmt.Errorf("failed to save artifacts: %w", err)
	}
	if _, err := s.swapper.Swap(result.Set); err != nil {
		return fmt.Errorf("failed to swap artifacts: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"version": result.Set.Version,
		"rows":    len(txs),
		"mape":    result.Set.Metrics.MAPE,
	}).Info("Retrained model is serving")
	return nil
}

func (s *Scheduler) deduplicate(ctx context.Context) error {
	if s.dedup == nil {
		return nil
	}
	removed, err := s.dedup.DeduplicateComplexes(ctx)
	if err != nil {
		return fmt.Errorf("failed to deduplicate complexes: %w", err)
	}
	s.logger.WithField("removed", removed).Info("Deduplicated complexes")
	return nil
}
