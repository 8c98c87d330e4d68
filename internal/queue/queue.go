// Package queue buffers incoming transaction batches between the API and
// the writers that store them.
package queue

import (
	"errors"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/choiwjun/chamgab-sub000/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// Handler consumes one batch
type Handler func([]*models.Transaction) error

// TransactionQueue is an in-memory queue of transaction batches. Every
// subscribed handler sees every batch.
type TransactionQueue struct {
	items    chan []*models.Transaction
	done     chan struct{}
	maxSize  int
	closed   bool
	mu       sync.RWMutex
	workers  sync.WaitGroup
	logger   *logrus.Logger
	handlers []Handler
}

// NewTransactionQueue creates a queue holding up to bufferSize batches
func NewTransactionQueue(bufferSize int, logger *logrus.Logger) *TransactionQueue {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &TransactionQueue{
		items:   make(chan []*models.Transaction, bufferSize),
		done:    make(chan struct{}),
		maxSize: bufferSize,
		logger:  logger,
	}
}

// Push adds a batch without blocking
func (q *TransactionQueue) Push(batch []*models.Transaction) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- batch:
		queueDepth.Set(float64(len(q.items)))
		q.logger.WithField("batch_size", len(batch)).Debug("Pushed batch to queue")
		return nil
	default:
		return ErrQueueFull
	}
}

// Subscribe adds a handler called for each batch
func (q *TransactionQueue) Subscribe(handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start launches the given number of consumer goroutines
func (q *TransactionQueue) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.workers.Add(1)
		go q.process()
	}
}

func (q *TransactionQueue) process() {
	defer q.workers.Done()
	for {
		select {
		case <-q.done:
			return
		case batch := <-q.items:
			queueDepth.Set(float64(len(q.items)))
			q.dispatch(batch)
		}
	}
}

func (q *TransactionQueue) dispatch(batch []*models.Transaction) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(batch); err != nil {
			q.logger.WithError(err).WithField("batch_size", len(batch)).Error("Handler failed to process batch")
		}
	}
}

// Close stops accepting batches and waits for the consumers to return.
// Batches still buffered are dropped.
func (q *TransactionQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.workers.Wait()
	if dropped := len(q.items); dropped > 0 {
		q.logger.WithField("batches", dropped).Warn("Queue closed with pending batches")
	}
	return nil
}

// Len returns the number of buffered batches
func (q *TransactionQueue) Len() int {
	return len(q.items)
}

func (q *TransactionQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
