package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Enqueue when the buffer has no room left.
	ErrQueueFull = errors.New("queue full")
	// ErrQueueClosed is returned by Enqueue before Start or after Stop.
	ErrQueueClosed = errors.New("queue closed")
)

// Job is a unit of work carrying a typed payload.
type Job[T any] struct {
	ID       string
	Kind     string
	Payload  T
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job.
type Handler[T any] func(context.Context, Job[T]) error

// Config tunes the worker pool.
type Config[T any] struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	// DrainTimeout bounds how long Stop keeps delivering buffered jobs.
	DrainTimeout time.Duration
	// OnAbandon is called once a job has exhausted its retries.
	OnAbandon func(Job[T], error)
	Logger    *zap.Logger
}

// Queue dispatches jobs to a fixed pool of goroutines. Enqueue never blocks:
// producers are request handlers that must not wait on delivery.
type Queue[T any] struct {
	name    string
	handler Handler[T]
	cfg     Config[T]
	logger  *zap.Logger

	jobs    chan Job[T]
	ctx     context.Context
	cancel  context.CancelFunc
	retries sync.WaitGroup
	workers sync.WaitGroup
	mu      sync.RWMutex
	state   queueState
}

type queueState int

const (
	stateIdle queueState = iota
	stateRunning
	stateStopped
)

// New builds a queue. Zero config values fall back to one worker, four
// buffered jobs per worker, three retries one second apart and a five
// second drain.
func New[T any](name string, handler Handler[T], cfg Config[T]) *Queue[T] {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue[T]{
		name:    name,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With(zap.String("queue", name)),
		jobs:    make(chan Job[T], cfg.BufferSize),
	}
}

// Start launches the workers. Later calls are no-ops.
func (q *Queue[T]) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != stateIdle {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		q.workers.Add(1)
		go q.work()
	}
	q.state = stateRunning
	q.logger.Info("queue started", zap.Int("workers", q.cfg.Workers))
}

// Stop refuses new jobs, cancels pending retries and lets the workers finish
// what is already buffered, up to DrainTimeout.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	if q.state != stateRunning {
		q.mu.Unlock()
		return
	}
	q.state = stateStopped
	q.cancel()
	q.mu.Unlock()

	q.retries.Wait()
	close(q.jobs)

	done := make(chan struct{})
	go func() {
		q.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.logger.Info("queue stopped")
	case <-time.After(q.cfg.DrainTimeout):
		q.logger.Warn("queue drain timed out", zap.Int("pending", len(q.jobs)))
	}
}

// Enqueue buffers a job, failing fast with ErrQueueFull or ErrQueueClosed.
func (q *Queue[T]) Enqueue(job Job[T]) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.state != stateRunning {
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueClosed)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueFull)
	}
}

// Name identifies the queue in logs.
func (q *Queue[T]) Name() string {
	return q.name
}

func (q *Queue[T]) work() {
	defer q.workers.Done()
	for job := range q.jobs {
		if err := q.run(job); err != nil {
			q.retry(job, err)
		}
	}
}

// run shields the worker from handler panics. Handlers get a context that
// survives Stop so buffered jobs can still be delivered while draining.
func (q *Queue[T]) run(job Job[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return q.handler(context.WithoutCancel(q.ctx), job)
}

func (q *Queue[T]) retry(job Job[T], err error) {
	job.Attempt++
	if job.Attempt > q.cfg.MaxRetries {
		q.abandon(job, err)
		return
	}
	q.logger.Warn("job failed, retrying",
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Int("attempt", job.Attempt),
		zap.Error(err),
	)

	q.mu.RLock()
	running := q.state == stateRunning
	if running {
		q.retries.Add(1)
	}
	q.mu.RUnlock()
	if !running {
		q.abandon(job, err)
		return
	}

	go func() {
		defer q.retries.Done()
		timer := time.NewTimer(q.cfg.RetryDelay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
			q.abandon(job, err)
		case <-timer.C:
			if enqueueErr := q.Enqueue(job); enqueueErr != nil {
				q.abandon(job, enqueueErr)
			}
		}
	}()
}

func (q *Queue[T]) abandon(job Job[T], err error) {
	q.logger.Error("job abandoned",
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Int("attempts", job.Attempt),
		zap.Error(err),
	)
	if q.cfg.OnAbandon != nil {
		q.cfg.OnAbandon(job, err)
	}
}
