package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the job buffer has no room.
	ErrQueueFull = errors.New("worker queue full")
	// ErrStopped is returned when submitting to a stopped pool.
	ErrStopped = errors.New("worker pool stopped")
)

type job struct {
	name string
	run  func(context.Context) error
}

// Pool runs background jobs, such as outbound mail, on a fixed set of
// goroutines so event dispatch never waits on SMTP.
type Pool struct {
	workers    int
	jobTimeout time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	jobs    chan job
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Options tunes the pool.
type Options struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// NewPool builds a pool. Call Start before submitting.
func NewPool(opts Options, logger *zap.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		workers:    opts.Workers,
		jobTimeout: opts.JobTimeout,
		logger:     logger.Named("worker"),
		jobs:       make(chan job, opts.QueueSize),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.stopped {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.loop(runCtx, i)
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.workers))
}

// Enqueue submits fn without blocking.
func (p *Pool) Enqueue(name string, fn func(context.Context) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- job{name: name, run: fn}:
		return nil
	default:
		p.logger.Warn("dropping job, queue full", zap.String("job", name))
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for queued jobs to finish or ctx to end.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	running := p.running
	p.mu.Unlock()

	if !running {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) loop(ctx context.Context, idx int) {
	defer p.wg.Done()
	for j := range p.jobs {
		p.run(ctx, idx, j)
	}
}

func (p *Pool) run(ctx context.Context, idx int, j job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic recovered in job",
				zap.Int("worker", idx),
				zap.String("job", j.name),
				zap.String("panic", fmt.Sprintf("%v", r)),
			)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()
	start := time.Now()
	if err := j.run(jobCtx); err != nil {
		p.logger.Error("job failed",
			zap.Int("worker", idx),
			zap.String("job", j.name),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("job done", zap.String("job", j.name), zap.Duration("took", time.Since(start)))
}
