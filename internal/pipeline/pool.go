package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/master-pd/bot-master/internal/update"
)

var (
	// ErrQueueFull is returned by Submit when every worker is busy and the
	// queue is at capacity.
	ErrQueueFull = errors.New("pipeline: queue full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("pipeline: pool closed")
)

// Job is one accepted update.
type Job struct {
	ID       string
	Event    *update.Event
	Received time.Time
}

// JobFunc processes one job.
type JobFunc func(ctx context.Context, job Job)

// PoolConfig sizes a Pool.
type PoolConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// Pool runs jobs on a fixed set of workers. Jobs are unordered relative to
// each other.
type Pool struct {
	jobs    chan Job
	run     JobFunc
	timeout time.Duration
	sink    ErrorSink
	stats   *Stats

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts cfg.Workers workers. sink and stats may be nil.
func NewPool(cfg PoolConfig, run JobFunc, sink ErrorSink, stats *Stats) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	if stats == nil {
		stats = &Stats{}
	}

	p := &Pool{
		jobs:    make(chan Job, cfg.QueueSize),
		run:     run,
		timeout: cfg.JobTimeout,
		sink:    sink,
		stats:   stats,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues ev without blocking and returns the job id.
func (p *Pool) Submit(ev *update.Event) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return "", ErrClosed
	}

	job := Job{ID: uuid.NewString(), Event: ev, Received: time.Now()}
	select {
	case p.jobs <- job:
		p.stats.Accepted.Add(1)
		return job.ID, nil
	default:
		p.stats.Rejected.Add(1)
		return "", ErrQueueFull
	}
}

// Close stops accepting jobs and waits for queued jobs to finish or ctx
// to expire.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline drain: %w", ctx.Err())
	}
}

// Pending returns the number of queued jobs.
func (p *Pool) Pending() int { return len(p.jobs) }

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.execute(job)
	}
}

func (p *Pool) execute(job Job) {
	p.stats.InFlight.Add(1)
	defer p.stats.InFlight.Add(-1)

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.stats.Failures.Add(1)
			slog.Error("pipeline job panicked", "job_id", job.ID, "update_id", job.Event.ID,
				"panic", r, "stack", string(debug.Stack()))
			p.sink.Report(Failure{JobID: job.ID, UpdateID: job.Event.ID, Stage: StagePanic, Err: fmt.Sprint(r)})
		}
	}()

	p.run(ctx, job)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		p.stats.Failures.Add(1)
		slog.Warn("pipeline job exceeded budget", "job_id", job.ID, "update_id", job.Event.ID,
			"budget", p.timeout, "elapsed", time.Since(job.Received))
		p.sink.Report(Failure{JobID: job.ID, UpdateID: job.Event.ID, Stage: StageTimeout,
			Err: context.DeadlineExceeded.Error()})
	}
}
