package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cvbuilder/cvbuilder-api/internal/store/model"
	"github.com/cvbuilder/cvbuilder-api/internal/util"
	"github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// JobRunner claims and executes jobs.
type JobRunner interface {
	Claim(ctx context.Context, limit int) (model.JobList, error)
	Execute(ctx context.Context, job model.Job) error
	ReapStale(ctx context.Context, threshold time.Time, autoRetry bool) (int, error)
}

// JobCleaner removes completed jobs past their retention.
type JobCleaner interface {
	ClearCompleted(ctx context.Context) (int64, error)
}

type Config struct {
	Concurrency        int
	PollInterval       time.Duration
	StaleJobThreshold  time.Duration
	ReapInterval       time.Duration
	AutoRetryAbandoned bool
	RetentionInterval  time.Duration
}

// Pool runs claimed jobs on a fixed number of goroutines. Polling, stale job
// reaping and retention each run on their own jittered ticker.
type Pool struct {
	runner   JobRunner
	cleaner  JobCleaner
	cfg      Config
	clock    util.Clock
	log      *zap.SugaredLogger
	inflight atomic.Int32

	mu         sync.Mutex
	started    bool
	stopLoops  context.CancelFunc
	stopJobs   context.CancelFunc
	loops      *errgroup.Group
	workers    sync.WaitGroup
	workersEnd chan struct{}
}

func NewPool(runner JobRunner, cleaner JobCleaner, cfg Config, clock util.Clock) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if clock == nil {
		clock = util.SystemClock
	}
	return &Pool{
		runner:  runner,
		cleaner: cleaner,
		cfg:     cfg,
		clock:   clock,
		log:     zap.S().Named("worker_pool"),
	}
}

// Start launches the workers and the background loops. It returns immediately.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	// jobs keep running after ctx is done, until Stop gives up on them
	jobCtx, stopJobs := context.WithCancel(context.WithoutCancel(ctx))
	loopCtx, stopLoops := context.WithCancel(ctx)
	p.stopJobs = stopJobs
	p.stopLoops = stopLoops

	// the poll loop closes the queue on stop, so every run gets its own
	queue := make(chan model.Job, p.cfg.Concurrency)

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.workers.Add(1)
		go p.work(jobCtx, queue)
	}
	p.workersEnd = make(chan struct{})
	go func() {
		p.workers.Wait()
		close(p.workersEnd)
	}()

	p.loops = new(errgroup.Group)
	p.loops.Go(func() error {
		defer close(queue)
		p.every(loopCtx, p.cfg.PollInterval, func(ctx context.Context) { p.poll(ctx, queue) })
		return nil
	})
	if p.cfg.ReapInterval > 0 && p.cfg.StaleJobThreshold > 0 {
		p.loops.Go(func() error {
			p.every(loopCtx, p.cfg.ReapInterval, func(ctx context.Context) { _, _ = p.ReapOnce(ctx) })
			return nil
		})
	}
	if p.cleaner != nil && p.cfg.RetentionInterval > 0 {
		p.loops.Go(func() error {
			p.every(loopCtx, p.cfg.RetentionInterval, func(ctx context.Context) { _, _ = p.RetainOnce(ctx) })
			return nil
		})
	}

	p.log.Infow("worker pool started", "concurrency", p.cfg.Concurrency, "poll_interval", p.cfg.PollInterval)
}

// Stop stops claiming new jobs and waits for running ones. When ctx is done
// before they finish, running jobs are interrupted and recorded as abandoned.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	p.started = false

	p.stopLoops()
	_ = p.loops.Wait()

	select {
	case <-p.workersEnd:
		p.stopJobs()
		p.log.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.stopJobs()
		<-p.workersEnd
		p.log.Warnw("worker pool stopped before running jobs finished", "error", ctx.Err())
		return ctx.Err()
	}
}

// RunOnce claims up to Concurrency jobs and executes them on the calling
// goroutine. It returns the number of jobs executed.
func (p *Pool) RunOnce(ctx context.Context) (int, error) {
	claimed, err := p.runner.Claim(ctx, p.cfg.Concurrency)
	if err != nil {
		return 0, err
	}
	for _, job := range claimed {
		p.execute(ctx, job)
	}
	return len(claimed), nil
}

func (p *Pool) ReapOnce(ctx context.Context) (int, error) {
	threshold := p.clock.Now().Add(-p.cfg.StaleJobThreshold)
	reaped, err := p.runner.ReapStale(ctx, threshold, p.cfg.AutoRetryAbandoned)
	if err != nil {
		p.log.Errorw("failed to reap stale jobs", "error", err)
		return 0, err
	}
	if reaped > 0 {
		p.log.Infow("stale jobs abandoned", "count", reaped, "auto_retry", p.cfg.AutoRetryAbandoned)
	}
	return reaped, nil
}

func (p *Pool) RetainOnce(ctx context.Context) (int64, error) {
	cleared, err := p.cleaner.ClearCompleted(ctx)
	if err != nil {
		p.log.Errorw("failed to clear completed jobs", "error", err)
		return 0, err
	}
	if cleared > 0 {
		p.log.Infow("completed jobs cleared", "count", cleared)
	}
	return cleared, nil
}

func (p *Pool) poll(ctx context.Context, queue chan<- model.Job) {
	idle := p.cfg.Concurrency - int(p.inflight.Load())
	if idle <= 0 {
		return
	}

	claimed, err := p.runner.Claim(context.WithoutCancel(ctx), idle)
	if err != nil {
		p.log.Errorw("failed to claim jobs", "error", err)
		return
	}

	for _, job := range claimed {
		p.inflight.Add(1)
		// a claimed job is running already: hand it over even if the pool is stopping
		queue <- job
	}
}

func (p *Pool) work(ctx context.Context, queue <-chan model.Job) {
	defer p.workers.Done()
	for job := range queue {
		p.execute(ctx, job)
		p.inflight.Add(-1)
	}
}

func (p *Pool) execute(ctx context.Context, job model.Job) {
	if err := p.runner.Execute(ctx, job); err != nil {
		p.log.Errorw("failed to record job outcome", "job_id", job.ID, "type", job.Type, "error", err)
	}
}

func (p *Pool) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: interval / 10, Mean: 0})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
