package worker_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cvbuilder/cvbuilder-api/internal/config"
	"github.com/cvbuilder/cvbuilder-api/internal/jobs"
	"github.com/cvbuilder/cvbuilder-api/internal/service"
	"github.com/cvbuilder/cvbuilder-api/internal/store"
	"github.com/cvbuilder/cvbuilder-api/internal/store/model"
	"github.com/cvbuilder/cvbuilder-api/internal/util"
	"github.com/cvbuilder/cvbuilder-api/internal/worker"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

type fakeRunner struct {
	mu        sync.Mutex
	queued    model.JobList
	executed  []uuid.UUID
	block     chan struct{}
	reapCalls []time.Time
	autoRetry bool
}

func (f *fakeRunner) Claim(_ context.Context, limit int) (model.JobList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.queued) {
		limit = len(f.queued)
	}
	claimed := f.queued[:limit]
	f.queued = f.queued[limit:]
	return claimed, nil
}

func (f *fakeRunner) Execute(ctx context.Context, job model.Job) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, job.ID)
	return nil
}

func (f *fakeRunner) ReapStale(_ context.Context, threshold time.Time, autoRetry bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reapCalls = append(f.reapCalls, threshold)
	f.autoRetry = autoRetry
	return 0, nil
}

func (f *fakeRunner) Executed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

type fakeCleaner struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeCleaner) ClearCompleted(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 0, errors.New("database is locked")
}

func queuedJobs(n int) model.JobList {
	list := make(model.JobList, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, model.Job{ID: uuid.New(), Type: jobs.KindReviewCvAgainstJd, Status: model.JobStatusRunning})
	}
	return list
}

var baseTime = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

var _ = Describe("worker pool", func() {
	var clock util.Clock

	BeforeEach(func() {
		clock = util.ClockFunc(func() time.Time { return baseTime })
	})

	Context("run once", func() {
		It("executes up to concurrency jobs", func() {
			runner := &fakeRunner{queued: queuedJobs(5)}
			pool := worker.NewPool(runner, nil, worker.Config{Concurrency: 3}, clock)

			n, err := pool.RunOnce(context.TODO())
			Expect(err).To(BeNil())
			Expect(n).To(Equal(3))
			Expect(runner.Executed()).To(Equal(3))
		})
	})

	Context("reap once", func() {
		It("uses the stale threshold relative to now", func() {
			runner := &fakeRunner{}
			pool := worker.NewPool(runner, nil, worker.Config{StaleJobThreshold: 15 * time.Minute, AutoRetryAbandoned: true}, clock)

			_, err := pool.ReapOnce(context.TODO())
			Expect(err).To(BeNil())
			Expect(runner.reapCalls).To(HaveLen(1))
			Expect(runner.reapCalls[0]).To(Equal(baseTime.Add(-15 * time.Minute)))
			Expect(runner.autoRetry).To(BeTrue())
		})
	})

	Context("retain once", func() {
		It("reports cleaner failures", func() {
			cleaner := &fakeCleaner{}
			pool := worker.NewPool(&fakeRunner{}, cleaner, worker.Config{}, clock)

			_, err := pool.RetainOnce(context.TODO())
			Expect(err).ToNot(BeNil())
			Expect(cleaner.calls).To(Equal(1))
		})
	})

	Context("start and stop", func() {
		It("drains every queued job", func() {
			runner := &fakeRunner{queued: queuedJobs(10)}
			pool := worker.NewPool(runner, nil, worker.Config{Concurrency: 2, PollInterval: 10 * time.Millisecond}, clock)

			pool.Start(context.TODO())
			Eventually(runner.Executed).WithTimeout(5 * time.Second).Should(Equal(10))
			Expect(pool.Stop(context.TODO())).To(Succeed())
		})

		It("runs again after a stop", func() {
			runner := &fakeRunner{queued: queuedJobs(2)}
			pool := worker.NewPool(runner, nil, worker.Config{Concurrency: 2, PollInterval: 10 * time.Millisecond}, clock)

			pool.Start(context.TODO())
			Eventually(runner.Executed).WithTimeout(5 * time.Second).Should(Equal(2))
			Expect(pool.Stop(context.TODO())).To(Succeed())

			runner.mu.Lock()
			runner.queued = queuedJobs(3)
			runner.mu.Unlock()

			Expect(func() { pool.Start(context.TODO()) }).ToNot(Panic())
			Eventually(runner.Executed).WithTimeout(5 * time.Second).Should(Equal(5))
			Expect(pool.Stop(context.TODO())).To(Succeed())
		})

		It("waits for running jobs on stop", func() {
			runner := &fakeRunner{queued: queuedJobs(1), block: make(chan struct{})}
			pool := worker.NewPool(runner, nil, worker.Config{Concurrency: 1, PollInterval: 10 * time.Millisecond}, clock)

			pool.Start(context.TODO())
			Eventually(func() int {
				runner.mu.Lock()
				defer runner.mu.Unlock()
				return len(runner.queued)
			}).WithTimeout(5 * time.Second).Should(BeZero())

			stopped := make(chan error)
			go func() {
				stopped <- pool.Stop(context.TODO())
			}()
			Consistently(stopped, 100*time.Millisecond).ShouldNot(Receive())

			close(runner.block)
			Eventually(stopped).WithTimeout(5 * time.Second).Should(Receive(BeNil()))
			Expect(runner.Executed()).To(Equal(1))
		})

		It("interrupts running jobs when the stop deadline passes", func() {
			runner := &fakeRunner{queued: queuedJobs(1), block: make(chan struct{})}
			pool := worker.NewPool(runner, nil, worker.Config{Concurrency: 1, PollInterval: 10 * time.Millisecond}, clock)

			pool.Start(context.TODO())
			Eventually(func() int {
				runner.mu.Lock()
				defer runner.mu.Unlock()
				return len(runner.queued)
			}).WithTimeout(5 * time.Second).Should(BeZero())

			ctx, cancel := context.WithTimeout(context.TODO(), 50*time.Millisecond)
			defer cancel()
			Expect(pool.Stop(ctx)).To(MatchError(context.DeadlineExceeded))
			Expect(runner.Executed()).To(BeZero())
		})
	})
})

var _ = Describe("worker pool with job service", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
	)

	BeforeAll(func() {
		db, err := store.InitDB(config.NewDefault())
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration(context.TODO())).To(Succeed())
	})

	AfterAll(func() {
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM jobs;")
	})

	It("runs queued jobs by priority to completion", func() {
		ctx := context.TODO()
		orchestrator := &reviewer{}
		jobSrv := service.NewJobService(s, jobs.NewRegistry(), orchestrator)

		low, err := jobSrv.CreateReviewJob(ctx, "low", "jd", 0)
		Expect(err).To(BeNil())
		high, err := jobSrv.CreateReviewJob(ctx, "high", "jd", 10)
		Expect(err).To(BeNil())

		pool := worker.NewPool(jobSrv, nil, worker.Config{Concurrency: 1}, nil)
		n, err := pool.RunOnce(ctx)
		Expect(err).To(BeNil())
		Expect(n).To(Equal(1))

		done, err := jobSrv.Get(ctx, high.ID)
		Expect(err).To(BeNil())
		Expect(done.Status).To(Equal(model.JobStatusSucceeded))
		Expect(string(done.Output)).To(MatchJSON(`{"review":"reviewed high"}`))

		waiting, err := jobSrv.Get(ctx, low.ID)
		Expect(err).To(BeNil())
		Expect(waiting.Status).To(Equal(model.JobStatusQueued))
	})
})

type reviewer struct{}

func (r *reviewer) ReviewCvAgainstJd(_ context.Context, cvText, _ string) (string, error) {
	return "reviewed " + cvText, nil
}

func (r *reviewer) BuildSectionRubric(context.Context, jobs.BuildRubricInput) (jobs.SectionRubric, error) {
	return jobs.SectionRubric{}, errors.New("not supported")
}
