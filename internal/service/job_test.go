package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cvbuilder/cvbuilder-api/internal/config"
	"github.com/cvbuilder/cvbuilder-api/internal/events"
	"github.com/cvbuilder/cvbuilder-api/internal/jobs"
	"github.com/cvbuilder/cvbuilder-api/internal/service"
	"github.com/cvbuilder/cvbuilder-api/internal/store"
	"github.com/cvbuilder/cvbuilder-api/internal/store/model"
	"github.com/cvbuilder/cvbuilder-api/internal/util"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("job service", Ordered, func() {
	var (
		s            store.Store
		gormdb       *gorm.DB
		ctx          context.Context
		clock        *fakeClock
		orchestrator *fakeOrchestrator
		registry     *jobs.Registry
		writer       *testwriter
		srv          *service.JobService
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

	BeforeEach(func() {
		ctx = context.TODO()
		clock = newFakeClock(baseTime)
		orchestrator = &fakeOrchestrator{}
		registry = jobs.NewRegistry()
		writer = newTestWriter()
		srv = service.NewJobService(s, registry, orchestrator, service.WithClock(clock), service.WithEventWriter(writer))
		service.NewJobDescriptionService(s, srv, orchestrator)
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM jobs;")
		gormdb.Exec("DELETE FROM job_descriptions;")
	})

	Context("create", func() {
		It("admits a queued job without running it", func() {
			job, err := srv.Create(ctx, jobs.KindBuildCvSectionRubric, []byte(`{"title":"Engineer"}`), 0)
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusQueued))
			Expect(string(job.Input)).To(MatchJSON(`{"title":"Engineer"}`))
			Expect(job.CreatedAt).To(BeTemporally("==", baseTime))
			Expect(job.StartedAt).To(BeNil())
			Expect(job.CompletedAt).To(BeNil())

			stored, err := srv.Get(ctx, job.ID)
			Expect(err).To(BeNil())
			Expect(stored.Status).To(Equal(model.JobStatusQueued))
			Expect(writer.Kinds()).To(Equal([]string{events.JobCreatedKind}))
		})

		It("uses the injected id generator", func() {
			id := uuid.MustParse("6f1c1b55-8f5a-4f43-9a5c-3ad1f0a1d001")
			withIDs := service.NewJobService(s, registry, orchestrator,
				service.WithClock(clock),
				service.WithIDGenerator(util.IDGeneratorFunc(func() uuid.UUID { return id })))

			job, err := withIDs.CreateReviewJob(ctx, "my cv", "the jd", 1)
			Expect(err).To(BeNil())
			Expect(job.ID).To(Equal(id))
			Expect(job.Type).To(Equal(jobs.KindReviewCvAgainstJd))
			Expect(job.Priority).To(Equal(1))
		})

		DescribeTable("rejects invalid requests without persisting a row",
			func(kind jobs.Kind, input string) {
				_, err := srv.Create(ctx, kind, []byte(input), 0)
				Expect(err).ToNot(BeNil())

				var invalid *service.ErrInvalidRequest
				Expect(errors.As(err, &invalid)).To(BeTrue())
				Expect(invalid.Code()).To(Equal(service.CodeInvalidJobInput))

				count, err := s.Job().Count(ctx, nil)
				Expect(err).To(BeNil())
				Expect(count).To(BeZero())
			},
			Entry("unknown kind", jobs.Kind("Translate"), `{"title":"Engineer"}`),
			Entry("empty input", jobs.KindBuildCvSectionRubric, ``),
			Entry("malformed input", jobs.KindBuildCvSectionRubric, `{"title":`),
			Entry("missing required field", jobs.KindBuildCvSectionRubric, `{"company":"Acme"}`),
			Entry("missing review text", jobs.KindReviewCvAgainstJd, `{"cvText":"cv"}`),
		)
	})

	Context("get", func() {
		It("returns a not found error for an unknown job", func() {
			_, err := srv.Get(ctx, uuid.New())
			var notFound *service.ErrResourceNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
			Expect(notFound.Code()).To(Equal(service.CodeJobNotFound))
		})
	})

	Context("update", func() {
		var job *model.Job

		BeforeEach(func() {
			var err error
			job, err = srv.CreateReviewJob(ctx, "cv", "jd", 0)
			Expect(err).To(BeNil())
		})

		It("completes a running job", func() {
			_, err := srv.UpdateJob(ctx, job.ID, model.JobStatusRunning, nil, nil)
			Expect(err).To(BeNil())

			clock.Advance(time.Minute)
			done, err := srv.CompleteJob(ctx, job.ID, []byte(`{"review":"great match"}`))
			Expect(err).To(BeNil())
			Expect(done.Status).To(Equal(model.JobStatusSucceeded))
			Expect(string(done.Output)).To(MatchJSON(`{"review":"great match"}`))
			Expect(*done.CompletedAt).To(BeTemporally("==", baseTime.Add(time.Minute)))

			_, err = srv.FailJob(ctx, job.ID, model.JobErrorCodeAIError, "late failure")
			var completed *service.ErrJobAlreadyCompleted
			Expect(errors.As(err, &completed)).To(BeTrue())

			stored, err := srv.Get(ctx, job.ID)
			Expect(err).To(BeNil())
			Expect(stored.Status).To(Equal(model.JobStatusSucceeded))
			Expect(stored.ErrorMessage).To(BeNil())
			Expect(writer.Kinds()).To(Equal([]string{events.JobCreatedKind, events.JobStartedKind, events.JobSucceededKind}))
		})

		DescribeTable("rejects output that does not match the job kind",
			func(output []byte) {
				_, err := srv.UpdateJob(ctx, job.ID, model.JobStatusRunning, nil, nil)
				Expect(err).To(BeNil())

				_, err = srv.CompleteJob(ctx, job.ID, output)
				var invalid *service.ErrInvalidRequest
				Expect(errors.As(err, &invalid)).To(BeTrue())
				Expect(invalid.Code()).To(Equal(service.CodeInvalidJobOutput))

				stored, err := srv.Get(ctx, job.ID)
				Expect(err).To(BeNil())
				Expect(stored.Status).To(Equal(model.JobStatusRunning))
				Expect(stored.Output).To(BeEmpty())
				Expect(stored.CompletedAt).To(BeNil())
			},
			Entry("nil output", nil),
			Entry("null output", []byte(`null`)),
			Entry("output of another kind", []byte(`{"score":42}`)),
		)

		It("validates a rubric and writes it back when completed directly", func() {
			jd := model.JobDescription{ID: uuid.New(), Title: "Engineer", CreatedAt: baseTime, UpdatedAt: baseTime}
			_, err := s.JobDescription().Create(ctx, jd)
			Expect(err).To(BeNil())

			rubricJob, err := srv.Create(ctx, jobs.KindBuildCvSectionRubric, []byte(`{"jobDescriptionId":"`+jd.ID.String()+`","title":"Engineer"}`), 0)
			Expect(err).To(BeNil())
			_, err = srv.UpdateJob(ctx, rubricJob.ID, model.JobStatusRunning, nil, nil)
			Expect(err).To(BeNil())

			_, err = srv.CompleteJob(ctx, rubricJob.ID, []byte(`{"score":42}`))
			var invalid *service.ErrInvalidRequest
			Expect(errors.As(err, &invalid)).To(BeTrue())

			stored, err := srv.Get(ctx, rubricJob.ID)
			Expect(err).To(BeNil())
			Expect(stored.Status).To(Equal(model.JobStatusRunning))

			rubric := `{"sections":[{"name":"Experience","weight":1}]}`
			done, err := srv.CompleteJob(ctx, rubricJob.ID, []byte(rubric))
			Expect(err).To(BeNil())
			Expect(done.Status).To(Equal(model.JobStatusSucceeded))

			updated, err := s.JobDescription().Get(ctx, jd.ID)
			Expect(err).To(BeNil())
			Expect(string(updated.SectionRubric)).To(MatchJSON(rubric))
		})

		It("rejects completing a queued job", func() {
			_, err := srv.CompleteJob(ctx, job.ID, []byte(`{"review":"ok"}`))
			var conflict *service.ErrJobConflict
			Expect(errors.As(err, &conflict)).To(BeTrue())
		})

		It("starts a job exactly once under concurrent attempts", func() {
			const attempts = 8
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
			)
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					if _, err := srv.UpdateJob(ctx, job.ID, model.JobStatusRunning, nil, nil); err == nil {
						mu.Lock()
						successes++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			Expect(successes).To(Equal(1))
			stored, err := srv.Get(ctx, job.ID)
			Expect(err).To(BeNil())
			Expect(stored.Status).To(Equal(model.JobStatusRunning))
			Expect(*stored.StartedAt).To(BeTemporally("==", baseTime))
		})

		It("keeps a canceled job canceled when the result arrives late", func() {
			_, err := srv.UpdateJob(ctx, job.ID, model.JobStatusRunning, nil, nil)
			Expect(err).To(BeNil())

			_, err = srv.CancelJob(ctx, job.ID)
			Expect(err).To(BeNil())

			_, err = srv.CompleteJob(ctx, job.ID, []byte(`{"review":"late"}`))
			var completed *service.ErrJobAlreadyCompleted
			Expect(errors.As(err, &completed)).To(BeTrue())

			stored, err := srv.Get(ctx, job.ID)
			Expect(err).To(BeNil())
			Expect(stored.Status).To(Equal(model.JobStatusCanceled))
			Expect(stored.Output).To(BeEmpty())
		})
	})

	Context("process review job", func() {
		It("stores the review", func() {
			job, err := srv.CreateReviewJob(ctx, "cv", "jd", 0)
			Expect(err).To(BeNil())

			orchestrator.review = func(_ context.Context, cvText, jdText string) (string, error) {
				return cvText + " vs " + jdText, nil
			}
			srv.ProcessReviewJob(ctx, job.ID, "cv", "jd")

			stored, err := srv.Get(ctx, job.ID)
			Expect(err).To(BeNil())
			Expect(stored.Status).To(Equal(model.JobStatusSucceeded))
			Expect(string(stored.Output)).To(MatchJSON(`{"review":"cv vs jd"}`))
		})

		It("records the orchestrator failure on the job", func() {
			job, err := srv.CreateReviewJob(ctx, "cv", "jd", 0)
			Expect(err).To(BeNil())

			orchestrator.review = func(context.Context, string, string) (string, error) {
				return "", errors.New("model overloaded")
			}
			srv.ProcessReviewJob(ctx, job.ID, "cv", "jd")

			stored, err := srv.Get(ctx, job.ID)
			Expect(err).To(BeNil())
			Expect(stored.Status).To(Equal(model.JobStatusFailed))
			Expect(*stored.ErrorCode).To(Equal(model.JobErrorCodeAIError))
			Expect(*stored.ErrorMessage).To(ContainSubstring("model overloaded"))
		})

		It("does not run a job that is not queued", func() {
			job, err := srv.CreateReviewJob(ctx, "cv", "jd", 0)
			Expect(err).To(BeNil())
			_, err = srv.CancelJob(ctx, job.ID)
			Expect(err).To(BeNil())

			called := false
			orchestrator.review = func(context.Context, string, string) (string, error) {
				called = true
				return "review", nil
			}
			srv.ProcessReviewJob(ctx, job.ID, "cv", "jd")

			Expect(called).To(BeFalse())
			stored, err := srv.Get(ctx, job.ID)
			Expect(err).To(BeNil())
			Expect(stored.Status).To(Equal(model.JobStatusCanceled))
		})

		It("leaves jobs of another kind untouched", func() {
			rubricJob, err := srv.Create(ctx, jobs.KindBuildCvSectionRubric, []byte(`{"title":"Engineer"}`), 0)
			Expect(err).To(BeNil())

			called := false
			orchestrator.review = func(context.Context, string, string) (string, error) {
				called = true
				return "review", nil
			}
			srv.ProcessReviewJob(ctx, rubricJob.ID, "cv", "jd")

			Expect(called).To(BeFalse())
			stored, err := srv.Get(ctx, rubricJob.ID)
			Expect(err).To(BeNil())
			Expect(stored.Status).To(Equal(model.JobStatusQueued))
			Expect(stored.StartedAt).To(BeNil())
			Expect(stored.ErrorCode).To(BeNil())
		})

		It("recovers a panic into an INTERNAL failure", func() {
			job, err := srv.CreateReviewJob(ctx, "cv", "jd", 0)
			Expect(err).To(BeNil())

			orchestrator.review = func(context.Context, string, string) (string, error) {
				panic("boom")
			}
			Expect(func() { srv.ProcessReviewJob(ctx, job.ID, "cv", "jd") }).ToNot(Panic())

			stored, err := srv.Get(ctx, job.ID)
			Expect(err).To(BeNil())
			Expect(stored.Status).To(Equal(model.JobStatusFailed))
			Expect(*stored.ErrorCode).To(Equal(model.JobErrorCodeInternal))
		})
	})

	Context("execute", func() {
		claim := func(kind jobs.Kind, input string) model.Job {
			created, err := srv.Create(ctx, kind, []byte(input), 0)
			Expect(err).To(BeNil())
			claimed, err := s.Job().Claim(ctx, []jobs.Kind{kind}, 1, clock.Now())
			Expect(err).To(BeNil())
			Expect(claimed).To(HaveLen(1))
			Expect(claimed[0].ID).To(Equal(created.ID))
			return claimed[0]
		}

		It("builds a rubric and writes it back to the job description", func() {
			jd := model.JobDescription{ID: uuid.New(), Title: "Engineer", CreatedAt: baseTime, UpdatedAt: baseTime}
			_, err := s.JobDescription().Create(ctx, jd)
			Expect(err).To(BeNil())

			job := claim(jobs.KindBuildCvSectionRubric, `{"jobDescriptionId":"`+jd.ID.String()+`","title":"Engineer"}`)
			Expect(srv.Execute(ctx, job)).To(Succeed())

			stored, err := srv.Get(ctx, job.ID)
			Expect(err).To(BeNil())
			Expect(stored.Status).To(Equal(model.JobStatusSucceeded))

			updated, err := s.JobDescription().Get(ctx, jd.ID)
			Expect(err).To(BeNil())
			Expect(string(updated.SectionRubric)).To(MatchJSON(string(stored.Output)))
			Expect(updated.RubricUpdatedAt).ToNot(BeNil())
		})

		It("fails a job exceeding its timeout with TIMEOUT", func() {
			registry.SetTimeout(jobs.KindReviewCvAgainstJd, 20*time.Millisecond)
			orchestrator.review = func(ctx context.Context, _, _ string) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}

			job := claim(jobs.KindReviewCvAgainstJd, `{"cvText":"cv","jdText":"jd"}`)
			Expect(srv.Execute(ctx, job)).To(Succeed())

			stored, err := srv.Get(ctx, job.ID)
			Expect(err).To(BeNil())
			Expect(stored.Status).To(Equal(model.JobStatusFailed))
			Expect(*stored.ErrorCode).To(Equal(model.JobErrorCodeTimeout))
		})

		It("fails a job whose output does not validate with INVALID_OUTPUT", func() {
			orchestrator.rubric = func(context.Context, jobs.BuildRubricInput) (jobs.SectionRubric, error) {
				return jobs.SectionRubric{}, nil
			}

			job := claim(jobs.KindBuildCvSectionRubric, `{"title":"Engineer"}`)
			Expect(srv.Execute(ctx, job)).To(Succeed())

			stored, err := srv.Get(ctx, job.ID)
			Expect(err).To(BeNil())
			Expect(stored.Status).To(Equal(model.JobStatusFailed))
			Expect(*stored.ErrorCode).To(Equal(model.JobErrorCodeInvalidOutput))
			Expect(stored.Output).To(BeEmpty())
		})

		It("does not overwrite a cancel issued while the job runs", func() {
			var job model.Job
			orchestrator.review = func(context.Context, string, string) (string, error) {
				_, err := srv.CancelJob(context.TODO(), job.ID)
				Expect(err).To(BeNil())
				return "finished anyway", nil
			}

			job = claim(jobs.KindReviewCvAgainstJd, `{"cvText":"cv","jdText":"jd"}`)
			Expect(srv.Execute(ctx, job)).To(Succeed())

			stored, err := srv.Get(ctx, job.ID)
			Expect(err).To(BeNil())
			Expect(stored.Status).To(Equal(model.JobStatusCanceled))
			Expect(stored.Output).To(BeEmpty())
		})
	})

	Context("reap stale jobs", func() {
		It("abandons running jobs past the threshold and retries them", func() {
			job, err := srv.CreateReviewJob(ctx, "cv", "jd", 3)
			Expect(err).To(BeNil())
			_, err = srv.UpdateJob(ctx, job.ID, model.JobStatusRunning, nil, nil)
			Expect(err).To(BeNil())

			fresh, err := srv.CreateReviewJob(ctx, "cv", "jd", 0)
			Expect(err).To(BeNil())
			clock.Advance(30 * time.Minute)
			_, err = srv.UpdateJob(ctx, fresh.ID, model.JobStatusRunning, nil, nil)
			Expect(err).To(BeNil())

			reaped, err := srv.ReapStale(ctx, clock.Now().Add(-15*time.Minute), true)
			Expect(err).To(BeNil())
			Expect(reaped).To(Equal(1))

			stored, err := srv.Get(ctx, job.ID)
			Expect(err).To(BeNil())
			Expect(stored.Status).To(Equal(model.JobStatusFailed))
			Expect(*stored.ErrorCode).To(Equal(model.JobErrorCodeAbandoned))

			running, err := srv.Get(ctx, fresh.ID)
			Expect(err).To(BeNil())
			Expect(running.Status).To(Equal(model.JobStatusRunning))

			retries, err := s.Job().List(ctx, store.NewJobQueryFilter().ByStatus(model.JobStatusQueued), nil)
			Expect(err).To(BeNil())
			Expect(retries).To(HaveLen(1))
			Expect(*retries[0].RetryOf).To(Equal(job.ID))
			Expect(retries[0].Priority).To(Equal(3))
		})

		It("keeps the job running when its retry cannot be admitted", func() {
			id := uuid.MustParse("6f1c1b55-8f5a-4f43-9a5c-3ad1f0a1d002")
			// every retry collides with the original row
			sameIDs := service.NewJobService(s, registry, orchestrator,
				service.WithClock(clock),
				service.WithIDGenerator(util.IDGeneratorFunc(func() uuid.UUID { return id })))

			job, err := sameIDs.CreateReviewJob(ctx, "cv", "jd", 0)
			Expect(err).To(BeNil())
			_, err = sameIDs.UpdateJob(ctx, job.ID, model.JobStatusRunning, nil, nil)
			Expect(err).To(BeNil())
			clock.Advance(30 * time.Minute)

			reaped, err := sameIDs.ReapStale(ctx, clock.Now().Add(-15*time.Minute), true)
			Expect(err).To(BeNil())
			Expect(reaped).To(BeZero())

			stored, err := sameIDs.Get(ctx, job.ID)
			Expect(err).To(BeNil())
			Expect(stored.Status).To(Equal(model.JobStatusRunning))
			Expect(stored.ErrorCode).To(BeNil())
			Expect(stored.CompletedAt).To(BeNil())

			count, err := s.Job().Count(ctx, nil)
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(1)))
		})
	})
})
