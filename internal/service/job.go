package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cvbuilder/cvbuilder-api/internal/ai"
	"github.com/cvbuilder/cvbuilder-api/internal/events"
	"github.com/cvbuilder/cvbuilder-api/internal/jobs"
	"github.com/cvbuilder/cvbuilder-api/internal/service/mappers"
	"github.com/cvbuilder/cvbuilder-api/internal/store"
	"github.com/cvbuilder/cvbuilder-api/internal/store/model"
	"github.com/cvbuilder/cvbuilder-api/internal/util"
	"github.com/cvbuilder/cvbuilder-api/pkg/log"
	"github.com/cvbuilder/cvbuilder-api/pkg/metrics"
	"github.com/google/uuid"
)

const maxUpdateAttempts = 3

var (
	errJobPanicked  = errors.New("job handler panicked")
	errWrongJobKind = errors.New("not a review job")
)

// EventWriter publishes job lifecycle events.
type EventWriter interface {
	WriteJobEvent(ctx context.Context, kind string, event events.JobEvent) error
}

// JobHandler executes one job kind. Run produces the job output; OnSuccess, when set,
// is called by CompleteJob once the succeeded status has been persisted.
type JobHandler struct {
	Run       func(ctx context.Context, job model.Job) ([]byte, error)
	OnSuccess func(ctx context.Context, job model.Job) error
}

// JobFailure is the reason recorded on a failed job.
type JobFailure struct {
	Code    string
	Message string
}

type JobService struct {
	store        store.Store
	registry     *jobs.Registry
	orchestrator ai.Orchestrator
	clock        util.Clock
	ids          util.IDGenerator
	eventWriter  EventWriter
	handlers     map[jobs.Kind]JobHandler
	logger       *log.StructuredLogger
}

type JobServiceOption func(*JobService)

func WithClock(clock util.Clock) JobServiceOption {
	return func(s *JobService) {
		s.clock = clock
	}
}

func WithIDGenerator(ids util.IDGenerator) JobServiceOption {
	return func(s *JobService) {
		s.ids = ids
	}
}

func WithEventWriter(w EventWriter) JobServiceOption {
	return func(s *JobService) {
		s.eventWriter = w
	}
}

func NewJobService(s store.Store, registry *jobs.Registry, orchestrator ai.Orchestrator, opts ...JobServiceOption) *JobService {
	srv := &JobService{
		store:        s,
		registry:     registry,
		orchestrator: orchestrator,
		clock:        util.SystemClock,
		ids:          util.RandomIDGenerator,
		handlers:     make(map[jobs.Kind]JobHandler),
		logger:       log.NewDebugLogger("job_service"),
	}
	for _, o := range opts {
		o(srv)
	}

	srv.RegisterHandler(jobs.KindReviewCvAgainstJd, JobHandler{Run: srv.runReview})

	return srv
}

func (s *JobService) RegisterHandler(kind jobs.Kind, handler JobHandler) {
	s.handlers[kind] = handler
}

// Kinds returns the job kinds this service is able to execute.
func (s *JobService) Kinds() []jobs.Kind {
	kinds := make([]jobs.Kind, 0, len(s.handlers))
	for _, k := range s.registry.Kinds() {
		if _, found := s.handlers[k]; found {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Create validates and persists a queued job. It never waits for the job to run.
func (s *JobService) Create(ctx context.Context, kind jobs.Kind, input []byte, priority int) (*model.Job, error) {
	logger := s.logger.WithContext(ctx).Operation("create_job").WithString("type", kind.String()).WithInt("priority", priority).Build()

	if err := s.registry.ValidateInput(kind, input); err != nil {
		logger.Warn(err).Log()
		return nil, NewErrInvalidJobInput(err)
	}

	job, err := model.NewJob(s.ids.NewID(), kind, input, priority, s.clock.Now())
	if err != nil {
		logger.Warn(err).Log()
		return nil, NewErrInvalidJobInput(err)
	}

	created, err := s.store.Job().Create(ctx, *job)
	if err != nil {
		logger.Error(err).Log()
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	metrics.IncreaseJobsCreatedMetric(created.Type.String())
	s.emit(ctx, events.JobCreatedKind, *created)

	logger.Success().WithUUID("job_id", created.ID).Log()
	return created, nil
}

// CreateReviewJob admits a ReviewCvAgainstJd job for the two texts.
func (s *JobService) CreateReviewJob(ctx context.Context, cvText, jdText string, priority int) (*model.Job, error) {
	input, err := json.Marshal(jobs.ReviewInput{CvText: cvText, JdText: jdText})
	if err != nil {
		return nil, NewErrInvalidJobInput(err)
	}
	return s.Create(ctx, jobs.KindReviewCvAgainstJd, input, priority)
}

func (s *JobService) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// UpdateJob applies one transition. The write only lands if the job status did not
// change since it was read, so a terminal status written by someone else always wins.
func (s *JobService) UpdateJob(ctx context.Context, id uuid.UUID, status model.JobStatus, output []byte, failure *JobFailure) (*model.Job, error) {
	logger := s.logger.WithContext(ctx).Operation("update_job").WithUUID("job_id", id).WithString("status", status.String()).Build()

	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		job, err := s.Get(ctx, id)
		if err != nil {
			logger.Warn(err).Log()
			return nil, err
		}

		expected := job.Status
		if status == model.JobStatusSucceeded && !job.IsTerminal() {
			if err := s.registry.ValidateOutput(job.Type, output); err != nil {
				logger.Warn(err).WithString("type", job.Type.String()).Log()
				return nil, NewErrInvalidJobOutput(err)
			}
		}

		if err := s.apply(job, status, output, failure); err != nil {
			logger.Warn(err).WithString("current_status", expected.String()).Log()
			switch {
			case errors.Is(err, model.ErrJobTerminal):
				return nil, NewErrJobAlreadyCompleted(id, actionFor(status))
			case errors.Is(err, model.ErrEmptyOutput):
				return nil, NewErrInvalidJobOutput(err)
			}
			return nil, NewErrJobConflict(id, err)
		}

		updated, err := s.store.Job().Update(ctx, *job, expected)
		switch {
		case err == nil:
			s.recordTransition(ctx, *updated)
			logger.Success().WithInt("attempt", attempt+1).Log()
			return updated, nil
		case errors.Is(err, store.ErrConflict):
			lastErr = err
			logger.Step("retry_conflict").WithInt("attempt", attempt+1).Log()
			continue
		case errors.Is(err, store.ErrRecordNotFound):
			return nil, NewErrJobNotFound(id)
		default:
			logger.Error(err).Log()
			return nil, fmt.Errorf("failed to update job %s: %w", id, err)
		}
	}

	logger.Error(lastErr).Log()
	return nil, NewErrJobConflict(id, lastErr)
}

// CompleteJob records the output of a running job. The output must match the
// schema of the job kind; the kind's success hook runs once the write landed.
func (s *JobService) CompleteJob(ctx context.Context, id uuid.UUID, output []byte) (*model.Job, error) {
	completed, err := s.UpdateJob(ctx, id, model.JobStatusSucceeded, output, nil)
	if err != nil {
		return nil, err
	}

	if handler, found := s.handlers[completed.Type]; found && handler.OnSuccess != nil {
		if err := handler.OnSuccess(ctx, *completed); err != nil {
			s.logger.WithContext(ctx).Operation("complete_job").WithUUID("job_id", id).Build().
				Error(err).WithString("step", "on_success").Log()
		}
	}
	return completed, nil
}

func (s *JobService) FailJob(ctx context.Context, id uuid.UUID, code, message string) (*model.Job, error) {
	return s.UpdateJob(ctx, id, model.JobStatusFailed, nil, &JobFailure{Code: code, Message: message})
}

func (s *JobService) CancelJob(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	return s.UpdateJob(ctx, id, model.JobStatusCanceled, nil, nil)
}

// ProcessReviewJob starts a queued review job and runs it to a terminal status.
// Every failure ends up on the job; nothing is returned to the caller.
func (s *JobService) ProcessReviewJob(ctx context.Context, id uuid.UUID, cvText, jdText string) {
	logger := s.logger.WithContext(ctx).Operation("process_review_job").WithUUID("job_id", id).Build()

	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Errorf("%w: %v", errJobPanicked, r)).Log()
			_, _ = s.FailJob(context.WithoutCancel(ctx), id, model.JobErrorCodeInternal, fmt.Sprintf("internal error: %v", r))
		}
	}()

	queued, err := s.Get(ctx, id)
	if err != nil {
		logger.Warn(err).Log()
		return
	}
	if queued.Type != jobs.KindReviewCvAgainstJd {
		logger.Warn(NewErrJobConflict(id, fmt.Errorf("%w: job type is %s", errWrongJobKind, queued.Type))).Log()
		return
	}

	job, err := s.UpdateJob(ctx, id, model.JobStatusRunning, nil, nil)
	if err != nil {
		logger.Warn(err).Log()
		return
	}

	handler := JobHandler{Run: func(ctx context.Context, _ model.Job) ([]byte, error) {
		return s.review(ctx, cvText, jdText)
	}}
	if err := s.run(ctx, *job, handler); err != nil {
		logger.Error(err).Log()
		return
	}
	logger.Success().Log()
}

// Execute runs a job already claimed by a worker. The returned error only reports a
// failure to record the outcome; the job's own failure is stored on the job.
func (s *JobService) Execute(ctx context.Context, job model.Job) error {
	handler, found := s.handlers[job.Type]
	if !found {
		_, err := s.FailJob(context.WithoutCancel(ctx), job.ID, model.JobErrorCodeInternal, fmt.Sprintf("no handler registered for job type %q", job.Type))
		return ignoreCompleted(err)
	}
	return s.run(ctx, job, handler)
}

func (s *JobService) run(ctx context.Context, job model.Job, handler JobHandler) error {
	logger := s.logger.WithContext(ctx).Operation("run_job").WithUUID("job_id", job.ID).WithString("type", job.Type.String()).Build()

	output, err := s.invoke(ctx, job, handler)
	if err == nil {
		err = s.registry.ValidateOutput(job.Type, output)
	}

	// the outcome must be recorded even when ctx is done
	writeCtx := context.WithoutCancel(ctx)

	if err != nil {
		failure := classifyFailure(err)
		logger.Step("job_failed").WithString("error_code", failure.Code).WithString("error", failure.Message).Log()
		_, ferr := s.FailJob(writeCtx, job.ID, failure.Code, failure.Message)
		return ignoreCompleted(ferr)
	}

	if _, err := s.CompleteJob(writeCtx, job.ID, output); err != nil {
		// canceled while running: the cancel stays
		return ignoreCompleted(err)
	}

	logger.Success().Log()
	return nil
}

func (s *JobService) invoke(ctx context.Context, job model.Job, handler JobHandler) (output []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.registry.Timeout(job.Type))
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.WithContext(ctx).Operation("run_job").WithUUID("job_id", job.ID).Build().
				Error(fmt.Errorf("%v", r)).WithString("stack", string(debug.Stack())).Log()
			output, err = nil, fmt.Errorf("%w: %v", errJobPanicked, r)
		}
	}()

	output, err = handler.Run(ctx, job)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return output, err
}

func (s *JobService) runReview(ctx context.Context, job model.Job) ([]byte, error) {
	input, err := jobs.Decode[jobs.ReviewInput](job.Input)
	if err != nil {
		return nil, err
	}
	return s.review(ctx, input.CvText, input.JdText)
}

func (s *JobService) review(ctx context.Context, cvText, jdText string) ([]byte, error) {
	review, err := s.orchestrator.ReviewCvAgainstJd(ctx, cvText, jdText)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jobs.ReviewOutput{Review: review})
}

func (s *JobService) apply(job *model.Job, status model.JobStatus, output []byte, failure *JobFailure) error {
	now := s.clock.Now()
	switch status {
	case model.JobStatusRunning:
		return job.MarkRunning(now)
	case model.JobStatusSucceeded:
		return job.MarkSucceeded(output, now)
	case model.JobStatusFailed:
		if failure == nil {
			failure = &JobFailure{}
		}
		return job.MarkFailed(failure.Code, failure.Message, now)
	case model.JobStatusCanceled:
		return job.MarkCanceled(now)
	default:
		return fmt.Errorf("%w: unsupported target status %q", model.ErrInvalidTransition, status)
	}
}

func (s *JobService) recordTransition(ctx context.Context, job model.Job) {
	if job.IsTerminal() {
		metrics.IncreaseJobsFinishedMetric(job.Type.String(), job.Status.String())
		if job.StartedAt != nil && job.CompletedAt != nil {
			metrics.ObserveJobDuration(job.Type.String(), job.CompletedAt.Sub(*job.StartedAt))
		}
	}
	s.emit(ctx, mappers.JobEventKind(job.Status), job)
}

func (s *JobService) emit(ctx context.Context, kind string, job model.Job) {
	if s.eventWriter == nil {
		return
	}
	if err := s.eventWriter.WriteJobEvent(ctx, kind, mappers.JobEventFromModel(job, s.clock.Now())); err != nil {
		s.logger.WithContext(ctx).Operation("emit_event").WithString("kind", kind).Build().Error(err).Log()
	}
}

func classifyFailure(err error) JobFailure {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return JobFailure{Code: model.JobErrorCodeTimeout, Message: "job timed out: " + err.Error()}
	case errors.Is(err, context.Canceled):
		return JobFailure{Code: model.JobErrorCodeAbandoned, Message: "job execution was interrupted"}
	case errors.Is(err, jobs.ErrInvalidInput):
		return JobFailure{Code: model.JobErrorCodeInvalidInput, Message: err.Error()}
	case errors.Is(err, jobs.ErrInvalidOutput):
		return JobFailure{Code: model.JobErrorCodeInvalidOutput, Message: err.Error()}
	case errors.Is(err, errJobPanicked):
		return JobFailure{Code: model.JobErrorCodeInternal, Message: err.Error()}
	default:
		return JobFailure{Code: model.JobErrorCodeAIError, Message: err.Error()}
	}
}

func ignoreCompleted(err error) error {
	var completed *ErrJobAlreadyCompleted
	if errors.As(err, &completed) {
		return nil
	}
	return err
}

func actionFor(status model.JobStatus) string {
	if status == model.JobStatusCanceled {
		return "cancel"
	}
	return "update"
}

// Retry admits a new queued job carrying the input of a failed one.
func (s *JobService) Retry(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	logger := s.logger.WithContext(ctx).Operation("retry_job").WithUUID("job_id", id).Build()

	original, err := s.Get(ctx, id)
	if err != nil {
		logger.Warn(err).Log()
		return nil, err
	}

	retry, err := original.Retry(s.ids.NewID(), s.clock.Now())
	if err != nil {
		logger.Warn(err).WithString("status", original.Status.String()).Log()
		return nil, NewErrJobNotRetryable(id)
	}

	created, err := s.store.Job().Create(ctx, *retry)
	if err != nil {
		logger.Error(err).Log()
		return nil, fmt.Errorf("failed to create retry of job %s: %w", id, err)
	}

	metrics.IncreaseJobsCreatedMetric(created.Type.String())
	s.emit(ctx, events.JobRetriedKind, *created)

	logger.Success().WithUUID("retry_job_id", created.ID).Log()
	return created, nil
}

// ReapStale fails running jobs started before threshold with ABANDONED. With
// autoRetry set, a retry is admitted for every reaped job.
func (s *JobService) ReapStale(ctx context.Context, threshold time.Time, autoRetry bool) (int, error) {
	logger := s.logger.WithContext(ctx).Operation("reap_stale_jobs").WithParam("threshold", threshold).Build()

	stale, err := s.store.Job().ListStale(ctx, threshold)
	if err != nil {
		logger.Error(err).Log()
		return 0, fmt.Errorf("failed to list stale jobs: %w", err)
	}

	reaped := 0
	for _, job := range stale {
		msg := fmt.Sprintf("job abandoned: running since %s", job.StartedAt.Format(time.RFC3339))
		if !autoRetry {
			if _, err := s.FailJob(ctx, job.ID, model.JobErrorCodeAbandoned, msg); err != nil {
				// finished or canceled in the meantime
				logger.Warn(err).WithUUID("job_id", job.ID).Log()
				continue
			}
			reaped++
			continue
		}

		// the abandoned job and its retry are written together or not at all
		err := store.WithTx(ctx, s.store, "reap_and_retry", func(ctx context.Context) error {
			if _, err := s.FailJob(ctx, job.ID, model.JobErrorCodeAbandoned, msg); err != nil {
				return err
			}
			_, err := s.Retry(ctx, job.ID)
			return err
		})
		if err != nil {
			logger.Warn(err).WithUUID("job_id", job.ID).Log()
			continue
		}
		reaped++
	}

	logger.Success().WithInt("reaped", reaped).Log()
	return reaped, nil
}

// Claim starts up to limit queued jobs of the kinds this service can execute.
func (s *JobService) Claim(ctx context.Context, limit int) (model.JobList, error) {
	claimed, err := s.store.Job().Claim(ctx, s.Kinds(), limit, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	for _, job := range claimed {
		s.emit(ctx, events.JobStartedKind, job)
	}
	return claimed, nil
}
