package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cvbuilder/cvbuilder-api/internal/ai"
	"github.com/cvbuilder/cvbuilder-api/internal/jobs"
	"github.com/cvbuilder/cvbuilder-api/internal/service/mappers"
	"github.com/cvbuilder/cvbuilder-api/internal/store"
	"github.com/cvbuilder/cvbuilder-api/internal/store/model"
	"github.com/cvbuilder/cvbuilder-api/pkg/log"
	"github.com/google/uuid"
)

// RubricJobPriority is the priority of rubric jobs enqueued on job description writes.
const RubricJobPriority = 0

type JobDescriptionService struct {
	store        store.Store
	jobs         *JobService
	orchestrator ai.Orchestrator
	logger       *log.StructuredLogger
}

// NewJobDescriptionService registers the rubric builder on jobService, so the
// rubric jobs it enqueues can be executed.
func NewJobDescriptionService(s store.Store, jobService *JobService, orchestrator ai.Orchestrator) *JobDescriptionService {
	srv := &JobDescriptionService{
		store:        s,
		jobs:         jobService,
		orchestrator: orchestrator,
		logger:       log.NewDebugLogger("job_description_service"),
	}
	jobService.RegisterHandler(jobs.KindBuildCvSectionRubric, JobHandler{
		Run:       srv.buildRubric,
		OnSuccess: srv.storeRubric,
	})
	return srv
}

func (s *JobDescriptionService) Create(ctx context.Context, form mappers.JobDescriptionForm) (*model.JobDescription, error) {
	logger := s.logger.WithContext(ctx).Operation("create_job_description").WithString("title", form.Title).Build()

	if form.Title == "" {
		return nil, NewErrInvalidRequest("job description title is required")
	}

	jd, err := s.store.JobDescription().Create(ctx, form.ToJobDescription(s.jobs.ids.NewID(), s.jobs.clock.Now()))
	if err != nil {
		logger.Error(err).Log()
		return nil, fmt.Errorf("failed to create job description: %w", err)
	}

	s.enqueueAfterWrite(ctx, jd.ID)

	logger.Success().WithUUID("job_description_id", jd.ID).Log()
	return jd, nil
}

func (s *JobDescriptionService) Update(ctx context.Context, id uuid.UUID, form mappers.JobDescriptionForm) (*model.JobDescription, error) {
	logger := s.logger.WithContext(ctx).Operation("update_job_description").WithUUID("job_description_id", id).Build()

	if form.Title == "" {
		return nil, NewErrInvalidRequest("job description title is required")
	}

	jd := form.ToJobDescription(id, s.jobs.clock.Now())
	updated, err := s.store.JobDescription().Update(ctx, jd)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobDescriptionNotFound(id)
		}
		logger.Error(err).Log()
		return nil, fmt.Errorf("failed to update job description: %w", err)
	}

	s.enqueueAfterWrite(ctx, id)

	logger.Success().Log()
	return updated, nil
}

func (s *JobDescriptionService) Get(ctx context.Context, id uuid.UUID) (*model.JobDescription, error) {
	jd, err := s.store.JobDescription().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobDescriptionNotFound(id)
		}
		return nil, err
	}
	return jd, nil
}

func (s *JobDescriptionService) List(ctx context.Context, limit, offset int) (model.JobDescriptionList, error) {
	return s.store.JobDescription().List(ctx, limit, offset)
}

func (s *JobDescriptionService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.JobDescription().Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return NewErrJobDescriptionNotFound(id)
		}
		return err
	}
	s.logger.WithContext(ctx).Operation("delete_job_description").WithUUID("job_description_id", id).Build().Success().Log()
	return nil
}

// EnqueueBuildRubricJob admits a rubric job for an existing job description.
func (s *JobDescriptionService) EnqueueBuildRubricJob(ctx context.Context, jdID uuid.UUID, priority int) (*model.Job, error) {
	logger := s.logger.WithContext(ctx).Operation("enqueue_build_rubric_job").WithUUID("job_description_id", jdID).Build()

	if jdID == uuid.Nil {
		return nil, NewErrInvalidRequest("job description id is required")
	}

	jd, err := s.Get(ctx, jdID)
	if err != nil {
		logger.Warn(err).Log()
		return nil, err
	}

	input, err := json.Marshal(mappers.RubricInputFromJobDescription(*jd))
	if err != nil {
		return nil, NewErrInvalidJobInput(err)
	}

	job, err := s.jobs.Create(ctx, jobs.KindBuildCvSectionRubric, input, priority)
	if err != nil {
		logger.Error(err).Log()
		return nil, err
	}

	logger.Success().WithUUID("job_id", job.ID).Log()
	return job, nil
}

// UpdateSectionRubric stores a built rubric on the job description.
func (s *JobDescriptionService) UpdateSectionRubric(ctx context.Context, jdID uuid.UUID, rubric jobs.SectionRubric) error {
	raw, err := json.Marshal(rubric)
	if err != nil {
		return fmt.Errorf("failed to encode section rubric: %w", err)
	}
	if err := s.store.JobDescription().UpdateSectionRubric(ctx, jdID, raw, s.jobs.clock.Now()); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return NewErrJobDescriptionNotFound(jdID)
		}
		return fmt.Errorf("failed to update section rubric of %s: %w", jdID, err)
	}
	return nil
}

func (s *JobDescriptionService) enqueueAfterWrite(ctx context.Context, id uuid.UUID) {
	if _, err := s.EnqueueBuildRubricJob(ctx, id, RubricJobPriority); err != nil {
		s.logger.WithContext(ctx).Operation("enqueue_build_rubric_job").WithUUID("job_description_id", id).Build().
			Warn(err).WithString("reason", "rubric job not enqueued").Log()
	}
}

func (s *JobDescriptionService) buildRubric(ctx context.Context, job model.Job) ([]byte, error) {
	input, err := jobs.Decode[jobs.BuildRubricInput](job.Input)
	if err != nil {
		return nil, err
	}
	rubric, err := s.orchestrator.BuildSectionRubric(ctx, input)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rubric)
}

func (s *JobDescriptionService) storeRubric(ctx context.Context, job model.Job) error {
	input, err := jobs.Decode[jobs.BuildRubricInput](job.Input)
	if err != nil {
		return err
	}
	if input.JobDescriptionID == uuid.Nil {
		return nil
	}
	rubric, err := jobs.Decode[jobs.SectionRubric](job.Output)
	if err != nil {
		return err
	}
	return s.UpdateSectionRubric(ctx, input.JobDescriptionID, rubric)
}
