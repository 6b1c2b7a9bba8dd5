package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cvbuilder/cvbuilder-api/internal/events"
	"github.com/cvbuilder/cvbuilder-api/internal/jobs"
	"github.com/cvbuilder/cvbuilder-api/internal/store"
	"github.com/cvbuilder/cvbuilder-api/internal/store/model"
	"github.com/cvbuilder/cvbuilder-api/pkg/log"
	"github.com/cvbuilder/cvbuilder-api/pkg/metrics"
	"github.com/google/uuid"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type AdminJobFilter struct {
	Type     string
	Status   string
	Page     int
	PageSize int
}

type AdminJobPage struct {
	Items    model.JobList
	Total    int64
	Counts   map[model.JobStatus]int64
	Page     int
	PageSize int
}

// AdminJobService exposes the operator view of jobs. Every mutating operation
// performs a single write.
type AdminJobService struct {
	store     store.Store
	jobs      *JobService
	registry  *jobs.Registry
	retention time.Duration
	logger    *log.StructuredLogger
}

func NewAdminJobService(s store.Store, jobService *JobService, retention time.Duration) *AdminJobService {
	return &AdminJobService{
		store:     s,
		jobs:      jobService,
		registry:  jobService.registry,
		retention: retention,
		logger:    log.NewDebugLogger("admin_job_service"),
	}
}

// List returns one page of jobs, newest first. Counts are per status for the
// type filter alone, so they stay stable while paging through a status.
func (s *AdminJobService) List(ctx context.Context, filter AdminJobFilter) (*AdminJobPage, error) {
	logger := s.logger.WithContext(ctx).Operation("list_jobs").WithParam("filter", filter).Build()

	page, pageSize := NormalizePage(filter.Page, filter.PageSize)

	storeFilter := store.NewJobQueryFilter()
	countFilter := store.NewJobQueryFilter()
	if filter.Type != "" {
		if !s.registry.Known(jobs.Kind(filter.Type)) {
			return nil, NewErrInvalidRequest("unknown job type %q", filter.Type)
		}
		storeFilter = storeFilter.ByType(filter.Type)
		countFilter = countFilter.ByType(filter.Type)
	}
	if filter.Status != "" {
		status := model.JobStatus(filter.Status)
		if !status.IsValid() {
			return nil, NewErrInvalidRequest("unknown job status %q", filter.Status)
		}
		storeFilter = storeFilter.ByStatus(status)
	}

	items, err := s.store.Job().List(ctx, storeFilter, store.NewJobQueryOptions().Page(page, pageSize))
	if err != nil {
		logger.Error(err).Log()
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	total, err := s.store.Job().Count(ctx, storeFilter)
	if err != nil {
		logger.Error(err).Log()
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	counts, err := s.store.Job().CountByStatus(ctx, countFilter)
	if err != nil {
		logger.Error(err).Log()
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}

	logger.Success().WithInt("count", len(items)).WithInt64("total", total).Log()
	return &AdminJobPage{
		Items:    items,
		Total:    total,
		Counts:   counts,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func (s *AdminJobService) Detail(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	return s.jobs.Get(ctx, id)
}

func (s *AdminJobService) Cancel(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	logger := s.logger.WithContext(ctx).Operation("cancel_job").WithUUID("job_id", id).Build()

	job, err := s.jobs.CancelJob(ctx, id)
	if err != nil {
		logger.Warn(err).Log()
		return nil, err
	}

	logger.Success().Log()
	return job, nil
}

func (s *AdminJobService) Retry(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	return s.jobs.Retry(ctx, id)
}

func (s *AdminJobService) Delete(ctx context.Context, id uuid.UUID) error {
	logger := s.logger.WithContext(ctx).Operation("delete_job").WithUUID("job_id", id).Build()

	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		logger.Warn(err).Log()
		return err
	}

	if err := s.store.Job().SoftDelete(ctx, id, s.jobs.clock.Now()); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return NewErrJobNotFound(id)
		}
		logger.Error(err).Log()
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}

	s.jobs.emit(ctx, events.JobDeletedKind, *job)

	logger.Success().Log()
	return nil
}

// ClearCompleted soft deletes succeeded and canceled jobs that completed
// before the retention window. Failed jobs are kept for retry.
func (s *AdminJobService) ClearCompleted(ctx context.Context) (int64, error) {
	cutoff := s.jobs.clock.Now().Add(-s.retention)
	logger := s.logger.WithContext(ctx).Operation("clear_completed_jobs").WithParam("cutoff", cutoff).Build()

	cleared, err := s.store.Job().SoftDeleteCompletedBefore(ctx, cutoff, s.jobs.clock.Now())
	if err != nil {
		logger.Error(err).Log()
		return 0, fmt.Errorf("failed to clear completed jobs: %w", err)
	}

	metrics.AddJobsClearedMetric(cleared)

	logger.Success().WithInt64("cleared", cleared).Log()
	return cleared, nil
}

// NormalizePage applies the default page and page size and caps the page size.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = DefaultPage
	}
	switch {
	case pageSize < 1:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	return page, pageSize
}
