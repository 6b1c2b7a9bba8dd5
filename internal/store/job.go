package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cvbuilder/cvbuilder-api/internal/jobs"
	"github.com/cvbuilder/cvbuilder-api/internal/store/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Job interface for job-related database operations
type Job interface {
	Create(ctx context.Context, job model.Job) (*model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error)
	Count(ctx context.Context, filter *JobQueryFilter) (int64, error)
	CountByStatus(ctx context.Context, filter *JobQueryFilter) (map[model.JobStatus]int64, error)
	// Update writes the mutable fields of the job only if its stored status is one of expected.
	Update(ctx context.Context, job model.Job, expected ...model.JobStatus) (*model.Job, error)
	Claim(ctx context.Context, kinds []jobs.Kind, limit int, now time.Time) (model.JobList, error)
	ListStale(ctx context.Context, startedBefore time.Time) (model.JobList, error)
	SoftDelete(ctx context.Context, id uuid.UUID, now time.Time) error
	SoftDeleteCompletedBefore(ctx context.Context, cutoff time.Time, now time.Time) (int64, error)
}

// JobStore implements the Job interface
type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

// NewJobStore creates a new job store
func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	result := s.getDB(ctx, "job_create").Create(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating job: %w", result.Error)
	}
	return &job, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx, "job_get").First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", result.Error)
	}

	return &job, nil
}

func (s *JobStore) List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error) {
	var list model.JobList
	tx := s.getDB(ctx, "job_list").Model(&list).Order("created_at DESC").Order("id")

	if filter != nil {
		tx = applyQueryFn(tx, filter.QueryFn)
	}
	if opts != nil {
		tx = applyQueryFn(tx, opts.QueryFn)
	}

	if err := tx.Find(&list).Error; err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return list, nil
}

func (s *JobStore) Count(ctx context.Context, filter *JobQueryFilter) (int64, error) {
	var count int64
	tx := s.getDB(ctx, "job_count").Model(&model.Job{})
	if filter != nil {
		tx = applyQueryFn(tx, filter.QueryFn)
	}
	if err := tx.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting jobs: %w", err)
	}
	return count, nil
}

func (s *JobStore) CountByStatus(ctx context.Context, filter *JobQueryFilter) (map[model.JobStatus]int64, error) {
	var rows []struct {
		Status model.JobStatus
		Count  int64
	}

	tx := s.getDB(ctx, "job_count_by_status").Model(&model.Job{}).Select("status, COUNT(*) AS count").Group("status")
	if filter != nil {
		tx = applyQueryFn(tx, filter.QueryFn)
	}
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting jobs by status: %w", err)
	}

	counts := make(map[model.JobStatus]int64, len(model.JobStatuses))
	for _, status := range model.JobStatuses {
		counts[status] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (s *JobStore) Update(ctx context.Context, job model.Job, expected ...model.JobStatus) (*model.Job, error) {
	tx := s.getDB(ctx, "job_update").Model(&model.Job{}).Where("id = ?", job.ID)
	if len(expected) > 0 {
		tx = tx.Where("status IN ?", statusValues(expected))
	}

	result := tx.Updates(map[string]any{
		"status":        job.Status,
		"output":        job.Output,
		"error_code":    job.ErrorCode,
		"error_message": job.ErrorMessage,
		"priority":      job.Priority,
		"started_at":    job.StartedAt,
		"completed_at":  job.CompletedAt,
	})
	if result.Error != nil {
		return nil, fmt.Errorf("updating job: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		if _, err := s.Get(ctx, job.ID); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}

	return s.Get(ctx, job.ID)
}

// Claim moves up to limit queued jobs to running, highest priority first and oldest first within a priority.
// Each job is switched with a conditional update so concurrent claimers never share a job.
func (s *JobStore) Claim(ctx context.Context, kinds []jobs.Kind, limit int, now time.Time) (model.JobList, error) {
	var candidates model.JobList

	tx := s.getDB(ctx, "job_claim").Model(&model.Job{}).Where("status = ?", model.JobStatusQueued)
	if len(kinds) > 0 {
		tx = tx.Where("type IN ?", kindValues(kinds))
	}
	if err := tx.Order("priority DESC").Order("created_at ASC").Order("id").Limit(limit).Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("selecting queued jobs: %w", err)
	}

	claimed := make(model.JobList, 0, len(candidates))
	for _, job := range candidates {
		if err := job.MarkRunning(now); err != nil {
			continue
		}

		result := s.getDB(ctx, "job_claim").Model(&model.Job{}).
			Where("id = ? AND status = ?", job.ID, model.JobStatusQueued).
			Updates(map[string]any{
				"status":     job.Status,
				"started_at": job.StartedAt,
			})
		if result.Error != nil {
			return claimed, fmt.Errorf("claiming job %s: %w", job.ID, result.Error)
		}
		if result.RowsAffected == 1 {
			claimed = append(claimed, job)
		}
	}

	return claimed, nil
}

func (s *JobStore) ListStale(ctx context.Context, startedBefore time.Time) (model.JobList, error) {
	filter := NewJobQueryFilter().ByStatus(model.JobStatusRunning).StartedBefore(startedBefore)

	var list model.JobList
	tx := applyQueryFn(s.getDB(ctx, "job_list_stale").Model(&list), filter.QueryFn)
	if err := tx.Order("started_at").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("listing stale jobs: %w", err)
	}
	return list, nil
}

func (s *JobStore) SoftDelete(ctx context.Context, id uuid.UUID, now time.Time) error {
	result := s.getDB(ctx, "job_soft_delete").Model(&model.Job{}).Where("id = ?", id).Update("deleted_at", now)
	if result.Error != nil {
		return fmt.Errorf("deleting job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// SoftDeleteCompletedBefore removes succeeded and canceled jobs completed before cutoff.
// Failed jobs are kept so they stay available for retry.
func (s *JobStore) SoftDeleteCompletedBefore(ctx context.Context, cutoff time.Time, now time.Time) (int64, error) {
	filter := NewJobQueryFilter().
		ByStatus(model.JobStatusSucceeded, model.JobStatusCanceled).
		CompletedBefore(cutoff)

	tx := applyQueryFn(s.getDB(ctx, "job_soft_delete_completed_before").Model(&model.Job{}), filter.QueryFn)
	result := tx.Update("deleted_at", now)
	if result.Error != nil {
		return 0, fmt.Errorf("clearing completed jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// getDB tags the queries with op so the driver metrics can tell the store methods apart.
func (s *JobStore) getDB(ctx context.Context, op string) *gorm.DB {
	ctx = withOperation(ctx, op)
	if tx := FromContext(ctx); tx != nil {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

func kindValues(kinds []jobs.Kind) []string {
	values := make([]string, 0, len(kinds))
	for _, k := range kinds {
		values = append(values, k.String())
	}
	return values
}
