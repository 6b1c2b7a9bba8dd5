package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cvbuilder/cvbuilder-api/internal/jobs"
	"github.com/google/uuid"
	"github.com/thoas/go-funk"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// JobStatuses lists every status in lifecycle order.
var JobStatuses = []JobStatus{
	JobStatusQueued,
	JobStatusRunning,
	JobStatusSucceeded,
	JobStatusFailed,
	JobStatusCanceled,
}

func (s JobStatus) String() string {
	return string(s)
}

func (s JobStatus) IsValid() bool {
	return funk.Contains(JobStatuses, s)
}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCanceled
}

// Error codes recorded on failed jobs.
const (
	JobErrorCodeAIError       = "AI_ERROR"
	JobErrorCodeTimeout       = "TIMEOUT"
	JobErrorCodeInvalidInput  = "INVALID_INPUT"
	JobErrorCodeInvalidOutput = "INVALID_OUTPUT"
	JobErrorCodeAbandoned     = "ABANDONED"
	JobErrorCodeInternal      = "INTERNAL"
	JobErrorCodeUnknown       = "UNKNOWN"
)

var (
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrJobTerminal       = fmt.Errorf("%w: job already completed", ErrInvalidTransition)
	ErrEmptyType         = errors.New("job type is required")
	ErrEmptyInput        = errors.New("job input is required")
	ErrMalformedInput    = errors.New("job input is not valid json")
	ErrEmptyOutput       = errors.New("job output is required")
)

type Job struct {
	ID           uuid.UUID      `gorm:"primaryKey;column:id;type:VARCHAR(255);"`
	Type         jobs.Kind      `gorm:"not null;type:VARCHAR(100);index:jobs_type_idx"`
	Status       JobStatus      `gorm:"not null;type:VARCHAR(32);index:jobs_status_priority_idx,priority:1"`
	Input        datatypes.JSON `gorm:"not null"`
	Output       datatypes.JSON
	ErrorCode    *string `gorm:"type:VARCHAR(64)"`
	ErrorMessage *string
	Priority     int       `gorm:"not null;default:0;index:jobs_status_priority_idx,priority:2"`
	CreatedAt    time.Time `gorm:"not null"`
	StartedAt    *time.Time
	CompletedAt  *time.Time
	DeletedAt    gorm.DeletedAt `gorm:"index"`
	RetryOf      *uuid.UUID     `gorm:"type:VARCHAR(255)"`
}

type JobList []Job

// NewJob returns a queued job. The input must be a non-null JSON document;
// kind specific validation happens before this call.
func NewJob(id uuid.UUID, kind jobs.Kind, input []byte, priority int, now time.Time) (*Job, error) {
	if kind == "" {
		return nil, ErrEmptyType
	}
	trimmed := bytes.TrimSpace(input)
	if isEmptyDocument(trimmed) {
		return nil, ErrEmptyInput
	}
	if !json.Valid(trimmed) {
		return nil, ErrMalformedInput
	}

	return &Job{
		ID:        id,
		Type:      kind,
		Status:    JobStatusQueued,
		Input:     datatypes.JSON(trimmed),
		Priority:  priority,
		CreatedAt: now,
	}, nil
}

func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

func (j *Job) MarkRunning(now time.Time) error {
	if j.Status != JobStatusQueued {
		return j.transitionError(JobStatusRunning)
	}
	j.Status = JobStatusRunning
	j.StartedAt = &now
	return nil
}

func (j *Job) MarkSucceeded(output []byte, now time.Time) error {
	if j.Status != JobStatusRunning {
		return j.transitionError(JobStatusSucceeded)
	}
	trimmed := bytes.TrimSpace(output)
	if isEmptyDocument(trimmed) {
		return ErrEmptyOutput
	}
	j.Status = JobStatusSucceeded
	j.Output = datatypes.JSON(trimmed)
	j.ErrorCode = nil
	j.ErrorMessage = nil
	j.CompletedAt = &now
	return nil
}

// MarkFailed is allowed from queued as well, so jobs that cannot even start
// still end up with a recorded reason.
func (j *Job) MarkFailed(code, message string, now time.Time) error {
	if j.IsTerminal() {
		return j.transitionError(JobStatusFailed)
	}
	if code == "" {
		code = JobErrorCodeUnknown
	}
	j.Status = JobStatusFailed
	j.ErrorCode = &code
	j.ErrorMessage = &message
	j.CompletedAt = &now
	return nil
}

func (j *Job) MarkCanceled(now time.Time) error {
	if j.IsTerminal() {
		return j.transitionError(JobStatusCanceled)
	}
	j.Status = JobStatusCanceled
	j.CompletedAt = &now
	return nil
}

// Retry derives a new queued job from a failed one. The original is left untouched.
func (j *Job) Retry(id uuid.UUID, now time.Time) (*Job, error) {
	if j.Status != JobStatusFailed {
		return nil, fmt.Errorf("%w: only failed jobs can be retried", ErrInvalidTransition)
	}
	input := make(datatypes.JSON, len(j.Input))
	copy(input, j.Input)
	origin := j.ID

	return &Job{
		ID:        id,
		Type:      j.Type,
		Status:    JobStatusQueued,
		Input:     input,
		Priority:  j.Priority,
		CreatedAt: now,
		RetryOf:   &origin,
	}, nil
}

func (j *Job) transitionError(to JobStatus) error {
	if j.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrJobTerminal, j.Status, to)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
}

func isEmptyDocument(doc []byte) bool {
	return len(doc) == 0 || bytes.Equal(doc, []byte("null"))
}

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}
