package v1alpha1

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Job is the public view of an asynchronous job.
type Job struct {
	Id          uuid.UUID        `json:"id"`
	Type        string           `json:"type"`
	Status      JobStatus        `json:"status"`
	Priority    int              `json:"priority"`
	Output      *json.RawMessage `json:"output,omitempty"`
	Error       *JobError        `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	RetryOf     *uuid.UUID       `json:"retryOf,omitempty"`
}

// JobDetail adds the stored input to the job view. Only admins see it.
type JobDetail struct {
	Job
	Input json.RawMessage `json:"input"`
}

type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type JobCreate struct {
	Type     string          `json:"type" validate:"required,job_type"`
	Input    json.RawMessage `json:"input" validate:"required"`
	Priority int             `json:"priority" validate:"job_priority"`
}

type ReviewCreate struct {
	CvText   string `json:"cvText" validate:"not_blank"`
	JdText   string `json:"jdText" validate:"not_blank"`
	Priority int    `json:"priority" validate:"job_priority"`
}

type RubricJobCreate struct {
	Priority int `json:"priority" validate:"job_priority"`
}

type JobList struct {
	Items    []JobDetail      `json:"items"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
	Counts   map[string]int64 `json:"counts"`
}

type ClearCompletedResult struct {
	Cleared int64 `json:"cleared"`
}

type JobDescription struct {
	Id              uuid.UUID        `json:"id"`
	Title           string           `json:"title"`
	Company         string           `json:"company,omitempty"`
	Description     string           `json:"description,omitempty"`
	Requirements    string           `json:"requirements,omitempty"`
	SectionRubric   *json.RawMessage `json:"sectionRubric,omitempty"`
	RubricUpdatedAt *time.Time       `json:"rubricUpdatedAt,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// JobDescriptionForm is the body of both create and update requests.
type JobDescriptionForm struct {
	Title        string `json:"title" validate:"not_blank,max=255"`
	Company      string `json:"company" validate:"max=255"`
	Description  string `json:"description"`
	Requirements string `json:"requirements"`
}

type JobDescriptionList []JobDescription

type Error struct {
	Message   string  `json:"message"`
	RequestId *string `json:"requestId,omitempty"`
	Code      string  `json:"code,omitempty"`
}

type Health struct {
	Status string `json:"status"`
}
