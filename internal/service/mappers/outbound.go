package mappers

import (
	"time"

	"github.com/cvbuilder/cvbuilder-api/internal/events"
	"github.com/cvbuilder/cvbuilder-api/internal/store/model"
)

func JobEventFromModel(job model.Job, now time.Time) events.JobEvent {
	event := events.JobEvent{
		JobID:      job.ID.String(),
		Type:       job.Type.String(),
		Status:     job.Status.String(),
		Priority:   job.Priority,
		OccurredAt: now,
	}
	if job.ErrorCode != nil {
		event.ErrorCode = *job.ErrorCode
	}
	if job.ErrorMessage != nil {
		event.ErrorMessage = *job.ErrorMessage
	}
	if job.RetryOf != nil {
		event.RetryOf = job.RetryOf.String()
	}
	return event
}

// JobEventKind returns the lifecycle event matching the job status.
func JobEventKind(status model.JobStatus) string {
	switch status {
	case model.JobStatusRunning:
		return events.JobStartedKind
	case model.JobStatusSucceeded:
		return events.JobSucceededKind
	case model.JobStatusFailed:
		return events.JobFailedKind
	case model.JobStatusCanceled:
		return events.JobCanceledKind
	default:
		return events.JobCreatedKind
	}
}
