package events

import (
	"time"
)

// JobEvent is the payload of every job lifecycle event.
type JobEvent struct {
	JobID        string    `json:"job_id"`
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	Priority     int       `json:"priority"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RetryOf      string    `json:"retry_of,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
