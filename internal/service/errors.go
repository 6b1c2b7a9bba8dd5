package service

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	CodeJobNotFound            = "JobNotFound"
	CodeJobDescriptionNotFound = "JobDescriptionNotFound"
	CodeJobAlreadyCompleted    = "JobAlreadyCompleted"
	CodeJobNotRetryable        = "JobNotRetryable"
	CodeJobConflict            = "JobConflict"
	CodeInvalidJobInput        = "InvalidJobInput"
	CodeInvalidJobOutput       = "InvalidJobOutput"
	CodeInvalidRequest         = "InvalidRequest"
)

type ErrResourceNotFound struct {
	error
	code string
}

func (e *ErrResourceNotFound) Code() string {
	return e.code
}

func NewErrResourceNotFound(id uuid.UUID, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{error: fmt.Errorf("%s %s not found", resourceType, id), code: "ResourceNotFound"}
}

func NewErrJobNotFound(id uuid.UUID) *ErrResourceNotFound {
	err := NewErrResourceNotFound(id, "job")
	err.code = CodeJobNotFound
	return err
}

func NewErrJobDescriptionNotFound(id uuid.UUID) *ErrResourceNotFound {
	err := NewErrResourceNotFound(id, "job description")
	err.code = CodeJobDescriptionNotFound
	return err
}

// ErrInvalidRequest is returned before anything is persisted.
type ErrInvalidRequest struct {
	error
	code string
}

func (e *ErrInvalidRequest) Code() string {
	return e.code
}

func NewErrInvalidJobInput(cause error) *ErrInvalidRequest {
	return &ErrInvalidRequest{error: fmt.Errorf("invalid job: %w", cause), code: CodeInvalidJobInput}
}

func NewErrInvalidJobOutput(cause error) *ErrInvalidRequest {
	return &ErrInvalidRequest{error: fmt.Errorf("invalid job output: %w", cause), code: CodeInvalidJobOutput}
}

func NewErrInvalidRequest(format string, args ...any) *ErrInvalidRequest {
	return &ErrInvalidRequest{error: fmt.Errorf(format, args...), code: CodeInvalidRequest}
}

type ErrJobAlreadyCompleted struct {
	error
}

func (e *ErrJobAlreadyCompleted) Code() string {
	return CodeJobAlreadyCompleted
}

func NewErrJobAlreadyCompleted(id uuid.UUID, action string) *ErrJobAlreadyCompleted {
	return &ErrJobAlreadyCompleted{fmt.Errorf("job %s already completed, cannot %s", id, action)}
}

type ErrJobNotRetryable struct {
	error
}

func (e *ErrJobNotRetryable) Code() string {
	return CodeJobNotRetryable
}

func NewErrJobNotRetryable(id uuid.UUID) *ErrJobNotRetryable {
	return &ErrJobNotRetryable{fmt.Errorf("job %s: only failed jobs can be retried", id)}
}

// ErrJobConflict reports a transition that does not apply to the current
// status, or a job that kept changing while being updated.
type ErrJobConflict struct {
	error
}

func (e *ErrJobConflict) Code() string {
	return CodeJobConflict
}

func NewErrJobConflict(id uuid.UUID, cause error) *ErrJobConflict {
	return &ErrJobConflict{fmt.Errorf("job %s: %w", id, cause)}
}
