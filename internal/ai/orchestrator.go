package ai

import (
	"context"
	"errors"

	"github.com/cvbuilder/cvbuilder-api/internal/jobs"
)

var (
	ErrAPIKeyNotSet       = errors.New("ai api key not set")
	ErrEmptyResponse      = errors.New("ai returned an empty response")
	ErrMaxRetriesExceeded = errors.New("ai rate limit retries exceeded")
)

// Orchestrator is the AI capability the job workers call into.
// Implementations must honour the deadline carried by ctx.
type Orchestrator interface {
	ReviewCvAgainstJd(ctx context.Context, cvText, jdText string) (string, error)
	BuildSectionRubric(ctx context.Context, input jobs.BuildRubricInput) (jobs.SectionRubric, error)
}
