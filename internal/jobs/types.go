package jobs

import (
	"github.com/google/uuid"
)

// Kind identifies the work a job performs. The set of kinds is closed: every
// kind has a typed input and output registered in the Registry.
type Kind string

const (
	KindBuildCvSectionRubric Kind = "BuildCvSectionRubric"
	KindReviewCvAgainstJd    Kind = "ReviewCvAgainstJd"
)

func (k Kind) String() string {
	return string(k)
}

// BuildRubricInput is the view of a JobDescription handed to the rubric builder.
// JobDescriptionID is optional: ad-hoc rubrics are kept only as job output.
type BuildRubricInput struct {
	JobDescriptionID uuid.UUID `json:"jobDescriptionId,omitempty"`
	Title            string    `json:"title" validate:"required,max=255"`
	Company          string    `json:"company,omitempty" validate:"max=255"`
	Description      string    `json:"description,omitempty"`
	Requirements     string    `json:"requirements,omitempty"`
}

type RubricSection struct {
	Name     string   `json:"name" validate:"required"`
	Weight   float64  `json:"weight" validate:"gt=0,lte=1"`
	Criteria []string `json:"criteria,omitempty"`
}

// SectionRubric is the output of a BuildCvSectionRubric job.
type SectionRubric struct {
	Sections []RubricSection `json:"sections" validate:"required,min=1,dive"`
}

// ReviewInput holds the two texts compared by a ReviewCvAgainstJd job.
type ReviewInput struct {
	CvText string `json:"cvText" validate:"required"`
	JdText string `json:"jdText" validate:"required"`
}

type ReviewOutput struct {
	Review string `json:"review" validate:"required"`
}
