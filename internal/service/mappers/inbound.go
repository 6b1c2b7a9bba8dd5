package mappers

import (
	"time"

	"github.com/cvbuilder/cvbuilder-api/internal/jobs"
	"github.com/cvbuilder/cvbuilder-api/internal/store/model"
	"github.com/google/uuid"
)

// RubricInputFromJobDescription builds the view of a job description handed to the rubric builder.
func RubricInputFromJobDescription(jd model.JobDescription) jobs.BuildRubricInput {
	return jobs.BuildRubricInput{
		JobDescriptionID: jd.ID,
		Title:            jd.Title,
		Company:          jd.Company,
		Description:      jd.Description,
		Requirements:     jd.Requirements,
	}
}

type JobDescriptionForm struct {
	Title        string
	Company      string
	Description  string
	Requirements string
}

func (f JobDescriptionForm) ToJobDescription(id uuid.UUID, now time.Time) model.JobDescription {
	return model.JobDescription{
		ID:           id,
		Title:        f.Title,
		Company:      f.Company,
		Description:  f.Description,
		Requirements: f.Requirements,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
