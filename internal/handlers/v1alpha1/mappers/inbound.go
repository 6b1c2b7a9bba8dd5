package mappers

import (
	api "github.com/cvbuilder/cvbuilder-api/api/v1alpha1"
	"github.com/cvbuilder/cvbuilder-api/internal/service/mappers"
)

func JobDescriptionFormApi(form api.JobDescriptionForm) mappers.JobDescriptionForm {
	return mappers.JobDescriptionForm{
		Title:        form.Title,
		Company:      form.Company,
		Description:  form.Description,
		Requirements: form.Requirements,
	}
}
