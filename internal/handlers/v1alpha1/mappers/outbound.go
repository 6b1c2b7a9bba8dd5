package mappers

import (
	"encoding/json"

	api "github.com/cvbuilder/cvbuilder-api/api/v1alpha1"
	"github.com/cvbuilder/cvbuilder-api/internal/service"
	"github.com/cvbuilder/cvbuilder-api/internal/store/model"
)

func JobToApi(j model.Job) api.Job {
	job := api.Job{
		Id:          j.ID,
		Type:        j.Type.String(),
		Status:      api.JobStatus(j.Status),
		Priority:    j.Priority,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		RetryOf:     j.RetryOf,
	}

	if len(j.Output) > 0 {
		output := json.RawMessage(j.Output)
		job.Output = &output
	}

	if j.ErrorCode != nil || j.ErrorMessage != nil {
		jobErr := api.JobError{}
		if j.ErrorCode != nil {
			jobErr.Code = *j.ErrorCode
		}
		if j.ErrorMessage != nil {
			jobErr.Message = *j.ErrorMessage
		}
		job.Error = &jobErr
	}

	return job
}

func JobDetailToApi(j model.Job) api.JobDetail {
	return api.JobDetail{
		Job:   JobToApi(j),
		Input: json.RawMessage(j.Input),
	}
}

func JobPageToApi(page service.AdminJobPage) api.JobList {
	items := make([]api.JobDetail, 0, len(page.Items))
	for _, j := range page.Items {
		items = append(items, JobDetailToApi(j))
	}

	counts := make(map[string]int64, len(page.Counts))
	for status, count := range page.Counts {
		counts[status.String()] = count
	}

	return api.JobList{
		Items:    items,
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
		Counts:   counts,
	}
}

func JobDescriptionToApi(jd model.JobDescription) api.JobDescription {
	resp := api.JobDescription{
		Id:              jd.ID,
		Title:           jd.Title,
		Company:         jd.Company,
		Description:     jd.Description,
		Requirements:    jd.Requirements,
		RubricUpdatedAt: jd.RubricUpdatedAt,
		CreatedAt:       jd.CreatedAt,
		UpdatedAt:       jd.UpdatedAt,
	}
	if len(jd.SectionRubric) > 0 {
		rubric := json.RawMessage(jd.SectionRubric)
		resp.SectionRubric = &rubric
	}
	return resp
}

func JobDescriptionListToApi(list model.JobDescriptionList) api.JobDescriptionList {
	resp := make(api.JobDescriptionList, 0, len(list))
	for _, jd := range list {
		resp = append(resp, JobDescriptionToApi(jd))
	}
	return resp
}
