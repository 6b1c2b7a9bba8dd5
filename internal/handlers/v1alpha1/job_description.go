package v1alpha1

import (
	"net/http"
	"strconv"

	api "github.com/cvbuilder/cvbuilder-api/api/v1alpha1"
	"github.com/cvbuilder/cvbuilder-api/internal/handlers/v1alpha1/mappers"
	"github.com/cvbuilder/cvbuilder-api/internal/service"
	"github.com/cvbuilder/cvbuilder-api/pkg/log"
)

// (GET /api/v1/job-descriptions)
func (h *ServiceHandler) ListJobDescriptions(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := pageParams(r)
	if err != nil {
		replyError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	page, pageSize = service.NormalizePage(page, pageSize)

	list, err := h.jdSrv.List(r.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		replyServiceError(w, r, err, "list job descriptions")
		return
	}

	reply(w, r, http.StatusOK, mappers.JobDescriptionListToApi(list))
}

// (POST /api/v1/job-descriptions)
func (h *ServiceHandler) CreateJobDescription(w http.ResponseWriter, r *http.Request) {
	logger := log.NewDebugLogger("job_description_handler").WithContext(r.Context()).Operation("create_job_description").Build()

	var form api.JobDescriptionForm
	if err := h.decode(r, &form); err != nil {
		logger.Warn(err).Log()
		replyError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	jd, err := h.jdSrv.Create(r.Context(), mappers.JobDescriptionFormApi(form))
	if err != nil {
		logger.Error(err).Log()
		replyServiceError(w, r, err, "create job description")
		return
	}

	logger.Success().WithUUID("job_description_id", jd.ID).Log()
	reply(w, r, http.StatusCreated, mappers.JobDescriptionToApi(*jd))
}

// (GET /api/v1/job-descriptions/{id})
func (h *ServiceHandler) GetJobDescription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		replyError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	jd, err := h.jdSrv.Get(r.Context(), id)
	if err != nil {
		replyServiceError(w, r, err, "get job description")
		return
	}

	reply(w, r, http.StatusOK, mappers.JobDescriptionToApi(*jd))
}

// (PUT /api/v1/job-descriptions/{id})
func (h *ServiceHandler) UpdateJobDescription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		replyError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	logger := log.NewDebugLogger("job_description_handler").WithContext(r.Context()).Operation("update_job_description").WithUUID("job_description_id", id).Build()

	var form api.JobDescriptionForm
	if err := h.decode(r, &form); err != nil {
		logger.Warn(err).Log()
		replyError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	jd, err := h.jdSrv.Update(r.Context(), id, mappers.JobDescriptionFormApi(form))
	if err != nil {
		logger.Error(err).Log()
		replyServiceError(w, r, err, "update job description")
		return
	}

	logger.Success().Log()
	reply(w, r, http.StatusOK, mappers.JobDescriptionToApi(*jd))
}

// (DELETE /api/v1/job-descriptions/{id})
func (h *ServiceHandler) DeleteJobDescription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		replyError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.jdSrv.Delete(r.Context(), id); err != nil {
		replyServiceError(w, r, err, "delete job description")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// (POST /api/v1/job-descriptions/{id}/rubric)
func (h *ServiceHandler) CreateRubricJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		replyError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	logger := log.NewDebugLogger("job_description_handler").WithContext(r.Context()).Operation("create_rubric_job").WithUUID("job_description_id", id).Build()

	form := api.RubricJobCreate{Priority: service.RubricJobPriority}
	if r.ContentLength > 0 {
		if err := h.decode(r, &form); err != nil {
			logger.Warn(err).Log()
			replyError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	job, err := h.jdSrv.EnqueueBuildRubricJob(r.Context(), id, form.Priority)
	if err != nil {
		logger.Error(err).Log()
		replyServiceError(w, r, err, "create rubric job")
		return
	}

	logger.Success().WithUUID("job_id", job.ID).Log()
	reply(w, r, http.StatusAccepted, mappers.JobToApi(*job))
}

func pageParams(r *http.Request) (page int, pageSize int, err error) {
	query := r.URL.Query()
	if v := query.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil {
			return 0, 0, errInvalidQuery("page", v)
		}
	}
	if v := query.Get("pageSize"); v != "" {
		if pageSize, err = strconv.Atoi(v); err != nil {
			return 0, 0, errInvalidQuery("pageSize", v)
		}
	}
	return page, pageSize, nil
}
