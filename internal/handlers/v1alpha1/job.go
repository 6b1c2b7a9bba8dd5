package v1alpha1

import (
	"net/http"

	api "github.com/cvbuilder/cvbuilder-api/api/v1alpha1"
	"github.com/cvbuilder/cvbuilder-api/internal/handlers/v1alpha1/mappers"
	"github.com/cvbuilder/cvbuilder-api/internal/jobs"
	"github.com/cvbuilder/cvbuilder-api/pkg/log"
)

// (POST /api/v1/jobs)
func (h *ServiceHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	logger := log.NewDebugLogger("job_handler").WithContext(r.Context()).Operation("create_job").Build()

	var form api.JobCreate
	if err := h.decode(r, &form); err != nil {
		logger.Warn(err).Log()
		replyError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobSrv.Create(r.Context(), jobs.Kind(form.Type), form.Input, form.Priority)
	if err != nil {
		logger.Error(err).Log()
		replyServiceError(w, r, err, "create job")
		return
	}

	logger.Success().WithUUID("job_id", job.ID).Log()
	reply(w, r, http.StatusAccepted, mappers.JobToApi(*job))
}

// (GET /api/v1/jobs/{id})
func (h *ServiceHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		replyError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	logger := log.NewDebugLogger("job_handler").WithContext(r.Context()).Operation("get_job").WithUUID("job_id", id).Build()

	job, err := h.jobSrv.Get(r.Context(), id)
	if err != nil {
		logger.Error(err).Log()
		replyServiceError(w, r, err, "get job")
		return
	}

	logger.Success().Log()
	reply(w, r, http.StatusOK, mappers.JobToApi(*job))
}

// (POST /api/v1/reviews)
func (h *ServiceHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	logger := log.NewDebugLogger("job_handler").WithContext(r.Context()).Operation("create_review").Build()

	var form api.ReviewCreate
	if err := h.decode(r, &form); err != nil {
		logger.Warn(err).Log()
		replyError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobSrv.CreateReviewJob(r.Context(), form.CvText, form.JdText, form.Priority)
	if err != nil {
		logger.Error(err).Log()
		replyServiceError(w, r, err, "create review job")
		return
	}

	logger.Success().WithUUID("job_id", job.ID).Log()
	reply(w, r, http.StatusAccepted, mappers.JobToApi(*job))
}
