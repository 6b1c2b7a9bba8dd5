package v1alpha1

import (
	"fmt"
	"net/http"

	api "github.com/cvbuilder/cvbuilder-api/api/v1alpha1"
	"github.com/cvbuilder/cvbuilder-api/internal/handlers/v1alpha1/mappers"
	"github.com/cvbuilder/cvbuilder-api/internal/service"
	"github.com/cvbuilder/cvbuilder-api/pkg/log"
)

// (GET /api/v1/admin/jobs)
func (h *ServiceHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	logger := log.NewDebugLogger("admin_job_handler").WithContext(r.Context()).Operation("list_jobs").Build()

	page, pageSize, err := pageParams(r)
	if err != nil {
		replyError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	filter := service.AdminJobFilter{
		Type:     r.URL.Query().Get("type"),
		Status:   r.URL.Query().Get("status"),
		Page:     page,
		PageSize: pageSize,
	}

	result, err := h.adminSrv.List(r.Context(), filter)
	if err != nil {
		logger.Error(err).Log()
		replyServiceError(w, r, err, "list jobs")
		return
	}

	logger.Success().WithInt("count", len(result.Items)).Log()
	reply(w, r, http.StatusOK, mappers.JobPageToApi(*result))
}

// (GET /api/v1/admin/jobs/{id})
func (h *ServiceHandler) GetJobDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		replyError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.adminSrv.Detail(r.Context(), id)
	if err != nil {
		replyServiceError(w, r, err, "get job")
		return
	}

	reply(w, r, http.StatusOK, mappers.JobDetailToApi(*job))
}

// (POST /api/v1/admin/jobs/{id}/cancel)
func (h *ServiceHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		replyError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	logger := log.NewDebugLogger("admin_job_handler").WithContext(r.Context()).Operation("cancel_job").WithUUID("job_id", id).Build()

	job, err := h.adminSrv.Cancel(r.Context(), id)
	if err != nil {
		logger.Error(err).Log()
		replyServiceError(w, r, err, "cancel job")
		return
	}

	logger.Success().Log()
	reply(w, r, http.StatusOK, mappers.JobToApi(*job))
}

// (POST /api/v1/admin/jobs/{id}/retry)
func (h *ServiceHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		replyError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	logger := log.NewDebugLogger("admin_job_handler").WithContext(r.Context()).Operation("retry_job").WithUUID("job_id", id).Build()

	job, err := h.adminSrv.Retry(r.Context(), id)
	if err != nil {
		logger.Error(err).Log()
		replyServiceError(w, r, err, "retry job")
		return
	}

	logger.Success().WithUUID("retry_job_id", job.ID).Log()
	reply(w, r, http.StatusCreated, mappers.JobToApi(*job))
}

// (DELETE /api/v1/admin/jobs/{id})
func (h *ServiceHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		replyError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.adminSrv.Delete(r.Context(), id); err != nil {
		replyServiceError(w, r, err, "delete job")
		return
	}

	w.WriteHeader(http.StatusOK)
}

// (POST /api/v1/admin/jobs/clear-completed)
func (h *ServiceHandler) ClearCompletedJobs(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.adminSrv.ClearCompleted(r.Context())
	if err != nil {
		replyServiceError(w, r, err, "clear completed jobs")
		return
	}

	reply(w, r, http.StatusOK, api.ClearCompletedResult{Cleared: cleared})
}

func errInvalidQuery(name, value string) error {
	return fmt.Errorf("invalid query parameter %s: %q", name, value)
}
