package v1alpha1

import (
	"errors"
	"fmt"
	"net/http"

	api "github.com/cvbuilder/cvbuilder-api/api/v1alpha1"
	"github.com/cvbuilder/cvbuilder-api/internal/handlers/validator"
	"github.com/cvbuilder/cvbuilder-api/internal/jobs"
	"github.com/cvbuilder/cvbuilder-api/internal/service"
	"github.com/cvbuilder/cvbuilder-api/pkg/requestid"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

type ServiceHandler struct {
	jobSrv    *service.JobService
	jdSrv     *service.JobDescriptionService
	adminSrv  *service.AdminJobService
	validator *validator.Validator
}

func NewServiceHandler(jobService *service.JobService, jdService *service.JobDescriptionService, adminService *service.AdminJobService, registry *jobs.Registry) *ServiceHandler {
	v := validator.NewValidator()
	v.Register(validator.NewJobValidationRules(func(kind string) bool { return registry.Known(jobs.Kind(kind)) })...)
	v.Register(validator.NewJobDescriptionValidationRules()...)

	return &ServiceHandler{
		jobSrv:    jobService,
		jdSrv:     jdService,
		adminSrv:  adminService,
		validator: v,
	}
}

// Routes mounts every endpoint on router.
func (h *ServiceHandler) Routes(router chi.Router) {
	router.Get("/health", h.Health)

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", h.CreateJob)
		r.Get("/jobs/{id}", h.GetJob)
		r.Post("/reviews", h.CreateReview)

		r.Route("/job-descriptions", func(r chi.Router) {
			r.Get("/", h.ListJobDescriptions)
			r.Post("/", h.CreateJobDescription)
			r.Get("/{id}", h.GetJobDescription)
			r.Put("/{id}", h.UpdateJobDescription)
			r.Delete("/{id}", h.DeleteJobDescription)
			r.Post("/{id}/rubric", h.CreateRubricJob)
		})

		r.Route("/admin/jobs", func(r chi.Router) {
			r.Get("/", h.ListJobs)
			r.Post("/clear-completed", h.ClearCompletedJobs)
			r.Get("/{id}", h.GetJobDetail)
			r.Delete("/{id}", h.DeleteJob)
			r.Post("/{id}/cancel", h.CancelJob)
			r.Post("/{id}/retry", h.RetryJob)
		})
	})
}

// (GET /health)
func (h *ServiceHandler) Health(w http.ResponseWriter, r *http.Request) {
	reply(w, r, http.StatusOK, api.Health{Status: "ok"})
}

func reply(w http.ResponseWriter, r *http.Request, status int, body any) {
	render.Status(r, status)
	render.JSON(w, r, body)
}

func replyError(w http.ResponseWriter, r *http.Request, status int, message string) {
	body := api.Error{Message: message}
	if id := requestid.FromRequest(r); id != "" {
		body.RequestId = &id
	}
	reply(w, r, status, body)
}

// replyServiceError maps domain errors to their status code. Anything
// unknown is reported as an internal error while performing action.
func replyServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	var (
		validationErr *validator.ErrValidation
		invalidErr    *service.ErrInvalidRequest
		notFoundErr   *service.ErrResourceNotFound
		completedErr  *service.ErrJobAlreadyCompleted
		notRetryErr   *service.ErrJobNotRetryable
		conflictErr   *service.ErrJobConflict
	)

	status, code, message := http.StatusInternalServerError, "", err.Error()
	switch {
	case errors.As(err, &validationErr):
		status, code = http.StatusBadRequest, service.CodeInvalidRequest
	case errors.As(err, &invalidErr):
		status, code = http.StatusBadRequest, invalidErr.Code()
	case errors.As(err, &notFoundErr):
		status, code = http.StatusNotFound, notFoundErr.Code()
	case errors.As(err, &completedErr):
		status, code = http.StatusConflict, completedErr.Code()
	case errors.As(err, &notRetryErr):
		status, code = http.StatusConflict, notRetryErr.Code()
	case errors.As(err, &conflictErr):
		status, code = http.StatusConflict, conflictErr.Code()
	default:
		message = fmt.Sprintf("failed to %s: %v", action, err)
	}

	body := api.Error{Message: message, Code: code}
	if id := requestid.FromRequest(r); id != "" {
		body.RequestId = &id
	}
	reply(w, r, status, body)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func (h *ServiceHandler) decode(r *http.Request, form any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return errors.New("empty body")
	}
	if err := render.DecodeJSON(r.Body, form); err != nil {
		return fmt.Errorf("malformed body: %v", err)
	}
	return h.validator.Struct(form)
}
