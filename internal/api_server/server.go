package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cvbuilder/cvbuilder-api/internal/config"
	handlers "github.com/cvbuilder/cvbuilder-api/internal/handlers/v1alpha1"
	"github.com/cvbuilder/cvbuilder-api/internal/jobs"
	"github.com/cvbuilder/cvbuilder-api/internal/service"
	"github.com/cvbuilder/cvbuilder-api/internal/store"
	"github.com/cvbuilder/cvbuilder-api/internal/util"
	"github.com/cvbuilder/cvbuilder-api/pkg/metrics"
	"github.com/cvbuilder/cvbuilder-api/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

type Server struct {
	cfg      *config.Config
	store    store.Store
	listener net.Listener
	registry *jobs.Registry
	jobSrv   *service.JobService
	jdSrv    *service.JobDescriptionService
	adminSrv *service.AdminJobService
}

// New returns a new instance of the cv builder api server.
func New(
	cfg *config.Config,
	store store.Store,
	listener net.Listener,
	registry *jobs.Registry,
	jobService *service.JobService,
	jdService *service.JobDescriptionService,
	adminService *service.AdminJobService,
) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		listener: listener,
		registry: registry,
		jobSrv:   jobService,
		jdSrv:    jdService,
		adminSrv: adminService,
	}
}

// Router builds the handler chain serving the api.
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()

	metricMiddleware := metrics.NewMiddleware("api_server")
	metricMiddleware.MustRegisterDefault()

	router.Use(
		util.GatewayApiRewrite,
		metricMiddleware.Handler,
		cors.Handler(cors.Options{
			AllowedOrigins:   []string{s.cfg.Service.BaseUrl},
			AllowedMethods:   []string{"GET", "PUT", "POST", "DELETE", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
	)

	handlers.NewServiceHandler(s.jobSrv, s.jdSrv, s.adminSrv, s.registry).Routes(router)

	return router
}

func (s *Server) Run(ctx context.Context) error {
	zap.S().Named("api_server").Info("Initializing API server")

	srv := http.Server{Addr: s.cfg.Service.Address, Handler: s.Router()}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("api_server").Info("api server terminated")
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
