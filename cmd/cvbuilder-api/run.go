package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/cvbuilder/cvbuilder-api/internal/ai"
	apiserver "github.com/cvbuilder/cvbuilder-api/internal/api_server"
	"github.com/cvbuilder/cvbuilder-api/internal/config"
	"github.com/cvbuilder/cvbuilder-api/internal/events"
	"github.com/cvbuilder/cvbuilder-api/internal/jobs"
	"github.com/cvbuilder/cvbuilder-api/internal/service"
	"github.com/cvbuilder/cvbuilder-api/internal/store"
	"github.com/cvbuilder/cvbuilder-api/internal/worker"
	"github.com/cvbuilder/cvbuilder-api/pkg/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the cv builder api",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return fmt.Errorf("reading configuration: %w", err)
		}

		logger := log.InitLog(log.ParseLevel(cfg.Service.LogLevel))
		defer func() { _ = logger.Sync() }()

		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting API service")
		defer zap.S().Info("API service stopped")

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			return fmt.Errorf("initializing data store: %w", err)
		}

		s := store.NewStore(db)
		defer s.Close()

		if cfg.Database.Type == "sqlite" {
			if err := s.InitialMigration(context.Background()); err != nil {
				return fmt.Errorf("running initial migration: %w", err)
			}
		}

		orchestrator, err := ai.NewClient(cfg.AI.BaseUrl, cfg.AI.ApiKey, cfg.AI.Model,
			ai.WithTimeout(cfg.AI.Timeout),
			ai.WithMaxRetries(cfg.AI.MaxRetries),
		)
		if err != nil {
			return fmt.Errorf("creating ai client: %w", err)
		}

		producer := events.NewEventProducer(newEventWriter(cfg),
			events.WithOutputTopic(cfg.Events.Topic),
			events.WithBufferCapacity(cfg.Events.Buffer),
		)
		defer func() { _ = producer.Close() }()

		registry := jobs.NewRegistry()
		for _, kind := range registry.Kinds() {
			registry.SetTimeout(kind, cfg.Worker.JobTimeout)
		}

		jobSrv := service.NewJobService(s, registry, orchestrator, service.WithEventWriter(producer))
		jdSrv := service.NewJobDescriptionService(s, jobSrv, orchestrator)
		adminSrv := service.NewAdminJobService(s, jobSrv, cfg.Worker.RetentionWindow)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		if cfg.Worker.Enabled {
			pool := worker.NewPool(jobSrv, adminSrv, worker.Config{
				Concurrency:        cfg.Worker.Concurrency,
				PollInterval:       cfg.Worker.PollInterval,
				StaleJobThreshold:  cfg.Worker.StaleJobThreshold,
				ReapInterval:       cfg.Worker.ReapInterval,
				AutoRetryAbandoned: cfg.Worker.AutoRetryAbandoned,
				RetentionInterval:  cfg.Worker.RetentionInterval,
			}, nil)
			pool.Start(ctx)
			defer func() {
				stopCtx, stop := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
				defer stop()
				if err := pool.Stop(stopCtx); err != nil {
					zap.S().Warnw("worker pool did not drain", "error", err)
				}
			}()
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			defer cancel()
			listener, err := newListener(cfg.Service.Address)
			if err != nil {
				return fmt.Errorf("creating listener: %w", err)
			}

			server := apiserver.New(cfg, s, listener, registry, jobSrv, jdSrv, adminSrv)
			return server.Run(gctx)
		})

		g.Go(func() error {
			defer cancel()
			listener, err := newListener(cfg.Service.MetricsAddress)
			if err != nil {
				return fmt.Errorf("creating metrics listener: %w", err)
			}

			return apiserver.NewMetricServer(cfg.Service.MetricsAddress, listener, s).Run(gctx)
		})

		return g.Wait()
	},
}

func newEventWriter(cfg *config.Config) events.Writer {
	if cfg.Events.Enabled && len(cfg.Events.Brokers) > 0 {
		zap.S().Infow("publishing job events to kafka", "brokers", cfg.Events.Brokers, "topic", cfg.Events.Topic)
		return events.NewKafkaWriter(cfg.Events.Brokers, cfg.Events.ClientID)
	}
	return &events.StdoutWriter{}
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
