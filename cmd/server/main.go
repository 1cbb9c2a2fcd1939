package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meterline/meterline/internal/api"
	v1 "github.com/meterline/meterline/internal/api/v1"
	"github.com/meterline/meterline/internal/cache"
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/partition"
	"github.com/meterline/meterline/internal/integration/plans"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/pubsub"
	kafkapubsub "github.com/meterline/meterline/internal/pubsub/kafka"
	"github.com/meterline/meterline/internal/pubsub/router"
	"github.com/meterline/meterline/internal/repository/postgres"
	"github.com/meterline/meterline/internal/sentry"
	"github.com/meterline/meterline/internal/service"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		panic(err)
	}

	if err := run(cfg, log); err != nil {
		log.Fatalw("server exited", "error", err)
	}
}

func run(cfg *config.Configuration, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sentryService, err := sentry.NewService(cfg, log)
	if err != nil {
		return err
	}
	defer sentryService.Flush()

	pgClient, err := postgres.NewClient(cfg, log)
	if err != nil {
		return err
	}
	defer pgClient.Close()

	if err := pgClient.EnsureSchema(ctx); err != nil {
		return err
	}

	store := postgres.NewDocumentRepository(pgClient, log)
	cacheBackend := cache.Initialize(cfg, log)

	var planLookup plans.Lookup
	if cfg.PlanLookup.BaseURL != "" {
		planLookup = plans.NewClient(cfg, cacheBackend, log)
	} else {
		planLookup = plans.NewStaticLookup()
	}

	params := service.ServiceParams{
		Logger:   log,
		Config:   cfg,
		Store:    store,
		Plans:    planLookup,
		Sequence: partition.NewSequence(),
	}

	accumulator := service.NewAccumulatorService(params)
	aggregator := service.NewAggregatorService(params)
	query := service.NewUsageQueryService(params)

	var pubSub pubsub.PubSub
	if cfg.Ingestion.Enabled {
		pubSub, err = kafkapubsub.NewPubSubFromConfig(cfg, log, cfg.Ingestion.ConsumerGroup)
		if err != nil {
			return err
		}
		defer pubSub.Close()
	}

	ingestion := service.NewIngestionService(params, pubSub, accumulator, aggregator)

	usageHandler := v1.NewUsageHandler(cfg, ingestion, aggregator, query, log)
	engine := api.NewRouter(cfg, log, usageHandler)

	server := &http.Server{
		Addr:    cfg.API.Address,
		Handler: engine,
	}

	errCh := make(chan error, 2)

	if cfg.Ingestion.Enabled {
		messageRouter, err := router.NewRouter(cfg, log)
		if err != nil {
			return err
		}
		defer messageRouter.Close()

		ingestion.RegisterHandler(messageRouter)
		go func() {
			log.Infow("starting usage event consumer", "topic", cfg.Ingestion.Topic)
			if err := messageRouter.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	go func() {
		log.Infow("starting http server", "address", cfg.API.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Infow("shutdown signal received")
	case err := <-errCh:
		sentryService.CaptureException(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
