package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"bookforge/internal/bootstrap"
	"bookforge/internal/dispatch"
	"bookforge/internal/http/handlers"
	"bookforge/internal/http/httpapi"
	"bookforge/internal/infra"
	"bookforge/internal/infra/geoip"
	"bookforge/internal/jobstore"
	"bookforge/internal/middleware"
	"bookforge/internal/plangate"
	"bookforge/internal/research"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api stopped")
	}
	logger.Info().Msg("api stopped")
}

func run(ctx context.Context, cfg *infra.Config, logger infra.Logger) error {
	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	artifacts, err := bootstrap.OpenArtifacts(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open artifact storage: %w", err)
	}
	providers, err := bootstrap.NewProviders(cfg, logger)
	if err != nil {
		return err
	}

	jobs := jobstore.New(store.Jobs, logger)
	runner, err := bootstrap.NewRunner(cfg, jobs, store.Accounts, artifacts.Store, providers, logger)
	if err != nil {
		return err
	}

	checks := make(map[string]func(context.Context) error, len(store.Checks)+1)
	for name, check := range store.Checks {
		checks[name] = check
	}

	var (
		dispatcher plangate.Dispatcher
		workers    *dispatch.InProcess
	)
	switch cfg.DispatchMode {
	case infra.DispatchAMQP:
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			return fmt.Errorf("connect amqp: %w", err)
		}
		defer conn.Close()
		publisher, err := dispatch.NewPublisher(conn, cfg.AMQPQueue)
		if err != nil {
			return err
		}
		defer publisher.Close()
		dispatcher = publisher
		checks["broker"] = func(context.Context) error {
			if conn.IsClosed() {
				return amqp.ErrClosed
			}
			return nil
		}
		logger.Info().Str("queue", cfg.AMQPQueue).Msg("jobs dispatched to amqp")
	default:
		workers = dispatch.NewInProcess(runner, cfg.WorkerConcurrency, logger)
		dispatcher = workers
		logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("jobs run in process")
	}

	countries, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	defer countries.Close()
	var lookup middleware.CountryLookup
	if countries.Available() {
		lookup = countries.Lookup
	}

	gate := plangate.New(store.Accounts, jobs, runner, dispatcher, logger)
	app := &handlers.App{
		Gate:     gate,
		Previews: gate,
		Jobs:     jobs,
		Credits:  store.Accounts,
		Research: research.NewAnalyzer(providers.Text, logger),
		Logger:   logger,
		Checks:   checks,
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   "en",
		CountryLookup:   lookup,
		StaticDir:       artifacts.StaticDir,
		Logger:          logger,
	})
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Str("store", cfg.StoreBackend).Msg("api listening")
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown http: %w", err))
		}
		if workers != nil {
			if err := workers.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("drain jobs: %w", err))
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
