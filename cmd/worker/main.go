package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"bookforge/internal/bootstrap"
	"bookforge/internal/dispatch"
	"bookforge/internal/infra"
	"bookforge/internal/jobstore"
)

// The worker consumes job ids from the broker and runs the pipeline for
// each. It is only needed with DISPATCH_MODE=amqp.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("component", "worker").Logger()
	if cfg.DispatchMode != infra.DispatchAMQP {
		logger.Fatal().Str("dispatch_mode", cfg.DispatchMode).Msg("worker requires DISPATCH_MODE=amqp")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped")
	}
	logger.Info().Msg("worker stopped")
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
	runner, err := bootstrap.NewRunner(cfg, jobstore.New(store.Jobs, logger), store.Accounts, artifacts.Store, providers, logger)
	if err != nil {
		return err
	}

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return fmt.Errorf("connect amqp: %w", err)
	}
	defer conn.Close()

	consumer, err := dispatch.NewConsumer(conn, cfg.AMQPQueue, runner, cfg.WorkerConcurrency, logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("queue", cfg.AMQPQueue).Int("prefetch", cfg.WorkerConcurrency).Msg("consuming jobs")
		return consumer.Start(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				return nil
			}
			return fmt.Errorf("amqp connection closed: %w", amqpErr)
		}
	})
	return g.Wait()
}
