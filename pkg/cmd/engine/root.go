package engine

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/creepdata/creep-engine/pkg/adapter"
	"github.com/creepdata/creep-engine/pkg/config"
	"github.com/creepdata/creep-engine/pkg/engine"
	"github.com/creepdata/creep-engine/pkg/logger"
	"github.com/creepdata/creep-engine/pkg/queue"
	"github.com/creepdata/creep-engine/pkg/storage/postgres"
)

func NewCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "creep-engine",
		Short: "Resource lease scheduler binding task orders to pooled assets",
	}
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c",
		"creep-engine.yaml", "configuration file")
	cmd.AddCommand(
		newLoaderCommand(),
		newWorkerCommand(),
		newJanitorCommand(),
		newMigrateCommand(),
	)

	return cmd
}

// runtime bundles the shared process dependencies built from config.
type runtime struct {
	cfg   config.Engine
	log   logr.Logger
	store *postgres.Store
	queue *queue.Redis
}

func (r *runtime) close() {
	r.store.Close()
	if err := r.queue.Close(); err != nil {
		r.log.Error(err, "Failed to close queue client")
	}
}

func setup(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	cfgFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	store, err := postgres.New(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to store: %w", err)
	}

	q, err := queue.NewRedis(cfg.Queue.RedisURL)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, log: log, store: store, queue: q}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newLoaderCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "loader",
		Short: "Bind pending task orders to ready assets and publish payloads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rt, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			loader := engine.NewLoader(rt.log.WithName("loader"), rt.store, rt.queue, rt.cfg.Queue.Name)
			rt.log.Info("Loader started", "queue", rt.cfg.Queue.Name, "batchSize", rt.cfg.Loader.BatchSize)

			for {
				idle := true
				for i := 0; i < rt.cfg.Loader.BatchSize; i++ {
					payloads, err := loader.Sync(ctx)
					if err != nil {
						rt.log.Error(err, "Sync pass failed")
						break
					}
					if len(payloads) == 0 {
						break
					}
					idle = false
				}

				if !idle {
					continue
				}

				select {
				case <-time.After(rt.cfg.Loader.SyncInterval):
				case <-ctx.Done():
					rt.log.Info("Loader stopped")
					return nil
				}
			}
		},
	}
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued payloads and settle task outcomes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rt, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			var overrides map[string]string
			if rt.cfg.Worker.Adapter == "mock" {
				// The configured success rate wins over simulated failure knobs.
				overrides = map[string]string{
					"rate_limit_probability":     "0",
					"provider_error_probability": strconv.FormatFloat(1-rt.cfg.Worker.MockSuccessRate, 'f', -1, 64),
				}
			}

			vendor, err := adapter.Create(rt.cfg.Worker.Adapter, overrides)
			if err != nil {
				return err
			}

			dispenser := engine.NewDispenser(rt.queue, rt.cfg.Queue.Name, rt.cfg.Queue.PopTimeout)
			worker := engine.NewWorker(rt.log.WithName("worker"), rt.store, dispenser, vendor, rt.cfg.Worker.PollInterval)
			rt.log.Info("Worker started", "queue", rt.cfg.Queue.Name, "adapter", rt.cfg.Worker.Adapter)

			if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}

			rt.log.Info("Worker stopped")
			return nil
		},
	}
}

func newJanitorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "janitor",
		Short: "Recover expired locks and finished cooling windows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rt, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			janitor := engine.NewJanitor(rt.log.WithName("janitor"), rt.store,
				rt.cfg.Janitor.BatchSize, rt.cfg.Janitor.MaxProcessLimit)
			rt.log.Info("Janitor started", "sweepInterval", rt.cfg.Janitor.SweepInterval.String())

			ticker := time.NewTicker(rt.cfg.Janitor.SweepInterval)
			defer ticker.Stop()

			for {
				if err := janitor.RunOnce(ctx); err != nil {
					rt.log.Error(err, "Sweep pass failed")
				}

				select {
				case <-ticker.C:
				case <-ctx.Done():
					rt.log.Info("Janitor stopped")
					return nil
				}
			}
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rt, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("cannot apply schema: %w", err)
			}

			rt.log.Info("Schema is up to date")
			return nil
		},
	}
}
