package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/KeyIP-RGD/internal/application/decomposition"
	"github.com/turtacn/KeyIP-RGD/internal/config"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-RGD/internal/infrastructure/monitoring/prometheus"
)

const shutdownTimeout = 10 * time.Second

type workerOptions struct {
	NoLock bool
	Reload bool
}

// NewWorkerCmd consumes decomposition jobs from Kafka until interrupted.
func NewWorkerCmd() *cobra.Command {
	opts := &workerOptions{}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume decomposition jobs from Kafka and publish their results",
		Long: "Reads job requests from kafka.job_topic, runs them, and publishes results to\n" +
			"kafka.result_topic. Jobs that keep failing are moved to kafka.dlq_topic.\n" +
			"SIGINT or SIGTERM stops the worker after the current job.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.NoLock, "no-lock", false, "do not take Redis job locks")
	f.BoolVar(&opts.Reload, "reload", true, "apply decomposition defaults from the config file when it changes")
	return cmd
}

func runWorker(cmd *cobra.Command, opts *workerOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	cfg, log := cliCtx.Config, cliCtx.Logger.Named("worker")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openBackends(ctx, cfg, log, backendNeeds{
		Metrics: true,
		Persist: cfg.Postgres.Enabled,
		Export:  cfg.MinIO.Enabled,
		Lock:    !opts.NoLock,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	svc := rt.Service()
	if opts.Reload && cliCtx.ConfigPath != "" {
		watchDefaults(cliCtx.ConfigPath, svc, log)
	}

	producer, err := kafka.NewProducer(cfg.Kafka, log)
	if err != nil {
		return err
	}
	defer producer.Close()

	consumer, err := kafka.NewConsumer(cfg.Kafka, cfg.Worker, log,
		kafka.WithDeadLetter(producer, cfg.Kafka.DLQTopic),
		kafka.WithRetryObserver(rt.metrics))
	if err != nil {
		return err
	}
	defer consumer.Close()

	var workerOpts []decomposition.WorkerOption
	if locker := rt.JobLocker(); locker != nil {
		workerOpts = append(workerOpts, decomposition.WithJobLocker(locker))
	}
	worker := decomposition.NewWorker(svc, producer, cfg.Kafka.ResultTopic, log, workerOpts...)

	if cfg.Metrics.Enabled {
		srv := prometheus.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, rt.collector, log)
		if _, err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Warn("metrics server shutdown failed", logging.Err(err))
			}
		}()
	}

	log.Info("worker started",
		logging.Strings("brokers", cfg.Kafka.Brokers),
		logging.String("job_topic", cfg.Kafka.JobTopic),
		logging.String("group_id", cfg.Kafka.GroupID),
		logging.Bool("locking", rt.locker != nil))

	if err := consumer.Run(ctx, worker.Handle); err != nil {
		return err
	}

	consumed, processed, retried, deadLettered := consumer.Counts()
	sent, failed, bytes := producer.Metrics()
	log.Info("worker stopped",
		logging.Int64("consumed", consumed),
		logging.Int64("processed", processed),
		logging.Int64("retried", retried),
		logging.Int64("dead_lettered", deadLettered),
		logging.Int64("results_sent", sent),
		logging.Int64("results_failed", failed),
		logging.Int64("bytes_sent", bytes))
	return nil
}

// watchDefaults pushes decomposition defaults from config file edits into
// svc. Other sections need a restart.
func watchDefaults(path string, svc decomposition.Service, log logging.Logger) {
	err := config.Watch(path, func(c *config.Config) {
		if err := svc.SetDefaults(c.Decomposition); err != nil {
			log.Warn("rejected reloaded decomposition defaults", logging.Err(err))
		}
	}, func(err error) {
		log.Warn("config reload failed", logging.Err(err))
	})
	if err != nil {
		log.Warn("config watch disabled", logging.Err(err))
	}
}
