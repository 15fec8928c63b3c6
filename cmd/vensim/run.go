package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/septivank/ven-fleet-simulator/internal/config"
	"github.com/septivank/ven-fleet-simulator/internal/mq"
	"github.com/septivank/ven-fleet-simulator/internal/scheduler"
	"github.com/septivank/ven-fleet-simulator/internal/service"
	"github.com/septivank/ven-fleet-simulator/internal/simulation"
	"github.com/septivank/ven-fleet-simulator/internal/vtn"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	setupFlag  bool
	uploadFlag bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulator: register VENs and report live telemetry on a schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			catalogModule,
			simulationModule,
			fx.Provide(ProvideScheduler, ProvideEventResponder),
			fx.Invoke(startSimulation),
			fx.StartTimeout(startStopTimeout),
			fx.StopTimeout(startStopTimeout),
		)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		startCtx, startCancel := context.WithTimeout(context.Background(), startStopTimeout)
		defer startCancel()
		if err := app.Start(startCtx); err != nil {
			return err
		}

		<-ctx.Done()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), startStopTimeout)
		defer stopCancel()
		return app.Stop(stopCtx)
	},
}

func init() {
	runCmd.Flags().BoolVar(&setupFlag, "setup", false, "register loads of every VEN before reporting")
	runCmd.Flags().BoolVar(&uploadFlag, "upload", false, "with --setup, also upload recorded history")
}

// ProvideScheduler creates the periodic task runner
func ProvideScheduler(logger *zap.Logger) *scheduler.Scheduler {
	return scheduler.New(logger.Named("scheduler"))
}

// ProvideEventResponder creates the demand response event poller. It gets its
// own VTN client so slow polls never queue behind reporting calls.
func ProvideEventResponder(logger *zap.Logger, cfg *config.Config, tokens vtn.TokenProvider, engine *simulation.Engine, pipeline *service.Pipeline) *service.EventResponder {
	client := vtn.New(cfg.VTN.BaseURL, tokens, vtn.Options{
		RequestTimeout: cfg.VTN.RequestTimeout,
		BulkTimeout:    cfg.VTN.BulkTimeout,
	}, logger.Named("vtn_events"))

	var rng *rand.Rand
	if cfg.Simulation.Seed != 0 {
		rng = rand.New(rand.NewSource(cfg.Simulation.Seed))
	}
	policy := service.NewResponsePolicy(rng, nil)

	return service.NewEventResponder(client, pipeline, engine, policy, logger.Named("events"))
}

func startSimulation(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	engine *simulation.Engine,
	pipeline *service.Pipeline,
	sched *scheduler.Scheduler,
	events *service.EventResponder,
	conn *mq.Connection,
) error {
	ctx, cancel := context.WithCancel(context.Background())

	if err := sched.Add("generate_reports", cfg.Schedule.ReportInterval, func(ctx context.Context) error {
		_, err := pipeline.GenerateReports(ctx)
		return err
	}); err != nil {
		cancel()
		return err
	}
	if err := sched.Add("resource_status_checker", cfg.Schedule.StatusCheckInterval, pipeline.CheckStatus); err != nil {
		cancel()
		return err
	}
	if err := sched.Add("event_poller", cfg.Schedule.EventPollInterval, func(ctx context.Context) error {
		_, err := events.PollAndRespond(ctx)
		return err
	}); err != nil {
		cancel()
		return err
	}
	if err := sched.Add("heartbeat", cfg.Schedule.HeartbeatInterval, func(ctx context.Context) error {
		logger.Info("heartbeat",
			zap.Int("current_index", engine.CurrentIndex()),
			zap.Int("registered_vens", len(pipeline.RegisteredVens())),
		)
		return nil
	}); err != nil {
		cancel()
		return err
	}

	var consumer *mq.Consumer

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := engine.InitializeResources(startCtx, cfg.Simulation.Vens); err != nil {
				return err
			}

			for _, ven := range engine.Vens() {
				if err := pipeline.RegisterVen(startCtx, ven); err != nil {
					logger.Error("ven registration failed, it will not report", zap.String("ven_id", ven), zap.Error(err))
				}
			}

			if conn != nil {
				var err error
				consumer, err = mq.NewConsumer(mq.ConsumerConfig{
					Connection:    conn,
					Exchange:      cfg.RabbitMQ.StatusExchange,
					Queue:         cfg.RabbitMQ.StatusQueue,
					RoutingKey:    cfg.RabbitMQ.StatusRoutingKey,
					DLQQueue:      cfg.RabbitMQ.StatusDLQQueue,
					PrefetchCount: cfg.RabbitMQ.PrefetchCount,
					Logger:        logger.Named("status"),
					Handler:       pipeline.HandleStatusCommand,
				})
				if err != nil {
					return err
				}
				if err := consumer.Start(ctx); err != nil {
					return err
				}
			}

			go func() {
				if setupFlag {
					setupVens(ctx, logger, engine, pipeline)
				}
				sched.Start(ctx)
			}()

			logger.Info("simulator started",
				zap.Int("vens", len(engine.Vens())),
				zap.Duration("report_interval", cfg.Schedule.ReportInterval),
			)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			sched.Stop()
			if consumer != nil {
				if err := consumer.Close(); err != nil {
					logger.Error("failed to close status consumer", zap.Error(err))
				}
			}
			logger.Info("simulator stopped")
			return nil
		},
	})

	return nil
}

func setupVens(ctx context.Context, logger *zap.Logger, engine *simulation.Engine, pipeline *service.Pipeline) {
	for _, ven := range engine.Vens() {
		started := time.Now()
		summary, err := pipeline.SetupVen(ctx, ven, uploadFlag)
		if err != nil {
			logger.Error("ven setup failed", zap.String("ven_id", ven), zap.Error(err))
			continue
		}
		fields := []zap.Field{
			zap.String("ven_id", ven),
			zap.Int("registered", summary.Registration.Registered),
			zap.Int("failed", summary.Registration.Failed),
			zap.Duration("elapsed", time.Since(started)),
		}
		if summary.Upload != nil {
			fields = append(fields, zap.Int("points_uploaded", summary.Upload.TotalPointsUploaded))
		}
		logger.Info("ven setup finished", fields...)
	}
}
