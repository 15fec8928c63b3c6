package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/septivank/ven-fleet-simulator/internal/anomaly"
	"github.com/septivank/ven-fleet-simulator/internal/checkpoint"
	"github.com/septivank/ven-fleet-simulator/internal/config"
	"github.com/septivank/ven-fleet-simulator/internal/db"
	"github.com/septivank/ven-fleet-simulator/internal/mq"
	"github.com/septivank/ven-fleet-simulator/internal/readings"
	"github.com/septivank/ven-fleet-simulator/internal/repository"
	"github.com/septivank/ven-fleet-simulator/internal/service"
	"github.com/septivank/ven-fleet-simulator/internal/simulation"
	"github.com/septivank/ven-fleet-simulator/internal/validator"
	"github.com/septivank/ven-fleet-simulator/internal/vtn"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const startStopTimeout = 30 * time.Second

// catalogModule provides configuration, logging and the resource catalog
var catalogModule = fx.Options(
	fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: logger.Named("fx")}
	}),
	fx.Provide(
		config.Load,
		newLogger,
		ProvideCatalog,
	),
)

// readingsModule adds the recorded samples
var readingsModule = fx.Provide(ProvideReadingSource)

// simulationModule adds everything the VTN-facing commands need
var simulationModule = fx.Options(
	readingsModule,
	fx.Provide(
		ProvideEngine,
		ProvideTokenProvider,
		ProvideVTNClient,
		ProvideAnomalyDetector,
		ProvideMQConnection,
		ProvideTelemetrySink,
		ProvidePipeline,
	),
)

// runApp starts an fx app, runs fn and stops the app again
func runApp(fn func(ctx context.Context) error, opts ...fx.Option) error {
	app := fx.New(append(opts, fx.StartTimeout(startStopTimeout), fx.StopTimeout(startStopTimeout))...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), startStopTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	runErr := fn(context.Background())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), startStopTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// ProvideCatalog opens the catalog backend selected by CATALOG_DRIVER
func ProvideCatalog(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (repository.Catalog, error) {
	if cfg.Catalog.Driver == config.CatalogDriverSQLite {
		catalog, err := repository.NewSQLiteCatalog(cfg.Catalog.SQLitePath)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return catalog.Close()
			},
		})
		logger.Info("using sqlite catalog", zap.String("path", cfg.Catalog.SQLitePath))
		return catalog, nil
	}

	pool, err := db.NewPool(lc, logger, cfg.Catalog.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return repository.NewRepository(pool), nil
}

// ProvideReadingSource loads the Parquet sample file into memory
func ProvideReadingSource(logger *zap.Logger, cfg *config.Config) (readings.Source, error) {
	started := time.Now()
	src, err := readings.LoadParquet(context.Background(), cfg.Readings.Path)
	if err != nil {
		return nil, err
	}
	logger.Info("reading source loaded",
		zap.String("path", cfg.Readings.Path),
		zap.Int("meters", len(src.Meters())),
		zap.Int("length", src.Length()),
		zap.Duration("elapsed", time.Since(started)),
	)
	return src, nil
}

// ProvideEngine constructs the simulation engine. With REDIS_URL set the
// time cursor is checkpointed in Redis.
func ProvideEngine(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config, catalog repository.Catalog, src readings.Source) (*simulation.Engine, error) {
	var opts []simulation.Option
	if cfg.Simulation.Seed != 0 {
		opts = append(opts, simulation.WithRand(rand.New(rand.NewSource(cfg.Simulation.Seed))))
	}

	if cfg.Redis.URL != "" {
		client, err := checkpoint.Connect(context.Background(), cfg.Redis.URL, cfg.Redis.Timeout)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
		store := checkpoint.NewRedisCursorStore(client, cfg.Redis.KeyPrefix, cfg.Redis.Timeout)
		opts = append(opts, simulation.WithCheckpoint(store))
		logger.Info("cursor checkpoint enabled", zap.String("key", store.Key()))
	}

	return simulation.New(catalog, src, logger.Named("engine"), opts...), nil
}

// ProvideTokenProvider picks OAuth client credentials when configured, the
// static bearer token otherwise. The token is fetched once at start.
func ProvideTokenProvider(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) vtn.TokenProvider {
	var tokens vtn.TokenProvider = vtn.StaticToken(cfg.VTN.BearerToken)
	if cfg.VTN.HasOAuth() {
		httpClient := &http.Client{Timeout: cfg.VTN.RequestTimeout}
		tokens = vtn.NewOAuthClientCredentials(httpClient, cfg.VTN.OAuthTokenURL, cfg.VTN.OAuthClientID, cfg.VTN.OAuthClientSecret)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := tokens.Token(ctx); err != nil {
				return fmt.Errorf("[VTN] cannot obtain access token: %w", err)
			}
			logger.Info("vtn credentials ready", zap.Bool("oauth", cfg.VTN.HasOAuth()))
			return nil
		},
	})

	return tokens
}

// ProvideVTNClient creates the VTN client
func ProvideVTNClient(logger *zap.Logger, cfg *config.Config, tokens vtn.TokenProvider) *vtn.Client {
	return vtn.New(cfg.VTN.BaseURL, tokens, vtn.Options{
		RequestTimeout: cfg.VTN.RequestTimeout,
		BulkTimeout:    cfg.VTN.BulkTimeout,
	}, logger.Named("vtn"))
}

// ProvideAnomalyDetector creates the quality-code detector
func ProvideAnomalyDetector(cfg *config.Config) *anomaly.Detector {
	return anomaly.NewDetector(cfg.Anomaly.SpikeThreshold, cfg.Anomaly.MinDataPointsForDetection, cfg.Anomaly.WindowSize)
}

// ProvideValidator creates the fleet seed validator
func ProvideValidator() *validator.Validator {
	return validator.NewValidator(true)
}

// ProvideMQConnection dials RabbitMQ. It yields nil when RABBITMQ_URL is empty.
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	if cfg.RabbitMQ.URL == "" {
		logger.Info("RABBITMQ_URL not set, telemetry publishing and status commands disabled")
		return nil, nil
	}
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvideTelemetrySink publishes telemetry to RabbitMQ when connected
func ProvideTelemetrySink(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config, conn *mq.Connection) (service.TelemetrySink, error) {
	if conn == nil {
		return service.NopSink{}, nil
	}

	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.TelemetryExchange, cfg.RabbitMQ.TelemetryRoutingKey, logger.Named("telemetry"))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvidePipeline creates the registration and upload pipeline
func ProvidePipeline(
	catalog repository.Catalog,
	engine *simulation.Engine,
	src readings.Source,
	client *vtn.Client,
	tokens vtn.TokenProvider,
	detector *anomaly.Detector,
	sink service.TelemetrySink,
	cfg *config.Config,
	logger *zap.Logger,
) *service.Pipeline {
	return service.NewPipeline(catalog, engine, src, client, tokens, detector, sink, cfg, logger.Named("pipeline"))
}
