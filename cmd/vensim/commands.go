package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/septivank/ven-fleet-simulator/internal/config"
	"github.com/septivank/ven-fleet-simulator/internal/fleet"
	"github.com/septivank/ven-fleet-simulator/internal/readings"
	"github.com/septivank/ven-fleet-simulator/internal/repository"
	"github.com/septivank/ven-fleet-simulator/internal/service"
	"github.com/septivank/ven-fleet-simulator/internal/validator"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	venFlag     []string
	limitLoads  int
	loadSeed    int64
	confirmFlag bool
)

var seedCmd = &cobra.Command{
	Use:   "seed <fleet.yaml>",
	Short: "Insert the resources of a fleet file into the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			catalog repository.Catalog
			v       *validator.Validator
			logger  *zap.Logger
		)
		return runApp(func(ctx context.Context) error {
			f, err := fleet.LoadFile(args[0], v)
			if err != nil {
				return err
			}
			summary, err := fleet.Seed(ctx, catalog, f)
			if err != nil {
				return err
			}
			logger.Info("fleet seeded",
				zap.Int("inserted", summary.Inserted),
				zap.Int("duplicates", summary.Duplicates),
			)
			return nil
		}, catalogModule, fx.Provide(ProvideValidator), fx.Populate(&catalog, &v, &logger))
	},
}

var generateLoadsCmd = &cobra.Command{
	Use:   "generate-loads",
	Short: "Assign recorded meters to resources and create their loads",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			catalog repository.Catalog
			src     readings.Source
			logger  *zap.Logger
		)
		return runApp(func(ctx context.Context) error {
			seed := loadSeed
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			summary, err := fleet.GenerateLoads(ctx, catalog, src, rand.New(rand.NewSource(seed)))
			if err != nil {
				return err
			}
			logger.Info("loads generated",
				zap.Int("resources", summary.Resources),
				zap.Int("skipped", summary.Skipped),
				zap.Int("loads", summary.Loads),
			)
			return nil
		}, catalogModule, readingsModule, fx.Populate(&catalog, &src, &logger))
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register VENs and their loads with the VTN",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			catalog  repository.Catalog
			pipeline *service.Pipeline
		)
		return runApp(func(ctx context.Context) error {
			vens, err := targetVens(ctx, catalog)
			if err != nil {
				return err
			}

			var errs []error
			for _, ven := range vens {
				summary, err := pipeline.SetupVen(ctx, ven, false)
				if err != nil {
					errs = append(errs, fmt.Errorf("ven %s: %w", ven, err))
				}
				if summary != nil {
					printJSON(summary.Registration)
				}
			}
			return errors.Join(errs...)
		}, catalogModule, simulationModule, fx.Populate(&catalog, &pipeline))
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload the recorded history of registered loads to the VTN",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			catalog  repository.Catalog
			src      readings.Source
			pipeline *service.Pipeline
			cfg      *config.Config
		)
		return runApp(func(ctx context.Context) error {
			vens, err := targetVens(ctx, catalog)
			if err != nil {
				return err
			}

			limit := cfg.Pipeline.UploadLimitLoads
			if limitLoads > 0 {
				limit = limitLoads
			}

			var errs []error
			for _, ven := range vens {
				if err := pipeline.RegisterVen(ctx, ven); err != nil {
					errs = append(errs, err)
					continue
				}

				loads, err := catalog.ListRegisteredLoads(ctx, ven, limit)
				if err != nil {
					return err
				}
				bar := newUploadBar(int64(len(loads)*src.Length()), ven)
				done := map[string]int{}
				pipeline.OnUploadProgress(func(loadID string, uploaded, total int) {
					_ = bar.Add(uploaded - done[loadID])
					done[loadID] = uploaded
				})

				summary, err := pipeline.BulkUploadHistorical(ctx, ven, cfg.Pipeline.UploadChunkSize, cfg.Pipeline.UploadBatchSize, limit)
				_ = bar.Finish()
				if err != nil {
					errs = append(errs, fmt.Errorf("ven %s: %w", ven, err))
					continue
				}
				printJSON(summary)
			}
			return errors.Join(errs...)
		}, catalogModule, simulationModule, fx.Populate(&catalog, &src, &pipeline, &cfg))
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print catalog statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		var catalog repository.Catalog
		return runApp(func(ctx context.Context) error {
			stats, err := catalog.Statistics(ctx)
			if err != nil {
				return err
			}
			printJSON(stats)
			return nil
		}, catalogModule, fx.Populate(&catalog))
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every resource, load and connection from the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !confirmFlag {
			return errors.New("refusing to clear the catalog without --yes")
		}
		var (
			catalog repository.Catalog
			logger  *zap.Logger
		)
		return runApp(func(ctx context.Context) error {
			if err := catalog.ClearAll(ctx); err != nil {
				return err
			}
			logger.Info("catalog cleared")
			return nil
		}, catalogModule, fx.Populate(&catalog, &logger))
	},
}

func init() {
	registerCmd.Flags().StringSliceVar(&venFlag, "ven", nil, "VENs to process (default: all VENs in the catalog)")
	uploadCmd.Flags().StringSliceVar(&venFlag, "ven", nil, "VENs to process (default: all VENs in the catalog)")
	uploadCmd.Flags().IntVar(&limitLoads, "limit", 0, "upload at most this many loads per VEN (overrides UPLOAD_LIMIT_LOADS)")
	generateLoadsCmd.Flags().Int64Var(&loadSeed, "seed", 0, "random seed for meter assignment (default: time based)")
	clearCmd.Flags().BoolVar(&confirmFlag, "yes", false, "confirm deletion")
}

func targetVens(ctx context.Context, catalog repository.Catalog) ([]string, error) {
	if len(venFlag) > 0 {
		return venFlag, nil
	}
	return catalog.ListVens(ctx)
}

func newUploadBar(total int64, ven string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription("uploading "+ven),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to encode output:", err)
		return
	}
	fmt.Println(string(out))
}
