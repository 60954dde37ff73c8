package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bds-warehouse/api"
	"bds-warehouse/config"
	"bds-warehouse/controlplane"
	"bds-warehouse/pipeline"
	"bds-warehouse/scraper/alonhadat"
	"bds-warehouse/services"
	"bds-warehouse/storage"
	"bds-warehouse/utils"
)

// app holds what every command needs once the stores are open.
type app struct {
	cfg      *config.Config
	logger   *utils.Logger
	stores   *storage.Stores
	pipeline *pipeline.Pipeline
	fetcher  *alonhadat.ChromeFetcher
}

func setup(ctx context.Context, configPath string) (*app, error) {
	if configPath != "" {
		os.Setenv("BDS_CONFIG", configPath)
	}
	cfg := config.Load()
	logger := utils.NewLogger(cfg.LogLevel)

	stores, err := storage.OpenStores(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open stores: %w", err)
	}
	if err := stores.Migrate(ctx); err != nil {
		stores.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	fetcher := alonhadat.NewChromeFetcher(cfg.Crawl.ChromeBin, cfg.Crawl.Timeout(), logger)
	crawler, err := alonhadat.New(cfg.Crawl, fetcher, logger)
	if err != nil {
		stores.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		stores:   stores,
		pipeline: pipeline.New(cfg, stores, crawler, controlplane.NewLogAlerter(logger), logger),
		fetcher:  fetcher,
	}, nil
}

func (a *app) close() {
	a.fetcher.Close()
	if err := a.stores.Close(); err != nil {
		a.logger.Warn("closing stores: %v", err)
	}
	a.logger.Sync()
}

// withApp wraps a command body with setup and teardown.
func withApp(configPath *string, fn func(cmd *cobra.Command, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		a, err := setup(cmd.Context(), *configPath)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, a)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "bdswh",
		Short:        "Real-estate listing warehouse: crawl, stage, version and aggregate listings",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config overlay (default: $BDS_CONFIG)")

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the control, staging, warehouse and mart schemas",
		RunE: withApp(&configPath, func(cmd *cobra.Command, a *app) error {
			a.logger.Info("Schemas are up to date (%s)", a.cfg.Store.Driver)
			return nil
		}),
	})

	stageCmds := []struct{ use, stage, short string }{
		{"crawl", controlplane.StageCrawl, "Crawl listings into today's batch file"},
		{"load-staging", controlplane.StageLoadStaging, "Load the oldest extracted batch into staging"},
		{"transform", controlplane.StageTransform, "Normalize the oldest staged batch"},
		{"load-warehouse", controlplane.StageLoadWarehouse, "Apply the oldest transformed batch to the warehouse"},
		{"load-mart", controlplane.StageLoadMart, "Refresh the mart from the warehouse"},
	}
	for _, sc := range stageCmds {
		sc := sc
		root.AddCommand(&cobra.Command{
			Use:   sc.use,
			Short: sc.short,
			RunE: withApp(&configPath, func(cmd *cobra.Command, a *app) error {
				res, err := a.pipeline.RunStage(cmd.Context(), "", sc.stage)
				if errors.Is(err, controlplane.ErrNoEligibleBatch) {
					fmt.Fprintf(cmd.OutOrStdout(), "%-15s skipped: %v\n", sc.stage, err)
					return nil
				}
				if res != nil {
					printResult(cmd.OutOrStdout(), res)
				}
				return err
			}),
		})
	}

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run every stage once, in order, stopping at the first failure",
		RunE: withApp(&configPath, func(cmd *cobra.Command, a *app) error {
			results, err := a.pipeline.RunAll(cmd.Context())
			for _, res := range results {
				printResult(cmd.OutOrStdout(), res)
			}
			return err
		}),
	})

	root.AddCommand(newServeCmd(&configPath))

	root.AddCommand(&cobra.Command{
		Use:   "report",
		Short: "Print the mart snapshot report",
		RunE: withApp(&configPath, func(cmd *cobra.Command, a *app) error {
			facts, err := storage.NewMartStore(a.stores.Mart).CurrentFacts(cmd.Context())
			if err != nil {
				return err
			}
			svc := services.NewInsightService(a.logger)
			svc.Print(cmd.OutOrStdout(), svc.Generate(facts, time.Now()))
			return nil
		}),
	})

	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	var schedule bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, optionally running the pipeline on a schedule",
		RunE: withApp(configPath, func(cmd *cobra.Command, a *app) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if schedule {
				sched := pipeline.NewScheduler(a.cfg.Server.Interval())
				sched.Start(ctx, func(at time.Time) {
					a.logger.Info("[schedule] Pipeline run at %s", at.Format(time.RFC3339))
					if _, err := a.pipeline.RunAll(ctx); err != nil {
						a.logger.Error("[schedule] Run failed: %v", err)
					}
				})
				defer sched.Stop()
				a.logger.Info("[schedule] Pipeline runs every %s", a.cfg.Server.Interval())
			}

			srv := &http.Server{
				Addr:              a.cfg.Server.Addr,
				Handler:           api.NewServer(a.pipeline, a.stores, a.logger),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("HTTP API listening on %s", srv.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				a.logger.Info("Shutting down")
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}),
	}
	cmd.Flags().BoolVar(&schedule, "schedule", false, "Run the whole pipeline every SCHEDULE_INTERVAL")
	return cmd
}

func printResult(w io.Writer, res *controlplane.Result) {
	switch {
	case res.Skipped:
		fmt.Fprintf(w, "%-15s skipped\n", res.Stage)
	case res.Error != "":
		fmt.Fprintf(w, "%-15s %s  process %d: %s\n", res.Stage, res.Status, res.ProcessID, res.Error)
	default:
		batch := "-"
		if res.Batch != nil {
			batch = fmt.Sprintf("%d (%s)", res.Batch.ID, res.Batch.Status)
		}
		fmt.Fprintf(w, "%-15s %s  batch %s  %s\n", res.Stage, res.Status, batch, res.Detail)
	}
}
