// Command schedulerd runs one clustered scheduler instance: it acquires and
// fires due triggers, scans for misfires, and participates in cluster
// heartbeat/recovery, all against a shared PostgreSQL job store. It plays the
// role the teacher leaves to its own process embedding Executor, wired here
// with a cobra/viper CLI the teacher doesn't need as a library.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stiez/opensymphony-quartz-backup/cluster"
	"github.com/stiez/opensymphony-quartz-backup/codec"
	"github.com/stiez/opensymphony-quartz-backup/engine"
	"github.com/stiez/opensymphony-quartz-backup/internal/jobregistry"
	"github.com/stiez/opensymphony-quartz-backup/internal/logx"
	"github.com/stiez/opensymphony-quartz-backup/postgres"
)

var cfgFile string
var seedPath string

func main() {
	root := &cobra.Command{
		Use:   "schedulerd",
		Short: "Clustered trigger scheduler, backed by a PostgreSQL job store",
		RunE:  runDaemon,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "f", "", "path to schedulerd.yaml (default: ./schedulerd.yaml or $HOME/schedulerd.yaml)")
	root.Flags().StringVar(&seedPath, "seed", "", "path to a YAML file of jobs/triggers to create on startup if they don't already exist")
	root.AddCommand(migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the qrtz_* tables and seed the advisory lock rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return errors.Wrap(err, "load config")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithTablePrefix(cfg.TablePrefix))
			if err != nil {
				return errors.Wrap(err, "open store")
			}
			defer store.Close()
			return store.Migrate(ctx)
		},
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	if cfg.InstanceId == "" {
		hostname, _ := os.Hostname()
		cfg.InstanceId = fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
	}

	logger := logx.New(logx.WithLevel(cfg.LogLevel), logx.WithServiceName("schedulerd"))
	logger.Info().Str("instance_id", cfg.InstanceId).Msg("starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go waitForSignal(cancel, logger)

	storeOpts := []postgres.Option{postgres.WithTablePrefix(cfg.TablePrefix), postgres.WithLogger(logger)}
	if cfg.UseProperties {
		storeOpts = append(storeOpts, postgres.WithCodec(codec.PropertiesCodec{}))
	}
	store, err := postgres.Open(ctx, cfg.PostgresDSN, storeOpts...)
	if err != nil {
		return errors.Wrap(err, "open postgres store")
	}
	defer store.Close()

	if err := store.VerifySchema(ctx); err != nil {
		return errors.Wrap(err, "verify schema (run the migrate subcommand first)")
	}

	if seedPath != "" {
		sf, err := loadSeedFile(seedPath)
		if err != nil {
			return errors.Wrap(err, "load seed file")
		}
		if err := applySeed(ctx, store, sf, time.Now(), logger); err != nil {
			return errors.Wrap(err, "apply seed file")
		}
	}

	registry := jobregistry.New()

	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	eng, err := engine.NewEngine(store, registry, engine.Config{
		InstanceId:                cfg.InstanceId,
		MaxConcurrentAcquisitions: cfg.MaxWorkers,
		AcquireBatchSize:          cfg.MaxJobsPerSweep,
		AcquireRateLimit:          cfg.sweepInterval(),
		MisfireThreshold:          cfg.misfireThreshold(),
	}, engine.WithLogger(logger), engine.WithMetrics(metrics))
	if err != nil {
		return errors.Wrap(err, "construct engine")
	}

	mgr, err := cluster.NewManager(store, cluster.Config{
		InstanceId:      cfg.InstanceId,
		CheckinInterval: cfg.clusterCheckinInterval(),
	}, cluster.WithLogger(logger))
	if err != nil {
		return errors.Wrap(err, "construct cluster manager")
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return eng.Run(gctx) })
	group.Go(func() error { return mgr.Run(gctx) })
	group.Go(func() error { return runMisfireScanner(gctx, eng, cfg.misfireThreshold(), logger) })
	group.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, reg, logger) })

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("shut down cleanly")
	return nil
}

// runMisfireScanner ticks ScanMisfires every half of the configured threshold
// (every 30s when that is not positive), the same periodic-sweep shape the
// engine's acquisition loop uses.
func runMisfireScanner(ctx context.Context, eng *engine.Engine, threshold time.Duration, logger zerolog.Logger) error {
	interval := threshold / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := eng.ScanMisfires(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("misfire scan failed")
				continue
			}
			if n > 0 {
				logger.Info().Int("count", n).Msg("misfires handled")
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "metrics server")
	}
}

func waitForSignal(cancel context.CancelFunc, logger zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("received shutdown signal")
	cancel()
}
