package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodnatureofminers/blockscan-core/internal/addressfilter"
	"github.com/goodnatureofminers/blockscan-core/internal/blockfile"
	"github.com/goodnatureofminers/blockscan-core/internal/chainparams"
	"github.com/goodnatureofminers/blockscan-core/internal/clock"
	"github.com/goodnatureofminers/blockscan-core/internal/config"
	"github.com/goodnatureofminers/blockscan-core/internal/headerstore"
	"github.com/goodnatureofminers/blockscan-core/internal/indexcommitter"
	"github.com/goodnatureofminers/blockscan-core/internal/kvstore"
	"github.com/goodnatureofminers/blockscan-core/internal/kvstore/boltstore"
	"github.com/goodnatureofminers/blockscan-core/internal/metrics"
	"github.com/goodnatureofminers/blockscan-core/internal/pipeline"
	"github.com/goodnatureofminers/blockscan-core/internal/progress"
	"github.com/goodnatureofminers/blockscan-core/internal/reconciler"
	"github.com/goodnatureofminers/blockscan-core/internal/scanerrors"
	"github.com/goodnatureofminers/blockscan-core/internal/scriptaddr"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg := config.Config{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()

	if _, err := flags.ParseArgs(&cfg, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		logger.Fatal("failed to parse flags", zap.Error(err))
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logger.Fatal("invalid log level", zap.Error(err))
	}
	logger = logger.WithOptions(zap.IncreaseLevel(level))

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("block scanner failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	startMetricsServer(ctx, cfg.MetricsAddr, logger)

	if cfg.ScanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ScanTimeout)
		defer cancel()
	}

	params, err := chainparams.ForNetwork(cfg.Network)
	if err != nil {
		return fmt.Errorf("resolve network params: %w", err)
	}

	files := blockfile.New(cfg.BlkFileDir)
	if err := files.Discover(); err != nil {
		return fmt.Errorf("discover block files: %w", err)
	}

	kv, err := boltstore.Open(cfg.DBDir)
	if err != nil {
		return fmt.Errorf("open key/value store: %w", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logger.Warn("closing key/value store", zap.Error(err))
		}
	}()

	if cfg.InitMode != kvstore.Normal {
		if err := kvstore.Reset(ctx, kv, cfg.InitMode); err != nil {
			return fmt.Errorf("reset key/value store for %s: %w", cfg.InitMode, err)
		}
	}

	headers := headerstore.New(kv)

	reconcilerMetrics := metrics.NewReconciler()
	recon := reconciler.New(files, headers, params, logger, reconcilerMetrics)
	reconResult, err := recon.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile headers: %w", err)
	}
	if reconResult.Rebuild {
		logger.Warn("header database inconsistent with block files, forcing full rebuild")
		if err := kvstore.Reset(ctx, kv, kvstore.Rebuild); err != nil {
			return fmt.Errorf("forced rebuild reset: %w", err)
		}
		recon = reconciler.New(files, headers, params, logger, reconcilerMetrics)
		if _, err := recon.Reconcile(ctx); err != nil {
			return fmt.Errorf("reconcile headers after forced rebuild: %w", err)
		}
	}

	filter := addressfilter.New()
	deriver := scriptaddr.New(params)
	for _, raw := range cfg.WatchAddresses {
		addr, err := deriver.DeriveFromAddressString(raw)
		if err != nil {
			return fmt.Errorf("decode watch address %q: %w", raw, err)
		}
		filter.Add(addr)
	}

	committerMetrics := metrics.NewCommitter()
	committer := indexcommitter.New(kv, cfg.DBType, logger, committerMetrics)

	var reporter *progress.Reporter
	reporter = progress.New(logger, func(e progress.Event) {
		logger.Info("scan progress",
			zap.String("phase", e.Phase),
			zap.Int("percent", e.IntegerPercent),
			zap.Float64("units_per_second", reporter.UnitsPerSecond(e.Phase)),
			zap.Float64("remaining_seconds", reporter.RemainingSeconds(e.Phase)))
	})
	reporter.Start(ctx)
	defer reporter.Stop()

	pipelineMetrics := metrics.NewPipeline(string(cfg.Network))
	pipe := pipeline.New(
		files,
		headers,
		params,
		pipeline.DefaultFilterSource{Filter: filter},
		deriver,
		committer,
		reporter,
		logger,
		pipelineMetrics,
		pipeline.Config{
			ThreadCount:    cfg.ThreadCount,
			Lookahead:      config.LookaheadFor(cfg.RAMUsageLevel),
			FileCrossCount: config.FileCrossCountFor(cfg.RAMUsageLevel),
			DBType:         cfg.DBType,
		},
	)

	for {
		fromHeight := uint32(0)
		if cfg.InitMode == kvstore.Normal || cfg.Follow {
			if last, ok, err := committer.LastCommitted(ctx); err != nil {
				return fmt.Errorf("read last committed height: %w", err)
			} else if ok {
				fromHeight = last.Height + 1
			}
		}

		logger.Info("starting scan", zap.Uint32("from_height", fromHeight), zap.String("db_type", cfg.DBType.String()))
		if err := pipe.Scan(ctx, fromHeight); err != nil {
			if !(cfg.Follow && errors.Is(err, scanerrors.ErrRange)) {
				return err
			}
			logger.Debug("nothing new to scan yet", zap.Uint32("from_height", fromHeight))
		}

		if !cfg.Follow {
			return nil
		}
		if err := clock.SleepWithContext(ctx, cfg.PollInterval); err != nil {
			return nil // context canceled: shut down quietly
		}

		if err := files.Discover(); err != nil {
			return fmt.Errorf("re-discover block files: %w", err)
		}
		if _, err := recon.Reconcile(ctx); err != nil {
			return fmt.Errorf("re-reconcile headers: %w", err)
		}
	}
}

func startMetricsServer(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("starting metrics server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}()
}
