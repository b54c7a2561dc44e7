// Load-test harness CLI. Grows the wallet pool, distributes the asset
// under test, runs pipelines and reports statistics. Exits non-zero on
// any fatal error.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/midl-xyz/load-test/internal/config"
	"github.com/midl-xyz/load-test/internal/confirm"
	"github.com/midl-xyz/load-test/internal/distributor"
	"github.com/midl-xyz/load-test/internal/metrics"
	"github.com/midl-xyz/load-test/internal/rpc"
	"github.com/midl-xyz/load-test/internal/runner"
	"github.com/midl-xyz/load-test/internal/sequence"
	"github.com/midl-xyz/load-test/internal/signer"
	"github.com/midl-xyz/load-test/internal/storage"
	"github.com/midl-xyz/load-test/internal/transfer"
	"github.com/midl-xyz/load-test/internal/wallet"
	"github.com/midl-xyz/load-test/pkg/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer store.Close()

	var prom *metrics.Prometheus
	if cfg.MetricsListen != "" {
		prom = metrics.NewPrometheus(prometheus.DefaultRegisterer)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("metrics listening", slog.String("addr", cfg.MetricsListen))
			if err := http.ListenAndServe(cfg.MetricsListen, mux); err != nil {
				logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}
	collector := metrics.NewCollector(prom)

	client := rpc.NewHTTPClient(rpc.DefaultClientConfig(cfg.RPCURL))
	sequences := sequence.NewAllocator(client)
	signing := signer.NewLocal(cfg.ChainID)

	watcher := confirm.NewWatcher(confirm.Config{
		Client: client,
		WSURL:  cfg.WSURL,
		Logger: logger,
	})
	defer watcher.Close()

	transfers := transfer.NewService(transfer.Config{
		Client:           client,
		Signer:           signing,
		Sequences:        sequences,
		Confirmer:        watcher,
		MinConfirmations: 1,
		Logger:           logger,
	})

	pool := wallet.NewPool(wallet.PoolConfig{
		Client:    client,
		Store:     wallet.NewStore(cfg.SeedStorePath, logger),
		Payout:    transfers,
		Threshold: new(big.Int).SetUint64(cfg.FundingThreshold),
		Logger:    logger,
	})

	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	record := &types.RunRecord{
		ID:        runID,
		StartedAt: time.Now().UTC(),
		Mode:      cfg.Mode,
		Wallets:   cfg.Wallets,
	}
	if err := store.CreateRun(ctx, record); err != nil {
		return fmt.Errorf("record run start: %w", err)
	}

	fail := func(err error) error {
		if dbErr := store.CompleteRun(context.Background(), runID, nil, "error", err.Error()); dbErr != nil {
			logger.Warn("recording failure state failed", slog.String("error", dbErr.Error()))
		}
		if prom != nil {
			prom.SetRunStatus("error")
		}
		return err
	}

	wallets, err := pool.Ensure(ctx, cfg.Wallets)
	if err != nil {
		return fail(fmt.Errorf("ensure wallet pool: %w", err))
	}
	if prom != nil {
		prom.WalletsReady.Set(float64(len(wallets)))
	}

	// The genesis-seeded wallet is the funding source; it is expected
	// to be provisioned out of band before the first run.
	funding := wallets[0]
	if err := pool.TopUp(ctx, funding); err != nil {
		return fail(fmt.Errorf("top up wallets: %w", err))
	}

	if cfg.AssetID != "" {
		if prom != nil {
			prom.SetRunStatus("distributing")
		}
		minShare := big.NewInt(1)
		sources, targets := pool.SplitByAssetBalance(ctx, wallets, cfg.AssetID, minShare)
		if len(targets) > 0 {
			sched := distributor.New(distributor.Config{
				Client:        client,
				Sender:        transfers,
				SettlingDelay: cfg.SettlingDelay,
				Logger:        logger,
			})
			if err := sched.Distribute(ctx, sources, targets, cfg.AssetID); err != nil {
				return fail(fmt.Errorf("distribute %s: %w", cfg.AssetID, err))
			}
			collector.DistributionRound()
		}
	}

	if prom != nil {
		prom.SetRunStatus("running")
	}
	loadRunner := runner.New(runner.Config{
		Client:    client,
		Signer:    signing,
		Sequences: sequences,
		Metrics:   collector,
		Logger:    logger,
	})
	report, err := loadRunner.Run(ctx, wallets, cfg.Spec(), cfg.Mode)
	if err != nil {
		return fail(fmt.Errorf("load run: %w", err))
	}

	if cfg.Mode == types.ModeRecord {
		if err := storage.WritePayloads(cfg.PayloadPath, report.Payloads); err != nil {
			return fail(fmt.Errorf("write payload file: %w", err))
		}
		logger.Info("payloads recorded",
			slog.String("path", cfg.PayloadPath),
			slog.Int("count", len(report.Payloads)),
		)
	}

	if err := store.InsertResults(ctx, runID, report.Results); err != nil {
		logger.Warn("persisting pipeline results failed", slog.String("error", err.Error()))
	}
	if err := store.CompleteRun(ctx, runID, report.Stats, "completed", ""); err != nil {
		logger.Warn("recording completion failed", slog.String("error", err.Error()))
	}
	if prom != nil {
		prom.SetRunStatus("completed")
	}

	if cfg.Recycle {
		recycled, err := pool.Recycle(ctx, funding)
		if err != nil {
			logger.Warn("fund recycling incomplete",
				slog.Int("recycled", recycled),
				slog.String("error", err.Error()),
			)
		}
	}

	logger.Info("run recorded",
		slog.String("id", runID),
		slog.Int("total", report.Stats.Total),
		slog.Int("succeeded", report.Stats.Succeeded),
		slog.Int("failed", report.Stats.Failed),
		slog.Float64("opsPerSec", report.Stats.OpsPerSec),
	)
	return nil
}
