// Package runner builds per-wallet operation pipelines and executes
// them in bounded concurrent batches.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/midl-xyz/load-test/internal/metrics"
	"github.com/midl-xyz/load-test/internal/retry"
	"github.com/midl-xyz/load-test/internal/rpc"
	"github.com/midl-xyz/load-test/internal/sequence"
	"github.com/midl-xyz/load-test/internal/signer"
	"github.com/midl-xyz/load-test/internal/wallet"
	"github.com/midl-xyz/load-test/pkg/types"
)

// Config holds dependencies for a Runner.
type Config struct {
	Client    rpc.Client
	Signer    signer.Backend
	Sequences *sequence.Allocator

	// ResolveAttempts and ResolveDelay bound the retry loop around
	// asset directory resolution, which can lag behind asset creation.
	ResolveAttempts int
	ResolveDelay    time.Duration

	// Metrics is optional.
	Metrics *metrics.Collector

	Logger *slog.Logger
}

// Runner executes the load test. Wallets are processed in fixed-size
// batches: construction runs concurrently across a batch, then
// dispatch runs concurrently across the batch, then the next batch
// starts. One wallet's failure never aborts the others.
type Runner struct {
	client          rpc.Client
	signer          signer.Backend
	sequences       *sequence.Allocator
	resolveAttempts int
	resolveDelay    time.Duration
	collector       *metrics.Collector
	logger          *slog.Logger
}

// New creates a runner.
func New(cfg Config) *Runner {
	attempts := cfg.ResolveAttempts
	if attempts == 0 {
		attempts = 10
	}
	delay := cfg.ResolveDelay
	if delay == 0 {
		delay = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		client:          cfg.Client,
		signer:          cfg.Signer,
		sequences:       cfg.Sequences,
		resolveAttempts: attempts,
		resolveDelay:    delay,
		collector:       cfg.Metrics,
		logger:          logger,
	}
}

// pipeline is one wallet's fully constructed, not yet dispatched run.
type pipeline struct {
	wallet    *wallet.Wallet
	artifacts []*signer.Artifact
	steps     []string
	started   time.Time
}

// Report is the full outcome of a run.
type Report struct {
	Stats   *types.Stats
	Results []types.PipelineResult

	// Payloads is the ordered artifact list for the external replay
	// driver. Only populated in record mode.
	Payloads []types.Payload
}

// Run builds and dispatches one pipeline per wallet and aggregates the
// outcome. In record mode nothing is submitted; every signed artifact
// is returned as an ordered payload list for an external replay driver.
func (r *Runner) Run(ctx context.Context, wallets []*wallet.Wallet, spec types.PipelineSpec, mode types.Mode) (*Report, error) {
	if len(wallets) == 0 {
		return nil, fmt.Errorf("load run needs at least one wallet")
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	batchSize := spec.BatchSize
	if batchSize <= 0 {
		batchSize = types.DefaultBatchSize
	}

	assetAddress := ""
	if spec.AssetID != "" {
		var err error
		assetAddress, err = r.resolveAsset(ctx, spec.AssetID)
		if err != nil {
			return nil, fmt.Errorf("resolve asset %s: %w", spec.AssetID, err)
		}
	}

	r.logger.Info("load run starting",
		slog.Int("wallets", len(wallets)),
		slog.Int("batchSize", batchSize),
		slog.Int("stepsPerPipeline", spec.Steps()),
		slog.String("mode", string(mode)),
	)

	start := time.Now()
	results := make([]types.PipelineResult, 0, len(wallets))
	var payloads []types.Payload

	for offset := 0; offset < len(wallets); offset += batchSize {
		end := offset + batchSize
		if end > len(wallets) {
			end = len(wallets)
		}
		batch := wallets[offset:end]

		built, buildResults := r.constructBatch(ctx, batch, spec, assetAddress)
		results = append(results, buildResults...)

		switch mode {
		case types.ModeLive:
			results = append(results, r.submitBatch(ctx, built, spec)...)
		case types.ModeRecord:
			for _, p := range built {
				for i, art := range p.artifacts {
					payloads = append(payloads, types.Payload{
						Index:  len(payloads),
						Wallet: p.wallet.Account(),
						Step:   p.steps[i],
						Hex:    hexutil.Encode(art.Raw),
					})
				}
				elapsed := time.Since(p.started)
				results = append(results, types.PipelineResult{
					Wallet:  p.wallet.Account(),
					Success: true,
					Elapsed: elapsed,
				})
				if r.collector != nil {
					r.collector.PipelineSucceeded(float64(elapsed.Milliseconds()), spec.Steps())
				}
			}
		}
	}

	stats := aggregate(results, spec.Steps(), start, time.Now())
	r.logger.Info("load run complete",
		slog.Int("total", stats.Total),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("failed", stats.Failed),
		slog.Float64("opsPerSec", stats.OpsPerSec),
	)
	return &Report{Stats: stats, Results: results, Payloads: payloads}, nil
}

// resolveAsset polls the directory until the asset address appears.
func (r *Runner) resolveAsset(ctx context.Context, assetID string) (string, error) {
	var address string
	err := retry.Do(ctx, func() error {
		addr, err := r.client.ResolveAssetAddress(ctx, assetID)
		if err != nil {
			return err
		}
		address = addr
		return nil
	}, r.resolveAttempts, r.resolveDelay)
	return address, err
}

// constructBatch builds every pipeline in the batch concurrently.
// Failed constructions come back as failed results; successes come back
// as pipelines ready for dispatch.
func (r *Runner) constructBatch(ctx context.Context, batch []*wallet.Wallet, spec types.PipelineSpec, assetAddress string) ([]*pipeline, []types.PipelineResult) {
	built := make([]*pipeline, len(batch))
	failures := make([]error, len(batch))

	var wg sync.WaitGroup
	for i, w := range batch {
		wg.Add(1)
		go func(idx int, w *wallet.Wallet) {
			defer wg.Done()
			p, err := r.construct(ctx, w, spec, assetAddress)
			if err != nil {
				failures[idx] = err
				return
			}
			built[idx] = p
		}(i, w)
	}
	wg.Wait()

	var ready []*pipeline
	var failed []types.PipelineResult
	for i, w := range batch {
		if failures[i] != nil {
			r.logger.Warn("pipeline construction failed",
				slog.String("wallet", w.Account()),
				slog.String("error", failures[i].Error()),
			)
			failed = append(failed, types.PipelineResult{
				Wallet:  w.Account(),
				Success: false,
				Err:     failures[i].Error(),
			})
			if r.collector != nil {
				r.collector.PipelineFailed(failures[i].Error())
			}
			continue
		}
		ready = append(ready, built[i])
	}
	return ready, failed
}

// construct builds and signs one wallet's full pipeline: a funding
// step, SwapCount swaps and a completing step, each linked to the
// previous artifact so the backend executes them in order. All
// sequence numbers are allocated here, before anything is submitted,
// so the whole pipeline spends from one funding output.
func (r *Runner) construct(ctx context.Context, w *wallet.Wallet, spec types.PipelineSpec, assetAddress string) (*pipeline, error) {
	started := time.Now()

	if spec.FundingAmount > 0 {
		balance, err := r.client.GetBalance(ctx, w.PaymentAddress)
		if err != nil {
			return nil, fmt.Errorf("balance check: %w", err)
		}
		if balance.Cmp(new(big.Int).SetUint64(spec.FundingAmount)) < 0 {
			return nil, fmt.Errorf("wallet %s holds %s, pipeline needs %d: %w",
				w.Account(), balance, spec.FundingAmount, wallet.ErrInsufficientFunding)
		}
	}

	steps := spec.Steps()
	artifacts := make([]*signer.Artifact, 0, steps)
	stepNames := make([]string, 0, steps)

	fundSeq, err := r.sequences.Allocate(ctx, w.Account())
	if err != nil {
		return nil, fmt.Errorf("allocate fund sequence: %w", err)
	}
	fund, err := r.signer.Sign(ctx, w, signer.Operation{
		Kind:     signer.KindFund,
		From:     w.Account(),
		Sequence: fundSeq,
		Recipients: []signer.Recipient{{
			Address: w.InscriptionAddress,
			Amount:  new(big.Int).SetUint64(spec.FundingAmount),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("sign fund step: %w", err)
	}
	artifacts = append(artifacts, fund)
	stepNames = append(stepNames, "fund")

	parent := fund.Hash
	for i := 0; i < spec.SwapCount; i++ {
		seq, err := r.sequences.Allocate(ctx, w.Account())
		if err != nil {
			return nil, fmt.Errorf("allocate swap %d sequence: %w", i, err)
		}
		swap, err := r.signer.Sign(ctx, w, signer.Operation{
			Kind:         signer.KindSwap,
			From:         w.Account(),
			Sequence:     seq,
			AssetID:      spec.AssetID,
			AssetAddress: assetAddress,
			Parent:       parent,
		})
		if err != nil {
			return nil, fmt.Errorf("sign swap %d: %w", i, err)
		}
		artifacts = append(artifacts, swap)
		stepNames = append(stepNames, "swap")
		parent = swap.Hash
	}

	completeSeq, err := r.sequences.Allocate(ctx, w.Account())
	if err != nil {
		return nil, fmt.Errorf("allocate complete sequence: %w", err)
	}
	complete, err := r.signer.Sign(ctx, w, signer.Operation{
		Kind:     signer.KindComplete,
		From:     w.Account(),
		Sequence: completeSeq,
		Parent:   parent,
	})
	if err != nil {
		return nil, fmt.Errorf("sign complete step: %w", err)
	}
	artifacts = append(artifacts, complete)
	stepNames = append(stepNames, "complete")

	if r.collector != nil {
		r.collector.PipelineBuilt()
	}
	return &pipeline{
		wallet:    w,
		artifacts: artifacts,
		steps:     stepNames,
		started:   started,
	}, nil
}

// submitBatch dispatches every constructed pipeline in the batch
// concurrently. Each pipeline is one atomic multi-operation submission.
func (r *Runner) submitBatch(ctx context.Context, built []*pipeline, spec types.PipelineSpec) []types.PipelineResult {
	results := make([]types.PipelineResult, len(built))

	var wg sync.WaitGroup
	for i, p := range built {
		wg.Add(1)
		go func(idx int, p *pipeline) {
			defer wg.Done()

			raw := make([][]byte, len(p.artifacts))
			for j, art := range p.artifacts {
				raw[j] = art.Raw
			}
			handle, err := r.client.SubmitBatch(ctx, raw)
			elapsed := time.Since(p.started)

			if err != nil {
				results[idx] = types.PipelineResult{
					Wallet:  p.wallet.Account(),
					Success: false,
					Elapsed: elapsed,
					Err:     err.Error(),
				}
				if r.collector != nil {
					r.collector.PipelineFailed(err.Error())
				}
				return
			}
			results[idx] = types.PipelineResult{
				Wallet:  p.wallet.Account(),
				Handle:  handle,
				Success: true,
				Elapsed: elapsed,
			}
			if r.collector != nil {
				r.collector.PipelineSucceeded(float64(elapsed.Milliseconds()), spec.Steps())
			}
		}(i, p)
	}
	wg.Wait()
	return results
}

// aggregate folds per-pipeline results into run statistics. Throughput
// uses the wall-clock span of the whole run, not the sum of individual
// latencies, which would overstate it under concurrency.
func aggregate(results []types.PipelineResult, stepsPerPipeline int, start, end time.Time) *types.Stats {
	stats := &types.Stats{
		Total:       len(results),
		StartedAt:   start,
		CompletedAt: end,
	}

	var sumMs float64
	for _, res := range results {
		if !res.Success {
			stats.Failed++
			if res.Err != "" {
				stats.Errors = append(stats.Errors, res.Err)
			}
			continue
		}
		stats.Succeeded++
		ms := float64(res.Elapsed.Nanoseconds()) / float64(time.Millisecond)
		sumMs += ms
		if stats.MinMs == 0 || ms < stats.MinMs {
			stats.MinMs = ms
		}
		if ms > stats.MaxMs {
			stats.MaxMs = ms
		}
	}
	if stats.Succeeded > 0 {
		stats.AvgMs = sumMs / float64(stats.Succeeded)
	}

	span := end.Sub(start).Seconds()
	if span > 0 {
		stats.OpsPerSec = float64(stats.Succeeded*stepsPerPipeline) / span
	}
	return stats
}
