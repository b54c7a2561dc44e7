package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/midl-xyz/load-test/internal/metrics"
	"github.com/midl-xyz/load-test/internal/retry"
	"github.com/midl-xyz/load-test/internal/rpc"
	"github.com/midl-xyz/load-test/internal/rpc/rpctest"
	"github.com/midl-xyz/load-test/internal/sequence"
	"github.com/midl-xyz/load-test/internal/signer"
	"github.com/midl-xyz/load-test/internal/wallet"
	"github.com/midl-xyz/load-test/pkg/types"
)

func testWallets(t *testing.T, fake *rpctest.Fake, n int, balance uint64) []*wallet.Wallet {
	t.Helper()
	wallets := make([]*wallet.Wallet, n)
	for i := range wallets {
		w, err := wallet.Generate()
		if err != nil {
			t.Fatal(err)
		}
		w.PaymentAddress = fmt.Sprintf("pay-%d", i)
		w.InscriptionAddress = fmt.Sprintf("ord-%d", i)
		fake.SetBalance(w.PaymentAddress, balance)
		wallets[i] = w
	}
	return wallets
}

func newTestRunner(fake *rpctest.Fake) *Runner {
	return New(Config{
		Client:          fake,
		Signer:          signer.NewLocal(1337),
		Sequences:       sequence.NewAllocator(fake),
		ResolveAttempts: 3,
		ResolveDelay:    time.Millisecond,
		Metrics:         metrics.NewCollector(nil),
	})
}

func TestRunAllSucceed(t *testing.T) {
	fake := &rpctest.Fake{}
	fake.SetAssetAddress("asset-1", "asset-addr")
	wallets := testWallets(t, fake, 10, 1_000_000)

	r := newTestRunner(fake)
	spec := types.PipelineSpec{AssetID: "asset-1", SwapCount: 3, FundingAmount: 10_000}

	rep, err := r.Run(context.Background(), wallets, spec, types.ModeLive)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rep.Payloads != nil {
		t.Error("live mode should not produce payloads")
	}
	stats := rep.Stats
	if stats.Total != 10 || stats.Succeeded != 10 || stats.Failed != 0 {
		t.Errorf("expected 10/10/0, got %d/%d/%d", stats.Total, stats.Succeeded, stats.Failed)
	}
	if stats.Succeeded+stats.Failed != stats.Total {
		t.Error("succeeded + failed must equal total")
	}
	if stats.MinMs > stats.AvgMs || stats.AvgMs > stats.MaxMs {
		t.Errorf("expected min <= avg <= max, got %f/%f/%f", stats.MinMs, stats.AvgMs, stats.MaxMs)
	}
	if stats.OpsPerSec <= 0 {
		t.Error("expected positive throughput")
	}

	// One atomic submission per wallet, each carrying every step.
	batches := fake.Submitted()
	if len(batches) != 10 {
		t.Fatalf("expected 10 submissions, got %d", len(batches))
	}
	for _, batch := range batches {
		if len(batch) != spec.Steps() {
			t.Errorf("expected %d artifacts per submission, got %d", spec.Steps(), len(batch))
		}
	}
}

func TestRunInsufficientFundingIsolated(t *testing.T) {
	fake := &rpctest.Fake{}
	fake.SetAssetAddress("asset-1", "asset-addr")
	wallets := testWallets(t, fake, 10, 1_000_000)
	fake.SetBalance(wallets[3].PaymentAddress, 100) // Below the funding amount

	r := newTestRunner(fake)
	spec := types.PipelineSpec{AssetID: "asset-1", SwapCount: 2, FundingAmount: 10_000}

	rep, err := r.Run(context.Background(), wallets, spec, types.ModeLive)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	stats := rep.Stats
	if stats.Succeeded != 9 || stats.Failed != 1 {
		t.Errorf("expected 9 succeeded and 1 failed, got %d/%d", stats.Succeeded, stats.Failed)
	}
	if len(stats.Errors) != 1 || !strings.Contains(stats.Errors[0], wallet.ErrInsufficientFunding.Error()) {
		t.Errorf("expected the funding error to be reported, got %v", stats.Errors)
	}
}

func TestRunSubmitFailureIsolated(t *testing.T) {
	fake := &rpctest.Fake{}
	wallets := testWallets(t, fake, 5, 1_000_000)

	var calls atomic.Int32
	fake.SubmitFn = func(ctx context.Context, artifacts [][]byte) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("backend rejected")
		}
		return fmt.Sprintf("handle-%d", calls.Load()), nil
	}

	r := newTestRunner(fake)
	spec := types.PipelineSpec{SwapCount: 1, FundingAmount: 1_000}

	rep, err := r.Run(context.Background(), wallets, spec, types.ModeLive)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	stats := rep.Stats
	if stats.Succeeded != 4 || stats.Failed != 1 {
		t.Errorf("expected 4 succeeded and 1 failed, got %d/%d", stats.Succeeded, stats.Failed)
	}
}

func TestRunRecordMode(t *testing.T) {
	fake := &rpctest.Fake{}
	fake.SetAssetAddress("asset-1", "asset-addr")
	wallets := testWallets(t, fake, 4, 1_000_000)

	r := newTestRunner(fake)
	spec := types.PipelineSpec{AssetID: "asset-1", SwapCount: 2, FundingAmount: 5_000}

	rep, err := r.Run(context.Background(), wallets, spec, types.ModeRecord)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(fake.Submitted()) != 0 {
		t.Error("record mode must not submit anything")
	}
	if rep.Stats.Succeeded != 4 {
		t.Errorf("expected 4 succeeded, got %d", rep.Stats.Succeeded)
	}

	payloads := rep.Payloads
	want := 4 * spec.Steps()
	if len(payloads) != want {
		t.Fatalf("expected %d payloads, got %d", want, len(payloads))
	}
	for i, p := range payloads {
		if p.Index != i {
			t.Errorf("payload %d has index %d, order broken", i, p.Index)
		}
		if !strings.HasPrefix(p.Hex, "0x") {
			t.Errorf("payload %d is not hex encoded", i)
		}
	}
	// Each wallet's steps appear in pipeline order.
	for w := 0; w < 4; w++ {
		steps := payloads[w*spec.Steps() : (w+1)*spec.Steps()]
		if steps[0].Step != "fund" || steps[len(steps)-1].Step != "complete" {
			t.Errorf("wallet %d: pipeline must start with fund and end with complete", w)
		}
		for _, s := range steps[1 : len(steps)-1] {
			if s.Step != "swap" {
				t.Errorf("wallet %d: expected swap between fund and complete, got %s", w, s.Step)
			}
		}
	}
}

func TestRunSequencesPerWallet(t *testing.T) {
	fake := &rpctest.Fake{}
	wallets := testWallets(t, fake, 3, 1_000_000)

	r := newTestRunner(fake)
	spec := types.PipelineSpec{SwapCount: 4, FundingAmount: 1_000}

	if _, err := r.Run(context.Background(), wallets, spec, types.ModeLive); err != nil {
		t.Fatal(err)
	}
	for _, w := range wallets {
		next, ok := r.sequences.Pending(w.Account())
		if !ok || next != uint64(spec.Steps()) {
			t.Errorf("wallet %s: expected %d sequences consumed, pending is %d", w.Account(), spec.Steps(), next)
		}
	}
}

func TestRunAssetResolutionRetries(t *testing.T) {
	fake := &rpctest.Fake{}
	wallets := testWallets(t, fake, 2, 1_000_000)

	var attempts atomic.Int32
	fake.ResolveFn = func(ctx context.Context, assetID string) (string, error) {
		if attempts.Add(1) < 3 {
			return "", rpc.ErrAssetUnresolved
		}
		return "asset-addr", nil
	}

	r := newTestRunner(fake)
	spec := types.PipelineSpec{AssetID: "asset-1", SwapCount: 1, FundingAmount: 1_000}

	rep, err := r.Run(context.Background(), wallets, spec, types.ModeLive)
	if err != nil {
		t.Fatalf("expected resolution to succeed after retries, got %v", err)
	}
	if rep.Stats.Succeeded != 2 {
		t.Errorf("expected 2 succeeded, got %d", rep.Stats.Succeeded)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 resolution attempts, got %d", attempts.Load())
	}
}

func TestRunAssetResolutionExhausted(t *testing.T) {
	fake := &rpctest.Fake{}
	wallets := testWallets(t, fake, 2, 1_000_000)
	fake.ResolveFn = func(ctx context.Context, assetID string) (string, error) {
		return "", rpc.ErrAssetUnresolved
	}

	r := newTestRunner(fake)
	spec := types.PipelineSpec{AssetID: "asset-1", SwapCount: 1, FundingAmount: 1_000}

	_, err := r.Run(context.Background(), wallets, spec, types.ModeLive)
	if !errors.Is(err, retry.ErrRetriesExhausted) {
		t.Errorf("expected retries exhausted, got %v", err)
	}
}

func TestRunEmptyWalletSet(t *testing.T) {
	r := newTestRunner(&rpctest.Fake{})
	if _, err := r.Run(context.Background(), nil, types.PipelineSpec{SwapCount: 1}, types.ModeLive); err == nil {
		t.Error("expected error for empty wallet set")
	}
}

func TestRunUnknownMode(t *testing.T) {
	fake := &rpctest.Fake{}
	wallets := testWallets(t, fake, 1, 1_000)
	r := newTestRunner(fake)
	if _, err := r.Run(context.Background(), wallets, types.PipelineSpec{SwapCount: 1}, types.Mode("dry")); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestRunBatchesSequential(t *testing.T) {
	fake := &rpctest.Fake{}
	wallets := testWallets(t, fake, 7, 1_000_000)

	// Track the max number of in-flight submissions; with batch size 3
	// it must never exceed the batch size.
	var inFlight, maxInFlight atomic.Int32
	fake.SubmitFn = func(ctx context.Context, artifacts [][]byte) (string, error) {
		cur := inFlight.Add(1)
		for {
			max := maxInFlight.Load()
			if cur <= max || maxInFlight.CompareAndSwap(max, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return "handle", nil
	}

	r := newTestRunner(fake)
	spec := types.PipelineSpec{SwapCount: 1, FundingAmount: 1_000, BatchSize: 3}

	rep, err := r.Run(context.Background(), wallets, spec, types.ModeLive)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Stats.Succeeded != 7 {
		t.Errorf("expected 7 succeeded, got %d", rep.Stats.Succeeded)
	}
	if maxInFlight.Load() > 3 {
		t.Errorf("submission concurrency %d exceeded batch size 3", maxInFlight.Load())
	}
}
