package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/midl-xyz/load-test/pkg/types"
)

func openTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	run := &types.RunRecord{
		ID:        "run-1",
		StartedAt: time.Now().UTC(),
		Mode:      types.ModeLive,
		Wallets:   10,
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Status != "running" {
		t.Fatalf("expected running run, got %+v", got)
	}

	stats := &types.Stats{Total: 10, Succeeded: 9, Failed: 1, AvgMs: 42.5}
	if err := s.CompleteRun(ctx, "run-1", stats, "completed", ""); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}

	got, err = s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "completed" {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.Stats == nil || got.Stats.Succeeded != 9 {
		t.Errorf("stats not round-tripped: %+v", got.Stats)
	}
	if got.CompletedAt.IsZero() {
		t.Error("completed_at not set")
	}
}

func TestCompleteRunMissing(t *testing.T) {
	s := openTestStorage(t)
	if err := s.CompleteRun(context.Background(), "nope", nil, "completed", ""); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestGetRunMissing(t *testing.T) {
	s := openTestStorage(t)
	run, err := s.GetRun(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if run != nil {
		t.Errorf("expected nil for missing run, got %+v", run)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		err := s.CreateRun(ctx, &types.RunRecord{
			ID:        id,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Mode:      types.ModeLive,
			Wallets:   5,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].ID != "new" || runs[2].ID != "old" {
		t.Errorf("runs not ordered newest first: %s, %s, %s", runs[0].ID, runs[1].ID, runs[2].ID)
	}
}

func TestResultsRoundTrip(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, &types.RunRecord{
		ID:        "run-1",
		StartedAt: time.Now().UTC(),
		Mode:      types.ModeLive,
		Wallets:   2,
	}); err != nil {
		t.Fatal(err)
	}

	in := []types.PipelineResult{
		{Wallet: "0xaaa", Handle: "handle-1", Success: true, Elapsed: 120 * time.Millisecond},
		{Wallet: "0xbbb", Success: false, Elapsed: 80 * time.Millisecond, Err: "insufficient funding"},
	}
	if err := s.InsertResults(ctx, "run-1", in); err != nil {
		t.Fatalf("InsertResults failed: %v", err)
	}

	out, err := s.GetResults(ctx, "run-1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[0].Wallet != "0xaaa" || !out[0].Success || out[0].Handle != "handle-1" {
		t.Errorf("first result mangled: %+v", out[0])
	}
	if out[1].Err != "insufficient funding" || out[1].Elapsed != 80*time.Millisecond {
		t.Errorf("second result mangled: %+v", out[1])
	}
}

func TestDeleteRunCascades(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	if err := s.CreateRun(ctx, &types.RunRecord{
		ID: "run-1", StartedAt: time.Now().UTC(), Mode: types.ModeLive, Wallets: 1,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertResults(ctx, "run-1", []types.PipelineResult{
		{Wallet: "0xaaa", Success: true},
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatal(err)
	}
	results, err := s.GetResults(ctx, "run-1", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected results deleted with their run, got %d", len(results))
	}
}

func TestPayloadFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "payloads.json")

	in := []types.Payload{
		{Index: 0, Wallet: "0xaaa", Step: "fund", Hex: "0x01"},
		{Index: 1, Wallet: "0xaaa", Step: "swap", Hex: "0x02"},
		{Index: 2, Wallet: "0xaaa", Step: "complete", Hex: "0x03"},
	}
	if err := WritePayloads(path, in); err != nil {
		t.Fatalf("WritePayloads failed: %v", err)
	}

	out, err := ReadPayloads(path)
	if err != nil {
		t.Fatalf("ReadPayloads failed: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 payloads, got %d", len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("payload %d: expected %+v, got %+v", i, in[i], out[i])
		}
	}
}
