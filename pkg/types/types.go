// Package types contains shared types used across the load-test harness.
package types

import "time"

// Mode selects how built pipelines are dispatched.
type Mode string

const (
	// ModeLive submits each pipeline to the backend as soon as its batch
	// finishes construction and records per-pipeline latency.
	ModeLive Mode = "live"

	// ModeRecord serializes every pipeline into an ordered payload file
	// for an external bulk-replay driver instead of submitting.
	ModeRecord Mode = "record"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeLive || m == ModeRecord
}

// PipelineSpec describes the fixed multi-step pipeline built per wallet.
type PipelineSpec struct {
	// AssetID identifies the fungible asset referenced by swap steps.
	AssetID string `json:"assetId"`

	// SwapCount is the number of independent swap operations issued
	// between the funding step and the completing step.
	SwapCount int `json:"swapCount"`

	// FundingAmount is the quantity allocated to the pipeline's single
	// funding output, in base units.
	FundingAmount uint64 `json:"fundingAmount"`

	// BatchSize is the number of wallets processed concurrently per
	// batch. Zero means DefaultBatchSize.
	BatchSize int `json:"batchSize"`
}

// DefaultBatchSize is the number of wallets per runner batch.
const DefaultBatchSize = 20

// Steps returns the total operation count per pipeline (fund + swaps + complete).
func (s PipelineSpec) Steps() int {
	return s.SwapCount + 2
}

// PipelineResult is the outcome of one wallet's pipeline.
type PipelineResult struct {
	Wallet  string        `json:"wallet"`
	Handle  string        `json:"handle,omitempty"` // submission handle, live mode only
	Success bool          `json:"success"`
	Elapsed time.Duration `json:"elapsedNs"`
	Err     string        `json:"error,omitempty"`
}

// Stats aggregates the outcome of a full load-test invocation.
type Stats struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	MinMs     float64  `json:"minMs"`
	MaxMs     float64  `json:"maxMs"`
	AvgMs     float64  `json:"avgMs"`
	Errors    []string `json:"errors,omitempty"`

	// OpsPerSec is throughput over the wall-clock span from first
	// dispatch to last completion, not the sum of individual latencies.
	OpsPerSec float64 `json:"opsPerSec"`

	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
}

// Payload is one opaque request recorded for the external replay driver.
type Payload struct {
	Index  int    `json:"index"`
	Wallet string `json:"wallet"`
	Step   string `json:"step"` // "fund", "swap", "complete"
	Hex    string `json:"hex"`  // hex-encoded signed artifact
}

// RunRecord is a persisted load-test run summary.
type RunRecord struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Mode        Mode      `json:"mode"`
	Wallets     int       `json:"wallets"`
	Stats       *Stats    `json:"stats,omitempty"`
	Status      string    `json:"status"` // "running", "completed", "error"
	ErrorMsg    string    `json:"errorMessage,omitempty"`
}
