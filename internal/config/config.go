// Package config handles configuration loading and validation.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/midl-xyz/load-test/pkg/types"
)

// Config holds the harness configuration.
type Config struct {
	RPCURL string
	WSURL  string // WebSocket URL for confirmation events; empty = poll only

	ChainID int64

	DatabasePath  string // SQLite run history
	SeedStorePath string // JSON wallet seed file
	PayloadPath   string // record-mode output file
	MetricsListen string // Prometheus listen address; empty = disabled

	Wallets       int
	Mode          types.Mode
	AssetID       string
	SwapCount     int
	FundingAmount uint64
	BatchSize     int

	// FundingThreshold is the base-asset target per wallet; wallets
	// below half of it are topped up.
	FundingThreshold uint64

	// SettlingDelay is the pause between distribution rounds.
	SettlingDelay time.Duration

	// Recycle sweeps leftover balances back to the funding wallet
	// after the run.
	Recycle bool
}

// Defaults
const (
	DefaultRPCURL           = "http://localhost:8545"
	DefaultChainID          = 1337
	DefaultDatabasePath     = "./data/loadtest.db"
	DefaultSeedStorePath    = "./data/seeds.json"
	DefaultPayloadPath      = "./data/payloads.json"
	DefaultWallets          = 10
	DefaultSwapCount        = 5
	DefaultFundingAmount    = 100_000
	DefaultFundingThreshold = 1_000_000
	DefaultSettlingDelay    = 10 * time.Second
)

// Load reads configuration from environment variables and command-line
// flags. Flags take precedence.
func Load() (*Config, error) {
	cfg := &Config{
		RPCURL:           DefaultRPCURL,
		ChainID:          DefaultChainID,
		DatabasePath:     DefaultDatabasePath,
		SeedStorePath:    DefaultSeedStorePath,
		PayloadPath:      DefaultPayloadPath,
		Wallets:          DefaultWallets,
		Mode:             types.ModeLive,
		SwapCount:        DefaultSwapCount,
		FundingAmount:    DefaultFundingAmount,
		BatchSize:        types.DefaultBatchSize,
		FundingThreshold: DefaultFundingThreshold,
		SettlingDelay:    DefaultSettlingDelay,
	}

	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("WS_URL"); v != "" {
		cfg.WSURL = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			cfg.ChainID = id
		}
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("SEED_STORE_PATH"); v != "" {
		cfg.SeedStorePath = v
	}
	if v := os.Getenv("METRICS_LISTEN"); v != "" {
		cfg.MetricsListen = v
	}
	if v := os.Getenv("ASSET_ID"); v != "" {
		cfg.AssetID = v
	}

	var (
		rpcURL    = flag.String("rpc", cfg.RPCURL, "Backend RPC URL")
		wsURL     = flag.String("ws", cfg.WSURL, "Confirmation WebSocket URL (empty = poll only)")
		chainID   = flag.Int64("chainid", cfg.ChainID, "Chain ID for signing")
		dbPath    = flag.String("db", cfg.DatabasePath, "SQLite run history path")
		seedPath  = flag.String("seeds", cfg.SeedStorePath, "Wallet seed file path")
		outPath   = flag.String("out", cfg.PayloadPath, "Record-mode payload output path")
		metrics   = flag.String("metrics", cfg.MetricsListen, "Prometheus listen address (empty = disabled)")
		wallets   = flag.Int("wallets", cfg.Wallets, "Number of wallets to run pipelines for")
		mode      = flag.String("mode", string(cfg.Mode), "Dispatch mode: live or record")
		assetID   = flag.String("asset", cfg.AssetID, "Asset ID referenced by swap steps")
		swaps     = flag.Int("swaps", cfg.SwapCount, "Swap operations per pipeline")
		funding   = flag.Uint64("funding", cfg.FundingAmount, "Funding amount per pipeline in base units")
		batch     = flag.Int("batch", cfg.BatchSize, "Wallets per concurrent batch")
		threshold = flag.Uint64("threshold", cfg.FundingThreshold, "Base-asset funding target per wallet")
		settle    = flag.Duration("settle", cfg.SettlingDelay, "Delay between distribution rounds")
		recycle   = flag.Bool("recycle", false, "Sweep leftover balances back after the run")
	)
	flag.Parse()

	cfg.RPCURL = *rpcURL
	cfg.WSURL = *wsURL
	cfg.ChainID = *chainID
	cfg.DatabasePath = *dbPath
	cfg.SeedStorePath = *seedPath
	cfg.PayloadPath = *outPath
	cfg.MetricsListen = *metrics
	cfg.Wallets = *wallets
	cfg.Mode = types.Mode(*mode)
	cfg.AssetID = *assetID
	cfg.SwapCount = *swaps
	cfg.FundingAmount = *funding
	cfg.BatchSize = *batch
	cfg.FundingThreshold = *threshold
	cfg.SettlingDelay = *settle
	cfg.Recycle = *recycle

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that would fail later
// in a confusing place.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL is required")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("chain ID must be positive, got %d", c.ChainID)
	}
	if c.Wallets <= 0 {
		return fmt.Errorf("wallet count must be positive, got %d", c.Wallets)
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("mode must be %q or %q, got %q", types.ModeLive, types.ModeRecord, c.Mode)
	}
	if c.SwapCount < 0 {
		return fmt.Errorf("swap count cannot be negative, got %d", c.SwapCount)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.FundingThreshold == 0 {
		return fmt.Errorf("funding threshold must be positive")
	}
	if c.SettlingDelay < 0 {
		return fmt.Errorf("settling delay cannot be negative")
	}
	if c.Mode == types.ModeRecord && c.PayloadPath == "" {
		return fmt.Errorf("record mode needs a payload output path")
	}
	return nil
}

// Spec builds the pipeline spec from the configuration.
func (c *Config) Spec() types.PipelineSpec {
	return types.PipelineSpec{
		AssetID:       c.AssetID,
		SwapCount:     c.SwapCount,
		FundingAmount: c.FundingAmount,
		BatchSize:     c.BatchSize,
	}
}
