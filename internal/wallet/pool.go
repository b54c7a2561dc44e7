package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/midl-xyz/load-test/internal/rpc"
)

// PayoutRecipient is one output of a funding transfer.
type PayoutRecipient struct {
	Address string
	Amount  *big.Int
}

// Payout issues a multi-recipient transfer of the base asset from a
// wallet and waits for it to confirm.
type Payout interface {
	Transfer(ctx context.Context, from *Wallet, outs []PayoutRecipient) error
}

// PoolConfig holds dependencies for a Pool.
type PoolConfig struct {
	Client rpc.Client
	Store  *Store
	Payout Payout

	// Threshold is the funding target per wallet. A wallet below half
	// of it gets topped up to the full threshold.
	Threshold *big.Int

	Logger *slog.Logger
}

// Pool creates, loads and funds the wallet set. Growth is idempotent:
// ensuring n then m > n wallets yields the same first n identities as
// ensuring m directly.
type Pool struct {
	client    rpc.Client
	store     *Store
	payout    Payout
	threshold *big.Int
	logger    *slog.Logger

	wallets []*Wallet
}

// NewPool creates a pool.
func NewPool(cfg PoolConfig) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		client:    cfg.Client,
		store:     cfg.Store,
		payout:    cfg.Payout,
		threshold: cfg.Threshold,
		logger:    logger,
	}
}

// Wallets returns the wallets from the last Ensure call.
func (p *Pool) Wallets() []*Wallet {
	return p.wallets
}

// Ensure returns n wallets, loading persisted seeds and generating
// fresh ones as needed. New seeds are persisted before any derivation
// so a crash after generation does not lose work. Every wallet is
// registered with the backend; a missing address role is fatal.
func (p *Pool) Ensure(ctx context.Context, n int) ([]*Wallet, error) {
	if n <= 0 {
		return nil, fmt.Errorf("wallet count must be positive, got %d", n)
	}

	seeds := p.store.LoadAll()
	if len(seeds) < n {
		p.logger.Info("growing wallet pool",
			slog.Int("have", len(seeds)),
			slog.Int("want", n),
		)
		for len(seeds) < n {
			w, err := Generate()
			if err != nil {
				return nil, fmt.Errorf("generate wallet seed: %w", err)
			}
			seeds = append(seeds, w.Seed())
		}
		if err := p.store.SaveAll(seeds); err != nil {
			return nil, fmt.Errorf("persist wallet seeds: %w", err)
		}
	}

	wallets := make([]*Wallet, n)
	for i := 0; i < n; i++ {
		w, err := FromSeed(seeds[i])
		if err != nil {
			return nil, fmt.Errorf("derive wallet %d: %w", i, err)
		}
		wallets[i] = w
	}

	if err := p.registerAll(ctx, wallets); err != nil {
		return nil, err
	}

	p.wallets = wallets
	p.logger.Info("wallet pool ready", slog.Int("count", n))
	return wallets, nil
}

// registerAll establishes each wallet's backend address set in parallel.
func (p *Pool) registerAll(ctx context.Context, wallets []*Wallet) error {
	var wg sync.WaitGroup
	errChan := make(chan error, len(wallets))
	sem := make(chan struct{}, 16) // Limit concurrent RPC calls

	for i, w := range wallets {
		wg.Add(1)
		go func(idx int, w *Wallet) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			set, err := p.client.RegisterAddresses(ctx, w.PubKeyHex())
			if err != nil {
				select {
				case errChan <- fmt.Errorf("register wallet %d: %w", idx, err):
				default:
				}
				return
			}
			if set == nil || set.Payment == "" || set.Inscription == "" {
				select {
				case errChan <- fmt.Errorf("wallet %d (%s): %w", idx, w.Account(), ErrNoRegisteredAddress):
				default:
				}
				return
			}
			w.PaymentAddress = set.Payment
			w.InscriptionAddress = set.Inscription
		}(i, w)
	}

	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return err
	}
	return nil
}

// TopUp brings every wallet whose balance is below half the threshold
// back up to the full threshold, with one multi-output transfer from
// the funding source. Transfers from the same source are never
// parallelized against each other.
func (p *Pool) TopUp(ctx context.Context, source *Wallet) error {
	if len(p.wallets) == 0 {
		return nil
	}

	half := new(big.Int).Rsh(p.threshold, 1)

	type need struct {
		idx    int
		amount *big.Int
	}
	needs := make([]*need, len(p.wallets))

	var wg sync.WaitGroup
	sem := make(chan struct{}, 32)
	for i, w := range p.wallets {
		wg.Add(1)
		go func(idx int, w *Wallet) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			balance, err := p.client.GetBalance(ctx, w.PaymentAddress)
			if err != nil {
				p.logger.Debug("balance check failed, treating as unfunded",
					slog.Int("idx", idx),
					slog.String("error", err.Error()),
				)
				balance = big.NewInt(0)
			}
			if balance.Cmp(half) < 0 {
				needs[idx] = &need{idx: idx, amount: new(big.Int).Sub(p.threshold, balance)}
			}
		}(i, w)
	}
	wg.Wait()

	var outs []PayoutRecipient
	total := new(big.Int)
	for _, nd := range needs {
		if nd == nil {
			continue
		}
		outs = append(outs, PayoutRecipient{
			Address: p.wallets[nd.idx].PaymentAddress,
			Amount:  nd.amount,
		})
		total.Add(total, nd.amount)
	}
	if len(outs) == 0 {
		p.logger.Debug("all wallets above funding threshold")
		return nil
	}

	sourceBalance, err := p.client.GetBalance(ctx, source.PaymentAddress)
	if err != nil {
		return fmt.Errorf("funding source balance: %w", err)
	}
	if sourceBalance.Cmp(total) < 0 {
		return fmt.Errorf("funding source holds %s, needs %s: %w",
			sourceBalance, total, ErrInsufficientFunding)
	}

	p.logger.Info("topping up wallets",
		slog.Int("count", len(outs)),
		slog.String("total", total.String()),
	)
	if err := p.payout.Transfer(ctx, source, outs); err != nil {
		return fmt.Errorf("top-up transfer: %w", err)
	}
	return nil
}

// SplitByAssetBalance checks asset balances in parallel and splits
// wallets into those holding at least min and those below it.
func (p *Pool) SplitByAssetBalance(ctx context.Context, wallets []*Wallet, assetID string, min *big.Int) (funded, unfunded []*Wallet) {
	if len(wallets) == 0 {
		return nil, nil
	}

	results := make([]bool, len(wallets))
	var wg sync.WaitGroup
	sem := make(chan struct{}, 32)

	for i, w := range wallets {
		wg.Add(1)
		go func(idx int, w *Wallet) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			balance, err := p.client.GetAssetBalance(ctx, w.PaymentAddress, assetID)
			if err != nil {
				p.logger.Debug("asset balance check failed",
					slog.Int("idx", idx),
					slog.String("error", err.Error()),
				)
				return
			}
			results[idx] = balance.Cmp(min) >= 0
		}(i, w)
	}
	wg.Wait()

	for i, ok := range results {
		if ok {
			funded = append(funded, wallets[i])
		} else {
			unfunded = append(unfunded, wallets[i])
		}
	}
	return funded, unfunded
}

// Recycle returns leftover balances from pool wallets to the sink,
// keeping a small margin per wallet for fees. Returns the number of
// wallets recycled.
func (p *Pool) Recycle(ctx context.Context, sink *Wallet) (int, error) {
	minRecycle := big.NewInt(10_000) // Not worth a transfer below this

	var wg sync.WaitGroup
	var recycled atomic.Int32
	var mu sync.Mutex
	var errs []error
	sem := make(chan struct{}, 16)

	for i, w := range p.wallets {
		if w.Account() == sink.Account() {
			continue
		}
		wg.Add(1)
		go func(idx int, w *Wallet) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			balance, err := p.client.GetBalance(ctx, w.PaymentAddress)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("wallet %d balance: %w", idx, err))
				mu.Unlock()
				return
			}
			amount := new(big.Int).Sub(balance, minRecycle)
			if amount.Sign() <= 0 {
				return
			}

			err = p.payout.Transfer(ctx, w, []PayoutRecipient{{
				Address: sink.PaymentAddress,
				Amount:  amount,
			}})
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("recycle wallet %d: %w", idx, err))
				mu.Unlock()
				return
			}
			recycled.Add(1)
		}(i, w)
	}
	wg.Wait()

	count := int(recycled.Load())
	p.logger.Info("fund recycling complete",
		slog.Int("recycled", count),
		slog.Int("failed", len(errs)),
	)
	if len(errs) > 0 {
		return count, fmt.Errorf("recycling had %d errors (first: %w)", len(errs), errs[0])
	}
	return count, nil
}
