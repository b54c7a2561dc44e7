// Package distributor fans a fungible balance out across a wallet set
// with a fixed-branching tree of multi-recipient transfers.
package distributor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/midl-xyz/load-test/internal/retry"
	"github.com/midl-xyz/load-test/internal/rpc"
	"github.com/midl-xyz/load-test/internal/signer"
	"github.com/midl-xyz/load-test/internal/wallet"
)

// ErrConservationViolation means a round tried to send more than its
// source held at round start. The share computation makes this
// impossible, so hitting it indicates a bug and aborts the run.
var ErrConservationViolation = errors.New("distribution would exceed source balance")

const (
	// branchingFactor is the backend's limit on recipients per
	// operation from one source.
	branchingFactor = 2

	// shareDivisor splits a source's balance so it keeps enough for a
	// later round plus fee overhead.
	shareDivisor = 3

	defaultSettlingDelay = 10 * time.Second
	defaultRetryDelay    = 2 * time.Second
)

// Sender submits one multi-recipient asset transfer and waits for it to
// confirm. *transfer.Service satisfies it.
type Sender interface {
	Send(ctx context.Context, from *wallet.Wallet, assetID string, recipients []signer.Recipient) (string, error)
}

// Config holds dependencies for a Scheduler.
type Config struct {
	Client rpc.Client
	Sender Sender

	// SettlingDelay is the pause between rounds so confirmations
	// propagate before the next round reads balances. Defaults to 10s.
	SettlingDelay time.Duration

	// RetryDelay is the pause before a failed source's single retry.
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Scheduler runs the tree fan-out. Each round, every source pops up to
// branchingFactor targets, sends each a third of its balance and waits
// for confirmation; confirmed targets become sources for the next
// round. Ends when no targets remain.
type Scheduler struct {
	client     rpc.Client
	sender     Sender
	settle     time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	settle := cfg.SettlingDelay
	if settle == 0 {
		settle = defaultSettlingDelay
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = defaultRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		client:     cfg.Client,
		sender:     cfg.Sender,
		settle:     settle,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Distribute moves assetID from sources to every target. Sources in a
// round run concurrently and independently; one source failing is
// retried once, and if it still fails its targets are requeued for the
// next round rather than dropped. A conservation violation aborts the
// whole run.
func (s *Scheduler) Distribute(ctx context.Context, sources, targets []*wallet.Wallet, assetID string) error {
	if len(sources) == 0 {
		return fmt.Errorf("distribution needs at least one funded source")
	}

	round := 0
	for len(targets) > 0 {
		round++

		type job struct {
			source *wallet.Wallet
			popped []*wallet.Wallet
		}
		var jobs []job
		next := 0
		for _, src := range sources {
			if next >= len(targets) {
				break
			}
			end := next + branchingFactor
			if end > len(targets) {
				end = len(targets)
			}
			jobs = append(jobs, job{source: src, popped: targets[next:end]})
			next = end
		}
		unassigned := targets[next:]

		s.logger.Info("distribution round",
			slog.Int("round", round),
			slog.Int("sources", len(jobs)),
			slog.Int("targets", len(targets)),
		)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			promoted []*wallet.Wallet
			requeued []*wallet.Wallet
			fatalErr error
		)
		for _, j := range jobs {
			wg.Add(1)
			go func(j job) {
				defer wg.Done()

				err := retry.Do(ctx, func() error {
					return s.fanOut(ctx, j.source, j.popped, assetID)
				}, 2, s.retryDelay)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if errors.Is(err, ErrConservationViolation) && fatalErr == nil {
						fatalErr = err
						return
					}
					s.logger.Warn("source failed, requeueing its targets",
						slog.Int("round", round),
						slog.String("source", j.source.Account()),
						slog.Int("targets", len(j.popped)),
						slog.String("error", err.Error()),
					)
					requeued = append(requeued, j.popped...)
					return
				}
				promoted = append(promoted, j.popped...)
			}(j)
		}
		wg.Wait()

		if fatalErr != nil {
			return fmt.Errorf("round %d: %w", round, fatalErr)
		}
		if len(promoted) == 0 && len(requeued) > 0 {
			return fmt.Errorf("round %d: every source failed, distribution stalled with %d targets left",
				round, len(requeued)+len(unassigned))
		}

		// Fresh recipients lead the next round so the tree keeps
		// widening instead of draining the original sources.
		sources = append(promoted, sources...)
		targets = append(requeued, unassigned...)

		if len(targets) > 0 {
			select {
			case <-time.After(s.settle):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	s.logger.Info("distribution complete", slog.Int("rounds", round))
	return nil
}

// fanOut sends one share of the source's balance to each popped target
// in a single multi-recipient transfer.
func (s *Scheduler) fanOut(ctx context.Context, source *wallet.Wallet, popped []*wallet.Wallet, assetID string) error {
	balance, err := s.client.GetAssetBalance(ctx, source.PaymentAddress, assetID)
	if err != nil {
		return fmt.Errorf("source %s balance: %w", source.Account(), err)
	}

	share := new(big.Int).Div(balance, big.NewInt(shareDivisor))
	if share.Sign() <= 0 {
		return fmt.Errorf("source %s holds %s, not enough to split", source.Account(), balance)
	}

	total := new(big.Int).Mul(share, big.NewInt(int64(len(popped))))
	if total.Cmp(balance) > 0 {
		return retry.Permanent(fmt.Errorf("%w: sending %s from a balance of %s",
			ErrConservationViolation, total, balance))
	}

	recipients := make([]signer.Recipient, len(popped))
	for i, target := range popped {
		recipients[i] = signer.Recipient{
			Address: target.PaymentAddress,
			Amount:  new(big.Int).Set(share),
		}
	}

	handle, err := s.sender.Send(ctx, source, assetID, recipients)
	if err != nil {
		return fmt.Errorf("fan-out from %s: %w", source.Account(), err)
	}

	s.logger.Debug("fan-out confirmed",
		slog.String("source", source.Account()),
		slog.String("handle", handle),
		slog.String("share", share.String()),
		slog.Int("targets", len(popped)),
	)
	return nil
}
