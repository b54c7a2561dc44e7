// Package transfer submits signed value transfers and waits for them
// to confirm.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/midl-xyz/load-test/internal/confirm"
	"github.com/midl-xyz/load-test/internal/rpc"
	"github.com/midl-xyz/load-test/internal/sequence"
	"github.com/midl-xyz/load-test/internal/signer"
	"github.com/midl-xyz/load-test/internal/wallet"
)

// Config holds dependencies for a Service.
type Config struct {
	Client    rpc.Client
	Signer    signer.Backend
	Sequences *sequence.Allocator
	Confirmer confirm.Waiter

	// MinConfirmations to wait for after submitting. Zero means submit
	// and return without waiting.
	MinConfirmations int

	Logger *slog.Logger
}

// Service builds, signs and submits transfers. A transfer allocates its
// sequence number immediately before signing, so concurrent callers
// sending from different wallets never collide.
type Service struct {
	client    rpc.Client
	signer    signer.Backend
	sequences *sequence.Allocator
	confirmer confirm.Waiter
	minConf   int
	logger    *slog.Logger
}

var _ wallet.Payout = (*Service)(nil)

// NewService creates a transfer service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:    cfg.Client,
		signer:    cfg.Signer,
		sequences: cfg.Sequences,
		confirmer: cfg.Confirmer,
		minConf:   cfg.MinConfirmations,
		logger:    logger,
	}
}

// Send signs and submits one multi-recipient transfer of assetID (empty
// for the base asset) from the given wallet, and waits for it to reach
// the configured confirmation depth. Returns the submission handle.
func (s *Service) Send(ctx context.Context, from *wallet.Wallet, assetID string, recipients []signer.Recipient) (string, error) {
	if len(recipients) == 0 {
		return "", fmt.Errorf("transfer needs at least one recipient")
	}

	seq, err := s.sequences.Allocate(ctx, from.Account())
	if err != nil {
		return "", fmt.Errorf("allocate sequence: %w", err)
	}

	art, err := s.signer.Sign(ctx, from, signer.Operation{
		Kind:       signer.KindTransfer,
		From:       from.Account(),
		Sequence:   seq,
		AssetID:    assetID,
		Recipients: recipients,
	})
	if err != nil {
		return "", fmt.Errorf("sign transfer: %w", err)
	}

	handle, err := s.client.SubmitBatch(ctx, [][]byte{art.Raw})
	if err != nil {
		return "", fmt.Errorf("submit transfer: %w", err)
	}

	s.logger.Debug("transfer submitted",
		slog.String("from", from.Account()),
		slog.String("handle", handle),
		slog.Int("recipients", len(recipients)),
	)

	if s.minConf > 0 {
		if err := s.confirmer.Wait(ctx, handle, s.minConf); err != nil {
			return handle, fmt.Errorf("transfer %s: %w", handle, err)
		}
	}
	return handle, nil
}

// Transfer sends the base asset to the given recipients and waits for
// confirmation. It satisfies wallet.Payout.
func (s *Service) Transfer(ctx context.Context, from *wallet.Wallet, outs []wallet.PayoutRecipient) error {
	recipients := make([]signer.Recipient, len(outs))
	for i, out := range outs {
		recipients[i] = signer.Recipient{Address: out.Address, Amount: out.Amount}
	}
	_, err := s.Send(ctx, from, "", recipients)
	return err
}

// SumAmounts totals the recipient amounts of a transfer.
func SumAmounts(recipients []signer.Recipient) *big.Int {
	total := new(big.Int)
	for _, r := range recipients {
		if r.Amount != nil {
			total.Add(total, r.Amount)
		}
	}
	return total
}
