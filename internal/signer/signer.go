// Package signer turns intended ledger operations into signed,
// submittable artifacts.
package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/midl-xyz/load-test/internal/wallet"
)

// Kind identifies the operation being signed.
type Kind string

const (
	KindTransfer Kind = "transfer" // move the base or fungible asset
	KindFund     Kind = "fund"     // allocate a pipeline's funding output
	KindSwap     Kind = "swap"     // swap against a resolved asset
	KindComplete Kind = "complete" // finalize a pipeline
)

// Recipient is one output of a multi-recipient operation.
type Recipient struct {
	Address string   `json:"address"`
	Amount  *big.Int `json:"amount"`
}

// Operation describes an intended ledger operation. The sequence number
// must be pre-allocated by the caller.
type Operation struct {
	Kind         Kind        `json:"kind"`
	From         string      `json:"from"`
	Sequence     uint64      `json:"sequence"`
	AssetID      string      `json:"assetId,omitempty"`
	AssetAddress string      `json:"assetAddress,omitempty"`
	Recipients   []Recipient `json:"recipients,omitempty"`

	// Parent links a step to the previous step's signed artifact, so
	// pipeline steps form a chain the backend executes in order.
	Parent common.Hash `json:"parent,omitempty"`
}

// Artifact is a signed, submittable operation.
type Artifact struct {
	Hash common.Hash
	Raw  []byte
}

// Backend signs operations on behalf of a wallet.
type Backend interface {
	Sign(ctx context.Context, w *wallet.Wallet, op Operation) (*Artifact, error)
}

// Local signs operations with the wallet's own key. The operation is
// carried opaquely in the artifact payload; the backend's wire format
// is not this package's concern.
type Local struct {
	chainID *big.Int
	signer  ethtypes.Signer
}

// NewLocal creates a local signing backend for the given chain ID.
func NewLocal(chainID int64) *Local {
	id := big.NewInt(chainID)
	return &Local{
		chainID: id,
		signer:  ethtypes.LatestSignerForChainID(id),
	}
}

// Sign encodes the operation, wraps it in a carrier transaction and
// signs it with the wallet's key.
func (l *Local) Sign(ctx context.Context, w *wallet.Wallet, op Operation) (*Artifact, error) {
	if op.From == "" {
		op.From = w.Account()
	}

	payload, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("encode operation: %w", err)
	}

	total := new(big.Int)
	for _, r := range op.Recipients {
		if r.Amount != nil {
			total.Add(total, r.Amount)
		}
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    op.Sequence,
		GasPrice: big.NewInt(1),
		Gas:      100000,
		To:       &w.Address, // self-addressed carrier; the payload is what matters
		Value:    total,
		Data:     payload,
	})

	signed, err := ethtypes.SignTx(tx, l.signer, w.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	return &Artifact{Hash: signed.Hash(), Raw: raw}, nil
}
