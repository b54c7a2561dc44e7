package signer

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/midl-xyz/load-test/internal/wallet"
)

func TestSignCarriesOperation(t *testing.T) {
	w, err := wallet.FromSeed(wallet.GenesisSeed)
	if err != nil {
		t.Fatal(err)
	}
	backend := NewLocal(1337)

	op := Operation{
		Kind:     KindTransfer,
		Sequence: 7,
		AssetID:  "asset-1",
		Recipients: []Recipient{
			{Address: "pay-a", Amount: big.NewInt(100)},
			{Address: "pay-b", Amount: big.NewInt(250)},
		},
	}
	art, err := backend.Sign(context.Background(), w, op)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	var tx ethtypes.Transaction
	if err := tx.UnmarshalBinary(art.Raw); err != nil {
		t.Fatalf("artifact is not a decodable transaction: %v", err)
	}
	if tx.Nonce() != 7 {
		t.Errorf("expected sequence 7 as nonce, got %d", tx.Nonce())
	}
	if tx.Value().Int64() != 350 {
		t.Errorf("expected value 350 (sum of recipients), got %s", tx.Value())
	}
	if tx.Hash() != art.Hash {
		t.Error("artifact hash should match the signed transaction hash")
	}

	var decoded Operation
	if err := json.Unmarshal(tx.Data(), &decoded); err != nil {
		t.Fatalf("payload is not a decodable operation: %v", err)
	}
	if decoded.Kind != KindTransfer || decoded.AssetID != "asset-1" {
		t.Errorf("operation mangled in transit: %+v", decoded)
	}
	if decoded.From != w.Account() {
		t.Errorf("expected From filled from the wallet, got %s", decoded.From)
	}
	if len(decoded.Recipients) != 2 {
		t.Errorf("expected 2 recipients, got %d", len(decoded.Recipients))
	}
}

func TestSignDistinctSequencesDistinctHashes(t *testing.T) {
	w, err := wallet.FromSeed(wallet.GenesisSeed)
	if err != nil {
		t.Fatal(err)
	}
	backend := NewLocal(1337)

	op := Operation{Kind: KindFund, Recipients: []Recipient{{Address: "ord-a", Amount: big.NewInt(1)}}}

	op.Sequence = 0
	a, err := backend.Sign(context.Background(), w, op)
	if err != nil {
		t.Fatal(err)
	}
	op.Sequence = 1
	b, err := backend.Sign(context.Background(), w, op)
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash == b.Hash {
		t.Error("different sequences must produce different artifact hashes")
	}
}

func TestSignParentChainsSteps(t *testing.T) {
	w, err := wallet.FromSeed(wallet.GenesisSeed)
	if err != nil {
		t.Fatal(err)
	}
	backend := NewLocal(1337)

	fund, err := backend.Sign(context.Background(), w, Operation{
		Kind:       KindFund,
		Sequence:   0,
		Recipients: []Recipient{{Address: "ord-a", Amount: big.NewInt(100)}},
	})
	if err != nil {
		t.Fatal(err)
	}

	swap, err := backend.Sign(context.Background(), w, Operation{
		Kind:     KindSwap,
		Sequence: 1,
		Parent:   fund.Hash,
	})
	if err != nil {
		t.Fatal(err)
	}

	var tx ethtypes.Transaction
	if err := tx.UnmarshalBinary(swap.Raw); err != nil {
		t.Fatal(err)
	}
	var decoded Operation
	if err := json.Unmarshal(tx.Data(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Parent != fund.Hash {
		t.Error("swap step should reference the funding artifact as its parent")
	}
}
