// Package wallet manages the pool of signing identities used to drive
// load: deterministic derivation from seed material, on-disk seed
// persistence, and funding top-up.
//
// Seed material is persisted in plain text. That is an accepted
// insecurity for an ephemeral load-testing tool; do not reuse these
// identities for anything holding real value.
package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoRegisteredAddress is returned when the backend's registration
// response is missing an expected address role. The identity cannot
// participate in the pool.
var ErrNoRegisteredAddress = errors.New("no registered address for role")

// ErrInsufficientFunding is returned when an identity's balance cannot
// cover a required operation. Fatal for that identity's branch only.
var ErrInsufficientFunding = errors.New("insufficient funding")

// GenesisSeed is the fixed, well-known seed of the first identity, so
// the first wallet is stable across runs for external bookkeeping.
// (Anvil/Hardhat default account 0.)
const GenesisSeed = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// Wallet is a signing identity. Seed material is immutable once
// created; the key and address are pure functions of the seed.
type Wallet struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address

	// Backend-registered address roles, set during pool registration.
	PaymentAddress     string
	InscriptionAddress string
}

// FromSeed derives a wallet from hex-encoded seed material.
func FromSeed(seedHex string) (*Wallet, error) {
	key, err := crypto.HexToECDSA(seedHex)
	if err != nil {
		return nil, fmt.Errorf("derive key from seed: %w", err)
	}
	return &Wallet{
		PrivateKey: key,
		Address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Generate creates a wallet from fresh random seed material.
func Generate() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Wallet{
		PrivateKey: key,
		Address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Seed returns the wallet's hex-encoded seed material.
func (w *Wallet) Seed() string {
	return hex.EncodeToString(crypto.FromECDSA(w.PrivateKey))
}

// Account returns the externally visible account handle used for
// sequence allocation and submission.
func (w *Wallet) Account() string {
	return w.Address.Hex()
}

// PubKeyHex returns the wallet's hex-encoded public key, as submitted
// to the backend during registration.
func (w *Wallet) PubKeyHex() string {
	return hex.EncodeToString(crypto.FromECDSAPub(&w.PrivateKey.PublicKey))
}
