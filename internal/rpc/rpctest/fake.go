// Package rpctest provides a configurable in-memory rpc.Client for tests.
package rpctest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/midl-xyz/load-test/internal/rpc"
)

// Fake is an in-memory rpc.Client. Zero value is usable; maps are
// created lazily. Optional *Fn fields override the default behavior of
// the corresponding method. Safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	sequences     map[string]uint64
	balances      map[string]*big.Int
	assetBalances map[string]*big.Int // key: address + "/" + assetID
	addressSets   map[string]*rpc.AddressSet
	assetAddrs    map[string]string
	submissions   map[string]*rpc.SubmissionStatus
	submitted     [][][]byte
	nextHandle    int

	// AutoConfirm controls the confirmation count reported for every
	// submission created by SubmitBatch. Defaults to 1.
	AutoConfirm int

	SequenceFn func(ctx context.Context, account string) (uint64, error)
	SubmitFn   func(ctx context.Context, artifacts [][]byte) (string, error)
	BalanceFn  func(ctx context.Context, address string) (*big.Int, error)
	ResolveFn  func(ctx context.Context, assetID string) (string, error)
}

var _ rpc.Client = (*Fake)(nil)

// SetSequence sets the pending sequence count for an account.
func (f *Fake) SetSequence(account string, n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sequences == nil {
		f.sequences = make(map[string]uint64)
	}
	f.sequences[account] = n
}

// SetBalance sets the spendable balance for an address.
func (f *Fake) SetBalance(address string, n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances == nil {
		f.balances = make(map[string]*big.Int)
	}
	f.balances[address] = new(big.Int).SetUint64(n)
}

// SetAssetBalance sets an address's balance of an asset.
func (f *Fake) SetAssetBalance(address, assetID string, n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assetBalances == nil {
		f.assetBalances = make(map[string]*big.Int)
	}
	f.assetBalances[address+"/"+assetID] = new(big.Int).SetUint64(n)
}

// SetAddressSet sets the registration result for a public key.
func (f *Fake) SetAddressSet(pubKeyHex string, set *rpc.AddressSet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addressSets == nil {
		f.addressSets = make(map[string]*rpc.AddressSet)
	}
	f.addressSets[pubKeyHex] = set
}

// SetAssetAddress sets the directory entry for an asset.
func (f *Fake) SetAssetAddress(assetID, address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assetAddrs == nil {
		f.assetAddrs = make(map[string]string)
	}
	f.assetAddrs[assetID] = address
}

// Submitted returns every artifact batch submitted so far.
func (f *Fake) Submitted() [][][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][][]byte, len(f.submitted))
	copy(out, f.submitted)
	return out
}

func (f *Fake) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	return nil, fmt.Errorf("rpctest: raw Call not supported (method %s)", method)
}

func (f *Fake) GetSequenceCount(ctx context.Context, account string) (uint64, error) {
	if f.SequenceFn != nil {
		return f.SequenceFn(ctx, account)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sequences[account], nil
}

func (f *Fake) GetConfirmedSequenceCount(ctx context.Context, account string) (uint64, error) {
	return f.GetSequenceCount(ctx, account)
}

func (f *Fake) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if f.BalanceFn != nil {
		return f.BalanceFn(ctx, address)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[address]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (f *Fake) GetAssetBalance(ctx context.Context, address, assetID string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.assetBalances[address+"/"+assetID]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (f *Fake) SubmitBatch(ctx context.Context, artifacts [][]byte) (string, error) {
	if f.SubmitFn != nil {
		return f.SubmitFn(ctx, artifacts)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextHandle++
	handle := fmt.Sprintf("handle-%d", f.nextHandle)
	f.submitted = append(f.submitted, artifacts)
	if f.submissions == nil {
		f.submissions = make(map[string]*rpc.SubmissionStatus)
	}
	confirm := f.AutoConfirm
	if confirm == 0 {
		confirm = 1
	}
	f.submissions[handle] = &rpc.SubmissionStatus{Handle: handle, Confirmations: confirm}
	return handle, nil
}

func (f *Fake) GetSubmission(ctx context.Context, handle string) (*rpc.SubmissionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submissions[handle], nil
}

func (f *Fake) RegisterAddresses(ctx context.Context, pubKeyHex string) (*rpc.AddressSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.addressSets[pubKeyHex]; ok {
		return set, nil
	}
	// Derive deterministic addresses so pool tests don't need to
	// pre-register every generated key.
	short := pubKeyHex
	if len(short) > 12 {
		short = short[:12]
	}
	return &rpc.AddressSet{
		Payment:     "pay-" + short,
		Inscription: "ord-" + short,
	}, nil
}

func (f *Fake) ResolveAssetAddress(ctx context.Context, assetID string) (string, error) {
	if f.ResolveFn != nil {
		return f.ResolveFn(ctx, assetID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if addr, ok := f.assetAddrs[assetID]; ok {
		return addr, nil
	}
	return "", rpc.ErrAssetUnresolved
}
