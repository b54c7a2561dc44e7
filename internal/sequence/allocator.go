// Package sequence provides concurrency-safe per-account sequence
// number allocation.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/midl-xyz/load-test/internal/rpc"
)

// ErrBackendUnavailable is returned when the authoritative sequence
// count cannot be fetched. Guessing a sequence number is never safe, so
// the whole allocation fails.
var ErrBackendUnavailable = errors.New("sequence backend unavailable")

// Allocator hands out unique, strictly increasing sequence numbers per
// account. All state lives behind one mutex; allocation is cheap, so a
// coarse lock is correct and sufficient.
type Allocator struct {
	mu        sync.Mutex
	client    rpc.Client
	confirmed map[string]uint64 // last backend-observed count per account
	pending   map[string]uint64 // next value to hand out per account
}

// NewAllocator creates an allocator backed by the given ledger client.
func NewAllocator(client rpc.Client) *Allocator {
	return &Allocator{
		client:    client,
		confirmed: make(map[string]uint64),
		pending:   make(map[string]uint64),
	}
}

// Allocate returns the next sequence number for an account. The backend
// is consulted on every call so sequence numbers consumed outside this
// process are detected; the cached count only ever moves forward.
func (a *Allocator) Allocate(ctx context.Context, account string) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	backendCount, err := a.client.GetSequenceCount(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	if cur, ok := a.confirmed[account]; !ok || backendCount > cur {
		a.confirmed[account] = backendCount
	}

	// External issuance can move the authoritative count past our next
	// value; never hand out anything below it.
	if next, ok := a.pending[account]; !ok || a.confirmed[account] > next {
		a.pending[account] = a.confirmed[account]
	}

	n := a.pending[account]
	a.pending[account] = n + 1
	return n, nil
}

// Pending returns the next value that would be handed out for an
// account, and whether the account has been seen.
func (a *Allocator) Pending(account string) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.pending[account]
	return n, ok
}

// Confirmed returns the last backend-observed count for an account.
func (a *Allocator) Confirmed(account string) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.confirmed[account]
	return n, ok
}
