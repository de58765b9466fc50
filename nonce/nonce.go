// Package nonce implements the Nonce Coordinator: durable, atomic,
// per-(signer, chain, network) monotonic nonce issuance with a FIFO
// reuse pool for nonces freed by failed signing attempts.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnavailable wraps any backing-store failure raised while issuing or
// reconciling a nonce. Callers must not retry in-process; the caller's
// message should be made visible again via queue retry instead.
var ErrUnavailable = errors.New("nonce store unavailable")

const (
	// DefaultTTL is the sliding TTL applied to a nonce slot on first issuance.
	DefaultTTL = 24 * time.Hour
	// DuplicateWindow is how long a used-nonce marker blocks re-issuance of
	// the same value from the same process.
	DuplicateWindow = 5 * time.Minute
)

// Coordinator is the Nonce Coordinator external interface.
type Coordinator interface {
	// Initialize seeds the slot to max(existing, networkNonce) and refreshes
	// its TTL. Called once at signer startup.
	Initialize(ctx context.Context, signer, chain, network string, networkNonce uint64) error
	// GetAndIncrement drains the reuse pool first; only when it is empty
	// does it atomically increment the monotonic counter and return the
	// pre-increment value.
	GetAndIncrement(ctx context.Context, signer, chain, network string) (uint64, error)
	// Set overwrites the slot, refreshing its TTL. Used for reconciliation
	// when the network's reported nonce has advanced past the cache.
	Set(ctx context.Context, signer, chain, network string, n uint64) error
	// Get returns the current slot value, or (0, false, nil) if unset.
	Get(ctx context.Context, signer, chain, network string) (n uint64, ok bool, err error)
	// Clear deletes the slot entirely.
	Clear(ctx context.Context, signer, chain, network string) error
	// IsNonceDuplicate reports whether n was already marked used within
	// DuplicateWindow for this signer, setting the marker on a miss.
	IsNonceDuplicate(ctx context.Context, signer, chain, network string, n uint64) (bool, error)
	// ReturnNonce pushes n onto the FIFO reuse pool for (signer, chain,
	// network), to be drained by a future GetAndIncrement before the
	// counter advances.
	ReturnNonce(ctx context.Context, signer, chain, network string, n uint64) error
}

// slotKey returns the canonical key for a nonce slot:
// nonce:{chain}:{network}:{lowercase(signer)}
func slotKey(chain, network, signer string) string {
	return fmt.Sprintf("nonce:%s:%s:%s", chain, network, strings.ToLower(signer))
}

func usedKey(chain, network, signer string, n uint64) string {
	return fmt.Sprintf("used_nonce:%s:%s:%s:%d", chain, network, strings.ToLower(signer), n)
}

func poolKey(chain, network, signer string) string {
	return fmt.Sprintf("nonce_pool:%s:%s:%s", chain, network, strings.ToLower(signer))
}
