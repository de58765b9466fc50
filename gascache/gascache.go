// Package gascache implements the Gas Price Cache: a short-TTL cache of
// EIP-1559 fee suggestions, plus a bounded multi-chain variant for a
// process that signs for several chains concurrently. Logic here
// reincarnates the fee-buffering formulas the teacher repo used to keep in
// web3/fees.go against a *chain.Provider instead of a ZK-specific
// *Contracts receiver.
package gascache

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/chainsigner/signer-core/chain"
)

// DefaultTTL is the cache freshness window (spec: gasPriceCacheTtlSeconds).
const DefaultTTL = 30 * time.Second

// BufferNumerator/BufferDenominator apply the 1.10x buffer the signer
// applies to cached fee suggestions before using them in a transaction.
const (
	BufferNumerator   = 110
	BufferDenominator = 100
)

type sample struct {
	fees      chain.FeeData
	timestamp time.Time
}

// Cache is a process-local, single-slot TTL cache for one chain's fee data.
type Cache struct {
	mtx  sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	data *sample
}

// New returns an empty Cache with the default 30s TTL.
func New() *Cache {
	return &Cache{ttl: DefaultTTL, now: time.Now}
}

// Get returns the cached fee data iff it is still within TTL. A cache miss
// (including an expired entry, which is implicitly evicted) returns ok=false.
func (c *Cache) Get() (chain.FeeData, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.data == nil || c.now().Sub(c.data.timestamp) > c.ttl {
		c.data = nil
		return chain.FeeData{}, false
	}
	return c.data.fees, true
}

// Set records fees as fetched now.
func (c *Cache) Set(fees chain.FeeData) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.data = &sample{fees: fees, timestamp: c.now()}
}

// Buffered multiplies both fee fields by the 1.10x safety buffer the signer
// applies before building a transaction.
func Buffered(fees chain.FeeData) chain.FeeData {
	return chain.FeeData{
		MaxFeePerGas:         mulFrac(fees.MaxFeePerGas, BufferNumerator, BufferDenominator),
		MaxPriorityFeePerGas: mulFrac(fees.MaxPriorityFeePerGas, BufferNumerator, BufferDenominator),
	}
}

func mulFrac(v *big.Int, num, den int64) *big.Int {
	if v == nil {
		return nil
	}
	out := new(big.Int).Mul(v, big.NewInt(num))
	return out.Div(out, big.NewInt(den))
}

// FetchOrCached returns the cached fee data if fresh, otherwise fetches from
// provider, buffers it, caches the unbuffered sample, and returns the
// buffered value. Matches the signer's "cache raw, apply buffer on use"
// behavior so a later cache hit doesn't double-buffer.
func FetchOrCached(ctx context.Context, c *Cache, provider chain.Provider) (chain.FeeData, error) {
	if fees, ok := c.Get(); ok {
		return Buffered(fees), nil
	}
	fees, err := provider.FeeData(ctx)
	if err != nil {
		return chain.FeeData{}, fmt.Errorf("fetch fee data: %w", err)
	}
	if fees.MaxFeePerGas == nil || fees.MaxPriorityFeePerGas == nil {
		return chain.FeeData{}, fmt.Errorf("chain returned incomplete fee data")
	}
	c.Set(fees)
	return Buffered(fees), nil
}

// MultiChain is an LRU-bounded collection of per-chain Cache instances, for
// a process that signs across many (chain, network) pairs and should not
// grow one cache slot per chain without bound.
type MultiChain struct {
	caches *lru.Cache[string, *Cache]
}

// NewMultiChain returns a MultiChain bounded to size distinct chain keys.
func NewMultiChain(size int) (*MultiChain, error) {
	caches, err := lru.New[string, *Cache](size)
	if err != nil {
		return nil, fmt.Errorf("create gas cache LRU: %w", err)
	}
	return &MultiChain{caches: caches}, nil
}

// For returns the Cache for key (typically "chain:network"), creating one
// on first use.
func (m *MultiChain) For(key string) *Cache {
	if c, ok := m.caches.Get(key); ok {
		return c
	}
	c := New()
	m.caches.Add(key, c)
	return c
}
