// Package tokens implements the Token Catalog external interface: mapping a
// (chain, network, address) tuple to the decimals and symbol needed to scale
// withdrawal amounts into base units.
package tokens

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Info is what the catalog knows about one token on one network.
type Info struct {
	Decimals uint8
	Symbol   string
}

// key identifies a token within the catalog.
type key struct {
	Chain   string
	Network string
	Address string // lowercased hex
}

// Lookup is the Token Catalog external interface.
type Lookup interface {
	// Decimals returns the base-unit scaling exponent for address on
	// (chain, network). Empty address denotes the native asset.
	Decimals(ctx context.Context, chain, network, address string) (uint8, error)
	// Symbol returns the ticker symbol for address on (chain, network).
	Symbol(ctx context.Context, chain, network, address string) (string, error)
}

// StaticCatalog is a Lookup backed by a fixed, config-loaded map. It never
// calls out to chain RPC: token lists for a custodial withdrawal service are
// curated, not discovered on the fly.
type StaticCatalog struct {
	mtx     sync.RWMutex
	entries map[key]Info
	natives map[string]Info // chain:network -> native asset info
}

// NewStaticCatalog returns an empty catalog. Use RegisterToken/RegisterNative
// to populate it, typically from configuration at startup.
func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{
		entries: make(map[key]Info),
		natives: make(map[string]Info),
	}
}

// RegisterToken adds or replaces the catalog entry for an ERC-20 token.
func (c *StaticCatalog) RegisterToken(chain, network, address string, info Info) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.entries[key{chain, network, strings.ToLower(address)}] = info
}

// RegisterNative adds or replaces the native-asset info for (chain, network).
func (c *StaticCatalog) RegisterNative(chain, network string, info Info) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.natives[chain+":"+network] = info
}

func (c *StaticCatalog) lookup(chain, network, address string) (Info, bool) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	if address == "" {
		info, ok := c.natives[chain+":"+network]
		return info, ok
	}
	info, ok := c.entries[key{chain, network, strings.ToLower(address)}]
	return info, ok
}

func (c *StaticCatalog) Decimals(_ context.Context, chain, network, address string) (uint8, error) {
	info, ok := c.lookup(chain, network, address)
	if !ok {
		return 0, fmt.Errorf("token %s not registered for %s/%s", address, chain, network)
	}
	return info.Decimals, nil
}

func (c *StaticCatalog) Symbol(_ context.Context, chain, network, address string) (string, error) {
	info, ok := c.lookup(chain, network, address)
	if !ok {
		return "", fmt.Errorf("token %s not registered for %s/%s", address, chain, network)
	}
	return info.Symbol, nil
}

// CachedLookup wraps a Lookup with a bounded LRU so repeated worker
// iterations don't re-hit a slower backing catalog (e.g. one backed by a
// remote config service) for the same handful of tokens every batch.
type CachedLookup struct {
	backend Lookup
	cache   *lru.Cache[key, Info]
}

// NewCachedLookup wraps backend with an LRU of the given size.
func NewCachedLookup(backend Lookup, size int) (*CachedLookup, error) {
	cache, err := lru.New[key, Info](size)
	if err != nil {
		return nil, fmt.Errorf("create token lookup cache: %w", err)
	}
	return &CachedLookup{backend: backend, cache: cache}, nil
}

func (c *CachedLookup) info(ctx context.Context, chain, network, address string) (Info, error) {
	k := key{chain, network, strings.ToLower(address)}
	if info, ok := c.cache.Get(k); ok {
		return info, nil
	}
	decimals, err := c.backend.Decimals(ctx, chain, network, address)
	if err != nil {
		return Info{}, err
	}
	symbol, err := c.backend.Symbol(ctx, chain, network, address)
	if err != nil {
		return Info{}, err
	}
	info := Info{Decimals: decimals, Symbol: symbol}
	c.cache.Add(k, info)
	return info, nil
}

func (c *CachedLookup) Decimals(ctx context.Context, chain, network, address string) (uint8, error) {
	info, err := c.info(ctx, chain, network, address)
	if err != nil {
		return 0, err
	}
	return info.Decimals, nil
}

func (c *CachedLookup) Symbol(ctx context.Context, chain, network, address string) (string, error) {
	info, err := c.info(ctx, chain, network, address)
	if err != nil {
		return "", err
	}
	return info.Symbol, nil
}
