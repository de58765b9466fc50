package rpc

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Web3Pool holds one Web3Iterator per chain ID, letting a single process
// serve signing workers for several (chain, network) pairs concurrently
// while load-balancing RPC calls across each chain's configured endpoints.
type Web3Pool struct {
	mtx       sync.RWMutex
	endpoints map[uint64]*Web3Iterator
}

// NewWeb3Pool returns an empty Web3Pool. Chains are added with AddEndpoint.
func NewWeb3Pool() *Web3Pool {
	return &Web3Pool{
		endpoints: make(map[uint64]*Web3Iterator),
	}
}

// AddEndpoint dials uri and registers it as an available endpoint for
// chainID. Archive nodes should set isArchive so callers that need
// historical state can select for it.
func (p *Web3Pool) AddEndpoint(chainID uint64, uri string, isArchive bool) error {
	rpcClient, err := gethrpc.Dial(uri)
	if err != nil {
		return fmt.Errorf("dial %s: %w", uri, err)
	}
	endpoint := &Web3Endpoint{
		ChainID:   chainID,
		URI:       uri,
		IsArchive: isArchive,
		client:    ethclient.NewClient(rpcClient),
		rpcClient: rpcClient,
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()
	iter, ok := p.endpoints[chainID]
	if !ok {
		iter = NewWeb3Iterator()
		p.endpoints[chainID] = iter
	}
	iter.Add(endpoint)
	return nil
}

// Endpoint returns the next available endpoint for chainID in round-robin
// order.
func (p *Web3Pool) Endpoint(chainID uint64) (*Web3Endpoint, error) {
	p.mtx.RLock()
	iter, ok := p.endpoints[chainID]
	p.mtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no endpoints registered for chainID %d", chainID)
	}
	return iter.Next()
}

// DisableEndpoint moves the endpoint at uri for chainID into cooldown.
func (p *Web3Pool) DisableEndpoint(chainID uint64, uri string) {
	p.mtx.RLock()
	iter, ok := p.endpoints[chainID]
	p.mtx.RUnlock()
	if !ok {
		return
	}
	iter.Disable(uri)
}

// NumberOfEndpoints returns how many endpoints are registered for chainID.
// If availableOnly is true, only non-cooldown endpoints are counted.
func (p *Web3Pool) NumberOfEndpoints(chainID uint64, availableOnly bool) int {
	p.mtx.RLock()
	iter, ok := p.endpoints[chainID]
	p.mtx.RUnlock()
	if !ok {
		return 0
	}
	if availableOnly {
		return iter.Available()
	}
	return iter.Available() + iter.Disabled()
}
