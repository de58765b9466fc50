// Package secrets implements the Secrets provider external interface: the
// signing private key is fetched on demand and held in memory only for as
// long as the Transaction Signer needs it.
package secrets

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Source supplies the private key for a named signer. Implementations must
// not cache the decoded key beyond the caller's lifetime; callers are
// responsible for wiping it (see Wipe) once the signer shuts down.
type Source interface {
	PrivateKey(ctx context.Context, signerID string) (*ecdsa.PrivateKey, error)
}

// Wipe zeroes the D value of key in place. Best-effort: Go's garbage
// collector may have already copied the bytes elsewhere, but this closes the
// obvious window where the key sits untouched in memory after use.
func Wipe(key *ecdsa.PrivateKey) {
	if key == nil || key.D == nil {
		return
	}
	bits := key.D.Bits()
	for i := range bits {
		bits[i] = 0
	}
}

// StaticSource returns a single, fixed private key regardless of signerID.
// Intended for local development and tests; production deployments should
// use secretsmanager.Source.
type StaticSource struct {
	key *ecdsa.PrivateKey
}

// NewStaticSource parses hexKey (no 0x prefix required) into a StaticSource.
func NewStaticSource(hexKey string) (*StaticSource, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &StaticSource{key: key}, nil
}

func (s *StaticSource) PrivateKey(_ context.Context, _ string) (*ecdsa.PrivateKey, error) {
	return s.key, nil
}
