package secrets

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/ethereum/go-ethereum/crypto"
)

// SecretsManagerAPI is the subset of the AWS Secrets Manager client this
// package depends on, so tests can substitute a fake.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerSource fetches a signer's private key from AWS Secrets
// Manager. secretIDFor maps a signerID to the ARN/name of the secret holding
// its hex-encoded private key.
type SecretsManagerSource struct {
	client      SecretsManagerAPI
	secretIDFor func(signerID string) string
}

// NewSecretsManagerSource returns a Source backed by client. secretIDFor
// defaults to returning signerID unchanged when nil.
func NewSecretsManagerSource(client SecretsManagerAPI, secretIDFor func(string) string) *SecretsManagerSource {
	if secretIDFor == nil {
		secretIDFor = func(id string) string { return id }
	}
	return &SecretsManagerSource{client: client, secretIDFor: secretIDFor}
}

func (s *SecretsManagerSource) PrivateKey(ctx context.Context, signerID string) (*ecdsa.PrivateKey, error) {
	secretID := s.secretIDFor(signerID)
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch secret %q: %w", secretID, err)
	}

	var raw string
	switch {
	case out.SecretString != nil:
		raw = *out.SecretString
	case out.SecretBinary != nil:
		raw = string(out.SecretBinary)
	default:
		return nil, fmt.Errorf("secret %q has no string or binary payload", secretID)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key from secret %q: %w", secretID, err)
	}
	return key, nil
}
