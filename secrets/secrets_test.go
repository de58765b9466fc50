package secrets

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	qt "github.com/frankban/quicktest"
)

func TestStaticSource(t *testing.T) {
	c := qt.New(t)

	src, err := NewStaticSource("4646464646464646464646464646464646464646464646464646464646464646")
	c.Assert(err, qt.IsNil)

	key, err := src.PrivateKey(context.Background(), "anything")
	c.Assert(err, qt.IsNil)
	c.Assert(key, qt.IsNotNil)
}

type fakeSecretsManager struct {
	value string
}

func (f fakeSecretsManager) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput,
	_ ...func(*secretsmanager.Options),
) (*secretsmanager.GetSecretValueOutput, error) {
	return &secretsmanager.GetSecretValueOutput{
		Name:         params.SecretId,
		SecretString: aws.String(f.value),
	}, nil
}

func TestSecretsManagerSource(t *testing.T) {
	c := qt.New(t)

	fake := fakeSecretsManager{value: "0x4646464646464646464646464646464646464646464646464646464646464646"}
	src := NewSecretsManagerSource(fake, func(id string) string { return "signer/" + id })

	key, err := src.PrivateKey(context.Background(), "polygon-hot-wallet")
	c.Assert(err, qt.IsNil)
	c.Assert(key, qt.IsNotNil)
}
