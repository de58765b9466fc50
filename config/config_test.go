package config

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func validConfig() *Config {
	return &Config{
		Secrets: SecretsConfig{Backend: "static", StaticKeyHex: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"},
		Web3: Web3Config{
			Signers: []SignerTarget{
				{Chain: "polygon", Network: "testnet", ChainID: 80002, Rpc: []string{"https://rpc.example/polygon"}},
			},
		},
		Queue: QueueConfig{Backend: "memory"},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	c := qt.New(t)
	c.Assert(Validate(validConfig()), qt.IsNil)
}

func TestValidateRejectsMissingStaticKey(t *testing.T) {
	c := qt.New(t)
	cfg := validConfig()
	cfg.Secrets.StaticKeyHex = ""
	c.Assert(Validate(cfg), qt.ErrorMatches, ".*staticKeyHex.*")
}

func TestValidateRejectsNoSigners(t *testing.T) {
	c := qt.New(t)
	cfg := validConfig()
	cfg.Web3.Signers = nil
	c.Assert(Validate(cfg), qt.ErrorMatches, ".*signers entry.*")
}

func TestValidateRejectsDuplicateSignerTarget(t *testing.T) {
	c := qt.New(t)
	cfg := validConfig()
	cfg.Web3.Signers = append(cfg.Web3.Signers, cfg.Web3.Signers[0])
	c.Assert(Validate(cfg), qt.ErrorMatches, ".*duplicate.*")
}

func TestValidateRejectsSQSBackendWithoutURLs(t *testing.T) {
	c := qt.New(t)
	cfg := validConfig()
	cfg.Queue.Backend = "sqs"
	c.Assert(Validate(cfg), qt.ErrorMatches, ".*queue\\..*required.*")
}

func TestValidateRejectsUnknownSecretsBackend(t *testing.T) {
	c := qt.New(t)
	cfg := validConfig()
	cfg.Secrets.Backend = "vault"
	c.Assert(Validate(cfg), qt.ErrorMatches, ".*invalid secrets.backend.*")
}
