// Package config loads the signer-worker process configuration from flags,
// environment variables, and defaults, following the teacher's
// cmd/davinci-sequencer/config.go layout: a root Config struct of nested,
// mapstructure-tagged sub-structs populated by viper + pflag.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultDBType                  = "pebble"
	defaultDatadir                  = ".signer-core" // prefixed with the user's home directory
	defaultLogLevel                = "info"
	defaultLogOutput                = "stderr"
	defaultGasCacheTTLSeconds       = 30
	defaultNonceTTLSeconds          = 86_400
	defaultSafetyMargin             = 0.75
	defaultMulticallOverhead        = 35_000
	defaultBaseTransferGas          = 65_000
	defaultAdditionalGasPerCallGas  = 5_000
	defaultMaxBatchSize             = 100
	defaultMinBatchSize             = 2
	defaultBatchThreshold           = 2
	defaultMinGasSavingsPercent     = 20.0
	defaultSingleTxGasEstimate      = 65_000
	defaultBatchBaseGas             = 35_000
	defaultBatchPerTxGas            = 30_000
	defaultMaxRetries               = 5
	defaultRetryBackoffInitial      = time.Second
	defaultRetryBackoffFactor       = 2.0
	defaultRetryBackoffMax          = 4 * time.Second
	defaultConcurrency              = 10
	defaultIterationCap             = 30 * time.Second
	defaultVisibilityTimeoutSeconds = 300
	defaultLongPollSeconds          = 20
	defaultHTTPPort                 = 8080
)

// SignerTarget names one (chain, network) pair the process runs a Signing
// Worker for, along with its RPC endpoints and signing key reference.
type SignerTarget struct {
	Chain             string   `mapstructure:"chain"`
	Network           string   `mapstructure:"network"`
	ChainID           uint64   `mapstructure:"chainId"`
	Rpc               []string `mapstructure:"rpc"`
	Multicall3Address string   `mapstructure:"multicall3Address"`
	BlockGasLimit     uint64   `mapstructure:"blockGasLimit"`
	NativeDecimals    uint8    `mapstructure:"nativeDecimals"`
	SignerID          string   `mapstructure:"signerId"`
}

// TokenEntry registers one ERC-20's decimals/symbol for a (chain, network),
// the signer's static token catalog.
type TokenEntry struct {
	Chain    string `mapstructure:"chain"`
	Network  string `mapstructure:"network"`
	Address  string `mapstructure:"address"`
	Decimals uint8  `mapstructure:"decimals"`
	Symbol   string `mapstructure:"symbol"`
}

// Web3Config holds chain-facing configuration: signer targets and the shared
// safety margin used to derive each target's batch gas ceiling.
type Web3Config struct {
	SafetyMargin float64        `mapstructure:"safetyMargin"`
	Signers      []SignerTarget `mapstructure:"signers"`
	Tokens       []TokenEntry   `mapstructure:"tokens"`
}

// SecretsConfig selects where the signing private key is fetched from.
type SecretsConfig struct {
	Backend         string `mapstructure:"backend"` // "static" or "secretsmanager"
	StaticKeyHex    string `mapstructure:"staticKeyHex"`
	SecretIDPrefix  string `mapstructure:"secretIdPrefix"`
}

// QueueConfig selects the ingress/egress/DLQ transport backend and, for the
// SQS backend, the queue URLs.
type QueueConfig struct {
	Backend    string `mapstructure:"backend"` // "sqs" or "memory"
	IngressURL string `mapstructure:"ingressUrl"`
	EgressURL  string `mapstructure:"egressUrl"`
	DLQURL     string `mapstructure:"dlqUrl"`
}

// StoreConfig selects the embedded persistent-store engine.
type StoreConfig struct {
	Type    string `mapstructure:"type"` // pebble, leveldb, inmemory
	Datadir string `mapstructure:"datadir"`
}

// BatchConfig holds the Batch Planner / Signing Worker batching knobs.
type BatchConfig struct {
	Enabled              bool    `mapstructure:"enabled"`
	MinBatchSize         int     `mapstructure:"minBatchSize"`
	BatchThreshold        int     `mapstructure:"batchThreshold"`
	MinGasSavingsPercent  float64 `mapstructure:"minGasSavingsPercent"`
	SingleTxGasEstimate   uint64  `mapstructure:"singleTxGasEstimate"`
	BatchBaseGas          uint64  `mapstructure:"batchBaseGas"`
	BatchPerTxGas         uint64  `mapstructure:"batchPerTxGas"`
	MulticallOverhead     uint64  `mapstructure:"multicallOverhead"`
	BaseTransferGas       uint64  `mapstructure:"baseTransferGas"`
	AdditionalGasPerCall  uint64  `mapstructure:"additionalGasPerCall"`
	MaxBatchSize          int     `mapstructure:"maxBatchSize"`
}

// NonceConfig holds the Nonce Coordinator's backend and TTL.
type NonceConfig struct {
	Backend    string `mapstructure:"backend"` // "redis" or "memory"
	RedisAddr  string `mapstructure:"redisAddr"`
	TTLSeconds int    `mapstructure:"ttlSeconds"`
}

// GasCacheConfig holds the Gas Price Cache TTL.
type GasCacheConfig struct {
	TTLSeconds int `mapstructure:"ttlSeconds"`
}

// DLQConfig holds the DLQ Pipeline's retry policy.
type DLQConfig struct {
	Backend              string        `mapstructure:"backend"` // "redis" or "memory"
	RedisAddr            string        `mapstructure:"redisAddr"`
	Policy               string        `mapstructure:"policy"` // "always" or "on-permanent-or-max-retries"
	MaxRetries           int           `mapstructure:"maxRetries"`
	RetryBackoffInitial  time.Duration `mapstructure:"retryBackoffInitial"`
	RetryBackoffFactor   float64       `mapstructure:"retryBackoffFactor"`
	RetryBackoffMax      time.Duration `mapstructure:"retryBackoffMax"`
}

// WorkerConfig holds the Signing Worker's concurrency/iteration knobs,
// applied uniformly to every configured signer target.
type WorkerConfig struct {
	Concurrency          int           `mapstructure:"concurrency"`
	IterationCap         time.Duration `mapstructure:"iterationCap"`
	VisibilityTimeout    time.Duration `mapstructure:"visibilityTimeout"`
	LongPoll             time.Duration `mapstructure:"longPoll"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// HTTPConfig holds the operational HTTP status surface's bind address.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Config is the signer-worker process's root configuration.
type Config struct {
	Web3     Web3Config
	Secrets  SecretsConfig
	Queue    QueueConfig
	Store    StoreConfig
	Batch    BatchConfig
	Nonce    NonceConfig
	GasCache GasCacheConfig
	DLQ      DLQConfig
	Worker   WorkerConfig
	Log      LogConfig
	HTTP     HTTPConfig
	Datadir  string
}

// Load reads configuration from flags, environment variables (prefixed
// SIGNER_), and defaults, following the teacher's loadConfig shape.
func Load() (*Config, error) {
	v := viper.New()

	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	defaultDatadirPath := userHomeDir + string(os.PathSeparator) + defaultDatadir

	v.SetDefault("store.type", defaultDBType)
	v.SetDefault("store.datadir", defaultDatadirPath)
	v.SetDefault("datadir", defaultDatadirPath)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)
	v.SetDefault("web3.safetyMargin", defaultSafetyMargin)
	v.SetDefault("gascache.ttlSeconds", defaultGasCacheTTLSeconds)
	v.SetDefault("nonce.backend", "memory")
	v.SetDefault("nonce.ttlSeconds", defaultNonceTTLSeconds)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("secrets.backend", "static")
	v.SetDefault("batch.enabled", true)
	v.SetDefault("batch.minBatchSize", defaultMinBatchSize)
	v.SetDefault("batch.batchThreshold", defaultBatchThreshold)
	v.SetDefault("batch.minGasSavingsPercent", defaultMinGasSavingsPercent)
	v.SetDefault("batch.singleTxGasEstimate", defaultSingleTxGasEstimate)
	v.SetDefault("batch.batchBaseGas", defaultBatchBaseGas)
	v.SetDefault("batch.batchPerTxGas", defaultBatchPerTxGas)
	v.SetDefault("batch.multicallOverhead", defaultMulticallOverhead)
	v.SetDefault("batch.baseTransferGas", defaultBaseTransferGas)
	v.SetDefault("batch.additionalGasPerCall", defaultAdditionalGasPerCallGas)
	v.SetDefault("batch.maxBatchSize", defaultMaxBatchSize)
	v.SetDefault("dlq.backend", "memory")
	v.SetDefault("dlq.policy", "on-permanent-or-max-retries")
	v.SetDefault("dlq.maxRetries", defaultMaxRetries)
	v.SetDefault("dlq.retryBackoffInitial", defaultRetryBackoffInitial)
	v.SetDefault("dlq.retryBackoffFactor", defaultRetryBackoffFactor)
	v.SetDefault("dlq.retryBackoffMax", defaultRetryBackoffMax)
	v.SetDefault("worker.concurrency", defaultConcurrency)
	v.SetDefault("worker.iterationCap", defaultIterationCap)
	v.SetDefault("worker.visibilityTimeout", defaultVisibilityTimeoutSeconds*time.Second)
	v.SetDefault("worker.longPoll", defaultLongPollSeconds*time.Second)
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", defaultHTTPPort)

	flag.StringP("store.type", "t", defaultDBType, "persistent store engine (pebble, leveldb, inmemory)")
	flag.StringP("store.datadir", "d", defaultDatadirPath, "data directory for the persistent store")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error, fatal)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	flag.String("secrets.backend", "static", "signing key source (static, secretsmanager)")
	flag.String("secrets.staticKeyHex", "", "hex-encoded signing private key (static backend only)")
	flag.String("secrets.secretIdPrefix", "", "secret id prefix for the secretsmanager backend")
	flag.String("queue.backend", "memory", "queue transport backend (sqs, memory)")
	flag.String("queue.ingressUrl", "", "ingress queue URL (sqs backend)")
	flag.String("queue.egressUrl", "", "egress queue URL (sqs backend)")
	flag.String("queue.dlqUrl", "", "DLQ queue URL (sqs backend)")
	flag.String("nonce.backend", "memory", "nonce coordinator backend (redis, memory)")
	flag.String("nonce.redisAddr", "", "redis address for the nonce coordinator")
	flag.Int("nonce.ttlSeconds", defaultNonceTTLSeconds, "nonce slot TTL in seconds")
	flag.Int("gascache.ttlSeconds", defaultGasCacheTTLSeconds, "gas price cache TTL in seconds")
	flag.Bool("batch.enabled", true, "enable Multicall3 batching")
	flag.Int("batch.minBatchSize", defaultMinBatchSize, "minimum eligible messages before batching is considered")
	flag.Int("batch.batchThreshold", defaultBatchThreshold, "minimum same-token group size to batch")
	flag.Float64("batch.minGasSavingsPercent", defaultMinGasSavingsPercent, "minimum gas-savings percent to batch a group")
	flag.String("dlq.backend", "memory", "DLQ retry-count store backend (redis, memory)")
	flag.String("dlq.redisAddr", "", "redis address for the DLQ retry-count store")
	flag.String("dlq.policy", "on-permanent-or-max-retries", "DLQ emission policy (always, on-permanent-or-max-retries)")
	flag.Int("dlq.maxRetries", defaultMaxRetries, "retry count ceiling before DLQ emission")
	flag.Int("worker.concurrency", defaultConcurrency, "per-iteration concurrent signing limit")
	flag.Duration("worker.iterationCap", defaultIterationCap, "per-iteration time cap")
	flag.Bool("http.enabled", true, "expose the /healthz and /status HTTP surface")
	flag.String("http.host", "0.0.0.0", "HTTP status surface bind host")
	flag.Int("http.port", defaultHTTPPort, "HTTP status surface bind port")
	flag.String("config", "", "path to a config file (e.g. YAML or JSON) holding web3.signers and web3.tokens")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "signer-worker\n\n")
		fmt.Fprintf(os.Stderr, "Usage: signer-worker [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  except for dots (.) which are replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, SIGNER_SECRETS_STATICKEYHEX or SIGNER_LOG_LEVEL\n")
	}

	flag.CommandLine.SortFlags = false
	flag.Parse()

	v.SetEnvPrefix("SIGNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flag.CommandLine); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Signer targets and the token catalog have no natural flag surface (they
	// are lists of structs); they are only set from the file named by the
	// config flag, which viper's Unmarshal decodes through the mapstructure
	// tags above.

	return cfg, nil
}

// Validate enforces the required fields Load can't default: a signing key
// source, at least one configured (chain, network) signer target, and the
// queue URLs when queue.backend=sqs.
func Validate(cfg *Config) error {
	switch cfg.Secrets.Backend {
	case "static":
		if cfg.Secrets.StaticKeyHex == "" {
			return fmt.Errorf("secrets.staticKeyHex is required when secrets.backend=static")
		}
	case "secretsmanager":
		if cfg.Secrets.SecretIDPrefix == "" {
			return fmt.Errorf("secrets.secretIdPrefix is required when secrets.backend=secretsmanager")
		}
	default:
		return fmt.Errorf("invalid secrets.backend %q, must be static or secretsmanager", cfg.Secrets.Backend)
	}

	if len(cfg.Web3.Signers) == 0 {
		return fmt.Errorf("at least one web3.signers entry is required")
	}
	seen := make(map[string]bool, len(cfg.Web3.Signers))
	for _, s := range cfg.Web3.Signers {
		if s.Chain == "" || s.Network == "" {
			return fmt.Errorf("web3.signers entries must name both chain and network")
		}
		if s.ChainID == 0 {
			return fmt.Errorf("web3.signers entry %s/%s is missing chainId", s.Chain, s.Network)
		}
		if len(s.Rpc) == 0 {
			return fmt.Errorf("web3.signers entry %s/%s has no rpc endpoints", s.Chain, s.Network)
		}
		key := s.Chain + "/" + s.Network
		if seen[key] {
			return fmt.Errorf("duplicate web3.signers entry for %s", key)
		}
		seen[key] = true
	}

	if cfg.Queue.Backend == "sqs" {
		if cfg.Queue.IngressURL == "" || cfg.Queue.EgressURL == "" || cfg.Queue.DLQURL == "" {
			return fmt.Errorf("queue.ingressUrl, queue.egressUrl, and queue.dlqUrl are required when queue.backend=sqs")
		}
	}

	return nil
}
