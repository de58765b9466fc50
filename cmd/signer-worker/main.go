// Command signer-worker runs one signing process: a Signing Worker loop per
// configured (chain, network) target, fed by a shared ingress/egress/DLQ
// queue set and backed by a shared persistent store, nonce coordinator and
// secrets source. Grounded on davinci-sequencer's main.go: loadConfig, then
// log.Init, then validateConfig, then a cancellable context driving
// setupServices/shutdownServices, then a blocking wait on an OS signal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v7"

	"github.com/chainsigner/signer-core/batch"
	"github.com/chainsigner/signer-core/chain"
	"github.com/chainsigner/signer-core/config"
	"github.com/chainsigner/signer-core/db"
	"github.com/chainsigner/signer-core/db/metadb"
	"github.com/chainsigner/signer-core/dlq"
	"github.com/chainsigner/signer-core/gascache"
	"github.com/chainsigner/signer-core/httpapi"
	"github.com/chainsigner/signer-core/log"
	"github.com/chainsigner/signer-core/nonce"
	"github.com/chainsigner/signer-core/queue"
	"github.com/chainsigner/signer-core/recovery"
	"github.com/chainsigner/signer-core/secrets"
	"github.com/chainsigner/signer-core/store"
	"github.com/chainsigner/signer-core/tokens"
	"github.com/chainsigner/signer-core/txsigner"
	"github.com/chainsigner/signer-core/web3/rpc"
	"github.com/chainsigner/signer-core/worker"
)

// Version is set at build time via -ldflags; left as a placeholder default.
var Version = "dev"

// target bundles one configured signer's wiring, built in buildTarget and
// consumed both by the worker it backs and by the startup recovery sweep.
type target struct {
	chainCtx chain.ChainContext
	provider chain.Provider
	gasCache *gascache.Cache
	signer   *txsigner.Signer
}

// Services holds every long-running component started by setupServices, in
// the order shutdownServices tears them down.
type Services struct {
	Store    *store.Store
	Pool     *rpc.Web3Pool
	Nonces   nonce.Coordinator
	Targets  []*target
	Workers  []*worker.Worker
	Recovery *recovery.Recovery
	HTTP     *httpapi.Server
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output, nil)
	log.Infow("starting signer-worker", "version", Version)

	if err := config.Validate(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := setupServices(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to setup services: %v", err)
	}
	defer shutdownServices(services)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("received signal, shutting down", "signal", sig.String())
}

// setupServices wires every component in dependency order: store, chain
// connectivity, secrets, nonce coordinator, queues, DLQ pipeline, one signer
// and worker per configured target, then runs the startup recovery sweep
// before any worker starts draining the ingress queue.
func setupServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	services := &Services{}

	log.Infow("opening persistent store", "type", cfg.Store.Type, "datadir", cfg.Store.Datadir)
	dbType, err := parseDBType(cfg.Store.Type)
	if err != nil {
		return nil, fmt.Errorf("starting persistent store: %w", err)
	}
	backingDB, err := metadb.New(dbType, cfg.Store.Datadir)
	if err != nil {
		return nil, fmt.Errorf("starting persistent store: %w", err)
	}
	services.Store = store.New(backingDB)

	secretsSource, err := buildSecretsSource(ctx, cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("starting secrets source: %w", err)
	}

	services.Nonces, err = buildNonceCoordinator(cfg.Nonce)
	if err != nil {
		return nil, fmt.Errorf("starting nonce coordinator: %w", err)
	}

	ingressQueue, egressQueue, dlqQueue, err := buildQueues(cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("starting queues: %w", err)
	}

	dlqRetries, err := buildRetryStore(cfg.DLQ)
	if err != nil {
		return nil, fmt.Errorf("starting DLQ retry store: %w", err)
	}
	dlqPipeline := dlq.New[worker.IngressMessage](dlqRetries, dlqQueue, dlq.Policy(cfg.DLQ.Policy))

	tokenCatalog := tokens.NewStaticCatalog()
	for _, t := range cfg.Web3.Tokens {
		tokenCatalog.RegisterToken(t.Chain, t.Network, t.Address, tokens.Info{Decimals: t.Decimals, Symbol: t.Symbol})
	}

	services.Pool = rpc.NewWeb3Pool()
	workerCfg := worker.Config{
		BatchEnabled:         cfg.Batch.Enabled,
		MinBatchSize:         cfg.Batch.MinBatchSize,
		BatchThreshold:       cfg.Batch.BatchThreshold,
		MinGasSavingsPercent: cfg.Batch.MinGasSavingsPercent,
		SingleTxGasEstimate:  cfg.Batch.SingleTxGasEstimate,
		BatchBaseGas:         cfg.Batch.BatchBaseGas,
		BatchPerTxGas:        cfg.Batch.BatchPerTxGas,
		Concurrency:          cfg.Worker.Concurrency,
		IterationCap:         cfg.Worker.IterationCap,
	}

	var nonceTargets []recovery.NonceTarget
	var httpStatuses []httpapi.TargetStatus
	for _, st := range cfg.Web3.Signers {
		tg, err := buildTarget(ctx, services.Pool, st, cfg.Web3.SafetyMargin, secretsSource, services.Nonces, tokenCatalog)
		if err != nil {
			return nil, fmt.Errorf("starting signer target %s/%s: %w", st.Chain, st.Network, err)
		}
		services.Targets = append(services.Targets, tg)

		w := worker.New(tg.chainCtx, tg.provider, tg.gasCache, tg.signer, services.Store, ingressQueue, egressQueue, dlqPipeline, workerCfg)
		services.Workers = append(services.Workers, w)

		nonceTargets = append(nonceTargets, recovery.NonceTarget{
			Signer:   tg.signer.Address(),
			Chain:    tg.chainCtx.Chain,
			Network:  tg.chainCtx.Network,
			Provider: tg.provider,
		})
		httpStatuses = append(httpStatuses, httpapi.TargetStatus{
			Chain:      tg.chainCtx.Chain,
			Network:    tg.chainCtx.Network,
			Signer:     tg.signer.Address().Hex(),
			DLQBackend: cfg.DLQ.Backend,
			QueueURL:   cfg.Queue.DLQURL,
		})
	}

	if cfg.HTTP.Enabled {
		services.HTTP = httpapi.New(httpStatuses)
		services.HTTP.Start(cfg.HTTP.Host, cfg.HTTP.Port)
	}

	recoveryCfg := recovery.DefaultConfig()
	recoveryCfg.NonceTargets = nonceTargets
	services.Recovery = recovery.New(services.Store, ingressQueue, egressQueue, services.Nonces, recoveryCfg)

	log.Info("running startup queue recovery sweep")
	if err := services.Recovery.Run(ctx); err != nil {
		return nil, fmt.Errorf("running startup recovery sweep: %w", err)
	}

	for _, w := range services.Workers {
		if err := w.Start(ctx); err != nil {
			return nil, fmt.Errorf("starting signing worker: %w", err)
		}
	}

	log.Info("signer-worker is running")
	return services, nil
}

// shutdownServices stops the HTTP status server, then every worker, then
// releases the signing key each target's signer holds. The persistent store
// is not closed here.
func shutdownServices(services *Services) {
	if services == nil {
		return
	}
	if services.HTTP != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := services.HTTP.Stop(shutdownCtx); err != nil {
			log.Warnw("http status server did not stop cleanly", "err", err)
		}
	}
	for _, w := range services.Workers {
		if err := w.Stop(); err != nil {
			log.Warnw("worker did not stop cleanly", "err", err)
		}
	}
	for _, tg := range services.Targets {
		tg.signer.Close()
	}
}

// buildTarget resolves one configured signer target into its chain context,
// RPC-backed provider, gas cache and initialized Transaction Signer.
func buildTarget(
	ctx context.Context,
	pool *rpc.Web3Pool,
	st config.SignerTarget,
	safetyMargin float64,
	secretsSource secrets.Source,
	nonces nonce.Coordinator,
	tokenCatalog tokens.Lookup,
) (*target, error) {
	for _, endpoint := range st.Rpc {
		if err := pool.AddEndpoint(st.ChainID, endpoint, false); err != nil {
			return nil, fmt.Errorf("add rpc endpoint %s: %w", endpoint, err)
		}
	}
	client := rpc.NewClient(pool, st.ChainID)
	provider := chain.NewRPCProvider(client)

	multicall3Addr := common.HexToAddress(st.Multicall3Address)
	chainCtx := chain.ChainContext{
		ChainID:           st.ChainID,
		Chain:             st.Chain,
		Network:           st.Network,
		Multicall3Address: multicall3Addr,
		NativeDecimals:    st.NativeDecimals,
		BlockGasLimit:     st.BlockGasLimit,
		SafetyMargin:      safetyMargin,
	}

	gasCache := gascache.New()
	planner := batch.NewPlanner(chainCtx, provider)

	signer, err := txsigner.New(ctx, st.SignerID, secretsSource, chainCtx, provider, nonces, gasCache, planner, tokenCatalog)
	if err != nil {
		return nil, fmt.Errorf("initialize transaction signer: %w", err)
	}

	return &target{chainCtx: chainCtx, provider: provider, gasCache: gasCache, signer: signer}, nil
}

func parseDBType(s string) (db.Type, error) {
	switch s {
	case "pebble":
		return db.TypePebble, nil
	case "leveldb":
		return db.TypeLevelDB, nil
	case "inmemory":
		return db.TypeInMemory, nil
	default:
		return "", fmt.Errorf("unknown store.type %q, must be pebble, leveldb or inmemory", s)
	}
}

func buildSecretsSource(ctx context.Context, cfg config.SecretsConfig) (secrets.Source, error) {
	switch cfg.Backend {
	case "static":
		return secrets.NewStaticSource(cfg.StaticKeyHex)
	case "secretsmanager":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := secretsmanager.NewFromConfig(awsCfg)
		return secrets.NewSecretsManagerSource(client, func(signerID string) string {
			return cfg.SecretIDPrefix + signerID
		}), nil
	default:
		return nil, fmt.Errorf("unknown secrets.backend %q", cfg.Backend)
	}
}

func buildNonceCoordinator(cfg config.NonceConfig) (nonce.Coordinator, error) {
	switch cfg.Backend {
	case "memory":
		return nonce.NewMemoryCoordinator(), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return nonce.NewRedisCoordinator(rdb), nil
	default:
		return nil, fmt.Errorf("unknown nonce.backend %q", cfg.Backend)
	}
}

func buildQueues(cfg config.QueueConfig) (
	queue.Queue[worker.IngressMessage],
	queue.Queue[store.SignedTransaction],
	queue.Queue[dlq.Message[worker.IngressMessage]],
	error,
) {
	switch cfg.Backend {
	case "memory":
		return queue.NewMemoryQueue[worker.IngressMessage](0),
			queue.NewMemoryQueue[store.SignedTransaction](0),
			queue.NewMemoryQueue[dlq.Message[worker.IngressMessage]](0),
			nil
	case "sqs":
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		client := sqs.NewFromConfig(awsCfg)
		return queue.NewSQSQueue[worker.IngressMessage](client, cfg.IngressURL),
			queue.NewSQSQueue[store.SignedTransaction](client, cfg.EgressURL),
			queue.NewSQSQueue[dlq.Message[worker.IngressMessage]](client, cfg.DLQURL),
			nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown queue.backend %q", cfg.Backend)
	}
}

func buildRetryStore(cfg config.DLQConfig) (dlq.RetryStore, error) {
	switch cfg.Backend {
	case "memory":
		return dlq.NewMemoryRetryStore(), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return dlq.NewRedisRetryStore(rdb), nil
	default:
		return nil, fmt.Errorf("unknown dlq.backend %q", cfg.Backend)
	}
}
