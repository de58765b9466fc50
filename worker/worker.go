// Package worker implements the Signing Worker: a long-running loop keyed to
// one (chain, network) pair that drains the ingress queue, validates and
// groups withdrawal requests, and drives the Transaction Signer for both
// individual and Multicall3-batched signing, persisting every status
// transition and emitting signed transactions to the egress queue. Grounded
// on sequencer.Sequencer's Start/Stop/ctx+cancel shape and its ballot
// processor's select-driven drain loop, generalized from proof aggregation
// to queue-backed transaction signing with bounded per-iteration
// concurrency (golang.org/x/sync/errgroup + semaphore.Weighted).
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/chainsigner/signer-core/batch"
	"github.com/chainsigner/signer-core/chain"
	"github.com/chainsigner/signer-core/classify"
	"github.com/chainsigner/signer-core/dlq"
	"github.com/chainsigner/signer-core/gascache"
	"github.com/chainsigner/signer-core/log"
	"github.com/chainsigner/signer-core/queue"
	"github.com/chainsigner/signer-core/store"
	"github.com/chainsigner/signer-core/txsigner"
)

// addressPattern matches a 20-byte hex address; structural validation only.
var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Config holds the Signing Worker's batching thresholds and loop bounds.
type Config struct {
	BatchEnabled         bool
	MinBatchSize         int
	BatchThreshold       int
	MinGasSavingsPercent float64
	SingleTxGasEstimate  uint64
	BatchBaseGas         uint64
	BatchPerTxGas        uint64
	// Concurrency bounds both ReceiveBatch's max and the number of messages
	// signed concurrently within one iteration.
	Concurrency int
	// IterationCap bounds one iteration's wall-clock time, including any
	// concurrent signing work.
	IterationCap time.Duration
}

// DefaultConfig returns the spec's default thresholds.
func DefaultConfig() Config {
	return Config{
		BatchEnabled:         true,
		MinBatchSize:         2,
		BatchThreshold:       2,
		MinGasSavingsPercent: 20,
		SingleTxGasEstimate:  65_000,
		BatchBaseGas:         35_000,
		BatchPerTxGas:        30_000,
		Concurrency:          10,
		IterationCap:         30 * time.Second,
	}
}

// IngressMessage is the ingress queue's wire format for one withdrawal
// request, before any structural validation or persistence.
type IngressMessage struct {
	ID           string    `json:"id"`
	Amount       string    `json:"amount"`
	ToAddress    string    `json:"toAddress"`
	TokenAddress string    `json:"tokenAddress"`
	Symbol       string    `json:"symbol"`
	Chain        string    `json:"chain"`
	Network      string    `json:"network"`
	CreatedAt    time.Time `json:"createdAt"`
}

// workItem pairs one valid queue message with its durable request record,
// carried through the try-count split and batch decision.
type workItem struct {
	msg queue.Message[IngressMessage]
	req *store.WithdrawalRequest
}

// Worker drives the signing loop for one (chain, network) pair.
type Worker struct {
	chainCtx chain.ChainContext
	provider chain.Provider
	gasCache *gascache.Cache
	signer   *txsigner.Signer
	st       *store.Store
	ingress  queue.Queue[IngressMessage]
	egress   queue.Queue[store.SignedTransaction]
	dlq      *dlq.Pipeline[IngressMessage]
	cfg      Config

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Worker for one (chain, network) pair. signer must already be
// initialized (txsigner.New) for the same chainCtx.
func New(
	chainCtx chain.ChainContext,
	provider chain.Provider,
	gasCache *gascache.Cache,
	signer *txsigner.Signer,
	st *store.Store,
	ingress queue.Queue[IngressMessage],
	egress queue.Queue[store.SignedTransaction],
	dlqPipeline *dlq.Pipeline[IngressMessage],
	cfg Config,
) *Worker {
	return &Worker{
		chainCtx: chainCtx,
		provider: provider,
		gasCache: gasCache,
		signer:   signer,
		st:       st,
		ingress:  ingress,
		egress:   egress,
		dlq:      dlqPipeline,
		cfg:      cfg,
	}
}

// Start launches the worker loop in the background, deriving its lifetime
// from ctx. Returns an error if the worker is already running.
func (w *Worker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return fmt.Errorf("worker for %s/%s already started", w.chainCtx.Chain, w.chainCtx.Network)
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx)
	return nil
}

// Stop cancels the loop and waits for the current iteration (capped at
// Config.IterationCap) to finish. Safe to call multiple times.
func (w *Worker) Stop() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	<-w.done
	w.cancel = nil
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	log.Infow("signing worker started", "chain", w.chainCtx.Chain, "network", w.chainCtx.Network)
	for {
		select {
		case <-ctx.Done():
			log.Infow("signing worker stopped", "chain", w.chainCtx.Chain, "network", w.chainCtx.Network)
			return
		default:
		}

		iterCtx, cancel := context.WithTimeout(ctx, w.cfg.IterationCap)
		if err := w.iterate(iterCtx); err != nil {
			log.Errorw(err, "signing worker iteration failed")
		}
		cancel()
	}
}

// iterate runs one pass of the loop: gas-price precheck, receive, validate,
// try-count split, batch decision, and concurrent signing. The outer loop
// never overlaps itself; this call returns once all work it started has
// completed.
func (w *Worker) iterate(ctx context.Context) error {
	if !w.ensureGasSample(ctx) {
		return nil
	}

	msgs, err := w.ingress.ReceiveBatch(ctx, w.cfg.Concurrency, queue.DefaultLongPoll)
	if err != nil {
		return fmt.Errorf("receive batch: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	var valid []queue.Message[IngressMessage]
	for _, m := range msgs {
		if reasons := w.validate(m.Body); len(reasons) > 0 {
			w.failValidation(ctx, m, reasons)
			continue
		}
		valid = append(valid, m)
	}
	if len(valid) == 0 {
		return nil
	}

	var solo, eligible []workItem
	for _, m := range valid {
		req, err := w.ensureRequest(m.Body)
		if err != nil {
			log.Errorw(err, "failed to load/create withdrawal request", "id", m.Body.ID)
			continue
		}
		item := workItem{msg: m, req: req}
		if req.TryCount > 0 {
			solo = append(solo, item)
		} else {
			eligible = append(eligible, item)
		}
	}

	toBatch, toSolo := w.decideBatching(eligible)
	solo = append(solo, toSolo...)

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(w.cfg.Concurrency))
	for _, item := range solo {
		item := item
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			w.signIndividual(gctx, item)
			return nil
		})
	}
	_ = g.Wait()

	for token, group := range toBatch {
		w.signBatchGroup(ctx, token, group)
	}
	return nil
}

// ensureGasSample implements the spec's pre-receive pricing guard: a cache
// hit is sufficient; a miss fetches fresh fee data and skips the iteration
// entirely if either field comes back null, so the worker never pulls
// messages it cannot price.
func (w *Worker) ensureGasSample(ctx context.Context) bool {
	if _, ok := w.gasCache.Get(); ok {
		return true
	}
	fees, err := w.provider.FeeData(ctx)
	if err != nil {
		log.Warnw("skipping iteration: failed to fetch fee data", "err", err.Error())
		return false
	}
	if fees.MaxFeePerGas == nil || fees.MaxPriorityFeePerGas == nil {
		log.Warnw("skipping iteration: chain returned incomplete fee data")
		return false
	}
	w.gasCache.Set(fees)
	return true
}

// validate runs the worker's structural checks: supported network, address
// shape, positive integer amount. It never performs an RPC call.
func (w *Worker) validate(msg IngressMessage) []string {
	var reasons []string
	if msg.Chain != w.chainCtx.Chain || msg.Network != w.chainCtx.Network {
		reasons = append(reasons, fmt.Sprintf("unsupported network %s/%s", msg.Chain, msg.Network))
	}
	if !addressPattern.MatchString(msg.ToAddress) {
		reasons = append(reasons, "malformed destination address")
	}
	if msg.TokenAddress != "" && !addressPattern.MatchString(msg.TokenAddress) {
		reasons = append(reasons, "malformed token address")
	}
	if amount, ok := new(big.Int).SetString(msg.Amount, 10); !ok || amount.Sign() <= 0 {
		reasons = append(reasons, "amount must be a positive integer")
	}
	return reasons
}

// failValidation transitions a structurally invalid message straight to
// FAILED and deletes it from the ingress queue. Per the spec's error table,
// validation failures never go through the DLQ Pipeline.
func (w *Worker) failValidation(ctx context.Context, m queue.Message[IngressMessage], reasons []string) {
	errMsg := strings.Join(reasons, "; ")
	log.Warnw("withdrawal request failed structural validation", "id", m.Body.ID, "reasons", errMsg)

	if _, err := w.st.GetRequest(m.Body.ID); errors.Is(err, store.ErrNotFound) {
		_ = w.st.PutRequest(&store.WithdrawalRequest{
			RequestID:    m.Body.ID,
			ToAddress:    m.Body.ToAddress,
			TokenAddress: m.Body.TokenAddress,
			Amount:       m.Body.Amount,
			Symbol:       m.Body.Symbol,
			Chain:        m.Body.Chain,
			Network:      m.Body.Network,
			Status:       store.StatusFailed,
			ErrorMessage: errMsg,
			CreatedAt:    m.Body.CreatedAt,
		})
	} else {
		if err := w.st.UpdateRequest(m.Body.ID, func(r *store.WithdrawalRequest) error {
			r.Status = store.StatusFailed
			r.ErrorMessage = errMsg
			return nil
		}); err != nil {
			log.Errorw(err, "failed to mark invalid request FAILED", "id", m.Body.ID)
		}
	}
	if err := w.ingress.DeleteMessage(ctx, m.Handle); err != nil {
		log.Warnw("failed to delete invalid message from ingress queue", "id", m.Body.ID, "err", err.Error())
	}
}

// ensureRequest loads the durable record for msg, creating a fresh PENDING
// one on first sight. A message already seen (e.g. redelivered after a
// failed attempt) returns its existing record, tryCount included.
func (w *Worker) ensureRequest(msg IngressMessage) (*store.WithdrawalRequest, error) {
	req, err := w.st.GetRequest(msg.ID)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	req = &store.WithdrawalRequest{
		RequestID:    msg.ID,
		ToAddress:    msg.ToAddress,
		TokenAddress: msg.TokenAddress,
		Amount:       msg.Amount,
		Symbol:       msg.Symbol,
		Chain:        msg.Chain,
		Network:      msg.Network,
		Status:       store.StatusPending,
		Mode:         store.ModeSingle,
		CreatedAt:    msg.CreatedAt,
	}
	if err := w.st.PutRequest(req); err != nil {
		return nil, err
	}
	return req, nil
}

// decideBatching groups eligible items by lowercase token address and
// applies the spec's batch decision: enabled, minimum pool size, per-group
// threshold, and a minimum expected gas-savings percentage against signing
// each member individually. Native transfers (empty token address) never
// batch. Groups that fail any check fall back to the solo slice.
func (w *Worker) decideBatching(items []workItem) (map[string][]workItem, []workItem) {
	if !w.cfg.BatchEnabled || len(items) < w.cfg.MinBatchSize {
		return nil, items
	}

	byToken := make(map[string][]workItem)
	for _, it := range items {
		byToken[strings.ToLower(it.req.TokenAddress)] = append(byToken[strings.ToLower(it.req.TokenAddress)], it)
	}

	batches := make(map[string][]workItem)
	var solo []workItem
	for token, group := range byToken {
		if token == "" || len(group) < w.cfg.BatchThreshold {
			solo = append(solo, group...)
			continue
		}
		n := uint64(len(group))
		singleTotal := n * w.cfg.SingleTxGasEstimate
		batchTotal := w.cfg.BatchBaseGas + n*w.cfg.BatchPerTxGas
		if singleTotal == 0 || batchTotal >= singleTotal {
			solo = append(solo, group...)
			continue
		}
		savings := float64(singleTotal-batchTotal) / float64(singleTotal) * 100
		if savings < w.cfg.MinGasSavingsPercent {
			solo = append(solo, group...)
			continue
		}
		batches[token] = group
	}
	return batches, solo
}

// signIndividual drives the single-transfer signing path for one item:
// tryCount increment, PENDING->SIGNING, SignSingle, persistence, egress
// emission, and source deletion. Any failure is routed through the DLQ
// Pipeline via handleSigningFailure.
func (w *Worker) signIndividual(ctx context.Context, item workItem) {
	req := item.req
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		log.Errorw(fmt.Errorf("amount %q is not a valid integer", req.Amount), "unexpected amount parse failure past validation", "id", req.RequestID)
		return
	}

	newTryCount := req.TryCount + 1
	if err := w.st.UpdateRequest(req.RequestID, func(r *store.WithdrawalRequest) error {
		r.Status = store.StatusSigning
		r.Mode = store.ModeSingle
		r.TryCount = newTryCount
		return nil
	}); err != nil {
		log.Errorw(err, "failed to transition request to SIGNING", "id", req.RequestID)
		return
	}

	signed, err := w.signer.SignSingle(ctx, txsigner.SingleRequest{
		RequestID:    req.RequestID,
		ToAddress:    req.ToAddress,
		TokenAddress: req.TokenAddress,
		Amount:       amount,
	})
	if err != nil {
		w.handleSigningFailure(ctx, item, err)
		return
	}
	signed.TryCount = newTryCount

	if err := w.st.PutSignedTransaction(signed); err != nil {
		log.Errorw(err, "failed to persist signed transaction", "id", req.RequestID)
		return
	}
	if err := w.st.UpdateRequest(req.RequestID, func(r *store.WithdrawalRequest) error {
		r.Status = store.StatusSigned
		return nil
	}); err != nil {
		log.Errorw(err, "failed to transition request to SIGNED", "id", req.RequestID)
	}
	if err := w.egress.SendMessage(ctx, *signed); err != nil {
		log.Errorw(err, "failed to emit signed transaction to egress queue", "id", req.RequestID)
		return
	}
	if err := w.ingress.DeleteMessage(ctx, item.msg.Handle); err != nil {
		log.Warnw("failed to delete signed message from ingress queue", "id", req.RequestID, "err", err.Error())
	}
}

// handleSigningFailure classifies cause, hands it to the DLQ Pipeline, and
// reflects the outcome in the request's store status: FAILED on DLQ
// emission, back to PENDING (tryCount already incremented, so the next
// attempt takes the single-sign path) on a plain retry.
func (w *Worker) handleSigningFailure(ctx context.Context, item workItem, cause error) {
	req := item.req
	classification := classify.Classify(cause)

	outcome, err := w.dlq.Handle(ctx, req.RequestID, item.msg.Body, cause)
	if err != nil {
		log.Warnw("dlq handling error", "id", req.RequestID, "err", err.Error())
	}

	switch outcome {
	case dlq.OutcomeDeleted:
		if err := w.st.UpdateRequest(req.RequestID, func(r *store.WithdrawalRequest) error {
			r.Status = store.StatusFailed
			r.ErrorMessage = classification.Message
			return nil
		}); err != nil {
			log.Errorw(err, "failed to transition request to FAILED", "id", req.RequestID)
		}
		if err := w.ingress.DeleteMessage(ctx, item.msg.Handle); err != nil {
			log.Warnw("failed to delete message after dlq emission", "id", req.RequestID, "err", err.Error())
		}
	case dlq.OutcomeDLQSendFailed:
		log.Warnw("dlq send failed, leaving message for redelivery", "id", req.RequestID)
	case dlq.OutcomeRetry:
		if err := w.st.UpdateRequest(req.RequestID, func(r *store.WithdrawalRequest) error {
			r.Status = store.StatusPending
			r.ErrorMessage = classification.Message
			return nil
		}); err != nil {
			log.Errorw(err, "failed to reset request to PENDING after retry-eligible failure", "id", req.RequestID)
		}
	}
}

// signBatchGroup drives one token group through the Batch Planner and
// Transaction Signer: mint a batch id, persist a PENDING BatchTransaction,
// transition members to SIGNING, call SignBatch, and persist the result.
// When the planner further splits the group, every returned
// SignedTransaction is persisted and emitted under its own child id; the one
// BatchTransaction row is updated with the first child's tx fields, which is
// a deliberate simplification given the store's one-row-per-batch schema --
// the authoritative per-child data already lives in the SignedTransaction
// records the egress queue actually carries.
func (w *Worker) signBatchGroup(ctx context.Context, token string, items []workItem) {
	batchID, err := w.st.NextBatchID()
	if err != nil {
		log.Errorw(err, "failed to mint batch id")
		return
	}
	log.Infow("batching withdrawal requests", "token", token, "count", len(items), "batchId", batchID)

	transfers := make([]batch.Transfer, 0, len(items))
	totalAmount := new(big.Int)
	for _, it := range items {
		amount, ok := new(big.Int).SetString(it.req.Amount, 10)
		if !ok {
			log.Errorw(fmt.Errorf("amount %q is not a valid integer", it.req.Amount), "unexpected amount parse failure past validation", "id", it.req.RequestID)
			return
		}
		totalAmount.Add(totalAmount, amount)
		transfers = append(transfers, batch.Transfer{
			TransactionID: it.req.RequestID,
			To:            common.HexToAddress(it.req.ToAddress),
			Token:         common.HexToAddress(it.req.TokenAddress),
			Amount:        amount,
		})
	}

	bt := &store.BatchTransaction{
		ID:               batchID,
		MulticallAddress: w.chainCtx.Multicall3Address.Hex(),
		TotalRequests:    len(items),
		TotalAmount:      totalAmount.String(),
		Symbol:           items[0].req.Symbol,
		ChainID:          w.chainCtx.ChainID,
		Status:           store.BatchPending,
	}
	if err := w.st.PutBatch(bt); err != nil {
		log.Errorw(err, "failed to persist batch transaction row", "batchId", batchID)
		return
	}

	for _, it := range items {
		bid := batchID
		if err := w.st.UpdateRequest(it.req.RequestID, func(r *store.WithdrawalRequest) error {
			r.Status = store.StatusSigning
			r.Mode = store.ModeBatch
			r.BatchID = &bid
			r.TryCount++
			return nil
		}); err != nil {
			log.Errorw(err, "failed to transition member request to SIGNING", "id", it.req.RequestID, "batchId", batchID)
		}
	}

	signed, err := w.signer.SignBatch(ctx, txsigner.BatchRequest{
		BatchID:   strconv.FormatInt(batchID, 10),
		Transfers: transfers,
	})
	if err != nil {
		w.revertBatch(ctx, batchID, items, err)
		return
	}

	for _, st0 := range signed {
		if err := w.st.PutSignedTransaction(st0); err != nil {
			log.Errorw(err, "failed to persist batch signed transaction", "batchId", st0.BatchID)
		}
		if err := w.egress.SendMessage(ctx, *st0); err != nil {
			log.Errorw(err, "failed to emit batch signed transaction to egress queue", "batchId", st0.BatchID)
		}
	}

	first := signed[0]
	if err := w.st.UpdateBatch(batchID, func(b *store.BatchTransaction) error {
		b.Status = store.BatchSigned
		b.Nonce = first.Nonce
		b.GasLimit = first.GasLimit
		b.MaxFeePerGas = first.MaxFeePerGas
		b.MaxPriorityFeePerGas = first.MaxPriorityFeePerGas
		b.TxHash = first.TxHash
		return nil
	}); err != nil {
		log.Errorw(err, "failed to transition batch to SIGNED", "batchId", batchID)
	}

	for _, it := range items {
		if err := w.st.UpdateRequest(it.req.RequestID, func(r *store.WithdrawalRequest) error {
			r.Status = store.StatusSigned
			return nil
		}); err != nil {
			log.Errorw(err, "failed to transition member request to SIGNED", "id", it.req.RequestID)
		}
		if err := w.ingress.DeleteMessage(ctx, it.msg.Handle); err != nil {
			log.Warnw("failed to delete signed member message from ingress queue", "id", it.req.RequestID, "err", err.Error())
		}
	}
}

// revertBatch implements the batch-revert open-question resolution: classify
// the batch-level error before reverting. A permanent category fails every
// member outright (no retry is possible, so leaving the source message in
// the queue would only spin); a retry-eligible category rewinds members to
// PENDING/SINGLE and leaves their source messages for redelivery, so
// tryCount > 0 routes them to the single-sign path next time.
func (w *Worker) revertBatch(ctx context.Context, batchID int64, items []workItem, cause error) {
	classification := classify.Classify(cause)
	permanent := classify.IsPermanent(classification.Category)

	log.Warnw("batch signing failed, reverting",
		"batchId", batchID, "category", string(classification.Category), "permanent", permanent, "err", cause.Error())

	if err := w.st.UpdateBatch(batchID, func(b *store.BatchTransaction) error {
		b.Status = store.BatchFailed
		b.ErrorMessage = classification.Message
		return nil
	}); err != nil {
		log.Errorw(err, "failed to transition batch to FAILED", "batchId", batchID)
	}

	for _, it := range items {
		if permanent {
			if err := w.st.UpdateRequest(it.req.RequestID, func(r *store.WithdrawalRequest) error {
				r.Status = store.StatusFailed
				r.ErrorMessage = classification.Message
				return nil
			}); err != nil {
				log.Errorw(err, "failed to transition member request to FAILED", "id", it.req.RequestID)
			}
			if err := w.ingress.DeleteMessage(ctx, it.msg.Handle); err != nil {
				log.Warnw("failed to delete member message after permanent batch failure", "id", it.req.RequestID, "err", err.Error())
			}
			continue
		}

		if err := w.st.UpdateRequest(it.req.RequestID, func(r *store.WithdrawalRequest) error {
			r.Status = store.StatusPending
			r.Mode = store.ModeSingle
			r.BatchID = nil
			r.ErrorMessage = classification.Message
			return nil
		}); err != nil {
			log.Errorw(err, "failed to revert member request to PENDING", "id", it.req.RequestID)
		}
	}
}
