// Package recovery implements Queue Recovery: a one-shot startup sweep that
// drains a bounded prefix of the egress queue and restores work that was
// signed but never confirmed broadcast before a restart, then reconciles
// every configured signer's cached nonce against the chain's view.
package recovery

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsigner/signer-core/chain"
	"github.com/chainsigner/signer-core/log"
	"github.com/chainsigner/signer-core/nonce"
	"github.com/chainsigner/signer-core/queue"
	"github.com/chainsigner/signer-core/store"
	"github.com/chainsigner/signer-core/worker"
)

// DefaultMaxDrain bounds how many egress messages a single recovery sweep
// will inspect, so a pathologically large backlog cannot stall startup.
const DefaultMaxDrain = 1000

// NonceTarget is one (signer, chain, network) pair whose cached nonce is
// reconciled against the chain's reported transaction count at startup.
type NonceTarget struct {
	Signer   common.Address
	Chain    string
	Network  string
	Provider chain.Provider
}

// Config controls one Recovery sweep.
type Config struct {
	MaxDrain     int
	ReceiveBatch int
	NonceTargets []NonceTarget
}

// DefaultConfig returns sensible startup-sweep defaults.
func DefaultConfig() Config {
	return Config{MaxDrain: DefaultMaxDrain, ReceiveBatch: 50}
}

// Recovery runs the startup queue-recovery sweep and nonce reconciliation.
type Recovery struct {
	st      *store.Store
	ingress queue.Queue[worker.IngressMessage]
	egress  queue.Queue[store.SignedTransaction]
	nonces  nonce.Coordinator
	cfg     Config
}

// New builds a Recovery sweep over st, ingress, and egress.
func New(st *store.Store, ingress queue.Queue[worker.IngressMessage], egress queue.Queue[store.SignedTransaction], nonces nonce.Coordinator, cfg Config) *Recovery {
	return &Recovery{st: st, ingress: ingress, egress: egress, nonces: nonces, cfg: cfg}
}

func isTerminal(status store.RequestStatus) bool {
	switch status {
	case store.StatusCompleted, store.StatusFailed, store.StatusCancelled:
		return true
	default:
		return false
	}
}

// Run executes the full sweep: egress drain-and-restore followed by nonce
// reconciliation. It is safe to call more than once against the same
// queue+store state; a second run finds nothing left to restore.
func (r *Recovery) Run(ctx context.Context) error {
	drained, err := r.drainEgress(ctx)
	if err != nil {
		return fmt.Errorf("drain egress queue: %w", err)
	}
	log.Infow("queue recovery drained egress backlog", "messages", drained)

	if err := r.syncNonces(ctx); err != nil {
		return fmt.Errorf("sync nonces: %w", err)
	}
	return nil
}

func (r *Recovery) drainEgress(ctx context.Context) (int, error) {
	drained := 0
	for drained < r.cfg.MaxDrain {
		remaining := r.cfg.MaxDrain - drained
		want := r.cfg.ReceiveBatch
		if want > remaining {
			want = remaining
		}
		msgs, err := r.egress.ReceiveBatch(ctx, want, 0)
		if err != nil {
			return drained, fmt.Errorf("receive egress batch: %w", err)
		}
		if len(msgs) == 0 {
			return drained, nil
		}
		for _, m := range msgs {
			if err := r.restore(ctx, m); err != nil {
				log.Warnw("failed to restore egress message during recovery", "handle", m.Handle, "err", err)
				continue
			}
		}
		drained += len(msgs)
	}
	return drained, nil
}

func (r *Recovery) restore(ctx context.Context, m queue.Message[store.SignedTransaction]) error {
	switch m.Body.TransactionType {
	case store.TxSingle:
		return r.restoreSingle(ctx, m)
	case store.TxBatch:
		return r.restoreBatch(ctx, m)
	default:
		// Unrecognized transaction type: nothing sane to restore, drop it.
		return r.egress.DeleteMessage(ctx, m.Handle)
	}
}

func (r *Recovery) restoreSingle(ctx context.Context, m queue.Message[store.SignedTransaction]) error {
	req, err := r.st.GetRequest(m.Body.RequestID)
	if err == store.ErrNotFound {
		return r.egress.DeleteMessage(ctx, m.Handle)
	}
	if err != nil {
		return fmt.Errorf("get request %s: %w", m.Body.RequestID, err)
	}
	if isTerminal(req.Status) || req.Status != store.StatusSigning {
		return r.egress.DeleteMessage(ctx, m.Handle)
	}

	if signed, sErr := r.st.GetSignedTransaction(store.TxSingle, req.RequestID); sErr == nil && signed.Status == store.StatusSigned {
		cancelErr := r.st.UpdateSignedTransaction(store.TxSingle, req.RequestID, func(st *store.SignedTransaction) error {
			st.Status = store.StatusCancelled
			st.ErrorMessage = "service restart"
			return nil
		})
		if cancelErr != nil {
			return fmt.Errorf("cancel signed transaction %s: %w", req.RequestID, cancelErr)
		}
	} else if sErr != nil && sErr != store.ErrNotFound {
		return fmt.Errorf("get signed transaction %s: %w", req.RequestID, sErr)
	}

	if err := r.st.UpdateRequest(req.RequestID, func(wr *store.WithdrawalRequest) error {
		wr.Status = store.StatusPending
		wr.ErrorMessage = ""
		return nil
	}); err != nil {
		return fmt.Errorf("reset request %s to pending: %w", req.RequestID, err)
	}

	if err := r.ingress.SendMessage(ctx, ingressMessageFor(req)); err != nil {
		return fmt.Errorf("re-enqueue request %s: %w", req.RequestID, err)
	}
	return r.egress.DeleteMessage(ctx, m.Handle)
}

func (r *Recovery) restoreBatch(ctx context.Context, m queue.Message[store.SignedTransaction]) error {
	batchID, err := strconv.ParseInt(m.Body.BatchID, 10, 64)
	if err != nil {
		return fmt.Errorf("parse batch id %q: %w", m.Body.BatchID, err)
	}

	members, err := r.st.RequestsByBatchID(batchID)
	if err != nil {
		return fmt.Errorf("load members of batch %d: %w", batchID, err)
	}
	if len(members) == 0 || allTerminal(members) {
		return r.egress.DeleteMessage(ctx, m.Handle)
	}

	if err := r.st.UpdateBatch(batchID, func(bt *store.BatchTransaction) error {
		bt.Status = store.BatchCancelled
		bt.ErrorMessage = "service restart"
		return nil
	}); err != nil {
		return fmt.Errorf("cancel batch %d: %w", batchID, err)
	}

	for _, member := range members {
		if isTerminal(member.Status) {
			continue
		}
		if err := r.st.UpdateRequest(member.RequestID, func(wr *store.WithdrawalRequest) error {
			wr.Status = store.StatusPending
			wr.BatchID = nil
			wr.Mode = store.ModeSingle
			wr.ErrorMessage = ""
			return nil
		}); err != nil {
			return fmt.Errorf("reset batch member %s to pending: %w", member.RequestID, err)
		}
		if err := r.ingress.SendMessage(ctx, ingressMessageFor(member)); err != nil {
			return fmt.Errorf("re-enqueue batch member %s: %w", member.RequestID, err)
		}
	}

	return r.egress.DeleteMessage(ctx, m.Handle)
}

func allTerminal(members []*store.WithdrawalRequest) bool {
	for _, m := range members {
		if !isTerminal(m.Status) {
			return false
		}
	}
	return true
}

func ingressMessageFor(req *store.WithdrawalRequest) worker.IngressMessage {
	return worker.IngressMessage{
		ID:           req.RequestID,
		Amount:       req.Amount,
		ToAddress:    req.ToAddress,
		TokenAddress: req.TokenAddress,
		Symbol:       req.Symbol,
		Chain:        req.Chain,
		Network:      req.Network,
		CreatedAt:    req.CreatedAt,
	}
}

func (r *Recovery) syncNonces(ctx context.Context) error {
	for _, target := range r.cfg.NonceTargets {
		chainNonce, err := target.Provider.NonceAt(ctx, target.Signer, false)
		if err != nil {
			log.Warnw("nonce reconciliation: failed to fetch chain nonce", "signer", target.Signer.Hex(), "chain", target.Chain, "network", target.Network, "err", err)
			continue
		}
		cached, ok, err := r.nonces.Get(ctx, target.Signer.Hex(), target.Chain, target.Network)
		if err != nil {
			return fmt.Errorf("get cached nonce for %s/%s/%s: %w", target.Signer.Hex(), target.Chain, target.Network, err)
		}
		if ok && chainNonce <= cached {
			continue
		}
		if err := r.nonces.Set(ctx, target.Signer.Hex(), target.Chain, target.Network, chainNonce); err != nil {
			return fmt.Errorf("set reconciled nonce for %s/%s/%s: %w", target.Signer.Hex(), target.Chain, target.Network, err)
		}
		log.Infow("reconciled nonce from chain", "signer", target.Signer.Hex(), "chain", target.Chain, "network", target.Network, "from", cached, "to", chainNonce)
	}
	return nil
}
