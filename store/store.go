package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/chainsigner/signer-core/db"
	"github.com/chainsigner/signer-core/db/prefixeddb"
)

var (
	requestPrefix = []byte("req:")
	batchPrefix   = []byte("batch:")
	signedPrefix  = []byte("signed:")
	counterKey    = []byte("counter:batch_id")
)

// ErrNotFound is returned when a lookup by id finds nothing.
var ErrNotFound = db.ErrKeyNotFound

// Store is the persistent-store external collaborator: CRUD plus atomic
// status transitions for the three domain records, backed by any
// db.Database implementation.
type Store struct {
	requests db.Database
	batches  db.Database
	signed   db.Database
	root     db.Database

	mtx sync.Mutex // serializes NextBatchID read-modify-write
}

// New wraps root with per-record-type prefixed namespaces.
func New(root db.Database) *Store {
	return &Store{
		requests: prefixeddb.NewPrefixedDatabase(root, requestPrefix),
		batches:  prefixeddb.NewPrefixedDatabase(root, batchPrefix),
		signed:   prefixeddb.NewPrefixedDatabase(root, signedPrefix),
		root:     root,
	}
}

// --- WithdrawalRequest ---

// PutRequest inserts or overwrites req.
func (s *Store) PutRequest(req *WithdrawalRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal withdrawal request: %w", err)
	}
	tx := s.requests.WriteTx()
	defer tx.Discard()
	if err := tx.Set([]byte(req.RequestID), data); err != nil {
		return fmt.Errorf("put withdrawal request %s: %w", req.RequestID, err)
	}
	return tx.Commit()
}

// GetRequest returns the request by id, or ErrNotFound.
func (s *Store) GetRequest(id string) (*WithdrawalRequest, error) {
	data, err := s.requests.Get([]byte(id))
	if err != nil {
		return nil, err
	}
	var req WithdrawalRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("unmarshal withdrawal request %s: %w", id, err)
	}
	return &req, nil
}

// DeleteRequest removes the request record, if present.
func (s *Store) DeleteRequest(id string) error {
	tx := s.requests.WriteTx()
	defer tx.Discard()
	if err := tx.Delete([]byte(id)); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateRequest reads the current record, applies mutate, and writes it back
// atomically within one WriteTx, so a worker and the recovery sweep never
// interleave on the same request.
func (s *Store) UpdateRequest(id string, mutate func(*WithdrawalRequest) error) error {
	tx := s.requests.WriteTx()
	defer tx.Discard()

	data, err := tx.Get([]byte(id))
	if err != nil {
		return err
	}
	var req WithdrawalRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("unmarshal withdrawal request %s: %w", id, err)
	}
	if err := mutate(&req); err != nil {
		return err
	}
	out, err := json.Marshal(&req)
	if err != nil {
		return fmt.Errorf("marshal withdrawal request %s: %w", id, err)
	}
	if err := tx.Set([]byte(id), out); err != nil {
		return err
	}
	return tx.Commit()
}

// RequestsByBatchID returns every request currently tagged with batchID.
// Used by Queue Recovery and batch-revert handling; acceptable as a linear
// scan since it only runs at startup or on a single batch's failure path,
// never in the hot per-message loop.
func (s *Store) RequestsByBatchID(batchID int64) ([]*WithdrawalRequest, error) {
	var out []*WithdrawalRequest
	err := s.requests.Iterate(nil, func(_, v []byte) bool {
		var req WithdrawalRequest
		if jsonErr := json.Unmarshal(v, &req); jsonErr != nil {
			return true
		}
		if req.BatchID != nil && *req.BatchID == batchID {
			out = append(out, &req)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan requests by batch id %d: %w", batchID, err)
	}
	return out, nil
}

// --- BatchTransaction ---

// NextBatchID returns a fresh, monotonically increasing batch id.
func (s *Store) NextBatchID() (int64, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	tx := s.root.WriteTx()
	defer tx.Discard()

	var next int64 = 1
	data, err := tx.Get(counterKey)
	if err == nil {
		parsed, perr := strconv.ParseInt(string(data), 10, 64)
		if perr != nil {
			return 0, fmt.Errorf("parse batch id counter: %w", perr)
		}
		next = parsed + 1
	} else if err != db.ErrKeyNotFound {
		return 0, fmt.Errorf("read batch id counter: %w", err)
	}

	if err := tx.Set(counterKey, []byte(strconv.FormatInt(next, 10))); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

func batchKey(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

// PutBatch inserts or overwrites bt.
func (s *Store) PutBatch(bt *BatchTransaction) error {
	data, err := json.Marshal(bt)
	if err != nil {
		return fmt.Errorf("marshal batch transaction: %w", err)
	}
	tx := s.batches.WriteTx()
	defer tx.Discard()
	if err := tx.Set(batchKey(bt.ID), data); err != nil {
		return err
	}
	return tx.Commit()
}

// GetBatch returns the batch by id, or ErrNotFound.
func (s *Store) GetBatch(id int64) (*BatchTransaction, error) {
	data, err := s.batches.Get(batchKey(id))
	if err != nil {
		return nil, err
	}
	var bt BatchTransaction
	if err := json.Unmarshal(data, &bt); err != nil {
		return nil, fmt.Errorf("unmarshal batch transaction %d: %w", id, err)
	}
	return &bt, nil
}

// UpdateBatch reads, mutates, and writes back bt atomically.
func (s *Store) UpdateBatch(id int64, mutate func(*BatchTransaction) error) error {
	tx := s.batches.WriteTx()
	defer tx.Discard()

	data, err := tx.Get(batchKey(id))
	if err != nil {
		return err
	}
	var bt BatchTransaction
	if err := json.Unmarshal(data, &bt); err != nil {
		return fmt.Errorf("unmarshal batch transaction %d: %w", id, err)
	}
	if err := mutate(&bt); err != nil {
		return err
	}
	out, err := json.Marshal(&bt)
	if err != nil {
		return err
	}
	if err := tx.Set(batchKey(id), out); err != nil {
		return err
	}
	return tx.Commit()
}

// --- SignedTransaction ---

func signedKey(txType TransactionType, id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", txType, id))
}

// PutSignedTransaction inserts or overwrites st, keyed by (type, requestId|batchId).
func (s *Store) PutSignedTransaction(st *SignedTransaction) error {
	id := st.RequestID
	if st.TransactionType == TxBatch {
		id = st.BatchID
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal signed transaction: %w", err)
	}
	tx := s.signed.WriteTx()
	defer tx.Discard()
	if err := tx.Set(signedKey(st.TransactionType, id), data); err != nil {
		return err
	}
	return tx.Commit()
}

// GetSignedTransaction returns the signed record for (txType, id), or ErrNotFound.
func (s *Store) GetSignedTransaction(txType TransactionType, id string) (*SignedTransaction, error) {
	data, err := s.signed.Get(signedKey(txType, id))
	if err != nil {
		return nil, err
	}
	var st SignedTransaction
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal signed transaction %s: %w", id, err)
	}
	return &st, nil
}

// UpdateSignedTransaction reads, mutates, and writes back the signed record
// for (txType, id) atomically. Used by Queue Recovery to mark stale SIGNED
// rows CANCELLED without racing a concurrent writer.
func (s *Store) UpdateSignedTransaction(txType TransactionType, id string, mutate func(*SignedTransaction) error) error {
	tx := s.signed.WriteTx()
	defer tx.Discard()

	key := signedKey(txType, id)
	data, err := tx.Get(key)
	if err != nil {
		return err
	}
	var st SignedTransaction
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("unmarshal signed transaction %s: %w", id, err)
	}
	if err := mutate(&st); err != nil {
		return err
	}
	out, err := json.Marshal(&st)
	if err != nil {
		return err
	}
	if err := tx.Set(key, out); err != nil {
		return err
	}
	return tx.Commit()
}

// SignedTransactionsByBatchID returns the batch-type signed record stored
// under batchID (at most one, whatever its status), or nil if there is none.
func (s *Store) SignedTransactionsByBatchID(batchID int64) ([]*SignedTransaction, error) {
	id := strconv.FormatInt(batchID, 10)
	st, err := s.GetSignedTransaction(TxBatch, id)
	if err == db.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []*SignedTransaction{st}, nil
}
