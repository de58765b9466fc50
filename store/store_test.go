package store

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/chainsigner/signer-core/db/metadb"
)

func newTestStore(t *testing.T) *Store {
	return New(metadb.NewTest(t))
}

func TestRequestCRUD(t *testing.T) {
	c := qt.New(t)
	s := newTestStore(t)

	req := &WithdrawalRequest{
		RequestID: "req-1",
		ToAddress: "0x742d35Cc6634C0532925a3b844Bc454e4438fAEd",
		Amount:    "1000000000000000000",
		Chain:     "polygon",
		Network:   "testnet",
		Status:    StatusPending,
		Mode:      ModeSingle,
		CreatedAt: time.Now(),
	}
	c.Assert(s.PutRequest(req), qt.IsNil)

	got, err := s.GetRequest("req-1")
	c.Assert(err, qt.IsNil)
	c.Assert(got.Status, qt.Equals, StatusPending)

	err = s.UpdateRequest("req-1", func(r *WithdrawalRequest) error {
		r.Status = StatusSigning
		r.TryCount++
		return nil
	})
	c.Assert(err, qt.IsNil)

	got, err = s.GetRequest("req-1")
	c.Assert(err, qt.IsNil)
	c.Assert(got.Status, qt.Equals, StatusSigning)
	c.Assert(got.TryCount, qt.Equals, 1)

	c.Assert(s.DeleteRequest("req-1"), qt.IsNil)
	_, err = s.GetRequest("req-1")
	c.Assert(err, qt.IsNotNil)
}

func TestBatchIDMonotonic(t *testing.T) {
	c := qt.New(t)
	s := newTestStore(t)

	ids := make([]int64, 5)
	for i := range ids {
		id, err := s.NextBatchID()
		c.Assert(err, qt.IsNil)
		ids[i] = id
	}
	for i := 1; i < len(ids); i++ {
		c.Assert(ids[i], qt.Equals, ids[i-1]+1)
	}
}

func TestRequestsByBatchID(t *testing.T) {
	c := qt.New(t)
	s := newTestStore(t)

	batchID := int64(7)
	for _, id := range []string{"a", "b", "c"} {
		bid := batchID
		c.Assert(s.PutRequest(&WithdrawalRequest{
			RequestID: id,
			Status:    StatusSigning,
			Mode:      ModeBatch,
			BatchID:   &bid,
			CreatedAt: time.Now(),
		}), qt.IsNil)
	}
	c.Assert(s.PutRequest(&WithdrawalRequest{RequestID: "other", Status: StatusPending, CreatedAt: time.Now()}), qt.IsNil)

	members, err := s.RequestsByBatchID(batchID)
	c.Assert(err, qt.IsNil)
	c.Assert(len(members), qt.Equals, 3)
}

func TestBatchTransactionCRUD(t *testing.T) {
	c := qt.New(t)
	s := newTestStore(t)

	id, err := s.NextBatchID()
	c.Assert(err, qt.IsNil)

	bt := &BatchTransaction{ID: id, Status: BatchPending, ChainID: 137}
	c.Assert(s.PutBatch(bt), qt.IsNil)

	err = s.UpdateBatch(id, func(b *BatchTransaction) error {
		b.Status = BatchSigned
		b.TxHash = "0xabc"
		return nil
	})
	c.Assert(err, qt.IsNil)

	got, err := s.GetBatch(id)
	c.Assert(err, qt.IsNil)
	c.Assert(got.Status, qt.Equals, BatchSigned)
	c.Assert(got.TxHash, qt.Equals, "0xabc")
}
