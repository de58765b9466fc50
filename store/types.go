// Package store persists the three domain records the signing pipeline
// mutates — WithdrawalRequest, BatchTransaction, SignedTransaction — as JSON
// blobs over a db.Database, namespaced per record type with
// db/prefixeddb. Status transitions that must not race (e.g. worker vs.
// recovery sweep) go through WriteTx so they commit atomically.
package store

import "time"

// RequestStatus is the lifecycle state of a WithdrawalRequest.
type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusSigning   RequestStatus = "SIGNING"
	StatusSigned    RequestStatus = "SIGNED"
	StatusCompleted RequestStatus = "COMPLETED"
	StatusFailed    RequestStatus = "FAILED"
	StatusCancelled RequestStatus = "CANCELLED"
)

// ProcessingMode records whether a request was (or will be) signed alone or
// as part of a Multicall3 batch.
type ProcessingMode string

const (
	ModeSingle ProcessingMode = "SINGLE"
	ModeBatch  ProcessingMode = "BATCH"
)

// WithdrawalRequest is the durable record backing one ingress message.
type WithdrawalRequest struct {
	RequestID     string         `json:"requestId"`
	ToAddress     string         `json:"toAddress"`
	TokenAddress  string         `json:"tokenAddress"`
	Amount        string         `json:"amount"`
	Symbol        string         `json:"symbol"`
	Chain         string         `json:"chain"`
	Network       string         `json:"network"`
	Status        RequestStatus  `json:"status"`
	TryCount      int            `json:"tryCount"`
	BatchID       *int64         `json:"batchId,omitempty"`
	Mode          ProcessingMode `json:"processingMode"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// BatchStatus is the lifecycle state of a BatchTransaction.
type BatchStatus string

const (
	BatchPending   BatchStatus = "PENDING"
	BatchSigned    BatchStatus = "SIGNED"
	BatchFailed    BatchStatus = "FAILED"
	BatchCancelled BatchStatus = "CANCELLED"
)

// BatchTransaction is the durable record for one Multicall3 batch. When the
// planner splits a batch, its groups share this one record; each group's
// SignedTransaction carries its own "parentId-k" batch id.
type BatchTransaction struct {
	ID                   int64       `json:"id"`
	MulticallAddress     string      `json:"multicallAddress"`
	TotalRequests        int         `json:"totalRequests"`
	TotalAmount          string      `json:"totalAmount"`
	Symbol               string      `json:"symbol"`
	ChainID              uint64      `json:"chainId"`
	Nonce                uint64      `json:"nonce"`
	GasLimit             uint64      `json:"gasLimit"`
	MaxFeePerGas         string      `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string      `json:"maxPriorityFeePerGas,omitempty"`
	TxHash               string      `json:"txHash,omitempty"`
	Status               BatchStatus `json:"status"`
	ErrorMessage         string      `json:"errorMessage,omitempty"`
}

// TransactionType distinguishes a SignedTransaction built for one request
// from one built for a batch.
type TransactionType string

const (
	TxSingle TransactionType = "SINGLE"
	TxBatch  TransactionType = "BATCH"
)

// SignedTransaction is the durable, egress-queue-bound record of a completed
// signing attempt.
type SignedTransaction struct {
	RequestID            string          `json:"requestId,omitempty"`
	BatchID              string          `json:"batchId,omitempty"`
	TransactionType      TransactionType `json:"transactionType"`
	TxHash               string          `json:"txHash"`
	RawTransaction       string          `json:"rawTransaction"`
	Nonce                uint64          `json:"nonce"`
	GasLimit             uint64          `json:"gasLimit"`
	MaxFeePerGas         string          `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string          `json:"maxPriorityFeePerGas"`
	From                 string          `json:"from"`
	To                   string          `json:"to"`
	Value                string          `json:"value"`
	Data                 string          `json:"data,omitempty"`
	ChainID              uint64          `json:"chainId"`
	Chain                string          `json:"chain"`
	Network              string          `json:"network"`
	TryCount             int             `json:"tryCount"`
	Status               RequestStatus   `json:"status"`
	ErrorMessage         string          `json:"errorMessage,omitempty"`
}
