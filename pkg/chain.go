package tipjar

import (
	"context"
	"errors"
	"math/big"
)

// ErrTxNotFound means the node does not know the transaction (or has no
// receipt for it yet). It is distinct from a transient RPC failure, which
// is reported as an ErrorInfo with Code NotAvailable.
var ErrTxNotFound = errors.New("transaction not found")

// ChainReader is read-only access to the configured chain.
//
// It is constructed once at startup and passed to whatever needs it;
// implementations hold no state beyond their connection pool.
type ChainReader interface {
	FetchTransaction(ctx context.Context, txID string) (TransactionData, error)
	FetchReceipt(ctx context.Context, txID string) (ReceiptData, error)
}

// TransactionData is the subset of a transaction the verifier needs.
type TransactionData struct {
	Hash    string
	ChainID *big.Int // nil for legacy pre-EIP155 transactions
	From    Address
	To      Address // empty for contract creation
	Value   *big.Int
	Pending bool
}

type ReceiptStatus uint64

const (
	ReceiptFailed     ReceiptStatus = 0
	ReceiptSuccessful ReceiptStatus = 1
)

type ReceiptData struct {
	TxHash      string
	Status      ReceiptStatus
	BlockNumber uint64
	Logs        []LogData
}

// LogData is a raw event log: emitting contract, indexed topics (hex)
// and the non-indexed data payload.
type LogData struct {
	Address Address
	Topics  []string
	Data    []byte
}

// TransferEvent is a decoded Transfer(address,address,uint256) log.
type TransferEvent struct {
	Token     Address
	From      Address
	To        Address
	AmountRaw *big.Int
}
