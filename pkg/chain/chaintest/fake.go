// Package chaintest provides an in-memory ChainReader for tests.
package chaintest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	tipjar "github.com/surgesocial/tipjar/pkg"
	"github.com/surgesocial/tipjar/pkg/chain"
)

// FakeReader serves transactions and receipts added by the test.
// Unknown hashes return tipjar.ErrTxNotFound.
type FakeReader struct {
	mu       sync.Mutex
	txs      map[string]tipjar.TransactionData
	receipts map[string]tipjar.ReceiptData
	err      error // returned by every call when set
	calls    int
}

var _ tipjar.ChainReader = &FakeReader{}

func NewFakeReader() *FakeReader {
	return &FakeReader{
		txs:      map[string]tipjar.TransactionData{},
		receipts: map[string]tipjar.ReceiptData{},
	}
}

// AddTokenTransfer records a successful token transfer in block 100.
func (f *FakeReader) AddTokenTransfer(txID string, token, from, to tipjar.Address, raw *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[txID] = tipjar.TransactionData{Hash: txID, ChainID: big.NewInt(8453), From: from, To: token, Value: new(big.Int)}
	f.receipts[txID] = tipjar.ReceiptData{
		TxHash:      txID,
		Status:      tipjar.ReceiptSuccessful,
		BlockNumber: 100,
		Logs:        []tipjar.LogData{TransferLog(token, from, to, raw)},
	}
}

// AddNativeTransfer records a successful native-asset transfer in block 100.
func (f *FakeReader) AddNativeTransfer(txID string, from, to tipjar.Address, raw *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[txID] = tipjar.TransactionData{Hash: txID, ChainID: big.NewInt(8453), From: from, To: to, Value: raw}
	f.receipts[txID] = tipjar.ReceiptData{TxHash: txID, Status: tipjar.ReceiptSuccessful, BlockNumber: 100}
}

// SetReceiptStatus changes the status of a recorded receipt.
func (f *FakeReader) SetReceiptStatus(txID string, status tipjar.ReceiptStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.receipts[txID]
	r.Status = status
	f.receipts[txID] = r
}

// FailWith makes every call return err (nil to stop failing).
func (f *FakeReader) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls counts FetchTransaction and FetchReceipt calls.
func (f *FakeReader) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeReader) FetchTransaction(ctx context.Context, txID string) (tipjar.TransactionData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return tipjar.TransactionData{}, f.err
	}
	tx, found := f.txs[txID]
	if !found {
		return tipjar.TransactionData{}, tipjar.ErrTxNotFound
	}
	return tx, nil
}

func (f *FakeReader) FetchReceipt(ctx context.Context, txID string) (tipjar.ReceiptData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return tipjar.ReceiptData{}, f.err
	}
	r, found := f.receipts[txID]
	if !found {
		return tipjar.ReceiptData{}, tipjar.ErrTxNotFound
	}
	return r, nil
}

// TransferLog builds the raw log of Transfer(from, to, raw) emitted by token.
func TransferLog(token, from, to tipjar.Address, raw *big.Int) tipjar.LogData {
	return tipjar.LogData{
		Address: token,
		Topics: []string{
			chain.TransferTopic,
			common.BytesToHash(common.HexToAddress(string(from)).Bytes()).Hex(),
			common.BytesToHash(common.HexToAddress(string(to)).Bytes()).Hex(),
		},
		Data: common.BigToHash(raw).Bytes(),
	}
}
