package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	tipjar "github.com/surgesocial/tipjar/pkg"
	"github.com/surgesocial/tipjar/pkg/metrics"
)

// interface guard ensures EthReader implements tipjar.ChainReader
var _ tipjar.ChainReader = &EthReader{}

// EthReader reads transactions and receipts from an Ethereum JSON-RPC node.
type EthReader struct {
	client  *ethclient.Client
	timeout time.Duration
}

// NewEthReader dials the configured node. The returned reader is safe
// for concurrent use and should be shared.
func NewEthReader(ctx context.Context, config tipjar.ChainConfig) (*EthReader, error) {
	client, err := ethclient.DialContext(ctx, config.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", config.RPCURL, err)
	}
	timeout := config.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EthReader{client: client, timeout: timeout}, nil
}

func (r *EthReader) Close() {
	r.client.Close()
}

// wire formats: only the fields we use, so partial node responses
// (and test fixtures) decode without the full go-ethereum types.
type rpcTransaction struct {
	Hash        common.Hash     `json:"hash"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	Value       *hexutil.Big    `json:"value"`
	ChainID     *hexutil.Big    `json:"chainId"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
}

type rpcReceipt struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	Status          hexutil.Uint64 `json:"status"`
	BlockNumber     hexutil.Uint64 `json:"blockNumber"`
	Logs            []rpcLog       `json:"logs"`
}

type rpcLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

func (r *EthReader) FetchTransaction(ctx context.Context, txID string) (tipjar.TransactionData, error) {
	var tx rpcTransaction
	err := r.call(ctx, &tx, "eth_getTransactionByHash", common.HexToHash(txID))
	if err != nil {
		return tipjar.TransactionData{}, err
	}
	data := tipjar.TransactionData{
		Hash:    tipjar.NormalizeAddress(tx.Hash.Hex()).String(),
		From:    tipjar.NormalizeAddress(tx.From.Hex()),
		Value:   new(big.Int),
		Pending: tx.BlockNumber == nil,
	}
	if tx.To != nil {
		data.To = tipjar.NormalizeAddress(tx.To.Hex())
	}
	if tx.Value != nil {
		data.Value = tx.Value.ToInt()
	}
	if tx.ChainID != nil {
		data.ChainID = tx.ChainID.ToInt()
	}
	return data, nil
}

func (r *EthReader) FetchReceipt(ctx context.Context, txID string) (tipjar.ReceiptData, error) {
	var rec rpcReceipt
	err := r.call(ctx, &rec, "eth_getTransactionReceipt", common.HexToHash(txID))
	if err != nil {
		return tipjar.ReceiptData{}, err
	}
	data := tipjar.ReceiptData{
		TxHash:      tipjar.NormalizeAddress(rec.TransactionHash.Hex()).String(),
		Status:      tipjar.ReceiptStatus(rec.Status),
		BlockNumber: uint64(rec.BlockNumber),
	}
	for _, lg := range rec.Logs {
		topics := make([]string, len(lg.Topics))
		for i, t := range lg.Topics {
			topics[i] = t.Hex()
		}
		data.Logs = append(data.Logs, tipjar.LogData{
			Address: tipjar.NormalizeAddress(lg.Address.Hex()),
			Topics:  topics,
			Data:    lg.Data,
		})
	}
	return data, nil
}

// ChainID asks the node which chain it serves.
func (r *EthReader) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	id, err := r.client.ChainID(ctx)
	if err != nil {
		return nil, tipjar.NewErr(tipjar.NotAvailable, "eth_chainId: %v", err)
	}
	return id, nil
}

// call performs one JSON-RPC call under the per-call timeout. A null
// result is tipjar.ErrTxNotFound; every other failure (transport,
// timeout, RPC error object, undecodable result) is NotAvailable.
func (r *EthReader) call(ctx context.Context, result any, method string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := time.Now()
	outcome := "ok"
	defer func() {
		metrics.ChainCalls.WithLabelValues(method, outcome).Observe(time.Since(start).Seconds())
	}()

	var raw json.RawMessage
	err := r.client.Client().CallContext(ctx, &raw, method, args...)
	if err != nil {
		outcome = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		return tipjar.NewErr(tipjar.NotAvailable, "%s: %v", method, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		outcome = "not-found"
		return tipjar.ErrTxNotFound
	}
	if err := json.Unmarshal(raw, result); err != nil {
		outcome = "error"
		return tipjar.NewErr(tipjar.NotAvailable, "%s: unmarshal result: %v", method, err)
	}
	return nil
}
