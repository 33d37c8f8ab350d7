package chain_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tipjar "github.com/surgesocial/tipjar/pkg"
	"github.com/surgesocial/tipjar/pkg/chain"
)

const txHash = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// fakeNode answers JSON-RPC calls with canned results (raw JSON) per method.
func fakeNode(t *testing.T, results map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad rpc request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		result, found := results[req.Method]
		if !found {
			http.Error(w, "node unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if result == "error" {
			w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"error":{"code":-32000,"message":"boom"}}`))
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`))
	}))
}

func newReader(t *testing.T, url string) *chain.EthReader {
	r, err := chain.NewEthReader(context.Background(), tipjar.ChainConfig{RPCURL: url, TimeoutSeconds: 5})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestEthReaderFetch(t *testing.T) {
	node := fakeNode(t, map[string]string{
		"eth_getTransactionByHash": `{"hash":"` + txHash + `","from":"0x1111111111111111111111111111111111111111",` +
			`"to":"0x5AFE000000000000000000000000000000000001","value":"0x0","chainId":"0x2105","blockNumber":"0x64"}`,
		"eth_getTransactionReceipt": `{"transactionHash":"` + txHash + `","status":"0x1","blockNumber":"0x64","logs":[` +
			`{"address":"0x5afe000000000000000000000000000000000001","topics":[` +
			`"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",` +
			`"0x0000000000000000000000001111111111111111111111111111111111111111",` +
			`"0x0000000000000000000000002222222222222222222222222222222222222222"],` +
			`"data":"0x0000000000000000000000000000000000000000000000004563918244f40000"}]}`,
		"eth_chainId": `"0x2105"`,
	})
	defer node.Close()
	r := newReader(t, node.URL)

	tx, err := r.FetchTransaction(context.Background(), txHash)
	require.NoError(t, err)
	assert.Equal(t, alice, tx.From)
	assert.Equal(t, token, tx.To) // normalized to lower case
	assert.Equal(t, int64(8453), tx.ChainID.Int64())
	assert.False(t, tx.Pending)

	receipt, err := r.FetchReceipt(context.Background(), txHash)
	require.NoError(t, err)
	assert.Equal(t, tipjar.ReceiptSuccessful, receipt.Status)
	assert.Equal(t, uint64(100), receipt.BlockNumber)
	events := chain.DecodeTransferEvents(receipt, token)
	require.Len(t, events, 1)
	assert.Equal(t, "5000000000000000000", events[0].AmountRaw.String())

	id, err := r.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(8453), id.Int64())
}

func TestEthReaderPendingTransaction(t *testing.T) {
	node := fakeNode(t, map[string]string{
		"eth_getTransactionByHash": `{"hash":"` + txHash + `","from":"0x1111111111111111111111111111111111111111","value":"0x1","blockNumber":null}`,
	})
	defer node.Close()
	tx, err := newReader(t, node.URL).FetchTransaction(context.Background(), txHash)
	require.NoError(t, err)
	assert.True(t, tx.Pending)
	assert.Equal(t, tipjar.Address(""), tx.To)
}

func TestEthReaderErrors(t *testing.T) {
	node := fakeNode(t, map[string]string{
		"eth_getTransactionByHash":  `null`,
		"eth_getTransactionReceipt": "error",
	})
	defer node.Close()
	r := newReader(t, node.URL)

	// unknown transaction
	_, err := r.FetchTransaction(context.Background(), txHash)
	assert.True(t, errors.Is(err, tipjar.ErrTxNotFound), "expected ErrTxNotFound, got %v", err)

	// RPC error object: transient
	_, err = r.FetchReceipt(context.Background(), txHash)
	assert.True(t, tipjar.IsNotAvailableError(err), "expected NotAvailable, got %v", err)

	// HTTP 500: transient
	_, err = r.ChainID(context.Background())
	assert.True(t, tipjar.IsNotAvailableError(err), "expected NotAvailable, got %v", err)

	// cancelled context: transient, never NotFound
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.FetchTransaction(ctx, txHash)
	assert.True(t, tipjar.IsNotAvailableError(err), "expected NotAvailable, got %v", err)
}
