package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	tipjar "github.com/surgesocial/tipjar/pkg"
)

// TransferTopic is topic[0] of an ERC-20 Transfer(address,address,uint256) log.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")).Hex()

// DecodeTransferEvents returns the ERC-20 Transfer events in a receipt, in
// log order. Only logs emitted by tokenContract are considered; an empty
// tokenContract accepts any emitter. Logs that do not have the ERC-20
// shape (e.g. ERC-721 Transfer with an indexed token id) are skipped.
func DecodeTransferEvents(receipt tipjar.ReceiptData, tokenContract tipjar.Address) []tipjar.TransferEvent {
	var events []tipjar.TransferEvent
	for _, lg := range receipt.Logs {
		if tokenContract != "" && !strings.EqualFold(string(lg.Address), string(tokenContract)) {
			continue
		}
		if len(lg.Topics) != 3 || !strings.EqualFold(lg.Topics[0], TransferTopic) {
			continue
		}
		if len(lg.Data) != 32 {
			continue
		}
		events = append(events, tipjar.TransferEvent{
			Token:     tipjar.NormalizeAddress(string(lg.Address)),
			From:      topicAddress(lg.Topics[1]),
			To:        topicAddress(lg.Topics[2]),
			AmountRaw: new(big.Int).SetBytes(lg.Data),
		})
	}
	return events
}

// an indexed address is left-padded to 32 bytes
func topicAddress(topic string) tipjar.Address {
	addr := common.BytesToAddress(common.HexToHash(topic).Bytes())
	return tipjar.NormalizeAddress(addr.Hex())
}
