// Package verifier decides whether on-chain data proves a tip claim.
// It performs no I/O; the caller fetches the transaction and receipt.
package verifier

import (
	"fmt"
	"math/big"

	tipjar "github.com/surgesocial/tipjar/pkg"
	"github.com/surgesocial/tipjar/pkg/chain"
)

type OutcomeKind string

const (
	Verified            OutcomeKind = "verified"
	Mismatch            OutcomeKind = "mismatch"
	NotConfirmedOnChain OutcomeKind = "not-confirmed-on-chain"
)

// Outcome of verifying one claim. Mismatch and NotConfirmedOnChain are
// permanent: the chain data cannot change for this tx hash.
type Outcome struct {
	Kind        OutcomeKind
	Amount      tipjar.TokenAmount // Verified only
	BlockNumber uint64             // Verified only
	Reason      string
}

func (o Outcome) IsVerified() bool {
	return o.Kind == Verified
}

// Verifier matches claims against the single configured token.
type Verifier struct {
	token   tipjar.TokenConfig
	chainID *big.Int // nil: any chain
}

func NewVerifier(token tipjar.TokenConfig, chainID int64) Verifier {
	v := Verifier{token: token}
	if chainID != 0 {
		v.chainID = big.NewInt(chainID)
	}
	return v
}

// Verify compares the claim with the transaction and its receipt.
// Addresses compare case-insensitively (both sides are normalized);
// amounts compare as exact smallest-unit integers.
func (v Verifier) Verify(claim tipjar.Tip, tx tipjar.TransactionData, receipt tipjar.ReceiptData) Outcome {
	if receipt.Status != tipjar.ReceiptSuccessful {
		return Outcome{Kind: NotConfirmedOnChain, Reason: "transaction reverted on chain"}
	}
	if v.chainID != nil && tx.ChainID != nil && tx.ChainID.Cmp(v.chainID) != 0 {
		return mismatch("wrong chain id: %v (expected %v)", tx.ChainID, v.chainID)
	}
	want, ok := tipjar.ToRaw(claim.ClaimedAmount, v.token.Decimals)
	if !ok {
		return mismatch("claimed amount %s not representable with %d decimals", claim.ClaimedAmount, v.token.Decimals)
	}
	from := tipjar.NormalizeAddress(string(claim.FromAddress))
	to := tipjar.NormalizeAddress(string(claim.ToAddress))

	if v.token.IsNative() {
		return v.verifyNative(from, to, want, tx, receipt)
	}
	return v.verifyToken(from, to, want, receipt)
}

func (v Verifier) verifyNative(from, to tipjar.Address, want *big.Int, tx tipjar.TransactionData, receipt tipjar.ReceiptData) Outcome {
	if tipjar.NormalizeAddress(string(tx.From)) != from {
		return mismatch("sender mismatch: tx.from=%s, claimed=%s", tx.From, from)
	}
	if tipjar.NormalizeAddress(string(tx.To)) != to {
		return mismatch("receiver mismatch: tx.to=%s, claimed=%s", tx.To, to)
	}
	if tx.Value == nil || tx.Value.Cmp(want) != 0 {
		return mismatch("amount mismatch: tx.value=%v, claimed=%v", tx.Value, want)
	}
	return v.verified(want, receipt)
}

// The first Transfer event from the token contract matching sender,
// receiver and amount wins; batch transactions may emit several.
func (v Verifier) verifyToken(from, to tipjar.Address, want *big.Int, receipt tipjar.ReceiptData) Outcome {
	events := chain.DecodeTransferEvents(receipt, tipjar.NormalizeAddress(v.token.Contract))
	if len(events) == 0 {
		return mismatch("no %s Transfer events in receipt", v.token.Symbol)
	}
	for _, ev := range events {
		if ev.From == from && ev.To == to && ev.AmountRaw.Cmp(want) == 0 {
			return v.verified(ev.AmountRaw, receipt)
		}
	}
	return mismatch("no matching %s Transfer among %d events", v.token.Symbol, len(events))
}

func (v Verifier) verified(raw *big.Int, receipt tipjar.ReceiptData) Outcome {
	return Outcome{
		Kind:        Verified,
		Amount:      tipjar.FromRaw(raw, v.token.Decimals),
		BlockNumber: receipt.BlockNumber,
	}
}

func mismatch(format string, args ...any) Outcome {
	return Outcome{Kind: Mismatch, Reason: fmt.Sprintf(format, args...)}
}
