package tipjar

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Address is a lower-cased 0x-prefixed chain address.
type Address string

func (a Address) String() string {
	return string(a)
}

type TipStatus string

const (
	TipPending   TipStatus = "pending"
	TipLocked    TipStatus = "locked"
	TipConfirmed TipStatus = "confirmed"
	TipFailed    TipStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s TipStatus) IsTerminal() bool {
	return s == TipConfirmed || s == TipFailed
}

var (
	txIDPattern    = regexp.MustCompile(`^0x[0-9a-f]{64}$`)
	addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)
)

// NormalizeAddress trims and lower-cases an address (or tx hash).
func NormalizeAddress(s string) Address {
	return Address(strings.ToLower(strings.TrimSpace(s)))
}

func IsValidAddress(a Address) bool {
	return addressPattern.MatchString(string(a))
}

func IsValidTxID(txID string) bool {
	return txIDPattern.MatchString(txID)
}

// Tip is the ledger record for a claimed on-chain transfer.
type Tip struct {
	ID            string      `json:"id"`
	ChainTxID     string      `json:"chain_tx_id"`
	FromAddress   Address     `json:"from_address"`
	ToAddress     Address     `json:"to_address"`
	ClaimedAmount TokenAmount `json:"claimed_amount"`
	TokenSymbol   string      `json:"token_symbol"`
	TargetRef     string      `json:"target_ref"`
	Message       string      `json:"message"`
	Status        TipStatus   `json:"status"`
	// Set on confirmation only.
	VerifiedAmount      TokenAmount `json:"verified_amount"`
	VerifiedBlockNumber uint64      `json:"verified_block_number"`
	FailureReason       string      `json:"failure_reason"`
	Attempts            int         `json:"attempts"`
	EffectsApplied      bool        `json:"effects_applied"`
	CreatedAt           time.Time   `json:"created_at"`
	LockedAt            time.Time   `json:"locked_at"`
	SettledAt           time.Time   `json:"settled_at"` // entered a terminal state
	EffectsAppliedAt    time.Time   `json:"effects_applied_at"`
}

// TipClaim is what a client submits: an assertion that chainTxId moved
// ClaimedAmount from FromAddress to ToAddress.
type TipClaim struct {
	ChainTxID     string      `json:"chain_tx_id"`
	FromAddress   Address     `json:"from_address"`
	ToAddress     Address     `json:"to_address"`
	ClaimedAmount TokenAmount `json:"amount"`
	TokenSymbol   string      `json:"token_symbol"`
	TargetRef     string      `json:"target_ref"`
	Message       string      `json:"message,omitempty"`
}

// Normalize lower-cases the hash and addresses in place.
func (c *TipClaim) Normalize() {
	c.ChainTxID = string(NormalizeAddress(c.ChainTxID))
	c.FromAddress = NormalizeAddress(string(c.FromAddress))
	c.ToAddress = NormalizeAddress(string(c.ToAddress))
	c.TokenSymbol = strings.TrimSpace(c.TokenSymbol)
	c.TargetRef = strings.TrimSpace(c.TargetRef)
}

// Validate checks the shape of a normalized claim against the configured
// token. It does not touch the store or the chain.
func (c *TipClaim) Validate(token TokenConfig) error {
	if !IsValidTxID(c.ChainTxID) {
		return NewErr(BadRequest, "invalid chain_tx_id: %q", c.ChainTxID)
	}
	if !IsValidAddress(c.FromAddress) {
		return NewErr(BadRequest, "invalid from_address: %q", c.FromAddress)
	}
	if !IsValidAddress(c.ToAddress) {
		return NewErr(BadRequest, "invalid to_address: %q", c.ToAddress)
	}
	if c.FromAddress == c.ToAddress {
		return NewErr(SelfTip, "you cannot tip yourself")
	}
	if !c.ClaimedAmount.IsPositive() {
		return NewErr(BadRequest, "amount must be greater than zero")
	}
	if _, ok := ToRaw(c.ClaimedAmount, token.Decimals); !ok {
		return NewErr(BadRequest, "amount %s has more than %d decimal places", c.ClaimedAmount, token.Decimals)
	}
	if c.TargetRef == "" {
		return NewErr(BadRequest, "missing target_ref")
	}
	if c.TokenSymbol != "" && !strings.EqualFold(c.TokenSymbol, token.Symbol) {
		return NewErr(BadRequest, "unsupported token: %s", c.TokenSymbol)
	}
	return nil
}

// NewPendingTip builds the intake record for a validated claim.
func NewPendingTip(c TipClaim, token TokenConfig, now time.Time) Tip {
	return Tip{
		ID:            generateTipID(),
		ChainTxID:     c.ChainTxID,
		FromAddress:   c.FromAddress,
		ToAddress:     c.ToAddress,
		ClaimedAmount: c.ClaimedAmount,
		TokenSymbol:   token.Symbol,
		TargetRef:     c.TargetRef,
		Message:       c.Message,
		Status:        TipPending,
		CreatedAt:     now,
	}
}

// PublicTip is the Query API view of a Tip.
type PublicTip struct {
	ID                  string       `json:"id"`
	ChainTxID           string       `json:"chain_tx_id"`
	FromAddress         Address      `json:"from_address"`
	ToAddress           Address      `json:"to_address"`
	ClaimedAmount       TokenAmount  `json:"amount"`
	TokenSymbol         string       `json:"token_symbol"`
	TargetRef           string       `json:"target_ref"`
	Message             string       `json:"message,omitempty"`
	Status              TipStatus    `json:"status"`
	VerifiedAmount      *TokenAmount `json:"verified_amount,omitempty"`
	VerifiedBlockNumber uint64       `json:"verified_block_number,omitempty"`
	FailureReason       string       `json:"failure_reason,omitempty"`
	Attempts            int          `json:"attempts"`
	CreatedAt           time.Time    `json:"created_at"`
	SettledAt           *time.Time   `json:"settled_at,omitempty"`
}

func (t Tip) ToPublic() PublicTip {
	p := PublicTip{
		ID:            t.ID,
		ChainTxID:     t.ChainTxID,
		FromAddress:   t.FromAddress,
		ToAddress:     t.ToAddress,
		ClaimedAmount: t.ClaimedAmount,
		TokenSymbol:   t.TokenSymbol,
		TargetRef:     t.TargetRef,
		Message:       t.Message,
		Status:        t.Status,
		FailureReason: t.FailureReason,
		Attempts:      t.Attempts,
		CreatedAt:     t.CreatedAt,
	}
	if t.Status == TipConfirmed {
		amount := t.VerifiedAmount
		p.VerifiedAmount = &amount
		p.VerifiedBlockNumber = t.VerifiedBlockNumber
	}
	if !t.SettledAt.IsZero() {
		settled := t.SettledAt
		p.SettledAt = &settled
	}
	return p
}

// 128 random bits, hex encoded.
func generateTipID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
