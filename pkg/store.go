package tipjar

import "time"

// Store is the Tip ledger. Every state transition is a single conditional
// write: the bool results report whether this caller performed the
// transition (false means the tip was not in the required state).
type Store interface {
	// InsertPending stores a new pending tip. A second tip with the same
	// ChainTxID MUST fail with an AlreadyExists error (unique index).
	InsertPending(tip Tip) (Tip, error)
	// GetTip returns the tip with the given ID (NotFound if missing).
	GetTip(id string) (Tip, error)
	// TryLock moves a tip from pending to locked and sets LockedAt.
	TryLock(id string, now time.Time) (bool, error)
	// MarkConfirmed moves a locked tip to confirmed with its verified data.
	MarkConfirmed(id string, amount TokenAmount, blockNumber uint64, now time.Time) (bool, error)
	// MarkFailed moves a locked tip to failed, recording why.
	MarkFailed(id string, reason string, now time.Time) (bool, error)
	// RevertToPending moves a locked tip back to pending and increments
	// Attempts. Only used after a transient failure.
	RevertToPending(id string, reason string) (bool, error)
	// ReleaseLock moves a locked tip back to pending without counting an
	// attempt. Used when the work was abandoned rather than failed.
	ReleaseLock(id string) (bool, error)
	// FindStalePending lists pending tips whose last activity is before olderThan.
	FindStalePending(olderThan time.Time, limit int) ([]Tip, error)
	// RevertStaleLocks returns tips locked before olderThan (crashed worker)
	// to pending, incrementing Attempts. Returns how many were reverted.
	RevertStaleLocks(olderThan time.Time) (int64, error)
	// FindUnsettled lists confirmed tips whose effects were never applied.
	FindUnsettled(limit int) ([]Tip, error)

	// ListTipsByWallet lists tips sent or received by a wallet.
	// pagination: next_cursor should be passed as 'cursor' on the next call (initial cursor = 0)
	// pagination: when next_cursor == 0, that is the final page of results.
	ListTipsByWallet(wallet Address, cursor int64, limit int) (items []Tip, next_cursor int64, err error)
	// ListTipsByTarget lists tips for a target (same pagination contract).
	ListTipsByTarget(targetRef string, cursor int64, limit int) (items []Tip, next_cursor int64, err error)

	// RegisterTarget records a tippable target and its owner (upsert).
	RegisterTarget(target Target) error
	// GetTarget returns a registered target with its tip aggregates.
	GetTarget(targetRef string) (Target, error)
	// GetAgentStats returns the tip aggregates for a wallet (zero if none).
	GetAgentStats(wallet Address) (AgentStats, error)

	// Begin starts a transaction used to apply settlement effects.
	Begin() (StoreTransaction, error)

	Close()
}

// StoreTransaction groups settlement writes so they apply all-or-nothing.
// It also provides the Content Store increment interface for agents and
// targets.
type StoreTransaction interface {
	// ClaimSettlement sets the settlement-applied marker on a confirmed tip.
	// Returns false if the tip is not confirmed or the marker is already set.
	ClaimSettlement(tipID string, now time.Time) (bool, error)
	// IncrementTipStats adds one tip of amount to a target's aggregates.
	IncrementTipStats(targetRef string, amount TokenAmount) (bool, error)
	// IncrementAgentStats adds amount to one aggregate field of a wallet
	// (creating the wallet's row if needed). Count fields add one.
	IncrementAgentStats(wallet Address, field AgentStatField, amount TokenAmount) (bool, error)
	// InsertWalletTxn appends a send/receive history row.
	InsertWalletTxn(txn WalletTxn) error

	Commit() error
	Rollback() error
}

type AgentStatField string

const (
	TipsGivenCount     AgentStatField = "tips_given_count"
	TipsGivenAmount    AgentStatField = "tips_given_amount"
	TipsReceivedCount  AgentStatField = "tips_received_count"
	TipsReceivedAmount AgentStatField = "tips_received_amount"
	ReputationScore    AgentStatField = "reputation_score"
)

var AgentStatFields = []AgentStatField{
	TipsGivenCount, TipsGivenAmount, TipsReceivedCount, TipsReceivedAmount, ReputationScore,
}

// AgentStats are the derived tip counters of one wallet.
type AgentStats struct {
	Address            Address     `json:"address"`
	TipsGivenCount     int64       `json:"tips_given_count"`
	TipsGivenAmount    TokenAmount `json:"tips_given_amount"`
	TipsReceivedCount  int64       `json:"tips_received_count"`
	TipsReceivedAmount TokenAmount `json:"tips_received_amount"`
	ReputationScore    TokenAmount `json:"reputation_score"`
}

// Target is a tippable entity (post, comment, user) owned by the content
// layer; only its reference, owner and tip aggregates are kept here.
type Target struct {
	Ref       string      `json:"target_ref"`
	Owner     Address     `json:"owner"`
	TipCount  int64       `json:"tip_count"`
	TipAmount TokenAmount `json:"tip_amount"`
}

type WalletTxnDirection string

const (
	WalletSend    WalletTxnDirection = "send"
	WalletReceive WalletTxnDirection = "receive"
)

// WalletTxn is one side of a settled tip in a wallet's history.
type WalletTxn struct {
	Wallet       Address            `json:"wallet"`
	ChainTxID    string             `json:"chain_tx_id"`
	TipID        string             `json:"tip_id"`
	Direction    WalletTxnDirection `json:"direction"`
	Counterparty Address            `json:"counterparty"`
	Amount       TokenAmount        `json:"amount"`
	Timestamp    time.Time          `json:"timestamp"`
}
