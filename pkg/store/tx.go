package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	tipjar "github.com/surgesocial/tipjar/pkg"
)

/****** SQLStoreTransaction implements tipjar.StoreTransaction ******/
var _ tipjar.StoreTransaction = &SQLStoreTransaction{}

type SQLStoreTransaction struct {
	tx       *sql.Tx
	d        dialect
	finality bool // true if we've called Commit or Rollback
}

func (t *SQLStoreTransaction) q(query string) string {
	return rebind(t.d, query)
}

func (t *SQLStoreTransaction) Commit() error {
	err := t.tx.Commit()
	if err != nil {
		return t.d.translate(err, "Commit")
	}
	t.finality = true
	return nil
}

// Rollback is safe to defer: it does nothing after Commit.
func (t *SQLStoreTransaction) Rollback() error {
	if !t.finality {
		t.finality = true
		return t.tx.Rollback()
	}
	return nil
}

func (t *SQLStoreTransaction) ClaimSettlement(tipID string, now time.Time) (bool, error) {
	res, err := t.tx.Exec(t.q("UPDATE tip SET effects_applied = ?, effects_applied_at = ? WHERE id = ? AND status = ? AND effects_applied = ?"),
		true, toNanos(now), tipID, string(tipjar.TipConfirmed), false)
	if err != nil {
		return false, t.d.translate(err, "ClaimSettlement: executing update")
	}
	num_rows, err := res.RowsAffected()
	if err != nil {
		return false, t.d.translate(err, "ClaimSettlement: res.RowsAffected")
	}
	return num_rows == 1, nil
}

func (t *SQLStoreTransaction) IncrementTipStats(targetRef string, amount tipjar.TokenAmount) (bool, error) {
	row := t.tx.QueryRow(t.q("SELECT tip_amount FROM target WHERE target_ref = ?"), targetRef)
	var current string
	err := row.Scan(&current)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, t.d.translate(err, "IncrementTipStats: row.Scan")
	}
	total, err := decimal.NewFromString(current)
	if err != nil {
		return false, t.d.translate(err, fmt.Sprintf("IncrementTipStats: invalid decimal tip_amount: %v", current))
	}
	res, err := t.tx.Exec(t.q("UPDATE target SET tip_count = tip_count + 1, tip_amount = ? WHERE target_ref = ?"),
		total.Add(amount).String(), targetRef)
	if err != nil {
		return false, t.d.translate(err, "IncrementTipStats: executing update")
	}
	num_rows, err := res.RowsAffected()
	if err != nil {
		return false, t.d.translate(err, "IncrementTipStats: res.RowsAffected")
	}
	return num_rows == 1, nil
}

func (t *SQLStoreTransaction) IncrementAgentStats(wallet tipjar.Address, field tipjar.AgentStatField, amount tipjar.TokenAmount) (bool, error) {
	if !isAgentStatField(field) {
		return false, tipjar.NewErr(tipjar.BadRequest, "unknown agent stat field: %s", field)
	}
	col := string(field) // whitelisted above
	_, err := t.tx.Exec(t.q("INSERT INTO agent_stats (address) VALUES (?) ON CONFLICT (address) DO NOTHING"), string(wallet))
	if err != nil {
		return false, t.d.translate(err, "IncrementAgentStats: executing insert")
	}
	var res sql.Result
	if field == tipjar.TipsGivenCount || field == tipjar.TipsReceivedCount {
		res, err = t.tx.Exec(t.q("UPDATE agent_stats SET "+col+" = "+col+" + 1 WHERE address = ?"), string(wallet))
	} else {
		var current string
		err = t.tx.QueryRow(t.q("SELECT "+col+" FROM agent_stats WHERE address = ?"), string(wallet)).Scan(&current)
		if err != nil {
			return false, t.d.translate(err, "IncrementAgentStats: row.Scan")
		}
		total, perr := decimal.NewFromString(current)
		if perr != nil {
			return false, t.d.translate(perr, fmt.Sprintf("IncrementAgentStats: invalid decimal %s: %v", col, current))
		}
		res, err = t.tx.Exec(t.q("UPDATE agent_stats SET "+col+" = ? WHERE address = ?"), total.Add(amount).String(), string(wallet))
	}
	if err != nil {
		return false, t.d.translate(err, "IncrementAgentStats: executing update")
	}
	num_rows, err := res.RowsAffected()
	if err != nil {
		return false, t.d.translate(err, "IncrementAgentStats: res.RowsAffected")
	}
	return num_rows == 1, nil
}

func (t *SQLStoreTransaction) InsertWalletTxn(txn tipjar.WalletTxn) error {
	_, err := t.tx.Exec(t.q(`INSERT INTO wallet_txn (wallet, chain_tx_id, tip_id, direction, counterparty, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		string(txn.Wallet), txn.ChainTxID, txn.TipID, string(txn.Direction), string(txn.Counterparty),
		txn.Amount.String(), toNanos(txn.Timestamp))
	if err != nil {
		return t.d.translate(err, "InsertWalletTxn: executing insert")
	}
	return nil
}

func isAgentStatField(f tipjar.AgentStatField) bool {
	for _, x := range tipjar.AgentStatFields {
		if x == f {
			return true
		}
	}
	return false
}
