package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	tipjar "github.com/surgesocial/tipjar/pkg"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name      string
	numbered  bool           // $1 placeholders instead of ?
	txOptions *sql.TxOptions // for settlement transactions
	translate func(err error, where string) error
}

/****************** SQLStore implements tipjar.Store ********************/
var _ tipjar.Store = &SQLStore{}

// SQLStore is the Tip ledger on database/sql. Uniqueness of chain_tx_id
// is a UNIQUE index and every transition is one conditional UPDATE, so
// any number of processes may share the database.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

const tipColumns = `id, chain_tx_id, from_address, to_address, claimed_amount, token_symbol, target_ref, message,
	status, verified_amount, verified_block, failure_reason, attempts, effects_applied,
	created_at, locked_at, settled_at, effects_applied_at, seq`

// Defer this until shutdown
func (s *SQLStore) Close() {
	s.db.Close()
}

// q rewrites ? placeholders for dialects that number them.
func (s *SQLStore) q(query string) string {
	return rebind(s.d, query)
}

func rebind(d dialect, query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) InsertPending(tip tipjar.Tip) (tipjar.Tip, error) {
	tip.Status = tipjar.TipPending
	_, err := s.db.Exec(s.q(`INSERT INTO tip (id, chain_tx_id, from_address, to_address, claimed_amount,
		token_symbol, target_ref, message, status, failure_reason, attempts, effects_applied, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', 0, ?, ?)`),
		tip.ID, tip.ChainTxID, string(tip.FromAddress), string(tip.ToAddress), tip.ClaimedAmount.String(),
		tip.TokenSymbol, tip.TargetRef, tip.Message, string(tip.Status), false, toNanos(tip.CreatedAt))
	if err != nil {
		return tipjar.Tip{}, s.d.translate(err, "InsertPending")
	}
	return tip, nil
}

func (s *SQLStore) GetTip(id string) (tipjar.Tip, error) {
	row := s.db.QueryRow(s.q("SELECT "+tipColumns+" FROM tip WHERE id = ?"), id)
	tip, _, err := scanTip(row)
	if err == sql.ErrNoRows {
		// MUST detect this error to fulfil the API contract.
		return tipjar.Tip{}, tipjar.NewErr(tipjar.NotFound, "tip not found: %s", id)
	}
	if err != nil {
		return tipjar.Tip{}, s.d.translate(err, "GetTip: row.Scan")
	}
	return tip, nil
}

func (s *SQLStore) TryLock(id string, now time.Time) (bool, error) {
	return s.transition("TryLock",
		"UPDATE tip SET status = ?, locked_at = ? WHERE id = ? AND status = ?",
		string(tipjar.TipLocked), toNanos(now), id, string(tipjar.TipPending))
}

func (s *SQLStore) MarkConfirmed(id string, amount tipjar.TokenAmount, blockNumber uint64, now time.Time) (bool, error) {
	return s.transition("MarkConfirmed",
		"UPDATE tip SET status = ?, verified_amount = ?, verified_block = ?, failure_reason = '', settled_at = ? WHERE id = ? AND status = ?",
		string(tipjar.TipConfirmed), amount.String(), int64(blockNumber), toNanos(now), id, string(tipjar.TipLocked))
}

func (s *SQLStore) MarkFailed(id string, reason string, now time.Time) (bool, error) {
	return s.transition("MarkFailed",
		"UPDATE tip SET status = ?, failure_reason = ?, settled_at = ? WHERE id = ? AND status = ?",
		string(tipjar.TipFailed), reason, toNanos(now), id, string(tipjar.TipLocked))
}

func (s *SQLStore) RevertToPending(id string, reason string) (bool, error) {
	return s.transition("RevertToPending",
		"UPDATE tip SET status = ?, attempts = attempts + 1, failure_reason = ? WHERE id = ? AND status = ?",
		string(tipjar.TipPending), reason, id, string(tipjar.TipLocked))
}

func (s *SQLStore) ReleaseLock(id string) (bool, error) {
	return s.transition("ReleaseLock",
		"UPDATE tip SET status = ? WHERE id = ? AND status = ?",
		string(tipjar.TipPending), id, string(tipjar.TipLocked))
}

// transition runs a conditional UPDATE and reports whether it applied.
func (s *SQLStore) transition(where string, query string, args ...any) (bool, error) {
	res, err := s.db.Exec(s.q(query), args...)
	if err != nil {
		return false, s.d.translate(err, where+": executing update")
	}
	num_rows, err := res.RowsAffected()
	if err != nil {
		return false, s.d.translate(err, where+": res.RowsAffected")
	}
	return num_rows == 1, nil
}

func (s *SQLStore) FindStalePending(olderThan time.Time, limit int) ([]tipjar.Tip, error) {
	// last activity is the previous lock (if retried) or intake
	return s.queryTips("FindStalePending",
		"SELECT "+tipColumns+" FROM tip WHERE status = ? AND COALESCE(locked_at, created_at) < ? ORDER BY seq LIMIT ?",
		string(tipjar.TipPending), toNanos(olderThan), limit)
}

func (s *SQLStore) RevertStaleLocks(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(s.q("UPDATE tip SET status = ?, attempts = attempts + 1, failure_reason = ? WHERE status = ? AND locked_at < ?"),
		string(tipjar.TipPending), "lock expired", string(tipjar.TipLocked), toNanos(olderThan))
	if err != nil {
		return 0, s.d.translate(err, "RevertStaleLocks: executing update")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.d.translate(err, "RevertStaleLocks: res.RowsAffected")
	}
	return n, nil
}

func (s *SQLStore) FindUnsettled(limit int) ([]tipjar.Tip, error) {
	return s.queryTips("FindUnsettled",
		"SELECT "+tipColumns+" FROM tip WHERE status = ? AND effects_applied = ? ORDER BY seq LIMIT ?",
		string(tipjar.TipConfirmed), false, limit)
}

func (s *SQLStore) ListTipsByWallet(wallet tipjar.Address, cursor int64, limit int) ([]tipjar.Tip, int64, error) {
	return s.listTips("ListTipsByWallet",
		"SELECT "+tipColumns+" FROM tip WHERE (from_address = ? OR to_address = ?) AND seq >= ? ORDER BY seq LIMIT ?",
		limit, string(wallet), string(wallet), cursor, limit)
}

func (s *SQLStore) ListTipsByTarget(targetRef string, cursor int64, limit int) ([]tipjar.Tip, int64, error) {
	return s.listTips("ListTipsByTarget",
		"SELECT "+tipColumns+" FROM tip WHERE target_ref = ? AND seq >= ? ORDER BY seq LIMIT ?",
		limit, targetRef, cursor, limit)
}

// listTips MUST order by seq to support the cursor API: the next call
// resumes from next_cursor, and results stay stable as rows are added.
func (s *SQLStore) listTips(where string, query string, limit int, args ...any) (items []tipjar.Tip, next_cursor int64, err error) {
	rows, err := s.db.Query(s.q(query), args...)
	if err != nil {
		return nil, 0, s.d.translate(err, where+": querying tips")
	}
	defer rows.Close()
	rows_found := 0
	for rows.Next() {
		tip, seq, err := scanTip(rows)
		if err != nil {
			return nil, 0, s.d.translate(err, where+": scanning tip row")
		}
		items = append(items, tip)
		next_cursor = seq + 1 // NB. starting cursor for next call
		rows_found++
	}
	if err = rows.Err(); err != nil { // docs say this check is required!
		return nil, 0, s.d.translate(err, where+": querying tips")
	}
	if rows_found < limit {
		// in this backend, we know there are no more rows to follow.
		next_cursor = 0 // meaning "end of query results"
	}
	return items, next_cursor, nil
}

func (s *SQLStore) queryTips(where string, query string, args ...any) (result []tipjar.Tip, err error) {
	rows, err := s.db.Query(s.q(query), args...)
	if err != nil {
		return nil, s.d.translate(err, where+": querying tips")
	}
	defer rows.Close()
	for rows.Next() {
		tip, _, err := scanTip(rows)
		if err != nil {
			return nil, s.d.translate(err, where+": scanning tip row")
		}
		result = append(result, tip)
	}
	if err = rows.Err(); err != nil {
		return nil, s.d.translate(err, where+": querying tips")
	}
	return result, nil
}

func (s *SQLStore) RegisterTarget(target tipjar.Target) error {
	_, err := s.db.Exec(s.q(`INSERT INTO target (target_ref, owner_address, tip_count, tip_amount) VALUES (?, ?, 0, '0')
		ON CONFLICT (target_ref) DO UPDATE SET owner_address = excluded.owner_address`),
		target.Ref, string(target.Owner))
	if err != nil {
		return s.d.translate(err, "RegisterTarget: executing upsert")
	}
	return nil
}

func (s *SQLStore) GetTarget(targetRef string) (tipjar.Target, error) {
	row := s.db.QueryRow(s.q("SELECT target_ref, owner_address, tip_count, tip_amount FROM target WHERE target_ref = ?"), targetRef)
	var t tipjar.Target
	var owner, amount string
	err := row.Scan(&t.Ref, &owner, &t.TipCount, &amount)
	if err == sql.ErrNoRows {
		return tipjar.Target{}, tipjar.NewErr(tipjar.NotFound, "target not found: %s", targetRef)
	}
	if err != nil {
		return tipjar.Target{}, s.d.translate(err, "GetTarget: row.Scan")
	}
	t.Owner = tipjar.Address(owner)
	t.TipAmount, err = decimal.NewFromString(amount)
	if err != nil {
		return tipjar.Target{}, s.d.translate(err, fmt.Sprintf("GetTarget: invalid decimal tip_amount: %v", amount))
	}
	return t, nil
}

func (s *SQLStore) GetAgentStats(wallet tipjar.Address) (tipjar.AgentStats, error) {
	row := s.db.QueryRow(s.q(`SELECT tips_given_count, tips_given_amount, tips_received_count, tips_received_amount, reputation_score
		FROM agent_stats WHERE address = ?`), string(wallet))
	stats := tipjar.AgentStats{
		Address:            wallet,
		TipsGivenAmount:    tipjar.ZeroAmount,
		TipsReceivedAmount: tipjar.ZeroAmount,
		ReputationScore:    tipjar.ZeroAmount,
	}
	var given, received, reputation string
	err := row.Scan(&stats.TipsGivenCount, &given, &stats.TipsReceivedCount, &received, &reputation)
	if err == sql.ErrNoRows {
		return stats, nil // a wallet with no settled tips
	}
	if err != nil {
		return tipjar.AgentStats{}, s.d.translate(err, "GetAgentStats: row.Scan")
	}
	for _, f := range []struct {
		src string
		dst *decimal.Decimal
	}{{given, &stats.TipsGivenAmount}, {received, &stats.TipsReceivedAmount}, {reputation, &stats.ReputationScore}} {
		*f.dst, err = decimal.NewFromString(f.src)
		if err != nil {
			return tipjar.AgentStats{}, s.d.translate(err, fmt.Sprintf("GetAgentStats: invalid decimal: %v", f.src))
		}
	}
	return stats, nil
}

func (s *SQLStore) Begin() (tipjar.StoreTransaction, error) {
	tx, err := s.db.BeginTx(context.Background(), s.d.txOptions)
	if err != nil {
		return nil, s.d.translate(err, "Begin")
	}
	return &SQLStoreTransaction{tx: tx, d: s.d}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTip(row rowScanner) (tipjar.Tip, int64, error) {
	var tip tipjar.Tip
	var from, to, claimed, status string
	var verified sql.NullString
	var block, lockedAt, settledAt, appliedAt sql.NullInt64
	var createdAt, seq int64
	err := row.Scan(&tip.ID, &tip.ChainTxID, &from, &to, &claimed, &tip.TokenSymbol, &tip.TargetRef, &tip.Message,
		&status, &verified, &block, &tip.FailureReason, &tip.Attempts, &tip.EffectsApplied,
		&createdAt, &lockedAt, &settledAt, &appliedAt, &seq)
	if err != nil {
		return tipjar.Tip{}, 0, err
	}
	tip.FromAddress = tipjar.Address(from)
	tip.ToAddress = tipjar.Address(to)
	tip.Status = tipjar.TipStatus(status)
	tip.ClaimedAmount, err = decimal.NewFromString(claimed)
	if err != nil {
		return tipjar.Tip{}, 0, fmt.Errorf("invalid decimal claimed_amount %q: %w", claimed, err)
	}
	tip.VerifiedAmount = tipjar.ZeroAmount
	if verified.Valid {
		tip.VerifiedAmount, err = decimal.NewFromString(verified.String)
		if err != nil {
			return tipjar.Tip{}, 0, fmt.Errorf("invalid decimal verified_amount %q: %w", verified.String, err)
		}
	}
	if block.Valid {
		tip.VerifiedBlockNumber = uint64(block.Int64)
	}
	tip.CreatedAt = fromNanos(sql.NullInt64{Int64: createdAt, Valid: true})
	tip.LockedAt = fromNanos(lockedAt)
	tip.SettledAt = fromNanos(settledAt)
	tip.EffectsAppliedAt = fromNanos(appliedAt)
	return tip, seq, nil
}

func toNanos(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64).UTC()
}
