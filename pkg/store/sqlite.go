package store

import (
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"
	tipjar "github.com/surgesocial/tipjar/pkg"
)

var SETUP_SQL string = `
CREATE TABLE IF NOT EXISTS tip (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	chain_tx_id TEXT NOT NULL UNIQUE,
	from_address TEXT NOT NULL,
	to_address TEXT NOT NULL,
	claimed_amount TEXT NOT NULL,
	token_symbol TEXT NOT NULL,
	target_ref TEXT NOT NULL,
	message TEXT NOT NULL,
	status TEXT NOT NULL,
	verified_amount TEXT,
	verified_block INTEGER,
	failure_reason TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	effects_applied BOOLEAN NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	locked_at INTEGER,
	settled_at INTEGER,
	effects_applied_at INTEGER
);
CREATE INDEX IF NOT EXISTS tip_status_i ON tip (status);
CREATE INDEX IF NOT EXISTS tip_from_i ON tip (from_address);
CREATE INDEX IF NOT EXISTS tip_to_i ON tip (to_address);
CREATE INDEX IF NOT EXISTS tip_target_i ON tip (target_ref);

CREATE TABLE IF NOT EXISTS target (
	target_ref TEXT NOT NULL PRIMARY KEY,
	owner_address TEXT NOT NULL,
	tip_count INTEGER NOT NULL DEFAULT 0,
	tip_amount TEXT NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS agent_stats (
	address TEXT NOT NULL PRIMARY KEY,
	tips_given_count INTEGER NOT NULL DEFAULT 0,
	tips_given_amount TEXT NOT NULL DEFAULT '0',
	tips_received_count INTEGER NOT NULL DEFAULT 0,
	tips_received_amount TEXT NOT NULL DEFAULT '0',
	reputation_score TEXT NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS wallet_txn (
	wallet TEXT NOT NULL,
	chain_tx_id TEXT NOT NULL,
	tip_id TEXT NOT NULL,
	direction TEXT NOT NULL,
	counterparty TEXT NOT NULL,
	amount TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (chain_tx_id, direction)
);
CREATE INDEX IF NOT EXISTS wallet_txn_wallet_i ON wallet_txn (wallet);
`

var sqliteDialect = dialect{
	name:      "sqlite",
	translate: sqliteErr,
}

// NewSQLiteStore returns a tipjar.Store implementor that uses sqlite.
// fileName may be ":memory:" (tests).
func NewSQLiteStore(fileName string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", fileName)
	if err != nil {
		return nil, sqliteErr(err, "opening database")
	}
	// sqlite serializes writers anyway, and each :memory: connection
	// would otherwise be a separate empty database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	// init tables / indexes
	_, err = db.Exec(SETUP_SQL)
	if err != nil {
		db.Close()
		return nil, sqliteErr(err, "creating database schema")
	}
	return &SQLStore{db: db, d: sqliteDialect}, nil
}

func sqliteErr(err error, where string) error {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		if sqErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			// MUST detect 'AlreadyExists' to fulfil the API contract!
			return tipjar.NewErr(tipjar.AlreadyExists, "SQLiteStore error: %s: %v", where, err)
		}
		if sqErr.Code == sqlite3.ErrBusy || sqErr.Code == sqlite3.ErrLocked {
			// Another process holds the write lock: the caller should retry.
			return tipjar.NewErr(tipjar.DBConflict, "SQLiteStore error: %s: %v", where, err)
		}
	}
	return tipjar.NewErr(tipjar.NotAvailable, "SQLiteStore error: %s: %v", where, err)
}
