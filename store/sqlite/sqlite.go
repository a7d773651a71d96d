/*
Package sqlite provides a SQLite-backed implementation of credit.Store.

PURPOSE:
  Durable single-file storage for the credit engine. The same patterns
  apply to PostgreSQL (see store/postgres) - only dialect and locking
  differ.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements exist for ledger_entries.
  - payments only ever receives a status UPDATE (completed -> refunded).

UNIQUENESS GUARDS:
  - payments.charge_id UNIQUE index: the payment dedupe guard. Violations
    are classified into credit.DuplicateChargeError.
  - ledger_entries.seq AUTOINCREMENT: the creation order that totally
    orders every account's history.

CONCURRENCY:
  A store-level mutex serializes Atomic sections, and each section runs
  inside one SQL transaction, so a rolled-back unit leaves nothing
  behind.

WAL MODE:
  Opened with WAL so readers don't block during writes.

USAGE:
  st, err := sqlite.New("./data/credits.db")  // or ":memory:" for tests
  if err != nil { ... }
  defer st.Close()
  ledger := credit.NewLedger(st)

SEE ALSO:
  - credit/store.go: interface contract
  - credit/store/memory.go: in-memory implementation
  - store/postgres: pgx implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/OxFrancesco/BuddyImagine/credit"
)

// Store implements credit.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a SQLite store at dbPath. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The mutex serializes writes; keep the pool at one connection so
	// ":memory:" databases see a single shared schema.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		balance TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		default_model TEXT NOT NULL DEFAULT '',
		telegram_quality TEXT NOT NULL DEFAULT 'uncompressed',
		save_uncompressed INTEGER NOT NULL DEFAULT 0,
		notify_low_credits INTEGER NOT NULL DEFAULT 1,
		low_credit_threshold TEXT NOT NULL DEFAULT '10',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Append-only ledger. seq is the total creation order; replaying a
	-- single account's rows in seq order must reproduce every
	-- balance_after.
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		model_used TEXT NOT NULL DEFAULT '',
		artifact_ref TEXT NOT NULL DEFAULT '',
		charge_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_account
		ON ledger_entries(account_id, seq);
	CREATE INDEX IF NOT EXISTS idx_entries_account_category
		ON ledger_entries(account_id, category);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		currency TEXT NOT NULL,
		credits TEXT NOT NULL,
		package_id TEXT NOT NULL DEFAULT '',
		charge_id TEXT NOT NULL,
		provider_ref TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'completed',
		created_at TEXT NOT NULL,
		refunded_at TEXT
	);

	-- CRITICAL: the dedupe guard. A provider retry that re-submits the
	-- same charge id must hit this constraint, never credit twice.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_charge
		ON payments(charge_id);
	CREATE INDEX IF NOT EXISTS idx_payments_account
		ON payments(account_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id credit.AccountID) (*credit.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getAccount(ctx, s.db, id)
}

func getAccount(ctx context.Context, q querier, id credit.AccountID) (*credit.Account, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, balance, username, first_name, last_name, default_model,
		       telegram_quality, save_uncompressed, notify_low_credits,
		       low_credit_threshold, created_at, updated_at
		FROM accounts WHERE id = ?`, string(id))
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*credit.Account, error) {
	var (
		acct                       credit.Account
		idStr, balance, threshold  string
		saveUncompressed, notifyLC int
		createdAt, updatedAt       string
	)
	err := row.Scan(&idStr, &balance, &acct.Profile.Username, &acct.Profile.FirstName,
		&acct.Profile.LastName, &acct.Profile.DefaultModel, &acct.Settings.TelegramQuality,
		&saveUncompressed, &notifyLC, &threshold, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, credit.ErrAccountNotFound
	}
	if err != nil {
		return nil, &credit.StorageError{Op: "sqlite: get account", Err: err}
	}

	acct.ID = credit.AccountID(idStr)
	if acct.Balance, err = credit.ParseAmount(balance); err != nil {
		return nil, &credit.StorageError{Op: "sqlite: parse balance", Err: err}
	}
	if acct.Settings.LowCreditThreshold, err = credit.ParseAmount(threshold); err != nil {
		return nil, &credit.StorageError{Op: "sqlite: parse threshold", Err: err}
	}
	acct.Settings.SaveUncompressed = saveUncompressed != 0
	acct.Settings.NotifyLowCredits = notifyLC != 0
	acct.CreatedAt = parseTime(createdAt)
	acct.UpdatedAt = parseTime(updatedAt)
	return &acct, nil
}

func (s *Store) PutAccount(ctx context.Context, acct *credit.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putAccount(ctx, s.db, acct)
}

func putAccount(ctx context.Context, q querier, acct *credit.Account) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO accounts
		(id, balance, username, first_name, last_name, default_model,
		 telegram_quality, save_uncompressed, notify_low_credits,
		 low_credit_threshold, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			balance = excluded.balance,
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			default_model = excluded.default_model,
			telegram_quality = excluded.telegram_quality,
			save_uncompressed = excluded.save_uncompressed,
			notify_low_credits = excluded.notify_low_credits,
			low_credit_threshold = excluded.low_credit_threshold,
			updated_at = excluded.updated_at`,
		string(acct.ID),
		acct.Balance.String(),
		acct.Profile.Username,
		acct.Profile.FirstName,
		acct.Profile.LastName,
		acct.Profile.DefaultModel,
		acct.Settings.TelegramQuality,
		boolInt(acct.Settings.SaveUncompressed),
		boolInt(acct.Settings.NotifyLowCredits),
		acct.Settings.LowCreditThreshold.String(),
		formatTime(acct.CreatedAt),
		formatTime(acct.UpdatedAt),
	)
	if err != nil {
		return &credit.StorageError{Op: "sqlite: put account", Err: err}
	}
	return nil
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, entry *credit.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, entry)
}

func appendEntry(ctx context.Context, q querier, entry *credit.LedgerEntry) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, account_id, amount, balance_after, category, description,
		 model_used, artifact_ref, charge_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(entry.ID),
		string(entry.AccountID),
		entry.Amount.String(),
		entry.BalanceAfter.String(),
		string(entry.Category),
		entry.Description,
		entry.ModelUsed,
		entry.ArtifactRef,
		entry.ChargeID,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return &credit.StorageError{Op: "sqlite: append entry", Err: err}
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return &credit.StorageError{Op: "sqlite: entry seq", Err: err}
	}
	entry.Seq = seq
	return nil
}

func (s *Store) Entries(ctx context.Context, id credit.AccountID) ([]credit.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryEntries(ctx, s.db, id)
}

func queryEntries(ctx context.Context, q querier, id credit.AccountID) ([]credit.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT seq, id, account_id, amount, balance_after, category,
		       description, model_used, artifact_ref, charge_id, created_at
		FROM ledger_entries
		WHERE account_id = ?
		ORDER BY seq ASC`, string(id))
	if err != nil {
		return nil, &credit.StorageError{Op: "sqlite: query entries", Err: err}
	}
	defer rows.Close()

	var entries []credit.LedgerEntry
	for rows.Next() {
		var (
			e                              credit.LedgerEntry
			idStr, acctID, amount, balance string
			createdAt                      string
		)
		if err := rows.Scan(&e.Seq, &idStr, &acctID, &amount, &balance, &e.Category,
			&e.Description, &e.ModelUsed, &e.ArtifactRef, &e.ChargeID, &createdAt); err != nil {
			return nil, &credit.StorageError{Op: "sqlite: scan entry", Err: err}
		}
		e.ID = credit.EntryID(idStr)
		e.AccountID = credit.AccountID(acctID)
		if e.Amount, err = credit.ParseAmount(amount); err != nil {
			return nil, &credit.StorageError{Op: "sqlite: parse amount", Err: err}
		}
		if e.BalanceAfter, err = credit.ParseAmount(balance); err != nil {
			return nil, &credit.StorageError{Op: "sqlite: parse balance_after", Err: err}
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &credit.StorageError{Op: "sqlite: iterate entries", Err: err}
	}
	return entries, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) InsertPayment(ctx context.Context, rec *credit.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPayment(ctx, s.db, rec)
}

func insertPayment(ctx context.Context, q querier, rec *credit.PaymentRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO payments
		(id, account_id, amount_cents, currency, credits, package_id,
		 charge_id, provider_ref, status, created_at, refunded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		rec.ID,
		string(rec.AccountID),
		rec.AmountCents,
		rec.Currency,
		rec.Credits.String(),
		rec.PackageID,
		rec.ChargeID,
		rec.ProviderRef,
		string(rec.Status),
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &credit.DuplicateChargeError{ChargeID: rec.ChargeID}
		}
		return &credit.StorageError{Op: "sqlite: insert payment", Err: err}
	}
	return nil
}

const paymentColumns = `id, account_id, amount_cents, currency, credits,
	package_id, charge_id, provider_ref, status, created_at, refunded_at`

func (s *Store) PaymentByCharge(ctx context.Context, chargeID string) (*credit.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return paymentByCharge(ctx, s.db, chargeID)
}

func paymentByCharge(ctx context.Context, q querier, chargeID string) (*credit.PaymentRecord, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE charge_id = ?`, chargeID)
	rec, err := scanPayment(row.Scan)
	if err == sql.ErrNoRows {
		return nil, credit.ErrPaymentNotFound
	}
	return rec, err
}

func scanPayment(scan func(dest ...any) error) (*credit.PaymentRecord, error) {
	var (
		rec             credit.PaymentRecord
		acctID, credits string
		createdAt       string
		refundedAt      sql.NullString
	)
	err := scan(&rec.ID, &acctID, &rec.AmountCents, &rec.Currency, &credits,
		&rec.PackageID, &rec.ChargeID, &rec.ProviderRef, &rec.Status, &createdAt, &refundedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, &credit.StorageError{Op: "sqlite: scan payment", Err: err}
	}
	rec.AccountID = credit.AccountID(acctID)
	if rec.Credits, err = credit.ParseAmount(credits); err != nil {
		return nil, &credit.StorageError{Op: "sqlite: parse credits", Err: err}
	}
	rec.CreatedAt = parseTime(createdAt)
	if refundedAt.Valid {
		rec.RefundedAt = parseTime(refundedAt.String)
	}
	return &rec, nil
}

func (s *Store) SetPaymentStatus(ctx context.Context, chargeID string, status credit.PaymentStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setPaymentStatus(ctx, s.db, chargeID, status, at)
}

func setPaymentStatus(ctx context.Context, q querier, chargeID string, status credit.PaymentStatus, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE payments SET status = ?, refunded_at = ? WHERE charge_id = ?`,
		string(status), formatTime(at), chargeID)
	if err != nil {
		return &credit.StorageError{Op: "sqlite: set payment status", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &credit.StorageError{Op: "sqlite: set payment status", Err: err}
	}
	if n == 0 {
		return credit.ErrPaymentNotFound
	}
	return nil
}

func (s *Store) Payments(ctx context.Context, id credit.AccountID, limit, offset int) ([]credit.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryPayments(ctx, s.db, id, limit, offset)
}

func queryPayments(ctx context.Context, q querier, id credit.AccountID, limit, offset int) ([]credit.PaymentRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE account_id = ?
		ORDER BY rowid DESC
		LIMIT ? OFFSET ?`, string(id), limit, offset)
	if err != nil {
		return nil, &credit.StorageError{Op: "sqlite: query payments", Err: err}
	}
	defer rows.Close()

	var out []credit.PaymentRecord
	for rows.Next() {
		rec, err := scanPayment(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &credit.StorageError{Op: "sqlite: iterate payments", Err: err}
	}
	return out, nil
}

// =============================================================================
// ATOMIC
// =============================================================================

// Atomic runs fn inside one SQL transaction while holding the store
// mutex. Rollback on error leaves no partial writes.
func (s *Store) Atomic(ctx context.Context, fn func(credit.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &credit.StorageError{Op: "sqlite: begin tx", Err: err}
	}
	defer sqlTx.Rollback()

	view := &txStore{q: sqlTx}
	if err := fn(view); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return &credit.StorageError{Op: "sqlite: commit", Err: err}
	}
	return nil
}

// txStore runs every operation against the open transaction.
type txStore struct {
	q querier
}

func (t *txStore) GetAccount(ctx context.Context, id credit.AccountID) (*credit.Account, error) {
	return getAccount(ctx, t.q, id)
}

func (t *txStore) PutAccount(ctx context.Context, acct *credit.Account) error {
	return putAccount(ctx, t.q, acct)
}

func (t *txStore) AppendEntry(ctx context.Context, entry *credit.LedgerEntry) error {
	return appendEntry(ctx, t.q, entry)
}

func (t *txStore) Entries(ctx context.Context, id credit.AccountID) ([]credit.LedgerEntry, error) {
	return queryEntries(ctx, t.q, id)
}

func (t *txStore) InsertPayment(ctx context.Context, rec *credit.PaymentRecord) error {
	return insertPayment(ctx, t.q, rec)
}

func (t *txStore) PaymentByCharge(ctx context.Context, chargeID string) (*credit.PaymentRecord, error) {
	return paymentByCharge(ctx, t.q, chargeID)
}

func (t *txStore) SetPaymentStatus(ctx context.Context, chargeID string, status credit.PaymentStatus, at time.Time) error {
	return setPaymentStatus(ctx, t.q, chargeID, status, at)
}

func (t *txStore) Payments(ctx context.Context, id credit.AccountID, limit, offset int) ([]credit.PaymentRecord, error) {
	return queryPayments(ctx, t.q, id, limit, offset)
}

func (t *txStore) Atomic(ctx context.Context, fn func(credit.Store) error) error {
	return fn(t)
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
