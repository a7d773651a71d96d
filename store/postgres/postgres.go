/*
Package postgres provides a pgx-backed implementation of credit.Store.

PURPOSE:
  Production storage for multi-process deployments. The SQLite store
  serializes everything behind one mutex; here per-account
  serializability comes from row locks instead, so two processes can
  debit two different accounts concurrently but never the same one.

LOCKING:
  Atomic opens a transaction and the transactional view's GetAccount
  uses SELECT ... FOR UPDATE. Every mutation starts by loading the
  account, so the row lock is the serialization point.

UNIQUENESS GUARDS:
  payments.charge_id carries a UNIQUE constraint; violations (SQLSTATE
  23505) are classified into credit.DuplicateChargeError so the engine
  can resolve duplicate-recording races.

SEE ALSO:
  - store/postgres/migrate.go: goose migration runner
  - store/sqlite: single-file implementation with the same shape
*/
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OxFrancesco/BuddyImagine/credit"
)

// Store implements credit.Store using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and runs pending migrations.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, &credit.StorageError{Op: "postgres: connect", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &credit.StorageError{Op: "postgres: ping", Err: err}
	}
	if err := Migrate(ctx, dsn); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, balance::text, username, first_name, last_name,
	default_model, telegram_quality, save_uncompressed, notify_low_credits,
	low_credit_threshold::text, created_at, updated_at`

func (s *Store) GetAccount(ctx context.Context, id credit.AccountID) (*credit.Account, error) {
	return getAccount(ctx, s.pool, id, false)
}

func getAccount(ctx context.Context, q querier, id credit.AccountID, forUpdate bool) (*credit.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	row := q.QueryRow(ctx, query, string(id))

	var (
		acct            credit.Account
		idStr           string
		balance, thresh string
	)
	err := row.Scan(&idStr, &balance, &acct.Profile.Username, &acct.Profile.FirstName,
		&acct.Profile.LastName, &acct.Profile.DefaultModel, &acct.Settings.TelegramQuality,
		&acct.Settings.SaveUncompressed, &acct.Settings.NotifyLowCredits,
		&thresh, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credit.ErrAccountNotFound
	}
	if err != nil {
		return nil, &credit.StorageError{Op: "postgres: get account", Err: err}
	}

	acct.ID = credit.AccountID(idStr)
	if acct.Balance, err = credit.ParseAmount(balance); err != nil {
		return nil, &credit.StorageError{Op: "postgres: parse balance", Err: err}
	}
	if acct.Settings.LowCreditThreshold, err = credit.ParseAmount(thresh); err != nil {
		return nil, &credit.StorageError{Op: "postgres: parse threshold", Err: err}
	}
	return &acct, nil
}

func (s *Store) PutAccount(ctx context.Context, acct *credit.Account) error {
	return putAccount(ctx, s.pool, acct)
}

func putAccount(ctx context.Context, q querier, acct *credit.Account) error {
	_, err := q.Exec(ctx, `
		INSERT INTO accounts
		(id, balance, username, first_name, last_name, default_model,
		 telegram_quality, save_uncompressed, notify_low_credits,
		 low_credit_threshold, created_at, updated_at)
		VALUES ($1, $2::numeric, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			balance = EXCLUDED.balance,
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			default_model = EXCLUDED.default_model,
			telegram_quality = EXCLUDED.telegram_quality,
			save_uncompressed = EXCLUDED.save_uncompressed,
			notify_low_credits = EXCLUDED.notify_low_credits,
			low_credit_threshold = EXCLUDED.low_credit_threshold,
			updated_at = EXCLUDED.updated_at`,
		string(acct.ID),
		acct.Balance.String(),
		acct.Profile.Username,
		acct.Profile.FirstName,
		acct.Profile.LastName,
		acct.Profile.DefaultModel,
		acct.Settings.TelegramQuality,
		acct.Settings.SaveUncompressed,
		acct.Settings.NotifyLowCredits,
		acct.Settings.LowCreditThreshold.String(),
		acct.CreatedAt,
		acct.UpdatedAt,
	)
	if err != nil {
		return &credit.StorageError{Op: "postgres: put account", Err: err}
	}
	return nil
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, entry *credit.LedgerEntry) error {
	return appendEntry(ctx, s.pool, entry)
}

func appendEntry(ctx context.Context, q querier, entry *credit.LedgerEntry) error {
	row := q.QueryRow(ctx, `
		INSERT INTO ledger_entries
		(id, account_id, amount, balance_after, category, description,
		 model_used, artifact_ref, charge_id, created_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7, $8, $9, $10)
		RETURNING seq`,
		string(entry.ID),
		string(entry.AccountID),
		entry.Amount.String(),
		entry.BalanceAfter.String(),
		string(entry.Category),
		entry.Description,
		entry.ModelUsed,
		entry.ArtifactRef,
		entry.ChargeID,
		entry.CreatedAt,
	)
	if err := row.Scan(&entry.Seq); err != nil {
		return &credit.StorageError{Op: "postgres: append entry", Err: err}
	}
	return nil
}

func (s *Store) Entries(ctx context.Context, id credit.AccountID) ([]credit.LedgerEntry, error) {
	return queryEntries(ctx, s.pool, id)
}

func queryEntries(ctx context.Context, q querier, id credit.AccountID) ([]credit.LedgerEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT seq, id, account_id, amount::text, balance_after::text, category,
		       description, model_used, artifact_ref, charge_id, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY seq ASC`, string(id))
	if err != nil {
		return nil, &credit.StorageError{Op: "postgres: query entries", Err: err}
	}
	defer rows.Close()

	var entries []credit.LedgerEntry
	for rows.Next() {
		var (
			e                              credit.LedgerEntry
			idStr, acctID, amount, balance string
		)
		if err := rows.Scan(&e.Seq, &idStr, &acctID, &amount, &balance, &e.Category,
			&e.Description, &e.ModelUsed, &e.ArtifactRef, &e.ChargeID, &e.CreatedAt); err != nil {
			return nil, &credit.StorageError{Op: "postgres: scan entry", Err: err}
		}
		e.ID = credit.EntryID(idStr)
		e.AccountID = credit.AccountID(acctID)
		if e.Amount, err = credit.ParseAmount(amount); err != nil {
			return nil, &credit.StorageError{Op: "postgres: parse amount", Err: err}
		}
		if e.BalanceAfter, err = credit.ParseAmount(balance); err != nil {
			return nil, &credit.StorageError{Op: "postgres: parse balance_after", Err: err}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &credit.StorageError{Op: "postgres: iterate entries", Err: err}
	}
	return entries, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, account_id, amount_cents, currency, credits::text,
	package_id, charge_id, provider_ref, status, created_at, refunded_at`

func (s *Store) InsertPayment(ctx context.Context, rec *credit.PaymentRecord) error {
	return insertPayment(ctx, s.pool, rec)
}

func insertPayment(ctx context.Context, q querier, rec *credit.PaymentRecord) error {
	_, err := q.Exec(ctx, `
		INSERT INTO payments
		(id, account_id, amount_cents, currency, credits, package_id,
		 charge_id, provider_ref, status, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10)`,
		rec.ID,
		string(rec.AccountID),
		rec.AmountCents,
		rec.Currency,
		rec.Credits.String(),
		rec.PackageID,
		rec.ChargeID,
		rec.ProviderRef,
		string(rec.Status),
		rec.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &credit.DuplicateChargeError{ChargeID: rec.ChargeID}
		}
		return &credit.StorageError{Op: "postgres: insert payment", Err: err}
	}
	return nil
}

func (s *Store) PaymentByCharge(ctx context.Context, chargeID string) (*credit.PaymentRecord, error) {
	return paymentByCharge(ctx, s.pool, chargeID)
}

func paymentByCharge(ctx context.Context, q querier, chargeID string) (*credit.PaymentRecord, error) {
	row := q.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE charge_id = $1`, chargeID)
	rec, err := scanPayment(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credit.ErrPaymentNotFound
	}
	return rec, err
}

func scanPayment(scan func(dest ...any) error) (*credit.PaymentRecord, error) {
	var (
		rec        credit.PaymentRecord
		acctID     string
		credits    string
		refundedAt *time.Time
	)
	err := scan(&rec.ID, &acctID, &rec.AmountCents, &rec.Currency, &credits,
		&rec.PackageID, &rec.ChargeID, &rec.ProviderRef, &rec.Status, &rec.CreatedAt, &refundedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, &credit.StorageError{Op: "postgres: scan payment", Err: err}
	}
	rec.AccountID = credit.AccountID(acctID)
	if rec.Credits, err = credit.ParseAmount(credits); err != nil {
		return nil, &credit.StorageError{Op: "postgres: parse credits", Err: err}
	}
	if refundedAt != nil {
		rec.RefundedAt = *refundedAt
	}
	return &rec, nil
}

func (s *Store) SetPaymentStatus(ctx context.Context, chargeID string, status credit.PaymentStatus, at time.Time) error {
	return setPaymentStatus(ctx, s.pool, chargeID, status, at)
}

func setPaymentStatus(ctx context.Context, q querier, chargeID string, status credit.PaymentStatus, at time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE payments SET status = $1, refunded_at = $2 WHERE charge_id = $3`,
		string(status), at, chargeID)
	if err != nil {
		return &credit.StorageError{Op: "postgres: set payment status", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return credit.ErrPaymentNotFound
	}
	return nil
}

func (s *Store) Payments(ctx context.Context, id credit.AccountID, limit, offset int) ([]credit.PaymentRecord, error) {
	return queryPayments(ctx, s.pool, id, limit, offset)
}

func queryPayments(ctx context.Context, q querier, id credit.AccountID, limit, offset int) ([]credit.PaymentRecord, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2`
	args := []any{string(id), offset}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, &credit.StorageError{Op: "postgres: query payments", Err: err}
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
		return nil, &credit.StorageError{Op: "postgres: iterate payments", Err: err}
	}
	return out, nil
}

// =============================================================================
// ATOMIC
// =============================================================================

// Atomic runs fn inside one transaction. The transactional view's
// account reads take row locks (FOR UPDATE), so concurrent mutations of
// the same account serialize at the database.
func (s *Store) Atomic(ctx context.Context, fn func(credit.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &credit.StorageError{Op: "postgres: begin tx", Err: err}
	}
	defer tx.Rollback(ctx)

	view := &txStore{tx: tx}
	if err := fn(view); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &credit.StorageError{Op: "postgres: commit", Err: err}
	}
	return nil
}

type txStore struct {
	tx pgx.Tx
}

func (t *txStore) GetAccount(ctx context.Context, id credit.AccountID) (*credit.Account, error) {
	return getAccount(ctx, t.tx, id, true)
}

func (t *txStore) PutAccount(ctx context.Context, acct *credit.Account) error {
	return putAccount(ctx, t.tx, acct)
}

func (t *txStore) AppendEntry(ctx context.Context, entry *credit.LedgerEntry) error {
	return appendEntry(ctx, t.tx, entry)
}

func (t *txStore) Entries(ctx context.Context, id credit.AccountID) ([]credit.LedgerEntry, error) {
	return queryEntries(ctx, t.tx, id)
}

func (t *txStore) InsertPayment(ctx context.Context, rec *credit.PaymentRecord) error {
	return insertPayment(ctx, t.tx, rec)
}

func (t *txStore) PaymentByCharge(ctx context.Context, chargeID string) (*credit.PaymentRecord, error) {
	return paymentByCharge(ctx, t.tx, chargeID)
}

func (t *txStore) SetPaymentStatus(ctx context.Context, chargeID string, status credit.PaymentStatus, at time.Time) error {
	return setPaymentStatus(ctx, t.tx, chargeID, status, at)
}

func (t *txStore) Payments(ctx context.Context, id credit.AccountID, limit, offset int) ([]credit.PaymentRecord, error) {
	return queryPayments(ctx, t.tx, id, limit, offset)
}

func (t *txStore) Atomic(ctx context.Context, fn func(credit.Store) error) error {
	return fn(t)
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
