/*
store.go - Persistence interface for accounts, ledger entries, and payments

PURPOSE:
  Defines the interface between the credit engine and the database.
  Implementations exist for in-memory (credit/store), SQLite
  (store/sqlite), and PostgreSQL (store/postgres).

APPEND-ONLY CONTRACT:
  The ledger surface is append-only:
  - AppendEntry(): the ONLY ledger write
  - NO update or delete methods exist for entries
  Corrections are made with new entries (refund/admin), never edits.

ATOMICITY:
  Atomic(ctx, fn) runs fn against a transactional view of the store.
  Everything fn writes is applied as one unit, or not at all. While fn
  runs, no concurrent Atomic section may observe or interleave with its
  reads and writes on the same account - this is what makes two
  concurrent debits on one account serialize instead of both reading the
  same pre-debit balance.

UNIQUENESS GUARDS:
  - payments.charge_id carries a unique constraint; InsertPayment returns
    ErrDuplicateCharge on collision. This is the sole concurrency guard
    the payment store needs.
  - ledger entries receive a store-assigned monotonically increasing Seq.

IMPLEMENTATIONS:
  - credit/store/memory.go: mutex + snapshot/rollback (tests, dev)
  - store/sqlite/sqlite.go: store mutex + SQL transaction
  - store/postgres/postgres.go: row locks (SELECT ... FOR UPDATE)
*/
package credit

import (
	"context"
	"time"
)

// Store handles persistence for the three record kinds the engine owns.
//
// Error contract:
//   - GetAccount:      ErrAccountNotFound when absent
//   - InsertPayment:   ErrDuplicateCharge when the charge id exists
//   - PaymentByCharge: ErrPaymentNotFound when absent
//   - anything else:   wrapped as *StorageError (transient, retryable)
type Store interface {
	// --- Accounts ---

	// GetAccount loads one account.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// PutAccount inserts or fully replaces an account record.
	PutAccount(ctx context.Context, acct *Account) error

	// --- Ledger (append-only) ---

	// AppendEntry persists one entry and assigns entry.Seq.
	AppendEntry(ctx context.Context, entry *LedgerEntry) error

	// Entries returns all entries for an account in Seq order (ascending).
	Entries(ctx context.Context, id AccountID) ([]LedgerEntry, error)

	// --- Payments ---

	// InsertPayment persists a new payment record.
	InsertPayment(ctx context.Context, rec *PaymentRecord) error

	// PaymentByCharge looks up a payment by its provider charge id.
	PaymentByCharge(ctx context.Context, chargeID string) (*PaymentRecord, error)

	// SetPaymentStatus transitions a payment's status.
	SetPaymentStatus(ctx context.Context, chargeID string, status PaymentStatus, at time.Time) error

	// Payments returns an account's payments newest-first.
	// limit <= 0 means no limit.
	Payments(ctx context.Context, id AccountID, limit, offset int) ([]PaymentRecord, error)

	// --- Atomicity ---

	// Atomic executes fn against a transactional view. If fn returns an
	// error the unit is rolled back and the error is returned unchanged.
	// Nested Atomic calls are not supported.
	Atomic(ctx context.Context, fn func(Store) error) error
}
