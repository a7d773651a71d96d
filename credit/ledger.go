/*
ledger.go - The reconciliation service: all balance mutations live here

PURPOSE:
  Ties the account store, ledger log, and payment store together. Every
  mutation follows the same shape: read inside an atomic unit, validate,
  write the new balance and exactly one ledger entry together.

THE DEBIT/CREDIT PROTOCOL:
  Debit:
    1. AccountNotFound if the account does not exist.
    2. InsufficientBalanceError (no mutation, current balance echoed back)
       if amount > balance.
    3. Otherwise balance -= amount and one entry with Amount = -amount,
       BalanceAfter = new balance, written atomically.
  Credit is the symmetric unconditional operation. Refund is a credit with
  category "refund"; it never requires a matching debit to exist.

PAYMENT RECONCILIATION:
  RecordPayment inserts the payment record AND applies the purchase credit
  in one atomic unit, keyed by the provider charge id. A repeat call with
  the same charge id returns the existing record with AlreadyRecorded set
  - never a second credit. MarkRefunded flips the record's status and
  deliberately does NOT reverse the credited balance; reversing credits is
  a separate, caller-driven Refund/Debit decision.

CONCURRENCY:
  Per-account serializability comes from Store.Atomic: two concurrent
  debits against one account cannot both observe the same pre-debit
  balance. Payment dedupe rides on the charge-id unique constraint, not on
  account identity, so one account can submit two distinct charges
  concurrently.

SEE ALSO:
  - account.go: account lifecycle and profile/settings operations
  - summary.go: derived read-only views
*/
package credit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER SERVICE
// =============================================================================

// Ledger is the reconciliation service over a Store.
type Ledger struct {
	store Store
	clock Clock
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces the system clock (used by tests).
func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// NewLedger creates the reconciliation service.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, clock: SystemClock()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// =============================================================================
// RESULTS AND INPUTS
// =============================================================================

// Refs carries optional references attached to a ledger entry.
type Refs struct {
	Model    string // generation model a debit paid for
	Artifact string // stored artifact key
	Charge   string // provider charge id (purchase entries)
}

// MutationResult reports a successful balance mutation.
type MutationResult struct {
	NewBalance Amount
	Entry      *LedgerEntry
}

// PaymentInput is everything a provider callback supplies to RecordPayment.
type PaymentInput struct {
	AccountID   AccountID
	AmountCents int64
	Currency    string
	Credits     Amount
	PackageID   string
	ChargeID    string
	ProviderRef string
}

// =============================================================================
// DEBIT / CREDIT / REFUND
// =============================================================================

// Debit removes amount credits from an account.
// Fails with ErrAccountNotFound or *InsufficientBalanceError; on failure
// neither the balance nor the log is touched.
func (l *Ledger) Debit(ctx context.Context, id AccountID, amount Amount, category Category, description string, refs Refs) (*MutationResult, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !ValidCategory(category) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}

	var result *MutationResult
	err := l.store.Atomic(ctx, func(s Store) error {
		acct, err := s.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if amount.GreaterThan(acct.Balance) {
			return &InsufficientBalanceError{
				AccountID: id,
				Requested: amount,
				Balance:   acct.Balance,
			}
		}

		newBalance := acct.Balance.Sub(amount)
		res, err := l.apply(ctx, s, acct, newBalance, amount.Neg(), category, description, refs)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Credit adds amount credits to an account. Unconditional: fails only with
// ErrAccountNotFound (or storage failure).
func (l *Ledger) Credit(ctx context.Context, id AccountID, amount Amount, category Category, description string) (*MutationResult, error) {
	return l.creditWithRefs(ctx, id, amount, category, description, Refs{})
}

// Refund is a convenience credit with category "refund". It does not
// require a prior matching debit: the system never tries to pair refunds
// with specific debits.
func (l *Ledger) Refund(ctx context.Context, id AccountID, amount Amount, description string) (*MutationResult, error) {
	return l.creditWithRefs(ctx, id, amount, CategoryRefund, description, Refs{})
}

func (l *Ledger) creditWithRefs(ctx context.Context, id AccountID, amount Amount, category Category, description string, refs Refs) (*MutationResult, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !ValidCategory(category) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}

	var result *MutationResult
	err := l.store.Atomic(ctx, func(s Store) error {
		acct, err := s.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		newBalance := acct.Balance.Add(amount)
		res, err := l.apply(ctx, s, acct, newBalance, amount, category, description, refs)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// apply writes the updated balance and its ledger entry. Must run inside
// an Atomic section with the account already loaded under it.
func (l *Ledger) apply(ctx context.Context, s Store, acct *Account, newBalance, delta Amount, category Category, description string, refs Refs) (*MutationResult, error) {
	now := l.clock.Now()

	acct.Balance = newBalance
	acct.UpdatedAt = now
	if err := s.PutAccount(ctx, acct); err != nil {
		return nil, err
	}

	entry := &LedgerEntry{
		ID:           EntryID(uuid.NewString()),
		AccountID:    acct.ID,
		Amount:       delta,
		BalanceAfter: newBalance,
		Category:     category,
		Description:  description,
		ModelUsed:    refs.Model,
		ArtifactRef:  refs.Artifact,
		ChargeID:     refs.Charge,
		CreatedAt:    now,
	}
	if err := s.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}

	return &MutationResult{NewBalance: newBalance, Entry: entry}, nil
}

// =============================================================================
// PAYMENT RECONCILIATION
// =============================================================================

// RecordPayment records a provider-confirmed charge and credits the
// purchased amount in the same atomic unit. Idempotent on ChargeID: a
// repeat call returns the existing record with alreadyRecorded = true and
// applies no second credit.
func (l *Ledger) RecordPayment(ctx context.Context, in PaymentInput) (rec *PaymentRecord, alreadyRecorded bool, err error) {
	if in.ChargeID == "" {
		return nil, false, fmt.Errorf("record payment: %w: empty charge id", ErrInvalidAmount)
	}
	if !in.Credits.IsPositive() {
		return nil, false, ErrInvalidAmount
	}

	err = l.store.Atomic(ctx, func(s Store) error {
		existing, lookupErr := s.PaymentByCharge(ctx, in.ChargeID)
		if lookupErr == nil {
			rec = existing
			alreadyRecorded = true
			return nil
		}
		if !errors.Is(lookupErr, ErrPaymentNotFound) {
			return lookupErr
		}

		now := l.clock.Now()
		newRec := &PaymentRecord{
			ID:          uuid.NewString(),
			AccountID:   in.AccountID,
			AmountCents: in.AmountCents,
			Currency:    in.Currency,
			Credits:     in.Credits,
			PackageID:   in.PackageID,
			ChargeID:    in.ChargeID,
			ProviderRef: in.ProviderRef,
			Status:      PaymentCompleted,
			CreatedAt:   now,
		}
		if insertErr := s.InsertPayment(ctx, newRec); insertErr != nil {
			return insertErr
		}

		acct, getErr := s.GetAccount(ctx, in.AccountID)
		if getErr != nil {
			return getErr
		}
		newBalance := acct.Balance.Add(in.Credits)
		desc := fmt.Sprintf("Purchased %s (%s credits)", in.PackageID, in.Credits)
		if _, applyErr := l.apply(ctx, s, acct, newBalance, in.Credits, CategoryPurchase, desc, Refs{Charge: in.ChargeID}); applyErr != nil {
			return applyErr
		}

		rec = newRec
		return nil
	})

	// A concurrent recording of the same charge can slip past the lookup
	// and hit the unique constraint instead. The unit rolled back, so the
	// surviving record is the one the race winner wrote.
	if errors.Is(err, ErrDuplicateCharge) {
		existing, lookupErr := l.store.PaymentByCharge(ctx, in.ChargeID)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		return existing, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, alreadyRecorded, nil
}

// MarkRefunded transitions a payment record completed -> refunded.
//
// This does NOT reverse the credited balance. If product policy wants the
// credits back, the caller issues an explicit Debit/Refund. A second call
// on an already-refunded charge returns the record unchanged.
func (l *Ledger) MarkRefunded(ctx context.Context, chargeID string) (*PaymentRecord, error) {
	var rec *PaymentRecord
	err := l.store.Atomic(ctx, func(s Store) error {
		existing, err := s.PaymentByCharge(ctx, chargeID)
		if err != nil {
			return err
		}
		if existing.Status == PaymentRefunded {
			rec = existing
			return nil
		}

		now := l.clock.Now()
		if err := s.SetPaymentStatus(ctx, chargeID, PaymentRefunded, now); err != nil {
			return err
		}
		existing.Status = PaymentRefunded
		existing.RefundedAt = now
		rec = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// History returns an account's ledger entries newest-first.
// limit <= 0 applies DefaultHistoryLimit.
func (l *Ledger) History(ctx context.Context, id AccountID, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	entries, err := l.store.Entries(ctx, id)
	if err != nil {
		return nil, err
	}
	// Entries come back ascending; reverse into newest-first.
	out := make([]LedgerEntry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

// PaymentHistory returns an account's payments newest-first.
// limit <= 0 applies DefaultPaymentPageSize.
func (l *Ledger) PaymentHistory(ctx context.Context, id AccountID, limit, offset int) ([]PaymentRecord, error) {
	if limit <= 0 {
		limit = DefaultPaymentPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return l.store.Payments(ctx, id, limit, offset)
}

// PaymentStats aggregates completed payments only: refunded records are
// excluded from the sums and the count.
func (l *Ledger) PaymentStats(ctx context.Context, id AccountID) (*PaymentStats, error) {
	payments, err := l.store.Payments(ctx, id, 0, 0)
	if err != nil {
		return nil, err
	}

	stats := &PaymentStats{TotalCredits: ZeroAmount()}
	for _, p := range payments {
		if p.Status != PaymentCompleted {
			continue
		}
		stats.Count++
		stats.TotalCents += p.AmountCents
		stats.TotalCredits = stats.TotalCredits.Add(p.Credits)
	}
	return stats, nil
}
