/*
errors.go - Centralized error types for the credit engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers should inspect errors with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Caller errors   - account/payment must exist first (hard failures)
  2. Business outcomes - insufficient balance (expected, carries context)
  3. Storage errors  - transient persistence failures, safe to retry
     where the operation is idempotent (recordPayment is; debit is not)

USAGE:
  res, err := ledger.Debit(ctx, id, amount, credit.CategoryGeneration, desc, credit.Refs{})
  var insufficient *credit.InsufficientBalanceError
  if errors.As(err, &insufficient) {
      // show insufficient.Balance to the user
  }
*/
package credit

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when a balance mutation targets an
	// account that was never created. Accounts are created via GetOrCreate
	// on first contact, so this is a caller programming error.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientBalance is returned when a debit exceeds the current
	// balance. This is an expected business outcome, not a fault; nothing
	// is mutated.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrPaymentNotFound is returned when a charge id has no payment record.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrDuplicateCharge is returned by stores when inserting a payment
	// whose charge id already exists. The service layer converts this into
	// an idempotent success (existing record + AlreadyRecorded flag).
	ErrDuplicateCharge = errors.New("duplicate charge id")

	// ErrInvalidAmount is returned when a mutation amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidCategory is returned for unknown ledger categories.
	ErrInvalidCategory = errors.New("invalid ledger category")

	// ErrStorage wraps transient persistence failures. The whole operation
	// is not applied; retrying is safe for idempotent inputs.
	ErrStorage = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports a debit that exceeded the balance.
// The current balance is echoed back so the caller can present an
// actionable message.
type InsufficientBalanceError struct {
	AccountID AccountID
	Requested Amount
	Balance   Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: requested %s, have %s",
		e.AccountID, e.Requested, e.Balance)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// DuplicateChargeError identifies which charge id collided.
type DuplicateChargeError struct {
	ChargeID string
}

func (e *DuplicateChargeError) Error() string {
	return fmt.Sprintf("charge %q already recorded", e.ChargeID)
}

func (e *DuplicateChargeError) Unwrap() error {
	return ErrDuplicateCharge
}

// StorageError wraps a driver-level failure with the operation it aborted.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return ErrStorage }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
// Only idempotent operations (RecordPayment keyed by charge id) should be
// blindly retried; debits and credits need caller-side dedup.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsClientError returns true if the error is due to invalid caller input
// or an expected business outcome.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidCategory) ||
		errors.Is(err, ErrDuplicateCharge)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}
