/*
summary.go - Derived views computed by replaying the ledger

PURPOSE:
  The credit summary is a read-only view reproducible purely from the
  entry history plus the current balance. It never stores state of its
  own, so it can never drift: the consistency equation

      opening balance + total added - total spent == current balance

  holds by construction, and VerifyLedger checks the stronger per-entry
  property that every recorded BalanceAfter matches the running replay.
*/
package credit

import (
	"context"
	"errors"
	"fmt"
)

// CreditSummary splits an account's history into spent/added totals.
type CreditSummary struct {
	CurrentBalance  Amount
	TotalSpent      Amount // sum of absolute debit amounts
	TotalAdded      Amount // sum of credit amounts
	GenerationCount int    // entries with category "generation"
}

// Summary replays all ledger entries for the account. Returns nil (no
// error) if the account is unknown, mirroring the front end's null result.
func (l *Ledger) Summary(ctx context.Context, id AccountID) (*CreditSummary, error) {
	acct, err := l.store.GetAccount(ctx, id)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entries, err := l.store.Entries(ctx, id)
	if err != nil {
		return nil, err
	}

	summary := &CreditSummary{
		CurrentBalance: acct.Balance,
		TotalSpent:     ZeroAmount(),
		TotalAdded:     ZeroAmount(),
	}
	for _, e := range entries {
		if e.Amount.IsNegative() {
			summary.TotalSpent = summary.TotalSpent.Add(e.Amount.Abs())
		} else {
			summary.TotalAdded = summary.TotalAdded.Add(e.Amount)
		}
		if e.Category == CategoryGeneration {
			summary.GenerationCount++
		}
	}
	return summary, nil
}

// VerifyLedger replays entries (ascending Seq order) from the opening
// balance and checks that every BalanceAfter matches the running total,
// that the running balance never goes negative, and that Seq strictly
// increases. This is the property test suites replay to validate the log.
func VerifyLedger(opening Amount, entries []LedgerEntry) error {
	running := opening
	var lastSeq int64 = -1
	for i, e := range entries {
		if e.Seq <= lastSeq {
			return fmt.Errorf("entry %d: seq %d not increasing (prev %d)", i, e.Seq, lastSeq)
		}
		lastSeq = e.Seq

		running = running.Add(e.Amount)
		if !running.Equal(e.BalanceAfter) {
			return fmt.Errorf("entry %d (%s): replayed balance %s != recorded balance_after %s",
				i, e.ID, running, e.BalanceAfter)
		}
		if running.IsNegative() {
			return fmt.Errorf("entry %d (%s): balance went negative (%s)", i, e.ID, running)
		}
	}
	return nil
}
