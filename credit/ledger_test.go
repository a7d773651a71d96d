package credit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OxFrancesco/BuddyImagine/credit"
	memstore "github.com/OxFrancesco/BuddyImagine/credit/store"
	"github.com/OxFrancesco/BuddyImagine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// withStores runs fn against every store implementation. The engine's
// behavior must be identical regardless of the backing store.
func withStores(t *testing.T, fn func(t *testing.T, st credit.Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, memstore.NewMemory())
	})

	t.Run("sqlite", func(t *testing.T) {
		st, err := sqlite.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() })
		fn(t, st)
	})
}

func newAccount(t *testing.T, ledger *credit.Ledger, id string) *credit.Account {
	t.Helper()
	acct, err := ledger.GetOrCreate(context.Background(), credit.AccountID(id), credit.Profile{
		Username: id,
	})
	require.NoError(t, err)
	return acct
}

func amt(v float64) credit.Amount {
	return credit.NewAmount(v)
}

// =============================================================================
// DEBIT PROTOCOL
// =============================================================================

func TestDebit_WritesBalanceAndEntryTogether(t *testing.T) {
	// GIVEN: An account with the onboarding balance (10 credits)
	// WHEN: Debiting 3 credits
	// THEN: Balance drops to 7 and exactly one entry records the debit

	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)
		ctx := context.Background()
		newAccount(t, ledger, "user-1")

		res, err := ledger.Debit(ctx, "user-1", amt(3), credit.CategoryGeneration, "test debit", credit.Refs{
			Model: "fal-ai/fast-sdxl",
		})
		require.NoError(t, err)

		assert.InDelta(t, 7, res.NewBalance.Float64(), 1e-9)
		assert.InDelta(t, -3, res.Entry.Amount.Float64(), 1e-9)
		assert.InDelta(t, 7, res.Entry.BalanceAfter.Float64(), 1e-9)
		assert.Equal(t, credit.CategoryGeneration, res.Entry.Category)
		assert.Equal(t, "fal-ai/fast-sdxl", res.Entry.ModelUsed)

		entries, err := st.Entries(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, entries, 1)

		balance, err := ledger.Balance(ctx, "user-1")
		require.NoError(t, err)
		assert.InDelta(t, 7, balance.Float64(), 1e-9)
	})
}

func TestDebit_UnknownAccount_Fails(t *testing.T) {
	// GIVEN: No account "ghost"
	// WHEN: Debiting it
	// THEN: ErrAccountNotFound, nothing written

	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)
		ctx := context.Background()

		_, err := ledger.Debit(ctx, "ghost", amt(1), credit.CategoryGeneration, "", credit.Refs{})
		assert.ErrorIs(t, err, credit.ErrAccountNotFound)
	})
}

func TestDebit_InsufficientBalance_NoMutation(t *testing.T) {
	// GIVEN: An account holding 10 credits
	// WHEN: Debiting 50
	// THEN: InsufficientBalanceError echoes the current balance and
	//       neither the balance nor the log changed

	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)
		ctx := context.Background()
		newAccount(t, ledger, "user-1")

		_, err := ledger.Debit(ctx, "user-1", amt(50), credit.CategoryGeneration, "", credit.Refs{})

		var insufficient *credit.InsufficientBalanceError
		require.ErrorAs(t, err, &insufficient)
		assert.ErrorIs(t, err, credit.ErrInsufficientBalance)
		assert.InDelta(t, 10, insufficient.Balance.Float64(), 1e-9)
		assert.InDelta(t, 50, insufficient.Requested.Float64(), 1e-9)

		balance, err := ledger.Balance(ctx, "user-1")
		require.NoError(t, err)
		assert.InDelta(t, 10, balance.Float64(), 1e-9)

		entries, err := st.Entries(ctx, "user-1")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestDebit_ExactBalance_Succeeds(t *testing.T) {
	// GIVEN: An account holding exactly 10 credits
	// WHEN: Debiting exactly 10
	// THEN: Succeeds; balance is zero, never negative

	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)
		ctx := context.Background()
		newAccount(t, ledger, "user-1")

		res, err := ledger.Debit(ctx, "user-1", amt(10), credit.CategoryGeneration, "", credit.Refs{})
		require.NoError(t, err)
		assert.True(t, res.NewBalance.IsZero())
	})
}

func TestDebit_RejectsInvalidInput(t *testing.T) {
	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)
		ctx := context.Background()
		newAccount(t, ledger, "user-1")

		_, err := ledger.Debit(ctx, "user-1", amt(0), credit.CategoryGeneration, "", credit.Refs{})
		assert.ErrorIs(t, err, credit.ErrInvalidAmount)

		_, err = ledger.Debit(ctx, "user-1", amt(-5), credit.CategoryGeneration, "", credit.Refs{})
		assert.ErrorIs(t, err, credit.ErrInvalidAmount)

		_, err = ledger.Debit(ctx, "user-1", amt(1), credit.Category("bogus"), "", credit.Refs{})
		assert.ErrorIs(t, err, credit.ErrInvalidCategory)
	})
}

// =============================================================================
// CREDIT / REFUND
// =============================================================================

func TestCredit_IncreasesBalance(t *testing.T) {
	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)
		ctx := context.Background()
		newAccount(t, ledger, "user-1")

		res, err := ledger.Credit(ctx, "user-1", amt(25), credit.CategoryAdmin, "manual grant")
		require.NoError(t, err)

		assert.InDelta(t, 35, res.NewBalance.Float64(), 1e-9)
		assert.InDelta(t, 25, res.Entry.Amount.Float64(), 1e-9)
		assert.Equal(t, credit.CategoryAdmin, res.Entry.Category)
	})
}

func TestRefund_NeedsNoMatchingDebit(t *testing.T) {
	// GIVEN: An account with no prior debits
	// WHEN: Refunding 2 credits
	// THEN: The refund applies; refunds are never paired with debits

	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)
		ctx := context.Background()
		newAccount(t, ledger, "user-1")

		res, err := ledger.Refund(ctx, "user-1", amt(2), "goodwill")
		require.NoError(t, err)

		assert.InDelta(t, 12, res.NewBalance.Float64(), 1e-9)
		assert.Equal(t, credit.CategoryRefund, res.Entry.Category)
	})
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentDebits_SerializePerAccount(t *testing.T) {
	// GIVEN: An account with 10 credits and two concurrent 7-credit debits
	// WHEN: Both run at once
	// THEN: Exactly one succeeds; the loser sees the post-debit balance

	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)
		ctx := context.Background()
		newAccount(t, ledger, "user-1")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = ledger.Debit(ctx, "user-1", amt(7), credit.CategoryGeneration, "", credit.Refs{})
			}(i)
		}
		wg.Wait()

		var failures int
		for _, err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, credit.ErrInsufficientBalance)
				failures++
			}
		}
		assert.Equal(t, 1, failures, "exactly one debit must lose")

		balance, err := ledger.Balance(ctx, "user-1")
		require.NoError(t, err)
		assert.InDelta(t, 3, balance.Float64(), 1e-9)
	})
}

// =============================================================================
// PAYMENT RECONCILIATION
// =============================================================================

func TestRecordPayment_CreditsExactlyOnce(t *testing.T) {
	// GIVEN: A provider-confirmed charge
	// WHEN: Recording it twice (provider retry)
	// THEN: One credit, one entry; the replay returns the original record

	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)
		ctx := context.Background()
		newAccount(t, ledger, "user-1")

		input := credit.PaymentInput{
			AccountID:   "user-1",
			AmountCents: 499,
			Currency:    "USD",
			Credits:     amt(50),
			PackageID:   "credits_50",
			ChargeID:    "ch_abc123",
			ProviderRef: "tg_12345",
		}

		rec1, already, err := ledger.RecordPayment(ctx, input)
		require.NoError(t, err)
		assert.False(t, already)
		assert.Equal(t, credit.PaymentCompleted, rec1.Status)

		rec2, already, err := ledger.RecordPayment(ctx, input)
		require.NoError(t, err)
		assert.True(t, already)
		assert.Equal(t, rec1.ID, rec2.ID)

		balance, err := ledger.Balance(ctx, "user-1")
		require.NoError(t, err)
		assert.InDelta(t, 60, balance.Float64(), 1e-9, "credited once, not twice")

		entries, err := st.Entries(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, credit.CategoryPurchase, entries[0].Category)
		assert.Equal(t, "ch_abc123", entries[0].ChargeID)
	})
}

func TestRecordPayment_RollsBackWholeUnit(t *testing.T) {
	// GIVEN: A charge for an account that does not exist
	// WHEN: Recording it
	// THEN: The whole unit rolls back; no orphan payment record survives

	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)
		ctx := context.Background()

		_, _, err := ledger.RecordPayment(ctx, credit.PaymentInput{
			AccountID: "ghost",
			Credits:   amt(50),
			ChargeID:  "ch_orphan",
		})
		assert.ErrorIs(t, err, credit.ErrAccountNotFound)

		_, err = st.PaymentByCharge(ctx, "ch_orphan")
		assert.ErrorIs(t, err, credit.ErrPaymentNotFound)
	})
}

func TestRecordPayment_RejectsInvalidInput(t *testing.T) {
	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)
		ctx := context.Background()
		newAccount(t, ledger, "user-1")

		_, _, err := ledger.RecordPayment(ctx, credit.PaymentInput{
			AccountID: "user-1",
			Credits:   amt(50),
		})
		assert.Error(t, err, "empty charge id must be rejected")

		_, _, err = ledger.RecordPayment(ctx, credit.PaymentInput{
			AccountID: "user-1",
			Credits:   amt(0),
			ChargeID:  "ch_zero",
		})
		assert.ErrorIs(t, err, credit.ErrInvalidAmount)
	})
}

func TestMarkRefunded_DoesNotReverseBalance(t *testing.T) {
	// GIVEN: A recorded purchase of 50 credits
	// WHEN: The provider refunds the charge
	// THEN: The record flips to refunded but the balance keeps the credits

	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)
		ctx := context.Background()
		newAccount(t, ledger, "user-1")

		_, _, err := ledger.RecordPayment(ctx, credit.PaymentInput{
			AccountID: "user-1",
			Credits:   amt(50),
			ChargeID:  "ch_refund_me",
		})
		require.NoError(t, err)

		rec, err := ledger.MarkRefunded(ctx, "ch_refund_me")
		require.NoError(t, err)
		assert.Equal(t, credit.PaymentRefunded, rec.Status)
		assert.False(t, rec.RefundedAt.IsZero())

		balance, err := ledger.Balance(ctx, "user-1")
		require.NoError(t, err)
		assert.InDelta(t, 60, balance.Float64(), 1e-9, "balance is never reversed here")
	})
}

func TestMarkRefunded_SecondCallObserves(t *testing.T) {
	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)
		ctx := context.Background()
		newAccount(t, ledger, "user-1")

		_, _, err := ledger.RecordPayment(ctx, credit.PaymentInput{
			AccountID: "user-1",
			Credits:   amt(50),
			ChargeID:  "ch_twice",
		})
		require.NoError(t, err)

		first, err := ledger.MarkRefunded(ctx, "ch_twice")
		require.NoError(t, err)

		second, err := ledger.MarkRefunded(ctx, "ch_twice")
		require.NoError(t, err)
		assert.Equal(t, first.RefundedAt.UTC(), second.RefundedAt.UTC())
	})
}

func TestMarkRefunded_UnknownCharge_Fails(t *testing.T) {
	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)

		_, err := ledger.MarkRefunded(context.Background(), "ch_missing")
		assert.ErrorIs(t, err, credit.ErrPaymentNotFound)
	})
}

// =============================================================================
// QUERIES
// =============================================================================

func TestHistory_NewestFirstWithLimit(t *testing.T) {
	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)
		ctx := context.Background()
		newAccount(t, ledger, "user-1")

		for i := 0; i < 5; i++ {
			_, err := ledger.Debit(ctx, "user-1", amt(1), credit.CategoryGeneration, "", credit.Refs{})
			require.NoError(t, err)
		}

		history, err := ledger.History(ctx, "user-1", 3)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Greater(t, history[0].Seq, history[1].Seq, "newest first")
		assert.Greater(t, history[1].Seq, history[2].Seq)
	})
}

func TestPaymentHistory_PaginatesNewestFirst(t *testing.T) {
	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)
		ctx := context.Background()
		newAccount(t, ledger, "user-1")

		for _, charge := range []string{"ch_1", "ch_2", "ch_3"} {
			_, _, err := ledger.RecordPayment(ctx, credit.PaymentInput{
				AccountID: "user-1",
				Credits:   amt(10),
				ChargeID:  charge,
			})
			require.NoError(t, err)
		}

		page, err := ledger.PaymentHistory(ctx, "user-1", 2, 0)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "ch_3", page[0].ChargeID)
		assert.Equal(t, "ch_2", page[1].ChargeID)

		page, err = ledger.PaymentHistory(ctx, "user-1", 2, 2)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "ch_1", page[0].ChargeID)
	})
}

func TestPaymentStats_ExcludeRefunded(t *testing.T) {
	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)
		ctx := context.Background()
		newAccount(t, ledger, "user-1")

		for _, p := range []struct {
			charge string
			cents  int64
		}{
			{"ch_keep_1", 499},
			{"ch_keep_2", 899},
			{"ch_gone", 1999},
		} {
			_, _, err := ledger.RecordPayment(ctx, credit.PaymentInput{
				AccountID:   "user-1",
				AmountCents: p.cents,
				Credits:     amt(10),
				ChargeID:    p.charge,
			})
			require.NoError(t, err)
		}
		_, err := ledger.MarkRefunded(ctx, "ch_gone")
		require.NoError(t, err)

		stats, err := ledger.PaymentStats(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Count)
		assert.Equal(t, int64(499+899), stats.TotalCents)
		assert.InDelta(t, 20, stats.TotalCredits.Float64(), 1e-9)
	})
}

// =============================================================================
// LEDGER REPLAY
// =============================================================================

func TestVerifyLedger_ReplaysCleanHistory(t *testing.T) {
	// GIVEN: A history of mixed debits, credits, and purchases
	// WHEN: Replaying it from the opening balance
	// THEN: Every recorded balance_after matches the running total

	withStores(t, func(t *testing.T, st credit.Store) {
		ledger := credit.NewLedger(st)
		ctx := context.Background()
		newAccount(t, ledger, "user-1")

		_, err := ledger.Debit(ctx, "user-1", amt(0.03), credit.CategoryGeneration, "", credit.Refs{})
		require.NoError(t, err)
		_, _, err = ledger.RecordPayment(ctx, credit.PaymentInput{
			AccountID: "user-1",
			Credits:   amt(50),
			ChargeID:  "ch_replay",
		})
		require.NoError(t, err)
		_, err = ledger.Refund(ctx, "user-1", amt(0.03), "failed generation")
		require.NoError(t, err)
		_, err = ledger.Debit(ctx, "user-1", amt(5), credit.CategoryGeneration, "", credit.Refs{})
		require.NoError(t, err)

		entries, err := st.Entries(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, entries, 4)

		assert.NoError(t, credit.VerifyLedger(credit.OnboardingBalance, entries))
	})
}

func TestVerifyLedger_DetectsCorruption(t *testing.T) {
	entries := []credit.LedgerEntry{
		{ID: "e1", Seq: 1, Amount: amt(5), BalanceAfter: amt(15)},
		{ID: "e2", Seq: 2, Amount: amt(-3), BalanceAfter: amt(11)}, // should be 12
	}
	assert.Error(t, credit.VerifyLedger(amt(10), entries))

	outOfOrder := []credit.LedgerEntry{
		{ID: "e1", Seq: 2, Amount: amt(5), BalanceAfter: amt(15)},
		{ID: "e2", Seq: 1, Amount: amt(-3), BalanceAfter: amt(12)},
	}
	assert.Error(t, credit.VerifyLedger(amt(10), outOfOrder))
}

// =============================================================================
// CLOCK INJECTION
// =============================================================================

func TestLedger_UsesInjectedClock(t *testing.T) {
	fixed := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	clock := credit.NewFixedClock(fixed)

	st := memstore.NewMemory()
	ledger := credit.NewLedger(st, credit.WithClock(clock))
	ctx := context.Background()

	acct, err := ledger.GetOrCreate(ctx, "user-1", credit.Profile{})
	require.NoError(t, err)
	assert.Equal(t, fixed, acct.CreatedAt)

	clock.Advance(time.Hour)
	res, err := ledger.Debit(ctx, "user-1", amt(1), credit.CategoryGeneration, "", credit.Refs{})
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(time.Hour), res.Entry.CreatedAt)
}
