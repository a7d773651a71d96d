/*
Package credit provides the core credit-ledger engine.

PURPOSE:
  This package owns the spendable-credit balance of every account, the
  append-only log of balance changes, and the payment records that back
  purchased credits. It is the only part of the system with real
  invariants:
  - Balances never go negative.
  - Every balance mutation writes exactly one ledger entry, atomically.
  - A provider charge is applied exactly once, no matter how often the
    provider callback retries.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: a decimal credit quantity (never float64 internally)
  - Account: billing identity + current balance + profile/settings
  - LedgerEntry: an immutable signed balance-change record
  - PaymentRecord: a provider-confirmed charge, unique per charge id

DESIGN PRINCIPLES:
  1. Immutability: ledger entries are never modified or deleted
  2. Precision: uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: strong typing for account/entry identifiers
  4. Auditability: every entry carries category, description, references

SEE ALSO:
  - ledger.go: debit/credit/payment reconciliation service
  - store.go: persistence interface
  - summary.go: derived views and replay verification
*/
package credit

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Credit quantity backed by decimal
// =============================================================================

// Amount is a quantity of credits. Positive, negative, or zero depending
// on context; ledger entry amounts are signed, balances are non-negative.
type Amount struct {
	Value decimal.Decimal
}

func NewAmount(value float64) Amount {
	return Amount{Value: decimal.NewFromFloat(value)}
}

func NewAmountFromInt(value int) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value))}
}

// ParseAmount parses a decimal string (as stored in the database).
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Value: d}, nil
}

func ZeroAmount() Amount { return Amount{Value: decimal.Zero} }

func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount       { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Neg() Amount               { return Amount{Value: a.Value.Neg()} }
func (a Amount) Abs() Amount               { return Amount{Value: a.Value.Abs()} }
func (a Amount) IsNegative() bool          { return a.Value.IsNegative() }
func (a Amount) IsPositive() bool          { return a.Value.IsPositive() }
func (a Amount) IsZero() bool              { return a.Value.IsZero() }
func (a Amount) Equal(b Amount) bool       { return a.Value.Equal(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool    { return a.Value.LessThan(b.Value) }
func (a Amount) Float64() float64          { f, _ := a.Value.Float64(); return f }
func (a Amount) String() string            { return a.Value.String() }

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountID is the stable external user identifier (e.g. a Telegram user
// id rendered as a string). It is supplied by the caller, never generated.
type AccountID string

// EntryID uniquely identifies one ledger entry.
type EntryID string

// =============================================================================
// CATEGORY - Why a balance changed
// =============================================================================

type Category string

const (
	CategoryPurchase     Category = "purchase"     // Credits bought via a payment provider
	CategoryGeneration   Category = "generation"   // Credits spent on an image/video generation
	CategoryRefund       Category = "refund"       // Credits returned (failed generation, goodwill)
	CategoryAdmin        Category = "admin"        // Manual admin grant or correction
	CategorySubscription Category = "subscription" // Recurring plan credit
)

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryPurchase, CategoryGeneration, CategoryRefund, CategoryAdmin, CategorySubscription:
		return true
	}
	return false
}

// =============================================================================
// ACCOUNT - Billing identity and current balance
// =============================================================================

// OnboardingBalance is the fixed grant every account starts with. It is the
// account's opening balance, not a ledger entry: replaying all entries from
// this value reproduces the current balance.
var OnboardingBalance = NewAmountFromInt(10)

// Profile holds the non-billing identity fields. Opaque to the ledger:
// nothing here is read or written by balance mutations.
type Profile struct {
	Username     string
	FirstName    string
	LastName     string
	DefaultModel string
}

// Settings holds user preferences that share storage with the account
// record. Settings updates must never read-modify-write the balance.
type Settings struct {
	TelegramQuality    string // "compressed" | "uncompressed"
	SaveUncompressed   bool
	NotifyLowCredits   bool
	LowCreditThreshold Amount
}

const (
	QualityCompressed   = "compressed"
	QualityUncompressed = "uncompressed"
)

// DefaultSettings returns the settings assigned on account creation.
func DefaultSettings() Settings {
	return Settings{
		TelegramQuality:    QualityUncompressed,
		SaveUncompressed:   false,
		NotifyLowCredits:   true,
		LowCreditThreshold: NewAmountFromInt(10),
	}
}

// Account is the billing identity and current balance holder.
//
// INVARIANT: Balance >= 0 after every successful debit. A debit larger
// than the balance fails without mutating state.
type Account struct {
	ID        AccountID
	Balance   Amount
	Profile   Profile
	Settings  Settings
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// LEDGER ENTRY - One immutable balance change
// =============================================================================

// LedgerEntry records a single balance mutation and the balance that
// resulted from it.
//
// INVARIANTS:
//   - Entries are immutable once written.
//   - For one account, entries are totally ordered by Seq, and replaying
//     Amount from the onboarding balance in Seq order reproduces every
//     BalanceAfter exactly.
type LedgerEntry struct {
	ID           EntryID
	AccountID    AccountID
	Seq          int64 // store-assigned, monotonically increasing creation order
	Amount       Amount
	BalanceAfter Amount
	Category     Category
	Description  string

	// Optional references to the operation that caused the entry.
	ModelUsed   string // which generation model a debit paid for
	ArtifactRef string // stored artifact key (e.g. object-storage filename)
	ChargeID    string // provider charge id, set on purchase entries

	CreatedAt time.Time
}

// IsDebit reports whether the entry removed credits.
func (e LedgerEntry) IsDebit() bool { return e.Amount.IsNegative() }

// =============================================================================
// PAYMENT RECORD - Provider-confirmed charge
// =============================================================================

type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// PaymentRecord is the durable record of one external payment confirmation.
//
// INVARIANT: ChargeID is unique. A second recording attempt with the same
// charge id returns the existing record instead of crediting twice.
//
// Lifecycle: created as "completed"; transitions to "refunded" exactly once
// via MarkRefunded; never deleted.
type PaymentRecord struct {
	ID          string
	AccountID   AccountID
	AmountCents int64 // charge amount in minor currency units
	Currency    string
	Credits     Amount // credits granted by this charge
	PackageID   string
	ChargeID    string // provider-issued, unique
	ProviderRef string // secondary provider reference
	Status      PaymentStatus
	CreatedAt   time.Time
	RefundedAt  time.Time // zero until refunded
}

// PaymentStats aggregates completed payments for one account.
type PaymentStats struct {
	Count        int
	TotalCents   int64
	TotalCredits Amount
}

// =============================================================================
// PAGINATION DEFAULTS
// =============================================================================

const (
	// DefaultHistoryLimit bounds ledger history queries.
	DefaultHistoryLimit = 50

	// DefaultPaymentPageSize bounds payment history pages (newest-first).
	DefaultPaymentPageSize = 10
)
