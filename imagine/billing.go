/*
billing.go - Product billing flows on top of the credit engine

PURPOSE:
  The three flows the bot runs against accounts:
    - ChargeGeneration: debit the model's price before a generation,
      surfacing a low-credit warning when the balance crosses the
      account's threshold.
    - RefundGeneration: return the charge when a generation fails
      downstream.
    - ApplyPurchase: resolve a provider charge against the package
      catalog and record it exactly once.
*/
package imagine

import (
	"context"
	"fmt"

	"github.com/OxFrancesco/BuddyImagine/credit"
)

// Billing wires the package catalog and pricing table to a ledger.
type Billing struct {
	ledger  *credit.Ledger
	catalog []Package
}

// NewBilling creates a billing service. A nil catalog uses DefaultCatalog.
func NewBilling(ledger *credit.Ledger, catalog []Package) *Billing {
	if catalog == nil {
		catalog = DefaultCatalog
	}
	return &Billing{ledger: ledger, catalog: catalog}
}

// Catalog returns the purchasable packages in display order.
func (b *Billing) Catalog() []Package {
	return b.catalog
}

// ChargeResult reports a successful generation charge.
type ChargeResult struct {
	Cost       credit.Amount
	NewBalance credit.Amount
	Entry      *credit.LedgerEntry

	// LowCredits is set when the post-charge balance is at or below the
	// account's threshold and the account asked to be notified.
	LowCredits bool
	Threshold  credit.Amount
}

// ChargeGeneration debits the price of one generation with modelID.
// Fails with credit.ErrAccountNotFound or *credit.InsufficientBalanceError
// without touching the balance.
func (b *Billing) ChargeGeneration(ctx context.Context, id credit.AccountID, modelID, artifactRef string) (*ChargeResult, error) {
	cost := EstimateCost(modelID)
	desc := fmt.Sprintf("Image generation (%s)", modelID)
	res, err := b.ledger.Debit(ctx, id, cost, credit.CategoryGeneration, desc, credit.Refs{
		Model:    modelID,
		Artifact: artifactRef,
	})
	if err != nil {
		return nil, err
	}

	out := &ChargeResult{Cost: cost, NewBalance: res.NewBalance, Entry: res.Entry}
	acct, err := b.ledger.Account(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct.Settings.NotifyLowCredits && !res.NewBalance.GreaterThan(acct.Settings.LowCreditThreshold) {
		out.LowCredits = true
		out.Threshold = acct.Settings.LowCreditThreshold
	}
	return out, nil
}

// RefundGeneration returns a failed generation's charge. The amount is
// whatever the caller was charged; no pairing with the original entry is
// attempted.
func (b *Billing) RefundGeneration(ctx context.Context, id credit.AccountID, amount credit.Amount, modelID string) (*credit.MutationResult, error) {
	desc := fmt.Sprintf("Refund: failed generation (%s)", modelID)
	return b.ledger.Refund(ctx, id, amount, desc)
}

// PurchaseResult reports an applied (or deduplicated) package purchase.
type PurchaseResult struct {
	Record          *credit.PaymentRecord
	Package         Package
	AlreadyRecorded bool
}

// ApplyPurchase resolves packageID against the catalog and records the
// provider charge. Idempotent on chargeID: replays return the original
// record with AlreadyRecorded set and credit nothing.
func (b *Billing) ApplyPurchase(ctx context.Context, id credit.AccountID, packageID, chargeID, providerRef string) (*PurchaseResult, error) {
	pkg, ok := FindPackage(b.catalog, packageID)
	if !ok {
		return nil, fmt.Errorf("apply purchase: %w: %q", ErrUnknownPackage, packageID)
	}

	rec, already, err := b.ledger.RecordPayment(ctx, credit.PaymentInput{
		AccountID:   id,
		AmountCents: pkg.CostCents,
		Currency:    pkg.Currency,
		Credits:     pkg.CreditAmount(),
		PackageID:   pkg.ID,
		ChargeID:    chargeID,
		ProviderRef: providerRef,
	})
	if err != nil {
		return nil, err
	}
	return &PurchaseResult{Record: rec, Package: pkg, AlreadyRecorded: already}, nil
}
