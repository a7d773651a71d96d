/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the credit engine's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - credit/types.go: The domain model these mirror
*/
package api

import (
	"time"

	"github.com/OxFrancesco/BuddyImagine/credit"
	"github.com/OxFrancesco/BuddyImagine/imagine"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID           string      `json:"id"`
	Balance      float64     `json:"balance"`
	Username     string      `json:"username,omitempty"`
	FirstName    string      `json:"first_name,omitempty"`
	LastName     string      `json:"last_name,omitempty"`
	DefaultModel string      `json:"default_model,omitempty"`
	Settings     SettingsDTO `json:"settings"`
	CreatedAt    string      `json:"created_at"`
}

// SettingsDTO mirrors credit.Settings.
type SettingsDTO struct {
	TelegramQuality    string  `json:"telegram_quality"`
	SaveUncompressed   bool    `json:"save_uncompressed"`
	NotifyLowCredits   bool    `json:"notify_low_credits"`
	LowCreditThreshold float64 `json:"low_credit_threshold"`
}

// RegisterAccountRequest is the get-or-create payload.
type RegisterAccountRequest struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	DefaultModel string `json:"default_model"`
}

// UpdateSettingsRequest carries a partial settings update; absent fields
// are left unchanged.
type UpdateSettingsRequest struct {
	TelegramQuality    *string  `json:"telegram_quality"`
	SaveUncompressed   *bool    `json:"save_uncompressed"`
	NotifyLowCredits   *bool    `json:"notify_low_credits"`
	LowCreditThreshold *float64 `json:"low_credit_threshold"`
}

// SetModelRequest selects the account's default generation model.
type SetModelRequest struct {
	ModelID string `json:"model_id"`
}

// =============================================================================
// BALANCE MUTATIONS
// =============================================================================

// MutationRequest is the debit/credit/refund payload.
type MutationRequest struct {
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	ModelUsed   string  `json:"model_used"`
	ArtifactRef string  `json:"artifact_ref"`
}

// MutationDTO reports a successful balance mutation.
type MutationDTO struct {
	NewBalance float64  `json:"new_balance"`
	Entry      EntryDTO `json:"entry"`
}

// ChargeGenerationRequest charges one generation against an account.
type ChargeGenerationRequest struct {
	ModelID     string `json:"model_id"`
	ArtifactRef string `json:"artifact_ref"`
}

// ChargeGenerationDTO is the response to a generation charge.
type ChargeGenerationDTO struct {
	Cost       float64  `json:"cost"`
	NewBalance float64  `json:"new_balance"`
	Entry      EntryDTO `json:"entry"`
	LowCredits bool     `json:"low_credits"`
	Threshold  float64  `json:"threshold,omitempty"`
}

// EntryDTO represents a ledger entry in API responses.
type EntryDTO struct {
	ID           string  `json:"id"`
	Seq          int64   `json:"seq"`
	Amount       float64 `json:"amount"`
	BalanceAfter float64 `json:"balance_after"`
	Category     string  `json:"category"`
	Description  string  `json:"description,omitempty"`
	ModelUsed    string  `json:"model_used,omitempty"`
	ArtifactRef  string  `json:"artifact_ref,omitempty"`
	ChargeID     string  `json:"charge_id,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// SummaryDTO represents the replayed credit summary.
type SummaryDTO struct {
	CurrentBalance  float64 `json:"current_balance"`
	TotalSpent      float64 `json:"total_spent"`
	TotalAdded      float64 `json:"total_added"`
	GenerationCount int     `json:"generation_count"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PackageDTO mirrors imagine.Package.
type PackageDTO struct {
	ID        string  `json:"id"`
	Label     string  `json:"label"`
	Credits   float64 `json:"credits"`
	CostCents int64   `json:"cost_cents"`
	Currency  string  `json:"currency"`
}

// PurchaseRequest records a provider-confirmed package purchase.
type PurchaseRequest struct {
	AccountID   string `json:"account_id"`
	PackageID   string `json:"package_id"`
	ChargeID    string `json:"charge_id"`
	ProviderRef string `json:"provider_ref"`
}

// PaymentDTO represents a payment record in API responses.
type PaymentDTO struct {
	ID              string  `json:"id"`
	AccountID       string  `json:"account_id"`
	AmountCents     int64   `json:"amount_cents"`
	Currency        string  `json:"currency"`
	Credits         float64 `json:"credits"`
	PackageID       string  `json:"package_id,omitempty"`
	ChargeID        string  `json:"charge_id"`
	ProviderRef     string  `json:"provider_ref,omitempty"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
	RefundedAt      string  `json:"refunded_at,omitempty"`
	AlreadyRecorded bool    `json:"already_recorded,omitempty"`
}

// PaymentStatsDTO aggregates an account's completed payments.
type PaymentStatsDTO struct {
	Count        int     `json:"count"`
	TotalCents   int64   `json:"total_cents"`
	TotalCredits float64 `json:"total_credits"`
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string  `json:"error"`
	Details string  `json:"details,omitempty"`
	Balance float64 `json:"balance,omitempty"` // set on insufficient-balance errors
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toAccountDTO(acct *credit.Account) AccountDTO {
	return AccountDTO{
		ID:           string(acct.ID),
		Balance:      acct.Balance.Float64(),
		Username:     acct.Profile.Username,
		FirstName:    acct.Profile.FirstName,
		LastName:     acct.Profile.LastName,
		DefaultModel: acct.Profile.DefaultModel,
		Settings:     toSettingsDTO(acct.Settings),
		CreatedAt:    acct.CreatedAt.Format(time.RFC3339),
	}
}

func toSettingsDTO(s credit.Settings) SettingsDTO {
	return SettingsDTO{
		TelegramQuality:    s.TelegramQuality,
		SaveUncompressed:   s.SaveUncompressed,
		NotifyLowCredits:   s.NotifyLowCredits,
		LowCreditThreshold: s.LowCreditThreshold.Float64(),
	}
}

func toEntryDTO(e credit.LedgerEntry) EntryDTO {
	return EntryDTO{
		ID:           string(e.ID),
		Seq:          e.Seq,
		Amount:       e.Amount.Float64(),
		BalanceAfter: e.BalanceAfter.Float64(),
		Category:     string(e.Category),
		Description:  e.Description,
		ModelUsed:    e.ModelUsed,
		ArtifactRef:  e.ArtifactRef,
		ChargeID:     e.ChargeID,
		CreatedAt:    e.CreatedAt.Format(time.RFC3339),
	}
}

func toPaymentDTO(rec *credit.PaymentRecord, alreadyRecorded bool) PaymentDTO {
	dto := PaymentDTO{
		ID:              rec.ID,
		AccountID:       string(rec.AccountID),
		AmountCents:     rec.AmountCents,
		Currency:        rec.Currency,
		Credits:         rec.Credits.Float64(),
		PackageID:       rec.PackageID,
		ChargeID:        rec.ChargeID,
		ProviderRef:     rec.ProviderRef,
		Status:          string(rec.Status),
		CreatedAt:       rec.CreatedAt.Format(time.RFC3339),
		AlreadyRecorded: alreadyRecorded,
	}
	if !rec.RefundedAt.IsZero() {
		dto.RefundedAt = rec.RefundedAt.Format(time.RFC3339)
	}
	return dto
}

func toPackageDTO(p imagine.Package) PackageDTO {
	return PackageDTO{
		ID:        p.ID,
		Label:     p.Label,
		Credits:   p.Credits,
		CostCents: p.CostCents,
		Currency:  p.Currency,
	}
}
