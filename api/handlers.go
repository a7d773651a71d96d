/*
handlers.go - HTTP API handlers for the credit engine

PURPOSE:
  Exposes the credit ledger and billing flows via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                    Get-or-create account
    GET    /api/accounts/{id}               Get account details
    GET    /api/accounts/{id}/balance       Current balance
    GET    /api/accounts/{id}/summary       Replayed credit summary
    GET    /api/accounts/{id}/history       Ledger entries, newest first
    GET    /api/accounts/{id}/settings      Account settings
    PUT    /api/accounts/{id}/settings      Partial settings update
    PUT    /api/accounts/{id}/model         Set default model

  Mutations:
    POST   /api/accounts/{id}/debit         Remove credits
    POST   /api/accounts/{id}/credit        Add credits
    POST   /api/accounts/{id}/refund        Credit with category refund
    POST   /api/accounts/{id}/generations   Charge one generation

  Payments:
    GET    /api/packages                    Purchasable packages
    GET    /api/models                      Priced generation models
    POST   /api/payments                    Record a package purchase
    POST   /api/payments/{chargeID}/refund  Mark payment refunded
    GET    /api/accounts/{id}/payments      Payment history
    GET    /api/accounts/{id}/payments/stats Completed-payment totals

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 402: Insufficient balance (current balance echoed in the body)
  - 404: Account or payment not found
  - 409: Unknown package / conflicting input
  - 500: Storage and internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/OxFrancesco/BuddyImagine/credit"
	"github.com/OxFrancesco/BuddyImagine/imagine"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger  *credit.Ledger
	Billing *imagine.Billing

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler over the ledger and billing services.
func NewHandler(ledger *credit.Ledger, billing *imagine.Billing) *Handler {
	return &Handler{Ledger: ledger, Billing: billing}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// RegisterAccount gets or creates an account.
// POST /api/accounts
func (h *Handler) RegisterAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Account id is required", nil)
		return
	}

	acct, err := h.Ledger.GetOrCreate(r.Context(), credit.AccountID(req.ID), credit.Profile{
		Username:     req.Username,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		DefaultModel: req.DefaultModel,
	})
	if err != nil {
		writeDomainError(w, "Failed to register account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// GetAccount returns a single account.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := credit.AccountID(chi.URLParam(r, "id"))

	acct, err := h.Ledger.Account(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// GetBalance returns the current balance; zero for unknown accounts.
// GET /api/accounts/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := credit.AccountID(chi.URLParam(r, "id"))

	balance, err := h.Ledger.Balance(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"balance": balance.Float64()})
}

// GetSummary returns the replayed credit summary.
// GET /api/accounts/{id}/summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	id := credit.AccountID(chi.URLParam(r, "id"))

	summary, err := h.Ledger.Summary(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get summary", err)
		return
	}
	if summary == nil {
		writeError(w, http.StatusNotFound, "Account not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, SummaryDTO{
		CurrentBalance:  summary.CurrentBalance.Float64(),
		TotalSpent:      summary.TotalSpent.Float64(),
		TotalAdded:      summary.TotalAdded.Float64(),
		GenerationCount: summary.GenerationCount,
	})
}

// GetHistory returns ledger entries, newest first.
// GET /api/accounts/{id}/history?limit=N
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := credit.AccountID(chi.URLParam(r, "id"))
	limit := queryInt(r, "limit", 0)

	entries, err := h.Ledger.History(r.Context(), id, limit)
	if err != nil {
		writeDomainError(w, "Failed to get history", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSettings returns the account's settings.
// GET /api/accounts/{id}/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	id := credit.AccountID(chi.URLParam(r, "id"))

	settings, err := h.Ledger.GetSettings(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(*settings))
}

// UpdateSettings applies a partial settings update.
// PUT /api/accounts/{id}/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	id := credit.AccountID(chi.URLParam(r, "id"))

	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	settings, err := h.Ledger.UpdateSettings(r.Context(), id, credit.SettingsPatch{
		TelegramQuality:    req.TelegramQuality,
		SaveUncompressed:   req.SaveUncompressed,
		NotifyLowCredits:   req.NotifyLowCredits,
		LowCreditThreshold: req.LowCreditThreshold,
	})
	if err != nil {
		writeDomainError(w, "Failed to update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(*settings))
}

// SetModel updates the account's default generation model.
// PUT /api/accounts/{id}/model
func (h *Handler) SetModel(w http.ResponseWriter, r *http.Request) {
	id := credit.AccountID(chi.URLParam(r, "id"))

	var req SetModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ModelID == "" {
		writeError(w, http.StatusBadRequest, "model_id is required", nil)
		return
	}

	if err := h.Ledger.SetDefaultModel(r.Context(), id, req.ModelID); err != nil {
		writeDomainError(w, "Failed to set model", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"default_model": req.ModelID})
}

// =============================================================================
// MUTATION HANDLERS
// =============================================================================

// Debit removes credits from an account.
// POST /api/accounts/{id}/debit
func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	id := credit.AccountID(chi.URLParam(r, "id"))

	req, ok := decodeMutation(w, r)
	if !ok {
		return
	}

	res, err := h.Ledger.Debit(r.Context(), id, credit.NewAmount(req.Amount),
		credit.Category(req.Category), req.Description, credit.Refs{
			Model:    req.ModelUsed,
			Artifact: req.ArtifactRef,
		})
	if err != nil {
		writeDomainError(w, "Failed to debit", err)
		return
	}
	writeJSON(w, http.StatusOK, MutationDTO{
		NewBalance: res.NewBalance.Float64(),
		Entry:      toEntryDTO(*res.Entry),
	})
}

// Credit adds credits to an account.
// POST /api/accounts/{id}/credit
func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	id := credit.AccountID(chi.URLParam(r, "id"))

	req, ok := decodeMutation(w, r)
	if !ok {
		return
	}

	res, err := h.Ledger.Credit(r.Context(), id, credit.NewAmount(req.Amount),
		credit.Category(req.Category), req.Description)
	if err != nil {
		writeDomainError(w, "Failed to credit", err)
		return
	}
	writeJSON(w, http.StatusOK, MutationDTO{
		NewBalance: res.NewBalance.Float64(),
		Entry:      toEntryDTO(*res.Entry),
	})
}

// Refund credits an account with category refund.
// POST /api/accounts/{id}/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	id := credit.AccountID(chi.URLParam(r, "id"))

	req, ok := decodeMutation(w, r)
	if !ok {
		return
	}

	res, err := h.Ledger.Refund(r.Context(), id, credit.NewAmount(req.Amount), req.Description)
	if err != nil {
		writeDomainError(w, "Failed to refund", err)
		return
	}
	writeJSON(w, http.StatusOK, MutationDTO{
		NewBalance: res.NewBalance.Float64(),
		Entry:      toEntryDTO(*res.Entry),
	})
}

// ChargeGeneration charges the model's price for one generation.
// POST /api/accounts/{id}/generations
func (h *Handler) ChargeGeneration(w http.ResponseWriter, r *http.Request) {
	id := credit.AccountID(chi.URLParam(r, "id"))

	var req ChargeGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ModelID == "" {
		writeError(w, http.StatusBadRequest, "model_id is required", nil)
		return
	}

	res, err := h.Billing.ChargeGeneration(r.Context(), id, req.ModelID, req.ArtifactRef)
	if err != nil {
		writeDomainError(w, "Failed to charge generation", err)
		return
	}
	writeJSON(w, http.StatusOK, ChargeGenerationDTO{
		Cost:       res.Cost.Float64(),
		NewBalance: res.NewBalance.Float64(),
		Entry:      toEntryDTO(*res.Entry),
		LowCredits: res.LowCredits,
		Threshold:  res.Threshold.Float64(),
	})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// ListPackages returns the purchasable credit packages.
// GET /api/packages
func (h *Handler) ListPackages(w http.ResponseWriter, r *http.Request) {
	catalog := h.Billing.Catalog()
	dtos := make([]PackageDTO, len(catalog))
	for i, p := range catalog {
		dtos[i] = toPackageDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListModels returns all priced generation models.
// GET /api/models
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	type modelDTO struct {
		ID   string  `json:"id"`
		Cost float64 `json:"cost"`
	}
	models := imagine.Models()
	dtos := make([]modelDTO, len(models))
	for i, m := range models {
		dtos[i] = modelDTO{ID: m, Cost: imagine.EstimateCost(m).Float64()}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecordPurchase records a provider-confirmed package purchase.
// POST /api/payments
func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountID == "" || req.PackageID == "" || req.ChargeID == "" {
		writeError(w, http.StatusBadRequest, "account_id, package_id and charge_id are required", nil)
		return
	}

	res, err := h.Billing.ApplyPurchase(r.Context(),
		credit.AccountID(req.AccountID), req.PackageID, req.ChargeID, req.ProviderRef)
	if err != nil {
		writeDomainError(w, "Failed to record purchase", err)
		return
	}

	status := http.StatusCreated
	if res.AlreadyRecorded {
		status = http.StatusOK
	}
	writeJSON(w, status, toPaymentDTO(res.Record, res.AlreadyRecorded))
}

// RefundPayment marks a payment refunded. The credited balance is not
// reversed here.
// POST /api/payments/{chargeID}/refund
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	chargeID := chi.URLParam(r, "chargeID")

	rec, err := h.Ledger.MarkRefunded(r.Context(), chargeID)
	if err != nil {
		writeDomainError(w, "Failed to mark payment refunded", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(rec, false))
}

// GetPayments returns an account's payments, newest first.
// GET /api/accounts/{id}/payments?limit=N&offset=M
func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	id := credit.AccountID(chi.URLParam(r, "id"))
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	payments, err := h.Ledger.PaymentHistory(r.Context(), id, limit, offset)
	if err != nil {
		writeDomainError(w, "Failed to get payments", err)
		return
	}

	dtos := make([]PaymentDTO, len(payments))
	for i := range payments {
		dtos[i] = toPaymentDTO(&payments[i], false)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPaymentStats aggregates an account's completed payments.
// GET /api/accounts/{id}/payments/stats
func (h *Handler) GetPaymentStats(w http.ResponseWriter, r *http.Request) {
	id := credit.AccountID(chi.URLParam(r, "id"))

	stats, err := h.Ledger.PaymentStats(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get payment stats", err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentStatsDTO{
		Count:        stats.Count,
		TotalCents:   stats.TotalCents,
		TotalCredits: stats.TotalCredits.Float64(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeMutation(w http.ResponseWriter, r *http.Request) (MutationRequest, bool) {
	var req MutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return req, false
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive", nil)
		return req, false
	}
	return req, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps credit engine errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	var insufficient *credit.InsufficientBalanceError
	if errors.As(err, &insufficient) {
		writeJSON(w, http.StatusPaymentRequired, ErrorResponse{
			Error:   message,
			Details: insufficient.Error(),
			Balance: insufficient.Balance.Float64(),
		})
		return
	}

	switch {
	case credit.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, imagine.ErrUnknownPackage):
		writeError(w, http.StatusConflict, message, err)
	case credit.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
