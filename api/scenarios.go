/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario creates accounts, charges
	generations, and records purchases that demonstrate specific flows.

AVAILABLE SCENARIOS:

	new-user:       Fresh account with only the onboarding grant
	active-creator: Account with generation history across several models
	big-spender:    Purchases plus heavy generation spend
	refund-case:    A recorded purchase later marked refunded

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "active-creator"}

NOTE:

	Scenarios write into whatever store the server runs on. Only use in
	development/demo environments.

SEE ALSO:
  - handlers.go: Error/JSON helpers
  - server.go: Scenario routes
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/OxFrancesco/BuddyImagine/credit"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "new-user",
		Name:        "New User",
		Description: "Fresh account holding only the onboarding credits",
	},
	{
		ID:          "active-creator",
		Name:        "Active Creator",
		Description: "Account with generation charges across several models",
	},
	{
		ID:          "big-spender",
		Name:        "Big Spender",
		Description: "Two package purchases and heavy generation spend",
	},
	{
		ID:          "refund-case",
		Name:        "Refund Case",
		Description: "A purchase that was later refunded by the provider",
	},
}

// ListScenarios returns the available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario id.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": h.currentScenario})
}

// LoadScenario populates the store with one of the demo scenarios.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	var err error
	switch req.ScenarioID {
	case "new-user":
		err = h.loadNewUserScenario(ctx)
	case "active-creator":
		err = h.loadActiveCreatorScenario(ctx)
	case "big-spender":
		err = h.loadBigSpenderScenario(ctx)
	case "refund-case":
		err = h.loadRefundCaseScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"loaded": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadNewUserScenario(ctx context.Context) error {
	_, err := h.Ledger.GetOrCreate(ctx, "demo-new-user", credit.Profile{
		Username:  "fresh_eyes",
		FirstName: "Noa",
	})
	return err
}

func (h *Handler) loadActiveCreatorScenario(ctx context.Context) error {
	id := credit.AccountID("demo-creator")
	if _, err := h.Ledger.GetOrCreate(ctx, id, credit.Profile{
		Username:     "pixel_smith",
		FirstName:    "Ari",
		DefaultModel: "fal-ai/flux/dev",
	}); err != nil {
		return err
	}

	for _, model := range []string{
		"fal-ai/fast-sdxl",
		"fal-ai/flux/dev",
		"fal-ai/flux/schnell",
		"fal-ai/flux/dev",
	} {
		if _, err := h.Billing.ChargeGeneration(ctx, id, model, ""); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadBigSpenderScenario(ctx context.Context) error {
	id := credit.AccountID("demo-spender")
	if _, err := h.Ledger.GetOrCreate(ctx, id, credit.Profile{
		Username:  "render_farm",
		FirstName: "Max",
	}); err != nil {
		return err
	}

	if _, err := h.Billing.ApplyPurchase(ctx, id, "credits_250", "demo_charge_spender_1", "demo"); err != nil {
		return err
	}
	if _, err := h.Billing.ApplyPurchase(ctx, id, "credits_100", "demo_charge_spender_2", "demo"); err != nil {
		return err
	}

	for i := 0; i < 6; i++ {
		if _, err := h.Billing.ChargeGeneration(ctx, id, "fal-ai/ideogram/v2", ""); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadRefundCaseScenario(ctx context.Context) error {
	id := credit.AccountID("demo-refunded")
	if _, err := h.Ledger.GetOrCreate(ctx, id, credit.Profile{
		Username:  "second_thoughts",
		FirstName: "Remy",
	}); err != nil {
		return err
	}

	if _, err := h.Billing.ApplyPurchase(ctx, id, "credits_50", "demo_charge_refunded", "demo"); err != nil {
		return err
	}
	// Provider-side refund: the record flips, the credits stay.
	_, err := h.Ledger.MarkRefunded(ctx, "demo_charge_refunded")
	return err
}
