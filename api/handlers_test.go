package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OxFrancesco/BuddyImagine/api"
	"github.com/OxFrancesco/BuddyImagine/credit"
	memstore "github.com/OxFrancesco/BuddyImagine/credit/store"
	"github.com/OxFrancesco/BuddyImagine/imagine"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ledger := credit.NewLedger(memstore.NewMemory())
	billing := imagine.NewBilling(ledger, nil)
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(ledger, billing)))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func registerAccount(t *testing.T, srv *httptest.Server, id string) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts", map[string]string{
		"id":       id,
		"username": id,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// ACCOUNT ENDPOINTS
// =============================================================================

func TestAPI_RegisterAccount(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts", map[string]string{
		"id":         "user-1",
		"username":   "pixel_smith",
		"first_name": "Ari",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	acct := decode[map[string]any](t, resp)
	assert.Equal(t, "user-1", acct["id"])
	assert.InDelta(t, 10, acct["balance"].(float64), 1e-9)
}

func TestAPI_RegisterAccount_RequiresID(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts", map[string]string{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_GetAccount_NotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/accounts/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_GetBalance_UnknownIsZero(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/accounts/ghost/balance")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]float64](t, resp)
	assert.Zero(t, body["balance"])
}

func TestAPI_UpdateSettings(t *testing.T) {
	srv := newTestServer(t)
	registerAccount(t, srv, "user-1")

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/accounts/user-1/settings", map[string]any{
		"telegram_quality":     "compressed",
		"low_credit_threshold": 25.0,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	settings := decode[map[string]any](t, resp)
	assert.Equal(t, "compressed", settings["telegram_quality"])
	assert.InDelta(t, 25, settings["low_credit_threshold"].(float64), 1e-9)
	assert.Equal(t, true, settings["notify_low_credits"], "untouched field keeps its default")
}

// =============================================================================
// MUTATION ENDPOINTS
// =============================================================================

func TestAPI_Debit_InsufficientBalance(t *testing.T) {
	srv := newTestServer(t)
	registerAccount(t, srv, "user-1")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts/user-1/debit", map[string]any{
		"amount":   50.0,
		"category": "generation",
	})
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.InDelta(t, 10, body["balance"].(float64), 1e-9, "current balance echoed back")
}

func TestAPI_DebitThenHistory(t *testing.T) {
	srv := newTestServer(t)
	registerAccount(t, srv, "user-1")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts/user-1/debit", map[string]any{
		"amount":      2.0,
		"category":    "generation",
		"description": "test",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mutation := decode[map[string]any](t, resp)
	assert.InDelta(t, 8, mutation["new_balance"].(float64), 1e-9)

	histResp, err := http.Get(srv.URL + "/api/accounts/user-1/history")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, histResp.StatusCode)

	history := decode[[]map[string]any](t, histResp)
	require.Len(t, history, 1)
	assert.InDelta(t, -2, history[0]["amount"].(float64), 1e-9)
}

func TestAPI_ChargeGeneration(t *testing.T) {
	srv := newTestServer(t)
	registerAccount(t, srv, "user-1")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/accounts/user-1/generations", map[string]string{
		"model_id": "fal-ai/flux/dev",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	charge := decode[map[string]any](t, resp)
	assert.InDelta(t, 0.03, charge["cost"].(float64), 1e-9)
	assert.Equal(t, true, charge["low_credits"], "post-charge balance is under the default threshold")
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

func TestAPI_RecordPurchase_AndReplay(t *testing.T) {
	srv := newTestServer(t)
	registerAccount(t, srv, "user-1")

	payload := map[string]string{
		"account_id": "user-1",
		"package_id": "credits_50",
		"charge_id":  "ch_http_1",
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/payments", payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decode[map[string]any](t, resp)
	assert.Equal(t, "completed", first["status"])

	// Provider retry: same charge id comes back, nothing credits twice.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/payments", payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decode[map[string]any](t, resp)
	assert.Equal(t, true, second["already_recorded"])
	assert.Equal(t, first["id"], second["id"])

	balResp, err := http.Get(srv.URL + "/api/accounts/user-1/balance")
	require.NoError(t, err)
	balance := decode[map[string]float64](t, balResp)
	assert.InDelta(t, 60, balance["balance"], 1e-9)
}

func TestAPI_RecordPurchase_UnknownPackage(t *testing.T) {
	srv := newTestServer(t)
	registerAccount(t, srv, "user-1")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/payments", map[string]string{
		"account_id": "user-1",
		"package_id": "credits_9000",
		"charge_id":  "ch_x",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_RefundPayment_KeepsBalance(t *testing.T) {
	srv := newTestServer(t)
	registerAccount(t, srv, "user-1")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/payments", map[string]string{
		"account_id": "user-1",
		"package_id": "credits_50",
		"charge_id":  "ch_refund_http",
	})
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/payments/ch_refund_http/refund", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	refunded := decode[map[string]any](t, resp)
	assert.Equal(t, "refunded", refunded["status"])

	balResp, err := http.Get(srv.URL + "/api/accounts/user-1/balance")
	require.NoError(t, err)
	balance := decode[map[string]float64](t, balResp)
	assert.InDelta(t, 60, balance["balance"], 1e-9, "marking refunded never reverses credits")
}

func TestAPI_ListPackagesAndModels(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/packages")
	require.NoError(t, err)
	packages := decode[[]map[string]any](t, resp)
	require.Len(t, packages, 4)
	assert.Equal(t, "credits_50", packages[0]["id"])

	resp, err = http.Get(srv.URL + "/api/models")
	require.NoError(t, err)
	models := decode[[]map[string]any](t, resp)
	assert.NotEmpty(t, models)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestAPI_LoadScenario(t *testing.T) {
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load", map[string]string{
		"scenario_id": "refund-case",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The refunded purchase left its credits on the account.
	balResp, err := http.Get(srv.URL + "/api/accounts/demo-refunded/balance")
	require.NoError(t, err)
	balance := decode[map[string]float64](t, balResp)
	assert.InDelta(t, 60, balance["balance"], 1e-9)

	curResp, err := http.Get(srv.URL + "/api/scenarios/current")
	require.NoError(t, err)
	current := decode[map[string]string](t, curResp)
	assert.Equal(t, "refund-case", current["scenario_id"])
}
