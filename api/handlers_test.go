/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Scheme lifecycle over HTTP (ingest, submit, approve, activate)
- Error mapping (validation issues, not found, conflicts)
- Recording, breakdown and reversal of transactions
- Simulation, recalculation, expiry and metrics endpoints
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/api"
	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/engine/store"
	"github.com/warp/incentive-engine/presets"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var march10 = time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

type testServer struct {
	h      *api.Handler
	router http.Handler
	now    time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{now: march10}
	ts.h = api.NewHandler(store.NewMemory(), zap.NewNop(), api.NewMetrics())
	ts.h.SetClock(func() time.Time { return ts.now })
	ts.router = api.NewRouter(ts.h, nil)

	ctx := context.Background()
	for _, p := range presets.SampleProducts() {
		require.NoError(t, ts.h.Catalog.SaveProduct(ctx, p))
	}
	for _, d := range presets.SampleDealers() {
		require.NoError(t, ts.h.Catalog.SaveDealer(ctx, d))
	}
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

type schemeView struct {
	ID      engine.SchemeID `json:"id"`
	Version int             `json:"version"`
	State   engine.State    `json:"state"`
}

type actorBody struct {
	Actor          string `json:"actor"`
	Comment        string `json:"comment,omitempty"`
	ExpectedActive *int   `json:"expected_active,omitempty"`
}

// publish ingests draft and walks it to active over HTTP.
func (ts *testServer) publish(t *testing.T, draft string) schemeView {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/schemes", draft)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	s := decode[schemeView](t, rec)

	base := "/api/schemes/" + string(s.ID) + "/versions/" + itoa(s.Version)
	for _, step := range []struct{ action, actor string }{
		{"submit", "alice"},
		{"approve", "bob"},
		{"activate", "bob"},
	} {
		rec = ts.do(t, http.MethodPost, base+"/"+step.action, actorBody{Actor: step.actor})
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", step.action, rec.Body.String())
	}
	s.State = engine.StateActive
	return s
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func flatDraft(amount float64) string {
	return presets.FlatSupportJSON("s23-flat", "S23 Special Support", "2025-03-01", "2025-03-31",
		amount, presets.GalaxyS23, presets.GalaxyS23Plus)
}

func s23Sale(id string, qty int) engine.Transaction {
	return engine.Transaction{
		ID:       engine.TransactionID(id),
		Kind:     engine.KindSale,
		DealerID: "VS001",
		Date:     engine.NewDate(2025, time.March, 10),
		Lines: []engine.TransactionLine{{
			ProductID: presets.GalaxyS23, Quantity: qty, UnitPrice: decimal.NewFromInt(64999),
		}},
	}
}

// =============================================================================
// SCHEME WORKFLOW
// =============================================================================

func TestSchemeLifecycle_IngestToActive(t *testing.T) {
	// GIVEN: A valid flat support draft
	// WHEN: It is ingested, submitted, approved and activated over HTTP
	// THEN: The active endpoint serves version 1 and the log holds every step

	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/schemes", flatDraft(500))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[schemeView](t, rec)
	assert.Equal(t, engine.SchemeID("s23-flat"), created.ID)
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, engine.StateDraft, created.State)

	base := "/api/schemes/s23-flat/versions/1"
	steps := []struct {
		action string
		want   engine.State
	}{
		{"submit", engine.StatePendingApproval},
		{"approve", engine.StateApproved},
		{"activate", engine.StateActive},
	}
	for _, step := range steps {
		rec = ts.do(t, http.MethodPost, base+"/"+step.action, actorBody{Actor: "bob", Comment: step.action})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, step.want, decode[schemeView](t, rec).State)
	}

	rec = ts.do(t, http.MethodGet, "/api/schemes/s23-flat/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[schemeView](t, rec).Version)

	rec = ts.do(t, http.MethodGet, base+"/approvals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 3)

	rec = ts.do(t, http.MethodGet, "/api/schemes?state=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summaries := decode[[]api.SchemeSummaryDTO](t, rec)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].Products)
}

func TestIngestScheme_ValidationIssues(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/schemes", `{"scheme_name": "No products", "products": []}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[api.ErrorResponse](t, rec)
	assert.NotEmpty(t, body.Issues)
	assert.False(t, body.Retryable)
}

func TestTransition_RequiresActor(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/schemes", flatDraft(500)).Code)

	rec := ts.do(t, http.MethodPost, "/api/schemes/s23-flat/versions/1/submit", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransition_IllegalIsConflict(t *testing.T) {
	// GIVEN: A draft version
	// WHEN: It is approved without being submitted
	// THEN: 409, not retryable

	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/schemes", flatDraft(500)).Code)

	rec := ts.do(t, http.MethodPost, "/api/schemes/s23-flat/versions/1/approve", actorBody{Actor: "bob"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, decode[api.ErrorResponse](t, rec).Retryable)
}

func TestActivate_StaleExpectationIsRetryable(t *testing.T) {
	// GIVEN: Version 1 active and version 2 approved
	// WHEN: Version 2 is activated expecting no active version
	// THEN: 409 with retryable set, and version 1 stays active

	ts := newTestServer(t)
	ts.publish(t, flatDraft(500))

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/schemes", flatDraft(750)).Code)
	base := "/api/schemes/s23-flat/versions/2"
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, base+"/submit", actorBody{Actor: "alice"}).Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, base+"/approve", actorBody{Actor: "bob"}).Code)

	none := 0
	rec := ts.do(t, http.MethodPost, base+"/activate", actorBody{Actor: "bob", ExpectedActive: &none})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, decode[api.ErrorResponse](t, rec).Retryable)

	rec = ts.do(t, http.MethodGet, "/api/schemes/s23-flat/active", nil)
	assert.Equal(t, 1, decode[schemeView](t, rec).Version)

	one := 1
	rec = ts.do(t, http.MethodPost, base+"/activate", actorBody{Actor: "bob", ExpectedActive: &one})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodGet, "/api/schemes/s23-flat/versions/1", nil)
	assert.Equal(t, engine.StateExpired, decode[schemeView](t, rec).State)
}

func TestGetScheme_NotFound(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/schemes/ghost/versions/1", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/schemes/ghost/active", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/schemes/ghost/versions/zero", nil).Code)
}

func TestExportDraft_RoundTrips(t *testing.T) {
	ts := newTestServer(t)
	ts.publish(t, flatDraft(500))

	rec := ts.do(t, http.MethodGet, "/api/schemes/s23-flat/versions/1/draft", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// re-ingesting the export yields the next version
	rec = ts.do(t, http.MethodPost, "/api/schemes", rec.Body.String())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[schemeView](t, rec).Version)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestRecordAndReverse(t *testing.T) {
	// GIVEN: Flat support of 500 per S23 unit
	// WHEN: Vijay Sales sells 2 units, then the sale is reversed twice
	// THEN: 1000 is paid, the correction pays -1000 and the second reversal conflicts

	ts := newTestServer(t)
	ts.publish(t, flatDraft(500))

	rec := ts.do(t, http.MethodPost, "/api/transactions", s23Sale("tx-1", 2))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	paid := decode[engine.PayoutResult](t, rec)
	assert.Equal(t, engine.OutcomeCalculated, paid.Outcome)
	assert.True(t, paid.Total.Equal(decimal.NewFromInt(1000)), "got %s", paid.Total)
	assert.NotEmpty(t, paid.Fingerprint)

	rec = ts.do(t, http.MethodGet, "/api/transactions/tx-1/payout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, paid.Fingerprint, decode[engine.PayoutResult](t, rec).Fingerprint)

	rec = ts.do(t, http.MethodPost, "/api/transactions/tx-1/reverse", api.ReverseRequest{Reason: "returned"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	correction := decode[engine.PayoutResult](t, rec)
	assert.Equal(t, engine.TransactionID("tx-1"), correction.Reverses)
	assert.True(t, correction.Total.Equal(decimal.NewFromInt(-1000)), "got %s", correction.Total)

	rec = ts.do(t, http.MethodPost, "/api/transactions/tx-1/reverse", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]engine.Transaction](t, rec), 2)
}

func TestRecordTransaction_Errors(t *testing.T) {
	ts := newTestServer(t)
	ts.publish(t, flatDraft(500))

	tests := []struct {
		name string
		body any
		want int
	}{
		{"malformed body", `{"id": `, http.StatusBadRequest},
		{"no lines", engine.Transaction{ID: "tx-x", Kind: engine.KindSale, DealerID: "VS001", Date: engine.NewDate(2025, time.March, 10)}, http.StatusBadRequest},
		{"unknown dealer", func() engine.Transaction { tx := s23Sale("tx-y", 1); tx.DealerID = "NOPE"; return tx }(), http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ts.do(t, http.MethodPost, "/api/transactions", tc.body).Code)
		})
	}

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/transactions", s23Sale("tx-1", 1)).Code)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/api/transactions", s23Sale("tx-1", 1)).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/transactions/ghost/payout", nil).Code)
}

func TestPreview_RecordsNothing(t *testing.T) {
	ts := newTestServer(t)
	ts.publish(t, flatDraft(500))

	rec := ts.do(t, http.MethodPost, "/api/transactions/preview", s23Sale("", 3))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[engine.PayoutResult](t, rec).Total.Equal(decimal.NewFromInt(1500)))

	rec = ts.do(t, http.MethodGet, "/api/transactions", nil)
	assert.Empty(t, decode[[]engine.Transaction](t, rec))
}

func TestStatement_ListsDealerPayouts(t *testing.T) {
	ts := newTestServer(t)
	ts.publish(t, flatDraft(500))
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/transactions", s23Sale("tx-1", 1)).Code)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/transactions", s23Sale("tx-2", 2)).Code)

	rec := ts.do(t, http.MethodGet, "/api/dealers/VS001/statement?from=2025-03-01&to=2025-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	lines := decode[[]engine.StatementLine](t, rec)
	require.Len(t, lines, 2)
	assert.Equal(t, engine.TransactionID("tx-1"), lines[0].Transaction.ID)

	rec = ts.do(t, http.MethodGet, "/api/dealers/VS001/statement?from=March", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ANALYSIS
// =============================================================================

func TestSimulate_ComparesDrafts(t *testing.T) {
	// GIVEN: Two unsaved flat drafts at 500 and 750 per unit
	// WHEN: They are simulated over a 4-unit sale
	// THEN: The 750 draft is best at 3000 and nothing is recorded

	ts := newTestServer(t)

	d1 := presets.FlatSupportJSON("flat-500", "Flat 500", "2025-03-01", "2025-03-31", 500, presets.GalaxyS23)
	d2 := presets.FlatSupportJSON("flat-750", "Flat 750", "2025-03-01", "2025-03-31", 750, presets.GalaxyS23)
	req := api.SimulateRequest{
		Transactions: []engine.Transaction{s23Sale("sim-1", 4)},
		Drafts:       []json.RawMessage{json.RawMessage(d1), json.RawMessage(d2)},
	}

	rec := ts.do(t, http.MethodPost, "/api/simulate", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[engine.SimulationReport](t, rec)

	require.Len(t, report.Candidates, 2)
	require.NotNil(t, report.Best)
	assert.Equal(t, engine.SchemeID("flat-750"), report.Best.SchemeID)
	assert.True(t, report.Candidates[1].TotalIncentive.Equal(decimal.NewFromInt(3000)))
	assert.Nil(t, report.Candidates[0].Results, "results omitted unless requested")

	rec = ts.do(t, http.MethodGet, "/api/transactions", nil)
	assert.Empty(t, decode[[]engine.Transaction](t, rec))
}

func TestRecalculate_ReportsMatches(t *testing.T) {
	ts := newTestServer(t)
	ts.publish(t, flatDraft(500))
	for _, id := range []string{"tx-1", "tx-2", "tx-3"} {
		require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/transactions", s23Sale(id, 1)).Code)
	}

	rec := ts.do(t, http.MethodPost, "/api/recalculate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[engine.RecalculationReport](t, rec)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 3, report.Matched)
	assert.Empty(t, report.Drifted)
}

func TestTriggerExpiry_ExpiresEndedSchemes(t *testing.T) {
	// GIVEN: A February scheme activated in February
	// WHEN: The expiry check runs on March 10
	// THEN: The version is expired by the system actor

	ts := newTestServer(t)
	ts.now = time.Date(2025, time.February, 20, 12, 0, 0, 0, time.UTC)
	ts.publish(t, presets.FlatSupportJSON("feb", "February", "2025-02-01", "2025-02-28", 400, presets.GalaxyA54))

	ts.now = march10
	rec := ts.do(t, http.MethodPost, "/api/admin/expire", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.ExpiryResponse](t, rec)
	assert.Equal(t, "2025-03-10", resp.Today.String())
	assert.Equal(t, []engine.SchemeRef{{SchemeID: "feb", Version: 1}}, resp.Expired)

	rec = ts.do(t, http.MethodGet, "/api/schemes/feb/active", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_CountPayoutsAndTransitions(t *testing.T) {
	ts := newTestServer(t)
	ts.publish(t, flatDraft(500))
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/transactions", s23Sale("tx-1", 2)).Code)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, `incentive_payouts_total{outcome="calculated"} 1`)
	assert.Contains(t, body, `incentive_payout_amount_total{direction="payout"} 1000`)
	assert.Contains(t, body, `incentive_transitions_total{to="active"} 1`)
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog_SaveAndList(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/dealers", engine.Dealer{ID: "NEW001", Name: "New Dealer", Region: "North"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, engine.DealerActive, decode[engine.Dealer](t, rec).Status)

	rec = ts.do(t, http.MethodGet, "/api/dealers", nil)
	assert.Len(t, decode[[]engine.Dealer](t, rec), len(presets.SampleDealers())+1)

	target := engine.DealerTarget{
		DealerID:       "NEW001",
		SchemeID:       "s23u-volume",
		Period:         engine.Period{Start: engine.NewDate(2025, time.March, 1), End: engine.NewDate(2025, time.March, 31)},
		TargetQuantity: 50,
	}
	rec = ts.do(t, http.MethodPost, "/api/targets", target)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/targets?dealer_id=NEW001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]engine.DealerTarget](t, rec), 1)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/targets", nil).Code)
}
