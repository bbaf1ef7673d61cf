package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	march1  = engine.NewDate(2025, time.March, 1)
	march15 = engine.NewDate(2025, time.March, 15)
	march31 = engine.NewDate(2025, time.March, 31)
	april1  = engine.NewDate(2025, time.April, 1)
	april30 = engine.NewDate(2025, time.April, 30)

	// now is the wall clock seen by the workflow in tests.
	now = time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)

	marchValidity = engine.Period{Start: march1, End: march31}
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func intp(n int) *int { return &n }

func decp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s", want, got.String())
}

func testProducts() map[engine.ProductID]engine.Product {
	return map[engine.ProductID]engine.Product{
		"p-a": {ID: "p-a", Name: "Galaxy S23 Ultra", Code: "SM-S918B", Category: "Smartphone", Subcategory: "Flagship",
			DealerPrice: d("124999"), MRP: d("149999"), Active: true},
		"p-b": {ID: "p-b", Name: "Galaxy Buds2 Pro", Code: "SM-R510", Category: "Audio", Subcategory: "Earbuds",
			DealerPrice: d("14999"), MRP: d("17999"), Active: true},
		"p-c": {ID: "p-c", Name: "Galaxy Watch6", Code: "SM-R940", Category: "Wearable", Subcategory: "Watch",
			DealerPrice: d("29999"), MRP: d("34999"), Active: true},
		"p-x": {ID: "p-x", Name: "Galaxy A54", Code: "SM-A546E", Category: "Smartphone", Subcategory: "Mid-range",
			DealerPrice: d("35999"), MRP: d("38999"), Active: true},
	}
}

func testDealer() engine.Dealer {
	return engine.Dealer{
		ID: "rd001", Name: "Reliance Digital", Code: "RD001", Type: "National Chain",
		Tier: "Gold", Region: "West", State: "Maharashtra", City: "Mumbai", Status: engine.DealerActive,
	}
}

func fixedProduct(id engine.ProductID, amount string) engine.SchemeProduct {
	return engine.SchemeProduct{ProductID: id, Incentive: engine.FixedIncentive{Amount: d(amount)}}
}

func slabProduct(id engine.ProductID, slabs ...engine.PayoutSlab) engine.SchemeProduct {
	return engine.SchemeProduct{ProductID: id, Incentive: engine.SlabIncentive{Slabs: slabs}}
}

// scenarioASlabs are [0,10)→50 and [10,∞)→80 per unit.
func scenarioASlabs() []engine.PayoutSlab {
	return []engine.PayoutSlab{
		{ID: "s1", MinQty: 0, MaxQty: intp(10), Payout: d("50")},
		{ID: "s2", MinQty: 10, Payout: d("80")},
	}
}

func scheme(id engine.SchemeID, version int, products ...engine.SchemeProduct) engine.Scheme {
	return engine.Scheme{
		ID:       id,
		Version:  version,
		Name:     "Scheme " + string(id),
		Validity: marchValidity,
		State:    engine.StateActive,
		Products: products,
	}
}

func sale(id engine.TransactionID, date engine.Date, lines ...engine.TransactionLine) engine.Transaction {
	return engine.Transaction{
		ID:       id,
		Kind:     engine.KindSale,
		DealerID: "rd001",
		Date:     date,
		Lines:    lines,
	}
}

func line(id engine.ProductID, qty int, price string) engine.TransactionLine {
	return engine.TransactionLine{ProductID: id, Quantity: qty, UnitPrice: d(price)}
}

func calculate(t *testing.T, tx engine.Transaction, schemes ...engine.Scheme) engine.PayoutResult {
	t.Helper()
	result, err := engine.NewCalculator().Calculate(engine.CalculationInput{
		Transaction: tx,
		Schemes:     schemes,
		Dealer:      testDealer(),
		Products:    testProducts(),
	})
	require.NoError(t, err)
	return result
}

// =============================================================================
// SERVICE FIXTURE
// =============================================================================

type fixture struct {
	repo     *store.Memory
	workflow *engine.WorkflowService
	payouts  *engine.PayoutService
	catalog  *engine.CatalogService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := store.NewMemory()
	logger := zap.NewNop()

	f := &fixture{
		repo:     repo,
		workflow: engine.NewWorkflowService(repo, logger),
		payouts:  engine.NewPayoutService(repo, logger),
		catalog:  engine.NewCatalogService(repo, logger),
	}
	f.workflow.Clock = func() time.Time { return now }

	for _, p := range testProducts() {
		require.NoError(t, f.catalog.SaveProduct(ctx, p))
	}
	require.NoError(t, f.catalog.SaveDealer(ctx, testDealer()))
	return f
}

// activate takes a draft through submit, approve and activate.
func (f *fixture) activate(t *testing.T, s engine.Scheme) engine.Scheme {
	t.Helper()
	ctx := context.Background()
	draft, err := f.workflow.Ingest(ctx, s)
	require.NoError(t, err)
	_, err = f.workflow.Submit(ctx, draft.Ref(), "alice", "")
	require.NoError(t, err)
	_, err = f.workflow.Decide(ctx, draft.Ref(), engine.DecisionApprove, "bob", "ok")
	require.NoError(t, err)
	active, err := f.workflow.Activate(ctx, draft.Ref(), "bob", "")
	require.NoError(t, err)
	return *active
}

// approved takes a draft through submit and approve.
func (f *fixture) approved(t *testing.T, s engine.Scheme) engine.Scheme {
	t.Helper()
	ctx := context.Background()
	draft, err := f.workflow.Ingest(ctx, s)
	require.NoError(t, err)
	_, err = f.workflow.Submit(ctx, draft.Ref(), "alice", "")
	require.NoError(t, err)
	out, err := f.workflow.Decide(ctx, draft.Ref(), engine.DecisionApprove, "bob", "ok")
	require.NoError(t, err)
	return *out
}
