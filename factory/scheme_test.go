package factory_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/engine/store"
	"github.com/warp/incentive-engine/factory"
	"github.com/warp/incentive-engine/presets"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	marchStart = "2025-03-01"
	marchEnd   = "2025-03-31"
)

func newFactory(t *testing.T) *factory.SchemeFactory {
	t.Helper()
	f, err := factory.NewSchemeFactory(factory.NewCatalogIndex(presets.SampleProducts()))
	require.NoError(t, err)
	return f
}

func catalog() map[engine.ProductID]engine.Product {
	out := map[engine.ProductID]engine.Product{}
	for _, p := range presets.SampleProducts() {
		out[p.ID] = p
	}
	return out
}

func issueCodes(t *testing.T, err error) []string {
	t.Helper()
	var verr *engine.ValidationError
	require.True(t, errors.As(err, &verr), "want *ValidationError, got %v", err)
	var codes []string
	for _, is := range verr.Issues {
		codes = append(codes, is.Code)
	}
	return codes
}

// =============================================================================
// SCHEMA CHECK
// =============================================================================

func TestParseDraft_SchemaViolations(t *testing.T) {
	f := newFactory(t)

	tests := []struct {
		name  string
		draft string
		code  string
	}{
		{"malformed json", `{"scheme_name": `, "malformed_json"},
		{"missing name", `{"scheme_period_start": "2025-03-01", "scheme_period_end": "2025-03-31", "products": [{"product_id": "x", "payout_type": "fixed", "payout_amount": 1}]}`, "schema"},
		{"no products", `{"scheme_name": "x", "scheme_period_start": "2025-03-01", "scheme_period_end": "2025-03-31", "products": []}`, "schema"},
		{"unknown payout type", `{"scheme_name": "x", "scheme_period_start": "2025-03-01", "scheme_period_end": "2025-03-31", "products": [{"product_id": "x", "payout_type": "bogus"}]}`, "schema"},
		{"slab without slabs", `{"scheme_name": "x", "scheme_period_start": "2025-03-01", "scheme_period_end": "2025-03-31", "products": [{"product_id": "x", "payout_type": "slab"}]}`, "schema"},
		{"bad date", `{"scheme_name": "x", "scheme_period_start": "1 March", "scheme_period_end": "2025-03-31", "products": [{"product_id": "x", "payout_type": "fixed", "payout_amount": 1}]}`, "schema"},
		{"bad money", `{"scheme_name": "x", "scheme_period_start": "2025-03-01", "scheme_period_end": "2025-03-31", "products": [{"product_id": "x", "payout_type": "fixed", "payout_amount": "five"}]}`, "schema"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ParseDraft([]byte(tc.draft))
			require.Error(t, err)
			assert.ErrorIs(t, err, engine.ErrValidation)
			assert.Contains(t, issueCodes(t, err), tc.code)
		})
	}
}

// =============================================================================
// MAPPING
// =============================================================================

func TestParseDraft_SlabDraft(t *testing.T) {
	f := newFactory(t)

	s, err := f.ParseDraft([]byte(presets.VolumeSlabJSON("vol", "Volume", marchStart, marchEnd, true)))
	require.NoError(t, err)

	assert.Equal(t, engine.SchemeID("vol"), s.ID)
	assert.Equal(t, "Volume Support", s.SchemeType)
	assert.Equal(t, engine.SlabCumulative, s.Parameters.SlabBasis)
	assert.Equal(t, engine.AggregateCalendarMonth, s.Parameters.AggregationPeriod)
	assert.True(t, s.Validity.End.Equal(engine.NewDate(2025, time.March, 31)))
	assert.Empty(t, s.Rules, "unrestricted region and dealer type add no rules")

	require.Len(t, s.Products, 1)
	sp := s.Products[0]
	assert.Equal(t, engine.ProductID(presets.GalaxyS23Ultra), sp.ProductID)
	assert.Equal(t, "Volume Support", sp.SupportType, "support type defaults to scheme type")

	slab, ok := sp.Incentive.(engine.SlabIncentive)
	require.True(t, ok)
	require.Len(t, slab.Slabs, 3)
	assert.Equal(t, engine.SlabID("gold"), slab.Slabs[2].ID)
	assert.Nil(t, slab.Slabs[2].MaxQty)
	assert.True(t, slab.Slabs[2].DealerContribution.Equal(decimal.NewFromInt(100)))

	assert.NoError(t, engine.ValidateScheme(s, engine.LevelSubmit, catalog()))
}

func TestParseDraft_EligibilityBecomesRules(t *testing.T) {
	// GIVEN: A draft for West-region chains with one enforced and one informational rule
	// WHEN: It is parsed
	// THEN: Region and dealer type become membership rules; the informational rule is a parameter

	f := newFactory(t)

	s, err := f.ParseDraft([]byte(presets.RegionalChainJSON("west", "West", marchStart, marchEnd)))
	require.NoError(t, err)

	require.Len(t, s.Rules, 3)
	assert.Equal(t, engine.RuleID("eligibility-region"), s.Rules[0].ID)
	assert.Equal(t, engine.Membership{Field: engine.FieldDealerRegion, Values: []string{"West"}}, s.Rules[0].Predicate)
	assert.Equal(t, engine.Membership{
		Field:  engine.FieldDealerType,
		Values: []string{"National Chain", "Regional Chain"},
	}, s.Rules[1].Predicate)
	assert.Equal(t, engine.RuleID("min-order"), s.Rules[2].ID)
	assert.Equal(t, engine.Comparison{Field: engine.FieldOrderValue, Op: engine.OpGte, Value: "100000"}, s.Rules[2].Predicate)

	require.Len(t, s.Parameters.Extra, 1)
	assert.Equal(t, "Documentation", s.Parameters.Extra[0].Name)
	assert.Equal(t, "IMEI", s.Parameters.Extra[0].Criteria)
}

func TestParseDraft_ResolvesProductsByCodeAndName(t *testing.T) {
	f := newFactory(t)
	draft := `{
		"scheme_id": "mix",
		"scheme_name": "Mixed references",
		"scheme_period_start": "2025-03-01",
		"scheme_period_end": "2025-03-31",
		"products": [
			{"product_code": "sm-a546b", "payout_type": "fixed", "payout_amount": "300"},
			{"product_name": "Samsung Galaxy Watch6", "payout_type": "percentage", "payout_amount": 1.5}
		]
	}`

	s, err := f.ParseDraft([]byte(draft))
	require.NoError(t, err)
	require.Len(t, s.Products, 2)
	assert.Equal(t, engine.ProductID(presets.GalaxyA54), s.Products[0].ProductID)
	assert.Equal(t, engine.ProductID(presets.GalaxyWatch6), s.Products[1].ProductID)
	rate := s.Products[1].Incentive.(engine.PercentageIncentive).Rate
	assert.True(t, rate.Equal(decimal.RequireFromString("1.5")), "got %s", rate)
}

func TestParseDraft_UnknownProducts(t *testing.T) {
	f := newFactory(t)
	draft := `{
		"scheme_name": "Ghost",
		"scheme_period_start": "2025-03-01",
		"scheme_period_end": "2025-03-31",
		"products": [{"product_name": "Nokia 3310", "payout_type": "fixed", "payout_amount": 1}],
		"bundles": [{"products": ["SM-S918B", "Nokia 3310"], "payout": 10}]
	}`

	_, err := f.ParseDraft([]byte(draft))
	assert.Equal(t, []string{"unknown_product", "unknown_product"}, issueCodes(t, err))
}

func TestToDraft_RoundTrip(t *testing.T) {
	f := newFactory(t)

	for _, p := range presets.Drafts(marchStart, marchEnd) {
		t.Run(p.Key, func(t *testing.T) {
			first, err := f.ParseDraft([]byte(p.JSON))
			require.NoError(t, err)

			d, err := f.ToDraft(first)
			require.NoError(t, err)
			data, err := json.Marshal(d)
			require.NoError(t, err)

			second, err := f.ParseDraft(data)
			require.NoError(t, err)

			want, _ := json.Marshal(first)
			got, _ := json.Marshal(second)
			assert.JSONEq(t, string(want), string(got))
		})
	}
}

// =============================================================================
// INGEST
// =============================================================================

func TestIngest_PersistsDraftVersion(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	catalogSvc := engine.NewCatalogService(repo, zap.NewNop())
	for _, p := range presets.SampleProducts() {
		require.NoError(t, catalogSvc.SaveProduct(ctx, p))
	}
	workflow := engine.NewWorkflowService(repo, zap.NewNop())
	f := newFactory(t)

	data := []byte(presets.EcosystemBundleJSON("eco", "Ecosystem", marchStart, marchEnd))
	v1, err := f.Ingest(ctx, workflow, data)
	require.NoError(t, err)
	v2, err := f.Ingest(ctx, workflow, data)
	require.NoError(t, err)

	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, engine.StateDraft, v2.State)
	require.Len(t, v2.Bundles, 1)
	assert.Len(t, v2.Bundles[0].Products, 3)
}

func TestIngest_RulesGateThePayout(t *testing.T) {
	// GIVEN: The West chain scheme requiring an order of at least 100000
	// WHEN: Croma (West, National Chain) and The Mobile Store (South, MBO) each buy 3 A54s
	// THEN: Croma earns 3 × 300; The Mobile Store is ineligible

	f := newFactory(t)
	s, err := f.ParseDraft([]byte(presets.RegionalChainJSON("west", "West", marchStart, marchEnd)))
	require.NoError(t, err)
	s.Version = 1

	dealers := map[engine.DealerID]engine.Dealer{}
	for _, d := range presets.SampleDealers() {
		dealers[d.ID] = d
	}

	calc := engine.NewCalculator()
	run := func(dealer engine.DealerID) engine.PayoutResult {
		result, err := calc.Calculate(engine.CalculationInput{
			Transaction: engine.Transaction{
				ID:       engine.TransactionID("tx-" + dealer),
				Kind:     engine.KindSale,
				DealerID: dealer,
				Date:     engine.NewDate(2025, time.March, 10),
				Lines: []engine.TransactionLine{{
					ProductID: presets.GalaxyA54, Quantity: 3, UnitPrice: decimal.NewFromInt(38999),
				}},
			},
			Schemes:  []engine.Scheme{s},
			Dealer:   dealers[dealer],
			Products: catalog(),
		})
		require.NoError(t, err)
		return result
	}

	croma := run("CR001")
	assert.True(t, croma.Total.Equal(decimal.NewFromInt(900)), "got %s", croma.Total)

	mbo := run("TMS001")
	assert.Equal(t, engine.OutcomeIneligible, mbo.Outcome)
	assert.True(t, mbo.Total.IsZero())
}
