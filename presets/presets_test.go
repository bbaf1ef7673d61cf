package presets_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/factory"
	"github.com/warp/incentive-engine/presets"
)

func catalog() map[engine.ProductID]engine.Product {
	out := map[engine.ProductID]engine.Product{}
	for _, p := range presets.SampleProducts() {
		out[p.ID] = p
	}
	return out
}

func parse(t *testing.T, data string) engine.Scheme {
	t.Helper()
	f, err := factory.NewSchemeFactory(factory.NewCatalogIndex(presets.SampleProducts()))
	require.NoError(t, err)
	s, err := f.ParseDraft([]byte(data))
	require.NoError(t, err)
	s.Version = 1
	return s
}

// =============================================================================
// SAMPLE DATA
// =============================================================================

func TestSampleProducts_Unique(t *testing.T) {
	seen := map[engine.ProductID]bool{}
	for _, p := range presets.SampleProducts() {
		assert.False(t, seen[p.ID], "duplicate product %s", p.ID)
		seen[p.ID] = true
		assert.True(t, p.MRP.GreaterThan(p.DealerPrice), "%s: MRP must exceed dealer price", p.ID)
	}
}

func TestSampleDealers_Active(t *testing.T) {
	dealers := presets.SampleDealers()
	require.Len(t, dealers, 6)
	for _, d := range dealers {
		assert.Equal(t, engine.DealerActive, d.Status)
		assert.NotEmpty(t, d.Region)
	}
}

// =============================================================================
// DRAFTS
// =============================================================================

func TestDrafts_PassSubmitValidation(t *testing.T) {
	drafts := presets.Drafts("2025-03-01", "2025-03-31")
	require.Len(t, drafts, 6)

	keys := map[string]bool{}
	for _, d := range drafts {
		t.Run(d.Key, func(t *testing.T) {
			assert.False(t, keys[d.Key], "duplicate key")
			keys[d.Key] = true

			s := parse(t, d.JSON)
			assert.NoError(t, engine.ValidateScheme(s, engine.LevelSubmit, catalog()))
			assert.True(t, s.Covers(engine.NewDate(2025, time.March, 15)))
		})
	}
}

func TestEcosystemBundle_PaysCompleteSets(t *testing.T) {
	// GIVEN: The ecosystem bundle (2500 per S23 Ultra + Watch6 + Buds3 Pro)
	// WHEN: A dealer sells one complete set
	// THEN: The bundle pays instead of the per-product amounts

	s := parse(t, presets.EcosystemBundleJSON("eco", "Eco", "2025-03-01", "2025-03-31"))
	products := catalog()

	var lines []engine.TransactionLine
	for _, code := range []string{presets.GalaxyS23Ultra, presets.GalaxyWatch6, presets.GalaxyBuds3Pro} {
		p := products[engine.ProductID(code)]
		lines = append(lines, engine.TransactionLine{ProductID: p.ID, Quantity: 1, UnitPrice: p.DealerPrice})
	}

	result, err := engine.NewCalculator().Calculate(engine.CalculationInput{
		Transaction: engine.Transaction{
			ID: "tx-1", Kind: engine.KindSale, DealerID: "RD001",
			Date: engine.NewDate(2025, time.March, 5), Lines: lines,
		},
		Schemes:  []engine.Scheme{s},
		Dealer:   presets.SampleDealers()[0],
		Products: products,
	})
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeCalculated, result.Outcome)
	assert.True(t, result.Total.Equal(decimal.NewFromInt(2500)), "got %s", result.Total)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestVolumeSlab_PerUnitRateFollowsBand(t *testing.T) {
	s := parse(t, presets.VolumeSlabJSON("vol", "Vol", "2025-03-01", "2025-03-31", false))
	products := catalog()
	dealer := presets.SampleDealers()[1]

	band := func(qty int) int64 {
		switch {
		case qty >= 25:
			return 1000
		case qty >= 10:
			return 750
		default:
			return 500
		}
	}

	properties := gopter.NewProperties(nil)
	properties.Property("payout is the band amount times quantity", prop.ForAll(
		func(qty int) bool {
			result, err := engine.NewCalculator().Calculate(engine.CalculationInput{
				Transaction: engine.Transaction{
					ID: "tx", Kind: engine.KindSale, DealerID: dealer.ID,
					Date: engine.NewDate(2025, time.March, 20),
					Lines: []engine.TransactionLine{{
						ProductID: presets.GalaxyS23Ultra, Quantity: qty, UnitPrice: decimal.NewFromInt(124999),
					}},
				},
				Schemes:  []engine.Scheme{s},
				Dealer:   dealer,
				Products: products,
			})
			if err != nil {
				return false
			}
			return result.Total.Equal(decimal.NewFromInt(band(qty) * int64(qty)))
		},
		gen.IntRange(1, 60),
	))
	properties.TestingRun(t)
}
