package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-engine/engine"
)

// =============================================================================
// SIMULATION TESTS
// =============================================================================

func simulationInput(candidates ...engine.Scheme) engine.SimulationInput {
	return engine.SimulationInput{
		Transactions: []engine.Transaction{
			sale("", march15, line("p-a", 6, "124999")),
			sale("", march1, line("p-a", 5, "124999")),
			sale("", march15, line("p-b", 2, "14999")),
		},
		Candidates: candidates,
		Dealers:    map[engine.DealerID]engine.Dealer{"rd001": testDealer()},
		Products:   testProducts(),
	}
}

func TestSimulate_ComparesCandidates(t *testing.T) {
	// GIVEN: A flat 60/unit draft and a cumulative slab draft for the same product
	// WHEN: Simulating 11 units over two sales
	// THEN: Flat pays 660; cumulative pays 5 × 50 then 6 × 80 = 730 and is best

	flat := scheme("flat", 1, fixedProduct("p-a", "60"))
	flat.State = engine.StateDraft
	cum := scheme("slab", 1, slabProduct("p-a", scenarioASlabs()...))
	cum.State = engine.StateDraft
	cum.Parameters.SlabBasis = engine.SlabCumulative

	report, err := engine.NewSimulator().Simulate(simulationInput(cum, flat))
	require.NoError(t, err)
	require.Len(t, report.Candidates, 2)

	byID := map[engine.SchemeID]engine.CandidateOutcome{}
	for _, c := range report.Candidates {
		byID[c.Scheme.SchemeID] = c
	}
	assertMoney(t, "660", byID["flat"].TotalIncentive)
	assertMoney(t, "730", byID["slab"].TotalIncentive)
	require.NotNil(t, report.Best)
	assert.Equal(t, engine.SchemeID("slab"), report.Best.SchemeID)

	row := byID["slab"]
	assert.Equal(t, 3, row.Transactions)
	assert.Equal(t, 2, row.Paid)
	assert.Equal(t, 1, row.NotApplicable)
	assert.Equal(t, 13, row.Units)
	assertMoney(t, "1404987", row.Revenue)
	assertMoney(t, "56.15", row.IncentivePerUnit)
	assertMoney(t, "281000", row.Margin)
}

func TestSimulate_CandidatesDoNotStack(t *testing.T) {
	a := scheme("a", 1, fixedProduct("p-a", "100"))
	b := scheme("b", 1, fixedProduct("p-a", "100"))

	report, err := engine.NewSimulator().Simulate(simulationInput(a, b))
	require.NoError(t, err)
	for _, c := range report.Candidates {
		assertMoney(t, "1100", c.TotalIncentive)
	}
	assert.Equal(t, engine.SchemeID("a"), report.Best.SchemeID, "ties go to the lowest ref")
}

func TestSimulate_RequiresCandidate(t *testing.T) {
	_, err := engine.NewSimulator().Simulate(simulationInput())
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestSimulate_UnknownDealer(t *testing.T) {
	in := simulationInput(scheme("a", 1, fixedProduct("p-a", "100")))
	in.Transactions[0].DealerID = "nobody"
	_, err := engine.NewSimulator().Simulate(in)
	assert.ErrorIs(t, err, engine.ErrDealerNotFound)
}

func TestReplay_SchemesStack(t *testing.T) {
	// GIVEN: Two fixed schemes on the same product
	// WHEN: Replayed together rather than compared
	// THEN: Each transaction earns from both, in date order

	a := scheme("a", 1, fixedProduct("p-a", "100"))
	b := scheme("b", 1, fixedProduct("p-a", "100"))

	results, err := engine.NewSimulator().Replay(simulationInput(a, b))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, march1, results[0].Date)
	assertMoney(t, "1000", results[0].Total)
	assertMoney(t, "1200", results[1].Total)
	assert.Equal(t, engine.OutcomeNoApplicableScheme, results[2].Outcome)
}
