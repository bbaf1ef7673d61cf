/*
payout_service_test.go - Unit tests for recording, corrections and replay

Tests for:
- Record against active schemes, including no-applicable-scheme outcomes
- Cumulative slabs aggregated across recorded transactions
- Reverse: negated payouts, double reversal
- Recalculate: fingerprints reproduce, drift is reported
- Dealer statements and catalog immutability
*/
package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-engine/engine"
)

// =============================================================================
// RECORD
// =============================================================================

func TestRecord_PaysActiveScheme(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	obs := &recordingObserver{}
	f.payouts.Observer = obs
	f.activate(t, scheme("s", 0, slabProduct("p-a", scenarioASlabs()...)))

	result, err := f.payouts.Record(ctx, sale("tx-1", march15, line("p-a", 9, "124999")))
	require.NoError(t, err)
	assertMoney(t, "450", result.Total)
	assert.Equal(t, 1, obs.payouts)

	stored, err := f.payouts.Breakdown(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, result.Fingerprint, stored.Fingerprint)

	tx, err := f.repo.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tx.Seq)
	assert.Equal(t, engine.SourceRecorded, tx.Source)
}

func TestRecord_IgnoresNonActiveVersions(t *testing.T) {
	f := newFixture(t)
	f.approved(t, scheme("s", 0, fixedProduct("p-a", "100")))

	result, err := f.payouts.Record(context.Background(), sale("tx-1", march15, line("p-a", 1, "1000")))
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeNoApplicableScheme, result.Outcome)
}

func TestRecord_GapBetweenSchemes_StillRecorded(t *testing.T) {
	// GIVEN: The active March scheme ends March 31; its April successor starts April 2
	// WHEN: A transaction dated April 1 is recorded
	// THEN: No applicable scheme, incentive 0, the transaction is still on the ledger

	f := newFixture(t)
	ctx := context.Background()
	f.activate(t, scheme("march", 0, fixedProduct("p-a", "100")))
	april := scheme("april", 0, fixedProduct("p-a", "200"))
	april.Validity = engine.Period{Start: april1.AddDays(1), End: april30}
	f.approved(t, april)

	result, err := f.payouts.Record(ctx, sale("tx-gap", april1, line("p-a", 1, "124999")))
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeNoApplicableScheme, result.Outcome)
	assert.True(t, result.Total.IsZero())

	_, err = f.repo.GetTransaction(ctx, "tx-gap")
	assert.NoError(t, err)
}

func TestRecord_DuplicateID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.payouts.Record(ctx, sale("tx-1", march15, line("p-a", 1, "1")))
	require.NoError(t, err)

	_, err = f.payouts.Record(ctx, sale("tx-1", march15, line("p-a", 1, "1")))
	assert.ErrorIs(t, err, engine.ErrDuplicateTransaction)
}

func TestRecord_UnknownDealerRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := sale("tx-1", march15, line("p-a", 1, "1"))
	tx.DealerID = "nobody"

	_, err := f.payouts.Record(ctx, tx)
	assert.ErrorIs(t, err, engine.ErrDealerNotFound)

	_, err = f.repo.GetTransaction(ctx, "tx-1")
	assert.ErrorIs(t, err, engine.ErrTransactionNotFound)
}

func TestRecord_CumulativeSlab(t *testing.T) {
	// GIVEN: Cumulative monthly slabs [0,10)→50, [10,∞)→80
	// WHEN: The dealer sells 6 then 5 units in March
	// THEN: The second sale reaches 11 cumulative units and pays 5 × 80

	f := newFixture(t)
	ctx := context.Background()
	s := scheme("cum", 0, slabProduct("p-a", scenarioASlabs()...))
	s.Parameters = engine.Parameters{SlabBasis: engine.SlabCumulative, AggregationPeriod: engine.AggregateCalendarMonth}
	f.activate(t, s)

	r1, err := f.payouts.Record(ctx, sale("tx-1", march1, line("p-a", 6, "1000")))
	require.NoError(t, err)
	assertMoney(t, "300", r1.Total)

	r2, err := f.payouts.Record(ctx, sale("tx-2", march15, line("p-a", 5, "1000")))
	require.NoError(t, err)
	assertMoney(t, "400", r2.Total)
	assert.Equal(t, 11, r2.Schemes[0].Components[0].AchievedQuantity)
}

func TestRecord_TargetRule(t *testing.T) {
	// GIVEN: A scheme paying only once the dealer reaches 50% of a 10-unit target
	// WHEN: The dealer sells 3 units, then 2 more
	// THEN: The first sale is ineligible, the second (5/10 including itself) pays

	f := newFixture(t)
	ctx := context.Background()
	s := scheme("target", 0, fixedProduct("p-a", "100"))
	s.Rules = []engine.SchemeRule{{ID: "half", Predicate: engine.Comparison{Field: engine.FieldTargetAchievedPct, Op: engine.OpGte, Value: "50"}}}
	active := f.activate(t, s)
	require.NoError(t, f.catalog.SaveTarget(ctx, engine.DealerTarget{
		ID: "t1", DealerID: "rd001", SchemeID: active.ID, Period: marchValidity, TargetQuantity: 10,
	}))

	r1, err := f.payouts.Record(ctx, sale("tx-1", march1, line("p-a", 3, "1000")))
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeIneligible, r1.Outcome)

	r2, err := f.payouts.Record(ctx, sale("tx-2", march15, line("p-a", 2, "1000")))
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeCalculated, r2.Outcome)
	assertMoney(t, "200", r2.Total)
}

func TestPreview_DoesNotRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activate(t, scheme("s", 0, fixedProduct("p-a", "100")))

	r, err := f.payouts.Preview(ctx, sale("", march15, line("p-a", 2, "1000")))
	require.NoError(t, err)
	assertMoney(t, "200", r.Total)

	all, err := f.repo.ListTransactions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

// =============================================================================
// CORRECTIONS
// =============================================================================

func TestReverse_NegatesPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activate(t, scheme("s", 0, fixedProduct("p-a", "100")))
	orig, err := f.payouts.Record(ctx, sale("tx-1", march15, line("p-a", 3, "1000")))
	require.NoError(t, err)

	corr, err := f.payouts.Reverse(ctx, "tx-1", "returned")
	require.NoError(t, err)
	assert.Equal(t, engine.TransactionID("tx-1"), corr.Reverses)
	assert.True(t, corr.Total.Equal(orig.Total.Neg()))
	assert.Equal(t, march15, corr.Date)

	_, err = f.payouts.Reverse(ctx, "tx-1", "again")
	assert.ErrorIs(t, err, engine.ErrAlreadyReversed)

	_, err = f.payouts.Reverse(ctx, corr.TransactionID, "undo")
	assert.ErrorIs(t, err, engine.ErrValidation)

	lines, err := f.payouts.Statement(ctx, "rd001", march1, march31)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	total := lines[0].Payout.Total.Add(lines[1].Payout.Total)
	assert.True(t, total.IsZero(), "a reversed sale nets to zero on the statement")
}

func TestReverse_CumulativeCountNetsOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := scheme("cum", 0, slabProduct("p-a", scenarioASlabs()...))
	s.Parameters.SlabBasis = engine.SlabCumulative
	f.activate(t, s)

	_, err := f.payouts.Record(ctx, sale("tx-1", march1, line("p-a", 8, "1000")))
	require.NoError(t, err)
	_, err = f.payouts.Reverse(ctx, "tx-1", "cancelled")
	require.NoError(t, err)

	r, err := f.payouts.Record(ctx, sale("tx-2", march15, line("p-a", 3, "1000")))
	require.NoError(t, err)
	assert.Equal(t, 3, r.Schemes[0].Components[0].AchievedQuantity)
}

// =============================================================================
// RECALCULATION
// =============================================================================

func TestRecalculate_ReproducesFingerprints(t *testing.T) {
	// GIVEN: A ledger with sales, a correction and a later scheme revision
	// WHEN: Recalculating everything
	// THEN: Every stored payout is reproduced exactly

	f := newFixture(t)
	ctx := context.Background()
	s := scheme("cum", 0, slabProduct("p-a", scenarioASlabs()...))
	s.Parameters.SlabBasis = engine.SlabCumulative
	v1 := f.activate(t, s)

	for _, tx := range []engine.Transaction{
		sale("tx-1", march1, line("p-a", 4, "1000")),
		sale("tx-2", march15, line("p-a", 7, "1000")),
		sale("tx-3", march15, line("p-x", 1, "1000")),
	} {
		_, err := f.payouts.Record(ctx, tx)
		require.NoError(t, err)
	}
	_, err := f.payouts.Reverse(ctx, "tx-1", "returned")
	require.NoError(t, err)

	rev, err := f.workflow.Revise(ctx, v1.Ref(), "alice")
	require.NoError(t, err)
	_, err = f.workflow.EditDraft(ctx, rev.Ref(), scheme("cum", 0, fixedProduct("p-a", "999")))
	require.NoError(t, err)
	_, err = f.workflow.Submit(ctx, rev.Ref(), "alice", "")
	require.NoError(t, err)
	_, err = f.workflow.Decide(ctx, rev.Ref(), engine.DecisionApprove, "bob", "")
	require.NoError(t, err)
	_, err = f.workflow.Activate(ctx, rev.Ref(), "bob", "")
	require.NoError(t, err)

	f.payouts.Workers = 2
	report, err := f.payouts.Recalculate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Checked)
	assert.Equal(t, 4, report.Matched)
	assert.Empty(t, report.Drifted)
	assert.Empty(t, report.Failures)
}

func TestRecalculate_ReportsMissingTransaction(t *testing.T) {
	f := newFixture(t)
	report, err := f.payouts.Recalculate(context.Background(), []engine.TransactionID{"ghost"})
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, engine.TransactionID("ghost"), report.Failures[0].TransactionID)
}

func TestRecalculate_CancelledContext(t *testing.T) {
	f := newFixture(t)
	_, err := f.payouts.Record(context.Background(), sale("tx-1", march15, line("p-a", 1, "1")))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	_, err = f.payouts.Recalculate(ctx, []engine.TransactionID{"tx-1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestSaveProduct_ImmutableWhileActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.activate(t, scheme("s", 0, fixedProduct("p-a", "100")))

	p := testProducts()["p-a"]
	p.DealerPrice = d("1")
	err := f.catalog.SaveProduct(ctx, p)
	assert.ErrorIs(t, err, engine.ErrImmutableProduct)

	other := testProducts()["p-b"]
	other.DealerPrice = d("1")
	assert.NoError(t, f.catalog.SaveProduct(ctx, other))
}

func TestSaveTarget_RequiresDealer(t *testing.T) {
	f := newFixture(t)
	err := f.catalog.SaveTarget(context.Background(), engine.DealerTarget{
		ID: "t", DealerID: "nobody", SchemeID: "s", Period: marchValidity, TargetQuantity: 5,
	})
	assert.ErrorIs(t, err, engine.ErrDealerNotFound)
}
