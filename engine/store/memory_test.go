package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-engine/engine"
	"github.com/warp/incentive-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var march = engine.Period{
	Start: engine.NewDate(2025, time.March, 1),
	End:   engine.NewDate(2025, time.March, 31),
}

func draft(id engine.SchemeID, version int) engine.Scheme {
	return engine.Scheme{
		ID:       id,
		Version:  version,
		Name:     "Holi Bonanza",
		Validity: march,
		State:    engine.StateDraft,
		Products: []engine.SchemeProduct{{
			ProductID: "p-1",
			Incentive: engine.FixedIncentive{Amount: decimal.NewFromInt(500)},
		}},
	}
}

func saleOn(id engine.TransactionID, day int) engine.Transaction {
	return engine.Transaction{
		ID:       id,
		Kind:     engine.KindSale,
		DealerID: "d-1",
		Date:     engine.NewDate(2025, time.March, day),
		Lines:    []engine.TransactionLine{{ProductID: "p-1", Quantity: 1, UnitPrice: decimal.NewFromInt(100)}},
	}
}

// =============================================================================
// SCHEME VERSIONS
// =============================================================================

func TestMemory_SchemeVersions(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateVersion(ctx, draft("s", 1)))
	require.NoError(t, m.CreateVersion(ctx, draft("s", 2)))
	assert.Error(t, m.CreateVersion(ctx, draft("s", 2)), "versions are unique")

	latest, err := m.LatestVersion(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 2, latest)

	got, err := m.GetVersion(ctx, engine.SchemeRef{SchemeID: "s", Version: 1})
	require.NoError(t, err)
	got.Name = "mutated"
	again, err := m.GetVersion(ctx, engine.SchemeRef{SchemeID: "s", Version: 1})
	require.NoError(t, err)
	assert.Equal(t, "Holi Bonanza", again.Name, "reads return copies")

	_, err = m.GetVersion(ctx, engine.SchemeRef{SchemeID: "s", Version: 9})
	assert.ErrorIs(t, err, engine.ErrSchemeNotFound)
}

func TestMemory_SingleActiveVersion(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	v1, v2 := draft("s", 1), draft("s", 2)
	v1.State, v2.State = engine.StateActive, engine.StateActive
	require.NoError(t, m.CreateVersion(ctx, v1))

	err := m.CreateVersion(ctx, v2)
	assert.ErrorIs(t, err, engine.ErrConcurrentModification)

	active, err := m.ActiveVersion(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestMemory_WithTxRollsBack(t *testing.T) {
	// GIVEN: A transaction function that appends and then fails
	// WHEN: WithTx returns the error
	// THEN: Nothing it wrote is visible and the sequence is not consumed

	m := store.NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.WithTx(ctx, func(repo engine.Repository) error {
		if _, err := repo.AppendTransaction(ctx, saleOn("tx-1", 1)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = m.GetTransaction(ctx, "tx-1")
	assert.ErrorIs(t, err, engine.ErrTransactionNotFound)

	stored, err := m.AppendTransaction(ctx, saleOn("tx-2", 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Seq)
}

func TestMemory_LedgerOrder(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	for _, tx := range []engine.Transaction{saleOn("late", 20), saleOn("early", 5), saleOn("same-day", 20)} {
		_, err := m.AppendTransaction(ctx, tx)
		require.NoError(t, err)
	}
	_, err := m.AppendTransaction(ctx, saleOn("late", 21))
	assert.ErrorIs(t, err, engine.ErrDuplicateTransaction)

	txs, err := m.DealerTransactions(ctx, "d-1", engine.NewDate(2025, time.March, 1), engine.NewDate(2025, time.March, 20))
	require.NoError(t, err)
	var ids []engine.TransactionID
	for _, tx := range txs {
		ids = append(ids, tx.ID)
	}
	assert.Equal(t, []engine.TransactionID{"early", "late", "same-day"}, ids)

	recent, err := m.ListTransactions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, engine.TransactionID("same-day"), recent[0].ID)
}

func TestMemory_PayoutWrittenOnce(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	_, err := m.AppendTransaction(ctx, saleOn("tx-1", 1))
	require.NoError(t, err)

	r := engine.PayoutResult{TransactionID: "tx-1", Total: decimal.NewFromInt(10), Outcome: engine.OutcomeCalculated}
	require.NoError(t, m.SavePayout(ctx, r))
	assert.Error(t, m.SavePayout(ctx, r))

	assert.ErrorIs(t, m.SavePayout(ctx, engine.PayoutResult{TransactionID: "nope"}), engine.ErrTransactionNotFound)

	got, err := m.GetPayout(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(decimal.NewFromInt(10)))
}

func TestMemory_ReversalOf(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	orig, err := m.AppendTransaction(ctx, saleOn("tx-1", 1))
	require.NoError(t, err)
	none, err := m.ReversalOf(ctx, "tx-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = m.AppendTransaction(ctx, orig.Reversal("tx-1-rev", orig.Date, "returned"))
	require.NoError(t, err)
	rev, err := m.ReversalOf(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, -1, rev.Lines[0].Quantity)
}
