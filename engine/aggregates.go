package engine

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AGGREGATES - Prior-period totals a calculation depends on
// =============================================================================

// Aggregates carries the dealer's period-to-date totals from transactions
// recorded before the one being calculated. They are computed once, outside
// the calculator, from a consistent read of the ledger so the calculation
// itself stays pure.
type Aggregates struct {
	// PriorQuantities is keyed by scheme version, then product, and covers
	// the scheme's aggregation window. Used by cumulative slabs.
	PriorQuantities map[SchemeRef]map[ProductID]int `json:"prior_quantities,omitempty"`
	// PriorTargets is the dealer's progress against its target for each
	// scheme version, before this transaction.
	PriorTargets map[SchemeRef]TargetProgress `json:"prior_targets,omitempty"`
}

func (a Aggregates) priorQuantity(ref SchemeRef, id ProductID) int {
	return a.PriorQuantities[ref][id]
}

// currentTarget returns target progress including tx's own scheme products.
func (a Aggregates) currentTarget(scheme Scheme, tx Transaction) *TargetProgress {
	prior, ok := a.PriorTargets[scheme.Ref()]
	if !ok {
		return nil
	}
	cur := prior
	for _, l := range tx.Lines {
		if _, in := scheme.Product(l.ProductID); in {
			cur.AchievedQuantity += l.Quantity
			cur.AchievedValue = cur.AchievedValue.Add(l.Value())
		}
	}
	return &cur
}

// precedes reports whether h was recorded before tx. When both carry a
// store sequence, recording order decides, so a replay sees exactly the
// history the original calculation saw (a back-dated correction recorded
// later does not leak into it). Otherwise ledger order by date applies and a
// tx without a sequence comes after everything on its date.
func precedes(h, tx Transaction) bool {
	if h.ID == tx.ID {
		return false
	}
	if h.Seq != 0 && tx.Seq != 0 {
		return h.Seq < tx.Seq
	}
	if !h.Date.Equal(tx.Date) {
		return h.Date.Before(tx.Date)
	}
	if tx.Seq == 0 {
		return true
	}
	return recordedBefore(h, tx)
}

// AggregationWindow returns the date range of history BuildAggregates needs
// for tx. ok is false when no applicable scheme needs history.
func AggregationWindow(schemes []Scheme, tx Transaction, targets []DealerTarget) (Period, bool) {
	var (
		window Period
		found  bool
	)
	widen := func(p Period) {
		if !found {
			window, found = p, true
			return
		}
		if p.Start.Before(window.Start) {
			window.Start = p.Start
		}
		if p.End.After(window.End) {
			window.End = p.End
		}
	}
	for _, s := range ApplicableSchemes(schemes, tx) {
		if s.Parameters.Basis() == SlabCumulative {
			widen(s.Parameters.AggregationPeriod.PeriodFor(tx.Date, s.Validity))
		}
		if t := selectTarget(targets, tx.DealerID, s.ID, tx.Date); t != nil {
			widen(t.Period)
		}
	}
	if found && window.End.After(tx.Date) {
		window.End = tx.Date
	}
	return window, found
}

// BuildAggregates computes Aggregates for tx from the dealer's history.
// history may contain unrelated transactions; only the same dealer's
// transactions recorded before tx, inside each window, are counted.
// Corrections carry negative quantities and net out naturally.
func BuildAggregates(schemes []Scheme, tx Transaction, history []Transaction, targets []DealerTarget) Aggregates {
	agg := Aggregates{
		PriorQuantities: make(map[SchemeRef]map[ProductID]int),
		PriorTargets:    make(map[SchemeRef]TargetProgress),
	}

	for _, s := range ApplicableSchemes(schemes, tx) {
		ref := s.Ref()

		if s.Parameters.Basis() == SlabCumulative {
			window := s.Parameters.AggregationPeriod.PeriodFor(tx.Date, s.Validity)
			quantities := make(map[ProductID]int)
			for _, h := range history {
				if h.DealerID != tx.DealerID || !window.Contains(h.Date) || !precedes(h, tx) {
					continue
				}
				for _, l := range h.Lines {
					if _, in := s.Product(l.ProductID); in {
						quantities[l.ProductID] += l.Quantity
					}
				}
			}
			agg.PriorQuantities[ref] = quantities
		}

		if t := selectTarget(targets, tx.DealerID, s.ID, tx.Date); t != nil {
			progress := TargetProgress{Target: *t, AchievedValue: decimal.Zero}
			for _, h := range history {
				if h.DealerID != tx.DealerID || !t.Period.Contains(h.Date) || !precedes(h, tx) {
					continue
				}
				for _, l := range h.Lines {
					if _, in := s.Product(l.ProductID); in {
						progress.AchievedQuantity += l.Quantity
						progress.AchievedValue = progress.AchievedValue.Add(l.Value())
					}
				}
			}
			agg.PriorTargets[ref] = progress
		}
	}
	return agg
}
