package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYOUT SLABS - Quantity bands with their own payout
// =============================================================================

// SlabPayoutMode says how a slab's Payout is applied.
type SlabPayoutMode string

const (
	// SlabPerUnit pays Payout per unit sold.
	SlabPerUnit SlabPayoutMode = "per_unit"
	// SlabRate pays Payout percent of the line value.
	SlabRate SlabPayoutMode = "rate"
)

// PayoutSlab is the band [MinQty, MaxQty). A nil MaxQty is unbounded.
//
// Slabs in one SlabIncentive are contiguous and non-overlapping: sorted by
// MinQty, each MinQty equals the previous MaxQty and only the last slab is
// unbounded. The lowest MinQty may be above zero; quantities below it earn
// nothing from the slab.
type PayoutSlab struct {
	ID     SlabID          `json:"id"`
	MinQty int             `json:"min_qty"`
	MaxQty *int            `json:"max_qty,omitempty"`
	Payout decimal.Decimal `json:"payout"`
	Mode   SlabPayoutMode  `json:"mode,omitempty"`
	// DealerContribution overrides the scheme product's per-unit contribution
	// inside this band when non-zero.
	DealerContribution decimal.Decimal `json:"dealer_contribution"`
}

// Contains reports whether qty is within [MinQty, MaxQty).
func (s PayoutSlab) Contains(qty int) bool {
	if qty < s.MinQty {
		return false
	}
	return s.MaxQty == nil || qty < *s.MaxQty
}

func (s PayoutSlab) mode() SlabPayoutMode {
	if s.Mode == "" {
		return SlabPerUnit
	}
	return s.Mode
}

func (s PayoutSlab) String() string {
	if s.MaxQty == nil {
		return fmt.Sprintf("%s[%d,∞)", s.ID, s.MinQty)
	}
	return fmt.Sprintf("%s[%d,%d)", s.ID, s.MinQty, *s.MaxQty)
}

// SlabResolution is the outcome of resolving a quantity against slabs.
type SlabResolution struct {
	Slab  PayoutSlab
	Found bool
	// Inconsistent is set when the slab set violates contiguity around qty
	// (a gap or an overlap). The chosen slab is still the highest MinQty not
	// above qty, but the result must not be trusted silently.
	Inconsistent bool
	Reason       string
}

// sortedSlabs returns a copy ordered by MinQty, then ID.
func sortedSlabs(slabs []PayoutSlab) []PayoutSlab {
	out := append([]PayoutSlab(nil), slabs...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MinQty != out[j].MinQty {
			return out[i].MinQty < out[j].MinQty
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ResolveSlab picks the slab for qty: the slab with the highest MinQty that
// does not exceed qty. Below the lowest slab nothing is found.
func ResolveSlab(slabs []PayoutSlab, qty int) SlabResolution {
	ordered := sortedSlabs(slabs)

	var (
		pick       *PayoutSlab
		containing int
	)
	for i := range ordered {
		s := ordered[i]
		if s.Contains(qty) {
			containing++
		}
		if s.MinQty <= qty {
			pick = &ordered[i]
		}
	}

	if pick == nil {
		return SlabResolution{Reason: fmt.Sprintf("quantity %d is below the lowest slab", qty)}
	}

	res := SlabResolution{Slab: *pick, Found: true}
	switch {
	case containing > 1:
		res.Inconsistent = true
		res.Reason = fmt.Sprintf("quantity %d falls in %d overlapping slabs", qty, containing)
	case !pick.Contains(qty):
		res.Inconsistent = true
		res.Reason = fmt.Sprintf("quantity %d falls in a gap after slab %s", qty, pick)
	}
	return res
}

// validateSlabs reports every contiguity and range problem in a slab set.
func validateSlabs(field string, slabs []PayoutSlab) issues {
	var is issues
	if len(slabs) == 0 {
		is.add(field, "required", "slab incentive needs at least one slab")
		return is
	}

	seen := make(map[SlabID]bool, len(slabs))
	for i, s := range slabs {
		f := fmt.Sprintf("%s[%d]", field, i)
		if s.ID != "" {
			if seen[s.ID] {
				is.add(f+".id", "duplicate_slab", "duplicate slab id %q", s.ID)
			}
			seen[s.ID] = true
		}
		if s.MinQty < 0 {
			is.add(f+".min_qty", "negative", "min quantity must be >= 0")
		}
		if s.MaxQty != nil && *s.MaxQty <= s.MinQty {
			is.add(f+".max_qty", "empty_slab", "max quantity %d must exceed min quantity %d", *s.MaxQty, s.MinQty)
		}
		if s.Payout.IsNegative() {
			is.add(f+".payout", "negative", "slab payout must be >= 0")
		}
		if s.DealerContribution.IsNegative() {
			is.add(f+".dealer_contribution", "negative", "dealer contribution must be >= 0")
		}
		switch s.mode() {
		case SlabPerUnit:
		case SlabRate:
			if s.Payout.GreaterThan(hundred) {
				is.add(f+".payout", "rate_out_of_range", "slab rate must be within 0..100")
			}
		default:
			is.add(f+".mode", "unknown_mode", "unknown slab payout mode %q", s.Mode)
		}
	}

	ordered := sortedSlabs(slabs)
	for i := 0; i < len(ordered)-1; i++ {
		cur, next := ordered[i], ordered[i+1]
		switch {
		case cur.MaxQty == nil:
			is.add(field, "unbounded_not_last", "slab %s is unbounded but is followed by %s", cur, next)
		case *cur.MaxQty > next.MinQty:
			is.add(field, "overlapping_slabs", "slab %s overlaps %s", cur, next)
		case *cur.MaxQty < next.MinQty:
			is.add(field, "slab_gap", "gap between slab %s and %s", cur, next)
		}
	}
	if last := ordered[len(ordered)-1]; last.MaxQty != nil {
		is.add(field, "bounded_top_slab", "highest slab %s must be unbounded", last)
	}
	return is
}
