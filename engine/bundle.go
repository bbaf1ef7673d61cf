package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BUNDLE OFFERS - Payout for buying a set of products together
// =============================================================================

// BundleOffer pays Payout for every complete set of Products on one
// transaction. Units that form a set are consumed and earn nothing from their
// own per-product incentive; units beyond the complete sets still do.
type BundleOffer struct {
	ID          BundleID        `json:"id"`
	Name        string          `json:"name,omitempty"`
	Products    []ProductID     `json:"products"`
	Payout      decimal.Decimal `json:"payout"`       // per complete set
	BundlePrice decimal.Decimal `json:"bundle_price"` // informational: combined dealer price
	FreeItem    string          `json:"free_item,omitempty"`
}

// BundleCandidate is one offer that matched, kept for the audit trail.
type BundleCandidate struct {
	BundleID BundleID        `json:"bundle_id"`
	Sets     int             `json:"sets"`
	Payout   decimal.Decimal `json:"payout"`
}

// BundleDecision is the bundle resolver's output for one scheme version.
type BundleDecision struct {
	Matched    bool              `json:"matched"`
	Offer      *BundleOffer      `json:"offer,omitempty"`
	Sets       int               `json:"sets,omitempty"`
	Payout     decimal.Decimal   `json:"payout"`
	Consumed   map[ProductID]int `json:"consumed,omitempty"` // units per product taken by the sets
	Candidates []BundleCandidate `json:"candidates,omitempty"`
}

// ConsumedQuantity returns how many units of id the matched bundle took.
func (d BundleDecision) ConsumedQuantity(id ProductID) int {
	return d.Consumed[id]
}

// ConsumedProducts returns the consumed product ids, sorted.
func (d BundleDecision) ConsumedProducts() []ProductID {
	ids := make([]ProductID, 0, len(d.Consumed))
	for id := range d.Consumed {
		ids = append(ids, id)
	}
	return uniqueSorted(ids)
}

// ResolveBundle matches offers against per-product quantities.
//
// An offer matches when every one of its products has a positive quantity.
// The number of complete sets is the minimum quantity across its products.
// When several offers match, the highest total payout wins; ties go to the
// lowest bundle id. At most one offer is applied per transaction, and it
// consumes Sets units of each of its products.
func ResolveBundle(offers []BundleOffer, quantities map[ProductID]int) BundleDecision {
	var (
		decision BundleDecision
		best     *BundleOffer
		bestSets int
		bestPay  decimal.Decimal
	)

	ordered := append([]BundleOffer(nil), offers...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	for i := range ordered {
		offer := ordered[i]
		sets, ok := completeSets(offer, quantities)
		if !ok {
			continue
		}
		pay := RoundMoney(offer.Payout.Mul(decimal.NewFromInt(int64(sets))))
		decision.Candidates = append(decision.Candidates, BundleCandidate{BundleID: offer.ID, Sets: sets, Payout: pay})
		if best == nil || pay.GreaterThan(bestPay) {
			best, bestSets, bestPay = &ordered[i], sets, pay
		}
	}

	if best == nil {
		decision.Payout = decimal.Zero
		return decision
	}

	decision.Matched = true
	offer := *best
	offer.Products = append([]ProductID(nil), best.Products...)
	decision.Offer = &offer
	decision.Sets = bestSets
	decision.Payout = bestPay
	decision.Consumed = make(map[ProductID]int, len(best.Products))
	for _, id := range uniqueSorted(best.Products) {
		decision.Consumed[id] = bestSets
	}
	return decision
}

func completeSets(offer BundleOffer, quantities map[ProductID]int) (int, bool) {
	if len(offer.Products) == 0 {
		return 0, false
	}
	sets := -1
	for _, id := range offer.Products {
		qty := quantities[id]
		if qty <= 0 {
			return 0, false
		}
		if sets < 0 || qty < sets {
			sets = qty
		}
	}
	return sets, true
}

func uniqueSorted(ids []ProductID) []ProductID {
	seen := make(map[ProductID]bool, len(ids))
	var out []ProductID
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func validateBundles(bundles []BundleOffer, scheme Scheme) issues {
	var is issues
	seen := make(map[BundleID]bool, len(bundles))
	for i, b := range bundles {
		f := fmt.Sprintf("bundles[%d]", i)
		if b.ID == "" {
			is.add(f+".id", "required", "bundle id is required")
		} else if seen[b.ID] {
			is.add(f+".id", "duplicate_bundle", "duplicate bundle id %q", b.ID)
		}
		seen[b.ID] = true
		if len(uniqueSorted(b.Products)) < 2 {
			is.add(f+".products", "bundle_too_small", "a bundle needs at least two distinct products")
		}
		for _, id := range b.Products {
			if _, ok := scheme.Product(id); !ok {
				is.add(f+".products", "bundle_product_not_in_scheme", "bundle references product %s which is not in the scheme", id)
			}
		}
		if b.Payout.IsNegative() {
			is.add(f+".payout", "negative", "bundle payout must be >= 0")
		}
	}
	return is
}
