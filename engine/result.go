package engine

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYOUT RESULT - Amount plus full audit trail
// =============================================================================

// Outcome classifies a calculation. None of these are errors.
type Outcome string

const (
	// OutcomeCalculated means at least one applicable scheme was eligible.
	// The total may still be zero (e.g. quantity below the lowest slab).
	OutcomeCalculated Outcome = "calculated"
	// OutcomeNoApplicableScheme means no scheme version covered the date and
	// any of the transaction's products.
	OutcomeNoApplicableScheme Outcome = "no_applicable_scheme"
	// OutcomeIneligible means every applicable scheme failed its rules.
	OutcomeIneligible Outcome = "ineligible"
)

type ComponentKind string

const (
	ComponentFixed      ComponentKind = "fixed"
	ComponentPercentage ComponentKind = "percentage"
	ComponentSlab       ComponentKind = "slab"
	ComponentBundle     ComponentKind = "bundle"
	ComponentExchange   ComponentKind = "exchange"
)

// Component is one line of the payout breakdown.
type Component struct {
	Kind       ComponentKind `json:"kind"`
	ProductIDs []ProductID   `json:"product_ids"`
	Quantity   int           `json:"quantity"`
	// Basis is the value a rate was applied to (line value, trade-in value).
	Basis              decimal.Decimal `json:"basis"`
	Amount             decimal.Decimal `json:"amount"`
	DealerContribution decimal.Decimal `json:"dealer_contribution"`

	SlabID           SlabID              `json:"slab_id,omitempty"`
	AchievedQuantity int                 `json:"achieved_quantity,omitempty"`
	Inconsistent     bool                `json:"inconsistent,omitempty"`
	BundleID         BundleID            `json:"bundle_id,omitempty"`
	Exchange         *ExchangeResolution `json:"exchange,omitempty"`
	FreeItem         string              `json:"free_item,omitempty"`
	Note             string              `json:"note,omitempty"`
}

// SchemePayout is the breakdown for one applicable scheme version.
type SchemePayout struct {
	Scheme             SchemeRef       `json:"scheme"`
	SchemeName         string          `json:"scheme_name"`
	Eligible           bool            `json:"eligible"`
	Rules              RuleEvaluation  `json:"rules"`
	Bundle             *BundleDecision `json:"bundle,omitempty"`
	Components         []Component     `json:"components,omitempty"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	DealerContribution decimal.Decimal `json:"dealer_contribution"`
	Diagnostics        []string        `json:"diagnostics,omitempty"`
}

// PayoutResult is the calculator's output for one transaction.
type PayoutResult struct {
	TransactionID      TransactionID   `json:"transaction_id"`
	DealerID           DealerID        `json:"dealer_id"`
	Date               Date            `json:"date"`
	Kind               TransactionKind `json:"kind"`
	Reverses           TransactionID   `json:"reverses,omitempty"`
	Currency           Currency        `json:"currency"`
	Outcome            Outcome         `json:"outcome"`
	Total              decimal.Decimal `json:"total"`
	DealerContribution decimal.Decimal `json:"dealer_contribution"`
	Schemes            []SchemePayout  `json:"schemes,omitempty"`
	Diagnostics        []string        `json:"diagnostics,omitempty"`
	Fingerprint        string          `json:"fingerprint,omitempty"`
}

// SchemeRefs lists the scheme versions that took part in the calculation.
func (r PayoutResult) SchemeRefs() []SchemeRef {
	refs := make([]SchemeRef, len(r.Schemes))
	for i, s := range r.Schemes {
		refs[i] = s.Scheme
	}
	return refs
}

// Negated returns the breakdown of a correction: every amount and quantity
// negated, everything else (decisions, rules) kept for the audit trail.
func (r PayoutResult) Negated(correction Transaction) PayoutResult {
	out := r
	out.TransactionID = correction.ID
	out.Date = correction.Date
	out.Reverses = r.TransactionID
	out.Total = r.Total.Neg()
	out.DealerContribution = r.DealerContribution.Neg()
	out.Fingerprint = ""
	out.Diagnostics = append([]string(nil), r.Diagnostics...)
	out.Schemes = make([]SchemePayout, len(r.Schemes))
	for i, sp := range r.Schemes {
		n := sp
		n.Subtotal = sp.Subtotal.Neg()
		n.DealerContribution = sp.DealerContribution.Neg()
		if sp.Bundle != nil {
			b := *sp.Bundle
			b.Payout = sp.Bundle.Payout.Neg()
			n.Bundle = &b
		}
		n.Components = make([]Component, len(sp.Components))
		for j, c := range sp.Components {
			nc := c
			nc.Quantity = -c.Quantity
			nc.Basis = c.Basis.Neg()
			nc.Amount = c.Amount.Neg()
			nc.DealerContribution = c.DealerContribution.Neg()
			if c.Exchange != nil {
				ex := *c.Exchange
				ex.Amount = c.Exchange.Amount.Neg()
				ex.Base = c.Exchange.Base.Neg()
				ex.TierBonus = c.Exchange.TierBonus.Neg()
				ex.TradeInShare = c.Exchange.TradeInShare.Neg()
				nc.Exchange = &ex
			}
			n.Components[j] = nc
		}
		out.Schemes[i] = n
	}
	return out
}
