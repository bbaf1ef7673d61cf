/*
scheme.go - Scheme versions, scheme products and incentive variants

PURPOSE:
  A Scheme is one immutable version of a manufacturer incentive program.
  It lists the products it covers (SchemeProduct), each with exactly one
  incentive variant, plus eligibility rules, bundle offers and parameters.

KEY CONCEPTS:
  - Scheme versions: (SchemeID, Version) is unique; content is frozen once
    the version leaves draft
  - Incentive: closed tagged variant (fixed, percentage, slab, exchange).
    The calculator switches on the concrete type; there is no inheritance
  - Parameters: typed knobs (slab basis, aggregation period, currency) plus
    the free-form name/criteria list carried from the scheme document

SERIALIZATION:
  Incentive and Predicate are interfaces, so SchemeProduct and SchemeRule
  carry explicit JSON envelopes with a "kind" discriminator. Stores persist
  schemes through these envelopes.

SEE ALSO:
  - slab.go, rule.go, bundle.go, exchange.go: Variant-specific logic
  - validate.go: Static validation of a scheme
  - workflow.go: State machine over scheme versions
*/
package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SCHEME
// =============================================================================

// Default eligibility labels used by scheme documents to mean "no restriction".
const (
	RegionAllIndia    = "All India"
	DealerTypeAll     = "All Dealers"
	DefaultSchemeType = "Special Support"
)

type Scheme struct {
	ID                    SchemeID        `json:"id"`
	Version               int             `json:"version"`
	Name                  string          `json:"name"`
	SchemeType            string          `json:"scheme_type,omitempty"`
	Region                string          `json:"region,omitempty"`
	DealerTypeEligibility string          `json:"dealer_type_eligibility,omitempty"`
	DocumentName          string          `json:"document_name,omitempty"`
	Notes                 string          `json:"notes,omitempty"`
	Validity              Period          `json:"validity"`
	State                 State           `json:"state"`
	Products              []SchemeProduct `json:"products"`
	Rules                 []SchemeRule    `json:"rules,omitempty"`
	Bundles               []BundleOffer   `json:"bundles,omitempty"`
	Parameters            Parameters      `json:"parameters"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func (s Scheme) Ref() SchemeRef {
	return SchemeRef{SchemeID: s.ID, Version: s.Version}
}

// Covers reports whether date falls in the validity window.
func (s Scheme) Covers(date Date) bool {
	return s.Validity.Contains(date)
}

// Product returns the scheme's configuration for a product.
func (s Scheme) Product(id ProductID) (SchemeProduct, bool) {
	for _, sp := range s.Products {
		if sp.ProductID == id {
			return sp, true
		}
	}
	return SchemeProduct{}, false
}

// IncludesAny reports whether any of ids is a scheme product.
func (s Scheme) IncludesAny(ids []ProductID) bool {
	for _, id := range ids {
		if _, ok := s.Product(id); ok {
			return true
		}
	}
	return false
}

// Currency returns the scheme currency, defaulting to INR.
func (s Scheme) Currency() Currency {
	if s.Parameters.Currency == "" {
		return CurrencyINR
	}
	return s.Parameters.Currency
}

// Clone returns a deep copy so snapshots handed to callers never alias
// store state.
func (s Scheme) Clone() Scheme {
	// Round-tripping through the JSON envelope copies every nested variant.
	data, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("engine: clone scheme %s: %v", s.Ref(), err))
	}
	var out Scheme
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("engine: clone scheme %s: %v", s.Ref(), err))
	}
	return out
}

// SlabBasis selects the quantity a slab is resolved against.
type SlabBasis string

const (
	// SlabPerTransaction resolves slabs on the transaction's own quantity.
	SlabPerTransaction SlabBasis = "per_transaction"
	// SlabCumulative resolves slabs on the dealer's period-to-date quantity
	// including the current transaction.
	SlabCumulative SlabBasis = "cumulative_period"
)

// Parameter is a free-form named criterion from the scheme document.
type Parameter struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Criteria    string `json:"criteria,omitempty"`
}

type Parameters struct {
	SlabBasis         SlabBasis         `json:"slab_basis,omitempty"`
	AggregationPeriod AggregationPeriod `json:"aggregation_period,omitempty"`
	Currency          Currency          `json:"currency,omitempty"`
	Extra             []Parameter       `json:"extra,omitempty"`
}

// Basis returns the slab basis, defaulting to per-transaction.
func (p Parameters) Basis() SlabBasis {
	if p.SlabBasis == "" {
		return SlabPerTransaction
	}
	return p.SlabBasis
}

// =============================================================================
// SCHEME PRODUCT
// =============================================================================

// SchemeProduct binds one product to one incentive variant. There is exactly
// one per (scheme version, product).
type SchemeProduct struct {
	ProductID   ProductID
	SupportType string
	Incentive   Incentive
	// DealerContribution is the dealer's share per unit. It is reported next
	// to the incentive, never subtracted from it.
	DealerContribution decimal.Decimal
	FreeItem           string
}

// =============================================================================
// INCENTIVE - closed tagged variant
// =============================================================================

type IncentiveKind string

const (
	IncentiveFixed      IncentiveKind = "fixed"
	IncentivePercentage IncentiveKind = "percentage"
	IncentiveSlab       IncentiveKind = "slab"
	IncentiveExchange   IncentiveKind = "exchange"
)

// Incentive is implemented only by the variants in this file.
type Incentive interface {
	Kind() IncentiveKind
	incentive()
}

// FixedIncentive pays Amount per unit sold.
type FixedIncentive struct {
	Amount decimal.Decimal `json:"amount"`
}

// PercentageIncentive pays Rate percent of the line value.
type PercentageIncentive struct {
	Rate decimal.Decimal `json:"rate"`
}

// SlabIncentive pays according to the slab the quantity falls in.
type SlabIncentive struct {
	Slabs []PayoutSlab `json:"slabs"`
}

// ExchangeIncentive pays on exchange transactions:
//
//	(Base + tier bonus for the new product's price) × quantity
//	+ TradeInRate% of the trade-in value, capped at Cap when set.
type ExchangeIncentive struct {
	Base        decimal.Decimal  `json:"base"`
	TradeInRate decimal.Decimal  `json:"trade_in_rate"`
	PriceTiers  []PriceTier      `json:"price_tiers,omitempty"`
	Cap         *decimal.Decimal `json:"cap,omitempty"`
}

func (FixedIncentive) Kind() IncentiveKind      { return IncentiveFixed }
func (PercentageIncentive) Kind() IncentiveKind { return IncentivePercentage }
func (SlabIncentive) Kind() IncentiveKind       { return IncentiveSlab }
func (ExchangeIncentive) Kind() IncentiveKind   { return IncentiveExchange }

func (FixedIncentive) incentive()      {}
func (PercentageIncentive) incentive() {}
func (SlabIncentive) incentive()       {}
func (ExchangeIncentive) incentive()   {}

// =============================================================================
// JSON ENVELOPE
// =============================================================================

type schemeProductJSON struct {
	ProductID          ProductID            `json:"product_id"`
	SupportType        string               `json:"support_type,omitempty"`
	Kind               IncentiveKind        `json:"kind"`
	Fixed              *FixedIncentive      `json:"fixed,omitempty"`
	Percentage         *PercentageIncentive `json:"percentage,omitempty"`
	Slab               *SlabIncentive       `json:"slab,omitempty"`
	Exchange           *ExchangeIncentive   `json:"exchange,omitempty"`
	DealerContribution decimal.Decimal      `json:"dealer_contribution"`
	FreeItem           string               `json:"free_item,omitempty"`
}

func (sp SchemeProduct) MarshalJSON() ([]byte, error) {
	env := schemeProductJSON{
		ProductID:          sp.ProductID,
		SupportType:        sp.SupportType,
		DealerContribution: sp.DealerContribution,
		FreeItem:           sp.FreeItem,
	}
	switch inc := sp.Incentive.(type) {
	case FixedIncentive:
		env.Kind, env.Fixed = inc.Kind(), &inc
	case PercentageIncentive:
		env.Kind, env.Percentage = inc.Kind(), &inc
	case SlabIncentive:
		env.Kind, env.Slab = inc.Kind(), &inc
	case ExchangeIncentive:
		env.Kind, env.Exchange = inc.Kind(), &inc
	case nil:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownIncentiveKind, sp.Incentive)
	}
	return json.Marshal(env)
}

func (sp *SchemeProduct) UnmarshalJSON(data []byte) error {
	var env schemeProductJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*sp = SchemeProduct{
		ProductID:          env.ProductID,
		SupportType:        env.SupportType,
		DealerContribution: env.DealerContribution,
		FreeItem:           env.FreeItem,
	}
	switch env.Kind {
	case IncentiveFixed:
		if env.Fixed != nil {
			sp.Incentive = *env.Fixed
		}
	case IncentivePercentage:
		if env.Percentage != nil {
			sp.Incentive = *env.Percentage
		}
	case IncentiveSlab:
		if env.Slab != nil {
			sp.Incentive = *env.Slab
		}
	case IncentiveExchange:
		if env.Exchange != nil {
			sp.Incentive = *env.Exchange
		}
	case "":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownIncentiveKind, env.Kind)
	}
	if env.Kind != "" && sp.Incentive == nil {
		return fmt.Errorf("incentive %q for product %s has no parameters", env.Kind, env.ProductID)
	}
	return nil
}
