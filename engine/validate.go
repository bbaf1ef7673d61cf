package engine

import (
	"fmt"
	"strings"
)

// =============================================================================
// SCHEME VALIDATION - Static checks run at ingest, edit and submit
// =============================================================================

// ValidationLevel chooses how strict ValidateScheme is.
type ValidationLevel int

const (
	// LevelDraft allows an incomplete scheme (no products yet).
	LevelDraft ValidationLevel = iota
	// LevelSubmit is required to leave draft.
	LevelSubmit
)

// ValidateScheme returns a *ValidationError listing every problem, or nil.
// products, when non-nil, is used to check that scheme products exist in the
// catalog.
func ValidateScheme(s Scheme, level ValidationLevel, products map[ProductID]Product) error {
	var is issues

	if s.ID == "" {
		is.add("id", "required", "scheme id is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		is.add("name", "required", "scheme name is required")
	}
	if !s.Validity.Valid() {
		is.add("validity", "invalid_period", "validity start and end are required and start must not be after end")
	}
	if level >= LevelSubmit && len(s.Products) == 0 {
		is.add("products", "missing_scheme_product", "a scheme needs at least one scheme product")
	}

	seen := make(map[ProductID]bool, len(s.Products))
	for i, sp := range s.Products {
		f := fmt.Sprintf("products[%d]", i)
		if sp.ProductID == "" {
			is.add(f+".product_id", "required", "product id is required")
		} else if seen[sp.ProductID] {
			is.add(f+".product_id", "duplicate_scheme_product", "product %s appears more than once", sp.ProductID)
		}
		seen[sp.ProductID] = true
		if products != nil && sp.ProductID != "" {
			if _, ok := products[sp.ProductID]; !ok {
				is.add(f+".product_id", "unknown_product", "product %s is not in the catalog", sp.ProductID)
			}
		}
		if sp.DealerContribution.IsNegative() {
			is.add(f+".dealer_contribution", "negative", "dealer contribution must be >= 0")
		}
		is = append(is, validateIncentive(f+".incentive", sp.Incentive)...)
	}

	ruleIDs := make(map[RuleID]bool, len(s.Rules))
	for i, r := range s.Rules {
		f := fmt.Sprintf("rules[%d]", i)
		if r.ID == "" {
			is.add(f+".id", "required", "rule id is required")
		} else if ruleIDs[r.ID] {
			is.add(f+".id", "duplicate_rule", "duplicate rule id %q", r.ID)
		}
		ruleIDs[r.ID] = true
		is = append(is, validatePredicate(f+".predicate", r.Predicate)...)
	}

	is = append(is, validateBundles(s.Bundles, s)...)

	if !s.Parameters.AggregationPeriod.valid() {
		is.add("parameters.aggregation_period", "unknown_period", "unknown aggregation period %q", s.Parameters.AggregationPeriod)
	}
	switch s.Parameters.SlabBasis {
	case "", SlabPerTransaction, SlabCumulative:
	default:
		is.add("parameters.slab_basis", "unknown_basis", "unknown slab basis %q", s.Parameters.SlabBasis)
	}

	return is.err()
}

func validateIncentive(field string, inc Incentive) issues {
	var is issues
	switch v := inc.(type) {
	case FixedIncentive:
		if v.Amount.IsNegative() {
			is.add(field+".amount", "negative", "fixed amount must be >= 0")
		}
	case PercentageIncentive:
		if v.Rate.IsNegative() || v.Rate.GreaterThan(hundred) {
			is.add(field+".rate", "rate_out_of_range", "percentage rate must be within 0..100")
		}
	case SlabIncentive:
		is = append(is, validateSlabs(field+".slabs", v.Slabs)...)
	case ExchangeIncentive:
		is = append(is, validateExchange(field, v)...)
	case nil:
		is.add(field, "required", "incentive is required")
	default:
		is.add(field, "unknown_incentive_kind", "unknown incentive %T", inc)
	}
	return is
}
