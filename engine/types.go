/*
Package engine provides the scheme incentive and payout calculation engine.

PURPOSE:
  This package turns approved manufacturer-to-dealer incentive schemes into
  exact, explainable payouts. It owns the scheme lifecycle (draft through
  approval to activation and expiry), the resolvers that interpret scheme
  terms (slabs, eligibility rules, bundles, exchange offers), the payout
  calculator, and the simulation engine used to compare candidate schemes.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: Type-safe ids for schemes, products, dealers, transactions
  - SchemeRef: A (scheme id, version) pair naming one immutable snapshot
  - Currency and rounding helpers shared by every calculation

DESIGN PRINCIPLES:
  1. Precision: All money and rates use decimal.Decimal, rounded to 2 places
     at component level only
  2. Determinism: Calculation is a pure function of its inputs
  3. Immutability: Scheme versions are append-only; transactions are facts
  4. Auditability: Every payout names the scheme versions and rules behind it

USAGE:
  calc := engine.NewCalculator()
  result, err := calc.Calculate(engine.CalculationInput{
      Transaction: tx,
      Schemes:     activeSchemes,
      Dealer:      dealer,
      Products:    products,
  })

SEE ALSO:
  - scheme.go: Scheme, SchemeProduct and incentive variants
  - calculator.go: Payout calculation pipeline
  - workflow.go: Approval state machine
*/
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SchemeID string
type ProductID string
type DealerID string
type TransactionID string
type BundleID string
type RuleID string
type SlabID string
type ApprovalID string
type TargetID string

// SchemeRef names one immutable scheme version.
type SchemeRef struct {
	SchemeID SchemeID `json:"scheme_id"`
	Version  int      `json:"version"`
}

func (r SchemeRef) String() string {
	return fmt.Sprintf("%s@v%d", r.SchemeID, r.Version)
}

// Less orders refs by scheme id, then version.
func (r SchemeRef) Less(other SchemeRef) bool {
	if r.SchemeID != other.SchemeID {
		return r.SchemeID < other.SchemeID
	}
	return r.Version < other.Version
}

// =============================================================================
// MONEY
// =============================================================================

type Currency string

const CurrencyINR Currency = "INR"

// MoneyPlaces is the number of decimal places payout amounts are rounded to.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds a monetary value half away from zero to MoneyPlaces.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// Percent returns rate% of base, unrounded.
func Percent(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Div(hundred)
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
