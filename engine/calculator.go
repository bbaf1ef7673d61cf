/*
calculator.go - Payout calculation pipeline

PURPOSE:
  Turns one transaction plus the scheme snapshots that apply to it into a
  PayoutResult: total incentive and a breakdown explaining every amount.

PIPELINE (per transaction):
  (a) Select scheme versions whose validity covers the transaction date and
      whose products include at least one transaction product. Ordered by
      (scheme id, version) so output order never depends on input order.
  (b) Evaluate the scheme's rules over the lines of its own products.
      Ineligible → zero, failures recorded.
  (c) Sale: resolve bundles first. Units forming complete sets are consumed
      and skip per-product payout.
  (d) Remaining units dispatch on their incentive variant:
        fixed      → amount × quantity
        percentage → rate% × line value
        slab       → resolved slab amount × quantity (or rate% × value)
      Exchange transactions route through the exchange resolver instead.
  (e) Sum components per scheme, then across schemes.

PURITY:
  Calculate reads only its input. The same CalculationInput always yields
  the same PayoutResult (and fingerprint), which is what makes replays,
  batch recalculation and simulation agree with production.

ROUNDING:
  Each component is rounded to 2 places; subtotals and totals are exact
  sums of rounded components.

SEE ALSO:
  - aggregates.go: Prior-period quantities for cumulative slabs and targets
  - fingerprint.go: Canonical hash of a result
  - simulation.go: Runs the same calculator over hypothetical transactions
*/
package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// CalculationInput is everything a calculation may read.
type CalculationInput struct {
	Transaction Transaction
	// Schemes are candidate snapshots. The calculator does not look at
	// State; callers pass active versions in production and any versions
	// when simulating.
	Schemes    []Scheme
	Dealer     Dealer
	Products   map[ProductID]Product
	Aggregates Aggregates
}

// Calculator is stateless and safe for concurrent use.
type Calculator struct{}

func NewCalculator() *Calculator { return &Calculator{} }

// Calculate computes the payout for one transaction. Errors are reserved
// for malformed input; "no scheme" and "ineligible" are outcomes.
func (c *Calculator) Calculate(in CalculationInput) (PayoutResult, error) {
	tx := in.Transaction
	if err := tx.Validate(); err != nil {
		return PayoutResult{}, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}

	result := PayoutResult{
		TransactionID:      tx.ID,
		DealerID:           tx.DealerID,
		Date:               tx.Date,
		Kind:               tx.Kind,
		Currency:           CurrencyINR,
		Total:              decimal.Zero,
		DealerContribution: decimal.Zero,
	}

	applicable := ApplicableSchemes(in.Schemes, tx)
	if len(applicable) == 0 {
		result.Outcome = OutcomeNoApplicableScheme
		result.Diagnostics = append(result.Diagnostics,
			fmt.Sprintf("no scheme covers %s for products %v", tx.Date, tx.ProductIDs()))
		return withFingerprint(result)
	}
	result.Currency = applicable[0].Currency()

	eligible := 0
	for _, scheme := range applicable {
		sp, err := c.calculateScheme(scheme, in)
		if err != nil {
			return PayoutResult{}, fmt.Errorf("scheme %s: %w", scheme.Ref(), err)
		}
		if sp.Eligible {
			eligible++
			result.Total = result.Total.Add(sp.Subtotal)
			result.DealerContribution = result.DealerContribution.Add(sp.DealerContribution)
		}
		if scheme.Currency() != result.Currency {
			result.Diagnostics = append(result.Diagnostics,
				fmt.Sprintf("scheme %s uses currency %s, result reported in %s", scheme.Ref(), scheme.Currency(), result.Currency))
		}
		result.Schemes = append(result.Schemes, sp)
	}

	if eligible == 0 {
		result.Outcome = OutcomeIneligible
	} else {
		result.Outcome = OutcomeCalculated
	}
	return withFingerprint(result)
}

// ApplicableSchemes returns the schemes covering tx's date and at least one
// of its products, ordered by (scheme id, version).
func ApplicableSchemes(schemes []Scheme, tx Transaction) []Scheme {
	ids := tx.ProductIDs()
	var out []Scheme
	for _, s := range schemes {
		if s.Covers(tx.Date) && s.IncludesAny(ids) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref().Less(out[j].Ref()) })
	return out
}

// productGroup is the transaction's lines for one product, merged.
type productGroup struct {
	ProductID ProductID
	Quantity  int
	Value     decimal.Decimal
}

// groupLines merges lines per product, keeping first-appearance order.
func groupLines(lines []TransactionLine) []productGroup {
	index := make(map[ProductID]int)
	var groups []productGroup
	for _, l := range lines {
		i, ok := index[l.ProductID]
		if !ok {
			i = len(groups)
			index[l.ProductID] = i
			groups = append(groups, productGroup{ProductID: l.ProductID, Value: decimal.Zero})
		}
		groups[i].Quantity += l.Quantity
		groups[i].Value = groups[i].Value.Add(l.Value())
	}
	return groups
}

// without removes n units from the group, keeping the value share of the
// remaining units. ok is false when nothing remains.
func (g productGroup) without(n int) (productGroup, bool) {
	if n <= 0 {
		return g, g.Quantity > 0
	}
	remaining := g.Quantity - n
	if remaining <= 0 {
		return productGroup{}, false
	}
	g.Value = g.Value.Mul(decimal.NewFromInt(int64(remaining))).Div(decimal.NewFromInt(int64(g.Quantity)))
	g.Quantity = remaining
	return g, true
}

// scopedTo returns tx restricted to the lines of products the scheme covers.
func scopedTo(scheme Scheme, tx Transaction) Transaction {
	scoped := tx
	scoped.Lines = nil
	for _, l := range tx.Lines {
		if _, ok := scheme.Product(l.ProductID); ok {
			scoped.Lines = append(scoped.Lines, l)
		}
	}
	return scoped
}

func (c *Calculator) calculateScheme(scheme Scheme, in CalculationInput) (SchemePayout, error) {
	tx := in.Transaction
	sp := SchemePayout{
		Scheme:             scheme.Ref(),
		SchemeName:         scheme.Name,
		Subtotal:           decimal.Zero,
		DealerContribution: decimal.Zero,
	}

	// (b) rules see only the lines this scheme covers
	rc := RuleContext{
		Transaction: scopedTo(scheme, tx),
		Dealer:      in.Dealer,
		Products:    in.Products,
		Target:      in.Aggregates.currentTarget(scheme, tx),
	}
	sp.Rules = EvaluateRules(scheme.Rules, rc)
	sp.Eligible = sp.Rules.Eligible
	if !sp.Eligible {
		return sp, nil
	}

	var groups []productGroup
	for _, g := range groupLines(tx.Lines) {
		if _, ok := scheme.Product(g.ProductID); ok {
			groups = append(groups, g)
		}
	}

	// (d) exchange transactions bypass bundles and per-product dispatch
	if tx.Kind == KindExchange {
		for _, line := range tx.Lines {
			prod, ok := scheme.Product(line.ProductID)
			if !ok {
				continue
			}
			res := ResolveExchange(prod, line, tx.TradeIn, in.Products[line.ProductID])
			comp := Component{
				Kind:               ComponentExchange,
				ProductIDs:         []ProductID{line.ProductID},
				Quantity:           line.Quantity,
				Basis:              tradeInValue(tx.TradeIn),
				Amount:             res.Amount,
				DealerContribution: contribution(prod.DealerContribution, line.Quantity),
				Exchange:           &res,
				FreeItem:           prod.FreeItem,
				Note:               res.Diagnostic,
			}
			if res.Diagnostic != "" {
				sp.Diagnostics = append(sp.Diagnostics, res.Diagnostic)
			}
			sp.add(comp)
		}
		return sp, nil
	}

	// (c) bundles
	quantities := make(map[ProductID]int, len(groups))
	for _, g := range groups {
		quantities[g.ProductID] = g.Quantity
	}
	if len(scheme.Bundles) > 0 {
		decision := ResolveBundle(scheme.Bundles, quantities)
		sp.Bundle = &decision
		if decision.Matched {
			comp := Component{
				Kind:               ComponentBundle,
				ProductIDs:         decision.ConsumedProducts(),
				Quantity:           decision.Sets,
				Basis:              decimal.Zero,
				Amount:             decision.Payout,
				DealerContribution: decimal.Zero,
				BundleID:           decision.Offer.ID,
				FreeItem:           decision.Offer.FreeItem,
			}
			for _, id := range comp.ProductIDs {
				prod, _ := scheme.Product(id)
				comp.DealerContribution = comp.DealerContribution.Add(contribution(prod.DealerContribution, decision.ConsumedQuantity(id)))
			}
			sp.add(comp)
		}
	}

	// (d) per-product dispatch on the units left after the bundle
	for _, g := range groups {
		if sp.Bundle != nil {
			var ok bool
			if g, ok = g.without(sp.Bundle.ConsumedQuantity(g.ProductID)); !ok {
				continue
			}
		}
		prod, _ := scheme.Product(g.ProductID)
		comp, err := c.productComponent(scheme, prod, g, in.Aggregates)
		if err != nil {
			return sp, err
		}
		if comp.Note != "" && comp.Amount.IsZero() {
			sp.Diagnostics = append(sp.Diagnostics, comp.Note)
		}
		sp.add(comp)
	}
	return sp, nil
}

func (c *Calculator) productComponent(scheme Scheme, prod SchemeProduct, g productGroup, agg Aggregates) (Component, error) {
	comp := Component{
		ProductIDs:         []ProductID{g.ProductID},
		Quantity:           g.Quantity,
		Basis:              decimal.Zero,
		DealerContribution: contribution(prod.DealerContribution, g.Quantity),
		FreeItem:           prod.FreeItem,
	}
	qty := decimal.NewFromInt(int64(g.Quantity))

	switch inc := prod.Incentive.(type) {
	case FixedIncentive:
		comp.Kind = ComponentFixed
		comp.Amount = RoundMoney(inc.Amount.Mul(qty))

	case PercentageIncentive:
		comp.Kind = ComponentPercentage
		comp.Basis = g.Value
		comp.Amount = RoundMoney(Percent(g.Value, inc.Rate))

	case SlabIncentive:
		comp.Kind = ComponentSlab
		achieved := g.Quantity
		if scheme.Parameters.Basis() == SlabCumulative {
			achieved += agg.priorQuantity(scheme.Ref(), g.ProductID)
		}
		comp.AchievedQuantity = achieved
		res := ResolveSlab(inc.Slabs, achieved)
		if !res.Found {
			comp.Amount = decimal.Zero
			comp.Note = res.Reason
			break
		}
		comp.SlabID = res.Slab.ID
		comp.Inconsistent = res.Inconsistent
		comp.Note = res.Reason
		if res.Slab.mode() == SlabRate {
			comp.Basis = g.Value
			comp.Amount = RoundMoney(Percent(g.Value, res.Slab.Payout))
		} else {
			comp.Amount = RoundMoney(res.Slab.Payout.Mul(qty))
		}
		if !res.Slab.DealerContribution.IsZero() {
			comp.DealerContribution = contribution(res.Slab.DealerContribution, g.Quantity)
		}

	case ExchangeIncentive:
		comp.Kind = ComponentExchange
		comp.Amount = decimal.Zero
		comp.Note = fmt.Sprintf("product %s only earns on exchange transactions", g.ProductID)

	default:
		return comp, fmt.Errorf("%w: %T for product %s", ErrUnknownIncentiveKind, prod.Incentive, g.ProductID)
	}
	return comp, nil
}

func (sp *SchemePayout) add(c Component) {
	sp.Components = append(sp.Components, c)
	sp.Subtotal = sp.Subtotal.Add(c.Amount)
	sp.DealerContribution = sp.DealerContribution.Add(c.DealerContribution)
}

func contribution(perUnit decimal.Decimal, qty int) decimal.Decimal {
	return RoundMoney(perUnit.Mul(decimal.NewFromInt(int64(qty))))
}

func tradeInValue(t *TradeIn) decimal.Decimal {
	if t == nil {
		return decimal.Zero
	}
	return t.Value
}

func withFingerprint(r PayoutResult) (PayoutResult, error) {
	fp, err := Fingerprint(r)
	if err != nil {
		return PayoutResult{}, err
	}
	r.Fingerprint = fp
	return r, nil
}
