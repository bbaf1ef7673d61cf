/*
simulation.go - Compare candidate scheme versions on hypothetical sales

PURPOSE:
  Before approving a scheme, a manager wants to know what it would pay and
  what it does to dealer economics. The simulator runs the production
  calculator over in-memory transactions, once per candidate version
  (drafts included), and returns a comparison table.

ISOLATION:
  Nothing touches a Repository. Each candidate is simulated alone, so two
  candidates never stack on the same transaction. Cumulative slabs and
  targets see earlier hypothetical transactions of the same dealer, in
  date order then input order.

ECONOMICS PER CANDIDATE:
  revenue            Σ line value (dealer purchase value)
  total_incentive    Σ payouts
  dealer_contrib     Σ per-unit dealer contributions
  net_incentive      total_incentive − dealer_contrib
  incentive_per_unit total_incentive / units
  incentive_rate     total_incentive / revenue, in percent
  margin             Σ (MRP − DP) × units, from the catalog
*/
package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

type SimulationInput struct {
	Transactions []Transaction
	Candidates   []Scheme
	Dealers      map[DealerID]Dealer
	Products     map[ProductID]Product
	Targets      []DealerTarget
}

// CandidateOutcome is one row of the comparison table.
type CandidateOutcome struct {
	Scheme             SchemeRef       `json:"scheme"`
	SchemeName         string          `json:"scheme_name"`
	State              State           `json:"state"`
	Transactions       int             `json:"transactions"`
	Paid               int             `json:"paid"`
	Ineligible         int             `json:"ineligible"`
	NotApplicable      int             `json:"not_applicable"`
	Units              int             `json:"units"`
	Revenue            decimal.Decimal `json:"revenue"`
	TotalIncentive     decimal.Decimal `json:"total_incentive"`
	DealerContribution decimal.Decimal `json:"dealer_contribution"`
	NetIncentive       decimal.Decimal `json:"net_incentive"`
	IncentivePerUnit   decimal.Decimal `json:"incentive_per_unit"`
	IncentiveRate      decimal.Decimal `json:"incentive_rate"`
	Margin             decimal.Decimal `json:"margin"`
	Results            []PayoutResult  `json:"results,omitempty"`
}

type SimulationReport struct {
	Candidates []CandidateOutcome `json:"candidates"`
	// Best is the candidate with the highest total incentive (ties: lowest ref).
	Best *SchemeRef `json:"best,omitempty"`
}

type Simulator struct {
	Calculator *Calculator
}

func NewSimulator() *Simulator {
	return &Simulator{Calculator: NewCalculator()}
}

// Simulate runs every candidate over the transactions.
func (s *Simulator) Simulate(in SimulationInput) (*SimulationReport, error) {
	if len(in.Candidates) == 0 {
		var is issues
		is.add("candidates", "required", "at least one candidate scheme is required")
		return nil, is.err()
	}
	calc := s.Calculator
	if calc == nil {
		calc = NewCalculator()
	}

	ordered, err := orderHypothetical(in.Transactions)
	if err != nil {
		return nil, err
	}

	candidates := append([]Scheme(nil), in.Candidates...)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Ref().Less(candidates[j].Ref()) })

	report := &SimulationReport{}
	for _, cand := range candidates {
		row, err := s.simulateCandidate(calc, cand, ordered, in)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", cand.Ref(), err)
		}
		report.Candidates = append(report.Candidates, row)
		if report.Best == nil || row.TotalIncentive.GreaterThan(bestTotal(report)) {
			ref := row.Scheme
			report.Best = &ref
		}
	}
	return report, nil
}

func bestTotal(r *SimulationReport) decimal.Decimal {
	for _, c := range r.Candidates {
		if c.Scheme == *r.Best {
			return c.TotalIncentive
		}
	}
	return decimal.Zero
}

// orderHypothetical validates, sorts by date (stable on input order) and
// assigns sequences so cumulative aggregation has a total order.
func orderHypothetical(txs []Transaction) ([]Transaction, error) {
	out := make([]Transaction, len(txs))
	seen := make(map[TransactionID]bool, len(txs))
	for i, tx := range txs {
		if tx.ID == "" {
			tx.ID = TransactionID(fmt.Sprintf("sim-%d", i+1))
		}
		if seen[tx.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, tx.ID)
		}
		seen[tx.ID] = true
		tx.Source = SourceSimulated
		if err := tx.Validate(); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		out[i] = tx
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	for i := range out {
		out[i].Seq = int64(i + 1)
	}
	return out, nil
}

func (s *Simulator) simulateCandidate(calc *Calculator, cand Scheme, txs []Transaction, in SimulationInput) (CandidateOutcome, error) {
	row := CandidateOutcome{
		Scheme:             cand.Ref(),
		SchemeName:         cand.Name,
		State:              cand.State,
		Revenue:            decimal.Zero,
		TotalIncentive:     decimal.Zero,
		DealerContribution: decimal.Zero,
		NetIncentive:       decimal.Zero,
		IncentivePerUnit:   decimal.Zero,
		IncentiveRate:      decimal.Zero,
		Margin:             decimal.Zero,
	}
	err := s.replay(calc, []Scheme{cand}, txs, in, func(tx Transaction, result PayoutResult) {
		row.Transactions++
		switch result.Outcome {
		case OutcomeCalculated:
			row.Paid++
		case OutcomeIneligible:
			row.Ineligible++
		case OutcomeNoApplicableScheme:
			row.NotApplicable++
		}
		row.Units += tx.TotalQuantity()
		row.Revenue = row.Revenue.Add(tx.TotalValue())
		row.TotalIncentive = row.TotalIncentive.Add(result.Total)
		row.DealerContribution = row.DealerContribution.Add(result.DealerContribution)
		for _, l := range tx.Lines {
			row.Margin = row.Margin.Add(in.Products[l.ProductID].Margin().Mul(decimal.NewFromInt(int64(l.Quantity))))
		}
		row.Results = append(row.Results, result)
	})
	if err != nil {
		return row, err
	}

	row.NetIncentive = row.TotalIncentive.Sub(row.DealerContribution)
	if row.Units > 0 {
		row.IncentivePerUnit = RoundMoney(row.TotalIncentive.Div(decimal.NewFromInt(int64(row.Units))))
	}
	if row.Revenue.IsPositive() {
		row.IncentiveRate = RoundMoney(row.TotalIncentive.Mul(hundred).Div(row.Revenue))
	}
	row.Margin = RoundMoney(row.Margin)
	return row, nil
}

// Replay runs the transactions with every candidate active at once, the way
// the ledger would pay them, and returns one result per transaction in
// replay order.
func (s *Simulator) Replay(in SimulationInput) ([]PayoutResult, error) {
	calc := s.Calculator
	if calc == nil {
		calc = NewCalculator()
	}
	ordered, err := orderHypothetical(in.Transactions)
	if err != nil {
		return nil, err
	}
	var out []PayoutResult
	err = s.replay(calc, in.Candidates, ordered, in, func(_ Transaction, result PayoutResult) {
		out = append(out, result)
	})
	return out, err
}

func (s *Simulator) replay(calc *Calculator, schemes []Scheme, txs []Transaction, in SimulationInput, visit func(Transaction, PayoutResult)) error {
	for i, tx := range txs {
		dealer, ok := in.Dealers[tx.DealerID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrDealerNotFound, tx.DealerID)
		}
		for _, id := range tx.ProductIDs() {
			if _, ok := in.Products[id]; !ok {
				return fmt.Errorf("%w: %s", ErrProductNotFound, id)
			}
		}
		result, err := calc.Calculate(CalculationInput{
			Transaction: tx,
			Schemes:     schemes,
			Dealer:      dealer,
			Products:    in.Products,
			Aggregates:  BuildAggregates(schemes, tx, txs[:i], in.Targets),
		})
		if err != nil {
			return err
		}
		visit(tx, result)
	}
	return nil
}
