/*
rule.go - Eligibility rules and the rule evaluator

PURPOSE:
  Schemes gate eligibility with rules such as "minimum order value 50,000",
  "only Gold-tier dealers" or "dealer must have reached 80% of target".
  Rules are data, not code: each rule holds a Predicate from a closed set
  (comparison, membership, all-of) over a fixed list of context fields.

KEY CONCEPTS:
  - ContextField: the only names a predicate may read. An unknown field is
    a ValidationError at submission time, never a runtime surprise
  - RuleContext: transaction + dealer + products + target progress
  - Evaluation: every rule is evaluated (no short-circuit) so the audit trail
    lists all failures, not just the first

MULTI-LINE TRANSACTIONS:
  Product-scoped fields (product_id, product_category, product_subcategory)
  are multi-valued on a transaction with several lines. A predicate over
  them holds only when it holds for every line. The calculator passes only
  the lines of the scheme's own products, so order_value and quantity are
  totals over those lines too.

SEE ALSO:
  - calculator.go: Runs the evaluator before bundles and per-product payout
  - validate.go: Checks predicates against the field registry
*/
package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONTEXT FIELDS
// =============================================================================

type ContextField string

const (
	FieldOrderValue          ContextField = "order_value"
	FieldQuantity            ContextField = "quantity"
	FieldTransactionKind     ContextField = "transaction_kind"
	FieldTransactionDate     ContextField = "transaction_date"
	FieldTradeInValue        ContextField = "trade_in_value"
	FieldDealerTier          ContextField = "dealer_tier"
	FieldDealerType          ContextField = "dealer_type"
	FieldDealerRegion        ContextField = "dealer_region"
	FieldDealerState         ContextField = "dealer_state"
	FieldDealerCity          ContextField = "dealer_city"
	FieldDealerStatus        ContextField = "dealer_status"
	FieldProductID           ContextField = "product_id"
	FieldProductCategory     ContextField = "product_category"
	FieldProductSubcategory  ContextField = "product_subcategory"
	FieldTargetAchievedQty   ContextField = "target_achieved_qty"
	FieldTargetAchievedValue ContextField = "target_achieved_value"
	FieldTargetAchievedPct   ContextField = "target_achieved_pct"
)

type FieldType int

const (
	FieldNumber FieldType = iota
	FieldString
	FieldDate
)

func (t FieldType) String() string {
	switch t {
	case FieldNumber:
		return "number"
	case FieldDate:
		return "date"
	default:
		return "string"
	}
}

var contextFields = map[ContextField]FieldType{
	FieldOrderValue:          FieldNumber,
	FieldQuantity:            FieldNumber,
	FieldTransactionKind:     FieldString,
	FieldTransactionDate:     FieldDate,
	FieldTradeInValue:        FieldNumber,
	FieldDealerTier:          FieldString,
	FieldDealerType:          FieldString,
	FieldDealerRegion:        FieldString,
	FieldDealerState:         FieldString,
	FieldDealerCity:          FieldString,
	FieldDealerStatus:        FieldString,
	FieldProductID:           FieldString,
	FieldProductCategory:     FieldString,
	FieldProductSubcategory:  FieldString,
	FieldTargetAchievedQty:   FieldNumber,
	FieldTargetAchievedValue: FieldNumber,
	FieldTargetAchievedPct:   FieldNumber,
}

// LookupField returns the type of a known context field.
func LookupField(f ContextField) (FieldType, bool) {
	t, ok := contextFields[f]
	return t, ok
}

// ContextFields lists every field a rule may reference, sorted.
func ContextFields() []ContextField {
	out := make([]ContextField, 0, len(contextFields))
	for f := range contextFields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// PREDICATES - closed set
// =============================================================================

type CompareOp string

const (
	OpEq  CompareOp = "eq"
	OpNe  CompareOp = "ne"
	OpGt  CompareOp = "gt"
	OpGte CompareOp = "gte"
	OpLt  CompareOp = "lt"
	OpLte CompareOp = "lte"
)

// Predicate is implemented only by Comparison, Membership and AllOf.
type Predicate interface {
	predicate()
}

// Comparison holds when Field Op Value. Ordering operators need a number or
// date field; strings support eq and ne (case-insensitive).
type Comparison struct {
	Field ContextField
	Op    CompareOp
	Value string
}

// Membership holds when Field is one of Values (or none of them if Negate).
type Membership struct {
	Field  ContextField
	Values []string
	Negate bool
}

// AllOf holds when every child holds.
type AllOf struct {
	Predicates []Predicate
}

func (Comparison) predicate() {}
func (Membership) predicate() {}
func (AllOf) predicate()      {}

// SchemeRule is one eligibility condition of a scheme version.
type SchemeRule struct {
	ID          RuleID
	Description string
	Predicate   Predicate
}

// =============================================================================
// EVALUATION
// =============================================================================

// TargetProgress is a dealer's achievement against a target, including the
// transaction being evaluated.
type TargetProgress struct {
	Target           DealerTarget    `json:"target"`
	AchievedQuantity int             `json:"achieved_quantity"`
	AchievedValue    decimal.Decimal `json:"achieved_value"`
}

// Percent returns achievement in percent of target (quantity when a quantity
// target is set, value otherwise).
func (tp TargetProgress) Percent() (decimal.Decimal, bool) {
	if tp.Target.TargetQuantity > 0 {
		return decimal.NewFromInt(int64(tp.AchievedQuantity)).Mul(hundred).
			Div(decimal.NewFromInt(int64(tp.Target.TargetQuantity))), true
	}
	if tp.Target.TargetValue.IsPositive() {
		return tp.AchievedValue.Mul(hundred).Div(tp.Target.TargetValue), true
	}
	return decimal.Zero, false
}

// RuleContext is everything a predicate may read.
type RuleContext struct {
	Transaction Transaction
	Dealer      Dealer
	Products    map[ProductID]Product
	Target      *TargetProgress
}

// values returns the field's value(s) as strings; ok is false when the field
// has no value in this context (e.g. no target configured).
func (rc RuleContext) values(f ContextField) ([]string, bool) {
	tx := rc.Transaction
	switch f {
	case FieldOrderValue:
		return []string{tx.TotalValue().String()}, true
	case FieldQuantity:
		return []string{fmt.Sprint(tx.TotalQuantity())}, true
	case FieldTransactionKind:
		return []string{string(tx.Kind)}, true
	case FieldTransactionDate:
		return []string{tx.Date.String()}, true
	case FieldTradeInValue:
		if tx.TradeIn == nil {
			return nil, false
		}
		return []string{tx.TradeIn.Value.String()}, true
	case FieldDealerTier:
		return []string{rc.Dealer.Tier}, true
	case FieldDealerType:
		return []string{rc.Dealer.Type}, true
	case FieldDealerRegion:
		return []string{rc.Dealer.Region}, true
	case FieldDealerState:
		return []string{rc.Dealer.State}, true
	case FieldDealerCity:
		return []string{rc.Dealer.City}, true
	case FieldDealerStatus:
		return []string{string(rc.Dealer.Status)}, true
	case FieldProductID, FieldProductCategory, FieldProductSubcategory:
		ids := tx.ProductIDs()
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			p := rc.Products[id]
			switch f {
			case FieldProductID:
				out = append(out, string(id))
			case FieldProductCategory:
				out = append(out, p.Category)
			default:
				out = append(out, p.Subcategory)
			}
		}
		return out, len(out) > 0
	case FieldTargetAchievedQty:
		if rc.Target == nil {
			return nil, false
		}
		return []string{fmt.Sprint(rc.Target.AchievedQuantity)}, true
	case FieldTargetAchievedValue:
		if rc.Target == nil {
			return nil, false
		}
		return []string{rc.Target.AchievedValue.String()}, true
	case FieldTargetAchievedPct:
		if rc.Target == nil {
			return nil, false
		}
		pct, ok := rc.Target.Percent()
		if !ok {
			return nil, false
		}
		return []string{pct.String()}, true
	}
	return nil, false
}

// RuleFailure records one rule that did not hold and why.
type RuleFailure struct {
	RuleID      RuleID `json:"rule_id"`
	Description string `json:"description,omitempty"`
	Reason      string `json:"reason"`
}

// RuleEvaluation is the outcome of evaluating all of a scheme's rules.
type RuleEvaluation struct {
	Eligible  bool          `json:"eligible"`
	Evaluated int           `json:"evaluated"`
	Failed    []RuleFailure `json:"failed,omitempty"`
}

// EvaluateRules evaluates every rule against rc. It is pure and never
// short-circuits. A scheme without rules is eligible.
func EvaluateRules(rules []SchemeRule, rc RuleContext) RuleEvaluation {
	eval := RuleEvaluation{Eligible: true, Evaluated: len(rules)}
	for _, r := range rules {
		ok, reason := evalPredicate(r.Predicate, rc)
		if !ok {
			eval.Eligible = false
			eval.Failed = append(eval.Failed, RuleFailure{
				RuleID:      r.ID,
				Description: r.Description,
				Reason:      reason,
			})
		}
	}
	return eval
}

func evalPredicate(p Predicate, rc RuleContext) (bool, string) {
	switch pr := p.(type) {
	case Comparison:
		return evalComparison(pr, rc)
	case Membership:
		return evalMembership(pr, rc)
	case AllOf:
		var reasons []string
		for _, child := range pr.Predicates {
			if ok, reason := evalPredicate(child, rc); !ok {
				reasons = append(reasons, reason)
			}
		}
		if len(reasons) > 0 {
			return false, strings.Join(reasons, "; ")
		}
		return true, ""
	case nil:
		return false, "rule has no predicate"
	default:
		return false, fmt.Sprintf("unsupported predicate %T", p)
	}
}

func evalComparison(c Comparison, rc RuleContext) (bool, string) {
	ft, known := LookupField(c.Field)
	if !known {
		return false, fmt.Sprintf("unknown field %s", c.Field)
	}
	vals, ok := rc.values(c.Field)
	if !ok {
		return false, fmt.Sprintf("%s is not available", c.Field)
	}
	for _, v := range vals {
		cmp, err := compareValues(ft, v, c.Value)
		if err != nil {
			return false, err.Error()
		}
		if !opHolds(c.Op, cmp) {
			return false, fmt.Sprintf("%s %s %s failed (actual %s)", c.Field, c.Op, c.Value, v)
		}
	}
	return true, ""
}

func evalMembership(m Membership, rc RuleContext) (bool, string) {
	if _, known := LookupField(m.Field); !known {
		return false, fmt.Sprintf("unknown field %s", m.Field)
	}
	vals, ok := rc.values(m.Field)
	if !ok {
		return false, fmt.Sprintf("%s is not available", m.Field)
	}
	for _, v := range vals {
		in := containsFold(m.Values, v)
		if in == m.Negate {
			verb := "in"
			if m.Negate {
				verb = "not in"
			}
			return false, fmt.Sprintf("%s %q %s [%s] failed", m.Field, v, verb, strings.Join(m.Values, ", "))
		}
	}
	return true, ""
}

// compareValues returns -1, 0 or 1 for actual versus expected.
func compareValues(ft FieldType, actual, expected string) (int, error) {
	switch ft {
	case FieldNumber:
		a, err := decimal.NewFromString(actual)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", actual)
		}
		e, err := decimal.NewFromString(expected)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", expected)
		}
		return a.Cmp(e), nil
	case FieldDate:
		a, err := ParseDate(actual)
		if err != nil {
			return 0, err
		}
		e, err := ParseDate(expected)
		if err != nil {
			return 0, err
		}
		return a.Time.Compare(e.Time), nil
	default:
		if strings.EqualFold(actual, expected) {
			return 0, nil
		}
		return strings.Compare(strings.ToLower(actual), strings.ToLower(expected)), nil
	}
}

func opHolds(op CompareOp, cmp int) bool {
	switch op {
	case OpEq:
		return cmp == 0
	case OpNe:
		return cmp != 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}

// =============================================================================
// PREDICATE VALIDATION
// =============================================================================

func validatePredicate(field string, p Predicate) issues {
	var is issues
	switch pr := p.(type) {
	case Comparison:
		ft, known := LookupField(pr.Field)
		if !known {
			is.add(field+".field", "unknown_field", "rule references undefined context field %q", pr.Field)
			break
		}
		switch pr.Op {
		case OpEq, OpNe:
		case OpGt, OpGte, OpLt, OpLte:
			if ft == FieldString {
				is.add(field+".op", "op_not_supported", "operator %s is not defined for string field %s", pr.Op, pr.Field)
			}
		default:
			is.add(field+".op", "unknown_op", "unknown operator %q", pr.Op)
		}
		if _, err := compareValues(ft, zeroValue(ft), pr.Value); err != nil {
			is.add(field+".value", "bad_value", "value %q is not a valid %s", pr.Value, ft)
		}
	case Membership:
		if _, known := LookupField(pr.Field); !known {
			is.add(field+".field", "unknown_field", "rule references undefined context field %q", pr.Field)
		}
		if len(pr.Values) == 0 {
			is.add(field+".values", "required", "membership needs at least one value")
		}
	case AllOf:
		if len(pr.Predicates) == 0 {
			is.add(field+".all", "required", "all-of needs at least one predicate")
		}
		for i, child := range pr.Predicates {
			is = append(is, validatePredicate(fmt.Sprintf("%s.all[%d]", field, i), child)...)
		}
	case nil:
		is.add(field, "required", "rule has no predicate")
	default:
		is.add(field, "unknown_predicate", "unsupported predicate %T", p)
	}
	return is
}

func zeroValue(ft FieldType) string {
	switch ft {
	case FieldNumber:
		return "0"
	case FieldDate:
		return "2000-01-01"
	}
	return ""
}

// =============================================================================
// JSON ENVELOPE
// =============================================================================

type PredicateKind string

const (
	PredicateCompare PredicateKind = "compare"
	PredicateIn      PredicateKind = "in"
	PredicateAll     PredicateKind = "all"
)

// PredicateJSON is the serialized form of a Predicate.
type PredicateJSON struct {
	Kind   PredicateKind   `json:"kind"`
	Field  ContextField    `json:"field,omitempty"`
	Op     CompareOp       `json:"op,omitempty"`
	Value  string          `json:"value,omitempty"`
	Values []string        `json:"values,omitempty"`
	Negate bool            `json:"negate,omitempty"`
	All    []PredicateJSON `json:"all,omitempty"`
}

// EncodePredicate converts a Predicate to its serialized form.
func EncodePredicate(p Predicate) (PredicateJSON, error) {
	switch pr := p.(type) {
	case Comparison:
		return PredicateJSON{Kind: PredicateCompare, Field: pr.Field, Op: pr.Op, Value: pr.Value}, nil
	case Membership:
		return PredicateJSON{Kind: PredicateIn, Field: pr.Field, Values: append([]string(nil), pr.Values...), Negate: pr.Negate}, nil
	case AllOf:
		out := PredicateJSON{Kind: PredicateAll}
		for _, child := range pr.Predicates {
			enc, err := EncodePredicate(child)
			if err != nil {
				return PredicateJSON{}, err
			}
			out.All = append(out.All, enc)
		}
		return out, nil
	}
	return PredicateJSON{}, fmt.Errorf("unsupported predicate %T", p)
}

// Decode converts the serialized form back to a Predicate.
func (pj PredicateJSON) Decode() (Predicate, error) {
	switch pj.Kind {
	case PredicateCompare:
		return Comparison{Field: pj.Field, Op: pj.Op, Value: pj.Value}, nil
	case PredicateIn:
		return Membership{Field: pj.Field, Values: append([]string(nil), pj.Values...), Negate: pj.Negate}, nil
	case PredicateAll:
		all := AllOf{}
		for _, child := range pj.All {
			p, err := child.Decode()
			if err != nil {
				return nil, err
			}
			all.Predicates = append(all.Predicates, p)
		}
		return all, nil
	}
	return nil, fmt.Errorf("unknown predicate kind %q", pj.Kind)
}

type schemeRuleJSON struct {
	ID          RuleID         `json:"id"`
	Description string         `json:"description,omitempty"`
	Predicate   *PredicateJSON `json:"predicate,omitempty"`
}

func (r SchemeRule) MarshalJSON() ([]byte, error) {
	env := schemeRuleJSON{ID: r.ID, Description: r.Description}
	if r.Predicate != nil {
		p, err := EncodePredicate(r.Predicate)
		if err != nil {
			return nil, err
		}
		env.Predicate = &p
	}
	return json.Marshal(env)
}

func (r *SchemeRule) UnmarshalJSON(data []byte) error {
	var env schemeRuleJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*r = SchemeRule{ID: env.ID, Description: env.Description}
	if env.Predicate != nil {
		p, err := env.Predicate.Decode()
		if err != nil {
			return fmt.Errorf("rule %s: %w", env.ID, err)
		}
		r.Predicate = p
	}
	return nil
}
