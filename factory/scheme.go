/*
Package factory converts JSON scheme drafts into engine.Scheme values.

PURPOSE:
  Scheme documents arrive as extracted JSON (one object per circular, the
  shape the document extractor produces). The factory checks the JSON
  against an embedded JSON Schema, resolves product references against
  the catalog, and maps the draft onto the typed engine model. Business
  validation (slab coverage, rule fields, bundle membership) stays in
  engine.ValidateScheme, which runs again when the draft is ingested.

DRAFT SHAPE:
  {
    "scheme_name": "Holi Bonanza",
    "scheme_type": "Special Support",
    "scheme_period_start": "2025-03-01",
    "scheme_period_end": "2025-03-31",
    "applicable_region": "West",
    "dealer_type_eligibility": "National Chain, Regional Chain",
    "slab_basis": "cumulative_period",
    "products": [
      {"product_code": "SM-S918B", "payout_type": "slab",
       "slabs": [{"min_qty": 0, "max_qty": 10, "payout": 50},
                 {"min_qty": 10, "payout": 80}]}
    ],
    "bundles": [{"products": ["SM-S918B", "SM-R510"], "payout": 1500}],
    "scheme_rules": [
      {"rule_type": "Order Value", "rule_description": "Minimum order",
       "condition": {"kind": "compare", "field": "order_value", "op": "gte", "value": "100000"}}
    ]
  }

MAPPING:
  - applicable_region / dealer_type_eligibility other than "All India" /
    "All Dealers" become membership rules on dealer_region / dealer_type
  - scheme_rules with a condition become SchemeRules; rules without one are
    informational and are kept as named parameters
  - products are referenced by product_id, product_code or product_name

USAGE:
  f, err := factory.NewSchemeFactory(factory.NewCatalogIndex(products))
  scheme, err := f.ParseDraft(data)
  draft, err := f.Ingest(ctx, workflow, data)

SEE ALSO:
  - engine/validate.go: Static validation run at ingestion
  - presets/: Ready-made drafts
*/
package factory

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/incentive-engine/engine"
)

//go:embed draft.schema.json
var draftSchema string

const draftSchemaURL = "https://incentive-engine.local/schemas/scheme-draft.schema.json"

// =============================================================================
// JSON DRAFT TYPES
// =============================================================================

// SchemeDraft is the JSON representation of a scheme document.
type SchemeDraft struct {
	SchemeID              string           `json:"scheme_id,omitempty"`
	SchemeName            string           `json:"scheme_name"`
	SchemeType            string           `json:"scheme_type,omitempty"`
	PeriodStart           string           `json:"scheme_period_start"`
	PeriodEnd             string           `json:"scheme_period_end"`
	ApplicableRegion      string           `json:"applicable_region,omitempty"`
	DealerTypeEligibility string           `json:"dealer_type_eligibility,omitempty"`
	DocumentName          string           `json:"scheme_document_name,omitempty"`
	Notes                 string           `json:"notes,omitempty"`
	SlabBasis             string           `json:"slab_basis,omitempty"`
	AggregationPeriod     string           `json:"aggregation_period,omitempty"`
	Currency              string           `json:"currency,omitempty"`
	Products              []ProductDraft   `json:"products"`
	Bundles               []BundleDraft    `json:"bundles,omitempty"`
	Rules                 []RuleDraft      `json:"scheme_rules,omitempty"`
	Parameters            []ParameterDraft `json:"scheme_parameters,omitempty"`
}

// ProductDraft is one scheme product line of the document.
type ProductDraft struct {
	ProductID          string          `json:"product_id,omitempty"`
	ProductCode        string          `json:"product_code,omitempty"`
	ProductName        string          `json:"product_name,omitempty"`
	SupportType        string          `json:"support_type,omitempty"`
	PayoutType         string          `json:"payout_type"` // fixed, percentage, slab, exchange
	PayoutAmount       decimal.Decimal `json:"payout_amount"`
	Slabs              []SlabDraft     `json:"slabs,omitempty"`
	Exchange           *ExchangeDraft  `json:"exchange,omitempty"`
	DealerContribution decimal.Decimal `json:"dealer_contribution"`
	FreeItem           string          `json:"free_item_description,omitempty"`
}

type SlabDraft struct {
	SlabID             string          `json:"slab_id,omitempty"`
	MinQty             int             `json:"min_qty"`
	MaxQty             *int            `json:"max_qty,omitempty"`
	Payout             decimal.Decimal `json:"payout"`
	Mode               string          `json:"mode,omitempty"`
	DealerContribution decimal.Decimal `json:"dealer_contribution"`
}

type ExchangeDraft struct {
	Base        decimal.Decimal  `json:"base"`
	TradeInRate decimal.Decimal  `json:"trade_in_rate"`
	Cap         *decimal.Decimal `json:"cap,omitempty"`
	PriceTiers  []PriceTierDraft `json:"price_tiers,omitempty"`
}

type PriceTierDraft struct {
	MinPrice decimal.Decimal  `json:"min_price"`
	MaxPrice *decimal.Decimal `json:"max_price,omitempty"`
	Bonus    decimal.Decimal  `json:"bonus"`
}

type BundleDraft struct {
	BundleID    string          `json:"bundle_id,omitempty"`
	Name        string          `json:"name,omitempty"`
	Products    []string        `json:"products"`
	Payout      decimal.Decimal `json:"payout"`
	BundlePrice decimal.Decimal `json:"bundle_price"`
	FreeItem    string          `json:"free_item_description,omitempty"`
}

// RuleDraft is a scheme rule. Only rules carrying a Condition are enforced.
type RuleDraft struct {
	RuleID      string                `json:"rule_id,omitempty"`
	RuleType    string                `json:"rule_type,omitempty"`
	Description string                `json:"rule_description,omitempty"`
	Value       json.RawMessage       `json:"rule_value,omitempty"`
	Condition   *engine.PredicateJSON `json:"condition,omitempty"`
}

type ParameterDraft struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Criteria    string `json:"criteria,omitempty"`
}

// =============================================================================
// PRODUCT RESOLUTION
// =============================================================================

// ProductResolver maps a document's product reference to a catalog id.
type ProductResolver interface {
	ResolveProduct(ref string) (engine.ProductID, bool)
}

// CatalogIndex resolves references by id, then code, then name
// (case-insensitive).
type CatalogIndex struct {
	byID   map[engine.ProductID]bool
	byCode map[string]engine.ProductID
	byName map[string]engine.ProductID
}

// NewCatalogIndex indexes products for resolution.
func NewCatalogIndex(products []engine.Product) *CatalogIndex {
	idx := &CatalogIndex{
		byID:   make(map[engine.ProductID]bool, len(products)),
		byCode: make(map[string]engine.ProductID),
		byName: make(map[string]engine.ProductID),
	}
	for _, p := range products {
		idx.byID[p.ID] = true
		if p.Code != "" {
			idx.byCode[strings.ToLower(p.Code)] = p.ID
		}
		if p.Name != "" {
			idx.byName[strings.ToLower(p.Name)] = p.ID
		}
	}
	return idx
}

func (c *CatalogIndex) ResolveProduct(ref string) (engine.ProductID, bool) {
	if c.byID[engine.ProductID(ref)] {
		return engine.ProductID(ref), true
	}
	key := strings.ToLower(strings.TrimSpace(ref))
	if id, ok := c.byCode[key]; ok {
		return id, true
	}
	id, ok := c.byName[key]
	return id, ok
}

// =============================================================================
// SCHEME FACTORY
// =============================================================================

// SchemeFactory converts JSON drafts to engine.Scheme.
type SchemeFactory struct {
	schema   *jsonschema.Schema
	resolver ProductResolver

	// DefaultCurrency is stamped on drafts that name no currency.
	DefaultCurrency engine.Currency
}

// NewSchemeFactory compiles the draft schema. A nil resolver takes product
// references as catalog ids verbatim.
func NewSchemeFactory(resolver ProductResolver) (*SchemeFactory, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(draftSchemaURL, strings.NewReader(draftSchema)); err != nil {
		return nil, fmt.Errorf("draft schema load failed: %w", err)
	}
	schema, err := c.Compile(draftSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("draft schema compile failed: %w", err)
	}
	return &SchemeFactory{schema: schema, resolver: resolver}, nil
}

// Ingester persists a mapped draft. engine.WorkflowService satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, scheme engine.Scheme) (*engine.Scheme, error)
}

// Ingest parses data and hands the scheme to the workflow as a new draft
// version.
func (f *SchemeFactory) Ingest(ctx context.Context, to Ingester, data []byte) (*engine.Scheme, error) {
	scheme, err := f.ParseDraft(data)
	if err != nil {
		return nil, err
	}
	return to.Ingest(ctx, scheme)
}

// ParseDraft validates data against the draft schema and maps it.
func (f *SchemeFactory) ParseDraft(data []byte) (engine.Scheme, error) {
	if err := f.CheckSchema(data); err != nil {
		return engine.Scheme{}, err
	}
	var draft SchemeDraft
	if err := json.Unmarshal(data, &draft); err != nil {
		return engine.Scheme{}, fmt.Errorf("failed to parse scheme draft: %w", err)
	}
	return f.FromDraft(draft)
}

// CheckSchema runs the structural JSON Schema check only.
func (f *SchemeFactory) CheckSchema(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return &engine.ValidationError{Issues: []engine.ValidationIssue{{
			Field: "$", Code: "malformed_json", Message: err.Error(),
		}}}
	}
	if err := f.schema.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return &engine.ValidationError{Issues: schemaIssues(verr)}
		}
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

// schemaIssues flattens the jsonschema error tree to its leaves.
func schemaIssues(verr *jsonschema.ValidationError) []engine.ValidationIssue {
	if len(verr.Causes) == 0 {
		field := verr.InstanceLocation
		if field == "" {
			field = "$"
		}
		return []engine.ValidationIssue{{Field: field, Code: "schema", Message: verr.Message}}
	}
	var out []engine.ValidationIssue
	for _, cause := range verr.Causes {
		out = append(out, schemaIssues(cause)...)
	}
	return out
}

// FromDraft maps a parsed draft onto the engine model. Unresolvable product
// references are reported together.
func (f *SchemeFactory) FromDraft(d SchemeDraft) (engine.Scheme, error) {
	var issues []engine.ValidationIssue
	fail := func(field, code, format string, args ...any) {
		issues = append(issues, engine.ValidationIssue{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	start, err := engine.ParseDate(d.PeriodStart)
	if err != nil {
		fail("scheme_period_start", "bad_date", "%v", err)
	}
	end, err := engine.ParseDate(d.PeriodEnd)
	if err != nil {
		fail("scheme_period_end", "bad_date", "%v", err)
	}

	s := engine.Scheme{
		ID:                    engine.SchemeID(d.SchemeID),
		Name:                  d.SchemeName,
		SchemeType:            d.SchemeType,
		Region:                d.ApplicableRegion,
		DealerTypeEligibility: d.DealerTypeEligibility,
		DocumentName:          d.DocumentName,
		Notes:                 d.Notes,
		Validity:              engine.Period{Start: start, End: end},
		State:                 engine.StateDraft,
		Parameters: engine.Parameters{
			SlabBasis:         engine.SlabBasis(d.SlabBasis),
			AggregationPeriod: engine.AggregationPeriod(d.AggregationPeriod),
			Currency:          engine.Currency(d.Currency),
		},
	}
	if s.SchemeType == "" {
		s.SchemeType = engine.DefaultSchemeType
	}
	if s.Parameters.Currency == "" {
		s.Parameters.Currency = f.DefaultCurrency
	}

	for i, pd := range d.Products {
		field := fmt.Sprintf("products[%d]", i)
		id, ok := f.resolve(pd.ProductID, pd.ProductCode, pd.ProductName)
		if !ok {
			fail(field, "unknown_product", "product %q not in catalog", firstNonEmpty(pd.ProductID, pd.ProductCode, pd.ProductName))
			continue
		}
		inc, err := incentiveFromDraft(pd)
		if err != nil {
			fail(field+".payout_type", "unknown_incentive_kind", "%v", err)
			continue
		}
		support := pd.SupportType
		if support == "" {
			support = s.SchemeType
		}
		s.Products = append(s.Products, engine.SchemeProduct{
			ProductID:          id,
			SupportType:        support,
			Incentive:          inc,
			DealerContribution: pd.DealerContribution,
			FreeItem:           pd.FreeItem,
		})
	}

	for i, bd := range d.Bundles {
		offer := engine.BundleOffer{
			ID:          engine.BundleID(bd.BundleID),
			Name:        bd.Name,
			Payout:      bd.Payout,
			BundlePrice: bd.BundlePrice,
			FreeItem:    bd.FreeItem,
		}
		if offer.ID == "" {
			offer.ID = engine.BundleID(fmt.Sprintf("bundle-%d", i+1))
		}
		for j, ref := range bd.Products {
			id, ok := f.resolve(ref)
			if !ok {
				fail(fmt.Sprintf("bundles[%d].products[%d]", i, j), "unknown_product", "product %q not in catalog", ref)
				continue
			}
			offer.Products = append(offer.Products, id)
		}
		s.Bundles = append(s.Bundles, offer)
	}

	s.Rules = append(s.Rules, eligibilityRules(d)...)
	for i, rd := range d.Rules {
		if rd.Condition == nil {
			s.Parameters.Extra = append(s.Parameters.Extra, engine.Parameter{
				Name:        firstNonEmpty(rd.RuleType, "rule"),
				Description: rd.Description,
				Criteria:    ruleValue(rd.Value),
			})
			continue
		}
		pred, err := rd.Condition.Decode()
		if err != nil {
			fail(fmt.Sprintf("scheme_rules[%d].condition", i), "bad_predicate", "%v", err)
			continue
		}
		id := engine.RuleID(rd.RuleID)
		if id == "" {
			id = engine.RuleID(fmt.Sprintf("rule-%d", i+1))
		}
		s.Rules = append(s.Rules, engine.SchemeRule{
			ID:          id,
			Description: firstNonEmpty(rd.Description, rd.RuleType),
			Predicate:   pred,
		})
	}

	for _, p := range d.Parameters {
		s.Parameters.Extra = append(s.Parameters.Extra, engine.Parameter(p))
	}

	if len(issues) > 0 {
		return engine.Scheme{}, &engine.ValidationError{Issues: issues}
	}
	return s, nil
}

func (f *SchemeFactory) resolve(refs ...string) (engine.ProductID, bool) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if f.resolver == nil {
			return engine.ProductID(ref), true
		}
		if id, ok := f.resolver.ResolveProduct(ref); ok {
			return id, true
		}
	}
	return "", false
}

func incentiveFromDraft(pd ProductDraft) (engine.Incentive, error) {
	switch engine.IncentiveKind(strings.ToLower(pd.PayoutType)) {
	case engine.IncentiveFixed:
		return engine.FixedIncentive{Amount: pd.PayoutAmount}, nil
	case engine.IncentivePercentage:
		return engine.PercentageIncentive{Rate: pd.PayoutAmount}, nil
	case engine.IncentiveSlab:
		slabs := make([]engine.PayoutSlab, len(pd.Slabs))
		for i, sd := range pd.Slabs {
			id := engine.SlabID(sd.SlabID)
			if id == "" {
				id = engine.SlabID(fmt.Sprintf("slab-%d", i+1))
			}
			slabs[i] = engine.PayoutSlab{
				ID:                 id,
				MinQty:             sd.MinQty,
				MaxQty:             sd.MaxQty,
				Payout:             sd.Payout,
				Mode:               engine.SlabPayoutMode(sd.Mode),
				DealerContribution: sd.DealerContribution,
			}
		}
		return engine.SlabIncentive{Slabs: slabs}, nil
	case engine.IncentiveExchange:
		if pd.Exchange == nil {
			return nil, fmt.Errorf("exchange payout needs an exchange block")
		}
		ex := engine.ExchangeIncentive{
			Base:        pd.Exchange.Base,
			TradeInRate: pd.Exchange.TradeInRate,
			Cap:         pd.Exchange.Cap,
		}
		for _, t := range pd.Exchange.PriceTiers {
			ex.PriceTiers = append(ex.PriceTiers, engine.PriceTier(t))
		}
		return ex, nil
	}
	return nil, fmt.Errorf("%w: %q", engine.ErrUnknownIncentiveKind, pd.PayoutType)
}

// eligibilityRules turns restrictive region / dealer-type labels into
// membership rules.
func eligibilityRules(d SchemeDraft) []engine.SchemeRule {
	var rules []engine.SchemeRule
	if vals := splitLabels(d.ApplicableRegion, engine.RegionAllIndia); len(vals) > 0 {
		rules = append(rules, engine.SchemeRule{
			ID:          "eligibility-region",
			Description: "Applicable region: " + d.ApplicableRegion,
			Predicate:   engine.Membership{Field: engine.FieldDealerRegion, Values: vals},
		})
	}
	if vals := splitLabels(d.DealerTypeEligibility, engine.DealerTypeAll); len(vals) > 0 {
		rules = append(rules, engine.SchemeRule{
			ID:          "eligibility-dealer-type",
			Description: "Eligible dealer types: " + d.DealerTypeEligibility,
			Predicate:   engine.Membership{Field: engine.FieldDealerType, Values: vals},
		})
	}
	return rules
}

// splitLabels splits "A, B and C" into its labels. Empty or unrestricted
// input yields nil.
func splitLabels(s, unrestricted string) []string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, unrestricted) {
		return nil
	}
	s = strings.ReplaceAll(s, " and ", ",")
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '/' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func ruleValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// EXPORT
// =============================================================================

// ToDraft converts a scheme back to its draft form. Eligibility rules are
// folded back into the region / dealer-type labels.
func (f *SchemeFactory) ToDraft(s engine.Scheme) (SchemeDraft, error) {
	d := SchemeDraft{
		SchemeID:              string(s.ID),
		SchemeName:            s.Name,
		SchemeType:            s.SchemeType,
		PeriodStart:           s.Validity.Start.String(),
		PeriodEnd:             s.Validity.End.String(),
		ApplicableRegion:      s.Region,
		DealerTypeEligibility: s.DealerTypeEligibility,
		DocumentName:          s.DocumentName,
		Notes:                 s.Notes,
		SlabBasis:             string(s.Parameters.SlabBasis),
		AggregationPeriod:     string(s.Parameters.AggregationPeriod),
		Currency:              string(s.Parameters.Currency),
	}

	for _, sp := range s.Products {
		pd := ProductDraft{
			ProductID:          string(sp.ProductID),
			SupportType:        sp.SupportType,
			DealerContribution: sp.DealerContribution,
			FreeItem:           sp.FreeItem,
		}
		switch inc := sp.Incentive.(type) {
		case engine.FixedIncentive:
			pd.PayoutType, pd.PayoutAmount = string(engine.IncentiveFixed), inc.Amount
		case engine.PercentageIncentive:
			pd.PayoutType, pd.PayoutAmount = string(engine.IncentivePercentage), inc.Rate
		case engine.SlabIncentive:
			pd.PayoutType = string(engine.IncentiveSlab)
			for _, sl := range inc.Slabs {
				pd.Slabs = append(pd.Slabs, SlabDraft{
					SlabID: string(sl.ID), MinQty: sl.MinQty, MaxQty: sl.MaxQty,
					Payout: sl.Payout, Mode: string(sl.Mode), DealerContribution: sl.DealerContribution,
				})
			}
		case engine.ExchangeIncentive:
			pd.PayoutType = string(engine.IncentiveExchange)
			pd.Exchange = &ExchangeDraft{Base: inc.Base, TradeInRate: inc.TradeInRate, Cap: inc.Cap}
			for _, t := range inc.PriceTiers {
				pd.Exchange.PriceTiers = append(pd.Exchange.PriceTiers, PriceTierDraft(t))
			}
		default:
			return SchemeDraft{}, fmt.Errorf("%w: %T", engine.ErrUnknownIncentiveKind, sp.Incentive)
		}
		d.Products = append(d.Products, pd)
	}

	for _, b := range s.Bundles {
		bd := BundleDraft{
			BundleID: string(b.ID), Name: b.Name, Payout: b.Payout,
			BundlePrice: b.BundlePrice, FreeItem: b.FreeItem,
		}
		for _, id := range b.Products {
			bd.Products = append(bd.Products, string(id))
		}
		d.Bundles = append(d.Bundles, bd)
	}

	for _, r := range s.Rules {
		if r.ID == "eligibility-region" || r.ID == "eligibility-dealer-type" {
			continue
		}
		cond, err := engine.EncodePredicate(r.Predicate)
		if err != nil {
			return SchemeDraft{}, err
		}
		d.Rules = append(d.Rules, RuleDraft{RuleID: string(r.ID), Description: r.Description, Condition: &cond})
	}

	extra := append([]engine.Parameter(nil), s.Parameters.Extra...)
	sort.SliceStable(extra, func(i, j int) bool { return extra[i].Name < extra[j].Name })
	for _, p := range extra {
		d.Parameters = append(d.Parameters, ParameterDraft(p))
	}
	return d, nil
}
