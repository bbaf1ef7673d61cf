package presets

import (
	"encoding/json"
)

// =============================================================================
// SCHEME DRAFTS
// =============================================================================

func draft(id, name, schemeType, start, end string, products []map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"scheme_id":               id,
		"scheme_name":             name,
		"scheme_type":             schemeType,
		"scheme_period_start":     start,
		"scheme_period_end":       end,
		"applicable_region":       "All India",
		"dealer_type_eligibility": "All Dealers",
		"products":                products,
	}
}

func render(d map[string]interface{}) string {
	b, _ := json.MarshalIndent(d, "", "  ")
	return string(b)
}

// FlatSupportJSON pays amount per unit on each of codes.
func FlatSupportJSON(id, name, start, end string, amount float64, codes ...string) string {
	var products []map[string]interface{}
	for _, code := range codes {
		products = append(products, map[string]interface{}{
			"product_code":  code,
			"payout_type":   "fixed",
			"payout_amount": amount,
		})
	}
	return render(draft(id, name, "Special Support", start, end, products))
}

// PercentageSupportJSON pays rate percent of the sale value on each of codes.
func PercentageSupportJSON(id, name, start, end string, rate float64, codes ...string) string {
	var products []map[string]interface{}
	for _, code := range codes {
		products = append(products, map[string]interface{}{
			"product_code":  code,
			"payout_type":   "percentage",
			"payout_amount": rate,
			"support_type":  "Cashback",
		})
	}
	return render(draft(id, name, "Special Support", start, end, products))
}

// VolumeSlabJSON pays S23 Ultra units by volume band: 500 below 10 units,
// 750 from 10, 1000 from 25. With cumulative set, the band is chosen on the
// dealer's month-to-date quantity.
func VolumeSlabJSON(id, name, start, end string, cumulative bool) string {
	d := draft(id, name, "Volume Support", start, end, []map[string]interface{}{{
		"product_code": GalaxyS23Ultra,
		"payout_type":  "slab",
		"slabs": []map[string]interface{}{
			{"slab_id": "bronze", "min_qty": 0, "max_qty": 10, "payout": 500},
			{"slab_id": "silver", "min_qty": 10, "max_qty": 25, "payout": 750},
			{"slab_id": "gold", "min_qty": 25, "payout": 1000, "dealer_contribution": 100},
		},
	}})
	if cumulative {
		d["slab_basis"] = "cumulative_period"
		d["aggregation_period"] = "calendar_month"
	}
	return render(d)
}

// EcosystemBundleJSON pays 2500 per complete S23 Ultra + Watch6 + Buds3 Pro
// set. Unbundled units earn their own fixed support.
func EcosystemBundleJSON(id, name, start, end string) string {
	d := draft(id, name, "Bundle Offer", start, end, []map[string]interface{}{
		{"product_code": GalaxyS23Ultra, "payout_type": "fixed", "payout_amount": 1000},
		{"product_code": GalaxyWatch6, "payout_type": "fixed", "payout_amount": 400},
		{"product_code": GalaxyBuds3Pro, "payout_type": "fixed", "payout_amount": 200, "free_item_description": "Galaxy Buds3 case"},
	})
	d["bundles"] = []map[string]interface{}{{
		"bundle_id":             "galaxy-ecosystem",
		"name":                  "Galaxy Ecosystem",
		"products":              []string{GalaxyS23Ultra, GalaxyWatch6, GalaxyBuds3Pro},
		"payout":                2500,
		"bundle_price":          171997,
		"free_item_description": "Wireless charger",
	}}
	return render(d)
}

// UpgradeExchangeJSON is a trade-in program: 2000 base per unit, 1000 more
// for devices priced 100000 and above, plus 10% of the trade-in value,
// capped at 8000 per line.
func UpgradeExchangeJSON(id, name, start, end string, codes ...string) string {
	var products []map[string]interface{}
	for _, code := range codes {
		products = append(products, map[string]interface{}{
			"product_code": code,
			"payout_type":  "exchange",
			"support_type": "Exchange",
			"exchange": map[string]interface{}{
				"base":          2000,
				"trade_in_rate": 10,
				"cap":           8000,
				"price_tiers": []map[string]interface{}{
					{"min_price": 100000, "bonus": 1000},
				},
			},
		})
	}
	return render(draft(id, name, "Upgrade Program", start, end, products))
}

// RegionalChainJSON is West-region support for chains only, paid on orders
// of at least 100000.
func RegionalChainJSON(id, name, start, end string) string {
	d := draft(id, name, "Special Support", start, end, []map[string]interface{}{
		{"product_code": GalaxyA54, "payout_type": "fixed", "payout_amount": 300},
		{"product_code": GalaxyA34, "payout_type": "fixed", "payout_amount": 250},
	})
	d["applicable_region"] = "West"
	d["dealer_type_eligibility"] = "National Chain, Regional Chain"
	d["scheme_rules"] = []map[string]interface{}{
		{
			"rule_id":          "min-order",
			"rule_type":        "Order Value",
			"rule_description": "Minimum order value of 100000",
			"condition": map[string]interface{}{
				"kind": "compare", "field": "order_value", "op": "gte", "value": "100000",
			},
		},
		{
			"rule_type":        "Documentation",
			"rule_description": "Claims need IMEI-level invoices",
			"rule_value":       "IMEI",
		},
	}
	return render(d)
}

// Draft is a named preset for listings.
type Draft struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	JSON        string `json:"-"`
}

// Drafts returns one draft of every kind for the period [start, end].
func Drafts(start, end string) []Draft {
	return []Draft{
		{"flat", "Fixed 500 per S23 unit", FlatSupportJSON("s23-flat", "S23 Special Support", start, end, 500, GalaxyS23, GalaxyS23Plus)},
		{"percentage", "2% of Tab S9 sale value", PercentageSupportJSON("tab-cashback", "Tab S9 Cashback", start, end, 2, GalaxyTabS9)},
		{"slab", "S23 Ultra monthly volume slabs", VolumeSlabJSON("s23u-volume", "S23 Ultra Volume", start, end, true)},
		{"bundle", "Galaxy ecosystem bundle", EcosystemBundleJSON("ecosystem", "Galaxy Ecosystem Bundle", start, end)},
		{"exchange", "Upgrade exchange on S23 Ultra and S23+", UpgradeExchangeJSON("upgrade", "Galaxy Upgrade Program", start, end, GalaxyS23Ultra, GalaxyS23Plus)},
		{"regional", "West-region chains, minimum order", RegionalChainJSON("west-chains", "West Chain Support", start, end)},
	}
}
