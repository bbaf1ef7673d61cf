/*
Package presets provides sample catalog data and ready-made scheme drafts.

PURPOSE:
  Demo scenarios, the CLI and tests need a realistic catalog (Samsung
  devices sold through Indian retail chains) and scheme drafts covering
  every incentive kind. Drafts are JSON strings in the shape the factory
  package ingests, built directly here so presets never import factory.

AVAILABLE DRAFTS:
  FlatSupportJSON:       Fixed amount per unit on a product range
  PercentageSupportJSON: Percent of the sale value
  VolumeSlabJSON:        Quantity slabs, per transaction or cumulative
  EcosystemBundleJSON:   Phone + watch + buds bundle payout
  UpgradeExchangeJSON:   Trade-in upgrade program with price tiers
  RegionalChainJSON:     Region / dealer-type restricted support with an
                         order value rule

USAGE:
  for _, p := range presets.SampleProducts() {
      catalog.SaveProduct(ctx, p)
  }
  draft := presets.VolumeSlabJSON("s23-volume", "S23 Volume", "2025-03-01", "2025-03-31", true)
  scheme, err := schemeFactory.Ingest(ctx, workflow, []byte(draft))
*/
package presets

import (
	"github.com/shopspring/decimal"

	"github.com/warp/incentive-engine/engine"
)

// Product codes used by the drafts.
const (
	GalaxyS23Ultra = "SM-S918B"
	GalaxyS23Plus  = "SM-S916B"
	GalaxyS23      = "SM-S911B"
	GalaxyA54      = "SM-A546B"
	GalaxyA34      = "SM-A346B"
	GalaxyTabS9    = "SM-X716B"
	GalaxyWatch6   = "SM-R930"
	GalaxyBuds3Pro = "SM-R630"
	GalaxyBuds3    = "SM-R530"
)

type productRow struct {
	name, code, category, subcategory string
	ram, storage, connectivity        string
	dp, mrp                           int64
}

var productRows = []productRow{
	{"Samsung Galaxy S23 Ultra", GalaxyS23Ultra, "Mobile", "S Series", "12GB", "512GB", "5G", 124999, 149999},
	{"Samsung Galaxy S23+", GalaxyS23Plus, "Mobile", "S Series", "8GB", "256GB", "5G", 94999, 109999},
	{"Samsung Galaxy S23", GalaxyS23, "Mobile", "S Series", "8GB", "128GB", "5G", 74999, 89999},
	{"Samsung Galaxy A54", GalaxyA54, "Mobile", "A Series", "8GB", "128GB", "5G", 38999, 44999},
	{"Samsung Galaxy A34", GalaxyA34, "Mobile", "A Series", "8GB", "128GB", "5G", 30999, 36999},
	{"Samsung Galaxy Tab S9", GalaxyTabS9, "Tablet", "Tab S Series", "8GB", "128GB", "5G", 74999, 89999},
	{"Samsung Galaxy Watch6", GalaxyWatch6, "Wearable", "Watch Series", "2GB", "16GB", "Bluetooth/LTE", 29999, 36999},
	{"Samsung Galaxy Buds3 Pro", GalaxyBuds3Pro, "Audio", "Buds Series", "", "", "Bluetooth", 16999, 19999},
	{"Samsung Galaxy Buds3", GalaxyBuds3, "Audio", "Buds Series", "", "", "Bluetooth", 12999, 14999},
}

// SampleProducts returns the demo catalog. Product ids are the model codes.
func SampleProducts() []engine.Product {
	out := make([]engine.Product, 0, len(productRows))
	for _, r := range productRows {
		attrs := map[string]string{"connectivity": r.connectivity}
		if r.ram != "" {
			attrs["ram"] = r.ram
		}
		if r.storage != "" {
			attrs["storage"] = r.storage
		}
		out = append(out, engine.Product{
			ID:          engine.ProductID(r.code),
			Name:        r.name,
			Code:        r.code,
			Category:    r.category,
			Subcategory: r.subcategory,
			Attributes:  attrs,
			DealerPrice: decimal.NewFromInt(r.dp),
			MRP:         decimal.NewFromInt(r.mrp),
			Active:      true,
		})
	}
	return out
}

// SampleDealers returns the demo dealer network. Dealer ids are the codes.
func SampleDealers() []engine.Dealer {
	rows := []struct{ name, code, typ, tier, region, state, city string }{
		{"Reliance Digital", "RD001", "National Chain", "Platinum", "North", "Delhi", "New Delhi"},
		{"Croma", "CR001", "National Chain", "Platinum", "West", "Maharashtra", "Mumbai"},
		{"Vijay Sales", "VS001", "Regional Chain", "Gold", "West", "Maharashtra", "Mumbai"},
		{"Sangeetha Mobiles", "SM001", "Regional Chain", "Gold", "South", "Karnataka", "Bangalore"},
		{"The Mobile Store", "TMS001", "MBO", "Silver", "South", "Tamil Nadu", "Chennai"},
		{"Great Eastern", "GE001", "Regional Chain", "Silver", "East", "West Bengal", "Kolkata"},
	}
	out := make([]engine.Dealer, 0, len(rows))
	for _, r := range rows {
		out = append(out, engine.Dealer{
			ID:     engine.DealerID(r.code),
			Name:   r.name,
			Code:   r.code,
			Type:   r.typ,
			Tier:   r.tier,
			Region: r.region,
			State:  r.state,
			City:   r.city,
			Status: engine.DealerActive,
		})
	}
	return out
}
