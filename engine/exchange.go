package engine

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EXCHANGE OFFERS - Trade an old device in against a new product
// =============================================================================

// PriceTier adds Bonus per unit when the new product's unit price is within
// [MinPrice, MaxPrice). A nil MaxPrice is unbounded.
type PriceTier struct {
	MinPrice decimal.Decimal  `json:"min_price"`
	MaxPrice *decimal.Decimal `json:"max_price,omitempty"`
	Bonus    decimal.Decimal  `json:"bonus"`
}

func (t PriceTier) contains(price decimal.Decimal) bool {
	if price.LessThan(t.MinPrice) {
		return false
	}
	return t.MaxPrice == nil || price.LessThan(*t.MaxPrice)
}

// ExchangeResolution is the exchange resolver's output for one line.
type ExchangeResolution struct {
	Applied      bool            `json:"applied"`
	Amount       decimal.Decimal `json:"amount"`
	Base         decimal.Decimal `json:"base"`
	TierBonus    decimal.Decimal `json:"tier_bonus"`
	TradeInShare decimal.Decimal `json:"trade_in_share"`
	Capped       bool            `json:"capped,omitempty"`
	Diagnostic   string          `json:"diagnostic,omitempty"`
}

// ResolveExchange prices one exchange line. A scheme product without an
// exchange incentive yields zero with a diagnostic rather than an error.
func ResolveExchange(sp SchemeProduct, line TransactionLine, tradeIn *TradeIn, product Product) ExchangeResolution {
	inc, ok := sp.Incentive.(ExchangeIncentive)
	if !ok {
		return ExchangeResolution{
			Amount:     decimal.Zero,
			Diagnostic: fmt.Sprintf("no exchange incentive defined for product %s", sp.ProductID),
		}
	}

	price := line.UnitPrice
	if price.IsZero() {
		price = product.DealerPrice
	}
	qty := decimal.NewFromInt(int64(line.Quantity))

	bonus := decimal.Zero
	for _, tier := range sortedTiers(inc.PriceTiers) {
		if tier.contains(price) {
			bonus = tier.Bonus
		}
	}

	share := decimal.Zero
	if tradeIn != nil {
		share = Percent(tradeIn.Value, inc.TradeInRate)
	}

	amount := inc.Base.Add(bonus).Mul(qty).Add(share)
	res := ExchangeResolution{
		Applied:      true,
		Base:         RoundMoney(inc.Base.Mul(qty)),
		TierBonus:    RoundMoney(bonus.Mul(qty)),
		TradeInShare: RoundMoney(share),
	}
	if inc.Cap != nil && amount.GreaterThan(*inc.Cap) {
		amount = *inc.Cap
		res.Capped = true
	}
	res.Amount = RoundMoney(amount)
	return res
}

func sortedTiers(tiers []PriceTier) []PriceTier {
	out := append([]PriceTier(nil), tiers...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].MinPrice.LessThan(out[j].MinPrice) })
	return out
}

func validateExchange(field string, inc ExchangeIncentive) issues {
	var is issues
	if inc.Base.IsNegative() {
		is.add(field+".base", "negative", "exchange base must be >= 0")
	}
	if inc.TradeInRate.IsNegative() || inc.TradeInRate.GreaterThan(hundred) {
		is.add(field+".trade_in_rate", "rate_out_of_range", "trade-in rate must be within 0..100")
	}
	if inc.Cap != nil && inc.Cap.IsNegative() {
		is.add(field+".cap", "negative", "cap must be >= 0")
	}
	tiers := sortedTiers(inc.PriceTiers)
	for i, t := range tiers {
		f := fmt.Sprintf("%s.price_tiers[%d]", field, i)
		if t.MinPrice.IsNegative() {
			is.add(f+".min_price", "negative", "tier min price must be >= 0")
		}
		if t.MaxPrice != nil && !t.MaxPrice.GreaterThan(t.MinPrice) {
			is.add(f+".max_price", "empty_tier", "tier max price must exceed min price")
		}
		if t.Bonus.IsNegative() {
			is.add(f+".bonus", "negative", "tier bonus must be >= 0")
		}
		if i > 0 {
			prev := tiers[i-1]
			if prev.MaxPrice == nil || prev.MaxPrice.GreaterThan(t.MinPrice) {
				is.add(f, "overlapping_tiers", "price tier starting at %s overlaps the previous tier", t.MinPrice)
			}
		}
	}
	return is
}
