package engine

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// CATALOG - Products, dealers, dealer targets
// =============================================================================

// Product is a catalog item. A product referenced by an active scheme is
// immutable; see CatalogService.SaveProduct.
type Product struct {
	ID          ProductID         `json:"id"`
	Name        string            `json:"name"`
	Code        string            `json:"code,omitempty"`
	Category    string            `json:"category"`
	Subcategory string            `json:"subcategory,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"` // ram, storage, connectivity, color, display, processor
	DealerPrice decimal.Decimal   `json:"dealer_price"`         // DP
	MRP         decimal.Decimal   `json:"mrp"`
	Active      bool              `json:"active"`
}

// Margin is MRP minus dealer price for one unit.
func (p Product) Margin() decimal.Decimal {
	return p.MRP.Sub(p.DealerPrice)
}

type DealerStatus string

const (
	DealerActive   DealerStatus = "active"
	DealerInactive DealerStatus = "inactive"
)

type Dealer struct {
	ID     DealerID     `json:"id"`
	Name   string       `json:"name"`
	Code   string       `json:"code,omitempty"`
	Type   string       `json:"type,omitempty"` // National Chain, Regional Chain, MBO
	Tier   string       `json:"tier,omitempty"`
	Region string       `json:"region,omitempty"`
	State  string       `json:"state,omitempty"`
	City   string       `json:"city,omitempty"`
	Status DealerStatus `json:"status"`
}

// DealerTarget is a quantity/value goal for one dealer under one scheme over
// a period. Rules read achievement through the target_* context fields.
type DealerTarget struct {
	ID             TargetID        `json:"id"`
	DealerID       DealerID        `json:"dealer_id"`
	SchemeID       SchemeID        `json:"scheme_id"`
	Period         Period          `json:"period"`
	TargetQuantity int             `json:"target_quantity"`
	TargetValue    decimal.Decimal `json:"target_value"`
}

// Validate checks a target's static shape.
func (t DealerTarget) Validate() error {
	var is issues
	if t.DealerID == "" {
		is.add("dealer_id", "required", "dealer id is required")
	}
	if t.SchemeID == "" {
		is.add("scheme_id", "required", "scheme id is required")
	}
	if !t.Period.Valid() {
		is.add("period", "invalid_period", "period start must not be after end")
	}
	if t.TargetQuantity < 0 {
		is.add("target_quantity", "negative", "target quantity must be >= 0")
	}
	if t.TargetValue.IsNegative() {
		is.add("target_value", "negative", "target value must be >= 0")
	}
	if t.TargetQuantity == 0 && t.TargetValue.IsZero() {
		is.add("target", "empty_target", "either target quantity or target value is required")
	}
	return is.err()
}

// selectTarget picks the target for dealer and scheme covering date. When
// several overlap, the one with the latest start wins, then the lowest id.
func selectTarget(targets []DealerTarget, dealer DealerID, scheme SchemeID, date Date) *DealerTarget {
	var best *DealerTarget
	for i := range targets {
		t := targets[i]
		if t.DealerID != dealer || t.SchemeID != scheme || !t.Period.Contains(date) {
			continue
		}
		if best == nil || t.Period.Start.After(best.Period.Start) ||
			(t.Period.Start.Equal(best.Period.Start) && t.ID < best.ID) {
			best = &t
		}
	}
	return best
}
