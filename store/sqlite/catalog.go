package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/incentive-engine/engine"
)

// =============================================================================
// CATALOG (engine.CatalogStore)
// =============================================================================

const productColumns = "id, name, code, category, subcategory, attributes_json, dealer_price, mrp, active"

// SaveProduct upserts a product. Immutability is enforced by CatalogService.
func (o ops) SaveProduct(ctx context.Context, p engine.Product) error {
	var attrs sql.NullString
	if len(p.Attributes) > 0 {
		raw, err := json.Marshal(p.Attributes)
		if err != nil {
			return err
		}
		attrs = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := o.q.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, code = excluded.code, category = excluded.category,
			subcategory = excluded.subcategory, attributes_json = excluded.attributes_json,
			dealer_price = excluded.dealer_price, mrp = excluded.mrp, active = excluded.active`,
		p.ID, p.Name, nullString(p.Code), nullString(p.Category), nullString(p.Subcategory),
		attrs, p.DealerPrice.String(), p.MRP.String(), p.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save product %s: %w", p.ID, err)
	}
	return nil
}

func (o ops) GetProduct(ctx context.Context, id engine.ProductID) (*engine.Product, error) {
	row := o.q.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = ?", id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", engine.ErrProductNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (o ops) ListProducts(ctx context.Context) ([]engine.Product, error) {
	rows, err := o.q.QueryContext(ctx, "SELECT "+productColumns+" FROM products ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var out []engine.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProduct(row rowScanner) (engine.Product, error) {
	var (
		p                              engine.Product
		code, category, sub, attrsJSON sql.NullString
	)
	// decimal.Decimal implements sql.Scanner over TEXT columns.
	if err := row.Scan(&p.ID, &p.Name, &code, &category, &sub, &attrsJSON, &p.DealerPrice, &p.MRP, &p.Active); err != nil {
		return engine.Product{}, err
	}
	p.Code, p.Category, p.Subcategory = code.String, category.String, sub.String
	if attrsJSON.Valid {
		if err := json.Unmarshal([]byte(attrsJSON.String), &p.Attributes); err != nil {
			return engine.Product{}, fmt.Errorf("failed to decode attributes of %s: %w", p.ID, err)
		}
	}
	return p, nil
}

const dealerColumns = "id, name, code, dealer_type, tier, region, state, city, status"

func (o ops) SaveDealer(ctx context.Context, d engine.Dealer) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO dealers (`+dealerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, code = excluded.code, dealer_type = excluded.dealer_type,
			tier = excluded.tier, region = excluded.region, state = excluded.state,
			city = excluded.city, status = excluded.status`,
		d.ID, d.Name, nullString(d.Code), nullString(d.Type), nullString(d.Tier),
		nullString(d.Region), nullString(d.State), nullString(d.City), d.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to save dealer %s: %w", d.ID, err)
	}
	return nil
}

func (o ops) GetDealer(ctx context.Context, id engine.DealerID) (*engine.Dealer, error) {
	row := o.q.QueryRowContext(ctx, "SELECT "+dealerColumns+" FROM dealers WHERE id = ?", id)
	d, err := scanDealer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", engine.ErrDealerNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (o ops) ListDealers(ctx context.Context) ([]engine.Dealer, error) {
	rows, err := o.q.QueryContext(ctx, "SELECT "+dealerColumns+" FROM dealers ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query dealers: %w", err)
	}
	defer rows.Close()

	var out []engine.Dealer
	for rows.Next() {
		d, err := scanDealer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDealer(row rowScanner) (engine.Dealer, error) {
	var (
		d                                    engine.Dealer
		code, typ, tier, region, state, city sql.NullString
	)
	if err := row.Scan(&d.ID, &d.Name, &code, &typ, &tier, &region, &state, &city, &d.Status); err != nil {
		return engine.Dealer{}, err
	}
	d.Code, d.Type, d.Tier = code.String, typ.String, tier.String
	d.Region, d.State, d.City = region.String, state.String, city.String
	return d, nil
}

// SaveTarget upserts a dealer target. The dealer must exist.
func (o ops) SaveTarget(ctx context.Context, t engine.DealerTarget) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO dealer_targets
		(id, dealer_id, scheme_id, period_start, period_end, target_quantity, target_value)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			dealer_id = excluded.dealer_id, scheme_id = excluded.scheme_id,
			period_start = excluded.period_start, period_end = excluded.period_end,
			target_quantity = excluded.target_quantity, target_value = excluded.target_value`,
		t.ID, t.DealerID, t.SchemeID, t.Period.Start.String(), t.Period.End.String(),
		t.TargetQuantity, t.TargetValue.String(),
	)
	if isForeignKeyError(err) {
		return fmt.Errorf("%w: %s", engine.ErrDealerNotFound, t.DealerID)
	}
	if err != nil {
		return fmt.Errorf("failed to save target %s: %w", t.ID, err)
	}
	return nil
}

func (o ops) DealerTargets(ctx context.Context, dealer engine.DealerID) ([]engine.DealerTarget, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT id, dealer_id, scheme_id, period_start, period_end, target_quantity, target_value
		FROM dealer_targets WHERE dealer_id = ? ORDER BY id`,
		dealer,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}
	defer rows.Close()

	var out []engine.DealerTarget
	for rows.Next() {
		var (
			t          engine.DealerTarget
			start, end string
			value      decimal.Decimal
		)
		if err := rows.Scan(&t.ID, &t.DealerID, &t.SchemeID, &start, &end, &t.TargetQuantity, &value); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		if t.Period.Start, err = parseDate(start); err != nil {
			return nil, err
		}
		if t.Period.End, err = parseDate(end); err != nil {
			return nil, err
		}
		t.TargetValue = value
		out = append(out, t)
	}
	return out, rows.Err()
}
