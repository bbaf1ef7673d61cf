package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// CatalogService guards catalog writes. Products referenced by an active
// scheme are immutable because active snapshots price against them.
type CatalogService struct {
	Repo   Repository
	Logger *zap.Logger
}

func NewCatalogService(repo Repository, logger *zap.Logger) *CatalogService {
	return &CatalogService{Repo: repo, Logger: logger}
}

func (s *CatalogService) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// SaveProduct creates a product, or updates one no active scheme references.
func (s *CatalogService) SaveProduct(ctx context.Context, p Product) error {
	var is issues
	if p.ID == "" {
		is.add("id", "required", "product id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		is.add("name", "required", "product name is required")
	}
	if p.DealerPrice.IsNegative() {
		is.add("dealer_price", "negative", "dealer price must be >= 0")
	}
	if p.MRP.IsNegative() {
		is.add("mrp", "negative", "mrp must be >= 0")
	}
	if err := is.err(); err != nil {
		return err
	}

	err := s.Repo.WithTx(ctx, func(repo Repository) error {
		if _, err := repo.GetProduct(ctx, p.ID); err == nil {
			active, err := repo.ListSchemes(ctx, SchemeFilter{States: []State{StateActive}})
			if err != nil {
				return err
			}
			for _, sch := range active {
				if _, ok := sch.Product(p.ID); ok {
					return fmt.Errorf("%w: %s used by %s", ErrImmutableProduct, p.ID, sch.Ref())
				}
			}
		} else if !IsNotFound(err) {
			return err
		}
		return repo.SaveProduct(ctx, p)
	})
	if err != nil {
		return err
	}
	s.log().Debug("product saved", zap.String("product_id", string(p.ID)))
	return nil
}

func (s *CatalogService) SaveDealer(ctx context.Context, d Dealer) error {
	var is issues
	if d.ID == "" {
		is.add("id", "required", "dealer id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		is.add("name", "required", "dealer name is required")
	}
	switch d.Status {
	case DealerActive, DealerInactive:
	case "":
		d.Status = DealerActive
	default:
		is.add("status", "unknown_status", "unknown dealer status %q", d.Status)
	}
	if err := is.err(); err != nil {
		return err
	}
	return s.Repo.SaveDealer(ctx, d)
}

func (s *CatalogService) SaveTarget(ctx context.Context, t DealerTarget) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, err := s.Repo.GetDealer(ctx, t.DealerID); err != nil {
		return err
	}
	return s.Repo.SaveTarget(ctx, t)
}

func (s *CatalogService) Products(ctx context.Context) ([]Product, error) {
	return s.Repo.ListProducts(ctx)
}

func (s *CatalogService) Dealers(ctx context.Context) ([]Dealer, error) {
	return s.Repo.ListDealers(ctx)
}

func (s *CatalogService) Targets(ctx context.Context, dealer DealerID) ([]DealerTarget, error) {
	return s.Repo.DealerTargets(ctx, dealer)
}
