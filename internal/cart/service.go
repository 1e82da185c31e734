package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

const maxLineQuantity = 999

type productFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

type lineStore interface {
	lineLister
	Upsert(ctx context.Context, item *models.CartItem) error
	Delete(ctx context.Context, buyerID, productID uuid.UUID) (bool, error)
}

// View is the buyer-facing cart projection.
type View struct {
	Groups []SellerGroup `json:"groups"`
	Total  int64         `json:"total"`
}

// Service owns buyer cart edits. Lines snapshot the price the buyer saw so
// checkout can detect drift.
type Service struct {
	lines    lineStore
	products productFinder
}

func NewService(lines lineStore, products productFinder) (*Service, error) {
	if lines == nil {
		return nil, errors.New("cart repository required")
	}
	if products == nil {
		return nil, errors.New("product finder required")
	}
	return &Service{lines: lines, products: products}, nil
}

func (s *Service) UpsertItem(ctx context.Context, buyerID, productID uuid.UUID, quantity int) (*models.CartItem, error) {
	if buyerID == uuid.Nil || productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer and product ids required")
	}
	if quantity <= 0 || quantity > maxLineQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity out of range").
			WithDetails(map[string]any{"min": 1, "max": maxLineQuantity})
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if product.SellerID == buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot buy your own product")
	}

	item := &models.CartItem{
		BuyerID:   buyerID,
		ProductID: product.ID,
		SellerID:  product.SellerID,
		Quantity:  quantity,
		UnitPrice: product.Price,
	}
	if err := s.lines.Upsert(ctx, item); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart line")
	}
	return item, nil
}

func (s *Service) RemoveItem(ctx context.Context, buyerID, productID uuid.UUID) error {
	removed, err := s.lines.Delete(ctx, buyerID, productID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart line")
	}
	if !removed {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart line not found")
	}
	return nil
}

// View returns the cart grouped by seller. An empty cart is a valid view.
func (s *Service) View(ctx context.Context, buyerID uuid.UUID) (*View, error) {
	lines, err := s.lines.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart lines")
	}
	view := &View{Groups: GroupLines(lines)}
	if view.Groups == nil {
		view.Groups = []SellerGroup{}
	}
	for _, g := range view.Groups {
		view.Total += g.Subtotal
	}
	return view, nil
}
