package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

// SellerGroup is the slice of a cart that becomes one order.
type SellerGroup struct {
	SellerID uuid.UUID         `json:"sellerId"`
	Items    []models.CartItem `json:"items"`
	Subtotal int64             `json:"subtotal"`
}

// LineIDs returns the ids of the group's cart lines.
func (g SellerGroup) LineIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(g.Items))
	for i, item := range g.Items {
		ids[i] = item.ID
	}
	return ids
}

type lineLister interface {
	ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.CartItem, error)
}

// Aggregator groups a buyer's cart by seller. It never writes.
type Aggregator struct {
	lines lineLister
}

func NewAggregator(lines lineLister) (*Aggregator, error) {
	if lines == nil {
		return nil, errors.New("cart line lister required")
	}
	return &Aggregator{lines: lines}, nil
}

// GroupBySeller returns one group per seller, ordered by the seller's first
// line. An empty cart fails with EMPTY_CART.
func (a *Aggregator) GroupBySeller(ctx context.Context, buyerID uuid.UUID) ([]SellerGroup, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	lines, err := a.lines.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart lines")
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeEmptyCart, "cart has no lines")
	}
	return GroupLines(lines), nil
}

// GroupLines partitions lines by seller, keeping first-seen order.
func GroupLines(lines []models.CartItem) []SellerGroup {
	index := map[uuid.UUID]int{}
	var groups []SellerGroup
	for _, line := range lines {
		i, ok := index[line.SellerID]
		if !ok {
			i = len(groups)
			index[line.SellerID] = i
			groups = append(groups, SellerGroup{SellerID: line.SellerID})
		}
		groups[i].Items = append(groups[i].Items, line)
		groups[i].Subtotal += line.LineTotal()
	}
	return groups
}
