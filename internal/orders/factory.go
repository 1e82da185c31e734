package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/cart"
	"github.com/angelmondragon/marketplace-backend/internal/products"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

const maxOrderNumberAttempts = 5

var errOrderNumberTaken = errors.New("order number already taken")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type cartGrouper interface {
	GroupBySeller(ctx context.Context, buyerID uuid.UUID) ([]cart.SellerGroup, error)
}

// FactoryConfig carries the checkout pricing knobs.
type FactoryConfig struct {
	ShippingCost   int64
	ServiceFee     int64
	PriceTolerance decimal.Decimal
}

type FactoryDeps struct {
	Tx         txRunner
	Aggregator cartGrouper
	Cart       *cart.Repository
	Products   *products.Repository
	Orders     *Repository
	Numbers    *NumberGenerator
	Logger     *logger.Logger
	Clock      func() time.Time
}

// Factory turns a buyer's cart into one order per seller.
type Factory struct {
	cfg      FactoryConfig
	tx       txRunner
	agg      cartGrouper
	cart     *cart.Repository
	products *products.Repository
	orders   *Repository
	numbers  *NumberGenerator
	logg     *logger.Logger
	clock    func() time.Time
}

func NewFactory(cfg FactoryConfig, deps FactoryDeps) (*Factory, error) {
	switch {
	case deps.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case deps.Aggregator == nil:
		return nil, fmt.Errorf("cart aggregator required")
	case deps.Cart == nil:
		return nil, fmt.Errorf("cart repository required")
	case deps.Products == nil:
		return nil, fmt.Errorf("product repository required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case cfg.ShippingCost < 0 || cfg.ServiceFee < 0:
		return nil, fmt.Errorf("shipping cost and service fee must be non-negative")
	case cfg.PriceTolerance.IsNegative():
		return nil, fmt.Errorf("price tolerance must be non-negative")
	}
	if deps.Numbers == nil {
		deps.Numbers = NewNumberGenerator("", nil)
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Factory{
		cfg:      cfg,
		tx:       deps.Tx,
		agg:      deps.Aggregator,
		cart:     deps.Cart,
		products: deps.Products,
		orders:   deps.Orders,
		numbers:  deps.Numbers,
		logg:     deps.Logger,
		clock:    deps.Clock,
	}, nil
}

// CreateOrdersFromCart converts every seller group into an order, each in
// its own transaction. When a group fails the remaining groups are skipped;
// orders committed before the failure are returned alongside the error.
func (f *Factory) CreateOrdersFromCart(ctx context.Context, buyerID uuid.UUID) ([]models.Order, error) {
	groups, err := f.agg.GroupBySeller(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	ctx = f.logg.WithUserID(ctx, buyerID.String())
	created := make([]models.Order, 0, len(groups))
	for _, group := range groups {
		order, err := f.createForGroup(ctx, buyerID, group)
		if err != nil {
			f.logg.Warn(f.logg.WithFields(ctx, map[string]any{
				"seller_id":      group.SellerID.String(),
				"created_orders": len(created),
				"error":          err.Error(),
			}), "checkout group failed")
			return created, err
		}
		created = append(created, *order)
	}
	return created, nil
}

func (f *Factory) createForGroup(ctx context.Context, buyerID uuid.UUID, group cart.SellerGroup) (*models.Order, error) {
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		order, err := f.tryCreateForGroup(ctx, buyerID, group)
		if err == nil {
			f.logg.Info(f.logg.WithFields(ctx, map[string]any{
				"order_id":     order.ID.String(),
				"order_number": order.OrderNumber,
				"seller_id":    order.SellerID.String(),
				"total":        order.Total,
			}), "order created")
			return order, nil
		}
		if !errors.Is(err, errOrderNumberTaken) && !isOrderNumberViolation(err) {
			return nil, err
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique order number")
}

func (f *Factory) tryCreateForGroup(ctx context.Context, buyerID uuid.UUID, group cart.SellerGroup) (*models.Order, error) {
	var order *models.Order
	err := f.tx.WithTx(ctx, func(tx *gorm.DB) error {
		productRepo := f.products.WithTx(tx)
		orderRepo := f.orders.WithTx(tx)

		// Claim the cart lines first. A concurrent checkout of the same
		// snapshot blocks on these rows and finds them gone.
		deleted, err := f.cart.WithTx(tx).DeleteLines(ctx, buyerID, group.LineIDs())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete consumed cart lines")
		}
		if deleted != int64(len(group.Items)) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cart changed during checkout").
				WithDetails(map[string]any{
					"seller_id": group.SellerID,
					"expected":  len(group.Items),
					"claimed":   deleted,
				})
		}

		ids := make([]uuid.UUID, len(group.Items))
		for i, line := range group.Items {
			ids[i] = line.ProductID
		}
		live, err := productRepo.FindByIDs(ctx, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
		}

		items := make([]models.OrderItem, 0, len(group.Items))
		for _, line := range group.Items {
			product, ok := live[line.ProductID]
			if !ok || product.SellerID != group.SellerID {
				return pkgerrors.New(pkgerrors.CodeNotFound, "product no longer available").
					WithDetails(map[string]any{"product_id": line.ProductID})
			}
			if err := checkStock(line, product); err != nil {
				return err
			}
			if err := f.checkPrice(line, product); err != nil {
				return err
			}
			items = append(items, models.OrderItem{
				ProductID:   product.ID,
				ProductName: product.Name,
				UnitPrice:   product.Price,
				Quantity:    line.Quantity,
				Subtotal:    product.Price * int64(line.Quantity),
			})
		}

		now := f.clock()
		number, err := f.numbers.Next(now)
		if err != nil {
			return err
		}
		taken, err := orderRepo.OrderNumberExists(ctx, number)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order number")
		}
		if taken {
			return errOrderNumberTaken
		}

		totals := ComputeTotals(items, f.cfg.ShippingCost, f.cfg.ServiceFee)
		order = &models.Order{
			OrderNumber:  number,
			BuyerID:      buyerID,
			SellerID:     group.SellerID,
			Status:       enums.OrderStatusPendingPayment,
			Subtotal:     totals.Subtotal,
			ShippingCost: totals.ShippingCost,
			ServiceFee:   totals.ServiceFee,
			Total:        totals.Total,
			CreatedAt:    now,
			UpdatedAt:    now,
			Items:        items,
		}
		for i := range order.Items {
			order.Items[i].CreatedAt = now
		}
		if err := orderRepo.Create(ctx, order); err != nil {
			if isOrderNumberViolation(err) {
				return err
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert order")
		}

		for _, line := range group.Items {
			ok, err := productRepo.DecrementStock(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement stock")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeInsufficientStock, "stock changed during checkout").
					WithDetails(map[string]any{"product_id": line.ProductID, "requested": line.Quantity})
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func checkStock(line models.CartItem, product models.Product) error {
	if line.Quantity <= product.Stock {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
		WithDetails(map[string]any{
			"product_id": product.ID,
			"requested":  line.Quantity,
			"available":  product.Stock,
		})
}

// checkPrice rejects lines whose live price drifted from the cart snapshot by
// more than the configured fraction.
func (f *Factory) checkPrice(line models.CartItem, product models.Product) error {
	if line.UnitPrice == product.Price {
		return nil
	}
	changed := line.UnitPrice == 0
	if !changed {
		seen := decimal.NewFromInt(line.UnitPrice)
		drift := decimal.NewFromInt(product.Price).Sub(seen).Abs().Div(seen)
		changed = drift.GreaterThan(f.cfg.PriceTolerance)
	}
	if !changed {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodePriceChanged, "price changed since it was added to the cart").
		WithDetails(map[string]any{
			"product_id":    product.ID,
			"cart_price":    line.UnitPrice,
			"current_price": product.Price,
		})
}

func isOrderNumberViolation(err error) bool {
	return db.IsUniqueViolation(err, "ux_orders_order_number") || db.IsUniqueViolation(err, "orders.order_number")
}
