package orders

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/internal/cart"
	"github.com/angelmondragon/marketplace-backend/internal/products"
	"github.com/angelmondragon/marketplace-backend/internal/testdb"
	"github.com/angelmondragon/marketplace-backend/pkg/db"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

const (
	testShipping = int64(15000)
	testFee      = int64(2500)
)

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	conn    *gorm.DB
	cart    *cart.Repository
	orders  *Repository
	factory *Factory
	buyer   uuid.UUID
}

func newFixture(t *testing.T, cfg FactoryConfig, numbers *NumberGenerator) *fixture {
	t.Helper()
	conn := testdb.Open(t)
	cartRepo := cart.NewRepository(conn)
	agg, err := cart.NewAggregator(cartRepo)
	require.NoError(t, err)
	orderRepo := NewRepository(conn)

	factory, err := NewFactory(cfg, FactoryDeps{
		Tx:         db.Wrap(conn),
		Aggregator: agg,
		Cart:       cartRepo,
		Products:   products.NewRepository(conn),
		Orders:     orderRepo,
		Numbers:    numbers,
		Clock:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return &fixture{conn: conn, cart: cartRepo, orders: orderRepo, factory: factory, buyer: uuid.New()}
}

func defaultConfig() FactoryConfig {
	return FactoryConfig{ShippingCost: testShipping, ServiceFee: testFee, PriceTolerance: decimal.Zero}
}

func (f *fixture) product(t *testing.T, seller uuid.UUID, price int64, stock int) models.Product {
	t.Helper()
	p := models.Product{ID: uuid.New(), SellerID: seller, Name: "product " + uuid.NewString()[:8], Price: price, Stock: stock}
	require.NoError(t, f.conn.Create(&p).Error)
	return p
}

func (f *fixture) addLine(t *testing.T, p models.Product, qty int, seenPrice int64, at time.Time) {
	t.Helper()
	line := models.CartItem{
		ID:        uuid.New(),
		BuyerID:   f.buyer,
		ProductID: p.ID,
		SellerID:  p.SellerID,
		Quantity:  qty,
		UnitPrice: seenPrice,
		CreatedAt: at,
		UpdatedAt: at,
	}
	require.NoError(t, f.conn.Create(&line).Error)
}

func (f *fixture) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var p models.Product
	require.NoError(t, f.conn.Where("id = ?", id).First(&p).Error)
	return p.Stock
}

func TestCreateOrdersFromCartOneOrderPerSeller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultConfig(), nil)

	sellerA, sellerB := uuid.New(), uuid.New()
	a1 := f.product(t, sellerA, 60000, 3)
	a2 := f.product(t, sellerA, 40000, 3)
	b1 := f.product(t, sellerB, 50000, 5)
	f.addLine(t, a1, 1, 60000, fixedNow.Add(-3*time.Minute))
	f.addLine(t, b1, 2, 50000, fixedNow.Add(-2*time.Minute))
	f.addLine(t, a2, 1, 40000, fixedNow.Add(-time.Minute))

	created, err := f.factory.CreateOrdersFromCart(ctx, f.buyer)
	require.NoError(t, err)
	require.Len(t, created, 2)

	orderA, orderB := created[0], created[1]
	assert.Equal(t, sellerA, orderA.SellerID)
	assert.Equal(t, int64(100000), orderA.Subtotal)
	assert.Equal(t, int64(100000)+testShipping+testFee, orderA.Total)
	assert.Equal(t, sellerB, orderB.SellerID)
	assert.Equal(t, int64(100000)+testShipping+testFee, orderB.Total)
	assert.NotEqual(t, orderA.OrderNumber, orderB.OrderNumber)

	for _, o := range created {
		stored, err := f.orders.FindByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, enums.OrderStatusPendingPayment, stored.Status)
		assert.Equal(t, stored.ExpectedTotal(), stored.Total)
		var itemsSum int64
		for _, it := range stored.Items {
			itemsSum += it.Subtotal
		}
		assert.Equal(t, stored.Subtotal, itemsSum)
	}

	assert.Equal(t, 2, f.stock(t, a1.ID))
	assert.Equal(t, 2, f.stock(t, a2.ID))
	assert.Equal(t, 3, f.stock(t, b1.ID))

	left, err := f.cart.ListByBuyer(ctx, f.buyer)
	require.NoError(t, err)
	assert.Empty(t, left, "cart is consumed")
}

// snapshotAggregator replays one cart read, as two overlapping checkouts
// would both see it before either commits.
type snapshotAggregator struct {
	groups []cart.SellerGroup
}

func (s snapshotAggregator) GroupBySeller(context.Context, uuid.UUID) ([]cart.SellerGroup, error) {
	return s.groups, nil
}

func TestCreateOrdersFromCartConsumesLinesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultConfig(), nil)

	p := f.product(t, uuid.New(), 30000, 10)
	f.addLine(t, p, 1, 30000, fixedNow)

	agg, err := cart.NewAggregator(f.cart)
	require.NoError(t, err)
	groups, err := agg.GroupBySeller(ctx, f.buyer)
	require.NoError(t, err)

	factory, err := NewFactory(defaultConfig(), FactoryDeps{
		Tx:         db.Wrap(f.conn),
		Aggregator: snapshotAggregator{groups: groups},
		Cart:       f.cart,
		Products:   products.NewRepository(f.conn),
		Orders:     f.orders,
		Clock:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	first, err := factory.CreateOrdersFromCart(ctx, f.buyer)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := factory.CreateOrdersFromCart(ctx, f.buyer)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, second)

	var count int64
	require.NoError(t, f.conn.Model(&models.Order{}).Where("buyer_id = ?", f.buyer).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 9, f.stock(t, p.ID))
}

func TestCreateOrdersFromCartEmptyCart(t *testing.T) {
	f := newFixture(t, defaultConfig(), nil)
	_, err := f.factory.CreateOrdersFromCart(context.Background(), f.buyer)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeEmptyCart))
}

func TestCreateOrdersFromCartInsufficientStockRollsBackGroup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultConfig(), nil)

	sellerA, sellerB := uuid.New(), uuid.New()
	a := f.product(t, sellerA, 10000, 5)
	b := f.product(t, sellerB, 20000, 1)
	f.addLine(t, a, 2, 10000, fixedNow.Add(-2*time.Minute))
	f.addLine(t, b, 3, 20000, fixedNow.Add(-time.Minute))

	created, err := f.factory.CreateOrdersFromCart(ctx, f.buyer)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock))
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3, details["requested"])
	assert.Equal(t, 1, details["available"])

	// Seller A committed before seller B failed.
	require.Len(t, created, 1)
	assert.Equal(t, sellerA, created[0].SellerID)
	assert.Equal(t, 3, f.stock(t, a.ID))
	assert.Equal(t, 1, f.stock(t, b.ID))

	left, err := f.cart.ListByBuyer(ctx, f.buyer)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, b.ID, left[0].ProductID)
}

func TestCreateOrdersFromCartPriceTolerance(t *testing.T) {
	ctx := context.Background()

	strict := newFixture(t, defaultConfig(), nil)
	p := strict.product(t, uuid.New(), 105000, 10)
	strict.addLine(t, p, 1, 100000, fixedNow)
	_, err := strict.factory.CreateOrdersFromCart(ctx, strict.buyer)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodePriceChanged))
	assert.Equal(t, 10, strict.stock(t, p.ID))

	cfg := defaultConfig()
	cfg.PriceTolerance = decimal.RequireFromString("0.05")
	lenient := newFixture(t, cfg, nil)
	p = lenient.product(t, uuid.New(), 105000, 10)
	lenient.addLine(t, p, 1, 100000, fixedNow)
	created, err := lenient.factory.CreateOrdersFromCart(ctx, lenient.buyer)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, int64(105000), created[0].Subtotal, "orders snapshot the live price")
}

func TestCreateOrdersFromCartRetriesOrderNumberCollision(t *testing.T) {
	ctx := context.Background()
	zeros := make([]byte, 10)
	taken, err := NewNumberGenerator("ORD", bytes.NewReader(zeros)).Next(fixedNow)
	require.NoError(t, err)

	entropy := bytes.NewReader(append(append([]byte{}, zeros...), bytes.Repeat([]byte{0xAB}, 10)...))
	f := newFixture(t, defaultConfig(), NewNumberGenerator("ORD", entropy))

	existing := models.Order{
		ID: uuid.New(), OrderNumber: taken, BuyerID: uuid.New(), SellerID: uuid.New(),
		Status: enums.OrderStatusPendingPayment, CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}
	require.NoError(t, f.conn.Create(&existing).Error)

	p := f.product(t, uuid.New(), 1000, 1)
	f.addLine(t, p, 1, 1000, fixedNow)

	created, err := f.factory.CreateOrdersFromCart(ctx, f.buyer)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.NotEqual(t, taken, created[0].OrderNumber)
}

func TestNumberGeneratorFormat(t *testing.T) {
	n, err := NewNumberGenerator(" mp ", nil).Next(fixedNow)
	require.NoError(t, err)
	assert.Regexp(t, `^MP-20260301-[0-9A-Z]{10}$`, n)
}

func TestTransitionStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultConfig(), nil)
	o := models.Order{
		ID: uuid.New(), OrderNumber: "ORD-1", BuyerID: uuid.New(), SellerID: uuid.New(),
		Status: enums.OrderStatusPendingPayment, CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}
	require.NoError(t, f.conn.Create(&o).Error)

	ok, err := f.orders.TransitionStatus(ctx, o.ID, enums.OrderStatusPendingPayment, enums.OrderStatusPaid, fixedNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.orders.TransitionStatus(ctx, o.ID, enums.OrderStatusPendingPayment, enums.OrderStatusCancelled, fixedNow)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := f.orders.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)
	assert.Nil(t, stored.CancelledAt)
}
