package testdb

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// Seeded is a pending order with one item and an open invoice.
type Seeded struct {
	Product models.Product
	Order   models.Order
	Payment models.Payment
}

// SeedPendingOrder writes a product, a PENDING_PAYMENT order for qty units
// of it and a PENDING payment. Stock is left at stock, as if the factory had
// already decremented it.
func SeedPendingOrder(t *testing.T, conn *gorm.DB, qty, stock int) Seeded {
	t.Helper()
	now := time.Now().UTC()
	seller := uuid.New()

	product := models.Product{ID: uuid.New(), SellerID: seller, Name: "Tenun scarf", Price: 50000, Stock: stock, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, conn.Create(&product).Error)

	subtotal := product.Price * int64(qty)
	order := models.Order{
		ID:           uuid.New(),
		OrderNumber:  "ORD-" + now.Format("20060102") + "-" + uuid.NewString()[:10],
		BuyerID:      uuid.New(),
		SellerID:     seller,
		Status:       enums.OrderStatusPendingPayment,
		Subtotal:     subtotal,
		ShippingCost: 15000,
		ServiceFee:   2500,
		Total:        subtotal + 15000 + 2500,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, conn.Create(&order).Error)

	item := models.OrderItem{
		ID:          uuid.New(),
		OrderID:     order.ID,
		ProductID:   product.ID,
		ProductName: product.Name,
		UnitPrice:   product.Price,
		Quantity:    qty,
		Subtotal:    subtotal,
		CreatedAt:   now,
	}
	require.NoError(t, conn.Create(&item).Error)
	order.Items = []models.OrderItem{item}

	payment := models.Payment{
		ID:                uuid.New(),
		OrderID:           order.ID,
		ExternalInvoiceID: "inv_" + uuid.NewString()[:8],
		InvoiceURL:        "https://checkout.example/inv",
		Status:            enums.PaymentStatusPending,
		Amount:            order.Total,
		ExpiresAt:         now.Add(24 * time.Hour),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, conn.Create(&payment).Error)

	return Seeded{Product: product, Order: order, Payment: payment}
}
