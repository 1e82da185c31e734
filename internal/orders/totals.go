package orders

import (
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
)

// Totals is the money breakdown frozen onto an order at creation.
type Totals struct {
	Subtotal     int64
	ShippingCost int64
	ServiceFee   int64
	Total        int64
}

// ComputeTotals sums the snapshotted item subtotals and adds the flat
// shipping cost and service fee.
func ComputeTotals(items []models.OrderItem, shippingCost, serviceFee int64) Totals {
	var subtotal int64
	for _, item := range items {
		subtotal += item.Subtotal
	}
	return Totals{
		Subtotal:     subtotal,
		ShippingCost: shippingCost,
		ServiceFee:   serviceFee,
		Total:        subtotal + shippingCost + serviceFee,
	}
}
