package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/api/responses"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

type OrderCreator interface {
	CreateOrdersFromCart(ctx context.Context, buyerID uuid.UUID) ([]models.Order, error)
}

type checkoutResponse struct {
	Orders []models.Order `json:"orders"`
}

// Checkout turns the buyer's cart into one order per seller.
func Checkout(svc OrderCreator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, err := principalID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orders, err := svc.CreateOrdersFromCart(r.Context(), buyerID)
		if err != nil {
			if len(orders) > 0 {
				// Earlier seller groups committed; the buyer can still pay them.
				responses.WriteErrorWithData(r.Context(), logg, w, err, checkoutResponse{Orders: orders})
				return
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if logg != nil {
			ctx := logg.WithField(r.Context(), "order_count", len(orders))
			logg.Info(ctx, "checkout.completed")
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{Orders: orders})
	}
}
