package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/api/responses"
	"github.com/angelmondragon/marketplace-backend/api/validators"
	"github.com/angelmondragon/marketplace-backend/internal/payments"
	"github.com/angelmondragon/marketplace-backend/internal/paymentstatus"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

type PaymentIntentCreator interface {
	CreateOrGetPaymentIntent(ctx context.Context, buyerID, orderID uuid.UUID) (*payments.Intent, error)
}

type PaymentStatusReader interface {
	Get(ctx context.Context, buyerID, orderID uuid.UUID, refresh bool) (*paymentstatus.Projection, error)
}

type paymentIntentResponse struct {
	Success    bool      `json:"success"`
	InvoiceURL string    `json:"invoiceUrl"`
	InvoiceID  string    `json:"invoiceId"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Reused     bool      `json:"reused"`
}

// PaymentIntent returns the hosted invoice for an order, creating it on the
// first call. Repeated calls hand back the same invoice.
func PaymentIntent(svc PaymentIntentCreator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, err := principalID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intent, err := svc.CreateOrGetPaymentIntent(r.Context(), buyerID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusOK, paymentIntentResponse{
			Success:    true,
			InvoiceURL: intent.InvoiceURL,
			InvoiceID:  intent.InvoiceID,
			ExpiresAt:  intent.ExpiresAt,
			Reused:     intent.Reused,
		})
	}
}

// PaymentStatus serves the {order, payment} projection. refresh=true pulls
// the gateway for a pending payment before answering.
func PaymentStatus(svc PaymentStatusReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, err := principalID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refresh, err := validators.ParseQueryBool(r, "refresh", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		projection, err := svc.Get(r.Context(), buyerID, orderID, refresh)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, projection)
	}
}
