package reconcile

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/gateway"
)

// InputFromInvoice turns a pulled gateway invoice into a reconcile input.
// Statuses outside the translation table are rejected.
func InputFromInvoice(orderID uuid.UUID, inv *gateway.Invoice, source enums.ReconcileSource) (Input, error) {
	if inv == nil {
		return Input{}, pkgerrors.New(pkgerrors.CodeValidation, "invoice required")
	}
	observed, err := gateway.Translate(string(inv.Status))
	if err != nil {
		return Input{}, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "untranslatable invoice status").
			WithDetails(map[string]any{"invoice_id": inv.ID, "status": string(inv.Status)})
	}
	return Input{
		OrderID:  orderID,
		Observed: observed,
		Meta: Meta{
			InvoiceID:     inv.ID,
			PaymentMethod: inv.PaymentMethod,
			PaidAt:        inv.PaidAt,
			Source:        source,
		},
	}, nil
}
