package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/marketplace-backend/api/responses"
	gatewaywebhook "github.com/angelmondragon/marketplace-backend/internal/webhooks/gateway"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

const defaultMaxBodyBytes = 64 << 10

// Handler processes one verified-or-rejected gateway delivery.
type Handler interface {
	Handle(ctx context.Context, body []byte, signature string) (gatewaywebhook.Outcome, error)
}

// PaymentWebhook receives gateway callbacks. The raw body is handed over
// untouched because the signature covers the exact bytes.
func PaymentWebhook(svc Handler, signatureHeader string, maxBytes int64, logg *logger.Logger) http.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "webhook body too large"))
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body"))
			return
		}

		outcome, err := svc.Handle(r.Context(), body, r.Header.Get(signatureHeader))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"duplicate": outcome.Duplicate,
				"outcome":   string(outcome.Result.Outcome),
			})
			logg.Info(ctx, "payment webhook processed")
		}
		responses.WriteAck(w)
	}
}
