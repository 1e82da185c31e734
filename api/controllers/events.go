package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/api/responses"
	"github.com/angelmondragon/marketplace-backend/api/validators"
	"github.com/angelmondragon/marketplace-backend/internal/paymentstatus"
	"github.com/angelmondragon/marketplace-backend/pkg/broker"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
)

const (
	defaultHeartbeat  = 15 * time.Second
	subscriberBuffer  = 8
	eventSnapshot     = "snapshot"
	eventStatusChange = "status"
)

type OrderSubscriber interface {
	Subscribe(ctx context.Context, topic string, buffer int) (*broker.Subscription, error)
}

type streamState struct {
	Order   enums.OrderStatus   `json:"orderStatus"`
	Payment enums.PaymentStatus `json:"paymentStatus,omitempty"`
}

func stateOf(p *paymentstatus.Projection) streamState {
	st := streamState{Order: p.Order.Status}
	if p.Payment != nil {
		st.Payment = p.Payment.Status
	}
	return st
}

func (s streamState) terminal() bool {
	return s.Payment.IsTerminal() || s.Order.IsFinal()
}

// OrderEvents streams order status changes as server-sent events until the
// payment settles or the client goes away. Every heartbeat re-reads the
// projection so changes applied by other processes are not missed.
func OrderEvents(status PaymentStatusReader, sub OrderSubscriber, heartbeat time.Duration, logg *logger.Logger) http.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
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

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		subscription, err := sub.Subscribe(ctx, broker.OrderTopic(orderID), subscriberBuffer)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscribe to order events"))
			return
		}
		defer subscription.Close()

		projection, err := status.Get(ctx, buyerID, orderID, false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rc := http.NewResponseController(w)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		if err := writeEvent(w, rc, eventSnapshot, projection); err != nil {
			return
		}
		last := stateOf(projection)
		if last.terminal() {
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-subscription.Done():
				return
			case msg := <-subscription.C():
				evt, ok := msg.Data.(broker.OrderStatusEvent)
				if !ok {
					continue
				}
				if err := writeEvent(w, rc, eventStatusChange, evt); err != nil {
					return
				}
				last = streamState{Order: evt.OrderStatus, Payment: evt.PaymentStatus}
				if evt.Terminal() {
					return
				}
			case <-ticker.C:
				current, err := status.Get(ctx, buyerID, orderID, false)
				if err != nil {
					if logg != nil && ctx.Err() == nil {
						logg.Warn(logg.WithField(ctx, "error", err.Error()), "order_events.refresh_failed")
					}
					if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
						return
					}
					_ = rc.Flush()
					continue
				}
				next := stateOf(current)
				if next != last {
					if err := writeEvent(w, rc, eventSnapshot, current); err != nil {
						return
					}
					last = next
					if next.terminal() {
						return
					}
					continue
				}
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				_ = rc.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", name, uuid.NewString(), data); err != nil {
		return err
	}
	return rc.Flush()
}
