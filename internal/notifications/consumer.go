// Package notifications turns committed order events into in-app
// notifications and emails, and serves the user's inbox.
package notifications

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/registry"
)

// ConsumerName scopes the consumer's idempotency keys.
const ConsumerName = "order-notifications"

type eventDecoder interface {
	Decode(eventType string, body []byte) (*registry.ResolvedEvent, error)
}

type eventGuard interface {
	CheckAndMarkEvent(ctx context.Context, eventID uuid.UUID) (bool, error)
	ReleaseEvent(ctx context.Context, eventID uuid.UUID) error
}

type ConsumerParams struct {
	Registry     eventDecoder
	Repo         Repository
	Mailer       Mailer
	Guard        eventGuard
	Subscription *pubsub.Subscriber
	Logger       *logger.Logger
}

// Consumer reacts to order_paid and payment_failed deliveries.
type Consumer struct {
	registry     eventDecoder
	repo         Repository
	mailer       Mailer
	guard        eventGuard
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	switch {
	case params.Registry == nil:
		return nil, fmt.Errorf("event registry required")
	case params.Repo == nil:
		return nil, fmt.Errorf("notifications repository required")
	case params.Mailer == nil:
		return nil, fmt.Errorf("mailer required")
	case params.Guard == nil:
		return nil, fmt.Errorf("idempotency guard required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		registry:     params.Registry,
		repo:         params.Repo,
		mailer:       params.Mailer,
		guard:        params.Guard,
		subscription: params.Subscription,
		logg:         params.Logger,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return fmt.Errorf("subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.ID, msg.Attributes, msg.Data).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	nack bool
}

var (
	ack  = processResult{}
	nack = processResult{nack: true}
)

func (c *Consumer) process(ctx context.Context, messageID string, attrs map[string]string, data []byte) processResult {
	eventType := attrs["event_type"]
	ctx = c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	resolved, err := c.registry.Decode(eventType, data)
	if err != nil {
		var nonRetryable registry.NonRetryableError
		if errors.As(err, &nonRetryable) {
			c.logg.Warn(c.logg.WithField(ctx, "reason", err.Error()), "dropping undecodable event")
			return ack
		}
		c.logg.Error(ctx, "failed to decode event", err)
		return nack
	}

	eventID, _ := uuid.Parse(resolved.Envelope.EventID)
	ctx = c.logg.WithField(ctx, "event_id", eventID.String())

	already, err := c.guard.CheckAndMarkEvent(ctx, eventID)
	if err != nil {
		c.logg.Error(ctx, "idempotency check failed", err)
		return nack
	}
	if already {
		c.logg.Info(ctx, "event already processed")
		return ack
	}

	emails, err := c.persist(ctx, resolved.Payload)
	if err != nil {
		c.logg.Error(ctx, "notification persistence failed", err)
		if releaseErr := c.guard.ReleaseEvent(ctx, eventID); releaseErr != nil {
			c.logg.Error(ctx, "failed to release idempotency key", releaseErr)
		}
		return nack
	}

	for _, email := range emails {
		if err := c.mailer.Send(ctx, email); err != nil {
			c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
				"user_id": email.UserID.String(),
				"error":   err.Error(),
			}), "email delivery failed")
		}
	}
	return ack
}

// persist writes the notifications for one event and returns the emails
// that mirror them.
func (c *Consumer) persist(ctx context.Context, payload any) ([]Email, error) {
	var rows []models.Notification
	switch p := payload.(type) {
	case *payloads.OrderPaidEvent:
		ctx = c.logg.WithOrderID(ctx, p.OrderID.String())
		rows = orderPaidNotifications(p)
	case *payloads.PaymentFailedEvent:
		ctx = c.logg.WithOrderID(ctx, p.OrderID.String())
		rows = paymentFailedNotifications(p)
	default:
		c.logg.Info(ctx, "event not handled")
		return nil, nil
	}

	if err := c.repo.CreateBatch(ctx, rows); err != nil {
		return nil, err
	}
	c.logg.Info(c.logg.WithField(ctx, "notifications", len(rows)), "order notifications created")

	emails := make([]Email, 0, len(rows))
	for _, n := range rows {
		email := Email{UserID: n.UserID, Subject: n.Title, Body: n.Message}
		if n.Link != nil {
			email.Link = *n.Link
		}
		emails = append(emails, email)
	}
	return emails, nil
}

func orderPaidNotifications(p *payloads.OrderPaidEvent) []models.Notification {
	orderID := p.OrderID
	return []models.Notification{
		{
			UserID:  p.BuyerID,
			OrderID: &orderID,
			Type:    enums.NotificationTypeOrderConfirmed,
			Title:   "Payment received",
			Message: fmt.Sprintf("Your payment for order %s was received. The seller will start preparing it.", p.OrderNumber),
			Link:    stringPtr(fmt.Sprintf("/orders/%s", p.OrderID)),
		},
		{
			UserID:  p.SellerID,
			OrderID: &orderID,
			Type:    enums.NotificationTypeNewOrder,
			Title:   "New paid order",
			Message: fmt.Sprintf("Order %s has been paid and is ready to process.", p.OrderNumber),
			Link:    stringPtr(fmt.Sprintf("/seller/orders/%s", p.OrderID)),
		},
	}
}

func paymentFailedNotifications(p *payloads.PaymentFailedEvent) []models.Notification {
	orderID := p.OrderID
	message := fmt.Sprintf("Payment for order %s failed and the order was cancelled.", p.OrderNumber)
	if p.PaymentStatus == enums.PaymentStatusExpired {
		message = fmt.Sprintf("The invoice for order %s expired and the order was cancelled.", p.OrderNumber)
	}
	return []models.Notification{
		{
			UserID:  p.BuyerID,
			OrderID: &orderID,
			Type:    enums.NotificationTypePaymentFailed,
			Title:   "Order cancelled",
			Message: message,
			Link:    stringPtr(fmt.Sprintf("/orders/%s", p.OrderID)),
		},
	}
}

func stringPtr(value string) *string {
	return &value
}
