package reconcile

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/broker"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-backend/pkg/errors"
)

// AdvanceOrder moves a paid order along the fulfilment line on behalf of its
// seller. PAID and CANCELLED are only reachable through Reconcile.
func (s *Service) AdvanceOrder(ctx context.Context, sellerID, orderID uuid.UUID, to enums.OrderStatus) (*models.Order, error) {
	if !to.IsValid() || to == enums.OrderStatusPaid || to == enums.OrderStatusCancelled || to == enums.OrderStatusPendingPayment {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status cannot be set by sellers").
			WithDetails(map[string]any{"status": to})
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id":  orderID.String(),
		"seller_id": sellerID.String(),
		"to":        string(to),
	})

	var from enums.OrderStatus
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.orders.WithTx(tx)
		order, err := orderRepo.FindByID(ctx, orderID)
		if err != nil {
			return notFoundOr(err, "order")
		}
		if order.SellerID != sellerID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if !order.Status.CanTransitionTo(to) {
			return pkgerrors.New(pkgerrors.CodeInvalidOrderState, "illegal order transition").
				WithDetails(map[string]any{"from": order.Status, "to": to})
		}
		from = order.Status
		moved, err := orderRepo.TransitionStatus(ctx, order.ID, from, to, s.clock())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance order")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently").
				WithDetails(map[string]any{"expected": from})
		}
		return nil
	})
	if err != nil {
		s.metrics.Observe(string(enums.SourceSeller), outcomeError)
		return nil, err
	}
	s.metrics.Observe(string(enums.SourceSeller), string(OutcomeApplied))
	s.logg.Info(s.logg.WithField(ctx, "from", string(from)), "order advanced")

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "order")
	}
	if s.broker != nil {
		s.broker.Publish(broker.OrderTopic(orderID), broker.OrderStatusEvent{
			OrderID:     orderID,
			OrderStatus: order.Status,
			Source:      enums.SourceSeller,
		})
	}
	return order, nil
}
