package broker

import (
	"context"
	"fmt"

	"storefront-service/internal/models"
)

// EventPublisher routes domain events to the audit stream and the
// delivery-retry queue.
type EventPublisher struct {
	audit *Producer
	retry *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(audit, retry *Producer) *EventPublisher {
	return &EventPublisher{audit: audit, retry: retry}
}

// PublishOrderPaid publishes an OrderPaid event
func (ep *EventPublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	return ep.audit.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderFailed publishes an OrderFailed event
func (ep *EventPublisher) PublishOrderFailed(ctx context.Context, event *models.OrderFailedEvent) error {
	return ep.audit.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderCancelled publishes an OrderCancelled event
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	return ep.audit.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishDeliveryCompleted publishes a DeliveryCompleted event
func (ep *EventPublisher) PublishDeliveryCompleted(ctx context.Context, event *models.DeliveryCompletedEvent) error {
	return ep.audit.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishCommissionRecorded publishes a CommissionRecorded event
func (ep *EventPublisher) PublishCommissionRecorded(ctx context.Context, event *models.CommissionRecordedEvent) error {
	return ep.audit.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishDeliveryRetry queues a delivery for a later attempt. Keyed by
// delivery id so retries for one record stay in order.
func (ep *EventPublisher) PublishDeliveryRetry(ctx context.Context, event *models.DeliveryRetryEvent) error {
	return ep.retry.PublishEvent(ctx, fmt.Sprintf("delivery-%d", event.DeliveryID), event)
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}
