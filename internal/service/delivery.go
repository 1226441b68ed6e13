package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// FulfillmentResult reports what one Fulfill call actually did
type FulfillmentResult struct {
	CreatedRecords    int
	NotificationsSent int
}

// DeliveryStore is the persistence surface the orchestrator needs
type DeliveryStore interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetProduct(ctx context.Context, productType string, id int64) (*models.Product, error)
	CreateDeliveryRecord(ctx context.Context, rec *models.DeliveryRecord) error
	GetDeliveryRecord(ctx context.Context, id int64) (*models.DeliveryRecord, error)
	GetDeliveriesByOrderID(ctx context.Context, orderID int64) ([]models.DeliveryRecord, error)
	UpdateDeliveryStatus(ctx context.Context, id int64, status string, attempts int, lastError string) error
}

// DeliveryMailer sends customer-facing fulfillment email
type DeliveryMailer interface {
	SendOrderConfirmation(ctx context.Context, order *models.Order, itemCount int) error
	SendProductDelivery(ctx context.Context, order *models.Order, displayName, filePath string) error
}

// DeliveryEvents publishes delivery outcomes and retry requests
type DeliveryEvents interface {
	PublishDeliveryCompleted(ctx context.Context, event *models.DeliveryCompletedEvent) error
	PublishDeliveryRetry(ctx context.Context, event *models.DeliveryRetryEvent) error
}

// DeliveryOrchestrator creates per-item delivery records and sequences
// outbound notifications for a paid order.
type DeliveryOrchestrator struct {
	store       DeliveryStore
	mailer      DeliveryMailer
	events      DeliveryEvents
	maxAttempts int
	logger      *zap.Logger
}

// NewDeliveryOrchestrator creates the orchestrator
func NewDeliveryOrchestrator(st DeliveryStore, mailer DeliveryMailer, events DeliveryEvents, maxAttempts int) *DeliveryOrchestrator {
	return &DeliveryOrchestrator{
		store:       st,
		mailer:      mailer,
		events:      events,
		maxAttempts: maxAttempts,
		logger:      util.GetLogger(),
	}
}

// Fulfill creates delivery records for every order item and attempts
// immediate delivery. Only called for paid orders. Idempotent: an order
// that already has records for all items is a no-op.
func (d *DeliveryOrchestrator) Fulfill(ctx context.Context, orderID int64) (*FulfillmentResult, error) {
	ctx, span := util.StartSpan(ctx, "DeliveryOrchestrator.Fulfill")
	defer span.End()

	order, err := d.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPaid {
		return nil, fmt.Errorf("order %d is %s, not paid", orderID, order.Status)
	}

	items, err := d.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	existing, err := d.store.GetDeliveriesByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery records: %w", err)
	}
	if len(existing) >= len(items) {
		d.logger.Info("Order already fulfilled, skipping",
			zap.Int64("order_id", orderID))
		return &FulfillmentResult{}, nil
	}

	result := &FulfillmentResult{}

	// Confirmation goes out before any product access is revealed; the
	// customer's record of purchase comes first.
	if err := d.mailer.SendOrderConfirmation(ctx, order, len(items)); err != nil {
		d.logger.Error("Failed to send order confirmation",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	} else {
		result.NotificationsSent++
	}

	for _, item := range items {
		rec := &models.DeliveryRecord{
			OrderID:        orderID,
			ProductType:    item.ProductType,
			ProductID:      item.ProductID,
			DeliveryStatus: models.DeliveryStatusPending,
		}

		err := d.store.CreateDeliveryRecord(ctx, rec)
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			d.logger.Error("Failed to create delivery record",
				zap.Int64("order_id", orderID),
				zap.Int64("product_id", item.ProductID),
				zap.Error(err))
			continue
		}
		result.CreatedRecords++

		if d.attemptDelivery(ctx, order, rec) {
			result.NotificationsSent++
		}
	}

	return result, nil
}

// RetryDelivery re-attempts one transiently failed delivery. Driven by the
// retry worker, never by user action.
func (d *DeliveryOrchestrator) RetryDelivery(ctx context.Context, deliveryID int64) error {
	ctx, span := util.StartSpan(ctx, "DeliveryOrchestrator.RetryDelivery")
	defer span.End()

	rec, err := d.store.GetDeliveryRecord(ctx, deliveryID)
	if err != nil {
		return err
	}
	if rec.DeliveryStatus != models.DeliveryStatusPendingRetry {
		// Delivered or failed in the meantime; the retry event is stale
		return nil
	}

	order, err := d.store.GetOrderByID(ctx, rec.OrderID)
	if err != nil {
		return err
	}

	d.attemptDelivery(ctx, order, rec)
	return nil
}

// attemptDelivery runs one delivery attempt and records its outcome.
// Returns true when the product notification went out.
func (d *DeliveryOrchestrator) attemptDelivery(ctx context.Context, order *models.Order, rec *models.DeliveryRecord) bool {
	attempt := rec.Attempts + 1

	product, err := d.store.GetProduct(ctx, rec.ProductType, rec.ProductID)
	if err != nil {
		d.markFailed(ctx, rec, attempt, fmt.Sprintf("product lookup: %v", err))
		return false
	}

	variant, err := product.Variant()
	if err != nil {
		d.markFailed(ctx, rec, attempt, err.Error())
		return false
	}

	filePath, err := variant.ResolveFile()
	if err != nil {
		// Missing source file is permanent; retrying cannot conjure it
		d.markFailed(ctx, rec, attempt, err.Error())
		return false
	}

	if err := d.mailer.SendProductDelivery(ctx, order, variant.DisplayName(), filePath); err != nil {
		d.markRetry(ctx, rec, attempt, err.Error())
		return false
	}

	if err := d.store.UpdateDeliveryStatus(ctx, rec.ID, models.DeliveryStatusDelivered, attempt, ""); err != nil {
		d.logger.Error("Failed to mark delivery delivered",
			zap.Int64("delivery_id", rec.ID),
			zap.Error(err))
	}
	util.DeliveriesTotal.WithLabelValues(models.DeliveryStatusDelivered).Inc()

	if d.events != nil {
		event := &models.DeliveryCompletedEvent{
			BaseEvent:   models.NewBaseEvent(models.EventTypeDeliveryCompleted),
			OrderID:     rec.OrderID,
			DeliveryID:  rec.ID,
			ProductType: rec.ProductType,
			ProductID:   rec.ProductID,
		}
		if err := d.events.PublishDeliveryCompleted(ctx, event); err != nil {
			d.logger.Error("Failed to publish DeliveryCompleted event", zap.Error(err))
		}
	}
	return true
}

func (d *DeliveryOrchestrator) markFailed(ctx context.Context, rec *models.DeliveryRecord, attempt int, reason string) {
	util.DeliveriesTotal.WithLabelValues(models.DeliveryStatusFailed).Inc()
	util.Alert("Permanent delivery failure",
		zap.Int64("order_id", rec.OrderID),
		zap.Int64("delivery_id", rec.ID),
		zap.String("reason", reason))

	if err := d.store.UpdateDeliveryStatus(ctx, rec.ID, models.DeliveryStatusFailed, attempt, reason); err != nil {
		d.logger.Error("Failed to mark delivery failed",
			zap.Int64("delivery_id", rec.ID),
			zap.Error(err))
	}
}

func (d *DeliveryOrchestrator) markRetry(ctx context.Context, rec *models.DeliveryRecord, attempt int, reason string) {
	if attempt >= d.maxAttempts {
		d.markFailed(ctx, rec, attempt, fmt.Sprintf("retries exhausted: %s", reason))
		return
	}

	util.DeliveriesTotal.WithLabelValues(models.DeliveryStatusPendingRetry).Inc()
	d.logger.Warn("Transient delivery failure, queueing retry",
		zap.Int64("delivery_id", rec.ID),
		zap.Int("attempt", attempt),
		zap.String("reason", reason))

	if err := d.store.UpdateDeliveryStatus(ctx, rec.ID, models.DeliveryStatusPendingRetry, attempt, reason); err != nil {
		d.logger.Error("Failed to mark delivery for retry",
			zap.Int64("delivery_id", rec.ID),
			zap.Error(err))
		return
	}

	if d.events != nil {
		event := &models.DeliveryRetryEvent{
			BaseEvent:   models.NewBaseEvent(models.EventTypeDeliveryRetry),
			DeliveryID:  rec.ID,
			OrderID:     rec.OrderID,
			Attempt:     attempt,
			NotBefore:   time.Now().Add(retryBackoff(attempt)),
			LastFailure: reason,
		}
		if err := d.events.PublishDeliveryRetry(ctx, event); err != nil {
			d.logger.Error("Failed to publish DeliveryRetry event", zap.Error(err))
		}
	}
}

// retryBackoff doubles per attempt from 30s, capped at one hour
func retryBackoff(attempt int) time.Duration {
	backoff := 30 * time.Second
	for i := 1; i < attempt && backoff < time.Hour; i++ {
		backoff *= 2
	}
	if backoff > time.Hour {
		backoff = time.Hour
	}
	return backoff
}
