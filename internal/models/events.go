package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types on the fulfillment audit stream
const (
	EventTypeOrderPaid          = "ORDER_PAID"
	EventTypeOrderFailed        = "ORDER_FAILED"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
	EventTypeDeliveryCompleted  = "DELIVERY_COMPLETED"
	EventTypeDeliveryRetry      = "DELIVERY_RETRY_QUEUED"
	EventTypeCommissionRecorded = "COMMISSION_RECORDED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event envelope
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// OrderPaidEvent published when reconciliation commits a paid order
type OrderPaidEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Source    string `json:"source"`
}

// OrderFailedEvent published when reconciliation commits a failed order
type OrderFailedEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	Reference string `json:"reference"`
	Source    string `json:"source"`
}

// OrderCancelledEvent published on user-initiated cancellation
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
}

// DeliveryCompletedEvent published when a product has been delivered
type DeliveryCompletedEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	DeliveryID  int64  `json:"delivery_id"`
	ProductType string `json:"product_type"`
	ProductID   int64  `json:"product_id"`
}

// DeliveryRetryEvent queues a transiently failed delivery for retry
type DeliveryRetryEvent struct {
	BaseEvent
	DeliveryID  int64     `json:"delivery_id"`
	OrderID     int64     `json:"order_id"`
	Attempt     int       `json:"attempt"`
	NotBefore   time.Time `json:"not_before"`
	LastFailure string    `json:"last_failure"`
}

// CommissionRecordedEvent published when a sale record is written
type CommissionRecordedEvent struct {
	BaseEvent
	OrderID          int64 `json:"order_id"`
	SaleRecordID     int64 `json:"sale_record_id"`
	AffiliateID      int64 `json:"affiliate_id,omitempty"`
	CommissionAmount int64 `json:"commission_amount"`
}
