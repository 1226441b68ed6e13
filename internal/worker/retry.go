// Package worker runs the delivery-retry consumer. Retries are driven by
// the queue and a backoff schedule, never by user action.
package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"storefront-service/internal/broker"
	"storefront-service/internal/models"
	"storefront-service/internal/service"

	"github.com/segmentio/kafka-go"
)

// RetryWorker consumes delivery-retry events and re-attempts delivery
type RetryWorker struct {
	consumer     *broker.Consumer
	orchestrator *service.DeliveryOrchestrator
}

// NewRetryWorker creates a delivery retry worker
func NewRetryWorker(consumer *broker.Consumer, orchestrator *service.DeliveryOrchestrator) *RetryWorker {
	return &RetryWorker{
		consumer:     consumer,
		orchestrator: orchestrator,
	}
}

// Start begins consuming retry events until the context is cancelled
func (rw *RetryWorker) Start(ctx context.Context) error {
	log.Println("Starting delivery retry worker...")

	return rw.consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		var event models.DeliveryRetryEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			// Poison message; committing it is the only way forward
			log.Printf("Failed to unmarshal delivery retry event: %v", err)
			return nil
		}

		// Honor the backoff schedule. The wait is bounded by the backoff
		// cap, and one blocked partition is acceptable for a retry queue.
		if wait := time.Until(event.NotBefore); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		log.Printf("Retrying delivery: delivery_id=%d order_id=%d attempt=%d",
			event.DeliveryID, event.OrderID, event.Attempt)

		return rw.orchestrator.RetryDelivery(ctx, event.DeliveryID)
	})
}

// Stop stops the retry worker
func (rw *RetryWorker) Stop() error {
	log.Println("Stopping delivery retry worker...")
	return rw.consumer.Close()
}
