package service

import (
	"context"
	"errors"
	"fmt"

	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// Reconciliation outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Trigger sources, for audit logging only; both run the same contract
const (
	SourceVerify  = "verify"
	SourceWebhook = "webhook"
)

// GatewayPayload carries what the trigger learned from the provider
type GatewayPayload struct {
	Amount int64
	Raw    string
}

// ReconcileResult reports whether this call performed the transition
type ReconcileResult struct {
	Applied bool
	OrderID int64
}

// ReconcileStore is the persistence surface the reconciler needs
type ReconcileStore interface {
	GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	CompletePayment(ctx context.Context, paymentID int64, status string, paidAmount int64, rawResponse string) error
	TransitionOrderStatus(ctx context.Context, orderID int64, from []string, to string) (bool, error)
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	RecordWebhookEvent(ctx context.Context, ev *models.WebhookEvent) error
}

// Fulfiller creates delivery records and sends notifications
type Fulfiller interface {
	Fulfill(ctx context.Context, orderID int64) (*FulfillmentResult, error)
}

// CommissionRecorder writes the sale ledger entry
type CommissionRecorder interface {
	RecordSale(ctx context.Context, orderID int64) (*models.SaleRecord, error)
}

// SessionCleaner clears per-order session artifacts after a terminal state
type SessionCleaner interface {
	ClearCartSnapshot(ctx context.Context, sessionID string) error
	ClearQueuedNotifications(ctx context.Context, orderID int64) error
}

// AuditPublisher emits reconciliation outcomes to the event stream
type AuditPublisher interface {
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderFailed(ctx context.Context, event *models.OrderFailedEvent) error
}

// PaymentReconciler is the single authority that moves an order from
// pending to a terminal state. Both triggers — the client verify call and
// the gateway webhook — funnel through Reconcile with the same
// idempotency contract.
type PaymentReconciler struct {
	store    ReconcileStore
	fulfill  Fulfiller
	ledger   CommissionRecorder
	sessions SessionCleaner
	audit    AuditPublisher
	logger   *zap.Logger
}

// NewPaymentReconciler creates the reconciler
func NewPaymentReconciler(
	st ReconcileStore,
	fulfill Fulfiller,
	ledger CommissionRecorder,
	sessions SessionCleaner,
	audit AuditPublisher,
) *PaymentReconciler {
	return &PaymentReconciler{
		store:    st,
		fulfill:  fulfill,
		ledger:   ledger,
		sessions: sessions,
		audit:    audit,
		logger:   util.GetLogger(),
	}
}

// Reconcile applies one payment outcome to its order exactly once.
// Duplicate or late calls return Applied=false and touch nothing.
func (r *PaymentReconciler) Reconcile(ctx context.Context, source, reference, outcome string, gw GatewayPayload) (ReconcileResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.Reconcile")
	defer span.End()

	payment, err := r.lookupPayment(ctx, source, reference)
	if err != nil {
		return ReconcileResult{}, err
	}
	if payment == nil {
		// Orphan: no payment row and no order derivable from the reference
		return ReconcileResult{Applied: false}, nil
	}

	// Primary duplicate-delivery suppression point: a completed payment
	// has already been reconciled, whatever the order row says.
	if payment.Status == models.PaymentStatusCompleted {
		r.suppress(source, reference, payment.OrderID, "payment_already_completed")
		return ReconcileResult{Applied: false, OrderID: payment.OrderID}, nil
	}

	target := models.OrderStatusPaid
	paymentStatus := models.PaymentStatusCompleted
	if outcome != OutcomeSuccess {
		target = models.OrderStatusFailed
		paymentStatus = models.PaymentStatusFailed
	}

	// The correctness-bearing operation: only the caller that flips the
	// order row out of pending performs side effects. A failed order is
	// immutable going forward because failed is outside the predicate.
	won, err := r.store.TransitionOrderStatus(ctx, payment.OrderID,
		[]string{models.OrderStatusPending}, target)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("order status CAS failed: %w", err)
	}
	if !won {
		r.suppress(source, reference, payment.OrderID, "lost_cas")
		return ReconcileResult{Applied: false, OrderID: payment.OrderID}, nil
	}

	if err := r.store.CompletePayment(ctx, payment.ID, paymentStatus, gw.Amount, gw.Raw); err != nil {
		// The order transition already committed; surface the error but
		// do not pretend the reconciliation did not happen.
		r.logger.Error("Failed to commit payment row after winning CAS",
			zap.String("reference", reference),
			zap.Error(err))
	}

	util.ReconcileAppliedTotal.WithLabelValues(source, outcome).Inc()
	r.logger.Info("Reconciliation applied",
		zap.String("source", source),
		zap.String("reference", reference),
		zap.Int64("order_id", payment.OrderID),
		zap.String("outcome", outcome))

	if outcome == OutcomeSuccess {
		r.completeSuccess(ctx, source, reference, payment, gw)
	} else {
		r.completeFailure(ctx, source, reference, payment)
	}

	return ReconcileResult{Applied: true, OrderID: payment.OrderID}, nil
}

// lookupPayment finds the payment for a reference, lazily materializing a
// row bound to the order derived from the reference prefix when session
// bookkeeping has not caught up yet. Returns (nil, nil) for orphans.
func (r *PaymentReconciler) lookupPayment(ctx context.Context, source, reference string) (*models.Payment, error) {
	payment, err := r.store.GetPaymentByReference(ctx, reference)
	if err == nil {
		return payment, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("payment lookup failed: %w", err)
	}

	orderID, perr := ParseReference(reference)
	if perr != nil {
		return nil, r.recordOrphan(ctx, source, reference, "unparseable reference")
	}

	order, oerr := r.store.GetOrderByID(ctx, orderID)
	if errors.Is(oerr, store.ErrNotFound) {
		return nil, r.recordOrphan(ctx, source, reference, "unknown order")
	}
	if oerr != nil {
		return nil, fmt.Errorf("order lookup failed: %w", oerr)
	}

	payment = &models.Payment{
		OrderID:         order.ID,
		Reference:       reference,
		Status:          models.PaymentStatusPending,
		RequestedAmount: order.FinalAmount,
	}
	cerr := r.store.CreatePayment(ctx, payment)
	if errors.Is(cerr, store.ErrDuplicate) {
		// A concurrent trigger materialized the same reference first
		return r.store.GetPaymentByReference(ctx, reference)
	}
	if cerr != nil {
		return nil, fmt.Errorf("failed to materialize payment: %w", cerr)
	}

	r.logger.Info("Payment row materialized from reference",
		zap.String("reference", reference),
		zap.Int64("order_id", order.ID))
	return payment, nil
}

func (r *PaymentReconciler) completeSuccess(ctx context.Context, source, reference string, payment *models.Payment, gw GatewayPayload) {
	// Side effects run after the transition committed; their failures are
	// logged, never rolled back. The order is paid and that fact survives
	// a lost email.
	if _, err := r.fulfill.Fulfill(ctx, payment.OrderID); err != nil {
		r.logger.Error("Fulfillment failed after reconciliation",
			zap.Int64("order_id", payment.OrderID),
			zap.Error(err))
	}

	if _, err := r.ledger.RecordSale(ctx, payment.OrderID); err != nil {
		r.logger.Error("Commission recording failed after reconciliation",
			zap.Int64("order_id", payment.OrderID),
			zap.Error(err))
	}

	r.clearSession(ctx, payment.OrderID)

	if r.audit != nil {
		event := &models.OrderPaidEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeOrderPaid),
			OrderID:   payment.OrderID,
			Reference: reference,
			Amount:    gw.Amount,
			Source:    source,
		}
		if err := r.audit.PublishOrderPaid(ctx, event); err != nil {
			r.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
		}
	}
}

func (r *PaymentReconciler) completeFailure(ctx context.Context, source, reference string, payment *models.Payment) {
	// Failure outcome: no delivery, no commission. Queued fulfillment
	// notifications for the order must not go out.
	r.clearSession(ctx, payment.OrderID)

	if r.audit != nil {
		event := &models.OrderFailedEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeOrderFailed),
			OrderID:   payment.OrderID,
			Reference: reference,
			Source:    source,
		}
		if err := r.audit.PublishOrderFailed(ctx, event); err != nil {
			r.logger.Error("Failed to publish OrderFailed event", zap.Error(err))
		}
	}
}

func (r *PaymentReconciler) clearSession(ctx context.Context, orderID int64) {
	if err := r.sessions.ClearQueuedNotifications(ctx, orderID); err != nil {
		r.logger.Warn("Failed to clear queued notifications",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}

	order, err := r.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return
	}
	if err := r.sessions.ClearCartSnapshot(ctx, order.SessionID); err != nil {
		r.logger.Warn("Failed to clear cart snapshot",
			zap.String("session_id", order.SessionID),
			zap.Error(err))
	}
}

func (r *PaymentReconciler) suppress(source, reference string, orderID int64, reason string) {
	util.ReconcileSuppressedTotal.WithLabelValues(source, reason).Inc()
	r.logger.Info("Reconciliation suppressed",
		zap.String("source", source),
		zap.String("reference", reference),
		zap.Int64("order_id", orderID),
		zap.String("reason", reason))
}

func (r *PaymentReconciler) recordOrphan(ctx context.Context, source, reference, why string) error {
	util.ReconcileSuppressedTotal.WithLabelValues(source, "orphan").Inc()
	r.logger.Warn("Orphan payment event",
		zap.String("source", source),
		zap.String("reference", reference),
		zap.String("detail", why))

	err := r.store.RecordWebhookEvent(ctx, &models.WebhookEvent{
		Reference: reference,
		Payload:   why,
		SourceIP:  source,
		Verdict:   models.VerdictOrphaned,
	})
	if err != nil {
		r.logger.Error("Failed to record orphan event", zap.Error(err))
	}
	return nil
}
