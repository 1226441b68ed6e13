package service

import (
	"context"
	"errors"

	"storefront-service/internal/gateway"
	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// TransactionVerifier asks the provider for the state of a reference
type TransactionVerifier interface {
	VerifyTransaction(ctx context.Context, reference string) (*gateway.VerifyResult, error)
}

// VerifyResponse is the customer-facing result of a verify call
type VerifyResponse struct {
	Success bool   `json:"success"`
	OrderID int64  `json:"order_id,omitempty"`
	Message string `json:"message"`
}

// PaymentVerifier drives the synchronous client-initiated verification
// path. It shares the reconciler — and therefore the idempotency
// contract — with the webhook path, so calling it repeatedly is safe.
type PaymentVerifier struct {
	gateway    TransactionVerifier
	reconciler *PaymentReconciler
	orders     interface {
		GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	}
	logger *zap.Logger
}

// NewPaymentVerifier creates the verify-path service
func NewPaymentVerifier(gw TransactionVerifier, reconciler *PaymentReconciler, orders ReconcileStore) *PaymentVerifier {
	return &PaymentVerifier{
		gateway:    gw,
		reconciler: reconciler,
		orders:     orders,
		logger:     util.GetLogger(),
	}
}

// Verify checks a reference against the provider and reconciles the
// outcome. Safe to call any number of times.
func (v *PaymentVerifier) Verify(ctx context.Context, reference string) (*VerifyResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentVerifier.Verify")
	defer span.End()

	result, err := v.gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		v.logger.Warn("Gateway verification failed",
			zap.String("reference", reference),
			zap.Error(err))
		return &VerifyResponse{Success: false, Message: "verification unavailable, try again"}, nil
	}

	var outcome string
	switch result.Status {
	case gateway.TxStatusSuccess:
		outcome = OutcomeSuccess
	case gateway.TxStatusFailed, gateway.TxStatusAbandoned:
		outcome = OutcomeFailure
	default:
		return &VerifyResponse{Success: false, Message: "payment not completed yet"}, nil
	}

	rec, err := v.reconciler.Reconcile(ctx, SourceVerify, reference, outcome,
		GatewayPayload{Amount: result.Amount, Raw: result.Raw})
	if err != nil {
		return nil, err
	}
	if rec.OrderID == 0 {
		return &VerifyResponse{Success: false, Message: "unknown payment reference"}, nil
	}

	order, err := v.orders.GetOrderByID(ctx, rec.OrderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &VerifyResponse{Success: false, Message: "unknown payment reference"}, nil
		}
		return nil, err
	}

	if order.Status == models.OrderStatusPaid {
		msg := "payment confirmed"
		if !rec.Applied {
			msg = "payment already processed"
		}
		return &VerifyResponse{Success: true, OrderID: order.ID, Message: msg}, nil
	}

	return &VerifyResponse{Success: false, OrderID: order.ID, Message: "payment was not successful"}, nil
}
