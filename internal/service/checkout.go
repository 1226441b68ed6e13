package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront-service/internal/gateway"
	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// ErrCancelNotAllowed is returned when an order is past the point of
// user-initiated cancellation.
var ErrCancelNotAllowed = errors.New("order can no longer be cancelled")

// CheckoutStore is the persistence surface for order intake and the
// customer-facing order endpoints
type CheckoutStore interface {
	GetProduct(ctx context.Context, productType string, id int64) (*models.Product, error)
	GetAffiliateByCode(ctx context.Context, code string) (*models.Affiliate, error)
	CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem, domainID *int64) error
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	TransitionOrderStatus(ctx context.Context, orderID int64, from []string, to string) (bool, error)
	ReleaseDomain(ctx context.Context, orderID int64) error
}

// SessionStore holds per-session checkout state in the cache
type SessionStore interface {
	SaveCartSnapshot(ctx context.Context, sessionID string, snapshot interface{}, ttl time.Duration) error
	ClearCartSnapshot(ctx context.Context, sessionID string) error
	QueueNotification(ctx context.Context, orderID int64, payload string) error
	ClearQueuedNotifications(ctx context.Context, orderID int64) error
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// PaymentInitializer opens a payment session with the external provider
type PaymentInitializer interface {
	InitializeTransaction(ctx context.Context, email string, amount int64, reference, callbackURL string) (*gateway.InitResult, error)
}

// CheckoutEvents publishes order lifecycle events
type CheckoutEvents interface {
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// OrderService handles checkout and the customer-facing order endpoints
type OrderService struct {
	store       CheckoutStore
	sessions    SessionStore
	gateway     PaymentInitializer
	events      CheckoutEvents
	callbackURL string
	cartTTL     time.Duration
	logger      *zap.Logger
}

// NewOrderService creates the order intake service
func NewOrderService(st CheckoutStore, sessions SessionStore, gw PaymentInitializer, events CheckoutEvents, callbackURL string, cartTTL time.Duration) *OrderService {
	return &OrderService{
		store:       st,
		sessions:    sessions,
		gateway:     gw,
		events:      events,
		callbackURL: callbackURL,
		cartTTL:     cartTTL,
		logger:      util.GetLogger(),
	}
}

// CustomerInfo is the contact block captured at checkout
type CustomerInfo struct {
	Name  string
	Email string
	Phone string
}

// CheckoutResponse is returned after an order is created
type CheckoutResponse struct {
	OrderID          int64  `json:"order_id"`
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
	Status           string `json:"status"`
}

// Checkout creates a pending order from an explicit cart snapshot, assigns
// the requested domain inside the same transaction, and opens a payment
// session.
func (s *OrderService) Checkout(ctx context.Context, cart models.CartContext, customer CustomerInfo, idempotencyKey string) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Checkout")
	defer span.End()

	if idempotencyKey != "" {
		cached, err := s.sessions.GetIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			s.logger.Warn("Idempotency lookup failed", zap.Error(err))
		} else if cached != "" {
			var resp CheckoutResponse
			if err := json.Unmarshal([]byte(cached), &resp); err == nil {
				s.logger.Info("Duplicate checkout request",
					zap.String("idempotency_key", idempotencyKey),
					zap.Int64("order_id", resp.OrderID))
				return &resp, nil
			}
		}
	}

	if len(cart.Items) == 0 {
		util.CheckoutsFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, fmt.Errorf("cart has no items")
	}

	items, original, err := s.snapshotItems(ctx, cart.Items)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	if cart.DiscountPercent < 0 || cart.DiscountPercent > 100 {
		util.CheckoutsFailedTotal.WithLabelValues("invalid_discount").Inc()
		return nil, fmt.Errorf("invalid discount percent: %d", cart.DiscountPercent)
	}
	discount := original * int64(cart.DiscountPercent) / 100

	order := &models.Order{
		Status:         models.OrderStatusPending,
		CustomerName:   customer.Name,
		CustomerEmail:  customer.Email,
		CustomerPhone:  customer.Phone,
		OriginalAmount: original,
		DiscountAmount: discount,
		FinalAmount:    original - discount,
		SessionID:      cart.SessionID,
	}

	if cart.AffiliateCode != "" {
		if _, aerr := s.store.GetAffiliateByCode(ctx, cart.AffiliateCode); aerr == nil {
			order.AffiliateCode = sql.NullString{String: cart.AffiliateCode, Valid: true}
		} else if !errors.Is(aerr, store.ErrNotFound) {
			return nil, aerr
		} else {
			s.logger.Info("Ignoring unknown affiliate code",
				zap.String("code", cart.AffiliateCode))
		}
	}

	err = s.store.CreateOrderWithItems(ctx, order, items, cart.DomainID)
	if errors.Is(err, store.ErrDomainUnavailable) {
		util.DomainAllocationsFailed.Inc()
		util.CheckoutsFailedTotal.WithLabelValues("domain_taken").Inc()
		return nil, err
	}
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.CheckoutsTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("final_amount", order.FinalAmount))

	if err := s.sessions.SaveCartSnapshot(ctx, cart.SessionID, cart, s.cartTTL); err != nil {
		s.logger.Warn("Failed to save cart snapshot", zap.Error(err))
	}
	if err := s.sessions.QueueNotification(ctx, order.ID, "payment_reminder"); err != nil {
		s.logger.Warn("Failed to queue payment reminder", zap.Error(err))
	}

	reference := NewReference(order.ID)
	resp := &CheckoutResponse{
		OrderID:   order.ID,
		Reference: reference,
		Status:    models.OrderStatusPending,
	}

	init, err := s.gateway.InitializeTransaction(ctx, customer.Email, order.FinalAmount, reference, s.callbackURL)
	if err != nil {
		// The order stands; a webhook for this reference can still bind
		// through the reference prefix even without a payment row.
		s.logger.Error("Payment session initialization failed",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	} else {
		resp.AuthorizationURL = init.AuthorizationURL
	}

	payment := &models.Payment{
		OrderID:         order.ID,
		Reference:       reference,
		Status:          models.PaymentStatusPending,
		RequestedAmount: order.FinalAmount,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil && !errors.Is(err, store.ErrDuplicate) {
		s.logger.Error("Failed to create payment row",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}

	if idempotencyKey != "" {
		if data, merr := json.Marshal(resp); merr == nil {
			if err := s.sessions.SetIdempotencyKey(ctx, idempotencyKey, string(data), 24*time.Hour); err != nil {
				s.logger.Warn("Failed to store idempotency key", zap.Error(err))
			}
		}
	}

	return resp, nil
}

func (s *OrderService) snapshotItems(ctx context.Context, cartItems []models.CartItem) ([]models.OrderItem, int64, error) {
	items := make([]models.OrderItem, 0, len(cartItems))
	var total int64

	for _, ci := range cartItems {
		if ci.Quantity < 1 {
			return nil, 0, fmt.Errorf("invalid quantity for product %d", ci.ProductID)
		}

		product, err := s.store.GetProduct(ctx, ci.ProductType, ci.ProductID)
		if err != nil {
			return nil, 0, err
		}
		if !product.Active {
			return nil, 0, fmt.Errorf("product %s/%d is not for sale", ci.ProductType, ci.ProductID)
		}

		// Unit price is captured here and never recomputed from the
		// catalog later.
		items = append(items, models.OrderItem{
			ProductType: ci.ProductType,
			ProductID:   ci.ProductID,
			Quantity:    ci.Quantity,
			UnitPrice:   product.Price,
		})
		total += product.Price * int64(ci.Quantity)
	}

	return items, total, nil
}

// StatusResponse is the coarse customer-facing order state
type StatusResponse struct {
	Status        string `json:"status"`
	CanRetry      bool   `json:"can_retry"`
	CanCheckAgain bool   `json:"can_check_again"`
}

// Status resolves an order by id or payment reference and reports its
// coarse state. Internal detail never leaves this call.
func (s *OrderService) Status(ctx context.Context, orderID int64, reference string) (*StatusResponse, error) {
	if orderID == 0 && reference != "" {
		payment, err := s.store.GetPaymentByReference(ctx, reference)
		if err == nil {
			orderID = payment.OrderID
		} else if errors.Is(err, store.ErrNotFound) {
			if parsed, perr := ParseReference(reference); perr == nil {
				orderID = parsed
			}
		} else {
			return nil, err
		}
	}

	if orderID == 0 {
		return &StatusResponse{Status: "not_found"}, nil
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return &StatusResponse{Status: "not_found"}, nil
	}
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case models.OrderStatusPaid:
		return &StatusResponse{Status: models.OrderStatusPaid}, nil
	case models.OrderStatusPending:
		return &StatusResponse{Status: models.OrderStatusPending, CanCheckAgain: true}, nil
	default:
		// failed and cancelled both read as failed to the customer; a new
		// checkout is the only way forward
		return &StatusResponse{Status: models.OrderStatusFailed, CanRetry: true}, nil
	}
}

// Cancel performs the user-initiated cancellation CAS. Legal only while
// the order is pending or failed; it can never race ahead of an already
// reconciled payment.
func (s *OrderService) Cancel(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}

	won, err := s.store.TransitionOrderStatus(ctx, orderID,
		[]string{models.OrderStatusPending, models.OrderStatusFailed},
		models.OrderStatusCancelled)
	if err != nil {
		return err
	}
	if !won {
		return ErrCancelNotAllowed
	}

	if err := s.store.ReleaseDomain(ctx, orderID); err != nil {
		s.logger.Error("Failed to release domain for cancelled order",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
	if err := s.sessions.ClearQueuedNotifications(ctx, orderID); err != nil {
		s.logger.Warn("Failed to clear queued notifications", zap.Error(err))
	}
	if err := s.sessions.ClearCartSnapshot(ctx, order.SessionID); err != nil {
		s.logger.Warn("Failed to clear cart snapshot", zap.Error(err))
	}

	s.logger.Info("Order cancelled", zap.Int64("order_id", orderID))

	if s.events != nil {
		event := &models.OrderCancelledEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeOrderCancelled),
			OrderID:   orderID,
		}
		if err := s.events.PublishOrderCancelled(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
		}
	}

	return nil
}
