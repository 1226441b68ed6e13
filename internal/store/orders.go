package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-service/internal/models"

	"github.com/lib/pq"
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// CreateOrderWithItems creates an order, its items, and an optional domain
// allocation in one transaction. A lost domain race rolls everything back;
// a partial order must never reference an unassigned domain.
func (s *Store) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem, domainID *int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (status, customer_name, customer_email, customer_phone,
			original_amount, discount_amount, final_amount, affiliate_code, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.Status, order.CustomerName, order.CustomerEmail, order.CustomerPhone,
		order.OriginalAmount, order.DiscountAmount, order.FinalAmount,
		order.AffiliateCode, order.SessionID,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO order_items (order_id, product_type, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			items[i].OrderID, items[i].ProductType, items[i].ProductID,
			items[i].Quantity, items[i].UnitPrice,
		).Scan(&items[i].ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if domainID != nil {
		if err := s.AllocateDomainTx(ctx, tx, *domainID, order.ID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// TransitionOrderStatus performs the status compare-and-swap: the update
// applies only while the order is still in one of the expected states.
// The affected-row count decides the race; callers treat false as
// "another path already reconciled this order".
func (s *Store) TransitionOrderStatus(ctx context.Context, orderID int64, from []string, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = ANY($3)",
		to, orderID, pq.Array(from))
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// CreatePayment creates a new payment attempt. The reference is globally
// unique; a concurrent insert for the same reference surfaces ErrDuplicate
// so the caller can re-read instead of failing.
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, reference, status, requested_amount, paid_amount, raw_response)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, payment, query,
		payment.OrderID, payment.Reference, payment.Status,
		payment.RequestedAmount, payment.PaidAmount, payment.RawResponse)
	if isUniqueViolation(err) {
		return fmt.Errorf("payment reference %s: %w", payment.Reference, ErrDuplicate)
	}
	return err
}

// GetPaymentByReference retrieves a payment by its gateway reference
func (s *Store) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE reference = $1", reference)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment %s: %w", reference, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentsByOrderID retrieves all payment attempts for an order,
// newest first
func (s *Store) GetPaymentsByOrderID(ctx context.Context, orderID int64) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at DESC", orderID)
	return payments, err
}

// CompletePayment commits a payment to its terminal status. The predicate
// keeps a completed payment from ever regressing.
func (s *Store) CompletePayment(ctx context.Context, paymentID int64, status string, paidAmount int64, rawResponse string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = $1, paid_amount = $2, raw_response = $3, updated_at = NOW()
		 WHERE id = $4 AND status = $5`,
		status, paidAmount, rawResponse, paymentID, models.PaymentStatusPending)
	return err
}
