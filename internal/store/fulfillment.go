package store

import (
	"context"
	"database/sql"
	"fmt"

	"storefront-service/internal/models"
)

// CreateDeliveryRecord inserts a delivery record for one (order, product)
// pair. The unique constraint makes re-invocation a no-op; callers see
// ErrDuplicate and skip the item.
func (s *Store) CreateDeliveryRecord(ctx context.Context, rec *models.DeliveryRecord) error {
	query := `
		INSERT INTO delivery_records (order_id, product_type, product_id, delivery_status, attempts)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, rec, query,
		rec.OrderID, rec.ProductType, rec.ProductID, rec.DeliveryStatus, rec.Attempts)
	if isUniqueViolation(err) {
		return fmt.Errorf("delivery for order %d product %s/%d: %w",
			rec.OrderID, rec.ProductType, rec.ProductID, ErrDuplicate)
	}
	return err
}

// GetDeliveryRecord retrieves a delivery record by ID
func (s *Store) GetDeliveryRecord(ctx context.Context, id int64) (*models.DeliveryRecord, error) {
	var rec models.DeliveryRecord
	err := s.db.GetContext(ctx, &rec, "SELECT * FROM delivery_records WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("delivery record %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetDeliveriesByOrderID retrieves all delivery records for an order
func (s *Store) GetDeliveriesByOrderID(ctx context.Context, orderID int64) ([]models.DeliveryRecord, error) {
	var recs []models.DeliveryRecord
	err := s.db.SelectContext(ctx, &recs,
		"SELECT * FROM delivery_records WHERE order_id = $1 ORDER BY id", orderID)
	return recs, err
}

// UpdateDeliveryStatus records the outcome of a delivery attempt
func (s *Store) UpdateDeliveryStatus(ctx context.Context, id int64, status string, attempts int, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE delivery_records SET delivery_status = $1, attempts = $2, last_error = $3, updated_at = NOW() WHERE id = $4",
		status, attempts, lastError, id)
	return err
}

// GetAffiliateByCode retrieves an affiliate by its referral code
func (s *Store) GetAffiliateByCode(ctx context.Context, code string) (*models.Affiliate, error) {
	var aff models.Affiliate
	err := s.db.GetContext(ctx, &aff, "SELECT * FROM affiliates WHERE code = $1", code)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("affiliate %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &aff, nil
}

// GetSaleRecordByOrderID retrieves the commission entry for an order
func (s *Store) GetSaleRecordByOrderID(ctx context.Context, orderID int64) (*models.SaleRecord, error) {
	var sale models.SaleRecord
	err := s.db.GetContext(ctx, &sale, "SELECT * FROM sale_records WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sale record for order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// CreateSaleRecordTx writes the sale record and increments the affiliate's
// aggregates in one transaction; either both land or neither does.
// A duplicate order_id surfaces ErrDuplicate (sale already recorded).
func (s *Store) CreateSaleRecordTx(ctx context.Context, sale *models.SaleRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO sale_records (affiliate_id, order_id, commission_amount, sale_amount)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		sale.AffiliateID, sale.OrderID, sale.CommissionAmount, sale.SaleAmount,
	).Scan(&sale.ID, &sale.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("sale record for order %d: %w", sale.OrderID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert sale record: %w", err)
	}

	if sale.AffiliateID.Valid {
		_, err = tx.ExecContext(ctx, `
			UPDATE affiliates
			SET pending_commission = pending_commission + $1, total_sales = total_sales + 1
			WHERE id = $2`,
			sale.CommissionAmount, sale.AffiliateID.Int64)
		if err != nil {
			return fmt.Errorf("failed to update affiliate aggregates: %w", err)
		}
	}

	return tx.Commit()
}

// RecordWebhookEvent persists a raw gateway event for forensic replay.
// Every event is kept, including rejected and orphaned ones.
func (s *Store) RecordWebhookEvent(ctx context.Context, ev *models.WebhookEvent) error {
	return s.db.GetContext(ctx, ev, `
		INSERT INTO webhook_events (event_type, reference, payload, source_ip, verdict)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		ev.EventType, ev.Reference, ev.Payload, ev.SourceIP, ev.Verdict)
}
