package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"storefront-service/internal/models"
	"storefront-service/internal/store"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// LedgerStore is the persistence surface the commission ledger needs
type LedgerStore interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetSaleRecordByOrderID(ctx context.Context, orderID int64) (*models.SaleRecord, error)
	GetAffiliateByCode(ctx context.Context, code string) (*models.Affiliate, error)
	CreateSaleRecordTx(ctx context.Context, sale *models.SaleRecord) error
}

// LedgerEvents publishes recorded commissions to the audit stream
type LedgerEvents interface {
	PublishCommissionRecorded(ctx context.Context, event *models.CommissionRecordedEvent) error
}

// CommissionLedger records the single-sale commission entry for a paid
// order. Only called from the success branch of reconciliation, so it is
// already protected by the order-status CAS.
type CommissionLedger struct {
	store       LedgerStore
	events      LedgerEvents
	defaultRate float64
	logger      *zap.Logger
}

// NewCommissionLedger creates the ledger. defaultRate applies to
// affiliates without a per-partner rate.
func NewCommissionLedger(st LedgerStore, events LedgerEvents, defaultRate float64) *CommissionLedger {
	return &CommissionLedger{
		store:       st,
		events:      events,
		defaultRate: defaultRate,
		logger:      util.GetLogger(),
	}
}

// RecordSale writes the sale record for a paid order. Commission is
// computed on the amount the customer actually paid, post-discount — a
// product decision, not an implementation detail. Idempotent: an order
// with an existing sale record returns it unchanged.
func (cl *CommissionLedger) RecordSale(ctx context.Context, orderID int64) (*models.SaleRecord, error) {
	ctx, span := util.StartSpan(ctx, "CommissionLedger.RecordSale")
	defer span.End()

	order, err := cl.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPaid {
		return nil, fmt.Errorf("order %d is %s, not paid", orderID, order.Status)
	}

	existing, err := cl.store.GetSaleRecordByOrderID(ctx, orderID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	sale := &models.SaleRecord{
		OrderID:    orderID,
		SaleAmount: order.FinalAmount,
	}

	if order.AffiliateCode.Valid && order.AffiliateCode.String != "" {
		affiliate, aerr := cl.store.GetAffiliateByCode(ctx, order.AffiliateCode.String)
		if aerr != nil && !errors.Is(aerr, store.ErrNotFound) {
			return nil, aerr
		}
		if affiliate != nil {
			rate := affiliate.CommissionRate
			if rate <= 0 {
				rate = cl.defaultRate
			}
			sale.AffiliateID = sql.NullInt64{Int64: affiliate.ID, Valid: true}
			sale.CommissionAmount = int64(math.Round(float64(order.FinalAmount) * rate))
		}
	}

	err = cl.store.CreateSaleRecordTx(ctx, sale)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with another recorder for the same order
		return cl.store.GetSaleRecordByOrderID(ctx, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record sale: %w", err)
	}

	util.CommissionsRecordedTotal.Inc()
	cl.logger.Info("Sale recorded",
		zap.Int64("order_id", orderID),
		zap.Int64("sale_amount", sale.SaleAmount),
		zap.Int64("commission", sale.CommissionAmount))

	if cl.events != nil {
		event := &models.CommissionRecordedEvent{
			BaseEvent:        models.NewBaseEvent(models.EventTypeCommissionRecorded),
			OrderID:          orderID,
			SaleRecordID:     sale.ID,
			AffiliateID:      sale.AffiliateID.Int64,
			CommissionAmount: sale.CommissionAmount,
		}
		if err := cl.events.PublishCommissionRecorded(ctx, event); err != nil {
			cl.logger.Error("Failed to publish CommissionRecorded event", zap.Error(err))
		}
	}

	return sale, nil
}
