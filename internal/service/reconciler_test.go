package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"storefront-service/internal/models"
	"storefront-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReconStore implements ReconcileStore in memory with the same
// conditional-update semantics as the SQL store.
type fakeReconStore struct {
	mu            sync.Mutex
	orders        map[int64]*models.Order
	payments      map[string]*models.Payment
	nextPaymentID int64
	webhookEvents []*models.WebhookEvent
}

func newFakeReconStore() *fakeReconStore {
	return &fakeReconStore{
		orders:   make(map[int64]*models.Order),
		payments: make(map[string]*models.Payment),
	}
}

func (f *fakeReconStore) addOrder(id int64, status string) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	order := &models.Order{ID: id, Status: status, FinalAmount: 8000, SessionID: fmt.Sprintf("sess-%d", id)}
	f.orders[id] = order
	return order
}

func (f *fakeReconStore) addPayment(orderID int64, reference, status string) *models.Payment {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPaymentID++
	p := &models.Payment{ID: f.nextPaymentID, OrderID: orderID, Reference: reference, Status: status}
	f.payments[reference] = p
	return p
}

func (f *fakeReconStore) GetPaymentByReference(_ context.Context, reference string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[reference]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", reference, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeReconStore) CreatePayment(_ context.Context, payment *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.payments[payment.Reference]; exists {
		return fmt.Errorf("payment reference %s: %w", payment.Reference, store.ErrDuplicate)
	}
	f.nextPaymentID++
	payment.ID = f.nextPaymentID
	cp := *payment
	f.payments[payment.Reference] = &cp
	return nil
}

func (f *fakeReconStore) CompletePayment(_ context.Context, paymentID int64, status string, paidAmount int64, raw string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.ID == paymentID && p.Status == models.PaymentStatusPending {
			p.Status = status
			p.PaidAmount = paidAmount
			p.RawResponse = raw
		}
	}
	return nil
}

func (f *fakeReconStore) TransitionOrderStatus(_ context.Context, orderID int64, from []string, to string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if order.Status == s {
			order.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeReconStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	cp := *order
	return &cp, nil
}

func (f *fakeReconStore) RecordWebhookEvent(_ context.Context, ev *models.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhookEvents = append(f.webhookEvents, ev)
	return nil
}

func (f *fakeReconStore) orderStatus(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id].Status
}

type fakeFulfiller struct {
	calls int32
}

func (f *fakeFulfiller) Fulfill(context.Context, int64) (*FulfillmentResult, error) {
	atomic.AddInt32(&f.calls, 1)
	return &FulfillmentResult{CreatedRecords: 1, NotificationsSent: 1}, nil
}

type fakeLedger struct {
	calls int32
}

func (f *fakeLedger) RecordSale(context.Context, int64) (*models.SaleRecord, error) {
	atomic.AddInt32(&f.calls, 1)
	return &models.SaleRecord{}, nil
}

type fakeSessions struct {
	cleared int32
}

func (f *fakeSessions) ClearCartSnapshot(context.Context, string) error {
	return nil
}

func (f *fakeSessions) ClearQueuedNotifications(context.Context, int64) error {
	atomic.AddInt32(&f.cleared, 1)
	return nil
}

func newTestReconciler(st *fakeReconStore) (*PaymentReconciler, *fakeFulfiller, *fakeLedger, *fakeSessions) {
	fulfill := &fakeFulfiller{}
	ledger := &fakeLedger{}
	sessions := &fakeSessions{}
	return NewPaymentReconciler(st, fulfill, ledger, sessions, nil), fulfill, ledger, sessions
}

func TestReconcileSuccess(t *testing.T) {
	st := newFakeReconStore()
	st.addOrder(1001, models.OrderStatusPending)
	st.addPayment(1001, "ORDER-1001-1700000000-abcd1234", models.PaymentStatusPending)

	r, fulfill, ledger, _ := newTestReconciler(st)

	res, err := r.Reconcile(context.Background(), SourceWebhook,
		"ORDER-1001-1700000000-abcd1234", OutcomeSuccess, GatewayPayload{Amount: 8000})
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, int64(1001), res.OrderID)
	assert.Equal(t, models.OrderStatusPaid, st.orderStatus(1001))
	assert.Equal(t, int32(1), fulfill.calls)
	assert.Equal(t, int32(1), ledger.calls)

	p, err := st.GetPaymentByReference(context.Background(), "ORDER-1001-1700000000-abcd1234")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
	assert.Equal(t, int64(8000), p.PaidAmount)
}

func TestReconcileDuplicateDelivery(t *testing.T) {
	// The provider delivers charge.success twice: the second call must be
	// a no-op with nothing re-created.
	st := newFakeReconStore()
	st.addOrder(1001, models.OrderStatusPending)
	st.addPayment(1001, "ORDER-1001-1700000000-abcd1234", models.PaymentStatusPending)

	r, fulfill, ledger, _ := newTestReconciler(st)
	ctx := context.Background()

	first, err := r.Reconcile(ctx, SourceWebhook, "ORDER-1001-1700000000-abcd1234", OutcomeSuccess, GatewayPayload{Amount: 8000})
	require.NoError(t, err)
	assert.True(t, first.Applied)

	second, err := r.Reconcile(ctx, SourceWebhook, "ORDER-1001-1700000000-abcd1234", OutcomeSuccess, GatewayPayload{Amount: 8000})
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, int64(1001), second.OrderID)

	assert.Equal(t, int32(1), fulfill.calls)
	assert.Equal(t, int32(1), ledger.calls)
}

func TestReconcileIdempotentUnderRepetition(t *testing.T) {
	st := newFakeReconStore()
	st.addOrder(7, models.OrderStatusPending)
	st.addPayment(7, "ORDER-7-1700000000-abcd1234", models.PaymentStatusPending)

	r, fulfill, ledger, _ := newTestReconciler(st)
	ctx := context.Background()

	applied := 0
	for i := 0; i < 10; i++ {
		res, err := r.Reconcile(ctx, SourceVerify, "ORDER-7-1700000000-abcd1234", OutcomeSuccess, GatewayPayload{Amount: 8000})
		require.NoError(t, err)
		if res.Applied {
			applied++
		}
	}

	assert.Equal(t, 1, applied)
	assert.Equal(t, int32(1), fulfill.calls)
	assert.Equal(t, int32(1), ledger.calls)
}

func TestReconcileVerifyWebhookRace(t *testing.T) {
	// The verify path and the webhook path fire within milliseconds of
	// each other: exactly one performs fulfillment.
	for i := 0; i < 50; i++ {
		st := newFakeReconStore()
		st.addOrder(1001, models.OrderStatusPending)
		st.addPayment(1001, "ORDER-1001-1700000000-abcd1234", models.PaymentStatusPending)

		r, fulfill, ledger, _ := newTestReconciler(st)

		var applied int32
		var wg sync.WaitGroup
		for _, source := range []string{SourceVerify, SourceWebhook} {
			wg.Add(1)
			go func(src string) {
				defer wg.Done()
				res, err := r.Reconcile(context.Background(), src,
					"ORDER-1001-1700000000-abcd1234", OutcomeSuccess, GatewayPayload{Amount: 8000})
				require.NoError(t, err)
				if res.Applied {
					atomic.AddInt32(&applied, 1)
				}
			}(source)
		}
		wg.Wait()

		assert.Equal(t, int32(1), applied)
		assert.Equal(t, int32(1), fulfill.calls)
		assert.Equal(t, int32(1), ledger.calls)
		assert.Equal(t, models.OrderStatusPaid, st.orderStatus(1001))
	}
}

func TestReconcilePaidOrderNeverRegresses(t *testing.T) {
	// A delayed charge.failed for an already-paid order must not alter
	// status or trigger anything.
	st := newFakeReconStore()
	st.addOrder(1001, models.OrderStatusPending)
	st.addPayment(1001, "ORDER-1001-1700000000-abcd1234", models.PaymentStatusPending)

	r, fulfill, _, _ := newTestReconciler(st)
	ctx := context.Background()

	res, err := r.Reconcile(ctx, SourceWebhook, "ORDER-1001-1700000000-abcd1234", OutcomeSuccess, GatewayPayload{Amount: 8000})
	require.NoError(t, err)
	require.True(t, res.Applied)

	late, err := r.Reconcile(ctx, SourceWebhook, "ORDER-1001-1700000000-abcd1234", OutcomeFailure, GatewayPayload{})
	require.NoError(t, err)
	assert.False(t, late.Applied)
	assert.Equal(t, models.OrderStatusPaid, st.orderStatus(1001))
	assert.Equal(t, int32(1), fulfill.calls)
}

func TestReconcileFailureOutcome(t *testing.T) {
	st := newFakeReconStore()
	st.addOrder(42, models.OrderStatusPending)
	st.addPayment(42, "ORDER-42-1700000000-abcd1234", models.PaymentStatusPending)

	r, fulfill, ledger, sessions := newTestReconciler(st)

	res, err := r.Reconcile(context.Background(), SourceWebhook,
		"ORDER-42-1700000000-abcd1234", OutcomeFailure, GatewayPayload{})
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, models.OrderStatusFailed, st.orderStatus(42))
	assert.Zero(t, fulfill.calls)
	assert.Zero(t, ledger.calls)
	assert.Equal(t, int32(1), sessions.cleared)
}

func TestReconcileFailedOrderStaysFailed(t *testing.T) {
	// A later success for a new payment attempt cannot flip a failed
	// order; failed is outside the CAS predicate.
	st := newFakeReconStore()
	st.addOrder(42, models.OrderStatusFailed)
	st.addPayment(42, "ORDER-42-1700000099-ffff0000", models.PaymentStatusPending)

	r, fulfill, _, _ := newTestReconciler(st)

	res, err := r.Reconcile(context.Background(), SourceWebhook,
		"ORDER-42-1700000099-ffff0000", OutcomeSuccess, GatewayPayload{Amount: 8000})
	require.NoError(t, err)

	assert.False(t, res.Applied)
	assert.Equal(t, models.OrderStatusFailed, st.orderStatus(42))
	assert.Zero(t, fulfill.calls)
}

func TestReconcileLazyPaymentMaterialization(t *testing.T) {
	// The webhook can arrive before session-initialization bookkeeping
	// wrote the payment row; the order id is recovered from the reference.
	st := newFakeReconStore()
	st.addOrder(1001, models.OrderStatusPending)

	r, fulfill, _, _ := newTestReconciler(st)

	res, err := r.Reconcile(context.Background(), SourceWebhook,
		"ORDER-1001-1700000000-abcd1234", OutcomeSuccess, GatewayPayload{Amount: 8000})
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, int64(1001), res.OrderID)
	assert.Equal(t, int32(1), fulfill.calls)

	p, err := st.GetPaymentByReference(context.Background(), "ORDER-1001-1700000000-abcd1234")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
}

func TestReconcileOrphanEvent(t *testing.T) {
	st := newFakeReconStore()

	r, fulfill, _, _ := newTestReconciler(st)
	ctx := context.Background()

	// Unparseable reference
	res, err := r.Reconcile(ctx, SourceWebhook, "garbage-reference", OutcomeSuccess, GatewayPayload{})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Zero(t, res.OrderID)

	// Parseable reference but unknown order
	res, err = r.Reconcile(ctx, SourceWebhook, "ORDER-999-1700000000-abcd1234", OutcomeSuccess, GatewayPayload{})
	require.NoError(t, err)
	assert.False(t, res.Applied)

	assert.Zero(t, fulfill.calls)
	require.Len(t, st.webhookEvents, 2)
	for _, ev := range st.webhookEvents {
		assert.Equal(t, models.VerdictOrphaned, ev.Verdict)
	}
}
