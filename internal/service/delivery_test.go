package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeliveryStore struct {
	mu             sync.Mutex
	orders         map[int64]*models.Order
	items          map[int64][]models.OrderItem
	products       map[string]*models.Product
	deliveries     map[int64]*models.DeliveryRecord
	nextDeliveryID int64
}

func newFakeDeliveryStore() *fakeDeliveryStore {
	return &fakeDeliveryStore{
		orders:     make(map[int64]*models.Order),
		items:      make(map[int64][]models.OrderItem),
		products:   make(map[string]*models.Product),
		deliveries: make(map[int64]*models.DeliveryRecord),
	}
}

func productKey(productType string, id int64) string {
	return fmt.Sprintf("%s/%d", productType, id)
}

func (f *fakeDeliveryStore) addProduct(p *models.Product) {
	f.products[productKey(p.ProductType, p.ID)] = p
}

func (f *fakeDeliveryStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, store.ErrNotFound)
	}
	cp := *order
	return &cp, nil
}

func (f *fakeDeliveryStore) GetOrderItemsByOrderID(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[orderID], nil
}

func (f *fakeDeliveryStore) GetProduct(_ context.Context, productType string, id int64) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productKey(productType, id)]
	if !ok {
		return nil, fmt.Errorf("product %s/%d: %w", productType, id, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeDeliveryStore) CreateDeliveryRecord(_ context.Context, rec *models.DeliveryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.deliveries {
		if existing.OrderID == rec.OrderID && existing.ProductType == rec.ProductType && existing.ProductID == rec.ProductID {
			return fmt.Errorf("delivery for order %d product %d: %w", rec.OrderID, rec.ProductID, store.ErrDuplicate)
		}
	}
	f.nextDeliveryID++
	rec.ID = f.nextDeliveryID
	cp := *rec
	f.deliveries[rec.ID] = &cp
	return nil
}

func (f *fakeDeliveryStore) GetDeliveryRecord(_ context.Context, id int64) (*models.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.deliveries[id]
	if !ok {
		return nil, fmt.Errorf("delivery %d: %w", id, store.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeDeliveryStore) GetDeliveriesByOrderID(_ context.Context, orderID int64) ([]models.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DeliveryRecord
	for _, rec := range f.deliveries {
		if rec.OrderID == orderID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeDeliveryStore) UpdateDeliveryStatus(_ context.Context, id int64, status string, attempts int, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.deliveries[id]
	if !ok {
		return fmt.Errorf("delivery %d: %w", id, store.ErrNotFound)
	}
	rec.DeliveryStatus = status
	rec.Attempts = attempts
	rec.LastError = lastError
	return nil
}

func (f *fakeDeliveryStore) deliveryStatus(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deliveries[id].DeliveryStatus
}

type fakeDeliveryMailer struct {
	mu            sync.Mutex
	calls         []string
	deliveryError error
}

func (m *fakeDeliveryMailer) SendOrderConfirmation(_ context.Context, _ *models.Order, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "confirmation")
	return nil
}

func (m *fakeDeliveryMailer) SendProductDelivery(_ context.Context, _ *models.Order, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deliveryError != nil {
		return m.deliveryError
	}
	m.calls = append(m.calls, "delivery")
	return nil
}

type fakeDeliveryEvents struct {
	mu          sync.Mutex
	completed   []*models.DeliveryCompletedEvent
	retryQueued []*models.DeliveryRetryEvent
}

func (e *fakeDeliveryEvents) PublishDeliveryCompleted(_ context.Context, ev *models.DeliveryCompletedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed = append(e.completed, ev)
	return nil
}

func (e *fakeDeliveryEvents) PublishDeliveryRetry(_ context.Context, ev *models.DeliveryRetryEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retryQueued = append(e.retryQueued, ev)
	return nil
}

func paidOrderFixture(st *fakeDeliveryStore) {
	st.orders[1] = &models.Order{ID: 1, Status: models.OrderStatusPaid, CustomerEmail: "buyer@example.com"}
	st.items[1] = []models.OrderItem{
		{OrderID: 1, ProductType: models.ProductTypeTemplate, ProductID: 10, Quantity: 1, UnitPrice: 5000},
		{OrderID: 1, ProductType: models.ProductTypeTool, ProductID: 20, Quantity: 1, UnitPrice: 3000},
	}
	st.addProduct(&models.Product{ID: 10, ProductType: models.ProductTypeTemplate, Name: "Agency Kit", SourcePath: "/files/templates/agency.zip"})
	st.addProduct(&models.Product{ID: 20, ProductType: models.ProductTypeTool, Name: "SEO Audit", SourcePath: "/files/tools/seo-audit.zip"})
}

func TestFulfillDeliversAllItems(t *testing.T) {
	st := newFakeDeliveryStore()
	paidOrderFixture(st)
	mailer := &fakeDeliveryMailer{}
	events := &fakeDeliveryEvents{}

	d := NewDeliveryOrchestrator(st, mailer, events, 5)

	result, err := d.Fulfill(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 2, result.CreatedRecords)
	assert.Equal(t, 3, result.NotificationsSent)

	for id := range st.deliveries {
		assert.Equal(t, models.DeliveryStatusDelivered, st.deliveryStatus(id))
	}
	assert.Len(t, events.completed, 2)
}

func TestFulfillConfirmationPrecedesDelivery(t *testing.T) {
	st := newFakeDeliveryStore()
	paidOrderFixture(st)
	mailer := &fakeDeliveryMailer{}

	d := NewDeliveryOrchestrator(st, mailer, &fakeDeliveryEvents{}, 5)

	_, err := d.Fulfill(context.Background(), 1)
	require.NoError(t, err)

	require.NotEmpty(t, mailer.calls)
	assert.Equal(t, "confirmation", mailer.calls[0])
}

func TestFulfillIdempotent(t *testing.T) {
	st := newFakeDeliveryStore()
	paidOrderFixture(st)
	mailer := &fakeDeliveryMailer{}

	d := NewDeliveryOrchestrator(st, mailer, &fakeDeliveryEvents{}, 5)
	ctx := context.Background()

	_, err := d.Fulfill(ctx, 1)
	require.NoError(t, err)
	firstCalls := len(mailer.calls)

	result, err := d.Fulfill(ctx, 1)
	require.NoError(t, err)

	assert.Zero(t, result.CreatedRecords)
	assert.Zero(t, result.NotificationsSent)
	assert.Len(t, mailer.calls, firstCalls)
	assert.Len(t, st.deliveries, 2)
}

func TestFulfillRejectsUnpaidOrder(t *testing.T) {
	st := newFakeDeliveryStore()
	paidOrderFixture(st)
	st.orders[1].Status = models.OrderStatusPending

	d := NewDeliveryOrchestrator(st, &fakeDeliveryMailer{}, &fakeDeliveryEvents{}, 5)

	_, err := d.Fulfill(context.Background(), 1)
	assert.Error(t, err)
	assert.Empty(t, st.deliveries)
}

func TestFulfillTransientFailureQueuesRetry(t *testing.T) {
	st := newFakeDeliveryStore()
	paidOrderFixture(st)
	st.items[1] = st.items[1][:1]
	mailer := &fakeDeliveryMailer{deliveryError: errors.New("smtp timeout")}
	events := &fakeDeliveryEvents{}

	d := NewDeliveryOrchestrator(st, mailer, events, 5)

	_, err := d.Fulfill(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, st.deliveries, 1)
	var recID int64
	for id := range st.deliveries {
		recID = id
	}
	assert.Equal(t, models.DeliveryStatusPendingRetry, st.deliveryStatus(recID))

	require.Len(t, events.retryQueued, 1)
	ev := events.retryQueued[0]
	assert.Equal(t, recID, ev.DeliveryID)
	assert.Equal(t, 1, ev.Attempt)
	assert.Equal(t, "smtp timeout", ev.LastFailure)
	assert.True(t, ev.NotBefore.After(time.Now()))
}

func TestFulfillMissingSourceFileFailsPermanently(t *testing.T) {
	st := newFakeDeliveryStore()
	st.orders[1] = &models.Order{ID: 1, Status: models.OrderStatusPaid}
	st.items[1] = []models.OrderItem{
		{OrderID: 1, ProductType: models.ProductTypeTemplate, ProductID: 10, Quantity: 1},
	}
	st.addProduct(&models.Product{ID: 10, ProductType: models.ProductTypeTemplate, Name: "Broken"})
	events := &fakeDeliveryEvents{}

	d := NewDeliveryOrchestrator(st, &fakeDeliveryMailer{}, events, 5)

	_, err := d.Fulfill(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, st.deliveries, 1)
	for id := range st.deliveries {
		assert.Equal(t, models.DeliveryStatusFailed, st.deliveryStatus(id))
	}
	// Permanent failures never enter the retry queue
	assert.Empty(t, events.retryQueued)
}

func TestRetryDeliverySucceeds(t *testing.T) {
	st := newFakeDeliveryStore()
	paidOrderFixture(st)
	st.deliveries[7] = &models.DeliveryRecord{
		ID: 7, OrderID: 1,
		ProductType:    models.ProductTypeTemplate,
		ProductID:      10,
		DeliveryStatus: models.DeliveryStatusPendingRetry,
		Attempts:       1,
	}
	mailer := &fakeDeliveryMailer{}

	d := NewDeliveryOrchestrator(st, mailer, &fakeDeliveryEvents{}, 5)

	err := d.RetryDelivery(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, models.DeliveryStatusDelivered, st.deliveryStatus(7))
	assert.Equal(t, 2, st.deliveries[7].Attempts)
}

func TestRetryDeliveryStaleRecordIsNoop(t *testing.T) {
	st := newFakeDeliveryStore()
	paidOrderFixture(st)
	st.deliveries[7] = &models.DeliveryRecord{
		ID: 7, OrderID: 1,
		ProductType:    models.ProductTypeTemplate,
		ProductID:      10,
		DeliveryStatus: models.DeliveryStatusDelivered,
		Attempts:       2,
	}
	mailer := &fakeDeliveryMailer{}

	d := NewDeliveryOrchestrator(st, mailer, &fakeDeliveryEvents{}, 5)

	err := d.RetryDelivery(context.Background(), 7)
	require.NoError(t, err)

	assert.Empty(t, mailer.calls)
	assert.Equal(t, 2, st.deliveries[7].Attempts)
}

func TestRetryExhaustionMarksFailed(t *testing.T) {
	st := newFakeDeliveryStore()
	paidOrderFixture(st)
	st.deliveries[7] = &models.DeliveryRecord{
		ID: 7, OrderID: 1,
		ProductType:    models.ProductTypeTemplate,
		ProductID:      10,
		DeliveryStatus: models.DeliveryStatusPendingRetry,
		Attempts:       4,
	}
	mailer := &fakeDeliveryMailer{deliveryError: errors.New("smtp timeout")}
	events := &fakeDeliveryEvents{}

	d := NewDeliveryOrchestrator(st, mailer, events, 5)

	err := d.RetryDelivery(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, models.DeliveryStatusFailed, st.deliveryStatus(7))
	assert.Empty(t, events.retryQueued)
}

func TestRetryBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, 30*time.Second, retryBackoff(1))
	assert.Equal(t, 60*time.Second, retryBackoff(2))
	assert.Equal(t, 120*time.Second, retryBackoff(3))
	assert.Equal(t, time.Hour, retryBackoff(10))
}
