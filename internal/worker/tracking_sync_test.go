package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncStore struct {
	mu   sync.Mutex
	rows map[int64]*models.SupplierOrder
}

func newFakeSyncStore(rows ...*models.SupplierOrder) *fakeSyncStore {
	f := &fakeSyncStore{rows: make(map[int64]*models.SupplierOrder)}
	for _, row := range rows {
		cp := *row
		f.rows[row.OrderID] = &cp
	}
	return f
}

func (f *fakeSyncStore) ListSupplierOrdersDueForSync(ctx context.Context, statuses []string, staleness time.Duration, limit int) ([]models.SupplierOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	allowed := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		allowed[s] = true
	}

	var due []models.SupplierOrder
	for _, row := range f.rows {
		if allowed[row.Status] {
			due = append(due, *row)
		}
	}
	return due, nil
}

func (f *fakeSyncStore) UpdateSupplierOrder(ctx context.Context, so *models.SupplierOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *so
	f.rows[so.OrderID] = &cp
	return nil
}

func (f *fakeSyncStore) get(orderID int64) *models.SupplierOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.rows[orderID]
	return &cp
}

// pollingClient serves scripted status responses keyed by external order id.
type pollingClient struct {
	mu        sync.Mutex
	statuses  map[string]*service.SupplierStatusResponse
	errors    map[string]error
	pollCount map[string]int
}

func newPollingClient() *pollingClient {
	return &pollingClient{
		statuses:  make(map[string]*service.SupplierStatusResponse),
		errors:    make(map[string]error),
		pollCount: make(map[string]int),
	}
}

func (c *pollingClient) CreateOrder(ctx context.Context, req *service.SupplierCreateRequest) (*service.SupplierCreateResponse, error) {
	return nil, fmt.Errorf("not used in sync tests")
}

func (c *pollingClient) GetOrderStatus(ctx context.Context, externalOrderID string) (*service.SupplierStatusResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollCount[externalOrderID]++
	if err, ok := c.errors[externalOrderID]; ok {
		return nil, err
	}
	if resp, ok := c.statuses[externalOrderID]; ok {
		return resp, nil
	}
	return nil, fmt.Errorf("unknown order %s", externalOrderID)
}

func (c *pollingClient) CancelOrder(ctx context.Context, externalOrderID string) error {
	return nil
}

// recordingApplier captures events routed to the state machine and can be
// scripted to reject them.
type recordingApplier struct {
	mu     sync.Mutex
	events []*models.TransitionEvent
	err    error
}

func (a *recordingApplier) Apply(ctx context.Context, orderID int64, event *models.TransitionEvent) (*models.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	if a.err != nil {
		return &models.Order{ID: orderID}, a.err
	}
	return &models.Order{ID: orderID, Status: models.OrderStatusShipped}, nil
}

func (a *recordingApplier) applied() []*models.TransitionEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*models.TransitionEvent(nil), a.events...)
}

func submittedRow(orderID int64, externalID string) *models.SupplierOrder {
	return &models.SupplierOrder{
		ID:              orderID,
		OrderID:         orderID,
		SupplierID:      "cjdrop",
		ExternalOrderID: externalID,
		Status:          models.SupplierStatusSubmitted,
	}
}

func testWorker(st SyncStore, client service.SupplierClient, machine TransitionApplier) *TrackingSyncWorker {
	return NewTrackingSyncWorker(st, client, machine, TrackingSyncConfig{
		Interval:    time.Hour,
		BatchSize:   50,
		Concurrency: 4,
		RatePerSec:  1000,
		PollTimeout: time.Second,
	})
}

func TestRunOnceAppliesShippedStatus(t *testing.T) {
	st := newFakeSyncStore(submittedRow(1, "EXT-1"))
	client := newPollingClient()
	client.statuses["EXT-1"] = &service.SupplierStatusResponse{
		OrderID:        "EXT-1",
		Status:         "shipped",
		TrackingNumber: "TRK123",
		TrackingURL:    "https://track.example.com/TRK123",
	}
	applier := &recordingApplier{}

	testWorker(st, client, applier).RunOnce(context.Background())

	events := applier.applied()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventSupplierShipped, events[0].Kind)
	assert.Equal(t, "TRK123", events[0].TrackingNumber)
	assert.Equal(t, models.SupplierDedupKey("cjdrop", "EXT-1", "shipped"), events[0].DedupKey)

	row := st.get(1)
	assert.Equal(t, models.SupplierStatusShipped, row.Status)
	assert.Equal(t, "TRK123", row.TrackingNumber)
	assert.NotNil(t, row.LastSyncedAt)
	assert.Empty(t, row.LastError)
}

func TestRunOnceSkipsUnknownSupplierStatus(t *testing.T) {
	st := newFakeSyncStore(submittedRow(1, "EXT-1"))
	client := newPollingClient()
	client.statuses["EXT-1"] = &service.SupplierStatusResponse{OrderID: "EXT-1", Status: "quarantined"}
	applier := &recordingApplier{}

	testWorker(st, client, applier).RunOnce(context.Background())

	assert.Empty(t, applier.applied(), "unknown statuses must not reach the state machine")

	row := st.get(1)
	assert.Equal(t, models.SupplierStatusSubmitted, row.Status)
	assert.NotNil(t, row.LastSyncedAt, "an answered poll still counts as synced")
}

func TestRunOnceUnchangedStatusOnlyStampsSync(t *testing.T) {
	row := submittedRow(1, "EXT-1")
	row.Status = models.SupplierStatusShipped
	st := newFakeSyncStore(row)
	client := newPollingClient()
	client.statuses["EXT-1"] = &service.SupplierStatusResponse{OrderID: "EXT-1", Status: "in_transit"}
	applier := &recordingApplier{}

	testWorker(st, client, applier).RunOnce(context.Background())

	assert.Empty(t, applier.applied())
	assert.NotNil(t, st.get(1).LastSyncedAt)
}

func TestRunOncePollFailureLeavesSyncStampForRetry(t *testing.T) {
	st := newFakeSyncStore(submittedRow(1, "EXT-1"))
	client := newPollingClient()
	client.errors["EXT-1"] = service.ErrSupplierUnavailable
	applier := &recordingApplier{}
	w := testWorker(st, client, applier)

	w.RunOnce(context.Background())

	row := st.get(1)
	assert.Nil(t, row.LastSyncedAt, "a failed poll must stay due for the next run")
	assert.NotEmpty(t, row.LastError)
	assert.Empty(t, applier.applied())

	// The next pass retries the same order.
	w.RunOnce(context.Background())
	assert.Equal(t, 2, client.pollCount["EXT-1"])
}

func TestRunOnceIsolatesPerOrderFailures(t *testing.T) {
	st := newFakeSyncStore(submittedRow(1, "EXT-1"), submittedRow(2, "EXT-2"))
	client := newPollingClient()
	client.errors["EXT-1"] = service.ErrSupplierUnavailable
	client.statuses["EXT-2"] = &service.SupplierStatusResponse{OrderID: "EXT-2", Status: "delivered"}
	applier := &recordingApplier{}

	testWorker(st, client, applier).RunOnce(context.Background())

	events := applier.applied()
	require.Len(t, events, 1, "the healthy order must still be processed")
	assert.Equal(t, models.EventSupplierDelivered, events[0].Kind)
}

func TestRunOnceRejectedTransitionKeepsOrderState(t *testing.T) {
	st := newFakeSyncStore(submittedRow(1, "EXT-1"))
	client := newPollingClient()
	client.statuses["EXT-1"] = &service.SupplierStatusResponse{OrderID: "EXT-1", Status: "cancelled"}
	applier := &recordingApplier{err: service.ErrInvalidTransition}

	testWorker(st, client, applier).RunOnce(context.Background())

	require.Len(t, applier.applied(), 1)

	// The rejection is absorbed; the row is stamped so the worker does not
	// hammer the supplier with the same regressing status.
	row := st.get(1)
	assert.Equal(t, models.SupplierStatusSubmitted, row.Status)
	assert.NotNil(t, row.LastSyncedAt)
}

func TestStartStopsOnStop(t *testing.T) {
	st := newFakeSyncStore()
	w := testWorker(st, newPollingClient(), &recordingApplier{})

	done := make(chan error, 1)
	go func() {
		done <- w.Start(context.Background())
	}()

	w.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestSupplierStatusTranslationTables(t *testing.T) {
	// Every status worth polling has an event mapping for every reachable
	// translated status.
	for raw, internal := range supplierStatusMap {
		_, ok := supplierEventMap[internal]
		assert.True(t, ok, "supplier status %q maps to %q with no event", raw, internal)
	}
}
