package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nebularis/iam/auth/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAuditEventStore struct {
	mu       sync.Mutex
	events   []*core.AuditEvent
	failNext bool
	failAll  bool
}

func (m *mockAuditEventStore) Create(ctx context.Context, event *core.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll || m.failNext {
		m.failNext = false
		return errors.New("store unavailable")
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockAuditEventStore) List(ctx context.Context, tenantID string, filters core.AuditFilters, limit int, cursor string) ([]*core.AuditEvent, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, "", errors.New("region unreachable")
	}
	var out []*core.AuditEvent
	for _, e := range m.events {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out, "", nil
}

func (m *mockAuditEventStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type testClock struct{ t time.Time }

func (c testClock) Now() time.Time { return c.t }

func waitForCount(t *testing.T, store *mockAuditEventStore, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if store.count() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d persisted events, got %d", n, store.count())
}

func TestService_Log_PersistsAsynchronously(t *testing.T) {
	store := &mockAuditEventStore{}
	svc := NewService(store, nil, testClock{t: time.Now()})

	err := svc.Log(context.Background(), &core.AuditEvent{TenantID: "tenant-1", Type: "login"})
	require.NoError(t, err)

	waitForCount(t, store, 1)
	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.SuccessCount)
	assert.Equal(t, int64(0), stats.FailureCount)
}

func TestService_Log_AssignsIDAndTimestamp(t *testing.T) {
	store := &mockAuditEventStore{}
	now := time.Now()
	svc := NewService(store, nil, testClock{t: now})

	event := &core.AuditEvent{TenantID: "tenant-1", Type: "login"}
	require.NoError(t, svc.Log(context.Background(), event))
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, now, event.CreatedAt)
}

func TestService_Stats_TracksFailures(t *testing.T) {
	store := &mockAuditEventStore{failNext: true}
	svc := NewService(store, nil, testClock{t: time.Now()})

	require.NoError(t, svc.Log(context.Background(), &core.AuditEvent{TenantID: "tenant-1", Type: "login"}))
	waitForFailure(t, svc)

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.FailureCount)
	assert.Equal(t, float64(1), stats.FailureRate)
	require.NotNil(t, stats.LastFailureTime)
}

func waitForFailure(t *testing.T, svc *Service) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if svc.Stats().FailureCount > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for a recorded failure")
}

func TestService_Query_MergesAcrossRegions(t *testing.T) {
	primary := &mockAuditEventStore{events: []*core.AuditEvent{
		{ID: "e1", TenantID: "tenant-1", Type: "login", CreatedAt: time.Now().Add(-time.Minute)},
	}}
	region := &mockAuditEventStore{events: []*core.AuditEvent{
		{ID: "e2", TenantID: "tenant-1", Type: "logout", CreatedAt: time.Now()},
	}}
	svc := NewService(primary, []core.AuditEventStore{region}, testClock{t: time.Now()})

	events, _, err := svc.Query(context.Background(), "tenant-1", core.AuditFilters{}, 10, "")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e2", events[0].ID, "most recent event should sort first")
}

func TestService_Query_TolerantOfRegionFailure(t *testing.T) {
	primary := &mockAuditEventStore{events: []*core.AuditEvent{
		{ID: "e1", TenantID: "tenant-1", Type: "login", CreatedAt: time.Now()},
	}}
	downRegion := &mockAuditEventStore{failAll: true}
	svc := NewService(primary, []core.AuditEventStore{downRegion}, testClock{t: time.Now()})

	events, _, err := svc.Query(context.Background(), "tenant-1", core.AuditFilters{}, 10, "")
	require.NoError(t, err, "a single failed region must not fail the whole query")
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].ID)
}

func TestService_Query_AllRegionsFailed(t *testing.T) {
	primary := &mockAuditEventStore{failAll: true}
	downRegion := &mockAuditEventStore{failAll: true}
	svc := NewService(primary, []core.AuditEventStore{downRegion}, testClock{t: time.Now()})

	_, _, err := svc.Query(context.Background(), "tenant-1", core.AuditFilters{}, 10, "")
	assert.Error(t, err)
}

func TestService_Query_DeduplicatesByID(t *testing.T) {
	shared := &core.AuditEvent{ID: "e1", TenantID: "tenant-1", Type: "login", CreatedAt: time.Now()}
	primary := &mockAuditEventStore{events: []*core.AuditEvent{shared}}
	replica := &mockAuditEventStore{events: []*core.AuditEvent{shared}}
	svc := NewService(primary, []core.AuditEventStore{replica}, testClock{t: time.Now()})

	events, _, err := svc.Query(context.Background(), "tenant-1", core.AuditFilters{}, 10, "")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestService_Log_QueueSaturationFallsBackToSynchronous(t *testing.T) {
	store := &mockAuditEventStore{}
	svc := &Service{
		primary: store,
		clock:   testClock{t: time.Now()},
		queue:   make(chan *core.AuditEvent), // unbuffered and no worker draining it
		done:    make(chan struct{}),
	}

	err := svc.Log(context.Background(), &core.AuditEvent{TenantID: "tenant-1", Type: "login"})
	require.NoError(t, err)
	assert.Equal(t, 1, store.count(), "should fall back to a synchronous write when the queue has no reader")
}
