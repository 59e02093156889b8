// Package audit implements the fire-and-forget audit log pipeline (C10):
// asynchronous append so a slow or unavailable audit store never blocks
// the request path, in-process success/failure counters, and a
// multi-region tolerant fan-out query that merges results from whichever
// regional stores respond.
//
// Grounded on the teacher's auth/audit/service.go (the core.AuditSink
// contract, synchronous Create-then-return shape) generalized to queue
// writes through a buffered channel and worker goroutine, and extended
// with the region fan-out query the teacher had no equivalent of — built
// on sync.WaitGroup rather than golang.org/x/sync/errgroup because the
// fan-out must tolerate partial region failure (see DESIGN.md).
package audit

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nebularis/iam/auth/core"
)

// Service implements core.AuditSink.
type Service struct {
	primary core.AuditEventStore
	regions []core.AuditEventStore
	clock   core.Clock

	queue chan *core.AuditEvent
	done  chan struct{}

	successCount int64
	failureCount int64

	mu              sync.Mutex
	lastFailureTime *time.Time
}

const defaultQueueSize = 1024

// NewService creates a new audit service. regions lists additional
// read-only regional replicas consulted by Query in addition to
// primary; pass nil for a single-region deployment.
func NewService(primary core.AuditEventStore, regions []core.AuditEventStore, clock core.Clock) *Service {
	s := &Service{
		primary: primary,
		regions: regions,
		clock:   clock,
		queue:   make(chan *core.AuditEvent, defaultQueueSize),
		done:    make(chan struct{}),
	}
	go s.worker()
	return s
}

// Log enqueues event for asynchronous persistence. It returns
// immediately unless the queue is full; persistence failures are
// reflected in Stats(), not in the returned error.
func (s *Service) Log(ctx context.Context, event *core.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.clock.Now()
	}

	select {
	case s.queue <- event:
		return nil
	default:
		// Queue saturated: fall back to a synchronous write so the event
		// isn't silently dropped, at the cost of blocking this caller.
		// A failure is counted in Stats() like any other.
		_ = s.persist(ctx, event)
		return nil
	}
}

func (s *Service) worker() {
	for {
		select {
		case event := <-s.queue:
			_ = s.persist(context.Background(), event)
		case <-s.done:
			return
		}
	}
}

func (s *Service) persist(ctx context.Context, event *core.AuditEvent) error {
	err := s.primary.Create(ctx, event)
	if err != nil {
		failures := atomic.AddInt64(&s.failureCount, 1)
		now := s.clock.Now()
		s.mu.Lock()
		s.lastFailureTime = &now
		s.mu.Unlock()
		if total := failures + atomic.LoadInt64(&s.successCount); total >= 100 && float64(failures)/float64(total) > 0.1 {
			log.Printf("audit: failure rate %.1f%% over %d operations", 100*float64(failures)/float64(total), total)
		}
		return fmt.Errorf("persist audit event: %w", err)
	}
	atomic.AddInt64(&s.successCount, 1)
	return nil
}

// Stats returns a snapshot of the pipeline's reliability counters.
func (s *Service) Stats() core.AuditStats {
	success := atomic.LoadInt64(&s.successCount)
	failure := atomic.LoadInt64(&s.failureCount)

	var rate float64
	if total := success + failure; total > 0 {
		rate = float64(failure) / float64(total)
	}

	s.mu.Lock()
	lastFailure := s.lastFailureTime
	s.mu.Unlock()

	return core.AuditStats{
		SuccessCount:    success,
		FailureCount:    failure,
		FailureRate:     rate,
		LastFailureTime: lastFailure,
	}
}

// Query fans out across the primary store and every configured region,
// tolerating individual region failures (Promise.allSettled-style)
// rather than aborting the whole query — a single unreachable region
// degrades results instead of failing the request. Results are merged,
// deduplicated by event ID, sorted by CreatedAt descending, and capped
// at limit.
func (s *Service) Query(ctx context.Context, tenantID string, filters core.AuditFilters, limit int, cursor string) ([]*core.AuditEvent, string, error) {
	stores := append([]core.AuditEventStore{s.primary}, s.regions...)

	type regionResult struct {
		events []*core.AuditEvent
		err    error
	}
	results := make([]regionResult, len(stores))

	var wg sync.WaitGroup
	for i, store := range stores {
		wg.Add(1)
		go func(i int, store core.AuditEventStore) {
			defer wg.Done()
			events, _, err := store.List(ctx, tenantID, filters, limit, "")
			results[i] = regionResult{events: events, err: err}
		}(i, store)
	}
	wg.Wait()

	seen := map[string]struct{}{}
	merged := make([]*core.AuditEvent, 0, limit)
	allFailed := true
	for _, r := range results {
		if r.err != nil {
			continue
		}
		allFailed = false
		for _, e := range r.events {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			merged = append(merged, e)
		}
	}
	if allFailed && len(stores) > 0 {
		return nil, "", fmt.Errorf("audit query: all %d region(s) failed", len(stores))
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, "", nil
}

// Close stops the background worker. Safe to call once during shutdown.
func (s *Service) Close() {
	close(s.done)
}
