package services

import (
	"context"
	"courier-routing-service/internal/domain"
	"courier-routing-service/internal/ports"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Mock implementations
// ============================================================================

// mockRouteStore implements ports.RouteStore in memory. Rows are cloned on the
// way out so repository-side mutation cannot corrupt store state.
type mockRouteStore struct {
	mu         sync.Mutex
	routes     []*domain.Route
	deliveries []*domain.Delivery
	drivers    []*domain.DriverAssignment
	attempts   []*domain.DeliveryAttempt
	seq        int
	fetchCalls int

	fetchErr          error
	insertRouteErr    error
	updateDriverErr   error
	insertDeliveryErr error
	patchErr          error
	recordErr         error
}

var baseTime = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func newMockRouteStore() *mockRouteStore {
	return &mockRouteStore{
		drivers: []*domain.DriverAssignment{
			{ID: "da-1", UserID: "driver-1", DriverName: "Carlos Rivera", Status: domain.DriverActive, CreatedAt: baseTime},
			{ID: "da-2", UserID: "driver-2", DriverName: "Ana Torres", Status: domain.DriverActive, CreatedAt: baseTime},
		},
	}
}

func (m *mockRouteStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *mockRouteStore) now() time.Time {
	return baseTime.Add(time.Duration(m.seq) * time.Second)
}

func (m *mockRouteStore) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls
}

func cloneRoute(r *domain.Route) *domain.Route {
	c := *r
	c.Deliveries = nil
	return &c
}

func cloneDelivery(d *domain.Delivery) *domain.Delivery {
	c := *d
	return &c
}

func (m *mockRouteStore) FetchWorkingSet(ctx context.Context, date time.Time) (*domain.WorkingSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetchCalls++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}

	ws := &domain.WorkingSet{Date: date}
	key := date.Format(time.DateOnly)

	for _, d := range m.deliveries {
		ws.Deliveries = append(ws.Deliveries, cloneDelivery(d))
	}
	for _, da := range m.drivers {
		clone := *da
		ws.Drivers = append(ws.Drivers, &clone)
	}

	byRoute := make(map[string][]*domain.Delivery)
	for _, d := range ws.Deliveries {
		if d.RouteID != nil {
			byRoute[*d.RouteID] = append(byRoute[*d.RouteID], d)
		}
	}

	for _, r := range m.routes {
		if r.DateKey() != key {
			continue
		}
		clone := cloneRoute(r)
		clone.Deliveries = byRoute[clone.ID]
		if clone.Deliveries == nil {
			clone.Deliveries = []*domain.Delivery{}
		}
		ws.Routes = append(ws.Routes, clone)
	}

	return ws, nil
}

func (m *mockRouteStore) InsertRoute(ctx context.Context, row ports.NewRoute) (*domain.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.insertRouteErr != nil {
		return nil, m.insertRouteErr
	}

	r := &domain.Route{
		ID:               m.nextID("route"),
		Name:             row.Name,
		Date:             row.Date,
		DriverID:         row.DriverID,
		EstimatedMinutes: row.EstimatedMinutes,
		Deliveries:       []*domain.Delivery{},
		CreatedAt:        m.now(),
		UpdatedAt:        m.now(),
	}
	m.routes = append(m.routes, r)

	out := cloneRoute(r)
	out.Deliveries = []*domain.Delivery{}
	return out, nil
}

func (m *mockRouteStore) UpdateRouteDriver(ctx context.Context, routeID, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateDriverErr != nil {
		return m.updateDriverErr
	}

	for _, r := range m.routes {
		if r.ID == routeID {
			id := driverID
			r.DriverID = &id
			return nil
		}
	}
	return fmt.Errorf("route %s: %w", routeID, domain.ErrNotFound)
}

func (m *mockRouteStore) UpdateRouteOrder(ctx context.Context, routeID string, order []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.routes {
		if r.ID == routeID {
			r.Order = order
			return nil
		}
	}
	return fmt.Errorf("route %s: %w", routeID, domain.ErrNotFound)
}

func (m *mockRouteStore) InsertDelivery(ctx context.Context, row ports.NewDelivery) (*domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.insertDeliveryErr != nil {
		return nil, m.insertDeliveryErr
	}

	routeID := row.RouteID
	d := &domain.Delivery{
		ID:                  m.nextID("delivery"),
		RouteID:             &routeID,
		PackageID:           row.PackageID,
		CustomerID:          row.CustomerID,
		AddressLine1:        row.AddressLine1,
		City:                row.City,
		ZipCode:             row.ZipCode,
		Zone:                row.Zone,
		Priority:            row.Priority,
		WindowStart:         row.WindowStart,
		WindowEnd:           row.WindowEnd,
		Status:              domain.DeliveryPending,
		SpecialInstructions: row.SpecialInstructions,
		CreatedAt:           m.now(),
		UpdatedAt:           m.now(),
	}
	m.deliveries = append(m.deliveries, d)
	return cloneDelivery(d), nil
}

func (m *mockRouteStore) PatchDeliveryStatus(ctx context.Context, deliveryID string, patch ports.DeliveryStatusPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.patchErr != nil {
		return m.patchErr
	}

	for _, d := range m.deliveries {
		if d.ID == deliveryID {
			d.Status = patch.Status
			if patch.Notes != nil {
				d.Notes = *patch.Notes
			}
			if len(patch.Proof) > 0 {
				d.Proof = patch.Proof
			}
			if patch.ActualDeliveryTime != nil {
				d.ActualDeliveryTime = patch.ActualDeliveryTime
			}
			return nil
		}
	}
	return fmt.Errorf("delivery %s: %w", deliveryID, domain.ErrNotFound)
}

func (m *mockRouteStore) RecordAttempt(ctx context.Context, attempt domain.DeliveryAttempt, decide ports.AttemptDecision) (*domain.DeliveryAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recordErr != nil {
		return nil, m.recordErr
	}

	for _, d := range m.deliveries {
		if d.ID != attempt.DeliveryID {
			continue
		}

		// The decision runs against the store's row state, like RecordAttempt
		// does under its row lock.
		status, err := decide(d.Status, d.AttemptCount)
		if err != nil {
			return nil, fmt.Errorf("record attempt: delivery %s: %w", d.ID, err)
		}

		attempt.ID = m.nextID("attempt")
		attempt.Number = d.AttemptCount + 1
		attempt.CreatedAt = m.now()
		m.attempts = append(m.attempts, &attempt)

		d.AttemptCount = attempt.Number
		d.Status = status
		if status == domain.DeliveryDelivered {
			now := m.now()
			d.ActualDeliveryTime = &now
		}
		return &attempt, nil
	}
	return nil, fmt.Errorf("delivery %s: %w", attempt.DeliveryID, domain.ErrNotFound)
}

func (m *mockRouteStore) GetRoute(ctx context.Context, id string) (*domain.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.routes {
		if r.ID == id {
			return cloneRoute(r), nil
		}
	}
	return nil, fmt.Errorf("route %s: %w", id, domain.ErrNotFound)
}

func (m *mockRouteStore) GetDelivery(ctx context.Context, id string) (*domain.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.deliveries {
		if d.ID == id {
			return cloneDelivery(d), nil
		}
	}
	return nil, fmt.Errorf("delivery %s: %w", id, domain.ErrNotFound)
}

// mockSnapshotCache records merges and serves the last merged working set.
type mockSnapshotCache struct {
	mu     sync.Mutex
	last   *domain.WorkingSet
	merges int
}

func (m *mockSnapshotCache) Load(ctx context.Context) (*domain.WorkingSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, nil
}

func (m *mockSnapshotCache) Merge(ctx context.Context, ws *domain.WorkingSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = ws
	m.merges++
	return nil
}

func newTestRepo(store *mockRouteStore) *RouteRepository {
	return NewRouteRepository(store, &mockSnapshotCache{}, NewAttemptTracker(3), RepositoryConfig{})
}

func routeDate() *time.Time {
	d := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return &d
}

// ============================================================================
// Tests
// ============================================================================

func TestCreateRouteReturnsEmptyRoute(t *testing.T) {
	store := newMockRouteStore()
	repo := newTestRepo(store)
	ctx := context.Background()

	if _, err := repo.FetchRoutes(ctx, routeDate()); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	route, err := repo.CreateRoute(ctx, "Ruta San Juan", *routeDate(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if route.ID == "" {
		t.Fatal("route id must be generated")
	}
	if len(route.Deliveries) != 0 {
		t.Fatalf("new route must have no deliveries, got %d", len(route.Deliveries))
	}

	second, err := repo.CreateRoute(ctx, "Ruta Bayamón", *routeDate(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID == route.ID {
		t.Fatal("route ids must be unique")
	}

	// The new routes are prepended most-recent-first.
	ws := repo.WorkingSet()
	if len(ws.Routes) != 2 || ws.Routes[0].ID != second.ID {
		t.Fatalf("expected newest route first, got %+v", ws.Routes)
	}

	ws2, err := repo.FetchRoutes(ctx, routeDate())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if ws2.FindRoute(route.ID) == nil {
		t.Fatal("fetched working set must include the created route")
	}
}

func TestCreateRouteValidation(t *testing.T) {
	store := newMockRouteStore()
	repo := newTestRepo(store)

	if _, err := repo.CreateRoute(context.Background(), "  ", *routeDate(), nil, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := repo.CreateRoute(context.Background(), "Ruta", time.Time{}, nil, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(store.routes) != 0 {
		t.Fatal("validation failures must not reach the store")
	}
}

func TestCreateRoutePersistenceFailureLeavesStateUnchanged(t *testing.T) {
	store := newMockRouteStore()
	repo := newTestRepo(store)
	ctx := context.Background()

	if _, err := repo.FetchRoutes(ctx, routeDate()); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	store.insertRouteErr = errors.New("constraint violation")
	if _, err := repo.CreateRoute(ctx, "Ruta San Juan", *routeDate(), nil, nil); err == nil {
		t.Fatal("expected error")
	}

	if got := len(repo.WorkingSet().Routes); got != 0 {
		t.Fatalf("in-memory route list must be unchanged, got %d routes", got)
	}
}

func TestFetchRoutesIsIdempotent(t *testing.T) {
	store := newMockRouteStore()
	repo := newTestRepo(store)
	ctx := context.Background()

	if _, err := repo.CreateRoute(ctx, "Ruta San Juan", *routeDate(), nil, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := repo.FetchRoutes(ctx, routeDate())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	second, err := repo.FetchRoutes(ctx, routeDate())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if !reflect.DeepEqual(first.Routes, second.Routes) {
		t.Fatal("routes differ between identical fetches")
	}
	if !reflect.DeepEqual(first.Deliveries, second.Deliveries) {
		t.Fatal("deliveries differ between identical fetches")
	}
	if !reflect.DeepEqual(first.Drivers, second.Drivers) {
		t.Fatal("drivers differ between identical fetches")
	}
}

func TestAssignDriverOverwrites(t *testing.T) {
	store := newMockRouteStore()
	repo := newTestRepo(store)
	ctx := context.Background()

	if _, err := repo.FetchRoutes(ctx, routeDate()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	route, err := repo.CreateRoute(ctx, "Ruta San Juan", *routeDate(), nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.AssignDriverToRoute(ctx, route.ID, "driver-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	stored, _ := store.GetRoute(ctx, route.ID)
	if stored.DriverID == nil || *stored.DriverID != "driver-1" {
		t.Fatalf("persisted driver = %v, want driver-1", stored.DriverID)
	}
	cached := repo.WorkingSet().FindRoute(route.ID)
	if cached.DriverID == nil || *cached.DriverID != "driver-1" {
		t.Fatalf("in-memory driver = %v, want driver-1", cached.DriverID)
	}
	if cached.DriverName != "Carlos Rivera" {
		t.Fatalf("driver name = %q, want denormalized profile name", cached.DriverName)
	}

	// A second assignment overwrites the first.
	if err := repo.AssignDriverToRoute(ctx, route.ID, "driver-2"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	cached = repo.WorkingSet().FindRoute(route.ID)
	if cached.DriverID == nil || *cached.DriverID != "driver-2" {
		t.Fatalf("in-memory driver = %v, want driver-2", cached.DriverID)
	}
}

func TestAddDeliveryDefaultsPriority(t *testing.T) {
	store := newMockRouteStore()
	repo := newTestRepo(store)
	ctx := context.Background()

	if _, err := repo.FetchRoutes(ctx, routeDate()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	route, err := repo.CreateRoute(ctx, "Ruta San Juan", *routeDate(), nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	delivery, err := repo.AddDeliveryToRoute(ctx, "pkg-1", route.ID, DeliveryDetails{
		CustomerID: "cust-1",
		Address:    "Calle Sol 12",
		City:       "San Juan",
		ZipCode:    "00901",
		Zone:       "A",
	})
	if err != nil {
		t.Fatalf("add delivery: %v", err)
	}

	if delivery.Priority != 1 {
		t.Fatalf("priority = %d, want default 1", delivery.Priority)
	}

	// Attaching a delivery reconciles via full refetch.
	ws := repo.WorkingSet()
	fetched := ws.FindRoute(route.ID)
	if len(fetched.Deliveries) != 1 || fetched.Deliveries[0].ID != delivery.ID {
		t.Fatalf("route must carry the new delivery after refetch, got %+v", fetched.Deliveries)
	}
}

func TestOptimizeRouteSequencesByZoneAndPriority(t *testing.T) {
	store := newMockRouteStore()
	repo := newTestRepo(store)
	ctx := context.Background()

	if _, err := repo.FetchRoutes(ctx, routeDate()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	route, err := repo.CreateRoute(ctx, "Ruta San Juan", *routeDate(), nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	add := func(zone string, priority int) *domain.Delivery {
		d, err := repo.AddDeliveryToRoute(ctx, "pkg", route.ID, DeliveryDetails{
			CustomerID: "cust-1",
			Zone:       zone,
			Priority:   priority,
		})
		if err != nil {
			t.Fatalf("add delivery: %v", err)
		}
		return d
	}

	d1 := add("A", 3)
	d2 := add("A", 5)
	d3 := add("B", 1)

	order, err := repo.OptimizeRoute(ctx, route.ID)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}

	want := []string{d2.ID, d1.ID, d3.ID}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("order = %v, want %v", order, want)
	}

	stored, _ := store.GetRoute(ctx, route.ID)
	if !reflect.DeepEqual(stored.Order, want) {
		t.Fatalf("persisted order = %v, want %v", stored.Order, want)
	}
}

func TestOptimizeRouteUnknownRoute(t *testing.T) {
	store := newMockRouteStore()
	repo := newTestRepo(store)

	if _, err := repo.OptimizeRoute(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateDeliveryStatusStampsDeliveredTime(t *testing.T) {
	store := newMockRouteStore()
	repo := newTestRepo(store)
	ctx := context.Background()

	if _, err := repo.FetchRoutes(ctx, routeDate()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	route, _ := repo.CreateRoute(ctx, "Ruta San Juan", *routeDate(), nil, nil)
	delivery, err := repo.AddDeliveryToRoute(ctx, "pkg-1", route.ID, DeliveryDetails{CustomerID: "cust-1"})
	if err != nil {
		t.Fatalf("add delivery: %v", err)
	}

	// A non-delivered transition leaves actual_delivery_time unset.
	if err := repo.UpdateDeliveryStatus(ctx, delivery.ID, domain.DeliveryInTransit, nil, nil); err != nil {
		t.Fatalf("update: %v", err)
	}
	current := repo.WorkingSet().FindDelivery(delivery.ID)
	if current.ActualDeliveryTime != nil {
		t.Fatal("in_transit must not stamp actual_delivery_time")
	}

	if err := repo.UpdateDeliveryStatus(ctx, delivery.ID, domain.DeliveryDelivered, nil, nil); err != nil {
		t.Fatalf("update: %v", err)
	}
	current = repo.WorkingSet().FindDelivery(delivery.ID)
	if current.Status != domain.DeliveryDelivered {
		t.Fatalf("status = %s, want delivered", current.Status)
	}
	if current.ActualDeliveryTime == nil {
		t.Fatal("delivered must stamp actual_delivery_time")
	}
}

func TestUpdateDeliveryStatusRejectsBadTransition(t *testing.T) {
	store := newMockRouteStore()
	repo := newTestRepo(store)
	ctx := context.Background()

	if _, err := repo.FetchRoutes(ctx, routeDate()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	route, _ := repo.CreateRoute(ctx, "Ruta San Juan", *routeDate(), nil, nil)
	delivery, _ := repo.AddDeliveryToRoute(ctx, "pkg-1", route.ID, DeliveryDetails{CustomerID: "cust-1"})

	if err := repo.UpdateDeliveryStatus(ctx, delivery.ID, domain.DeliveryDelivered, nil, nil); err != nil {
		t.Fatalf("update: %v", err)
	}

	err := repo.UpdateDeliveryStatus(ctx, delivery.ID, domain.DeliveryPending, nil, nil)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for delivered -> pending, got %v", err)
	}

	if err := repo.UpdateDeliveryStatus(ctx, delivery.ID, "lost", nil, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestRecordDeliveryAttemptSequence(t *testing.T) {
	store := newMockRouteStore()
	repo := newTestRepo(store)
	ctx := context.Background()

	if _, err := repo.FetchRoutes(ctx, routeDate()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	route, _ := repo.CreateRoute(ctx, "Ruta San Juan", *routeDate(), nil, nil)
	delivery, _ := repo.AddDeliveryToRoute(ctx, "pkg-1", route.ID, DeliveryDetails{CustomerID: "cust-1"})

	outcomes := []domain.AttemptOutcome{domain.AttemptFailed, domain.AttemptFailed, domain.AttemptDelivered}
	for i, outcome := range outcomes {
		attempt, err := repo.RecordDeliveryAttempt(ctx, delivery.ID, outcome, "", "", "driver-1")
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if attempt.Number != i+1 {
			t.Fatalf("attempt number = %d, want %d", attempt.Number, i+1)
		}
	}

	final := repo.WorkingSet().FindDelivery(delivery.ID)
	if final.AttemptCount != 3 {
		t.Fatalf("attempt_count = %d, want 3", final.AttemptCount)
	}
	if final.Status != domain.DeliveryDelivered {
		t.Fatalf("status = %s, want delivered", final.Status)
	}
	if len(store.attempts) != 3 {
		t.Fatalf("attempt rows = %d, want 3", len(store.attempts))
	}
}

func TestSnapshotUnaffectedByConcurrentRefresh(t *testing.T) {
	store := newMockRouteStore()
	repo := newTestRepo(store)
	ctx := context.Background()

	if _, err := repo.FetchRoutes(ctx, routeDate()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	route, _ := repo.CreateRoute(ctx, "Ruta San Juan", *routeDate(), nil, nil)
	delivery, _ := repo.AddDeliveryToRoute(ctx, "pkg-1", route.ID, DeliveryDetails{CustomerID: "cust-1"})

	snap := repo.WorkingSet()

	// The row changes behind the repository's back; per-row refreshes must
	// publish new state without touching the snapshot already handed out.
	store.mu.Lock()
	for _, d := range store.deliveries {
		if d.ID == delivery.ID {
			d.Status = domain.DeliveryInTransit
		}
	}
	store.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 200 {
			_ = repo.RefreshRow(ctx, CollectionDeliveries, delivery.ID)
		}
	}()
	for range 200 {
		for _, d := range snap.Deliveries {
			_ = d.Status
		}
		for _, r := range snap.Routes {
			for _, d := range r.Deliveries {
				_ = d.Status
			}
		}
	}
	<-done

	if got := snap.FindDelivery(delivery.ID).Status; got != domain.DeliveryPending {
		t.Fatalf("snapshot delivery status mutated to %s", got)
	}
	if got := snap.FindRoute(route.ID).Deliveries[0].Status; got != domain.DeliveryPending {
		t.Fatalf("snapshot route delivery status mutated to %s", got)
	}
	if got := repo.WorkingSet().FindDelivery(delivery.ID).Status; got != domain.DeliveryInTransit {
		t.Fatalf("current state = %s, want in_transit after refresh", got)
	}
}

func TestRecordAttemptPolicyUsesStoreCount(t *testing.T) {
	store := newMockRouteStore()
	repo := newTestRepo(store)
	ctx := context.Background()

	if _, err := repo.FetchRoutes(ctx, routeDate()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	route, _ := repo.CreateRoute(ctx, "Ruta San Juan", *routeDate(), nil, nil)
	delivery, _ := repo.AddDeliveryToRoute(ctx, "pkg-1", route.ID, DeliveryDetails{CustomerID: "cust-1"})

	// Attempts recorded elsewhere: the store holds two failures the
	// repository has not yet observed.
	stale := func(count int) {
		store.mu.Lock()
		for _, d := range store.deliveries {
			if d.ID == delivery.ID {
				d.AttemptCount = count
				d.Status = domain.DeliveryFailed
			}
		}
		store.mu.Unlock()
	}
	stale(2)

	// Locally this looks like attempt 1 of 3; against the store's count it
	// is the final attempt, so rescheduling must escalate to failed.
	if _, err := repo.RecordDeliveryAttempt(ctx, delivery.ID, domain.AttemptRescheduled, "no one home", "", "driver-1"); err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if got := repo.WorkingSet().FindDelivery(delivery.ID).Status; got != domain.DeliveryFailed {
		t.Fatalf("status = %s, want failed when the store count exhausts the budget", got)
	}

	// With the budget already spent in the store, a further attempt is
	// rejected even though the in-memory copy looks exhausted-free.
	stale(3)
	if _, err := repo.FetchRoutes(ctx, routeDate()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	repo.mu.Lock()
	repo.patchDeliveryLocked(delivery.ID, func(d *domain.Delivery) {
		d.AttemptCount = 0
		d.Status = domain.DeliveryPending
	})
	repo.mu.Unlock()

	_, err := repo.RecordDeliveryAttempt(ctx, delivery.ID, domain.AttemptFailed, "", "", "driver-1")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict from the store-side decision, got %v", err)
	}
}

func TestWarmFromCacheServesSnapshot(t *testing.T) {
	store := newMockRouteStore()
	cache := &mockSnapshotCache{
		last: &domain.WorkingSet{
			Date:   *routeDate(),
			Routes: []*domain.Route{{ID: "route-9", Name: "Cached", Date: *routeDate()}},
		},
	}
	repo := NewRouteRepository(store, cache, NewAttemptTracker(3), RepositoryConfig{})

	if err := repo.WarmFromCache(context.Background()); err != nil {
		t.Fatalf("warm: %v", err)
	}

	ws := repo.WorkingSet()
	if ws == nil || ws.FindRoute("route-9") == nil {
		t.Fatal("warm must populate the in-memory working set from the cache")
	}
}
