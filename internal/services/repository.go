package services

import (
	"context"
	"courier-routing-service/internal/domain"
	"courier-routing-service/internal/platform/obs"
	"courier-routing-service/internal/platform/retry"
	"courier-routing-service/internal/ports"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"
)

// Collection names as they appear in change events.
const (
	CollectionRoutes     = "delivery_routes"
	CollectionDeliveries = "deliveries"
)

// Tuning for repository operations.
type RepositoryConfig struct {
	// Upper bound for any single persistence call. Zero means 10s.
	OpTimeout time.Duration
	// Retry budget for idempotent reads. Zero means 3.
	FetchRetries int
}

// RouteRepository is the single point of truth for route, delivery and driver
// data as seen by the application. It mediates all reads and writes to the
// persistence store, keeps a mutex-guarded in-memory working set, and mirrors
// successful fetches into the durable snapshot cache.
//
// The working set is immutable once published: every locked mutation builds a
// new WorkingSet (cloning any slice or entity it touches) and swaps the
// pointer, so snapshots already handed to readers are never written again.
type RouteRepository struct {
	store   ports.RouteStore
	cache   ports.SnapshotCache
	tracker *AttemptTracker

	opTimeout    time.Duration
	fetchRetries int

	mu sync.Mutex
	ws *domain.WorkingSet
}

func NewRouteRepository(
	store ports.RouteStore,
	cache ports.SnapshotCache,
	tracker *AttemptTracker,
	cfg RepositoryConfig,
) *RouteRepository {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 10 * time.Second
	}
	if cfg.FetchRetries <= 0 {
		cfg.FetchRetries = 3
	}
	if tracker == nil {
		tracker = NewAttemptTracker(0)
	}

	return &RouteRepository{
		store:        store,
		cache:        cache,
		tracker:      tracker,
		opTimeout:    cfg.OpTimeout,
		fetchRetries: cfg.FetchRetries,
	}
}

func (r *RouteRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

// WorkingSet returns the current in-memory state, or nil before the first
// fetch or cache warm. The returned set is safe to read without further
// locking; mutations never touch a published set.
func (r *RouteRepository) WorkingSet() *domain.WorkingSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ws
}

// WarmFromCache populates the in-memory state from the snapshot cache, so a
// restarted or offline instance serves the last known data until the first
// successful fetch.
func (r *RouteRepository) WarmFromCache(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	ws, err := r.cache.Load(ctx)
	if err != nil {
		return fmt.Errorf("warm from cache: %w", err)
	}
	if ws == nil {
		return nil
	}

	r.mu.Lock()
	if r.ws == nil {
		r.ws = ws
	}
	r.mu.Unlock()

	return nil
}

// FetchRoutes loads the full working set for the given service date (today
// when nil): routes with driver names, all deliveries, and active drivers.
// On success the in-memory state is replaced wholesale and the snapshot cache
// is merged by entity id. The read is retried on transient failure.
func (r *RouteRepository) FetchRoutes(ctx context.Context, date *time.Time) (_ *domain.WorkingSet, err error) {
	defer obs.Time(ctx, "repo.FetchRoutes")(&err)

	d := time.Now().UTC()
	if date != nil {
		d = *date
	}
	d = d.Truncate(24 * time.Hour)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var ws *domain.WorkingSet
	err = retry.Do(ctx, r.fetchRetries, 200*time.Millisecond, func() error {
		var ferr error
		ws, ferr = r.store.FetchWorkingSet(ctx, d)
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("fetch routes: %w", err)
	}

	r.mu.Lock()
	r.ws = ws
	r.mu.Unlock()

	if r.cache != nil {
		// The cache mirror is best-effort; a failed merge never fails the fetch.
		if cerr := r.cache.Merge(ctx, ws); cerr != nil {
			log.Printf("fetch routes: snapshot cache merge failed: %v", cerr)
		}
	}

	return ws, nil
}

// CreateRoute validates and persists a new route with an empty delivery list,
// prepending it to the in-memory route list (most-recent-first).
func (r *RouteRepository) CreateRoute(
	ctx context.Context,
	name string,
	date time.Time,
	driverID *string,
	estimatedMinutes *int,
) (*domain.Route, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("create route: name is required: %w", domain.ErrValidation)
	}
	if date.IsZero() {
		return nil, fmt.Errorf("create route: date is required: %w", domain.ErrValidation)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	route, err := r.store.InsertRoute(ctx, ports.NewRoute{
		Name:             strings.TrimSpace(name),
		Date:             date,
		DriverID:         driverID,
		EstimatedMinutes: estimatedMinutes,
	})
	if err != nil {
		return nil, fmt.Errorf("create route: %w", err)
	}

	r.mu.Lock()
	if r.ws != nil {
		next := *r.ws
		next.Routes = append([]*domain.Route{route}, r.ws.Routes...)
		r.ws = &next
	}
	r.mu.Unlock()

	return route, nil
}

// AssignDriverToRoute reassigns the route's driver in the store and patches
// the in-memory copy. Double-booking a driver for the same service date is
// rejected by the store's uniqueness constraint.
func (r *RouteRepository) AssignDriverToRoute(ctx context.Context, routeID, driverID string) error {
	if routeID == "" || driverID == "" {
		return fmt.Errorf("assign driver: route id and driver id are required: %w", domain.ErrValidation)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.store.UpdateRouteDriver(ctx, routeID, driverID); err != nil {
		return fmt.Errorf("assign driver: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ws == nil {
		return nil
	}

	name := ""
	for _, da := range r.ws.Drivers {
		if da.UserID == driverID {
			name = da.DriverName
			break
		}
	}

	next := *r.ws
	next.Routes = slices.Clone(r.ws.Routes)
	for i, route := range next.Routes {
		if route.ID != routeID {
			continue
		}
		updated := *route
		id := driverID
		updated.DriverID = &id
		updated.DriverName = name
		updated.UpdatedAt = time.Now().UTC()
		next.Routes[i] = &updated
		break
	}
	r.ws = &next

	return nil
}

// Caller-supplied fields for a delivery being attached to a route.
type DeliveryDetails struct {
	CustomerID          string
	Address             string
	City                string
	ZipCode             string
	Zone                string
	Priority            int
	WindowStart         *time.Time
	WindowEnd           *time.Time
	SpecialInstructions string
}

// AddDeliveryToRoute creates a delivery linked to the route and package, then
// triggers a full fetch to reconcile derived state rather than patching
// locally.
func (r *RouteRepository) AddDeliveryToRoute(
	ctx context.Context,
	packageID string,
	routeID string,
	details DeliveryDetails,
) (*domain.Delivery, error) {
	if packageID == "" || routeID == "" {
		return nil, fmt.Errorf("add delivery: package id and route id are required: %w", domain.ErrValidation)
	}
	if details.CustomerID == "" {
		return nil, fmt.Errorf("add delivery: customer id is required: %w", domain.ErrValidation)
	}

	priority := details.Priority
	if priority <= 0 {
		priority = 1
	}

	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	delivery, err := r.store.InsertDelivery(opCtx, ports.NewDelivery{
		PackageID:           packageID,
		RouteID:             routeID,
		CustomerID:          details.CustomerID,
		AddressLine1:        details.Address,
		City:                details.City,
		ZipCode:             details.ZipCode,
		Zone:                details.Zone,
		Priority:            priority,
		WindowStart:         details.WindowStart,
		WindowEnd:           details.WindowEnd,
		SpecialInstructions: details.SpecialInstructions,
	})
	if err != nil {
		return nil, fmt.Errorf("add delivery: %w", err)
	}

	if _, err := r.FetchRoutes(ctx, r.currentDate()); err != nil {
		log.Printf("add delivery: reconciling fetch failed: %v", err)
	}

	return delivery, nil
}

// UpdateDeliveryStatus validates the transition, persists the patch, and
// applies it to local state immediately without a refetch. A delivered status
// stamps the actual delivery time.
func (r *RouteRepository) UpdateDeliveryStatus(
	ctx context.Context,
	deliveryID string,
	status domain.DeliveryStatus,
	notes *string,
	proof json.RawMessage,
) error {
	if !domain.ValidDeliveryStatus(status) {
		return fmt.Errorf("update delivery status: unknown status %q: %w", status, domain.ErrValidation)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	current, err := r.lookupDelivery(ctx, deliveryID)
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	if !domain.CanTransition(current.Status, status) {
		return fmt.Errorf(
			"update delivery status: %s -> %s is not allowed: %w",
			current.Status, status, domain.ErrConflict,
		)
	}

	patch := ports.DeliveryStatusPatch{Status: status, Notes: notes, Proof: proof}
	if status == domain.DeliveryDelivered {
		now := time.Now().UTC()
		patch.ActualDeliveryTime = &now
	}

	if err := r.store.PatchDeliveryStatus(ctx, deliveryID, patch); err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}

	r.mu.Lock()
	r.patchDeliveryLocked(deliveryID, func(d *domain.Delivery) {
		d.Status = status
		if notes != nil {
			d.Notes = *notes
		}
		if len(proof) > 0 {
			d.Proof = proof
		}
		if patch.ActualDeliveryTime != nil {
			d.ActualDeliveryTime = patch.ActualDeliveryTime
		}
		d.UpdatedAt = time.Now().UTC()
	})
	r.mu.Unlock()

	return nil
}

// RecordDeliveryAttempt appends an attempt row and updates the delivery's
// counter and status as one store transaction, then triggers a full refetch.
// The tracker rejects attempts early from the in-memory copy, but the
// attempt number and the policy decision applied under the store's row lock
// are authoritative; a concurrent attempt cannot bypass the budget.
func (r *RouteRepository) RecordDeliveryAttempt(
	ctx context.Context,
	deliveryID string,
	outcome domain.AttemptOutcome,
	failureReason string,
	notes string,
	driverID string,
) (*domain.DeliveryAttempt, error) {
	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	current, err := r.lookupDelivery(opCtx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("record delivery attempt: %w", err)
	}

	attempt, _, err := r.tracker.Plan(current, outcome, failureReason, notes, driverID)
	if err != nil {
		return nil, fmt.Errorf("record delivery attempt: %w", err)
	}

	decide := func(status domain.DeliveryStatus, attempts int) (domain.DeliveryStatus, error) {
		return r.tracker.Decide(status, attempts, outcome)
	}
	recorded, err := r.store.RecordAttempt(opCtx, attempt, decide)
	if err != nil {
		return nil, fmt.Errorf("record delivery attempt: %w", err)
	}

	if _, err := r.FetchRoutes(ctx, r.currentDate()); err != nil {
		log.Printf("record delivery attempt: reconciling fetch failed: %v", err)
	}

	return recorded, nil
}

// OptimizeRoute reorders the route's delivery sequence by zone and priority
// and persists the id order as the route's display order. No delivery row is
// modified.
func (r *RouteRepository) OptimizeRoute(ctx context.Context, routeID string) ([]string, error) {
	r.mu.Lock()
	var route *domain.Route
	if r.ws != nil {
		route = r.ws.FindRoute(routeID)
	}
	r.mu.Unlock()

	if route == nil {
		return nil, fmt.Errorf("optimize route: route %s: %w", routeID, domain.ErrNotFound)
	}

	order := SequenceDeliveries(route.Deliveries)

	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.store.UpdateRouteOrder(opCtx, routeID, order); err != nil {
		return nil, fmt.Errorf("optimize route: %w", err)
	}

	if _, err := r.FetchRoutes(ctx, r.currentDate()); err != nil {
		log.Printf("optimize route: reconciling fetch failed: %v", err)
	}

	return order, nil
}

// Refresh re-fetches the working set for the date currently in memory.
func (r *RouteRepository) Refresh(ctx context.Context) error {
	_, err := r.FetchRoutes(ctx, r.currentDate())
	return err
}

// RefreshRow re-syncs a single changed row. Deleted or unknown rows are
// dropped from memory; anything unidentifiable falls back to a full refresh.
func (r *RouteRepository) RefreshRow(ctx context.Context, collection, id string) error {
	if id == "" {
		return r.Refresh(ctx)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	switch collection {
	case CollectionRoutes:
		route, err := r.store.GetRoute(ctx, id)
		if err != nil {
			if isNotFound(err) {
				r.removeRoute(id)
				return nil
			}
			return fmt.Errorf("refresh row: %w", err)
		}
		r.upsertRoute(route)
		return nil

	case CollectionDeliveries:
		delivery, err := r.store.GetDelivery(ctx, id)
		if err != nil {
			if isNotFound(err) {
				r.removeDelivery(id)
				return nil
			}
			return fmt.Errorf("refresh row: %w", err)
		}
		r.upsertDelivery(delivery)
		return nil

	default:
		return r.Refresh(ctx)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

func (r *RouteRepository) currentDate() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ws == nil {
		return nil
	}
	d := r.ws.Date
	return &d
}

// lookupDelivery prefers the in-memory copy and falls back to the store for
// rows not yet fetched.
func (r *RouteRepository) lookupDelivery(ctx context.Context, deliveryID string) (*domain.Delivery, error) {
	if deliveryID == "" {
		return nil, fmt.Errorf("delivery id is required: %w", domain.ErrValidation)
	}

	r.mu.Lock()
	var found *domain.Delivery
	if r.ws != nil {
		found = r.ws.FindDelivery(deliveryID)
	}
	r.mu.Unlock()

	if found != nil {
		return found, nil
	}

	return r.store.GetDelivery(ctx, deliveryID)
}

// patchDeliveryLocked publishes a new working set with the delivery replaced
// by a modified copy, in the flat list and in its route. Caller holds the
// lock.
func (r *RouteRepository) patchDeliveryLocked(deliveryID string, mutate func(*domain.Delivery)) {
	if r.ws == nil {
		return
	}

	next := *r.ws
	next.Deliveries = slices.Clone(r.ws.Deliveries)

	var updated *domain.Delivery
	for i, d := range next.Deliveries {
		if d.ID != deliveryID {
			continue
		}
		copied := *d
		mutate(&copied)
		updated = &copied
		next.Deliveries[i] = updated
		break
	}
	if updated == nil {
		return
	}

	next.Routes = slices.Clone(r.ws.Routes)
	for ri, route := range next.Routes {
		for di, d := range route.Deliveries {
			if d.ID != deliveryID {
				continue
			}
			reroute := *route
			reroute.Deliveries = slices.Clone(route.Deliveries)
			reroute.Deliveries[di] = updated
			next.Routes[ri] = &reroute
			break
		}
	}

	r.ws = &next
}

func (r *RouteRepository) upsertRoute(route *domain.Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ws == nil {
		return
	}

	// Routes for another service date stay out of the working set.
	if route.DateKey() != r.ws.Date.Format(time.DateOnly) {
		return
	}

	next := *r.ws
	next.Routes = slices.Clone(r.ws.Routes)
	for i, existing := range next.Routes {
		if existing.ID == route.ID {
			route.Deliveries = existing.Deliveries
			next.Routes[i] = route
			r.ws = &next
			return
		}
	}

	route.Deliveries = []*domain.Delivery{}
	next.Routes = append([]*domain.Route{route}, r.ws.Routes...)
	r.ws = &next
}

func (r *RouteRepository) removeRoute(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ws == nil {
		return
	}

	next := *r.ws
	kept := make([]*domain.Route, 0, len(r.ws.Routes))
	for _, route := range r.ws.Routes {
		if route.ID != id {
			kept = append(kept, route)
		}
	}
	next.Routes = kept
	r.ws = &next
}

func (r *RouteRepository) upsertDelivery(delivery *domain.Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ws == nil {
		return
	}

	next := *r.ws

	deliveries := slices.Clone(r.ws.Deliveries)
	replaced := false
	for i, d := range deliveries {
		if d.ID == delivery.ID {
			deliveries[i] = delivery
			replaced = true
			break
		}
	}
	if !replaced {
		deliveries = append(deliveries, delivery)
	}
	next.Deliveries = deliveries

	routes := slices.Clone(r.ws.Routes)
	for i, route := range routes {
		kept := withoutDelivery(route.Deliveries, delivery.ID)
		attach := delivery.RouteID != nil && *delivery.RouteID == route.ID
		if len(kept) == len(route.Deliveries) && !attach {
			continue
		}
		reroute := *route
		reroute.Deliveries = kept
		if attach {
			reroute.Deliveries = append(reroute.Deliveries, delivery)
		}
		routes[i] = &reroute
	}
	next.Routes = routes

	r.ws = &next
}

// withoutDelivery returns a fresh slice with the delivery removed, leaving
// the input untouched.
func withoutDelivery(ds []*domain.Delivery, id string) []*domain.Delivery {
	kept := make([]*domain.Delivery, 0, len(ds))
	for _, d := range ds {
		if d.ID != id {
			kept = append(kept, d)
		}
	}
	return kept
}

func (r *RouteRepository) removeDelivery(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ws == nil {
		return
	}

	next := *r.ws
	next.Deliveries = withoutDelivery(r.ws.Deliveries, id)

	routes := slices.Clone(r.ws.Routes)
	for i, route := range routes {
		kept := withoutDelivery(route.Deliveries, id)
		if len(kept) == len(route.Deliveries) {
			continue
		}
		reroute := *route
		reroute.Deliveries = kept
		routes[i] = &reroute
	}
	next.Routes = routes

	r.ws = &next
}
