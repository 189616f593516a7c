package postgres

import (
	"context"
	"courier-routing-service/internal/domain"
	"courier-routing-service/internal/platform/obs"
	"courier-routing-service/internal/ports"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres-backed implementation of the RouteStore port.
type RouteStore struct{ DB *sql.DB }

func NewRouteStore(db *sql.DB) *RouteStore {
	return &RouteStore{DB: db}
}

const uniqueViolation = "23505"
const foreignKeyViolation = "23503"

// mapConstraintErr translates Postgres constraint violations into the shared
// error taxonomy so callers can distinguish conflicts from plain failures.
func mapConstraintErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, domain.ErrConflict, pgErr.ConstraintName)
		case foreignKeyViolation:
			return fmt.Errorf("%s: %w: references a missing row (%s)", op, domain.ErrValidation, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func displayName(first, last sql.NullString) string {
	return strings.TrimSpace(strings.TrimSpace(first.String) + " " + strings.TrimSpace(last.String))
}

// Load the full working set for a service date. Routes are filtered by date;
// deliveries and active drivers are loaded wholesale and deliveries are
// attached to their routes in memory, mirroring how the application consumes
// them.
func (s *RouteStore) FetchWorkingSet(ctx context.Context, date time.Time) (_ *domain.WorkingSet, err error) {
	defer obs.Time(ctx, "store.FetchWorkingSet")(&err)

	if s.DB == nil {
		return nil, errors.New("route store: DB is nil")
	}

	routes, err := s.fetchRoutes(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("fetch working set: %w", err)
	}

	deliveries, err := s.fetchDeliveries(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch working set: %w", err)
	}

	drivers, err := s.fetchActiveDrivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch working set: %w", err)
	}

	byRoute := make(map[string][]*domain.Delivery)
	for _, d := range deliveries {
		if d.RouteID != nil {
			byRoute[*d.RouteID] = append(byRoute[*d.RouteID], d)
		}
	}
	for _, r := range routes {
		r.Deliveries = byRoute[r.ID]
		if r.Deliveries == nil {
			r.Deliveries = []*domain.Delivery{}
		}
	}

	return &domain.WorkingSet{
		Date:       date,
		Routes:     routes,
		Deliveries: deliveries,
		Drivers:    drivers,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

const routeColumns = `
	r.id, r.name, r.date, r.driver_id, r.estimated_duration_minutes,
	r.route_order, r.created_at, r.updated_at,
	p.first_name, p.last_name
`

func scanRoute(scan func(dest ...any) error) (*domain.Route, error) {
	var (
		r          domain.Route
		driverID   sql.NullString
		estMinutes sql.NullInt64
		rawOrder   []byte
		first      sql.NullString
		last       sql.NullString
	)

	err := scan(
		&r.ID, &r.Name, &r.Date, &driverID, &estMinutes,
		&rawOrder, &r.CreatedAt, &r.UpdatedAt,
		&first, &last,
	)
	if err != nil {
		return nil, err
	}

	if driverID.Valid {
		id := driverID.String
		r.DriverID = &id
		r.DriverName = displayName(first, last)
	}
	if estMinutes.Valid {
		m := int(estMinutes.Int64)
		r.EstimatedMinutes = &m
	}
	if len(rawOrder) > 0 {
		if err := json.Unmarshal(rawOrder, &r.Order); err != nil {
			return nil, fmt.Errorf("decode route_order for route %s: %w", r.ID, err)
		}
	}

	return &r, nil
}

func (s *RouteStore) fetchRoutes(ctx context.Context, date time.Time) ([]*domain.Route, error) {
	query := `
	SELECT ` + routeColumns + `
	FROM delivery_routes r
	LEFT JOIN profiles p ON p.user_id = r.driver_id
	WHERE r.date = $1
	ORDER BY r.created_at;
	`

	rows, err := s.DB.QueryContext(ctx, query, date.Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("query delivery_routes: %w", err)
	}
	defer rows.Close()

	routes := make([]*domain.Route, 0, 16)
	for rows.Next() {
		r, err := scanRoute(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan route row: %w", err)
		}
		routes = append(routes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("route row iteration: %w", err)
	}

	return routes, nil
}

const deliveryColumns = `
	d.id, d.route_id, d.package_id, d.customer_id,
	d.address_line1, d.city, d.zip_code, d.zone, d.priority,
	d.delivery_window_start, d.delivery_window_end,
	d.attempt_count, d.status, d.special_instructions, d.delivery_notes,
	d.delivery_proof, d.actual_delivery_time, d.created_at, d.updated_at,
	pk.tracking_number, c.first_name, c.last_name
`

func scanDelivery(scan func(dest ...any) error) (*domain.Delivery, error) {
	var (
		d           domain.Delivery
		routeID     sql.NullString
		windowStart sql.NullTime
		windowEnd   sql.NullTime
		status      string
		proof       []byte
		actual      sql.NullTime
		tracking    sql.NullString
		first       sql.NullString
		last        sql.NullString
	)

	err := scan(
		&d.ID, &routeID, &d.PackageID, &d.CustomerID,
		&d.AddressLine1, &d.City, &d.ZipCode, &d.Zone, &d.Priority,
		&windowStart, &windowEnd,
		&d.AttemptCount, &status, &d.SpecialInstructions, &d.Notes,
		&proof, &actual, &d.CreatedAt, &d.UpdatedAt,
		&tracking, &first, &last,
	)
	if err != nil {
		return nil, err
	}

	if routeID.Valid {
		id := routeID.String
		d.RouteID = &id
	}
	if windowStart.Valid {
		t := windowStart.Time
		d.WindowStart = &t
	}
	if windowEnd.Valid {
		t := windowEnd.Time
		d.WindowEnd = &t
	}
	if actual.Valid {
		t := actual.Time
		d.ActualDeliveryTime = &t
	}
	d.Status = domain.DeliveryStatus(status)
	d.Proof = proof
	d.TrackingNumber = tracking.String
	d.CustomerName = displayName(first, last)

	return &d, nil
}

func (s *RouteStore) fetchDeliveries(ctx context.Context) ([]*domain.Delivery, error) {
	query := `
	SELECT ` + deliveryColumns + `
	FROM deliveries d
	LEFT JOIN packages pk ON pk.id = d.package_id
	LEFT JOIN customers c ON c.id = d.customer_id
	ORDER BY d.created_at;
	`

	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := make([]*domain.Delivery, 0, 64)
	for rows.Next() {
		d, err := scanDelivery(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan delivery row: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delivery row iteration: %w", err)
	}

	return deliveries, nil
}

func (s *RouteStore) fetchActiveDrivers(ctx context.Context) ([]*domain.DriverAssignment, error) {
	query := `
	SELECT da.id, da.user_id, da.status, da.vehicle_type, da.license_number,
		da.created_at, da.updated_at, p.first_name, p.last_name
	FROM driver_assignments da
	LEFT JOIN profiles p ON p.user_id = da.user_id
	WHERE da.status = 'active'
	ORDER BY da.created_at;
	`

	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query driver_assignments: %w", err)
	}
	defer rows.Close()

	drivers := make([]*domain.DriverAssignment, 0, 8)
	for rows.Next() {
		var (
			da    domain.DriverAssignment
			first sql.NullString
			last  sql.NullString
		)
		err := rows.Scan(
			&da.ID, &da.UserID, &da.Status, &da.VehicleType, &da.LicenseNumber,
			&da.CreatedAt, &da.UpdatedAt, &first, &last,
		)
		if err != nil {
			return nil, fmt.Errorf("scan driver row: %w", err)
		}
		da.DriverName = displayName(first, last)
		drivers = append(drivers, &da)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("driver row iteration: %w", err)
	}

	return drivers, nil
}

func (s *RouteStore) InsertRoute(ctx context.Context, row ports.NewRoute) (*domain.Route, error) {
	query := `
	INSERT INTO delivery_routes (name, date, driver_id, estimated_duration_minutes)
	VALUES ($1, $2, $3, $4)
	RETURNING id, created_at, updated_at;
	`

	var driverID any
	if row.DriverID != nil {
		driverID = *row.DriverID
	}
	var estMinutes any
	if row.EstimatedMinutes != nil {
		estMinutes = *row.EstimatedMinutes
	}

	r := &domain.Route{
		Name:             row.Name,
		Date:             row.Date,
		DriverID:         row.DriverID,
		EstimatedMinutes: row.EstimatedMinutes,
		Deliveries:       []*domain.Delivery{},
	}

	err := s.DB.QueryRowContext(ctx, query, row.Name, row.Date.Format(time.DateOnly), driverID, estMinutes).
		Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, mapConstraintErr("insert route", err)
	}

	if row.DriverID != nil {
		nameQuery := `SELECT first_name, last_name FROM profiles WHERE user_id = $1;`
		var first, last sql.NullString
		if err := s.DB.QueryRowContext(ctx, nameQuery, *row.DriverID).Scan(&first, &last); err == nil {
			r.DriverName = displayName(first, last)
		}
	}

	return r, nil
}

func (s *RouteStore) UpdateRouteDriver(ctx context.Context, routeID, driverID string) error {
	query := `
	UPDATE delivery_routes
	SET driver_id = $2, updated_at = now()
	WHERE id = $1;
	`

	res, err := s.DB.ExecContext(ctx, query, routeID, driverID)
	if err != nil {
		return mapConstraintErr("update route driver", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update route driver: route %s: %w", routeID, domain.ErrNotFound)
	}

	return nil
}

func (s *RouteStore) UpdateRouteOrder(ctx context.Context, routeID string, order []string) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("update route order: encode order: %w", err)
	}

	query := `
	UPDATE delivery_routes
	SET route_order = $2, updated_at = now()
	WHERE id = $1;
	`

	res, err := s.DB.ExecContext(ctx, query, routeID, raw)
	if err != nil {
		return fmt.Errorf("update route order: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update route order: route %s: %w", routeID, domain.ErrNotFound)
	}

	return nil
}

func (s *RouteStore) InsertDelivery(ctx context.Context, row ports.NewDelivery) (*domain.Delivery, error) {
	query := `
	INSERT INTO deliveries (
		route_id, package_id, customer_id, address_line1, city, zip_code,
		zone, priority, delivery_window_start, delivery_window_end,
		special_instructions
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	RETURNING id;
	`

	var id string
	err := s.DB.QueryRowContext(ctx, query,
		row.RouteID, row.PackageID, row.CustomerID, row.AddressLine1, row.City,
		row.ZipCode, row.Zone, row.Priority, row.WindowStart, row.WindowEnd,
		row.SpecialInstructions,
	).Scan(&id)
	if err != nil {
		return nil, mapConstraintErr("insert delivery", err)
	}

	return s.GetDelivery(ctx, id)
}

func (s *RouteStore) PatchDeliveryStatus(ctx context.Context, deliveryID string, patch ports.DeliveryStatusPatch) error {
	query := `
	UPDATE deliveries
	SET status = $2,
		delivery_notes = COALESCE($3, delivery_notes),
		delivery_proof = COALESCE($4, delivery_proof),
		actual_delivery_time = COALESCE($5, actual_delivery_time),
		updated_at = now()
	WHERE id = $1;
	`

	var proof any
	if len(patch.Proof) > 0 {
		proof = []byte(patch.Proof)
	}

	res, err := s.DB.ExecContext(ctx, query,
		deliveryID, string(patch.Status), patch.Notes, proof, patch.ActualDeliveryTime,
	)
	if err != nil {
		return mapConstraintErr("patch delivery status", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("patch delivery status: delivery %s: %w", deliveryID, domain.ErrNotFound)
	}

	return nil
}

// Append the attempt row and apply the resulting delivery state in one
// transaction. The attempt number and the caller's policy decision are both
// evaluated against the row under its lock, so two devices recording
// attempts concurrently can neither collide on a number nor slip past the
// attempt budget; the unique (delivery_id, attempt_number) constraint
// backstops the lock.
func (s *RouteStore) RecordAttempt(
	ctx context.Context,
	attempt domain.DeliveryAttempt,
	decide ports.AttemptDecision,
) (_ *domain.DeliveryAttempt, err error) {
	defer obs.Time(ctx, "store.RecordAttempt")(&err)

	if decide == nil {
		return nil, errors.New("record attempt: decide is nil")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("record attempt: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	lockQuery := `
	SELECT attempt_count, status FROM deliveries WHERE id = $1 FOR UPDATE;
	`

	var count int
	var current string
	if err := tx.QueryRowContext(ctx, lockQuery, attempt.DeliveryID).Scan(&count, &current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record attempt: delivery %s: %w", attempt.DeliveryID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("record attempt: lock delivery row: %w", err)
	}

	status, err := decide(domain.DeliveryStatus(current), count)
	if err != nil {
		return nil, fmt.Errorf("record attempt: delivery %s: %w", attempt.DeliveryID, err)
	}

	attempt.Number = count + 1
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}

	insertQuery := `
	INSERT INTO delivery_attempts (id, delivery_id, attempt_number, outcome, failure_reason, notes, driver_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING created_at;
	`

	var driverID any
	if attempt.DriverID != "" {
		driverID = attempt.DriverID
	}

	err = tx.QueryRowContext(ctx, insertQuery,
		attempt.ID, attempt.DeliveryID, attempt.Number, string(attempt.Outcome),
		attempt.FailureReason, attempt.Notes, driverID,
	).Scan(&attempt.CreatedAt)
	if err != nil {
		return nil, mapConstraintErr("record attempt: insert attempt", err)
	}

	patchQuery := `
	UPDATE deliveries
	SET attempt_count = $2,
		status = $3,
		actual_delivery_time = CASE WHEN $3 = 'delivered' THEN now() ELSE actual_delivery_time END,
		updated_at = now()
	WHERE id = $1;
	`

	if _, err := tx.ExecContext(ctx, patchQuery, attempt.DeliveryID, attempt.Number, string(status)); err != nil {
		return nil, fmt.Errorf("record attempt: patch delivery: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("record attempt: commit tx: %w", err)
	}

	return &attempt, nil
}

func (s *RouteStore) GetRoute(ctx context.Context, id string) (*domain.Route, error) {
	query := `
	SELECT ` + routeColumns + `
	FROM delivery_routes r
	LEFT JOIN profiles p ON p.user_id = r.driver_id
	WHERE r.id = $1;
	`

	r, err := scanRoute(s.DB.QueryRowContext(ctx, query, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get route: %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get route: %w", err)
	}

	return r, nil
}

func (s *RouteStore) GetDelivery(ctx context.Context, id string) (*domain.Delivery, error) {
	query := `
	SELECT ` + deliveryColumns + `
	FROM deliveries d
	LEFT JOIN packages pk ON pk.id = d.package_id
	LEFT JOIN customers c ON c.id = d.customer_id
	WHERE d.id = $1;
	`

	d, err := scanDelivery(s.DB.QueryRowContext(ctx, query, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get delivery: %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get delivery: %w", err)
	}

	return d, nil
}
