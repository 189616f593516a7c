package postgres

import (
	"database/sql"
	"errors"
	"fmt"
)

// Initialize the Postgres schema for the routing workflow.
//
// Two constraints enforce invariants the application cannot guarantee from
// the client side: attempt numbers are unique per delivery, and a driver
// cannot be booked on two routes for the same service date.
func InitSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("init schema: DB is nil")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createProfilesQuery := `
	CREATE TABLE IF NOT EXISTS profiles (
		user_id UUID PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL
	);
	`

	createCustomersQuery := `
	CREATE TABLE IF NOT EXISTS customers (
		id UUID PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT ''
	);
	`

	createPackagesQuery := `
	CREATE TABLE IF NOT EXISTS packages (
		id UUID PRIMARY KEY,
		tracking_number TEXT NOT NULL UNIQUE,
		customer_name TEXT NOT NULL
	);
	`

	createDriverAssignmentsQuery := `
	CREATE TABLE IF NOT EXISTS driver_assignments (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL REFERENCES profiles(user_id),
		status TEXT NOT NULL DEFAULT 'active',
		vehicle_type TEXT NOT NULL DEFAULT '',
		license_number TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`

	createRoutesQuery := `
	CREATE TABLE IF NOT EXISTS delivery_routes (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name TEXT NOT NULL,
		date DATE NOT NULL,
		driver_id UUID REFERENCES profiles(user_id),
		estimated_duration_minutes INT,
		route_order JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`

	createRouteDriverDateIndexQuery := `
	CREATE UNIQUE INDEX IF NOT EXISTS uniq_route_driver_date
	ON delivery_routes(driver_id, date)
	WHERE driver_id IS NOT NULL;
	`

	createDeliveriesQuery := `
	CREATE TABLE IF NOT EXISTS deliveries (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		route_id UUID REFERENCES delivery_routes(id),
		package_id UUID NOT NULL REFERENCES packages(id),
		customer_id UUID NOT NULL REFERENCES customers(id),
		address_line1 TEXT NOT NULL,
		city TEXT NOT NULL,
		zip_code TEXT NOT NULL,
		zone TEXT NOT NULL DEFAULT '',
		priority INT NOT NULL DEFAULT 1,
		delivery_window_start TIMESTAMPTZ,
		delivery_window_end TIMESTAMPTZ,
		attempt_count INT NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		special_instructions TEXT NOT NULL DEFAULT '',
		delivery_notes TEXT NOT NULL DEFAULT '',
		delivery_proof JSONB,
		actual_delivery_time TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`

	createDeliveriesRouteIndexQuery := `
	CREATE INDEX IF NOT EXISTS idx_deliveries_route_id
	ON deliveries(route_id);
	`

	createAttemptsQuery := `
	CREATE TABLE IF NOT EXISTS delivery_attempts (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		delivery_id UUID NOT NULL REFERENCES deliveries(id),
		attempt_number INT NOT NULL,
		outcome TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		driver_id UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (delivery_id, attempt_number)
	);
	`

	// Row changes on the two hot tables fan out over a single NOTIFY channel
	// with enough payload for listeners to do narrow per-row refreshes.
	createNotifyFunctionQuery := `
	CREATE OR REPLACE FUNCTION notify_routing_change() RETURNS trigger AS $$
	DECLARE
		row_id TEXT;
	BEGIN
		IF TG_OP = 'DELETE' THEN
			row_id := OLD.id::text;
		ELSE
			row_id := NEW.id::text;
		END IF;
		PERFORM pg_notify(
			'routing_changes',
			json_build_object('table', TG_TABLE_NAME, 'op', TG_OP, 'id', row_id)::text
		);
		RETURN NULL;
	END;
	$$ LANGUAGE plpgsql;
	`

	createRoutesTriggerQuery := `
	DROP TRIGGER IF EXISTS delivery_routes_notify ON delivery_routes;
	CREATE TRIGGER delivery_routes_notify
	AFTER INSERT OR UPDATE OR DELETE ON delivery_routes
	FOR EACH ROW EXECUTE FUNCTION notify_routing_change();
	`

	createDeliveriesTriggerQuery := `
	DROP TRIGGER IF EXISTS deliveries_notify ON deliveries;
	CREATE TRIGGER deliveries_notify
	AFTER INSERT OR UPDATE OR DELETE ON deliveries
	FOR EACH ROW EXECUTE FUNCTION notify_routing_change();
	`

	statements := []string{
		createProfilesQuery,
		createCustomersQuery,
		createPackagesQuery,
		createDriverAssignmentsQuery,
		createRoutesQuery,
		createRouteDriverDateIndexQuery,
		createDeliveriesQuery,
		createDeliveriesRouteIndexQuery,
		createAttemptsQuery,
		createNotifyFunctionQuery,
		createRoutesTriggerQuery,
		createDeliveriesTriggerQuery,
	}

	for i, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}

	return nil
}
