package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type DriverSeed struct {
	UserID        string `json:"user_id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	VehicleType   string `json:"vehicle_type"`
	LicenseNumber string `json:"license_number"`
}

type CustomerSeed struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

type PackageSeed struct {
	ID             string `json:"id"`
	TrackingNumber string `json:"tracking_number"`
	CustomerName   string `json:"customer_name"`
}

type SeedData struct {
	Drivers   []DriverSeed   `json:"drivers"`
	Customers []CustomerSeed `json:"customers"`
	Packages  []PackageSeed  `json:"packages"`
}

// Populate reference data (drivers, customers, packages) from a JSON file.
// Existing rows are upserted so the seed is safe to re-run.
func SeedFromJSON(db *sql.DB, jsonPath string) error {
	bytes, err := os.ReadFile(jsonPath)
	if err != nil {
		return fmt.Errorf("seed routing data: read %q: %w", jsonPath, err)
	}

	var data SeedData
	if err := json.Unmarshal(bytes, &data); err != nil {
		return fmt.Errorf("seed routing data: parse json: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("seed routing data: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	profileQuery := `
	INSERT INTO profiles (user_id, first_name, last_name)
	VALUES ($1, $2, $3)
	ON CONFLICT (user_id) DO UPDATE
	SET first_name = EXCLUDED.first_name,
		last_name = EXCLUDED.last_name;
	`

	assignmentQuery := `
	INSERT INTO driver_assignments (user_id, status, vehicle_type, license_number)
	SELECT $1, 'active', $2, $3
	WHERE NOT EXISTS (
		SELECT 1 FROM driver_assignments WHERE user_id = $1
	);
	`

	for i, d := range data.Drivers {
		if strings.TrimSpace(d.UserID) == "" {
			return fmt.Errorf("seed routing data: driver at index %d: user_id cannot be empty", i)
		}

		if _, err := tx.Exec(profileQuery, d.UserID, d.FirstName, d.LastName); err != nil {
			return fmt.Errorf("seed routing data: upsert profile user_id=%s: %w", d.UserID, err)
		}
		if _, err := tx.Exec(assignmentQuery, d.UserID, d.VehicleType, d.LicenseNumber); err != nil {
			return fmt.Errorf("seed routing data: insert assignment user_id=%s: %w", d.UserID, err)
		}
	}

	customerQuery := `
	INSERT INTO customers (id, first_name, last_name, phone)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE
	SET first_name = EXCLUDED.first_name,
		last_name = EXCLUDED.last_name,
		phone = EXCLUDED.phone;
	`

	for i, c := range data.Customers {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("seed routing data: customer at index %d: id cannot be empty", i)
		}

		if _, err := tx.Exec(customerQuery, c.ID, c.FirstName, c.LastName, c.Phone); err != nil {
			return fmt.Errorf("seed routing data: upsert customer id=%s: %w", c.ID, err)
		}
	}

	packageQuery := `
	INSERT INTO packages (id, tracking_number, customer_name)
	VALUES ($1, $2, $3)
	ON CONFLICT (id) DO UPDATE
	SET tracking_number = EXCLUDED.tracking_number,
		customer_name = EXCLUDED.customer_name;
	`

	for i, p := range data.Packages {
		if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.TrackingNumber) == "" {
			return fmt.Errorf("seed routing data: package at index %d: id and tracking_number are required", i)
		}

		if _, err := tx.Exec(packageQuery, p.ID, p.TrackingNumber, p.CustomerName); err != nil {
			return fmt.Errorf("seed routing data: upsert package id=%s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed routing data: commit tx: %w", err)
	}

	return nil
}
