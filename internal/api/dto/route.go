package dto

import "time"

type CreateRouteRequest struct {
	Name             string  `json:"name"`
	Date             string  `json:"date"` // YYYY-MM-DD
	DriverID         *string `json:"driver_id"`
	EstimatedMinutes *int    `json:"estimated_duration_minutes"`
}

type AssignDriverRequest struct {
	DriverID string `json:"driver_id"`
}

type RouteResponse struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Date             string             `json:"date"`
	DriverID         *string            `json:"driver_id"`
	DriverName       string             `json:"driver_name,omitempty"`
	EstimatedMinutes *int               `json:"estimated_duration_minutes,omitempty"`
	Order            []string           `json:"route_order,omitempty"`
	Deliveries       []DeliveryResponse `json:"deliveries"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

type DriverResponse struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	DriverName    string `json:"driver_name"`
	Status        string `json:"status"`
	VehicleType   string `json:"vehicle_type"`
	LicenseNumber string `json:"license_number"`
}

type WorkingSetResponse struct {
	Date       string             `json:"date"`
	Routes     []RouteResponse    `json:"routes"`
	Deliveries []DeliveryResponse `json:"deliveries"`
	Drivers    []DriverResponse   `json:"drivers"`
	FetchedAt  time.Time          `json:"fetched_at"`
}

type OptimizeRouteResponse struct {
	RouteID string   `json:"route_id"`
	Order   []string `json:"route_order"`
}
