package dto

import (
	"encoding/json"
	"time"
)

type AddDeliveryRequest struct {
	PackageID           string     `json:"package_id"`
	CustomerID          string     `json:"customer_id"`
	Address             string     `json:"address"`
	City                string     `json:"city"`
	ZipCode             string     `json:"zip_code"`
	Zone                string     `json:"zone"`
	Priority            int        `json:"priority"`
	WindowStart         *time.Time `json:"delivery_window_start"`
	WindowEnd           *time.Time `json:"delivery_window_end"`
	SpecialInstructions string     `json:"special_instructions"`
}

type UpdateDeliveryStatusRequest struct {
	Status string          `json:"status"`
	Notes  *string         `json:"notes"`
	Proof  json.RawMessage `json:"proof"`
}

type RecordAttemptRequest struct {
	Outcome       string `json:"outcome"`
	FailureReason string `json:"failure_reason"`
	Notes         string `json:"notes"`
	DriverID      string `json:"driver_id"`
}

type DeliveryResponse struct {
	ID                  string          `json:"id"`
	RouteID             *string         `json:"route_id"`
	PackageID           string          `json:"package_id"`
	CustomerID          string          `json:"customer_id"`
	AddressLine1        string          `json:"address_line1"`
	City                string          `json:"city"`
	ZipCode             string          `json:"zip_code"`
	Zone                string          `json:"zone"`
	Priority            int             `json:"priority"`
	WindowStart         *time.Time      `json:"delivery_window_start,omitempty"`
	WindowEnd           *time.Time      `json:"delivery_window_end,omitempty"`
	AttemptCount        int             `json:"attempt_count"`
	Status              string          `json:"status"`
	SpecialInstructions string          `json:"special_instructions,omitempty"`
	Notes               string          `json:"delivery_notes,omitempty"`
	Proof               json.RawMessage `json:"delivery_proof,omitempty"`
	ActualDeliveryTime  *time.Time      `json:"actual_delivery_time,omitempty"`
	TrackingNumber      string          `json:"tracking_number,omitempty"`
	CustomerName        string          `json:"customer_name,omitempty"`
}

type AttemptResponse struct {
	ID            string    `json:"id"`
	DeliveryID    string    `json:"delivery_id"`
	AttemptNumber int       `json:"attempt_number"`
	Outcome       string    `json:"outcome"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	DriverID      string    `json:"driver_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
