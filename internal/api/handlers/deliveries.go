package handlers

import (
	"courier-routing-service/internal/api/dto"
	"courier-routing-service/internal/domain"
	"courier-routing-service/internal/services"
	"net/http"
)

// DeliveryHandler exposes per-delivery operations: status updates and attempt
// recording.
type DeliveryHandler struct {
	Repo *services.RouteRepository
}

func (h *DeliveryHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	deliveryID := r.PathValue("id")

	var req dto.UpdateDeliveryStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := h.Repo.UpdateDeliveryStatus(
		r.Context(),
		deliveryID,
		domain.DeliveryStatus(req.Status),
		req.Notes,
		req.Proof,
	)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{
		"delivery_id": deliveryID,
		"status":      req.Status,
	})
}

func (h *DeliveryHandler) RecordAttempt(w http.ResponseWriter, r *http.Request) {
	deliveryID := r.PathValue("id")

	var req dto.RecordAttemptRequest
	if !decodeBody(w, r, &req) {
		return
	}

	attempt, err := h.Repo.RecordDeliveryAttempt(
		r.Context(),
		deliveryID,
		domain.AttemptOutcome(req.Outcome),
		req.FailureReason,
		req.Notes,
		req.DriverID,
	)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, dto.AttemptResponse{
		ID:            attempt.ID,
		DeliveryID:    attempt.DeliveryID,
		AttemptNumber: attempt.Number,
		Outcome:       string(attempt.Outcome),
		FailureReason: attempt.FailureReason,
		Notes:         attempt.Notes,
		DriverID:      attempt.DriverID,
		CreatedAt:     attempt.CreatedAt,
	})
}
