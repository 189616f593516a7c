package handlers

import (
	"courier-routing-service/internal/api/dto"
	"courier-routing-service/internal/domain"
	"courier-routing-service/internal/services"
	"fmt"
	"net/http"
	"time"
)

// RouteHandler exposes the route workflow: listing the working set, creating
// routes, driver assignment, delivery attachment and sequencing.
type RouteHandler struct {
	Repo *services.RouteRepository
}

// List returns the working set for the requested date (today by default).
func (h *RouteHandler) List(w http.ResponseWriter, r *http.Request) {
	var date *time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = &parsed
	}

	ws, err := h.Repo.FetchRoutes(r.Context(), date)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, toWorkingSetResponse(ws))
}

func (h *RouteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateRouteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var date time.Time
	if req.Date != "" {
		parsed, err := time.Parse(time.DateOnly, req.Date)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}

	route, err := h.Repo.CreateRoute(r.Context(), req.Name, date, req.DriverID, req.EstimatedMinutes)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, toRouteResponse(route))
}

func (h *RouteHandler) AssignDriver(w http.ResponseWriter, r *http.Request) {
	routeID := r.PathValue("id")

	var req dto.AssignDriverRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.Repo.AssignDriverToRoute(r.Context(), routeID, req.DriverID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{
		"route_id":  routeID,
		"driver_id": req.DriverID,
	})
}

func (h *RouteHandler) AddDelivery(w http.ResponseWriter, r *http.Request) {
	routeID := r.PathValue("id")

	var req dto.AddDeliveryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	delivery, err := h.Repo.AddDeliveryToRoute(r.Context(), req.PackageID, routeID, services.DeliveryDetails{
		CustomerID:          req.CustomerID,
		Address:             req.Address,
		City:                req.City,
		ZipCode:             req.ZipCode,
		Zone:                req.Zone,
		Priority:            req.Priority,
		WindowStart:         req.WindowStart,
		WindowEnd:           req.WindowEnd,
		SpecialInstructions: req.SpecialInstructions,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, toDeliveryResponse(delivery))
}

func (h *RouteHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	routeID := r.PathValue("id")

	order, err := h.Repo.OptimizeRoute(r.Context(), routeID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, dto.OptimizeRouteResponse{
		RouteID: routeID,
		Order:   order,
	})
}

// Drivers returns the active driver assignments from the current working set.
func (h *RouteHandler) Drivers(w http.ResponseWriter, r *http.Request) {
	ws := h.Repo.WorkingSet()
	if ws == nil {
		writeDomainError(w, r, fmt.Errorf("no working set loaded yet: %w", domain.ErrNotFound))
		return
	}

	res := toWorkingSetResponse(ws)
	writeJSON(w, r, http.StatusOK, map[string]any{"drivers": res.Drivers})
}
