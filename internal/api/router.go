package api

import (
	"courier-routing-service/internal/api/handlers"
	"courier-routing-service/internal/services"
	"net/http"
)

// NewRouter wires HTTP handlers with the route repository and returns an
// http.Handler. This is the API composition root (handlers stay unaware of
// concrete adapters).
func NewRouter(repo *services.RouteRepository) http.Handler {
	mux := http.NewServeMux()

	routeHandler := &handlers.RouteHandler{Repo: repo}
	deliveryHandler := &handlers.DeliveryHandler{Repo: repo}

	mux.HandleFunc("GET /health", handlers.Health)

	mux.HandleFunc("GET /routes", routeHandler.List)
	mux.HandleFunc("POST /routes", routeHandler.Create)
	mux.HandleFunc("PUT /routes/{id}/driver", routeHandler.AssignDriver)
	mux.HandleFunc("POST /routes/{id}/deliveries", routeHandler.AddDelivery)
	mux.HandleFunc("POST /routes/{id}/optimize", routeHandler.Optimize)

	mux.HandleFunc("PUT /deliveries/{id}/status", deliveryHandler.UpdateStatus)
	mux.HandleFunc("POST /deliveries/{id}/attempts", deliveryHandler.RecordAttempt)

	mux.HandleFunc("GET /drivers", routeHandler.Drivers)

	return loggingMiddleware(mux)
}
