package handlers

import (
	"courier-routing-service/internal/api/dto"
	"courier-routing-service/internal/domain"
	"time"
)

func toDeliveryResponse(d *domain.Delivery) dto.DeliveryResponse {
	return dto.DeliveryResponse{
		ID:                  d.ID,
		RouteID:             d.RouteID,
		PackageID:           d.PackageID,
		CustomerID:          d.CustomerID,
		AddressLine1:        d.AddressLine1,
		City:                d.City,
		ZipCode:             d.ZipCode,
		Zone:                d.Zone,
		Priority:            d.Priority,
		WindowStart:         d.WindowStart,
		WindowEnd:           d.WindowEnd,
		AttemptCount:        d.AttemptCount,
		Status:              string(d.Status),
		SpecialInstructions: d.SpecialInstructions,
		Notes:               d.Notes,
		Proof:               d.Proof,
		ActualDeliveryTime:  d.ActualDeliveryTime,
		TrackingNumber:      d.TrackingNumber,
		CustomerName:        d.CustomerName,
	}
}

func toRouteResponse(r *domain.Route) dto.RouteResponse {
	deliveries := make([]dto.DeliveryResponse, 0, len(r.Deliveries))
	for _, d := range r.Deliveries {
		deliveries = append(deliveries, toDeliveryResponse(d))
	}

	return dto.RouteResponse{
		ID:               r.ID,
		Name:             r.Name,
		Date:             r.Date.Format(time.DateOnly),
		DriverID:         r.DriverID,
		DriverName:       r.DriverName,
		EstimatedMinutes: r.EstimatedMinutes,
		Order:            r.Order,
		Deliveries:       deliveries,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func toWorkingSetResponse(ws *domain.WorkingSet) dto.WorkingSetResponse {
	res := dto.WorkingSetResponse{
		Date:       ws.Date.Format(time.DateOnly),
		Routes:     make([]dto.RouteResponse, 0, len(ws.Routes)),
		Deliveries: make([]dto.DeliveryResponse, 0, len(ws.Deliveries)),
		Drivers:    make([]dto.DriverResponse, 0, len(ws.Drivers)),
		FetchedAt:  ws.FetchedAt,
	}

	for _, r := range ws.Routes {
		res.Routes = append(res.Routes, toRouteResponse(r))
	}
	for _, d := range ws.Deliveries {
		res.Deliveries = append(res.Deliveries, toDeliveryResponse(d))
	}
	for _, da := range ws.Drivers {
		res.Drivers = append(res.Drivers, dto.DriverResponse{
			ID:            da.ID,
			UserID:        da.UserID,
			DriverName:    da.DriverName,
			Status:        da.Status,
			VehicleType:   da.VehicleType,
			LicenseNumber: da.LicenseNumber,
		})
	}

	return res
}
