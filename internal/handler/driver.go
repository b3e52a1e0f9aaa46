package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ridebook/internal/domain"
	"ridebook/internal/service"
)

// DriverHandler handles HTTP requests for the driver directory.
type DriverHandler struct {
	driverService *service.DriverService
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(driverService *service.DriverService) *DriverHandler {
	return &DriverHandler{
		driverService: driverService,
	}
}

// RegisterDriverRequest is the HTTP request body for driver registration.
type RegisterDriverRequest struct {
	Name    string                `json:"name"`
	Phone   string                `json:"phone"`
	Vehicle domain.VehicleDetails `json:"vehicle"`
}

// SetOnlineRequest is the HTTP request body for toggling availability.
type SetOnlineRequest struct {
	Online bool `json:"online"`
}

// UpdateVehicleRequest is the HTTP request body for replacing vehicle details.
type UpdateVehicleRequest struct {
	Vehicle domain.VehicleDetails `json:"vehicle"`
}

// DriverResponse is the HTTP response for driver data.
type DriverResponse struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	Phone     string                `json:"phone"`
	IsOnline  bool                  `json:"is_online"`
	Vehicle   domain.VehicleDetails `json:"vehicle,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// NearbyDriverResponse is one hit of a nearby search.
type NearbyDriverResponse struct {
	DriverResponse
	Position   domain.Point `json:"position"`
	DistanceKm float64      `json:"distance_km"`
}

// Register handles POST /v1/drivers
func (h *DriverHandler) Register(c *gin.Context) {
	var req RegisterDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	driver, err := h.driverService.RegisterDriver(c.Request.Context(), service.RegisterDriverRequest{
		Name:    req.Name,
		Phone:   req.Phone,
		Vehicle: req.Vehicle,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toDriverResponse(driver))
}

// GetAll handles GET /v1/drivers
func (h *DriverHandler) GetAll(c *gin.Context) {
	drivers, err := h.driverService.ListDrivers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]DriverResponse, 0, len(drivers))
	for _, d := range drivers {
		response = append(response, toDriverResponse(d))
	}

	respondJSON(c, http.StatusOK, response)
}

// GetDriver handles GET /v1/drivers/:id
func (h *DriverHandler) GetDriver(c *gin.Context) {
	if !h.selfOrStaff(c) {
		return
	}

	driver, err := h.driverService.GetDriver(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDriverResponse(driver))
}

// Nearby handles GET /v1/drivers/nearby?lat=&lng=&radius_km=&limit=
func (h *DriverHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		badRequest(c, "lat and lng are required")
		return
	}

	var radius float64
	if raw := c.Query("radius_km"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, "invalid radius_km")
			return
		}
		radius = r
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = l
	}

	hits, err := h.driverService.NearbyDrivers(c.Request.Context(), domain.Point{Lat: lat, Lng: lng}, radius, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]NearbyDriverResponse, 0, len(hits))
	for _, hit := range hits {
		response = append(response, NearbyDriverResponse{
			DriverResponse: toDriverResponse(hit.Driver),
			Position:       hit.Position,
			DistanceKm:     hit.DistanceKm,
		})
	}

	respondJSON(c, http.StatusOK, response)
}

// SetOnline handles POST /v1/drivers/:id/online
func (h *DriverHandler) SetOnline(c *gin.Context) {
	if !h.selfOrStaff(c) {
		return
	}

	var req SetOnlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	driver, err := h.driverService.SetDriverOnline(c.Request.Context(), c.Param("id"), req.Online)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDriverResponse(driver))
}

// UpdatePosition handles POST /v1/drivers/:id/position
func (h *DriverHandler) UpdatePosition(c *gin.Context) {
	if !h.selfOrStaff(c) {
		return
	}

	var req LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	err := h.driverService.UpdatePosition(c.Request.Context(), c.Param("id"), domain.Point{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// UpdateVehicle handles PUT /v1/drivers/:id/vehicle
func (h *DriverHandler) UpdateVehicle(c *gin.Context) {
	if !h.selfOrStaff(c) {
		return
	}

	var req UpdateVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	driver, err := h.driverService.UpdateVehicle(c.Request.Context(), c.Param("id"), req.Vehicle)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDriverResponse(driver))
}

// selfOrStaff lets a driver act on their own record and managers or admins on any.
func (h *DriverHandler) selfOrStaff(c *gin.Context) bool {
	actor, ok := actorFrom(c)
	if !ok {
		return false
	}

	switch actor.Role {
	case domain.RoleManager, domain.RoleAdmin:
		return true
	case domain.RoleDriver:
		if actor.ID == c.Param("id") {
			return true
		}
	}

	respondError(c, service.ErrForbidden)
	return false
}

func toDriverResponse(d *domain.Driver) DriverResponse {
	return DriverResponse{
		ID:        d.ID,
		Name:      d.Name,
		Phone:     d.Phone,
		IsOnline:  d.IsOnline,
		Vehicle:   d.Vehicle,
		CreatedAt: d.CreatedAt,
	}
}
