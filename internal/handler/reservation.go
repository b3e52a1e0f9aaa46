package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ridebook/internal/domain"
	"ridebook/internal/service"
)

// ReservationHandler handles HTTP requests for reservations.
type ReservationHandler struct {
	reservationService *service.ReservationService
	refundService      *service.RefundService
}

// NewReservationHandler creates a new ReservationHandler.
func NewReservationHandler(reservationService *service.ReservationService, refundService *service.RefundService) *ReservationHandler {
	return &ReservationHandler{
		reservationService: reservationService,
		refundService:      refundService,
	}
}

// PlaceRequest is a pickup or dropoff in a request body.
type PlaceRequest struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

func (p PlaceRequest) toDomain() domain.Place {
	return domain.Place{Point: domain.Point{Lat: p.Lat, Lng: p.Lng}, Address: p.Address}
}

// CreateReservationRequest is the HTTP request body for creating a reservation.
type CreateReservationRequest struct {
	CustomerID        string       `json:"customer_id,omitempty"` // managers only; customers book for themselves
	Pickup            PlaceRequest `json:"pickup"`
	Dropoff           PlaceRequest `json:"dropoff"`
	Cost              float64      `json:"cost"`
	DesiredPickupTime *time.Time   `json:"desired_pickup_time,omitempty"`
	Paid              bool         `json:"paid"`
}

// AssignRequest is the HTTP request body for assigning a driver.
type AssignRequest struct {
	DriverID string `json:"driver_id"`
}

// CancelRequest is the HTTP request body for cancelling a reservation.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RatingRequest is the HTTP request body for reviews and client ratings.
type RatingRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

// LocationRequest is the HTTP request body for live position updates.
type LocationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ReservationResponse is the HTTP response for a reservation.
type ReservationResponse struct {
	ID                    string                `json:"id"`
	CustomerID            string                `json:"customer_id"`
	AssignedDriverID      string                `json:"assigned_driver_id,omitempty"`
	AssignedByManagerID   string                `json:"assigned_by_manager_id,omitempty"`
	Pickup                domain.Place          `json:"pickup"`
	Dropoff               domain.Place          `json:"dropoff"`
	DesiredPickupTime     *time.Time            `json:"desired_pickup_time,omitempty"`
	Cost                  float64               `json:"cost"`
	Paid                  bool                  `json:"paid"`
	Status                string                `json:"status"`
	Vehicle               domain.VehicleDetails `json:"vehicle,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
	AssignedAt            *time.Time            `json:"assigned_at,omitempty"`
	AcceptedAt            *time.Time            `json:"accepted_at,omitempty"`
	RefusedAt             *time.Time            `json:"refused_at,omitempty"`
	StartedAt             *time.Time            `json:"started_at,omitempty"`
	CompletedAt           *time.Time            `json:"completed_at,omitempty"`
	CancelledAt           *time.Time            `json:"cancelled_at,omitempty"`
	CancelledBy           string                `json:"cancelled_by,omitempty"`
	CancelReason          string                `json:"cancel_reason,omitempty"`
	Rating                *int                  `json:"rating,omitempty"`
	Comment               string                `json:"comment,omitempty"`
	ClientRatingByDriver  *int                  `json:"client_rating_by_driver,omitempty"`
	ClientCommentByDriver string                `json:"client_comment_by_driver,omitempty"`
	DriverLocation        *domain.Point         `json:"driver_location,omitempty"`
	CustomerLocation      *domain.Point         `json:"customer_location,omitempty"`
}

// RefundResponse is the HTTP response for a refund record.
type RefundResponse struct {
	ID            string    `json:"id"`
	ReservationID string    `json:"reservation_id"`
	Fraction      float64   `json:"fraction"`
	Amount        float64   `json:"amount"`
	Reason        string    `json:"reason"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// CancelResponse is the HTTP response for a cancellation.
type CancelResponse struct {
	Reservation ReservationResponse `json:"reservation"`
	Refund      RefundResponse      `json:"refund"`
}

// HistoryEntry is one transition in a reservation's history.
type HistoryEntry struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Action    string    `json:"action"`
	ActorRole string    `json:"actor_role"`
	ActorID   string    `json:"actor_id"`
	At        time.Time `json:"at"`
}

// LocationResponse reports whether a position update was stored.
type LocationResponse struct {
	Updated bool `json:"updated"`
}

// CreateReservation handles POST /v1/reservations
func (h *ReservationHandler) CreateReservation(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	customerID := req.CustomerID
	switch actor.Role {
	case domain.RoleCustomer:
		if customerID != "" && customerID != actor.ID {
			respondError(c, service.ErrNotOwner)
			return
		}
		customerID = actor.ID
	case domain.RoleManager, domain.RoleAdmin:
	default:
		respondError(c, service.ErrForbidden)
		return
	}

	res, err := h.reservationService.CreateReservation(c.Request.Context(), service.CreateReservationRequest{
		CustomerID:        customerID,
		Pickup:            req.Pickup.toDomain(),
		Dropoff:           req.Dropoff.toDomain(),
		Cost:              req.Cost,
		DesiredPickupTime: req.DesiredPickupTime,
		Paid:              req.Paid,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toReservationResponse(res))
}

// GetAll handles GET /v1/reservations
//
// Query params: status (repeatable or comma separated), queue=true for the
// assignment queue, customer_id, driver_id, limit. Customers and drivers only
// see their own reservations.
func (h *ReservationHandler) GetAll(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	req := service.ListReservationsRequest{
		CustomerID: c.Query("customer_id"),
		DriverID:   c.Query("driver_id"),
	}

	if c.Query("queue") == "true" {
		req.Statuses = append(req.Statuses, service.AssignmentQueue...)
	}
	for _, raw := range c.QueryArray("status") {
		for _, s := range strings.Split(raw, ",") {
			status, ok := domain.ParseStatus(strings.TrimSpace(s))
			if !ok {
				badRequest(c, "unknown status "+s)
				return
			}
			req.Statuses = append(req.Statuses, status)
		}
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(c, "invalid limit")
			return
		}
		req.Limit = limit
	}

	switch actor.Role {
	case domain.RoleCustomer:
		req.CustomerID = actor.ID
	case domain.RoleDriver:
		req.DriverID = actor.ID
	}

	reservations, err := h.reservationService.ListReservations(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]ReservationResponse, 0, len(reservations))
	for _, res := range reservations {
		response = append(response, toReservationResponse(res))
	}

	respondJSON(c, http.StatusOK, response)
}

// GetReservation handles GET /v1/reservations/:id
func (h *ReservationHandler) GetReservation(c *gin.Context) {
	res, ok := h.load(c)
	if !ok {
		return
	}
	respondJSON(c, http.StatusOK, toReservationResponse(res))
}

// GetHistory handles GET /v1/reservations/:id/history
func (h *ReservationHandler) GetHistory(c *gin.Context) {
	if _, ok := h.load(c); !ok {
		return
	}

	history, err := h.reservationService.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]HistoryEntry, 0, len(history))
	for _, ch := range history {
		response = append(response, HistoryEntry{
			From:      string(ch.From),
			To:        string(ch.To),
			Action:    string(ch.Action),
			ActorRole: string(ch.ActorRole),
			ActorID:   ch.ActorID,
			At:        ch.At,
		})
	}

	respondJSON(c, http.StatusOK, response)
}

// GetRefund handles GET /v1/reservations/:id/refund
func (h *ReservationHandler) GetRefund(c *gin.Context) {
	if _, ok := h.load(c); !ok {
		return
	}

	refund, err := h.refundService.GetRefund(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRefundResponse(refund))
}

// ProcessRefund handles POST /v1/reservations/:id/refund/process
func (h *ReservationHandler) ProcessRefund(c *gin.Context) {
	refund, err := h.refundService.ProcessRefund(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRefundResponse(refund))
}

// MarkPaid handles POST /v1/reservations/:id/paid
func (h *ReservationHandler) MarkPaid(c *gin.Context) {
	res, err := h.reservationService.MarkPaid(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toReservationResponse(res))
}

// Assign handles POST /v1/reservations/:id/assign
func (h *ReservationHandler) Assign(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	res, err := h.reservationService.Assign(c.Request.Context(), c.Param("id"), req.DriverID, actor)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toReservationResponse(res))
}

// Accept handles POST /v1/reservations/:id/accept
func (h *ReservationHandler) Accept(c *gin.Context) {
	h.transition(c, h.reservationService.Accept)
}

// Refuse handles POST /v1/reservations/:id/refuse
func (h *ReservationHandler) Refuse(c *gin.Context) {
	h.transition(c, h.reservationService.Refuse)
}

// Start handles POST /v1/reservations/:id/start
func (h *ReservationHandler) Start(c *gin.Context) {
	h.transition(c, h.reservationService.Start)
}

// Complete handles POST /v1/reservations/:id/complete
func (h *ReservationHandler) Complete(c *gin.Context) {
	h.transition(c, h.reservationService.Complete)
}

// Cancel handles POST /v1/reservations/:id/cancel
func (h *ReservationHandler) Cancel(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	// Body is optional.
	var req CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}

	result, err := h.reservationService.Cancel(c.Request.Context(), c.Param("id"), actor, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, CancelResponse{
		Reservation: toReservationResponse(result.Reservation),
		Refund:      toRefundResponse(result.Refund),
	})
}

// SubmitReview handles POST /v1/reservations/:id/review
func (h *ReservationHandler) SubmitReview(c *gin.Context) {
	h.rate(c, h.reservationService.SubmitReview)
}

// RateClient handles POST /v1/reservations/:id/rate-client
func (h *ReservationHandler) RateClient(c *gin.Context) {
	h.rate(c, h.reservationService.RateClient)
}

// UpdateDriverLocation handles POST /v1/reservations/:id/location/driver
func (h *ReservationHandler) UpdateDriverLocation(c *gin.Context) {
	h.locate(c, h.reservationService.UpdateDriverLocation)
}

// UpdateCustomerLocation handles POST /v1/reservations/:id/location/customer
func (h *ReservationHandler) UpdateCustomerLocation(c *gin.Context) {
	h.locate(c, h.reservationService.UpdateCustomerLocation)
}

type transitionFunc func(ctx context.Context, reservationID string, actor domain.Actor) (*domain.Reservation, error)

func (h *ReservationHandler) transition(c *gin.Context, fn transitionFunc) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	res, err := fn(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toReservationResponse(res))
}

type rateFunc func(ctx context.Context, reservationID string, actor domain.Actor, rating int, comment string) (*domain.Reservation, error)

func (h *ReservationHandler) rate(c *gin.Context, fn rateFunc) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req RatingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	res, err := fn(c.Request.Context(), c.Param("id"), actor, req.Rating, req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toReservationResponse(res))
}

type locateFunc func(ctx context.Context, reservationID string, actor domain.Actor, p domain.Point) (bool, error)

func (h *ReservationHandler) locate(c *gin.Context, fn locateFunc) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	var req LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	updated, err := fn(c.Request.Context(), c.Param("id"), actor, domain.Point{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, LocationResponse{Updated: updated})
}

// load fetches the reservation in the path and checks the actor may see it.
func (h *ReservationHandler) load(c *gin.Context) (*domain.Reservation, bool) {
	actor, ok := actorFrom(c)
	if !ok {
		return nil, false
	}

	res, err := h.reservationService.GetReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}

	if err := canView(actor, res); err != nil {
		respondError(c, err)
		return nil, false
	}
	return res, true
}

// canView allows managers and admins everything, customers their own
// reservations, drivers the ones they currently hold.
func canView(actor domain.Actor, res *domain.Reservation) error {
	switch actor.Role {
	case domain.RoleManager, domain.RoleAdmin:
		return nil
	case domain.RoleCustomer:
		if res.CustomerID != actor.ID {
			return service.ErrNotOwner
		}
		return nil
	case domain.RoleDriver:
		if res.AssignedDriverID != actor.ID {
			return service.ErrNotAssignedDriver
		}
		return nil
	default:
		return service.ErrForbidden
	}
}

func toReservationResponse(res *domain.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:                    res.ID,
		CustomerID:            res.CustomerID,
		AssignedDriverID:      res.AssignedDriverID,
		AssignedByManagerID:   res.AssignedByManagerID,
		Pickup:                res.Pickup,
		Dropoff:               res.Dropoff,
		DesiredPickupTime:     res.DesiredPickupTime,
		Cost:                  res.Cost,
		Paid:                  res.Paid,
		Status:                string(res.Status),
		Vehicle:               res.Vehicle,
		CreatedAt:             res.CreatedAt,
		UpdatedAt:             res.UpdatedAt,
		AssignedAt:            res.AssignedAt,
		AcceptedAt:            res.AcceptedAt,
		RefusedAt:             res.RefusedAt,
		StartedAt:             res.StartedAt,
		CompletedAt:           res.CompletedAt,
		CancelledAt:           res.CancelledAt,
		CancelledBy:           string(res.CancelledBy),
		CancelReason:          res.CancelReason,
		Rating:                res.Rating,
		Comment:               res.Comment,
		ClientRatingByDriver:  res.ClientRatingByDriver,
		ClientCommentByDriver: res.ClientCommentByDriver,
		DriverLocation:        res.DriverLocation,
		CustomerLocation:      res.CustomerLocation,
	}
}

func toRefundResponse(refund *domain.Refund) RefundResponse {
	return RefundResponse{
		ID:            refund.ID,
		ReservationID: refund.ReservationID,
		Fraction:      refund.Fraction,
		Amount:        refund.Amount,
		Reason:        refund.Reason,
		Status:        string(refund.Status),
		CreatedAt:     refund.CreatedAt,
	}
}
