package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridebook/internal/domain"
	"ridebook/internal/middleware"
	"ridebook/internal/repository"
	"ridebook/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// badRequest sends a 400 with msg.
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// actorFrom returns the authenticated actor or writes a 401.
func actorFrom(c *gin.Context) (domain.Actor, bool) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated"})
	}
	return actor, ok
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidReservationID),
		errors.Is(err, service.ErrInvalidCustomerID),
		errors.Is(err, service.ErrInvalidDriverID),
		errors.Is(err, service.ErrInvalidPickupLocation),
		errors.Is(err, service.ErrInvalidDropoffLocation),
		errors.Is(err, service.ErrInvalidLocation),
		errors.Is(err, service.ErrInvalidCost),
		errors.Is(err, service.ErrInvalidRating),
		errors.Is(err, service.ErrInvalidDriverName),
		errors.Is(err, service.ErrInvalidPhone),
		errors.Is(err, service.ErrInvalidRadius):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrInvalidActor):
		return http.StatusUnauthorized

	case errors.Is(err, service.ErrPaymentRequired):
		return http.StatusPaymentRequired

	// Forbidden errors
	case errors.Is(err, service.ErrNotAssignedDriver),
		errors.Is(err, service.ErrNotOwner),
		errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden

	// Conflict errors
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrAlreadyTerminal),
		errors.Is(err, service.ErrDriverAlreadyBusy),
		errors.Is(err, service.ErrRefundAlreadyProcessed),
		errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict

	case errors.Is(err, service.ErrDriverOffline):
		return http.StatusUnprocessableEntity

	// Service unavailable
	case errors.Is(err, service.ErrLocationIndexUnavailable):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
