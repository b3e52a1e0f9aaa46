package app

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"ridebook/internal/domain"
	"ridebook/internal/handler"
	"ridebook/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	ReservationHandler *handler.ReservationHandler
	DriverHandler      *handler.DriverHandler
	Authenticator      *middleware.Authenticator
	RedisClient        *redis.Client // optional; enables idempotent replay
	NewRelicApp        *newrelic.Application
	AllowedOrigins     []string
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware(deps.AllowedOrigins))

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	staff := middleware.RequireRoles(domain.RoleManager, domain.RoleAdmin)

	// API v1 routes. Every route needs an actor.
	v1 := router.Group("/v1")
	v1.Use(deps.Authenticator.Middleware())
	v1.Use(middleware.ActorAttributes())
	v1.Use(middleware.IdempotencyMiddleware(deps.RedisClient))
	{
		rh := deps.ReservationHandler
		reservations := v1.Group("/reservations")
		{
			reservations.POST("", middleware.RequireRoles(domain.RoleCustomer, domain.RoleManager, domain.RoleAdmin), rh.CreateReservation)
			reservations.GET("", rh.GetAll)
			reservations.GET("/:id", rh.GetReservation)
			reservations.GET("/:id/history", rh.GetHistory)
			reservations.GET("/:id/refund", rh.GetRefund)
			reservations.GET("/:id/watch", rh.Watch)

			// Payment and refund collaborator callbacks.
			reservations.POST("/:id/paid", staff, rh.MarkPaid)
			reservations.POST("/:id/refund/process", middleware.RequireRoles(domain.RoleAdmin), rh.ProcessRefund)

			// Lifecycle transitions. Role checks happen in the engine.
			reservations.POST("/:id/assign", rh.Assign)
			reservations.POST("/:id/accept", rh.Accept)
			reservations.POST("/:id/refuse", rh.Refuse)
			reservations.POST("/:id/start", rh.Start)
			reservations.POST("/:id/complete", rh.Complete)
			reservations.POST("/:id/cancel", rh.Cancel)
			reservations.POST("/:id/review", rh.SubmitReview)
			reservations.POST("/:id/rate-client", rh.RateClient)

			reservations.POST("/:id/location/driver", rh.UpdateDriverLocation)
			reservations.POST("/:id/location/customer", rh.UpdateCustomerLocation)
		}

		dh := deps.DriverHandler
		drivers := v1.Group("/drivers")
		{
			drivers.POST("", staff, dh.Register)
			drivers.GET("", staff, dh.GetAll)
			drivers.GET("/nearby", staff, dh.Nearby)
			drivers.GET("/:id", dh.GetDriver)
			drivers.POST("/:id/online", dh.SetOnline)
			drivers.POST("/:id/position", dh.UpdatePosition)
			drivers.PUT("/:id/vehicle", dh.UpdateVehicle)
		}
	}

	return router
}
