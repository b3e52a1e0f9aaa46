package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"ridebook/internal/app"
	"ridebook/internal/config"
	"ridebook/internal/events"
	"ridebook/internal/handler"
	"ridebook/internal/lock"
	"ridebook/internal/middleware"
	internalRedis "ridebook/internal/redis"
	"ridebook/internal/repository"
	"ridebook/internal/repository/memory"
	"ridebook/internal/repository/postgres"
	"ridebook/internal/service"
	"ridebook/internal/watch"
)

func main() {
	// Load configuration.
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Startup deadline covers broker retries as well as DB and Redis pings.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Printf("failed to initialize New Relic: %v", err)
		} else {
			log.Printf("New Relic enabled: app=%s (with DB instrumentation)", cfg.NewRelic.AppName)
		}
	}

	var db *sql.DB
	if cfg.Storage.Backend == config.StoragePostgres {
		db, err = app.NewDatabase(ctx, cfg.Database, nrApp)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer db.Close()
		log.Println("Connected to PostgreSQL")

		if cfg.Storage.AutoMigrate {
			if err := app.Migrate(ctx, db); err != nil {
				log.Fatalf("failed to migrate database: %v", err)
			}
		}
	} else {
		log.Println("Using in-memory storage; data is lost on restart")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = app.NewRedisClient(ctx, cfg.Redis, nrApp)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
		log.Println("Connected to Redis")
	}

	emitter, closeEmitter, err := app.NewEmitter(ctx, cfg.Events, service.NewNotificationService())
	if err != nil {
		log.Fatalf("failed to connect to RabbitMQ: %v", err)
	}
	defer closeEmitter()

	// Wire dependencies.
	server, monitor := wireServer(db, redisClient, emitter, nrApp, cfg)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go monitor.Run(runCtx)

	// Start server in goroutine.
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}

	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	log.Println("Server exited")
}

// wireServer wires all dependencies and returns the HTTP server and the
// stale-assignment monitor.
func wireServer(db *sql.DB, redisClient *redis.Client, emitter events.Emitter, nrApp *newrelic.Application, cfg *config.Config) (*http.Server, *service.StaleMonitor) {
	// Initialize repositories.
	var (
		reservationRepo repository.ReservationRepository
		refundRepo      repository.RefundRepository
		driverRepo      repository.DriverRepository
	)
	if db != nil {
		reservationRepo = postgres.NewReservationRepository(db)
		refundRepo = postgres.NewRefundRepository(db)
		driverRepo = postgres.NewDriverRepository(db)
	} else {
		store := memory.NewStore()
		reservationRepo = store.Reservations()
		refundRepo = store.Refunds()
		driverRepo = memory.NewDriverRepository()
	}

	// Initialize Redis stores.
	var (
		locationStore   internalRedis.LocationStoreInterface
		cacheStore      internalRedis.DriverCacheInterface
		reservationOpts []service.ReservationOption
	)
	if redisClient != nil {
		loc := internalRedis.NewLocationStore(redisClient)
		locationStore = loc
		cacheStore = internalRedis.NewCacheStore(redisClient)
		reservationOpts = append(reservationOpts, service.WithPositionIndex(loc))
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Lock.Backend == config.LockRedis {
		locker = internalRedis.NewLockStore(redisClient, cfg.Lock.TTL)
		log.Printf("Using Redis keyed locks (ttl=%s)", cfg.Lock.TTL)
	}

	// Initialize services.
	driverService := service.NewDriverService(locationStore, cacheStore, driverRepo)
	reservationService := service.NewReservationService(
		reservationRepo,
		driverService,
		locker,
		emitter,
		watch.NewHub(),
		reservationOpts...,
	)
	refundService := service.NewRefundService(refundRepo, service.NewMockRefundIssuer())
	monitor := service.NewStaleMonitor(reservationRepo, cfg.Assignment.StaleAfter, cfg.Assignment.ScanInterval, service.LogStaleAssignment)

	// Initialize handlers.
	reservationHandler := handler.NewReservationHandler(reservationService, refundService)
	driverHandler := handler.NewDriverHandler(driverService)

	// Create router.
	router := app.NewRouter(app.RouterDeps{
		ReservationHandler: reservationHandler,
		DriverHandler:      driverHandler,
		Authenticator:      middleware.NewAuthenticator(cfg.Auth.JWTSecret),
		RedisClient:        redisClient,
		NewRelicApp:        nrApp,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
	})

	// Create HTTP server. No write timeout: watch streams are long-lived and
	// bound their own writes.
	return &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
	}, monitor
}
