package handler_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridebook/internal/app"
	"ridebook/internal/domain"
	"ridebook/internal/events"
	"ridebook/internal/handler"
	"ridebook/internal/lock"
	"ridebook/internal/middleware"
	"ridebook/internal/repository/memory"
	"ridebook/internal/service"
	"ridebook/internal/watch"
)

const testSecret = "test-secret"

var (
	manager  = domain.Actor{ID: "manager-1", Role: domain.RoleManager}
	admin    = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	customer = domain.Actor{ID: "customer-1", Role: domain.RoleCustomer}
	stranger = domain.Actor{ID: "customer-2", Role: domain.RoleCustomer}
)

type apiFixture struct {
	router   *gin.Engine
	auth     *middleware.Authenticator
	recorder *events.Recorder
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	recorder := &events.Recorder{}
	drivers := service.NewDriverService(nil, nil, memory.NewDriverRepository())
	reservations := service.NewReservationService(store.Reservations(), drivers, lock.NewKeyedMutex(), recorder, watch.NewHub())
	refunds := service.NewRefundService(store.Refunds(), service.NewMockRefundIssuer())

	auth := middleware.NewAuthenticator(testSecret)
	router := app.NewRouter(app.RouterDeps{
		ReservationHandler: handler.NewReservationHandler(reservations, refunds),
		DriverHandler:      handler.NewDriverHandler(drivers),
		Authenticator:      auth,
		AllowedOrigins:     []string{"*"},
	})

	return &apiFixture{router: router, auth: auth, recorder: recorder}
}

func (f *apiFixture) token(t *testing.T, actor domain.Actor) string {
	t.Helper()
	tok, err := f.auth.IssueToken(actor, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(t *testing.T, actor *domain.Actor, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+f.token(t, *actor))
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// registerOnlineDriver registers a driver through the API and brings them online.
func (f *apiFixture) registerOnlineDriver(t *testing.T, phone string) domain.Actor {
	t.Helper()

	w := f.do(t, &manager, http.MethodPost, "/v1/drivers", handler.RegisterDriverRequest{
		Name:    "Driver " + phone,
		Phone:   phone,
		Vehicle: domain.VehicleDetails{"plate": "AB-" + phone},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	driver := domain.Actor{ID: decode[handler.DriverResponse](t, w).ID, Role: domain.RoleDriver}

	w = f.do(t, &driver, http.MethodPost, "/v1/drivers/"+driver.ID+"/online", handler.SetOnlineRequest{Online: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return driver
}

func (f *apiFixture) createReservation(t *testing.T, paid bool) handler.ReservationResponse {
	t.Helper()

	w := f.do(t, &customer, http.MethodPost, "/v1/reservations", handler.CreateReservationRequest{
		Pickup:  handler.PlaceRequest{Lat: 48.85, Lng: 2.35, Address: "Gare du Nord"},
		Dropoff: handler.PlaceRequest{Lat: 49.00, Lng: 2.55, Address: "CDG T2"},
		Cost:    60,
		Paid:    paid,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[handler.ReservationResponse](t, w)
}

func TestAPI_FullLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	driver := f.registerOnlineDriver(t, "100")
	res := f.createReservation(t, true)

	assert.Equal(t, customer.ID, res.CustomerID)
	assert.Equal(t, string(domain.StatusPendingAssignment), res.Status)

	base := "/v1/reservations/" + res.ID

	w := f.do(t, &manager, http.MethodPost, base+"/assign", handler.AssignRequest{DriverID: driver.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assigned := decode[handler.ReservationResponse](t, w)
	assert.Equal(t, string(domain.StatusDriverAssigned), assigned.Status)
	assert.Equal(t, "AB-100", assigned.Vehicle["plate"])

	steps := []struct {
		path string
		want domain.Status
	}{
		{"/accept", domain.StatusDriverAccepted},
		{"/start", domain.StatusInProgress},
		{"/complete", domain.StatusAwaitingReview},
	}
	for _, step := range steps {
		w = f.do(t, &driver, http.MethodPost, base+step.path, nil)
		require.Equal(t, http.StatusOK, w.Code, "%s: %s", step.path, w.Body.String())
		assert.Equal(t, string(step.want), decode[handler.ReservationResponse](t, w).Status)
	}

	// The driver rates the client only once the customer has closed the ride.
	w = f.do(t, &driver, http.MethodPost, base+"/rate-client", handler.RatingRequest{Rating: 4})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	w = f.do(t, &customer, http.MethodPost, base+"/review", handler.RatingRequest{Rating: 5, Comment: "smooth"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	done := decode[handler.ReservationResponse](t, w)
	assert.Equal(t, string(domain.StatusCompleted), done.Status)
	require.NotNil(t, done.Rating)
	assert.Equal(t, 5, *done.Rating)

	w = f.do(t, &driver, http.MethodPost, base+"/rate-client", handler.RatingRequest{Rating: 4})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rated := decode[handler.ReservationResponse](t, w)
	require.NotNil(t, rated.ClientRatingByDriver)
	assert.Equal(t, 4, *rated.ClientRatingByDriver)

	w = f.do(t, &customer, http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[[]handler.HistoryEntry](t, w)
	require.NotEmpty(t, history)
	assert.Equal(t, string(domain.ActionAssign), history[0].Action)
	assert.Equal(t, string(domain.StatusCompleted), history[len(history)-1].To)

	assert.Contains(t, f.recorder.Kinds(res.ID), domain.EventReviewSubmitted)
}

func TestAPI_CancelReturnsRefund(t *testing.T) {
	f := newAPIFixture(t)
	res := f.createReservation(t, true)

	w := f.do(t, &customer, http.MethodPost, "/v1/reservations/"+res.ID+"/cancel", handler.CancelRequest{Reason: "plans changed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decode[handler.CancelResponse](t, w)
	assert.Equal(t, string(domain.StatusCancelled), out.Reservation.Status)
	assert.Equal(t, "plans changed", out.Reservation.CancelReason)
	assert.Equal(t, 1.0, out.Refund.Fraction)
	assert.Equal(t, 60.0, out.Refund.Amount)
	assert.Equal(t, string(domain.RefundStatusPending), out.Refund.Status)

	w = f.do(t, &customer, http.MethodGet, "/v1/reservations/"+res.ID+"/refund", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, out.Refund.ID, decode[handler.RefundResponse](t, w).ID)

	w = f.do(t, &admin, http.MethodPost, "/v1/reservations/"+res.ID+"/refund/process", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, string(domain.RefundStatusIssued), decode[handler.RefundResponse](t, w).Status)

	w = f.do(t, &admin, http.MethodPost, "/v1/reservations/"+res.ID+"/refund/process", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Cancelled is terminal.
	w = f.do(t, &customer, http.MethodPost, "/v1/reservations/"+res.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAPI_ErrorStatuses(t *testing.T) {
	f := newAPIFixture(t)
	driver := f.registerOnlineDriver(t, "200")
	other := f.registerOnlineDriver(t, "201")
	unpaid := f.createReservation(t, false)
	paid := f.createReservation(t, true)

	tests := []struct {
		name   string
		actor  *domain.Actor
		method string
		path   string
		body   any
		want   int
	}{
		{"no token", nil, http.MethodGet, "/v1/reservations", nil, http.StatusUnauthorized},
		{"unpaid assign", &manager, http.MethodPost, "/v1/reservations/" + unpaid.ID + "/assign", handler.AssignRequest{DriverID: driver.ID}, http.StatusPaymentRequired},
		{"customer assigns", &customer, http.MethodPost, "/v1/reservations/" + paid.ID + "/assign", handler.AssignRequest{DriverID: driver.ID}, http.StatusConflict},
		{"unknown reservation", &manager, http.MethodGet, "/v1/reservations/missing", nil, http.StatusNotFound},
		{"foreign customer reads", &stranger, http.MethodGet, "/v1/reservations/" + paid.ID, nil, http.StatusForbidden},
		{"customer registers driver", &customer, http.MethodPost, "/v1/drivers", handler.RegisterDriverRequest{Name: "x", Phone: "1"}, http.StatusForbidden},
		{"driver toggles other driver", &driver, http.MethodPost, "/v1/drivers/" + other.ID + "/online", handler.SetOnlineRequest{Online: false}, http.StatusForbidden},
		{"bad rating", &customer, http.MethodPost, "/v1/reservations/" + paid.ID + "/review", handler.RatingRequest{Rating: 9}, http.StatusBadRequest},
		{"nearby without index", &manager, http.MethodGet, "/v1/drivers/nearby?lat=48.8&lng=2.3", nil, http.StatusServiceUnavailable},
		{"bad status filter", &manager, http.MethodGet, "/v1/reservations?status=bogus", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.actor, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestAPI_AssignConflicts(t *testing.T) {
	f := newAPIFixture(t)
	driver := f.registerOnlineDriver(t, "300")
	first := f.createReservation(t, true)
	second := f.createReservation(t, true)

	w := f.do(t, &manager, http.MethodPost, "/v1/reservations/"+first.ID+"/assign", handler.AssignRequest{DriverID: driver.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, &manager, http.MethodPost, "/v1/reservations/"+second.ID+"/assign", handler.AssignRequest{DriverID: driver.ID})
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	w = f.do(t, &driver, http.MethodPost, "/v1/drivers/"+driver.ID+"/online", handler.SetOnlineRequest{Online: false})
	require.Equal(t, http.StatusOK, w.Code)

	// Refusing frees the reservation, but the driver is now offline.
	w = f.do(t, &driver, http.MethodPost, "/v1/reservations/"+first.ID+"/refuse", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, string(domain.StatusPendingAssignment), decode[handler.ReservationResponse](t, w).Status)

	w = f.do(t, &manager, http.MethodPost, "/v1/reservations/"+second.ID+"/assign", handler.AssignRequest{DriverID: driver.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
}

func TestAPI_ListScopesByRole(t *testing.T) {
	f := newAPIFixture(t)
	mine := f.createReservation(t, true)

	w := f.do(t, &stranger, http.MethodPost, "/v1/reservations", handler.CreateReservationRequest{
		Pickup:  handler.PlaceRequest{Lat: 1, Lng: 1},
		Dropoff: handler.PlaceRequest{Lat: 2, Lng: 2},
		Cost:    10,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, &customer, http.MethodGet, "/v1/reservations?customer_id="+stranger.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]handler.ReservationResponse](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	w = f.do(t, &manager, http.MethodGet, "/v1/reservations?queue=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]handler.ReservationResponse](t, w), 2)
}

func TestAPI_CustomerCannotBookForSomeoneElse(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, &customer, http.MethodPost, "/v1/reservations", handler.CreateReservationRequest{
		CustomerID: stranger.ID,
		Pickup:     handler.PlaceRequest{Lat: 1, Lng: 1},
		Dropoff:    handler.PlaceRequest{Lat: 2, Lng: 2},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, &manager, http.MethodPost, "/v1/reservations", handler.CreateReservationRequest{
		CustomerID: stranger.ID,
		Pickup:     handler.PlaceRequest{Lat: 1, Lng: 1},
		Dropoff:    handler.PlaceRequest{Lat: 2, Lng: 2},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, stranger.ID, decode[handler.ReservationResponse](t, w).CustomerID)
}

func TestAPI_WatchStreamsSnapshots(t *testing.T) {
	f := newAPIFixture(t)
	res := f.createReservation(t, false)

	server := httptest.NewServer(f.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") +
		fmt.Sprintf("/v1/reservations/%s/watch?token=%s", res.ID, f.token(t, customer))
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first handler.WatchMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)
	assert.False(t, first.Reservation.Paid)

	w := f.do(t, &manager, http.MethodPost, "/v1/reservations/"+res.ID+"/paid", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var update handler.WatchMessage
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "update", update.Type)
	assert.True(t, update.Reservation.Paid)

	w = f.do(t, &customer, http.MethodPost, "/v1/reservations/"+res.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var final handler.WatchMessage
	require.NoError(t, conn.ReadJSON(&final))
	assert.Equal(t, string(domain.StatusCancelled), final.Reservation.Status)

	// The server closes the stream once the reservation is terminal.
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "got %v", err)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestAPI_WatchClosesAfterTerminalSnapshot(t *testing.T) {
	f := newAPIFixture(t)
	res := f.createReservation(t, true)

	w := f.do(t, &customer, http.MethodPost, "/v1/reservations/"+res.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	server := httptest.NewServer(f.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") +
		fmt.Sprintf("/v1/reservations/%s/watch?token=%s", res.ID, f.token(t, customer))
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first handler.WatchMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)
	assert.Equal(t, string(domain.StatusCancelled), first.Reservation.Status)

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "got %v", err)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, string(domain.StatusCancelled), closeErr.Text)
}

func TestAPI_WatchRejectsForeignCustomer(t *testing.T) {
	f := newAPIFixture(t)
	res := f.createReservation(t, true)

	w := f.do(t, &stranger, http.MethodGet, "/v1/reservations/"+res.ID+"/watch", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
