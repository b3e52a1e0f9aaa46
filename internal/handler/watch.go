package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ridebook/internal/domain"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pongWait is how long the client may stay silent before the stream is dropped.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are restricted by the CORS layer and the bearer token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WatchMessage is one frame of the watch stream.
type WatchMessage struct {
	Type        string              `json:"type"`
	Reservation ReservationResponse `json:"reservation"`
}

// Watch handles GET /v1/reservations/:id/watch
//
// The connection is upgraded to a websocket. The current snapshot is sent
// first, then every later snapshot. A slow client skips intermediate
// snapshots but always receives the latest one.
func (h *ReservationHandler) Watch(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	reservationID := c.Param("id")
	snapshot, updates, cancel, err := h.reservationService.Subscribe(c.Request.Context(), reservationID)
	if err != nil {
		respondError(c, err)
		return
	}
	defer cancel()

	if err := canView(actor, snapshot); err != nil {
		respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.Printf("Watch upgrade failed for reservation %s: %v", reservationID, err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go readUntilClosed(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := writeFrame(conn, "snapshot", snapshot); err != nil {
		return
	}
	if snapshot.Status.IsTerminal() {
		closeTerminal(conn, snapshot.Status)
		return
	}

	for {
		select {
		case res, ok := <-updates:
			if !ok {
				return
			}
			if err := writeFrame(conn, "update", res); err != nil {
				log.Printf("Watch write failed for reservation %s: %v", reservationID, err)
				return
			}
			if res.Status.IsTerminal() {
				closeTerminal(conn, res.Status)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, kind string, res *domain.Reservation) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(WatchMessage{Type: kind, Reservation: toReservationResponse(res)})
}

// closeTerminal ends the stream once nothing can change any more.
func closeTerminal(conn *websocket.Conn, status domain.Status) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(status)))
}

// readUntilClosed drains client frames so pongs and close frames are processed.
// Clients do not send anything meaningful on this stream.
func readUntilClosed(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
