// Package wsevents streams the broker's lifecycle event bus over a
// websocket, for observability and test-harness consumption (spec A7),
// grounded on the knative autoscaler stat server's Upgrader-per-request
// plus per-connection write-pump pattern.
package wsevents

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/localzure/brokerd/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Handler upgrades incoming requests to websocket connections and streams
// every subsequent Bus event to them as JSON text frames.
type Handler struct {
	bus      *events.Bus
	upgrader websocket.Upgrader
}

// New builds a Handler fed by bus.
func New(bus *events.Bus) *Handler {
	return &Handler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and pumps bus events to it until the
// client disconnects or a write fails.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id, ch := h.bus.Subscribe()
	defer h.bus.Unsubscribe(id)

	go h.drainReads(conn)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := h.writeEvent(conn, evt); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeEvent(conn *websocket.Conn, evt events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// drainReads discards inbound frames so pong control frames are processed
// and the connection's close handshake is observed; this endpoint is
// publish-only and never interprets client messages as commands.
func (h *Handler) drainReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
