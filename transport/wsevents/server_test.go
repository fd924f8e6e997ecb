package wsevents

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/localzure/brokerd/internal/events"
)

func TestServerStreamsPublishedEvents(t *testing.T) {
	bus := events.NewBus()
	srv := httptest.NewServer(New(bus))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server goroutine time to subscribe before publishing.
	for i := 0; i < 50 && bus.SubscriberCount() == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, bus.SubscriberCount())

	bus.Publish(events.Event{Kind: events.KindSent, EntityType: "queue", EntityName: "orders", Timestamp: time.Now().UTC()})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var evt events.Event
	require.NoError(t, json.Unmarshal(raw, &evt))
	require.Equal(t, events.KindSent, evt.Kind)
	require.Equal(t, "orders", evt.EntityName)
}

func TestServerUnsubscribesOnDisconnect(t *testing.T) {
	bus := events.NewBus()
	srv := httptest.NewServer(New(bus))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	for i := 0; i < 50 && bus.SubscriberCount() == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, bus.SubscriberCount())

	conn.Close()

	for i := 0; i < 50 && bus.SubscriberCount() != 0; i++ {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 0, bus.SubscriberCount())
}
