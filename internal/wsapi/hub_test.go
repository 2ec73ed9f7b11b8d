package wsapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleetroute/dispatch/internal/domain"
	"fleetroute/dispatch/internal/eventbus"
	"fleetroute/dispatch/internal/logging"
	"github.com/gorilla/websocket"
	"github.com/gorilla/websocket/websockettest"
	"github.com/stretchr/testify/require"
)

func dialTestWebSocket(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(serverURL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	return conn
}

func TestHubStreamsPublishedEventToConnectedClient(t *testing.T) {
	bus := eventbus.New(4)
	hub := NewHub(bus, logging.NewTestLogger(), nil)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer server.Close()

	conn := dialTestWebSocket(t, server.URL)
	defer conn.Close()

	// give ServeHTTP time to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	bus.Publish(domain.AssignmentEvent{Outcome: "success", OrderSnapshot: domain.Order{ID: "o1"}})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got domain.AssignmentEvent
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "o1", got.OrderSnapshot.ID)
}

func TestHubRejectsDisallowedOrigin(t *testing.T) {
	bus := eventbus.New(4)
	hub := NewHub(bus, logging.NewTestLogger(), []string{"https://dashboard.example"})
	server := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer server.Close()

	u := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(u, header)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHubAllowsMatchingOrigin(t *testing.T) {
	bus := eventbus.New(4)
	hub := NewHub(bus, logging.NewTestLogger(), []string{"https://dashboard.example"})
	server := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer server.Close()

	u := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{"Origin": []string{"https://dashboard.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(u, header)
	require.NoError(t, err)
	conn.Close()
}

func TestHubDisconnectUnsubscribesFromBus(t *testing.T) {
	bus := eventbus.New(4)
	hub := NewHub(bus, logging.NewTestLogger(), nil)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer server.Close()

	conn := dialTestWebSocket(t, server.URL)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, bus.SubscriberCount())

	conn.Close()
	require.Eventually(t, func() bool {
		return bus.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
}

// An unresponsive dashboard tab (one that stops answering pings) must not
// keep its send buffer backed up or block publishing to other clients; the
// Event Bus already drops for slow subscribers, so the hub only needs to
// notice the dead connection and tear it down once its read deadline lapses.
func TestHubPublishDoesNotBlockOnUnresponsiveClient(t *testing.T) {
	bus := eventbus.New(4)
	hub := NewHub(bus, logging.NewTestLogger(), nil)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer server.Close()

	u := "ws" + strings.TrimPrefix(server.URL, "http")
	unresponsive, _, err := websockettest.DialIgnoringPongs(u, nil)
	require.NoError(t, err)
	defer unresponsive.Close()

	responsive := dialTestWebSocket(t, server.URL)
	defer responsive.Close()

	time.Sleep(20 * time.Millisecond)
	bus.Publish(domain.AssignmentEvent{Outcome: "success", OrderSnapshot: domain.Order{ID: "o2"}})

	responsive.SetReadDeadline(time.Now().Add(time.Second))
	var got domain.AssignmentEvent
	require.NoError(t, responsive.ReadJSON(&got))
	require.Equal(t, "o2", got.OrderSnapshot.ID)
}
