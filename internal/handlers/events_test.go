package handlers

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autorenta/p2p-reconciler/internal/entities"
)

func newEventsServer(t *testing.T) (*EventsManager, string) {
	t.Helper()

	m := NewEventsManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	router := mux.NewRouter()
	m.RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return m, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events"
}

func (m *EventsManager) subscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}

func TestEventsManager_DeliversTransitions(t *testing.T) {
	m, url := newEventsServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return m.subscriberCount() == 1 },
		time.Second, 10*time.Millisecond)

	m.Publish(entities.TransitionEvent{
		OrderID: "order-1",
		Flow:    entities.FlowPayment,
		From:    entities.RecordInProgress,
		To:      entities.RecordSucceeded,
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var event entities.TransitionEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "order-1", event.OrderID)
	assert.Equal(t, entities.RecordSucceeded, event.To)
}

// A subscriber that never reads must not stall the publisher: transitions are
// published from the reconciler while the order's lock is held.
func TestEventsManager_PublishDoesNotBlockOnStalledSubscriber(t *testing.T) {
	m, url := newEventsServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return m.subscriberCount() == 1 },
		time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20*subscriberBuffer; i++ {
			m.Publish(entities.TransitionEvent{OrderID: "order-1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a subscriber that is not reading")
	}
}
