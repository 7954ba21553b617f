package handlers

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/autorenta/p2p-reconciler/internal/entities"
)

const (
	// Buffered events per subscriber; a subscriber that falls further behind
	// loses events rather than slowing the reconciler.
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
)

// EventsManager fans state-transition events out to connected ops clients.
// Delivery is best-effort: each subscriber gets a buffered channel drained by
// its own writer goroutine, so a slow or dead subscriber drops events and is
// eventually disconnected, never blocks the reconciler.
type EventsManager struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[*websocket.Conn]chan entities.TransitionEvent
}

func NewEventsManager(logger *slog.Logger) *EventsManager {
	return &EventsManager{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The ops API is local-only; the cors wrapper guards the rest.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subscribers: make(map[*websocket.Conn]chan entities.TransitionEvent),
	}
}

// Publish implements ports.TransitionSink. Non-blocking: a full subscriber
// buffer drops the event for that subscriber.
func (m *EventsManager) Publish(event entities.TransitionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for conn, ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			m.logger.Debug("event subscriber lagging, event dropped",
				"remote", conn.RemoteAddr().String())
		}
	}
}

func (m *EventsManager) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/events", m.HandleConnection)
}

func (m *EventsManager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("Error upgrading connection", "error", err)
		return
	}

	ch := make(chan entities.TransitionEvent, subscriberBuffer)
	m.mu.Lock()
	m.subscribers[conn] = ch
	m.mu.Unlock()

	m.logger.Info("New event stream subscriber", "remote", conn.RemoteAddr().String())

	go m.writeLoop(conn, ch)

	// We only push, so reads just detect closure.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			m.remove(conn)
			return
		}
	}
}

func (m *EventsManager) writeLoop(conn *websocket.Conn, ch chan entities.TransitionEvent) {
	for event := range ch {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(event); err != nil {
			m.logger.Debug("dropping event subscriber", "error", err)
			m.remove(conn)
			return
		}
	}
}

// remove unregisters the subscriber and closes its channel, which stops the
// writer. Safe to call from both the read and write loops.
func (m *EventsManager) remove(conn *websocket.Conn) {
	m.mu.Lock()
	if ch, ok := m.subscribers[conn]; ok {
		delete(m.subscribers, conn)
		close(ch)
	}
	m.mu.Unlock()
	conn.Close()
}
