package safety

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"

	"github.com/autorenta/p2p-reconciler/internal/entities"
)

// LockHandle proves ownership of an order's processing slot. The zero value is
// inert: releasing it is a no-op.
type LockHandle struct {
	orderID string
	token   string
}

func (h LockHandle) OrderID() string { return h.orderID }

// OrderProcessingLock serializes processing attempts per order within the
// process. The daemon runs as a single instance against the order source, so
// no distributed backing is needed; this table is the only place allowed to
// serialize an order's lifecycle.
type OrderProcessingLock struct {
	mu   sync.Mutex
	held map[string]string // orderID -> handle token
}

func NewOrderProcessingLock() *OrderProcessingLock {
	return &OrderProcessingLock{held: make(map[string]string)}
}

// TryAcquire grants at most one live handle per order id. Non-blocking;
// returns ErrAlreadyLocked when another attempt holds the order.
func (l *OrderProcessingLock) TryAcquire(orderID string) (LockHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[orderID]; ok {
		return LockHandle{}, entities.ErrAlreadyLocked
	}
	token := uuid.NewString()
	l.held[orderID] = token
	return LockHandle{orderID: orderID, token: token}, nil
}

// Release is idempotent: releasing an already-released or foreign handle is a
// no-op, never an error, so cleanup paths may double-release safely.
func (l *OrderProcessingLock) Release(h LockHandle) {
	if h.orderID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if token, ok := l.held[h.orderID]; ok && token == h.token {
		delete(l.held, h.orderID)
	}
}

// Held returns the order ids currently locked, sorted, for the ops API.
func (l *OrderProcessingLock) Held() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := maps.Keys(l.held)
	sort.Strings(ids)
	return ids
}
