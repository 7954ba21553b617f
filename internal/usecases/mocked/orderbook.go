package mocked

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autorenta/p2p-reconciler/internal/entities"
)

// OrderBook simulates the order source and the payment rail for local runs
// without the automation sidecar. Orders disappear from the pending snapshot
// once settled, mirroring the real book.
type OrderBook struct {
	logger *slog.Logger

	mu           sync.Mutex
	orders       []entities.Order
	destinations map[string]entities.PaymentDestination
	settled      map[string]bool
	released     map[string]bool
}

func NewOrderBook(logger *slog.Logger) *OrderBook {
	ob := &OrderBook{
		logger:       logger,
		destinations: make(map[string]entities.PaymentDestination),
		settled:      make(map[string]bool),
		released:     make(map[string]bool),
	}
	ob.seed()
	return ob
}

// seed loads a handful of representative orders: a payable buy order, a buy
// order with no extractable destination, and a paid sell order.
func (ob *OrderBook) seed() {
	ob.orders = []entities.Order{
		{
			ID:                "20458392017465820001",
			Direction:         entities.DirectionBuy,
			AmountFiat:        150000,
			CounterpartyLabel: "Demo Buyer",
			Status:            entities.OrderStatusPendingPayment,
			DetailRef:         "detail/20458392017465820001",
		},
		{
			ID:                "20458392017465820002",
			Direction:         entities.DirectionBuy,
			AmountFiat:        98000,
			CounterpartyLabel: "No Destination",
			Status:            entities.OrderStatusPendingPayment,
			DetailRef:         "detail/20458392017465820002",
		},
		{
			ID:                "20458392017465820003",
			Direction:         entities.DirectionSell,
			AmountFiat:        120000,
			CounterpartyLabel: "Demo Seller Counterpart",
			Status:            entities.OrderStatusOtherPending,
			DetailRef:         "detail/20458392017465820003",
		},
	}
	ob.destinations["detail/20458392017465820001"] = entities.PaymentDestination{
		Alias: "demo.buyer.mp",
	}
}

func (ob *OrderBook) FetchPendingOrders(_ context.Context) ([]entities.Order, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	pending := make([]entities.Order, 0, len(ob.orders))
	for _, o := range ob.orders {
		if ob.settled[o.ID] || ob.released[o.ID] {
			continue
		}
		pending = append(pending, o)
	}
	return pending, nil
}

func (ob *OrderBook) FetchPaymentDestination(_ context.Context, detailRef string) (entities.PaymentDestination, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	dest, ok := ob.destinations[detailRef]
	if !ok {
		return entities.PaymentDestination{}, entities.ErrNotFound
	}
	return dest, nil
}

func (ob *OrderBook) MarkSettled(_ context.Context, orderID string) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.settled[orderID] = true
	ob.logger.Info("mock order book: order settled", "order_id", orderID)
	return nil
}

func (ob *OrderBook) ReleaseAssets(_ context.Context, orderID string) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.released[orderID] = true
	ob.logger.Info("mock order book: assets released", "order_id", orderID)
	return nil
}

func (ob *OrderBook) Dispatch(_ context.Context, destination string, amount float64) (entities.DispatchOutcome, error) {
	ref := uuid.NewString()
	ob.logger.Info("mock payment rail: transfer executed",
		"destination", destination, "amount", amount, "reference", ref)
	return entities.DispatchOutcome{Status: entities.DispatchSucceeded, Reference: ref}, nil
}

func (ob *OrderBook) AwaitConfirmation(ctx context.Context, _ string, deadline time.Time) (bool, error) {
	// The simulated rail never raises a challenge; resolve immediately.
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	if time.Now().After(deadline) {
		return false, nil
	}
	return true, nil
}

func (ob *OrderBook) VerifyIncoming(_ context.Context, amount float64, _ time.Duration, _ float64) (bool, error) {
	ob.logger.Info("mock payment rail: incoming payment verified", "amount", amount)
	return true, nil
}
