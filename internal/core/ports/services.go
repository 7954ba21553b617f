package ports

import (
	"context"
	"time"

	"github.com/autorenta/p2p-reconciler/internal/entities"
)

// OrderSource is the adapter over the external order book. Implementations
// (the UI-automation bridge, the in-memory simulator) must make
// FetchPendingOrders safe to call repeatedly: on transient failure they return
// an error, never a partial list.
type OrderSource interface {
	FetchPendingOrders(ctx context.Context) ([]entities.Order, error)

	// FetchPaymentDestination resolves an order's detail reference to the
	// payment destination. Fails with entities.ErrNotFound when no
	// destination could be extracted.
	FetchPaymentDestination(ctx context.Context, detailRef string) (entities.PaymentDestination, error)

	// MarkSettled flags a buy order as paid on the order book. Best-effort:
	// a failure never rolls back the payment, it only leaves the external
	// book stale.
	MarkSettled(ctx context.Context, orderID string) error

	// ReleaseAssets hands the escrowed assets of a sell order to the buyer.
	ReleaseAssets(ctx context.Context, orderID string) error
}

// PaymentExecutor is the adapter over the fiat payment rail.
type PaymentExecutor interface {
	// Dispatch attempts one outbound transfer and reports the typed outcome.
	Dispatch(ctx context.Context, destination string, amount float64) (entities.DispatchOutcome, error)

	// AwaitConfirmation blocks until the out-of-band human confirmation for
	// challengeRef resolves, the deadline passes, or ctx is cancelled.
	AwaitConfirmation(ctx context.Context, challengeRef string, deadline time.Time) (bool, error)

	// VerifyIncoming reports whether a payment of roughly amount (within
	// tolerancePercent) arrived inside the trailing window.
	VerifyIncoming(ctx context.Context, amount float64, window time.Duration, tolerancePercent float64) (bool, error)
}

// Notifier is a best-effort side channel for human attention. Failures are
// logged and swallowed; correctness never depends on an alert being shown.
type Notifier interface {
	Notify(title, message string)
}

// TransitionSink receives every persisted state transition.
type TransitionSink interface {
	Publish(event entities.TransitionEvent)
}
