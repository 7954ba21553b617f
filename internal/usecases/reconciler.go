package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autorenta/p2p-reconciler/internal/clock"
	"github.com/autorenta/p2p-reconciler/internal/core/ports"
	"github.com/autorenta/p2p-reconciler/internal/entities"
	"github.com/autorenta/p2p-reconciler/internal/safety"
	"github.com/autorenta/p2p-reconciler/internal/validation"
)

// RecordStore is the durable idempotency ledger the reconciler writes every
// state transition to before making the next external call.
type RecordStore interface {
	Get(ctx context.Context, orderID string) (entities.ProcessingRecord, error)
	CreateIfAbsent(ctx context.Context, orderID string, flow entities.Flow) (entities.ProcessingRecord, bool, error)
	Transition(ctx context.Context, orderID string, from, to entities.RecordState, note string) error
	MarkUnrecoverable(ctx context.Context, orderID, note string) error
}

// ReconcilerConfig carries the loop's policy knobs.
type ReconcilerConfig struct {
	MaxAttempts            int
	ConfirmationWait       time.Duration
	MaxSingleAmount        float64
	WorkerPoolSize         int
	VerifyIncomingWindow   time.Duration
	AmountTolerancePercent float64
	DryRun                 bool
}

// Reconciler drives the per-order state machine: it matches pending buy
// orders against payment instructions, executes the fiat transfer, and marks
// the order settled; sell orders are verified and released. Each order is
// processed under its lock, deduplicated through the record store, and gated
// by the transfer rate limiter.
type Reconciler struct {
	logger *slog.Logger
	cfg    ReconcilerConfig
	clock  clock.Clock

	source   ports.OrderSource
	executor ports.PaymentExecutor
	records  RecordStore
	limiter  *safety.TransferRateLimiter
	locks    *safety.OrderProcessingLock
	notifier ports.Notifier
	events   ports.TransitionSink
}

func NewReconciler(
	logger *slog.Logger,
	cfg ReconcilerConfig,
	clk clock.Clock,
	source ports.OrderSource,
	executor ports.PaymentExecutor,
	records RecordStore,
	limiter *safety.TransferRateLimiter,
	locks *safety.OrderProcessingLock,
	notifier ports.Notifier,
	events ports.TransitionSink,
) *Reconciler {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = ports.DefaultWorkerPoolSize
	}
	return &Reconciler{
		logger:   logger,
		cfg:      cfg,
		clock:    clk,
		source:   source,
		executor: executor,
		records:  records,
		limiter:  limiter,
		locks:    locks,
		notifier: notifier,
		events:   events,
	}
}

// ProcessCycle re-fetches the order snapshot and processes every actionable
// order through a bounded worker pool. Level-triggered: a missed or duplicate
// cycle is self-correcting via the idempotency check. Returns the number of
// orders that ended the cycle in failure.
func (r *Reconciler) ProcessCycle(ctx context.Context) (int, error) {
	orders, err := r.source.FetchPendingOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch pending orders: %w", err)
	}

	sem := make(chan struct{}, r.cfg.WorkerPoolSize)
	var wg sync.WaitGroup
	var failed atomic.Int32

	for _, order := range orders {
		var process func(context.Context, entities.Order) error

		switch {
		case order.Direction == entities.DirectionBuy && order.Status == entities.OrderStatusPendingPayment:
			process = r.processBuyOrder
		case order.Direction == entities.DirectionSell && order.Status == entities.OrderStatusOtherPending:
			process = r.processSellOrder
		default:
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return int(failed.Load()), ctx.Err()
		}

		wg.Add(1)
		go func(order entities.Order) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := process(ctx, order); err != nil {
				failed.Add(1)
				r.logger.Error("order processing failed",
					"order_id", order.ID,
					"direction", order.Direction,
					"error", err)
			}
		}(order)
	}

	wg.Wait()
	return int(failed.Load()), nil
}

// processBuyOrder walks one buy order through the state machine. All record
// mutations happen while the order's lock is held; a transition is persisted
// before every external call so a crash leaves an auditable in_progress or
// awaiting_confirmation row rather than silence.
func (r *Reconciler) processBuyOrder(ctx context.Context, order entities.Order) error {
	handle, err := r.locks.TryAcquire(order.ID)
	if err != nil {
		// Another worker holds the order; it will record the outcome.
		r.logger.Debug("order already being processed", "order_id", order.ID)
		return nil
	}
	defer r.locks.Release(handle)

	rec, created, err := r.records.CreateIfAbsent(ctx, order.ID, entities.FlowPayment)
	if err != nil {
		return err
	}
	if !created && r.alreadyHandled(rec) {
		return nil
	}

	r.logger.Info("processing buy order",
		"order_id", order.ID,
		"amount", order.AmountFiat,
		"counterparty", validation.SafeLabel(order.CounterpartyLabel),
		"attempt", rec.AttemptCount+1)

	if order.AmountFiat <= 0 || order.AmountFiat > r.cfg.MaxSingleAmount {
		return r.skipPermanently(ctx, order.ID,
			fmt.Sprintf("amount %.2f outside single-transfer bounds", order.AmountFiat))
	}

	destination, err := r.resolveDestination(ctx, order)
	if err != nil {
		if errors.Is(err, entities.ErrValidation) || errors.Is(err, entities.ErrNotFound) {
			// Data is presumed bad, not transient: skip, never auto-retry.
			return r.skipPermanently(ctx, order.ID, "no valid payment destination")
		}
		return err
	}

	// The slot is consumed here, atomically with the ceiling check, so a full
	// worker pool can never overshoot the window between check and dispatch.
	if ok, reason := r.limiter.TryAcquire(order.AmountFiat); !ok {
		// Deferred, not failed: no attempt is counted, the next cycle retries.
		r.logger.Warn("transfer deferred by rate limiter", "order_id", order.ID, "reason", reason)
		return nil
	}

	// Claim the attempt before dispatching.
	if err := r.transition(ctx, order.ID, entities.FlowPayment, rec.State, entities.RecordInProgress, "dispatch attempt"); err != nil {
		// Nothing was dispatched; the slot goes back.
		r.limiter.Unwind(order.AmountFiat)
		if errors.Is(err, entities.ErrConflict) {
			return nil // another attempt won the claim
		}
		return err
	}
	attempt := rec.AttemptCount + 1

	if r.cfg.DryRun {
		r.logger.Info("dry-run: transfer simulated", "order_id", order.ID, "destination", destination)
		return r.transition(ctx, order.ID, entities.FlowPayment,
			entities.RecordInProgress, entities.RecordSucceeded, "dry-run: transfer simulated")
	}

	// The slot stays consumed regardless of the dispatch outcome.
	outcome, dispatchErr := r.executor.Dispatch(ctx, destination, order.AmountFiat)

	if dispatchErr != nil {
		return r.failAttempt(ctx, order.ID, attempt,
			fmt.Errorf("%w: %v", entities.ErrExecutor, dispatchErr))
	}

	switch outcome.Status {
	case entities.DispatchSucceeded:
		if err := r.transition(ctx, order.ID, entities.FlowPayment,
			entities.RecordInProgress, entities.RecordSucceeded, "transfer "+outcome.Reference); err != nil {
			return err
		}
		r.settle(ctx, order.ID)
		return nil

	case entities.DispatchConfirmationRequired:
		return r.awaitConfirmation(ctx, order.ID, attempt, outcome.ChallengeRef)

	default:
		return r.failAttempt(ctx, order.ID, attempt,
			fmt.Errorf("%w: %s", entities.ErrExecutor, outcome.Reason))
	}
}

// awaitConfirmation handles the human-in-the-loop step: persist the state,
// alert the operator, then block on a bounded, cancellable wait. A timeout
// leaves the record failed; a later retry performs a fresh dispatch, never a
// re-confirmation of the stale challenge.
func (r *Reconciler) awaitConfirmation(ctx context.Context, orderID string, attempt int, challengeRef string) error {
	if err := r.transition(ctx, orderID, entities.FlowPayment,
		entities.RecordInProgress, entities.RecordAwaitingConfirmation, "challenge "+challengeRef); err != nil {
		return err
	}

	r.notifier.Notify("P2P reconciler", "Confirmation required for order "+orderID)

	deadline := r.clock.Now().Add(r.cfg.ConfirmationWait)
	confirmed, err := r.executor.AwaitConfirmation(ctx, challengeRef, deadline)
	if err != nil || !confirmed {
		if ctx.Err() != nil {
			// Shutting down: leave the record awaiting_confirmation; the next
			// start re-validates instead of blindly retrying.
			return ctx.Err()
		}
		return r.failAttemptFrom(ctx, orderID, entities.RecordAwaitingConfirmation, attempt,
			entities.ErrConfirmationTimeout)
	}

	if err := r.transition(ctx, orderID, entities.FlowPayment,
		entities.RecordAwaitingConfirmation, entities.RecordSucceeded, "confirmed "+challengeRef); err != nil {
		return err
	}
	r.settle(ctx, orderID)
	return nil
}

// processSellOrder verifies the buyer's incoming payment and releases the
// escrowed assets. The transfer rate limiter is not consulted: no outbound
// fiat leaves on this path.
func (r *Reconciler) processSellOrder(ctx context.Context, order entities.Order) error {
	handle, err := r.locks.TryAcquire(order.ID)
	if err != nil {
		r.logger.Debug("order already being processed", "order_id", order.ID)
		return nil
	}
	defer r.locks.Release(handle)

	rec, created, err := r.records.CreateIfAbsent(ctx, order.ID, entities.FlowRelease)
	if err != nil {
		return err
	}
	if !created && r.alreadyHandled(rec) {
		return nil
	}

	received, err := r.executor.VerifyIncoming(ctx, order.AmountFiat,
		r.cfg.VerifyIncomingWindow, r.cfg.AmountTolerancePercent)
	if err != nil {
		return fmt.Errorf("verify incoming payment: %w", err)
	}
	if !received {
		// Not an error: the buyer may still be paying. Next cycle re-checks.
		r.logger.Info("incoming payment not verified yet", "order_id", order.ID, "amount", order.AmountFiat)
		return nil
	}

	if err := r.transition(ctx, order.ID, entities.FlowRelease, rec.State, entities.RecordInProgress, "release attempt"); err != nil {
		if errors.Is(err, entities.ErrConflict) {
			return nil
		}
		return err
	}
	attempt := rec.AttemptCount + 1

	if err := r.source.ReleaseAssets(ctx, order.ID); err != nil {
		return r.failAttempt(ctx, order.ID, attempt,
			fmt.Errorf("%w: release: %v", entities.ErrExecutor, err))
	}

	return r.transition(ctx, order.ID, entities.FlowRelease,
		entities.RecordInProgress, entities.RecordSucceeded, "assets released")
}

// alreadyHandled reports whether a record needs no further work: it either
// succeeded or is parked for manual review / out of attempts.
func (r *Reconciler) alreadyHandled(rec entities.ProcessingRecord) bool {
	if rec.State == entities.RecordSucceeded {
		return true
	}
	if rec.ManualReview {
		return true
	}
	return rec.State == entities.RecordFailed && rec.AttemptCount >= r.cfg.MaxAttempts
}

func (r *Reconciler) resolveDestination(ctx context.Context, order entities.Order) (string, error) {
	dest, err := r.source.FetchPaymentDestination(ctx, order.DetailRef)
	if err != nil {
		return "", err
	}
	return validation.Destination(dest)
}

// skipPermanently parks an order that must never be auto-retried and flags it
// for a human.
func (r *Reconciler) skipPermanently(ctx context.Context, orderID, note string) error {
	r.logger.Warn("order skipped for manual review", "order_id", orderID, "note", note)
	if err := r.records.MarkUnrecoverable(ctx, orderID, note); err != nil {
		return err
	}
	r.publish(orderID, entities.FlowPayment, entities.RecordInProgress, entities.RecordFailed, note)
	return nil
}

// failAttempt records a failed dispatch attempt from in_progress.
func (r *Reconciler) failAttempt(ctx context.Context, orderID string, attempt int, cause error) error {
	return r.failAttemptFrom(ctx, orderID, entities.RecordInProgress, attempt, cause)
}

func (r *Reconciler) failAttemptFrom(ctx context.Context, orderID string, from entities.RecordState, attempt int, cause error) error {
	if err := r.transition(ctx, orderID, entities.FlowPayment, from, entities.RecordFailed, cause.Error()); err != nil {
		if errors.Is(err, entities.ErrConflict) {
			return nil
		}
		return err
	}

	if attempt >= r.cfg.MaxAttempts {
		note := fmt.Sprintf("attempt ceiling reached (%d): %s", attempt, cause.Error())
		if err := r.records.MarkUnrecoverable(ctx, orderID, note); err != nil {
			return err
		}
		r.notifier.Notify("P2P reconciler", "Order "+orderID+" needs manual review")
	}

	return cause
}

// settle marks the order paid on the order book. Best-effort: a failure never
// rolls back the payment, it only leaves the external book stale until an
// operator reconciles it.
func (r *Reconciler) settle(ctx context.Context, orderID string) {
	if err := r.source.MarkSettled(ctx, orderID); err != nil {
		r.logger.Warn("reconciliation gap: payment sent but order not marked settled",
			"order_id", orderID, "error", err)
	}
}

// transition persists a state change, logs it, and feeds the event stream.
func (r *Reconciler) transition(ctx context.Context, orderID string, flow entities.Flow, from, to entities.RecordState, note string) error {
	if err := r.records.Transition(ctx, orderID, from, to, note); err != nil {
		return err
	}

	r.logger.Info("state transition",
		"order_id", orderID, "flow", flow, "from", from, "to", to, "note", note)
	r.publish(orderID, flow, from, to, note)
	return nil
}

func (r *Reconciler) publish(orderID string, flow entities.Flow, from, to entities.RecordState, note string) {
	if r.events == nil {
		return
	}
	r.events.Publish(entities.TransitionEvent{
		OrderID: orderID,
		Flow:    flow,
		From:    from,
		To:      to,
		Note:    note,
		At:      r.clock.Now(),
	})
}
