package entities

import "errors"

// Error taxonomy of the reconciliation loop. Adapter failures are mapped to
// one of these at the loop boundary and never crash the daemon.
var (
	// ErrValidation marks malformed destination or input text. The order is
	// skipped and flagged, never retried automatically.
	ErrValidation = errors.New("validation failed")

	// ErrStorage marks an unreachable or inconsistent idempotency store. The
	// affected order is skipped for the cycle and retried on the next poll;
	// success of a transfer is never inferred from it.
	ErrStorage = errors.New("storage unavailable")

	// ErrConflict means the optimistic from-state check failed: another
	// attempt already moved the record. Safe no-op.
	ErrConflict = errors.New("state transition conflict")

	// ErrRateLimited defers an order to the next cycle without counting an
	// attempt against it.
	ErrRateLimited = errors.New("transfer rate limited")

	// ErrExecutor marks an outright dispatch failure on the payment rail.
	ErrExecutor = errors.New("payment dispatch failed")

	// ErrConfirmationTimeout means the human confirmation step did not
	// complete before the deadline.
	ErrConfirmationTimeout = errors.New("confirmation timed out")

	ErrNotFound      = errors.New("not found")
	ErrAlreadyLocked = errors.New("order already being processed")
)
