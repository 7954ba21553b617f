package entities

import "time"

// RecordState of a processing record in the idempotency store.
type RecordState string

const (
	RecordInProgress           RecordState = "in_progress"
	RecordAwaitingConfirmation RecordState = "awaiting_confirmation"
	RecordSucceeded            RecordState = "succeeded"
	RecordFailed               RecordState = "failed"
)

// Flow distinguishes the two order lifecycles sharing the store: outbound
// fiat payments for buy orders and asset releases for sell orders.
type Flow string

const (
	FlowPayment Flow = "payment"
	FlowRelease Flow = "release"
)

// ProcessingRecord is the persisted idempotency entry for one order. Records
// are append-mostly: they are created once, mutated only under the order's
// lock, and never deleted. Once State is succeeded the record is immutable.
type ProcessingRecord struct {
	OrderID       string      `json:"order_id"`
	Flow          Flow        `json:"flow"`
	State         RecordState `json:"state"`
	AttemptCount  int         `json:"attempt_count"`
	ManualReview  bool        `json:"manual_review"`
	FirstSeenAt   time.Time   `json:"first_seen_at"`
	LastUpdatedAt time.Time   `json:"last_updated_at"`
	ResultNote    string      `json:"result_note"`
}
