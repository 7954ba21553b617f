package entities

import "time"

// TransitionEvent is emitted for every persisted state change. It feeds the
// structured transition log and the ops WebSocket stream.
type TransitionEvent struct {
	OrderID string      `json:"order_id"`
	Flow    Flow        `json:"flow"`
	From    RecordState `json:"from"`
	To      RecordState `json:"to"`
	Note    string      `json:"note,omitempty"`
	At      time.Time   `json:"at"`
}
