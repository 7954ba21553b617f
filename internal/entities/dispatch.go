package entities

// DispatchStatus is the typed outcome of a payment dispatch.
type DispatchStatus string

const (
	DispatchSucceeded            DispatchStatus = "succeeded"
	DispatchConfirmationRequired DispatchStatus = "confirmation_required"
	DispatchFailed               DispatchStatus = "failed"
)

// DispatchOutcome is returned by the payment executor for a single transfer
// attempt. ChallengeRef is set only for confirmation_required outcomes and is
// valid for one confirmation wait; a retried order gets a fresh dispatch, never
// a re-used challenge.
type DispatchOutcome struct {
	Status       DispatchStatus `json:"status"`
	Reference    string         `json:"reference,omitempty"`
	ChallengeRef string         `json:"challenge_ref,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}
