package ports

import "time"

const (
	// DefaultWorkerPoolSize bounds concurrent order processing per poll cycle.
	DefaultWorkerPoolSize = 4

	// SourceRetryDelay is the wait after an order-source fetch failure before
	// the next poll is attempted.
	SourceRetryDelay = 10 * time.Second
)
