package safety

import (
	"fmt"
	"sync"
	"time"

	"github.com/autorenta/p2p-reconciler/internal/clock"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
	dayLayout    = "2006-01-02"
)

// Limits configures the transfer rate limiter.
type Limits struct {
	MaxPerMinute   int
	MaxPerHour     int
	MaxDailyAmount float64
}

// TransferRateLimiter caps outbound transfer dispatches per sliding window and
// per day, independent of order identity. It is a blast-radius control against
// runaway loops, not a dedup mechanism; per-order idempotency lives in the
// processing-record store.
type TransferRateLimiter struct {
	mu     sync.Mutex
	limits Limits
	clock  clock.Clock

	minuteEntries []time.Time
	hourEntries   []time.Time
	dailyAmount   float64
	dailyDate     string
}

// Usage is a point-in-time snapshot for the ops API.
type Usage struct {
	UsedMinute     int     `json:"used_minute"`
	MaxPerMinute   int     `json:"max_per_minute"`
	UsedHour       int     `json:"used_hour"`
	MaxPerHour     int     `json:"max_per_hour"`
	DailyAmount    float64 `json:"daily_amount"`
	MaxDailyAmount float64 `json:"max_daily_amount"`
	DailyDate      string  `json:"daily_date"`
}

func NewTransferRateLimiter(limits Limits, clk clock.Clock) *TransferRateLimiter {
	return &TransferRateLimiter{
		limits:    limits,
		clock:     clk,
		dailyDate: clk.Now().Format(dayLayout),
	}
}

// TryAcquire checks every ceiling and consumes a slot in one mutex hold, so
// concurrent workers can never all pass the check before any of them counts.
// Non-blocking; the reason explains a refusal and is safe to log. A caller
// that ends up never dispatching must return the slot via Unwind.
func (l *TransferRateLimiter) TryAcquire(amount float64) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.prune(now)

	if len(l.minuteEntries) >= l.limits.MaxPerMinute {
		return false, fmt.Sprintf("rate limit: %d/min exceeded", l.limits.MaxPerMinute)
	}
	if len(l.hourEntries) >= l.limits.MaxPerHour {
		return false, fmt.Sprintf("rate limit: %d/hour exceeded", l.limits.MaxPerHour)
	}
	if l.dailyAmount+amount > l.limits.MaxDailyAmount {
		return false, fmt.Sprintf("daily limit: %.0f exceeded", l.limits.MaxDailyAmount)
	}

	l.minuteEntries = append(l.minuteEntries, now)
	l.hourEntries = append(l.hourEntries, now)
	l.dailyAmount += amount
	return true, "ok"
}

// Unwind returns a slot taken by TryAcquire for a transfer that was never
// dispatched. Slots for dispatched transfers stay consumed regardless of the
// dispatch outcome.
func (l *TransferRateLimiter) Unwind(amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.minuteEntries); n > 0 {
		l.minuteEntries = l.minuteEntries[:n-1]
	}
	if n := len(l.hourEntries); n > 0 {
		l.hourEntries = l.hourEntries[:n-1]
	}
	l.dailyAmount -= amount
	if l.dailyAmount < 0 {
		l.dailyAmount = 0
	}
}

// Usage returns the current limiter state.
func (l *TransferRateLimiter) Usage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.clock.Now())
	return Usage{
		UsedMinute:     len(l.minuteEntries),
		MaxPerMinute:   l.limits.MaxPerMinute,
		UsedHour:       len(l.hourEntries),
		MaxPerHour:     l.limits.MaxPerHour,
		DailyAmount:    l.dailyAmount,
		MaxDailyAmount: l.limits.MaxDailyAmount,
		DailyDate:      l.dailyDate,
	}
}

// prune drops entries older than their window and resets the daily amount on
// date change. Callers must hold the mutex.
func (l *TransferRateLimiter) prune(now time.Time) {
	if today := now.Format(dayLayout); today != l.dailyDate {
		l.dailyDate = today
		l.dailyAmount = 0
	}
	l.minuteEntries = pruneBefore(l.minuteEntries, now.Add(-minuteWindow))
	l.hourEntries = pruneBefore(l.hourEntries, now.Add(-hourWindow))
}

func pruneBefore(entries []time.Time, cutoff time.Time) []time.Time {
	kept := entries[:0]
	for _, t := range entries {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
