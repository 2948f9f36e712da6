package pipeline

import "time"

// DefaultBudget is how long a single processing run may work before handing
// the rest of the queue to a follow-up invocation. It sits below typical
// serverless execution limits with headroom to persist state and respond.
const DefaultBudget = 50 * time.Second

// Budget tracks elapsed wall-clock time for one processing run.
type Budget struct {
	start time.Time
	limit time.Duration
	now   func() time.Time
}

// NewBudget starts a budget clock with the given limit. A zero or negative
// limit falls back to DefaultBudget.
func NewBudget(limit time.Duration) *Budget {
	if limit <= 0 {
		limit = DefaultBudget
	}
	b := &Budget{limit: limit, now: time.Now}
	b.start = b.now()
	return b
}

// Elapsed reports how long the run has been going.
func (b *Budget) Elapsed() time.Duration {
	return b.now().Sub(b.start)
}

// Remaining reports how much of the budget is left, never negative.
func (b *Budget) Remaining() time.Duration {
	if left := b.limit - b.Elapsed(); left > 0 {
		return left
	}
	return 0
}

// Expired reports whether the run must stop starting new work.
func (b *Budget) Expired() bool {
	return b.Elapsed() >= b.limit
}
