package imagery

import "time"

// TimeBudget bounds how long a caller is willing to wait for imagery.
// The zero value is an exhausted budget.
type TimeBudget struct {
	deadline time.Time
}

// NewTimeBudget returns a budget that expires d from now.
func NewTimeBudget(d time.Duration) TimeBudget {
	return TimeBudget{deadline: time.Now().Add(d)}
}

// BudgetUntil returns a budget that expires at t.
func BudgetUntil(t time.Time) TimeBudget {
	return TimeBudget{deadline: t}
}

// Deadline returns the expiry time. It is zero for the zero budget.
func (b TimeBudget) Deadline() time.Time {
	return b.deadline
}

// Remaining returns the time left, never negative.
func (b TimeBudget) Remaining() time.Duration {
	if b.deadline.IsZero() {
		return 0
	}
	return max(time.Until(b.deadline), 0)
}

// Expired reports whether no time is left.
func (b TimeBudget) Expired() bool {
	return b.Remaining() == 0
}
