// Package retry tracks how many attempts the loop has spent.
//
// A single Budget bounds the whole run: every attempt on every milestone
// draws from it, so the loop terminates after at most Max attempts no matter
// how many milestones the plan contains. A Tracker keeps per-milestone
// attempt history for reporting.
//
// Neither type is safe for concurrent use; the loop owns both for the
// duration of one run.
package retry

// Budget is a global attempt counter shared across milestones.
type Budget struct {
	max  int
	used int
}

// NewBudget creates a budget allowing max attempts. A non-positive max allows none.
func NewBudget(max int) *Budget {
	return &Budget{max: max}
}

// Take claims one attempt and reports whether it is within the budget.
// Once Take returns false it keeps returning false.
func (b *Budget) Take() bool {
	if b.used >= b.max {
		return false
	}
	b.used++
	return true
}

// Used returns the number of attempts claimed so far.
func (b *Budget) Used() int {
	return b.used
}

// Max returns the configured maximum.
func (b *Budget) Max() int {
	return b.max
}

// Remaining returns how many attempts are left.
func (b *Budget) Remaining() int {
	return max(b.max-b.used, 0)
}
