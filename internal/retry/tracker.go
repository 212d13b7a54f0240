package retry

// StopReason explains why a milestone stopped taking attempts.
type StopReason string

const (
	StopVerified          StopReason = "verified"
	StopNotRetryable      StopReason = "not_retryable"
	StopNoChanges         StopReason = "no_changes"
	StopAttemptsExhausted StopReason = "attempts_exhausted"
	StopBudgetExhausted   StopReason = "budget_exhausted"
)

// MilestoneState tracks attempts for one milestone.
type MilestoneState struct {
	MilestoneID  string     `json:"milestone_id" yaml:"milestone_id"`
	Attempts     int        `json:"attempts" yaml:"attempts"`
	MaxAttempts  int        `json:"max_attempts" yaml:"max_attempts"`
	Unusable     int        `json:"unusable_responses,omitempty" yaml:"unusable_responses,omitempty"`
	LastFailure  string     `json:"last_failure,omitempty" yaml:"last_failure,omitempty"`
	ChangeCounts []int      `json:"change_counts,omitempty" yaml:"change_counts,omitempty"` // files changed per applied attempt
	Passed       bool       `json:"passed" yaml:"passed"`
	StopReason   StopReason `json:"stop_reason,omitempty" yaml:"stop_reason,omitempty"`
}

// Tracker manages attempt state for milestones in the order they were first
// seen.
type Tracker struct {
	states map[string]*MilestoneState
	order  []string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		states: make(map[string]*MilestoneState),
	}
}

// GetOrCreateState returns or creates state for a milestone.
// If the state doesn't exist, it creates one with the given maxAttempts.
func (t *Tracker) GetOrCreateState(milestoneID string, maxAttempts int) *MilestoneState {
	state, exists := t.states[milestoneID]
	if !exists {
		state = &MilestoneState{
			MilestoneID:  milestoneID,
			MaxAttempts:  maxAttempts,
			ChangeCounts: make([]int, 0),
		}
		t.states[milestoneID] = state
		t.order = append(t.order, milestoneID)
	}
	return state
}

// GetState returns the state for a milestone, or nil if not found.
func (t *Tracker) GetState(milestoneID string) *MilestoneState {
	return t.states[milestoneID]
}

// ShouldRetry reports whether the milestone may take another attempt: it has
// state, has not stopped, and is under its own attempt limit.
func (t *Tracker) ShouldRetry(milestoneID string) bool {
	state, exists := t.states[milestoneID]
	if !exists {
		return false
	}
	return state.StopReason == "" && state.Attempts < state.MaxAttempts
}

// RecordAttempt counts one attempt for the milestone and returns the
// milestone's attempt number, or 0 when the milestone is unknown.
func (t *Tracker) RecordAttempt(milestoneID string) int {
	n := 0
	t.update(milestoneID, func(s *MilestoneState) {
		s.Attempts++
		n = s.Attempts
	})
	return n
}

// RecordUnusable counts a response that could not be used.
func (t *Tracker) RecordUnusable(milestoneID, reason string) {
	t.update(milestoneID, func(s *MilestoneState) {
		s.Unusable++
		s.LastFailure = reason
	})
}

// RecordChangeCount records how many files an applied attempt changed.
func (t *Tracker) RecordChangeCount(milestoneID string, n int) {
	t.update(milestoneID, func(s *MilestoneState) { s.ChangeCounts = append(s.ChangeCounts, n) })
}

// SetLastFailure sets the last verification failure for a milestone.
func (t *Tracker) SetLastFailure(milestoneID, summary string) {
	t.update(milestoneID, func(s *MilestoneState) { s.LastFailure = summary })
}

// Finish marks the milestone as stopped. The first reason wins.
func (t *Tracker) Finish(milestoneID string, reason StopReason) {
	t.update(milestoneID, func(s *MilestoneState) {
		if s.StopReason != "" {
			return
		}
		s.StopReason = reason
		s.Passed = reason == StopVerified
	})
}

func (t *Tracker) update(milestoneID string, fn func(*MilestoneState)) {
	if state, exists := t.states[milestoneID]; exists {
		fn(state)
	}
}

// FailedMilestones returns, in first-seen order, the milestones that stopped
// without passing verification.
func (t *Tracker) FailedMilestones() []string {
	var failed []string
	for _, id := range t.order {
		if s := t.states[id]; s.StopReason != "" && !s.Passed {
			failed = append(failed, id)
		}
	}
	return failed
}

// States returns copies of all milestone states in first-seen order.
func (t *Tracker) States() []MilestoneState {
	result := make([]MilestoneState, 0, len(t.order))
	for _, id := range t.order {
		stateCopy := *t.states[id]
		// Copy the slice to avoid sharing
		stateCopy.ChangeCounts = append([]int(nil), t.states[id].ChangeCounts...)
		result = append(result, stateCopy)
	}
	return result
}
