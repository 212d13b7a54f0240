// Package event defines the events published while a patchloop run executes.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a "category.action" identifier.
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeStateChanged      = "loop.state"
	TypeAttemptStarted    = "attempt.started"
	TypeResponseUnusable  = "response.unusable"
	TypeChangeApplied     = "change.applied"
	TypeChangeSkipped     = "change.skipped"
	TypeVerifyCommand     = "verify.command"
	TypeMilestoneFinished = "milestone.finished"
)

// Reasons carried by ChangeSkippedEvent.
const (
	SkipEmpty      = "empty"
	SkipUnsafePath = "unsafe_path"
	SkipOverLimit  = "over_limit"
	SkipToolFailed = "tool_failed"
	SkipToolError  = "tool_error"
)

type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// StateChangedEvent is emitted on every loop state transition.
type StateChangedEvent struct {
	baseEvent
	RunID string
	From  string
	To    string
}

// NewStateChangedEvent creates a StateChangedEvent.
func NewStateChangedEvent(runID, from, to string) StateChangedEvent {
	return StateChangedEvent{
		baseEvent: newBaseEvent(TypeStateChanged),
		RunID:     runID,
		From:      from,
		To:        to,
	}
}

// AttemptStartedEvent is emitted before the patch request of an attempt.
type AttemptStartedEvent struct {
	baseEvent
	MilestoneID string
	Scope       string
	Attempt     int // 1-based attempt number within the milestone
	Global      int // 1-based attempt number across the run
	MaxGlobal   int
}

// NewAttemptStartedEvent creates an AttemptStartedEvent.
func NewAttemptStartedEvent(milestoneID, scope string, attempt, global, maxGlobal int) AttemptStartedEvent {
	return AttemptStartedEvent{
		baseEvent:   newBaseEvent(TypeAttemptStarted),
		MilestoneID: milestoneID,
		Scope:       scope,
		Attempt:     attempt,
		Global:      global,
		MaxGlobal:   maxGlobal,
	}
}

// ResponseUnusableEvent is emitted when a model response yields nothing usable.
type ResponseUnusableEvent struct {
	baseEvent
	Phase       string // "plan" or "patch"
	MilestoneID string
	Reason      string // the error marker text, or why no object was found
	Detail      string
}

// NewResponseUnusableEvent creates a ResponseUnusableEvent.
func NewResponseUnusableEvent(phase, milestoneID, reason, detail string) ResponseUnusableEvent {
	return ResponseUnusableEvent{
		baseEvent:   newBaseEvent(TypeResponseUnusable),
		Phase:       phase,
		MilestoneID: milestoneID,
		Reason:      reason,
		Detail:      detail,
	}
}

// ChangeAppliedEvent is emitted when the patch tool accepts a change.
type ChangeAppliedEvent struct {
	baseEvent
	Path         string
	LinesAdded   int
	LinesDeleted int
}

// NewChangeAppliedEvent creates a ChangeAppliedEvent.
func NewChangeAppliedEvent(path string, added, deleted int) ChangeAppliedEvent {
	return ChangeAppliedEvent{
		baseEvent:    newBaseEvent(TypeChangeApplied),
		Path:         path,
		LinesAdded:   added,
		LinesDeleted: deleted,
	}
}

// ChangeSkippedEvent is emitted when a proposed change is not applied.
type ChangeSkippedEvent struct {
	baseEvent
	Path   string
	Reason string // one of the Skip* constants
	Detail string
}

// NewChangeSkippedEvent creates a ChangeSkippedEvent.
func NewChangeSkippedEvent(path, reason, detail string) ChangeSkippedEvent {
	return ChangeSkippedEvent{
		baseEvent: newBaseEvent(TypeChangeSkipped),
		Path:      path,
		Reason:    reason,
		Detail:    detail,
	}
}

// VerifyCommandEvent is emitted after each verification command.
type VerifyCommandEvent struct {
	baseEvent
	Command  string
	Passed   bool
	TimedOut bool
	ExitCode *int
	Duration time.Duration
}

// NewVerifyCommandEvent creates a VerifyCommandEvent.
func NewVerifyCommandEvent(command string, passed, timedOut bool, exitCode *int, d time.Duration) VerifyCommandEvent {
	return VerifyCommandEvent{
		baseEvent: newBaseEvent(TypeVerifyCommand),
		Command:   command,
		Passed:    passed,
		TimedOut:  timedOut,
		ExitCode:  exitCode,
		Duration:  d,
	}
}

// MilestoneFinishedEvent is emitted when a milestone stops taking attempts.
type MilestoneFinishedEvent struct {
	baseEvent
	MilestoneID string
	Attempts    int
	Passed      bool
	StopReason  string
}

// NewMilestoneFinishedEvent creates a MilestoneFinishedEvent.
func NewMilestoneFinishedEvent(milestoneID string, attempts int, passed bool, stopReason string) MilestoneFinishedEvent {
	return MilestoneFinishedEvent{
		baseEvent:   newBaseEvent(TypeMilestoneFinished),
		MilestoneID: milestoneID,
		Attempts:    attempts,
		Passed:      passed,
		StopReason:  stopReason,
	}
}
