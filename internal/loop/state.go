package loop

// State is a phase of the loop controller.
type State string

const (
	StatePlanning           State = "PLANNING"
	StateMilestoneIteration State = "MILESTONE_ITERATION"
	StateAttempt            State = "ATTEMPT"
	StateDone               State = "DONE"
	StateAborted            State = "ABORTED"
)

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// Phase names used in logs, spans and error results.
const (
	phasePlan   = "plan"
	phasePatch  = "patch"
	phaseVerify = "verify"
)

// Reasons carried by the error result of an aborted run.
const (
	ReasonPlanFailed      = "Plan step failed"
	ReasonPlanUnusable    = "Plan step did not return valid JSON"
	ReasonPatchFailed     = "Patch step failed"
	reasonNoObject        = "no structured object in response"
	reasonPromptRendering = "prompt could not be rendered"
)
