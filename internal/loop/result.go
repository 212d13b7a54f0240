package loop

import "github.com/Iron-Ham/patchloop/internal/retry"

// Result is the terminal artifact of a completed run.
type Result struct {
	RunID              string   `json:"run_id" yaml:"run_id"`
	Summary            string   `json:"summary" yaml:"summary"`
	PlanID             string   `json:"plan_id" yaml:"plan_id"`
	AcceptanceCriteria []string `json:"acceptance_criteria" yaml:"acceptance_criteria"`
	TestStrategy       string   `json:"test_strategy" yaml:"test_strategy"`
	FilesChanged       []string `json:"file_list" yaml:"file_list"`
	TestsRun           []string `json:"tests_run" yaml:"tests_run"`
	KnownLimitations   []string `json:"known_limitations" yaml:"known_limitations"`
	FollowUps          []string `json:"follow_ups" yaml:"follow_ups"`

	// Milestones reports, in execution order, how each milestone ended.
	Milestones []retry.MilestoneState `json:"milestones" yaml:"milestones"`
}

// dedupe keeps the first occurrence of each path, preserving order.
func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
