// Package plan holds the Plan and Milestone types produced by the planning
// request and the rules for turning a loosely-typed model response into a
// plan the loop can always execute.
package plan

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Iron-Ham/patchloop/internal/errors"
)

// Defaults substituted for missing plan fields.
const (
	DefaultID           = "plan-1"
	DefaultTestStrategy = "Run lint and tests."
)

// Milestone is one ordered unit of work. It is never modified after decoding.
type Milestone struct {
	ID           string  `json:"id" yaml:"id"`
	Title        string  `json:"title" yaml:"title"`
	Order        float64 `json:"order" yaml:"order"`
	ScopeSummary string  `json:"scope_summary" yaml:"scope_summary"`
}

// Scope is the text a patch request is scoped to.
func (m Milestone) Scope() string {
	switch {
	case m.ScopeSummary != "":
		return m.ScopeSummary
	case m.Title != "":
		return m.Title
	default:
		return m.ID
	}
}

// ScopeID identifies the milestone in logs and error results.
func (m Milestone) ScopeID() string {
	if m.ID != "" {
		return m.ID
	}
	return "m" + strconv.FormatFloat(m.Order, 'f', -1, 64)
}

// Plan is the structured result of the planning request.
type Plan struct {
	ID                 string      `json:"plan_id" yaml:"plan_id"`
	Milestones         []Milestone `json:"milestones" yaml:"milestones"`
	AffectedModules    []string    `json:"affected_modules" yaml:"affected_modules"`
	Risks              []string    `json:"risk_list" yaml:"risk_list"`
	TestStrategy       string      `json:"test_strategy" yaml:"test_strategy"`
	AcceptanceCriteria []string    `json:"acceptance_criteria" yaml:"acceptance_criteria"`

	// Synthetic is set when the response had no milestones and one covering
	// the whole goal was substituted.
	Synthetic bool `json:"-" yaml:"-"`
}

// SyntheticMilestone returns the single milestone used when a plan has none.
func SyntheticMilestone(goal string) Milestone {
	return Milestone{ID: "m1", Title: "Implement", Order: 1, ScopeSummary: goal}
}

// Parse decodes a plan object. Fields of the wrong type fall back to their
// defaults instead of failing, and entries of milestones that are not objects
// are dropped. The returned plan always has at least one milestone.
func Parse(raw json.RawMessage, goal string) (*Plan, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, errors.Wrap(errors.ErrPlanUnusable, "plan is not an object")
	}

	p := &Plan{
		ID:                 stringField(fields["plan_id"]),
		Milestones:         milestones(fields["milestones"]),
		AffectedModules:    stringList(fields["affected_modules"]),
		Risks:              stringList(fields["risk_list"]),
		TestStrategy:       stringField(fields["test_strategy"]),
		AcceptanceCriteria: stringList(fields["acceptance_criteria"]),
	}

	if p.ID == "" {
		p.ID = DefaultID
	}
	if p.TestStrategy == "" {
		p.TestStrategy = DefaultTestStrategy
	}
	if len(p.Milestones) == 0 {
		p.Milestones = []Milestone{SyntheticMilestone(goal)}
		p.Synthetic = true
	}
	return p, nil
}

// Ordered returns the milestones sorted by ascending Order. Ties keep their
// original sequence position. The plan itself is not modified.
func (p *Plan) Ordered() []Milestone {
	out := make([]Milestone, len(p.Milestones))
	copy(out, p.Milestones)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})
	return out
}

func milestones(raw json.RawMessage) []Milestone {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}

	var out []Milestone
	for _, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			continue
		}
		out = append(out, Milestone{
			ID:           stringField(fields["id"]),
			Title:        stringField(fields["title"]),
			Order:        numberField(fields["order"]),
			ScopeSummary: stringField(fields["scope_summary"]),
		})
	}
	return out
}

// stringField accepts a JSON string, or renders a number or bool as text.
func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

// numberField accepts a JSON number or a numeric string; anything else,
// including NaN and infinities, is 0.
func numberField(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	default:
		return 0
	}
}

// stringList keeps the string entries of a JSON array.
func stringList(raw json.RawMessage) []string {
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
