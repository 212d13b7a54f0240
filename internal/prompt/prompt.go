// Package prompt renders the planning and patch requests sent to the
// completion provider. Each request is a system section followed by a blank
// line and a user section, as a single string.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// NoConstraints is rendered when the run has no constraints.
const NoConstraints = "None"

// PlanData holds data for rendering the planning request.
type PlanData struct {
	Goal        string
	Constraints []string
	Context     string
}

// ConstraintText joins constraints with ", " or returns NoConstraints.
func (d PlanData) ConstraintText() string {
	if len(d.Constraints) == 0 {
		return NoConstraints
	}
	return strings.Join(d.Constraints, ", ")
}

// PatchData holds data for rendering a patch request.
type PatchData struct {
	Scope    string
	Snippets string
}

const planSystem = `You plan engineering work. Reply with one JSON object that follows the schema below and nothing else: no markdown fences, no commentary, no extra keys. When a usable plan is not possible, reply with {"error": "reason"} only.

Schema:
{
  "plan_id": "string",
  "milestones": [
    { "id": "string", "title": "string", "order": 1, "scope_summary": "string" }
  ],
  "affected_modules": ["string"],
  "risk_list": ["string"],
  "test_strategy": "string",
  "acceptance_criteria": ["string"]
}

Limits: up to 15 milestones, 30 affected_modules, 10 risk_list entries and 15 acceptance_criteria. test_strategy stays under 1024 characters. Keep every string short.`

const planUser = `**Goal:** {{.Goal}}

**Constraints:** {{.ConstraintText}}

**Repository files:**
{{.Context}}

Reply with the plan JSON only.`

const patchSystem = `You write patches. Reply with one JSON object with these keys: summary (string), rationale (string), evidence_pointers (array of {snippet_id, path, line_start, line_end, reason}) and diffs (array of {path, unified_diff}).

Rules:
- Every diff is a valid unified diff for exactly one file, with paths relative to the repository root.
- Change at most 3 files per reply.
- Send hunks only, never whole file contents.
- Evidence pointers refer to snippets present in the provided context.
- When a safe patch is not possible, reply with {"error": "reason"} only.

Schema:
{
  "summary": "string, up to 1024 characters",
  "rationale": "string, up to 512 characters",
  "evidence_pointers": [
    { "snippet_id": "string", "path": "string", "line_start": 0, "line_end": 0, "reason": "string" }
  ],
  "diffs": [
    { "path": "relative/path", "unified_diff": "string" }
  ]
}

At most 20 evidence pointers. No other keys and no text outside the JSON object.`

const patchUser = `**Milestone scope:** {{.Scope}}

**Context (cite these in evidence_pointers):**
{{.Snippets}}

Write the smallest patch that completes this scope. Keep edits focused and leave lockfiles alone unless the scope requires changing them. Reply with the JSON object only.`

var (
	planTemplate  = template.Must(template.New("plan").Parse(planUser))
	patchTemplate = template.Must(template.New("patch").Parse(patchUser))
)

// Plan renders the planning request.
func Plan(data PlanData) (string, error) {
	return render(planTemplate, planSystem, data)
}

// Patch renders the patch request for one milestone scope.
func Patch(data PatchData) (string, error) {
	return render(patchTemplate, patchSystem, data)
}

func render(tmpl *template.Template, system string, data any) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(system)
	buf.WriteString("\n\n")
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
