package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	got, err := Plan(PlanData{
		Goal:        "add a README badge",
		Constraints: []string{"no new deps", "keep CI green"},
		Context:     "README.md\nmain.go",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, planSystem+"\n\n"))
	assert.Contains(t, got, "**Goal:** add a README badge")
	assert.Contains(t, got, "**Constraints:** no new deps, keep CI green")
	assert.Contains(t, got, "README.md\nmain.go")
	assert.Contains(t, got, `"milestones"`)
}

func TestPlan_NoConstraints(t *testing.T) {
	got, err := Plan(PlanData{Goal: "g", Context: "(no code files found)"})
	require.NoError(t, err)
	assert.Contains(t, got, "**Constraints:** None")
}

func TestPlan_TemplateCharactersInGoal(t *testing.T) {
	got, err := Plan(PlanData{Goal: "support {{.Goal}} literally & <tags>"})
	require.NoError(t, err)
	assert.Contains(t, got, "support {{.Goal}} literally & <tags>")
}

func TestPatch(t *testing.T) {
	got, err := Patch(PatchData{Scope: "Add badge to README", Snippets: "README.md"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, patchSystem+"\n\n"))
	assert.Contains(t, got, "**Milestone scope:** Add badge to README")
	assert.Contains(t, got, `"unified_diff"`)
	assert.Contains(t, got, "at most 3 files")
}
