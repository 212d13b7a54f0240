package loop_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Iron-Ham/patchloop/internal/apply"
	"github.com/Iron-Ham/patchloop/internal/config"
	"github.com/Iron-Ham/patchloop/internal/errors"
	"github.com/Iron-Ham/patchloop/internal/event"
	"github.com/Iron-Ham/patchloop/internal/logging"
	"github.com/Iron-Ham/patchloop/internal/loop"
	"github.com/Iron-Ham/patchloop/internal/process"
	"github.com/Iron-Ham/patchloop/internal/retry"
	"github.com/Iron-Ham/patchloop/internal/testutil"
	"github.com/Iron-Ham/patchloop/internal/verify"
)

const readmeDiff = "--- a/README.md\n+++ b/README.md\n@@ -1 +1,2 @@\n # Test\n+![build](https://example.com/badge.svg)\n"

type milestone struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Order float64 `json:"order"`
	Scope string  `json:"scope_summary"`
}

func planJSON(milestones ...milestone) string {
	data, _ := json.Marshal(map[string]any{
		"plan_id":             "plan-42",
		"milestones":          milestones,
		"affected_modules":    []string{"docs"},
		"risk_list":           []string{},
		"test_strategy":       "Run the suite.",
		"acceptance_criteria": []string{"badge visible"},
	})
	return "Here is the plan:\n```json\n" + string(data) + "\n```"
}

func patchJSON(paths ...string) string {
	diffs := make([]apply.Change, 0, len(paths))
	for _, p := range paths {
		diffs = append(diffs, apply.Change{Path: p, UnifiedDiff: "--- a/" + p + "\n+++ b/" + p + "\n"})
	}
	data, _ := json.Marshal(map[string]any{"summary": "change", "rationale": "why", "diffs": diffs})
	return string(data)
}

type harness struct {
	provider *testutil.ScriptedProvider
	runner   *testutil.FakeRunner
	bus      *event.Bus
	ctrl     *loop.Controller
	root     string
}

func newHarness(t *testing.T, provider *testutil.ScriptedProvider, cfg config.LoopConfig, opts ...loop.Option) *harness {
	t.Helper()
	h := &harness{
		provider: provider,
		runner:   testutil.NewFakeRunner(),
		bus:      event.NewBus(),
		root:     testutil.SetupRepo(t, map[string]string{"README.md": "# Test\n"}),
	}
	base := []loop.Option{
		loop.WithConfig(cfg),
		loop.WithBus(h.bus),
		loop.WithApplier(apply.New(apply.WithRunner(h.runner), apply.WithBus(h.bus))),
		loop.WithVerifier(verify.New(verify.WithRunner(h.runner), verify.WithBus(h.bus))),
	}
	h.ctrl = loop.New(provider, append(base, opts...)...)
	return h
}

func (h *harness) run(t *testing.T, goal string) (*loop.Result, error) {
	t.Helper()
	return h.ctrl.Run(context.Background(), loop.Task{
		Goal:     goal,
		Root:     h.root,
		Commands: []string{"make test"},
	})
}

func TestRun_ReadmeBadgeEndToEnd(t *testing.T) {
	testutil.SkipIfNoPatch(t)

	root := testutil.SetupRepo(t, map[string]string{"README.md": "# Test\n"})
	patch, _ := json.Marshal(map[string]any{
		"summary": "Add badge",
		"diffs":   []apply.Change{{Path: "README.md", UnifiedDiff: readmeDiff}},
	})
	provider := testutil.NewScriptedProvider(
		planJSON(milestone{ID: "m1", Title: "Badge", Order: 1, Scope: "Add a build badge to README"}),
		string(patch),
	)

	ctrl := loop.New(provider)
	res, err := ctrl.Run(context.Background(), loop.Task{
		Goal:     "add a README badge",
		Root:     root,
		Commands: []string{"true"},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, res.FilesChanged)
	assert.Equal(t, []string{"true"}, res.TestsRun)
	assert.Equal(t, "plan-42", res.PlanID)
	assert.Equal(t, "Run completed for goal: add a README badge", res.Summary)
	assert.Contains(t, testutil.ReadFile(t, root, "README.md"), "badge.svg")
	require.Len(t, res.Milestones, 1)
	assert.Equal(t, retry.StopVerified, res.Milestones[0].StopReason)
	assert.Equal(t, loop.StateDone, ctrl.State())
}

func TestRun_PlanErrorMarkerAborts(t *testing.T) {
	provider := testutil.NewScriptedProvider(`{"error": "ambiguous goal"}`)
	h := newHarness(t, provider, config.Default().Loop)

	res, err := h.run(t, "do something")

	assert.Nil(t, res)
	var loopErr *errors.LoopError
	require.ErrorAs(t, err, &loopErr)
	assert.Equal(t, loop.ReasonPlanUnusable, loopErr.Reason)
	assert.Equal(t, "plan", loopErr.Phase)
	assert.Contains(t, loopErr.RawResponse, "ambiguous goal")
	assert.True(t, errors.Is(err, errors.ErrPlanUnusable))

	assert.Equal(t, 1, provider.Calls())
	assert.Empty(t, h.runner.Requests(), "no patch or verify step should run")
	assert.Equal(t, loop.StateAborted, h.ctrl.State())
}

func TestRun_PlanNotJSON(t *testing.T) {
	long := "I am not sure what you want. "
	for len(long) < 3000 {
		long += "More prose without any object. "
	}
	provider := testutil.NewScriptedProvider(long)
	h := newHarness(t, provider, config.Default().Loop)

	_, err := h.run(t, "goal")

	var loopErr *errors.LoopError
	require.ErrorAs(t, err, &loopErr)
	assert.Equal(t, loop.ReasonPlanUnusable, loopErr.Reason)
	assert.Len(t, []rune(loopErr.Detail), 500)
	assert.Len(t, []rune(loopErr.RawResponse), 2000)
	assert.True(t, errors.Is(err, errors.ErrPlanUnusable))
	assert.True(t, errors.Is(err, errors.ErrNoObject))
}

func TestRun_PlanProviderFailure(t *testing.T) {
	provider := testutil.NewScriptedProvider().Fail(fmt.Errorf("connection refused"))
	h := newHarness(t, provider, config.Default().Loop)

	_, err := h.run(t, "goal")

	var loopErr *errors.LoopError
	require.ErrorAs(t, err, &loopErr)
	assert.Equal(t, loop.ReasonPlanFailed, loopErr.Reason)
	assert.Contains(t, loopErr.Detail, "connection refused")
	assert.True(t, errors.Is(err, errors.ErrProviderFailed))
}

func TestRun_PatchProviderFailure(t *testing.T) {
	provider := testutil.NewScriptedProvider(planJSON(
		milestone{ID: "m1", Order: 1, Scope: "first"},
		milestone{ID: "m2", Order: 2, Scope: "second"},
	)).Fail(fmt.Errorf("503 service unavailable"))
	h := newHarness(t, provider, config.Default().Loop)

	res, err := h.run(t, "goal")

	assert.Nil(t, res)
	var loopErr *errors.LoopError
	require.ErrorAs(t, err, &loopErr)
	assert.Equal(t, loop.ReasonPatchFailed, loopErr.Reason)
	assert.Equal(t, "m1", loopErr.MilestoneID)
	assert.Equal(t, "patch", loopErr.Phase)
	assert.Equal(t, 2, provider.Calls(), "second milestone must not be attempted")
}

func TestRun_EmptyDiffsMovesToNextMilestone(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		planJSON(
			milestone{ID: "m1", Order: 1, Scope: "nothing to do"},
			milestone{ID: "m2", Order: 2, Scope: "real work"},
		),
		`{"summary": "nothing", "diffs": []}`,
		patchJSON("b.go"),
	)
	h := newHarness(t, provider, config.Default().Loop)

	res, err := h.run(t, "goal")

	require.NoError(t, err)
	assert.Equal(t, []string{"b.go"}, res.FilesChanged)
	require.Len(t, res.Milestones, 2)
	assert.Equal(t, retry.StopNoChanges, res.Milestones[0].StopReason)
	assert.Equal(t, 1, res.Milestones[0].Attempts)
	assert.Equal(t, retry.StopVerified, res.Milestones[1].StopReason)
	assert.Equal(t, []string{"make test"}, h.runner.ShellCommands(), "empty patch skips verification")
}

func TestRun_BareObjectEndsMilestoneWithoutChanges(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		planJSON(
			milestone{ID: "m1", Order: 1, Scope: "first"},
			milestone{ID: "m2", Order: 2, Scope: "second"},
		),
		`{}`,
		patchJSON("b.go"),
	)
	h := newHarness(t, provider, config.Default().Loop)

	var unusable int
	h.bus.Subscribe(event.TypeResponseUnusable, func(event.Event) { unusable++ })

	res, err := h.run(t, "goal")

	require.NoError(t, err)
	require.Len(t, res.Milestones, 2)
	assert.Equal(t, retry.StopNoChanges, res.Milestones[0].StopReason)
	assert.Equal(t, 1, res.Milestones[0].Attempts)
	assert.Zero(t, res.Milestones[0].Unusable)
	assert.Zero(t, unusable, "an empty object is a response, not an unusable one")
	assert.Equal(t, retry.StopVerified, res.Milestones[1].StopReason)
	assert.Equal(t, []string{"b.go"}, res.FilesChanged)
	assert.Equal(t, 3, provider.Calls())

	var patches int
	for _, req := range h.runner.Requests() {
		if req.Name == "patch" {
			patches++
		}
	}
	assert.Equal(t, 1, patches, "only the second milestone applies a change")
	assert.Equal(t, []string{"make test"}, h.runner.ShellCommands(), "only the second milestone verifies")
}

func TestRun_SyntheticMilestone(t *testing.T) {
	provider := testutil.NewScriptedProvider(`{"plan_id": "p"}`, patchJSON("a.go"))
	h := newHarness(t, provider, config.Default().Loop)

	res, err := h.run(t, "rename the widget")

	require.NoError(t, err)
	require.Len(t, res.Milestones, 1)
	assert.Equal(t, "m1", res.Milestones[0].MilestoneID)
	assert.Equal(t, "Run lint and tests.", res.TestStrategy)
	assert.Equal(t, 1, provider.CountPrompts("**Milestone scope:** rename the widget"))
}

func TestRun_MilestoneOrder(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		planJSON(
			milestone{ID: "a", Order: 2, Scope: "scope-a"},
			milestone{ID: "b", Order: 1, Scope: "scope-b"},
			milestone{ID: "c", Order: 1, Scope: "scope-c"},
		),
		patchJSON("b.go"), patchJSON("c.go"), patchJSON("a.go"),
	)
	h := newHarness(t, provider, config.Default().Loop)

	res, err := h.run(t, "goal")

	require.NoError(t, err)
	assert.Equal(t, []string{"b.go", "c.go", "a.go"}, res.FilesChanged)

	prompts := provider.Prompts()
	require.Len(t, prompts, 4)
	assert.Contains(t, prompts[1], "scope-b")
	assert.Contains(t, prompts[2], "scope-c")
	assert.Contains(t, prompts[3], "scope-a")
}

func TestRun_GlobalBudgetSharedAcrossMilestones(t *testing.T) {
	provider := testutil.NewScriptedProvider(planJSON(
		milestone{ID: "m1", Order: 1, Scope: "first"},
		milestone{ID: "m2", Order: 2, Scope: "second"},
	))
	provider.Fallback = patchJSON("a.go")

	cfg := config.Default().Loop
	cfg.MaxIterations = 3
	h := newHarness(t, provider, cfg)
	h.runner.On("sh", &process.Result{ExitCode: 1, Stderr: []byte("FAIL")}, nil)

	res, err := h.run(t, "goal")

	require.NoError(t, err, "failing verification never fails the run")
	assert.Equal(t, 1+3, provider.Calls())
	require.Len(t, res.Milestones, 2)
	assert.Equal(t, 3, res.Milestones[0].Attempts)
	assert.Equal(t, retry.StopAttemptsExhausted, res.Milestones[0].StopReason)
	assert.Equal(t, "make test: Exit code 1", res.Milestones[0].LastFailure)
	assert.Equal(t, 0, res.Milestones[1].Attempts)
	assert.Equal(t, retry.StopBudgetExhausted, res.Milestones[1].StopReason)
	assert.Equal(t, []string{"a.go"}, res.FilesChanged, "repeated paths are deduplicated")
}

func TestRun_UnusablePatchResponsesAreRetried(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		planJSON(milestone{ID: "m1", Order: 1, Scope: "work"}),
		"sorry, no JSON here",
		`{"error": "cannot produce a safe patch"}`,
		patchJSON("a.go"),
	)
	h := newHarness(t, provider, config.Default().Loop)

	var unusable []event.ResponseUnusableEvent
	h.bus.Subscribe(event.TypeResponseUnusable, func(e event.Event) {
		unusable = append(unusable, e.(event.ResponseUnusableEvent))
	})

	res, err := h.run(t, "goal")

	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, res.FilesChanged)
	require.Len(t, res.Milestones, 1)
	assert.Equal(t, 3, res.Milestones[0].Attempts)
	assert.Equal(t, 2, res.Milestones[0].Unusable)
	require.Len(t, unusable, 2)
	assert.Equal(t, "cannot produce a safe patch", unusable[1].Reason)
	assert.Equal(t, "m1", unusable[1].MilestoneID)
}

func TestRun_FailedChangesAreNotReported(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		planJSON(milestone{ID: "m1", Order: 1, Scope: "work"}),
		patchJSON("a.go", "b.go"),
	)
	h := newHarness(t, provider, config.Default().Loop)
	h.runner.
		On("patch", &process.Result{}, nil).
		On("patch", &process.Result{ExitCode: 1}, nil)

	res, err := h.run(t, "goal")

	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, res.FilesChanged)
}

func TestRun_StateTransitions(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		planJSON(milestone{ID: "m1", Order: 1, Scope: "work"}),
		patchJSON("a.go"),
	)
	h := newHarness(t, provider, config.Default().Loop)

	var states []string
	h.bus.Subscribe(event.TypeStateChanged, func(e event.Event) {
		states = append(states, e.(event.StateChangedEvent).To)
	})
	var finished []event.MilestoneFinishedEvent
	h.bus.Subscribe(event.TypeMilestoneFinished, func(e event.Event) {
		finished = append(finished, e.(event.MilestoneFinishedEvent))
	})

	_, err := h.run(t, "goal")
	require.NoError(t, err)

	assert.Equal(t, []string{
		string(loop.StatePlanning),
		string(loop.StateMilestoneIteration),
		string(loop.StateAttempt),
		string(loop.StateMilestoneIteration),
		string(loop.StateDone),
	}, states)
	require.Len(t, finished, 1)
	assert.True(t, finished[0].Passed)
}

func TestRun_DuplicateMilestoneIDs(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		planJSON(
			milestone{ID: "m1", Order: 1, Scope: "first"},
			milestone{ID: "m1", Order: 2, Scope: "second"},
		),
		patchJSON("a.go"), patchJSON("b.go"),
	)
	h := newHarness(t, provider, config.Default().Loop)

	res, err := h.run(t, "goal")

	require.NoError(t, err)
	require.Len(t, res.Milestones, 2)
	assert.Equal(t, "m1", res.Milestones[0].MilestoneID)
	assert.Equal(t, "m1-2", res.Milestones[1].MilestoneID)
	assert.Equal(t, []string{"a.go", "b.go"}, res.FilesChanged)
}

func TestRun_DefaultCommandsWhenNoneGiven(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		planJSON(milestone{ID: "m1", Order: 1, Scope: "work"}),
		patchJSON("a.go"),
	)
	h := newHarness(t, provider, config.Default().Loop)
	testutil.WriteFiles(t, h.root, map[string]string{"yarn.lock": ""})

	res, err := h.ctrl.Run(context.Background(), loop.Task{Goal: "g", Root: h.root})

	require.NoError(t, err)
	assert.Equal(t, []string{"yarn lint 2>/dev/null || true", "yarn test"}, res.TestsRun)
	assert.Equal(t, res.TestsRun, h.runner.ShellCommands())
}

func TestRun_PromptsCarryConstraintsAndContext(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		planJSON(milestone{ID: "m1", Order: 1, Scope: "work"}),
		patchJSON("a.go"),
	)
	h := newHarness(t, provider, config.Default().Loop)

	_, err := h.ctrl.Run(context.Background(), loop.Task{
		Goal:        "g",
		Root:        h.root,
		Constraints: []string{"no new deps", "keep API"},
		Commands:    []string{"true"},
	})
	require.NoError(t, err)

	prompts := provider.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "no new deps, keep API")
	assert.Contains(t, prompts[0], "README.md")
	assert.Contains(t, prompts[1], "README.md")
}

func TestRun_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	provider := testutil.NewScriptedProvider(
		planJSON(milestone{ID: "m1", Order: 1, Scope: "work"}),
		patchJSON("a.go"),
	)
	h := newHarness(t, provider, config.Default().Loop, loop.WithTracer(tp.Tracer("test")))

	_, err := h.run(t, "goal")
	require.NoError(t, err)

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"loop.Plan", "loop.Milestone", "loop.Run"}, names)
}

// logLine returns the first JSON log line whose message is msg.
func logLine(t *testing.T, buf *bytes.Buffer, msg string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if json.Unmarshal([]byte(line), &entry) == nil && entry["msg"] == msg {
			return entry
		}
	}
	t.Fatalf("no %q log line in:\n%s", msg, buf.String())
	return nil
}

func TestRun_AbortLogsSeverity(t *testing.T) {
	tests := []struct {
		name      string
		provider  *testutil.ScriptedProvider
		retryable bool
	}{
		{
			name:      "provider failure",
			provider:  testutil.NewScriptedProvider().Fail(fmt.Errorf("connection refused")),
			retryable: true,
		},
		{
			name:      "unusable plan",
			provider:  testutil.NewScriptedProvider(`{"error": "ambiguous goal"}`),
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newHarness(t, tt.provider, config.Default().Loop,
				loop.WithLogger(logging.NewWriterLogger(&buf, "debug")))

			_, err := h.run(t, "goal")
			require.Error(t, err)

			entry := logLine(t, &buf, "run aborted")
			assert.Equal(t, "ERROR", entry["level"])
			assert.Equal(t, "critical", entry["severity"])
			assert.Equal(t, tt.retryable, entry["retryable"])
		})
	}
}

func TestRun_AttemptLogsRemainingBudget(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		planJSON(milestone{ID: "m1", Order: 1, Scope: "work"}),
		patchJSON("a.go"),
	)
	cfg := config.Default().Loop
	cfg.MaxIterations = 4

	var buf bytes.Buffer
	h := newHarness(t, provider, cfg, loop.WithLogger(logging.NewWriterLogger(&buf, "info")))

	_, err := h.run(t, "goal")
	require.NoError(t, err)

	entry := logLine(t, &buf, "attempt started")
	assert.EqualValues(t, 3, entry["budget_remaining"])
}

func TestRun_RejectsOverlappingRun(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		planJSON(milestone{ID: "m1", Order: 1, Scope: "work"}),
		patchJSON("a.go"),
	)
	h := newHarness(t, provider, config.Default().Loop)

	var nested []error
	h.bus.Subscribe(event.TypeStateChanged, func(e event.Event) {
		if e.(event.StateChangedEvent).To == string(loop.StatePlanning) && len(nested) == 0 {
			_, err := h.run(t, "second goal")
			nested = append(nested, err)
		}
	})

	res, err := h.run(t, "goal")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, res.FilesChanged)

	require.Len(t, nested, 1)
	assert.True(t, errors.Is(nested[0], errors.ErrRunInProgress))
	assert.Equal(t, 2, provider.Calls(), "the rejected run must not reach the provider")

	// A finished controller accepts the next run.
	_, err = h.run(t, "goal")
	assert.False(t, errors.Is(err, errors.ErrRunInProgress))
	assert.True(t, errors.Is(err, errors.ErrPlanUnusable))
}
