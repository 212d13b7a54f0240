// Package verify runs check commands against a working tree under a shared
// time budget and condenses their output into short, bounded excerpts.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/patchloop/internal/config"
	"github.com/Iron-Ham/patchloop/internal/event"
	"github.com/Iron-Ham/patchloop/internal/logging"
	"github.com/Iron-Ham/patchloop/internal/process"
)

// Action is the suggested next step after a verification run.
type Action string

const (
	ActionDone        Action = "done"
	ActionFix         Action = "fix"
	ActionAdjustTests Action = "adjust_tests"
	ActionExpandScope Action = "expand_scope"
)

// Retryable reports whether another attempt on the same scope makes sense.
func (a Action) Retryable() bool {
	return a == ActionFix || a == ActionExpandScope
}

const (
	// TruncationMarker prefixes an excerpt whose output was cut.
	TruncationMarker = "... (truncated)\n"

	timedOutExcerpt = "(command timed out)"
	timedOutSummary = "Command timed out."

	// emptyListTimeout applies when there are no commands to share the budget.
	emptyListTimeout = 60 * time.Second
)

// CommandResult is the outcome of one command. ExitCode is nil when the
// command timed out.
type CommandResult struct {
	Command        string        `json:"command" yaml:"command"`
	Passed         bool          `json:"pass" yaml:"pass"`
	ExitCode       *int          `json:"exit_code" yaml:"exit_code"`
	LogExcerpt     string        `json:"log_excerpt,omitempty" yaml:"log_excerpt,omitempty"`
	FailureSummary string        `json:"failure_summary,omitempty" yaml:"failure_summary,omitempty"`
	Duration       time.Duration `json:"duration" yaml:"duration"`
}

// Outcome aggregates a verification run.
type Outcome struct {
	Passed             bool
	Results            []CommandResult
	NextAction         Action
	RelevantSnippetIDs []string

	// FirstFailure points into Results, nil when everything passed.
	FirstFailure *CommandResult
}

// Runner executes verification commands.
type Runner struct {
	runner       process.Runner
	ciEnv        bool
	excerptChars int
	minTimeout   time.Duration
	logger       *logging.Logger
	bus          *event.Bus
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithBus publishes a verify.command event after every command.
func WithBus(bus *event.Bus) Option {
	return func(r *Runner) { r.bus = bus }
}

// WithRunner sets the process runner.
func WithRunner(pr process.Runner) Option {
	return func(r *Runner) {
		if pr != nil {
			r.runner = pr
		}
	}
}

// WithConfig applies the verify section of the configuration.
func WithConfig(cfg config.VerifyConfig) Option {
	return func(r *Runner) {
		r.ciEnv = cfg.CIEnv
		if cfg.ExcerptChars > len(TruncationMarker) {
			r.excerptChars = cfg.ExcerptChars
		}
		if cfg.MinCommandTimeoutSeconds > 0 {
			r.minTimeout = cfg.MinCommandTimeout()
		}
	}
}

// New creates a Runner with CI=true, 2048 character excerpts and a 10 second
// per-command floor.
func New(opts ...Option) *Runner {
	r := &Runner{
		runner:       process.NewExecRunner(),
		ciEnv:        true,
		excerptChars: 2048,
		minTimeout:   10 * time.Second,
		logger:       logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CommandTimeout splits budget evenly across count commands, truncated to
// whole seconds, and never goes below floor.
func CommandTimeout(budget time.Duration, count int, floor time.Duration) time.Duration {
	if count <= 0 {
		return emptyListTimeout
	}
	share := (budget / time.Duration(count)).Truncate(time.Second)
	return max(floor, share)
}

// Run executes commands sequentially in root. Failures and timeouts are
// recorded in the Outcome; Run stops early only when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, root string, commands []string, budget time.Duration) *Outcome {
	timeout := CommandTimeout(budget, len(commands), r.minTimeout)
	out := &Outcome{
		Results:            make([]CommandResult, 0, len(commands)),
		RelevantSnippetIDs: []string{},
	}

	var env []string
	if r.ciEnv {
		env = append(env, "CI=true")
	}

	for _, command := range commands {
		if ctx.Err() != nil {
			break
		}
		res := r.runOne(ctx, root, command, timeout, env)
		out.Results = append(out.Results, res)

		r.logger.Info("verify command finished",
			"command", command,
			"passed", res.Passed,
			"timeout", timeout.String(),
			"duration_ms", res.Duration.Milliseconds())
		r.bus.Publish(event.NewVerifyCommandEvent(command, res.Passed, res.ExitCode == nil, res.ExitCode, res.Duration))
	}

	out.Passed = len(out.Results) == len(commands)
	for i := range out.Results {
		if !out.Results[i].Passed {
			out.Passed = false
			if out.FirstFailure == nil {
				out.FirstFailure = &out.Results[i]
			}
		}
	}

	out.NextAction = ActionDone
	if !out.Passed {
		out.NextAction = ActionFix
	}
	return out
}

func (r *Runner) runOne(ctx context.Context, root, command string, timeout time.Duration, env []string) CommandResult {
	start := time.Now()
	res, err := r.runner.Run(ctx, process.Shell(command, root, timeout, env...))
	if err != nil {
		code := -1
		return CommandResult{
			Command:        command,
			ExitCode:       &code,
			LogExcerpt:     Excerpt(err.Error(), r.excerptChars),
			FailureSummary: fmt.Sprintf("Command could not run: %v", err),
			Duration:       time.Since(start),
		}
	}

	if res.TimedOut {
		return CommandResult{
			Command:        command,
			LogExcerpt:     timedOutExcerpt,
			FailureSummary: timedOutSummary,
			Duration:       res.Duration,
		}
	}

	code := res.ExitCode
	cr := CommandResult{
		Command:    command,
		Passed:     code == 0,
		ExitCode:   &code,
		LogExcerpt: Excerpt(res.Combined(), r.excerptChars),
		Duration:   res.Duration,
	}
	if !cr.Passed {
		cr.FailureSummary = fmt.Sprintf("Exit code %d", code)
	}
	return cr
}

// Excerpt keeps the tail of output. When output is longer than limit
// characters the result is TruncationMarker followed by the last characters,
// exactly limit characters in total.
func Excerpt(output string, limit int) string {
	runes := []rune(output)
	if len(runes) <= limit {
		return output
	}
	marker := []rune(TruncationMarker)
	keep := max(limit-len(marker), 0)
	return string(marker) + string(runes[len(runes)-keep:])
}
