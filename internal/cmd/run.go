package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Iron-Ham/patchloop/internal/ai"
	"github.com/Iron-Ham/patchloop/internal/apply"
	"github.com/Iron-Ham/patchloop/internal/config"
	"github.com/Iron-Ham/patchloop/internal/event"
	"github.com/Iron-Ham/patchloop/internal/logging"
	"github.com/Iron-Ham/patchloop/internal/loop"
	"github.com/Iron-Ham/patchloop/internal/metrics"
	"github.com/Iron-Ham/patchloop/internal/process"
	"github.com/Iron-Ham/patchloop/internal/report"
	"github.com/Iron-Ham/patchloop/internal/repo"
	"github.com/Iron-Ham/patchloop/internal/telemetry"
	"github.com/Iron-Ham/patchloop/internal/tui"
	"github.com/Iron-Ham/patchloop/internal/verify"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	runGoal        string
	runRepo        string
	runConstraints []string
	runProgress    bool
	runVerbose     bool
)

// runFlagKeys maps config keys to the run flags that override them.
var runFlagKeys = map[string]string{
	"verify.commands":            "validate",
	"loop.max_iterations":        "max-iterations",
	"loop.verify_budget_seconds": "verify-budget",
	"ai.backend":                 "backend",
	"ai.model":                   "model",
	"output.format":              "output",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Plan a goal and iterate patches until verification passes",
	Long: `Run plans the goal as milestones and works through them in order. Each
attempt asks for unified diffs, applies them with the patch tool and runs the
verification commands. Attempts are drawn from one budget shared by all
milestones (--max-iterations).

When no --validate commands are given, commands are chosen from the lockfiles
found in the repository root.

Examples:
  patchloop run --goal "add a README badge"
  patchloop run -g "fix the failing parser test" -V "go test ./..." -c "no new deps"
  patchloop run -g "rename the config flag" --output json > result.json`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runGoal, "goal", "g", "", "goal to accomplish (required)")
	runCmd.Flags().StringVarP(&runRepo, "repo", "r", ".", "path inside the target repository")
	runCmd.Flags().StringArrayVarP(&runConstraints, "constraint", "c", nil, "constraint passed to the model (repeatable)")
	runCmd.Flags().StringArrayP("validate", "V", nil, "verification command (repeatable, overrides verify.commands)")
	runCmd.Flags().Int("max-iterations", 10, "global attempt budget shared by all milestones")
	runCmd.Flags().Int("verify-budget", 120, "seconds allowed for one verification pass")
	runCmd.Flags().String("backend", "anthropic", "completion backend (anthropic, openai, ollama, claude-cli)")
	runCmd.Flags().StringP("model", "m", "", "model name (default depends on backend)")
	runCmd.Flags().StringP("output", "o", "text", "result format (text, json, yaml)")
	runCmd.Flags().BoolVar(&runProgress, "progress", false, "show live progress on stderr when it is a terminal")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "log debug output to stderr")
	_ = runCmd.MarkFlagRequired("goal")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	root := repo.FindRoot(runRepo)

	logger, err := newLogger(cfg.Logging, root, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	shutdown, err := telemetry.Setup(cfg.Telemetry, rootCmd.Version)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdown(cmd.Context()); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	bus := event.NewBus(event.WithLogger(logger))
	collector := metrics.NewCollector()
	collector.Attach(bus)

	runner := process.NewExecRunner()
	provider, err := ai.New(cfg.AI, ai.WithLogger(logger), ai.WithRunner(runner))
	if err != nil {
		return fmt.Errorf("failed to create %s provider: %w", cfg.AI.Backend, err)
	}

	controller := loop.New(provider,
		loop.WithConfig(cfg.Loop),
		loop.WithLogger(logger),
		loop.WithBus(bus),
		loop.WithApplier(apply.New(
			apply.WithConfig(cfg.Apply),
			apply.WithRunner(runner),
			apply.WithLogger(logger),
			apply.WithBus(bus),
		)),
		loop.WithVerifier(verify.New(
			verify.WithConfig(cfg.Verify),
			verify.WithRunner(runner),
			verify.WithLogger(logger),
			verify.WithBus(bus),
		)),
	)

	var progress *tui.Progress
	if runProgress && isTerminal(cmd.ErrOrStderr()) {
		progress = tui.StartProgress(bus, cmd.ErrOrStderr())
	}

	res, runErr := controller.Run(cmd.Context(), loop.Task{
		Goal:        runGoal,
		Root:        root,
		Constraints: runConstraints,
		Commands:    cfg.Verify.Commands,
	})

	if progress != nil {
		if err := progress.Stop(); err != nil {
			logger.Warn("progress display failed", "error", err)
		}
	}
	if cfg.Metrics.Textfile != "" {
		if err := collector.WriteToTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warn("failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
		}
	}

	format := report.Format(cfg.Output.Format)
	if runErr != nil {
		if err := report.RenderError(cmd.ErrOrStderr(), runErr, format); err != nil {
			return err
		}
		return fmt.Errorf("%w: %w", errReported, runErr)
	}
	return report.Render(cmd.OutOrStdout(), res, format)
}

// newLogger returns a rotating file logger when logging is enabled, a stderr
// logger with --verbose, and a discarding logger otherwise. A relative log
// directory is resolved against the repository root.
func newLogger(cfg config.LoggingConfig, root string, stderr io.Writer) (*logging.Logger, error) {
	if !cfg.Enabled {
		if runVerbose {
			return logging.NewWriterLogger(stderr, logging.LevelDebug), nil
		}
		return logging.NopLogger(), nil
	}

	dir := cfg.Dir
	if dir != "" && !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	level := cfg.Level
	if runVerbose {
		level = logging.LevelDebug
	}
	return logging.NewLoggerWithRotation(dir, level, logging.RotationConfig{
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
