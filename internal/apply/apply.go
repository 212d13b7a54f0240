// Package apply writes proposed unified diffs into a working tree through an
// external patch tool. Individual failures are skipped, never returned: the
// caller only learns which paths changed.
package apply

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/patchloop/internal/config"
	"github.com/Iron-Ham/patchloop/internal/event"
	"github.com/Iron-Ham/patchloop/internal/logging"
	"github.com/Iron-Ham/patchloop/internal/process"
)

// Skipped records a change that was not applied.
type Skipped struct {
	Path   string
	Reason string // one of the event.Skip* constants
	Detail string
}

// Result lists the outcome of one Apply call. Changed preserves input order.
type Result struct {
	Changed []string
	Skipped []Skipped
}

// Applier applies proposed changes with a patch tool.
type Applier struct {
	runner     process.Runner
	command    string
	strip      int
	timeout    time.Duration
	maxChanges int
	logger     *logging.Logger
	bus        *event.Bus
}

// Option configures an Applier.
type Option func(*Applier)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(a *Applier) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithBus publishes change.applied and change.skipped events to bus.
func WithBus(bus *event.Bus) Option {
	return func(a *Applier) { a.bus = bus }
}

// WithRunner sets the process runner used to invoke the patch tool.
func WithRunner(r process.Runner) Option {
	return func(a *Applier) {
		if r != nil {
			a.runner = r
		}
	}
}

// WithConfig applies the patch tool settings from cfg.
func WithConfig(cfg config.ApplyConfig) Option {
	return func(a *Applier) {
		if cfg.PatchCommand != "" {
			a.command = cfg.PatchCommand
		}
		a.strip = cfg.Strip
		if cfg.TimeoutSeconds > 0 {
			a.timeout = cfg.Timeout()
		}
		a.maxChanges = cfg.MaxChangesPerResponse
	}
}

// New creates an Applier running `patch -p1` with a 30 second timeout per
// change and no limit on the number of changes.
func New(opts ...Option) *Applier {
	a := &Applier{
		runner:  process.NewExecRunner(),
		command: "patch",
		strip:   1,
		timeout: 30 * time.Second,
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply applies each change independently against root. A path is reported
// as changed only if the patch tool exits with status 0.
func (a *Applier) Apply(ctx context.Context, root string, changes []Change) *Result {
	res := &Result{Changed: []string{}}

	for i, c := range changes {
		if a.maxChanges > 0 && i >= a.maxChanges {
			a.skip(res, c.Path, event.SkipOverLimit, fmt.Sprintf("only %d changes per response are applied", a.maxChanges))
			continue
		}
		if c.Path == "" || c.UnifiedDiff == "" {
			a.skip(res, c.Path, event.SkipEmpty, "")
			continue
		}
		if !SafePath(c.Path) {
			a.skip(res, c.Path, event.SkipUnsafePath, "path is absolute or leaves the repository")
			continue
		}

		stats, parsed := DiffStats(c.UnifiedDiff)
		if parsed {
			a.checkTargets(c.Path, stats.Targets)
		}
		if reason, detail := a.applyOne(ctx, root, c); reason != "" {
			a.skip(res, c.Path, reason, detail)
			continue
		}

		res.Changed = append(res.Changed, c.Path)
		a.logger.Info("change applied", "path", c.Path, "lines_added", stats.LinesAdded, "lines_deleted", stats.LinesDeleted)
		a.bus.Publish(event.NewChangeAppliedEvent(c.Path, stats.LinesAdded, stats.LinesDeleted))
	}
	return res
}

// applyOne returns an empty reason on success.
func (a *Applier) applyOne(ctx context.Context, root string, c Change) (reason, detail string) {
	target := filepath.Join(root, filepath.FromSlash(c.Path))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return event.SkipToolError, fmt.Sprintf("create parent directory: %v", err)
	}

	patchFile, err := writeTemp(c.UnifiedDiff)
	if err != nil {
		return event.SkipToolError, err.Error()
	}
	defer func() { _ = os.Remove(patchFile) }()

	req := process.Request{
		Name:    a.command,
		Args:    []string{fmt.Sprintf("-p%d", a.strip), "-f", "-s", "-d", root, "-i", patchFile},
		Timeout: a.timeout,
	}
	out, err := a.runner.Run(ctx, req)
	if err != nil {
		return event.SkipToolError, err.Error()
	}
	if out.TimedOut {
		return event.SkipToolError, fmt.Sprintf("%s timed out after %s", a.command, a.timeout)
	}
	if out.ExitCode != 0 {
		return event.SkipToolFailed, fmt.Sprintf("exit status %d: %s", out.ExitCode, strings.TrimSpace(out.Combined()))
	}
	return "", ""
}

// checkTargets warns when the diff headers name a different file than the
// declared path. The patch tool follows the headers, not the declared path.
func (a *Applier) checkTargets(path string, targets []string) {
	for _, t := range targets {
		if filepath.ToSlash(filepath.Clean(stripComponents(t, a.strip))) != filepath.ToSlash(filepath.Clean(path)) {
			a.logger.Warn("diff header does not match declared path", "path", path, "header", t)
		}
	}
}

func (a *Applier) skip(res *Result, path, reason, detail string) {
	res.Skipped = append(res.Skipped, Skipped{Path: path, Reason: reason, Detail: detail})
	a.logger.Warn("change skipped", "path", path, "reason", reason, "detail", detail)
	a.bus.Publish(event.NewChangeSkippedEvent(path, reason, detail))
}

func writeTemp(body string) (string, error) {
	f, err := os.CreateTemp("", "patchloop-*.patch")
	if err != nil {
		return "", fmt.Errorf("create patch file: %w", err)
	}
	name := f.Name()
	if _, err := f.WriteString(body); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("write patch file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("close patch file: %w", err)
	}
	return name, nil
}

// SafePath reports whether path is relative and stays inside the root it is
// joined to.
func SafePath(path string) bool {
	if path == "" || filepath.IsAbs(path) || strings.HasPrefix(path, "/") {
		return false
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	return clean != ".." && !strings.HasPrefix(clean, ".."+string(filepath.Separator)) && clean != "."
}
