// Package process runs external programs with a timeout and captures their
// output. The patch tool, verification commands and the claude CLI backend all
// go through a Runner so tests can substitute a scripted implementation.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrStart is wrapped by Run when the program could not be started at all
// (missing binary, bad working directory).
var ErrStart = errors.New("failed to start process")

// Request describes one program invocation.
type Request struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string // appended to the parent environment
	Stdin   string
	Timeout time.Duration // 0 means no timeout beyond ctx
}

// String renders the request as a shell-like command line for logs.
func (r Request) String() string {
	if len(r.Args) == 0 {
		return r.Name
	}
	return r.Name + " " + strings.Join(r.Args, " ")
}

// Result is the outcome of a program that started.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Combined returns stdout followed by stderr.
func (r *Result) Combined() string {
	return string(r.Stdout) + string(r.Stderr)
}

// Success reports a zero exit status without a timeout.
func (r *Result) Success() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// Runner runs external programs.
//
// Run returns an error only when the program could not be started or the
// parent context was cancelled. A non-zero exit or an expired Request.Timeout
// is reported through the Result.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// Shell builds a Request that runs command through `sh -c`.
func Shell(command, dir string, timeout time.Duration, env ...string) Request {
	return Request{
		Name:    "sh",
		Args:    []string{"-c", command},
		Dir:     dir,
		Env:     env,
		Timeout: timeout,
	}
}

// ExecRunner is the Runner backed by os/exec. On timeout the whole process
// group is killed so shell pipelines do not leave orphans behind.
type ExecRunner struct {
	// WaitDelay bounds how long Run waits for output pipes after a kill.
	WaitDelay time.Duration
}

// NewExecRunner returns an ExecRunner with a short pipe wait delay.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{WaitDelay: 2 * time.Second}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: empty program name", ErrStart)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, req.Name, req.Args...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}
	configureProcessGroup(cmd)
	cmd.WaitDelay = r.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStart, req.Name, err)
	}
	waitErr := cmd.Wait()

	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	// Parent cancellation is the caller's decision, not a timeout of this request.
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("wait %s: %w", req.Name, waitErr)
	}
	return res, nil
}
