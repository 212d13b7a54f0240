// Package testutil provides testing utilities for patchloop tests.
package testutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/patchloop/internal/ai"
	"github.com/Iron-Ham/patchloop/internal/process"
)

// SetupRepo creates a temporary repository tree with a .git marker directory
// and the given files (relative path -> content). The tree is removed when the
// test completes.
func SetupRepo(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatalf("failed to create .git marker: %v", err)
	}
	WriteFiles(t, dir, files)
	return dir
}

// WriteFiles writes files (relative path -> content) under dir.
func WriteFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()

	for path, content := range files {
		fullPath := filepath.Join(dir, path)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", path, err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write file %s: %v", path, err)
		}
	}
}

// ReadFile returns the content of a file under dir, failing the test if it
// cannot be read.
func ReadFile(t *testing.T, dir, path string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, path))
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// SkipIfNoPatch skips the test if the patch tool is not available.
func SkipIfNoPatch(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("patch"); err != nil {
		t.Skip("patch not available")
	}
}

// -----------------------------------------------------------------------------
// FakeRunner
// -----------------------------------------------------------------------------

// FakeRunner is a process.Runner that returns scripted results and records
// every request. Results are matched by program name; a Handler, when set,
// takes precedence.
type FakeRunner struct {
	mu       sync.Mutex
	results  map[string][]FakeResult
	Handler  func(req process.Request) (*process.Result, error)
	requests []process.Request
}

// FakeResult is one scripted outcome.
type FakeResult struct {
	Result *process.Result
	Err    error
}

// NewFakeRunner returns an empty FakeRunner. Unscripted programs succeed with
// exit status 0 and no output.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{results: make(map[string][]FakeResult)}
}

// On queues a result for the named program. Queued results are consumed in
// order; the last one repeats once the queue is down to it.
func (f *FakeRunner) On(name string, res *process.Result, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[name] = append(f.results[name], FakeResult{Result: res, Err: err})
	return f
}

// Run implements process.Runner.
func (f *FakeRunner) Run(ctx context.Context, req process.Request) (*process.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	handler := f.Handler
	queue := f.results[req.Name]
	var next FakeResult
	scripted := len(queue) > 0
	if scripted {
		next = queue[0]
		if len(queue) > 1 {
			f.results[req.Name] = queue[1:]
		}
	}
	f.mu.Unlock()

	if handler != nil {
		return handler(req)
	}
	if !scripted {
		return &process.Result{}, nil
	}
	if next.Result == nil {
		return nil, next.Err
	}
	res := *next.Result
	return &res, next.Err
}

// Requests returns a copy of every request received so far.
func (f *FakeRunner) Requests() []process.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]process.Request(nil), f.requests...)
}

// ShellCommands returns the command strings of every `sh -c` request.
func (f *FakeRunner) ShellCommands() []string {
	var cmds []string
	for _, req := range f.Requests() {
		if req.Name == "sh" && len(req.Args) == 2 && req.Args[0] == "-c" {
			cmds = append(cmds, req.Args[1])
		}
	}
	return cmds
}

// -----------------------------------------------------------------------------
// ScriptedProvider
// -----------------------------------------------------------------------------

// ScriptedProvider is an ai.Provider that replays queued responses and
// records the prompts it receives.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []scripted
	prompts   []string

	// Fallback is returned once the queue is empty.
	Fallback string
}

type scripted struct {
	text string
	err  error
}

// NewScriptedProvider returns a provider that answers with responses in order.
func NewScriptedProvider(responses ...string) *ScriptedProvider {
	p := &ScriptedProvider{Fallback: `{"error": "no more scripted responses"}`}
	for _, r := range responses {
		p.responses = append(p.responses, scripted{text: r})
	}
	return p
}

// Respond queues a successful response.
func (p *ScriptedProvider) Respond(text string) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, scripted{text: text})
	return p
}

// Fail queues a failed request.
func (p *ScriptedProvider) Fail(err error) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, scripted{err: err})
	return p
}

// Name implements ai.Provider.
func (p *ScriptedProvider) Name() ai.BackendName { return "scripted" }

// Complete implements ai.Provider.
func (p *ScriptedProvider) Complete(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.prompts = append(p.prompts, prompt)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(p.responses) == 0 {
		return p.Fallback, nil
	}
	next := p.responses[0]
	p.responses = p.responses[1:]
	return next.text, next.err
}

// Prompts returns every prompt received so far.
func (p *ScriptedProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

// Calls returns how many times Complete was called.
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

// CountPrompts returns how many prompts contain substr.
func (p *ScriptedProvider) CountPrompts(substr string) int {
	n := 0
	for _, prompt := range p.Prompts() {
		if strings.Contains(prompt, substr) {
			n++
		}
	}
	return n
}
