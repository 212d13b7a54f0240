package testutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Iron-Ham/patchloop/internal/process"
)

func TestSetupRepo(t *testing.T) {
	dir := SetupRepo(t, map[string]string{"src/a.go": "package a\n"})

	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		t.Errorf(".git marker missing: %v", err)
	}
	if got := ReadFile(t, dir, "src/a.go"); got != "package a\n" {
		t.Errorf("ReadFile() = %q", got)
	}
}

func TestFakeRunner(t *testing.T) {
	f := NewFakeRunner().
		On("patch", &process.Result{ExitCode: 1}, nil).
		On("patch", &process.Result{ExitCode: 0}, nil)

	ctx := context.Background()
	first, _ := f.Run(ctx, process.Request{Name: "patch"})
	second, _ := f.Run(ctx, process.Request{Name: "patch"})
	third, _ := f.Run(ctx, process.Request{Name: "patch"})
	other, _ := f.Run(ctx, process.Shell("true", "", 0))

	if first.ExitCode != 1 || second.ExitCode != 0 || third.ExitCode != 0 {
		t.Errorf("exit codes = %d, %d, %d", first.ExitCode, second.ExitCode, third.ExitCode)
	}
	if other.ExitCode != 0 {
		t.Errorf("unscripted program should succeed")
	}
	if len(f.Requests()) != 4 {
		t.Errorf("recorded %d requests, want 4", len(f.Requests()))
	}
	if cmds := f.ShellCommands(); len(cmds) != 1 || cmds[0] != "true" {
		t.Errorf("ShellCommands() = %v", cmds)
	}
}

func TestScriptedProvider(t *testing.T) {
	boom := errors.New("boom")
	p := NewScriptedProvider("one").Fail(boom)
	p.Fallback = "fallback"

	ctx := context.Background()
	if got, _ := p.Complete(ctx, "prompt A"); got != "one" {
		t.Errorf("first = %q", got)
	}
	if _, err := p.Complete(ctx, "prompt B"); !errors.Is(err, boom) {
		t.Errorf("second err = %v", err)
	}
	if got, _ := p.Complete(ctx, "prompt A again"); got != "fallback" {
		t.Errorf("third = %q", got)
	}
	if p.Calls() != 3 || p.CountPrompts("prompt A") != 2 {
		t.Errorf("calls=%d countA=%d", p.Calls(), p.CountPrompts("prompt A"))
	}
}
