//go:build unix

package process

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner_Success(t *testing.T) {
	r := NewExecRunner()

	res, err := r.Run(context.Background(), Shell("echo out; echo err >&2", t.TempDir(), 5*time.Second))
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
	assert.Equal(t, "out\nerr\n", res.Combined())
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	res, err := NewExecRunner().Run(context.Background(), Shell("exit 3", "", 5*time.Second))
	require.NoError(t, err)
	assert.False(t, res.Success())
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.TimedOut)
}

func TestExecRunner_Timeout(t *testing.T) {
	start := time.Now()
	res, err := NewExecRunner().Run(context.Background(), Shell("sleep 5 | cat", "", 200*time.Millisecond))
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.False(t, res.Success())
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestExecRunner_Env(t *testing.T) {
	res, err := NewExecRunner().Run(context.Background(), Shell(`printf %s "$CI"`, "", 5*time.Second, "CI=true"))
	require.NoError(t, err)
	assert.Equal(t, "true", string(res.Stdout))
}

func TestExecRunner_Stdin(t *testing.T) {
	res, err := NewExecRunner().Run(context.Background(), Request{Name: "cat", Stdin: "hello", Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(res.Stdout))
}

func TestExecRunner_StartFailure(t *testing.T) {
	_, err := NewExecRunner().Run(context.Background(), Request{Name: "definitely-not-a-real-binary-xyz"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStart))

	_, err = NewExecRunner().Run(context.Background(), Request{})
	assert.True(t, errors.Is(err, ErrStart))
}

func TestExecRunner_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := NewExecRunner().Run(ctx, Shell("sleep 5", "", 0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequest_String(t *testing.T) {
	assert.Equal(t, "true", Request{Name: "true"}.String())
	got := Shell("go test ./...", "", 0).String()
	assert.True(t, strings.HasPrefix(got, "sh -c go test"))
}
