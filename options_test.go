package redproc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	opts, err := Options{}.parse([]string{"true"})
	require.NoError(t, err)

	assert.Equal(t, Infinite, opts.Timeout)
	assert.Equal(t, time.Duration(0), opts.Deadline)
	assert.Equal(t, DefaultStopPlan(), opts.Stop)
	assert.Equal(t, ModePipe, opts.Stdin.Mode)
	assert.Equal(t, ModePipe, opts.Stdout.Mode)
	assert.Equal(t, ModePipe, opts.Stderr.Mode)
}

func TestParseTimeoutSentinels(t *testing.T) {
	opts, err := Options{Timeout: Infinite}.parse([]string{"true"})
	require.NoError(t, err)
	assert.Equal(t, Infinite, opts.Timeout)

	opts, err = Options{Timeout: Nonblocking}.parse([]string{"true"})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), opts.Timeout)

	opts, err = Options{Timeout: time.Second}.parse([]string{"true"})
	require.NoError(t, err)
	assert.Equal(t, time.Second, opts.Timeout)

	opts, err = Options{Deadline: Infinite}.parse([]string{"true"})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), opts.Deadline)
}

func TestParseShorthands(t *testing.T) {
	opts, err := Options{Inherit: true}.parse([]string{"true"})
	require.NoError(t, err)
	assert.Equal(t, ModeInherit, opts.Stdin.Mode)
	assert.Equal(t, ModeInherit, opts.Stdout.Mode)
	assert.Equal(t, ModeInherit, opts.Stderr.Mode)

	opts, err = Options{Discard: true}.parse([]string{"true"})
	require.NoError(t, err)
	assert.Equal(t, ModeDiscard, opts.Stdin.Mode)
	assert.Equal(t, ModeDiscard, opts.Stdout.Mode)
	assert.Equal(t, ModeDiscard, opts.Stderr.Mode)
}

func TestParseExplicitStopPlanKept(t *testing.T) {
	plan := StopPlan{First: StopAction{Action: ActionKill, Timeout: time.Second}}
	opts, err := Options{Stop: plan}.parse([]string{"true"})
	require.NoError(t, err)
	assert.Equal(t, plan, opts.Stop)
}

func TestParseRejectsNulBytes(t *testing.T) {
	_, err := Options{}.parse([]string{"tr\x00ue"})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "not started", StatusNotStarted.String())
	assert.Equal(t, "running", StatusRunning.String())
	assert.Equal(t, "exited (0)", Status(0).String())
	assert.Equal(t, "killed (SIGKILL)", Status(ExitKill).String())
	assert.Equal(t, "terminated (SIGTERM)", Status(ExitTerm).String())
}

func TestStreamString(t *testing.T) {
	assert.Equal(t, "stdin", In.String())
	assert.Equal(t, "stdout", Out.String())
	assert.Equal(t, "stderr", Err.String())
}
