//go:build !windows

package redproc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopLadderTerminate(t *testing.T) {
	ctx := context.Background()
	p := newTestProcess(t)

	require.NoError(t, p.Start(ctx, []string{"sleep", "10"}, Options{}))

	start := time.Now()
	status, err := p.Stop(ctx, StopPlan{
		First:  StopAction{Action: ActionTerminate, Timeout: 5 * time.Second},
		Second: StopAction{Action: ActionKill, Timeout: 5 * time.Second},
	})
	require.NoError(t, err)
	assert.Equal(t, ExitTerm, status)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStopLadderEscalatesToKill(t *testing.T) {
	ctx := context.Background()
	p := newTestProcess(t)

	// The child ignores SIGTERM, forcing the second rung.
	require.NoError(t, p.Start(ctx, []string{"sh", "-c", `trap "" TERM; sleep 10`}, Options{}))

	// Give the shell a moment to install the trap, or the SIGTERM lands
	// before it.
	time.Sleep(100 * time.Millisecond)

	status, err := p.Stop(ctx, StopPlan{
		First:  StopAction{Action: ActionTerminate, Timeout: 200 * time.Millisecond},
		Second: StopAction{Action: ActionKill, Timeout: 5 * time.Second},
	})
	require.NoError(t, err)
	assert.Equal(t, ExitKill, status)
}

func TestStopAllRungsTimeOut(t *testing.T) {
	ctx := context.Background()
	p := newTestProcess(t)

	opts := Options{Stop: StopPlan{First: StopAction{Action: ActionKill, Timeout: Infinite}}}
	require.NoError(t, p.Start(ctx, []string{"sleep", "10"}, opts))

	_, err := p.Stop(ctx, StopPlan{
		First: StopAction{Action: ActionWait, Timeout: 50 * time.Millisecond},
	})
	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, p.Running())
}

func TestStopOnExitedProcess(t *testing.T) {
	ctx := context.Background()
	p := newTestProcess(t)

	require.NoError(t, p.Start(ctx, []string{"true"}, Options{}))
	status, err := p.Wait(ctx, Infinite)
	require.NoError(t, err)
	require.Equal(t, 0, status)

	// Stop on an exited process returns the cached status without
	// signalling anything.
	status, err = p.Stop(ctx, StopPlan{
		First: StopAction{Action: ActionKill, Timeout: Infinite},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, status)
}

func TestWaitTimeoutLeavesChildWaitable(t *testing.T) {
	ctx := context.Background()
	p := newTestProcess(t)

	require.NoError(t, p.Start(ctx, []string{"sleep", "10"}, Options{}))

	_, err := p.Wait(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, p.Running())

	require.NoError(t, p.Kill())
	status, err := p.Wait(ctx, Infinite)
	require.NoError(t, err)
	assert.Equal(t, ExitKill, status)
}

func TestWaitZeroPolls(t *testing.T) {
	ctx := context.Background()
	p := newTestProcess(t)

	require.NoError(t, p.Start(ctx, []string{"sleep", "10"}, Options{}))

	start := time.Now()
	_, err := p.Wait(ctx, 0)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, p.Kill())

	// Polling eventually observes the exit without blocking.
	require.Eventually(t, func() bool {
		_, err := p.Wait(ctx, 0)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWaitUntilDeadline(t *testing.T) {
	ctx := context.Background()
	p := newTestProcess(t)

	opts := Options{
		Deadline: 150 * time.Millisecond,
		Stop:     StopPlan{First: StopAction{Action: ActionKill, Timeout: Infinite}},
	}
	require.NoError(t, p.Start(ctx, []string{"sleep", "10"}, opts))

	start := time.Now()
	_, err := p.Wait(ctx, UntilDeadline)
	require.ErrorIs(t, err, ErrTimeout)
	assert.WithinDuration(t, start.Add(150*time.Millisecond), time.Now(), time.Second)
}

func TestTerminateAfterExitIsNoop(t *testing.T) {
	ctx := context.Background()
	p := newTestProcess(t)

	require.NoError(t, p.Start(ctx, []string{"true"}, Options{}))
	_, err := p.Wait(ctx, Infinite)
	require.NoError(t, err)

	require.NoError(t, p.Terminate())
	require.NoError(t, p.Kill())
}
