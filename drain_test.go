//go:build !windows

package redproc

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainCapturesBothStreams(t *testing.T) {
	ctx := context.Background()
	p := newTestProcess(t)

	require.NoError(t, p.Start(ctx, []string{"sh", "-c", "tee /dev/stderr"}, Options{
		Input: []byte(echoMessage),
	}))

	var stdout, stderr bytes.Buffer
	require.NoError(t, p.Drain(ctx, BufferSink(&stdout), BufferSink(&stderr)))

	assert.Equal(t, echoMessage, stdout.String())
	assert.Equal(t, echoMessage, stderr.String())

	status, err := p.Wait(ctx, Infinite)
	require.NoError(t, err)
	assert.Equal(t, 0, status)
}

func TestDrainInitialFlush(t *testing.T) {
	ctx := context.Background()
	p := newTestProcess(t)

	require.NoError(t, p.Start(ctx, []string{"echo", "hi"}, Options{}))

	// The first call to each sink is a zero-length flush tagged In, before
	// any output is read.
	var calls []Stream
	sink := func(stream Stream, data []byte) bool {
		calls = append(calls, stream)
		if len(calls) <= 2 {
			assert.Equal(t, In, stream)
			assert.Empty(t, data)
		}
		return true
	}
	require.NoError(t, p.Drain(ctx, sink, sink))

	require.GreaterOrEqual(t, len(calls), 3)
	assert.Equal(t, []Stream{In, In}, calls[:2])
	assert.Equal(t, Out, calls[2])

	_, err := p.Wait(ctx, Infinite)
	require.NoError(t, err)
}

func TestDrainStopsWhenSinkDeclines(t *testing.T) {
	ctx := context.Background()
	p := newTestProcess(t)

	opts := Options{Stop: StopPlan{First: StopAction{Action: ActionKill, Timeout: Infinite}}}
	require.NoError(t, p.Start(ctx, []string{"sh", "-c", "echo first; sleep 10"}, opts))

	seen := 0
	sink := func(stream Stream, data []byte) bool {
		if stream == In {
			return true
		}
		seen++
		return false
	}
	require.NoError(t, p.Drain(ctx, sink, nil))
	assert.Equal(t, 1, seen)
}

func TestParseSurfacesEndOfStream(t *testing.T) {
	ctx := context.Background()
	p := newTestProcess(t)

	require.NoError(t, p.Start(ctx, []string{"echo", "hi"}, Options{}))

	var stdout bytes.Buffer
	err := p.Parse(ctx, BufferSink(&stdout), nil)
	require.ErrorIs(t, err, ErrBrokenPipe)
	assert.Equal(t, "hi\n", stdout.String())

	_, err = p.Wait(ctx, Infinite)
	require.NoError(t, err)
}

func TestDrainOverflow(t *testing.T) {
	ctx := context.Background()
	p := newTestProcess(t)

	// 1 MiB of sustained output exercises the multiplexer's backpressure
	// without deadlocking the child on a full pipe buffer.
	const size = 1 << 20
	require.NoError(t, p.Start(ctx, []string{"sh", "-c", "head -c 1048576 /dev/zero"}, Options{}))

	var stdout bytes.Buffer
	require.NoError(t, p.Drain(ctx, BufferSink(&stdout), nil))
	assert.Equal(t, size, stdout.Len())

	status, err := p.Wait(ctx, Infinite)
	require.NoError(t, err)
	assert.Equal(t, 0, status)
}

func TestWriterSink(t *testing.T) {
	ctx := context.Background()
	p := newTestProcess(t)

	require.NoError(t, p.Start(ctx, []string{"echo", "forwarded"}, Options{}))

	var out bytes.Buffer
	require.NoError(t, p.Drain(ctx, WriterSink(&out), WriterSink(&out)))
	assert.Equal(t, "forwarded\n", out.String())

	_, err := p.Wait(ctx, Infinite)
	require.NoError(t, err)
}

func TestTeeSink(t *testing.T) {
	ctx := context.Background()
	p := newTestProcess(t)

	require.NoError(t, p.Start(ctx, []string{"echo", "split"}, Options{}))

	var a, b bytes.Buffer
	require.NoError(t, p.Drain(ctx, TeeSink(BufferSink(&a), BufferSink(&b)), nil))
	assert.Equal(t, "split\n", a.String())
	assert.Equal(t, a.String(), b.String())

	_, err := p.Wait(ctx, Infinite)
	require.NoError(t, err)
}
