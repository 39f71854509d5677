package redproc

import (
	"context"
	"errors"
)

// drainBufferSize is the read granularity of Drain and Parse.
const drainBufferSize = 4096

// Drain reads both output streams until they close, dispatching each chunk
// whole to the sink for its stream. Normal end-of-stream is expected here,
// so ErrBrokenPipe is reported as success; this is the only place in the
// engine that masks it. A nil sink discards its stream.
func (p *Process) Drain(ctx context.Context, out, err Sink) error {
	derr := p.drain(ctx, out, err)
	if errors.Is(derr, ErrBrokenPipe) {
		return nil
	}
	return derr
}

// Parse is Drain for consumers that care about end-of-stream: it runs the
// same loop but surfaces ErrBrokenPipe to the caller.
func (p *Process) Parse(ctx context.Context, out, err Sink) error {
	return p.drain(ctx, out, err)
}

func (p *Process) drain(ctx context.Context, out, errSink Sink) error {
	if out == nil {
		out = DiscardSink()
	}
	if errSink == nil {
		errSink = DiscardSink()
	}

	// A single read may carry multiple application-level messages. Calling
	// both sinks once with no data before reading lets them work through
	// output buffered from a previous drain first.
	if !out(In, nil) || !errSink(In, nil) {
		return nil
	}

	buf := make([]byte, drainBufferSize)
	for {
		stream, n, err := p.Read(ctx, buf)
		if err != nil {
			return err
		}

		sink := out
		if stream == Err {
			sink = errSink
		}
		if !sink(stream, buf[:n]) {
			return nil
		}
	}
}
