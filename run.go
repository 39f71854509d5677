package redproc

import (
	"bytes"
	"context"
)

// Run starts argv, drains both output streams into memory, waits for the
// child to exit, and tears everything down. It is the one-call path for
// "run this and give me its output"; anything more interactive should drive
// a Process directly.
func Run(ctx context.Context, argv []string, opts Options, popts ...ProcOption) (status int, stdout, stderr []byte, err error) {
	p := New(popts...)
	defer p.Destroy()

	if err := p.Start(ctx, argv, opts); err != nil {
		return 0, nil, nil, err
	}

	var outBuf, errBuf bytes.Buffer
	if err := p.Drain(ctx, BufferSink(&outBuf), BufferSink(&errBuf)); err != nil {
		return 0, outBuf.Bytes(), errBuf.Bytes(), err
	}

	status, err = p.Wait(ctx, UntilDeadline)
	return status, outBuf.Bytes(), errBuf.Bytes(), err
}
