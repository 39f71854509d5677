package redproc

import (
	"errors"
	"fmt"
)

// The error taxonomy is deliberately small. Anything the OS reports that does
// not fit one of these sentinels is wrapped with %w so callers can reach the
// underlying syscall error with errors.As.
var (
	// ErrInvalidArgument means the caller violated a precondition, such as an
	// empty argv or conflicting redirect options.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTimeout means a bounded operation expired before completing.
	ErrTimeout = errors.New("timeout")

	// ErrBrokenPipe means the relevant stream is closed. For Read it means
	// both output streams are closed; for Write it means stdin is closed or
	// was never opened as a pipe.
	ErrBrokenPipe = errors.New("broken pipe")

	// ErrInProgress means the exit status was queried before the child
	// exited.
	ErrInProgress = errors.New("child process still running")
)

// ErrNotStarted is returned by operations that require a started process.
// It matches ErrInvalidArgument under errors.Is.
var ErrNotStarted = fmt.Errorf("%w: process not started", ErrInvalidArgument)
