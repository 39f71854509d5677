package redproc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Process owns one child process and the parent-side ends of its redirected
// standard streams. It is not a free-for-all concurrent object: the supported
// split is one goroutine consuming output (Read, Drain, Parse, Wait) while
// another feeds stdin and signals (Write, Close, Terminate, Kill), which is
// exactly what is needed to keep a child's pipe buffers from deadlocking.
// Start and Destroy must not run concurrently with anything else.
type Process struct {
	log *zap.SugaredLogger
	id  string

	// status is atomic because the stdin-side goroutine consults it while
	// the output-side goroutine observes exits.
	status atomic.Int32
	cmd    *exec.Cmd

	stdin   *os.File
	pump    *pump
	pending chunk

	// timeout is the per-call I/O bound: <0 unbounded, 0 already expired,
	// >0 a real bound. deadline is the whole-process cutoff, zero if none.
	timeout  time.Duration
	deadline time.Time

	stop StopPlan

	// waitCh is closed by the reaper goroutine once the child has been
	// waited on; exit and waitErr are valid only after that.
	waitCh  chan struct{}
	exit    int
	waitErr error
}

// ProcOption configures a Process at construction time.
type ProcOption func(*Process)

// WithLogger attaches a logger. The default discards everything.
func WithLogger(l *zap.Logger) ProcOption {
	return func(p *Process) {
		p.log = l.Sugar()
	}
}

// New returns a Process in the not-started state. It does not touch the OS.
func New(opts ...ProcOption) *Process {
	p := &Process{
		log:     zap.NewNop().Sugar(),
		id:      uuid.NewString(),
		timeout: Infinite,
	}
	p.setStatus(StatusNotStarted)
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With("ProcID", p.id)
	return p
}

type resolvedStdio struct {
	parent    *os.File
	child     *os.File
	ownsChild bool
}

func (r *resolvedStdio) release() {
	if r.parent != nil {
		_ = r.parent.Close()
		r.parent = nil
	}
	if r.ownsChild && r.child != nil {
		_ = r.child.Close()
		r.child = nil
	}
}

// Start validates the options, provisions the three redirections, writes the
// initial input if any, and spawns argv[0]. On failure the Process remains
// not-started with every provisional handle released. A Process can be
// started at most once.
func (p *Process) Start(ctx context.Context, argv []string, opts Options) error {
	if p.Status() != StatusNotStarted {
		return fmt.Errorf("%w: process already started", ErrInvalidArgument)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	opts, err := opts.parse(argv)
	if err != nil {
		return err
	}

	var stdio [3]resolvedStdio
	cleanup := func() {
		for i := range stdio {
			stdio[i].release()
		}
	}

	for i, r := range [3]Redirect{opts.Stdin, opts.Stdout, opts.Stderr} {
		stream := Stream(i)
		parent, child, owns, rerr := resolveRedirect(stream, r)
		if rerr != nil {
			cleanup()
			return rerr
		}
		stdio[i] = resolvedStdio{parent: parent, child: child, ownsChild: owns}
	}

	// The initial input goes into the stdin pipe buffer before the child
	// even starts, and our end is closed right after so the child sees
	// end-of-stream once it has read everything.
	if len(opts.Input) > 0 {
		if werr := writeInitialInput(stdio[0].parent, opts.Input, opts.Timeout); werr != nil {
			cleanup()
			return werr
		}
		_ = stdio[0].parent.Close()
		stdio[0].parent = nil
	}

	program := argv[0]
	if opts.ResolveInParentDir && opts.Dir != "" &&
		!filepath.IsAbs(program) && strings.ContainsRune(program, os.PathSeparator) {
		abs, aerr := filepath.Abs(program)
		if aerr != nil {
			cleanup()
			return fmt.Errorf("resolving %q: %w", program, aerr)
		}
		program = abs
	}

	cmd := exec.Command(program, argv[1:]...)
	cmd.Args = append([]string{argv[0]}, argv[1:]...)
	cmd.Env = opts.Env
	cmd.Dir = opts.Dir
	cmd.Stdin = stdio[0].child
	cmd.Stdout = stdio[1].child
	cmd.Stderr = stdio[2].child
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		cleanup()
		return fmt.Errorf("starting %q: %w", argv[0], err)
	}

	// The child-side ends now live inside the child; close our copies.
	for i := range stdio {
		if stdio[i].ownsChild {
			_ = stdio[i].child.Close()
			stdio[i].child = nil
		}
	}

	p.cmd = cmd
	p.stdin = stdio[0].parent
	p.pump = newPump(p.log.Named("pump"), stdio[1].parent, stdio[2].parent)
	p.timeout = opts.Timeout
	if opts.Deadline > 0 {
		p.deadline = time.Now().Add(opts.Deadline)
	}
	p.stop = opts.Stop
	p.waitCh = make(chan struct{})
	p.setStatus(StatusRunning)

	p.log.Debugw("child started", "Program", argv[0], "Pid", cmd.Process.Pid)

	// Reap exactly once. Everyone else observes the result through waitCh.
	go func() {
		werr := cmd.Wait()
		if cmd.ProcessState != nil {
			p.exit = encodeExitStatus(cmd.ProcessState)
		}
		var exitErr *exec.ExitError
		if werr != nil && !errors.As(werr, &exitErr) {
			p.waitErr = werr
		}
		close(p.waitCh)
	}()

	return nil
}

// Read returns the next chunk of output from whichever of stdout and stderr
// produces one first, bounded by the per-call timeout and the deadline. Bytes
// from a single stream arrive in order; the stream tag is only meaningful
// when bytes were transferred. Once both output streams are closed Read
// returns ErrBrokenPipe.
func (p *Process) Read(ctx context.Context, buf []byte) (Stream, int, error) {
	if p.Status() == StatusNotStarted {
		return 0, 0, ErrNotStarted
	}

	if p.pending.data != nil {
		n := copy(buf, p.pending.data)
		p.pending.data = p.pending.data[n:]
		if len(p.pending.data) == 0 {
			p.pending.data = nil
		}
		return p.pending.stream, n, nil
	}

	timeout, ok := p.expiry()
	if !ok {
		return 0, 0, ErrTimeout
	}
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case c, open := <-p.pump.chunks:
		if !open {
			return 0, 0, ErrBrokenPipe
		}
		if c.err != nil {
			return c.stream, 0, fmt.Errorf("reading %s: %w", c.stream, c.err)
		}
		n := copy(buf, c.data)
		if n < len(c.data) {
			p.pending = chunk{stream: c.stream, data: c.data[n:]}
		}
		return c.stream, n, nil
	case <-timer:
		return 0, 0, ErrTimeout
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}

// Write feeds data to the child's stdin, bounded like Read. It performs a
// single write; callers needing an atomic full write loop until everything
// is accepted. A closed stdin surfaces as ErrBrokenPipe and releases the
// engine's stdin endpoint.
func (p *Process) Write(ctx context.Context, data []byte) (int, error) {
	if p.Status() == StatusNotStarted {
		return 0, ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	if p.stdin == nil {
		return 0, ErrBrokenPipe
	}

	timeout, ok := p.expiry()
	if !ok {
		return 0, ErrTimeout
	}

	f := p.stdin
	if timeout > 0 {
		if derr := f.SetWriteDeadline(time.Now().Add(timeout)); derr != nil && !errors.Is(derr, os.ErrNoDeadline) {
			return 0, fmt.Errorf("setting stdin deadline: %w", derr)
		}
		defer func() { _ = f.SetWriteDeadline(time.Time{}) }()
	}

	n, err := f.Write(data)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			return n, ErrTimeout
		case isBrokenPipe(err):
			p.Close(In)
			return n, ErrBrokenPipe
		}
		return n, fmt.Errorf("writing to stdin: %w", err)
	}
	return n, nil
}

// Close closes the engine's endpoint of the given stream. Closing stdin
// signals end-of-input to the child; closing an output stream discards it
// from subsequent reads. Close is idempotent.
func (p *Process) Close(stream Stream) {
	switch stream {
	case In:
		if p.stdin != nil {
			_ = p.stdin.Close()
			p.stdin = nil
		}
	case Out, Err:
		if p.pump != nil {
			p.pump.closeStream(stream)
		}
	}
}

// Wait blocks up to timeout for the child to exit and returns its encoded
// exit status. A timeout of 0 polls, Infinite blocks until exit, and
// UntilDeadline waits out whatever remains of the process deadline. Once the
// exit has been observed the status is cached and Wait returns immediately.
func (p *Process) Wait(ctx context.Context, timeout time.Duration) (int, error) {
	if p.Status() == StatusNotStarted {
		return 0, ErrNotStarted
	}
	if s := p.Status(); s.Exited() {
		return int(s), nil
	}

	if timeout == UntilDeadline {
		if p.deadline.IsZero() {
			timeout = Infinite
		} else if timeout = time.Until(p.deadline); timeout < 0 {
			timeout = 0
		}
	}

	var timer <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-p.waitCh:
		return p.observeExit()
	case <-timer:
		// The timer and the reaper may fire together; prefer the exit.
		select {
		case <-p.waitCh:
			return p.observeExit()
		default:
		}
		return 0, ErrTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *Process) observeExit() (int, error) {
	if p.waitErr != nil {
		return 0, fmt.Errorf("waiting for child: %w", p.waitErr)
	}
	p.setStatus(Status(p.exit))
	p.log.Debugw("child exited", "Status", Status(p.exit).String())
	return p.exit, nil
}

// Terminate asks the child to shut down gracefully (SIGTERM on POSIX,
// CTRL_BREAK_EVENT on Windows) and returns without waiting. It is a no-op
// once the exit status has been observed, so a reused pid is never signalled.
func (p *Process) Terminate() error {
	if p.Status() == StatusNotStarted {
		return ErrNotStarted
	}
	if p.Status().Exited() {
		return nil
	}
	if err := terminateProcess(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("terminating child: %w", err)
	}
	return nil
}

// Kill forcibly kills the child (SIGKILL on POSIX, TerminateProcess on
// Windows) and returns without waiting. Like Terminate it never signals an
// already-exited child.
func (p *Process) Kill() error {
	if p.Status() == StatusNotStarted {
		return ErrNotStarted
	}
	if p.Status().Exited() {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing child: %w", err)
	}
	return nil
}

// Stop walks the given ladder: for each rung it performs the action, then
// waits up to the rung's timeout. The walk ends on the first successful exit
// or on any error other than ErrTimeout. A zero plan stands for
// DefaultStopPlan.
func (p *Process) Stop(ctx context.Context, plan StopPlan) (int, error) {
	if p.Status() == StatusNotStarted {
		return 0, ErrNotStarted
	}
	if plan.isNoop() {
		plan = DefaultStopPlan()
	}

	var (
		status int
		err    error = ErrTimeout
	)
	for _, rung := range []StopAction{plan.First, plan.Second, plan.Third} {
		switch rung.Action {
		case ActionNoop:
			continue
		case ActionWait:
		case ActionTerminate:
			if terr := p.Terminate(); terr != nil {
				return 0, terr
			}
		case ActionKill:
			if kerr := p.Kill(); kerr != nil {
				return 0, kerr
			}
		default:
			return 0, fmt.Errorf("%w: unknown stop action %d", ErrInvalidArgument, rung.Action)
		}

		status, err = p.Wait(ctx, rung.Timeout)
		if !errors.Is(err, ErrTimeout) {
			return status, err
		}
	}
	return status, err
}

// Destroy applies the remembered stop plan if the child is still running,
// swallowing any error, then releases every handle. Safe to call more than
// once.
func (p *Process) Destroy() {
	if p.Status() == StatusRunning {
		if _, err := p.Stop(context.Background(), p.stop); err != nil {
			p.log.Debugw("stop plan failed during destroy", "Error", err)
		}
	}
	p.Close(In)
	if p.pump != nil {
		p.pump.close()
	}
	p.pending = chunk{}
}

// Status reports the current lifecycle state without touching the OS. An
// exit only becomes visible here after Wait, Stop or Running has observed it.
func (p *Process) Status() Status { return Status(p.status.Load()) }

func (p *Process) setStatus(s Status) { p.status.Store(int32(s)) }

// Running reports whether the child was started and has not been observed to
// exit. It polls the reaper, so an exited child flips Running to false even
// if Wait was never called.
func (p *Process) Running() bool {
	if p.Status() != StatusRunning {
		return false
	}
	select {
	case <-p.waitCh:
		_, _ = p.observeExit()
		return false
	default:
		return true
	}
}

// ExitStatus returns the encoded exit status, or ErrInProgress while the
// child has not been observed to exit.
func (p *Process) ExitStatus() (int, error) {
	if p.Status() == StatusNotStarted {
		return 0, ErrNotStarted
	}
	s := p.Status()
	if !s.Exited() {
		return 0, ErrInProgress
	}
	return int(s), nil
}

// Pid returns the OS process id of the child.
func (p *Process) Pid() (int, error) {
	if p.Status() == StatusNotStarted {
		return 0, ErrNotStarted
	}
	return p.cmd.Process.Pid, nil
}

// expiry folds the per-call timeout and the remaining deadline into the
// bound for one blocking call. ok is false when the bound is already zero,
// in which case the caller must return ErrTimeout without touching the OS.
// A negative bound means unbounded.
func (p *Process) expiry() (timeout time.Duration, ok bool) {
	timeout = p.timeout
	if !p.deadline.IsZero() {
		remaining := time.Until(p.deadline)
		if remaining <= 0 {
			return 0, false
		}
		if timeout < 0 || remaining < timeout {
			timeout = remaining
		}
	}
	if timeout == 0 {
		return 0, false
	}
	return timeout, true
}

func writeInitialInput(w *os.File, input []byte, timeout time.Duration) error {
	if timeout == 0 {
		return ErrTimeout
	}
	if timeout > 0 {
		if err := w.SetWriteDeadline(time.Now().Add(timeout)); err != nil && !errors.Is(err, os.ErrNoDeadline) {
			return fmt.Errorf("setting stdin deadline: %w", err)
		}
		defer func() { _ = w.SetWriteDeadline(time.Time{}) }()
	}
	for len(input) > 0 {
		n, err := w.Write(input)
		input = input[n:]
		if err != nil {
			switch {
			case errors.Is(err, os.ErrDeadlineExceeded):
				return ErrTimeout
			case isBrokenPipe(err):
				return ErrBrokenPipe
			}
			return fmt.Errorf("writing initial input: %w", err)
		}
	}
	return nil
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed)
}
