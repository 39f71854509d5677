package redproc

import (
	"fmt"
	"time"
)

// Stream identifies one of the three standard streams of the child.
type Stream uint8

const (
	// In is the child's standard input.
	In Stream = iota
	// Out is the child's standard output.
	Out
	// Err is the child's standard error.
	Err
)

func (s Stream) String() string {
	switch s {
	case In:
		return "stdin"
	case Out:
		return "stdout"
	case Err:
		return "stderr"
	}
	return fmt.Sprintf("stream(%d)", uint8(s))
}

// Timeout sentinels. Zero values in Options mean "unbounded", so these only
// need to cover the cases a zero cannot express.
const (
	// Infinite makes a wait or stop action block until the child exits.
	Infinite time.Duration = -1
	// UntilDeadline substitutes whatever remains of the whole-process
	// deadline. Only meaningful as a StopAction or Wait timeout.
	UntilDeadline time.Duration = -2
	// Nonblocking makes every bounded I/O call return ErrTimeout immediately
	// instead of blocking. Only meaningful as Options.Timeout.
	Nonblocking time.Duration = -3
)

// RedirectMode selects how one standard stream of the child is wired up.
type RedirectMode uint8

const (
	// ModePipe connects the stream to the parent through a pipe. This is the
	// default.
	ModePipe RedirectMode = iota
	// ModeInherit makes the child share the parent's own stream. If the
	// parent's stream is unavailable the redirect silently downgrades to
	// ModeDiscard.
	ModeInherit
	// ModeDiscard connects the stream to the OS null device.
	ModeDiscard
	// ModeFile connects the stream to the file named by Redirect.Path,
	// opened for reading (stdin) or appending (stdout/stderr).
	ModeFile
)

// Redirect configures a single standard stream of the child.
type Redirect struct {
	Mode RedirectMode
	// Path names the target file when Mode is ModeFile.
	Path string
}

// Action is one rung of the stop ladder.
type Action uint8

const (
	// ActionNoop does nothing; the rung is skipped.
	ActionNoop Action = iota
	// ActionWait waits for the rung's timeout without signalling.
	ActionWait
	// ActionTerminate sends the graceful termination signal, then waits.
	ActionTerminate
	// ActionKill forcibly kills the child, then waits.
	ActionKill
)

// StopAction pairs an Action with how long to wait for the child to exit
// after performing it. The timeout may be Infinite or UntilDeadline.
type StopAction struct {
	Action  Action
	Timeout time.Duration
}

// StopPlan is an ordered ladder of up to three stop actions. The zero plan
// (all noop) stands for the default ladder: wait out the deadline, then
// terminate and wait forever.
type StopPlan struct {
	First  StopAction
	Second StopAction
	Third  StopAction
}

func (p StopPlan) isNoop() bool {
	return p.First.Action == ActionNoop &&
		p.Second.Action == ActionNoop &&
		p.Third.Action == ActionNoop
}

// DefaultStopPlan is the ladder applied when a zero StopPlan is given.
func DefaultStopPlan() StopPlan {
	return StopPlan{
		First:  StopAction{Action: ActionWait, Timeout: UntilDeadline},
		Second: StopAction{Action: ActionTerminate, Timeout: Infinite},
	}
}

// Options configures a single call to Start. The zero value runs the child
// with all three streams piped, the parent's environment and working
// directory, no time bounds, and the default stop plan.
type Options struct {
	// Env is the child's environment as NAME=VALUE strings. Nil inherits the
	// parent's environment; an empty non-nil slice gives the child an empty
	// environment.
	Env []string

	// Dir is the child's working directory. Empty inherits the parent's.
	Dir string

	// Stdin, Stdout and Stderr configure the child's standard streams.
	Stdin  Redirect
	Stdout Redirect
	Stderr Redirect

	// Inherit redirects all three streams to the parent's. Mutually
	// exclusive with Discard and with explicit per-stream redirects.
	Inherit bool

	// Discard redirects all three streams to the null device. Mutually
	// exclusive with Inherit and with explicit per-stream redirects.
	Discard bool

	// Input is written to the child's stdin before the child starts, after
	// which stdin is closed. Requires the stdin redirect to be left as
	// ModePipe.
	Input []byte

	// Stop is the ladder Destroy uses to bring the child down. The zero
	// value means DefaultStopPlan. A Stop call with a zero plan uses
	// DefaultStopPlan, not this field.
	Stop StopPlan

	// Timeout bounds each individual Read and Write. Zero means unbounded;
	// Nonblocking makes bounded calls return ErrTimeout immediately.
	Timeout time.Duration

	// Deadline bounds the whole process, measured from Start. Once it
	// expires every bounded operation returns ErrTimeout. Zero means none.
	Deadline time.Duration

	// ResolveInParentDir resolves a relative program path against the
	// parent's working directory even when Dir is set, matching the
	// behavior of macOS and Windows. Without it a relative path combined
	// with Dir is resolved inside Dir, which is what Linux does natively.
	ResolveInParentDir bool
}

// parse validates the option bundle against argv and returns a normalized
// copy: shorthands expanded, the default stop plan substituted, and the
// per-call timeout mapped onto its internal encoding (<0 means unbounded,
// 0 means expired).
func (o Options) parse(argv []string) (Options, error) {
	if len(argv) == 0 || argv[0] == "" {
		return o, fmt.Errorf("%w: argv must name a program", ErrInvalidArgument)
	}
	for _, arg := range argv {
		for i := 0; i < len(arg); i++ {
			if arg[i] == 0 {
				return o, fmt.Errorf("%w: argv contains a NUL byte", ErrInvalidArgument)
			}
		}
	}

	explicit := o.Stdin != (Redirect{}) || o.Stdout != (Redirect{}) || o.Stderr != (Redirect{})
	if o.Inherit && o.Discard {
		return o, fmt.Errorf("%w: inherit and discard are mutually exclusive", ErrInvalidArgument)
	}
	if (o.Inherit || o.Discard) && explicit {
		return o, fmt.Errorf("%w: inherit/discard conflict with per-stream redirects", ErrInvalidArgument)
	}
	if o.Inherit {
		o.Stdin, o.Stdout, o.Stderr = Redirect{Mode: ModeInherit}, Redirect{Mode: ModeInherit}, Redirect{Mode: ModeInherit}
	}
	if o.Discard {
		o.Stdin, o.Stdout, o.Stderr = Redirect{Mode: ModeDiscard}, Redirect{Mode: ModeDiscard}, Redirect{Mode: ModeDiscard}
	}

	for _, r := range []Redirect{o.Stdin, o.Stdout, o.Stderr} {
		if r.Mode == ModeFile && r.Path == "" {
			return o, fmt.Errorf("%w: file redirect without a path", ErrInvalidArgument)
		}
		if r.Mode != ModeFile && r.Path != "" {
			return o, fmt.Errorf("%w: redirect path without ModeFile", ErrInvalidArgument)
		}
	}

	if len(o.Input) > 0 && o.Stdin.Mode != ModePipe {
		return o, fmt.Errorf("%w: input requires a piped stdin", ErrInvalidArgument)
	}

	switch {
	case o.Timeout == 0 || o.Timeout == Infinite:
		o.Timeout = Infinite
	case o.Timeout == Nonblocking:
		o.Timeout = 0
	case o.Timeout < 0:
		return o, fmt.Errorf("%w: negative timeout", ErrInvalidArgument)
	}

	if o.Deadline == Infinite {
		o.Deadline = 0
	}
	if o.Deadline < 0 {
		return o, fmt.Errorf("%w: negative deadline", ErrInvalidArgument)
	}

	if o.Stop.isNoop() {
		o.Stop = DefaultStopPlan()
	}

	return o, nil
}
