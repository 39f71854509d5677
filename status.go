package redproc

import "fmt"

// Status describes where a Process is in its lifecycle. Non-negative values
// are exit statuses; see ExitTerm and ExitKill for the signal encodings.
type Status int

const (
	// StatusNotStarted is the state of a Process before Start succeeds.
	StatusNotStarted Status = -1
	// StatusRunning is the state of a Process whose child has been spawned
	// and whose exit has not yet been observed by Wait or Stop.
	StatusRunning Status = -2
)

// Exit statuses reported when the child was killed by a signal rather than
// exiting on its own. A terminating signal is encoded as 256 + signal number
// so it can never collide with a normal 0-255 exit code. On Windows the
// child's own exit code is reported verbatim instead.
const (
	ExitKill = 256 + 9  // killed by SIGKILL
	ExitTerm = 256 + 15 // killed by SIGTERM
)

// Exited reports whether s carries an exit status.
func (s Status) Exited() bool { return s >= 0 }

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not started"
	case StatusRunning:
		return "running"
	}
	switch int(s) {
	case ExitKill:
		return "killed (SIGKILL)"
	case ExitTerm:
		return "terminated (SIGTERM)"
	}
	return fmt.Sprintf("exited (%d)", int(s))
}
