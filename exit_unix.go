//go:build !windows

package redproc

import (
	"os"
	"syscall"
)

// signalExitBase offsets terminating signals into the exit status space above
// the 0-255 range a normal exit can produce.
const signalExitBase = 256

// encodeExitStatus normalizes a reaped child's status: a normal exit yields
// the low 8 bits, a terminating signal yields 256 + the signal number.
func encodeExitStatus(state *os.ProcessState) int {
	ws, ok := state.Sys().(syscall.WaitStatus)
	if ok && ws.Signaled() {
		return signalExitBase + int(ws.Signal())
	}
	return state.ExitCode()
}
