//go:build windows

package redproc

import "os"

// encodeExitStatus reports the child's exit code verbatim. Windows has no
// signal-termination statuses to encode.
func encodeExitStatus(state *os.ProcessState) int {
	return state.ExitCode()
}
