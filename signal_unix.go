//go:build !windows

package redproc

import (
	"os"

	"golang.org/x/sys/unix"
)

// terminateProcess asks the child to shut down gracefully with SIGTERM.
func terminateProcess(proc *os.Process) error {
	return proc.Signal(unix.SIGTERM)
}
