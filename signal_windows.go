//go:build windows

package redproc

import (
	"os"

	"golang.org/x/sys/windows"
)

// terminateProcess delivers CTRL_BREAK_EVENT to the child's process group.
// The child was started with CREATE_NEW_PROCESS_GROUP so the event reaches
// only it. CTRL_C_EVENT cannot be used: it is ignored by processes started in
// a new group.
func terminateProcess(proc *os.Process) error {
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(proc.Pid))
}
