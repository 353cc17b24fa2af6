//go:build windows

package tunnel

import (
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"
)

const stillActive = 259

// detachAttr starts the agent without a console in its own process group.
func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: windows.DETACHED_PROCESS | windows.CREATE_NEW_PROCESS_GROUP,
		HideWindow:    true,
	}
}

// terminateProcess ends the process. A missing process is not an error.
func terminateProcess(pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return nil
	}
	defer windows.CloseHandle(h)
	return windows.TerminateProcess(h, 1)
}

func killProcessGroup(pid int) error {
	return terminateProcess(pid)
}

// isProcessAlive checks if a process is still running.
func isProcessAlive(pid int) bool {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}

func forceKillCommand(pid int) (string, []string) {
	return "taskkill", []string{"/F", "/PID", strconv.Itoa(pid)}
}
