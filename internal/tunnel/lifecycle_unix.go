//go:build !windows

package tunnel

import (
	"errors"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// detachAttr starts the agent in a new session so it outlives the parent
// and does not receive the parent's terminal signals.
func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// terminateProcess sends SIGTERM. A missing process is not an error.
func terminateProcess(pid int) error {
	err := unix.Kill(pid, unix.SIGTERM)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// killProcessGroup sends SIGKILL to the agent's process group, falling
// back to the process itself.
func killProcessGroup(pid int) error {
	if pgid, err := unix.Getpgid(pid); err == nil && pgid == pid {
		if err := unix.Kill(-pgid, unix.SIGKILL); err == nil || errors.Is(err, unix.ESRCH) {
			return nil
		}
	}
	err := unix.Kill(pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// isProcessAlive checks if a process is still running.
func isProcessAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// forceKillCommand is the platform kill command used as a last resort.
func forceKillCommand(pid int) (string, []string) {
	return "kill", []string{"-9", strconv.Itoa(pid)}
}
