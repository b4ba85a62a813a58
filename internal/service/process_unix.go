//go:build !windows

package service

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setSysProcAttr configures the command to run in its own process group (Unix).
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// signalGroup sends sig to the process group (Unix).
func signalGroup(cmd *exec.Cmd, sig stopSignal) error {
	if cmd.Process == nil {
		return nil
	}
	s := unix.SIGTERM
	if sig == sigKill {
		s = unix.SIGKILL
	}
	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err == nil {
		return unix.Kill(-pgid, s)
	}
	return cmd.Process.Signal(s)
}

// processGroup returns the group a signal should target, the pid itself
// when the group cannot be looked up.
func processGroup(cmd *exec.Cmd) int {
	if pgid, err := unix.Getpgid(cmd.Process.Pid); err == nil {
		return pgid
	}
	return cmd.Process.Pid
}

// isPTYClosed reports the read error Linux returns on a pty master once the
// child side has gone away.
func isPTYClosed(err error) bool {
	return errors.Is(err, unix.EIO)
}
