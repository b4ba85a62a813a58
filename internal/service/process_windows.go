//go:build windows

package service

import (
	"os/exec"
)

// setSysProcAttr is a no-op on Windows (no process groups via Setpgid).
func setSysProcAttr(cmd *exec.Cmd) {}

// signalGroup kills the process on Windows.
func signalGroup(cmd *exec.Cmd, sig stopSignal) error {
	if cmd.Process == nil {
		return nil
	}
	// Windows doesn't have SIGTERM; Kill() is the only reliable option.
	return cmd.Process.Kill()
}

func processGroup(cmd *exec.Cmd) int {
	return cmd.Process.Pid
}

func isPTYClosed(err error) bool {
	return false
}
