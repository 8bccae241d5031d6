//go:build unix

package tools

import (
	"os/exec"
	"syscall"
)

// killProcessGroup makes cancellation kill everything the shell started, so
// a child holding the output pipe cannot outlive the timeout.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
