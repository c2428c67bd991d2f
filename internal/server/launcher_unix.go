//go:build !windows

package server

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the server in its own process group so a kill
// also reaches anything it spawned.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
