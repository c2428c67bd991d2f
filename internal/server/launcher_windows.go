//go:build windows

package server

import (
	"errors"
	"os/exec"
	"syscall"
)

const createNewProcessGroup = 0x00000200

func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

// killProcessGroup is not available; callers fall back to killing the process.
func killProcessGroup(pid int) error {
	return errors.New("process groups are not supported")
}
