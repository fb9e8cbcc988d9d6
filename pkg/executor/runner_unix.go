//go:build unix

package executor

import (
	"errors"
	"os/exec"
	"syscall"
)

// killGroupOnCancel starts the command in its own process group and kills the
// whole group when the context is done.
func killGroupOnCancel(command *exec.Cmd) {
	command.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	command.Cancel = func() error {
		err := syscall.Kill(-command.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
}
