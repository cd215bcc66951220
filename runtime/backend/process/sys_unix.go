//go:build unix && !linux

package process

import (
	"os/exec"
	"syscall"
)

func configureCommand(cmd *exec.Cmd, _ processOptions) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd)
	}
}

func cpuBackstop(int, int64) {}
