//go:build linux

package process

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func configureCommand(cmd *exec.Cmd, opts processOptions) {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if opts.IsolateNetwork {
		attr.Cloneflags = syscall.CLONE_NEWUSER | syscall.CLONE_NEWNET
		attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: os.Getuid(), HostID: os.Getuid(), Size: 1}}
		attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: os.Getgid(), HostID: os.Getgid(), Size: 1}}
		attr.GidMappingsEnableSetgroups = false
	}
	cmd.SysProcAttr = attr
	cmd.Cancel = func() error {
		return killGroup(cmd)
	}
}

// cpuBackstop caps CPU time from the outside in case the driver dies before
// applying its own limits.
func cpuBackstop(pid int, seconds int64) {
	if seconds <= 0 {
		return
	}
	hard := uint64(seconds) + 5
	lim := &unix.Rlimit{Cur: hard, Max: hard}
	_ = unix.Prlimit(pid, unix.RLIMIT_CPU, lim, nil)
}
