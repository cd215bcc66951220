//go:build !unix

package process

import "os/exec"

func configureCommand(*exec.Cmd, processOptions) {}

func cpuBackstop(int, int64) {}

func signalReason(error) string { return "" }
