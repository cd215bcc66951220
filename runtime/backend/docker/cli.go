package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonwraymond/geoexec/runtime/backend/shared"
)

const defaultTmpfsBytes = 64 << 20

// CLIRunner runs containers through the docker command line client.
type CLIRunner struct {
	// Binary is the docker executable.
	// Default: docker
	Binary string
}

// NewCLIRunner returns a CLIRunner for the given docker binary.
func NewCLIRunner(binary string) *CLIRunner {
	if binary == "" {
		binary = "docker"
	}
	return &CLIRunner{Binary: binary}
}

// Ping reports whether the daemon answers.
func (r *CLIRunner) Ping(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, r.binary(), "version", "--format", "{{.Server.Version}}").CombinedOutput()
	if err != nil {
		return fmt.Errorf("%v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Run starts the container, waits for it and removes it.
func (r *CLIRunner) Run(ctx context.Context, spec ContainerSpec) (ContainerResult, error) {
	if err := spec.Validate(); err != nil {
		return ContainerResult{}, err
	}

	stdout := shared.NewCappedBuffer(outputCap(spec.OutputBytes, shared.FrameSlack))
	stderr := shared.NewCappedBuffer(spec.OutputBytes)
	cmd := exec.CommandContext(ctx, r.binary(), runArgs(spec)...)
	cmd.Stdin = bytes.NewReader(spec.Stdin)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		r.remove(spec.Name)
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	result := ContainerResult{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		Duration:        time.Since(start),
		OutputTruncated: stdout.Truncated(),
	}
	defer r.remove(spec.Name)

	if ctx.Err() != nil {
		result.ExitCode = -1
		return result, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		// 125 is the docker client's own failure, not the container's.
		if result.ExitCode == 125 {
			return result, &ClientError{Op: "run", Image: spec.Image, ContainerID: spec.Name,
				Err: errors.New(firstLine(result.Stderr))}
		}
	default:
		return result, &ClientError{Op: "run", Image: spec.Image, Err: runErr}
	}

	if result.ExitCode != 0 && spec.Resources.MemoryBytes > 0 {
		result.OOMKilled = r.oomKilled(spec.Name)
	}
	return result, nil
}

// outputCap adds slack to a non-zero limit. Zero stays unlimited.
func outputCap(limit, slack int64) int64 {
	if limit <= 0 {
		return 0
	}
	return limit + slack
}

func (r *CLIRunner) binary() string {
	if r.Binary == "" {
		return "docker"
	}
	return r.Binary
}

func (r *CLIRunner) oomKilled(name string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, r.binary(), "inspect", "--format", "{{.State.OOMKilled}}", name).Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}

func (r *CLIRunner) remove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, r.binary(), "rm", "-f", name).Run()
}

func runArgs(spec ContainerSpec) []string {
	args := []string{"run", "-i", "--name", spec.Name, "--workdir", "/tmp"}

	network := spec.Security.NetworkMode
	if network == "" {
		network = "none"
	}
	args = append(args, "--network", network)
	if spec.Security.ReadOnlyRootfs {
		args = append(args, "--read-only")
	}
	tmpfs := spec.TmpfsBytes
	if tmpfs <= 0 {
		tmpfs = defaultTmpfsBytes
	}
	args = append(args, "--tmpfs", "/tmp:rw,noexec,nosuid,size="+strconv.FormatInt(tmpfs, 10))
	if spec.Security.User != "" {
		args = append(args, "--user", spec.Security.User)
	}
	if spec.Security.DropAllCapabilities {
		args = append(args, "--cap-drop", "ALL")
	}
	if spec.Security.NoNewPrivileges {
		args = append(args, "--security-opt", "no-new-privileges")
	}
	if spec.Security.SeccompProfile != "" {
		args = append(args, "--security-opt", "seccomp="+spec.Security.SeccompProfile)
	}

	if m := spec.Resources.MemoryBytes; m > 0 {
		v := strconv.FormatInt(m, 10)
		args = append(args, "--memory", v, "--memory-swap", v)
	}
	if q := spec.Resources.CPUQuota; q > 0 {
		args = append(args, "--cpu-period", "1000000", "--cpu-quota", strconv.FormatInt(q, 10))
	}
	if p := spec.Resources.PidsLimit; p > 0 {
		args = append(args, "--pids-limit", strconv.FormatInt(p, 10))
	}
	if spec.Runtime != "" {
		args = append(args, "--runtime", spec.Runtime)
	}

	keys := make([]string, 0, len(spec.Labels))
	for k := range spec.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--label", k+"="+spec.Labels[k])
	}
	for _, e := range spec.Env {
		args = append(args, "-e", e)
	}

	args = append(args, spec.Image)
	return append(args, spec.Command...)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	if s == "" {
		return "docker client failed"
	}
	return s
}

var (
	_ ContainerRunner = (*CLIRunner)(nil)
	_ HealthChecker   = (*CLIRunner)(nil)
)
