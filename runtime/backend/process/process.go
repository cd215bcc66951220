// Package process provides a backend that runs each program in a fresh host
// subprocess with its own temp directory, a minimal environment and its own
// process group. The driver applies rlimits and an audit-hook guard. On Linux
// the standard and hardened profiles also get new user and network
// namespaces; only hardened refuses to run without them.
//
// Isolation is weaker than a container. Prefer docker or kubernetes for
// untrusted multi-tenant traffic.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/geoexec/runtime"
	"github.com/jonwraymond/geoexec/runtime/backend/shared"
)

// Errors for process backend operations.
var (
	// ErrInterpreterUnavailable is returned when the Python interpreter cannot be found.
	ErrInterpreterUnavailable = fmt.Errorf("%w: python interpreter unavailable", runtime.ErrRuntimeUnavailable)

	// ErrIsolationUnavailable is returned when the hardened profile's namespaces cannot be created.
	ErrIsolationUnavailable = fmt.Errorf("%w: process isolation unavailable", runtime.ErrRuntimeUnavailable)

	// ErrWorkDir is returned when the per-run directory cannot be prepared.
	ErrWorkDir = fmt.Errorf("%w: work directory unavailable", runtime.ErrRuntimeUnavailable)
)

// Config configures a process backend.
type Config struct {
	// Python is the interpreter to run.
	// Default: python3
	Python string

	// WorkDir is the parent of per-run directories.
	// Default: os.TempDir()
	WorkDir string

	// Env holds extra KEY=VALUE pairs passed to the worker.
	Env []string

	// KillGrace bounds how long Wait blocks on inherited pipes after a kill.
	// Default: 2s
	KillGrace time.Duration

	// Logger is an optional logger for backend events.
	Logger runtime.Logger
}

// Backend executes programs in host subprocesses.
type Backend struct {
	python    string
	workDir   string
	env       []string
	killGrace time.Duration
	logger    runtime.Logger
}

// New creates a new process backend with the given configuration.
func New(cfg Config) *Backend {
	python := cfg.Python
	if python == "" {
		python = "python3"
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	grace := cfg.KillGrace
	if grace == 0 {
		grace = 2 * time.Second
	}
	return &Backend{
		python:    python,
		workDir:   workDir,
		env:       cfg.Env,
		killGrace: grace,
		logger:    runtime.OrNop(cfg.Logger),
	}
}

// Kind returns the backend kind identifier.
func (b *Backend) Kind() runtime.BackendKind {
	return runtime.BackendProcess
}

// Execute runs the program in a new subprocess.
func (b *Backend) Execute(ctx context.Context, req runtime.ExecuteRequest) (runtime.ExecuteResult, error) {
	if err := req.Validate(); err != nil {
		return runtime.ExecuteResult{}, err
	}
	req = req.WithDefaults()

	python, err := exec.LookPath(b.python)
	if err != nil {
		return runtime.ExecuteResult{}, fmt.Errorf("%w: %v", ErrInterpreterUnavailable, err)
	}

	runID := uuid.NewString()
	dir, err := os.MkdirTemp(b.workDir, "geoexec-"+runID[:8]+"-")
	if err != nil {
		return runtime.ExecuteResult{}, fmt.Errorf("%w: %v", ErrWorkDir, err)
	}
	defer os.RemoveAll(dir)

	driver := filepath.Join(dir, "driver.py")
	if err := os.WriteFile(driver, []byte(runtime.DriverSource()), 0o600); err != nil {
		return runtime.ExecuteResult{}, fmt.Errorf("%w: %v", ErrWorkDir, err)
	}

	env := runtime.NewEnvelope(req)
	// RLIMIT_NPROC counts every process of the host user, not just the worker's.
	env.Limits.PidsMax = 0
	payload, err := env.Marshal()
	if err != nil {
		return runtime.ExecuteResult{}, fmt.Errorf("encode envelope: %w", err)
	}

	opts := processOptionsFor(req.Profile)
	if req.Profile == runtime.ProfileDev {
		b.logger.Warn("process backend running with relaxed isolation", "profile", req.Profile, "runID", runID)
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	stdout := shared.NewCappedBuffer(req.Limits.OutputBytes + shared.FrameSlack)
	stderr := shared.NewCappedBuffer(req.Limits.OutputBytes)
	args := runtime.DriverCommand(python, driver)

	start := time.Now()
	cmd := b.command(ctx, args, dir, payload, stdout, stderr, opts)
	err = cmd.Start()
	if err != nil && opts.IsolateNetwork && !opts.RequireIsolation {
		b.logger.Warn("network namespace unavailable, relying on the driver guard",
			"profile", req.Profile, "runID", runID, "error", err)
		opts.IsolateNetwork = false
		cmd = b.command(ctx, args, dir, payload, stdout, stderr, opts)
		err = cmd.Start()
	}
	if err != nil {
		if opts.IsolateNetwork {
			return runtime.ExecuteResult{}, fmt.Errorf("%w: %v", ErrIsolationUnavailable, err)
		}
		return runtime.ExecuteResult{}, fmt.Errorf("start worker: %w", err)
	}
	b.logger.Info("executing in process",
		"profile", req.Profile,
		"runID", runID,
		"isolateNetwork", opts.IsolateNetwork)
	cpuBackstop(cmd.Process.Pid, req.Limits.CPUSeconds)
	waitErr := cmd.Wait()
	duration := time.Since(start)

	result := runtime.ExecuteResult{
		Stderr:   stderr.String(),
		ExitCode: exitCode(cmd),
		Duration: duration,
		RunID:    runID,
		Backend:  b.backendInfo(req.Profile, opts),
		LimitsEnforced: runtime.LimitsEnforced{
			Timeout: true,
			CPU:     req.Limits.CPUSeconds > 0,
			Memory:  req.Limits.MemoryBytes > 0,
			Network: opts.IsolateNetwork,
			Imports: true,
		},
	}

	if parent.Err() != nil {
		return result, fmt.Errorf("execution canceled: %w", parent.Err())
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, runtime.LimitError("timeout", "wall-clock limit of %s exceeded", req.Timeout)
	}
	if stdout.Truncated() {
		return result, runtime.LimitError("output", "worker output exceeded %d bytes", req.Limits.OutputBytes)
	}

	value, out, err := shared.Outcome(env, stdout.String())
	result.Stdout = out.Stdout
	result.Stderr = out.Diagnostics(result.Stderr)
	if errors.Is(err, runtime.ErrProtocol) {
		if reason := signalReason(waitErr); reason != "" {
			return result, runtime.LimitError(reason, "worker terminated by the kernel (%s limit)", reason)
		}
		return result, shared.Unframed(err, result.ExitCode, false)
	}
	if err != nil {
		return result, err
	}
	result.Value = value
	return result, nil
}

// command builds one worker invocation. An exec.Cmd cannot be restarted, so
// a failed Start needs a fresh one.
func (b *Backend) command(ctx context.Context, args []string, dir string, payload []byte,
	stdout, stderr *shared.CappedBuffer, opts processOptions) *exec.Cmd {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = b.environ(dir)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = b.killGrace
	configureCommand(cmd, opts)
	return cmd
}

var _ runtime.Backend = (*Backend)(nil)

// environ builds the worker's environment from scratch.
func (b *Backend) environ(dir string) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + dir,
		"TMPDIR=" + dir,
		"LANG=C.UTF-8",
		"OMP_NUM_THREADS=1",
		"OPENBLAS_NUM_THREADS=1",
		"MKL_NUM_THREADS=1",
	}
	return append(env, b.env...)
}

func (b *Backend) backendInfo(profile runtime.SecurityProfile, opts processOptions) runtime.BackendInfo {
	return runtime.BackendInfo{
		Kind:      runtime.BackendProcess,
		Readiness: runtime.ReadinessStable,
		Details: map[string]any{
			"python":         b.python,
			"profile":        string(profile),
			"isolateNetwork": opts.IsolateNetwork,
		},
	}
}

type processOptions struct {
	// IsolateNetwork runs the worker in new user and network namespaces.
	IsolateNetwork bool

	// RequireIsolation fails the run instead of falling back when the
	// namespaces cannot be created.
	RequireIsolation bool
}

func processOptionsFor(profile runtime.SecurityProfile) processOptions {
	switch profile {
	case runtime.ProfileStandard:
		return processOptions{IsolateNetwork: true}
	case runtime.ProfileHardened:
		return processOptions{IsolateNetwork: true, RequireIsolation: true}
	}
	return processOptions{}
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}
