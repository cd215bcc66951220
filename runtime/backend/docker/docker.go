// Package docker provides a backend that executes programs in locked down
// Docker containers.
//
// Each run gets a fresh container with no network, a read-only root, all
// capabilities dropped, and memory, CPU and pids limits. An alternative OCI
// runtime (runsc for gVisor, kata-runtime for Kata Containers) can be
// selected with Config.Runtime.
package docker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/geoexec/runtime"
	"github.com/jonwraymond/geoexec/runtime/backend/shared"
)

// Errors for Docker backend operations.
var (
	// ErrClientNotConfigured is returned when no ContainerRunner is configured.
	ErrClientNotConfigured = fmt.Errorf("%w: docker client not configured", runtime.ErrRuntimeUnavailable)

	// ErrDaemonUnavailable is returned when the Docker daemon cannot be reached.
	ErrDaemonUnavailable = fmt.Errorf("%w: docker daemon unavailable", runtime.ErrRuntimeUnavailable)

	// ErrSecurityViolation is returned when a security policy is violated.
	ErrSecurityViolation = errors.New("security policy violation")
)

// DefaultImage is the sandbox image used when Config.ImageName is empty.
// It must provide python3 with geopandas and shapely.
const DefaultImage = "geoexec-sandbox:latest"

// defaultPids bounds processes when a request sets no PidsMax.
const defaultPids = 128

// ClientError describes a failed Docker operation.
type ClientError struct {
	Op          string
	Image       string
	ContainerID string
	Err         error
}

func (e *ClientError) Error() string {
	if e.ContainerID != "" {
		return fmt.Sprintf("docker %s %s (%s): %v", e.Op, e.Image, e.ContainerID, e.Err)
	}
	return fmt.Sprintf("docker %s %s: %v", e.Op, e.Image, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// Config configures a Docker backend.
type Config struct {
	// ImageName is the sandbox image.
	// Default: DefaultImage
	ImageName string

	// Runtime is an optional OCI runtime (runsc, kata-runtime).
	Runtime string

	// SeccompPath is applied to the hardened profile.
	SeccompPath string

	// Python is the interpreter inside the image.
	// Default: python3
	Python string

	// Client executes container specs. Required; see NewCLIRunner.
	Client ContainerRunner

	// ImageResolver optionally resolves images before execution.
	ImageResolver ImageResolver

	// HealthChecker optionally verifies daemon availability.
	HealthChecker HealthChecker

	// Logger is an optional logger for backend events.
	Logger runtime.Logger
}

// Backend executes programs in Docker containers.
type Backend struct {
	image       string
	ociRuntime  string
	seccompPath string
	python      string
	client      ContainerRunner
	resolver    ImageResolver
	health      HealthChecker
	logger      runtime.Logger
}

// New creates a new Docker backend with the given configuration.
func New(cfg Config) *Backend {
	image := cfg.ImageName
	if image == "" {
		image = DefaultImage
	}
	python := cfg.Python
	if python == "" {
		python = "python3"
	}
	health := cfg.HealthChecker
	if health == nil {
		if checker, ok := cfg.Client.(HealthChecker); ok {
			health = checker
		}
	}
	return &Backend{
		image:       image,
		ociRuntime:  cfg.Runtime,
		seccompPath: cfg.SeccompPath,
		python:      python,
		client:      cfg.Client,
		resolver:    cfg.ImageResolver,
		health:      health,
		logger:      runtime.OrNop(cfg.Logger),
	}
}

// Kind returns the backend kind identifier.
func (b *Backend) Kind() runtime.BackendKind {
	return runtime.BackendDocker
}

// Execute runs the program in a new container.
func (b *Backend) Execute(ctx context.Context, req runtime.ExecuteRequest) (runtime.ExecuteResult, error) {
	if err := req.Validate(); err != nil {
		return runtime.ExecuteResult{}, err
	}
	req = req.WithDefaults()

	client, err := b.ensureClient()
	if err != nil {
		return runtime.ExecuteResult{}, err
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	if b.health != nil {
		if err := b.health.Ping(ctx); err != nil {
			return runtime.ExecuteResult{}, fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
		}
	}

	image := b.image
	if b.resolver != nil {
		resolved, err := b.resolver.Resolve(ctx, image)
		if err != nil {
			return runtime.ExecuteResult{}, err
		}
		image = resolved
	}

	env := runtime.NewEnvelope(req)
	spec, err := b.buildSpec(image, req, req.Profile)
	if err != nil {
		return runtime.ExecuteResult{}, err
	}
	spec.Stdin, err = env.Marshal()
	if err != nil {
		return runtime.ExecuteResult{}, fmt.Errorf("encode envelope: %w", err)
	}

	b.logger.Info("executing in docker",
		"profile", req.Profile,
		"image", image,
		"runtime", b.ociRuntime,
		"container", spec.Name)

	start := time.Now()
	runResult, err := client.Run(ctx, spec)
	result := runtime.ExecuteResult{
		Stderr:   runResult.Stderr,
		ExitCode: runResult.ExitCode,
		Duration: time.Since(start),
		RunID:    spec.Name,
		Backend:  b.backendInfo(req.Profile),
		LimitsEnforced: runtime.LimitsEnforced{
			Timeout: true,
			CPU:     spec.Resources.CPUQuota > 0 || req.Limits.CPUSeconds > 0,
			Memory:  spec.Resources.MemoryBytes > 0,
			Pids:    spec.Resources.PidsLimit > 0,
			Network: spec.Security.NetworkMode == "none",
			Imports: true,
		},
	}
	if parent.Err() != nil {
		return result, fmt.Errorf("execution canceled: %w", parent.Err())
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, runtime.LimitError("timeout", "wall-clock limit of %s exceeded", req.Timeout)
	}
	if err != nil {
		return result, err
	}
	if runResult.OutputTruncated {
		return result, runtime.LimitError("output", "worker output exceeded %d bytes", req.Limits.OutputBytes)
	}

	value, out, err := shared.Outcome(env, runResult.Stdout)
	result.Stdout = out.Stdout
	result.Stderr = out.Diagnostics(result.Stderr)
	if errors.Is(err, runtime.ErrProtocol) {
		return result, shared.Unframed(err, runResult.ExitCode, runResult.OOMKilled)
	}
	if err != nil {
		return result, err
	}
	result.Value = value
	return result, nil
}

var _ runtime.Backend = (*Backend)(nil)

func (b *Backend) ensureClient() (ContainerRunner, error) {
	if b.client == nil {
		return nil, ErrClientNotConfigured
	}
	return b.client, nil
}

func (b *Backend) backendInfo(profile runtime.SecurityProfile) runtime.BackendInfo {
	return runtime.BackendInfo{
		Kind:      runtime.BackendDocker,
		Readiness: runtime.ReadinessStable,
		Details: map[string]any{
			"image":   b.image,
			"runtime": b.ociRuntime,
			"profile": string(profile),
		},
	}
}

func (b *Backend) buildSpec(image string, req runtime.ExecuteRequest, profile runtime.SecurityProfile) (ContainerSpec, error) {
	opts := b.containerOptions(profile, req.Limits)
	spec := ContainerSpec{
		Name:    "geoexec-" + uuid.NewString(),
		Image:   image,
		Runtime: b.ociRuntime,
		Command: runtime.InlineDriverCommand(b.python),
		Env: []string{
			"HOME=/tmp",
			"TMPDIR=/tmp",
			"OMP_NUM_THREADS=1",
			"OPENBLAS_NUM_THREADS=1",
		},
		Resources: ResourceSpec{
			MemoryBytes: opts.MemoryLimit,
			CPUQuota:    opts.CPUQuota,
			PidsLimit:   opts.PidsLimit,
		},
		Security: SecuritySpec{
			User:                opts.User,
			ReadOnlyRootfs:      opts.ReadOnlyRootfs,
			NetworkMode:         opts.NetworkMode,
			SeccompProfile:      opts.SeccompProfile,
			DropAllCapabilities: true,
			NoNewPrivileges:     true,
		},
		Timeout:     req.Timeout,
		OutputBytes: req.Limits.OutputBytes,
		Labels: map[string]string{
			"runtime.profile": string(profile),
			"runtime.backend": string(runtime.BackendDocker),
		},
	}
	for k, v := range req.Metadata {
		if s, ok := v.(string); ok && !strings.ContainsAny(k, " =") {
			spec.Labels["geoexec."+k] = s
		}
	}
	if err := spec.Validate(); err != nil {
		return ContainerSpec{}, err
	}
	return spec, nil
}

type containerOptions struct {
	NetworkDisabled bool
	NetworkMode     string
	ReadOnlyRootfs  bool
	MemoryLimit     int64
	CPUQuota        int64
	PidsLimit       int64
	User            string
	SeccompProfile  string
}

func (b *Backend) containerOptions(profile runtime.SecurityProfile, limits runtime.Limits) containerOptions {
	opts := containerOptions{
		User:      "65534:65534",
		PidsLimit: defaultPids,
	}

	switch profile {
	case runtime.ProfileDev:
		opts.NetworkMode = "bridge"
		opts.ReadOnlyRootfs = false
	case runtime.ProfileStandard:
		opts.NetworkDisabled = true
		opts.NetworkMode = "none"
		opts.ReadOnlyRootfs = true
	case runtime.ProfileHardened:
		opts.NetworkDisabled = true
		opts.NetworkMode = "none"
		opts.ReadOnlyRootfs = true
		opts.SeccompProfile = b.seccompPath
	}

	if limits.MemoryBytes > 0 {
		opts.MemoryLimit = limits.MemoryBytes
	}
	if limits.CPUQuotaMillis > 0 {
		opts.CPUQuota = limits.CPUQuotaMillis * 1000
	}
	if limits.PidsMax > 0 {
		opts.PidsLimit = limits.PidsMax
	}
	return opts
}
