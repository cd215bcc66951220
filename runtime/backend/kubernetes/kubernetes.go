// Package kubernetes provides a backend that executes programs as Kubernetes
// jobs. Isolation depends on the runtime class and the namespace's network
// policies; scheduling and quotas come from the cluster.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/geoexec/runtime"
	"github.com/jonwraymond/geoexec/runtime/backend/shared"
)

// Errors for Kubernetes backend operations.
var (
	// ErrClientNotConfigured is returned when no PodRunner is configured.
	ErrClientNotConfigured = fmt.Errorf("%w: kubernetes client not configured", runtime.ErrRuntimeUnavailable)

	// ErrClusterUnavailable is returned when the API server cannot be reached.
	ErrClusterUnavailable = fmt.Errorf("%w: kubernetes cluster unavailable", runtime.ErrRuntimeUnavailable)

	// ErrPodCreationFailed is returned when the job or its config cannot be created.
	ErrPodCreationFailed = fmt.Errorf("%w: pod creation failed", runtime.ErrRuntimeUnavailable)

	// ErrSecurityViolation is returned when a security policy is violated.
	ErrSecurityViolation = errors.New("security policy violation")
)

const (
	mountPath    = "/geoexec"
	envelopeFile = "envelope.json"
	driverFile   = "driver.py"
	nobody       = 65534
)

// Config configures a Kubernetes backend.
type Config struct {
	// Namespace is the Kubernetes namespace for execution jobs.
	// Default: default
	Namespace string

	// Image is the sandbox image.
	// Default: geoexec-sandbox:latest
	Image string

	// RuntimeClassName is the optional runtime class for stronger isolation.
	// Examples: gvisor, kata
	RuntimeClassName string

	// ServiceAccount is the service account for execution pods.
	ServiceAccount string

	// SeccompLocalhost is the node-local seccomp profile for the hardened profile.
	SeccompLocalhost string

	// Python is the interpreter inside the image.
	// Default: python3
	Python string

	// Client executes pod specs. Required; see NewJobRunner.
	Client PodRunner

	// ImageResolver optionally resolves images before execution.
	ImageResolver ImageResolver

	// HealthChecker optionally verifies cluster availability.
	HealthChecker HealthChecker

	// Logger is an optional logger for backend events.
	Logger runtime.Logger
}

// Backend executes programs in Kubernetes jobs.
type Backend struct {
	namespace        string
	image            string
	runtimeClassName string
	serviceAccount   string
	seccompLocalhost string
	python           string
	client           PodRunner
	resolver         ImageResolver
	health           HealthChecker
	logger           runtime.Logger
}

// New creates a new Kubernetes backend with the given configuration.
func New(cfg Config) *Backend {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "default"
	}
	image := cfg.Image
	if image == "" {
		image = "geoexec-sandbox:latest"
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
		namespace:        namespace,
		image:            image,
		runtimeClassName: cfg.RuntimeClassName,
		serviceAccount:   cfg.ServiceAccount,
		seccompLocalhost: cfg.SeccompLocalhost,
		python:           python,
		client:           cfg.Client,
		resolver:         cfg.ImageResolver,
		health:           health,
		logger:           runtime.OrNop(cfg.Logger),
	}
}

// Kind returns the backend kind identifier.
func (b *Backend) Kind() runtime.BackendKind {
	return runtime.BackendKubernetes
}

// Execute runs the program in a Kubernetes job.
func (b *Backend) Execute(ctx context.Context, req runtime.ExecuteRequest) (runtime.ExecuteResult, error) {
	if err := req.Validate(); err != nil {
		return runtime.ExecuteResult{}, err
	}
	req = req.WithDefaults()

	if b.client == nil {
		return runtime.ExecuteResult{}, ErrClientNotConfigured
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	if b.health != nil {
		if err := b.health.Ping(ctx); err != nil {
			return runtime.ExecuteResult{}, fmt.Errorf("%w: %v", ErrClusterUnavailable, err)
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
	payload, err := env.Marshal()
	if err != nil {
		return runtime.ExecuteResult{}, fmt.Errorf("encode envelope: %w", err)
	}
	spec, err := b.buildSpec(image, req, req.Profile, payload)
	if err != nil {
		return runtime.ExecuteResult{}, err
	}

	if req.Profile == runtime.ProfileHardened && b.runtimeClassName == "" {
		b.logger.Warn("hardened profile without a runtime class relies on the cluster default runtime")
	}
	b.logger.Info("executing in kubernetes",
		"profile", req.Profile,
		"namespace", b.namespace,
		"runtimeClassName", b.runtimeClassName,
		"job", spec.Name)

	start := time.Now()
	runResult, err := b.client.Run(ctx, spec)
	result := runtime.ExecuteResult{
		Stderr:   runResult.Stderr,
		ExitCode: runResult.ExitCode,
		Duration: time.Since(start),
		RunID:    spec.Name,
		Backend:  b.backendInfo(req.Profile),
		LimitsEnforced: runtime.LimitsEnforced{
			Timeout: true,
			Memory:  spec.Resources.MemoryBytes > 0,
			CPU:     spec.Resources.CPUMillis > 0 || req.Limits.CPUSeconds > 0,
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

func (b *Backend) backendInfo(profile runtime.SecurityProfile) runtime.BackendInfo {
	return runtime.BackendInfo{
		Kind:      runtime.BackendKubernetes,
		Readiness: runtime.ReadinessBeta,
		Details: map[string]any{
			"namespace":        b.namespace,
			"image":            b.image,
			"runtimeClassName": b.runtimeClassName,
			"profile":          string(profile),
		},
	}
}

func (b *Backend) buildSpec(image string, req runtime.ExecuteRequest, profile runtime.SecurityProfile, envelope []byte) (PodSpec, error) {
	opts := b.podOptions(profile, req.Limits)
	spec := PodSpec{
		Name:             "geoexec-" + uuid.NewString(),
		Namespace:        b.namespace,
		Image:            image,
		Command:          runtime.DriverCommand(b.python, mountPath+"/"+driverFile),
		Env:              []string{runtime.EnvelopeEnv + "=" + mountPath + "/" + envelopeFile, "HOME=/tmp", "OMP_NUM_THREADS=1"},
		RuntimeClassName: b.runtimeClassName,
		ServiceAccount:   b.serviceAccount,
		Files: map[string]string{
			envelopeFile: string(envelope),
			driverFile:   runtime.DriverSource(),
		},
		MountPath: mountPath,
		Resources: ResourceSpec{
			MemoryBytes: opts.MemoryLimit,
			CPUMillis:   opts.CPUMillis,
			TmpBytes:    64 << 20,
		},
		Security: SecuritySpec{
			UID:              opts.UID,
			ReadOnlyRootfs:   opts.ReadOnlyRootfs,
			NetworkMode:      opts.NetworkMode,
			SeccompLocalhost: opts.SeccompLocalhost,
		},
		Timeout: req.Timeout,
		Labels: map[string]string{
			"runtime.profile": string(profile),
			"runtime.backend": string(runtime.BackendKubernetes),
			"runtime.network": opts.NetworkMode,
		},
	}
	if err := spec.Validate(); err != nil {
		return PodSpec{}, err
	}
	return spec, nil
}

type podOptions struct {
	NetworkMode      string
	ReadOnlyRootfs   bool
	MemoryLimit      int64
	CPUMillis        int64
	UID              int64
	SeccompLocalhost string
}

func (b *Backend) podOptions(profile runtime.SecurityProfile, limits runtime.Limits) podOptions {
	opts := podOptions{
		UID: nobody,
	}

	switch profile {
	case runtime.ProfileDev:
		opts.NetworkMode = "default"
		opts.ReadOnlyRootfs = false
	case runtime.ProfileStandard:
		opts.NetworkMode = "none"
		opts.ReadOnlyRootfs = true
	case runtime.ProfileHardened:
		opts.NetworkMode = "none"
		opts.ReadOnlyRootfs = true
		opts.SeccompLocalhost = b.seccompLocalhost
	}

	if limits.MemoryBytes > 0 {
		opts.MemoryLimit = limits.MemoryBytes
	}
	if limits.CPUQuotaMillis > 0 {
		opts.CPUMillis = limits.CPUQuotaMillis
	}
	return opts
}
