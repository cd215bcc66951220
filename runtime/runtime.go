package runtime

import (
	"context"
	"errors"
	"fmt"
)

// Backend executes a program in one isolation technology.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Execute must honor cancellation and kill the worker when ctx ends.
// - Errors: program failures are *ExecError; infrastructure failures are
//   backend-specific sentinels wrapped with context.
// - Ownership: req is read-only; the returned result is caller-owned.
type Backend interface {
	// Kind returns the backend identifier.
	Kind() BackendKind

	// Execute runs req.Program() and reads back req.ResultName.
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
}

// Runtime executes requests on whichever backend serves their profile.
type Runtime interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
}

// RuntimeConfig configures a DefaultRuntime.
type RuntimeConfig struct {
	// Backends maps each permitted profile to the backend that serves it.
	Backends map[SecurityProfile]Backend

	// DefaultProfile is used when a request names none.
	// Default: ProfileStandard.
	DefaultProfile SecurityProfile

	// Logger is optional.
	Logger Logger
}

// DefaultRuntime routes requests to backends by SecurityProfile.
type DefaultRuntime struct {
	backends       map[SecurityProfile]Backend
	defaultProfile SecurityProfile
	logger         Logger
}

// NewDefaultRuntime creates a runtime from cfg.
func NewDefaultRuntime(cfg RuntimeConfig) *DefaultRuntime {
	profile := cfg.DefaultProfile
	if profile == "" {
		profile = ProfileStandard
	}
	backends := make(map[SecurityProfile]Backend, len(cfg.Backends))
	for p, b := range cfg.Backends {
		backends[p] = b
	}
	return &DefaultRuntime{
		backends:       backends,
		defaultProfile: profile,
		logger:         OrNop(cfg.Logger),
	}
}

// Execute validates req, applies defaults and hands it to the profile's backend.
func (r *DefaultRuntime) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	if err := req.Validate(); err != nil {
		return ExecuteResult{}, err
	}
	if req.Profile == "" {
		req.Profile = r.defaultProfile
	}
	if !req.Profile.IsValid() {
		return ExecuteResult{}, fmt.Errorf("%w: unknown profile %q", ErrBackendDenied, req.Profile)
	}
	backend, ok := r.backends[req.Profile]
	if !ok || backend == nil {
		return ExecuteResult{}, fmt.Errorf("%w: no backend for profile %q", ErrRuntimeUnavailable, req.Profile)
	}
	req = req.WithDefaults()

	r.logger.Info("dispatching execution",
		"profile", req.Profile,
		"backend", backend.Kind(),
		"resultName", req.ResultName,
		"timeout", req.Timeout)

	result, err := backend.Execute(ctx, req)
	if err != nil {
		var execErr *ExecError
		if errors.As(err, &execErr) {
			r.logger.Warn("execution failed", "backend", backend.Kind(), "kind", execErr.Kind)
		} else {
			r.logger.Error("backend failure", "backend", backend.Kind(), "error", err)
		}
		return result, err
	}
	r.logger.Info("execution finished",
		"backend", backend.Kind(),
		"runID", result.RunID,
		"valueType", result.Value.Type,
		"duration", result.Duration)
	return result, nil
}

var _ Runtime = (*DefaultRuntime)(nil)
