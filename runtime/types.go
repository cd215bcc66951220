package runtime

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultResultName is the binding read back when a request names none.
const DefaultResultName = "final_gdf"

// DefaultTimeout is the wall-clock ceiling applied when a request sets none.
const DefaultTimeout = 30 * time.Second

// DefaultAllowedImports lists the top-level modules generated programs may import.
var DefaultAllowedImports = []string{
	"geopandas", "shapely", "pandas", "numpy", "pyproj",
	"math", "json", "statistics", "itertools", "functools", "collections",
	"datetime", "re", "typing", "dataclasses", "decimal", "fractions", "operator", "copy",
}

// reservedNames are pre-bound in the worker's outer scope.
var reservedNames = map[string]bool{
	"gpd":               true,
	"shape":             true,
	"json":              true,
	"__builtins__":      true,
	"__name__":          true,
	"__geoexec_input__": true,
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SecurityProfile selects the isolation posture of an execution.
type SecurityProfile string

const (
	// ProfileDev relaxes network and filesystem restrictions for local work.
	ProfileDev SecurityProfile = "dev"

	// ProfileStandard disables networking and mounts a read-only root.
	ProfileStandard SecurityProfile = "standard"

	// ProfileHardened adds seccomp, namespaces and tighter defaults.
	ProfileHardened SecurityProfile = "hardened"
)

// IsValid reports whether p is a known profile.
func (p SecurityProfile) IsValid() bool {
	switch p {
	case ProfileDev, ProfileStandard, ProfileHardened:
		return true
	}
	return false
}

// BackendKind identifies an isolation backend.
type BackendKind string

const (
	BackendProcess    BackendKind = "process"
	BackendDocker     BackendKind = "docker"
	BackendKubernetes BackendKind = "kubernetes"
)

// Readiness describes how mature a backend is.
type Readiness string

const (
	ReadinessStable Readiness = "stable"
	ReadinessBeta   Readiness = "beta"
)

// Limits bounds the resources a single execution may consume.
// Zero values mean "backend default"; negative values are invalid.
type Limits struct {
	// CPUSeconds caps CPU time inside the worker (RLIMIT_CPU).
	CPUSeconds int64

	// CPUQuotaMillis caps CPU share for container backends, in millicores.
	CPUQuotaMillis int64

	// MemoryBytes caps the worker's address space or container memory.
	MemoryBytes int64

	// PidsMax caps processes and threads.
	PidsMax int64

	// OutputBytes caps captured stdout and stderr.
	OutputBytes int64
}

// Validate rejects negative limits.
func (l Limits) Validate() error {
	var bad []string
	if l.CPUSeconds < 0 {
		bad = append(bad, "CPUSeconds")
	}
	if l.CPUQuotaMillis < 0 {
		bad = append(bad, "CPUQuotaMillis")
	}
	if l.MemoryBytes < 0 {
		bad = append(bad, "MemoryBytes")
	}
	if l.PidsMax < 0 {
		bad = append(bad, "PidsMax")
	}
	if l.OutputBytes < 0 {
		bad = append(bad, "OutputBytes")
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: negative %s", ErrInvalidLimits, strings.Join(bad, ", "))
	}
	return nil
}

// DefaultLimits returns the ceilings used when a request leaves them unset.
func DefaultLimits() Limits {
	return Limits{
		CPUSeconds:  30,
		MemoryBytes: 2 << 30,
		OutputBytes: 32 << 20,
	}
}

// withDefaults fills zero fields from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.CPUSeconds == 0 {
		l.CPUSeconds = d.CPUSeconds
	}
	if l.MemoryBytes == 0 {
		l.MemoryBytes = d.MemoryBytes
	}
	if l.OutputBytes == 0 {
		l.OutputBytes = d.OutputBytes
	}
	return l
}

// ExecuteRequest describes one program to run.
type ExecuteRequest struct {
	// Code is the generated program body. Required.
	Code string

	// Preamble runs before Code in the same scope. Optional.
	Preamble string

	// Input is a JSON document exposed to the program as __geoexec_input__.
	Input []byte

	// ResultName is the binding read back after execution.
	// Default: DefaultResultName.
	ResultName string

	// Requires lists modules the worker must be able to import before the
	// program runs. A worker that cannot is reported as ErrRuntimeUnavailable.
	Requires []string

	// AllowedImports enumerates importable top-level modules.
	// Default: DefaultAllowedImports.
	AllowedImports []string

	// Profile selects the security posture. Default: ProfileStandard.
	Profile SecurityProfile

	// Timeout is the wall-clock ceiling. Default: DefaultTimeout.
	Timeout time.Duration

	// Limits bounds resource use.
	Limits Limits

	// Metadata is carried through to logs and labels.
	Metadata map[string]any
}

// Validate checks the request without applying defaults.
func (r ExecuteRequest) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return ErrMissingCode
	}
	if r.ResultName != "" {
		if !identifierPattern.MatchString(r.ResultName) {
			return fmt.Errorf("%w: %q is not an identifier", ErrInvalidResultName, r.ResultName)
		}
		if reservedNames[r.ResultName] {
			return fmt.Errorf("%w: %q is reserved", ErrInvalidResultName, r.ResultName)
		}
	}
	if r.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidLimits)
	}
	return r.Limits.Validate()
}

// WithDefaults returns a copy of r with every unset field defaulted.
func (r ExecuteRequest) WithDefaults() ExecuteRequest {
	if r.ResultName == "" {
		r.ResultName = DefaultResultName
	}
	if r.AllowedImports == nil {
		r.AllowedImports = append([]string(nil), DefaultAllowedImports...)
	}
	if r.Profile == "" {
		r.Profile = ProfileStandard
	}
	if r.Timeout == 0 {
		r.Timeout = DefaultTimeout
	}
	r.Limits = r.Limits.withDefaults()
	return r
}

// Program returns the preamble and code joined into one program text.
func (r ExecuteRequest) Program() string {
	pre := strings.TrimRight(r.Preamble, "\n")
	if strings.TrimSpace(pre) == "" {
		return r.Code
	}
	return pre + "\n\n" + r.Code
}

// CodeLineOffset is the number of program lines that precede Code.
func (r ExecuteRequest) CodeLineOffset() int {
	pre := strings.TrimRight(r.Preamble, "\n")
	if strings.TrimSpace(pre) == "" {
		return 0
	}
	return strings.Count(pre, "\n") + 2
}

// ExecuteResult is the outcome of a successful execution.
type ExecuteResult struct {
	// Value is the decoded result binding.
	Value Value

	// Stdout is what the program printed.
	Stdout string

	// Stderr is the worker's diagnostic stream, tracebacks included.
	// It is meant for operators and must not be shown to requesters.
	Stderr string

	// ExitCode is the worker's exit status.
	ExitCode int

	// Duration is the wall-clock execution time.
	Duration time.Duration

	// RunID names the worker (temp dir, container or Job).
	RunID string

	// Backend describes where the program ran.
	Backend BackendInfo

	// LimitsEnforced reports which ceilings were actually applied.
	LimitsEnforced LimitsEnforced
}

// BackendInfo describes the backend that served a request.
type BackendInfo struct {
	Kind      BackendKind
	Readiness Readiness
	Details   map[string]any
}

// LimitsEnforced reports which protections a backend applied.
type LimitsEnforced struct {
	Timeout bool
	CPU     bool
	Memory  bool
	Pids    bool
	Network bool
	Imports bool
}
