package docker

import (
	"errors"
	"fmt"
	"time"
)

// ResourceSpec defines container resource limits.
type ResourceSpec struct {
	// MemoryBytes is the memory limit in bytes. Swap is capped to the same value.
	// Zero means unlimited.
	MemoryBytes int64

	// CPUQuota is the CPU quota in microseconds per one second period.
	// Zero means unlimited.
	CPUQuota int64

	// PidsLimit is the maximum number of processes.
	// Zero means unlimited.
	PidsLimit int64
}

// SecuritySpec defines container security settings.
type SecuritySpec struct {
	// User is the user to run as (e.g., "65534:65534").
	User string

	// ReadOnlyRootfs mounts the root filesystem as read-only.
	ReadOnlyRootfs bool

	// NetworkMode is the network mode: "none" or "bridge".
	// "host" is not allowed in sandbox contexts.
	NetworkMode string

	// SeccompProfile is the path to a seccomp profile.
	// Empty uses the daemon's default profile.
	SeccompProfile string

	// DropAllCapabilities drops every Linux capability.
	DropAllCapabilities bool

	// NoNewPrivileges blocks setuid escalation.
	NoNewPrivileges bool

	// Privileged grants extended privileges to the container.
	// Must always be false in sandbox contexts.
	Privileged bool
}

// ContainerSpec defines what to run in a container and how.
type ContainerSpec struct {
	// Name is the container name, used to stop it on cancellation.
	Name string

	// Image is the container image reference (required).
	Image string

	// Runtime is an optional OCI runtime such as runsc or kata-runtime.
	Runtime string

	// Command is the command to execute.
	Command []string

	// Stdin is written to the container's standard input.
	Stdin []byte

	// Env contains environment variables in KEY=value format.
	Env []string

	// Resources bounds the container.
	Resources ResourceSpec

	// Security configures isolation.
	Security SecuritySpec

	// TmpfsBytes sizes the writable /tmp mount. Zero means 64MiB.
	TmpfsBytes int64

	// Timeout is the wall-clock ceiling.
	Timeout time.Duration

	// OutputBytes caps the stderr kept by the host. Stdout may hold up to
	// shared.FrameSlack more for the result frame. Zero means unlimited.
	OutputBytes int64

	// Labels are attached to the container.
	Labels map[string]string
}

// ContainerResult captures the output of a container run.
type ContainerResult struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	OOMKilled bool

	// OutputTruncated reports that stdout outgrew its cap and was cut.
	OutputTruncated bool
}

// Validate checks ContainerSpec for errors before execution.
func (s ContainerSpec) Validate() error {
	if s.Image == "" {
		return errors.New("image is required")
	}
	if len(s.Command) == 0 {
		return errors.New("command is required")
	}
	if s.OutputBytes < 0 {
		return errors.New("output limit cannot be negative")
	}
	if err := s.Security.Validate(); err != nil {
		return fmt.Errorf("security: %w", err)
	}
	if err := s.Resources.Validate(); err != nil {
		return fmt.Errorf("resources: %w", err)
	}
	return nil
}

// Validate checks SecuritySpec for policy violations.
func (s SecuritySpec) Validate() error {
	if s.Privileged {
		return ErrSecurityViolation
	}
	if s.NetworkMode == "host" {
		return fmt.Errorf("%w: host network not allowed", ErrSecurityViolation)
	}
	return nil
}

// Validate checks ResourceSpec for invalid values.
func (r ResourceSpec) Validate() error {
	if r.MemoryBytes < 0 {
		return errors.New("memory cannot be negative")
	}
	if r.CPUQuota < 0 {
		return errors.New("cpu quota cannot be negative")
	}
	if r.PidsLimit < 0 {
		return errors.New("pids limit cannot be negative")
	}
	return nil
}
