package kubernetes

import (
	"errors"
	"fmt"
	"time"
)

// ResourceSpec defines pod resource limits.
type ResourceSpec struct {
	// MemoryBytes becomes the container memory limit.
	MemoryBytes int64
	// CPUMillis becomes the container CPU limit in millicores.
	CPUMillis int64
	// TmpBytes sizes the emptyDir mounted at /tmp.
	TmpBytes int64
}

// SecuritySpec defines pod security settings.
type SecuritySpec struct {
	UID            int64
	ReadOnlyRootfs bool
	// NetworkMode "none" puts the pod behind a deny-all NetworkPolicy.
	NetworkMode string
	// SeccompLocalhost names a node-local seccomp profile. Empty uses RuntimeDefault.
	SeccompLocalhost string
}

// PodSpec defines what to run inside a Kubernetes job.
type PodSpec struct {
	Name             string
	Namespace        string
	Image            string
	Command          []string
	Env              []string
	RuntimeClassName string
	ServiceAccount   string
	// Files are mounted read-only under MountPath through a ConfigMap.
	Files     map[string]string
	MountPath string
	Resources ResourceSpec
	Security  SecuritySpec
	Timeout   time.Duration
	Labels    map[string]string
}

// PodResult captures the output of pod execution. Pod logs interleave the
// container's stdout and stderr, so Stderr is only set by runners that can
// separate them; the backend moves everything outside the result frame to
// ExecuteResult.Stderr.
type PodResult struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	OOMKilled bool
}

// Validate checks PodSpec for errors before execution.
func (s PodSpec) Validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Image == "" {
		return errors.New("image is required")
	}
	if len(s.Command) == 0 {
		return errors.New("command is required")
	}
	if s.Security.UID == 0 {
		return fmt.Errorf("%w: pods must not run as root", ErrSecurityViolation)
	}
	if s.Security.NetworkMode == "host" {
		return fmt.Errorf("%w: host network not allowed", ErrSecurityViolation)
	}
	if s.Resources.MemoryBytes < 0 || s.Resources.CPUMillis < 0 || s.Resources.TmpBytes < 0 {
		return errors.New("resources cannot be negative")
	}
	return nil
}
