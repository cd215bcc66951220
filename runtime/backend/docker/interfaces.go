package docker

import "context"

// ContainerRunner executes a single container for a given spec.
//
// Contract:
// - Concurrency: Implementations must be safe for concurrent use.
// - Context: Run must honor cancellation and deadlines and stop the container when ctx ends.
// - Ownership: Implementations must not mutate the provided spec.
type ContainerRunner interface {
	Run(ctx context.Context, spec ContainerSpec) (ContainerResult, error)
}

// HealthChecker can verify Docker daemon availability.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// ImageResolver optionally resolves or pulls images before execution.
type ImageResolver interface {
	Resolve(ctx context.Context, image string) (string, error)
}
