package docker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonwraymond/geoexec/runtime"
)

// MockContainerRunner is a test double for ContainerRunner.
type MockContainerRunner struct {
	RunFunc func(ctx context.Context, spec ContainerSpec) (ContainerResult, error)
}

func (m *MockContainerRunner) Run(ctx context.Context, spec ContainerSpec) (ContainerResult, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, spec)
	}
	return ContainerResult{}, nil
}

// MockHealthChecker is a test double for HealthChecker.
type MockHealthChecker struct {
	PingFunc func(ctx context.Context) error
}

func (m *MockHealthChecker) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// MockImageResolver is a test double for ImageResolver.
type MockImageResolver struct {
	ResolveFunc func(ctx context.Context, image string) (string, error)
}

func (m *MockImageResolver) Resolve(ctx context.Context, image string) (string, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, image)
	}
	return image, nil
}

// frameStdout renders the line a worker would print for the envelope on stdin.
func frameStdout(spec ContainerSpec, frame string) string {
	var env runtime.Envelope
	if err := json.Unmarshal(spec.Stdin, &env); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%s%s:%s\n", runtime.FramePrefix, env.Nonce, frame)
}

func okRunner(frame string) *MockContainerRunner {
	return &MockContainerRunner{
		RunFunc: func(_ context.Context, spec ContainerSpec) (ContainerResult, error) {
			return ContainerResult{Stdout: frameStdout(spec, frame)}, nil
		},
	}
}
