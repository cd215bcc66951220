package pipeline

import (
	"context"
	"sync"

	"github.com/jonwraymond/geoexec/prompt"
	"github.com/jonwraymond/geoexec/runtime"
)

// mockModel is a test double for Model.
type mockModel struct {
	AskFunc func(ctx context.Context, task string, opts ...prompt.AskOption) (prompt.Response, error)
	calls   int
}

func (m *mockModel) Ask(ctx context.Context, task string, opts ...prompt.AskOption) (prompt.Response, error) {
	m.calls++
	if m.AskFunc != nil {
		return m.AskFunc(ctx, task, opts...)
	}
	return prompt.Response{}, nil
}

func replying(text string) *mockModel {
	return &mockModel{AskFunc: func(context.Context, string, ...prompt.AskOption) (prompt.Response, error) {
		return prompt.Response{Text: text, Model: "stub"}, nil
	}}
}

// mockBackend is a test double for runtime.Backend that records requests.
type mockBackend struct {
	mu          sync.Mutex
	requests    []runtime.ExecuteRequest
	ExecuteFunc func(ctx context.Context, req runtime.ExecuteRequest) (runtime.ExecuteResult, error)
}

func (m *mockBackend) Kind() runtime.BackendKind { return runtime.BackendProcess }

func (m *mockBackend) Execute(ctx context.Context, req runtime.ExecuteRequest) (runtime.ExecuteResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, req)
	}
	return runtime.ExecuteResult{}, nil
}

func (m *mockBackend) last() runtime.ExecuteRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

func runtimeFor(b runtime.Backend) runtime.Runtime {
	return runtime.NewDefaultRuntime(runtime.RuntimeConfig{
		Backends: map[runtime.SecurityProfile]runtime.Backend{
			runtime.ProfileStandard: b,
		},
		DefaultProfile: runtime.ProfileStandard,
	})
}

type mockLogger struct {
	mu       sync.Mutex
	warnings []string
	errors   []string
}

func (l *mockLogger) Info(string, ...any) {}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnings = append(l.warnings, msg)
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}
