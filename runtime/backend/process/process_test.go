package process

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jonwraymond/geoexec/runtime"
)

// mockLogger captures log messages for testing
type mockLogger struct {
	messages []string
}

func (l *mockLogger) Info(msg string, _ ...any)  { l.messages = append(l.messages, "INFO: "+msg) }
func (l *mockLogger) Warn(msg string, _ ...any)  { l.messages = append(l.messages, "WARN: "+msg) }
func (l *mockLogger) Error(msg string, _ ...any) { l.messages = append(l.messages, "ERROR: "+msg) }

func (l *mockLogger) has(level, substr string) bool {
	for _, m := range l.messages {
		if strings.HasPrefix(m, level) && strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func havePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func TestBackendImplementsInterface(t *testing.T) {
	t.Helper()
	var _ runtime.Backend = (*Backend)(nil)
}

func TestBackendDefaults(t *testing.T) {
	b := New(Config{})
	if b.python != "python3" {
		t.Errorf("python = %q, want python3", b.python)
	}
	if b.workDir == "" {
		t.Error("workDir should default to the system temp dir")
	}
	if b.killGrace != 2*time.Second {
		t.Errorf("killGrace = %v, want 2s", b.killGrace)
	}
}

func TestBackendMissingInterpreter(t *testing.T) {
	b := New(Config{Python: "python-does-not-exist-42"})
	_, err := b.Execute(context.Background(), runtime.ExecuteRequest{Code: "final_gdf = 1"})
	if !errors.Is(err, ErrInterpreterUnavailable) {
		t.Errorf("Execute() error = %v, want %v", err, ErrInterpreterUnavailable)
	}
}

func TestProcessOptions(t *testing.T) {
	tests := []struct {
		profile runtime.SecurityProfile
		isolate bool
		require bool
	}{
		{runtime.ProfileDev, false, false},
		{runtime.ProfileStandard, true, false},
		{runtime.ProfileHardened, true, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.profile), func(t *testing.T) {
			opts := processOptionsFor(tt.profile)
			if opts.IsolateNetwork != tt.isolate {
				t.Errorf("IsolateNetwork = %v, want %v", opts.IsolateNetwork, tt.isolate)
			}
			if opts.RequireIsolation != tt.require {
				t.Errorf("RequireIsolation = %v, want %v", opts.RequireIsolation, tt.require)
			}
		})
	}
}

func TestEnvironIsMinimal(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "secret")
	b := New(Config{Env: []string{"EXTRA=1"}})
	env := b.environ("/tmp/run")
	joined := strings.Join(env, "\n")
	if strings.Contains(joined, "OPENAI_API_KEY") {
		t.Error("host secrets leaked into the worker environment")
	}
	for _, want := range []string{"HOME=/tmp/run", "TMPDIR=/tmp/run", "EXTRA=1"} {
		if !strings.Contains(joined, want) {
			t.Errorf("environment missing %q", want)
		}
	}
}

func TestBackendLogsRelaxedIsolation(t *testing.T) {
	havePython(t)
	logger := &mockLogger{}
	b := New(Config{Logger: logger})
	_, _ = b.Execute(context.Background(), runtime.ExecuteRequest{Code: "final_gdf = 1", Profile: runtime.ProfileDev})
	if !logger.has("WARN", "relaxed isolation") {
		t.Errorf("expected a relaxed isolation warning, got %v", logger.messages)
	}
}

func TestBackendCapturesStdout(t *testing.T) {
	havePython(t)
	b := New(Config{})
	result, err := b.Execute(context.Background(), runtime.ExecuteRequest{
		Code: "print('hello world')\nfinal_gdf = 'done'",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(result.Stdout, "hello world") {
		t.Errorf("Stdout = %q, want to contain %q", result.Stdout, "hello world")
	}
	if strings.Contains(result.Stdout, runtime.FramePrefix) {
		t.Error("the result frame leaked into Stdout")
	}
	if result.Backend.Kind != runtime.BackendProcess {
		t.Errorf("Backend.Kind = %v, want %v", result.Backend.Kind, runtime.BackendProcess)
	}
	if !result.LimitsEnforced.Timeout || !result.LimitsEnforced.Imports {
		t.Errorf("LimitsEnforced = %+v", result.LimitsEnforced)
	}
}

func TestBackendPreambleInput(t *testing.T) {
	havePython(t)
	b := New(Config{})
	result, err := b.Execute(context.Background(), runtime.ExecuteRequest{
		Preamble: "rows = __geoexec_input__['rows']",
		Code:     "final_gdf = sum(r['n'] for r in rows)",
		Input:    []byte(`{"rows":[{"n":1},{"n":2},{"n":3}]}`),
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if string(result.Value.Data) != "6" {
		t.Errorf("Value = %s, want 6", result.Value.Data)
	}
}

func TestBackendFailureContainment(t *testing.T) {
	havePython(t)
	b := New(Config{})
	_, err := b.Execute(context.Background(), runtime.ExecuteRequest{Code: "final_gdf = None.buffer(1)"})
	var execErr *runtime.ExecError
	if !errors.As(err, &execErr) || execErr.Kind != runtime.KindRuntime {
		t.Fatalf("Execute() error = %v, want runtime ExecError", err)
	}
	if strings.Contains(execErr.Error(), "Traceback") {
		t.Error("traceback leaked into the error message")
	}

	result, err := b.Execute(context.Background(), runtime.ExecuteRequest{Code: "final_gdf = 'still serving'"})
	if err != nil {
		t.Fatalf("Execute() after failure error = %v", err)
	}
	if string(result.Value.Data) != `"still serving"` {
		t.Errorf("Value = %s", result.Value.Data)
	}
}

func TestBackendResultNone(t *testing.T) {
	havePython(t)
	b := New(Config{})
	result, err := b.Execute(context.Background(), runtime.ExecuteRequest{Code: "final_gdf = None"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Value.Type != "NoneType" {
		t.Errorf("Type = %q, want NoneType", result.Value.Type)
	}
}

func TestBackendContractCompliance(t *testing.T) {
	_, err := exec.LookPath("python3")
	runtime.RunBackendContractTests(t, runtime.BackendContract{
		NewBackend: func() runtime.Backend {
			return New(Config{})
		},
		ExpectedKind:       runtime.BackendProcess,
		SkipExecutionTests: err != nil,
	})
}

func TestBackendDeniesEscapeThroughBoundModules(t *testing.T) {
	havePython(t)
	b := New(Config{})
	tests := []struct {
		name string
		code string
	}{
		{"popen", "os = json.codecs.sys.modules['os']\nfinal_gdf = os.popen('id -un').read()"},
		{"system", "os = json.codecs.sys.modules['os']\nfinal_gdf = os.system('true')"},
		{"read outside work dir", "opener = json.codecs.builtins.open\nfinal_gdf = opener('/etc/hostname').read()"},
		{"write outside work dir", "opener = json.codecs.builtins.open\nfinal_gdf = opener('/var/tmp/geoexec-escape', 'w')"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Execute(context.Background(), runtime.ExecuteRequest{Code: tt.code})
			var execErr *runtime.ExecError
			if !errors.As(err, &execErr) || execErr.Reason != "operation" {
				t.Fatalf("Execute() error = %v, want denied operation", err)
			}
			if execErr.Line != 2 {
				t.Errorf("Line = %d, want 2", execErr.Line)
			}
		})
	}
}

func TestBackendGuardAllowsWorkDir(t *testing.T) {
	havePython(t)
	b := New(Config{})
	result, err := b.Execute(context.Background(), runtime.ExecuteRequest{
		Code: "opener = json.codecs.builtins.open\n" +
			"with opener('scratch.txt', 'w') as fh:\n    fh.write('ok')\n" +
			"final_gdf = opener('scratch.txt').read()",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if string(result.Value.Data) != `"ok"` {
		t.Errorf("Value = %s, want \"ok\"", result.Value.Data)
	}
}

func TestBackendSkipsProcessLimit(t *testing.T) {
	havePython(t)
	b := New(Config{})
	result, err := b.Execute(context.Background(), runtime.ExecuteRequest{
		Code:   "final_gdf = 1",
		Limits: runtime.Limits{PidsMax: 1},
	})
	if err != nil {
		t.Fatalf("Execute() with PidsMax=1 error = %v", err)
	}
	if result.LimitsEnforced.Pids {
		t.Error("LimitsEnforced.Pids = true, want false on the process backend")
	}
}
