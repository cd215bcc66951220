package shared

import (
	"errors"
	"strings"
	"testing"

	"github.com/jonwraymond/geoexec/runtime"
)

const nonce = "abc-123"

func frameLine(payload string) string {
	return runtime.FramePrefix + nonce + ":" + payload
}

func TestExtractFrame(t *testing.T) {
	tests := []struct {
		name          string
		stdout        string
		wantOK        bool
		wantStatus    string
		wantRemaining string
	}{
		{
			name:   "empty stdout",
			stdout: "",
		},
		{
			name:          "no frame",
			stdout:        "hello\nworld",
			wantRemaining: "hello\nworld",
		},
		{
			name:       "frame only",
			stdout:     frameLine(`{"status":"ok","value":{"type":"int","geo":false,"data":1}}`) + "\n",
			wantOK:     true,
			wantStatus: StatusOK,
		},
		{
			name:          "frame after stray output",
			stdout:        "native write\n" + frameLine(`{"status":"missing"}`),
			wantOK:        true,
			wantStatus:    StatusMissing,
			wantRemaining: "native write",
		},
		{
			name:          "forged frame with a different nonce is kept as output",
			stdout:        runtime.FramePrefix + "forged:{\"status\":\"ok\"}\n" + frameLine(`{"status":"runtime"}`),
			wantOK:        true,
			wantStatus:    StatusRuntime,
			wantRemaining: runtime.FramePrefix + "forged:{\"status\":\"ok\"}",
		},
		{
			name:       "last frame wins",
			stdout:     frameLine(`{"status":"syntax"}`) + "\n" + frameLine(`{"status":"limit"}`),
			wantOK:     true,
			wantStatus: StatusLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, remaining, ok, err := ExtractFrame(tt.stdout, nonce)
			if err != nil {
				t.Fatalf("ExtractFrame() error = %v", err)
			}
			if ok != tt.wantOK {
				t.Fatalf("ExtractFrame() ok = %v, want %v", ok, tt.wantOK)
			}
			if frame.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", frame.Status, tt.wantStatus)
			}
			if ok && remaining != tt.wantRemaining {
				t.Errorf("remaining = %q, want %q", remaining, tt.wantRemaining)
			}
		})
	}
}

func TestExtractFrame_InvalidJSON(t *testing.T) {
	_, _, ok, err := ExtractFrame(frameLine("{not json"), nonce)
	if !ok {
		t.Fatal("ExtractFrame() ok = false, want true")
	}
	if !errors.Is(err, runtime.ErrProtocol) {
		t.Errorf("ExtractFrame() error = %v, want ErrProtocol", err)
	}
}

func TestOutcome(t *testing.T) {
	env := runtime.Envelope{Nonce: nonce, ResultName: "final_gdf", CodeOffset: 10}

	t.Run("ok", func(t *testing.T) {
		stdout := frameLine(`{"status":"ok","value":{"type":"int","geo":false,"data":42},"stdout":"working\n"}`)
		value, out, err := Outcome(env, stdout)
		if err != nil {
			t.Fatalf("Outcome() error = %v", err)
		}
		if value.Type != "int" || string(value.Data) != "42" {
			t.Errorf("value = %+v, want int 42", value)
		}
		if out.Stdout != "working\n" || out.Stray != "" {
			t.Errorf("output = %+v, want stdout %q", out, "working\n")
		}
	})

	t.Run("merged stderr stays out of program output", func(t *testing.T) {
		logs := "Traceback (most recent call last):\n" +
			"  File \"/geoexec/driver.py\", line 190, in run\n" +
			"ZeroDivisionError: division by zero\n" +
			frameLine(`{"status":"runtime","error":{"type":"ZeroDivisionError","message":"division by zero","line":12},"stdout":"step 1\n"}`)
		_, out, err := Outcome(env, logs)
		if !errors.Is(err, runtime.ErrCodeExecution) {
			t.Fatalf("Outcome() error = %v, want ErrCodeExecution", err)
		}
		if out.Stdout != "step 1\n" {
			t.Errorf("Stdout = %q, want %q", out.Stdout, "step 1\n")
		}
		if strings.Contains(out.Stdout, "Traceback") || strings.Contains(out.Stdout, "driver.py") {
			t.Errorf("traceback leaked into Stdout: %q", out.Stdout)
		}
		if !strings.Contains(out.Stray, "Traceback") {
			t.Errorf("Stray = %q, want the traceback", out.Stray)
		}
		if got := out.Diagnostics("warn\n"); !strings.HasPrefix(got, "warn\nTraceback") {
			t.Errorf("Diagnostics() = %q", got)
		}
	})

	t.Run("unavailable", func(t *testing.T) {
		stdout := frameLine(`{"status":"unavailable","error":{"type":"Unavailable","message":"worker cannot import \"geopandas\""}}`)
		_, _, err := Outcome(env, stdout)
		if !errors.Is(err, runtime.ErrRuntimeUnavailable) {
			t.Errorf("Outcome() error = %v, want ErrRuntimeUnavailable", err)
		}
		var execErr *runtime.ExecError
		if errors.As(err, &execErr) {
			t.Errorf("unavailable worker reported as code error %v", execErr)
		}
	})

	t.Run("denied operation", func(t *testing.T) {
		stdout := frameLine(`{"status":"denied","error":{"type":"OperationDenied","message":"operation \"subprocess.Popen\" is not permitted","line":12,"reason":"operation"}}`)
		_, _, err := Outcome(env, stdout)
		var execErr *runtime.ExecError
		if !errors.As(err, &execErr) || execErr.Reason != "operation" {
			t.Errorf("Outcome() error = %v, want denied operation", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		_, _, err := Outcome(env, frameLine(`{"status":"missing","error":{"message":"final_gdf"}}`))
		if !errors.Is(err, runtime.ErrResultMissing) {
			t.Errorf("Outcome() error = %v, want ErrResultMissing", err)
		}
		if errors.Is(err, runtime.ErrCodeExecution) {
			t.Error("missing result must not match ErrCodeExecution")
		}
	})

	t.Run("runtime error line is relative to the code", func(t *testing.T) {
		stdout := frameLine(`{"status":"runtime","error":{"type":"ZeroDivisionError","message":"division by zero","line":13}}`)
		_, _, err := Outcome(env, stdout)
		var execErr *runtime.ExecError
		if !errors.As(err, &execErr) {
			t.Fatalf("Outcome() error = %v, want *ExecError", err)
		}
		if execErr.Kind != runtime.KindRuntime {
			t.Errorf("Kind = %q, want %q", execErr.Kind, runtime.KindRuntime)
		}
		if execErr.Line != 3 {
			t.Errorf("Line = %d, want 3", execErr.Line)
		}
		if !errors.Is(err, runtime.ErrCodeExecution) {
			t.Error("runtime error should match ErrCodeExecution")
		}
	})

	t.Run("error inside preamble has no code line", func(t *testing.T) {
		stdout := frameLine(`{"status":"runtime","error":{"type":"KeyError","message":"'rows'","line":4,"column":2}}`)
		_, _, err := Outcome(env, stdout)
		var execErr *runtime.ExecError
		if !errors.As(err, &execErr) {
			t.Fatalf("Outcome() error = %v, want *ExecError", err)
		}
		if execErr.Line != 0 || execErr.Column != 0 {
			t.Errorf("location = %d:%d, want 0:0", execErr.Line, execErr.Column)
		}
	})

	t.Run("syntax", func(t *testing.T) {
		stdout := frameLine(`{"status":"syntax","error":{"type":"SyntaxError","message":"invalid syntax","line":11,"column":5}}`)
		_, _, err := Outcome(env, stdout)
		var execErr *runtime.ExecError
		if !errors.As(err, &execErr) || execErr.Kind != runtime.KindSyntax {
			t.Fatalf("Outcome() error = %v, want syntax ExecError", err)
		}
		if execErr.Line != 1 || execErr.Column != 5 {
			t.Errorf("location = %d:%d, want 1:5", execErr.Line, execErr.Column)
		}
	})

	t.Run("denied import", func(t *testing.T) {
		stdout := frameLine(`{"status":"denied","error":{"type":"ImportDenied","message":"import of \"os\" is not permitted","line":11}}`)
		_, _, err := Outcome(env, stdout)
		var execErr *runtime.ExecError
		if !errors.As(err, &execErr) {
			t.Fatalf("Outcome() error = %v, want *ExecError", err)
		}
		if execErr.Kind != runtime.KindRuntime || execErr.Reason != "import" {
			t.Errorf("Kind/Reason = %q/%q, want runtime/import", execErr.Kind, execErr.Reason)
		}
	})

	t.Run("limit", func(t *testing.T) {
		stdout := frameLine(`{"status":"limit","error":{"type":"MemoryError","reason":"memory"}}`)
		_, _, err := Outcome(env, stdout)
		if !errors.Is(err, runtime.ErrLimitExceeded) {
			t.Errorf("Outcome() error = %v, want ErrLimitExceeded", err)
		}
	})

	t.Run("no frame", func(t *testing.T) {
		_, out, err := Outcome(env, "Segmentation fault")
		if !errors.Is(err, runtime.ErrProtocol) {
			t.Errorf("Outcome() error = %v, want ErrProtocol", err)
		}
		if out.Stdout != "" || out.Stray != "Segmentation fault" {
			t.Errorf("output = %+v", out)
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		_, _, err := Outcome(env, frameLine(`{"status":"weird"}`))
		if !errors.Is(err, runtime.ErrProtocol) {
			t.Errorf("Outcome() error = %v, want ErrProtocol", err)
		}
	})
}

func TestUnframed(t *testing.T) {
	base := errors.New("no frame")
	tests := []struct {
		name      string
		exitCode  int
		oom       bool
		wantLimit bool
	}{
		{"oom", 1, true, true},
		{"sigkill", 137, false, true},
		{"crash", 1, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Unframed(base, tt.exitCode, tt.oom)
			if got := errors.Is(err, runtime.ErrLimitExceeded); got != tt.wantLimit {
				t.Errorf("limit = %v, want %v (%v)", got, tt.wantLimit, err)
			}
			if !tt.wantLimit && !errors.Is(err, base) {
				t.Errorf("Unframed() = %v, want wrapped base error", err)
			}
		})
	}
}

func TestCappedBuffer(t *testing.T) {
	buf := NewCappedBuffer(5)
	n, err := buf.Write([]byte("hello world"))
	if err != nil || n != 11 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if buf.String() != "hello" {
		t.Errorf("String() = %q, want %q", buf.String(), "hello")
	}
	if !buf.Truncated() {
		t.Error("Truncated() = false, want true")
	}

	unbounded := NewCappedBuffer(0)
	_, _ = unbounded.Write([]byte(strings.Repeat("x", 1024)))
	if unbounded.Truncated() || len(unbounded.String()) != 1024 {
		t.Error("zero cap should not truncate")
	}
}
