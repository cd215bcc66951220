package runtime

import (
	"context"
	"errors"
	"testing"
	"time"
)

// BackendContract configures RunBackendContractTests.
type BackendContract struct {
	// NewBackend returns a fresh backend for each subtest.
	NewBackend func() Backend

	// ExpectedKind is the value Kind must return.
	ExpectedKind BackendKind

	// SkipExecutionTests skips subtests that need a working worker.
	SkipExecutionTests bool

	// Profile is used for execution subtests. Default: ProfileStandard.
	Profile SecurityProfile
}

// RunBackendContractTests checks the behaviour every Backend must share.
func RunBackendContractTests(t *testing.T, c BackendContract) {
	t.Helper()
	profile := c.Profile
	if profile == "" {
		profile = ProfileStandard
	}
	request := func(code string) ExecuteRequest {
		return ExecuteRequest{Code: code, Profile: profile, Timeout: time.Minute}.WithDefaults()
	}

	t.Run("Kind", func(t *testing.T) {
		if got := c.NewBackend().Kind(); got != c.ExpectedKind {
			t.Errorf("Kind() = %v, want %v", got, c.ExpectedKind)
		}
	})

	t.Run("RequiresCode", func(t *testing.T) {
		_, err := c.NewBackend().Execute(context.Background(), ExecuteRequest{})
		if !errors.Is(err, ErrMissingCode) {
			t.Errorf("Execute() error = %v, want %v", err, ErrMissingCode)
		}
	})

	t.Run("RejectsReservedResultName", func(t *testing.T) {
		_, err := c.NewBackend().Execute(context.Background(), ExecuteRequest{Code: "x = 1", ResultName: "gpd"})
		if !errors.Is(err, ErrInvalidResultName) {
			t.Errorf("Execute() error = %v, want %v", err, ErrInvalidResultName)
		}
	})

	if c.SkipExecutionTests {
		return
	}

	t.Run("BindsResult", func(t *testing.T) {
		res, err := c.NewBackend().Execute(context.Background(), request("final_gdf = 41 + 1"))
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if res.Value.Type != "int" || string(res.Value.Data) != "42" {
			t.Errorf("Value = %+v, want int 42", res.Value)
		}
	})

	t.Run("ResultMissing", func(t *testing.T) {
		_, err := c.NewBackend().Execute(context.Background(), request("other = 1"))
		if !errors.Is(err, ErrResultMissing) {
			t.Errorf("Execute() error = %v, want %v", err, ErrResultMissing)
		}
	})

	t.Run("RuntimeError", func(t *testing.T) {
		_, err := c.NewBackend().Execute(context.Background(), request("x = 1\nfinal_gdf = x / 0"))
		var execErr *ExecError
		if !errors.As(err, &execErr) || execErr.Kind != KindRuntime {
			t.Fatalf("Execute() error = %v, want runtime ExecError", err)
		}
		if execErr.Line != 2 {
			t.Errorf("Line = %d, want 2", execErr.Line)
		}
	})

	t.Run("SyntaxError", func(t *testing.T) {
		_, err := c.NewBackend().Execute(context.Background(), request("final_gdf = (1,"))
		var execErr *ExecError
		if !errors.As(err, &execErr) || execErr.Kind != KindSyntax {
			t.Errorf("Execute() error = %v, want syntax ExecError", err)
		}
	})

	t.Run("DeniesImports", func(t *testing.T) {
		_, err := c.NewBackend().Execute(context.Background(), request("import os\nfinal_gdf = os.getcwd()"))
		var execErr *ExecError
		if !errors.As(err, &execErr) || execErr.Reason != "import" {
			t.Errorf("Execute() error = %v, want denied import", err)
		}
	})

	t.Run("DeniesOperationsThroughBoundModules", func(t *testing.T) {
		programs := []string{
			"os = json.codecs.sys.modules['os']\nfinal_gdf = os.popen('id -un').read()",
			"opener = json.codecs.builtins.open\nfinal_gdf = opener('/etc/hostname').read()",
		}
		for _, code := range programs {
			_, err := c.NewBackend().Execute(context.Background(), request(code))
			var execErr *ExecError
			if !errors.As(err, &execErr) || execErr.Reason != "operation" {
				t.Errorf("Execute(%q) error = %v, want denied operation", code, err)
			}
		}
	})

	t.Run("NoStateLeaksBetweenRuns", func(t *testing.T) {
		b := c.NewBackend()
		if _, err := b.Execute(context.Background(), request("import math\nmath.leaked = 1\nfinal_gdf = 1")); err != nil {
			t.Fatalf("first Execute() error = %v", err)
		}
		res, err := b.Execute(context.Background(), request("import math\nfinal_gdf = hasattr(math, 'leaked')"))
		if err != nil {
			t.Fatalf("second Execute() error = %v", err)
		}
		if string(res.Value.Data) != "false" {
			t.Errorf("second run saw state from the first: %s", res.Value.Data)
		}
	})

	t.Run("WallClockLimit", func(t *testing.T) {
		req := request("while True:\n    pass")
		req.Timeout = 500 * time.Millisecond
		_, err := c.NewBackend().Execute(context.Background(), req)
		if !errors.Is(err, ErrLimitExceeded) {
			t.Errorf("Execute() error = %v, want %v", err, ErrLimitExceeded)
		}
	})

	t.Run("Cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(200 * time.Millisecond)
			cancel()
		}()
		_, err := c.NewBackend().Execute(ctx, request("while True:\n    pass"))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Execute() error = %v, want %v", err, context.Canceled)
		}
	})
}
