package runtime_test

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/geoexec/runtime"
)

type stubBackend struct {
	result runtime.ExecuteResult
}

func (s *stubBackend) Kind() runtime.BackendKind { return runtime.BackendProcess }

func (s *stubBackend) Execute(_ context.Context, _ runtime.ExecuteRequest) (runtime.ExecuteResult, error) {
	return s.result, nil
}

func Example_securityProfiles() {
	profiles := []runtime.SecurityProfile{
		runtime.ProfileDev,
		runtime.ProfileStandard,
		runtime.ProfileHardened,
	}

	fmt.Println("Security Profiles:")
	for _, p := range profiles {
		fmt.Printf("  %s (valid: %v)\n", p, p.IsValid())
	}

	invalid := runtime.SecurityProfile("unknown")
	fmt.Printf("  %s (valid: %v)\n", invalid, invalid.IsValid())
	// Output:
	// Security Profiles:
	//   dev (valid: true)
	//   standard (valid: true)
	//   hardened (valid: true)
	//   unknown (valid: false)
}

func Example_executeRequest() {
	req := runtime.ExecuteRequest{
		Preamble: "gdf = 1",
		Code:     "final_gdf = gdf + 1",
		Profile:  runtime.ProfileHardened,
	}.WithDefaults()

	fmt.Printf("Result name: %s\n", req.ResultName)
	fmt.Printf("Timeout: %v\n", req.Timeout)
	fmt.Printf("Program:\n%s\n", req.Program())
	// Output:
	// Result name: final_gdf
	// Timeout: 30s
	// Program:
	// gdf = 1
	//
	// final_gdf = gdf + 1
}

func ExampleDefaultRuntime() {
	backend := &stubBackend{
		result: runtime.ExecuteResult{
			Value:    runtime.Value{Type: "int", Data: []byte("42")},
			Duration: 100 * time.Millisecond,
		},
	}

	rt := runtime.NewDefaultRuntime(runtime.RuntimeConfig{
		Backends: map[runtime.SecurityProfile]runtime.Backend{
			runtime.ProfileDev: backend,
		},
		DefaultProfile: runtime.ProfileDev,
	})

	result, err := rt.Execute(context.Background(), runtime.ExecuteRequest{
		Code: "final_gdf = 6 * 7",
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Result: %s %s\n", result.Value.Type, result.Value.Data)
	fmt.Printf("Duration: %v\n", result.Duration)
	// Output:
	// Result: int 42
	// Duration: 100ms
}
