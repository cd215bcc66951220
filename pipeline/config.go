package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonwraymond/geoexec/extract"
	"github.com/jonwraymond/geoexec/prompt"
	"github.com/jonwraymond/geoexec/runtime"
)

// Model answers a task with text. *prompt.Orchestrator implements it.
type Model interface {
	Ask(ctx context.Context, task string, opts ...prompt.AskOption) (prompt.Response, error)
}

// Logger is the interface for logging.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: logging must be best-effort and must not panic.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the configuration for a Pipeline.
type Config struct {
	// Model writes code for a task.
	// Required for Analyze; Run works without it.
	Model Model

	// Runtime executes code.
	// Required.
	Runtime runtime.Runtime

	// Extractor pulls code from responses.
	// Default: python fences, unlimited fragments.
	Extractor *extract.Extractor

	// ResultName is the binding read back after execution.
	// Default: final_gdf
	ResultName string

	// Profile is the security profile for every execution.
	// Default: the runtime's default profile.
	Profile runtime.SecurityProfile

	// Timeout bounds each execution. Zero uses runtime.DefaultTimeout.
	Timeout time.Duration

	// Limits bounds each execution. Zero fields use runtime defaults.
	Limits runtime.Limits

	// Logger is an optional logger.
	Logger Logger
}

// Validate checks that all required fields are set.
// Returns ErrConfiguration if any required field is missing or invalid.
func (c *Config) Validate() error {
	var problems []string

	if c.Runtime == nil {
		problems = append(problems, "Runtime")
	}
	if c.Profile != "" && !c.Profile.IsValid() {
		problems = append(problems, "Profile")
	}
	if c.Timeout < 0 {
		problems = append(problems, "Timeout")
	}
	if err := c.Limits.Validate(); err != nil {
		problems = append(problems, "Limits")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: missing or invalid fields: %s",
			ErrConfiguration, strings.Join(problems, ", "))
	}
	return nil
}

// applyDefaults sets default values for optional fields.
func (c *Config) applyDefaults() {
	if c.Extractor == nil {
		c.Extractor = &extract.Extractor{}
	}
	if c.ResultName == "" {
		c.ResultName = runtime.DefaultResultName
	}
}
