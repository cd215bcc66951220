package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/geoexec/bootstrap"
	"github.com/jonwraymond/geoexec/extract"
	"github.com/jonwraymond/geoexec/prompt"
	"github.com/jonwraymond/geoexec/runtime"
)

// Request is one analysis.
type Request struct {
	// Task is the natural-language request.
	Task string

	// GeoJSON is an optional FeatureCollection.
	GeoJSON []byte

	// Model overrides the configured model for this request.
	Model string
}

// Result is a completed analysis. Fields after Prompt are set only once the
// corresponding stage has run, so a failed Analyze may return a partial Result.
type Result struct {
	ID       string
	Task     string
	Prompt   string
	Code     string
	Value    runtime.Value
	Stdout   string
	Duration time.Duration
	Backend  runtime.BackendInfo
}

// Pipeline runs analyses. It is safe for concurrent use.
type Pipeline struct {
	cfg Config
}

// New creates a Pipeline.
// Returns ErrConfiguration if any required field is missing.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Pipeline{cfg: cfg}, nil
}

// Analyze asks the model for code that performs req.Task and runs it against
// req.GeoJSON. Failures are *Error.
func (p *Pipeline) Analyze(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res := Result{ID: uuid.NewString(), Task: prompt.Normalize(req.Task)}

	if p.cfg.Model == nil {
		return res, p.fail(res, fmt.Errorf("%w: no model configured", ErrConfiguration), KindInternal)
	}
	if res.Task == "" {
		return res, p.fail(res, ErrEmptyTask, "")
	}
	pre, err := bootstrap.Bootstrap(req.GeoJSON)
	if err != nil {
		return res, p.fail(res, err, "")
	}

	opts := []prompt.AskOption{prompt.WithModel(req.Model)}
	if !pre.Empty() {
		opts = append(opts, prompt.WithInput(pre.Frame.Columns))
	}
	resp, err := p.cfg.Model.Ask(ctx, res.Task, opts...)
	if err != nil {
		return res, p.fail(res, err, "")
	}
	res.Prompt = resp.Text

	out := p.cfg.Extractor.Extract(resp.Text)
	if err := out.Err(); err != nil {
		return res, p.fail(res, err, "")
	}
	res.Code = out.Code
	if n := out.Rebinds(p.cfg.ResultName); n > 1 {
		p.logger().Warn("result binding assigned in several fragments; the last one wins",
			"id", res.ID, "result", p.cfg.ResultName, "fragments", n)
	}
	if out.Truncated {
		p.logger().Warn("code fragments dropped", "id", res.ID, "kept", len(out.Fragments))
	}

	res, err = p.execute(ctx, res, pre)
	res.Duration = time.Since(start)
	return res, err
}

// Run executes code against geojson without asking a model.
func (p *Pipeline) Run(ctx context.Context, code string, geojson []byte) (Result, error) {
	start := time.Now()
	res := Result{ID: uuid.NewString(), Code: strings.TrimSpace(code)}
	if res.Code == "" {
		return res, p.fail(res, runtime.ErrMissingCode, KindMalformedInput)
	}

	pre, err := bootstrap.Bootstrap(geojson)
	if err != nil {
		return res, p.fail(res, err, "")
	}
	res, err = p.execute(ctx, res, pre)
	res.Duration = time.Since(start)
	return res, err
}

func (p *Pipeline) execute(ctx context.Context, res Result, pre bootstrap.Preamble) (Result, error) {
	if res.Code == "" {
		return res, p.fail(res, extractMiss(), "")
	}

	out, err := p.cfg.Runtime.Execute(ctx, runtime.ExecuteRequest{
		Code:       res.Code,
		Preamble:   pre.Code,
		Input:      pre.Input,
		Requires:   pre.Requires,
		ResultName: p.cfg.ResultName,
		Profile:    p.cfg.Profile,
		Timeout:    p.cfg.Timeout,
		Limits:     p.cfg.Limits,
		Metadata:   map[string]any{"request": res.ID},
	})
	res.Stdout = out.Stdout
	res.Backend = out.Backend
	if err != nil {
		if errors.Is(err, runtime.ErrMissingCode) {
			err = extractMiss()
		}
		return res, p.fail(res, err, "")
	}
	res.Value = out.Value

	p.logger().Info("analysis complete",
		"id", res.ID,
		"backend", out.Backend.Kind,
		"type", out.Value.Type,
		"duration", out.Duration)
	return res, nil
}

func extractMiss() error {
	return fmt.Errorf("%w: code is empty", extract.ErrNotFound)
}

// fail classifies err, logs it and returns the *Error. kind overrides the
// classification when set.
func (p *Pipeline) fail(res Result, err error, kind Kind) error {
	pe := classify(err)
	if kind != "" && pe.Kind != kind {
		pe = &Error{Kind: kind, Message: pe.Message, Err: err}
	}
	p.logger().Error("analysis failed", "id", res.ID, "kind", pe.Kind, "error", err)
	return pe
}

func (p *Pipeline) logger() Logger {
	if p.cfg.Logger == nil {
		return nopLogger{}
	}
	return p.cfg.Logger
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
