package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/text/unicode/norm"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"
)

// Defaults for Options.
const (
	DefaultModel          = openai.GPT4o
	DefaultAttemptTimeout = 60 * time.Second
	DefaultMaxAttempts    = 3
	DefaultResultName     = "final_gdf"
)

// ChatClient is the part of *openai.Client the orchestrator needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Logger is an optional logger for orchestrator events.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: logging must be best-effort and must not panic.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures an Orchestrator.
type Options struct {
	// Model is the chat model.
	// Default: gpt-4o
	Model string

	// AttemptTimeout bounds each call.
	// Default: 60s
	AttemptTimeout time.Duration

	// MaxAttempts bounds retries of retryable failures.
	// Default: 3
	MaxAttempts int

	// Backoff is the delay before the second attempt; it doubles with jitter.
	// Default: 500ms
	Backoff time.Duration

	// ResultName is the binding the system instruction asks for.
	// Default: final_gdf
	ResultName string

	// Logger is optional.
	Logger Logger
}

// Response is the success half of an Ask.
type Response struct {
	Text         string
	Model        string
	FinishReason string
	Attempts     int
}

// Orchestrator turns a task into model output. It is safe for concurrent use.
type Orchestrator struct {
	client ChatClient
	opts   Options
}

// New returns an Orchestrator that calls client.
func New(client ChatClient, opts Options) *Orchestrator {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.ResultName == "" {
		opts.ResultName = DefaultResultName
	}
	return &Orchestrator{client: client, opts: opts}
}

type askConfig struct {
	model   string
	columns []string
	input   bool
}

// AskOption adjusts one Ask call.
type AskOption func(*askConfig)

// WithModel overrides the model for one call.
func WithModel(model string) AskOption {
	return func(c *askConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithInput tells the model a GeoDataFrame gdf with these columns exists.
func WithInput(columns []string) AskOption {
	return func(c *askConfig) {
		c.input = true
		c.columns = columns
	}
}

// Ask sends task to the model. On failure the error is a *ServiceError.
func (o *Orchestrator) Ask(ctx context.Context, task string, opts ...AskOption) (Response, error) {
	cfg := askConfig{model: o.opts.Model}
	for _, opt := range opts {
		opt(&cfg)
	}

	task = Normalize(task)
	if task == "" {
		return Response{}, &ServiceError{Reason: ReasonBadRequest, Err: fmt.Errorf("task is empty")}
	}

	req := openai.ChatCompletionRequest{
		Model: cfg.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(o.opts.ResultName, cfg.input, cfg.columns)},
			{Role: openai.ChatMessageRoleUser, Content: task},
		},
	}

	backoff := wait.Backoff{
		Duration: o.opts.Backoff,
		Factor:   2,
		Jitter:   0.2,
		Steps:    o.opts.MaxAttempts,
		Cap:      30 * time.Second,
	}

	var (
		resp     Response
		attempts int
		last     *ServiceError
	)
	err := retry.OnError(backoff, func(err error) bool {
		se := classify(err)
		if ctx.Err() != nil || !se.Reason.Retryable() {
			return false
		}
		o.logger().Warn("chat completion failed, retrying",
			"reason", se.Reason, "attempt", attempts, "model", cfg.model)
		return true
	}, func() error {
		attempts++
		r, err := o.attempt(ctx, req)
		if err != nil {
			last = classify(err)
			return last
		}
		resp = r
		return nil
	})
	if err != nil {
		se := classify(err)
		if ctx.Err() != nil {
			se = classify(ctx.Err())
		} else if last != nil {
			se = last
		}
		se.Attempts = attempts
		o.logger().Error("chat completion failed", "reason", se.Reason, "attempts", attempts, "model", cfg.model)
		return Response{}, se
	}
	resp.Attempts = attempts
	o.logger().Info("chat completion", "model", resp.Model, "attempts", attempts, "finish", resp.FinishReason)
	return resp, nil
}

func (o *Orchestrator) attempt(ctx context.Context, req openai.ChatCompletionRequest) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.AttemptTimeout)
	defer cancel()

	out, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return Response{}, &ServiceError{Reason: ReasonEmpty, Err: ErrEmptyResponse}
	}
	model := out.Model
	if model == "" {
		model = req.Model
	}
	return Response{
		Text:         out.Choices[0].Message.Content,
		Model:        model,
		FinishReason: string(out.Choices[0].FinishReason),
	}, nil
}

func (o *Orchestrator) logger() Logger {
	if o.opts.Logger == nil {
		return nopLogger{}
	}
	return o.opts.Logger
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Normalize trims task and converts it to Unicode NFC.
func Normalize(task string) string {
	return norm.NFC.String(strings.TrimSpace(task))
}
