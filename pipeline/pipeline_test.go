package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	openai "github.com/sashabaranov/go-openai"

	"github.com/jonwraymond/geoexec/bootstrap"
	"github.com/jonwraymond/geoexec/prompt"
	"github.com/jonwraymond/geoexec/runtime"
)

const pointCollection = `{"type":"FeatureCollection","features":[
	{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{"name":"origin"}}]}`

const bufferReply = "Here is the code:\n```python\nfinal_gdf = gdf.to_crs(3857).buffer(100).to_crs(4326)\n```"

const squareFrame = `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},"geometry":
	{"type":"Polygon","coordinates":[[[-0.001,-0.001],[0.001,-0.001],[0.001,0.001],[-0.001,0.001],[-0.001,-0.001]]]}}]}`

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		mention string
	}{
		{"missing runtime", Config{}, true, "Runtime"},
		{"bad profile", Config{Runtime: runtimeFor(&mockBackend{}), Profile: "root"}, true, "Profile"},
		{"negative timeout", Config{Runtime: runtimeFor(&mockBackend{}), Timeout: -1}, true, "Timeout"},
		{"negative limits", Config{Runtime: runtimeFor(&mockBackend{}), Limits: runtime.Limits{MemoryBytes: -1}}, true, "Limits"},
		{"valid", Config{Runtime: runtimeFor(&mockBackend{})}, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.mention) {
				t.Errorf("expected error to mention %s, got %q", tt.mention, err.Error())
			}
		})
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	p, err := New(Config{Runtime: runtimeFor(&mockBackend{})})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.cfg.ResultName != runtime.DefaultResultName || p.cfg.Extractor == nil {
		t.Errorf("defaults not applied: %+v", p.cfg)
	}
}

func TestAnalyze_EndToEnd(t *testing.T) {
	backend := &mockBackend{ExecuteFunc: func(_ context.Context, req runtime.ExecuteRequest) (runtime.ExecuteResult, error) {
		return runtime.ExecuteResult{
			Value:   runtime.Value{Type: "GeoSeries", Geo: true, CRS: "EPSG:4326", Data: []byte(squareFrame)},
			Backend: runtime.BackendInfo{Kind: runtime.BackendProcess},
		}, nil
	}}
	var asked string
	var opts int
	model := &mockModel{AskFunc: func(_ context.Context, task string, o ...prompt.AskOption) (prompt.Response, error) {
		asked, opts = task, len(o)
		return prompt.Response{Text: bufferReply}, nil
	}}
	p, err := New(Config{Model: model, Runtime: runtimeFor(backend)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	res, err := p.Analyze(context.Background(), Request{Task: "buffer the point by 100 meters", GeoJSON: []byte(pointCollection)})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if asked != "buffer the point by 100 meters" || opts != 2 {
		t.Errorf("model asked %q with %d options", asked, opts)
	}
	if res.Code != "final_gdf = gdf.to_crs(3857).buffer(100).to_crs(4326)" {
		t.Errorf("Code = %q", res.Code)
	}
	if res.Prompt != bufferReply {
		t.Errorf("Prompt = %q", res.Prompt)
	}

	req := backend.last()
	if !strings.Contains(req.Preamble, "gdf = gpd.GeoDataFrame") || len(req.Input) == 0 {
		t.Error("preamble or input not passed to the runtime")
	}
	if req.ResultName != "final_gdf" {
		t.Errorf("ResultName = %q", req.ResultName)
	}
	if got := strings.Join(req.Requires, ","); got != "geopandas,shapely" {
		t.Errorf("Requires = %q, want geopandas,shapely", got)
	}

	geoms, err := res.Value.Geometries()
	if err != nil {
		t.Fatalf("Geometries() error = %v", err)
	}
	poly, ok := geoms[0].(orb.Polygon)
	if !ok {
		t.Fatalf("geometry = %T, want orb.Polygon", geoms[0])
	}
	if !planar.PolygonContains(poly, orb.Point{0, 0}) {
		t.Error("buffered polygon does not contain the origin")
	}
}

func TestAnalyze_WithOrchestrator(t *testing.T) {
	client := chatFunc(func(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		if !strings.Contains(req.Messages[0].Content, "gdf has the columns: name") {
			t.Errorf("system prompt does not describe the input: %q", req.Messages[0].Content)
		}
		return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: bufferReply},
		}}}, nil
	})
	backend := &mockBackend{ExecuteFunc: func(context.Context, runtime.ExecuteRequest) (runtime.ExecuteResult, error) {
		return runtime.ExecuteResult{Value: runtime.Value{Type: "int", Data: []byte("1")}}, nil
	}}
	p, err := New(Config{Model: prompt.New(client, prompt.Options{}), Runtime: runtimeFor(backend)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := p.Analyze(context.Background(), Request{Task: "count", GeoJSON: []byte(pointCollection)}); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
}

type chatFunc func(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)

func (f chatFunc) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return f(ctx, req)
}

func TestAnalyze_Failures(t *testing.T) {
	tests := []struct {
		name     string
		task     string
		geojson  string
		model    *mockModel
		execute  func(context.Context, runtime.ExecuteRequest) (runtime.ExecuteResult, error)
		want     Kind
		sentinel error
		askCalls int
	}{
		{
			name: "empty task", task: "   ", model: replying(bufferReply),
			want: KindMalformedInput, sentinel: ErrMalformedInput,
		},
		{
			name: "malformed geojson before model call", task: "t", geojson: `{"type":"FeatureCollection"}`,
			model: replying(bufferReply), want: KindMalformedInput, sentinel: ErrMalformedInput,
		},
		{
			name: "service error", task: "t",
			model: &mockModel{AskFunc: func(context.Context, string, ...prompt.AskOption) (prompt.Response, error) {
				return prompt.Response{}, &prompt.ServiceError{Reason: prompt.ReasonAuth, StatusCode: 401}
			}},
			want: KindServiceError, sentinel: ErrServiceFailure, askCalls: 1,
		},
		{
			name: "no code", task: "t", model: replying("I would rather not."),
			want: KindExtractionMiss, sentinel: ErrExtractionMiss, askCalls: 1,
		},
		{
			name: "syntax error", task: "t", model: replying(bufferReply),
			execute: failing(&runtime.ExecError{Kind: runtime.KindSyntax, Exception: "SyntaxError", Message: "invalid syntax", Line: 1}),
			want:    KindCodeSyntaxError, sentinel: ErrCodeSyntax, askCalls: 1,
		},
		{
			name: "runtime error", task: "t", model: replying(bufferReply),
			execute: failing(&runtime.ExecError{Kind: runtime.KindRuntime, Exception: "ZeroDivisionError", Message: "division by zero"}),
			want:    KindCodeRuntimeError, sentinel: ErrCodeRuntime, askCalls: 1,
		},
		{
			name: "result missing", task: "t", model: replying(bufferReply),
			execute: failing(runtime.MissingError("final_gdf")),
			want:    KindResultMissing, sentinel: ErrResultMissing, askCalls: 1,
		},
		{
			name: "limit", task: "t", model: replying(bufferReply),
			execute: failing(runtime.LimitError("timeout", "wall-clock limit of 30s exceeded")),
			want:    KindLimitExceeded, sentinel: ErrLimitExceeded, askCalls: 1,
		},
		{
			name: "sandbox unavailable", task: "t", model: replying(bufferReply),
			execute: failing(runtime.ErrRuntimeUnavailable),
			want:    KindSandboxUnavailable, sentinel: ErrSandboxUnavailable, askCalls: 1,
		},
		{
			name: "canceled", task: "t", model: replying(bufferReply),
			execute: failing(context.Canceled),
			want:    KindCanceled, sentinel: ErrCanceled, askCalls: 1,
		},
		{
			name: "unknown", task: "t", model: replying(bufferReply),
			execute: failing(errors.New("boom")),
			want:    KindInternal, sentinel: ErrInternal, askCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockBackend{ExecuteFunc: tt.execute}
			p, err := New(Config{Model: tt.model, Runtime: runtimeFor(backend)})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			_, err = p.Analyze(context.Background(), Request{Task: tt.task, GeoJSON: []byte(tt.geojson)})
			var pe *Error
			if !errors.As(err, &pe) {
				t.Fatalf("Analyze() error = %v, want *Error", err)
			}
			if pe.Kind != tt.want {
				t.Errorf("Kind = %q, want %q", pe.Kind, tt.want)
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(err, %v) = false", tt.sentinel)
			}
			if tt.model.calls != tt.askCalls {
				t.Errorf("model calls = %d, want %d", tt.model.calls, tt.askCalls)
			}
		})
	}
}

func failing(err error) func(context.Context, runtime.ExecuteRequest) (runtime.ExecuteResult, error) {
	return func(context.Context, runtime.ExecuteRequest) (runtime.ExecuteResult, error) {
		return runtime.ExecuteResult{Stdout: "partial\n"}, err
	}
}

func TestAnalyze_FailureContainment(t *testing.T) {
	calls := 0
	backend := &mockBackend{ExecuteFunc: func(_ context.Context, req runtime.ExecuteRequest) (runtime.ExecuteResult, error) {
		calls++
		if calls == 1 {
			return runtime.ExecuteResult{}, &runtime.ExecError{Kind: runtime.KindRuntime, Exception: "ValueError", Message: "bad"}
		}
		return runtime.ExecuteResult{Value: runtime.Value{Type: "int", Data: []byte("2")}}, nil
	}}
	p, _ := New(Config{Model: replying(bufferReply), Runtime: runtimeFor(backend)})

	if _, err := p.Analyze(context.Background(), Request{Task: "t"}); !errors.Is(err, ErrCodeRuntime) {
		t.Fatalf("first Analyze() error = %v, want code_runtime_error", err)
	}
	res, err := p.Analyze(context.Background(), Request{Task: "t"})
	if err != nil {
		t.Fatalf("second Analyze() error = %v", err)
	}
	if string(res.Value.Data) != "2" {
		t.Errorf("Value = %s", res.Value.Data)
	}
}

func TestAnalyze_WarnsOnShadowedResult(t *testing.T) {
	logger := &mockLogger{}
	reply := "```python\nfinal_gdf = 1\n```\n```python\nfinal_gdf = 2\n```"
	p, _ := New(Config{Model: replying(reply), Runtime: runtimeFor(&mockBackend{}), Logger: logger})

	res, err := p.Analyze(context.Background(), Request{Task: "t"})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if res.Code != "final_gdf = 1\n\nfinal_gdf = 2" {
		t.Errorf("Code = %q", res.Code)
	}
	if len(logger.warnings) != 1 {
		t.Errorf("warnings = %v, want one", logger.warnings)
	}
}

func TestAnalyze_NoModel(t *testing.T) {
	p, _ := New(Config{Runtime: runtimeFor(&mockBackend{})})
	_, err := p.Analyze(context.Background(), Request{Task: "t"})
	if !errors.Is(err, ErrInternal) || !errors.Is(err, ErrConfiguration) {
		t.Errorf("Analyze() error = %v, want internal configuration error", err)
	}
}

func TestRun(t *testing.T) {
	backend := &mockBackend{ExecuteFunc: func(_ context.Context, req runtime.ExecuteRequest) (runtime.ExecuteResult, error) {
		return runtime.ExecuteResult{Value: runtime.Value{Type: "int", Data: []byte("1")}, Stdout: "hi\n"}, nil
	}}
	p, _ := New(Config{Runtime: runtimeFor(backend), ResultName: "answer"})

	res, err := p.Run(context.Background(), "  answer = len(gdf)  ", []byte(pointCollection))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Code != "answer = len(gdf)" || res.Stdout != "hi\n" {
		t.Errorf("Result = %+v", res)
	}
	req := backend.last()
	if req.ResultName != "answer" || req.Preamble == "" {
		t.Errorf("request = %+v", req)
	}

	if _, err := p.Run(context.Background(), " ", nil); !errors.Is(err, ErrMalformedInput) {
		t.Errorf("Run(empty) error = %v, want malformed_input", err)
	}
	if _, err := p.Run(context.Background(), "x = 1", []byte("[]")); !errors.Is(err, ErrMalformedInput) {
		t.Errorf("Run(bad geojson) error = %v, want malformed_input", err)
	}
	if len(backend.requests) != 1 {
		t.Errorf("backend calls = %d, want 1", len(backend.requests))
	}
}

func TestError(t *testing.T) {
	cause := &bootstrap.MalformedInputError{Feature: 2, Reason: "geometry is null"}
	err := classify(cause)
	if got, want := err.Error(), "malformed_input: malformed input: feature 2: geometry is null"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, bootstrap.ErrMalformedInput) {
		t.Error("cause not reachable through Unwrap")
	}
	if classify(nil) != nil {
		t.Error("classify(nil) != nil")
	}
	if classify(err) != err {
		t.Error("classify did not pass an *Error through")
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"first line", "runtime error: boom\nmore detail", "runtime error: boom"},
		{"traceback", "Traceback (most recent call last):\n  File \"x.py\", line 1\nValueError: x", ""},
		{"leading blank lines", "\n\n  hello  ", "hello"},
		{"path", "cannot open /tmp/geoexec-123/driver.py now", "cannot open <path> now"},
		{"windows path", `failed C:\Users\me\run.py`, "failed <path>"},
		{"collapse spaces", "a    b", "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitize(tt.in); got != tt.want {
				t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	long := strings.Repeat("é", 500)
	if got := []rune(sanitize(long)); len(got) != maxMessageRunes {
		t.Errorf("len = %d, want %d", len(got), maxMessageRunes)
	}
}
