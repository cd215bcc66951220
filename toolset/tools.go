package toolset

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/geoexec/pipeline"
)

var (
	json     = jsoniter.ConfigCompatibleWithStandardLibrary
	validate = validator.New()
)

var geojsonSchema = map[string]any{
	"description": "Optional GeoJSON FeatureCollection, as an object or a JSON string",
	"type":        []any{"object", "string", "null"},
}

type analyzeArgs struct {
	Task    string              `json:"task" validate:"required"`
	GeoJSON jsoniter.RawMessage `json:"geojson"`
	Model   string              `json:"model"`
}

type extractArgs struct {
	Text string `json:"text" validate:"required"`
}

type runArgs struct {
	Code    string              `json:"code" validate:"required"`
	GeoJSON jsoniter.RawMessage `json:"geojson"`
}

// ExtractReport is the result of geo:extract_code.
type ExtractReport struct {
	Found      bool   `json:"found"`
	PythonCode string `json:"python_code"`
	Fragments  int    `json:"fragments"`
	Truncated  bool   `json:"truncated,omitempty"`
}

func (t *Toolset) definitions() []ToolDef {
	return []ToolDef{
		{
			Name:        ToolAnalyze,
			Title:       "Analyze geospatial data",
			Description: "Write and run Python geospatial analysis code for a natural-language task",
			Notes: "The model writes geopandas code, which runs in a sandbox against the optional collection. " +
				"The result is the GeoJSON or JSON value bound to final_gdf.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"task":    map[string]any{"type": "string", "description": "What to compute, e.g. buffer the points by 100 meters"},
					"geojson": geojsonSchema,
					"model":   map[string]any{"type": "string", "description": "Chat model override"},
				},
				"required": []any{"task"},
			},
			Annotations: &mcp.ToolAnnotations{OpenWorldHint: boolPtr(true)},
			Tags:        []string{"geospatial", "analysis", "llm", "python"},
			Handler:     t.analyze,
		},
		{
			Name:        ToolExtractCode,
			Title:       "Extract Python code",
			Description: "Extract fenced python code blocks from a model response",
			Notes:       "Fragments are joined with a blank line in the order they appear.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string", "description": "Model response text"},
				},
				"required": []any{"text"},
			},
			Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true},
			Tags:        []string{"code", "extract", "markdown"},
			Handler:     t.extractCode,
		},
		{
			Name:        ToolRunCode,
			Title:       "Run geospatial code",
			Description: "Run Python geospatial code in the sandbox without asking a model",
			Notes:       "gdf, geometries, properties and geojson_data are bound when a collection is supplied.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code":    map[string]any{"type": "string", "description": "Python source that binds final_gdf"},
					"geojson": geojsonSchema,
				},
				"required": []any{"code"},
			},
			Annotations: &mcp.ToolAnnotations{OpenWorldHint: boolPtr(false)},
			Tags:        []string{"geospatial", "python", "sandbox"},
			Handler:     t.runCode,
		},
	}
}

func (t *Toolset) analyze(ctx context.Context, args map[string]any) (any, error) {
	var in analyzeArgs
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	geojson, err := Collection(in.GeoJSON)
	if err != nil {
		return nil, err
	}
	res, err := t.opts.Pipeline.Analyze(ctx, pipeline.Request{Task: in.Task, GeoJSON: geojson, Model: in.Model})
	return NewReport(res, err), err
}

func (t *Toolset) extractCode(_ context.Context, args map[string]any) (any, error) {
	var in extractArgs
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	out := t.opts.Extractor.Extract(in.Text)
	return ExtractReport{
		Found:      out.Found(),
		PythonCode: out.Code,
		Fragments:  len(out.Fragments),
		Truncated:  out.Truncated,
	}, nil
}

func (t *Toolset) runCode(ctx context.Context, args map[string]any) (any, error) {
	var in runArgs
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	geojson, err := Collection(in.GeoJSON)
	if err != nil {
		return nil, err
	}
	res, err := t.opts.Pipeline.Run(ctx, in.Code, geojson)
	return NewReport(res, err), err
}

// decodeArgs converts args into out and checks its validate tags.
func decodeArgs(args map[string]any, out any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}

// Collection accepts a GeoJSON object or a string holding one. Null and empty
// input yield nil.
func Collection(raw []byte) ([]byte, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] != '"' {
		return raw, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: geojson: %v", ErrInvalidArgs, err)
	}
	return []byte(s), nil
}

func boolPtr(b bool) *bool { return &b }
