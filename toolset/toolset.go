package toolset

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/tooldiscovery/index"
	"github.com/jonwraymond/tooldiscovery/search"
	"github.com/jonwraymond/tooldiscovery/tooldoc"
	"github.com/jonwraymond/toolfoundation/model"

	"github.com/jonwraymond/geoexec/extract"
	"github.com/jonwraymond/geoexec/pipeline"
)

// Namespace holds every geoexec tool.
const Namespace = "geo"

// Tool names within Namespace.
const (
	ToolAnalyze     = "analyze"
	ToolExtractCode = "extract_code"
	ToolRunCode     = "run_code"
)

// Errors returned by the toolset.
var (
	ErrPipelineRequired = errors.New("toolset: Pipeline is required")
	ErrToolNotFound     = errors.New("tool not found")
	ErrInvalidArgs      = errors.New("invalid tool arguments")
)

// Pipeline is the subset of *pipeline.Pipeline the tools call.
type Pipeline interface {
	Analyze(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	Run(ctx context.Context, code string, geojson []byte) (pipeline.Result, error)
}

// Logger is the interface for logging.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Toolset.
type Options struct {
	// Pipeline serves geo:analyze and geo:run_code.
	// Required.
	Pipeline Pipeline

	// Extractor serves geo:extract_code.
	// Default: python fences.
	Extractor *extract.Extractor

	// Logger is optional.
	Logger Logger
}

// Toolset is the registry and dispatcher for geoexec tools.
// It is safe for concurrent use.
type Toolset struct {
	index    index.Index
	docs     tooldoc.Store
	handlers *handlers
	opts     Options
}

// ID returns the qualified id of a tool in Namespace.
func ID(name string) string {
	return Namespace + ":" + name
}

// New creates a Toolset with the three geo tools registered and documented.
func New(opts Options) (*Toolset, error) {
	if opts.Pipeline == nil {
		return nil, ErrPipelineRequired
	}
	if opts.Extractor == nil {
		opts.Extractor = &extract.Extractor{}
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}

	idx := index.NewInMemoryIndex(index.IndexOptions{
		Searcher: search.NewBM25Searcher(search.BM25Config{}),
	})
	var docs tooldoc.Store = tooldoc.NewInMemoryStore(tooldoc.StoreOptions{Index: idx})

	t := &Toolset{index: idx, docs: docs, handlers: newHandlers(), opts: opts}
	for _, def := range t.definitions() {
		handlerName := def.Name + "-handler"
		if err := idx.RegisterTool(def.tool(), model.NewLocalBackend(handlerName)); err != nil {
			return nil, fmt.Errorf("register %s: %w", ID(def.Name), err)
		}
		if store, ok := docs.(*tooldoc.InMemoryStore); ok {
			if err := store.RegisterDoc(ID(def.Name), tooldoc.DocEntry{
				Summary: def.Description,
				Notes:   def.Notes,
			}); err != nil {
				return nil, fmt.Errorf("document %s: %w", ID(def.Name), err)
			}
		}
		t.handlers.register(handlerName, def)
	}
	return t, nil
}

// Search finds tools matching a query.
func (t *Toolset) Search(ctx context.Context, query string, limit int) ([]index.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.index.Search(query, limit)
}

// Describe returns documentation for a tool at the given detail level.
func (t *Toolset) Describe(ctx context.Context, id string, level tooldoc.DetailLevel) (tooldoc.ToolDoc, error) {
	if err := ctx.Err(); err != nil {
		return tooldoc.ToolDoc{}, err
	}
	return t.docs.DescribeTool(id, level)
}

// Tools returns every registered tool, sorted by name.
func (t *Toolset) Tools() []model.Tool {
	defs := t.handlers.list()
	out := make([]model.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, def.tool())
	}
	return out
}

// Call resolves id through the index and invokes its handler.
func (t *Toolset) Call(ctx context.Context, id string, args map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, backend, err := t.index.GetTool(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, id)
	}
	if backend.Kind != model.BackendKindLocal || backend.Local == nil {
		return nil, fmt.Errorf("%w: %s has no local handler", ErrToolNotFound, id)
	}
	def, ok := t.handlers.get(backend.Local.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, id)
	}
	if args == nil {
		args = map[string]any{}
	}

	t.opts.Logger.Info("calling tool", "tool", id)
	out, err := def.Handler(ctx, args)
	if err != nil {
		t.opts.Logger.Warn("tool failed", "tool", id, "error", err)
	}
	return out, err
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
