package toolset

import (
	"context"
	"sort"
	"sync"

	"github.com/jonwraymond/toolfoundation/model"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// HandlerFunc is the function signature for tool handlers.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// ToolDef defines a local tool with its handler.
type ToolDef struct {
	Name        string
	Title       string
	Description string
	Notes       string
	InputSchema map[string]any
	Annotations *mcp.ToolAnnotations
	Tags        []string
	Handler     HandlerFunc
}

// tool converts the definition into a namespaced model.Tool.
func (d ToolDef) tool() model.Tool {
	return model.Tool{
		Tool: mcp.Tool{
			Name:        d.Name,
			Title:       d.Title,
			Description: d.Description,
			InputSchema: d.InputSchema,
			Annotations: d.Annotations,
		},
		Namespace: Namespace,
		Tags:      model.NormalizeTags(d.Tags),
	}
}

// handlers maps local backend names to tool definitions.
type handlers struct {
	mu   sync.RWMutex
	defs map[string]ToolDef
}

func newHandlers() *handlers {
	return &handlers{defs: make(map[string]ToolDef)}
}

func (h *handlers) register(name string, def ToolDef) {
	if def.Name == "" {
		def.Name = name
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defs[name] = def
}

func (h *handlers) get(name string) (ToolDef, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	def, ok := h.defs[name]
	return def, ok && def.Handler != nil
}

// list returns the definitions sorted by name.
func (h *handlers) list() []ToolDef {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ToolDef, 0, len(h.defs))
	for _, def := range h.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
