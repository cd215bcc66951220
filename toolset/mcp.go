package toolset

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Register adds every tool to server. MCP tool names are the unqualified
// names; calls are dispatched through Call with the qualified id.
func (t *Toolset) Register(server *mcp.Server) {
	for _, def := range t.handlers.list() {
		tool := def.tool().Tool
		server.AddTool(&tool, t.mcpHandler(ID(def.Name)))
	}
}

func (t *Toolset) mcpHandler(id string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]any{}
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(err), nil
			}
		}

		out, err := t.Call(ctx, id, args)
		if out == nil {
			if err != nil {
				return errorResult(err), nil
			}
			return &mcp.CallToolResult{Content: []mcp.Content{}}, nil
		}
		text, merr := json.Marshal(out)
		if merr != nil {
			return errorResult(merr), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
			IsError: err != nil,
		}, nil
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}
}
