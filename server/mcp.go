package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// toolDescriptions documents the known message types. Other types get a
// generic description.
var toolDescriptions = map[string]string{
	"GET_STATS":      "Return remediation counters and the recent fix log for the page.",
	"TOGGLE_ENABLED": "Invert the persisted enabled flag and reload the page. Returns the new flag.",
	"CLEAR_LOGS":     "Empty the fix log. Counters are kept.",
}

// ToolName maps a message type to its MCP tool name.
func ToolName(msgType string) string {
	return "a11y_" + strings.ToLower(msgType)
}

func (s *Server) registerTools() {
	for _, msgType := range s.router.Types() {
		desc, ok := toolDescriptions[msgType]
		if !ok {
			desc = fmt.Sprintf("Dispatch the %s message.", msgType)
		}
		tool := &mcp.Tool{
			Name:        ToolName(msgType),
			Description: desc,
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		}
		s.mcp.AddTool(tool, s.toolHandler(msgType))
	}
}

// toolHandler forwards the tool arguments as the message payload. Errors
// are reported in the result, not as protocol errors.
func (s *Server) toolHandler(msgType string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var payload json.RawMessage
		if req.Params != nil {
			payload = req.Params.Arguments
		}
		out, err := s.router.Call(ctx, msgType, payload)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(out)}},
		}, nil
	}
}
