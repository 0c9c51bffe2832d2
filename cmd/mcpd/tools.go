package main

import (
	"context"
	"encoding/json"
	"runtime"
	"time"

	"github.com/mcpdio/mcpd/pkg/mcp"
)

var startedAt = time.Now()

// buildHandler assembles the framework-provided registries into a
// Handler Façade. Operators embedding this engine register their own
// tools/resources/prompts the same way; this "status" tool exists so
// a freshly started server has at least one thing to call.
func buildHandler() *mcp.DefaultHandler {
	tools := mcp.NewToolRegistry()
	_ = tools.Register(mcp.Tool{
		Name:        "status",
		Description: "Report server uptime and basic runtime information.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true},
	}, func(ctx context.Context, arguments json.RawMessage, progress mcp.ProgressSink) (*mcp.CallToolResult, error) {
		info := map[string]interface{}{
			"status":      "healthy",
			"uptime":      time.Since(startedAt).String(),
			"goroutines":  runtime.NumGoroutine(),
			"go_version":  runtime.Version(),
		}
		payload, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return nil, err
		}
		return &mcp.CallToolResult{
			Content:           []mcp.ContentBlock{{Type: "text", Text: string(payload)}},
			StructuredContent: info,
		}, nil
	})

	return &mcp.DefaultHandler{Tools: tools}
}
