package mcp

import (
	"context"
	"encoding/json"
)

// ProgressSink is how a tool call reports interim progress. Sends are
// non-blocking from the handler's perspective; the adapter owns
// backpressure (§5: progress notifications MUST be delivered before
// the final response frame on that request).
type ProgressSink interface {
	Progress(progress, total float64, message string)
}

// Handler is the narrow polymorphic boundary the router dispatches
// into. User code may implement it directly, or construct a
// DefaultHandler composing ToolProvider/ResourceProvider/PromptProvider.
//
// Implementations are expected to be internally thread-safe; the
// router issues concurrent calls and synchronizes nothing for it.
type Handler interface {
	ListTools(ctx context.Context, cursor string) (tools []Tool, nextCursor string, err error)
	CallTool(ctx context.Context, name string, arguments json.RawMessage, progress ProgressSink) (*CallToolResult, error)

	ListResources(ctx context.Context, cursor string) (resources []Resource, nextCursor string, err error)
	ReadResource(ctx context.Context, uri string) (*ResourceContents, error)

	ListPrompts(ctx context.Context, cursor string) (prompts []Prompt, nextCursor string, err error)
	GetPrompt(ctx context.Context, name string, arguments map[string]string) ([]PromptMessage, error)

	// Capabilities derives the server capability document from which
	// surfaces above are non-empty.
	Capabilities() ServerCapabilities
}

// ToolProvider is the tools surface consumed by DefaultHandler.
type ToolProvider interface {
	ListTools(ctx context.Context, cursor string) ([]Tool, string, error)
	CallTool(ctx context.Context, name string, arguments json.RawMessage, progress ProgressSink) (*CallToolResult, error)
}

// ResourceProvider is the resources surface consumed by DefaultHandler.
type ResourceProvider interface {
	ListResources(ctx context.Context, cursor string) ([]Resource, string, error)
	ReadResource(ctx context.Context, uri string) (*ResourceContents, error)
}

// PromptProvider is the prompts surface consumed by DefaultHandler.
type PromptProvider interface {
	ListPrompts(ctx context.Context, cursor string) ([]Prompt, string, error)
	GetPrompt(ctx context.Context, name string, arguments map[string]string) ([]PromptMessage, error)
}

// DefaultHandler composes the three provider interfaces into a single
// Handler, the framework-provided adapter generalizing the teacher's
// fixed tool-registry shape to arbitrary user-registered providers.
// Any of the three providers may be nil, in which case that surface is
// reported empty and its capability omitted.
type DefaultHandler struct {
	Tools     ToolProvider
	Resources ResourceProvider
	Prompts   PromptProvider
}

func (h *DefaultHandler) ListTools(ctx context.Context, cursor string) ([]Tool, string, error) {
	if h.Tools == nil {
		return nil, "", nil
	}
	return h.Tools.ListTools(ctx, cursor)
}

func (h *DefaultHandler) CallTool(ctx context.Context, name string, arguments json.RawMessage, progress ProgressSink) (*CallToolResult, error) {
	if h.Tools == nil {
		return nil, ErrUnknownTool
	}
	return h.Tools.CallTool(ctx, name, arguments, progress)
}

func (h *DefaultHandler) ListResources(ctx context.Context, cursor string) ([]Resource, string, error) {
	if h.Resources == nil {
		return nil, "", nil
	}
	return h.Resources.ListResources(ctx, cursor)
}

func (h *DefaultHandler) ReadResource(ctx context.Context, uri string) (*ResourceContents, error) {
	if h.Resources == nil {
		return nil, ErrUnknownResource
	}
	return h.Resources.ReadResource(ctx, uri)
}

func (h *DefaultHandler) ListPrompts(ctx context.Context, cursor string) ([]Prompt, string, error) {
	if h.Prompts == nil {
		return nil, "", nil
	}
	return h.Prompts.ListPrompts(ctx, cursor)
}

func (h *DefaultHandler) GetPrompt(ctx context.Context, name string, arguments map[string]string) ([]PromptMessage, error) {
	if h.Prompts == nil {
		return nil, ErrUnknownPrompt
	}
	return h.Prompts.GetPrompt(ctx, name, arguments)
}

// ValidateArguments forwards to Tools when it exposes schema
// validation (as *ToolRegistry does), letting the router enforce
// §4.4's "reject before handler" rule without depending on the
// concrete registry type.
func (h *DefaultHandler) ValidateArguments(name string, arguments json.RawMessage) (string, error) {
	validator, ok := h.Tools.(interface {
		ValidateArguments(name string, arguments json.RawMessage) (string, error)
	})
	if !ok {
		return "", nil
	}
	return validator.ValidateArguments(name, arguments)
}

func (h *DefaultHandler) Capabilities() ServerCapabilities {
	var caps ServerCapabilities
	if h.Tools != nil {
		caps.Tools = &ListChangedCapability{ListChanged: supportsListChanged(h.Tools)}
	}
	if h.Resources != nil {
		caps.Resources = &ResourcesCapability{ListChanged: supportsListChanged(h.Resources)}
	}
	if h.Prompts != nil {
		caps.Prompts = &ListChangedCapability{ListChanged: supportsListChanged(h.Prompts)}
	}
	return caps
}

// supportsListChanged reports whether v is one of the framework
// registries (or any provider) wired for list-changed broadcasts via
// Engine.wireListChanged, so the advertised capability never promises
// notifications the engine can't actually deliver.
func supportsListChanged(v interface{}) bool {
	_, ok := v.(interface{ OnListChanged(func()) })
	return ok
}
