package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// ToolFunc is the user-supplied body of a registered tool.
type ToolFunc func(ctx context.Context, arguments json.RawMessage, progress ProgressSink) (*CallToolResult, error)

type registeredTool struct {
	def    Tool
	schema *compiledSchema
	fn     ToolFunc
}

// ToolRegistry is the framework-provided ToolProvider: an ordered,
// named collection of tools whose input schema is validated before
// the handler body ever runs, generalizing the teacher's fixed
// discovery.go tool list to arbitrary user registrations.
type ToolRegistry struct {
	mu      sync.RWMutex
	order   []string
	tools   map[string]*registeredTool
	onListChanged func()
}

// NewToolRegistry constructs an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*registeredTool)}
}

// OnListChanged installs a callback fired after Register/Unregister,
// the hook the façade uses to emit notifications/tools/list_changed.
func (r *ToolRegistry) OnListChanged(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onListChanged = fn
}

// Register adds or replaces a tool definition and its schema. The
// schema is compiled once at registration time; a malformed schema is
// rejected here rather than at call time.
func (r *ToolRegistry) Register(def Tool, fn ToolFunc) error {
	compiled, err := compileSchema(def.InputSchema)
	if err != nil {
		return fmt.Errorf("mcp: tool %q schema: %w", def.Name, err)
	}

	r.mu.Lock()
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = &registeredTool{def: def, schema: compiled, fn: fn}
	cb := r.onListChanged
	r.mu.Unlock()

	if cb != nil {
		cb()
	}
	return nil
}

// Unregister removes a tool by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	_, existed := r.tools[name]
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	cb := r.onListChanged
	r.mu.Unlock()
	if existed && cb != nil {
		cb()
	}
}

func (r *ToolRegistry) ListTools(ctx context.Context, cursor string) ([]Tool, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	end := start + defaultPageSize
	if end > len(r.order) {
		end = len(r.order)
	}
	if start > len(r.order) {
		start = len(r.order)
	}

	out := make([]Tool, 0, end-start)
	for _, name := range r.order[start:end] {
		out = append(out, r.tools[name].def)
	}

	next := ""
	if end < len(r.order) {
		next = encodeCursor(end)
	}
	return out, next, nil
}

// ValidateArguments checks arguments against the tool's compiled
// input schema, returning the violating field name on failure so the
// router can populate error.data.field per §4.4.
func (r *ToolRegistry) ValidateArguments(name string, arguments json.RawMessage) (field string, err error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", ErrUnknownTool
	}
	return validateAgainstSchema(t.schema, arguments)
}

func (r *ToolRegistry) CallTool(ctx context.Context, name string, arguments json.RawMessage, progress ProgressSink) (*CallToolResult, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownTool
	}
	return t.fn(ctx, arguments, progress)
}

// --- Resources ---

// ResourceFunc produces the contents of a registered resource on
// demand.
type ResourceFunc func(ctx context.Context, uri string) (*ResourceContents, error)

type registeredResource struct {
	def Resource
	fn  ResourceFunc
}

// ResourceRegistry is the framework-provided ResourceProvider.
type ResourceRegistry struct {
	mu            sync.RWMutex
	order         []string
	items         map[string]*registeredResource
	onListChanged func()
}

func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{items: make(map[string]*registeredResource)}
}

// OnListChanged installs the callback the engine uses to broadcast
// notifications/resources/list_changed to every Active session.
func (r *ResourceRegistry) OnListChanged(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onListChanged = fn
}

func (r *ResourceRegistry) Register(def Resource, fn ResourceFunc) {
	r.mu.Lock()
	if _, exists := r.items[def.URI]; !exists {
		r.order = append(r.order, def.URI)
	}
	r.items[def.URI] = &registeredResource{def: def, fn: fn}
	cb := r.onListChanged
	r.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Unregister removes a resource by URI.
func (r *ResourceRegistry) Unregister(uri string) {
	r.mu.Lock()
	_, existed := r.items[uri]
	delete(r.items, uri)
	for i, u := range r.order {
		if u == uri {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	cb := r.onListChanged
	r.mu.Unlock()
	if existed && cb != nil {
		cb()
	}
}

func (r *ResourceRegistry) ListResources(ctx context.Context, cursor string) ([]Resource, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	end := start + defaultPageSize
	if end > len(r.order) {
		end = len(r.order)
	}
	if start > len(r.order) {
		start = len(r.order)
	}

	out := make([]Resource, 0, end-start)
	for _, uri := range r.order[start:end] {
		out = append(out, r.items[uri].def)
	}
	next := ""
	if end < len(r.order) {
		next = encodeCursor(end)
	}
	return out, next, nil
}

func (r *ResourceRegistry) ReadResource(ctx context.Context, uri string) (*ResourceContents, error) {
	r.mu.RLock()
	item, ok := r.items[uri]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownResource
	}
	return item.fn(ctx, uri)
}

// --- Prompts ---

// PromptFunc renders a registered prompt's messages from arguments.
type PromptFunc func(ctx context.Context, arguments map[string]string) ([]PromptMessage, error)

type registeredPrompt struct {
	def Prompt
	fn  PromptFunc
}

// PromptRegistry is the framework-provided PromptProvider.
type PromptRegistry struct {
	mu            sync.RWMutex
	order         []string
	items         map[string]*registeredPrompt
	onListChanged func()
}

func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{items: make(map[string]*registeredPrompt)}
}

// OnListChanged installs the callback the engine uses to broadcast
// notifications/prompts/list_changed to every Active session.
func (r *PromptRegistry) OnListChanged(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onListChanged = fn
}

func (r *PromptRegistry) Register(def Prompt, fn PromptFunc) {
	r.mu.Lock()
	if _, exists := r.items[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.items[def.Name] = &registeredPrompt{def: def, fn: fn}
	cb := r.onListChanged
	r.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Unregister removes a prompt by name.
func (r *PromptRegistry) Unregister(name string) {
	r.mu.Lock()
	_, existed := r.items[name]
	delete(r.items, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	cb := r.onListChanged
	r.mu.Unlock()
	if existed && cb != nil {
		cb()
	}
}

func (r *PromptRegistry) ListPrompts(ctx context.Context, cursor string) ([]Prompt, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	end := start + defaultPageSize
	if end > len(r.order) {
		end = len(r.order)
	}
	if start > len(r.order) {
		start = len(r.order)
	}

	out := make([]Prompt, 0, end-start)
	for _, name := range r.order[start:end] {
		out = append(out, r.items[name].def)
	}
	next := ""
	if end < len(r.order) {
		next = encodeCursor(end)
	}
	return out, next, nil
}

// GetPrompt renders the named prompt's messages. When fn is nil (no
// custom renderer registered), falls back to the minimal {{name}}-style
// template substitution over the prompt's description — the supplemented
// feature named in SPEC_FULL §6.
func (r *PromptRegistry) GetPrompt(ctx context.Context, name string, arguments map[string]string) ([]PromptMessage, error) {
	r.mu.RLock()
	item, ok := r.items[name]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownPrompt
	}
	if item.fn != nil {
		return item.fn(ctx, arguments)
	}
	return []PromptMessage{{
		Role: "user",
		Content: ContentBlock{
			Type: "text",
			Text: renderTemplate(item.def.Description, arguments),
		},
	}}, nil
}

// --- pagination ---

const defaultPageSize = 50

// encodeCursor/decodeCursor implement the minimal viable "stable
// ordering" cursor: an opaque offset into the registry's fixed
// registration order. Register appends, but Unregister removes an entry
// and shifts every later offset down by one, so a cursor issued before
// an Unregister can skip an entry; the router defines no cross-call
// consistency beyond that, per §4.4.
func encodeCursor(offset int) string {
	return strconv.Itoa(offset)
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("mcp: invalid cursor %q", cursor)
	}
	return n, nil
}
