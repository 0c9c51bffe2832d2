package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/mcpdio/mcpd/internal/logging"
)

// Engine is the Message Router: it parses JSON-RPC envelopes,
// validates structural invariants, dispatches method names to the
// Handler Façade, formats responses, and enforces the Protocol State
// Machine's phase rules. One Engine is shared by every session and
// both transport adapters for the process's lifetime.
type Engine struct {
	Store      *SessionStore
	Handler    Handler
	ServerInfo ServerInfo

	// MaxMessageBytes bounds an incoming envelope; zero uses the
	// package default.
	MaxMessageBytes int

	Metrics *Metrics

	// Logger receives one entry per dispatched request. Nil falls back
	// to a no-op logger (see Engine.logger).
	Logger *logging.Logger
}

// logger returns e.Logger, or a no-op fallback when unset, so call
// sites never need a nil check.
func (e *Engine) logger() *logging.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.FromContext(context.Background())
}

// requestIDPattern mirrors logging.WithRequestID's own validation;
// client-supplied JSON-RPC ids are untrusted and may contain
// characters WithRequestID would otherwise panic on, so this is
// checked before ever calling it.
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// correlatedContext attaches the session key and, when it is safe to
// do so, the request id to ctx so every logger call downstream of
// Dispatch (including inside user-supplied ToolFunc/ResourceFunc
// bodies) carries the same correlation fields as the dispatch log
// line itself.
func correlatedContext(ctx context.Context, sess *Session, id json.RawMessage) context.Context {
	ctx = logging.WithSessionID(ctx, sess.Key())
	rid := trimJSONString(id)
	if rid != "" && requestIDPattern.MatchString(rid) {
		ctx = logging.WithRequestID(ctx, rid)
	}
	return ctx
}

// trimJSONString strips a request id's surrounding JSON quotes, if
// any, leaving bare numeric ids untouched.
func trimJSONString(raw json.RawMessage) string {
	s := string(raw)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// NewEngine constructs a router over the given session store, handler
// façade, and server identity.
func NewEngine(store *SessionStore, handler Handler, info ServerInfo) *Engine {
	e := &Engine{Store: store, Handler: handler, ServerInfo: info, MaxMessageBytes: maxMessageBytes}
	e.wireListChanged()
	return e
}

// listChangedSource is implemented by the framework-provided
// registries (*ToolRegistry, *ResourceRegistry, *PromptRegistry); any
// user-supplied provider satisfying it is wired the same way.
type listChangedSource interface {
	OnListChanged(func())
}

// wireListChanged hooks each DefaultHandler provider's OnListChanged
// callback to an actual notifications/*/list_changed broadcast over
// the session store, so the capability DefaultHandler.Capabilities
// advertises is backed by real delivery rather than an in-process
// no-op (§5: "republication triggers a list-changed broadcast to all
// Active sessions").
func (e *Engine) wireListChanged() {
	dh, ok := e.Handler.(*DefaultHandler)
	if !ok {
		return
	}
	if src, ok := dh.Tools.(listChangedSource); ok {
		src.OnListChanged(func() { e.broadcastListChanged("notifications/tools/list_changed") })
	}
	if src, ok := dh.Resources.(listChangedSource); ok {
		src.OnListChanged(func() { e.broadcastListChanged("notifications/resources/list_changed") })
	}
	if src, ok := dh.Prompts.(listChangedSource); ok {
		src.OnListChanged(func() { e.broadcastListChanged("notifications/prompts/list_changed") })
	}
}

// broadcastListChanged enqueues a parameterless notification of the
// given method onto every Active session's outbound queue.
func (e *Engine) broadcastListChanged(method string) {
	env, err := json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
	}{"2.0", method})
	if err != nil {
		return
	}
	e.Store.Broadcast(env)
}

func (e *Engine) maxBytes() int {
	if e.MaxMessageBytes > 0 {
		return e.MaxMessageBytes
	}
	return maxMessageBytes
}

// progressSink adapts a session's notification queue into a
// ProgressSink for one in-flight tools/call, keyed by the client's
// progress token (absent tokens silently discard progress).
type progressSink struct {
	sess  *Session
	token json.RawMessage
}

func (p *progressSink) Progress(progress, total float64, message string) {
	if p == nil || len(p.token) == 0 {
		return
	}
	payload, err := json.Marshal(ProgressNotificationParams{
		ProgressToken: p.token,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
	if err != nil {
		return
	}
	env, err := json.Marshal(struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}{"2.0", "notifications/progress", payload})
	if err != nil {
		return
	}
	p.sess.enqueueNotification(env)
}

// Dispatch handles one parsed JSON-RPC envelope against sess and
// returns the encoded response to write, or nil when no response is
// due (notifications, or a cancelled request per §7(G)).
func (e *Engine) Dispatch(ctx context.Context, sess *Session, raw []byte) json.RawMessage {
	if len(raw) > e.maxBytes() {
		return e.errorEnvelope(nil, InvalidRequest, "message exceeds maximum size", nil)
	}

	if looksLikeBatch(raw) {
		return e.errorEnvelope(nil, InvalidRequest, "batching is not supported", nil)
	}
	var req JSONRPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return e.errorEnvelope(nil, ParseError, "invalid JSON", nil)
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return e.errorEnvelope(req.ID, InvalidRequest, "malformed JSON-RPC envelope", nil)
	}
	if req.HasNullID() {
		return e.errorEnvelope(nil, InvalidRequest, "id must not be null", nil)
	}

	notification := req.IsNotification()
	ctx = correlatedContext(ctx, sess, req.ID)

	status := sess.Status()
	if !checkPhase(status, req.Method) && !isKnownCatalogueMethod(req.Method) {
		// Unknown method, regardless of phase, is -32601.
		if notification {
			return nil
		}
		return e.errorEnvelope(req.ID, MethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
	if !checkPhase(status, req.Method) {
		if notification {
			return nil
		}
		return e.errorEnvelope(req.ID, InvalidRequest, "method not permitted in current session phase", map[string]interface{}{"reason": "not initialized"})
	}

	start := time.Now()
	result, errDetail := e.dispatchMethod(ctx, sess, req)
	outcome := "ok"
	if errDetail != nil {
		outcome = "error"
	} else if notification {
		outcome = "notification"
	}
	e.Metrics.RecordRequest(req.Method, outcome, time.Since(start).Seconds())

	if errDetail != nil {
		e.logger().Warn(ctx, "dispatch error",
			zap.String("method", req.Method),
			zap.Int("code", errDetail.Code),
			zap.String("message", errDetail.Message),
		)
	} else {
		e.logger().Debug(ctx, "dispatch ok",
			zap.String("method", req.Method),
			zap.Duration("duration", time.Since(start)),
		)
	}

	if notification {
		return nil
	}
	if errDetail != nil {
		return e.marshalError(req.ID, errDetail)
	}
	if result == nil {
		// A cancelled request observed before completion: §7(G) permits
		// omitting the response entirely.
		return nil
	}
	return e.marshalResult(req.ID, result)
}

// isKnownCatalogueMethod reports whether method is anywhere in the
// Active-state dispatch table, independent of the session's current
// phase — used to distinguish "unknown method" (-32601) from "known
// method, wrong phase" (-32600).
func isKnownCatalogueMethod(method string) bool {
	switch method {
	case "initialize", "ping", "tools/list", "tools/call",
		"resources/list", "resources/read",
		"prompts/list", "prompts/get",
		"notifications/initialized", "notifications/cancelled":
		return true
	default:
		return false
	}
}

func looksLikeBatch(raw []byte) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

// dispatchMethod runs the Active-state dispatch table. It returns a
// result value to marshal, or an ErrorDetail. Both nil signals a
// request whose response should be omitted (cancellation).
func (e *Engine) dispatchMethod(ctx context.Context, sess *Session, req JSONRPCRequest) (interface{}, *ErrorDetail) {
	switch req.Method {
	case "initialize":
		return e.handleInitialize(sess, req)
	case "ping":
		return struct{}{}, nil
	case "notifications/initialized":
		applyInitializedNotification(sess)
		return nil, nil
	case "notifications/cancelled":
		e.handleCancelled(sess, req)
		return nil, nil
	case "tools/list":
		return e.handleToolsList(ctx, req)
	case "tools/call":
		return e.handleToolsCall(ctx, sess, req)
	case "resources/list":
		return e.handleResourcesList(ctx, req)
	case "resources/read":
		return e.handleResourcesRead(ctx, req)
	case "prompts/list":
		return e.handlePromptsList(ctx, req)
	case "prompts/get":
		return e.handlePromptsGet(ctx, req)
	default:
		return nil, &ErrorDetail{Code: MethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

func (e *Engine) handleInitialize(sess *Session, req JSONRPCRequest) (interface{}, *ErrorDetail) {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &ErrorDetail{Code: InvalidParams, Message: "invalid initialize params", Data: map[string]string{"field": "params"}}
		}
	}

	version := negotiateVersion(params.ProtocolVersion)
	applyInitialize(sess, version, params.ClientInfo, params.Capabilities)

	caps := ServerCapabilities{}
	if e.Handler != nil {
		caps = e.Handler.Capabilities()
	}

	return InitializeResult{
		ProtocolVersion: string(version),
		Capabilities:    caps,
		ServerInfo:      e.ServerInfo,
	}, nil
}

func (e *Engine) handleCancelled(sess *Session, req JSONRPCRequest) {
	var params struct {
		RequestID json.RawMessage `json:"requestId"`
	}
	if len(req.Params) == 0 {
		return
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return
	}
	sess.cancel(string(params.RequestID))
}

func (e *Engine) handleToolsList(ctx context.Context, req JSONRPCRequest) (interface{}, *ErrorDetail) {
	cursor, errDetail := decodeListParams(req.Params)
	if errDetail != nil {
		return nil, errDetail
	}
	tools, next, err := e.Handler.ListTools(ctx, cursor)
	if err != nil {
		return nil, internalError(err)
	}
	if tools == nil {
		tools = []Tool{}
	}
	return struct {
		Tools      []Tool `json:"tools"`
		NextCursor string `json:"nextCursor,omitempty"`
	}{tools, next}, nil
}

func (e *Engine) handleToolsCall(ctx context.Context, sess *Session, req JSONRPCRequest) (interface{}, *ErrorDetail) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
		Meta      *RequestMeta    `json:"_meta,omitempty"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, &ErrorDetail{Code: InvalidParams, Message: "invalid tools/call params", Data: map[string]string{"field": "params"}}
	}

	if registry, ok := e.Handler.(interface {
		ValidateArguments(name string, arguments json.RawMessage) (string, error)
	}); ok {
		if field, err := registry.ValidateArguments(params.Name, params.Arguments); err != nil {
			if field == "" {
				field = "arguments"
			}
			return nil, &ErrorDetail{Code: InvalidParams, Message: err.Error(), Data: map[string]string{"field": field}}
		}
	}

	var token json.RawMessage
	if params.Meta != nil {
		token = params.Meta.ProgressToken
	}
	sink := &progressSink{sess: sess, token: token}

	cancelCtx, cancel := context.WithCancel(ctx)
	idKey := string(req.ID)
	sess.registerCancel(idKey, cancel)
	defer sess.clearCancel(idKey)

	result, panicked, err := e.callToolSafely(cancelCtx, params.Name, params.Arguments, sink)
	if panicked {
		return nil, internalError(err)
	}
	if cancelCtx.Err() != nil && err != nil {
		// Cooperative cancellation observed: §7(G) permits omitting the
		// response entirely.
		return nil, nil
	}
	if err != nil {
		return &CallToolResult{
			IsError: true,
			Content: []ContentBlock{{Type: "text", Text: err.Error()}},
		}, nil
	}
	if result == nil {
		result = &CallToolResult{}
	}
	return result, nil
}

// callToolSafely converts a handler panic into an internal error
// instead of letting it cross into the transport adapter, per §7's
// propagation policy.
func (e *Engine) callToolSafely(ctx context.Context, name string, arguments json.RawMessage, sink ProgressSink) (result *CallToolResult, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %q panicked: %v", name, r)
			panicked = true
		}
	}()
	result, err = e.Handler.CallTool(ctx, name, arguments, sink)
	return result, false, err
}

func (e *Engine) handleResourcesList(ctx context.Context, req JSONRPCRequest) (interface{}, *ErrorDetail) {
	cursor, errDetail := decodeListParams(req.Params)
	if errDetail != nil {
		return nil, errDetail
	}
	resources, next, err := e.Handler.ListResources(ctx, cursor)
	if err != nil {
		return nil, internalError(err)
	}
	if resources == nil {
		resources = []Resource{}
	}
	return struct {
		Resources  []Resource `json:"resources"`
		NextCursor string     `json:"nextCursor,omitempty"`
	}{resources, next}, nil
}

func (e *Engine) handleResourcesRead(ctx context.Context, req JSONRPCRequest) (interface{}, *ErrorDetail) {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return nil, &ErrorDetail{Code: InvalidParams, Message: "missing resource uri", Data: map[string]string{"field": "uri"}}
	}
	contents, err := e.Handler.ReadResource(ctx, params.URI)
	if err != nil {
		return nil, internalError(err)
	}
	return struct {
		Contents []ResourceContents `json:"contents"`
	}{[]ResourceContents{*contents}}, nil
}

func (e *Engine) handlePromptsList(ctx context.Context, req JSONRPCRequest) (interface{}, *ErrorDetail) {
	cursor, errDetail := decodeListParams(req.Params)
	if errDetail != nil {
		return nil, errDetail
	}
	prompts, next, err := e.Handler.ListPrompts(ctx, cursor)
	if err != nil {
		return nil, internalError(err)
	}
	if prompts == nil {
		prompts = []Prompt{}
	}
	return struct {
		Prompts    []Prompt `json:"prompts"`
		NextCursor string   `json:"nextCursor,omitempty"`
	}{prompts, next}, nil
}

func (e *Engine) handlePromptsGet(ctx context.Context, req JSONRPCRequest) (interface{}, *ErrorDetail) {
	var params struct {
		Name      string            `json:"name"`
		Arguments map[string]string `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return nil, &ErrorDetail{Code: InvalidParams, Message: "missing prompt name", Data: map[string]string{"field": "name"}}
	}
	messages, err := e.Handler.GetPrompt(ctx, params.Name, params.Arguments)
	if err != nil {
		return nil, internalError(err)
	}
	return struct {
		Messages []PromptMessage `json:"messages"`
	}{messages}, nil
}

func decodeListParams(raw json.RawMessage) (cursor string, errDetail *ErrorDetail) {
	if len(raw) == 0 {
		return "", nil
	}
	var params struct {
		Cursor string `json:"cursor"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return "", &ErrorDetail{Code: InvalidParams, Message: "invalid cursor", Data: map[string]string{"field": "cursor"}}
	}
	return params.Cursor, nil
}

func internalError(err error) *ErrorDetail {
	return &ErrorDetail{Code: InternalError, Message: err.Error()}
}

func (e *Engine) marshalResult(id json.RawMessage, result interface{}) json.RawMessage {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
	out, err := json.Marshal(resp)
	if err != nil {
		return e.errorEnvelope(id, InternalError, "failed to encode response", nil)
	}
	return out
}

func (e *Engine) marshalError(id json.RawMessage, detail *ErrorDetail) json.RawMessage {
	return e.errorEnvelope(id, detail.Code, detail.Message, detail.Data)
}

func (e *Engine) errorEnvelope(id json.RawMessage, code int, message string, data interface{}) json.RawMessage {
	if id == nil {
		id = json.RawMessage("null")
	}
	resp := JSONRPCErrorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorDetail{Code: code, Message: message, Data: data},
	}
	out, _ := json.Marshal(resp)
	return out
}
