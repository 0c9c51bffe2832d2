package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	sessionHeader    = "Mcp-Session-Id"
	versionHeader    = "MCP-Protocol-Version"
	sessionCookie    = "mcpd_session"
	maxRequestBodyKB = 2048
)

// HTTPAdapter implements §4.1's Transport Detector and §4.6's HTTP
// Adapter over a single `/mcp` path: CORS preflight, transport
// discovery, unary and streaming JSON-RPC dispatch, and session
// termination.
type HTTPAdapter struct {
	Engine    *Engine
	Socket    *SocketAdapter
	Transport string // "http", passed to Metrics.RecordSessionEvent
}

// NewHTTPAdapter constructs the HTTP Adapter over engine. socket may
// be nil, in which case Upgrade requests (§4.1 rule 2) are rejected
// with 501 rather than serving the Socket Adapter.
func NewHTTPAdapter(engine *Engine, socket *SocketAdapter) *HTTPAdapter {
	return &HTTPAdapter{Engine: engine, Socket: socket, Transport: "http"}
}

// Register wires the adapter's OPTIONS, GET, POST and DELETE handlers
// onto e at path. Access-Control-Allow-Origin is set on preflight,
// discovery, and dispatch responses that pass the content-type, size,
// session and protocol-version checks; DELETE responses and the error
// responses of those checks carry no CORS headers.
func (a *HTTPAdapter) Register(e *echo.Echo, path string) {
	e.OPTIONS(path, a.handlePreflight)
	e.GET(path, a.handleDiscover)
	e.POST(path, a.handleDispatch)
	e.DELETE(path, a.handleTerminate)
}

func (a *HTTPAdapter) handlePreflight(c echo.Context) error {
	h := c.Response().Header()
	h.Set("Access-Control-Allow-Origin", originOf(c))
	h.Set("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, "+versionHeader+", "+sessionHeader)
	h.Set("Access-Control-Max-Age", "600")
	return c.NoContent(http.StatusNoContent)
}

func (a *HTTPAdapter) handleDiscover(c echo.Context) error {
	if isUpgradeRequest(c.Request()) {
		if a.Socket == nil {
			return c.NoContent(http.StatusNotImplemented)
		}
		a.Socket.ServeUpgrade(c.Response(), c.Request())
		return nil
	}

	c.Response().Header().Set("Access-Control-Allow-Origin", originOf(c))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"transports":      []string{"http", "websocket"},
		"protocolVersions": SupportedProtocolVersions,
		"server":          a.Engine.ServerInfo,
	})
}

func (a *HTTPAdapter) handleTerminate(c echo.Context) error {
	key := sessionKeyFromRequest(c)
	if key == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing session identifier"})
	}
	if _, ok := a.Engine.Store.Get(key); !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	a.Engine.Store.Remove(key)
	if a.Engine.Metrics != nil {
		a.Engine.Metrics.RecordSessionEvent(a.Transport, "terminated")
	}
	return c.NoContent(http.StatusOK)
}

func (a *HTTPAdapter) handleDispatch(c echo.Context) error {
	req := c.Request()
	if !strings.HasPrefix(req.Header.Get("Content-Type"), "application/json") {
		return c.JSON(http.StatusUnsupportedMediaType, map[string]string{"error": "expected application/json"})
	}

	body, err := readLimited(req, maxRequestBodyKB*1024)
	if err != nil {
		return writeJSONRPCErrorHTTP(c, nil, InvalidRequest, "request body exceeds the maximum message size")
	}

	key := sessionKeyFromRequest(c)
	sess, mintedNew, err := a.resolveSession(key, body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if mintedNew && a.Engine.Metrics != nil {
		a.Engine.Metrics.RecordSessionEvent(a.Transport, "created")
	}

	if sess.ProtocolVersion() == ProtocolVersion20250618 && sess.Status() == Active {
		if req.Header.Get(versionHeader) != string(sess.ProtocolVersion()) {
			return writeJSONRPCErrorHTTP(c, nil, InvalidRequest, "missing or mismatched "+versionHeader+" header")
		}
	}

	a.Engine.Store.Touch(sess.Key(), time.Now())
	c.Response().Header().Set(sessionHeader, sess.Key())
	c.Response().Header().Set("Access-Control-Allow-Origin", originOf(c))

	progressRequested := requestCarriesProgressToken(body)

	if progressRequested || len(sess.Notifications()) > 0 {
		return a.streamResponse(c, sess, body)
	}
	return a.unaryResponse(c, sess, body)
}

func (a *HTTPAdapter) unaryResponse(c echo.Context, sess *Session, body []byte) error {
	resp := a.Engine.Dispatch(c.Request().Context(), sess, body)
	if resp == nil {
		return c.NoContent(http.StatusAccepted)
	}
	return c.JSONBlob(http.StatusOK, resp)
}

// streamResponse emits server-sent-event-style frames: any queued
// notifications first, then the final response frame, per §4.6 and
// §5's ordering guarantee (progress before the final response).
func (a *HTTPAdapter) streamResponse(c echo.Context, sess *Session, body []byte) error {
	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.Writer.(http.Flusher)

	done := make(chan json.RawMessage, 1)
	go func() {
		done <- a.Engine.Dispatch(c.Request().Context(), sess, body)
	}()

	for {
		select {
		case frame := <-sess.Notifications():
			writeSSEFrame(w, frame)
			if canFlush {
				flusher.Flush()
			}
		case resp := <-done:
			// Drain any notifications queued in the same instant before
			// the final frame, preserving progress-before-response order.
			drained := true
			for drained {
				select {
				case frame := <-sess.Notifications():
					writeSSEFrame(w, frame)
				default:
					drained = false
				}
			}
			if resp != nil {
				writeSSEFrame(w, resp)
			}
			if canFlush {
				flusher.Flush()
			}
			return nil
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func writeSSEFrame(w *echo.Response, payload json.RawMessage) {
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

// resolveSession implements §4.6 step 1: an absent session key is
// only acceptable when the envelope's method is "initialize", in
// which case the store mints a fresh key.
func (a *HTTPAdapter) resolveSession(key string, body []byte) (sess *Session, minted bool, err error) {
	if key != "" {
		sess, ok := a.Engine.Store.Get(key)
		if !ok {
			return nil, false, ErrSessionNotFound
		}
		return sess, false, nil
	}

	var probe struct {
		Method string `json:"method"`
	}
	if jsonErr := json.Unmarshal(body, &probe); jsonErr != nil || probe.Method != "initialize" {
		return nil, false, ErrNotInitialized
	}
	sess, err = a.Engine.Store.GetOrCreate("", time.Now())
	return sess, true, err
}

func sessionKeyFromRequest(c echo.Context) string {
	if h := c.Request().Header.Get(sessionHeader); h != "" {
		return h
	}
	if ck, err := c.Cookie(sessionCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	return c.QueryParam("session_id")
}

func requestCarriesProgressToken(body []byte) bool {
	var probe struct {
		Params struct {
			Meta struct {
				ProgressToken json.RawMessage `json:"progressToken"`
			} `json:"_meta"`
		} `json:"params"`
	}
	if json.Unmarshal(body, &probe) != nil {
		return false
	}
	return len(probe.Params.Meta.ProgressToken) > 0
}

// isUpgradeRequest implements §4.1 rule 2: Upgrade: websocket and a
// Connection header mentioning "upgrade", both checked
// case-insensitively per RFC 7230's header-value folding.
func isUpgradeRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func originOf(c echo.Context) string {
	if origin := c.Request().Header.Get("Origin"); origin != "" {
		return origin
	}
	return "*"
}

// readLimited reads at most limit+1 bytes from req.Body and fails once
// that extra byte is actually present, implementing §4.4's "oversize
// payloads fail ... body not parsed" rule at the transport boundary. A
// body of exactly limit bytes is accepted; limit+1 is rejected without
// ever holding more than limit+1 bytes in memory.
func readLimited(req *http.Request, limit int64) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > limit {
		return nil, fmt.Errorf("mcp: body exceeds limit")
	}
	return buf, nil
}

func writeJSONRPCErrorHTTP(c echo.Context, id json.RawMessage, code int, message string) error {
	if id == nil {
		id = json.RawMessage("null")
	}
	return c.JSON(http.StatusOK, JSONRPCErrorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorDetail{Code: code, Message: message},
	})
}
