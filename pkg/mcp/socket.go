package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mcpdio/mcpd/internal/logging"
)

const (
	socketWriteWait  = 10 * time.Second
	socketPongWait   = 60 * time.Second
	socketPingPeriod = (socketPongWait * 9) / 10
)

var socketUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// SocketAdapter implements §4.7: one full-duplex connection bound to
// one session for its entire lifetime. Unlike the unraid agent's
// broadcast hub this adapter has no fan-out — each socket speaks for
// exactly one session, and server-originated messages are drained
// from that session's own notification queue rather than a shared
// broadcast channel.
type SocketAdapter struct {
	Engine *Engine
}

// NewSocketAdapter constructs the Socket Adapter over engine.
func NewSocketAdapter(engine *Engine) *SocketAdapter {
	return &SocketAdapter{Engine: engine}
}

// ServeUpgrade upgrades the HTTP request to a WebSocket connection and
// runs the connection's read/write pumps until it closes. Call this
// from the Transport Detector's Upgrade branch (§4.1 rule 2).
func (a *SocketAdapter) ServeUpgrade(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("session_id")
	if key != "" && (len(key) > 128 || !requestIDPattern.MatchString(key)) {
		http.Error(w, "invalid session_id", http.StatusBadRequest)
		return
	}

	conn, err := socketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess, err := a.Engine.Store.GetOrCreate(key, time.Now())
	if err != nil {
		conn.Close()
		return
	}
	if a.Engine.Metrics != nil {
		a.Engine.Metrics.RecordSessionEvent("socket", "created")
	}
	sessCtx := logging.WithSessionID(context.Background(), sess.Key())
	a.Engine.logger().Info(sessCtx, "socket connected", zap.String("remote", r.RemoteAddr))

	conn.SetReadLimit(int64(a.Engine.maxBytes()))

	client := &socketClient{adapter: a, sess: sess, conn: conn, done: make(chan struct{}), logCtx: sessCtx}
	go client.writePump()
	client.readPump()
}

type socketClient struct {
	adapter *SocketAdapter
	sess    *Session
	conn    *websocket.Conn
	done    chan struct{}
	logCtx  context.Context
}

func (c *socketClient) readPump() {
	defer c.terminate()

	c.conn.SetReadDeadline(time.Now().Add(socketPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(socketPongWait))
		return nil
	})

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "binary frames not accepted"),
				time.Now().Add(socketWriteWait))
			return
		}

		c.adapter.Engine.Store.Touch(c.sess.Key(), time.Now())
		resp := c.adapter.Engine.Dispatch(context.Background(), c.sess, raw)
		if resp != nil {
			if err := c.writeFrame(resp); err != nil {
				return
			}
		}
	}
}

func (c *socketClient) writePump() {
	ticker := time.NewTicker(socketPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.sess.Notifications():
			if !ok {
				return
			}
			if err := c.writeFrame(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *socketClient) writeFrame(payload json.RawMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// terminate closes the connection and transitions the bound session
// to Terminated, per §4.3's "Any state → Terminated on socket close".
func (c *socketClient) terminate() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	applyTerminate(c.sess)
	c.conn.Close()
	if c.adapter.Engine.Metrics != nil {
		c.adapter.Engine.Metrics.RecordSessionEvent("socket", "terminated")
	}
	c.adapter.Engine.logger().Info(c.logCtx, "socket disconnected")
}
