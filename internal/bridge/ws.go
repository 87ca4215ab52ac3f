package bridge

import (
	"context"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/appbridge/core/logx"
)

// wsConn adapts a websocket to the Conn interface. Writes are serialized so
// session notifications and responses never interleave on the wire.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) Send(ctx context.Context, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, msg)
}

func (c *wsConn) Close(reason string) error {
	return c.ws.Close(websocket.StatusNormalClosure, reason)
}

// WSHandler upgrades an attach request and pumps inbound messages into the
// session until the app disconnects or the session ends. The caller supplies
// the session id and token extracted from the request.
type WSHandler struct {
	Registry       *Registry
	AllowedOrigins []string
	Draining       func() bool
}

// Serve handles one hosted application connection.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request, sessionID, token string) {
	if h.Draining != nil && h.Draining() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.AllowedOrigins,
	})
	if err != nil {
		logx.Log.Debug().Err(err).Msg("websocket accept failed")
		return
	}

	sess, err := h.Registry.Attach(sessionID, token, &wsConn{ws: ws})
	if err != nil {
		logx.Log.Debug().Str("session", sessionID).Err(err).Msg("attach rejected")
		_ = ws.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	logx.Log.Info().Str("session", sessionID).Str("tool", sess.Tool()).Msg("hosted app attached")

	ctx := r.Context()
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			break
		}
		if typ != websocket.MessageText {
			dropMessage("binary_frame")
			continue
		}
		sess.HandleMessage(data)
	}
	h.Registry.Remove(sessionID)
	logx.Log.Info().Str("session", sessionID).Msg("hosted app detached")
}
