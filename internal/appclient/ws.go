package appclient

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

type wsTransport struct {
	ws *websocket.Conn
}

// Dial connects to a bridge attach endpoint and returns a transport for it.
// The url must already carry the session's attach token.
func Dial(ctx context.Context, url string) (Transport, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("appclient: dialing %s: %w", url, err)
	}
	return &wsTransport{ws: ws}, nil
}

func (t *wsTransport) Send(ctx context.Context, msg []byte) error {
	return t.ws.Write(ctx, websocket.MessageText, msg)
}

func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := t.ws.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (t *wsTransport) Close(reason string) error {
	return t.ws.Close(websocket.StatusNormalClosure, reason)
}
