//go:build js && wasm

package peer

import (
	"context"
	"fmt"
	"io"

	"github.com/coder/websocket"

	"github.com/Tyrowin/wsmux/internal/message"
)

type browserTransport struct {
	conn *websocket.Conn
}

// Dial opens a transport to url using the browser's WebSocket.
func Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &browserTransport{conn: conn}, nil
}

func (t *browserTransport) Send(ctx context.Context, msg message.Message) error {
	typ := websocket.MessageText
	if msg.IsBinary() {
		typ = websocket.MessageBinary
	}
	return t.conn.Write(ctx, typ, msg.Payload())
}

func (t *browserTransport) Receive(ctx context.Context) (message.Message, error) {
	typ, data, err := t.conn.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return message.Message{}, io.EOF
		}
		return message.Message{}, err
	}
	if typ == websocket.MessageBinary {
		return message.Binary(data), nil
	}
	return message.Text(string(data)), nil
}

func (t *browserTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
