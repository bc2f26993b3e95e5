//go:build !js

package peer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/wsmux/internal/message"
)

const closeWait = time.Second

type gorillaTransport struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// Dial opens a transport to url.
func Dial(ctx context.Context, url string) (Transport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &gorillaTransport{conn: conn}, nil
}

func (t *gorillaTransport) Send(ctx context.Context, msg message.Message) error {
	frame := websocket.TextMessage
	if msg.IsBinary() {
		frame = websocket.BinaryMessage
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(frame, msg.Payload())
}

func (t *gorillaTransport) Receive(ctx context.Context) (message.Message, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	frame, data, err := t.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return message.Message{}, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return message.Message{}, io.EOF
		}
		return message.Message{}, err
	}

	if frame == websocket.BinaryMessage {
		return message.Binary(data), nil
	}
	return message.Text(string(data)), nil
}

func (t *gorillaTransport) Close() error {
	t.wmu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWait))
	t.wmu.Unlock()
	return t.conn.Close()
}
