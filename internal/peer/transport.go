// Package peer is the client side of the multiplexer. The wire transport is
// picked at build time: gorilla/websocket natively and coder/websocket when
// compiled for js/wasm, where it wraps the browser WebSocket object.
package peer

import (
	"context"

	"github.com/Tyrowin/wsmux/internal/message"
)

// Transport is one WebSocket connection to a server.
//
// Receive returns io.EOF once the server has closed the connection with a
// normal or going-away status. Send and Receive may be used from different
// goroutines.
type Transport interface {
	Send(ctx context.Context, msg message.Message) error
	Receive(ctx context.Context) (message.Message, error)
	Close() error
}
