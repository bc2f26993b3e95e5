// Package server defines the identifiers and events the multiplexer hands to
// the host application.
package server

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/Tyrowin/wsmux/internal/message"
)

// ClientID names one live connection. It is random and carries no
// information about the peer's network address.
type ClientID uuid.UUID

// NewClientID returns a fresh random identifier.
func NewClientID() ClientID {
	return ClientID(uuid.New())
}

// ParseClientID parses the canonical string form of a ClientID.
func ParseClientID(s string) (ClientID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ClientID{}, fmt.Errorf("parse client id: %w", err)
	}
	return ClientID(id), nil
}

// String returns the canonical UUID form.
func (id ClientID) String() string {
	return uuid.UUID(id).String()
}

// InboundMessage is one frame received from a client.
type InboundMessage struct {
	From    ClientID
	Message message.Message
}

// EventKind distinguishes lifecycle events.
type EventKind uint8

const (
	// Connected is emitted after a client has been registered.
	Connected EventKind = iota + 1
	// Disconnected is emitted after a client has been removed.
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// LifecycleEvent reports a client joining or leaving.
type LifecycleEvent struct {
	Kind   EventKind
	Client ClientID
}

// FailureKind classifies an ErrorEvent.
type FailureKind uint8

const (
	// ReadFailure is an unclean end of the read side of a connection.
	ReadFailure FailureKind = iota + 1
	// WriteFailure is a message that could not be written and was dropped.
	WriteFailure
	// Overflow is a message dropped because a queue was at its limit.
	Overflow
)

func (k FailureKind) String() string {
	switch k {
	case ReadFailure:
		return "read_failure"
	case WriteFailure:
		return "write_failure"
	case Overflow:
		return "overflow"
	default:
		return fmt.Sprintf("failure(%d)", uint8(k))
	}
}

// ErrorEvent reports a per-connection failure. Failures never affect other
// connections.
type ErrorEvent struct {
	Client ClientID
	Kind   FailureKind
	Err    error
}

var (
	// ErrBind is returned by Server.Start when the listen address cannot be bound.
	ErrBind = errors.New("server: bind failed")

	// ErrServerClosed is returned by Server.Start after Shutdown.
	ErrServerClosed = errors.New("server: closed")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
