// Package message defines the payload exchanged between the server and its
// peers: a text or binary frame.
package message

import "fmt"

// Kind tags the payload of a Message.
type Kind uint8

const (
	// KindText is a UTF-8 text frame.
	KindText Kind = iota + 1
	// KindBinary is an opaque binary frame.
	KindBinary
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is an immutable text or binary payload. Copies share the same
// backing bytes, which are never written after construction.
type Message struct {
	kind Kind
	data []byte
}

// Text creates a text message.
func Text(s string) Message {
	return Message{kind: KindText, data: []byte(s)}
}

// Binary creates a binary message from a copy of b.
func Binary(b []byte) Message {
	data := make([]byte, len(b))
	copy(data, b)
	return Message{kind: KindBinary, data: data}
}

// Kind returns the payload tag. The zero Message has kind 0.
func (m Message) Kind() Kind {
	return m.kind
}

// IsText reports whether m is a text message.
func (m Message) IsText() bool {
	return m.kind == KindText
}

// IsBinary reports whether m is a binary message.
func (m Message) IsBinary() bool {
	return m.kind == KindBinary
}

// Text returns the payload as a string.
func (m Message) Text() string {
	return string(m.data)
}

// Bytes returns a copy of the payload.
func (m Message) Bytes() []byte {
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// Len returns the payload size in bytes.
func (m Message) Len() int {
	return len(m.data)
}

// Payload returns the payload without copying. Callers must not modify it;
// transports use it to avoid a copy per write.
func (m Message) Payload() []byte {
	return m.data
}

// String implements fmt.Stringer for logging.
func (m Message) String() string {
	if m.kind == KindText {
		return fmt.Sprintf("text(%q)", m.data)
	}
	return fmt.Sprintf("%s(%d bytes)", m.kind, len(m.data))
}
