package peer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/Tyrowin/wsmux/internal/message"
	"github.com/Tyrowin/wsmux/internal/queue"
)

// ErrClosed is returned by Send after the peer has stopped.
var ErrClosed = errors.New("peer: closed")

// Peer buffers everything the server sends until the application drains it.
type Peer struct {
	transport Transport
	logger    *slog.Logger
	inbox     *queue.Queue[message.Message]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	err     error
	closing bool
	once    sync.Once
}

// Connect dials url and starts receiving.
func Connect(ctx context.Context, url string, logger *slog.Logger) (*Peer, error) {
	t, err := Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	return New(t, logger), nil
}

// New wraps an open transport. A nil logger uses slog.Default().
func New(t Transport, logger *slog.Logger) *Peer {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Peer{
		transport: t,
		logger:    logger,
		inbox:     queue.New[message.Message](0),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go p.receive()
	return p
}

func (p *Peer) receive() {
	defer close(p.done)
	defer p.cancel()
	defer p.inbox.Close()

	for {
		msg, err := p.transport.Receive(p.ctx)
		if err != nil {
			p.stop(err)
			return
		}
		if err := p.inbox.Push(msg); err != nil {
			p.stop(err)
			return
		}
	}
}

func (p *Peer) stop(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closing || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		p.logger.Debug("peer connection closed")
		return
	}
	p.err = err
	p.logger.Warn("peer connection failed", "error", err)
}

// Send writes msg to the server.
func (p *Peer) Send(ctx context.Context, msg message.Message) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	return p.transport.Send(ctx, msg)
}

// Drain returns every message received since the last call, in arrival order.
func (p *Peer) Drain() []message.Message {
	return p.inbox.Drain()
}

// Ready is signalled when Drain has something to return.
func (p *Peer) Ready() <-chan struct{} {
	return p.inbox.Ready()
}

// Done is closed once the connection has ended.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Err reports why the connection ended. It is nil while the peer is running
// and after a normal close by either side.
func (p *Peer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close sends a normal close frame and waits for the receiver to stop.
func (p *Peer) Close() error {
	var err error
	p.once.Do(func() {
		p.mu.Lock()
		p.closing = true
		p.mu.Unlock()

		err = p.transport.Close()
		p.cancel()
		<-p.done
	})
	return err
}
