// Package server coordinates client registration, message routing, and
// connection cleanup via the Hub type.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Tyrowin/wsmux/internal/message"
	"github.com/Tyrowin/wsmux/internal/queue"
	"github.com/Tyrowin/wsmux/internal/registry"
)

// errHubClosed is returned when a client registers after Shutdown started.
var errHubClosed = errors.New("hub: closed")

const failureQueueLimit = 1024

// Hub is the bridge between client connections and the host application.
// The application drains inbound traffic once per tick and may send at any
// time from any goroutine.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	clients  *registry.Registry[ClientID, *Client]
	inbound  *queue.Queue[InboundMessage]
	events   *queue.Queue[LifecycleEvent]
	failures *queue.Queue[ErrorEvent]

	// lifecycleMu orders registration against Shutdown so no client is
	// registered after the shutdown snapshot.
	lifecycleMu sync.Mutex
	closed      bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewHub creates a Hub. A nil logger uses slog.Default().
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.sanitize()
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		cfg:      cfg,
		logger:   logger,
		clients:  registry.New[ClientID, *Client](),
		inbound:  queue.New[InboundMessage](cfg.InboundQueueLimit),
		events:   queue.New[LifecycleEvent](0),
		failures: queue.New[ErrorEvent](failureQueueLimit),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// DrainMessages returns every inbound message received since the previous
// call, oldest first. It never blocks.
func (h *Hub) DrainMessages() []InboundMessage {
	return h.inbound.Drain()
}

// DrainLifecycleEvents returns every Connected/Disconnected event since the
// previous call, oldest first. It never blocks.
func (h *Hub) DrainLifecycleEvents() []LifecycleEvent {
	return h.events.Drain()
}

// DrainErrors returns every per-connection failure since the previous call.
func (h *Hub) DrainErrors() []ErrorEvent {
	return h.failures.Drain()
}

// Ready is signalled after new inbound messages arrive. Applications that
// prefer waking over fixed ticks can select on it.
func (h *Hub) Ready() <-chan struct{} {
	return h.inbound.Ready()
}

// SendTo queues msg for one client. Unknown clients are ignored and false is
// returned.
func (h *Hub) SendTo(id ClientID, msg message.Message) bool {
	client, ok := h.clients.Lookup(id)
	if !ok {
		h.logger.Debug("dropping message for unknown client", "client", id.String())
		return false
	}
	return client.enqueue(msg)
}

// Broadcast queues msg for every client registered when the call begins and
// returns how many accepted it.
func (h *Hub) Broadcast(msg message.Message) int {
	return h.broadcast(msg, nil)
}

// BroadcastExcept is Broadcast without the client named by sender.
func (h *Hub) BroadcastExcept(sender ClientID, msg message.Message) int {
	return h.broadcast(msg, &sender)
}

func (h *Hub) broadcast(msg message.Message, exclude *ClientID) int {
	delivered := 0
	for _, client := range h.clients.Values() {
		if exclude != nil && client.id == *exclude {
			continue
		}
		if client.enqueue(msg) {
			delivered++
		}
	}
	return delivered
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	return h.clients.Len()
}

// Clients returns the identifiers of every registered client.
func (h *Hub) Clients() []ClientID {
	return h.clients.Keys()
}

// Stats describes the hub's current load.
type Stats struct {
	Clients  int         `json:"clients"`
	Inbound  queue.Stats `json:"inbound"`
	Events   queue.Stats `json:"events"`
	Failures queue.Stats `json:"failures"`
}

// Stats returns a snapshot of hub statistics.
func (h *Hub) Stats() Stats {
	return Stats{
		Clients:  h.clients.Len(),
		Inbound:  h.inbound.Stats(),
		Events:   h.events.Stats(),
		Failures: h.failures.Stats(),
	}
}

// register inserts the client, emits Connected and starts its pumps.
func (h *Hub) register(client *Client) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if h.closed {
		return errHubClosed
	}
	if err := h.clients.Insert(client.id, client); err != nil {
		return fmt.Errorf("register client: %w", err)
	}
	h.pushEvent(LifecycleEvent{Kind: Connected, Client: client.id})
	h.logger.Info("client registered",
		"client", client.id.String(),
		"remote", client.remoteAddr,
		"clients", h.clients.Len())

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
	return nil
}

// unregister removes the client and emits Disconnected. Repeated calls are
// no-ops.
func (h *Hub) unregister(client *Client) {
	if _, ok := h.clients.Remove(client.id); !ok {
		return
	}
	h.pushEvent(LifecycleEvent{Kind: Disconnected, Client: client.id})
	h.logger.Info("client unregistered",
		"client", client.id.String(),
		"clients", h.clients.Len())
}

func (h *Hub) pushEvent(ev LifecycleEvent) {
	if err := h.events.Push(ev); err != nil {
		h.logger.Error("lifecycle event lost", "event", ev.Kind, "client", ev.Client.String(), "error", err)
	}
}

// deliver appends a frame to the inbound queue.
func (h *Hub) deliver(msg InboundMessage) {
	err := h.inbound.Push(msg)
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrFull):
		h.logger.Warn("inbound queue full; dropping message", "client", msg.From.String())
		h.reportFailure(msg.From, Overflow, err)
	default:
		h.logger.Debug("inbound queue closed; dropping message", "client", msg.From.String())
	}
}

func (h *Hub) reportFailure(id ClientID, kind FailureKind, err error) {
	if pushErr := h.failures.Push(ErrorEvent{Client: id, Kind: kind, Err: err}); pushErr != nil {
		h.logger.Debug("failure event dropped", "client", id.String(), "kind", kind, "error", pushErr)
	}
}

// Shutdown closes every client connection and waits for all pumps to exit,
// or until ctx is done. Each closed client still produces Disconnected.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.once.Do(func() {
		h.lifecycleMu.Lock()
		h.closed = true
		clients := h.clients.Values()
		h.lifecycleMu.Unlock()

		h.logger.Info("shutting down client connections", "clients", len(clients))
		for _, client := range clients {
			client.shutdown()
		}
		h.cancel()

		go func() {
			h.wg.Wait()
			close(h.done)
		}()
	})

	select {
	case <-h.done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-ctx.Done():
		h.logger.Warn("hub shutdown timed out; some connections may still be closing")
		return ctx.Err()
	}
}
