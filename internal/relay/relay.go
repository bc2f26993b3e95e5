// Package relay is a small host application for the multiplexer: every tick
// it relays each inbound message to all other clients and announces joins
// and departures.
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/Tyrowin/wsmux/internal/message"
	"github.com/Tyrowin/wsmux/internal/server"
)

// Hub is the part of server.Hub the relay drives.
type Hub interface {
	DrainMessages() []server.InboundMessage
	DrainLifecycleEvents() []server.LifecycleEvent
	DrainErrors() []server.ErrorEvent
	Broadcast(msg message.Message) int
	BroadcastExcept(sender server.ClientID, msg message.Message) int
}

// Relay forwards traffic between clients.
type Relay struct {
	hub      Hub
	logger   *slog.Logger
	announce bool
}

// Option configures a Relay.
type Option func(*Relay)

// WithAnnouncements makes the relay broadcast a text notice when a client
// joins or leaves. The notice names the ClientID only.
func WithAnnouncements() Option {
	return func(r *Relay) { r.announce = true }
}

// New creates a Relay. A nil logger uses slog.Default().
func New(hub Hub, logger *slog.Logger, opts ...Option) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{hub: hub, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TickStats reports what one Tick processed.
type TickStats struct {
	Events    int
	Messages  int
	Failures  int
	Delivered int
}

// Tick drains the hub once. Lifecycle events are handled before messages so
// a join announcement precedes anything the new client said.
func (r *Relay) Tick() TickStats {
	var stats TickStats

	for _, ev := range r.hub.DrainLifecycleEvents() {
		stats.Events++
		r.logger.Debug("lifecycle event", "event", ev.Kind, "client", ev.Client.String())
		if r.announce {
			notice := message.Text(ev.Client.String() + " " + ev.Kind.String())
			stats.Delivered += r.hub.BroadcastExcept(ev.Client, notice)
		}
	}

	for _, f := range r.hub.DrainErrors() {
		stats.Failures++
		r.logger.Warn("connection failure", "client", f.Client.String(), "kind", f.Kind, "error", f.Err)
	}

	for _, in := range r.hub.DrainMessages() {
		stats.Messages++
		stats.Delivered += r.hub.BroadcastExcept(in.From, in.Message)
	}

	return stats
}

// Run calls Tick every interval until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("relay started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			r.Tick()
			r.logger.Info("relay stopped")
			return nil
		case <-ticker.C:
			r.Tick()
		}
	}
}
