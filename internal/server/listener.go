package server

import (
	"errors"
	"log/slog"
	"net"
	"time"
)

const (
	acceptRetryMin = 5 * time.Millisecond
	acceptRetryMax = time.Second
)

// acceptListener keeps the accept loop alive across failed accepts. Only a
// closed listener ends it.
type acceptListener struct {
	net.Listener
	logger *slog.Logger
	sleep  func(time.Duration)
}

func newAcceptListener(l net.Listener, logger *slog.Logger) *acceptListener {
	return &acceptListener{Listener: l, logger: logger, sleep: time.Sleep}
}

// Accept waits for the next connection, logging and backing off on errors.
func (l *acceptListener) Accept() (net.Conn, error) {
	var delay time.Duration
	for {
		conn, err := l.Listener.Accept()
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, err
		}

		if delay == 0 {
			delay = acceptRetryMin
		} else {
			delay *= 2
		}
		if delay > acceptRetryMax {
			delay = acceptRetryMax
		}
		l.logger.Warn("accept failed; retrying", "error", err, "delay", delay)
		l.sleep(delay)
	}
}
