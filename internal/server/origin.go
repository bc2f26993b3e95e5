package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy decides which browser origins may open a WebSocket. A "*"
// entry admits every origin.
type originPolicy struct {
	wildcard bool
	allowed  map[string]struct{}
	logger   *slog.Logger
}

func newOriginPolicy(origins []string, logger *slog.Logger) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{}), logger: logger}

	for _, raw := range origins {
		entry := strings.TrimSpace(raw)
		switch {
		case entry == "":
		case entry == "*":
			p.wildcard = true
		default:
			key, ok := normalizeOrigin(entry)
			if !ok {
				logger.Warn("ignoring invalid origin in configuration", "origin", raw)
				continue
			}
			p.allowed[key] = struct{}{}
		}
	}
	return p
}

// normalizeOrigin reduces an origin to lower-case scheme://host[:port].
func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

// allows reports whether the request's Origin header is permitted. Requests
// without an Origin header come from non-browser peers and are accepted.
func (p *originPolicy) allows(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" || p.wildcard {
		return true
	}
	key, ok := normalizeOrigin(header)
	if !ok {
		return false
	}
	_, ok = p.allowed[key]
	return ok
}

// checkOrigin is installed as the upgrader's CheckOrigin hook.
func (p *originPolicy) checkOrigin(r *http.Request) bool {
	ok := p.allows(r)
	if !ok {
		p.logger.Warn("rejected websocket handshake", "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
	}
	return ok
}
