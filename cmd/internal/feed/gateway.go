package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"backstage/cmd/ids"
	"backstage/cmd/internal/auth"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	// Subprotocol is the WebSocket subprotocol clients must offer.
	Subprotocol = "backstage.invites.v1"

	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultWriteTimeout     = 5 * time.Second
	defaultHeartbeatEvery   = 25 * time.Second
	defaultHeartbeatTimeout = 5 * time.Second
	closeGrace              = 1 * time.Second

	maxPingFailures = 3
	maxScopeLen     = 128
)

// Config controls the gateway's origin policy and connection limits.
type Config struct {
	OriginRequired bool
	AllowedOrigins []string

	// DevInsecure disables the websocket library's own origin verification. Dev only.
	DevInsecure bool

	WriteTimeout     time.Duration
	SendQueueSize    int
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
}

// DefaultConfig returns secure defaults: origin required, localhost only.
func DefaultConfig() Config {
	return Config{
		OriginRequired:   true,
		AllowedOrigins:   []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:     defaultWriteTimeout,
		SendQueueSize:    defaultSendQueueSize,
		HeartbeatEvery:   defaultHeartbeatEvery,
		HeartbeatTimeout: defaultHeartbeatTimeout,
	}
}

// Gateway upgrades admin requests to a read-only WebSocket stream of invite events.
type Gateway struct {
	log      *slog.Logger
	hub      *Hub
	verifier *auth.Verifier
	cfg      Config

	// Derived for websocket.Accept, which authorizes cross-origin hosts only via OriginPatterns.
	originPatterns []string
}

// NewGateway constructs a Gateway. Zero config values fall back to defaults.
func NewGateway(log *slog.Logger, hub *Hub, verifier *auth.Verifier, cfg Config) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log, nil)
	}
	def := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SendQueueSize < minSendQueueSize {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.HeartbeatEvery <= 0 {
		cfg.HeartbeatEvery = def.HeartbeatEvery
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	return &Gateway{
		log:            log,
		hub:            hub,
		verifier:       verifier,
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
}

// ServeHTTP handles GET /invites/feed.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	principal, err := g.verifier.Authenticate(r, true)
	if err != nil {
		status := http.StatusUnauthorized
		switch {
		case errors.Is(err, auth.ErrDisabled):
			status = http.StatusServiceUnavailable
		case errors.Is(err, auth.ErrForbiddenRole):
			status = http.StatusForbidden
		}
		g.log.Info("feed.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, http.StatusText(status), status)
		return
	}

	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("feed.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var scope *string
	if raw := strings.TrimSpace(r.URL.Query().Get("owner_scope")); raw != "" {
		if len(raw) > maxScopeLen {
			http.Error(w, "owner_scope too long", http.StatusBadRequest)
			return
		}
		scope = &raw
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("feed.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != Subprotocol {
		g.log.Info("feed.reject.subprotocol", "got", sp, "want", Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	now := time.Now().UTC()
	clientID, err := ids.NewULID(now)
	if err != nil {
		g.log.Error("feed.client_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient(clientID, scope, g.cfg.SendQueueSize)

	// The feed is server-to-client only; CloseRead discards client frames and
	// cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Queue the ready frame first so it precedes any published event.
	ready := NewEvent(TypeReady, now)
	ready.OwnerScope = scope
	client.Send <- ready

	g.hub.Subscribe(client)
	defer g.hub.Unsubscribe(client.ID)

	scopeAttr := ""
	if scope != nil {
		scopeAttr = *scope
	}
	g.log.Info("feed.connect", "client_id", client.ID, "subject", principal.Subject, "owner_scope", scopeAttr)

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, cancel, conn, client)
	}()

	g.writeLoop(ctx, conn, client)

	cancel()
	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
	g.log.Info("feed.disconnect", "client_id", client.ID)
}

func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case ev := <-client.Send:
			wctx, wcancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				g.log.Info("feed.write.fail", "client_id", client.ID, "close_status", websocket.CloseStatus(err), "err", err)
				return
			}
		}
	}
}

func (g *Gateway) heartbeat(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, client *Client) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			g.log.Info("feed.ping.fail", "client_id", client.ID, "failures", failures, "err", err)
			if failures >= maxPingFailures {
				_ = conn.Close(websocket.StatusGoingAway, "heartbeat failed")
				cancel()
				return
			}
		}
	}
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	host := originHost(origin)
	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*":
			return nil
		case origin == a:
			return nil
		case host != "" && host == originHost(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHost(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// originPatterns matches allowlisted hosts with or without a port.
func originPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHost(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
		seen[h+":*"] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
