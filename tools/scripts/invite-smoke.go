// Package main provides a CI-friendly smoke test for a running backstage server.
//
// It validates:
//   - feed handshake + subprotocol selection + feed.ready
//   - admin create -> invite.created on the feed
//   - redeem until exhausted -> invite.redeemed per successful use
//   - validity reports exhausted without consuming a use
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	feedSubprotocol = "backstage.invites.v1"
	maxReadBytes    = 1 << 20 // 1MiB
)

// feedEvent mirrors the JSON frames written by the invite feed.
type feedEvent struct {
	ID            string  `json:"id"`
	Type          string  `json:"type"`
	TokenID       string  `json:"token_id"`
	Code          string  `json:"code"`
	OwnerScope    *string `json:"owner_scope"`
	UsedCount     int     `json:"used_count"`
	MaxUses       int     `json:"max_uses"`
	RemainingUses int     `json:"remaining_uses"`
}

type smokeFeed struct {
	conn  *websocket.Conn
	inbox chan feedEvent
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "server base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header for the feed handshake")
		admin   = flag.String("token", os.Getenv("BACKSTAGE_ADMIN_TOKEN"), "admin bearer token (see `backstage admin-token`)")
		scope   = flag.String("scope", "smoke", "owner_scope for the created invite")
		uses    = flag.Int("uses", 2, "max_uses for the created invite")
		timeout = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*admin) == "" {
		fatalf("missing -token (or BACKSTAGE_ADMIN_TOKEN)")
	}
	if *uses < 1 {
		fatalf("-uses must be >= 1")
	}

	root := context.Background()

	feed := mustConnectFeed(root, base, *origin, *admin, *scope, *timeout)
	defer closeWS(feed.conn)

	ready := feed.mustReadUntilType(root, "feed.ready", *timeout)
	if *verbose {
		fmt.Printf("feed ready: event_id=%s\n", ready.ID)
	}

	var created struct {
		ID      string `json:"id"`
		Code    string `json:"code"`
		MaxUses int    `json:"max_uses"`
	}
	status := mustPostJSON(root, base+"/invites", *admin, map[string]any{
		"max_uses":    *uses,
		"owner_scope": *scope,
	}, &created, *timeout)
	if status != http.StatusCreated {
		fatalf("create: status %d", status)
	}

	ev := feed.mustReadUntilType(root, "invite.created", *timeout)
	if ev.TokenID != created.ID {
		fatalf("invite.created token_id=%q want %q", ev.TokenID, created.ID)
	}

	for want := *uses - 1; want >= 0; want-- {
		var out struct {
			OK            bool `json:"ok"`
			RemainingUses int  `json:"remaining_uses"`
		}
		// Lowercase on purpose: codes are case-insensitive.
		status := mustPostJSON(root, base+"/invites/redeem", "", map[string]string{"code": strings.ToLower(created.Code)}, &out, *timeout)
		if status != http.StatusOK || !out.OK || out.RemainingUses != want {
			fatalf("redeem: status=%d ok=%v remaining=%d want remaining=%d", status, out.OK, out.RemainingUses, want)
		}
		ev := feed.mustReadUntilType(root, "invite.redeemed", *timeout)
		if ev.RemainingUses != want {
			fatalf("invite.redeemed remaining_uses=%d want %d", ev.RemainingUses, want)
		}
	}

	var failed struct {
		Reason string `json:"reason"`
	}
	if status := mustPostJSON(root, base+"/invites/redeem", "", map[string]string{"code": created.Code}, &failed, *timeout); status != http.StatusConflict || failed.Reason != "exhausted" {
		fatalf("redeem past max_uses: status=%d reason=%q", status, failed.Reason)
	}

	var validity struct {
		Valid     bool `json:"valid"`
		Exhausted bool `json:"exhausted"`
	}
	if status := mustGetJSON(root, base+"/invites/validity?code="+url.QueryEscape(created.Code), &validity, *timeout); status != http.StatusOK || validity.Valid || !validity.Exhausted {
		fatalf("validity: status=%d valid=%v exhausted=%v", status, validity.Valid, validity.Exhausted)
	}

	fmt.Printf("OK: invite_id=%s max_uses=%d owner_scope=%s\n", created.ID, created.MaxUses, *scope)
}

func validateBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func feedURL(base, scope string) string {
	u, _ := url.Parse(base)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/invites/feed"
	if scope != "" {
		u.RawQuery = url.Values{"owner_scope": {scope}}.Encode()
	}
	return u.String()
}

func mustConnectFeed(parent context.Context, base, origin, admin, scope string, stepTimeout time.Duration) *smokeFeed {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+admin)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, feedURL(base, scope), &websocket.DialOptions{
		Subprotocols: []string{feedSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect feed: %v", err)
	}
	if got := conn.Subprotocol(); got != feedSubprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, feedSubprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	f := &smokeFeed{
		conn:  conn,
		inbox: make(chan feedEvent, 64),
		errCh: make(chan error, 1),
	}
	f.startReadLoop()
	return f
}

func (f *smokeFeed) startReadLoop() {
	go func() {
		defer close(f.inbox)
		for {
			var ev feedEvent
			if err := wsjson.Read(context.Background(), f.conn, &ev); err != nil {
				select {
				case f.errCh <- err:
				default:
				}
				return
			}
			select {
			case f.inbox <- ev:
			default:
				select {
				case f.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (f *smokeFeed) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) feedEvent {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %s", wantType)
		case err := <-f.errCh:
			fatalf("feed read failed while waiting for %s: %v", wantType, err)
		case ev, ok := <-f.inbox:
			if !ok {
				fatalf("feed closed while waiting for %s", wantType)
			}
			if ev.Type == wantType {
				return ev
			}
		}
	}
}

func mustPostJSON(parent context.Context, target, bearer string, body, out any, stepTimeout time.Duration) int {
	b, err := json.Marshal(body)
	if err != nil {
		fatalf("marshal request: %v", err)
	}
	return mustDo(parent, http.MethodPost, target, bearer, bytes.NewReader(b), out, stepTimeout)
}

func mustGetJSON(parent context.Context, target string, out any, stepTimeout time.Duration) int {
	return mustDo(parent, http.MethodGet, target, "", nil, out, stepTimeout)
}

func mustDo(parent context.Context, method, target, bearer string, body io.Reader, out any, stepTimeout time.Duration) int {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		fatalf("build %s %s: %v", method, target, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, target, err)
	}
	defer func() { _ = res.Body.Close() }()

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		fatalf("%s %s: decode response (status %d): %v", method, target, res.StatusCode, err)
	}
	return res.StatusCode
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
