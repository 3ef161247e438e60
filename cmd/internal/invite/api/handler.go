package api

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"backstage/cmd/internal/auth"
	"backstage/cmd/internal/feed"
	"backstage/cmd/internal/invite"
	"backstage/cmd/internal/observability"
	"backstage/cmd/security/token"
)

// Publisher receives invite events for live subscribers.
type Publisher interface {
	Publish(feed.Event)
}

// Handler wires the invite HTTP endpoints to the invite service.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	svc      *invite.Service
	verifier *auth.Verifier

	publisher Publisher
	metrics   *observability.Metrics
	fp        token.Fingerprinter
	limiter   *keyedLimiter
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithPublisher sends invite.created / invite.redeemed events to p.
func WithPublisher(p Publisher) HandlerOption {
	return func(h *Handler) {
		if p != nil {
			h.publisher = p
		}
	}
}

// WithMetrics records redemption and creation counters.
func WithMetrics(m *observability.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithFingerprinter sets how codes are fingerprinted in logs.
func WithFingerprinter(fp token.Fingerprinter) HandlerOption {
	return func(h *Handler) { h.fp = fp }
}

// NewHandler constructs a Handler. A nil or disabled verifier turns the admin routes off.
func NewHandler(log *slog.Logger, svc *invite.Service, verifier *auth.Verifier, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("invite api: nil service")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	h := &Handler{
		log:      log,
		cfg:      cfg,
		svc:      svc,
		verifier: verifier,
		limiter:  newKeyedLimiter(cfg.RedeemRateEvents, cfg.RedeemRateWindow),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires invite routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/invites", h.handleInvites)
	mux.HandleFunc("/invites/redeem", h.handleRedeem)
	mux.HandleFunc("/invites/validity", h.handleValidity)
}

// ---- handlers ----

func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.allow(w, r) {
		h.metrics.Redemption("rate_limited")
		return
	}

	var req redeemRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.metrics.Redemption("invalid_input")
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}
	if problems := req.Validate(); len(problems) > 0 {
		h.metrics.Redemption("invalid_input")
		writeInvalid(w, problems)
		return
	}

	fp := h.fp.Code(req.Code)
	res, err := h.svc.Redeem(r.Context(), req.Code)
	if err != nil {
		reason := invite.Reason(err)
		h.metrics.Redemption(reason)
		if reason == "store_unavailable" {
			h.log.Error("invite.redeem.fail", "code_fp", fp, "err", err)
		} else {
			h.log.Info("invite.redeem.reject", "code_fp", fp, "reason", reason)
		}
		h.writeOutcome(w, err)
		return
	}

	h.metrics.Redemption("ok")
	h.log.Info("invite.redeem.ok", "code_fp", fp, "token_id", res.TokenID, "remaining_uses", res.RemainingUses)

	ev := feed.NewEvent(feed.TypeInviteRedeemed, h.svc.Now())
	ev.TokenID = res.TokenID
	ev.Code = res.Code
	ev.OwnerScope = res.OwnerScope
	ev.UsedCount = res.UsedCount
	ev.MaxUses = res.MaxUses
	ev.RemainingUses = res.RemainingUses
	h.publish(ev)

	writeJSON(w, http.StatusOK, redeemResponse{
		OK:            true,
		OwnerScope:    res.OwnerScope,
		RemainingUses: res.RemainingUses,
	})
}

func (h *Handler) handleValidity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.allow(w, r) {
		return
	}

	req := redeemRequest{Code: r.URL.Query().Get("code")}
	if problems := req.Validate(); len(problems) > 0 {
		writeInvalid(w, problems)
		return
	}

	_, v, err := h.svc.Validity(r.Context(), req.Code)
	if err != nil {
		if errors.Is(err, invite.ErrCodeNotFound) {
			writeJSON(w, http.StatusNotFound, validityResponse{Reason: "not_found"})
			return
		}
		if invite.IsRetryable(err) {
			h.log.Error("invite.validity.fail", "code_fp", h.fp.Code(req.Code), "err", err)
		}
		h.writeOutcome(w, err)
		return
	}

	writeJSON(w, http.StatusOK, validityResponse{
		Valid:     v == invite.ValidityValid,
		Expired:   v == invite.ValidityExpired,
		Exhausted: v == invite.ValidityExhausted,
	})
}

func (h *Handler) handleInvites(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreate(w, r)
	case http.MethodGet:
		h.handleList(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	r, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	principal, _ := auth.PrincipalFrom(r.Context())

	var req createRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "invalid request body")
			return
		}
	}
	if problems := req.Validate(); len(problems) > 0 {
		writeInvalid(w, problems)
		return
	}

	in := invite.CreateInput{
		MaxUses:    req.MaxUses,
		ExpiresAt:  req.ExpiresAt,
		OwnerScope: req.OwnerScope,
	}
	if principal.Subject != "" {
		in.CreatedBy = &principal.Subject
	}
	if req.ExpiresInSeconds != nil {
		exp := h.svc.Now().Add(h.capTTL(*req.ExpiresInSeconds))
		in.ExpiresAt = &exp
	}

	t, err := h.svc.Create(r.Context(), in)
	if err != nil {
		if invite.IsRetryable(err) || errors.Is(err, invite.ErrCodeConflict) {
			h.log.Error("invite.create.fail", "subject", principal.Subject, "err", err)
		}
		h.writeOutcome(w, err)
		return
	}

	h.metrics.InviteCreated()
	h.log.Info("invite.create.ok", "token_id", t.ID, "code_fp", h.fp.Code(t.Code), "max_uses", t.MaxUses, "subject", principal.Subject)

	ev := feed.NewEvent(feed.TypeInviteCreated, t.CreatedAt)
	ev.TokenID = t.ID
	ev.Code = t.Code
	ev.OwnerScope = t.OwnerScope
	ev.MaxUses = t.MaxUses
	ev.RemainingUses = t.RemainingUses()
	h.publish(ev)

	writeJSON(w, http.StatusCreated, createResponse{
		ID:         t.ID,
		Code:       t.Code,
		MaxUses:    t.MaxUses,
		ExpiresAt:  t.ExpiresAt,
		OwnerScope: t.OwnerScope,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	r, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	principal, _ := auth.PrincipalFrom(r.Context())

	q := r.URL.Query()
	in := invite.ListInput{}
	if raw := strings.TrimSpace(q.Get("owner_scope")); raw != "" {
		if len(raw) > maxScopeChars {
			writeInvalid(w, []string{"owner_scope is too long"})
			return
		}
		in.OwnerScope = &raw
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeInvalid(w, []string{"limit must be a positive integer"})
			return
		}
		in.Limit = n
	}

	tokens, err := h.svc.List(r.Context(), in)
	if err != nil {
		h.log.Error("invite.list.fail", "subject", principal.Subject, "err", err)
		h.writeOutcome(w, err)
		return
	}

	now := h.svc.Now()
	out := listResponse{Invites: make([]inviteResponse, 0, len(tokens))}
	for _, t := range tokens {
		out.Invites = append(out.Invites, toInviteResponse(t, now))
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- helpers ----

// writeOutcome maps a service error onto its status code and reason.
func (h *Handler) writeOutcome(w http.ResponseWriter, err error) {
	reason := invite.Reason(err)
	switch reason {
	case "invalid_input":
		writeError(w, http.StatusBadRequest, reason, "invalid code")
	case "not_found":
		writeError(w, http.StatusNotFound, reason, "code not found")
	case "expired":
		writeError(w, http.StatusGone, reason, "code expired")
	case "exhausted":
		writeError(w, http.StatusConflict, reason, "code has no remaining uses")
	case "conflict":
		writeRetryable(w, http.StatusServiceUnavailable, reason, "could not allocate a code, retry", time.Second)
	default:
		writeRetryable(w, http.StatusServiceUnavailable, "store_unavailable", "temporarily unavailable, retry", time.Second)
	}
}

// capTTL converts seconds to a duration clamped to InviteMaxTTL.
// The comparison happens in seconds so huge inputs cannot overflow the multiplication.
func (h *Handler) capTTL(secs int64) time.Duration {
	maxSecs := int64(h.cfg.InviteMaxTTL / time.Second)
	if secs <= 0 || secs > maxSecs {
		return h.cfg.InviteMaxTTL
	}
	return time.Duration(secs) * time.Second
}

// requireAdmin authenticates the caller and returns r with the principal on its context.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	p, err := h.verifier.Authenticate(r, false)
	if err == nil {
		return r.WithContext(auth.WithPrincipal(r.Context(), p)), true
	}
	switch {
	case errors.Is(err, auth.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, "admin_disabled", "admin API not configured")
	case errors.Is(err, auth.ErrForbiddenRole):
		writeError(w, http.StatusForbidden, "forbidden", "admin role required")
	default:
		h.log.Info("invite.admin.reject", "err", err, "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing bearer token")
	}
	return r, false
}

func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	key := "unknown"
	if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
		key = ip.String()
	}
	ok, retryAfter := h.limiter.Allow(key, time.Now())
	if !ok {
		h.log.Info("invite.throttle", "ip", key, "path", r.URL.Path)
		writeRetryable(w, http.StatusTooManyRequests, "rate_limited", "too many attempts", retryAfter)
	}
	return ok
}

func (h *Handler) publish(ev feed.Event) {
	if h.publisher != nil {
		h.publisher.Publish(ev)
	}
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

// parseForwardedIP returns the left-most valid address in an X-Forwarded-For list.
func parseForwardedIP(raw string) net.IP {
	for _, part := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
			return ip
		}
	}
	return nil
}
