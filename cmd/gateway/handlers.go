package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/maxzysparks/SightCoin/pkg/auth"
	"github.com/maxzysparks/SightCoin/pkg/httpx"
	"github.com/maxzysparks/SightCoin/pkg/policy"
	"github.com/maxzysparks/SightCoin/pkg/roles"
	"github.com/maxzysparks/SightCoin/pkg/stream"
	"github.com/maxzysparks/SightCoin/pkg/telemetry"
)

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("gateway"))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "gateway"})
	})

	authRouter := chi.NewRouter()
	authRouter.Use(auth.Middleware(
		s.AuthMode,
		s.AuthSecret,
		auth.WithIssuer(env("OIDC_ISSUER", "")),
		auth.WithAudience(env("OIDC_AUDIENCE", "")),
	))
	authRouter.Use(s.rateLimitMiddleware)
	authRouter.Get("/metrics", s.Metrics.Handler())
	authRouter.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())
	authRouter.Post("/v1/mint", s.handleMint)
	authRouter.Post("/v1/transfer", s.handleTransfer)
	authRouter.Post("/v1/transfer-from", s.handleTransferFrom)
	authRouter.Post("/v1/pause", s.handlePause)
	authRouter.Post("/v1/unpause", s.handleUnpause)
	authRouter.Post("/v1/roles/grant", s.handleGrantRole)
	authRouter.Post("/v1/roles/revoke", s.handleRevokeRole)
	authRouter.Post("/v1/blacklist", s.handleBlacklist)
	authRouter.Post("/v1/limits/daily", s.handleDailyLimit)
	authRouter.Post("/v1/recover", s.handleRecover)
	authRouter.Get("/v1/supply", s.handleSupply)
	authRouter.Get("/v1/audit", s.handleAudit)
	authRouter.Get("/v1/stream", s.streamEvents)
	r.Mount("/", authRouter)
	return r
}

type mintRequest struct {
	RequestID string `json:"request_id,omitempty"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
}

type transferRequest struct {
	RequestID string `json:"request_id,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

type roleRequest struct {
	Principal string `json:"principal"`
	Role      string `json:"role"`
}

type blacklistRequest struct {
	Principal   string `json:"principal"`
	Blacklisted bool   `json:"blacklisted"`
}

type dailyLimitRequest struct {
	Principal string `json:"principal"`
	Limit     uint64 `json:"limit"`
}

type recoverRequest struct {
	RequestID string `json:"request_id,omitempty"`
	Token     string `json:"token"`
	To        string `json:"to"`
	Amount    uint64 `json:"amount"`
}

type opResponse struct {
	Outcome     string `json:"outcome"`
	Reason      string `json:"reason"`
	Error       string `json:"error,omitempty"`
	TotalIssued uint64 `json:"total_issued,omitempty"`
	Replayed    bool   `json:"replayed,omitempty"`
}

// caller resolves the acting principal. The token subject is authoritative;
// the X-Caller header is honored only with authentication switched off so
// that local development can impersonate principals.
func (s *Server) caller(r *http.Request) string {
	if strings.EqualFold(s.AuthMode, "off") {
		if v := strings.TrimSpace(r.Header.Get("X-Caller")); v != "" {
			return v
		}
	}
	principal, _ := auth.PrincipalFromContext(r.Context())
	return principal.Subject
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := httpx.DecodeJSON(r, v, s.MaxRequestBodyBytes); err != nil {
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			httpx.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		httpx.Error(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// runOp serializes the engine call, enforces request_id idempotency and maps
// the result to an HTTP response.
func (s *Server) runOp(w http.ResponseWriter, r *http.Request, requestID string, op func(ctx context.Context, now time.Time) error) {
	ctx := r.Context()
	idemKey := ""
	if strings.TrimSpace(requestID) != "" {
		idemKey = "req:" + s.caller(r) + ":" + strings.TrimSpace(requestID)
		if stored, ok := s.checkIdempotency(ctx, idemKey); ok {
			stored.Replayed = true
			httpx.WriteJSON(w, http.StatusOK, stored)
			return
		}
	}

	start := time.Now()
	s.engineMu.Lock()
	err := op(ctx, time.Now().UTC())
	s.engineMu.Unlock()
	if s.Metrics != nil {
		s.Metrics.ObserveEngineLatency(time.Since(start))
	}

	resp := opResponse{Outcome: "APPLIED", Reason: policy.ReasonOK}
	status := http.StatusOK
	if err != nil {
		resp = opResponse{Outcome: "DENIED", Reason: policy.Reason(err), Error: err.Error()}
		status = statusForReason(resp.Reason)
	} else {
		resp.TotalIssued = s.Engine.TotalIssued()
		s.refreshGauges()
	}
	if idemKey != "" && status == http.StatusOK {
		s.storeIdempotency(ctx, idemKey, resp)
	}
	httpx.WriteJSON(w, status, resp)
}

func statusForReason(reason string) int {
	switch reason {
	case policy.ReasonUnauthorized:
		return http.StatusForbidden
	case policy.ReasonHalted, policy.ReasonReentrantCall:
		return http.StatusConflict
	case policy.ReasonInvalidDestination, policy.ReasonUnknownRole:
		return http.StatusBadRequest
	case policy.ReasonLedgerError:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) checkIdempotency(ctx context.Context, key string) (opResponse, bool) {
	if s.Cache == nil {
		return opResponse{}, false
	}
	fresh, err := s.Cache.SetNX(ctx, key, "pending", s.IdempotencyTTL)
	if err != nil || fresh {
		return opResponse{}, false
	}
	raw, err := s.Cache.Get(ctx, key)
	if err != nil || raw == "" || raw == "pending" {
		return opResponse{}, false
	}
	var resp opResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return opResponse{}, false
	}
	return resp, true
}

func (s *Server) storeIdempotency(ctx context.Context, key string, resp opResponse) {
	if s.Cache == nil {
		return
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = s.Cache.Set(ctx, key, string(b), s.IdempotencyTTL)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller := s.caller(r)
	s.runOp(w, r, req.RequestID, func(ctx context.Context, now time.Time) error {
		return s.Engine.Mint(ctx, caller, req.To, req.Amount, now)
	})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller := s.caller(r)
	s.runOp(w, r, req.RequestID, func(ctx context.Context, now time.Time) error {
		return s.Engine.Transfer(ctx, caller, req.To, req.Amount, now)
	})
}

func (s *Server) handleTransferFrom(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.From) == "" {
		httpx.Error(w, http.StatusBadRequest, "from required")
		return
	}
	caller := s.caller(r)
	s.runOp(w, r, req.RequestID, func(ctx context.Context, now time.Time) error {
		return s.Engine.TransferFrom(ctx, caller, req.From, req.To, req.Amount, now)
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller := s.caller(r)
	s.runOp(w, r, "", func(ctx context.Context, now time.Time) error {
		err := s.Engine.Pause(ctx, caller, req.Reason, now)
		if err == nil {
			s.Events.Publish(stream.NewEvent(stream.TypePause, map[string]any{"paused": true, "reason": req.Reason}))
		}
		return err
	})
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	caller := s.caller(r)
	s.runOp(w, r, "", func(ctx context.Context, now time.Time) error {
		err := s.Engine.Unpause(ctx, caller, now)
		if err == nil {
			s.Events.Publish(stream.NewEvent(stream.TypePause, map[string]any{"paused": false}))
		}
		return err
	})
}

func (s *Server) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	s.handleRoleChange(w, r, true)
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	s.handleRoleChange(w, r, false)
}

func (s *Server) handleRoleChange(w http.ResponseWriter, r *http.Request, grant bool) {
	var req roleRequest
	if !s.decode(w, r, &req) {
		return
	}
	role, err := roles.Parse(req.Role)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "unknown role")
		return
	}
	caller := s.caller(r)
	s.runOp(w, r, "", func(ctx context.Context, now time.Time) error {
		if grant {
			return s.Engine.GrantRole(ctx, caller, req.Principal, role, now)
		}
		return s.Engine.RevokeRole(ctx, caller, req.Principal, role, now)
	})
}

func (s *Server) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller := s.caller(r)
	s.runOp(w, r, "", func(ctx context.Context, now time.Time) error {
		return s.Engine.SetBlacklisted(ctx, caller, req.Principal, req.Blacklisted, now)
	})
}

func (s *Server) handleDailyLimit(w http.ResponseWriter, r *http.Request) {
	var req dailyLimitRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller := s.caller(r)
	s.runOp(w, r, "", func(ctx context.Context, now time.Time) error {
		return s.Engine.SetDailyLimit(ctx, caller, req.Principal, req.Limit, now)
	})
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller := s.caller(r)
	s.runOp(w, r, req.RequestID, func(ctx context.Context, now time.Time) error {
		return s.Engine.Recover(ctx, caller, req.Token, req.To, req.Amount, now)
	})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	start, end := s.Engine.Window()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"total_issued": s.Engine.TotalIssued(),
		"max_supply":   s.Engine.MaxSupply(),
		"paused":       s.Engine.Paused(),
		"window_start": start.UTC().Format(time.RFC3339),
		"window_end":   end.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			httpx.Error(w, http.StatusBadRequest, "limit must be 1..1000")
			return
		}
		limit = parsed
	}
	entries, err := s.Audit.Recent(r.Context(), limit)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "audit unavailable")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.RateLimitEnabled || s.RateLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := s.caller(r)
		if key == "" {
			key = r.RemoteAddr
		}
		decision := s.RateLimiter.Allow(key, s.RateLimitPerWindow)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(decision.ResetAt).Seconds())+1, 10))
			httpx.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.code = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

func (srv *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: 200}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		path := r.Method + " " + r.URL.Path
		srv.Metrics.Observe(path, rec.code, elapsed)
		srv.Metrics.ObserveLatency(path, elapsed)
	})
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		httpx.Error(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}
	opts := &websocket.AcceptOptions{}
	if origins := wsOriginPatterns(env("WS_ALLOWED_ORIGINS", "")); len(origins) > 0 {
		opts.OriginPatterns = origins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.Events.Subscribe(64)
	defer s.Events.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, stream.NewEvent("ready", nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func wsOriginPatterns(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
