// Package server exposes the advocate over a local HTTP API: screening,
// access negotiation, escalation resolution and token management, plus
// health and Prometheus metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/skworld/advocate/internal/advocate"
	"github.com/skworld/advocate/internal/model"
	"github.com/skworld/advocate/internal/negotiation"
	"github.com/skworld/advocate/internal/observability"
)

// Server wires the advocate engine to HTTP handlers.
type Server struct {
	engine *advocate.Engine
	log    zerolog.Logger
	http   *http.Server
}

// New creates a Server listening on addr.
func New(engine *advocate.Engine, addr string, log zerolog.Logger) *Server {
	s := &Server{engine: engine, log: log}

	r := mux.NewRouter()
	r.Use(observability.RequestLogger(log))
	r.Use(s.observe)

	r.HandleFunc("/v1/screen", s.handleScreen).Methods(http.MethodPost)
	r.HandleFunc("/v1/messages", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/v1/access", s.handleAccess).Methods(http.MethodPost)
	r.HandleFunc("/v1/pending", s.handlePending).Methods(http.MethodGet)
	r.HandleFunc("/v1/approvals/{key}/approve", s.handleApprove).Methods(http.MethodPost)
	r.HandleFunc("/v1/approvals/{key}/deny", s.handleDeny).Methods(http.MethodPost)
	r.HandleFunc("/v1/tokens", s.handleTokens).Methods(http.MethodGet)
	r.HandleFunc("/v1/tokens/{id}/validate", s.handleValidate).Methods(http.MethodPost)
	r.HandleFunc("/v1/tokens/{id}/revoke", s.handleRevoke).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http api listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// observe records request latency per route.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		requestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type screenResponse struct {
	Action    string             `json:"action"`
	Reason    string             `json:"reason,omitempty"`
	Score     float64            `json:"score"`
	Reasons   []string           `json:"score_reasons,omitempty"`
	Duplicate bool               `json:"duplicate,omitempty"`
	Message   *model.ChatMessage `json:"message,omitempty"`
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	var env model.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid envelope json")
		return
	}

	out, err := s.engine.ScreenIncoming(r.Context(), env)
	if err != nil && !errors.Is(err, model.ErrMessageBlocked) {
		envelopesRejected.Inc()
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	envelopesScreened.WithLabelValues(string(out.Result.Action)).Inc()
	status := http.StatusOK
	if errors.Is(err, model.ErrMessageBlocked) {
		status = http.StatusForbidden
	}
	writeJSON(w, status, screenResponse{
		Action:    string(out.Result.Action),
		Reason:    out.Result.Reason,
		Score:     out.Score.Score,
		Reasons:   out.Score.Reasons,
		Duplicate: out.Duplicate,
		Message:   out.Message,
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var msg model.ChatMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message json")
		return
	}
	if msg.ID == "" {
		prepared := model.NewChatMessage(msg.Sender, msg.Recipient, msg.Content)
		prepared.ContentType = msg.ContentType
		prepared.ThreadID = msg.ThreadID
		prepared.ReplyTo = msg.ReplyTo
		prepared.Metadata = msg.Metadata
		prepared.TTL = msg.TTL
		msg = prepared
	}

	env, err := s.engine.SendMessage(r.Context(), msg)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, env)
}

type accessRequestBody struct {
	Requester     string `json:"requester"`
	Resource      string `json:"resource"`
	Level         string `json:"level"`
	Justification string `json:"justification"`
	ExpirySeconds int64  `json:"expiry_seconds"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	var body accessRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid access request json")
		return
	}
	req := model.NewAccessRequest(body.Requester,
		model.Scope{Resource: body.Resource, Level: model.PermissionLevel(body.Level)},
		body.Justification, time.Duration(body.ExpirySeconds)*time.Second)
	if body.CorrelationID != "" {
		req.CorrelationID = body.CorrelationID
	}
	if !req.Scope.Level.Valid() {
		writeError(w, http.StatusBadRequest, "unknown permission level")
		return
	}

	tok, err := s.engine.NegotiateAccess(r.Context(), req)
	if err != nil {
		if errors.Is(err, model.ErrAccessDenied) {
			negotiations.WithLabelValues("denied").Inc()
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	negotiations.WithLabelValues("approved").Inc()
	tokensIssued.Inc()
	writeJSON(w, http.StatusOK, tok)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending := s.engine.PendingEscalations()
	if pending == nil {
		pending = []model.AccessRequest{}
	}
	writeJSON(w, http.StatusOK, pending)
}

type resolveBody struct {
	Resource   string `json:"resource,omitempty"`
	Level      string `json:"level,omitempty"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var body resolveBody
	if r.Body != nil {
		// An empty body approves the full requested scope.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	res := negotiation.Resolution{
		Approved: true,
		TTL:      time.Duration(body.TTLSeconds) * time.Second,
		Reason:   body.Reason,
	}
	if body.Resource != "" || body.Level != "" {
		res.Scope = model.Scope{
			Resource: body.Resource,
			Level:    model.PermissionLevel(body.Level),
		}
	}

	if err := s.engine.ResolveEscalation(key, res); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var body resolveBody
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	err := s.engine.ResolveEscalation(key, negotiation.Resolution{
		Approved: false,
		Reason:   body.Reason,
	})
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "denied"})
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.engine.ActiveTokens(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tokens == nil {
		tokens = []*model.CapabilityToken{}
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var body struct {
		Resource string `json:"resource"`
		Level    string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope json")
		return
	}

	tok, err := s.engine.ValidateToken(r.Context(), id,
		model.Scope{Resource: body.Resource, Level: model.PermissionLevel(body.Level)})
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.RevokeToken(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tokensRevoked.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
