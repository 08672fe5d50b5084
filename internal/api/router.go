// Package api is the JSON HTTP surface of the core.
package api

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"token-ledger/internal/access"
	"token-ledger/internal/eventlog"
	"token-ledger/internal/ledger"
	"token-ledger/internal/observability"
	"token-ledger/internal/publish"
	"token-ledger/internal/stream"
)

// SessionResolver maps a session token to its user. Implemented by
// storage.SessionStore.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (int64, error)
}

// Services are the components the handlers call.
type Services struct {
	Events   *eventlog.Log
	Ledger   *ledger.Ledger
	Publish  *publish.Machine
	Access   *access.Checker
	Hub      *stream.Hub
	Sessions SessionResolver
	Logger   *slog.Logger
}

// Handler serves the API.
type Handler struct {
	events   *eventlog.Log
	ledger   *ledger.Ledger
	publish  *publish.Machine
	access   *access.Checker
	hub      *stream.Hub
	sessions SessionResolver
	logger   *slog.Logger
}

// NewRouter builds the routes.
func NewRouter(s Services) http.Handler {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		events:   s.Events,
		ledger:   s.Ledger,
		publish:  s.Publish,
		access:   s.Access,
		hub:      s.Hub,
		sessions: s.Sessions,
		logger:   logger.With("component", "api"),
	}

	r := mux.NewRouter()
	r.Use(metricsMiddleware)
	r.Handle("/metrics", observability.Handler())
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(h.authenticate)

	v1.HandleFunc("/tokens", h.createToken).Methods(http.MethodPost)
	v1.HandleFunc("/tokens", h.listTokens).Methods(http.MethodGet)
	v1.HandleFunc("/tokens/{id:[0-9]+}", h.getToken).Methods(http.MethodGet)
	v1.HandleFunc("/tokens/{id:[0-9]+}/publish", h.requestPublish).Methods(http.MethodPost)
	v1.HandleFunc("/tokens/{id:[0-9]+}/reset", h.resetToken).Methods(http.MethodPost)

	v1.HandleFunc("/accounts/{id:[0-9]+}/balance", h.getBalance).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id:[0-9]+}/entries", h.getEntries).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id:[0-9]+}/credits", h.issueCredits).Methods(http.MethodPost)

	v1.HandleFunc("/events", h.queryEvents).Methods(http.MethodGet)
	v1.HandleFunc("/events/count", h.countEvents).Methods(http.MethodGet)
	v1.HandleFunc("/events/types", h.eventTypes).Methods(http.MethodGet)
	v1.HandleFunc("/events/stream", h.streamEvents).Methods(http.MethodGet)

	v1.HandleFunc("/users/{id:[0-9]+}/grants", h.getGrants).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id:[0-9]+}/grants", h.setGrants).Methods(http.MethodPut)

	v1.HandleFunc("/commands/{id}/outcome", h.reportOutcome).Methods(http.MethodPost)

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ctxKey struct{}

// authenticate resolves the bearer session token to a user.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			respondWithError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, err := h.sessions.Resolve(r.Context(), token)
		if err != nil {
			respondWithError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func userFrom(r *http.Request) int64 {
	id, _ := r.Context().Value(ctxKey{}).(int64)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets the event stream upgrade through the recorder.
func (s *statusRecorder) Hijack() (c net.Conn, rw *bufio.ReadWriter, err error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		observability.RecordHTTPRequest(r.Method+" "+route, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}
