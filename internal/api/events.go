package api

import (
	"fmt"
	"net/http"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
	"token-ledger/internal/stream"
)

func (h *Handler) requireEventLog(w http.ResponseWriter, r *http.Request) bool {
	if err := h.access.Require(r.Context(), userFrom(r), domain.CapViewEventLog, nil); err != nil {
		h.respondWithDomainError(w, r, err)
		return false
	}
	return true
}

// queryEvents supports ?type= (repeatable), since, before, actor, token and limit.
func (h *Handler) queryEvents(w http.ResponseWriter, r *http.Request) {
	if !h.requireEventLog(w, r) {
		return
	}

	f, err := eventFilter(r)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	events, err := h.events.Query(r.Context(), f)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	resp := make([]stream.Message, 0, len(events))
	for _, e := range events {
		resp = append(resp, stream.NewMessage(e))
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) countEvents(w http.ResponseWriter, r *http.Request) {
	if !h.requireEventLog(w, r) {
		return
	}

	types, err := eventTypes(r)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	if len(types) != 1 {
		h.respondWithDomainError(w, r, &domain.ValidationError{Field: "type", Message: "exactly one event type is required"})
		return
	}
	actorID, err := optionalID(r, "actor")
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	n, err := h.events.Count(r.Context(), types[0], actorID)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"type": types[0], "count": n})
}

func (h *Handler) eventTypes(w http.ResponseWriter, r *http.Request) {
	if !h.requireEventLog(w, r) {
		return
	}
	respondWithJSON(w, http.StatusOK, h.events.Types())
}

func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	if !h.requireEventLog(w, r) {
		return
	}

	types, err := eventTypes(r)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	h.hub.Serve(w, r, types)
}

func eventFilter(r *http.Request) (storage.EventFilter, error) {
	var f storage.EventFilter
	var err error

	if f.Types, err = eventTypes(r); err != nil {
		return f, err
	}
	if f.SinceID, err = intParam(r, "since"); err != nil {
		return f, err
	}
	if f.BeforeID, err = intParam(r, "before"); err != nil {
		return f, err
	}
	if f.ActorID, err = optionalID(r, "actor"); err != nil {
		return f, err
	}
	if f.TokenID, err = optionalID(r, "token"); err != nil {
		return f, err
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		return f, err
	}
	f.Limit = int(limit)
	return f, nil
}

func eventTypes(r *http.Request) ([]domain.EventType, error) {
	raw := r.URL.Query()["type"]
	types := make([]domain.EventType, 0, len(raw))
	for _, s := range raw {
		t := domain.EventType(s)
		if !domain.IsKnownEventType(t) {
			return nil, &domain.ValidationError{Field: "type", Message: fmt.Sprintf("unknown event type %q", s)}
		}
		types = append(types, t)
	}
	return types, nil
}

func optionalID(r *http.Request, name string) (*int64, error) {
	if r.URL.Query().Get(name) == "" {
		return nil, nil
	}
	n, err := intParam(r, name)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, &domain.ValidationError{Field: name, Message: "must be a positive integer"}
	}
	return &n, nil
}
