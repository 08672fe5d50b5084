package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"token-ledger/internal/domain"
)

type entryResponse struct {
	EntryID      int64     `json:"entry_id"`
	Delta        int64     `json:"delta"`
	Reason       string    `json:"reason"`
	EventID      int64     `json:"event_id"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

func newEntryResponse(e *domain.LedgerEntry) entryResponse {
	return entryResponse{
		EntryID:      e.EntryID,
		Delta:        e.Delta,
		Reason:       e.Reason,
		EventID:      e.EventID,
		BalanceAfter: e.BalanceAfter,
		CreatedAt:    e.CreatedAt,
	}
}

type issueCreditsRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

// requireSelfOr lets users read their own records; anyone else needs c.
func (h *Handler) requireSelfOr(ctx context.Context, userID, targetID int64, c domain.Capability) error {
	if userID == targetID {
		return nil
	}
	return h.access.Require(ctx, userID, c, nil)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	if err := h.requireSelfOr(r.Context(), userFrom(r), userID, domain.CapIssueCredits); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	balance, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int64{"user_id": userID, "balance": balance})
}

func (h *Handler) getEntries(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	if err := h.requireSelfOr(r.Context(), userFrom(r), userID, domain.CapIssueCredits); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	limit, err := intParam(r, "limit")
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	entries, err := h.ledger.Entries(r.Context(), userID, int(limit))
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	resp := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, newEntryResponse(e))
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) issueCredits(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	var req issueCreditsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	entry, err := h.ledger.Issue(r.Context(), userFrom(r), userID, req.Amount, req.Note)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, newEntryResponse(entry))
}

// intParam parses an optional integer query parameter; absent is 0.
func intParam(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &domain.ValidationError{Field: name, Message: "must be an integer"}
	}
	return n, nil
}
