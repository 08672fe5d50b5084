package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"token-ledger/internal/domain"
	"token-ledger/internal/publish"
)

type createTokenRequest struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	TotalSupply string `json:"total_supply"`
}

type tokenResponse struct {
	TokenID          int64      `json:"token_id"`
	OwnerID          int64      `json:"owner_id"`
	Name             string     `json:"name"`
	Symbol           string     `json:"symbol,omitempty"`
	TotalSupply      int64      `json:"total_supply"`
	State            string     `json:"state"`
	PendingCommandID *string    `json:"pending_command_id,omitempty"`
	RequestedAt      *time.Time `json:"requested_at,omitempty"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	IssuedTokens     int64      `json:"issued_tokens,omitempty"`
	ContractAddress  *string    `json:"contract_address,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func newTokenResponse(t *domain.Token) tokenResponse {
	return tokenResponse{
		TokenID:          t.TokenID,
		OwnerID:          t.OwnerID,
		Name:             t.Name,
		Symbol:           t.SymbolOrEmpty(),
		TotalSupply:      t.TotalSupply,
		State:            string(t.State),
		PendingCommandID: t.PendingCommandID,
		RequestedAt:      t.RequestedAt,
		PublishedAt:      t.PublishedAt,
		IssuedTokens:     t.IssuedTokens,
		ContractAddress:  t.ContractAddress,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

type publishResponse struct {
	TokenID       int64  `json:"token_id"`
	CommandID     string `json:"command_id"`
	IntentEventID int64  `json:"intent_event_id"`
	Price         int64  `json:"price"`
	Replayed      bool   `json:"replayed"`
}

func (h *Handler) createToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	supply, err := domain.ParseTotalSupply(req.TotalSupply)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	t, err := h.publish.CreateToken(r.Context(), userFrom(r), req.Name, req.Symbol, supply)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, newTokenResponse(t))
}

func (h *Handler) listTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.publish.ListOwned(r.Context(), userFrom(r))
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	resp := make([]tokenResponse, 0, len(tokens))
	for _, t := range tokens {
		resp = append(resp, newTokenResponse(t))
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// getToken is visible to the owner and to anyone holding a role on the token.
func (h *Handler) getToken(w http.ResponseWriter, r *http.Request) {
	tokenID, err := pathID(r)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	t, err := h.publish.Get(r.Context(), tokenID)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	user := userFrom(r)
	if t.OwnerID != user {
		if err := h.access.Require(r.Context(), user, domain.CapMember, &tokenID); err != nil {
			h.respondWithDomainError(w, r, err)
			return
		}
	}
	respondWithJSON(w, http.StatusOK, newTokenResponse(t))
}

func (h *Handler) requestPublish(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		respondWithError(w, http.StatusBadRequest, "Idempotency-Key header is required")
		return
	}

	tokenID, err := pathID(r)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	res, err := h.publish.RequestPublish(r.Context(), publish.Request{
		TokenID:        tokenID,
		RequesterID:    userFrom(r),
		IdempotencyKey: key,
	})
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	code := http.StatusAccepted
	if res.Replayed {
		code = http.StatusOK
	}
	respondWithJSON(w, code, publishResponse{
		TokenID:       res.TokenID,
		CommandID:     res.CommandID,
		IntentEventID: res.IntentEventID,
		Price:         res.Price,
		Replayed:      res.Replayed,
	})
}

func (h *Handler) resetToken(w http.ResponseWriter, r *http.Request) {
	tokenID, err := pathID(r)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	t, err := h.publish.ResetFailed(r.Context(), userFrom(r), tokenID)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, newTokenResponse(t))
}

// reportOutcome is the executor callback for asynchronous submissions.
func (h *Handler) reportOutcome(w http.ResponseWriter, r *http.Request) {
	if err := h.access.Require(r.Context(), userFrom(r), domain.CapEthereumNetwork, nil); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	var o domain.Outcome
	if err := decodeJSON(r, &o); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	o.CommandID = mux.Vars(r)["id"]

	if err := h.publish.HandleOutcome(r.Context(), &o); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, &domain.ValidationError{Field: "id", Message: "must be a positive integer"}
	}
	return id, nil
}
