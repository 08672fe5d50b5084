package api

import (
	"net/http"

	"token-ledger/internal/domain"
)

func (h *Handler) getGrants(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	if err := h.requireSelfOr(r.Context(), userFrom(r), userID, domain.CapChangePermissions); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	g, err := h.access.Grants(r.Context(), userID)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, g)
}

func (h *Handler) setGrants(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	var g domain.Grants
	if err := decodeJSON(r, &g); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	if err := h.access.SetGrants(r.Context(), userFrom(r), userID, g); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, g)
}
