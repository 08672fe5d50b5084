package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"token-ledger/internal/domain"
)

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithDomainError maps the error taxonomy onto status codes.
// Storage and consistency faults are logged and reported without detail.
func (h *Handler) respondWithDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var funds *domain.InsufficientFundsError
	if errors.As(err, &funds) {
		respondWithJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":   err.Error(),
			"balance": funds.Balance,
			"price":   funds.Price,
		})
		return
	}

	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		respondWithError(w, code, "internal error")
		return
	}
	respondWithError(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrIdempotencyMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Message: "invalid JSON payload"}
	}
	return nil
}
