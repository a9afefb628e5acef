package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"plata/internal/core"
	"plata/internal/services"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError maps domain errors onto HTTP statuses. Validation failures
// are the client's fault, persistence failures are ours.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, services.ErrEmailTaken):
		status = http.StatusConflict
	case errors.Is(err, core.ErrAccountReferenced):
		status = http.StatusConflict
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case core.IsValidationError(err):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrPersistence):
		status = http.StatusInternalServerError
		message = "persistence failure"
	}

	if status >= 500 {
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	}
	writeJSON(w, status, errorResponse{Error: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}
	return true
}
