package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"grimm.is/audiolink/internal/command"
	"grimm.is/audiolink/internal/engine"
	"grimm.is/audiolink/internal/link"
	"grimm.is/audiolink/internal/routing"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteError sends a JSON error response
func WriteError(w http.ResponseWriter, code int, message string, details ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := ErrorResponse{Error: message}
	if len(details) > 0 {
		resp.Details = details[0]
	}
	json.NewEncoder(w).Encode(resp)
}

// WriteJSON sends a JSON success response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeEngineError maps an engine error to a status code.
func writeEngineError(w http.ResponseWriter, err error) {
	var noStream *engine.NoStreamError
	switch {
	case errors.As(err, &noStream):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrAutoMode), errors.Is(err, engine.ErrHubDisabled):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, command.ErrUnreachable):
		WriteError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, command.ErrNotFound),
		errors.Is(err, command.ErrFailed),
		errors.Is(err, link.ErrUnresolvedKey),
		errors.Is(err, link.ErrNoCompatiblePort):
		WriteError(w, http.StatusBadGateway, "routing failed", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// roleParam resolves the {role} path segment.
func roleParam(r *http.Request) (routing.Role, bool) {
	return routing.ParseRole(r.PathValue("role"))
}

// limitParam parses ?limit=n, clamped to [1, max].
func limitParam(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
