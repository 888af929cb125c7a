package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/fpang/penguin-studio/internal/apperr"
)

type errorResponse struct {
	Step    string         `json:"step,omitempty"`
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

// respondError maps err onto its status; rate limit errors also set Retry-After.
func respondError(w http.ResponseWriter, step string, err error) {
	status := apperr.StatusOf(err)
	body := errorResponse{
		Step:    step,
		Error:   err.Error(),
		Code:    apperr.CodeOf(err),
		Details: apperr.DetailsOf(err),
	}
	if e, ok := apperr.As(err); ok && e.Kind != apperr.KindInternal {
		body.Error = e.Message
	}
	if secs, ok := body.Details["retryAfter"].(int); ok && status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	respondJSON(w, status, body)
}
