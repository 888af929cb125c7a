package apperr

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// FromGenAI classifies an error returned by the Gemini SDK into the taxonomy.
func FromGenAI(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) && apiErr != nil {
		return API(provider, apiErr.Code, apiErr.Message, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return API(provider, 0, "request deadline exceeded", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key not valid"), strings.Contains(msg, "permission denied"):
		return API(provider, 403, "API key rejected", err)
	case strings.Contains(msg, "quota"), strings.Contains(msg, "resource exhausted"):
		return API(provider, 429, "quota exceeded", err)
	default:
		return API(provider, 0, "request failed", err)
	}
}
