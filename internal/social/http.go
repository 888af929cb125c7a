package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/rs/zerolog/log"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	maxMediaBytes      = 512 << 20
	maxErrorBody       = 300
)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// request is one outbound API call. Body is JSON-encoded unless Raw is set.
type request struct {
	Method      string
	URL         string
	Header      map[string]string
	Body        any
	Raw         io.Reader
	ContentType string
}

// do sends req and decodes a 2xx JSON body into out (when non-nil). Non-2xx
// responses become apperr API errors attributed to provider.
func do(ctx context.Context, hc *http.Client, provider string, req request, out any) error {
	var body io.Reader
	contentType := req.ContentType
	switch {
	case req.Raw != nil:
		body = req.Raw
	case req.Body != nil:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", provider, err)
		}
		body = bytes.NewReader(data)
		if contentType == "" {
			contentType = "application/json; charset=UTF-8"
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", provider, stripURL(err))
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := hc.Do(httpReq)
	if err != nil {
		return apperr.API(provider, 0, "request failed", stripURL(err))
	}
	defer resp.Body.Close()
	log.Debug().Str("provider", provider).Str("method", req.Method).Int("statusCode", resp.StatusCode).
		Dur("duration", time.Since(start)).Msg("Social API response")

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.API(provider, resp.StatusCode, errorMessage(resp.StatusCode, data), nil)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.API(provider, http.StatusBadGateway, "malformed response: "+truncate(string(data), maxErrorBody), err)
	}
	return nil
}

// stripURL drops the request URL from transport errors. Webhook URLs carry
// their credential in the path or are the credential themselves.
func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}

// errorMessage extracts the most specific message from a provider error body.
func errorMessage(status int, body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		switch e := parsed.Error.(type) {
		case string:
			if e != "" {
				return e
			}
		case map[string]any:
			if m, ok := e["message"].(string); ok && m != "" {
				return m
			}
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return truncate(s, maxErrorBody)
	}
	return fmt.Sprintf("HTTP %d", status)
}

// download fetches media bytes and their content type.
func download(ctx context.Context, hc *http.Client, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", stripURL(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", apperr.API("media", resp.StatusCode, fmt.Sprintf("download media: HTTP %d", resp.StatusCode), nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, "", apperr.Validation("media exceeds %d bytes", maxMediaBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
