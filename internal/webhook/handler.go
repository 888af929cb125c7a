// Package webhook receives Instagram webhook notifications about media that
// was shared from the studio (comments, mentions, story insights).
//
// Verification (GET): Meta sends hub.mode, hub.verify_token and
// hub.challenge; a matching token is answered with the challenge.
//
// Notifications (POST): the JSON body is signed with X-Hub-Signature-256
// (HMAC-SHA256 keyed by the App Secret). Verified payloads are decoded and
// every change is passed to the configured ChangeFunc.
//
// Reference: https://developers.facebook.com/docs/instagram-platform/webhooks
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// maxBodySize caps notification bodies; Meta batches up to 1000 updates.
const maxBodySize = 1 << 20

// Notification is the envelope Meta posts.
type Notification struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes for one account.
type Entry struct {
	ID      string   `json:"id"`
	Time    int64    `json:"time"`
	Changes []Change `json:"changes"`
}

// Change is one field update. Value is left raw; its shape depends on Field.
type Change struct {
	AccountID string          `json:"-"`
	Field     string          `json:"field"`
	Value     json.RawMessage `json:"value"`
}

// ChangeFunc handles one verified change.
type ChangeFunc func(ctx context.Context, c Change)

// Handler handles Meta webhook verification and notifications.
type Handler struct {
	verifyToken string
	appSecret   string
	onChange    ChangeFunc
}

// NewHandler creates a webhook handler. onChange may be nil, in which case
// changes are only logged.
func NewHandler(verifyToken, appSecret string, onChange ChangeFunc) *Handler {
	return &Handler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		onChange:    onChange,
	}
}

// ServeHTTP dispatches to verification (GET) or notification handling (POST).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerification(w, r)
	case http.MethodPost:
		h.handleNotification(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "" || challenge == "" {
		log.Warn().Str("mode", mode).Msg("Webhook verification missing required parameters")
		http.Error(w, "missing required parameters", http.StatusBadRequest)
		return
	}
	if mode != "subscribe" {
		log.Warn().Str("mode", mode).Msg("Webhook verification unexpected mode")
		http.Error(w, "invalid mode", http.StatusBadRequest)
		return
	}
	if h.verifyToken == "" || !hmac.Equal([]byte(token), []byte(h.verifyToken)) {
		log.Warn().Msg("Webhook verification failed: invalid verify token")
		http.Error(w, "invalid verify token", http.StatusForbidden)
		return
	}

	log.Info().Msg("Webhook verification successful")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

func (h *Handler) handleNotification(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		log.Error().Err(err).Msg("Webhook notification: failed to read body")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		log.Warn().Msg("Webhook notification: missing X-Hub-Signature-256 header")
		http.Error(w, "missing signature", http.StatusForbidden)
		return
	}
	if !h.verifySignature(body, signature) {
		log.Warn().Msg("Webhook notification: invalid signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		log.Warn().Err(err).Msg("Webhook notification: malformed payload")
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	count := 0
	for _, entry := range n.Entry {
		for _, c := range entry.Changes {
			c.AccountID = entry.ID
			count++
			log.Info().Str("object", n.Object).Str("accountId", entry.ID).Str("field", c.Field).
				RawJSON("value", rawOrNull(c.Value)).Msg("Webhook change received")
			if h.onChange != nil {
				h.onChange(r.Context(), c)
			}
		}
	}
	log.Debug().Int("changes", count).Int("bodySize", len(body)).Msg("Webhook notification processed")
	w.WriteHeader(http.StatusOK)
}

// verifySignature checks a "sha256=<hex>" header against the body HMAC.
func (h *Handler) verifySignature(body []byte, header string) bool {
	received, ok := strings.CutPrefix(header, "sha256=")
	if !ok || received == "" || h.appSecret == "" {
		return false
	}
	receivedBytes, err := hex.DecodeString(received)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	return hmac.Equal(receivedBytes, mac.Sum(nil))
}

func rawOrNull(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return json.RawMessage("null")
	}
	return v
}
