package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const (
	testVerifyToken = "penguin_verify_token"
	testAppSecret   = "penguin_app_secret"
)

func signPayload(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerification(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
		body  string
	}{
		{"valid token", "hub.mode=subscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=1158201444", http.StatusOK, "1158201444"},
		{"invalid token", "hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1", http.StatusForbidden, ""},
		{"missing mode", "hub.verify_token=" + testVerifyToken + "&hub.challenge=1", http.StatusBadRequest, ""},
		{"missing challenge", "hub.mode=subscribe&hub.verify_token=" + testVerifyToken, http.StatusBadRequest, ""},
		{"unexpected mode", "hub.mode=unsubscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=1", http.StatusBadRequest, ""},
	}
	h := NewHandler(testVerifyToken, testAppSecret, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhook/instagram?"+tt.query, nil))
			if rr.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, rr.Code)
			}
			if tt.body != "" && rr.Body.String() != tt.body {
				t.Errorf("expected body %q, got %q", tt.body, rr.Body.String())
			}
		})
	}
}

func TestVerification_EmptyConfiguredTokenRejects(t *testing.T) {
	h := NewHandler("", testAppSecret, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhook/instagram?hub.mode=subscribe&hub.verify_token=&hub.challenge=1", nil))
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rr.Code)
	}
}

func TestNotification_DispatchesChanges(t *testing.T) {
	var got []Change
	h := NewHandler(testVerifyToken, testAppSecret, func(_ context.Context, c Change) {
		got = append(got, c)
	})
	payload := `{"object":"instagram","entry":[{"id":"17841400","time":1520383571,"changes":[` +
		`{"field":"comments","value":{"text":"so fluffy"}},{"field":"mentions","value":{"media_id":"9"}}]}]}`

	req := httptest.NewRequest(http.MethodPost, "/webhook/instagram", strings.NewReader(payload))
	req.Header.Set("X-Hub-Signature-256", signPayload(testAppSecret, payload))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(got))
	}
	if got[0].Field != "comments" || got[0].AccountID != "17841400" {
		t.Errorf("unexpected first change: %+v", got[0])
	}
	if !strings.Contains(string(got[0].Value), "so fluffy") {
		t.Errorf("expected raw value to be kept, got %s", got[0].Value)
	}
}

func TestNotification_Rejections(t *testing.T) {
	valid := `{"object":"instagram","entry":[]}`
	tests := []struct {
		name      string
		payload   string
		signature string
		want      int
	}{
		{"invalid signature", valid, signPayload("wrong_secret", valid), http.StatusForbidden},
		{"missing signature", valid, "", http.StatusForbidden},
		{"wrong prefix", valid, "md5=abc123", http.StatusForbidden},
		{"empty body", "", "sha256=abc123", http.StatusBadRequest},
		{"malformed json", "{not json", signPayload(testAppSecret, "{not json"), http.StatusBadRequest},
	}
	called := false
	h := NewHandler(testVerifyToken, testAppSecret, func(context.Context, Change) { called = true })
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook/instagram", strings.NewReader(tt.payload))
			if tt.signature != "" {
				req.Header.Set("X-Hub-Signature-256", tt.signature)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, rr.Code)
			}
		})
	}
	if called {
		t.Error("change callback must not run for rejected notifications")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewHandler(testVerifyToken, testAppSecret, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/webhook/instagram", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rr.Code)
	}
}
