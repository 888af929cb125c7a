package instagram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/fpang/penguin-studio/internal/apperr"
)

// newTestClient creates a Client pointing at a test HTTP server.
func newTestClient(server *httptest.Server) *Client {
	return &Client{
		httpClient:  server.Client(),
		accessToken: "test-token",
		userID:      "12345",
		baseURL:     server.URL,
	}
}

func TestCreateContainerImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, "/12345/media") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		r.ParseForm()
		if r.Form.Get("image_url") != "https://example.com/penguin.png" {
			t.Errorf("unexpected image_url: %s", r.Form.Get("image_url"))
		}
		if r.Form.Get("media_type") != "" {
			t.Errorf("expected no media_type for image, got %s", r.Form.Get("media_type"))
		}
		if r.Form.Get("caption") != "Waddle on" {
			t.Errorf("unexpected caption: %s", r.Form.Get("caption"))
		}
		if r.Form.Get("access_token") != "test-token" {
			t.Errorf("missing access token")
		}

		json.NewEncoder(w).Encode(apiResponse{ID: "container-img-001"})
	}))
	defer server.Close()

	client := newTestClient(server)
	id, err := client.CreateContainer(context.Background(), Container{ImageURL: "https://example.com/penguin.png", Caption: "Waddle on"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "container-img-001" {
		t.Errorf("expected container-img-001, got %s", id)
	}
}

func TestCreateContainerVideoAsReel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("media_type") != "REELS" {
			t.Errorf("expected media_type=REELS for video, got %s", r.Form.Get("media_type"))
		}
		if r.Form.Get("video_url") != "https://example.com/video.mp4" {
			t.Errorf("unexpected video_url: %s", r.Form.Get("video_url"))
		}

		json.NewEncoder(w).Encode(apiResponse{ID: "container-reel-001"})
	}))
	defer server.Close()

	client := newTestClient(server)
	id, err := client.CreateContainer(context.Background(), Container{VideoURL: "https://example.com/video.mp4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "container-reel-001" {
		t.Errorf("expected container-reel-001, got %s", id)
	}
}

func TestPublish(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/12345/media_publish") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		r.ParseForm()
		if r.Form.Get("creation_id") != "container-001" {
			t.Errorf("unexpected creation_id: %s", r.Form.Get("creation_id"))
		}

		json.NewEncoder(w).Encode(apiResponse{ID: "post-001"})
	}))
	defer server.Close()

	client := newTestClient(server)
	postID, err := client.Publish(context.Background(), "container-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if postID != "post-001" {
		t.Errorf("expected post-001, got %s", postID)
	}
}

func TestAPIErrorIsClientCaused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(apiResponse{
			Error: &apiErr{Message: "Invalid OAuth access token", Type: "OAuthException", Code: 190},
		})
	}))
	defer server.Close()

	client := newTestClient(server)
	_, err := client.CreateContainer(context.Background(), Container{ImageURL: "https://example.com/a.png"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "Invalid OAuth access token") {
		t.Errorf("error should contain API message, got: %v", err)
	}
	e, ok := apperr.As(err)
	if !ok {
		t.Fatalf("expected apperr.Error, got %T", err)
	}
	if e.Cause != apperr.CauseClient {
		t.Errorf("expected client cause, got %s", e.Cause)
	}
}

func TestNon2xxWithoutBodyIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	client := newTestClient(server)
	_, err := client.Publish(context.Background(), "c1")
	if err == nil {
		t.Fatal("expected error")
	}
	if apperr.StatusOf(err) != http.StatusInternalServerError {
		t.Errorf("expected provider-caused 500, got %d", apperr.StatusOf(err))
	}
}

func TestContainerStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Query().Get("fields") != "status_code,status" {
			t.Errorf("unexpected fields: %s", r.URL.Query().Get("fields"))
		}
		json.NewEncoder(w).Encode(containerStatusResponse{ID: "c1", StatusCode: "FINISHED"})
	}))
	defer server.Close()

	client := newTestClient(server)
	status, err := client.ContainerStatus(context.Background(), "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != StatusFinished {
		t.Errorf("expected FINISHED, got %s", status)
	}
}

func TestWaitForContainerFinishesAfterPolling(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		code := StatusInProgress
		if n >= 3 {
			code = StatusFinished
		}
		json.NewEncoder(w).Encode(containerStatusResponse{ID: "c1", StatusCode: code})
	}))
	defer server.Close()

	client := newTestClient(server)
	if err := client.WaitForContainer(context.Background(), "c1", 5, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 status calls, got %d", calls.Load())
	}
}

func TestWaitForContainerBoundedAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(containerStatusResponse{ID: "c1", StatusCode: StatusInProgress})
	}))
	defer server.Close()

	client := newTestClient(server)
	err := client.WaitForContainer(context.Background(), "c1", 4, 0)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls.Load() != 4 {
		t.Errorf("expected exactly 4 status calls, got %d", calls.Load())
	}
}

func TestWaitForContainerErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(containerStatusResponse{ID: "c1", StatusCode: StatusError})
	}))
	defer server.Close()

	client := newTestClient(server)
	err := client.WaitForContainer(context.Background(), "c1", 5, 0)
	if err == nil || !strings.Contains(err.Error(), "ERROR") {
		t.Fatalf("expected processing failure, got %v", err)
	}
}

func TestTransportErrorOmitsAccessToken(t *testing.T) {
	client := &Client{
		httpClient:  &http.Client{},
		accessToken: "secret-page-token",
		userID:      "12345",
		baseURL:     "http://127.0.0.1:1",
	}

	_, err := client.ContainerStatus(context.Background(), "container-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "secret-page-token") {
		t.Errorf("error leaks access token: %v", err)
	}
	if !strings.Contains(err.Error(), "request failed") {
		t.Errorf("expected transport failure, got: %v", err)
	}
}
