package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/fpang/penguin-studio/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestValidatePrompt(t *testing.T) {
	assert.True(t, apperr.IsKind(ValidatePrompt("  ", 0), apperr.KindValidation))
	assert.True(t, apperr.IsKind(ValidatePrompt(strings.Repeat("p", 11), 10), apperr.KindValidation))
	assert.NoError(t, ValidatePrompt("a penguin", 0))
}

func TestNewID_StrictlyIncreasing(t *testing.T) {
	now := time.UnixMilli(1_900_000_000_000)
	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := NewID("vid", now)
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}

func TestMock_ShapesRecords(t *testing.T) {
	ctx := context.Background()

	img, err := NewMock(store.KindImage, 0).Generate(ctx, "penguin prompt", Constraints{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(img.ID, "mock_img_"))
	assert.Equal(t, "https://picsum.photos/1024/1024?random="+img.ID, img.MediaURL)
	assert.Equal(t, "Enhanced mock: penguin prompt", img.RevisedPrompt)
	assert.Equal(t, store.StatusCompleted, img.Status)

	vid, err := NewMock(store.KindVideo, 0).Generate(ctx, "penguin prompt", Constraints{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(vid.ID, "mock_vid_"))
	assert.Equal(t, MockVideoURL, vid.MediaURL)
	assert.Equal(t, DefaultVideoDuration, vid.Duration)

	_, err = NewMock(store.KindVideo, 0).Generate(ctx, "", Constraints{})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestOpenAIImage_Success(t *testing.T) {
	var got openAIImageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"data":[{"url":"https://img.example.com/p.png","revised_prompt":"A fluffy penguin"}]}`))
	}))
	defer server.Close()

	g := NewOpenAIImage("sk-test", server.URL, "", 0)
	rec, err := g.Generate(context.Background(), "a penguin", Constraints{Size: "1792x1024"})
	require.NoError(t, err)

	assert.Equal(t, "dall-e-3", got.Model)
	assert.Equal(t, "1792x1024", got.Size)
	assert.Equal(t, "hd", got.Quality)
	assert.Equal(t, "vivid", got.Style)
	assert.Equal(t, 1, got.N)

	assert.True(t, strings.HasPrefix(rec.ID, "img_"))
	assert.Equal(t, "https://img.example.com/p.png", rec.MediaURL)
	assert.Equal(t, "A fluffy penguin", rec.RevisedPrompt)
	assert.Equal(t, store.KindImage, rec.Kind)
}

func TestOpenAIImage_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCause apperr.Cause
		wantMsg   string
	}{
		{"content policy", 400, `{"error":{"message":"Your request was rejected by the safety system"}}`, apperr.CauseClient, "safety system"},
		{"provider outage", 503, `upstream unavailable`, apperr.CauseProvider, "status 503"},
		{"no data", 200, `{"data":[]}`, apperr.CauseProvider, "no image data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewOpenAIImage("k", server.URL, "", 0).Generate(context.Background(), "a penguin", Constraints{})
			require.Error(t, err)
			appErr, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCause, appErr.Cause)
			assert.Contains(t, appErr.Error(), tt.wantMsg)
		})
	}
}

func TestOpenAIImage_RejectsUnknownSize(t *testing.T) {
	_, err := NewOpenAIImage("k", "http://unused", "", 0).Generate(context.Background(), "p", Constraints{Size: "10x10"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

// newFalServer fakes the queue API. The request completes after pendingPolls status checks.
func newFalServer(t *testing.T, pendingPolls int32, videoBody string) (*httptest.Server, *falSubmitRequest) {
	t.Helper()
	var submitted falSubmitRequest
	var polls atomic.Int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Key fal-key", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
			json.NewEncoder(w).Encode(falSubmitResponse{
				RequestID:   "req-1",
				StatusURL:   server.URL + "/requests/req-1/status",
				ResponseURL: server.URL + "/requests/req-1",
			})
		case strings.HasSuffix(r.URL.Path, "/status"):
			n := polls.Add(1)
			status := falStatusCompleted
			if n <= pendingPolls {
				status = "IN_PROGRESS"
			}
			json.NewEncoder(w).Encode(map[string]any{
				"status":         status,
				"queue_position": 0,
				"logs":           []map[string]string{{"message": "rendering", "timestamp": "t"}},
			})
		default:
			w.Write([]byte(videoBody))
		}
	}))
	return server, &submitted
}

func TestFalVideo_Success(t *testing.T) {
	server, submitted := newFalServer(t, 2, `{"video":{"url":"https://v.fal.media/penguin.mp4"}}`)
	defer server.Close()

	var updates []Progress
	g := NewFalVideo(FalVideoOptions{
		APIKey:       "fal-key",
		QueueURL:     server.URL,
		PollInterval: time.Millisecond,
		OnProgress:   func(p Progress) { updates = append(updates, p) },
	})

	rec, err := g.Generate(context.Background(), "a penguin", Constraints{})
	require.NoError(t, err)
	assert.Equal(t, "https://v.fal.media/penguin.mp4", rec.MediaURL)
	assert.True(t, strings.HasPrefix(rec.ID, "vid_"))
	assert.Equal(t, DefaultVideoDuration, rec.Duration)
	assert.Equal(t, "a penguin", rec.Prompt)

	assert.Equal(t, "a penguin"+framingSuffix, submitted.Prompt)
	assert.Equal(t, "9:16", submitted.AspectRatio)
	assert.Equal(t, "5", submitted.Duration)

	require.Len(t, updates, 3)
	assert.Equal(t, "IN_PROGRESS", updates[0].Status)
	assert.Equal(t, falStatusCompleted, updates[2].Status)
	assert.Equal(t, []string{"rendering"}, updates[0].Logs)
}

func TestFalVideo_ObserverPanicDoesNotFailGeneration(t *testing.T) {
	server, _ := newFalServer(t, 0, `{"video":{"url":"https://v.fal.media/ok.mp4"}}`)
	defer server.Close()

	g := NewFalVideo(FalVideoOptions{
		APIKey:       "fal-key",
		QueueURL:     server.URL,
		PollInterval: time.Millisecond,
		OnProgress:   func(Progress) { panic("observer bug") },
	})
	rec, err := g.Generate(context.Background(), "a penguin", Constraints{Duration: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, rec.Duration)
}

func TestFalVideo_TimeoutIs504(t *testing.T) {
	server, _ := newFalServer(t, 1_000_000, `{}`)
	defer server.Close()

	g := NewFalVideo(FalVideoOptions{
		APIKey:       "fal-key",
		QueueURL:     server.URL,
		PollInterval: 5 * time.Millisecond,
		Timeout:      50 * time.Millisecond,
	})
	_, err := g.Generate(context.Background(), "a penguin", Constraints{})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindTimeout))
	assert.Equal(t, http.StatusGatewayTimeout, apperr.StatusOf(err))
}

func TestFalVideo_MissingVideoIsProviderError(t *testing.T) {
	server, _ := newFalServer(t, 0, `{"video":null}`)
	defer server.Close()

	g := NewFalVideo(FalVideoOptions{APIKey: "fal-key", QueueURL: server.URL, PollInterval: time.Millisecond})
	_, err := g.Generate(context.Background(), "a penguin", Constraints{})
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CauseProvider, appErr.Cause)
}

type fakeImageModel struct {
	resp *genai.GenerateImagesResponse
	err  error
	cfg  *genai.GenerateImagesConfig
}

func (f *fakeImageModel) GenerateImages(_ context.Context, _, _ string, cfg *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error) {
	f.cfg = cfg
	return f.resp, f.err
}

func TestImagenImage_WritesToSink(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(dir, "http://localhost:8080/media/")
	require.NoError(t, err)

	model := &fakeImageModel{resp: &genai.GenerateImagesResponse{
		GeneratedImages: []*genai.GeneratedImage{{
			Image:          &genai.Image{ImageBytes: []byte("png-bytes"), MIMEType: "image/png"},
			EnhancedPrompt: "A penguin, refined",
		}},
	}}
	g := NewImagenImage(model, "", sink, 0)

	rec, err := g.Generate(context.Background(), "a penguin", Constraints{Size: "1024x1792"})
	require.NoError(t, err)
	assert.Equal(t, "9:16", model.cfg.AspectRatio)
	assert.True(t, strings.HasPrefix(rec.MediaURL, "http://localhost:8080/media/images/"))
	assert.Equal(t, "A penguin, refined", rec.RevisedPrompt)

	rel := strings.TrimPrefix(rec.MediaURL, "http://localhost:8080/media/")
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestImagenImage_FilteredIsClientError(t *testing.T) {
	sink, err := NewDirSink(t.TempDir(), "http://x")
	require.NoError(t, err)
	model := &fakeImageModel{resp: &genai.GenerateImagesResponse{
		GeneratedImages: []*genai.GeneratedImage{{RAIFilteredReason: "unsafe content"}},
	}}

	_, err = NewImagenImage(model, "", sink, 0).Generate(context.Background(), "a penguin", Constraints{})
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CauseClient, appErr.Cause)
}

func TestDirSink_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewDirSink(dir, "http://x")
	require.NoError(t, err)

	url, err := sink.Put(context.Background(), "../../etc/passwd", "text/plain", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "http://x/etc/passwd", url)
	_, err = os.Stat(filepath.Join(dir, "etc", "passwd"))
	assert.NoError(t, err, "file stays inside the sink directory")
}
