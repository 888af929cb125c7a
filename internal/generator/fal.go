package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/fpang/penguin-studio/internal/store"
	"github.com/rs/zerolog/log"
)

// fal.ai video defaults.
const (
	DefaultFalQueueURL   = "https://queue.fal.run"
	DefaultFalVideoModel = "fal-ai/kling-video/v1.6/standard/text-to-video"
	DefaultVideoTimeout  = 5 * time.Minute
	DefaultVideoDuration = 5
	DefaultAspectRatio   = "9:16"
	defaultPollInterval  = 3 * time.Second
	framingSuffix        = ". Wide shot, full body framing, avoid extreme close-ups, show complete penguin figures with environmental context."
	falStatusCompleted   = "COMPLETED"
)

// Progress is one queue update from a long-running generation.
type Progress struct {
	RequestID     string
	Status        string
	QueuePosition int
	Logs          []string
}

// ProgressFunc observes queue updates. It cannot influence the result.
type ProgressFunc func(Progress)

// FalVideoOptions configures FalVideo. Zero values pick the defaults.
type FalVideoOptions struct {
	APIKey       string
	QueueURL     string
	Model        string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxPrompt    int
	OnProgress   ProgressFunc
}

// FalVideo generates short videos through the fal.ai queue API:
// submit, poll the status URL, then fetch the result.
type FalVideo struct {
	apiKey       string
	queueURL     string
	model        string
	timeout      time.Duration
	pollInterval time.Duration
	maxPrompt    int
	onProgress   ProgressFunc
	httpClient   *http.Client
	now          func() time.Time
}

var _ Generator = (*FalVideo)(nil)

// NewFalVideo creates a fal.ai video generator.
func NewFalVideo(opts FalVideoOptions) *FalVideo {
	g := &FalVideo{
		apiKey:       opts.APIKey,
		queueURL:     opts.QueueURL,
		model:        opts.Model,
		timeout:      opts.Timeout,
		pollInterval: opts.PollInterval,
		maxPrompt:    opts.MaxPrompt,
		onProgress:   opts.OnProgress,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
	}
	if g.queueURL == "" {
		g.queueURL = DefaultFalQueueURL
	}
	if g.model == "" {
		g.model = DefaultFalVideoModel
	}
	if g.timeout <= 0 {
		g.timeout = DefaultVideoTimeout
	}
	if g.pollInterval <= 0 {
		g.pollInterval = defaultPollInterval
	}
	return g
}

func (g *FalVideo) Kind() store.MediaKind { return store.KindVideo }
func (g *FalVideo) Name() string          { return "fal" }

type falSubmitRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
	Duration    string `json:"duration"`
}

type falSubmitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type falStatusResponse struct {
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position"`
	Error         string `json:"error"`
	Logs          []struct {
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	} `json:"logs"`
}

type falVideoResult struct {
	Video *struct {
		URL string `json:"url"`
	} `json:"video"`
}

func (g *FalVideo) Generate(ctx context.Context, prompt string, c Constraints) (*store.MediaRecord, error) {
	if err := ValidatePrompt(prompt, g.maxPrompt); err != nil {
		return nil, err
	}
	duration := c.Duration
	if duration <= 0 {
		duration = DefaultVideoDuration
	}
	aspect := orDefault(c.AspectRatio, DefaultAspectRatio)

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	url, err := g.run(runCtx, falSubmitRequest{
		Prompt:      prompt + framingSuffix,
		AspectRatio: aspect,
		Duration:    strconv.Itoa(duration),
	})
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, apperr.Timeout(g.Name(), g.timeout, err)
		}
		return nil, err
	}

	now := g.now()
	rec := &store.MediaRecord{
		ID:        NewID("vid", now),
		Kind:      store.KindVideo,
		Status:    store.StatusCompleted,
		MediaURL:  url,
		Prompt:    prompt,
		Duration:  duration,
		Provider:  g.Name(),
		CreatedAt: now.UTC(),
	}
	log.Info().Str("id", rec.ID).Int("duration", duration).Dur("elapsed", time.Since(start)).Msg("Video generated")
	return rec, nil
}

func (g *FalVideo) run(ctx context.Context, input falSubmitRequest) (string, error) {
	var submitted falSubmitResponse
	if _, err := g.call(ctx, http.MethodPost, g.queueURL+"/"+g.model, input, &submitted); err != nil {
		return "", err
	}
	if submitted.RequestID == "" {
		return "", apperr.API(g.Name(), 0, "queue submission returned no request id", nil)
	}
	statusURL := submitted.StatusURL
	if statusURL == "" {
		statusURL = fmt.Sprintf("%s/%s/requests/%s/status", g.queueURL, g.model, submitted.RequestID)
	}
	responseURL := submitted.ResponseURL
	if responseURL == "" {
		responseURL = fmt.Sprintf("%s/%s/requests/%s", g.queueURL, g.model, submitted.RequestID)
	}
	log.Debug().Str("requestId", submitted.RequestID).Msg("Video request queued")

	for {
		var st falStatusResponse
		if _, err := g.call(ctx, http.MethodGet, statusURL+"?logs=1", nil, &st); err != nil {
			return "", err
		}
		if st.Error != "" {
			return "", apperr.API(g.Name(), 0, st.Error, nil)
		}
		g.report(submitted.RequestID, st)

		if st.Status == falStatusCompleted {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(g.pollInterval):
		}
	}

	var result falVideoResult
	if _, err := g.call(ctx, http.MethodGet, responseURL, nil, &result); err != nil {
		return "", err
	}
	if result.Video == nil || result.Video.URL == "" {
		return "", apperr.API(g.Name(), 0, "no video data returned", nil)
	}
	return result.Video.URL, nil
}

// report forwards a queue update to the observer, shielding generation from observer panics.
func (g *FalVideo) report(requestID string, st falStatusResponse) {
	logs := make([]string, 0, len(st.Logs))
	for _, l := range st.Logs {
		logs = append(logs, l.Message)
	}
	log.Debug().Str("requestId", requestID).Str("status", st.Status).Int("queuePosition", st.QueuePosition).Msg("Video generation status")
	if g.onProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("Progress observer panicked")
		}
	}()
	g.onProgress(Progress{RequestID: requestID, Status: st.Status, QueuePosition: st.QueuePosition, Logs: logs})
}

func (g *FalVideo) call(ctx context.Context, method, url string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+g.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, apperr.API(g.Name(), 0, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, apperr.API(g.Name(), resp.StatusCode, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, apperr.API(g.Name(), resp.StatusCode, fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(data), 200)), nil)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, apperr.API(g.Name(), 0, "malformed response", err)
	}
	return resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
