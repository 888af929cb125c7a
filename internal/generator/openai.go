package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/fpang/penguin-studio/internal/store"
	"github.com/rs/zerolog/log"
)

// OpenAI image defaults.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com"
	DefaultOpenAIModel   = "dall-e-3"
	defaultImageSize     = "1024x1024"
	defaultImageQuality  = "hd"
	defaultImageStyle    = "vivid"
)

var (
	validSizes     = map[string]bool{"1024x1024": true, "1792x1024": true, "1024x1792": true}
	validQualities = map[string]bool{"standard": true, "hd": true}
	validStyles    = map[string]bool{"vivid": true, "natural": true}
)

// OpenAIImage generates still images with the OpenAI images API.
type OpenAIImage struct {
	apiKey     string
	baseURL    string
	model      string
	maxPrompt  int
	httpClient *http.Client
	now        func() time.Time
}

var _ Generator = (*OpenAIImage)(nil)

// NewOpenAIImage creates an OpenAI image generator. Empty baseURL or model pick the defaults.
func NewOpenAIImage(apiKey, baseURL, model string, maxPrompt int) *OpenAIImage {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIImage{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		maxPrompt:  maxPrompt,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		now:        time.Now,
	}
}

func (g *OpenAIImage) Kind() store.MediaKind { return store.KindImage }
func (g *OpenAIImage) Name() string          { return "openai" }

type openAIImageRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size"`
	Quality string `json:"quality"`
	Style   string `json:"style"`
}

type openAIImageResponse struct {
	Data []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (g *OpenAIImage) Generate(ctx context.Context, prompt string, c Constraints) (*store.MediaRecord, error) {
	if err := ValidatePrompt(prompt, g.maxPrompt); err != nil {
		return nil, err
	}
	size, quality, style := orDefault(c.Size, defaultImageSize), orDefault(c.Quality, defaultImageQuality), orDefault(c.Style, defaultImageStyle)
	if !validSizes[size] {
		return nil, apperr.Validation("unsupported image size %q", size)
	}
	if !validQualities[quality] {
		return nil, apperr.Validation("unsupported image quality %q", quality)
	}
	if !validStyles[style] {
		return nil, apperr.Validation("unsupported image style %q", style)
	}

	body, err := json.Marshal(openAIImageRequest{Model: g.model, Prompt: prompt, N: 1, Size: size, Quality: quality, Style: style})
	if err != nil {
		return nil, fmt.Errorf("marshal image request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, apperr.API(g.Name(), 0, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.API(g.Name(), resp.StatusCode, "read response", err)
	}

	var out openAIImageResponse
	decodeErr := json.Unmarshal(data, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return nil, apperr.API(g.Name(), resp.StatusCode, msg, nil)
	}
	if decodeErr != nil {
		return nil, apperr.API(g.Name(), 0, "malformed response", decodeErr)
	}
	if len(out.Data) == 0 || out.Data[0].URL == "" {
		return nil, apperr.API(g.Name(), 0, "no image data returned", nil)
	}

	now := g.now()
	rec := &store.MediaRecord{
		ID:            NewID("img", now),
		Kind:          store.KindImage,
		Status:        store.StatusCompleted,
		MediaURL:      out.Data[0].URL,
		Prompt:        prompt,
		RevisedPrompt: out.Data[0].RevisedPrompt,
		Provider:      g.Name(),
		CreatedAt:     now.UTC(),
	}
	log.Info().Str("id", rec.ID).Str("size", size).Dur("elapsed", time.Since(start)).Msg("Image generated")
	return rec, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
