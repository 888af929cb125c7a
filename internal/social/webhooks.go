package social

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fpang/penguin-studio/internal/store"
)

const (
	// DefaultIFTTTBaseURL is the IFTTT Maker webhooks host.
	DefaultIFTTTBaseURL = "https://maker.ifttt.com"
	// DefaultIFTTTEvent is the Maker event triggered when no event is configured.
	DefaultIFTTTEvent = "penguin_video_posted"

	webhookSource  = "penguin-studio"
	webhookTimeout = 10 * time.Second
)

// Zapier triggers a Zapier catch hook with the media and caption.
type Zapier struct {
	webhookURL string
	http       *http.Client
	now        func() time.Time
}

// NewZapier creates the adapter for webhookURL.
func NewZapier(webhookURL string) *Zapier {
	return &Zapier{webhookURL: webhookURL, http: &http.Client{Timeout: webhookTimeout}, now: time.Now}
}

func (z *Zapier) Platform() string { return PlatformZapier }

func (z *Zapier) Publish(ctx context.Context, post Post) Result {
	if err := requireCredentials(PlatformZapier, [2]string{"webhook URL", z.webhookURL}); err != nil {
		return failure(PlatformZapier, err)
	}
	if err := requireMedia(post); err != nil {
		return failure(PlatformZapier, err)
	}

	payload := map[string]string{
		"caption":   post.Caption,
		"platform":  target(post, PlatformZapier),
		"title":     title(post),
		"timestamp": z.now().UTC().Format(time.RFC3339),
		"source":    webhookSource,
	}
	if post.Kind == store.KindImage {
		payload["image_url"] = post.MediaURL
	} else {
		payload["video_url"] = post.MediaURL
	}

	if err := do(ctx, z.http, PlatformZapier, request{Method: http.MethodPost, URL: z.webhookURL, Body: payload}, nil); err != nil {
		return failure(PlatformZapier, err)
	}
	return success(PlatformZapier, "", "triggered automation on", nil)
}

// IFTTT triggers a Maker webhooks event with value1..value3.
type IFTTT struct {
	key     string
	event   string
	baseURL string
	http    *http.Client
}

// NewIFTTT creates the adapter. An empty event uses DefaultIFTTTEvent.
func NewIFTTT(key, event, baseURL string) *IFTTT {
	if event == "" {
		event = DefaultIFTTTEvent
	}
	if baseURL == "" {
		baseURL = DefaultIFTTTBaseURL
	}
	return &IFTTT{key: key, event: event, baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: webhookTimeout}}
}

func (i *IFTTT) Platform() string { return PlatformIFTTT }

func (i *IFTTT) Publish(ctx context.Context, post Post) Result {
	if err := requireCredentials(PlatformIFTTT, [2]string{"webhook key", i.key}); err != nil {
		return failure(PlatformIFTTT, err)
	}
	if err := requireMedia(post); err != nil {
		return failure(PlatformIFTTT, err)
	}

	endpoint := i.baseURL + "/trigger/" + url.PathEscape(i.event) + "/with/key/" + url.PathEscape(i.key)
	payload := map[string]string{
		"value1": post.MediaURL,
		"value2": post.Caption,
		"value3": target(post, PlatformIFTTT),
	}
	if err := do(ctx, i.http, PlatformIFTTT, request{Method: http.MethodPost, URL: endpoint, Body: payload}, nil); err != nil {
		return failure(PlatformIFTTT, err)
	}
	return success(PlatformIFTTT, "", "triggered automation on", nil)
}

func target(post Post, fallback string) string {
	if post.Target != "" {
		return post.Target
	}
	return fallback
}

func title(post Post) string {
	if post.Title != "" {
		return post.Title
	}
	if post.Kind == store.KindImage {
		return "Cute Penguin Image"
	}
	return "Cute Penguin Video"
}
