package social

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/fpang/penguin-studio/internal/store"
	"github.com/rs/zerolog/log"
)

// MixpostConfig configures the Mixpost adapter.
type MixpostConfig struct {
	APIToken   string
	BaseURL    string
	AccountIDs []string
}

// Mixpost uploads media to a self-hosted Mixpost instance and creates a post
// on every configured account.
type Mixpost struct {
	cfg  MixpostConfig
	http *http.Client
	now  func() time.Time
}

// NewMixpost creates the adapter. Missing credentials are reported on Publish.
func NewMixpost(cfg MixpostConfig) *Mixpost {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Mixpost{cfg: cfg, http: newHTTPClient(), now: time.Now}
}

func (m *Mixpost) Platform() string { return PlatformMixpost }

type mixpostData struct {
	Data struct {
		ID any `json:"id"`
	} `json:"data"`
}

type mixpostMedia struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type mixpostAccount struct {
	ID string `json:"id"`
}

type mixpostPost struct {
	Content     string           `json:"content"`
	Media       []mixpostMedia   `json:"media"`
	Accounts    []mixpostAccount `json:"accounts"`
	Status      string           `json:"status"`
	ScheduledAt string           `json:"scheduled_at,omitempty"`
}

func (m *Mixpost) Publish(ctx context.Context, post Post) Result {
	if err := requireCredentials(PlatformMixpost,
		[2]string{"API token", m.cfg.APIToken},
		[2]string{"URL", m.cfg.BaseURL},
		[2]string{"account IDs", strings.Join(m.cfg.AccountIDs, "")},
	); err != nil {
		return failure(PlatformMixpost, err)
	}
	if err := requireMedia(post); err != nil {
		return failure(PlatformMixpost, err)
	}

	mediaType := "video"
	if post.Kind == store.KindImage {
		mediaType = "image"
	}
	mediaID, err := m.upload(ctx, post.MediaURL, mediaType)
	if err != nil {
		return failure(PlatformMixpost, fmt.Errorf("upload media: %w", err))
	}

	body := mixpostPost{
		Content: post.Caption,
		Media:   []mixpostMedia{{ID: mediaID, Type: mediaType}},
		Status:  "published",
	}
	for _, id := range m.cfg.AccountIDs {
		body.Accounts = append(body.Accounts, mixpostAccount{ID: id})
	}
	if post.ScheduledAt != nil {
		body.Status = "scheduled"
		body.ScheduledAt = post.ScheduledAt.UTC().Format(time.RFC3339)
	}

	var resp mixpostData
	err = do(ctx, m.http, PlatformMixpost, request{
		Method: http.MethodPost,
		URL:    m.cfg.BaseURL + "/api/v1/posts",
		Header: bearer(m.cfg.APIToken),
		Body:   body,
	}, &resp)
	if err != nil {
		return failure(PlatformMixpost, err)
	}
	return success(PlatformMixpost, fmt.Sprint(resp.Data.ID), "posted via", post.ScheduledAt)
}

// upload downloads the media and re-uploads it as multipart form data.
func (m *Mixpost) upload(ctx context.Context, mediaURL, mediaType string) (string, error) {
	data, contentType, err := download(ctx, m.http, mediaURL)
	if err != nil {
		return "", err
	}
	filename := "penguin-video.mp4"
	if mediaType == "image" {
		filename = "penguin-image.png"
		if contentType == "" {
			contentType = "image/png"
		}
	} else if contentType == "" {
		contentType = "video/mp4"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	var resp mixpostData
	err = do(ctx, m.http, PlatformMixpost, request{
		Method:      http.MethodPost,
		URL:         m.cfg.BaseURL + "/api/v1/media",
		Header:      bearer(m.cfg.APIToken),
		Raw:         &buf,
		ContentType: mw.FormDataContentType(),
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Data.ID == nil {
		return "", apperr.API(PlatformMixpost, http.StatusBadGateway, "media upload returned no id", nil)
	}
	return fmt.Sprint(resp.Data.ID), nil
}

// OptimalTime asks Mixpost for the first account's best posting times. Any
// reported slot schedules the post one hour out; otherwise five minutes.
func (m *Mixpost) OptimalTime(ctx context.Context) time.Time {
	now := m.now()
	if len(m.cfg.AccountIDs) == 0 || m.cfg.APIToken == "" || m.cfg.BaseURL == "" {
		return now.Add(DefaultScheduleDelay)
	}

	var resp struct {
		Data []any `json:"data"`
	}
	err := do(ctx, m.http, PlatformMixpost, request{
		Method: http.MethodGet,
		URL:    m.cfg.BaseURL + "/api/v1/accounts/" + m.cfg.AccountIDs[0] + "/insights/best-times",
		Header: bearer(m.cfg.APIToken),
	}, &resp)
	if err != nil {
		log.Warn().Err(err).Msg("Mixpost best times unavailable, using default time")
		return now.Add(DefaultScheduleDelay)
	}
	if len(resp.Data) > 0 {
		return now.Add(time.Hour)
	}
	return now.Add(DefaultScheduleDelay)
}
