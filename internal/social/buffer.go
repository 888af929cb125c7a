package social

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/fpang/penguin-studio/internal/store"
	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog/log"
)

// DefaultBufferBaseURL is the Buffer v1 API host.
const DefaultBufferBaseURL = "https://api.bufferapp.com"

// BufferConfig configures the Buffer adapter.
type BufferConfig struct {
	AccessToken string
	ProfileIDs  []string
	BaseURL     string
}

// Buffer queues posts on every configured Buffer profile.
type Buffer struct {
	cfg  BufferConfig
	http *http.Client
	now  func() time.Time
}

// NewBuffer creates the adapter. Missing credentials are reported on Publish.
func NewBuffer(cfg BufferConfig) *Buffer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBufferBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Buffer{cfg: cfg, http: newHTTPClient(), now: time.Now}
}

func (b *Buffer) Platform() string { return PlatformBuffer }

type bufferUpdate struct {
	Text        string   `url:"text"`
	ProfileIDs  []string `url:"profile_ids[]"`
	Video       string   `url:"media[video],omitempty"`
	Photo       string   `url:"media[photo],omitempty"`
	ScheduledAt string   `url:"scheduled_at,omitempty"`
	Now         bool     `url:"now,omitempty"`
}

type bufferResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Updates []struct {
		ID string `json:"id"`
	} `json:"updates"`
}

func (b *Buffer) Publish(ctx context.Context, post Post) Result {
	if err := requireCredentials(PlatformBuffer,
		[2]string{"access token", b.cfg.AccessToken},
		[2]string{"profile IDs", strings.Join(b.cfg.ProfileIDs, "")},
	); err != nil {
		return failure(PlatformBuffer, err)
	}
	if err := requireMedia(post); err != nil {
		return failure(PlatformBuffer, err)
	}

	update := bufferUpdate{Text: post.Caption, ProfileIDs: b.cfg.ProfileIDs}
	if post.Kind == store.KindImage {
		update.Photo = post.MediaURL
	} else {
		update.Video = post.MediaURL
	}
	if post.ScheduledAt != nil {
		update.ScheduledAt = post.ScheduledAt.UTC().Format(time.RFC3339)
	} else {
		update.Now = true
	}

	values, err := query.Values(update)
	if err != nil {
		return failure(PlatformBuffer, fmt.Errorf("encode form: %w", err))
	}

	var resp bufferResponse
	err = do(ctx, b.http, PlatformBuffer, request{
		Method:      http.MethodPost,
		URL:         b.cfg.BaseURL + "/1/updates/create.json",
		Header:      bearer(b.cfg.AccessToken),
		Raw:         strings.NewReader(values.Encode()),
		ContentType: "application/x-www-form-urlencoded",
	}, &resp)
	if err != nil {
		return failure(PlatformBuffer, err)
	}
	if !resp.Success {
		return failure(PlatformBuffer, apperr.API(PlatformBuffer, http.StatusBadRequest, resp.Message, nil))
	}

	var id string
	if len(resp.Updates) > 0 {
		id = resp.Updates[0].ID
	}
	return success(PlatformBuffer, id, "queued post via", post.ScheduledAt)
}

type bufferSchedule struct {
	Days  []string `json:"days"`
	Times []string `json:"times"`
}

// OptimalTime returns the next posting slot of the first profile's schedule.
func (b *Buffer) OptimalTime(ctx context.Context) time.Time {
	now := b.now()
	fallback := now.Add(DefaultScheduleDelay)
	if len(b.cfg.ProfileIDs) == 0 || b.cfg.AccessToken == "" {
		return fallback
	}

	var schedules []bufferSchedule
	err := do(ctx, b.http, PlatformBuffer, request{
		Method: http.MethodGet,
		URL:    b.cfg.BaseURL + "/1/profiles/" + b.cfg.ProfileIDs[0] + "/schedules.json",
		Header: bearer(b.cfg.AccessToken),
	}, &schedules)
	if err != nil {
		log.Warn().Err(err).Msg("Buffer schedules unavailable, using default time")
		return fallback
	}

	var best time.Time
	for _, s := range schedules {
		for _, clock := range s.Times {
			t, ok := nextClockTime(now, clock)
			if ok && (best.IsZero() || t.Before(best)) {
				best = t
			}
		}
	}
	if best.IsZero() {
		return fallback
	}
	return best
}

// nextClockTime returns the next occurrence of an "HH:MM" clock time after now.
func nextClockTime(now time.Time, clock string) (time.Time, bool) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, false
	}
	t := time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, true
}
