package social

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/fpang/penguin-studio/internal/store"
	"github.com/rs/zerolog/log"
)

// DefaultTikTokBaseURL is the TikTok Content Posting API host.
const DefaultTikTokBaseURL = "https://open.tiktokapis.com"

// TikTok publish statuses.
const (
	tiktokPublishComplete = "PUBLISH_COMPLETE"
	tiktokFailed          = "FAILED"
)

// TikTokConfig configures the TikTok adapter.
type TikTokConfig struct {
	AccessToken  string
	BaseURL      string
	PrivacyLevel string
	Poll         PollPolicy
}

// TikTok uploads videos via the Content Posting API (FILE_UPLOAD source).
type TikTok struct {
	cfg  TikTokConfig
	http *http.Client
}

// NewTikTok creates the adapter. Missing credentials are reported on Publish.
func NewTikTok(cfg TikTokConfig) *TikTok {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTikTokBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PrivacyLevel == "" {
		cfg.PrivacyLevel = "SELF_ONLY"
	}
	return &TikTok{cfg: cfg, http: newHTTPClient()}
}

func (t *TikTok) Platform() string { return PlatformTikTok }

type tiktokPostInfo struct {
	Title                 string `json:"title"`
	PrivacyLevel          string `json:"privacy_level"`
	DisableDuet           bool   `json:"disable_duet"`
	DisableComment        bool   `json:"disable_comment"`
	DisableStitch         bool   `json:"disable_stitch"`
	VideoCoverTimestampMs int    `json:"video_cover_timestamp_ms"`
}

type tiktokSourceInfo struct {
	Source          string `json:"source"`
	VideoSize       int64  `json:"video_size"`
	ChunkSize       int64  `json:"chunk_size"`
	TotalChunkCount int    `json:"total_chunk_count"`
}

type tiktokError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type tiktokInitResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
		UploadURL string `json:"upload_url"`
	} `json:"data"`
	Error tiktokError `json:"error"`
}

type tiktokStatusResponse struct {
	Data struct {
		Status     string  `json:"status"`
		FailReason string  `json:"fail_reason"`
		PostIDs    []int64 `json:"publicaly_available_post_id"`
	} `json:"data"`
	Error tiktokError `json:"error"`
}

func (e tiktokError) err() error {
	if e.Code == "" || e.Code == "ok" {
		return nil
	}
	return apperr.API(PlatformTikTok, http.StatusBadRequest, e.Code+": "+e.Message, nil)
}

func (t *TikTok) Publish(ctx context.Context, post Post) Result {
	if err := requireCredentials(PlatformTikTok, [2]string{"access token", t.cfg.AccessToken}); err != nil {
		return failure(PlatformTikTok, err)
	}
	if err := requireMedia(post); err != nil {
		return failure(PlatformTikTok, err)
	}
	if post.Kind == store.KindImage {
		return failure(PlatformTikTok, apperr.Validation("TikTok sharing supports video only"))
	}

	postID, err := t.publish(ctx, post)
	if err != nil {
		return failure(PlatformTikTok, err)
	}
	return success(PlatformTikTok, postID, "posted to", nil)
}

func (t *TikTok) publish(ctx context.Context, post Post) (string, error) {
	size := t.mediaSize(ctx, post.MediaURL)

	var video []byte
	if size <= 0 {
		data, _, err := download(ctx, t.http, post.MediaURL)
		if err != nil {
			return "", err
		}
		video, size = data, int64(len(data))
	}

	var initResp tiktokInitResponse
	err := do(ctx, t.http, PlatformTikTok, request{
		Method: http.MethodPost,
		URL:    t.cfg.BaseURL + "/v2/post/publish/video/init/",
		Header: bearer(t.cfg.AccessToken),
		Body: map[string]any{
			"post_info": tiktokPostInfo{
				Title:                 post.Caption,
				PrivacyLevel:          t.cfg.PrivacyLevel,
				VideoCoverTimestampMs: 1000,
			},
			"source_info": tiktokSourceInfo{
				Source:          "FILE_UPLOAD",
				VideoSize:       size,
				ChunkSize:       size,
				TotalChunkCount: 1,
			},
		},
	}, &initResp)
	if err != nil {
		return "", fmt.Errorf("init upload: %w", err)
	}
	if err := initResp.Error.err(); err != nil {
		return "", fmt.Errorf("init upload: %w", err)
	}
	publishID := initResp.Data.PublishID
	log.Info().Str("publishId", publishID).Int64("videoSize", size).Msg("TikTok upload initialised")

	if video == nil {
		data, _, err := download(ctx, t.http, post.MediaURL)
		if err != nil {
			return "", err
		}
		video = data
	}
	n := len(video)
	err = do(ctx, t.http, PlatformTikTok, request{
		Method:      http.MethodPut,
		URL:         initResp.Data.UploadURL,
		Raw:         bytes.NewReader(video),
		ContentType: "video/mp4",
		Header:      map[string]string{"Content-Range": fmt.Sprintf("bytes 0-%d/%d", n-1, n)},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("upload video: %w", err)
	}

	var postID string
	err = t.cfg.Poll.Poll(ctx, func(ctx context.Context, attempt int) (bool, error) {
		var status tiktokStatusResponse
		err := do(ctx, t.http, PlatformTikTok, request{
			Method: http.MethodPost,
			URL:    t.cfg.BaseURL + "/v2/post/publish/status/fetch/",
			Header: bearer(t.cfg.AccessToken),
			Body:   map[string]string{"publish_id": publishID},
		}, &status)
		if err != nil {
			return false, err
		}
		if err := status.Error.err(); err != nil {
			return false, err
		}
		log.Debug().Str("publishId", publishID).Str("status", status.Data.Status).Int("attempt", attempt).Msg("TikTok publish status")
		switch status.Data.Status {
		case tiktokPublishComplete:
			postID = publishID
			if len(status.Data.PostIDs) > 0 {
				postID = strconv.FormatInt(status.Data.PostIDs[0], 10)
			}
			return true, nil
		case tiktokFailed:
			return false, apperr.API(PlatformTikTok, http.StatusBadGateway, "publish failed: "+status.Data.FailReason, nil)
		}
		return false, nil
	})
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", publishID, err)
	}
	return postID, nil
}

// mediaSize returns the Content-Length reported by a HEAD request, or 0.
func (t *TikTok) mediaSize(ctx context.Context, mediaURL string) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, mediaURL, nil)
	if err != nil {
		return 0
	}
	resp, err := t.http.Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("HEAD media failed, will download to size")
		return 0
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0
	}
	return resp.ContentLength
}
