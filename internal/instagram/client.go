// Package instagram provides a client for the Instagram Graph API content
// publishing endpoints used to share a single generated image or reel.
//
// Publishing is a three-step process:
//  1. Create a media container from a publicly reachable media URL
//  2. Poll the container status until Instagram finishes processing it
//  3. Publish the container
package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultBaseURL is the Graph API base URL for Instagram business accounts.
	DefaultBaseURL = "https://graph.facebook.com/v22.0"

	defaultTimeout = 30 * time.Second

	// Container status polling defaults: 30 attempts 10s apart.
	DefaultPollAttempts = 30
	DefaultPollDelay    = 10 * time.Second

	providerName = "instagram"
)

// Container media types.
const (
	MediaTypeImage = "IMAGE"
	MediaTypeReels = "REELS"
)

// Container status codes.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusFinished   = "FINISHED"
	StatusError      = "ERROR"
	StatusExpired    = "EXPIRED"
	StatusPublished  = "PUBLISHED"
)

// Client publishes to one Instagram business account.
type Client struct {
	httpClient  *http.Client
	accessToken string
	userID      string
	baseURL     string
}

// NewClient creates an Instagram API client for the business account userID.
func NewClient(accessToken, userID string) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		accessToken: accessToken,
		userID:      userID,
		baseURL:     DefaultBaseURL,
	}
}

// WithBaseURL overrides the Graph API base URL.
func (c *Client) WithBaseURL(baseURL string) *Client {
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// Container describes a media container to create. Exactly one of ImageURL
// and VideoURL is expected; MediaType is derived when empty.
type Container struct {
	MediaType string `url:"media_type,omitempty"`
	ImageURL  string `url:"image_url,omitempty"`
	VideoURL  string `url:"video_url,omitempty"`
	Caption   string `url:"caption,omitempty"`
	ThumbOffs int    `url:"thumb_offset,omitempty"`
}

type publishParams struct {
	CreationID string `url:"creation_id"`
}

type statusParams struct {
	Fields string `url:"fields"`
}

// --- API response types ---

type apiResponse struct {
	ID    string  `json:"id"`
	Error *apiErr `json:"error,omitempty"`
}

type apiErr struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id,omitempty"`
}

type containerStatusResponse struct {
	ID         string  `json:"id"`
	StatusCode string  `json:"status_code"`
	Status     string  `json:"status,omitempty"`
	Error      *apiErr `json:"error,omitempty"`
}

// --- Container creation ---

// CreateContainer creates a media container and returns its id. Video
// containers are created as reels.
func (c *Client) CreateContainer(ctx context.Context, ct Container) (string, error) {
	if ct.MediaType == "" {
		if ct.VideoURL != "" {
			ct.MediaType = MediaTypeReels
		} else {
			ct.MediaType = MediaTypeImage
		}
	}
	// Image containers omit media_type.
	params := ct
	if params.MediaType == MediaTypeImage {
		params.MediaType = ""
	}

	log.Debug().Str("mediaType", ct.MediaType).Msg("Creating Instagram container")
	resp, err := c.post(ctx, fmt.Sprintf("/%s/media", c.userID), params)
	if err != nil {
		return "", fmt.Errorf("create %s container: %w", strings.ToLower(ct.MediaType), err)
	}
	log.Info().Str("containerId", resp.ID).Str("mediaType", ct.MediaType).Msg("Instagram container created")
	return resp.ID, nil
}

// --- Publishing ---

// Publish publishes a finished container and returns the Instagram media id.
func (c *Client) Publish(ctx context.Context, containerID string) (string, error) {
	log.Debug().Str("containerId", containerID).Msg("Publishing container")
	resp, err := c.post(ctx, fmt.Sprintf("/%s/media_publish", c.userID), publishParams{CreationID: containerID})
	if err != nil {
		return "", fmt.Errorf("publish container %s: %w", containerID, err)
	}
	log.Info().Str("containerId", containerID).Str("postId", resp.ID).Msg("Container published successfully")
	return resp.ID, nil
}

// --- Status polling ---

// ContainerStatus returns the processing status code of a container.
func (c *Client) ContainerStatus(ctx context.Context, containerID string) (string, error) {
	values, err := query.Values(statusParams{Fields: "status_code,status"})
	if err != nil {
		return "", fmt.Errorf("encode query: %w", err)
	}
	values.Set("access_token", c.accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+containerID+"?"+values.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	body, status, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("container status request: %w", err)
	}

	var resp containerStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != nil || status >= 300 {
		return "", graphError(status, resp.Error, body)
	}
	return resp.StatusCode, nil
}

// WaitForContainer polls the container until it is FINISHED, making at most
// attempts status calls spaced delay apart. ERROR/EXPIRED statuses and an
// exhausted budget are failures; transient poll errors consume an attempt.
func (c *Client) WaitForContainer(ctx context.Context, containerID string, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	if delay < 0 {
		delay = DefaultPollDelay
	}

	last := StatusInProgress
	for i := 1; i <= attempts; i++ {
		status, err := c.ContainerStatus(ctx, containerID)
		if err != nil {
			log.Warn().Err(err).Str("containerId", containerID).Int("attempt", i).Msg("Container status poll error, retrying")
		} else {
			last = status
			switch status {
			case StatusFinished, StatusPublished:
				log.Debug().Str("containerId", containerID).Int("attempt", i).Msg("Container processing finished")
				return nil
			case StatusError, StatusExpired:
				return apperr.API(providerName, http.StatusBadGateway,
					fmt.Sprintf("container %s processing failed with status %s", containerID, status), nil)
			default:
				log.Debug().Str("containerId", containerID).Str("status", status).Int("attempt", i).Msg("Container still processing")
			}
		}

		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return apperr.API(providerName, http.StatusGatewayTimeout,
		fmt.Sprintf("container %s not ready after %d attempts (last status %s)", containerID, attempts, last), nil)
}

// --- Internal helpers ---

// post sends params form-encoded (via their url tags) to endpoint.
func (c *Client) post(ctx context.Context, endpoint string, params any) (*apiResponse, error) {
	values, err := query.Values(params)
	if err != nil {
		return nil, fmt.Errorf("encode form: %w", err)
	}
	values.Set("access_token", c.accessToken)

	paramNames := make([]string, 0, len(values))
	for key := range values {
		paramNames = append(paramNames, key)
	}
	log.Trace().Strs("formParams", paramNames).Msg("Form parameters")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		if status >= 300 {
			return nil, graphError(status, nil, body)
		}
		return nil, fmt.Errorf("parse response: %w (body: %s)", err, truncate(string(body), 200))
	}
	if resp.Error != nil || status >= 300 {
		return nil, graphError(status, resp.Error, body)
	}
	if resp.ID == "" {
		return nil, apperr.API(providerName, http.StatusBadGateway,
			"unexpected response: no ID returned (body: "+truncate(string(body), 200)+")", nil)
	}
	return &resp, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	start := time.Now()
	log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Msg("Instagram API request")

	httpResp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		err = stripURL(err)
		log.Debug().Int("statusCode", 0).Dur("duration", duration).Err(err).Msg("Instagram API response")
		return nil, 0, apperr.API(providerName, 0, "request failed", err)
	}
	defer httpResp.Body.Close()
	log.Debug().Int("statusCode", httpResp.StatusCode).Dur("duration", duration).Msg("Instagram API response")

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, httpResp.StatusCode, nil
}

func graphError(status int, e *apiErr, body []byte) error {
	if status < 300 {
		status = http.StatusBadGateway
	}
	if e == nil {
		return apperr.API(providerName, status, "Instagram API error: "+truncate(string(body), 200), nil)
	}
	log.Error().Str("errorMessage", e.Message).Str("errorType", e.Type).Int("errorCode", e.Code).Msg("Instagram API error")
	return apperr.API(providerName, status, e.Message, nil)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// stripURL drops the request URL, which carries the access token, from
// transport errors.
func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}
