// Package social pushes generated media to social platforms. Every adapter
// absorbs its failures into a Result so a failed share never fails the
// request that asked for it.
package social

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/fpang/penguin-studio/internal/store"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Platform names accepted by the registry.
const (
	PlatformInstagram = "instagram"
	PlatformTikTok    = "tiktok"
	PlatformBuffer    = "buffer"
	PlatformMixpost   = "mixpost"
	PlatformZapier    = "zapier"
	PlatformIFTTT     = "ifttt"
)

// DefaultScheduleDelay is the fallback lead time when optimal scheduling fails.
const DefaultScheduleDelay = 5 * time.Minute

// Post is one share request.
type Post struct {
	Kind        store.MediaKind
	MediaURL    string
	Caption     string
	Title       string
	Target      string // downstream platform hint for webhook relays
	ScheduledAt *time.Time
}

// Result reports the outcome of a share. It is never persisted.
type Result struct {
	Platform    string     `json:"platform"`
	Success     bool       `json:"success"`
	PostID      string     `json:"postId,omitempty"`
	Message     string     `json:"message"`
	Error       string     `json:"error,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

// Publisher posts media to one platform.
type Publisher interface {
	Platform() string
	Publish(ctx context.Context, post Post) Result
}

// Scheduler is implemented by publishers that can suggest a posting time.
// The suggestion is advisory; implementations fall back to now plus
// DefaultScheduleDelay when their analytics call fails.
type Scheduler interface {
	OptimalTime(ctx context.Context) time.Time
}

var displayNames = map[string]string{
	PlatformTikTok: "TikTok",
	PlatformIFTTT:  "IFTTT",
}

// DisplayName returns the human-readable platform name used in messages.
func DisplayName(platform string) string {
	if name, ok := displayNames[platform]; ok {
		return name
	}
	return cases.Title(language.English).String(platform)
}

func success(platform, postID, verb string, scheduledAt *time.Time) Result {
	msg := "Successfully " + verb + " " + DisplayName(platform) + "!"
	if scheduledAt != nil {
		msg = "Successfully scheduled post on " + DisplayName(platform) + " for " + scheduledAt.UTC().Format(time.RFC1123)
	}
	return Result{
		Platform:    platform,
		Success:     true,
		PostID:      postID,
		Message:     msg,
		ScheduledAt: scheduledAt,
	}
}

func failure(platform string, err error) Result {
	log.Warn().Err(err).Str("platform", platform).Msg("Share failed")
	return Result{
		Platform: platform,
		Success:  false,
		Message:  "Failed to post to " + DisplayName(platform),
		Error:    err.Error(),
	}
}

// requireCredentials returns a ValidationError naming the first empty credential.
func requireCredentials(platform string, creds ...[2]string) error {
	for _, c := range creds {
		if strings.TrimSpace(c[1]) == "" {
			return apperr.Validation("%s %s is required", DisplayName(platform), c[0])
		}
	}
	return nil
}

func requireMedia(post Post) error {
	if strings.TrimSpace(post.MediaURL) == "" {
		return apperr.Validation("media URL is required")
	}
	if strings.TrimSpace(post.Caption) == "" {
		return apperr.Validation("caption is required")
	}
	return nil
}

// Registry maps platform names to configured publishers.
type Registry struct {
	publishers map[string]Publisher
}

// NewRegistry registers every non-nil publisher.
func NewRegistry(publishers ...Publisher) *Registry {
	r := &Registry{publishers: make(map[string]Publisher)}
	for _, p := range publishers {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any publisher for the same platform.
func (r *Registry) Register(p Publisher) {
	if p == nil {
		return
	}
	r.publishers[p.Platform()] = p
}

// Get returns the publisher for platform, or a ValidationError naming it.
func (r *Registry) Get(platform string) (Publisher, error) {
	p, ok := r.publishers[strings.ToLower(strings.TrimSpace(platform))]
	if !ok {
		return nil, apperr.Validation("unsupported or unconfigured platform: %s", platform)
	}
	return p, nil
}

// Platforms lists registered platform names in sorted order.
func (r *Registry) Platforms() []string {
	names := make([]string, 0, len(r.publishers))
	for name := range r.publishers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PollPolicy bounds status polling: at most Attempts checks, Delay apart.
type PollPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultPollPolicy polls 30 times 10 seconds apart.
var DefaultPollPolicy = PollPolicy{Attempts: 30, Delay: 10 * time.Second}

var errPollExhausted = errors.New("status polling exhausted")

// Poll calls check until it reports done, returns an error, or the attempt
// budget runs out.
func (p PollPolicy) Poll(ctx context.Context, check func(ctx context.Context, attempt int) (bool, error)) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultPollPolicy.Attempts
	}
	for i := 1; i <= attempts; i++ {
		done, err := check(ctx, i)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	return errPollExhausted
}
