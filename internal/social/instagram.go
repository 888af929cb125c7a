package social

import (
	"context"

	"github.com/fpang/penguin-studio/internal/instagram"
	"github.com/fpang/penguin-studio/internal/store"
)

// InstagramConfig configures the Instagram adapter.
type InstagramConfig struct {
	AccessToken string
	AccountID   string
	BaseURL     string
	Poll        PollPolicy
}

// Instagram publishes reels and images through the Graph API.
type Instagram struct {
	cfg    InstagramConfig
	client *instagram.Client
}

// NewInstagram creates the adapter. Missing credentials are reported on Publish.
func NewInstagram(cfg InstagramConfig) *Instagram {
	return &Instagram{
		cfg:    cfg,
		client: instagram.NewClient(cfg.AccessToken, cfg.AccountID).WithBaseURL(cfg.BaseURL),
	}
}

func (i *Instagram) Platform() string { return PlatformInstagram }

func (i *Instagram) Publish(ctx context.Context, post Post) Result {
	if err := requireCredentials(PlatformInstagram,
		[2]string{"access token", i.cfg.AccessToken},
		[2]string{"business account ID", i.cfg.AccountID},
	); err != nil {
		return failure(PlatformInstagram, err)
	}
	if err := requireMedia(post); err != nil {
		return failure(PlatformInstagram, err)
	}

	ct := instagram.Container{Caption: post.Caption}
	if post.Kind == store.KindImage {
		ct.ImageURL = post.MediaURL
	} else {
		ct.VideoURL = post.MediaURL
	}

	containerID, err := i.client.CreateContainer(ctx, ct)
	if err != nil {
		return failure(PlatformInstagram, err)
	}
	if err := i.client.WaitForContainer(ctx, containerID, i.cfg.Poll.Attempts, i.cfg.Poll.Delay); err != nil {
		return failure(PlatformInstagram, err)
	}
	postID, err := i.client.Publish(ctx, containerID)
	if err != nil {
		return failure(PlatformInstagram, err)
	}
	return success(PlatformInstagram, postID, "posted to", nil)
}
