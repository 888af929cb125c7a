package boot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/penguin-studio/internal/cache"
	"github.com/fpang/penguin-studio/internal/config"
	"github.com/fpang/penguin-studio/internal/enhancer"
	"github.com/fpang/penguin-studio/internal/events"
	"github.com/fpang/penguin-studio/internal/generator"
	"github.com/fpang/penguin-studio/internal/history"
	"github.com/fpang/penguin-studio/internal/logging"
	"github.com/fpang/penguin-studio/internal/metrics"
	"github.com/fpang/penguin-studio/internal/ratelimit"
	"github.com/fpang/penguin-studio/internal/s3util"
	"github.com/fpang/penguin-studio/internal/social"
	"github.com/fpang/penguin-studio/internal/store"
	"github.com/fpang/penguin-studio/internal/webhook"
	"github.com/fpang/penguin-studio/internal/workflow"
)

// MediaPath is the URL path local media files are served under.
const MediaPath = "/media"

// Options adjusts how the application is assembled.
type Options struct {
	// Name identifies the binary in the startup log.
	Name       string
	ConfigFile string
	// Observer replaces the default Prometheus observer.
	Observer metrics.Observer
}

// App is the assembled application.
type App struct {
	Config   *config.Config
	Workflow *workflow.Workflow
	Limiter  *ratelimit.Limiter
	Observer metrics.Observer
	// Metrics is nil when Options.Observer was given.
	Metrics *metrics.Prometheus
	// Webhook is nil unless a verify token or app secret is configured.
	Webhook *webhook.Handler
	// MediaDir is the local media directory to serve under MediaPath, or
	// empty when media goes to S3.
	MediaDir string

	memory  *cache.MemoryStore
	closers []func() error
}

// Load resolves configuration (pulling SSM secrets when SSM_PREFIX is set),
// initialises logging and builds the App.
func Load(ctx context.Context, opts Options) (*App, error) {
	aws := &awsLoader{}
	cfg, err := loadConfig(ctx, opts.ConfigFile, aws)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	return build(ctx, cfg, opts, aws)
}

// Build assembles an App from an already resolved Config.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	return build(ctx, cfg, opts, &awsLoader{})
}

func loadConfig(ctx context.Context, file string, aws *awsLoader) (*config.Config, error) {
	loader, err := config.NewLoader(file)
	if err != nil {
		return nil, err
	}
	if prefix := loader.SSMPrefix(); prefix != "" {
		awsCfg, err := aws.config(ctx)
		if err != nil {
			return nil, err
		}
		secrets, err := LoadSecrets(ctx, ssm.NewFromConfig(awsCfg), prefix)
		if err != nil {
			return nil, err
		}
		if unknown := loader.Override(secrets); len(unknown) > 0 {
			log.Warn().Strs("keys", unknown).Str("prefix", prefix).Msg("Ignoring SSM parameters that are not settings")
		}
	}
	return loader.Config()
}

// Run starts the background janitors; they stop when ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	go a.Limiter.Run(ctx, time.Minute)
	if a.memory != nil {
		go a.memory.Cache().Run(ctx, cache.DefaultCleanupInterval)
	}
}

// Close releases external connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

type builder struct {
	cfg      *config.Config
	aws      *awsLoader
	startup  *logging.StartupLogger
	observer metrics.Observer
	genai    *genai.Client
	bucket   *s3util.Bucket
	app      *App
}

func build(ctx context.Context, cfg *config.Config, opts Options, aws *awsLoader) (*App, error) {
	start := time.Now()
	name := opts.Name
	if name == "" {
		name = "penguin-studio"
	}
	b := &builder{
		cfg:     cfg,
		aws:     aws,
		startup: logging.NewStartupLogger(name),
		app:     &App{Config: cfg},
	}

	b.observer = opts.Observer
	if b.observer == nil {
		b.app.Metrics = metrics.NewPrometheus()
		b.observer = b.app.Metrics
	}
	b.app.Observer = b.observer

	stores, err := b.stores(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.mediaBucket(ctx); err != nil {
		return nil, err
	}
	enh, err := b.enhancer(ctx)
	if err != nil {
		return nil, err
	}
	generators, err := b.generators(ctx)
	if err != nil {
		return nil, err
	}
	resultCache, err := b.resultCache(ctx)
	if err != nil {
		return nil, err
	}
	notifier, err := b.notifier(ctx)
	if err != nil {
		return nil, err
	}

	b.app.Limiter = ratelimit.New(cfg.RateLimitMaxRequests, cfg.RateLimitWindow())
	b.app.Webhook = b.webhook()

	wf, err := workflow.New(workflow.Deps{
		Enhancer:        enh,
		Generators:      generators,
		Stores:          stores,
		Publishers:      b.publishers(),
		Limiter:         b.app.Limiter,
		Cache:           resultCache,
		History:         b.history(),
		Notifier:        notifier,
		Observer:        b.observer,
		MinPromptLength: cfg.PromptMinLength,
		MaxRecords:      cfg.MaxRecords,
	})
	if err != nil {
		return nil, err
	}
	b.app.Workflow = wf

	b.startup.
		Config("appEnv", cfg.AppEnv).
		Config("rateLimit", fmt.Sprintf("%d/%s", cfg.RateLimitMaxRequests, cfg.RateLimitWindow())).
		Config("maxRecords", strconv.Itoa(cfg.MaxRecords)).
		Config("platforms", strings.Join(wf.Platforms(), ",")).
		InitDuration(time.Since(start)).
		Log()
	return b.app, nil
}

func (b *builder) stores(ctx context.Context) (map[store.MediaKind]store.RecordStore, error) {
	kinds := []store.MediaKind{store.KindImage, store.KindVideo}
	stores := make(map[store.MediaKind]store.RecordStore, len(kinds))

	if b.cfg.StoreBackend == config.BackendDynamo {
		awsCfg, err := b.aws.config(ctx)
		if err != nil {
			return nil, err
		}
		client := dynamodb.NewFromConfig(awsCfg)
		for _, k := range kinds {
			stores[k] = store.NewDynamoStore(client, b.cfg.DynamoTable, k, b.cfg.MaxRecords)
		}
		b.startup.Resource("dynamodb", "records", b.cfg.DynamoTable)
		return stores, nil
	}

	for _, k := range kinds {
		s, err := store.NewJSONStore(b.cfg.DataDir, k, b.cfg.MaxRecords)
		if err != nil {
			return nil, err
		}
		stores[k] = s
		b.startup.Resource("file", string(k)+"Records", s.Path())
	}
	return stores, nil
}

func (b *builder) mediaBucket(ctx context.Context) error {
	if b.cfg.MediaBucket == "" {
		return nil
	}
	awsCfg, err := b.aws.config(ctx)
	if err != nil {
		return err
	}
	client := s3.NewFromConfig(awsCfg)
	b.bucket = s3util.NewBucket(client, s3.NewPresignClient(client), b.cfg.MediaBucket, b.cfg.MediaURLExpiry)
	b.startup.Resource("s3", "media", b.cfg.MediaBucket)
	return nil
}

// genaiClient is shared by the Gemini prompt service and Imagen.
func (b *builder) genaiClient(ctx context.Context) (*genai.Client, error) {
	if b.genai != nil {
		return b.genai, nil
	}
	client, err := enhancer.NewGeminiClient(ctx, b.cfg.GeminiAPIKey)
	if err != nil {
		return nil, err
	}
	b.genai = client
	return client, nil
}

func (b *builder) promptService(ctx context.Context) (enhancer.PromptService, error) {
	provider := b.cfg.PromptProvider
	if provider == "auto" {
		switch {
		case b.cfg.GeminiAPIKey != "":
			provider = "gemini"
		case b.cfg.FalAPIKey != "":
			provider = "fal"
		default:
			provider = "none"
		}
	}
	switch provider {
	case "gemini":
		client, err := b.genaiClient(ctx)
		if err != nil {
			return nil, err
		}
		return enhancer.NewGeminiService(client.Models, b.cfg.GeminiModel), nil
	case "fal":
		return enhancer.NewFalService(b.cfg.FalAPIKey, "", ""), nil
	default:
		return nil, nil
	}
}

func (b *builder) enhancer(ctx context.Context) (*enhancer.Enhancer, error) {
	svc, err := b.promptService(ctx)
	if err != nil {
		return nil, err
	}
	var catalog *enhancer.Catalog
	if b.cfg.EnhancerCatalogPath != "" {
		if catalog, err = enhancer.LoadCatalog(b.cfg.EnhancerCatalogPath); err != nil {
			return nil, err
		}
		b.startup.Resource("file", "catalog", b.cfg.EnhancerCatalogPath)
	}

	enh, err := enhancer.New(enhancer.Options{
		Service:           svc,
		Catalog:           catalog,
		MaxLength:         b.cfg.PromptMaxLength,
		EnhancedMaxLength: b.cfg.EnhancedMaxLength,
		Timeout:           b.cfg.EnhancerTimeout,
		OnFallback: func(reason string, err error) {
			log.Info().Err(err).Str("reason", reason).Msg("Enhancing with local composer")
		},
	})
	if err != nil {
		return nil, err
	}
	b.startup.Config("promptService", enh.ServiceName())
	return enh, nil
}

func (b *builder) generators(ctx context.Context) (map[store.MediaKind]generator.Generator, error) {
	maxPrompt := b.cfg.EnhancedMaxLength
	gens := make(map[store.MediaKind]generator.Generator, 2)

	if b.cfg.FalAPIKey != "" {
		gens[store.KindVideo] = generator.NewFalVideo(generator.FalVideoOptions{
			APIKey:       b.cfg.FalAPIKey,
			Model:        b.cfg.FalVideoModel,
			Timeout:      b.cfg.VideoTimeout,
			PollInterval: b.cfg.VideoPollInterval,
			MaxPrompt:    maxPrompt,
			OnProgress: func(p generator.Progress) {
				log.Debug().Str("requestId", p.RequestID).Str("status", p.Status).Int("queuePosition", p.QueuePosition).Msg("Video generation progress")
			},
		})
	} else {
		gens[store.KindVideo] = generator.NewMock(store.KindVideo, maxPrompt)
	}

	provider := b.cfg.ImageProvider
	if provider == "auto" {
		switch {
		case b.cfg.OpenAIAPIKey != "":
			provider = "openai"
		case b.cfg.GeminiAPIKey != "":
			provider = "imagen"
		default:
			provider = "mock"
		}
	}
	switch provider {
	case "openai":
		gens[store.KindImage] = generator.NewOpenAIImage(b.cfg.OpenAIAPIKey, b.cfg.OpenAIBaseURL, "", maxPrompt)
	case "imagen":
		client, err := b.genaiClient(ctx)
		if err != nil {
			return nil, err
		}
		sink, err := b.sink()
		if err != nil {
			return nil, err
		}
		gens[store.KindImage] = generator.NewImagenImage(client.Models, b.cfg.ImagenModel, sink, maxPrompt)
	default:
		gens[store.KindImage] = generator.NewMock(store.KindImage, maxPrompt)
	}

	mode := "mock"
	for _, g := range gens {
		if g.Name() != "mock" {
			mode = "live"
		}
	}
	b.startup.Mode(mode).
		Config("videoGenerator", gens[store.KindVideo].Name()).
		Config("imageGenerator", gens[store.KindImage].Name())
	return gens, nil
}

// sink is where generators that return raw bytes store them.
func (b *builder) sink() (generator.Sink, error) {
	if b.bucket != nil {
		return b.bucket, nil
	}
	base := strings.TrimRight(b.cfg.PublicBaseURL, "/") + MediaPath
	dirSink, err := generator.NewDirSink(b.cfg.MediaDir, base)
	if err != nil {
		return nil, err
	}
	b.app.MediaDir = dirSink.Dir()
	b.startup.Resource("file", "media", dirSink.Dir())
	return dirSink, nil
}

func (b *builder) resultCache(ctx context.Context) (cache.ResultStore, error) {
	if b.cfg.RedisAddr == "" {
		b.app.memory = cache.NewMemoryStore(b.cfg.CacheTTL)
		b.startup.Feature("redisCache", false)
		return b.app.memory, nil
	}
	client, err := cache.NewRedisClient(ctx, b.cfg.RedisAddr, b.cfg.RedisPassword, b.cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	b.app.closers = append(b.app.closers, client.Close)
	b.startup.Feature("redisCache", true).Resource("redis", "cache", b.cfg.RedisAddr)
	return cache.NewRedisStore(client, "penguin:", b.cfg.CacheTTL), nil
}

func (b *builder) notifier(ctx context.Context) (events.Notifier, error) {
	if b.cfg.EventBusName == "" {
		b.startup.Feature("reviewEvents", false)
		return events.Nop{}, nil
	}
	awsCfg, err := b.aws.config(ctx)
	if err != nil {
		return nil, err
	}
	b.startup.Feature("reviewEvents", true).Resource("eventbridge", "bus", b.cfg.EventBusName)
	return events.NewEventBridge(eventbridge.NewFromConfig(awsCfg), b.cfg.EventBusName), nil
}

// publishers registers an adapter for every platform with credentials.
// Platforms without credentials stay unregistered so share reports them
// as unconfigured.
func (b *builder) publishers() *social.Registry {
	c := b.cfg
	poll := social.PollPolicy{Attempts: c.PublishPollAttempts, Delay: c.PublishPollDelay}
	reg := social.NewRegistry()

	add := func(enabled bool, p social.Publisher) {
		b.startup.Feature(p.Platform(), enabled)
		if enabled {
			reg.Register(p)
		}
	}
	add(c.InstagramAccessToken != "" && c.InstagramBusinessAccountID != "", social.NewInstagram(social.InstagramConfig{
		AccessToken: c.InstagramAccessToken,
		AccountID:   c.InstagramBusinessAccountID,
		Poll:        poll,
	}))
	add(c.TikTokAccessToken != "", social.NewTikTok(social.TikTokConfig{
		AccessToken: c.TikTokAccessToken,
		Poll:        poll,
	}))
	add(c.BufferAccessToken != "" && len(c.BufferProfileIDs) > 0, social.NewBuffer(social.BufferConfig{
		AccessToken: c.BufferAccessToken,
		ProfileIDs:  c.BufferProfileIDs,
	}))
	add(c.MixpostAPIToken != "" && c.MixpostURL != "", social.NewMixpost(social.MixpostConfig{
		APIToken:   c.MixpostAPIToken,
		BaseURL:    c.MixpostURL,
		AccountIDs: c.MixpostAccountIDs,
	}))
	add(c.ZapierWebhookURL != "", social.NewZapier(c.ZapierWebhookURL))
	add(c.IFTTTWebhookKey != "", social.NewIFTTT(c.IFTTTWebhookKey, c.IFTTTEventName, ""))
	return reg
}

func (b *builder) history() *history.Collector {
	if b.bucket == nil {
		return history.NewCollector()
	}
	return history.NewCollector(history.NewS3Source(b.bucket, b.cfg.MaxRecords))
}

func (b *builder) webhook() *webhook.Handler {
	if b.cfg.WebhookVerifyToken == "" && b.cfg.MetaAppSecret == "" {
		b.startup.Feature("instagramWebhook", false)
		return nil
	}
	observer := b.observer
	b.startup.Feature("instagramWebhook", true)
	return webhook.NewHandler(b.cfg.WebhookVerifyToken, b.cfg.MetaAppSecret, func(_ context.Context, c webhook.Change) {
		log.Info().Str("field", c.Field).Str("accountId", c.AccountID).Msg("Instagram webhook change")
		observer.ObserveProvider("instagram_webhook", metrics.OutcomeSuccess)
	})
}
