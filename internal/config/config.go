// Package config loads runtime settings from the environment, optional
// .env files, an optional config file, and (in Lambda) SSM Parameter Store.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Store backends.
const (
	BackendJSON   = "json"
	BackendDynamo = "dynamodb"
)

// Config is the fully resolved application configuration.
type Config struct {
	AppEnv    string `mapstructure:"app_env"`
	Port      int    `mapstructure:"port"`
	LogLevel  string `mapstructure:"penguin_log_level"`
	LogFormat string `mapstructure:"log_format"`

	DataDir      string `mapstructure:"data_dir"`
	MaxRecords   int    `mapstructure:"max_records"`
	StoreBackend string `mapstructure:"store_backend"`
	DynamoTable  string `mapstructure:"dynamo_table"`

	RateLimitMaxRequests int `mapstructure:"rate_limit_max_requests"`
	RateLimitWindowMS    int `mapstructure:"rate_limit_window_ms"`

	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`

	PromptMinLength   int `mapstructure:"prompt_min_length"`
	PromptMaxLength   int `mapstructure:"prompt_max_length"`
	EnhancedMaxLength int `mapstructure:"enhanced_max_length"`

	// PromptProvider is auto, gemini, fal or none.
	PromptProvider      string        `mapstructure:"prompt_provider"`
	GeminiAPIKey        string        `mapstructure:"gemini_api_key"`
	GeminiModel         string        `mapstructure:"gemini_model"`
	ImagenModel         string        `mapstructure:"imagen_model"`
	EnhancerCatalogPath string        `mapstructure:"enhancer_catalog_path"`
	EnhancerTimeout     time.Duration `mapstructure:"enhancer_timeout"`

	FalAPIKey         string        `mapstructure:"fal_api_key"`
	FalVideoModel     string        `mapstructure:"fal_video_model"`
	VideoTimeout      time.Duration `mapstructure:"video_timeout"`
	VideoPollInterval time.Duration `mapstructure:"video_poll_interval"`

	OpenAIAPIKey  string `mapstructure:"openai_api_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`
	// ImageProvider is auto, openai, imagen or mock.
	ImageProvider string `mapstructure:"image_provider"`

	MediaBucket    string        `mapstructure:"media_bucket"`
	MediaURLExpiry time.Duration `mapstructure:"media_url_expiry"`
	MediaDir       string        `mapstructure:"media_dir"`
	PublicBaseURL  string        `mapstructure:"public_base_url"`

	EventBusName string `mapstructure:"event_bus_name"`
	SSMPrefix    string `mapstructure:"ssm_prefix"`

	CORSOrigins []string `mapstructure:"cors_origins"`

	InstagramAccessToken       string        `mapstructure:"instagram_access_token"`
	InstagramBusinessAccountID string        `mapstructure:"instagram_business_account_id"`
	TikTokAccessToken          string        `mapstructure:"tiktok_access_token"`
	BufferAccessToken          string        `mapstructure:"buffer_access_token"`
	BufferProfileIDs           []string      `mapstructure:"buffer_profile_ids"`
	MixpostAPIToken            string        `mapstructure:"mixpost_api_token"`
	MixpostURL                 string        `mapstructure:"mixpost_url"`
	MixpostAccountIDs          []string      `mapstructure:"mixpost_account_ids"`
	ZapierWebhookURL           string        `mapstructure:"zapier_webhook_url"`
	IFTTTWebhookKey            string        `mapstructure:"ifttt_webhook_key"`
	IFTTTEventName             string        `mapstructure:"ifttt_event_name"`
	PublishPollAttempts        int           `mapstructure:"publish_poll_attempts"`
	PublishPollDelay           time.Duration `mapstructure:"publish_poll_delay"`

	WebhookVerifyToken string `mapstructure:"webhook_verify_token"`
	MetaAppSecret      string `mapstructure:"meta_app_secret"`
}

var defaults = map[string]any{
	"app_env":           EnvDevelopment,
	"port":              3000,
	"penguin_log_level": "info",
	"log_format":        "console",

	"data_dir":      "data",
	"max_records":   50,
	"store_backend": BackendJSON,
	"dynamo_table":  "",

	"rate_limit_max_requests": 10,
	"rate_limit_window_ms":    60000,

	"cache_ttl":      10 * time.Minute,
	"redis_addr":     "",
	"redis_password": "",
	"redis_db":       0,

	"prompt_min_length":   3,
	"prompt_max_length":   1000,
	"enhanced_max_length": 4000,

	"prompt_provider":       "auto",
	"gemini_api_key":        "",
	"gemini_model":          "",
	"imagen_model":          "",
	"enhancer_catalog_path": "",
	"enhancer_timeout":      30 * time.Second,

	"fal_api_key":         "",
	"fal_video_model":     "",
	"video_timeout":       5 * time.Minute,
	"video_poll_interval": 3 * time.Second,

	"openai_api_key":  "",
	"openai_base_url": "",
	"image_provider":  "auto",

	"media_bucket":     "",
	"media_url_expiry": 24 * time.Hour,
	"media_dir":        "data/media",
	"public_base_url":  "",

	"event_bus_name": "",
	"ssm_prefix":     "",

	"cors_origins": []string{},

	"instagram_access_token":        "",
	"instagram_business_account_id": "",
	"tiktok_access_token":           "",
	"buffer_access_token":           "",
	"buffer_profile_ids":            []string{},
	"mixpost_api_token":             "",
	"mixpost_url":                   "",
	"mixpost_account_ids":           []string{},
	"zapier_webhook_url":            "",
	"ifttt_webhook_key":             "",
	"ifttt_event_name":              "",
	"publish_poll_attempts":         30,
	"publish_poll_delay":            10 * time.Second,

	"webhook_verify_token": "",
	"meta_app_secret":      "",
}

// Loader resolves configuration. Precedence, highest first: Override
// values, environment, config file, .env.local, .env, defaults.
type Loader struct {
	v *viper.Viper
}

// NewLoader reads .env files and the optional config file. A configFile
// that does not exist is ignored; one that fails to parse is an error.
func NewLoader(configFile string) (*Loader, error) {
	// godotenv never overrides variables that are already set, so the
	// more specific file is loaded first.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config file %s: %w", configFile, err)
			}
		}
	}
	return &Loader{v: v}, nil
}

// SSMPrefix is the Parameter Store path secrets are read from, if any.
func (l *Loader) SSMPrefix() string {
	return strings.TrimRight(l.v.GetString("ssm_prefix"), "/")
}

// Override sets values for known keys, e.g. secrets fetched from SSM.
// Unknown keys are ignored and returned.
func (l *Loader) Override(values map[string]string) []string {
	var unknown []string
	for key, value := range values {
		key = strings.ToLower(key)
		if _, ok := defaults[key]; !ok {
			unknown = append(unknown, key)
			continue
		}
		l.v.Set(key, value)
	}
	return unknown
}

// Config decodes and validates the resolved settings.
func (l *Loader) Config() (*Config, error) {
	var c Config
	if err := l.v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load is NewLoader followed by Config.
func Load(configFile string) (*Config, error) {
	l, err := NewLoader(configFile)
	if err != nil {
		return nil, err
	}
	return l.Config()
}

func (c *Config) normalize() {
	c.AppEnv = strings.ToLower(strings.TrimSpace(c.AppEnv))
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.PromptProvider = strings.ToLower(strings.TrimSpace(c.PromptProvider))
	c.ImageProvider = strings.ToLower(strings.TrimSpace(c.ImageProvider))
	c.CORSOrigins = splitList(c.CORSOrigins)
	c.BufferProfileIDs = splitList(c.BufferProfileIDs)
	c.MixpostAccountIDs = splitList(c.MixpostAccountIDs)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(oneOf(c.AppEnv, EnvDevelopment, EnvProduction, EnvTest), "app_env must be development, production or test, got %q", c.AppEnv)
	check(c.Port > 0 && c.Port < 65536, "port must be between 1 and 65535, got %d", c.Port)
	check(c.MaxRecords > 0, "max_records must be positive, got %d", c.MaxRecords)
	check(oneOf(c.StoreBackend, BackendJSON, BackendDynamo), "store_backend must be json or dynamodb, got %q", c.StoreBackend)
	check(c.StoreBackend != BackendDynamo || c.DynamoTable != "", "dynamo_table is required when store_backend is dynamodb")
	check(c.RateLimitMaxRequests > 0, "rate_limit_max_requests must be positive, got %d", c.RateLimitMaxRequests)
	check(c.RateLimitWindowMS > 0, "rate_limit_window_ms must be positive, got %d", c.RateLimitWindowMS)
	check(c.CacheTTL > 0, "cache_ttl must be positive")
	check(c.PromptMinLength > 0, "prompt_min_length must be positive, got %d", c.PromptMinLength)
	check(c.PromptMaxLength >= c.PromptMinLength, "prompt_max_length (%d) must be at least prompt_min_length (%d)", c.PromptMaxLength, c.PromptMinLength)
	check(c.EnhancedMaxLength > 0, "enhanced_max_length must be positive, got %d", c.EnhancedMaxLength)
	check(oneOf(c.PromptProvider, "auto", "gemini", "fal", "none"), "prompt_provider must be auto, gemini, fal or none, got %q", c.PromptProvider)
	check(oneOf(c.ImageProvider, "auto", "openai", "imagen", "mock"), "image_provider must be auto, openai, imagen or mock, got %q", c.ImageProvider)
	check(c.PromptProvider != "gemini" || c.GeminiAPIKey != "", "gemini_api_key is required when prompt_provider is gemini")
	check(c.PromptProvider != "fal" || c.FalAPIKey != "", "fal_api_key is required when prompt_provider is fal")
	check(c.ImageProvider != "openai" || c.OpenAIAPIKey != "", "openai_api_key is required when image_provider is openai")
	check(c.ImageProvider != "imagen" || c.GeminiAPIKey != "", "gemini_api_key is required when image_provider is imagen")
	check(c.VideoTimeout > 0, "video_timeout must be positive")
	check(c.PublishPollAttempts > 0, "publish_poll_attempts must be positive, got %d", c.PublishPollAttempts)
	check(c.PublishPollDelay >= 0, "publish_poll_delay must not be negative")
	check(!c.IsProduction() || c.HasGenerationCredential(), "production requires fal_api_key, openai_api_key or gemini_api_key")

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
}

// IsProduction reports whether app_env is production.
func (c *Config) IsProduction() bool { return c.AppEnv == EnvProduction }

// HasGenerationCredential reports whether any real media provider is configured.
func (c *Config) HasGenerationCredential() bool {
	return c.FalAPIKey != "" || c.OpenAIAPIKey != "" || c.GeminiAPIKey != ""
}

// RateLimitWindow is the limiter window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMS) * time.Millisecond
}

// Addr is the listen address for the web server.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

func oneOf(v string, allowed ...string) bool {
	return slices.Contains(allowed, v)
}

// splitList flattens comma separated entries; env values arrive as one string.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
