package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test from an empty directory so no stray .env is read.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, c.AppEnv)
	assert.Equal(t, 3000, c.Port)
	assert.Equal(t, ":3000", c.Addr())
	assert.Equal(t, 50, c.MaxRecords)
	assert.Equal(t, BackendJSON, c.StoreBackend)
	assert.Equal(t, 10, c.RateLimitMaxRequests)
	assert.Equal(t, time.Minute, c.RateLimitWindow())
	assert.Equal(t, 10*time.Minute, c.CacheTTL)
	assert.Equal(t, 3, c.PromptMinLength)
	assert.Equal(t, 1000, c.PromptMaxLength)
	assert.Equal(t, 30, c.PublishPollAttempts)
	assert.Empty(t, c.CORSOrigins)
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "8080")
	t.Setenv("CACHE_TTL", "2m")
	t.Setenv("RATE_LIMIT_WINDOW_MS", "1500")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("BUFFER_PROFILE_IDS", "p1,p2")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, 2*time.Minute, c.CacheTTL)
	assert.Equal(t, 1500*time.Millisecond, c.RateLimitWindow())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.CORSOrigins)
	assert.Equal(t, []string{"p1", "p2"}, c.BufferProfileIDs)
}

func TestLoad_DotEnvLocalWinsOverDotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MIXPOST_URL=https://from-env\nIFTTT_EVENT_NAME=from_env\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte("MIXPOST_URL=https://from-local\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("MIXPOST_URL")
		os.Unsetenv("IFTTT_EVENT_NAME")
	})

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://from-local", c.MixpostURL)
	assert.Equal(t, "from_env", c.IFTTTEventName)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "penguin.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 4000\nstore_backend: DynamoDB\ndynamo_table: penguin-media\nvideo_timeout: 90s\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, c.Port)
	assert.Equal(t, BackendDynamo, c.StoreBackend)
	assert.Equal(t, "penguin-media", c.DynamoTable)
	assert.Equal(t, 90*time.Second, c.VideoTimeout)
}

func TestLoad_MissingConfigFileIsIgnored(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
}

func TestLoad_MalformedConfigFileFails(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [unterminated\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoad_ProductionRequiresGenerationCredential(t *testing.T) {
	isolate(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("FAL_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "production requires")

	t.Setenv("FAL_API_KEY", "fal-key")
	c, err := Load("")
	require.NoError(t, err)
	assert.True(t, c.IsProduction())
	assert.True(t, c.HasGenerationCredential())
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	c := Config{
		AppEnv:               EnvDevelopment,
		Port:                 0,
		MaxRecords:           50,
		StoreBackend:         BackendDynamo,
		RateLimitMaxRequests: 10,
		RateLimitWindowMS:    60000,
		CacheTTL:             time.Minute,
		PromptMinLength:      3,
		PromptMaxLength:      1000,
		EnhancedMaxLength:    4000,
		PromptProvider:       "gemini",
		ImageProvider:        "auto",
		VideoTimeout:         time.Minute,
		PublishPollAttempts:  1,
	}

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port must be between")
	assert.Contains(t, err.Error(), "dynamo_table is required")
	assert.Contains(t, err.Error(), "gemini_api_key is required")
}

func TestLoader_Override(t *testing.T) {
	isolate(t)
	t.Setenv("SSM_PREFIX", "/penguin/prod/")

	l, err := NewLoader("")
	require.NoError(t, err)
	assert.Equal(t, "/penguin/prod", l.SSMPrefix())

	unknown := l.Override(map[string]string{
		"OPENAI_API_KEY": "sk-test",
		"not_a_setting":  "x",
	})
	assert.Equal(t, []string{"not_a_setting"}, unknown)

	c, err := l.Config()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", c.OpenAIAPIKey)
}
