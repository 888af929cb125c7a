package logging

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"info":    zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestWriterFor(t *testing.T) {
	var buf bytes.Buffer
	assert.Same(t, &buf, writerFor("JSON", &buf))
	_, console := writerFor("console", &buf).(zerolog.ConsoleWriter)
	assert.True(t, console)
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})
	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	return &buf
}

func TestStartupLogger(t *testing.T) {
	buf := captureLog(t)

	NewStartupLogger("penguin-web").
		Mode("mock").
		Resource("s3", "media", "penguin-media").
		Resource("dynamodb", "records", "").
		Feature("instagram", false).
		Feature("redisCache", true).
		Config("port", "3000").
		InitDuration(1500 * time.Millisecond).
		Log()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "Startup complete", entry["message"])
	process := entry["process"].(map[string]any)
	assert.Equal(t, "penguin-web", process["name"])
	assert.Equal(t, "mock", process["mode"])

	resources := entry["resources"].(map[string]any)
	assert.Contains(t, resources, "s3")
	assert.NotContains(t, resources, "dynamodb")

	features := entry["features"].(map[string]any)
	assert.Equal(t, true, features["redisCache"])
	assert.Equal(t, false, features["instagram"])

	assert.Equal(t, "3000", entry["config"].(map[string]any)["port"])
	assert.Contains(t, entry, "initDuration")
}

func TestStartupLogger_OmitsEmptySections(t *testing.T) {
	buf := captureLog(t)

	NewStartupLogger("penguin-cli").Log()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "resources")
	assert.NotContains(t, entry, "features")
	assert.NotContains(t, entry, "config")
	assert.NotContains(t, entry, "initDuration")
}
