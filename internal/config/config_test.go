package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Minute, cfg.TTL)
	assert.Equal(t, 10*time.Millisecond, cfg.IdlePoll)
	assert.Equal(t, int64(1024*1024), cfg.Storage.MaxImageBytes)
	assert.Equal(t, "gpt3.5-evil", cfg.Backend.Translator)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mangaqueue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ttl: 2m
poll_interval: 20ms
backend:
  url: http://translator:5003
  size: M
  timeout: 30s
  rate_per_minute: 6
storage:
  max_image_bytes: 2048
http:
  addr: ":9090"
  allowed_origins: ["https://example.org"]
history:
  db_path: ""
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.TTL)
	assert.Equal(t, 20*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 10*time.Millisecond, cfg.IdlePoll, "unset keys keep defaults")
	assert.Equal(t, "http://translator:5003", cfg.Backend.URL)
	assert.Equal(t, "M", cfg.Backend.Size)
	assert.Equal(t, "gpt3.5-evil", cfg.Backend.Translator)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 6, cfg.Backend.RatePerMinute)
	assert.Equal(t, int64(2048), cfg.Storage.MaxImageBytes)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, []string{"https://example.org"}, cfg.HTTP.AllowedOrigins)
	assert.Empty(t, cfg.History.DBPath)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("ttl: [nope"), 0o644))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "parsing config file")

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("ttl: 0s\nbackend:\n  url: not-a-url\n"), 0o644))
	_, err = Load(invalid)
	assert.ErrorContains(t, err, "ttl must be positive")
	assert.ErrorContains(t, err, "invalid backend url")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"MANGA_TRANSLATOR_API":       "http://10.0.0.5:5003",
		"MANGAQUEUE_ADDR":            ":7000",
		"MANGAQUEUE_DB_PATH":         "",
		"MANGAQUEUE_ALLOWED_ORIGINS": "https://a.example, https://b.example",
		"MANGAQUEUE_MAX_IMAGE_BYTES": "4096",
		"MANGAQUEUE_TTL":             "90s",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := DefaultConfig()
	require.NoError(t, cfg.applyEnv(lookup))

	assert.Equal(t, "http://10.0.0.5:5003", cfg.Backend.URL)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Empty(t, cfg.History.DBPath)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, int64(4096), cfg.Storage.MaxImageBytes)
	assert.Equal(t, 90*time.Second, cfg.TTL)

	env["MANGAQUEUE_TTL"] = "soon"
	assert.ErrorContains(t, DefaultConfig().applyEnv(lookup), "MANGAQUEUE_TTL")
}

func TestValidate_ContainerNeedsImage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.Container.Name = "manga-translator"
	assert.ErrorContains(t, cfg.Validate(), "needs an image")

	cfg.Backend.Container.Image = "zyddnys/manga-image-translator:main"
	assert.NoError(t, cfg.Validate())
}
