package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the mangaqueue process needs at startup.
type Config struct {
	TTL          time.Duration `yaml:"ttl"`
	IdlePoll     time.Duration `yaml:"idle_poll"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ReapSchedule string        `yaml:"reap_schedule"`

	Backend BackendConfig `yaml:"backend"`
	Storage StorageConfig `yaml:"storage"`
	HTTP    HTTPConfig    `yaml:"http"`
	History HistoryConfig `yaml:"history"`
}

type BackendConfig struct {
	URL           string          `yaml:"url"`
	Translator    string          `yaml:"translator"`
	Size          string          `yaml:"size"`
	Timeout       time.Duration   `yaml:"timeout"`
	RatePerMinute int             `yaml:"rate_per_minute"`
	Container     ContainerConfig `yaml:"container"`
}

// ContainerConfig names a docker container to keep running. Empty Name disables it.
type ContainerConfig struct {
	Name  string `yaml:"name"`
	Image string `yaml:"image"`
}

type StorageConfig struct {
	SaveDir       string `yaml:"save_dir"`
	TranslatedDir string `yaml:"translated_dir"`
	MaxImageBytes int64  `yaml:"max_image_bytes"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// HistoryConfig points at the DuckDB file. Empty DBPath disables history.
type HistoryConfig struct {
	DBPath string `yaml:"db_path"`
}

func DefaultConfig() *Config {
	return &Config{
		TTL:          10 * time.Minute,
		IdlePoll:     10 * time.Millisecond,
		PollInterval: 50 * time.Millisecond,
		ReapSchedule: "@every 1m",
		Backend: BackendConfig{
			URL:        "http://127.0.0.1:5003",
			Translator: "gpt3.5-evil",
			Size:       "S",
			Timeout:    120 * time.Second,
		},
		Storage: StorageConfig{
			SaveDir:       "./saved",
			TranslatedDir: "./translated",
			MaxImageBytes: 1024 * 1024,
		},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		History: HistoryConfig{
			DBPath: "mangaqueue.db",
		},
	}
}

// Load layers the YAML file at path (optional, "" skips it) and then the
// environment over the defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv loads the file named by MANGAQUEUE_CONFIG, if any.
func FromEnv() (*Config, error) {
	return Load(os.Getenv("MANGAQUEUE_CONFIG"))
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = d
		return nil
	}

	str("MANGA_TRANSLATOR_API", &c.Backend.URL)
	str("MANGAQUEUE_TRANSLATOR", &c.Backend.Translator)
	str("MANGAQUEUE_SIZE", &c.Backend.Size)
	str("MANGAQUEUE_ADDR", &c.HTTP.Addr)
	str("MANGAQUEUE_SAVE_DIR", &c.Storage.SaveDir)
	str("MANGAQUEUE_TRANSLATED_DIR", &c.Storage.TranslatedDir)
	str("MANGAQUEUE_REAP_SCHEDULE", &c.ReapSchedule)
	str("MANGAQUEUE_CONTAINER_NAME", &c.Backend.Container.Name)
	str("MANGAQUEUE_CONTAINER_IMAGE", &c.Backend.Container.Image)

	// An explicitly empty DB path turns history off.
	if v, ok := lookup("MANGAQUEUE_DB_PATH"); ok {
		c.History.DBPath = v
	}
	if v, ok := lookup("MANGAQUEUE_ALLOWED_ORIGINS"); ok && v != "" {
		c.HTTP.AllowedOrigins = splitList(v)
	}
	if v, ok := lookup("MANGAQUEUE_MAX_IMAGE_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MANGAQUEUE_MAX_IMAGE_BYTES %q: %w", v, err)
		}
		c.Storage.MaxImageBytes = n
	}

	return errors.Join(
		dur("MANGAQUEUE_TTL", &c.TTL),
		dur("MANGAQUEUE_BACKEND_TIMEOUT", &c.Backend.Timeout),
	)
}

// Validate checks that all config values are usable.
func (c *Config) Validate() error {
	var errs []error
	if c.TTL <= 0 {
		errs = append(errs, fmt.Errorf("ttl must be positive, got %s", c.TTL))
	}
	if c.IdlePoll <= 0 {
		errs = append(errs, fmt.Errorf("idle_poll must be positive, got %s", c.IdlePoll))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.ReapSchedule == "" {
		errs = append(errs, errors.New("reap_schedule cannot be empty"))
	}
	if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid backend url %q", c.Backend.URL))
	}
	if c.Backend.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("backend timeout must be positive, got %s", c.Backend.Timeout))
	}
	if c.Backend.RatePerMinute < 0 {
		errs = append(errs, fmt.Errorf("backend rate_per_minute cannot be negative"))
	}
	if c.Backend.Container.Name != "" && c.Backend.Container.Image == "" {
		errs = append(errs, fmt.Errorf("backend container %q needs an image", c.Backend.Container.Name))
	}
	if c.Storage.SaveDir == "" || c.Storage.TranslatedDir == "" {
		errs = append(errs, errors.New("storage directories cannot be empty"))
	}
	if c.Storage.MaxImageBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_image_bytes must be positive, got %d", c.Storage.MaxImageBytes))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http addr cannot be empty"))
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
