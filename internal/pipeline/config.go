package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tersicore/internal/asset"
	"tersicore/internal/render"
	"tersicore/internal/summary"
)

const (
	defaultStaticDir = "static"
	defaultWorkers   = 8
)

// OpenAIConfig enables the OpenAI summarizer when APIKey is set.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// Config describes pipeline wiring and timings.
type Config struct {
	// BaseURL prefixes every public asset URL, e.g. https://sites.example.
	BaseURL   string `yaml:"base_url"`
	StaticDir string `yaml:"static_dir"`
	Workers   int    `yaml:"workers"`
	UserAgent string `yaml:"user_agent"`

	ScrollInterval time.Duration `yaml:"scroll_interval"`
	MaxScrolls     int           `yaml:"max_scrolls"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	StyleDelay     time.Duration `yaml:"style_delay"`
	NetworkIdle    time.Duration `yaml:"network_idle"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	RenderTimeout  time.Duration `yaml:"render_timeout"`
	ChromePath     string        `yaml:"chrome_path"`

	OpenAI OpenAIConfig `yaml:"openai"`

	Logger     *log.Logger        `yaml:"-"`
	Launcher   render.Launcher    `yaml:"-"`
	Fetcher    asset.Fetcher      `yaml:"-"`
	Summarizer summary.Summarizer `yaml:"-"`
	// Sleep overrides the renderer's waits.
	Sleep func(ctx context.Context, d time.Duration) error `yaml:"-"`
}

// DefaultConfig populates configuration from environment variables.
func DefaultConfig() Config {
	opts := render.DefaultOptions()
	cfg := Config{
		BaseURL:        strings.TrimRight(strings.TrimSpace(os.Getenv("BASE_URL")), "/"),
		StaticDir:      envString("TERSICORE_STATIC_DIR", defaultStaticDir),
		Workers:        envInt("TERSICORE_WORKERS", defaultWorkers),
		UserAgent:      envString("TERSICORE_USER_AGENT", asset.DefaultUserAgent),
		ScrollInterval: envDuration("TERSICORE_SCROLL_INTERVAL", opts.ScrollInterval),
		MaxScrolls:     envInt("TERSICORE_MAX_SCROLLS", opts.MaxScrolls),
		SettleDelay:    envDuration("TERSICORE_SETTLE_DELAY", opts.SettleDelay),
		StyleDelay:     envDuration("TERSICORE_STYLE_DELAY", opts.StyleDelay),
		NetworkIdle:    envDuration("TERSICORE_NETWORK_IDLE", 0),
		FetchTimeout:   envDuration("TERSICORE_FETCH_TIMEOUT", 30*time.Second),
		RenderTimeout:  envDuration("TERSICORE_RENDER_TIMEOUT", opts.Timeout),
		ChromePath:     strings.TrimSpace(os.Getenv("TERSICORE_CHROME_PATH")),
		OpenAI: OpenAIConfig{
			APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			Model:   strings.TrimSpace(os.Getenv("OPENAI_MODEL")),
			BaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		},
		Logger: log.Default(),
	}
	return cfg
}

// LoadFile overlays the YAML file at path onto cfg. Keys missing from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("pipeline: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("pipeline: parse config %s: %w", path, err)
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return def
	}
	return d
}
