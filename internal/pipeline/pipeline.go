// Package pipeline clones one page into a static bundle: render, localize,
// assemble, write.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"tersicore/internal/asset"
	"tersicore/internal/assemble"
	"tersicore/internal/bundle"
	"tersicore/internal/palette"
	"tersicore/internal/render"
	"tersicore/internal/summary"
)

// Kind classifies fatal pipeline failures.
type Kind int

const (
	KindInvalidRequest Kind = iota + 1
	KindRender
	KindPalette
	KindWrite
	KindAssemble
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid request"
	case KindRender:
		return "render failure"
	case KindPalette:
		return "palette extraction failure"
	case KindWrite:
		return "write failure"
	case KindAssemble:
		return "assembly failure"
	}
	return "unknown failure"
}

// Error is a fatal run failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind carried by err, or 0.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

func fail(k Kind, err error) error { return &Error{Kind: k, Err: err} }

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Request is one clone job.
type Request struct {
	URL      string `json:"url"`
	Slug     string `json:"slug"`
	Title    string `json:"title"`
	Template string `json:"template,omitempty"`
	Font     string `json:"font,omitempty"`
}

// Validate checks the request and parses its template id.
func (r Request) Validate() (assemble.Mode, error) {
	u, err := url.Parse(strings.TrimSpace(r.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return 0, fmt.Errorf("url must be an absolute http(s) URL: %q", r.URL)
	}
	if err := ValidateSlug(r.Slug); err != nil {
		return 0, err
	}
	return assemble.ParseMode(r.Template)
}

// ValidateSlug reports whether slug is usable as a bundle directory name.
func ValidateSlug(slug string) error {
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("slug must match %s: %q", slugPattern, slug)
	}
	return nil
}

// Result describes a written bundle.
type Result struct {
	Layout   *bundle.Layout
	Mode     assemble.Mode
	IndexURL string
}

// Pipeline runs clone jobs. Runs for different slugs proceed in parallel;
// runs for the same slug are serialized.
type Pipeline struct {
	cfg      Config
	logger   *log.Logger
	renderer *render.Renderer

	mu    sync.Mutex
	slugs map[string]*sync.Mutex
}

// New wires a Pipeline. BaseURL is required.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("pipeline: BASE_URL is required")
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = defaultStaticDir
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = asset.DefaultUserAgent
	}
	if cfg.Launcher == nil {
		cfg.Launcher = &render.ChromeLauncher{
			Logger:      cfg.Logger,
			UserAgent:   cfg.UserAgent,
			ExecPath:    cfg.ChromePath,
			NetworkIdle: cfg.NetworkIdle,
		}
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = asset.NewHTTPFetcher(asset.WithUserAgent(cfg.UserAgent), asset.WithTimeout(cfg.FetchTimeout))
	}
	if cfg.Summarizer == nil {
		cfg.Summarizer = summary.Constant{}
		if cfg.OpenAI.APIKey != "" {
			s, err := summary.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
			if err != nil {
				return nil, err
			}
			cfg.Summarizer = s
		}
	}

	r := render.New(cfg.Launcher, render.Options{
		ScrollInterval: cfg.ScrollInterval,
		MaxScrolls:     cfg.MaxScrolls,
		SettleDelay:    cfg.SettleDelay,
		StyleDelay:     cfg.StyleDelay,
		Timeout:        cfg.RenderTimeout,
	}, cfg.Logger)
	if cfg.Sleep != nil {
		r.Sleep = cfg.Sleep
	}
	return &Pipeline{
		cfg:      cfg,
		logger:   cfg.Logger,
		renderer: r,
		slugs:    make(map[string]*sync.Mutex),
	}, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Layout returns the bundle layout for slug.
func (p *Pipeline) Layout(slug string) *bundle.Layout {
	return bundle.New(p.cfg.StaticDir, p.cfg.BaseURL, slug, p.logger)
}

func (p *Pipeline) lock(slug string) func() {
	p.mu.Lock()
	m, ok := p.slugs[slug]
	if !ok {
		m = &sync.Mutex{}
		p.slugs[slug] = m
	}
	p.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Run executes one clone job and writes <static>/<slug>/index.html.
// Failures are *Error values.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	mode, err := req.Validate()
	if err != nil {
		return nil, fail(KindInvalidRequest, err)
	}
	defer p.lock(req.Slug)()

	start := time.Now()
	p.logger.Printf("PIPELINE start url=%s slug=%s template=%s", req.URL, req.Slug, mode)

	layout := p.Layout(req.Slug)
	if err := layout.Prepare(); err != nil {
		return nil, fail(KindWrite, err)
	}

	page, err := p.renderer.Render(ctx, req.URL)
	if err != nil {
		return nil, fail(KindRender, err)
	}

	loc := asset.NewLocalizer(layout, p.cfg.Fetcher, page.Origin, p.logger)
	loc.Workers = p.cfg.Workers
	asm := assemble.New(loc, layout, p.logger)
	asm.Summarizer = p.cfg.Summarizer

	root, err := asm.Assemble(ctx, page, assemble.Options{Mode: mode, Title: req.Title, Font: req.Font})
	if werr := loc.Err(); werr != nil {
		return nil, fail(KindWrite, werr)
	}
	if err != nil {
		return nil, fail(classify(err), err)
	}
	if err := layout.Write(root); err != nil {
		return nil, fail(KindWrite, err)
	}

	p.logger.Printf("PIPELINE done slug=%s index=%s took=%s", req.Slug, layout.IndexPath(), time.Since(start).Round(time.Millisecond))
	return &Result{Layout: layout, Mode: mode, IndexURL: layout.IndexURL()}, nil
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, palette.ErrNoScreenshot), errors.Is(err, palette.ErrDecode):
		return KindPalette
	case errors.Is(err, bundle.ErrWrite):
		return KindWrite
	}
	return KindAssemble
}
