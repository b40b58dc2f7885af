// Package render drives a headless browser through one page: navigate,
// scroll until lazy content stops loading, drop cookie banners, then capture
// the DOM, a full-page screenshot and the data later stages need.
package render

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"tersicore/internal/logo"
)

// ErrRender marks fatal rendering failures: a bad target, a browser that
// will not start, or a page that will not load.
var ErrRender = errors.New("render: page rendering failed")

// Options tunes the render sequence.
type Options struct {
	Viewport       Viewport
	ScrollInterval time.Duration
	MaxScrolls     int
	SettleDelay    time.Duration
	// StyleDelay is waited before stylesheet rules are collected.
	StyleDelay time.Duration
	// CookieDepth bounds how far above a cookie notice the removal climbs.
	CookieDepth int
	// Timeout bounds the whole render. Zero means no bound.
	Timeout time.Duration
}

// DefaultOptions returns the stock timings.
func DefaultOptions() Options {
	return Options{
		Viewport:       DefaultViewport,
		ScrollInterval: 500 * time.Millisecond,
		MaxScrolls:     30,
		SettleDelay:    time.Second,
		StyleDelay:     3 * time.Second,
		CookieDepth:    5,
		Timeout:        2 * time.Minute,
	}
}

// Page is the captured state of one rendered page. Doc reflects the page
// after scrolling, cookie banner removal and lazy-load cleanup.
type Page struct {
	URL            string
	Origin         *url.URL
	Doc            *goquery.Document
	Screenshot     []byte
	StyleRules     []string
	LogoCandidates []logo.Candidate
	Text           string
}

// Renderer renders pages through a Launcher.
type Renderer struct {
	Launcher Launcher
	Options  Options
	Logger   *log.Logger
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Renderer with zero option fields filled from DefaultOptions.
func New(l Launcher, opts Options, logger *log.Logger) *Renderer {
	def := DefaultOptions()
	if opts.Viewport.Width <= 0 || opts.Viewport.Height <= 0 {
		opts.Viewport = def.Viewport
	}
	if opts.ScrollInterval <= 0 {
		opts.ScrollInterval = def.ScrollInterval
	}
	if opts.MaxScrolls <= 0 {
		opts.MaxScrolls = def.MaxScrolls
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.StyleDelay < 0 {
		opts.StyleDelay = 0
	}
	if opts.CookieDepth <= 0 {
		opts.CookieDepth = def.CookieDepth
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Renderer{Launcher: l, Options: opts, Logger: logger, Sleep: sleep}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Render loads target and captures it. Only failures to start, navigate or
// snapshot the page are returned; the rest is logged and left empty.
func (r *Renderer) Render(ctx context.Context, target string) (*Page, error) {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid url %q", ErrRender, target)
	}
	if r.Options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Options.Timeout)
		defer cancel()
	}

	start := time.Now()
	sess, err := r.Launcher.Launch(ctx, r.Options.Viewport)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			r.Logger.Printf("RENDER close failed: %v", cerr)
		}
	}()

	if err := sess.Navigate(ctx, u.String()); err != nil {
		return nil, fmt.Errorf("%w: navigate %s: %w", ErrRender, u, err)
	}
	r.Logger.Printf("RENDER loaded url=%s", u)
	if err := r.Sleep(ctx, r.Options.SettleDelay); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	polls, err := ScrollToBottom(ctx, sess, r.Options.MaxScrolls, r.Options.ScrollInterval, r.Sleep)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrRender, ctx.Err())
		}
		r.Logger.Printf("SCROLL stopped polls=%d err=%v", polls, err)
	} else {
		r.Logger.Printf("SCROLL done polls=%d", polls)
	}

	removed := RemoveCookieBanners(ctx, sess, r.Options.CookieDepth, r.Logger)
	r.Logger.Printf("COOKIE removed=%d", removed)

	if err := sess.ScrollToTop(ctx); err != nil {
		r.Logger.Printf("SCROLL top failed: %v", err)
	}
	if err := r.Sleep(ctx, r.Options.SettleDelay); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	raw, err := sess.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot: %w", ErrRender, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: parse snapshot: %w", ErrRender, err)
	}
	if n := StripLazyLoad(doc); n > 0 {
		r.Logger.Printf("RENDER unhid lazy elements=%d", n)
	}

	page := &Page{URL: u.String(), Doc: doc}
	if loc, err := sess.Location(ctx); err == nil && loc != "" {
		page.URL = loc
	}
	page.Origin = Origin(page.URL, doc)

	if shot, err := sess.Screenshot(ctx); err != nil {
		r.Logger.Printf("RENDER screenshot failed: %v", err)
	} else {
		page.Screenshot = shot
	}
	if page.LogoCandidates, err = sess.LogoCandidates(ctx); err != nil {
		r.Logger.Printf("LOGO candidates failed: %v", err)
	}
	if page.Text, err = sess.Text(ctx); err != nil {
		r.Logger.Printf("RENDER text failed: %v", err)
	}
	if err := r.Sleep(ctx, r.Options.StyleDelay); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	if page.StyleRules, err = sess.StyleRules(ctx); err != nil {
		r.Logger.Printf("CSS rules failed: %v", err)
	}
	r.Logger.Printf("RENDER captured url=%s origin=%s screenshot_bytes=%d rules=%d logos=%d took=%s",
		page.URL, page.Origin, len(page.Screenshot), len(page.StyleRules), len(page.LogoCandidates),
		time.Since(start).Round(time.Millisecond))
	return page, nil
}

// ScrollToBottom presses page-down, waits interval and checks whether the
// bottom was reached, at most maxPolls times. It returns the number of polls made.
func ScrollToBottom(ctx context.Context, s Session, maxPolls int, interval time.Duration, wait func(context.Context, time.Duration) error) (int, error) {
	for poll := 1; poll <= maxPolls; poll++ {
		if err := s.PageDown(ctx); err != nil {
			return poll, err
		}
		if err := wait(ctx, interval); err != nil {
			return poll, err
		}
		st, err := s.ScrollState(ctx)
		if err != nil {
			return poll, err
		}
		if st.AtBottom() {
			return poll, nil
		}
	}
	return maxPolls, nil
}

// RemovalDepth says how many ancestors above a cookie notice to remove.
// ancestors holds upper-case tag names, nearest first. The climb stops at
// maxDepth or before reaching BODY or HTML.
func RemovalDepth(ancestors []string, maxDepth int) int {
	depth := 0
	for depth < maxDepth && depth < len(ancestors) {
		tag := strings.ToUpper(ancestors[depth])
		if tag == "BODY" || tag == "HTML" {
			break
		}
		depth++
	}
	return depth
}

// RemoveCookieBanners removes every cookie notice found in the live page.
// Failures are logged and skipped. It returns the number of removals.
func RemoveCookieBanners(ctx context.Context, s Session, maxDepth int, logger *log.Logger) int {
	chains, err := s.CookieCandidates(ctx)
	if err != nil {
		logger.Printf("COOKIE lookup failed: %v", err)
		return 0
	}
	removed := 0
	for i, chain := range chains {
		depth := RemovalDepth(chain, maxDepth)
		if err := s.RemoveCookieCandidate(ctx, i, depth); err != nil {
			logger.Printf("COOKIE remove failed index=%d depth=%d err=%v", i, depth, err)
			continue
		}
		removed++
	}
	return removed
}

// StripLazyLoad drops the loading attribute together with an inline
// display:none style, which is how lazy loaders keep images hidden.
func StripLazyLoad(doc *goquery.Document) int {
	n := 0
	doc.Find("[loading][style]").Each(func(_ int, sel *goquery.Selection) {
		style, _ := sel.Attr("style")
		if !isDisplayNone(style) {
			return
		}
		sel.RemoveAttr("loading")
		sel.RemoveAttr("style")
		n++
	})
	return n
}

func isDisplayNone(style string) bool {
	s := strings.ToLower(strings.Join(strings.Fields(style), ""))
	return strings.TrimSuffix(s, ";") == "display:none"
}

// Origin is the root every relative reference resolves against: the
// page's scheme and host, unless a <base href> says otherwise.
func Origin(pageURL string, doc *goquery.Document) *url.URL {
	u, err := url.Parse(pageURL)
	if err != nil {
		return &url.URL{}
	}
	root := &url.URL{Scheme: u.Scheme, Host: u.Host}
	if doc == nil {
		return root
	}
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return root
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return root
	}
	return u.ResolveReference(ref)
}
