package render

import (
	"context"

	"tersicore/internal/logo"
)

// Viewport is the browser window size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// DefaultViewport is the window every page is rendered in.
var DefaultViewport = Viewport{Width: 1920, Height: 1080}

// ScrollState is the page's scroll geometry.
type ScrollState struct {
	ScrollY      float64 `json:"scrollY"`
	InnerHeight  float64 `json:"innerHeight"`
	ScrollHeight float64 `json:"scrollHeight"`
}

// AtBottom reports whether the viewport reaches the end of the document.
func (s ScrollState) AtBottom() bool {
	return s.ScrollY+s.InnerHeight >= s.ScrollHeight
}

// Launcher opens isolated browser sessions.
type Launcher interface {
	Launch(ctx context.Context, vp Viewport) (Session, error)
}

// Session is one browser tab. Callers must Close it on every path.
type Session interface {
	// Navigate loads url and returns once the load event fired.
	Navigate(ctx context.Context, url string) error
	// PageDown sends a single page-down key press.
	PageDown(ctx context.Context) error
	ScrollState(ctx context.Context) (ScrollState, error)
	ScrollToTop(ctx context.Context) error

	// CookieCandidates finds the smallest elements whose text mentions
	// cookies. Each entry lists the upper-case tag names of the element's
	// ancestors, nearest first.
	CookieCandidates(ctx context.Context) ([][]string, error)
	// RemoveCookieCandidate removes the ancestor depth levels above
	// candidate index (depth 0 removes the element itself).
	RemoveCookieCandidate(ctx context.Context, index, depth int) error

	// HTML returns the serialized live document.
	HTML(ctx context.Context) (string, error)
	// Location returns the URL the tab ended up on.
	Location(ctx context.Context) (string, error)
	// Screenshot captures the full page as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// StyleRules returns the cssText of every rule of every readable
	// stylesheet, in document order.
	StyleRules(ctx context.Context) ([]string, error)
	// LogoCandidates returns elements whose class, id or alt mention logo,
	// with computed background images.
	LogoCandidates(ctx context.Context) ([]logo.Candidate, error)
	// Text returns the rendered text of the body.
	Text(ctx context.Context) (string, error)

	Close() error
}
