// Package rendertest provides an in-memory browser for tests that need a
// render.Launcher without Chrome.
package rendertest

import (
	"context"
	"sync"
	"time"

	"tersicore/internal/logo"
	"tersicore/internal/render"
)

// Session is a scripted render.Session.
type Session struct {
	HTMLText  string
	FinalURL  string
	PNG       []byte
	Rules     []string
	Logos     []logo.Candidate
	BodyText  string
	CookieTag [][]string

	// BottomAfter makes ScrollState report the bottom once that many
	// page-downs were sent. Zero never reaches the bottom.
	BottomAfter int

	NavigateErr   error
	ScreenshotErr error

	mu        sync.Mutex
	pageDowns int
	navigated []string
	removed   [][2]int
	closed    int
}

var _ render.Session = (*Session)(nil)

func (s *Session) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigated = append(s.navigated, url)
	return s.NavigateErr
}

func (s *Session) PageDown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageDowns++
	return nil
}

func (s *Session) ScrollState(context.Context) (render.ScrollState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := render.ScrollState{ScrollY: float64(s.pageDowns) * 1080, InnerHeight: 1080, ScrollHeight: 1 << 30}
	if s.BottomAfter > 0 && s.pageDowns >= s.BottomAfter {
		st.ScrollHeight = st.ScrollY + st.InnerHeight
	}
	return st, nil
}

func (s *Session) ScrollToTop(context.Context) error { return nil }

func (s *Session) CookieCandidates(context.Context) ([][]string, error) {
	return s.CookieTag, nil
}

func (s *Session) RemoveCookieCandidate(_ context.Context, index, depth int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, [2]int{index, depth})
	return nil
}

func (s *Session) HTML(context.Context) (string, error) { return s.HTMLText, nil }

func (s *Session) Location(context.Context) (string, error) { return s.FinalURL, nil }

func (s *Session) Screenshot(context.Context) ([]byte, error) {
	return s.PNG, s.ScreenshotErr
}

func (s *Session) StyleRules(context.Context) ([]string, error) { return s.Rules, nil }

func (s *Session) LogoCandidates(context.Context) ([]logo.Candidate, error) { return s.Logos, nil }

func (s *Session) Text(context.Context) (string, error) { return s.BodyText, nil }

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// PageDowns reports how many page-down presses were sent.
func (s *Session) PageDowns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageDowns
}

// Removed lists the (index, depth) pairs passed to RemoveCookieCandidate.
func (s *Session) Removed() [][2]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]int(nil), s.removed...)
}

// Closed reports how many times Close was called.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Navigated lists the URLs passed to Navigate.
func (s *Session) Navigated() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigated...)
}

// Launcher hands out Session, or fails with Err.
type Launcher struct {
	Session *Session
	Err     error

	mu       sync.Mutex
	viewport render.Viewport
}

func (l *Launcher) Launch(_ context.Context, vp render.Viewport) (render.Session, error) {
	l.mu.Lock()
	l.viewport = vp
	l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Session, nil
}

// Viewport returns the size requested by the last Launch.
func (l *Launcher) Viewport() render.Viewport {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.viewport
}

// NoSleep is a Renderer.Sleep that returns at once.
func NoSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }
