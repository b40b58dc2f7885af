package render

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"tersicore/internal/logo"
)

// ChromeLauncher starts a headless Chrome per session.
type ChromeLauncher struct {
	Logger    *log.Logger
	UserAgent string
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
	// NetworkIdle, when positive, makes Navigate also wait until no request
	// has been in flight for that long.
	NetworkIdle time.Duration
}

func (l *ChromeLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-client-side-phishing-detection", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("disable-extensions", true),
	)
	if l.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.UserAgent))
	}
	if l.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.ExecPath))
	}
	return opts
}

// Launch starts the browser and opens a tab sized to vp.
func (l *ChromeLauncher) Launch(ctx context.Context, vp Viewport) (Session, error) {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	s := &chromeSession{
		tab:    tabCtx,
		logger: logger,
		idle:   l.NetworkIdle,
		cancel: func() {
			cancelTab()
			cancelAlloc()
		},
	}
	s.listen()
	// The first Run allocates the browser and must use the tab context
	// itself: a cancelled derived context would take the browser down.
	abort := context.AfterFunc(ctx, s.cancel)
	err := chromedp.Run(tabCtx,
		network.Enable(),
		emulation.SetDeviceMetricsOverride(int64(vp.Width), int64(vp.Height), 1, false),
	)
	abort()
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	logger.Printf("RENDER launched viewport=%dx%d", vp.Width, vp.Height)
	return s, nil
}

type chromeSession struct {
	tab    context.Context
	cancel context.CancelFunc
	logger *log.Logger
	idle   time.Duration

	mu           sync.Mutex
	active       int
	lastActivity time.Time
}

// run executes actions on the tab, giving up when ctx is done. Cancelling the
// derived context stops the actions without closing the tab.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, stop := context.WithCancel(s.tab)
	defer stop()
	unbind := context.AfterFunc(ctx, stop)
	defer unbind()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *chromeSession) listen() {
	s.lastActivity = time.Now()
	chromedp.ListenTarget(s.tab, func(ev interface{}) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			s.mu.Lock()
			s.active++
			s.lastActivity = time.Now()
			s.mu.Unlock()
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			s.mu.Lock()
			if s.active > 0 {
				s.active--
			}
			s.lastActivity = time.Now()
			s.mu.Unlock()
		}
	})
}

func (s *chromeSession) waitIdle() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if s.idle <= 0 {
			return nil
		}
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			s.mu.Lock()
			active, elapsed := s.active, time.Since(s.lastActivity)
			s.mu.Unlock()
			if active == 0 && elapsed >= s.idle {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		s.waitIdle(),
	)
}

func (s *chromeSession) PageDown(ctx context.Context) error {
	return s.run(ctx, chromedp.KeyEvent(kb.PageDown))
}

const scrollStateJS = `({scrollY: window.scrollY, innerHeight: window.innerHeight, scrollHeight: document.body ? document.body.scrollHeight : 0})`

func (s *chromeSession) ScrollState(ctx context.Context) (ScrollState, error) {
	var st ScrollState
	err := s.run(ctx, chromedp.Evaluate(scrollStateJS, &st))
	return st, err
}

func (s *chromeSession) ScrollToTop(ctx context.Context) error {
	return s.run(ctx, chromedp.Evaluate(`window.scrollTo(0, 0)`, nil))
}

const cookieCandidatesJS = `(() => {
  const found = [];
  if (!document.body) { window.__cookieCandidates = found; return []; }
  const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_TEXT);
  while (walker.nextNode()) {
    const el = walker.currentNode.parentElement;
    if (!el || found.includes(el)) continue;
    if (walker.currentNode.textContent.toLowerCase().includes("cookies")) found.push(el);
  }
  window.__cookieCandidates = found;
  return found.map(el => {
    const tags = [];
    for (let p = el.parentElement; p && tags.length < 16; p = p.parentElement) tags.push(p.tagName);
    return tags;
  });
})()`

func (s *chromeSession) CookieCandidates(ctx context.Context) ([][]string, error) {
	var chains [][]string
	err := s.run(ctx, chromedp.Evaluate(cookieCandidatesJS, &chains))
	return chains, err
}

func (s *chromeSession) RemoveCookieCandidate(ctx context.Context, index, depth int) error {
	js := fmt.Sprintf(`(() => {
  let cur = (window.__cookieCandidates || [])[%d];
  if (!cur || !cur.isConnected) return false;
  for (let i = 0; i < %d && cur.parentElement; i++) cur = cur.parentElement;
  cur.remove();
  return true;
})()`, index, depth)
	return s.run(ctx, chromedp.Evaluate(js, nil))
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var out string
	err := s.run(ctx, chromedp.OuterHTML("html", &out, chromedp.ByQuery))
	return out, err
}

func (s *chromeSession) Location(ctx context.Context) (string, error) {
	var out string
	err := s.run(ctx, chromedp.Location(&out))
	return out, err
}

func (s *chromeSession) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// quality 100 selects PNG
	err := s.run(ctx, chromedp.FullScreenshot(&buf, 100))
	return buf, err
}

const styleRulesJS = `(() => {
  const out = [];
  for (const sheet of Array.from(document.styleSheets)) {
    try {
      for (const rule of Array.from(sheet.cssRules)) out.push(rule.cssText);
    } catch (e) {}
  }
  return out;
})()`

func (s *chromeSession) StyleRules(ctx context.Context) ([]string, error) {
	var rules []string
	err := s.run(ctx, chromedp.Evaluate(styleRulesJS, &rules))
	return rules, err
}

var logoCandidatesJS = `(() => {
  const pick = e => ({src: e.getAttribute("src") || "", backgroundImage: getComputedStyle(e).backgroundImage || ""});
  return Array.from(document.querySelectorAll("` + logo.Selector + `")).map(el => {
    const c = pick(el);
    c.children = Array.from(el.children).map(pick);
    return c;
  });
})()`

func (s *chromeSession) LogoCandidates(ctx context.Context) ([]logo.Candidate, error) {
	var cands []logo.Candidate
	err := s.run(ctx, chromedp.Evaluate(logoCandidatesJS, &cands))
	return cands, err
}

func (s *chromeSession) Text(ctx context.Context) (string, error) {
	var text string
	err := s.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text))
	return strings.TrimSpace(text), err
}

func (s *chromeSession) Close() error {
	s.cancel()
	s.logger.Printf("RENDER closed browser")
	return nil
}
