package render_test

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"tersicore/internal/render"
	"tersicore/internal/render/rendertest"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newRenderer(l render.Launcher) *render.Renderer {
	r := render.New(l, render.Options{}, quietLogger())
	r.Sleep = rendertest.NoSleep
	return r
}

const page = `<html><head><base href="/sub/"></head><body>
<img loading="lazy" style="display: none;" src="a.png">
<img loading="lazy" style="display:none" src="b.png">
<img loading="lazy" style="display: block;" src="c.png">
</body></html>`

func TestScrollStopsAtBottom(t *testing.T) {
	t.Parallel()
	sess := &rendertest.Session{BottomAfter: 4}
	polls, err := render.ScrollToBottom(context.Background(), sess, 30, time.Millisecond, rendertest.NoSleep)
	if err != nil {
		t.Fatalf("ScrollToBottom: %v", err)
	}
	if polls != 4 || sess.PageDowns() != 4 {
		t.Fatalf("polls = %d, page-downs = %d, want 4 and 4", polls, sess.PageDowns())
	}
}

func TestScrollIsBounded(t *testing.T) {
	t.Parallel()
	sess := &rendertest.Session{}
	polls, err := render.ScrollToBottom(context.Background(), sess, 30, time.Millisecond, rendertest.NoSleep)
	if err != nil {
		t.Fatalf("ScrollToBottom: %v", err)
	}
	if polls != 30 || sess.PageDowns() != 30 {
		t.Fatalf("polls = %d, page-downs = %d, want 30", polls, sess.PageDowns())
	}
}

func TestRemovalDepth(t *testing.T) {
	t.Parallel()
	tests := []struct {
		chain []string
		want  int
	}{
		{[]string{"DIV", "DIV", "DIV", "DIV", "DIV", "DIV", "DIV", "BODY"}, 5},
		{[]string{"P", "DIV", "BODY", "HTML"}, 2},
		{[]string{"BODY", "HTML"}, 0},
		{[]string{"div", "section"}, 2},
		{nil, 0},
	}
	for _, tc := range tests {
		if got := render.RemovalDepth(tc.chain, 5); got != tc.want {
			t.Fatalf("RemovalDepth(%q, 5) = %d, want %d", tc.chain, got, tc.want)
		}
	}
}

func TestStripLazyLoad(t *testing.T) {
	t.Parallel()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n := render.StripLazyLoad(doc); n != 2 {
		t.Fatalf("StripLazyLoad = %d, want 2", n)
	}
	if doc.Find("[loading]").Length() != 1 {
		t.Fatalf("the visible lazy image must keep its loading attribute")
	}
	if _, ok := doc.Find(`img[src="a.png"]`).Attr("style"); ok {
		t.Fatalf("style must be removed together with loading")
	}
}

func TestOrigin(t *testing.T) {
	t.Parallel()
	plain, _ := goquery.NewDocumentFromReader(strings.NewReader(`<html><body></body></html>`))
	based, _ := goquery.NewDocumentFromReader(strings.NewReader(page))
	abs, _ := goquery.NewDocumentFromReader(strings.NewReader(`<html><head><base href="https://cdn.example/x/"></head></html>`))
	tests := []struct {
		url  string
		doc  *goquery.Document
		want string
	}{
		{"https://example.com/a/b?q=1", plain, "https://example.com"},
		{"https://example.com/a/b", based, "https://example.com/sub/"},
		{"http://example.com/", abs, "https://cdn.example/x/"},
	}
	for _, tc := range tests {
		if got := render.Origin(tc.url, tc.doc).String(); got != tc.want {
			t.Fatalf("Origin(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}

func TestRenderCapturesPage(t *testing.T) {
	t.Parallel()
	sess := &rendertest.Session{
		HTMLText:    page,
		FinalURL:    "https://example.com/landing",
		PNG:         []byte("png"),
		Rules:       []string{"body { color: red; }"},
		BodyText:    "Hello World",
		BottomAfter: 2,
		CookieTag:   [][]string{{"DIV", "BODY"}, {"SPAN", "P", "DIV", "DIV", "DIV", "DIV", "DIV"}},
	}
	l := &rendertest.Launcher{Session: sess}
	p, err := newRenderer(l).Render(context.Background(), "https://example.com/")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if l.Viewport() != render.DefaultViewport {
		t.Fatalf("viewport = %+v, want %+v", l.Viewport(), render.DefaultViewport)
	}
	if p.URL != "https://example.com/landing" || p.Origin.String() != "https://example.com/sub/" {
		t.Fatalf("URL = %q origin = %q", p.URL, p.Origin)
	}
	if p.Doc.Find("[loading]").Length() != 1 {
		t.Fatalf("lazy-load cleanup did not run")
	}
	removed := sess.Removed()
	if len(removed) != 2 || removed[0] != [2]int{0, 1} || removed[1] != [2]int{1, 5} {
		t.Fatalf("removed = %v, want [[0 1] [1 5]]", removed)
	}
	if string(p.Screenshot) != "png" || len(p.StyleRules) != 1 || p.Text != "Hello World" {
		t.Fatalf("page = %+v", p)
	}
	if sess.Closed() != 1 {
		t.Fatalf("Close called %d times, want 1", sess.Closed())
	}
}

func TestRenderFailuresAreFatalAndClose(t *testing.T) {
	t.Parallel()
	sess := &rendertest.Session{NavigateErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	_, err := newRenderer(&rendertest.Launcher{Session: sess}).Render(context.Background(), "https://nowhere.invalid")
	if !errors.Is(err, render.ErrRender) {
		t.Fatalf("err = %v, want ErrRender", err)
	}
	if sess.Closed() != 1 {
		t.Fatalf("session not closed after navigation failure")
	}

	_, err = newRenderer(&rendertest.Launcher{Err: errors.New("no chrome")}).Render(context.Background(), "https://example.com")
	if !errors.Is(err, render.ErrRender) {
		t.Fatalf("launch err = %v, want ErrRender", err)
	}
	_, err = newRenderer(&rendertest.Launcher{Session: &rendertest.Session{}}).Render(context.Background(), "ftp://example.com")
	if !errors.Is(err, render.ErrRender) {
		t.Fatalf("bad scheme err = %v, want ErrRender", err)
	}
}

func TestRenderKeepsGoingWithoutScreenshot(t *testing.T) {
	t.Parallel()
	sess := &rendertest.Session{HTMLText: page, ScreenshotErr: errors.New("boom"), BottomAfter: 1}
	p, err := newRenderer(&rendertest.Launcher{Session: sess}).Render(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(p.Screenshot) != 0 {
		t.Fatalf("Screenshot = %q, want empty", p.Screenshot)
	}
	if p.URL != "https://example.com" {
		t.Fatalf("URL = %q, want the requested URL when Location is empty", p.URL)
	}
}
