package asset

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"tersicore/internal/bundle"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 7, 5))
	for y := 0; y < 5; y++ {
		for x := 0; x < 7; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 30), uint8(y * 40), 0x80, 0xFF})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestLocalizer(t *testing.T, root string) *Localizer {
	t.Helper()
	layout := bundle.New(t.TempDir(), "http://cdn.test", "site", quietLogger())
	if err := layout.Prepare(); err != nil {
		t.Fatal(err)
	}
	var r *url.URL
	if root != "" {
		var err error
		r, err = url.Parse(root)
		if err != nil {
			t.Fatal(err)
		}
	}
	var n int64
	l := NewLocalizer(layout, NewHTTPFetcher(), r, quietLogger())
	l.NewName = func() string { return fmt.Sprintf("gen%d", atomic.AddInt64(&n, 1)) }
	return l
}

func TestDataURIRoundTrip(t *testing.T) {
	t.Parallel()
	raw := testPNG(t)
	encoded := strings.TrimRight(base64.StdEncoding.EncodeToString(raw), "=")
	l := newTestLocalizer(t, "")

	res := l.Localize(context.Background(), Reference{Locator: "data:image/png;base64," + encoded, Kind: Image})
	if !res.OK() {
		t.Fatalf("Localize data URI: %v", res.Err)
	}
	if !strings.HasSuffix(res.Name, ".png") {
		t.Fatalf("name = %q, want .png extension", res.Name)
	}
	got, err := os.ReadFile(l.Layout.Path(bundle.Assets, res.Name))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("decoded bytes differ: got %d bytes want %d", len(got), len(raw))
	}
	if res.PublicURL != "http://cdn.test/static/site/assets/"+res.Name {
		t.Fatalf("PublicURL = %q", res.PublicURL)
	}
}

func TestParseDataURI(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      string
		mt      string
		data    string
		wantErr bool
	}{
		{"base64", "data:image/gif;base64,R0lG", "image/gif", "GIF", false},
		{"unpadded", "data:text/plain;base64,aGk", "text/plain", "hi", false},
		{"percent", "data:image/svg+xml;utf8,%3Csvg%3E%3C/svg%3E", "image/svg+xml", "<svg></svg>", false},
		{"comma_in_body", "data:text/plain,a,b", "text/plain", "a,b", false},
		{"default_type", "data:;base64,aGk=", "text/plain", "hi", false},
		{"no_comma", "data:image/png;base64", "", "", true},
		{"not_data", "https://example.com/a.png", "", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDataURI(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseDataURI(%q) expected error", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDataURI(%q): %v", tc.in, err)
			}
			if got.MediaType != tc.mt || string(got.Data) != tc.data {
				t.Fatalf("ParseDataURI(%q) = (%q, %q), want (%q, %q)", tc.in, got.MediaType, got.Data, tc.mt, tc.data)
			}
		})
	}
}

func TestImageExtension(t *testing.T) {
	t.Parallel()
	pngBytes := testPNG(t)
	tests := []struct {
		name string
		hint string
		ct   string
		body []byte
		want string
	}{
		{"hint_wins", "https://x.test/a/photo.WEBP?v=2", "image/png", nil, ".webp"},
		{"unknown_hint_uses_mime", "https://x.test/img.php", "image/png", nil, ".png"},
		{"mime_params", "", "image/svg+xml; charset=utf-8", nil, ".svg"},
		{"jpeg", "", "image/jpeg", nil, ".jpg"},
		{"sniff_png", "", "application/octet-stream", pngBytes, ".png"},
		{"sniff_svg", "", "text/plain", []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"></svg>`), ".svg"},
		{"default", "", "", []byte("????"), ".jpg"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ImageExtension(tc.hint, tc.ct, tc.body); got != tc.want {
				t.Fatalf("ImageExtension(%q, %q) = %q, want %q", tc.hint, tc.ct, got, tc.want)
			}
		})
	}
}

func TestLocalizeRemote(t *testing.T) {
	t.Parallel()
	raw := testPNG(t)
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.UserAgent())
		switch r.URL.Path {
		case "/img/pic":
			w.Header().Set("Content-Type", "image/png")
			w.Write(raw)
		case "/app.js":
			w.Header().Set("Content-Type", "application/javascript")
			io.WriteString(w, "console.log(1)")
		case "/fonts/Inter.woff2":
			io.WriteString(w, "wOF2")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	l := newTestLocalizer(t, srv.URL)
	ctx := context.Background()

	img := l.Localize(ctx, Reference{Locator: "/img/pic", Kind: Image})
	if !img.OK() || img.Name != "gen1.png" {
		t.Fatalf("image result = %+v", img)
	}
	if ua, _ := gotUA.Load().(string); ua != DefaultUserAgent {
		t.Fatalf("User-Agent = %q, want browser UA", ua)
	}

	js := l.Localize(ctx, Reference{Locator: srv.URL + "/app.js", Kind: Script})
	if !js.OK() || !strings.HasSuffix(js.PublicURL, "/static/site/js/gen2.js") {
		t.Fatalf("script result = %+v", js)
	}

	font := l.Localize(ctx, Reference{Locator: "fonts/Inter.woff2", Kind: Font})
	if !font.OK() || font.Name != "Inter.woff2" {
		t.Fatalf("font result = %+v", font)
	}

	missing := l.Localize(ctx, Reference{Locator: "/nope.png", Kind: Image})
	if missing.OK() || !errors.Is(missing.Err, ErrFetch) {
		t.Fatalf("missing result = %+v, want ErrFetch", missing)
	}
	if missing.URL() != "/nope.png" {
		t.Fatalf("fallback URL = %q, want original locator", missing.URL())
	}
}

func TestLocalizeSkipsNonHTTP(t *testing.T) {
	t.Parallel()
	l := newTestLocalizer(t, "https://example.com")
	for _, loc := range []string{"javascript:void(0)", "mailto:a@b.c"} {
		res := l.Localize(context.Background(), Reference{Locator: loc, Kind: Image})
		if res.OK() || !errors.Is(res.Err, ErrUnsupported) || res.URL() != loc {
			t.Fatalf("Localize(%q) = %+v, want unsupported fallback", loc, res)
		}
	}
}

func TestLocalizeAllKeepsOrderAndTransforms(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		fmt.Fprintf(w, "/*%s*/", r.URL.Path)
	}))
	defer srv.Close()
	l := newTestLocalizer(t, srv.URL)
	l.Workers = 3

	var refs []Reference
	for i := 0; i < 10; i++ {
		refs = append(refs, Reference{
			Locator: fmt.Sprintf("/s%d.css", i),
			Kind:    Stylesheet,
			Transform: func(_ context.Context, b []byte) []byte {
				return append(b, []byte("\nbody{}")...)
			},
		})
	}
	results := l.LocalizeAll(context.Background(), refs)
	re := regexp.MustCompile(`^/\*/s(\d+)\.css\*/\nbody\{\}$`)
	for i, res := range results {
		if !res.OK() {
			t.Fatalf("result %d failed: %v", i, res.Err)
		}
		b, err := os.ReadFile(l.Layout.Path(bundle.CSS, res.Name))
		if err != nil {
			t.Fatal(err)
		}
		m := re.FindStringSubmatch(string(b))
		if m == nil || m[1] != fmt.Sprint(i) {
			t.Fatalf("result %d holds %q", i, b)
		}
	}
}

func TestLocalizeWriteFailureIsSticky(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, "wOF2")
	}))
	defer srv.Close()
	l := newTestLocalizer(t, srv.URL)
	// A non-empty directory where the font file must go makes the rename fail.
	blocker := l.Layout.Path(bundle.Fonts, "Inter.woff2")
	if err := os.MkdirAll(filepath.Join(blocker, "x"), 0o755); err != nil {
		t.Fatal(err)
	}

	res := l.Localize(context.Background(), Reference{Locator: "/Inter.woff2", Kind: Font})
	if res.OK() || !errors.Is(res.Err, bundle.ErrWrite) || errors.Is(res.Err, ErrFetch) {
		t.Fatalf("result = %+v, want a bare write failure", res)
	}
	if !errors.Is(l.Err(), bundle.ErrWrite) {
		t.Fatalf("Err() = %v, want ErrWrite", l.Err())
	}

	before := hits.Load()
	next := l.Localize(context.Background(), Reference{Locator: "/pic.png", Kind: Image})
	if !errors.Is(next.Err, bundle.ErrWrite) {
		t.Fatalf("later result = %+v, want the recorded write failure", next)
	}
	if hits.Load() != before {
		t.Fatalf("fetched after a write failure")
	}
}
