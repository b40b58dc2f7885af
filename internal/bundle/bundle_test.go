package bundle

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/net/html"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestPublicURL(t *testing.T) {
	t.Parallel()
	l := New(t.TempDir(), "https://cdn.example.com/", "acme", quietLogger())
	tests := []struct {
		dir  Dir
		name string
		want string
	}{
		{Assets, "a.png", "https://cdn.example.com/static/acme/assets/a.png"},
		{CSS, "b.css", "https://cdn.example.com/static/acme/css/b.css"},
		{JS, "c.js", "https://cdn.example.com/static/acme/js/c.js"},
		{Fonts, "d.woff2", "https://cdn.example.com/static/acme/fonts/d.woff2"},
	}
	for _, tc := range tests {
		if got := l.PublicURL(tc.dir, tc.name); got != tc.want {
			t.Fatalf("PublicURL(%s, %s) = %q, want %q", tc.dir, tc.name, got, tc.want)
		}
	}
	if got := l.IndexURL(); got != "https://cdn.example.com/static/acme/index.html" {
		t.Fatalf("IndexURL() = %q", got)
	}
}

func TestPrepareIsIdempotent(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	l := New(root, "", "site", quietLogger())
	if err := l.Prepare(); err != nil {
		t.Fatalf("first Prepare: %v", err)
	}
	marker := l.Path(Assets, "keep.txt")
	if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.Prepare(); err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("existing file removed by Prepare: %v", err)
	}
	for _, d := range allDirs {
		if info, err := os.Stat(filepath.Join(root, "site", string(d))); err != nil || !info.IsDir() {
			t.Fatalf("missing dir %s: %v", d, err)
		}
	}
}

func TestWriteRendersIndex(t *testing.T) {
	t.Parallel()
	l := New(t.TempDir(), "", "page", quietLogger())
	doc, err := html.Parse(strings.NewReader("<html><head><title>T</title></head><body><p>hi</p></body></html>"))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Write(doc); err != nil {
		t.Fatalf("Write: %v", err)
	}
	b, err := os.ReadFile(l.IndexPath())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "<p>hi</p>") {
		t.Fatalf("index.html missing body: %s", b)
	}
	if left, _ := filepath.Glob(filepath.Join(l.Root(), ".*.tmp")); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
}

func TestConcurrentWritesOfOneName(t *testing.T) {
	t.Parallel()
	l := New(t.TempDir(), "", "page", quietLogger())
	if err := l.Prepare(); err != nil {
		t.Fatal(err)
	}
	payloads := make([][]byte, 16)
	for i := range payloads {
		payloads[i] = []byte(strings.Repeat(string(rune('a'+i)), 64<<10))
	}
	var wg sync.WaitGroup
	errs := make([]error, len(payloads))
	for i, p := range payloads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = l.WriteFile(Fonts, "Inter.woff2", p)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	got, err := os.ReadFile(l.Path(Fonts, "Inter.woff2"))
	if err != nil {
		t.Fatal(err)
	}
	whole := false
	for _, p := range payloads {
		if string(got) == string(p) {
			whole = true
		}
	}
	if !whole {
		t.Fatalf("file is not one complete payload (len %d)", len(got))
	}
	files, err := l.Files(Fonts)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0] != "Inter.woff2" {
		t.Fatalf("Files(fonts) = %v, want [Inter.woff2]", files)
	}
	if left, _ := filepath.Glob(filepath.Join(l.Root(), string(Fonts), ".*.tmp")); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
}

func TestWriteFailureIsErrWrite(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	blocker := filepath.Join(root, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := New(blocker, "", "slug", quietLogger())
	doc, _ := html.Parse(strings.NewReader("<p>x</p>"))
	err := l.Write(doc)
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("Write under a regular file: got %v, want ErrWrite", err)
	}
}

func TestHeaviestImage(t *testing.T) {
	t.Parallel()
	l := New(t.TempDir(), "", "s", quietLogger())
	if err := l.Prepare(); err != nil {
		t.Fatal(err)
	}
	files := map[string]int{
		"small.png": 10,
		"big.jpg":   300,
		"logo.png":  5000,
		"notes.txt": 9000,
		"mid.svg":   120,
	}
	for name, n := range files {
		if err := l.WriteFile(Assets, name, make([]byte, n)); err != nil {
			t.Fatal(err)
		}
	}
	name, size, ok := l.HeaviestImage(func(n string) bool { return strings.HasPrefix(n, "logo.") })
	if !ok || name != "big.jpg" || size != 300 {
		t.Fatalf("HeaviestImage = (%q, %d, %v), want (big.jpg, 300, true)", name, size, ok)
	}
	empty := New(t.TempDir(), "", "none", quietLogger())
	if _, _, ok := empty.HeaviestImage(nil); ok {
		t.Fatal("expected no image in an empty bundle")
	}
}
