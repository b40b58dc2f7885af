// Package bundle owns the on-disk layout of a generated site:
// static/<slug>/{assets,css,js,fonts}/ plus index.html, and the public URLs
// under which those files are served.
package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// Dir names one of the bundle subdirectories.
type Dir string

const (
	Assets Dir = "assets"
	CSS    Dir = "css"
	JS     Dir = "js"
	Fonts  Dir = "fonts"
)

// IndexName is the document every bundle is served from.
const IndexName = "index.html"

// URLPrefix is the path segment the front end serves bundles under.
const URLPrefix = "static"

// ErrWrite marks filesystem failures while persisting a bundle. They abort the run.
var ErrWrite = errors.New("bundle: write failed")

var allDirs = []Dir{Assets, CSS, JS, Fonts}

var imageExts = []string{".png", ".jpg", ".jpeg", ".gif", ".svg"}

// Layout locates one site bundle on disk and on the wire.
type Layout struct {
	StaticRoot string
	BaseURL    string
	Slug       string
	Logger     *log.Logger
}

// New returns the layout for slug below staticRoot, served from baseURL.
func New(staticRoot, baseURL, slug string, logger *log.Logger) *Layout {
	if staticRoot == "" {
		staticRoot = URLPrefix
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Layout{
		StaticRoot: staticRoot,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Slug:       slug,
		Logger:     logger,
	}
}

// Root is the bundle directory, <staticRoot>/<slug>.
func (l *Layout) Root() string { return filepath.Join(l.StaticRoot, l.Slug) }

// Path returns the filesystem path of name inside d.
func (l *Layout) Path(d Dir, name string) string {
	return filepath.Join(l.Root(), string(d), name)
}

// IndexPath returns the filesystem path of index.html.
func (l *Layout) IndexPath() string { return filepath.Join(l.Root(), IndexName) }

// DirURL returns the public URL of d without a trailing slash.
func (l *Layout) DirURL(d Dir) string {
	return l.BaseURL + "/" + path.Join(URLPrefix, l.Slug, string(d))
}

// PublicURL returns {base}/static/<slug>/<d>/<name>.
func (l *Layout) PublicURL(d Dir, name string) string {
	return l.DirURL(d) + "/" + name
}

// IndexURL returns the public URL of the bundle's index.html.
func (l *Layout) IndexURL() string {
	return l.BaseURL + "/" + path.Join(URLPrefix, l.Slug, IndexName)
}

// Prepare creates the bundle directories. Existing directories are left untouched.
func (l *Layout) Prepare() error {
	for _, d := range allDirs {
		dir := filepath.Join(l.Root(), string(d))
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			l.Logger.Printf("BUNDLE exists dir=%s", dir)
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: mkdir %s: %w", ErrWrite, dir, err)
		}
		l.Logger.Printf("BUNDLE created dir=%s", dir)
	}
	return nil
}

// WriteFile stores data as name inside d.
func (l *Layout) WriteFile(d Dir, name string, data []byte) error {
	return writeAtomic(l.Path(d, name), data)
}

// writeAtomic goes through a temp file and a rename so readers never observe
// a partial file. Each write gets its own temp file; concurrent writers of
// the same name leave one complete file behind.
func writeAtomic(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %w", ErrWrite, dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, dst, err)
	}
	tmp := f.Name()
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Chmod(tmp, 0o644)
	}
	if werr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %s: %w", ErrWrite, dst, werr)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %w", ErrWrite, dst, err)
	}
	return nil
}

// Files lists the regular files in d, sorted by name.
func (l *Layout) Files(d Dir) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(l.Root(), string(d)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasSuffix(e.Name(), ".tmp") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// HeaviestImage returns the largest image file in assets/ by byte size.
// Names matched by skip are ignored. ok is false when no image qualifies.
func (l *Layout) HeaviestImage(skip func(name string) bool) (name string, size int64, ok bool) {
	files, err := l.Files(Assets)
	if err != nil {
		l.Logger.Printf("BUNDLE list assets: %v", err)
		return "", 0, false
	}
	for _, f := range files {
		if skip != nil && skip(f) {
			continue
		}
		if !isImageName(f) {
			continue
		}
		info, err := os.Stat(l.Path(Assets, f))
		if err != nil {
			continue
		}
		if info.Size() > size {
			name, size, ok = f, info.Size(), true
		}
	}
	return name, size, ok
}

func isImageName(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range imageExts {
		if ext == e {
			return true
		}
	}
	return false
}

// Write serializes doc as the bundle's index.html.
func (l *Layout) Write(doc *html.Node) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrWrite)
	}
	if err := l.Prepare(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return fmt.Errorf("%w: render: %w", ErrWrite, err)
	}
	if err := writeAtomic(l.IndexPath(), buf.Bytes()); err != nil {
		return err
	}
	l.Logger.Printf("BUNDLE wrote index=%s bytes=%d", l.IndexPath(), buf.Len())
	return nil
}
