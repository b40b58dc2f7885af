// Package asset localizes externally hosted or inline resources into a site
// bundle: it fetches or decodes the bytes, assigns a local file name, writes
// the file and returns the public URL that replaces the original reference.
package asset

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tersicore/internal/bundle"
)

// Kind is the resource class of a reference. It selects the bundle folder and
// the naming rule.
type Kind int

const (
	Image Kind = iota
	Script
	Stylesheet
	Font
)

func (k Kind) String() string {
	switch k {
	case Script:
		return "script"
	case Stylesheet:
		return "stylesheet"
	case Font:
		return "font"
	default:
		return "image"
	}
}

// Dir is the bundle folder files of kind k are written to.
func (k Kind) Dir() bundle.Dir {
	switch k {
	case Script:
		return bundle.JS
	case Stylesheet:
		return bundle.CSS
	case Font:
		return bundle.Fonts
	default:
		return bundle.Assets
	}
}

// ErrFetch wraps every per-asset failure. It is recovered: the reference keeps
// its original locator.
var ErrFetch = errors.New("asset: fetch failed")

// ErrUnsupported marks locators that are deliberately left alone.
var ErrUnsupported = errors.New("asset: unsupported locator")

// Transform rewrites a fetched body before it is written, e.g. CSS relinking.
type Transform func(ctx context.Context, body []byte) []byte

// Reference is one discovered resource.
type Reference struct {
	Locator string
	Kind    Kind
	// Stem replaces the generated file name stem when set.
	Stem      string
	Transform Transform
}

// Result is the outcome of localizing one reference.
type Result struct {
	Original  string
	Name      string
	PublicURL string
	Size      int64
	Err       error
}

// OK reports whether the asset was stored.
func (r Result) OK() bool { return r.Err == nil && r.PublicURL != "" }

// URL is the locator to write back into the document: the public URL on
// success, the original locator otherwise.
func (r Result) URL() string {
	if r.OK() {
		return r.PublicURL
	}
	return r.Original
}

// Localizer stores assets for one run. Root is the page's root origin used to
// resolve relative locators.
type Localizer struct {
	Layout  *bundle.Layout
	Fetcher Fetcher
	Root    *url.URL
	Workers int
	Logger  *log.Logger
	NewName func() string

	mu       sync.Mutex
	writeErr error
}

// NewLocalizer returns a Localizer writing into layout.
func NewLocalizer(layout *bundle.Layout, fetcher Fetcher, root *url.URL, logger *log.Logger) *Localizer {
	if fetcher == nil {
		fetcher = NewHTTPFetcher()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Localizer{
		Layout:  layout,
		Fetcher: fetcher,
		Root:    root,
		Workers: 8,
		Logger:  logger,
		NewName: uuid.NewString,
	}
}

// Resolve makes locator absolute against the root origin. Protocol-relative
// locators take the root's scheme, or https when there is no root.
func (l *Localizer) Resolve(locator string) (string, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return "", fmt.Errorf("empty locator")
	}
	ref, err := url.Parse(locator)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if l.Root == nil || l.Root.Scheme == "" {
		if strings.HasPrefix(locator, "//") {
			return "https:" + locator, nil
		}
		return "", fmt.Errorf("relative locator %q without root origin", locator)
	}
	return l.Root.ResolveReference(ref).String(), nil
}

// Err returns the first bundle write failure, if any. Fetch failures are
// never reported here; a write failure is fatal for the run.
func (l *Localizer) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeErr
}

// Localize stores one reference. Fetch errors come back in Result.Err wrapped
// with ErrFetch and are logged here. A bundle write failure is returned as is
// and also kept for Err; later calls fail with it without fetching.
func (l *Localizer) Localize(ctx context.Context, ref Reference) Result {
	res := Result{Original: ref.Locator}
	if err := l.Err(); err != nil {
		res.Err = err
		return res
	}
	name, data, err := l.load(ctx, ref)
	if err == nil && ref.Transform != nil {
		data = ref.Transform(ctx, data)
	}
	if err == nil {
		if err = l.Layout.WriteFile(ref.Kind.Dir(), name, data); err != nil {
			l.mu.Lock()
			if l.writeErr == nil {
				l.writeErr = err
			}
			l.mu.Unlock()
			res.Err = err
			l.Logger.Printf("ASSET write failed kind=%s file=%s err=%v", ref.Kind, name, err)
			return res
		}
	}
	if err != nil {
		if !errors.Is(err, ErrUnsupported) {
			err = fmt.Errorf("%w: %s: %w", ErrFetch, abbreviate(ref.Locator), err)
		}
		res.Err = err
		l.Logger.Printf("ASSET failed kind=%s src=%s err=%v", ref.Kind, abbreviate(ref.Locator), err)
		return res
	}
	res.Name = name
	res.Size = int64(len(data))
	res.PublicURL = l.Layout.PublicURL(ref.Kind.Dir(), name)
	l.Logger.Printf("ASSET saved kind=%s src=%s file=%s/%s bytes=%d", ref.Kind, abbreviate(ref.Locator), ref.Kind.Dir(), name, res.Size)
	return res
}

// LocalizeAll fetches refs on a bounded worker pool. Results line up with
// refs by index; applying them to the document is left to the caller so
// that tree mutation stays on one goroutine.
func (l *Localizer) LocalizeAll(ctx context.Context, refs []Reference) []Result {
	out := make([]Result, len(refs))
	if len(refs) == 0 {
		return out
	}
	workers := l.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, ref := range refs {
		g.Go(func() error {
			out[i] = l.Localize(gctx, ref)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (l *Localizer) load(ctx context.Context, ref Reference) (string, []byte, error) {
	if IsDataURI(ref.Locator) {
		if ref.Kind != Image {
			return "", nil, ErrUnsupported
		}
		d, err := ParseDataURI(ref.Locator)
		if err != nil {
			return "", nil, err
		}
		return l.name(ref, ImageExtension("", d.MediaType, d.Data)), d.Data, nil
	}
	abs, err := l.Resolve(ref.Locator)
	if err != nil {
		return "", nil, err
	}
	if u, err := url.Parse(abs); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", nil, ErrUnsupported
	}
	resp, err := l.Fetcher.Get(ctx, abs, nil)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	data, err := readCapped(resp.Body)
	if err != nil {
		return "", nil, err
	}
	switch ref.Kind {
	case Script:
		return l.name(ref, ".js"), data, nil
	case Stylesheet:
		return l.name(ref, ".css"), data, nil
	case Font:
		return fontName(abs, l.name(ref, ".woff")), data, nil
	default:
		return l.name(ref, ImageExtension(abs, resp.ContentType, data)), data, nil
	}
}

func (l *Localizer) name(ref Reference, ext string) string {
	stem := ref.Stem
	if stem == "" {
		stem = l.NewName()
	}
	return stem + ext
}

// fontName keeps the original basename so @font-face rules can be relinked
// by filename.
func fontName(abs, fallback string) string {
	u, err := url.Parse(abs)
	if err != nil {
		return fallback
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" || !IsFontName(base) {
		return fallback
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, base)
}

func abbreviate(locator string) string {
	if IsDataURI(locator) && len(locator) > 48 {
		return locator[:48] + "..."
	}
	return locator
}
