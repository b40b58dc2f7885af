// Package logo finds the page logo among elements whose class, id or alt
// mentions "logo", downloads it as assets/logo.<ext>, and falls back to a
// generated placeholder.
package logo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/image/draw"

	"tersicore/internal/asset"
	"tersicore/internal/bundle"
)

// Stem is the file stem of the canonical logo asset.
const Stem = "logo"

// Selector matches logo bearing elements.
const Selector = "[class*=logo], [id*=logo], [alt*=logo]"

// ErrNotFound means no candidate yielded a usable source. It is recovered
// by writing the placeholder.
var ErrNotFound = errors.New("logo: not found")

var (
	selector = cascadia.MustCompile(Selector)
	bgURL    = regexp.MustCompile(`url\(\s*['"]?([^'")]+?)['"]?\s*\)`)
)

// Candidate is one logo bearing element as captured from the rendered page.
// BackgroundImage is the computed background-image value.
type Candidate struct {
	Src             string      `json:"src"`
	BackgroundImage string      `json:"backgroundImage"`
	Children        []Candidate `json:"children,omitempty"`
}

// Source returns the element's own image source: its src attribute, else
// the URL in its background-image. Data URIs do not count.
func (c Candidate) Source() (string, bool) {
	if src := strings.TrimSpace(c.Src); src != "" && !asset.IsDataURI(src) {
		return src, true
	}
	if m := bgURL.FindStringSubmatch(c.BackgroundImage); m != nil {
		if src := strings.TrimSpace(m[1]); src != "" && !asset.IsDataURI(src) {
			return src, true
		}
	}
	return "", false
}

// Sources lists, in search order, the sources each candidate yields: the
// element itself, else the first of its direct children that has one.
func Sources(cands []Candidate) []string {
	var out []string
	for _, c := range cands {
		if src, ok := c.Source(); ok {
			out = append(out, src)
			continue
		}
		for _, child := range c.Children {
			if src, ok := child.Source(); ok {
				out = append(out, src)
				break
			}
		}
	}
	return out
}

// FromDocument builds candidates from a parsed document. Only inline
// style backgrounds are visible here, so it is a fallback for pages that
// were not captured with computed styles.
func FromDocument(doc *goquery.Document) []Candidate {
	if doc == nil {
		return nil
	}
	var out []Candidate
	doc.FindMatcher(selector).Each(func(_ int, sel *goquery.Selection) {
		c := candidateOf(sel)
		sel.Children().Each(func(_ int, child *goquery.Selection) {
			c.Children = append(c.Children, candidateOf(child))
		})
		out = append(out, c)
	})
	return out
}

func candidateOf(sel *goquery.Selection) Candidate {
	src, _ := sel.Attr("src")
	style, _ := sel.Attr("style")
	return Candidate{Src: src, BackgroundImage: style}
}

// Localizer downloads a single asset.
type Localizer interface {
	Localize(ctx context.Context, ref asset.Reference) asset.Result
}

// Store receives the placeholder file.
type Store interface {
	WriteFile(d bundle.Dir, name string, data []byte) error
	PublicURL(d bundle.Dir, name string) string
}

// Finder resolves the logo for one run.
type Finder struct {
	Localizer Localizer
	Store     Store
	Logger    *log.Logger
}

// NewFinder returns a Finder.
func NewFinder(loc Localizer, store Store, logger *log.Logger) *Finder {
	if logger == nil {
		logger = log.Default()
	}
	return &Finder{Localizer: loc, Store: store, Logger: logger}
}

// Find downloads the first candidate source that can be fetched. It returns
// ErrNotFound when none can.
func (f *Finder) Find(ctx context.Context, cands []Candidate) (asset.Result, error) {
	sources := Sources(cands)
	f.Logger.Printf("LOGO candidates=%d sources=%d", len(cands), len(sources))
	for _, src := range sources {
		res := f.Localizer.Localize(ctx, asset.Reference{Locator: src, Kind: asset.Image, Stem: Stem})
		if res.OK() {
			f.Logger.Printf("LOGO found src=%s file=%s", src, res.Name)
			return res, nil
		}
	}
	return asset.Result{}, ErrNotFound
}

// Resolve runs Find and writes the placeholder when it comes up empty. The
// returned result always names a file in assets/. Only a failure to write
// the placeholder is returned as an error.
func (f *Finder) Resolve(ctx context.Context, cands []Candidate) (asset.Result, error) {
	res, err := f.Find(ctx, cands)
	if err == nil {
		return res, nil
	}
	f.Logger.Printf("LOGO not found, using placeholder")
	name := Stem + ".png"
	data := Placeholder()
	if err := f.Store.WriteFile(bundle.Assets, name, data); err != nil {
		return asset.Result{}, fmt.Errorf("write placeholder logo: %w", err)
	}
	return asset.Result{
		Original:  name,
		Name:      name,
		PublicURL: f.Store.PublicURL(bundle.Assets, name),
		Size:      int64(len(data)),
	}, nil
}

var placeholderGrey = color.RGBA{R: 0xcc, G: 0xcc, B: 0xcc, A: 0xff}

// Placeholder returns the bundled placeholder logo as PNG bytes.
func Placeholder() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 200, 50))
	draw.Draw(img, img.Bounds(), image.NewUniform(placeholderGrey), image.Point{}, draw.Src)
	var out bytes.Buffer
	_ = png.Encode(&out, img)
	return out.Bytes()
}
