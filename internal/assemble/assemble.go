// Package assemble turns a rendered page into the bundle's index document:
// either the original page with every resource localized, or a synthesized
// landing page built from the palette, the logo and the heaviest image.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"golang.org/x/net/html"

	"tersicore/internal/asset"
	"tersicore/internal/bundle"
	"tersicore/internal/logo"
	"tersicore/internal/palette"
	"tersicore/internal/render"
	"tersicore/internal/style"
	"tersicore/internal/summary"
)

// Mode selects the output document.
type Mode int

const (
	// Original keeps the rendered page with its resources localized.
	Original Mode = iota
	// TextFirst synthesizes a landing page with the text column first.
	TextFirst
	// ImageFirst synthesizes a landing page with the image column first.
	ImageFirst
)

// ErrMode is returned for an unknown template id.
var ErrMode = errors.New("assemble: unknown template")

// ParseMode reads a template id. The empty string means Original.
func ParseMode(s string) (Mode, error) {
	switch strings.TrimSpace(s) {
	case "", "0":
		return Original, nil
	case "1":
		return TextFirst, nil
	case "2":
		return ImageFirst, nil
	}
	return 0, fmt.Errorf("%w %q", ErrMode, s)
}

func (m Mode) String() string { return strconv.Itoa(int(m)) }

// Synthesized reports whether the mode builds a new document.
func (m Mode) Synthesized() bool { return m == TextFirst || m == ImageFirst }

// UniqueClassPrefix starts every generated per-element class.
const UniqueClassPrefix = "unique-class-"

// Localizer is what the assembler needs from asset.Localizer.
type Localizer interface {
	Resolve(locator string) (string, error)
	Localize(ctx context.Context, ref asset.Reference) asset.Result
	LocalizeAll(ctx context.Context, refs []asset.Reference) []asset.Result
}

// Store is what the assembler needs from bundle.Layout.
type Store interface {
	WriteFile(d bundle.Dir, name string, data []byte) error
	PublicURL(d bundle.Dir, name string) string
	HeaviestImage(skip func(name string) bool) (name string, size int64, ok bool)
}

// Options are the per-run choices.
type Options struct {
	Mode  Mode
	Title string
	Font  string
}

// Assembler builds index documents for one run.
type Assembler struct {
	Localizer  Localizer
	Store      Store
	Styles     *style.Rewriter
	Logos      *logo.Finder
	Palette    *palette.Extractor
	Summarizer summary.Summarizer
	Logger     *log.Logger
	// NewID generates unique class and file name suffixes.
	NewID func() string
}

// New wires an Assembler around loc and store with the constant summarizer.
func New(loc Localizer, store Store, logger *log.Logger) *Assembler {
	if logger == nil {
		logger = log.Default()
	}
	return &Assembler{
		Localizer:  loc,
		Store:      store,
		Styles:     style.New(loc, logger),
		Logos:      logo.NewFinder(loc, store, logger),
		Palette:    palette.New(logger),
		Summarizer: summary.Constant{},
		Logger:     logger,
		NewID:      uuid.NewString,
	}
}

// Assemble produces the document for page. In Original mode page.Doc is
// mutated in place and its root returned.
func (a *Assembler) Assemble(ctx context.Context, page *render.Page, opts Options) (*html.Node, error) {
	if page == nil || page.Doc == nil {
		return nil, errors.New("assemble: no rendered document")
	}
	a.Logger.Printf("ASSEMBLE start mode=%s url=%s", opts.Mode, page.URL)
	switch opts.Mode {
	case Original:
		if err := a.localizeOriginal(ctx, page); err != nil {
			return nil, err
		}
		return page.Doc.Get(0), nil
	case TextFirst, ImageFirst:
		return a.synthesize(ctx, page, opts)
	}
	return nil, fmt.Errorf("%w %d", ErrMode, opts.Mode)
}

// TagElements gives every element below body a fresh unique class.
func (a *Assembler) TagElements(doc *goquery.Document) int {
	n := 0
	doc.Find("body *").Each(func(_ int, sel *goquery.Selection) {
		sel.AddClass(UniqueClassPrefix + a.NewID())
		n++
	})
	return n
}
