package assemble

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"tersicore/internal/bundle"
	"tersicore/internal/logo"
	"tersicore/internal/palette"
	"tersicore/internal/render"
	"tersicore/internal/summary"
)

//go:embed templates/landing.html.tmpl
var landingSource string

var landing = template.Must(template.New("landing").Parse(landingSource))

// DefaultFont is used for unknown font ids.
const DefaultFont = "DMSans"

var fontFamilies = map[string]string{
	"DMSans":          `font-family: 'DM Sans', sans-serif;`,
	"Nosifer":         `font-family: 'Nosifer', sans-serif;`,
	"PlayfairDisplay": `font-family: 'Playfair Display', serif;`,
	"Roboto":          `font-family: 'Roboto', sans-serif;`,
	"SpaceGrotesk":    `font-family: 'Space Grotesk', sans-serif;`,
}

// FontCSS returns the font-family declaration for a font id.
func FontCSS(id string) template.CSS {
	if decl, ok := fontFamilies[id]; ok {
		return template.CSS(decl)
	}
	return template.CSS(fontFamilies[DefaultFont])
}

// Landing is everything a synthesized page shows.
type Landing struct {
	Title      string
	SourceURL  string
	Palette    palette.Palette
	LogoURL    string
	ImageURL   string
	Summary    template.HTML
	FontCSS    template.CSS
	ImageFirst bool
}

// Render builds the landing document and tags its body elements.
func (a *Assembler) Render(l Landing) (*html.Node, error) {
	var buf bytes.Buffer
	if err := landing.Execute(&buf, l); err != nil {
		return nil, fmt.Errorf("assemble: landing template: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		return nil, fmt.Errorf("assemble: parse landing: %w", err)
	}
	a.TagElements(doc)
	return doc.Get(0), nil
}

func (a *Assembler) synthesize(ctx context.Context, page *render.Page, opts Options) (*html.Node, error) {
	cands := page.LogoCandidates
	if len(cands) == 0 {
		cands = logo.FromDocument(page.Doc)
	}

	a.localizeInlineStyles(ctx, page)
	a.localizeImages(ctx, page)

	logoRes, err := a.Logos.Resolve(ctx, cands)
	if err != nil {
		return nil, err
	}

	pal, err := a.Palette.Extract(page.Screenshot)
	if err != nil {
		return nil, fmt.Errorf("assemble: palette: %w", err)
	}

	var imageURL string
	if name, size, ok := a.Store.HeaviestImage(isLogo); ok {
		imageURL = a.Store.PublicURL(bundle.Assets, name)
		a.Logger.Printf("ASSEMBLE heaviest image=%s bytes=%d", name, size)
	}

	text, err := a.Summarizer.Summarize(ctx, summary.Words(page.Text))
	if err != nil {
		a.Logger.Printf("ASSEMBLE summary failed, using filler: %v", err)
		text = summary.Filler
	}
	body, err := summary.HTML(text)
	if err != nil {
		a.Logger.Printf("ASSEMBLE summary markdown failed: %v", err)
		body = template.HTML(template.HTMLEscapeString(text))
	}

	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = strings.TrimSpace(page.Doc.Find("title").First().Text())
	}
	return a.Render(Landing{
		Title:      title,
		SourceURL:  page.URL,
		Palette:    pal,
		LogoURL:    logoRes.PublicURL,
		ImageURL:   imageURL,
		Summary:    body,
		FontCSS:    FontCSS(opts.Font),
		ImageFirst: opts.Mode == ImageFirst,
	})
}

func isLogo(name string) bool {
	return strings.HasPrefix(name, logo.Stem+".")
}
