package assemble

import (
	"context"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"tersicore/internal/asset"
	"tersicore/internal/bundle"
	"tersicore/internal/render"
)

// nestedScript matches inline scripts that inject another script from an
// absolute https URL.
var nestedScript = regexp.MustCompile(`(?s)createElement\(\s*["']script["']\s*\).+?src\s*=\s*["'](https://[^"']+)["']`)

// link classification follows the href text, fonts first.
func linkKind(href string) (asset.Kind, bool) {
	p := href
	if u, err := url.Parse(href); err == nil {
		p = u.Path
	}
	switch {
	case asset.IsFontName(path.Base(p)):
		return asset.Font, true
	case strings.Contains(href, ".css"):
		return asset.Stylesheet, true
	case strings.Contains(href, ".js"):
		return asset.Script, true
	}
	return 0, false
}

// binding ties a discovered reference to the write-back applied on success.
type binding struct {
	ref   asset.Reference
	apply func(asset.Result)
}

// localizeBatch fetches one reference per binding, in parallel, then runs
// the write-backs on this goroutine in discovery order. Repeated locators
// are separate downloads with their own names.
func (a *Assembler) localizeBatch(ctx context.Context, bs []binding) []asset.Result {
	refs := make([]asset.Reference, len(bs))
	for i, b := range bs {
		refs[i] = b.ref
	}
	results := a.Localizer.LocalizeAll(ctx, refs)
	for i, b := range bs {
		if b.apply != nil {
			b.apply(results[i])
		}
	}
	return results
}

func (a *Assembler) localizeOriginal(ctx context.Context, page *render.Page) error {
	doc := page.Doc

	// Linked scripts and fonts, script bodies and injected scripts go first:
	// stylesheets need the font names.
	var first []binding
	doc.Find("link[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		kind, ok := linkKind(href)
		if !ok || kind == asset.Stylesheet {
			return
		}
		first = append(first, binding{
			ref: asset.Reference{Locator: href, Kind: kind},
			apply: func(r asset.Result) {
				if r.OK() {
					sel.SetAttr("href", r.PublicURL)
				}
			},
		})
	})

	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		sel.SetAttr("crossorigin", "anonymous")
		if src := strings.TrimSpace(sel.AttrOr("src", "")); src != "" {
			first = append(first, binding{
				ref: asset.Reference{Locator: src, Kind: asset.Script},
				apply: func(r asset.Result) {
					if r.OK() {
						sel.SetAttr("src", r.PublicURL)
					}
				},
			})
			return
		}
		m := nestedScript.FindStringSubmatch(sel.Text())
		if m == nil {
			return
		}
		first = append(first, binding{
			ref:   asset.Reference{Locator: m[1], Kind: asset.Script},
			apply: func(r asset.Result) { a.replaceInjector(sel, r) },
		})
	})

	var fonts []string
	for _, r := range a.localizeBatch(ctx, first) {
		if r.OK() && asset.IsFontName(r.Name) {
			fonts = append(fonts, r.Name)
		}
	}
	a.Logger.Printf("ASSEMBLE scripts+fonts refs=%d fonts=%d", len(first), len(fonts))

	tagged := a.TagElements(doc)
	a.Logger.Printf("ASSEMBLE tagged elements=%d", tagged)

	var sheets []binding
	doc.Find("link[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if kind, ok := linkKind(href); !ok || kind != asset.Stylesheet {
			return
		}
		// Relative url() values in an external sheet resolve against the
		// sheet's own URL, as browsers do, not against the page origin.
		// Captured rules and inline styles still use the page origin.
		base := page.Origin
		if abs, err := a.Localizer.Resolve(href); err == nil {
			if u, err := url.Parse(abs); err == nil {
				base = u
			}
		}
		sheets = append(sheets, binding{
			ref: asset.Reference{
				Locator: href,
				Kind:    asset.Stylesheet,
				Transform: func(ctx context.Context, body []byte) []byte {
					return []byte(a.Styles.Rewrite(ctx, string(body), base, fonts))
				},
			},
			apply: func(r asset.Result) {
				if r.OK() {
					sel.SetAttr("href", r.PublicURL)
				}
			},
		})
	})
	a.localizeBatch(ctx, sheets)
	a.Logger.Printf("ASSEMBLE stylesheets=%d", len(sheets))

	if err := a.writeGlobalStyles(ctx, page, fonts); err != nil {
		return err
	}

	a.localizeInlineStyles(ctx, page)

	doc.Find("a[href], button[href]").RemoveAttr("href")
	doc.Find("source").Remove()

	a.localizeImages(ctx, page)
	return nil
}

// replaceInjector swaps an injecting inline script for a plain script tag
// pointing at the localized copy, or drops it when the download failed.
func (a *Assembler) replaceInjector(sel *goquery.Selection, r asset.Result) {
	if !r.OK() {
		a.Logger.Printf("SCRIPT dropped injector src=%s", r.Original)
		sel.Remove()
		return
	}
	n := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Script,
		Data:     "script",
		Attr: []html.Attribute{
			{Key: "src", Val: r.PublicURL},
			{Key: "crossorigin", Val: "anonymous"},
		},
	}
	sel.ReplaceWithNodes(n)
	a.Logger.Printf("SCRIPT replaced injector src=%s file=%s", r.Original, r.Name)
}

// writeGlobalStyles stores every captured stylesheet rule as one local
// sheet linked from head.
func (a *Assembler) writeGlobalStyles(ctx context.Context, page *render.Page, fonts []string) error {
	if len(page.StyleRules) == 0 {
		return nil
	}
	css := a.Styles.Rewrite(ctx, strings.Join(page.StyleRules, "\n"), page.Origin, fonts)
	name := "global-" + a.NewID() + ".css"
	if err := a.Store.WriteFile(bundle.CSS, name, []byte(css)); err != nil {
		return err
	}
	link := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Link,
		Data:     "link",
		Attr: []html.Attribute{
			{Key: "rel", Val: "stylesheet"},
			{Key: "href", Val: a.Store.PublicURL(bundle.CSS, name)},
		},
	}
	head := page.Doc.Find("head").First()
	if head.Length() == 0 {
		head = page.Doc.Find("html").First()
	}
	head.AppendNodes(link)
	a.Logger.Printf("CSS global rules=%d file=%s", len(page.StyleRules), name)
	return nil
}

func (a *Assembler) localizeInlineStyles(ctx context.Context, page *render.Page) {
	sels := page.Doc.Find("[style]").FilterFunction(func(_ int, sel *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(sel.AttrOr("style", "")), "url(")
	})
	if sels.Length() == 0 {
		return
	}
	styles := make([]string, 0, sels.Length())
	sels.Each(func(_ int, sel *goquery.Selection) {
		styles = append(styles, sel.AttrOr("style", ""))
	})
	rewritten := a.Styles.InlineAll(ctx, styles, page.Origin)
	sels.Each(func(i int, sel *goquery.Selection) {
		sel.SetAttr("style", rewritten[i])
	})
	a.Logger.Printf("CSS inline styles=%d", len(styles))
}

// localizeImages downloads every img[src]. srcset is dropped either way so
// it cannot bring the remote URLs back.
func (a *Assembler) localizeImages(ctx context.Context, page *render.Page) {
	var bs []binding
	page.Doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src := strings.TrimSpace(sel.AttrOr("src", ""))
		if src == "" {
			return
		}
		bs = append(bs, binding{
			ref: asset.Reference{Locator: src, Kind: asset.Image},
			apply: func(r asset.Result) {
				sel.SetAttr("src", r.URL())
				sel.RemoveAttr("srcset")
			},
		})
	})
	a.localizeBatch(ctx, bs)
	a.Logger.Printf("ASSEMBLE images=%d", len(bs))
}
