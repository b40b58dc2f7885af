// Package style rewrites stylesheet text so that background images point at
// localized copies and @font-face sources point at the bundle's fonts folder.
package style

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"

	cssast "github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"

	"tersicore/internal/asset"
)

// ErrParse marks stylesheet text the parser rejected. It is recovered: the
// text is kept as is.
var ErrParse = errors.New("style: malformed stylesheet")

// FontsPrefix is how a stylesheet in css/ reaches files in fonts/.
const FontsPrefix = "../fonts/"

var (
	backgroundProp = regexp.MustCompile(`(?i)background(?:-image)?\s*:`)
	cssURL         = regexp.MustCompile(`(?i)url\(\s*(?:'([^']*)'|"([^"]*)"|([^'")]*))\s*\)`)
)

// Localizer is the slice of asset.Localizer the rewriter needs.
type Localizer interface {
	LocalizeAll(ctx context.Context, refs []asset.Reference) []asset.Result
}

// Rewriter rewrites CSS text. It never fails: any sub-failure leaves the
// affected text unchanged.
type Rewriter struct {
	Localizer Localizer
	Logger    *log.Logger
}

// New returns a Rewriter backed by loc.
func New(loc Localizer, logger *log.Logger) *Rewriter {
	if logger == nil {
		logger = log.Default()
	}
	return &Rewriter{Localizer: loc, Logger: logger}
}

// Rewrite localizes background images found in css, resolving relative
// URLs against base, then relinks @font-face sources that name one of fonts.
// Text the parser rejects is returned unchanged.
func (r *Rewriter) Rewrite(ctx context.Context, css string, base *url.URL, fonts []string) string {
	sheet, err := Parse(css)
	if err != nil {
		r.Logger.Printf("CSS parse failed, keeping original text: %v", err)
		return css
	}
	fontURLs := FontFaceURLs(sheet)
	out := r.Backgrounds(ctx, css, base)
	out = RelinkFonts(out, fontURLs, fonts)
	return out
}

// Parse runs the stylesheet through douceur.
func Parse(css string) (*cssast.Stylesheet, error) {
	sheet, err := parser.Parse(css)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return sheet, nil
}

// Backgrounds localizes every url() inside background and background-image
// declarations. Each occurrence is its own download.
func (r *Rewriter) Backgrounds(ctx context.Context, css string, base *url.URL) string {
	spans := backgroundSpans(css)
	if len(spans) == 0 {
		return css
	}
	r.Logger.Printf("CSS backgrounds found=%d", len(spans))
	return splice(css, spans, r.localize(ctx, spans, base))
}

// Inline localizes every url() in an inline style attribute value.
func (r *Rewriter) Inline(ctx context.Context, style string, base *url.URL) string {
	return r.InlineAll(ctx, []string{style}, base)[0]
}

// InlineAll rewrites many inline style values in one batch of downloads,
// one per url() occurrence. The result is aligned with styles.
func (r *Rewriter) InlineAll(ctx context.Context, styles []string, base *url.URL) []string {
	per := make([][]span, len(styles))
	var all []span
	for i, st := range styles {
		per[i] = urlSpans(st, 0)
		all = append(all, per[i]...)
	}
	out := append([]string(nil), styles...)
	if len(all) == 0 {
		return out
	}
	results := r.localize(ctx, all, base)
	for i := range out {
		n := len(per[i])
		out[i] = splice(out[i], per[i], results[:n])
		results = results[n:]
	}
	return out
}

// span is the location of one url() argument.
type span struct {
	start, end int
	value      string
}

func urlSpans(text string, offset int) []span {
	var out []span
	for _, m := range cssURL.FindAllStringSubmatchIndex(text, -1) {
		s, e := -1, -1
		for g := 1; g <= 3; g++ {
			if m[2*g] >= 0 {
				s, e = m[2*g], m[2*g+1]
				break
			}
		}
		if s < 0 {
			continue
		}
		for s < e && isSpace(text[s]) {
			s++
		}
		for e > s && isSpace(text[e-1]) {
			e--
		}
		v := text[s:e]
		if v == "" || strings.HasPrefix(v, "#") {
			continue
		}
		out = append(out, span{start: offset + s, end: offset + e, value: v})
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// backgroundSpans finds the url() arguments of background declarations.
func backgroundSpans(css string) []span {
	var out []span
	for pos := 0; pos < len(css); {
		loc := backgroundProp.FindStringIndex(css[pos:])
		if loc == nil {
			break
		}
		from := pos + loc[1]
		to := declEnd(css, from)
		out = append(out, urlSpans(css[from:to], from)...)
		pos = to
	}
	return out
}

// declEnd returns the index ending the declaration value starting at from:
// the first ';', '{' or '}' outside quotes and parentheses.
func declEnd(css string, from int) int {
	var quote byte
	depth := 0
	for i := from; i < len(css); i++ {
		c := css[i]
		switch {
		case c == '\\':
			i++
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case depth == 0 && (c == ';' || c == '{' || c == '}'):
			return i
		}
	}
	return len(css)
}

// localize issues one reference per span. Results line up with spans.
func (r *Rewriter) localize(ctx context.Context, spans []span, base *url.URL) []asset.Result {
	refs := make([]asset.Reference, len(spans))
	for i, sp := range spans {
		refs[i] = asset.Reference{Locator: resolve(base, sp.value), Kind: asset.Image}
	}
	return r.Localizer.LocalizeAll(ctx, refs)
}

// splice writes each successful public URL over its span. Failed spans keep
// the original text.
func splice(text string, spans []span, results []asset.Result) string {
	var b strings.Builder
	last := 0
	for i, sp := range spans {
		if !results[i].OK() {
			continue
		}
		b.WriteString(text[last:sp.start])
		b.WriteString(results[i].PublicURL)
		last = sp.end
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

// URLs extracts the unquoted arguments of every url() in text.
func URLs(text string) []string {
	spans := urlSpans(text, 0)
	out := make([]string, 0, len(spans))
	for _, sp := range spans {
		out = append(out, sp.value)
	}
	return out
}

// FontFaceURLs returns the url() arguments of every @font-face rule,
// including rules nested in grouping at-rules.
func FontFaceURLs(sheet *cssast.Stylesheet) []string {
	if sheet == nil {
		return nil
	}
	var out []string
	var walk func([]*cssast.Rule)
	walk = func(rules []*cssast.Rule) {
		for _, rule := range rules {
			if rule == nil || rule.Kind != cssast.AtRule {
				continue
			}
			name := strings.ToLower(strings.TrimSpace(rule.Name))
			if name == "@font-face" {
				for _, decl := range rule.Declarations {
					if decl != nil {
						out = append(out, URLs(decl.Value)...)
					}
				}
				continue
			}
			if rule.EmbedsRules() {
				walk(rule.Rules)
			}
		}
	}
	walk(sheet.Rules)
	return out
}

// RelinkFonts replaces each @font-face URL whose text contains one of the
// downloaded font filenames with ../fonts/<filename>.
func RelinkFonts(css string, fontURLs, fonts []string) string {
	for _, font := range fonts {
		if font == "" {
			continue
		}
		for _, u := range fontURLs {
			if strings.HasPrefix(u, FontsPrefix) || !strings.Contains(u, font) {
				continue
			}
			css = strings.ReplaceAll(css, u, FontsPrefix+font)
		}
	}
	return css
}

func resolve(base *url.URL, raw string) string {
	if base == nil || asset.IsDataURI(raw) {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil || ref.IsAbs() {
		return raw
	}
	return base.ResolveReference(ref).String()
}
