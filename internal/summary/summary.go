// Package summary produces the marketing copy of synthesized pages.
package summary

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

// Summarizer turns page text into a short description. Output is markdown.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Filler is what the Constant summarizer returns.
var Filler = strings.TrimSpace(strings.Repeat("RANDOM TEXT ", 18))

// Constant ignores its input.
type Constant struct {
	Text string
}

func (c Constant) Summarize(context.Context, string) (string, error) {
	if c.Text == "" {
		return Filler, nil
	}
	return c.Text, nil
}

var capitalised = regexp.MustCompile(`[A-Z][a-z]*`)

// Words keeps the capitalised words of text, joined by spaces. This is the
// summarizer input for a rendered page.
func Words(text string) string {
	return strings.Join(capitalised.FindAllString(text, -1), " ")
}

var policy = bluemonday.UGCPolicy()

// HTML renders markdown and strips anything unsafe.
func HTML(md string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return template.HTML(policy.SanitizeBytes(buf.Bytes())), nil
}

// ErrEmpty is returned when a summarizer produced nothing.
var ErrEmpty = errors.New("summary: empty response")
