package asset

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrDataURI reports an inline payload that could not be decoded.
var ErrDataURI = errors.New("asset: invalid data URI")

// DataURI is a decoded inline payload.
type DataURI struct {
	MediaType string
	Base64    bool
	Data      []byte
}

// IsDataURI reports whether locator carries an inline payload.
func IsDataURI(locator string) bool {
	return len(locator) >= 5 && strings.EqualFold(locator[:5], "data:")
}

// ParseDataURI splits on the first comma into the type prefix and the body.
// Base64 bodies are padded to a multiple of four before decoding; other
// bodies are percent-decoded.
func ParseDataURI(locator string) (*DataURI, error) {
	s := strings.TrimSpace(locator)
	if !IsDataURI(s) {
		return nil, fmt.Errorf("%w: missing data: scheme", ErrDataURI)
	}
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return nil, fmt.Errorf("%w: missing comma", ErrDataURI)
	}
	prefix, body := s[len("data:"):comma], s[comma+1:]
	out := &DataURI{}
	for i, part := range strings.Split(prefix, ";") {
		part = strings.TrimSpace(part)
		if i == 0 {
			out.MediaType = strings.ToLower(part)
			continue
		}
		if strings.EqualFold(part, "base64") {
			out.Base64 = true
		}
	}
	if out.MediaType == "" {
		out.MediaType = "text/plain"
	}
	if !out.Base64 {
		raw, err := url.PathUnescape(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDataURI, err)
		}
		out.Data = []byte(raw)
		return out, nil
	}
	data, err := decodeBase64(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataURI, err)
	}
	out.Data = data
	return out, nil
}

func decodeBase64(body string) ([]byte, error) {
	body = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, body)
	if unescaped, err := url.PathUnescape(body); err == nil {
		body = unescaped
	}
	for len(body)%4 != 0 {
		body += "="
	}
	data, err := base64.StdEncoding.DecodeString(body)
	if err == nil {
		return data, nil
	}
	// url-safe alphabet shows up in hand-built payloads
	if alt, altErr := base64.URLEncoding.DecodeString(body); altErr == nil {
		return alt, nil
	}
	return nil, err
}
