package asset

import (
	"bytes"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

const defaultImageExt = ".jpg"

var knownImageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tiff": true, ".svg": true, ".webp": true,
}

var mimeImageExts = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/bmp":     ".bmp",
	"image/tiff":    ".tiff",
	"image/svg+xml": ".svg",
	"image/webp":    ".webp",
}

var fontExts = map[string]bool{
	".ttf": true, ".otf": true, ".woff": true, ".woff2": true, ".eot": true,
}

// ImageExtension picks the file extension for an image. The chain is: a known
// extension on the filename hint, then the declared MIME type, then sniffing
// the payload, then .jpg.
func ImageExtension(hint, contentType string, body []byte) string {
	if ext := hintExtension(hint); knownImageExts[ext] {
		return ext
	}
	if ext, ok := mimeImageExts[mediaType(contentType)]; ok {
		return ext
	}
	if ext := sniffImage(body); ext != "" {
		return ext
	}
	return defaultImageExt
}

// IsFontName reports whether name carries a font file extension.
func IsFontName(name string) bool {
	return fontExts[hintExtension(name)]
}

func hintExtension(hint string) string {
	if hint == "" || IsDataURI(hint) {
		return ""
	}
	p := hint
	if u, err := url.Parse(hint); err == nil {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	return strings.ToLower(mt)
}

func sniffImage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if ext, ok := mimeImageExts[mediaType(http.DetectContentType(body))]; ok {
		return ext
	}
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	switch {
	case bytes.HasPrefix(head, []byte("II*\x00")), bytes.HasPrefix(head, []byte("MM\x00*")):
		return ".tiff"
	case bytes.Contains(bytes.ToLower(head), []byte("<svg")):
		return ".svg"
	}
	return ""
}
