// Package palette derives a site palette from a page screenshot: two header
// colors from the top band, one background color and four accents.
package palette

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	// ErrNoScreenshot is returned when there is nothing to sample.
	ErrNoScreenshot = errors.New("palette: empty screenshot")
	// ErrDecode wraps image decoding failures.
	ErrDecode = errors.New("palette: cannot decode screenshot")
)

const (
	// MaxSide bounds the longer side of the image before clustering.
	MaxSide = 1900
	// HeaderBand is the share of the image height sampled for header colors.
	HeaderBand = 0.05

	maxSamples = 250_000
)

// Palette holds lowercase #rrggbb colors.
type Palette struct {
	Header     [2]string
	Background string
	Accent     [4]string
	HeaderText string
}

// Extractor turns screenshots into palettes.
type Extractor struct {
	Logger *log.Logger
	// Seed drives k-means initialization; equal seeds give equal palettes.
	Seed uint64
}

// New returns an Extractor with a fixed seed.
func New(logger *log.Logger) *Extractor {
	if logger == nil {
		logger = log.Default()
	}
	return &Extractor{Logger: logger, Seed: 1}
}

// Extract decodes an encoded screenshot and clusters its colors.
func (e *Extractor) Extract(screenshot []byte) (Palette, error) {
	if len(screenshot) == 0 {
		return Palette{}, ErrNoScreenshot
	}
	img, _, err := image.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return Palette{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return e.FromImage(img)
}

// FromImage clusters the colors of img.
func (e *Extractor) FromImage(img image.Image) (Palette, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Palette{}, ErrNoScreenshot
	}

	bandH := int(float64(b.Dy()) * HeaderBand)
	if bandH < 1 {
		bandH = 1
	}
	band := crop(img, image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+bandH))

	full := downscale(img, MaxSide)
	top := downscale(band, MaxSide)

	header := e.cluster(top, 2)
	bg := e.cluster(full, 1)
	accents := e.cluster(full, 4)

	p := Palette{Background: bg[0]}
	copy(p.Header[:], header)
	copy(p.Accent[:], accents)
	p.HeaderText = HeaderTextColor(p.Header[0])
	e.Logger.Printf("PALETTE header=%s,%s background=%s accents=%v text=%s",
		p.Header[0], p.Header[1], p.Background, p.Accent, p.HeaderText)
	return p, nil
}

func (e *Extractor) cluster(img image.Image, k int) []string {
	pts, withAlpha := samples(img)
	centers := kmeans(pts, k, e.Seed)
	out := make([]string, k)
	for i := range out {
		c := centers[i%len(centers)]
		out[i] = rgbColor{R: clampByte(c[0]), G: clampByte(c[1]), B: clampByte(c[2])}.hex()
	}
	if withAlpha {
		e.Logger.Printf("PALETTE clustered k=%d with alpha", k)
	}
	return out
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func crop(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(subImager); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// downscale shrinks img so its longer side is at most maxSide. Smaller
// images are left alone.
func downscale(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return img
	}
	scale := float64(maxSide) / float64(max(w, h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// samples flattens img into points. Alpha is kept as a fourth dimension only
// when some pixel is not fully opaque. Large images are sampled on a grid.
func samples(img image.Image) ([][4]float64, bool) {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	step := 1
	for total/(step*step) > maxSamples {
		step++
	}
	pts := make([][4]float64, 0, total/(step*step)+1)
	opaque := true
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			r, g, bl, a := img.At(x, y).RGBA()
			if a != 0xffff {
				opaque = false
			}
			// RGBA() is premultiplied; undo it so colors match the source
			if a != 0 && a != 0xffff {
				r = r * 0xffff / a
				g = g * 0xffff / a
				bl = bl * 0xffff / a
			}
			pts = append(pts, [4]float64{
				float64(r >> 8), float64(g >> 8), float64(bl >> 8), float64(a >> 8),
			})
		}
	}
	if opaque {
		for i := range pts {
			pts[i][3] = 0
		}
	}
	return pts, !opaque
}
