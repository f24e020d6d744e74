package overlay

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/hpungsan/scribbly/internal/annotation"
)

// RasterSurface is a Surface backed by an in-memory RGBA image.
// Paths are stroked with round caps and joins; erasing is destination-out.
type RasterSurface struct {
	mu  sync.Mutex
	img *image.RGBA
}

// NewRasterSurface creates a transparent surface of the given size.
func NewRasterSurface(width, height int) (*RasterSurface, error) {
	s := &RasterSurface{}
	if err := s.Resize(width, height); err != nil {
		return nil, err
	}
	return s, nil
}

// Resize replaces the image with a transparent one of the new size.
func (s *RasterSurface) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid surface size %dx%d", width, height)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = image.NewRGBA(image.Rect(0, 0, width, height))
	return nil
}

// Clear makes every pixel transparent.
func (s *RasterSurface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.img.Pix)
}

// StrokePath strokes the polyline through points.
func (s *RasterSurface) StrokePath(points []annotation.Point, style Style) {
	if len(points) == 0 || style.Width <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	mask := image.NewAlpha(s.img.Bounds())
	r := style.Width / 2
	if len(points) == 1 {
		stampDisc(mask, points[0], r)
	}
	for i := 1; i < len(points); i++ {
		stampSegment(mask, points[i-1], points[i], r)
	}

	if style.Erase {
		erase(s.img, mask)
		return
	}
	draw.DrawMask(s.img, s.img.Bounds(), image.NewUniform(ParseColor(style.Color)), image.Point{}, mask, image.Point{}, draw.Over)
}

// FillRect paints r.
func (s *RasterSurface) FillRect(r annotation.RectPayload, c string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	draw.Draw(s.img, toImageRect(r), image.NewUniform(ParseColor(c)), image.Point{}, draw.Over)
}

// StrokeRect paints the outline of r, centred on its edges.
func (s *RasterSurface) StrokeRect(r annotation.RectPayload, c string, width float64) {
	if width <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	h := width / 2
	outer := toImageRect(annotation.RectPayload{X: r.X - h, Y: r.Y - h, Width: r.Width + width, Height: r.Height + width})
	inner := toImageRect(annotation.RectPayload{X: r.X + h, Y: r.Y + h, Width: r.Width - width, Height: r.Height - width})

	mask := image.NewAlpha(s.img.Bounds())
	draw.Draw(mask, outer, image.Opaque, image.Point{}, draw.Src)
	if !inner.Empty() {
		draw.Draw(mask, inner, image.Transparent, image.Point{}, draw.Src)
	}
	draw.DrawMask(s.img, s.img.Bounds(), image.NewUniform(ParseColor(c)), image.Point{}, mask, image.Point{}, draw.Over)
}

// DataURL encodes the surface as a PNG data URL.
func (s *RasterSurface) DataURL() (string, error) {
	var buf bytes.Buffer
	if err := s.WritePNG(&buf); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// WritePNG encodes the surface to w.
func (s *RasterSurface) WritePNG(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return png.Encode(w, s.img)
}

// Pixels returns a copy of the RGBA pixel buffer.
func (s *RasterSurface) Pixels() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.img.Pix...)
}

// At returns the colour at (x, y).
func (s *RasterSurface) At(x, y int) color.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img.RGBAAt(x, y)
}

func toImageRect(r annotation.RectPayload) image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)), int(math.Round(r.Y)),
		int(math.Round(r.Right())), int(math.Round(r.Bottom())),
	)
}

// erase scales every pixel by the inverse of the mask coverage.
func erase(img *image.RGBA, mask *image.Alpha) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			m := mask.AlphaAt(x, y).A
			if m == 0 {
				continue
			}
			keep := uint32(255 - m)
			i := img.PixOffset(x, y)
			for k := 0; k < 4; k++ {
				img.Pix[i+k] = uint8(uint32(img.Pix[i+k]) * keep / 255)
			}
		}
	}
}

func stampDisc(mask *image.Alpha, c annotation.Point, r float64) {
	b := mask.Bounds()
	minX := max(b.Min.X, int(math.Floor(c.X-r)))
	maxX := min(b.Max.X-1, int(math.Ceil(c.X+r)))
	minY := max(b.Min.Y, int(math.Floor(c.Y-r)))
	maxY := min(b.Max.Y-1, int(math.Ceil(c.Y+r)))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx := float64(x) + 0.5 - c.X
			dy := float64(y) + 0.5 - c.Y
			if dx*dx+dy*dy <= r*r {
				mask.SetAlpha(x, y, color.Alpha{A: 255})
			}
		}
	}
}

// stampSegment covers the capsule around segment a-b: round caps and joins
// fall out of stamping discs along it.
func stampSegment(mask *image.Alpha, a, b annotation.Point, r float64) {
	dist := math.Hypot(b.X-a.X, b.Y-a.Y)
	steps := int(math.Ceil(dist))
	if steps == 0 {
		stampDisc(mask, a, r)
		return
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		stampDisc(mask, annotation.Point{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}, r)
	}
}

// ParseColor parses the CSS colour forms used by strokes: #rgb, #rrggbb,
// rgb(r, g, b) and rgba(r, g, b, a). Unparseable input yields opaque black.
func ParseColor(s string) color.NRGBA {
	black := color.NRGBA{A: 255}
	s = strings.TrimSpace(strings.ToLower(s))

	if strings.HasPrefix(s, "#") {
		hex := s[1:]
		if len(hex) == 3 {
			hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
		}
		if len(hex) != 6 {
			return black
		}
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return black
		}
		return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
	}

	open, end := strings.IndexByte(s, '('), strings.LastIndexByte(s, ')')
	if open < 0 || end < open {
		return black
	}
	fn := s[:open]
	if fn != "rgb" && fn != "rgba" {
		return black
	}
	parts := strings.Split(s[open+1:end], ",")
	if len(parts) != 3 && len(parts) != 4 {
		return black
	}

	var ch [3]uint8
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return black
		}
		ch[i] = uint8(math.Round(math.Max(0, math.Min(255, v))))
	}
	alpha := 1.0
	if len(parts) == 4 {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
		if err != nil {
			return black
		}
		alpha = math.Max(0, math.Min(1, v))
	}
	return color.NRGBA{R: ch[0], G: ch[1], B: ch[2], A: uint8(math.Round(alpha * 255))}
}
