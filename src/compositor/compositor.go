// Package compositor layers a cropped photo onto template art.
//
// The draw order is fixed: background (or white), photo, foreground. The
// foreground is painted last so its opaque areas frame the photo without any
// masking step.
package compositor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"

	"go.uber.org/zap"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

const (
	DefaultCanvasSize = 1920
	DefaultQuality    = 90
)

type (
	// Position is where the photo goes on the canvas, in canvas pixels.
	// Rotation is in degrees, clockwise, around the rectangle's center.
	Position struct {
		X        float64 `json:"x"`
		Y        float64 `json:"y"`
		Width    float64 `json:"width"`
		Height   float64 `json:"height"`
		Rotation float64 `json:"rotation"`
	}

	// Layers holds the decoded template art. Either layer may be nil.
	Layers struct {
		Background image.Image
		Foreground image.Image
	}

	Compositor struct {
		canvasSize int
		quality    int
		expectW    int
		expectH    int
		log        *zap.Logger
	}

	Option func(*Compositor)
)

// WithCanvasSize overrides the square canvas edge length.
func WithCanvasSize(size int) Option {
	return func(c *Compositor) { c.canvasSize = size }
}

// WithQuality sets the JPEG quality (1-100).
func WithQuality(q int) Option {
	return func(c *Compositor) { c.quality = q }
}

// WithExpectedPhotoSize sets the cropped photo size the caller promises to deliver.
// A photo of another size is still drawn, stretched to the template rectangle.
func WithExpectedPhotoSize(w, h int) Option {
	return func(c *Compositor) { c.expectW, c.expectH = w, h }
}

func New(log *zap.Logger, opts ...Option) *Compositor {
	c := &Compositor{
		canvasSize: DefaultCanvasSize,
		quality:    DefaultQuality,
		expectW:    1920,
		expectH:    1080,
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// CanvasSize returns the edge length of the square output.
func (c *Compositor) CanvasSize() int {
	return c.canvasSize
}

// Render composes and encodes the result as JPEG.
func (c *Compositor) Render(photo image.Image, layers Layers, pos Position) ([]byte, error) {
	canvas, err := c.Compose(photo, layers, pos)
	if err != nil {
		return nil, err
	}
	return c.Encode(canvas)
}

// Compose draws the three layers onto a fresh canvas.
func (c *Compositor) Compose(photo image.Image, layers Layers, pos Position) (*image.RGBA, error) {
	if photo == nil {
		return nil, fmt.Errorf("compose: no photo")
	}
	if pos.Width <= 0 || pos.Height <= 0 {
		return nil, fmt.Errorf("compose: empty photo rectangle %+v", pos)
	}
	if b := photo.Bounds(); b.Dx() != c.expectW || b.Dy() != c.expectH {
		c.log.Warn("cropped photo size differs from expected, stretching to template rectangle",
			zap.Int("width", b.Dx()),
			zap.Int("height", b.Dy()),
			zap.Int("expected_width", c.expectW),
			zap.Int("expected_height", c.expectH),
		)
	}

	full := image.Rect(0, 0, c.canvasSize, c.canvasSize)
	canvas := image.NewRGBA(full)

	// 1. background
	draw.Draw(canvas, full, image.NewUniform(color.White), image.Point{}, draw.Src)
	if layers.Background != nil {
		xdraw.BiLinear.Scale(canvas, full, layers.Background, layers.Background.Bounds(), xdraw.Over, nil)
	}

	// 2. photo
	xdraw.BiLinear.Transform(canvas, photoTransform(photo.Bounds(), pos), photo, photo.Bounds(), xdraw.Over, nil)

	// 3. foreground
	if layers.Foreground != nil {
		xdraw.BiLinear.Scale(canvas, full, layers.Foreground, layers.Foreground.Bounds(), xdraw.Over, nil)
	}
	return canvas, nil
}

// Encode writes img as JPEG with the configured quality.
func (c *Compositor) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("encode composite: %w", err)
	}
	return buf.Bytes(), nil
}

// photoTransform maps source pixel coordinates onto the canvas: scale the photo
// into the rectangle, then rotate around the rectangle's center.
//
//	q = center + R(θ)·(pos.XY + S·(p - src.Min) - center)
func photoTransform(src image.Rectangle, pos Position) f64.Aff3 {
	sx := pos.Width / float64(src.Dx())
	sy := pos.Height / float64(src.Dy())
	theta := pos.Rotation * math.Pi / 180
	cos, sin := math.Cos(theta), math.Sin(theta)
	if pos.Rotation == 0 {
		cos, sin = 1, 0
	}

	cx := pos.X + pos.Width/2
	cy := pos.Y + pos.Height/2
	// origin of the scaled photo relative to the center
	ox := pos.X - cx - sx*float64(src.Min.X)
	oy := pos.Y - cy - sy*float64(src.Min.Y)

	return f64.Aff3{
		cos * sx, -sin * sy, cx + cos*ox - sin*oy,
		sin * sx, cos * sy, cy + sin*ox + cos*oy,
	}
}

// Preview decodes a stored composite and re-encodes it scaled to fit within
// maxEdge pixels. Smaller images are returned unchanged.
func (c *Compositor) Preview(composite []byte, maxEdge int) ([]byte, error) {
	img, _, err := DecodeBytes(composite)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if maxEdge <= 0 || (b.Dx() <= maxEdge && b.Dy() <= maxEdge) {
		return composite, nil
	}
	w, h := maxEdge, maxEdge
	if b.Dx() > b.Dy() {
		h = int(math.Round(float64(b.Dy()) * float64(maxEdge) / float64(b.Dx())))
	} else if b.Dy() > b.Dx() {
		w = int(math.Round(float64(b.Dx()) * float64(maxEdge) / float64(b.Dy())))
	}
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return c.Encode(dst)
}
