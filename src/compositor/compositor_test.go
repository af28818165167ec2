package compositor

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// overlay is transparent except for the opaque rectangle r.
func overlay(size int, r image.Rectangle, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func near(t *testing.T, want, got color.RGBA) {
	t.Helper()
	assert.InDelta(t, int(want.R), int(got.R), 2, "R want %v got %v", want, got)
	assert.InDelta(t, int(want.G), int(got.G), 2, "G want %v got %v", want, got)
	assert.InDelta(t, int(want.B), int(got.B), 2, "B want %v got %v", want, got)
}

var rect = Position{X: 100, Y: 100, Width: 400, Height: 300}

func newTestCompositor(opts ...Option) *Compositor {
	opts = append([]Option{WithCanvasSize(600), WithExpectedPhotoSize(160, 90)}, opts...)
	return New(zap.NewNop(), opts...)
}

func TestCompose_WhiteFillWithoutBackground(t *testing.T) {
	c := newTestCompositor()

	out, err := c.Compose(solid(160, 90, blue), Layers{}, rect)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 600, 600), out.Bounds())
	near(t, white, out.RGBAAt(10, 10))
	near(t, blue, out.RGBAAt(300, 250))
}

func TestCompose_BackgroundStretchedToCanvas(t *testing.T) {
	c := newTestCompositor()

	out, err := c.Compose(solid(160, 90, blue), Layers{Background: solid(30, 30, green)}, rect)
	require.NoError(t, err)

	near(t, green, out.RGBAAt(0, 0))
	near(t, green, out.RGBAAt(599, 599))
	near(t, blue, out.RGBAAt(300, 250))
}

func TestCompose_ForegroundPaintsOverPhoto(t *testing.T) {
	c := newTestCompositor()
	// opaque window frame over the left part of the photo rectangle
	fg := overlay(600, image.Rect(0, 0, 250, 600), red)

	out, err := c.Compose(solid(160, 90, blue), Layers{Background: solid(10, 10, green), Foreground: fg}, rect)
	require.NoError(t, err)

	near(t, red, out.RGBAAt(150, 250))
	near(t, blue, out.RGBAAt(400, 250))
	near(t, green, out.RGBAAt(550, 550))
}

func TestCompose_RotationAroundCenter(t *testing.T) {
	c := newTestCompositor()

	flat, err := c.Compose(solid(160, 90, blue), Layers{}, rect)
	require.NoError(t, err)

	rotated := rect
	rotated.Rotation = 90
	turned, err := c.Compose(solid(160, 90, blue), Layers{}, rotated)
	require.NoError(t, err)

	// 400x300 around (300,250) turns into x 150..450, y 50..450
	near(t, white, flat.RGBAAt(300, 70))
	near(t, blue, turned.RGBAAt(300, 70))

	near(t, blue, flat.RGBAAt(120, 250))
	near(t, white, turned.RGBAAt(120, 250))

	near(t, blue, turned.RGBAAt(300, 250))
}

func TestRender_Deterministic(t *testing.T) {
	c := newTestCompositor(WithQuality(92))
	photo := image.NewRGBA(image.Rect(0, 0, 160, 90))
	for y := 0; y < 90; y++ {
		for x := 0; x < 160; x++ {
			photo.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 255})
		}
	}
	layers := Layers{Background: solid(20, 20, green), Foreground: overlay(600, image.Rect(0, 0, 600, 50), red)}
	pos := rect
	pos.Rotation = 12.5

	a, err := c.Render(photo, layers, pos)
	require.NoError(t, err)
	b, err := c.Render(photo, layers, pos)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))

	decoded, err := jpeg.Decode(bytes.NewReader(a))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 600, 600), decoded.Bounds())
}

func TestCompose_WarnsOnUnexpectedPhotoSize(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := New(zap.New(core), WithCanvasSize(600), WithExpectedPhotoSize(1920, 1080))

	out, err := c.Compose(solid(50, 50, blue), Layers{}, rect)
	require.NoError(t, err)

	assert.Equal(t, 1, logs.Len())
	near(t, blue, out.RGBAAt(300, 250))
}

func TestCompose_RejectsEmptyInput(t *testing.T) {
	c := newTestCompositor()

	_, err := c.Compose(nil, Layers{}, rect)
	assert.Error(t, err)

	_, err = c.Compose(solid(160, 90, blue), Layers{}, Position{X: 1, Y: 1})
	assert.Error(t, err)
}

func TestPhotoTransform_IdentityWithoutRotation(t *testing.T) {
	m := photoTransform(image.Rect(0, 0, 200, 100), Position{X: 10, Y: 20, Width: 400, Height: 300})

	assert.InDelta(t, 2.0, m[0], 1e-12)
	assert.InDelta(t, 0.0, m[1], 1e-12)
	assert.InDelta(t, 10.0, m[2], 1e-12)
	assert.InDelta(t, 0.0, m[3], 1e-12)
	assert.InDelta(t, 3.0, m[4], 1e-12)
	assert.InDelta(t, 20.0, m[5], 1e-12)
}

func TestPreview_ScalesDown(t *testing.T) {
	c := New(nil, WithCanvasSize(200))
	full, err := c.Encode(solid(200, 100, green))
	require.NoError(t, err)

	small, err := c.Preview(full, 50)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(small))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Width)
	assert.Equal(t, 25, cfg.Height)

	same, err := c.Preview(full, 400)
	require.NoError(t, err)
	assert.Equal(t, full, same)

	_, err = c.Preview([]byte("junk"), 50)
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}
