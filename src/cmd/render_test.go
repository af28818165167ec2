package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"coverserv/src/crop"
	"coverserv/src/templates"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func solidPNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func renderFixture(t *testing.T) renderOptions {
	t.Helper()
	dir := t.TempDir()
	tplDir := filepath.Join(dir, "templates")
	catalogue := templates.NewCatalogue(tplDir, zaptest.NewLogger(t))
	require.NoError(t, catalogue.Upload("summer",
		solidPNG(t, 16, 16, color.RGBA{G: 255, A: 255}),
		solidPNG(t, 16, 16, color.RGBA{}),
	))

	photo := filepath.Join(dir, "selfie.png")
	require.NoError(t, os.WriteFile(photo, solidPNG(t, 320, 240, color.RGBA{R: 200, A: 255}), 0o644))

	return renderOptions{
		Photo:      photo,
		Templates:  tplDir,
		Output:     filepath.Join(dir, "cover.jpg"),
		CanvasSize: 600,
		Quality:    80,
	}
}

func TestRenderCover(t *testing.T) {
	opts := renderFixture(t)

	require.NoError(t, renderCover(context.Background(), opts, zaptest.NewLogger(t)))

	out, err := os.ReadFile(opts.Output)
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 600, cfg.Width)
	assert.Equal(t, 600, cfg.Height)
}

func TestRenderCover_ExplicitCrop(t *testing.T) {
	opts := renderFixture(t)
	opts.TemplateID = "summer"
	opts.cropSet = true
	opts.X, opts.Y, opts.Width, opts.Height = 0, 0, 100, 75
	require.NoError(t, renderCover(context.Background(), opts, zaptest.NewLogger(t)))

	opts.Width, opts.Height = 50, 50
	err := renderCover(context.Background(), opts, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, crop.ErrAspectMismatch)
}

func TestRenderCover_Errors(t *testing.T) {
	log := zaptest.NewLogger(t)
	ctx := context.Background()

	opts := renderFixture(t)
	opts.Photo = ""
	assert.Error(t, renderCover(ctx, opts, log))

	opts = renderFixture(t)
	opts.Quality = 0
	assert.Error(t, renderCover(ctx, opts, log))

	opts = renderFixture(t)
	opts.TemplateID = "winter"
	assert.ErrorIs(t, renderCover(ctx, opts, log), templates.ErrNotFound)

	opts = renderFixture(t)
	require.NoError(t, os.WriteFile(opts.Photo, []byte("not an image"), 0o644))
	assert.Error(t, renderCover(ctx, opts, log))
	_, err := os.Stat(opts.Output)
	assert.True(t, os.IsNotExist(err))
}

func TestNewLogger(t *testing.T) {
	log, err := newLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, log)

	_, err = newLogger("loud")
	assert.Error(t, err)
}
