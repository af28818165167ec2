// Package crop computes and applies crop rectangles over a source photo.
//
// Rectangles are kept in percent of the photo's natural size so that the same
// logical crop resolves identically no matter how the photo was displayed.
// Pixels only appear at the boundary (Resolve, Extract).
package crop

import (
	"errors"
	"fmt"
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

const (
	// DefaultCoverage is the share of the constraining dimension the default crop takes.
	DefaultCoverage = 90.0

	// MinWidth and MinHeight bound the smallest crop a caller may confirm, in source pixels.
	MinWidth  = 200
	MinHeight = 113

	// AspectTolerance is the accepted relative deviation of the pixel aspect ratio.
	AspectTolerance = 0.01

	// CanonicalWidth is the width of the cropped photo handed to the compositor.
	CanonicalWidth = 1920

	// boundsEpsilon absorbs float noise in percentage sums.
	boundsEpsilon = 1e-6
)

var (
	ErrInvalidInput   = errors.New("invalid crop input")
	ErrOutOfBounds    = errors.New("crop exceeds image bounds")
	ErrAspectMismatch = errors.New("crop does not match target aspect ratio")
	ErrTooSmall       = errors.New("crop below minimum size")
)

type (
	// Region is a crop rectangle in percent (0-100) of the source image.
	Region struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}

	// PixelRect is a Region resolved against natural pixel dimensions.
	PixelRect struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
)

// ComputeDefault proposes a centered crop with the target aspect ratio.
// The side of the photo that is relatively too long is cut; the other side keeps
// DefaultCoverage percent.
func ComputeDefault(sourceWidth, sourceHeight int, targetAspect float64) (Region, error) {
	if sourceWidth <= 0 || sourceHeight <= 0 || !(targetAspect > 0) || math.IsInf(targetAspect, 0) {
		return Region{}, fmt.Errorf("%w: %dx%d aspect %v", ErrInvalidInput, sourceWidth, sourceHeight, targetAspect)
	}
	w, h := float64(sourceWidth), float64(sourceHeight)

	var cropW, cropH float64
	if w/h > targetAspect {
		cropH = h * DefaultCoverage / 100
		cropW = cropH * targetAspect
	} else {
		cropW = w * DefaultCoverage / 100
		cropH = cropW / targetAspect
	}

	r := Region{
		Width:  cropW / w * 100,
		Height: cropH / h * 100,
	}
	r.X = (100 - r.Width) / 2
	r.Y = (100 - r.Height) / 2
	return r, nil
}

// Resolve converts a percentage region into absolute pixels.
func Resolve(r Region, naturalWidth, naturalHeight int) PixelRect {
	w, h := float64(naturalWidth), float64(naturalHeight)
	return PixelRect{
		X:      r.X * w / 100,
		Y:      r.Y * h / 100,
		Width:  r.Width * w / 100,
		Height: r.Height * h / 100,
	}
}

// Rect rounds the pixel rectangle to the integer grid used for sampling.
func (p PixelRect) Rect() image.Rectangle {
	x0 := int(math.Round(p.X))
	y0 := int(math.Round(p.Y))
	x1 := int(math.Round(p.X + p.Width))
	y1 := int(math.Round(p.Y + p.Height))
	return image.Rect(x0, y0, x1, y1)
}

// Aspect returns width/height of the pixel rectangle.
func (p PixelRect) Aspect() float64 {
	if p.Height == 0 {
		return 0
	}
	return p.Width / p.Height
}

// Validate checks a user-adjusted region before it is confirmed.
func Validate(r Region, naturalWidth, naturalHeight int, targetAspect float64) error {
	if naturalWidth <= 0 || naturalHeight <= 0 || !(targetAspect > 0) {
		return fmt.Errorf("%w: %dx%d aspect %v", ErrInvalidInput, naturalWidth, naturalHeight, targetAspect)
	}
	for _, v := range []float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite region %+v", ErrInvalidInput, r)
		}
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: empty region", ErrInvalidInput)
	}
	if r.X < -boundsEpsilon || r.Y < -boundsEpsilon ||
		r.X+r.Width > 100+boundsEpsilon || r.Y+r.Height > 100+boundsEpsilon {
		return fmt.Errorf("%w: %+v", ErrOutOfBounds, r)
	}

	px := Resolve(r, naturalWidth, naturalHeight)
	if math.Abs(px.Aspect()-targetAspect)/targetAspect > AspectTolerance {
		return fmt.Errorf("%w: got %.4f want %.4f", ErrAspectMismatch, px.Aspect(), targetAspect)
	}
	if px.Width < MinWidth || px.Height < MinHeight {
		return fmt.Errorf("%w: %.0fx%.0f", ErrTooSmall, px.Width, px.Height)
	}
	return nil
}

// CanonicalSize is the pixel size of a cropped photo with the given aspect ratio.
func CanonicalSize(targetAspect float64) (int, int) {
	if !(targetAspect > 0) {
		return CanonicalWidth, CanonicalWidth
	}
	return CanonicalWidth, int(math.Round(CanonicalWidth / targetAspect))
}

// Extract cuts the region out of src and scales it to outWidth x outHeight.
func Extract(src image.Image, r Region, outWidth, outHeight int) (*image.RGBA, error) {
	if outWidth <= 0 || outHeight <= 0 {
		return nil, fmt.Errorf("%w: output %dx%d", ErrInvalidInput, outWidth, outHeight)
	}
	b := src.Bounds()
	rect := Resolve(r, b.Dx(), b.Dy()).Rect().Add(b.Min).Intersect(b)
	if rect.Empty() {
		return nil, fmt.Errorf("%w: %+v", ErrOutOfBounds, r)
	}

	dst := image.NewRGBA(image.Rect(0, 0, outWidth, outHeight))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, rect, xdraw.Src, nil)
	return dst, nil
}
