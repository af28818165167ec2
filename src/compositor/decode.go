package compositor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/webp"
)

var ErrUnsupportedImage = errors.New("unsupported image format")

// Decode reads a JPEG, PNG or WebP image.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if errors.Is(err, image.ErrFormat) {
		return nil, "", ErrUnsupportedImage
	}
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// DecodeBytes is Decode over an in-memory buffer.
func DecodeBytes(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrUnsupportedImage)
	}
	return Decode(bytes.NewReader(data))
}
