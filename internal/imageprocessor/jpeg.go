package imageprocessor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

var (
	ErrEmptyFrame     = errors.New("imageprocessor: empty frame")
	ErrInvalidQuality = errors.New("imageprocessor: quality must be between 1 and 100")
)

// JPEGEncoder downsizes frames to a fixed width and re-encodes them as JPEG.
type JPEGEncoder struct {
	scaler draw.Scaler
}

// NewJPEGEncoder returns an encoder using Catmull-Rom resampling.
func NewJPEGEncoder() *JPEGEncoder {
	return &JPEGEncoder{scaler: draw.CatmullRom}
}

// Encode decodes raw (JPEG or PNG), scales it down to targetWidth keeping the
// aspect ratio and compresses it at the given quality. Images already narrower
// than targetWidth are re-encoded without upscaling.
func (e *JPEGEncoder) Encode(ctx context.Context, raw []byte, targetWidth, quality int) (EncodedImage, error) {
	if len(raw) == 0 {
		return EncodedImage{}, ErrEmptyFrame
	}
	if quality < 1 || quality > 100 {
		return EncodedImage{}, ErrInvalidQuality
	}
	if err := ctx.Err(); err != nil {
		return EncodedImage{}, err
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return EncodedImage{}, fmt.Errorf("imageprocessor: decode frame: %w", err)
	}

	dst := e.resize(src, targetWidth)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return EncodedImage{}, fmt.Errorf("imageprocessor: encode frame: %w", err)
	}
	return EncodedImage{Data: buf.Bytes(), Format: FormatJPEG, SizeHint: buf.Len()}, nil
}

func (e *JPEGEncoder) resize(src image.Image, targetWidth int) image.Image {
	bounds := src.Bounds()
	if targetWidth <= 0 || bounds.Dx() <= targetWidth {
		return src
	}
	height := bounds.Dy() * targetWidth / bounds.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, height))
	e.scaler.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
