package attachment

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	// Decoders for the supported source formats.
	_ "image/gif"
	_ "image/png"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ImageCompressor is the built-in compression primitive. It decodes the
// source, scales it down so neither dimension exceeds the maximum while
// preserving aspect ratio, and re-encodes as JPEG at the given quality.
type ImageCompressor struct{}

// NewImageCompressor creates the built-in compressor.
func NewImageCompressor() *ImageCompressor {
	return &ImageCompressor{}
}

// Compress implements interfaces.Compressor.
func (c *ImageCompressor) Compress(ctx context.Context, data []byte, maxDimension int, quality float64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	scaledW, scaledH := fitDimensions(width, height, maxDimension)

	logrus.WithFields(logrus.Fields{
		"function":      "ImageCompressor.Compress",
		"format":        format,
		"source_width":  width,
		"source_height": height,
		"target_width":  scaledW,
		"target_height": scaledH,
	}).Debug("Compressing image")

	out := src
	if scaledW != width || scaledH != height {
		scaled := image.NewRGBA(image.Rect(0, 0, scaledW, scaledH))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, bounds, draw.Over, nil)
		out = scaled
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	q := int(quality * 100)
	if q < 1 {
		q = 1
	} else if q > 100 {
		q = 100
	}
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: q}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	return buf.Bytes(), nil
}

// fitDimensions scales (width, height) down so the larger side equals
// maxDimension, preserving aspect ratio. Images already within bounds are
// returned unchanged; never scales up.
func fitDimensions(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}

	if width >= height {
		scaled := height * maxDimension / width
		if scaled < 1 {
			scaled = 1
		}
		return maxDimension, scaled
	}

	scaled := width * maxDimension / height
	if scaled < 1 {
		scaled = 1
	}
	return scaled, maxDimension
}
