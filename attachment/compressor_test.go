package attachment

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodePNG renders a solid test image of the given size.
func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImageCompressor_ScalesDownOversizedImage(t *testing.T) {
	data := encodePNG(t, 64, 32)

	out, err := NewImageCompressor().Compress(context.Background(), data, 16, 0.8)
	require.NoError(t, err)

	decoded, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format, "output is normalized to JPEG")
	assert.Equal(t, 16, decoded.Bounds().Dx())
	assert.Equal(t, 8, decoded.Bounds().Dy(), "aspect ratio must be preserved")
}

func TestImageCompressor_KeepsSmallImageDimensions(t *testing.T) {
	data := encodePNG(t, 10, 20)

	out, err := NewImageCompressor().Compress(context.Background(), data, 2048, 0.8)
	require.NoError(t, err)

	decoded, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 10, decoded.Bounds().Dx())
	assert.Equal(t, 20, decoded.Bounds().Dy())
}

func TestImageCompressor_RejectsGarbage(t *testing.T) {
	_, err := NewImageCompressor().Compress(context.Background(), []byte("not an image"), 2048, 0.8)
	assert.Error(t, err)
}

func TestImageCompressor_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewImageCompressor().Compress(ctx, encodePNG(t, 4, 4), 2048, 0.8)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFitDimensions(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		max           int
		wantW, wantH  int
	}{
		{"Within bounds unchanged", 100, 50, 2048, 100, 50},
		{"Exactly at bound unchanged", 2048, 1024, 2048, 2048, 1024},
		{"Wide landscape scaled", 4096, 2048, 2048, 2048, 1024},
		{"Tall portrait scaled", 1000, 4000, 2048, 512, 2048},
		{"Square scaled", 3000, 3000, 2048, 2048, 2048},
		{"Extreme ratio keeps at least one pixel", 10000, 1, 100, 100, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := fitDimensions(tt.width, tt.height, tt.max)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}
