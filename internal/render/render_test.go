package render

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

func encodeTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestRenderImage_WithinBoundsUnscaled(t *testing.T) {
	r := New(Config{LongEdgePx: 1540})
	src := encodeTestPNG(t, 100, 50)

	pages, err := r.RenderImage(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	img, _, err := image.Decode(bytes.NewReader(pages[0]))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestRenderImage_ScalesLongEdgeDown(t *testing.T) {
	r := New(Config{LongEdgePx: 200})
	src := encodeTestPNG(t, 2000, 1000)

	pages, err := r.RenderImage(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	img, _, err := image.Decode(bytes.NewReader(pages[0]))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())
}

func TestRenderImage_InvalidBytes(t *testing.T) {
	r := New(Config{})
	_, err := r.RenderImage(context.Background(), []byte("not an image"))
	require.Error(t, err)
}

func TestNew_DefaultsApplied(t *testing.T) {
	r := New(Config{})
	assert.Equal(t, float64(200), r.dpi)
	assert.Equal(t, 1540, r.longEdgePx)
}
