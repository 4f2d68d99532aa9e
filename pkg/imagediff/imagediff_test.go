package imagediff

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test fixtures

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestCompare_IdenticalImages(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", solidImage(64, 64, color.NRGBA{R: 120, G: 200, B: 50, A: 255}))
	b := writePNG(t, dir, "b.png", solidImage(64, 64, color.NRGBA{R: 120, G: 200, B: 50, A: 255}))

	result, err := Compare(a, b, 0.95)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, result.Score, 1e-9)
	assert.True(t, result.Passed)
	assert.Equal(t, FailNone, result.Reason)
}

func TestCompare_IdentityHoldsAtMaximumThreshold(t *testing.T) {
	dir := t.TempDir()
	img := solidImage(48, 32, color.NRGBA{R: 10, G: 10, B: 10, A: 255})
	a := writePNG(t, dir, "a.png", img)

	result, err := Compare(a, a, 1.0)
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.InDelta(t, 1.0, result.Score, 1e-9)
}

func TestCompare_CompletelyDifferentImages(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", solidImage(64, 64, color.NRGBA{A: 255}))
	b := writePNG(t, dir, "b.png", solidImage(64, 64, color.NRGBA{R: 255, G: 255, B: 255, A: 255}))

	result, err := Compare(a, b, 0.95)
	require.NoError(t, err)

	assert.Less(t, result.Score, 0.95)
	assert.False(t, result.Passed)
	assert.Equal(t, FailBelowThreshold, result.Reason)
}

func TestCompare_SimilarImagesFailVeryHighThreshold(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", solidImage(64, 64, color.NRGBA{R: 100, G: 100, B: 100, A: 255}))

	// Same image except the top half is slightly brighter.
	shifted := solidImage(64, 64, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			shifted.SetNRGBA(x, y, color.NRGBA{R: 110, G: 110, B: 110, A: 255})
		}
	}
	b := writePNG(t, dir, "b.png", shifted)

	result, err := Compare(a, b, 0.9999)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Less(t, result.Score, 0.9999)
	assert.Equal(t, FailBelowThreshold, result.Reason)

	// The same pair is close enough to pass at the default threshold.
	relaxed, err := Compare(a, b, 0.95)
	require.NoError(t, err)
	assert.True(t, relaxed.Passed)
}

func TestCompare_DimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", solidImage(64, 64, color.NRGBA{R: 100, G: 100, B: 100, A: 255}))
	b := writePNG(t, dir, "b.png", solidImage(128, 128, color.NRGBA{R: 100, G: 100, B: 100, A: 255}))

	result, err := Compare(a, b, 0.95)
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Zero(t, result.Score)
	assert.Equal(t, FailDimensionMismatch, result.Reason)
}

func TestCompare_AlphaIsIgnored(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", solidImage(64, 64, color.NRGBA{R: 120, G: 200, B: 50, A: 255}))
	b := writePNG(t, dir, "b.png", solidImage(64, 64, color.NRGBA{R: 120, G: 200, B: 50, A: 128}))

	result, err := Compare(a, b, 0.95)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, result.Score, 1e-9)
	assert.True(t, result.Passed)
}

func TestCompare_TinyImages(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", solidImage(4, 4, color.NRGBA{R: 7, G: 7, B: 7, A: 255}))
	b := writePNG(t, dir, "b.png", solidImage(4, 4, color.NRGBA{R: 7, G: 7, B: 7, A: 255}))

	result, err := Compare(a, b, 0.95)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.Score, 1e-9)
	assert.True(t, result.Passed)
}

func TestCompare_ThresholdOutOfRange(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", solidImage(8, 8, color.NRGBA{A: 255}))

	_, err := Compare(a, a, 1.5)
	assert.Error(t, err)

	_, err = Compare(a, a, -0.1)
	assert.Error(t, err)
}

func TestCompare_UnreadableImage(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", solidImage(8, 8, color.NRGBA{A: 255}))

	_, err := Compare(a, filepath.Join(dir, "missing.png"), 0.95)
	assert.Error(t, err)
}

func TestCompare_Deterministic(t *testing.T) {
	dir := t.TempDir()
	base := solidImage(64, 64, color.NRGBA{R: 40, G: 90, B: 160, A: 255})
	for y := 10; y < 30; y++ {
		for x := 10; x < 30; x++ {
			base.SetNRGBA(x, y, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	a := writePNG(t, dir, "a.png", base)
	b := writePNG(t, dir, "b.png", solidImage(64, 64, color.NRGBA{R: 42, G: 88, B: 158, A: 255}))

	first, err := Compare(a, b, 0.95)
	require.NoError(t, err)
	second, err := Compare(a, b, 0.95)
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
}
