package imagediff

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodePNG(t *testing.T, path string) *image.NRGBA {
	t.Helper()
	img, err := loadImage(path)
	require.NoError(t, err)
	return toNRGBA(img)
}

func countHighlighted(img *image.NRGBA) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			p := img.NRGBAAt(x, y)
			if p.R == 255 && p.G == 0 && p.B == 0 {
				n++
			}
		}
	}
	return n
}

func TestWriteDiff_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", solidImage(64, 64, color.NRGBA{A: 255}))
	b := writePNG(t, dir, "b.png", solidImage(64, 64, color.NRGBA{R: 255, G: 255, B: 255, A: 255}))
	out := filepath.Join(dir, "artifacts", "diff.png")

	require.NoError(t, WriteDiff(a, b, out))

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestWriteDiff_ChangedRegionsAreHighlighted(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", solidImage(64, 64, color.NRGBA{A: 255}))
	b := writePNG(t, dir, "b.png", solidImage(64, 64, color.NRGBA{R: 255, G: 255, B: 255, A: 255}))
	out := filepath.Join(dir, "diff.png")

	require.NoError(t, WriteDiff(a, b, out))

	diff := decodePNG(t, out)
	assert.Equal(t, 64*64, countHighlighted(diff))
}

func TestWriteDiff_IdenticalImagesHaveNoHighlight(t *testing.T) {
	dir := t.TempDir()
	green := color.NRGBA{R: 120, G: 200, B: 50, A: 255}
	a := writePNG(t, dir, "a.png", solidImage(64, 64, green))
	b := writePNG(t, dir, "b.png", solidImage(64, 64, green))
	out := filepath.Join(dir, "diff.png")

	require.NoError(t, WriteDiff(a, b, out))

	diff := decodePNG(t, out)
	assert.Zero(t, countHighlighted(diff))
	assert.Equal(t, green, diff.NRGBAAt(10, 10))
}

func TestWriteDiff_DimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", solidImage(64, 64, color.NRGBA{A: 255}))
	b := writePNG(t, dir, "b.png", solidImage(32, 32, color.NRGBA{A: 255}))

	err := WriteDiff(a, b, filepath.Join(dir, "diff.png"))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestDiff_ThresholdBoundary(t *testing.T) {
	base := solidImage(8, 8, color.NRGBA{R: 100, G: 100, B: 100, A: 255})

	// A difference of exactly the threshold is not marked.
	within := solidImage(8, 8, color.NRGBA{R: 130, G: 100, B: 100, A: 255})
	diff, changed, err := Diff(base, within)
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Zero(t, countHighlighted(diff))

	// One past the threshold is.
	beyond := solidImage(8, 8, color.NRGBA{R: 131, G: 100, B: 100, A: 255})
	diff, changed, err = Diff(base, beyond)
	require.NoError(t, err)
	assert.Equal(t, 8*8, changed)
	assert.Equal(t, 8*8, countHighlighted(diff))
}

func TestDiff_MarksOnlyChangedRegion(t *testing.T) {
	base := solidImage(64, 64, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	modified := solidImage(64, 64, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			modified.SetNRGBA(x, y, color.NRGBA{R: 250, G: 30, B: 30, A: 255})
		}
	}

	diff, changed, err := Diff(modified, base)
	require.NoError(t, err)

	assert.Equal(t, 16*16, changed)
	assert.Equal(t, highlight, diff.NRGBAAt(5, 5))
	assert.Equal(t, color.NRGBA{R: 100, G: 100, B: 100, A: 255}, diff.NRGBAAt(40, 40))
}
