package imagediff

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrDimensionMismatch reports that a diff artifact cannot be produced
// because the two images differ in size.
var ErrDimensionMismatch = errors.New("image dimensions do not match")

// diffPixelThreshold is the per-channel absolute difference above which
// a pixel counts as changed in the diff artifact.
const diffPixelThreshold = 30

var highlight = color.NRGBA{R: 255, G: 0, B: 0, A: 255}

// Diff returns a copy of the candidate image with every changed pixel
// painted in the highlight color, plus the number of changed pixels.
// A pixel is changed when any channel differs by more than
// diffPixelThreshold.
func Diff(candidate, reference image.Image) (*image.NRGBA, int, error) {
	c := toNRGBA(candidate)
	r := toNRGBA(reference)
	if !c.Bounds().Size().Eq(r.Bounds().Size()) {
		return nil, 0, fmt.Errorf("%w: candidate %dx%d, reference %dx%d",
			ErrDimensionMismatch,
			c.Bounds().Dx(), c.Bounds().Dy(),
			r.Bounds().Dx(), r.Bounds().Dy(),
		)
	}

	w := c.Bounds().Dx()
	h := c.Bounds().Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))

	changed := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			cp := c.NRGBAAt(x, y)
			rp := r.NRGBAAt(x, y)
			if channelDiff(cp.R, rp.R) || channelDiff(cp.G, rp.G) || channelDiff(cp.B, rp.B) {
				out.SetNRGBA(x, y, highlight)
				changed++
				continue
			}
			cp.A = 255
			out.SetNRGBA(x, y, cp)
		}
	}
	return out, changed, nil
}

// WriteDiff reads both images, renders the diff artifact and writes it
// as PNG to outputPath, creating parent directories as needed.
func WriteDiff(candidatePath, referencePath, outputPath string) error {
	candidate, err := loadImage(candidatePath)
	if err != nil {
		return err
	}
	reference, err := loadImage(referencePath)
	if err != nil {
		return err
	}

	diff, changed, err := Diff(candidate, reference)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("unable to create diff output directory: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("unable to create diff image: %w", err)
	}
	if err := png.Encode(f, diff); err != nil {
		f.Close()
		return fmt.Errorf("unable to encode diff image: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("unable to finalize diff image: %w", err)
	}

	slog.Debug("diff image written", "path", outputPath, "changedPixels", changed)
	return nil
}

func channelDiff(a, b uint8) bool {
	if a > b {
		return a-b > diffPixelThreshold
	}
	return b-a > diffPixelThreshold
}
