// Package imagediff compares two raster images and produces a
// similarity score in [0,1] plus an optional visual diff artifact.
// Comparison is a pure function of the two inputs: identical inputs
// always yield identical scores, so verdicts are reproducible in CI.
package imagediff

import (
	"fmt"
	"image"
	"image/draw"
	"os"

	// Register decoders for the raster formats screenshots come in.
	_ "image/jpeg"
	_ "image/png"
)

// FailReason classifies why a comparison did not pass.
type FailReason string

const (
	// FailNone means the comparison passed.
	FailNone FailReason = ""

	// FailBelowThreshold means both images have the same dimensions but
	// their similarity score is below the requested threshold.
	FailBelowThreshold FailReason = "below-threshold"

	// FailDimensionMismatch means the images cannot be meaningfully
	// compared because their dimensions differ. The score is reported
	// as 0 and must not be confused with a same-size low-similarity
	// result.
	FailDimensionMismatch FailReason = "dimension-mismatch"
)

// Result is the outcome of comparing a candidate image against a
// reference image.
type Result struct {
	// Score is the perceptual similarity in [0,1]; 1.0 means identical.
	Score float64

	// Passed reports whether Score >= threshold.
	Passed bool

	// Reason is set when Passed is false.
	Reason FailReason
}

// Compare reads the two images from disk and compares them at the given
// threshold. Undecodable files and out-of-range thresholds are errors;
// a dimension mismatch is not an error but a failed Result carrying
// FailDimensionMismatch.
func Compare(candidatePath, referencePath string, threshold float64) (Result, error) {
	candidate, err := loadImage(candidatePath)
	if err != nil {
		return Result{}, err
	}
	reference, err := loadImage(referencePath)
	if err != nil {
		return Result{}, err
	}
	return CompareImages(candidate, reference, threshold)
}

// CompareImages is the in-memory form of Compare.
func CompareImages(candidate, reference image.Image, threshold float64) (Result, error) {
	if threshold < 0 || threshold > 1 {
		return Result{}, fmt.Errorf("threshold %v is out of range [0,1]", threshold)
	}

	c := toNRGBA(candidate)
	r := toNRGBA(reference)

	if !c.Bounds().Size().Eq(r.Bounds().Size()) {
		return Result{Score: 0, Passed: false, Reason: FailDimensionMismatch}, nil
	}

	score := ssim(luminance(c), luminance(r))
	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}

	result := Result{Score: score, Passed: score >= threshold}
	if !result.Passed {
		result.Reason = FailBelowThreshold
	}
	return result, nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("unable to decode image %s: %w", path, err)
	}
	return img, nil
}

// toNRGBA normalizes any decoded image to non-premultiplied RGBA so
// that alpha can be discarded the same way for every input format.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min.Eq(image.Point{}) {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
