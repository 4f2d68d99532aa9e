package imagediff

import "image"

// Standard SSIM formulation over 8-bit data with a uniform sliding
// window and unbiased variance estimates.
const (
	ssimK1     = 0.01
	ssimK2     = 0.03
	ssimL      = 255.0
	ssimWindow = 7
)

// plane is a single-channel float image.
type plane struct {
	w, h int
	pix  []float64
}

// luminance projects an image onto its Rec. 601 luma channel.
func luminance(img *image.NRGBA) *plane {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	p := &plane{w: w, h: h, pix: make([]float64, w*h)}

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			r := float64(row[x*4])
			g := float64(row[x*4+1])
			b := float64(row[x*4+2])
			p.pix[y*w+x] = 0.299*r + 0.587*g + 0.114*b
		}
	}
	return p
}

// integral is a summed-area table: sum(x, y) holds the sum over the
// rectangle [0,x) × [0,y) of the source plane.
type integral struct {
	w, h int
	sum  []float64
}

func newIntegral(w, h int, value func(x, y int) float64) *integral {
	in := &integral{w: w + 1, h: h + 1, sum: make([]float64, (w+1)*(h+1))}
	for y := 1; y <= h; y++ {
		var rowSum float64
		for x := 1; x <= w; x++ {
			rowSum += value(x-1, y-1)
			in.sum[y*in.w+x] = in.sum[(y-1)*in.w+x] + rowSum
		}
	}
	return in
}

// window returns the sum over the win×win square whose top-left corner
// is (x, y).
func (in *integral) window(x, y, win int) float64 {
	x1, y1 := x+win, y+win
	return in.sum[y1*in.w+x1] - in.sum[y1*in.w+x] - in.sum[y*in.w+x1] + in.sum[y*in.w+x]
}

// ssim computes the mean structural similarity between two equally
// sized planes. Panics if the planes differ in size; callers check
// dimensions first.
func ssim(a, b *plane) float64 {
	if a.w != b.w || a.h != b.h {
		panic("imagediff: ssim planes differ in size")
	}

	win := ssimWindow
	if a.w < win || a.h < win {
		win = min(a.w, a.h)
		if win%2 == 0 {
			win--
		}
	}
	if win < 1 {
		return 0
	}

	at := func(p *plane) func(x, y int) float64 {
		return func(x, y int) float64 { return p.pix[y*p.w+x] }
	}
	ia := newIntegral(a.w, a.h, at(a))
	ib := newIntegral(a.w, a.h, at(b))
	iaa := newIntegral(a.w, a.h, func(x, y int) float64 { v := a.pix[y*a.w+x]; return v * v })
	ibb := newIntegral(a.w, a.h, func(x, y int) float64 { v := b.pix[y*b.w+x]; return v * v })
	iab := newIntegral(a.w, a.h, func(x, y int) float64 { return a.pix[y*a.w+x] * b.pix[y*b.w+x] })

	const (
		c1 = (ssimK1 * ssimL) * (ssimK1 * ssimL)
		c2 = (ssimK2 * ssimL) * (ssimK2 * ssimL)
	)

	n := float64(win * win)
	norm := n / (n - 1)
	if win == 1 {
		norm = 0 // degenerate single-pixel window has no variance
	}

	var total float64
	var count int
	for y := 0; y+win <= a.h; y++ {
		for x := 0; x+win <= a.w; x++ {
			sa := ia.window(x, y, win)
			sb := ib.window(x, y, win)
			muA := sa / n
			muB := sb / n

			varA := (iaa.window(x, y, win)/n - muA*muA) * norm
			varB := (ibb.window(x, y, win)/n - muB*muB) * norm
			covAB := (iab.window(x, y, win)/n - muA*muB) * norm

			s := ((2*muA*muB + c1) * (2*covAB + c2)) /
				((muA*muA + muB*muB + c1) * (varA + varB + c2))
			total += s
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}
