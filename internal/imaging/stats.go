package imaging

import (
	"image"
	"math"
)

// Gray is an 8-bit luma plane stored row-major.
type Gray struct {
	W, H int
	Pix  []float64
}

// At returns the luma at x, y.
func (g *Gray) At(x, y int) float64 {
	return g.Pix[y*g.W+x]
}

// ToGray converts an image to luma using the ITU-R BT.601 weights.
func ToGray(img image.Image) *Gray {
	b := img.Bounds()
	g := &Gray{W: b.Dx(), H: b.Dy(), Pix: make([]float64, b.Dx()*b.Dy())}
	for y := range g.H {
		for x := range g.W {
			r, gg, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			g.Pix[y*g.W+x] = 0.299*float64(r>>8) + 0.587*float64(gg>>8) + 0.114*float64(bb>>8)
		}
	}
	return g
}

// MeanStd returns the mean and population standard deviation of the plane.
func (g *Gray) MeanStd() (mean, std float64) {
	n := float64(len(g.Pix))
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range g.Pix {
		sum += v
	}
	mean = sum / n
	var sq float64
	for _, v := range g.Pix {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}

// LaplacianVariance returns the variance of the 3x3 Laplacian response over
// the interior pixels. Sharp images score high; blurred ones score low.
func (g *Gray) LaplacianVariance() float64 {
	if g.W < 3 || g.H < 3 {
		return 0
	}
	n := float64((g.W - 2) * (g.H - 2))
	var sum, sq float64
	for y := 1; y < g.H-1; y++ {
		for x := 1; x < g.W-1; x++ {
			l := g.At(x-1, y) + g.At(x+1, y) + g.At(x, y-1) + g.At(x, y+1) - 4*g.At(x, y)
			sum += l
			sq += l * l
		}
	}
	mean := sum / n
	return sq/n - mean*mean
}
