// Package imgproc holds the pixel-level operations shared by the pipeline stages and
// the scoring engine: smoothing, connected components, morphology, region properties
// and overlay composition. All operations work on row-major buffers and never modify
// their inputs.
package imgproc

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// GaussianKernel returns the normalised 1D kernel for sigma, truncated at four
// standard deviations. The kernel has 2*radius+1 taps with radius int(4*sigma+0.5).
func GaussianKernel(sigma float64) []float64 {
	radius := int(4*sigma + 0.5)
	if sigma <= 0 || radius < 1 {
		return []float64{1}
	}

	kernel := make([]float64, 2*radius+1)
	s2 := sigma * sigma
	for i := -radius; i <= radius; i++ {
		kernel[i+radius] = math.Exp(-0.5 * float64(i*i) / s2)
	}
	floats.Scale(1/floats.Sum(kernel), kernel)
	return kernel
}

// reflectIndex maps i into [0, n) using half-sample symmetric extension
// (d c b a | a b c d | d c b a), repeating as often as needed.
func reflectIndex(i, n int) int {
	period := 2 * n
	m := i % period
	if m < 0 {
		m += period
	}
	if m >= n {
		m = period - m - 1
	}
	return m
}

// convolve1D filters src (length n) with a symmetric kernel and writes into dst.
// buf must hold n+len(kernel)-1 values.
func convolve1D(dst, src, kernel, buf []float64) {
	n := len(src)
	radius := len(kernel) / 2
	for i := range buf {
		buf[i] = src[reflectIndex(i-radius, n)]
	}
	for i := 0; i < n; i++ {
		dst[i] = floats.Dot(kernel, buf[i:i+len(kernel)])
	}
}

// GaussianFilter smooths a width x height image with an isotropic Gaussian of the
// given sigma, with reflected borders. Builds tagged gocv run the filter in OpenCV.
func GaussianFilter(src []float64, width, height int, sigma float64) []float64 {
	kernel := GaussianKernel(sigma)
	if len(kernel) == 1 || width == 0 || height == 0 {
		out := make([]float64, len(src))
		copy(out, src)
		return out
	}
	return gaussianFilter(src, width, height, sigma, kernel)
}

// separableGaussian applies kernel first along columns then along rows.
func separableGaussian(src []float64, width, height int, kernel []float64) []float64 {
	out := make([]float64, len(src))
	copy(out, src)

	// Along y
	col := make([]float64, height)
	colOut := make([]float64, height)
	buf := make([]float64, height+len(kernel)-1)
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			col[y] = out[y*width+x]
		}
		convolve1D(colOut, col, kernel, buf)
		for y := 0; y < height; y++ {
			out[y*width+x] = colOut[y]
		}
	}

	// Along x
	row := make([]float64, width)
	buf = make([]float64, width+len(kernel)-1)
	for y := 0; y < height; y++ {
		copy(row, out[y*width:(y+1)*width])
		convolve1D(out[y*width:(y+1)*width], row, kernel, buf)
	}

	return out
}
