//go:build !gocv

package imgproc

import "her2dish/pkg/imaging"

// OpenCVAccelerated reports whether smoothing, dilation and labelling run in OpenCV.
const OpenCVAccelerated = false

func gaussianFilter(src []float64, width, height int, _ float64, kernel []float64) []float64 {
	return separableGaussian(src, width, height, kernel)
}

func dilateMask(mask []bool, width, height int, distance float64) []bool {
	return dilateDisk(mask, width, height, distance)
}

func connectedComponents(mask *imaging.Label) Components {
	return floodLabel(mask)
}
