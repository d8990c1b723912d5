//go:build gocv

package imgproc

import (
	"image"

	"gocv.io/x/gocv"

	"her2dish/pkg/imaging"
)

// OpenCVAccelerated reports whether smoothing, dilation and labelling run in OpenCV.
const OpenCVAccelerated = true

func gaussianFilter(src []float64, width, height int, sigma float64, kernel []float64) []float64 {
	in := gocv.NewMatWithSize(height, width, gocv.MatTypeCV64F)
	defer in.Close()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			in.SetDoubleAt(y, x, src[y*width+x])
		}
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	size := len(kernel)
	gocv.GaussianBlur(in, &blurred, image.Pt(size, size), sigma, sigma, gocv.BorderReflect)

	out := make([]float64, len(src))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out[y*width+x] = blurred.GetDoubleAt(y, x)
		}
	}
	return out
}

// diskElement builds the structuring element matching diskOffsets.
func diskElement(distance float64) gocv.Mat {
	r := int(distance)
	element := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 2*r+1, 2*r+1, gocv.MatTypeCV8U)
	for _, o := range diskOffsets(distance) {
		element.SetUCharAt(o.dy+r, o.dx+r, 1)
	}
	return element
}

func dilateMask(mask []bool, width, height int, distance float64) []bool {
	in := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8U)
	defer in.Close()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var v uint8
			if mask[y*width+x] {
				v = 255
			}
			in.SetUCharAt(y, x, v)
		}
	}

	element := diskElement(distance)
	defer element.Close()
	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(in, &dilated, element)

	out := make([]bool, len(mask))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out[y*width+x] = dilated.GetUCharAt(y, x) != 0
		}
	}
	return out
}

func connectedComponents(mask *imaging.Label) Components {
	w, h := mask.Width, mask.Height
	in := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8U)
	defer in.Close()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v uint8
			if mask.Pix[y*w+x] != 0 {
				v = 255
			}
			in.SetUCharAt(y, x, v)
		}
	}

	labels := gocv.NewMat()
	defer labels.Close()
	n := gocv.ConnectedComponentsWithParams(in, &labels, 4, gocv.MatTypeCV32S, gocv.CCL_DEFAULT)

	// OpenCV does not promise raster numbering, so ids are reassigned in
	// order of first appearance.
	ids := make([]int32, n)
	var next int32
	out := make([]int32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			id := labels.GetIntAt(y, x)
			if id == 0 {
				continue
			}
			if ids[id] == 0 {
				next++
				ids[id] = next
			}
			out[y*w+x] = ids[id]
		}
	}
	return Components{Labels: out, Count: int(next), Width: w, Height: h}
}
