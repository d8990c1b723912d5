//go:build gocv

package segment

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"her2dish/pkg/imaging"
	"her2dish/pkg/imgproc"
)

// OpenCVAvailable reports whether the binary was built with OpenCV support.
const OpenCVAvailable = true

// CV segments cells with OpenCV: Gaussian blur, inverted Otsu threshold,
// morphological opening and connected components.
type CV struct {
	MinArea int
	Expand  float64
}

// NewOpenCV returns the OpenCV segmenter with pipeline defaults.
func NewOpenCV() Segmenter {
	return &CV{MinArea: 20, Expand: 2}
}

// Segment implements Segmenter. The model argument is ignored.
func (c *CV) Segment(ctx context.Context, cleaned *imaging.RGB, _ Model) (*imaging.Label, error) {
	bgr := make([]byte, len(cleaned.Pix))
	for p := 0; p < cleaned.Width*cleaned.Height; p++ {
		bgr[p*3] = cleaned.Pix[p*3+2]
		bgr[p*3+1] = cleaned.Pix[p*3+1]
		bgr[p*3+2] = cleaned.Pix[p*3]
	}
	src, err := gocv.NewMatFromBytes(cleaned.Height, cleaned.Width, gocv.MatTypeCV8UC3, bgr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(blurred, &binary, 0, 255, gocv.ThresholdBinaryInv+gocv.ThresholdOtsu)

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(3, 3))
	defer kernel.Close()
	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(binary, &opened, gocv.MorphOpen, kernel)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	labels := gocv.NewMat()
	defer labels.Close()
	n := gocv.ConnectedComponents(opened, &labels)

	sizes := make([]int, n)
	for y := 0; y < cleaned.Height; y++ {
		for x := 0; x < cleaned.Width; x++ {
			sizes[labels.GetIntAt(y, x)]++
		}
	}
	ids := make([]uint16, n)
	var next uint16
	for id := 1; id < n && next < 65535; id++ {
		if sizes[id] >= c.MinArea {
			next++
			ids[id] = next
		}
	}

	cells := imaging.NewLabel(cleaned.Width, cleaned.Height)
	for y := 0; y < cleaned.Height; y++ {
		for x := 0; x < cleaned.Width; x++ {
			cells.Set(x, y, ids[labels.GetIntAt(y, x)])
		}
	}
	if c.Expand > 0 {
		cells = imgproc.ExpandLabels(cells, c.Expand)
	}
	return cells, nil
}
