package segment

import (
	"context"

	"her2dish/pkg/imaging"
	"her2dish/pkg/imgproc"
)

// Threshold segments cells by Otsu thresholding of the smoothed gray image.
// Cells are taken to be darker than the background unless Bright is set.
type Threshold struct {
	// Sigma smooths the gray image before thresholding. Zero disables smoothing.
	Sigma float64

	// MinArea drops blobs smaller than this many pixels.
	MinArea int

	// Expand grows every cell into the background by this many pixels.
	Expand float64

	Bright bool
}

// NewThreshold returns the defaults used by the pipeline.
func NewThreshold() *Threshold {
	return &Threshold{Sigma: 1, MinArea: 20, Expand: 2}
}

// Segment implements Segmenter. The model argument is ignored.
func (t *Threshold) Segment(ctx context.Context, cleaned *imaging.RGB, _ Model) (*imaging.Label, error) {
	gray := imgproc.Gray(cleaned)
	if t.Sigma > 0 {
		src := make([]float64, len(gray))
		for i, v := range gray {
			src[i] = float64(v)
		}
		smooth := imgproc.GaussianFilter(src, cleaned.Width, cleaned.Height, t.Sigma)
		for i, v := range smooth {
			gray[i] = uint8(v + 0.5)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	level := imgproc.OtsuThreshold(gray)
	fg := imaging.NewLabel(cleaned.Width, cleaned.Height)
	for i, v := range gray {
		if (v > level) == t.Bright {
			fg.Pix[i] = 1
		}
	}

	return t.label(fg), nil
}

// label numbers the foreground blobs of at least MinArea pixels from 1 in
// raster order and grows them by Expand.
func (t *Threshold) label(fg *imaging.Label) *imaging.Label {
	comps := imgproc.ConnectedComponents(fg)
	sizes := make([]int, comps.Count+1)
	for _, id := range comps.Labels {
		sizes[id]++
	}

	ids := make([]uint16, comps.Count+1)
	var next uint16
	for id := 1; id <= comps.Count && next < 65535; id++ {
		if sizes[id] >= t.MinArea {
			next++
			ids[id] = next
		}
	}

	cells := imaging.NewLabel(fg.Width, fg.Height)
	for p, id := range comps.Labels {
		cells.Pix[p] = ids[id]
	}
	if t.Expand > 0 {
		cells = imgproc.ExpandLabels(cells, t.Expand)
	}
	return cells
}
