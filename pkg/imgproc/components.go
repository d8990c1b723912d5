package imgproc

import (
	"her2dish/pkg/imaging"
)

// Point is a sub-pixel image position.
type Point struct {
	Row float64
	Col float64
}

// Components is the result of connected-component labelling.
// Labels holds one id per pixel (0 = background, 1..Count = components).
type Components struct {
	Labels []int32
	Count  int
	Width  int
	Height int
}

// ConnectedComponents labels the non-zero pixels of mask using 4-connectivity.
// Components are numbered in raster order of their first pixel.
func ConnectedComponents(mask *imaging.Label) Components {
	if mask.Width == 0 || mask.Height == 0 {
		return Components{Labels: []int32{}, Width: mask.Width, Height: mask.Height}
	}
	return connectedComponents(mask)
}

func floodLabel(mask *imaging.Label) Components {
	w, h := mask.Width, mask.Height
	labels := make([]int32, w*h)
	var next int32
	queue := make([]int, 0, 64)

	for start, v := range mask.Pix {
		if v == 0 || labels[start] != 0 {
			continue
		}
		next++
		labels[start] = next
		queue = append(queue[:0], start)

		for len(queue) > 0 {
			p := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := p%w, p/w

			if x > 0 {
				queue = visit(mask, labels, queue, p-1, next)
			}
			if x < w-1 {
				queue = visit(mask, labels, queue, p+1, next)
			}
			if y > 0 {
				queue = visit(mask, labels, queue, p-w, next)
			}
			if y < h-1 {
				queue = visit(mask, labels, queue, p+w, next)
			}
		}
	}

	return Components{Labels: labels, Count: int(next), Width: w, Height: h}
}

func visit(mask *imaging.Label, labels []int32, queue []int, p int, id int32) []int {
	if mask.Pix[p] != 0 && labels[p] == 0 {
		labels[p] = id
		queue = append(queue, p)
	}
	return queue
}

// CenterOfMass returns the intensity-weighted centre of every component, in
// component order. Weights are the mask values, so uniform masks yield plain
// centroids.
func CenterOfMass(mask *imaging.Label, comps Components) []Point {
	sumW := make([]float64, comps.Count+1)
	sumR := make([]float64, comps.Count+1)
	sumC := make([]float64, comps.Count+1)

	for p, id := range comps.Labels {
		if id == 0 {
			continue
		}
		wgt := float64(mask.Pix[p])
		sumW[id] += wgt
		sumR[id] += wgt * float64(p/comps.Width)
		sumC[id] += wgt * float64(p%comps.Width)
	}

	centers := make([]Point, comps.Count)
	for id := 1; id <= comps.Count; id++ {
		if sumW[id] == 0 {
			continue
		}
		centers[id-1] = Point{Row: sumR[id] / sumW[id], Col: sumC[id] / sumW[id]}
	}
	return centers
}

// Centers labels mask and returns the centre of mass of each connected signal.
func Centers(mask *imaging.Label) []Point {
	return CenterOfMass(mask, ConnectedComponents(mask))
}
