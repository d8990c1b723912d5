package imgproc

import (
	"sort"

	"her2dish/pkg/imaging"
)

type offset struct {
	dx, dy int
	d2     int
}

// diskOffsets returns every offset within Euclidean distance of the origin, sorted
// by distance, then row, then column.
func diskOffsets(distance float64) []offset {
	r := int(distance)
	limit := distance * distance
	var offs []offset
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			d2 := dx*dx + dy*dy
			if float64(d2) <= limit {
				offs = append(offs, offset{dx: dx, dy: dy, d2: d2})
			}
		}
	}
	sort.SliceStable(offs, func(i, j int) bool {
		if offs[i].d2 != offs[j].d2 {
			return offs[i].d2 < offs[j].d2
		}
		if offs[i].dy != offs[j].dy {
			return offs[i].dy < offs[j].dy
		}
		return offs[i].dx < offs[j].dx
	})
	return offs
}

// Union returns a mask that is non-zero wherever any of the inputs is non-zero.
// All masks must share the same dimensions.
func Union(masks ...*imaging.Label) []bool {
	if len(masks) == 0 {
		return nil
	}
	out := make([]bool, len(masks[0].Pix))
	for _, m := range masks {
		for i, v := range m.Pix {
			if v != 0 {
				out[i] = true
			}
		}
	}
	return out
}

// DilateMask grows a binary mask by a Euclidean disk of the given radius.
func DilateMask(mask []bool, width, height int, distance float64) []bool {
	if width == 0 || height == 0 || distance < 1 {
		out := make([]bool, len(mask))
		copy(out, mask)
		return out
	}
	return dilateMask(mask, width, height, distance)
}

func dilateDisk(mask []bool, width, height int, distance float64) []bool {
	out := make([]bool, len(mask))
	offs := diskOffsets(distance)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if !mask[y*width+x] {
				continue
			}
			for _, o := range offs {
				nx, ny := x+o.dx, y+o.dy
				if nx < 0 || ny < 0 || nx >= width || ny >= height {
					continue
				}
				out[ny*width+nx] = true
			}
		}
	}
	return out
}

// ExpandLabels grows every labelled region into the surrounding background by up
// to distance pixels. A background pixel takes the label of its nearest labelled
// neighbour, so regions never overlap; existing labels are left untouched.
func ExpandLabels(labels *imaging.Label, distance float64) *imaging.Label {
	out := labels.Clone()
	w, h := labels.Width, labels.Height
	offs := diskOffsets(distance)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if labels.Pix[y*w+x] != 0 {
				continue
			}
			for _, o := range offs {
				nx, ny := x+o.dx, y+o.dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				if v := labels.Pix[ny*w+nx]; v != 0 {
					out.Pix[y*w+x] = v
					break
				}
			}
		}
	}
	return out
}
