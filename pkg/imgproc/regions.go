package imgproc

import (
	"image"
	"math"
	"sort"

	"her2dish/pkg/imaging"
)

// Region describes one labelled region of a label image.
type Region struct {
	Label     int
	Area      int
	Bounds    image.Rectangle
	Perimeter float64
}

// perimeterWeights maps the neighbourhood code of a boundary pixel to its length
// contribution: straight runs count 1, diagonal steps sqrt(2) and corners the
// mean of the two.
var perimeterWeights = func() [50]float64 {
	var w [50]float64
	for _, i := range []int{5, 7, 15, 17, 25, 27} {
		w[i] = 1
	}
	w[21], w[33] = math.Sqrt2, math.Sqrt2
	w[13], w[23] = (1+math.Sqrt2)/2, (1+math.Sqrt2)/2
	return w
}()

// Regions returns the properties of every non-zero label, sorted by label.
func Regions(labels *imaging.Label) []Region {
	w, h := labels.Width, labels.Height
	byLabel := make(map[int]*Region)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			id := int(labels.Pix[y*w+x])
			if id == 0 {
				continue
			}
			r, ok := byLabel[id]
			if !ok {
				r = &Region{Label: id, Bounds: image.Rect(x, y, x+1, y+1)}
				byLabel[id] = r
			}
			r.Area++
			r.Bounds = r.Bounds.Union(image.Rect(x, y, x+1, y+1))
		}
	}

	regions := make([]Region, 0, len(byLabel))
	for _, r := range byLabel {
		r.Perimeter = perimeter(labels, r.Label, r.Bounds)
		regions = append(regions, *r)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].Label < regions[j].Label })
	return regions
}

// Areas returns the pixel count of every label value present, background included.
func Areas(labels *imaging.Label) map[int]int {
	areas := make(map[int]int)
	for _, v := range labels.Pix {
		areas[int(v)]++
	}
	return areas
}

// perimeter estimates the boundary length of one region using a 4-connected
// boundary and weighted neighbourhood codes.
func perimeter(labels *imaging.Label, id int, bounds image.Rectangle) float64 {
	inside := func(x, y int) bool {
		if x < bounds.Min.X || y < bounds.Min.Y || x >= bounds.Max.X || y >= bounds.Max.Y {
			return false
		}
		return int(labels.Pix[y*labels.Width+x]) == id
	}

	// A pixel is on the boundary when it belongs to the region and at least one
	// 4-neighbour does not.
	border := func(x, y int) bool {
		if !inside(x, y) {
			return false
		}
		return !(inside(x-1, y) && inside(x+1, y) && inside(x, y-1) && inside(x, y+1))
	}

	var total float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if !border(x, y) {
				continue
			}
			code := 1
			for _, n := range [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
				if border(x+n[0], y+n[1]) {
					code += 2
				}
			}
			for _, n := range [][2]int{{-1, -1}, {1, -1}, {-1, 1}, {1, 1}} {
				if border(x+n[0], y+n[1]) {
					code += 10
				}
			}
			total += perimeterWeights[code]
		}
	}
	return total
}
