package imgproc

import (
	"math"
	"testing"

	"her2dish/pkg/imaging"
)

// createMask builds a label image with value v at every listed (x, y).
func createMask(width, height int, v uint16, points ...[2]int) *imaging.Label {
	m := imaging.NewLabel(width, height)
	for _, p := range points {
		m.Set(p[0], p[1], v)
	}
	return m
}

func TestGaussianKernelNormalised(t *testing.T) {
	for _, sigma := range []float64{0.5, 1, 2, 50} {
		k := GaussianKernel(sigma)
		if len(k) != 2*int(4*sigma+0.5)+1 {
			t.Errorf("sigma %.1f: unexpected kernel length %d", sigma, len(k))
		}
		sum := 0.0
		for _, v := range k {
			sum += v
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("sigma %.1f: kernel sums to %f", sigma, sum)
		}
	}
}

func TestReflectIndex(t *testing.T) {
	tests := []struct{ i, n, want int }{
		{0, 4, 0}, {3, 4, 3}, {-1, 4, 0}, {-2, 4, 1}, {4, 4, 3}, {5, 4, 2},
		{8, 4, 0}, {-5, 4, 3}, {-9, 4, 0},
	}
	for _, tt := range tests {
		if got := reflectIndex(tt.i, tt.n); got != tt.want {
			t.Errorf("reflectIndex(%d, %d) = %d, want %d", tt.i, tt.n, got, tt.want)
		}
	}
}

func TestGaussianFilterPreservesConstant(t *testing.T) {
	// Kernel radius far exceeds the image, exercising repeated reflection.
	w, h := 6, 4
	src := make([]float64, w*h)
	for i := range src {
		src[i] = 3.5
	}
	out := GaussianFilter(src, w, h, 5)
	for i, v := range out {
		if math.Abs(v-3.5) > 1e-9 {
			t.Fatalf("Pixel %d: expected 3.5, got %f", i, v)
		}
	}
}

func TestGaussianFilterPreservesMass(t *testing.T) {
	w, h := 41, 41
	src := make([]float64, w*h)
	src[20*w+20] = 1
	out := GaussianFilter(src, w, h, 2)

	sum := 0.0
	for _, v := range out {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("Expected mass 1, got %f", sum)
	}
	if out[20*w+20] <= out[20*w+21] {
		t.Errorf("Expected peak at centre")
	}
}

func TestConnectedComponentsFourConnectivity(t *testing.T) {
	// Two diagonal pixels are separate components, a horizontal pair is one.
	mask := createMask(5, 5, 65535, [2]int{0, 0}, [2]int{1, 1}, [2]int{3, 3}, [2]int{4, 3})

	comps := ConnectedComponents(mask)
	if comps.Count != 3 {
		t.Fatalf("Expected 3 components, got %d", comps.Count)
	}
	// Raster order of first pixel
	if comps.Labels[0] != 1 || comps.Labels[1*5+1] != 2 || comps.Labels[3*5+3] != 3 {
		t.Errorf("Unexpected labelling order: %v", comps.Labels)
	}
	if comps.Labels[3*5+4] != 3 {
		t.Errorf("Horizontal neighbour not joined")
	}
}

func TestCenters(t *testing.T) {
	mask := createMask(6, 6, 65535,
		[2]int{1, 1}, [2]int{2, 1}, [2]int{1, 2}, [2]int{2, 2}, // 2x2 block
		[2]int{5, 4},
	)
	centers := Centers(mask)
	if len(centers) != 2 {
		t.Fatalf("Expected 2 centers, got %d", len(centers))
	}
	if centers[0].Row != 1.5 || centers[0].Col != 1.5 {
		t.Errorf("Expected (1.5, 1.5), got %+v", centers[0])
	}
	if centers[1].Row != 4 || centers[1].Col != 5 {
		t.Errorf("Expected (4, 5), got %+v", centers[1])
	}
}

func TestRegionsPerimeter(t *testing.T) {
	labels := imaging.NewLabel(10, 10)
	// 3x3 square with label 2
	for y := 2; y < 5; y++ {
		for x := 2; x < 5; x++ {
			labels.Set(x, y, 2)
		}
	}
	// single pixel with label 1
	labels.Set(8, 8, 1)

	regions := Regions(labels)
	if len(regions) != 2 {
		t.Fatalf("Expected 2 regions, got %d", len(regions))
	}
	if regions[0].Label != 1 || regions[1].Label != 2 {
		t.Fatalf("Regions not sorted by label: %+v", regions)
	}
	if regions[0].Area != 1 || regions[0].Perimeter != 0 {
		t.Errorf("Single pixel: expected area 1 perimeter 0, got %+v", regions[0])
	}
	if regions[1].Area != 9 {
		t.Errorf("Square: expected area 9, got %d", regions[1].Area)
	}
	if math.Abs(regions[1].Perimeter-8) > 1e-9 {
		t.Errorf("Square: expected perimeter 8, got %f", regions[1].Perimeter)
	}
	if regions[1].Bounds.Min.X != 2 || regions[1].Bounds.Max.X != 5 {
		t.Errorf("Square: unexpected bounds %v", regions[1].Bounds)
	}
}

func TestDilateMask(t *testing.T) {
	w, h := 9, 9
	mask := make([]bool, w*h)
	mask[4*w+4] = true

	out := DilateMask(mask, w, h, 3)
	count := 0
	for _, v := range out {
		if v {
			count++
		}
	}
	// Lattice points within radius 3 of the origin.
	if count != 29 {
		t.Errorf("Expected 29 pixels, got %d", count)
	}
	if !out[4*w+7] || out[7*w+7] {
		t.Errorf("Unexpected disk shape")
	}
}

func TestExpandLabelsDoesNotOverlap(t *testing.T) {
	labels := imaging.NewLabel(7, 1)
	labels.Set(0, 0, 1)
	labels.Set(6, 0, 2)

	out := ExpandLabels(labels, 2)
	want := []uint16{1, 1, 1, 0, 2, 2, 2}
	for i, v := range want {
		if out.Pix[i] != v {
			t.Fatalf("Expected %v, got %v", want, out.Pix)
		}
	}
	if labels.Pix[1] != 0 {
		t.Error("Input was modified")
	}
}

func TestOverlay(t *testing.T) {
	img := imaging.NewRGB(2, 1)
	img.Set(0, 0, 100, 100, 100)
	img.Set(1, 0, 250, 10, 10)
	mask := createMask(2, 1, 65535, [2]int{0, 0}, [2]int{1, 0})

	out := Overlay(img, mask, Green, 0.5)
	if r, g, b := out.At(0, 0); r != 100 || g != 228 || b != 100 {
		t.Errorf("Expected (100,228,100), got (%d,%d,%d)", r, g, b)
	}
	// Saturation
	if _, g, _ := out.At(1, 0); g != 138 {
		t.Errorf("Expected green 138, got %d", g)
	}

	out = Overlay(img, mask, Orange, 0.5)
	if r, g, b := out.At(1, 0); r != 255 || g != 110 || b != 10 {
		t.Errorf("Expected (255,110,10), got (%d,%d,%d)", r, g, b)
	}
}

func TestBackgroundFill(t *testing.T) {
	// Global mean is 50; only the 0 and 100 pixels deviate by more than 10.
	img := imaging.NewRGB(4, 1)
	img.Set(0, 0, 0, 0, 0)
	img.Set(1, 0, 100, 100, 100)
	img.Set(2, 0, 45, 45, 45)
	img.Set(3, 0, 55, 55, 55)

	fill := BackgroundFill(img, 10)
	if fill != [3]uint8{50, 50, 50} {
		t.Errorf("Expected (50,50,50), got %v", fill)
	}

	flat := imaging.NewRGB(2, 2)
	for i := range flat.Pix {
		flat.Pix[i] = 77
	}
	if fill := BackgroundFill(flat, 10); fill != [3]uint8{77, 77, 77} {
		t.Errorf("Expected global mean for flat image, got %v", fill)
	}
}

func TestOtsuThreshold(t *testing.T) {
	gray := make([]uint8, 0, 200)
	for i := 0; i < 100; i++ {
		gray = append(gray, 20)
		gray = append(gray, 200)
	}
	th := OtsuThreshold(gray)
	if th < 20 || th >= 200 {
		t.Errorf("Expected threshold in [20, 200), got %d", th)
	}
}
