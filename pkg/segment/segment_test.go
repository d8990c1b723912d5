package segment

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"testing"

	"her2dish/pkg/imaging"
)

// createCells draws dark square "cells" of the given size on a light background.
func createCells(width, height, size int, corners ...[2]int) *imaging.RGB {
	img := imaging.NewRGB(width, height)
	for i := range img.Pix {
		img.Pix[i] = 220
	}
	for _, c := range corners {
		for y := c[1]; y < c[1]+size; y++ {
			for x := c[0]; x < c[0]+size; x++ {
				img.Set(x, y, 60, 40, 120)
			}
		}
	}
	return img
}

func TestParseModel(t *testing.T) {
	tests := []struct {
		in   string
		want Model
		ok   bool
	}{
		{"StarDist", StarDist, true},
		{"cellpose", Cellpose, true},
		{" OTSU ", Otsu, true},
		{"opencv", OpenCV, true},
		{"unet", "", false},
	}
	for _, tt := range tests {
		got, err := ParseModel(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseModel(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestThresholdSegment(t *testing.T) {
	img := createCells(40, 30, 8, [2]int{3, 3}, [2]int{25, 15})
	// A speck below the minimum area.
	img.Set(35, 2, 60, 40, 120)

	seg := &Threshold{MinArea: 20, Expand: 2}
	cells, err := seg.Segment(context.Background(), img, Otsu)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cells.Max() != 2 {
		t.Fatalf("Expected 2 cells, got max label %d", cells.Max())
	}
	if cells.At(6, 6) != 1 || cells.At(28, 18) != 2 {
		t.Errorf("Cells not labelled in raster order")
	}
	if cells.At(35, 2) != 0 {
		t.Error("Speck was kept")
	}
	// Expanded by 2 pixels into the background.
	if cells.At(1, 6) != 1 || cells.At(0, 6) != 0 {
		t.Error("Unexpected expansion")
	}
}

func TestSelector(t *testing.T) {
	s := Selector{Otsu: NewThreshold()}
	img := createCells(20, 20, 8, [2]int{5, 5})

	if _, err := s.Segment(context.Background(), img, Otsu); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := s.Segment(context.Background(), img, Cellpose); !errors.Is(err, ErrModelLoad) {
		t.Fatalf("Expected ErrModelLoad, got %v", err)
	}
}

func TestOpenCVUnavailable(t *testing.T) {
	if OpenCVAvailable {
		t.Skip("built with OpenCV")
	}
	if _, err := NewOpenCV().Segment(context.Background(), imaging.NewRGB(2, 2), OpenCV); !errors.Is(err, ErrModelLoad) {
		t.Fatalf("Expected ErrModelLoad, got %v", err)
	}
}

func TestExecSegment(t *testing.T) {
	cp, err := exec.LookPath("cp")
	if err != nil {
		t.Skip("cp not available")
	}

	dir := t.TempDir()
	prepared := filepath.Join(dir, "nuclei.tif")
	nuclei := imaging.NewLabel(9, 1)
	nuclei.Set(4, 0, 5)
	if err := imaging.WriteTIFF(prepared, nuclei); err != nil {
		t.Fatal(err)
	}

	e := NewExec([]string{cp, prepared, "{output}"})

	// StarDist nuclei are grown into the cytoplasm.
	cells, err := e.Segment(context.Background(), imaging.NewRGB(9, 1), StarDist)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := []uint16{0, 0, 5, 5, 5, 5, 5, 0, 0}
	for i := range want {
		if cells.Pix[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, cells.Pix)
		}
	}

	// Cellpose masks are used as returned.
	cells, err = e.Segment(context.Background(), imaging.NewRGB(9, 1), Cellpose)
	if err != nil {
		t.Fatal(err)
	}
	if cells.At(3, 0) != 0 {
		t.Error("Cellpose mask was expanded")
	}

	e.Weights[Cellpose] = filepath.Join(dir, "missing.pth")
	if _, err := e.Segment(context.Background(), imaging.NewRGB(9, 1), Cellpose); !errors.Is(err, ErrModelLoad) {
		t.Errorf("Expected ErrModelLoad for missing weights, got %v", err)
	}
	if _, err := e.Segment(context.Background(), imaging.NewRGB(9, 1), Otsu); !errors.Is(err, ErrModelLoad) {
		t.Errorf("Expected ErrModelLoad for unconfigured model, got %v", err)
	}
}
