// Package visualization crops review images of single cells out of a
// processed container: the raw image with the cell boundary drawn in, and the
// same crop with the signal masks blended on top.
package visualization

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"her2dish/internal/models"
	"her2dish/pkg/cargo"
	"her2dish/pkg/imaging"
	"her2dish/pkg/imgproc"
)

// ErrNoRegion is returned when a cell label does not occur in the cell mask.
var ErrNoRegion = errors.New("no region for label")

// DefaultExtend is the margin kept around a cell's bounding box.
const DefaultExtend = 10

// Viewer extracts cell crops from one container.
type Viewer struct {
	name  string
	raw   *imaging.RGB
	her2  *imaging.Label
	chr17 *imaging.Label
	cells *imaging.Label

	// extend is the margin, in pixels, around each cropped cell
	extend int
}

// NewViewer loads the artifacts needed for cell crops. The container must
// hold raw, her2, chr17 and cell.
func NewViewer(c *cargo.Container, extend int) (*Viewer, error) {
	raw, err := c.Color(cargo.Raw)
	if err != nil {
		return nil, err
	}
	her2, err := c.Label(cargo.HER2)
	if err != nil {
		return nil, err
	}
	chr17, err := c.Label(cargo.Chr17)
	if err != nil {
		return nil, err
	}
	cells, err := c.Label(cargo.Cell)
	if err != nil {
		return nil, err
	}

	return &Viewer{
		name:   c.Name(),
		raw:    raw,
		her2:   her2,
		chr17:  chr17,
		cells:  cells,
		extend: extend,
	}, nil
}

// CropRegion returns the bounding box of one cell grown by extend pixels on
// every side and clamped to the image.
func CropRegion(cells *imaging.Label, label int, extend int) (image.Rectangle, error) {
	bounds := image.Rectangle{}
	found := false
	for y := 0; y < cells.Height; y++ {
		for x := 0; x < cells.Width; x++ {
			if int(cells.Pix[y*cells.Width+x]) != label {
				continue
			}
			px := image.Rect(x, y, x+1, y+1)
			if !found {
				bounds, found = px, true
			} else {
				bounds = bounds.Union(px)
			}
		}
	}
	if !found || label == 0 {
		return image.Rectangle{}, fmt.Errorf("%w %d", ErrNoRegion, label)
	}

	return bounds.Inset(-extend).Intersect(image.Rect(0, 0, cells.Width, cells.Height)), nil
}

// ExtractCell returns the review crops of one cell.
func (v *Viewer) ExtractCell(label int) (cargo.CellImage, error) {
	rect, err := CropRegion(v.cells, label, v.extend)
	if err != nil {
		return cargo.CellImage{}, fmt.Errorf("%s: %w", v.name, err)
	}

	boundary := v.raw.Crop(rect)
	cells := v.cells.Crop(rect)
	for y := 0; y < cells.Height; y++ {
		for x := 0; x < cells.Width; x++ {
			if isBoundary(cells, x, y, uint16(label)) {
				boundary.Set(x, y, imgproc.Yellow[0], imgproc.Yellow[1], imgproc.Yellow[2])
			}
		}
	}

	overlay := imgproc.Overlay(boundary, v.her2.Crop(rect), imgproc.Green, 0.5)
	overlay = imgproc.Overlay(overlay, v.chr17.Crop(rect), imgproc.Orange, 0.5)

	return cargo.CellImage{Raw: boundary, Overlay: overlay}, nil
}

// isBoundary reports whether (x, y) belongs to the cell and touches a pixel
// that does not. Pixels on the crop edge count as boundary.
func isBoundary(cells *imaging.Label, x, y int, id uint16) bool {
	if cells.At(x, y) != id {
		return false
	}
	for _, d := range [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		nx, ny := x+d[0], y+d[1]
		if nx < 0 || ny < 0 || nx >= cells.Width || ny >= cells.Height {
			return true
		}
		if cells.At(nx, ny) != id {
			return true
		}
	}
	return false
}

// SaveCell writes both crops of a cell as JPEG images named after the cell.
func SaveCell(img cargo.CellImage, name, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}
	if err := saveJPEG(img.Raw, filepath.Join(outputDir, name+".jpg")); err != nil {
		return err
	}
	return saveJPEG(img.Overlay, filepath.Join(outputDir, name+"_overlay.jpg"))
}

func saveJPEG(img *imaging.RGB, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img.ToImage(), &jpeg.Options{Quality: 90})
}

// SaveCellSequence writes the crops of every confirmed cell of a case into outputDir.
func SaveCellSequence(cells []models.FinalCell, images map[string]cargo.CellImage, outputDir string) error {
	for _, cell := range cells {
		img, ok := images[cell.Name]
		if !ok || img.Raw == nil || img.Overlay == nil {
			continue
		}
		if err := SaveCell(img, cell.Name, outputDir); err != nil {
			return fmt.Errorf("failed to save %s: %w", cell.Name, err)
		}
	}
	return nil
}
