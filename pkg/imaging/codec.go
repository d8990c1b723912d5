package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
)

// ErrUnsupportedFormat is returned for files whose extension is not a supported image type.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// SupportedExtensions lists the raw image extensions accepted as case input.
var SupportedExtensions = []string{".tiff", ".tif", ".jpg", ".jpeg", ".png"}

// IsSupported reports whether the file name carries a supported raw image extension.
func IsSupported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Decode reads an image file, picking the decoder from the extension.
func Decode(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		img, err = tiff.Decode(file)
	case ".png":
		img, err = png.Decode(file)
	case ".jpg", ".jpeg":
		img, err = jpeg.Decode(file)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return img, nil
}

// LoadLabel decodes a single-channel image file into a Label.
func LoadLabel(path string) (*Label, error) {
	img, err := Decode(path)
	if err != nil {
		return nil, err
	}
	return LabelFromImage(img)
}

// LoadRGB decodes an image file into an RGB raster.
func LoadRGB(path string) (*RGB, error) {
	img, err := Decode(path)
	if err != nil {
		return nil, err
	}
	return RGBFromImage(img), nil
}

// WriteTIFF encodes the raster as a deflate-compressed TIFF. The file is written
// next to its destination and renamed into place, so a reader never observes a
// partially written artifact.
func WriteTIFF(path string, r Raster) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	if err := tiff.Encode(tmp, r.ToImage(), &tiff.Options{Compression: tiff.Deflate}); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
