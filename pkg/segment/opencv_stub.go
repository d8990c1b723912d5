//go:build !gocv

package segment

import (
	"context"
	"fmt"

	"her2dish/pkg/imaging"
)

// OpenCVAvailable reports whether the binary was built with OpenCV support.
const OpenCVAvailable = false

type unavailable struct{}

// NewOpenCV returns a segmenter that always fails; build with -tags gocv for OpenCV support.
func NewOpenCV() Segmenter {
	return unavailable{}
}

func (unavailable) Segment(context.Context, *imaging.RGB, Model) (*imaging.Label, error) {
	return nil, fmt.Errorf("%w: built without OpenCV support", ErrModelLoad)
}
