// Package segment produces labelled cell masks from signal-free images. Each
// cell gets its own id; 0 is background.
package segment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"her2dish/internal/runner"
	"her2dish/pkg/imaging"
	"her2dish/pkg/imgproc"
)

// ErrModelLoad is returned when a segmentation model cannot be found or loaded.
var ErrModelLoad = errors.New("failed to load model")

// Model selects a segmentation strategy.
type Model string

const (
	StarDist Model = "stardist"
	Cellpose Model = "cellpose"
	Otsu     Model = "otsu"
	OpenCV   Model = "opencv"
)

// ParseModel resolves a case-insensitive model name.
func ParseModel(s string) (Model, error) {
	m := Model(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case StarDist, Cellpose, Otsu, OpenCV:
		return m, nil
	}
	return "", fmt.Errorf("unknown segmentation model %q", s)
}

// Segmenter labels the cells of a cleaned image. Implementations are safe for
// concurrent use across images.
type Segmenter interface {
	Segment(ctx context.Context, cleaned *imaging.RGB, model Model) (*imaging.Label, error)
}

// StarDistExpand is the distance StarDist nuclei are grown by to cover the cytoplasm.
const StarDistExpand = 2

// Exec runs an external neural segmentation process, one process per image.
type Exec struct {
	Command runner.Command

	// Weights maps each model to the value substituted for {model}: a
	// pretrained model name or a weights file.
	Weights map[Model]string
}

// NewExec returns an Exec with the pretrained model names used by default.
func NewExec(args []string) *Exec {
	return &Exec{
		Command: runner.Command{Args: args},
		Weights: map[Model]string{
			StarDist: "2D_versatile_he",
			Cellpose: "cyto3",
		},
	}
}

// Segment implements Segmenter.
func (e *Exec) Segment(ctx context.Context, cleaned *imaging.RGB, model Model) (*imaging.Label, error) {
	weights, ok := e.Weights[model]
	if !ok {
		return nil, fmt.Errorf("%w: no weights configured for %s", ErrModelLoad, model)
	}
	if isPath(weights) {
		if _, err := os.Stat(weights); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrModelLoad, weights, err)
		}
	}

	cells, err := e.Command.Run(ctx, cleaned, weights)
	if err != nil {
		return nil, fmt.Errorf("segmenter %s: %w", model, err)
	}
	if model == StarDist {
		cells = imgproc.ExpandLabels(cells, StarDistExpand)
	}
	return cells, nil
}

func isPath(s string) bool {
	return filepath.Ext(s) != "" || strings.ContainsRune(s, filepath.Separator)
}

// Selector dispatches to the Segmenter registered for each model.
type Selector map[Model]Segmenter

// Segment implements Segmenter.
func (s Selector) Segment(ctx context.Context, cleaned *imaging.RGB, model Model) (*imaging.Label, error) {
	seg, ok := s[model]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not available", ErrModelLoad, model)
	}
	return seg.Segment(ctx, cleaned, model)
}
