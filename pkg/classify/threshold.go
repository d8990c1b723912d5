package classify

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"her2dish/pkg/imaging"
	"her2dish/pkg/imgproc"
)

// ColorRange is an inclusive HSV box. Hue is in [0, 180), saturation and value
// in [0, 255].
type ColorRange struct {
	Hue        [2]float64 `yaml:"hue"`
	Saturation [2]float64 `yaml:"saturation"`
	Value      [2]float64 `yaml:"value"`
}

// Contains reports whether the HSV triple lies inside the range. A hue range
// whose lower bound exceeds its upper bound wraps around 180.
func (r ColorRange) Contains(h, s, v float64) bool {
	if s < r.Saturation[0] || s > r.Saturation[1] || v < r.Value[0] || v > r.Value[1] {
		return false
	}
	if r.Hue[0] <= r.Hue[1] {
		return h >= r.Hue[0] && h <= r.Hue[1]
	}
	return h >= r.Hue[0] || h <= r.Hue[1]
}

// ThresholdModel is the YAML model file read by Threshold.
type ThresholdModel struct {
	Signal string       `yaml:"signal"`
	Ranges []ColorRange `yaml:"ranges"`

	// MinArea drops connected signal blobs smaller than this many pixels.
	MinArea int `yaml:"minArea"`
}

// LoadThresholdModel reads and checks a model file.
func LoadThresholdModel(path string) (*ThresholdModel, error) {
	if err := checkModel(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelLoad, path, err)
	}

	var m ThresholdModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelLoad, path, err)
	}
	if len(m.Ranges) == 0 {
		return nil, fmt.Errorf("%w: %s defines no color ranges", ErrModelLoad, path)
	}
	return &m, nil
}

// Threshold classifies pixels by HSV color ranges read from a YAML model.
// It needs no external runtime.
type Threshold struct{}

// Classify implements Classifier.
func (Threshold) Classify(ctx context.Context, raw *imaging.RGB, modelPath string) (*imaging.Label, error) {
	model, err := LoadThresholdModel(modelPath)
	if err != nil {
		return nil, err
	}

	mask := imaging.NewLabel(raw.Width, raw.Height)
	for y := 0; y < raw.Height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x < raw.Width; x++ {
			h, s, v := imgproc.RGBToHSV(raw.At(x, y))
			for _, r := range model.Ranges {
				if r.Contains(h, s, v) {
					mask.Set(x, y, SignalValue)
					break
				}
			}
		}
	}

	if model.MinArea > 1 {
		removeSmall(mask, model.MinArea)
	}
	return mask, nil
}

// removeSmall clears connected blobs with fewer than minArea pixels.
func removeSmall(mask *imaging.Label, minArea int) {
	comps := imgproc.ConnectedComponents(mask)
	sizes := make([]int, comps.Count+1)
	for _, id := range comps.Labels {
		sizes[id]++
	}
	for p, id := range comps.Labels {
		if id != 0 && sizes[id] < minArea {
			mask.Pix[p] = 0
		}
	}
}
