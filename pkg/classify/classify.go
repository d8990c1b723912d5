// Package classify turns a raw image into a binary signal mask for one
// fluorescent channel. Masks use 0 for background and 65535 for signal.
package classify

import (
	"context"
	"errors"
	"fmt"
	"os"

	"her2dish/internal/runner"
	"her2dish/pkg/imaging"
)

// ErrModelLoad is returned when the classifier model cannot be found or read.
var ErrModelLoad = errors.New("failed to load model")

// SignalValue marks signal pixels in a classifier mask.
const SignalValue = 65535

// Classifier produces a signal mask for one channel. Implementations are
// stateless and safe for concurrent use across images.
type Classifier interface {
	Classify(ctx context.Context, raw *imaging.RGB, modelPath string) (*imaging.Label, error)
}

// Exec runs an external pixel classifier process, one process per image.
// The process writes a class mask where class 1 is background and class 2 is
// signal.
type Exec struct {
	Command runner.Command
}

// NewExec returns a classifier running args, see runner.Command for placeholders.
func NewExec(args []string) *Exec {
	return &Exec{Command: runner.Command{Args: args}}
}

// Classify implements Classifier.
func (e *Exec) Classify(ctx context.Context, raw *imaging.RGB, modelPath string) (*imaging.Label, error) {
	if err := checkModel(modelPath); err != nil {
		return nil, err
	}
	classes, err := e.Command.Run(ctx, raw, modelPath)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	return MapClasses(classes), nil
}

// MapClasses converts a class mask to a signal mask: class 1 becomes
// background, class 2 becomes SignalValue and other values are kept.
func MapClasses(classes *imaging.Label) *imaging.Label {
	out := classes.Clone()
	for i, v := range out.Pix {
		switch v {
		case 1:
			out.Pix[i] = 0
		case 2:
			out.Pix[i] = SignalValue
		}
	}
	return out
}

func checkModel(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrModelLoad, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrModelLoad, path)
	}
	return nil
}
