// Package runner executes an external model process on one image. The image is
// handed over as a TIFF file in a private temporary directory and the process
// writes its label mask next to it, so each invocation runs isolated from the
// pipeline's memory and from concurrent invocations.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"her2dish/pkg/imaging"
)

// ErrNoCommand is returned when no command line is configured.
var ErrNoCommand = errors.New("no command configured")

// Command describes an external model invocation. Args may contain the
// placeholders {model}, {input} and {output}.
type Command struct {
	Args []string

	// Dir is the parent of the per-invocation temporary directory. Empty uses os.TempDir.
	Dir string
}

// Run writes img to a temporary TIFF, runs the command and reads back the
// single-channel mask it produced.
func (c Command) Run(ctx context.Context, img imaging.Raster, model string) (*imaging.Label, error) {
	if len(c.Args) == 0 {
		return nil, ErrNoCommand
	}

	dir, err := os.MkdirTemp(c.Dir, "her2dish-run-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.tif")
	output := filepath.Join(dir, "output.tif")
	if err := imaging.WriteTIFF(input, img); err != nil {
		return nil, err
	}

	replacer := strings.NewReplacer("{model}", model, "{input}", input, "{output}", output)
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = replacer.Replace(a)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(args[0]), err, strings.TrimSpace(stderr.String()))
	}

	mask, err := imaging.LoadLabel(output)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s output: %w", filepath.Base(args[0]), err)
	}

	w, h := img.Size()
	if mask.Width != w || mask.Height != h {
		return nil, fmt.Errorf("%s returned a %dx%d mask for a %dx%d image",
			filepath.Base(args[0]), mask.Width, mask.Height, w, h)
	}
	return mask, nil
}
