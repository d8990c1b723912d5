// Package cargo holds the per-case artifact cache: a Container per raw image,
// persisting every artifact it is given, and a Case grouping the Containers of
// one input directory together with the case-level cell results.
package cargo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"her2dish/internal/logger"
	"her2dish/pkg/imaging"
)

var (
	// ErrMissingArtifact is returned when reading an artifact that was never loaded or computed.
	ErrMissingArtifact = errors.New("missing artifact")

	// ErrUnsupportedArtifactShape is returned when an artifact does not match its class.
	ErrUnsupportedArtifactShape = errors.New("unsupported artifact shape")

	// ErrImmutableArtifact is returned when replacing the raw image.
	ErrImmutableArtifact = errors.New("artifact is immutable")
)

// Container owns one raw image and the artifacts derived from it. Every
// artifact in memory has a matching file in the output directory.
type Container struct {
	name   string
	source string
	dir    string
	log    *logger.Logger

	artifacts [numArtifacts]imaging.Raster
}

// NewContainer decodes the raw image, persists it as "<name>_raw.tif" in
// outputDir and loads any artifact already present there.
func NewContainer(imagePath, outputDir string, log *logger.Logger) (*Container, error) {
	if log == nil {
		log = logger.Nop()
	}
	if !imaging.IsSupported(imagePath) {
		return nil, fmt.Errorf("%w: %s", imaging.ErrUnsupportedFormat, imagePath)
	}

	base := filepath.Base(imagePath)
	c := &Container{
		name:   strings.TrimSuffix(base, filepath.Ext(base)),
		source: imagePath,
		dir:    outputDir,
		log:    log,
	}

	raw, err := imaging.LoadRGB(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load raw image: %w", err)
	}
	if err := c.store(Raw, raw); err != nil {
		return nil, err
	}

	c.loadExisting()
	return c, nil
}

// loadExisting reads every derived artifact already persisted for this image.
// Unreadable or mismatched files are left for the pipeline to recompute.
func (c *Container) loadExisting() {
	for _, a := range Derived {
		path := c.Path(a)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		var r imaging.Raster
		var err error
		if a.IsLabel() {
			r, err = imaging.LoadLabel(path)
		} else {
			r, err = imaging.LoadRGB(path)
		}
		if err == nil {
			err = c.validate(a, r)
		}
		if err != nil {
			c.log.Warn("ignoring persisted artifact", "container", c.name, "artifact", a.String(), "error", err)
			continue
		}
		c.artifacts[a] = r
	}
}

// Name returns the stem of the source file.
func (c *Container) Name() string { return c.name }

// Source returns the path of the raw image file.
func (c *Container) Source() string { return c.source }

// Dir returns the output directory of the container.
func (c *Container) Dir() string { return c.dir }

// Path returns the file an artifact is persisted to.
func (c *Container) Path(a Artifact) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_%s.tif", c.name, a))
}

// Has reports whether the artifact is loaded.
func (c *Container) Has(a Artifact) bool {
	return a.valid() && c.artifacts[a] != nil
}

// Keys returns the loaded artifacts in dependency order.
func (c *Container) Keys() []Artifact {
	keys := make([]Artifact, 0, numArtifacts)
	for _, a := range Artifacts {
		if c.artifacts[a] != nil {
			keys = append(keys, a)
		}
	}
	return keys
}

// Get returns a copy of the artifact.
func (c *Container) Get(a Artifact) (imaging.Raster, error) {
	if !c.Has(a) {
		return nil, fmt.Errorf("%w: %s/%s", ErrMissingArtifact, c.name, a)
	}
	switch r := c.artifacts[a].(type) {
	case *imaging.Label:
		return r.Clone(), nil
	case *imaging.RGB:
		return r.Clone(), nil
	default:
		return nil, fmt.Errorf("%w: %s holds %T", ErrUnsupportedArtifactShape, a, r)
	}
}

// Label returns a copy of a label artifact.
func (c *Container) Label(a Artifact) (*imaging.Label, error) {
	r, err := c.Get(a)
	if err != nil {
		return nil, err
	}
	l, ok := r.(*imaging.Label)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a label image", ErrUnsupportedArtifactShape, a)
	}
	return l, nil
}

// Color returns a copy of a color artifact.
func (c *Container) Color(a Artifact) (*imaging.RGB, error) {
	r, err := c.Get(a)
	if err != nil {
		return nil, err
	}
	m, ok := r.(*imaging.RGB)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a color image", ErrUnsupportedArtifactShape, a)
	}
	return m, nil
}

// Add validates the artifact against its class, persists it and keeps a copy.
// Nothing is stored or written when validation fails.
func (c *Container) Add(a Artifact, r imaging.Raster) error {
	if a == Raw && c.Has(Raw) {
		return fmt.Errorf("%w: %s/%s", ErrImmutableArtifact, c.name, a)
	}
	if err := c.validate(a, r); err != nil {
		return err
	}

	switch v := r.(type) {
	case *imaging.Label:
		r = v.Clone()
	case *imaging.RGB:
		r = v.Clone()
	}
	return c.store(a, r)
}

// Delete drops the in-memory artifact so the pipeline recomputes it. The file
// on disk is kept and will be overwritten by the next Add.
func (c *Container) Delete(a Artifact) {
	if a == Raw || !a.valid() {
		return
	}
	c.artifacts[a] = nil
}

// Purge drops the artifact and removes its file.
func (c *Container) Purge(a Artifact) error {
	if a == Raw || !a.valid() {
		return nil
	}
	c.artifacts[a] = nil
	if err := os.Remove(c.Path(a)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (c *Container) store(a Artifact, r imaging.Raster) error {
	if err := imaging.WriteTIFF(c.Path(a), r); err != nil {
		return fmt.Errorf("failed to persist %s/%s: %w", c.name, a, err)
	}
	c.artifacts[a] = r
	return nil
}

func (c *Container) validate(a Artifact, r imaging.Raster) error {
	if !a.valid() {
		return fmt.Errorf("%w: unknown artifact %d", ErrUnsupportedArtifactShape, int(a))
	}
	if r == nil || !r.Valid() {
		return fmt.Errorf("%w: %s is empty or malformed", ErrUnsupportedArtifactShape, a)
	}

	switch r.(type) {
	case *imaging.Label:
		if !a.IsLabel() {
			return fmt.Errorf("%w: %s must be a 3-channel color image", ErrUnsupportedArtifactShape, a)
		}
	case *imaging.RGB:
		if a.IsLabel() {
			return fmt.Errorf("%w: %s must be a single-channel 16-bit image", ErrUnsupportedArtifactShape, a)
		}
	default:
		return fmt.Errorf("%w: %s got %T", ErrUnsupportedArtifactShape, a, r)
	}

	if raw := c.artifacts[Raw]; raw != nil && a != Raw {
		rw, rh := raw.Size()
		w, h := r.Size()
		if w != rw || h != rh {
			return fmt.Errorf("%w: %s is %dx%d, raw image is %dx%d", ErrUnsupportedArtifactShape, a, w, h, rw, rh)
		}
	}
	return nil
}
