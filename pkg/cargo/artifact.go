package cargo

import (
	"fmt"
	"strings"
)

// Artifact identifies one image held by a Container. Values are ordered by
// pipeline dependency.
type Artifact int

const (
	// Raw is the source image.
	Raw Artifact = iota
	// HER2 is the HER2 signal mask.
	HER2
	// Chr17 is the Chr17 signal mask.
	Chr17
	// Dug is the raw image with every signal painted over by background color.
	Dug
	// Cell is the labelled cell mask segmented from Dug.
	Cell
	// Overlay is the raw image with the signal masks blended on top.
	Overlay

	numArtifacts
)

var artifactNames = [numArtifacts]string{"raw", "her2", "chr17", "dug", "cell", "overlay"}

// Artifacts lists every artifact in dependency order.
var Artifacts = []Artifact{Raw, HER2, Chr17, Dug, Cell, Overlay}

// Derived lists the artifacts computed by the pipeline, the ones cleared on reset.
var Derived = []Artifact{HER2, Chr17, Dug, Cell, Overlay}

// ParseArtifact resolves a file label such as "her2" to its Artifact.
func ParseArtifact(s string) (Artifact, error) {
	for i, name := range artifactNames {
		if strings.EqualFold(s, name) {
			return Artifact(i), nil
		}
	}
	return 0, fmt.Errorf("unknown artifact %q", s)
}

// String returns the label used in file names.
func (a Artifact) String() string {
	if !a.valid() {
		return fmt.Sprintf("Artifact(%d)", int(a))
	}
	return artifactNames[a]
}

// IsLabel reports whether the artifact is a single-channel 16-bit label image.
func (a Artifact) IsLabel() bool {
	return a == HER2 || a == Chr17 || a == Cell
}

// Channels returns the channel count required by the artifact's class.
func (a Artifact) Channels() int {
	if a.IsLabel() {
		return 1
	}
	return 3
}

func (a Artifact) valid() bool {
	return a >= 0 && a < numArtifacts
}
