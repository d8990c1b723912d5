// Package models holds the records exchanged between the scoring engine, the
// orchestrator and the review/report collaborators.
package models

import "fmt"

// CellRecord is one scored candidate cell, the unit of ranking.
type CellRecord struct {
	// Image is the name of the container (source image stem) the cell belongs to.
	Image string

	// Label is the cell id in the container's cell mask.
	Label int

	// Ratio is HER2 / Chr17, zero when Chr17 is zero.
	Ratio float64

	// HER2 and Chr17 are the signal counts assigned to the cell.
	HER2  int
	Chr17 int

	// Score orders candidates for review. It is never shown to the operator.
	Score float64
}

// Name returns the display name of the cell, e.g. "slide-01_Cell-007".
func (r CellRecord) Name() string {
	return CellName(r.Image, r.Label)
}

// CellName formats the review name of a cell.
func CellName(image string, label int) string {
	return fmt.Sprintf("%s_Cell-%03d", image, label)
}

// SignalCount accumulates the signals found inside one cell.
type SignalCount struct {
	HER2  int
	Chr17 int
}

// Ratio returns HER2 / Chr17, or 0 when no Chr17 signal was counted.
func (s SignalCount) Ratio() float64 {
	if s.Chr17 == 0 {
		return 0
	}
	return float64(s.HER2) / float64(s.Chr17)
}

// FinalCell is a cell confirmed by the operator, with the counts they accepted.
type FinalCell struct {
	Name  string
	HER2  int
	Chr17 int
}
