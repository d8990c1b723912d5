package pipeline

import (
	"fmt"
	"math"

	"her2dish/internal/models"
	"her2dish/pkg/cargo"
	"her2dish/pkg/visualization"
)

// ReviewPolicy decides how many of the top ranked cells go into the final
// report.
type ReviewPolicy struct {
	BaseCells     int
	ExtendedCells int

	// A HER2/Chr17 ratio of the base cells within [RatioLow, RatioHigh]
	// extends the review to ExtendedCells.
	RatioLow  float64
	RatioHigh float64
}

// DefaultReviewPolicy reviews 20 cells, or 40 when the ratio is borderline.
func DefaultReviewPolicy() ReviewPolicy {
	return ReviewPolicy{BaseCells: 20, ExtendedCells: 40, RatioLow: 1.8, RatioHigh: 2.2}
}

// RequiredCells returns the number of cells to review for a ranking. The
// result may exceed the number of ranked cells.
func (p ReviewPolicy) RequiredCells(records []models.CellRecord) int {
	n := min(p.BaseCells, len(records))
	her2, chr17 := 0, 0
	for _, r := range records[:n] {
		her2 += r.HER2
		chr17 += r.Chr17
	}
	if chr17 == 0 {
		return p.BaseCells
	}

	ratio := math.Round(float64(her2)/float64(chr17)*1000) / 1000
	if ratio >= p.RatioLow && ratio <= p.RatioHigh {
		return p.ExtendedCells
	}
	return p.BaseCells
}

// AutoSelect replaces the final selection of the case with the top ranked
// cells required by policy and extracts their review crops.
func AutoSelect(cas *cargo.Case, policy ReviewPolicy, extend int) ([]models.FinalCell, error) {
	required := min(policy.RequiredCells(cas.AllCellScore), len(cas.AllCellScore))
	cas.ClearSelection()

	viewers := make(map[string]*visualization.Viewer)
	for _, r := range cas.AllCellScore[:required] {
		v, ok := viewers[r.Image]
		if !ok {
			container, found := cas.GetContainer(r.Image)
			if !found {
				return nil, fmt.Errorf("unknown image %s", r.Image)
			}
			var err error
			if v, err = visualization.NewViewer(container, extend); err != nil {
				return nil, fmt.Errorf("failed to open %s: %w", r.Image, err)
			}
			viewers[r.Image] = v
		}

		img, err := v.ExtractCell(r.Label)
		if err != nil {
			return nil, err
		}
		cas.ConfirmCell(models.FinalCell{Name: r.Name(), HER2: r.HER2, Chr17: r.Chr17}, img)
	}
	return cas.FinalCellScore, nil
}
