// Package report reads and writes the case workbooks: the final report of the
// confirmed cells, the ranked list of every scored cell and the batch summary.
package report

import (
	"math"

	"her2dish/internal/models"
)

// DefaultAmplifiedRatio is the case HER2/Chr17 ratio at or above which a case is amplified.
const DefaultAmplifiedRatio = 2.0

// Summary aggregates the confirmed cells of one case.
type Summary struct {
	Cells int
	HER2  int
	Chr17 int

	// Ratio is HER2/Chr17 rounded to 3 decimals, 0 when no Chr17 signal was counted.
	Ratio float64

	HER2PerCell  float64
	Chr17PerCell float64

	Amplified bool
}

// Result returns the verdict printed in reports.
func (s Summary) Result() string {
	if s.Amplified {
		return "Amplified"
	}
	return "Non-Amplified"
}

// Summarize totals the cells and classifies the case against amplifiedRatio.
func Summarize(cells []models.FinalCell, amplifiedRatio float64) Summary {
	var s Summary
	for _, c := range cells {
		s.Cells++
		s.HER2 += c.HER2
		s.Chr17 += c.Chr17
	}
	if s.Chr17 > 0 {
		s.Ratio = round3(float64(s.HER2) / float64(s.Chr17))
	}
	if s.Cells > 0 {
		s.HER2PerCell = round3(float64(s.HER2) / float64(s.Cells))
		s.Chr17PerCell = round3(float64(s.Chr17) / float64(s.Cells))
	}
	s.Amplified = s.Chr17 > 0 && s.Ratio >= amplifiedRatio
	return s
}

// CaseSummary is one row of the batch results workbook.
type CaseSummary struct {
	Case  string
	HER2  int
	Chr17 int
	Cells int
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
