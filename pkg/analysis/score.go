// Package analysis assigns fluorescent signals to segmented cells and ranks the
// cells of one image by how suitable they are for manual review.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"her2dish/internal/models"
	"her2dish/pkg/imaging"
	"her2dish/pkg/imgproc"
)

// ErrSizeMismatch is returned when the masks of one image differ in size.
var ErrSizeMismatch = errors.New("mask sizes differ")

// Options tunes the HER2 density pre-filter.
type Options struct {
	// HeatmapSigma is the Gaussian sigma applied to the HER2 mask. Zero disables the filter.
	HeatmapSigma float64

	// HeatmapThreshold is the smoothed value a HER2 pixel must exceed to be kept.
	HeatmapThreshold float64
}

// DefaultOptions returns the pre-filter used by the pipeline.
func DefaultOptions() Options {
	return Options{HeatmapSigma: 50, HeatmapThreshold: 0.5}
}

// Stats are the population statistics over the cells that received at least one signal.
type Stats struct {
	AreaMean float64
	AreaStd  float64
	HER2Mean float64
	HER2Std  float64

	// RatioMin and RatioMax span HER2/Chr17 over cells with Chr17 signals.
	// HasRatio is false when no cell has one.
	RatioMin float64
	RatioMax float64
	HasRatio bool
}

// CalculateAllScore counts the signals of every cell of one image and returns
// the cells carrying both signals, best score first. name tags every record.
func CalculateAllScore(name string, cell, her2, chr17 *imaging.Label, opts Options) ([]models.CellRecord, error) {
	if err := checkSizes(cell, her2, chr17); err != nil {
		return nil, err
	}

	if opts.HeatmapSigma > 0 {
		her2 = HeatmapMask(her2, opts.HeatmapSigma, opts.HeatmapThreshold)
	}
	signals := AssignSignals(cell, imgproc.Centers(her2), imgproc.Centers(chr17))
	if len(signals) == 0 {
		return nil, nil
	}

	return rank(name, cell, signals), nil
}

// CalculateCellSignal counts the HER2 and Chr17 signals of every cell,
// without the pre-filter or any ranking.
func CalculateCellSignal(cell, her2, chr17 *imaging.Label) (map[int]models.SignalCount, error) {
	if err := checkSizes(cell, her2, chr17); err != nil {
		return nil, err
	}
	return AssignSignals(cell, imgproc.Centers(her2), imgproc.Centers(chr17)), nil
}

// HeatmapMask keeps the mask pixels whose Gaussian-smoothed neighbourhood
// exceeds threshold, dropping isolated signals far from any dense cluster.
func HeatmapMask(mask *imaging.Label, sigma, threshold float64) *imaging.Label {
	src := make([]float64, len(mask.Pix))
	for i, v := range mask.Pix {
		src[i] = float64(v)
	}
	heat := imgproc.GaussianFilter(src, mask.Width, mask.Height, sigma)

	out := imaging.NewLabel(mask.Width, mask.Height)
	for i, h := range heat {
		if h > threshold {
			out.Pix[i] = mask.Pix[i]
		}
	}
	return out
}

// AssignSignals looks up the cell under every signal centre and counts it
// there. Signals on background are discarded.
func AssignSignals(cell *imaging.Label, her2, chr17 []imgproc.Point) map[int]models.SignalCount {
	signals := make(map[int]models.SignalCount)

	for _, p := range her2 {
		if id := cellAt(cell, p); id != 0 {
			s := signals[id]
			s.HER2++
			signals[id] = s
		}
	}
	for _, p := range chr17 {
		if id := cellAt(cell, p); id != 0 {
			s := signals[id]
			s.Chr17++
			signals[id] = s
		}
	}
	return signals
}

// cellAt returns the label under the truncated centre, 0 outside the image.
func cellAt(cell *imaging.Label, p imgproc.Point) int {
	row, col := int(p.Row), int(p.Col)
	if row < 0 || col < 0 || row >= cell.Height || col >= cell.Width {
		return 0
	}
	return int(cell.Pix[row*cell.Width+col])
}

// PopulationStats computes the statistics the sub-scores are relative to.
// Standard deviations are population (not sample) deviations.
func PopulationStats(cell *imaging.Label, signals map[int]models.SignalCount) Stats {
	areas := imgproc.Areas(cell)

	ids := make([]int, 0, len(signals))
	for id := range signals {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var area, her2, ratios []float64
	for _, id := range ids {
		s := signals[id]
		area = append(area, float64(areas[id]))
		her2 = append(her2, float64(s.HER2))
		if s.Chr17 != 0 {
			ratios = append(ratios, s.Ratio())
		}
	}

	var st Stats
	if len(area) > 0 {
		st.AreaMean, st.AreaStd = stat.PopMeanStdDev(area, nil)
		st.HER2Mean, st.HER2Std = stat.PopMeanStdDev(her2, nil)
	}
	if len(ratios) > 0 {
		st.RatioMin, st.RatioMax = floats.Min(ratios), floats.Max(ratios)
		st.HasRatio = true
	}
	return st
}

func rank(name string, cell *imaging.Label, signals map[int]models.SignalCount) []models.CellRecord {
	st := PopulationStats(cell, signals)

	var records []models.CellRecord
	for _, region := range imgproc.Regions(cell) {
		s, ok := signals[region.Label]
		if !ok || s.HER2 < 1 || s.Chr17 < 1 {
			continue
		}

		score := HER2Score(s.HER2, st.HER2Mean, st.HER2Std) +
			Chr17Score(s.Chr17) +
			RatioScore(s.HER2, s.Chr17, st.RatioMin, st.RatioMax) +
			AreaScore(float64(region.Area), st.AreaMean, st.AreaStd) +
			Sphericity(float64(region.Area), region.Perimeter)

		records = InsertDescending(records, models.CellRecord{
			Image: name,
			Label: region.Label,
			Ratio: s.Ratio(),
			HER2:  s.HER2,
			Chr17: s.Chr17,
			Score: math.Round(score*1e6) / 1e6,
		})
	}
	return records
}

// InsertDescending inserts r after every record scoring at least as high,
// keeping the list in descending score order with ties in insertion order.
func InsertDescending(records []models.CellRecord, r models.CellRecord) []models.CellRecord {
	i := 0
	for i < len(records) && records[i].Score >= r.Score {
		i++
	}
	records = append(records, models.CellRecord{})
	copy(records[i+1:], records[i:])
	records[i] = r
	return records
}

func checkSizes(cell, her2, chr17 *imaging.Label) error {
	for _, m := range []*imaging.Label{cell, her2, chr17} {
		if !m.Valid() {
			return fmt.Errorf("%w: empty or malformed mask", ErrSizeMismatch)
		}
	}
	if her2.Width != cell.Width || her2.Height != cell.Height ||
		chr17.Width != cell.Width || chr17.Height != cell.Height {
		return fmt.Errorf("%w: cell %dx%d, her2 %dx%d, chr17 %dx%d", ErrSizeMismatch,
			cell.Width, cell.Height, her2.Width, her2.Height, chr17.Width, chr17.Height)
	}
	return nil
}
