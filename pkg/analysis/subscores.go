package analysis

import "math"

// AreaScore penalises areas far from the population mean with a quartic
// falloff. A population without spread scores 1.
func AreaScore(area, mean, std float64) float64 {
	if std == 0 {
		return 1
	}
	return 1 - math.Pow((area-mean)/std, 4)
}

// HER2Score is 0.5 for likely signal clumps (above mean+3std), 0 for likely
// under-counted cells (below mean-std) and 1 otherwise.
func HER2Score(count int, mean, std float64) float64 {
	v := float64(count)
	switch {
	case v > mean+3*std:
		return 0.5
	case v < mean-std:
		return 0
	default:
		return 1
	}
}

// Chr17Score is 0.5 when fewer than two reference signals were counted.
func Chr17Score(count int) float64 {
	if count < 2 {
		return 0.5
	}
	return 1
}

// RatioScore rescales HER2/Chr17 into [0, 1] over the population range.
func RatioScore(her2, chr17 int, lo, hi float64) float64 {
	if chr17 == 0 {
		return math.Inf(1)
	}
	if hi == lo {
		return 0
	}
	return (float64(her2)/float64(chr17) - lo) / (hi - lo)
}

// Sphericity is 4*pi*area/perimeter^2, 0 for a zero perimeter.
func Sphericity(area, perimeter float64) float64 {
	if perimeter == 0 {
		return 0
	}
	return 4 * math.Pi * area / (perimeter * perimeter)
}
