package imgproc

import (
	"math"

	"her2dish/pkg/imaging"
)

// Common overlay colors, as RGB.
var (
	Green  = [3]uint8{0, 255, 0}
	Orange = [3]uint8{255, 200, 0}
	Yellow = [3]uint8{255, 255, 0}
)

// Overlay alpha-blends a colorized mask onto img and returns the result.
// The mask is reduced to 8 bits; pixels equal to 255 take the given color,
// other values are blended as gray. Channels saturate at 255.
func Overlay(img *imaging.RGB, mask *imaging.Label, color [3]uint8, alpha float64) *imaging.RGB {
	out := img.Clone()
	for p, v := range mask.Pix {
		g := uint8(v)
		c := [3]uint8{g, g, g}
		if g == 255 {
			c = color
		}
		for ch := 0; ch < 3; ch++ {
			out.Pix[p*3+ch] = saturate(float64(img.Pix[p*3+ch]) + alpha*float64(c[ch]))
		}
	}
	return out
}

func saturate(v float64) uint8 {
	v = math.RoundToEven(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// MeanColor returns the per-channel mean over all pixels.
func MeanColor(img *imaging.RGB) [3]float64 {
	var sum [3]float64
	n := img.Width * img.Height
	for p := 0; p < n; p++ {
		sum[0] += float64(img.Pix[p*3])
		sum[1] += float64(img.Pix[p*3+1])
		sum[2] += float64(img.Pix[p*3+2])
	}
	if n == 0 {
		return sum
	}
	return [3]float64{sum[0] / float64(n), sum[1] / float64(n), sum[2] / float64(n)}
}

// BackgroundFill returns the mean color of the pixels whose absolute deviation
// from the global mean exceeds delta in every channel. When no pixel qualifies
// the global mean is returned. Channels are truncated to 8 bits.
func BackgroundFill(img *imaging.RGB, delta float64) [3]uint8 {
	mean := MeanColor(img)

	var sum [3]float64
	count := 0
	for p := 0; p < img.Width*img.Height; p++ {
		keep := true
		for ch := 0; ch < 3; ch++ {
			if math.Abs(float64(img.Pix[p*3+ch])-mean[ch]) <= delta {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		for ch := 0; ch < 3; ch++ {
			sum[ch] += float64(img.Pix[p*3+ch])
		}
		count++
	}

	fill := mean
	if count > 0 {
		for ch := 0; ch < 3; ch++ {
			fill[ch] = sum[ch] / float64(count)
		}
	}
	return [3]uint8{uint8(fill[0]), uint8(fill[1]), uint8(fill[2])}
}

// Inpaint replaces every pixel selected by mask with color.
func Inpaint(img *imaging.RGB, mask []bool, color [3]uint8) *imaging.RGB {
	out := img.Clone()
	for p, m := range mask {
		if m {
			out.Pix[p*3] = color[0]
			out.Pix[p*3+1] = color[1]
			out.Pix[p*3+2] = color[2]
		}
	}
	return out
}

// Gray converts an RGB image to 8-bit luma using ITU-R 601 weights.
func Gray(img *imaging.RGB) []uint8 {
	n := img.Width * img.Height
	out := make([]uint8, n)
	for p := 0; p < n; p++ {
		r := float64(img.Pix[p*3])
		g := float64(img.Pix[p*3+1])
		b := float64(img.Pix[p*3+2])
		out[p] = uint8(math.Round(0.299*r + 0.587*g + 0.114*b))
	}
	return out
}

// OtsuThreshold picks the gray level that maximises between-class variance.
// Pixels strictly above the returned level belong to the foreground.
func OtsuThreshold(gray []uint8) uint8 {
	var hist [256]float64
	for _, v := range gray {
		hist[v]++
	}

	total := float64(len(gray))
	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i) * c
	}

	var sumB, wB, best float64
	var threshold uint8
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * hist[t]
		mB := sumB / wB
		mF := (sumAll - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = uint8(t)
		}
	}
	return threshold
}

// RGBToHSV converts 8-bit RGB to HSV using OpenCV's ranges: hue in [0, 180),
// saturation and value in [0, 255].
func RGBToHSV(r, g, b uint8) (h, s, v float64) {
	rf, gf, bf := float64(r)/255, float64(g)/255, float64(b)/255

	maxC := math.Max(rf, math.Max(gf, bf))
	minC := math.Min(rf, math.Min(gf, bf))
	diff := maxC - minC

	v = maxC * 255
	if maxC > 0 {
		s = diff / maxC * 255
	}

	switch {
	case diff == 0:
		h = 0
	case maxC == rf:
		h = 60 * math.Mod((gf-bf)/diff, 6)
	case maxC == gf:
		h = 60 * ((bf-rf)/diff + 2)
	default:
		h = 60 * ((rf-gf)/diff + 4)
	}
	if h < 0 {
		h += 360
	}
	return h / 2, s, v
}
