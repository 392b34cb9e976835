package recognizer

import (
	"image"
	"math"
)

// LivenessScore estimates how likely a frame came from a live camera feed
// rather than a replayed photo. It blends two cheap signals: edge sharpness
// (variance of a Laplacian over the luminance plane, flat for printed or
// re-photographed images) and color spread (the spread of per-channel
// standard deviations, low for screens and paper). Both are normalized to
// [0,1] and averaged.
func LivenessScore(img image.Image) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	gray := make([]float64, w*h)
	var sumR, sumG, sumB float64
	var sumR2, sumG2, sumB2 float64
	n := float64(w * h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			fr := float64(r >> 8)
			fg := float64(g >> 8)
			fb := float64(bl >> 8)
			gray[y*w+x] = 0.299*fr + 0.587*fg + 0.114*fb
			sumR += fr
			sumG += fg
			sumB += fb
			sumR2 += fr * fr
			sumG2 += fg * fg
			sumB2 += fb * fb
		}
	}

	// Variance of the 4-neighbor Laplacian over interior pixels.
	var lapSum, lapSum2 float64
	m := float64((w - 2) * (h - 2))
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			l := 4*gray[y*w+x] - gray[y*w+x-1] - gray[y*w+x+1] - gray[(y-1)*w+x] - gray[(y+1)*w+x]
			lapSum += l
			lapSum2 += l * l
		}
	}
	lapVar := lapSum2/m - (lapSum/m)*(lapSum/m)
	sharpness := math.Min(lapVar/1000, 1.0)

	stdR := math.Sqrt(math.Max(0, sumR2/n-(sumR/n)*(sumR/n)))
	stdG := math.Sqrt(math.Max(0, sumG2/n-(sumG/n)*(sumG/n)))
	stdB := math.Sqrt(math.Max(0, sumB2/n-(sumB/n)*(sumB/n)))
	colorStd := stddev3(stdR, stdG, stdB)

	return (sharpness + math.Min(colorStd/100, 1.0)) / 2
}

func stddev3(a, b, c float64) float64 {
	mean := (a + b + c) / 3
	return math.Sqrt(((a-mean)*(a-mean) + (b-mean)*(b-mean) + (c-mean)*(c-mean)) / 3)
}
