package recognizer

import (
	"image"
	"math/bits"
)

// Matcher compares a probe frame against a stored reference face. Distance is
// in [0,1], lower is closer; verified means the pair clears the matcher's own
// acceptance threshold.
type Matcher interface {
	Verify(probe, reference image.Image) (distance float64, verified bool, err error)
}

// HashMatcher is a perceptual difference-hash matcher. It is deliberately
// model-free: both images are reduced to a 64-bit gradient hash and compared
// by Hamming distance. Suitable for kiosk-grade matching against a small
// roster; swap in an embedding-backed Matcher for anything larger.
type HashMatcher struct {
	// Threshold is the maximum normalized Hamming distance still accepted
	// as a match.
	Threshold float64
}

const defaultMatchThreshold = 0.25

func (m HashMatcher) Verify(probe, reference image.Image) (float64, bool, error) {
	threshold := m.Threshold
	if threshold <= 0 {
		threshold = defaultMatchThreshold
	}
	d := hammingDistance(differenceHash(probe), differenceHash(reference))
	dist := float64(d) / 64.0
	return dist, dist <= threshold, nil
}

// differenceHash computes a 64-bit dHash: downsample luminance to 9x8, then
// one bit per horizontally adjacent pair.
func differenceHash(img image.Image) uint64 {
	const hw, hh = 9, 8
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	var cells [hh][hw]float64
	for cy := 0; cy < hh; cy++ {
		for cx := 0; cx < hw; cx++ {
			x0, x1 := cx*w/hw, (cx+1)*w/hw
			y0, y1 := cy*h/hh, (cy+1)*h/hh
			if x1 <= x0 {
				x1 = x0 + 1
			}
			if y1 <= y0 {
				y1 = y0 + 1
			}
			var sum float64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
					sum += 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
				}
			}
			cells[cy][cx] = sum / float64((x1-x0)*(y1-y0))
		}
	}

	var hash uint64
	for cy := 0; cy < hh; cy++ {
		for cx := 0; cx < hw-1; cx++ {
			hash <<= 1
			if cells[cy][cx] < cells[cy][cx+1] {
				hash |= 1
			}
		}
	}
	return hash
}

func hammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
