// Package recognizer holds the image-side primitives of the attendance
// system: frame decoding, liveness scoring, and face matching.
package recognizer

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

const DefaultSpoofThreshold = 0.01

// Recognizer bundles a matcher with the liveness threshold.
type Recognizer struct {
	Matcher        Matcher
	SpoofThreshold float64
}

func New(matchThreshold, spoofThreshold float64) *Recognizer {
	if spoofThreshold <= 0 {
		spoofThreshold = DefaultSpoofThreshold
	}
	return &Recognizer{
		Matcher:        HashMatcher{Threshold: matchThreshold},
		SpoofThreshold: spoofThreshold,
	}
}

// CheckLiveness scores the frame and reports whether it clears the spoof
// threshold.
func (r *Recognizer) CheckLiveness(img image.Image) (bool, float64) {
	score := LivenessScore(img)
	return score > r.SpoofThreshold, score
}

// DecodeFrame decodes an encoded still image (JPEG or PNG).
func DecodeFrame(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// LoadFace reads and decodes a stored reference face image.
func LoadFace(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read face %s: %w", path, err)
	}
	return DecodeFrame(data)
}
