package kiosk

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
)

// CapturedFrame is one encoded still image together with its source
// dimensions. It is produced fresh per capture and consumed by exactly one
// submission.
type CapturedFrame struct {
	Data   []byte
	Width  int
	Height int
}

// FrameCapturer converts the current video frame of an active session into a
// transmittable JPEG. One synchronous capture per call, no retries.
type FrameCapturer struct {
	Quality int
}

func (c FrameCapturer) Capture(session *DeviceSession) (CapturedFrame, error) {
	stream := session.currentStream()
	if stream == nil {
		return CapturedFrame{}, ErrNoActiveSession
	}
	img, err := stream.Frame()
	if err != nil {
		return CapturedFrame{}, fmt.Errorf("kiosk: read frame: %w", err)
	}

	// Rasterize at exactly the source dimensions before encoding.
	b := img.Bounds()
	raster := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(raster, raster.Bounds(), img, b.Min, draw.Src)

	quality := c.Quality
	if quality <= 0 {
		quality = 85
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, raster, &jpeg.Options{Quality: quality}); err != nil {
		return CapturedFrame{}, fmt.Errorf("kiosk: encode frame: %w", err)
	}
	return CapturedFrame{Data: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}
