// Package capture abstracts the frame source a kiosk records from. A
// Provider hands out at most one live Stream; acquisition failures are
// classified into the sentinel categories below so callers can react without
// knowing the backend.
package capture

import (
	"context"
	"errors"
	"image"
)

var (
	ErrPermissionDenied = errors.New("capture: permission denied")
	ErrDeviceNotFound   = errors.New("capture: device not found")
	ErrDeviceBusy       = errors.New("capture: device busy")
)

// Constraints are acquisition preferences, not guarantees. A provider honors
// what it can and ignores the rest.
type Constraints struct {
	Width  int
	Height int
	Facing string
}

// Track is one media track of a stream. Stopping a track releases its
// underlying resource.
type Track interface {
	Kind() string
	Stop()
}

// Stream is a live frame source. Frame returns the most recent frame; it is
// an error to call it after Close.
type Stream interface {
	Frame() (image.Image, error)
	Tracks() []Track
	Close() error
}

// Provider opens streams.
type Provider interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}
