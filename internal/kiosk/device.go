package kiosk

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"faceline/internal/capture"
)

var (
	// ErrCapabilityUnsupported means no capture backend is available at all.
	ErrCapabilityUnsupported = errors.New("kiosk: camera capture not supported on this platform")
	// ErrNoActiveSession means a frame was requested while the device session
	// is inactive.
	ErrNoActiveSession = errors.New("kiosk: no active camera session")
	// ErrMissingName means registration was triggered without a display name.
	ErrMissingName = errors.New("kiosk: name is required")
)

// PreviewSink is the visible surface a live stream is bound to. Playback
// failure is a degraded-but-usable condition, never fatal to the session.
type PreviewSink interface {
	Bind(capture.Stream) error
	Play() error
	Unbind()
}

// DeviceSession owns acquisition and release of the camera stream. It is
// either Inactive (no stream held) or Active (exactly one stream held); the
// held stream is never handed out to other components, only read through
// FrameCapturer.
type DeviceSession struct {
	provider    capture.Provider
	constraints capture.Constraints
	preview     PreviewSink
	log         zerolog.Logger

	mu     sync.Mutex
	stream capture.Stream
}

func NewDeviceSession(provider capture.Provider, constraints capture.Constraints, preview PreviewSink, log zerolog.Logger) *DeviceSession {
	if constraints.Width == 0 {
		constraints.Width = 640
	}
	if constraints.Height == 0 {
		constraints.Height = 480
	}
	if constraints.Facing == "" {
		constraints.Facing = "user"
	}
	return &DeviceSession{
		provider:    provider,
		constraints: constraints,
		preview:     preview,
		log:         log,
	}
}

// Start acquires the camera stream and transitions Inactive -> Active.
// Acquisition errors keep their capture-layer category; anything
// unclassified is wrapped with the platform message. A Start on an already
// Active session is a no-op.
func (s *DeviceSession) Start(ctx context.Context) error {
	if s.provider == nil {
		return ErrCapabilityUnsupported
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return nil
	}
	stream, err := s.provider.Open(ctx, s.constraints)
	if err != nil {
		if errors.Is(err, capture.ErrPermissionDenied) ||
			errors.Is(err, capture.ErrDeviceNotFound) ||
			errors.Is(err, capture.ErrDeviceBusy) {
			return err
		}
		return fmt.Errorf("kiosk: camera acquisition failed: %w", err)
	}
	s.stream = stream
	s.log.Info().Int("width", s.constraints.Width).Int("height", s.constraints.Height).Msg("camera session started")

	// The session is Active from here on; preview trouble degrades the UI
	// but keeps capture working.
	if s.preview != nil {
		if err := s.preview.Bind(stream); err != nil {
			s.log.Warn().Err(err).Msg("preview bind failed")
		} else if err := s.preview.Play(); err != nil {
			s.log.Warn().Err(err).Msg("preview playback failed")
		}
	}
	return nil
}

// Stop releases every track of the held stream and transitions back to
// Inactive. Safe to call repeatedly and on teardown.
func (s *DeviceSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return
	}
	for _, track := range s.stream.Tracks() {
		track.Stop()
	}
	if s.preview != nil {
		s.preview.Unbind()
	}
	if err := s.stream.Close(); err != nil {
		s.log.Warn().Err(err).Msg("stream close failed")
	}
	s.stream = nil
	s.log.Info().Msg("camera session stopped")
}

// Active reports whether a stream is currently held.
func (s *DeviceSession) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

func (s *DeviceSession) currentStream() capture.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}
