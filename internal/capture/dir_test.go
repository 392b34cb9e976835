package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFrame(t *testing.T, dir, name string, c color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	return path
}

func TestOpenMissingSpool(t *testing.T) {
	_, err := DirProvider{Dir: filepath.Join(t.TempDir(), "nope")}.Open(context.Background(), Constraints{})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestOpenSpoolIsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFrame(t, dir, "frame.png", color.RGBA{})
	_, err := DirProvider{Dir: path}.Open(context.Background(), Constraints{})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestSecondOpenIsBusy(t *testing.T) {
	dir := t.TempDir()
	provider := DirProvider{Dir: dir}
	stream, err := provider.Open(context.Background(), Constraints{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()

	if _, err := provider.Open(context.Background(), Constraints{}); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}
}

func TestCloseReleasesLock(t *testing.T) {
	dir := t.TempDir()
	provider := DirProvider{Dir: dir}
	stream, err := provider.Open(context.Background(), Constraints{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// close is idempotent
	if err := stream.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, lockFileName)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("lock file still present: %v", err)
	}

	stream2, err := provider.Open(context.Background(), Constraints{})
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	stream2.Close()
}

func TestFrameReadsNewestImage(t *testing.T) {
	dir := t.TempDir()
	old := writeFrame(t, dir, "old.png", color.RGBA{255, 0, 0, 255})
	newPath := writeFrame(t, dir, "new.png", color.RGBA{0, 255, 0, 255})
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	_ = newPath

	stream, err := DirProvider{Dir: dir}.Open(context.Background(), Constraints{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()

	img, err := stream.Frame()
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	r, g, _, _ := img.At(0, 0).RGBA()
	if g>>8 != 255 || r>>8 != 0 {
		t.Fatalf("expected the newer green frame, got r=%d g=%d", r>>8, g>>8)
	}
}

func TestFrameEmptySpool(t *testing.T) {
	stream, err := DirProvider{Dir: t.TempDir()}.Open(context.Background(), Constraints{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer stream.Close()
	if _, err := stream.Frame(); err == nil {
		t.Fatalf("expected error for empty spool")
	}
}

func TestFrameAfterClose(t *testing.T) {
	dir := t.TempDir()
	writeFrame(t, dir, "frame.png", color.RGBA{1, 2, 3, 255})
	stream, err := DirProvider{Dir: dir}.Open(context.Background(), Constraints{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	stream.Close()
	if _, err := stream.Frame(); err == nil {
		t.Fatalf("expected error reading closed stream")
	}
}
