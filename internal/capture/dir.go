package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const lockFileName = ".faceline-kiosk.lock"

// DirProvider reads frames from a spool directory fed by an external frame
// grabber. The newest image file in the directory is the "current frame".
// A lock file enforces single-consumer access, so a second kiosk opening the
// same spool fails with ErrDeviceBusy.
type DirProvider struct {
	Dir string
}

func (p DirProvider) Open(ctx context.Context, c Constraints) (Stream, error) {
	info, err := os.Stat(p.Dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("spool %s: %w", p.Dir, ErrDeviceNotFound)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("spool %s: %w", p.Dir, ErrPermissionDenied)
	case err != nil:
		return nil, fmt.Errorf("spool %s: %w", p.Dir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("spool %s is not a directory: %w", p.Dir, ErrDeviceNotFound)
	}

	lockPath := filepath.Join(p.Dir, lockFileName)
	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("spool %s already in use: %w", p.Dir, ErrDeviceBusy)
	}
	if errors.Is(err, fs.ErrPermission) {
		return nil, fmt.Errorf("spool %s: %w", p.Dir, ErrPermissionDenied)
	}
	if err != nil {
		return nil, err
	}
	lock.Close()

	s := &dirStream{dir: p.Dir, lockPath: lockPath}
	s.track = &dirTrack{stream: s}
	return s, nil
}

type dirStream struct {
	dir      string
	lockPath string
	track    *dirTrack

	mu     sync.Mutex
	closed bool
}

func (s *dirStream) Frame() (image.Image, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errors.New("capture: stream closed")
	}

	path, err := newestImage(s.dir)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", path, err)
	}
	return img, nil
}

func (s *dirStream) Tracks() []Track {
	return []Track{s.track}
}

func (s *dirStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return os.Remove(s.lockPath)
}

type dirTrack struct {
	stream *dirStream
}

func (t *dirTrack) Kind() string { return "video" }

func (t *dirTrack) Stop() {
	_ = t.stream.Close()
}

func newestImage(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	type candidate struct {
		path string
		mod  int64
	}
	var frames []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		frames = append(frames, candidate{path: filepath.Join(dir, e.Name()), mod: info.ModTime().UnixNano()})
	}
	if len(frames) == 0 {
		return "", errors.New("capture: no frames in spool")
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].mod > frames[j].mod })
	return frames[0].path, nil
}
