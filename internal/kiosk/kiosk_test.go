package kiosk

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"faceline/internal/capture"
	facelinesdk "faceline/sdk/go"
)

// fakes

type fakeTrack struct {
	stops int
}

func (t *fakeTrack) Kind() string { return "video" }
func (t *fakeTrack) Stop()        { t.stops++ }

type fakeStream struct {
	track      *fakeTrack
	frameCalls int
	closed     bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{track: &fakeTrack{}}
}

func (s *fakeStream) Frame() (image.Image, error) {
	s.frameCalls++
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 8), uint8(y * 10), uint8((x + y) * 4), 255})
		}
	}
	return img, nil
}

func (s *fakeStream) Tracks() []capture.Track { return []capture.Track{s.track} }
func (s *fakeStream) Close() error            { s.closed = true; return nil }

type fakeProvider struct {
	stream *fakeStream
	err    error
	opens  int
}

func (p *fakeProvider) Open(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	p.opens++
	if p.err != nil {
		return nil, p.err
	}
	return p.stream, nil
}

type fakePreview struct {
	bindErr  error
	playErr  error
	binds    int
	plays    int
	unbinds  int
}

func (p *fakePreview) Bind(capture.Stream) error { p.binds++; return p.bindErr }
func (p *fakePreview) Play() error               { p.plays++; return p.playErr }
func (p *fakePreview) Unbind()                   { p.unbinds++ }

type fakePresenter struct {
	mu        sync.Mutex
	outcomes  []Outcome
	clears    int
	cues      int
}

func (p *fakePresenter) ShowOutcome(o Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, o)
}
func (p *fakePresenter) ClearNameEntry() { p.mu.Lock(); p.clears++; p.mu.Unlock() }
func (p *fakePresenter) PlaySuccessCue() { p.mu.Lock(); p.cues++; p.mu.Unlock() }

func (p *fakePresenter) last(t *testing.T) Outcome {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.outcomes) == 0 {
		t.Fatalf("no outcome presented")
	}
	return p.outcomes[len(p.outcomes)-1]
}

type fakeRefresher struct {
	mu        sync.Mutex
	dashboard int
	history   int
}

func (r *fakeRefresher) RefreshDashboard() { r.mu.Lock(); r.dashboard++; r.mu.Unlock() }
func (r *fakeRefresher) RefreshHistory()   { r.mu.Lock(); r.history++; r.mu.Unlock() }

type fakeSubmitter struct {
	mu            sync.Mutex
	registerResp  facelinesdk.RegisterResponse
	registerErr   error
	registerCalls int
	authResp      facelinesdk.AuthenticateResponse
	authErr       error
	authCalls     int

	// when set, Authenticate signals authStarted then blocks until
	// authRelease closes.
	authStarted chan struct{}
	authRelease chan struct{}
}

func (f *fakeSubmitter) Register(ctx context.Context, name string, image []byte) (facelinesdk.RegisterResponse, error) {
	f.mu.Lock()
	f.registerCalls++
	f.mu.Unlock()
	return f.registerResp, f.registerErr
}

func (f *fakeSubmitter) Authenticate(ctx context.Context, image []byte) (facelinesdk.AuthenticateResponse, error) {
	f.mu.Lock()
	f.authCalls++
	f.mu.Unlock()
	if f.authStarted != nil {
		f.authStarted <- struct{}{}
		<-f.authRelease
	}
	return f.authResp, f.authErr
}

func (f *fakeSubmitter) registers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registerCalls
}

func (f *fakeSubmitter) auths() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls
}

func newTestCoordinator(provider capture.Provider, submitter Submitter) (*Coordinator, *fakePresenter, *fakeRefresher) {
	session := NewDeviceSession(provider, capture.Constraints{}, nil, zerolog.Nop())
	presenter := &fakePresenter{}
	refresher := &fakeRefresher{}
	coord := NewCoordinator(session, submitter, presenter, refresher, zerolog.Nop())
	return coord, presenter, refresher
}

// device session

func TestStartWithoutProviderUnsupported(t *testing.T) {
	session := NewDeviceSession(nil, capture.Constraints{}, nil, zerolog.Nop())
	if err := session.Start(context.Background()); !errors.Is(err, ErrCapabilityUnsupported) {
		t.Fatalf("expected ErrCapabilityUnsupported, got %v", err)
	}
}

func TestStartPropagatesAcquisitionCategory(t *testing.T) {
	for _, sentinel := range []error{capture.ErrPermissionDenied, capture.ErrDeviceNotFound, capture.ErrDeviceBusy} {
		session := NewDeviceSession(&fakeProvider{err: sentinel}, capture.Constraints{}, nil, zerolog.Nop())
		if err := session.Start(context.Background()); !errors.Is(err, sentinel) {
			t.Fatalf("expected %v, got %v", sentinel, err)
		}
		if session.Active() {
			t.Fatalf("session active after failed start")
		}
	}
}

func TestStartWrapsUnknownAcquisitionError(t *testing.T) {
	cause := errors.New("backend exploded")
	session := NewDeviceSession(&fakeProvider{err: cause}, capture.Constraints{}, nil, zerolog.Nop())
	err := session.Start(context.Background())
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestPlaybackFailureIsNotFatal(t *testing.T) {
	preview := &fakePreview{playErr: errors.New("autoplay blocked")}
	session := NewDeviceSession(&fakeProvider{stream: newFakeStream()}, capture.Constraints{}, preview, zerolog.Nop())
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !session.Active() {
		t.Fatalf("session should be active despite playback failure")
	}
	if preview.plays != 1 {
		t.Fatalf("expected one play attempt, got %d", preview.plays)
	}
}

func TestStopIdempotentWhenInactive(t *testing.T) {
	stream := newFakeStream()
	session := NewDeviceSession(&fakeProvider{stream: stream}, capture.Constraints{}, nil, zerolog.Nop())
	session.Stop()
	session.Stop()
	if stream.track.stops != 0 {
		t.Fatalf("expected no track releases, got %d", stream.track.stops)
	}
	if session.Active() {
		t.Fatalf("session should stay inactive")
	}
}

func TestStopReleasesTracksOnce(t *testing.T) {
	stream := newFakeStream()
	session := NewDeviceSession(&fakeProvider{stream: stream}, capture.Constraints{}, nil, zerolog.Nop())
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	session.Stop()
	session.Stop()
	if stream.track.stops != 1 {
		t.Fatalf("expected one track release, got %d", stream.track.stops)
	}
	if !stream.closed {
		t.Fatalf("stream not closed")
	}
}

// frame capturer

func TestCaptureRequiresActiveSession(t *testing.T) {
	session := NewDeviceSession(&fakeProvider{stream: newFakeStream()}, capture.Constraints{}, nil, zerolog.Nop())
	_, err := FrameCapturer{}.Capture(session)
	if !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestCaptureEncodesCurrentFrame(t *testing.T) {
	stream := newFakeStream()
	session := NewDeviceSession(&fakeProvider{stream: stream}, capture.Constraints{}, nil, zerolog.Nop())
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	frame, err := FrameCapturer{}.Capture(session)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if frame.Width != 32 || frame.Height != 24 {
		t.Fatalf("unexpected dimensions %dx%d", frame.Width, frame.Height)
	}
	if !bytes.HasPrefix(frame.Data, []byte{0xFF, 0xD8}) {
		t.Fatalf("expected JPEG payload")
	}
	if stream.frameCalls != 1 {
		t.Fatalf("expected one frame read, got %d", stream.frameCalls)
	}
}

// request gate

func TestGateSingleFlightPerKind(t *testing.T) {
	gate := NewRequestGate()
	if !gate.TryAdmit(ActionRegistration) {
		t.Fatalf("first admit should pass")
	}
	if gate.TryAdmit(ActionRegistration) {
		t.Fatalf("second admit should be rejected")
	}
	// the other kind is independent
	if !gate.TryAdmit(ActionAuthentication) {
		t.Fatalf("other kind should admit")
	}
	gate.Release(ActionRegistration)
	if !gate.TryAdmit(ActionRegistration) {
		t.Fatalf("admit after release should pass")
	}
}

// coordinator

func TestRegisterMissingNameSkipsCapture(t *testing.T) {
	stream := newFakeStream()
	submitter := &fakeSubmitter{}
	coord, _, _ := newTestCoordinator(&fakeProvider{stream: stream}, submitter)
	if err := coord.StartSession(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := coord.Register(context.Background(), "   "); !errors.Is(err, ErrMissingName) {
		t.Fatalf("expected ErrMissingName, got %v", err)
	}
	if stream.frameCalls != 0 {
		t.Fatalf("frame captured despite missing name")
	}
	if submitter.registers() != 0 {
		t.Fatalf("endpoint called despite missing name")
	}
}

func TestAuthenticateInactiveSessionNeverSubmits(t *testing.T) {
	submitter := &fakeSubmitter{}
	coord, _, _ := newTestCoordinator(&fakeProvider{stream: newFakeStream()}, submitter)
	if err := coord.Authenticate(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if submitter.auths() != 0 {
		t.Fatalf("endpoint called despite inactive session")
	}
}

func TestDuplicateAuthenticationTriggersSingleFlight(t *testing.T) {
	submitter := &fakeSubmitter{
		authResp:    facelinesdk.AuthenticateResponse{Success: true, Message: "Welcome, Alice"},
		authStarted: make(chan struct{}),
		authRelease: make(chan struct{}),
	}
	coord, _, _ := newTestCoordinator(&fakeProvider{stream: newFakeStream()}, submitter)
	if err := coord.StartSession(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- coord.Authenticate(context.Background()) }()
	<-submitter.authStarted

	// rapid duplicates while the first is outstanding
	for i := 0; i < 3; i++ {
		if err := coord.Authenticate(context.Background()); err != nil {
			t.Fatalf("duplicate trigger returned error: %v", err)
		}
	}
	close(submitter.authRelease)
	if err := <-done; err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if submitter.auths() != 1 {
		t.Fatalf("expected exactly one submission, got %d", submitter.auths())
	}
	if coord.Gate.InFlight(ActionAuthentication) {
		t.Fatalf("gate stuck after completion")
	}
}

func TestGateReleasedOnEveryTerminationPath(t *testing.T) {
	cases := []struct {
		name      string
		submitter *fakeSubmitter
	}{
		{"success", &fakeSubmitter{authResp: facelinesdk.AuthenticateResponse{Success: true, Message: "Welcome, Alice"}}},
		{"structured failure", &fakeSubmitter{authResp: facelinesdk.AuthenticateResponse{Message: "Face not recognized!"}}},
		{"transport error", &fakeSubmitter{authErr: errors.New("connection refused")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			coord, _, _ := newTestCoordinator(&fakeProvider{stream: newFakeStream()}, tc.submitter)
			if err := coord.StartSession(context.Background()); err != nil {
				t.Fatalf("start: %v", err)
			}
			if coord.Gate.InFlight(ActionAuthentication) {
				t.Fatalf("gate set before trigger")
			}
			if err := coord.Authenticate(context.Background()); err != nil {
				t.Fatalf("authenticate: %v", err)
			}
			if coord.Gate.InFlight(ActionAuthentication) {
				t.Fatalf("gate stuck after %s", tc.name)
			}
		})
	}
}

func TestAuthenticateSuccessOutcome(t *testing.T) {
	submitter := &fakeSubmitter{authResp: facelinesdk.AuthenticateResponse{
		Success:    true,
		Message:    "Welcome, Alice",
		Name:       "Alice",
		PunchType:  "PUNCH-IN",
		Confidence: 0.97,
		Timestamp:  "2024-01-01T09:00:00Z",
	}}
	coord, presenter, refresher := newTestCoordinator(&fakeProvider{stream: newFakeStream()}, submitter)
	if err := coord.StartSession(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := coord.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	outcome := presenter.last(t)
	if outcome.Kind != OutcomeSuccess || outcome.Message != "Welcome, Alice" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if outcome.Name != "Alice" || outcome.PunchType != "PUNCH-IN" || outcome.Confidence != 0.97 {
		t.Fatalf("subject fields not carried: %+v", outcome)
	}
	if refresher.dashboard != 1 || refresher.history != 1 {
		t.Fatalf("expected one refresh each, got dashboard=%d history=%d", refresher.dashboard, refresher.history)
	}
	if presenter.cues != 1 {
		t.Fatalf("expected one success cue, got %d", presenter.cues)
	}
}

func TestRegisterStructuredFailureLeavesNameAndDashboard(t *testing.T) {
	submitter := &fakeSubmitter{registerResp: facelinesdk.RegisterResponse{Message: "Face already registered"}}
	coord, presenter, refresher := newTestCoordinator(&fakeProvider{stream: newFakeStream()}, submitter)
	if err := coord.StartSession(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := coord.Register(context.Background(), "Bob"); err != nil {
		t.Fatalf("register: %v", err)
	}
	outcome := presenter.last(t)
	if outcome.Kind != OutcomeRejected || outcome.Message != "Face already registered" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if presenter.clears != 0 {
		t.Fatalf("name entry cleared on failure")
	}
	if refresher.dashboard != 0 {
		t.Fatalf("dashboard refreshed on failure")
	}
}

func TestRegisterSuccessClearsNameAndRefreshesDashboard(t *testing.T) {
	submitter := &fakeSubmitter{registerResp: facelinesdk.RegisterResponse{
		Success:       true,
		Message:       "User Bob registered successfully!",
		LivenessScore: 0.42,
	}}
	coord, presenter, refresher := newTestCoordinator(&fakeProvider{stream: newFakeStream()}, submitter)
	if err := coord.StartSession(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := coord.Register(context.Background(), "Bob"); err != nil {
		t.Fatalf("register: %v", err)
	}
	outcome := presenter.last(t)
	if outcome.Kind != OutcomeSuccess || outcome.LivenessScore != 0.42 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if presenter.clears != 1 {
		t.Fatalf("expected name entry cleared once, got %d", presenter.clears)
	}
	if refresher.dashboard != 1 || refresher.history != 0 {
		t.Fatalf("expected dashboard-only refresh, got dashboard=%d history=%d", refresher.dashboard, refresher.history)
	}
}

func TestTransportErrorSurfacedNotDropped(t *testing.T) {
	submitter := &fakeSubmitter{authErr: errors.New("dial tcp: connection refused")}
	coord, presenter, _ := newTestCoordinator(&fakeProvider{stream: newFakeStream()}, submitter)
	if err := coord.StartSession(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := coord.Authenticate(context.Background()); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	outcome := presenter.last(t)
	if outcome.Kind != OutcomeTransportError {
		t.Fatalf("expected transport outcome, got %+v", outcome)
	}
	if !bytes.Contains([]byte(outcome.Message), []byte("connection refused")) {
		t.Fatalf("transport detail missing: %q", outcome.Message)
	}
}
