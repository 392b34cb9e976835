package kiosk

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	facelinesdk "faceline/sdk/go"
)

// OutcomeKind classifies how a verification round-trip ended.
type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomeRejected       OutcomeKind = "rejected"
	OutcomeTransportError OutcomeKind = "transport_error"
)

// Outcome is the user-visible result of one round-trip. For a successful
// authentication the subject fields are populated; otherwise only Kind and
// Message matter.
type Outcome struct {
	Kind          OutcomeKind
	Action        ActionKind
	Message       string
	Name          string
	PunchType     string
	Confidence    float64
	LivenessScore float64
	Timestamp     string
}

// Presenter renders outcomes. Implementations own display duration and
// styling; the coordinator only hands over records.
type Presenter interface {
	ShowOutcome(Outcome)
	ClearNameEntry()
	PlaySuccessCue()
}

// Refresher re-pulls the auxiliary views. Both operations are idempotent,
// side-effect-only, and must never propagate errors back here.
type Refresher interface {
	RefreshDashboard()
	RefreshHistory()
}

// Submitter is the remote attendance API as the coordinator sees it.
// *facelinesdk.Client satisfies it.
type Submitter interface {
	Register(ctx context.Context, name string, image []byte) (facelinesdk.RegisterResponse, error)
	Authenticate(ctx context.Context, image []byte) (facelinesdk.AuthenticateResponse, error)
}

// Coordinator drives the two verification flows: validate input, capture a
// frame, pass the single-flight gate, submit, interpret the structured
// result, and fan the outcome out to the presenter and refresher.
type Coordinator struct {
	Session   *DeviceSession
	Capturer  FrameCapturer
	Gate      *RequestGate
	Client    Submitter
	Presenter Presenter
	Refresher Refresher
	Log       zerolog.Logger
}

func NewCoordinator(session *DeviceSession, client Submitter, presenter Presenter, refresher Refresher, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		Session:   session,
		Gate:      NewRequestGate(),
		Client:    client,
		Presenter: presenter,
		Refresher: refresher,
		Log:       log,
	}
}

// StartSession acquires the camera.
func (c *Coordinator) StartSession(ctx context.Context) error {
	return c.Session.Start(ctx)
}

// StopSession releases the camera. Safe on teardown.
func (c *Coordinator) StopSession() {
	c.Session.Stop()
}

// Register captures a frame and submits it for enrollment under name.
// Precondition failures (blank name, inactive session) are returned to the
// caller before any network activity; round-trip outcomes go to the
// presenter. A duplicate trigger while a registration is outstanding is
// silently ignored.
func (c *Coordinator) Register(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrMissingName
	}
	frame, err := c.Capturer.Capture(c.Session)
	if err != nil {
		return err
	}
	if !c.Gate.TryAdmit(ActionRegistration) {
		c.Log.Debug().Msg("registration already in flight, trigger ignored")
		return nil
	}
	defer c.Gate.Release(ActionRegistration)

	resp, err := c.Client.Register(ctx, name, frame.Data)
	if err != nil {
		c.Log.Error().Err(err).Msg("registration submit failed")
		c.show(Outcome{
			Kind:    OutcomeTransportError,
			Action:  ActionRegistration,
			Message: "Registration failed: " + err.Error(),
		})
		return nil
	}
	if !resp.Success {
		c.show(Outcome{
			Kind:          OutcomeRejected,
			Action:        ActionRegistration,
			Message:       resp.Message,
			LivenessScore: resp.LivenessScore,
		})
		return nil
	}

	c.show(Outcome{
		Kind:          OutcomeSuccess,
		Action:        ActionRegistration,
		Message:       resp.Message,
		LivenessScore: resp.LivenessScore,
	})
	if c.Presenter != nil {
		c.Presenter.ClearNameEntry()
	}
	if c.Refresher != nil {
		c.Refresher.RefreshDashboard()
	}
	return nil
}

// Authenticate captures a frame and submits it for recognition. The only
// precondition is an active session. A duplicate trigger while an
// authentication is outstanding is silently ignored.
func (c *Coordinator) Authenticate(ctx context.Context) error {
	frame, err := c.Capturer.Capture(c.Session)
	if err != nil {
		return err
	}
	if !c.Gate.TryAdmit(ActionAuthentication) {
		c.Log.Debug().Msg("authentication already in flight, trigger ignored")
		return nil
	}
	defer c.Gate.Release(ActionAuthentication)

	resp, err := c.Client.Authenticate(ctx, frame.Data)
	if err != nil {
		c.Log.Error().Err(err).Msg("authentication submit failed")
		c.show(Outcome{
			Kind:    OutcomeTransportError,
			Action:  ActionAuthentication,
			Message: "Authentication failed: " + err.Error(),
		})
		return nil
	}
	if !resp.Success {
		c.show(Outcome{
			Kind:          OutcomeRejected,
			Action:        ActionAuthentication,
			Message:       resp.Message,
			LivenessScore: resp.LivenessScore,
		})
		return nil
	}

	c.show(Outcome{
		Kind:          OutcomeSuccess,
		Action:        ActionAuthentication,
		Message:       resp.Message,
		Name:          resp.Name,
		PunchType:     resp.PunchType,
		Confidence:    resp.Confidence,
		LivenessScore: resp.LivenessScore,
		Timestamp:     resp.Timestamp,
	})
	if c.Presenter != nil {
		c.Presenter.PlaySuccessCue()
	}
	if c.Refresher != nil {
		c.Refresher.RefreshDashboard()
		c.Refresher.RefreshHistory()
	}
	return nil
}

func (c *Coordinator) show(o Outcome) {
	if c.Presenter != nil {
		c.Presenter.ShowOutcome(o)
	}
}
