package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"faceline/internal/config"
	"faceline/internal/domain"
	"faceline/internal/events"
	"faceline/internal/recognizer"
	"faceline/internal/repo"
)

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Recognizer *recognizer.Recognizer
	FacesDir   string
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config, facesDir string) Engine {
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db},
		Config:     cfg,
		Recognizer: recognizer.New(cfg.Recognition.MatchThreshold, cfg.Recognition.SpoofThreshold),
		FacesDir:   facesDir,
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// RegisterResult is the structured outcome of a registration attempt. A
// rejected attempt (spoof, duplicate name) is not a Go error; it comes back
// with Success=false and a user-facing message, mirroring the wire contract.
type RegisterResult struct {
	Success       bool
	Message       string
	UserID        string
	LivenessScore float64
}

// RegisterFace enrolls a new user from an encoded still frame. actor is the
// authenticated caller recorded on the audit event; direct engine use may
// leave it empty, in which case the enrolled name stands in.
func (e Engine) RegisterFace(ctx context.Context, actor, name string, frame []byte) (RegisterResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return RegisterResult{}, errors.New("name is required")
	}
	if len(frame) == 0 {
		return RegisterResult{}, errors.New("image is required")
	}
	img, err := recognizer.DecodeFrame(frame)
	if err != nil {
		return RegisterResult{}, err
	}

	live, score := e.Recognizer.CheckLiveness(img)
	if !live {
		return RegisterResult{
			Message:       fmt.Sprintf("Liveness check failed. Please use live camera feed. (Score: %.2f)", score),
			LivenessScore: score,
		}, nil
	}

	facePath := filepath.Join(e.FacesDir, fmt.Sprintf("%s_%d.jpg", sanitizeName(name), e.now().Unix()))
	if err := os.WriteFile(facePath, frame, 0o644); err != nil {
		return RegisterResult{}, fmt.Errorf("store face image: %w", err)
	}
	// The face file must not outlive a failed enrollment.
	committed := false
	defer func() {
		if !committed {
			os.Remove(facePath)
		}
	}()

	u := domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		FacePath:     facePath,
		RegisteredAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return RegisterResult{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO users(id,name,face_path,registered_at) VALUES (?,?,?,?)`,
		u.ID, u.Name, u.FacePath, u.RegisteredAt); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return RegisterResult{Message: "User already exists!", LivenessScore: score}, nil
		}
		return RegisterResult{}, fmt.Errorf("insert user: %w", err)
	}
	if actor == "" {
		actor = name
	}
	if err := e.Events.Append(ctx, tx, "user.registered", "user", u.ID, actor, events.EventPayload{"liveness_score": score}); err != nil {
		return RegisterResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return RegisterResult{}, err
	}
	committed = true

	return RegisterResult{
		Success:       true,
		Message:       fmt.Sprintf("User %s registered successfully!", name),
		UserID:        u.ID,
		LivenessScore: score,
	}, nil
}

// RecognizeResult is the structured outcome of an authentication attempt.
type RecognizeResult struct {
	Success       bool
	Message       string
	Name          string
	PunchType     string
	Confidence    float64
	LivenessScore float64
	Timestamp     string
}

// RecognizeFace matches an encoded still frame against the roster and, on a
// match, records the next punch for that user. The punch type alternates
// within a calendar day: no record yet means PUNCH-IN, a PUNCH-IN on top
// means PUNCH-OUT, anything else starts a new PUNCH-IN. actor is the
// authenticated caller recorded on the audit event; empty falls back to the
// matched name.
func (e Engine) RecognizeFace(ctx context.Context, actor string, frame []byte) (RecognizeResult, error) {
	if len(frame) == 0 {
		return RecognizeResult{}, errors.New("image is required")
	}
	img, err := recognizer.DecodeFrame(frame)
	if err != nil {
		return RecognizeResult{}, err
	}

	live, score := e.Recognizer.CheckLiveness(img)
	if !live {
		return RecognizeResult{
			Message:       fmt.Sprintf("Spoof detected! Liveness score: %.2f", score),
			LivenessScore: score,
		}, nil
	}

	users, err := e.Repo.ListUsers(ctx)
	if err != nil {
		return RecognizeResult{}, err
	}
	if len(users) == 0 {
		return RecognizeResult{Message: "No registered users found!", LivenessScore: score}, nil
	}

	var best *domain.User
	bestDistance := 1.0
	for i := range users {
		ref, err := recognizer.LoadFace(users[i].FacePath)
		if err != nil {
			continue
		}
		distance, verified, err := e.Recognizer.Matcher.Verify(img, ref)
		if err != nil || !verified {
			continue
		}
		if best == nil || distance < bestDistance {
			best = &users[i]
			bestDistance = distance
		}
	}
	if best == nil {
		return RecognizeResult{Message: "Face not recognized!", LivenessScore: score}, nil
	}

	confidence := 1 - bestDistance
	now := e.now().UTC()
	day := now.Format("2006-01-02")
	today, err := e.Repo.RecordsForDay(ctx, best.ID, day)
	if err != nil {
		return RecognizeResult{}, err
	}
	punchType := domain.PunchIn
	if len(today) > 0 && today[0].PunchType == domain.PunchIn {
		punchType = domain.PunchOut
	}

	rec := domain.AttendanceRecord{
		ID:            uuid.NewString(),
		UserID:        best.ID,
		PunchType:     punchType,
		Confidence:    confidence,
		LivenessScore: score,
		TS:            now.Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return RecognizeResult{}, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO attendance(id,user_id,punch_type,confidence,liveness_score,ts) VALUES (?,?,?,?,?,?)`,
		rec.ID, rec.UserID, rec.PunchType, rec.Confidence, rec.LivenessScore, rec.TS); err != nil {
		return RecognizeResult{}, fmt.Errorf("insert attendance: %w", err)
	}
	if actor == "" {
		actor = best.Name
	}
	if err := e.Events.Append(ctx, tx, "attendance.recorded", "attendance", rec.ID, actor, events.EventPayload{
		"punch_type": punchType,
		"confidence": confidence,
	}); err != nil {
		return RecognizeResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return RecognizeResult{}, err
	}

	return RecognizeResult{
		Success:       true,
		Message:       fmt.Sprintf("Welcome, %s", best.Name),
		Name:          best.Name,
		PunchType:     punchType,
		Confidence:    confidence,
		LivenessScore: score,
		Timestamp:     rec.TS,
	}, nil
}

// History returns attendance entries for the trailing day window.
func (e Engine) History(ctx context.Context, days int) ([]domain.HistoryEntry, error) {
	if days <= 0 {
		days = 7
	}
	since := e.now().UTC().AddDate(0, 0, -days).Format("2006-01-02")
	return e.Repo.History(ctx, since)
}

// CreateDeviceKey mints a new kiosk API key. The plaintext is returned once;
// only its hash is stored.
func (e Engine) CreateDeviceKey(ctx context.Context, deviceID, name string) (domain.APIKey, string, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return domain.APIKey{}, "", errors.New("device id is required")
	}
	plaintext := "flk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	key := domain.APIKey{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plaintext, nil
}

func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
