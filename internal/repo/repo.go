package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"faceline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,face_path,registered_at) VALUES (?,?,?,?)`,
		u.ID, u.Name, u.FacePath, u.RegisteredAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.FacePath, &u.RegisteredAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,name,face_path,registered_at FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByName(ctx context.Context, name string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,name,face_path,registered_at FROM users WHERE name=?`, name))
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,face_path,registered_at FROM users ORDER BY registered_at ASC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.FacePath, &u.RegisteredAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (r Repo) DeleteUser(ctx context.Context, id string) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM attendance WHERE user_id=?`, id); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	return err
}

func (r Repo) InsertAttendance(ctx context.Context, rec domain.AttendanceRecord) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO attendance(id,user_id,punch_type,confidence,liveness_score,ts) VALUES (?,?,?,?,?,?)`,
		rec.ID, rec.UserID, rec.PunchType, rec.Confidence, rec.LivenessScore, rec.TS)
	return err
}

// RecordsForDay returns a user's attendance records for one calendar day
// (ISO date, e.g. 2024-01-01), newest first. Timestamps are stored RFC3339 so
// the date is a string prefix.
func (r Repo) RecordsForDay(ctx context.Context, userID, day string) ([]domain.AttendanceRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,punch_type,confidence,liveness_score,ts FROM attendance
		WHERE user_id=? AND substr(ts,1,10)=? ORDER BY ts DESC, rowid DESC`, userID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AttendanceRecord
	for rows.Next() {
		var rec domain.AttendanceRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.PunchType, &rec.Confidence, &rec.LivenessScore, &rec.TS); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// History returns attendance joined with user names since the given ISO date
// (inclusive), newest first.
func (r Repo) History(ctx context.Context, sinceDay string) ([]domain.HistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT u.name, a.punch_type, a.ts, a.confidence
		FROM attendance a JOIN users u ON a.user_id = u.id
		WHERE substr(a.ts,1,10) >= ?
		ORDER BY a.ts DESC, a.rowid DESC`, sinceDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryEntry
	for rows.Next() {
		var h domain.HistoryEntry
		if err := rows.Scan(&h.Name, &h.PunchType, &h.Timestamp, &h.Confidence); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}
