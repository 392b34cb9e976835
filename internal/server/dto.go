package server

import (
	"encoding/base64"
	"errors"
	"strings"
)

// Request payloads

type RegisterRequest struct {
	Name  string `json:"name"`
	Image string `json:"image" doc:"Base64 still image, bare or data-URL wrapped"`
}

type AuthenticateRequest struct {
	Image string `json:"image" doc:"Base64 still image, bare or data-URL wrapped"`
}

// Response payloads

type RegisterResponse struct {
	Success       bool    `json:"success"`
	Message       string  `json:"message"`
	UserID        string  `json:"user_id,omitempty"`
	LivenessScore float64 `json:"liveness_score,omitempty"`
}

type AuthenticateResponse struct {
	Success       bool    `json:"success"`
	Message       string  `json:"message"`
	Name          string  `json:"name,omitempty"`
	PunchType     string  `json:"punch_type,omitempty" enum:"PUNCH-IN,PUNCH-OUT,"`
	Confidence    float64 `json:"confidence,omitempty" minimum:"0" maximum:"1"`
	LivenessScore float64 `json:"liveness_score,omitempty"`
	Timestamp     string  `json:"timestamp,omitempty" format:"date-time"`
}

type UserSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type UsersResponse struct {
	Success bool          `json:"success"`
	Users   []UserSummary `json:"users"`
}

type HistoryEntryResponse struct {
	Name       string  `json:"name"`
	PunchType  string  `json:"punch_type"`
	Timestamp  string  `json:"timestamp" format:"date-time"`
	Confidence float64 `json:"confidence"`
}

type HistoryResponse struct {
	Success bool                   `json:"success"`
	History []HistoryEntryResponse `json:"history"`
}

// decodeImageField accepts either a bare base64 payload or a data URL
// ("data:image/jpeg;base64,...") and returns the raw image bytes.
func decodeImageField(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("image is required")
	}
	if strings.HasPrefix(value, "data:") {
		idx := strings.Index(value, ",")
		if idx < 0 {
			return nil, errors.New("invalid data url")
		}
		value = value[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, errors.New("invalid image encoding")
	}
	return data, nil
}
