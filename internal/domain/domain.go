package domain

// Punch types for attendance records. A day alternates PUNCH-IN / PUNCH-OUT
// per user, starting with PUNCH-IN.
const (
	PunchIn  = "PUNCH-IN"
	PunchOut = "PUNCH-OUT"
)

type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	FacePath     string `json:"face_path,omitempty"`
	RegisteredAt string `json:"registered_at" format:"date-time"`
}

type AttendanceRecord struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	PunchType     string  `json:"punch_type" enum:"PUNCH-IN,PUNCH-OUT"`
	Confidence    float64 `json:"confidence"`
	LivenessScore float64 `json:"liveness_score"`
	TS            string  `json:"ts" format:"date-time"`
}

// HistoryEntry is an attendance row joined with its user name, as served by
// the history endpoint.
type HistoryEntry struct {
	Name       string  `json:"name"`
	PunchType  string  `json:"punch_type" enum:"PUNCH-IN,PUNCH-OUT"`
	Timestamp  string  `json:"timestamp" format:"date-time"`
	Confidence float64 `json:"confidence"`
}

type APIKey struct {
	ID        string `json:"id"`
	DeviceID  string `json:"device_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
