package gamedto

import "time"

// SessionInfo summarizes one session for the presentation layer.
type SessionInfo struct {
	SessionID  string            `json:"session_id"`
	Surface    string            `json:"surface"`
	State      string            `json:"state"`
	Camp       int               `json:"camp"`
	Mode       string            `json:"mode"`
	Extensions map[string]string `json:"extensions,omitempty"`
}

// GameResult is the final outcome forwarded to the presentation layer
// and, when a recorder is attached, persisted.
type GameResult struct {
	SessionID string    `json:"session_id"`
	Surface   string    `json:"surface"`
	Camp      int       `json:"camp"`
	Winner    int       `json:"winner"`
	Reason    string    `json:"reason,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}
