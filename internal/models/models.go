package models

import "time"

type CommandAction string

const (
	CommandStart CommandAction = "start"
	CommandStop  CommandAction = "stop"
)

// SessionCommand starts or stops monitoring of one video source.
type SessionCommand struct {
	SessionID   string        `json:"session_id"`
	Action      CommandAction `json:"action"`
	VideoSource string        `json:"video_source"`
}

type Heartbeat struct {
	SessionID   string        `json:"session_id"`
	Action      CommandAction `json:"action"`
	Frame       int64         `json:"frame"`
	AlertActive bool          `json:"alert_active"`
	Counter     int           `json:"counter"`
	TimeStamp   time.Time     `json:"timestamp"`
}

// Session is the persisted record of a monitoring session.
type Session struct {
	ID          string        `json:"id"`
	Action      CommandAction `json:"action"`
	VideoSource string        `json:"video_source"`
	PPEEnabled  bool          `json:"ppe_enabled"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// AuditRecord is one row of the append-only audit trail.
type AuditRecord struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`
	EventType string    `json:"event_type"`
	Details   string    `json:"details"`
	Count     int       `json:"count"`
}

// SceneRequest asks the scene-analysis service for a broad hazard assessment.
type SceneRequest struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Reason      string    `json:"trigger_reason"`
	SnapshotRef string    `json:"snapshot_ref"`
	RequestedAt time.Time `json:"requested_at"`
}
