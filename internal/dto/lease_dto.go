package dto

import "time"

// HeartbeatRequest renews or claims the session lease for an exam attempt.
type HeartbeatRequest struct {
	ExamID       uint   `json:"exam_id" validate:"required"`
	StudentID    uint   `json:"student_id" validate:"required"`
	SessionToken string `json:"session_token" validate:"required,max=64"`
}

// ReleaseRequest explicitly gives up the lease, e.g. on exam submission.
type ReleaseRequest struct {
	ExamID       uint   `json:"exam_id" validate:"required"`
	StudentID    uint   `json:"student_id" validate:"required"`
	SessionToken string `json:"session_token" validate:"required,max=64"`
}

// HeartbeatResponse reports the lease state after processing a heartbeat.
// MultipleSessionsDetected is an advisory condition, never an error: the
// policy layer decides whether to warn or block.
type HeartbeatResponse struct {
	State                    string `json:"state"`
	Accepted                 bool   `json:"accepted"`
	MultipleSessionsDetected bool   `json:"multiple_sessions_detected"`
	DistinctTokens           int64  `json:"distinct_tokens"`
}

// LeaseStatusResponse answers the session-status query for UI warnings.
type LeaseStatusResponse struct {
	ExamID                   uint       `json:"exam_id"`
	StudentID                uint       `json:"student_id"`
	State                    string     `json:"state"`
	LastHeartbeatAt          *time.Time `json:"last_heartbeat_at,omitempty"`
	DistinctTokens           int64      `json:"distinct_tokens"`
	MultipleSessionsDetected bool       `json:"multiple_sessions_detected"`
}

// ContestedLeaseEvent is broadcast whenever a second live token is
// observed for a pair. Source identifies the emitting node so consumers
// can drop their own echoes.
type ContestedLeaseEvent struct {
	ExamID         uint      `json:"exam_id"`
	StudentID      uint      `json:"student_id"`
	ObservedToken  string    `json:"observed_token"`
	HolderToken    string    `json:"holder_token"`
	DistinctTokens int64     `json:"distinct_tokens"`
	DetectedAt     time.Time `json:"detected_at"`
	Source         string    `json:"source,omitempty"`
}
