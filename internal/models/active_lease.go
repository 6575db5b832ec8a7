package models

import "time"

// LeaseState describes the recognised states of a session lease.
const (
	LeaseStateUnclaimed = "unclaimed"
	LeaseStateActive    = "active"
	LeaseStateContested = "contested"
	LeaseStateExpired   = "expired"
	LeaseStateReleased  = "released"
)

// ActiveLease records the currently recognised live exam-taking session
// for a (exam, student) pair. At most one row exists per pair; the unique
// index is the durable form of that invariant.
type ActiveLease struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ExamID          uint      `gorm:"not null;uniqueIndex:idx_lease_pair" json:"exam_id"`
	StudentID       uint      `gorm:"not null;uniqueIndex:idx_lease_pair" json:"student_id"`
	SessionToken    string    `gorm:"size:64;not null" json:"session_token"`
	LastHeartbeatAt time.Time `gorm:"not null" json:"last_heartbeat_at"`
	IsActive        bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ExpiredAt reports whether the lease missed its heartbeat window as of now.
func (l ActiveLease) ExpiredAt(now time.Time, window time.Duration) bool {
	return now.Sub(l.LastHeartbeatAt) > window
}
