package models

import "time"

// ExamSessionStatus enumerates the lifecycle states of a sitting.
const (
	ExamSessionStatusNotStarted = "not_started"
	ExamSessionStatusInProgress = "in_progress"
	ExamSessionStatusCompleted  = "completed"
	ExamSessionStatusAbandoned  = "abandoned"
)

// ExamSession represents one sitting of one subject by one student.
// Lifecycle transitions are owned by the session collaborator; this core
// only reads sessions to validate and repair violation linkage.
type ExamSession struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	StudentID   uint       `gorm:"not null;index" json:"student_id"`
	Subject     string     `gorm:"size:255;not null" json:"subject"`
	Status      string     `gorm:"size:32;not null;default:not_started" json:"status"`
	StartedAt   *time.Time `gorm:"index" json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Student     Student    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// Covers reports whether ts falls inside the sitting window, using now as
// the upper bound while the session is still open.
func (s ExamSession) Covers(ts, now time.Time) bool {
	if s.StartedAt == nil || ts.Before(*s.StartedAt) {
		return false
	}

	end := now
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}

	return !ts.After(end)
}
