package models

import (
	"time"

	"gorm.io/datatypes"
)

// CompatibilitySnapshot is the one-shot preflight diagnostic captured
// before an exam attempt. Write-once per (student, exam) pair; the
// embedded tab token seeds the first session lease heartbeat.
type CompatibilitySnapshot struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	StudentID   uint              `gorm:"not null;uniqueIndex:idx_snapshot_attempt" json:"student_id"`
	ExamID      uint              `gorm:"not null;uniqueIndex:idx_snapshot_attempt" json:"exam_id"`
	ScreenOK    bool              `gorm:"not null;default:false" json:"screen_ok"`
	NetworkOK   bool              `gorm:"not null;default:false" json:"network_ok"`
	AudioOK     bool              `gorm:"not null;default:false" json:"audio_ok"`
	LightingOK  bool              `gorm:"not null;default:false" json:"lighting_ok"`
	TabToken    string            `gorm:"size:64;not null" json:"tab_token"`
	Diagnostics datatypes.JSONMap `gorm:"type:json" json:"diagnostics"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Passed reports whether every preflight check succeeded.
func (s CompatibilitySnapshot) Passed() bool {
	return s.ScreenOK && s.NetworkOK && s.AudioOK && s.LightingOK
}
