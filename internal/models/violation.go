package models

import (
	"time"

	"gorm.io/datatypes"
)

// Violation is an observed rule infraction reported by the capture
// collaborator. ExamID and StudentID may arrive partially filled; the
// linkage validator resolves them before commit and the reconciliation
// job repairs historical rows. End users never mutate violations.
type Violation struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	ExamID        *uint             `gorm:"index" json:"exam_id"`
	StudentID     *uint             `gorm:"index" json:"student_id"`
	ViolationType string            `gorm:"size:64;not null" json:"violation_type"`
	Timestamp     time.Time         `gorm:"not null;index" json:"timestamp"`
	Details       datatypes.JSONMap `gorm:"type:json" json:"details"`
	Note          string            `gorm:"type:text" json:"note"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Linked reports whether both identifiers are present.
func (v Violation) Linked() bool {
	return v.ExamID != nil && v.StudentID != nil
}
