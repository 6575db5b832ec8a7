package models

import (
	"strings"
	"time"
)

// ViolationRollup is the derived per-exam violation summary. It is a read
// optimisation rebuilt from the violations table on every refresh, never a
// source of truth.
type ViolationRollup struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ExamID         uint       `gorm:"not null;uniqueIndex" json:"exam_id"`
	ViolationCount int        `gorm:"not null" json:"violation_count"`
	DistinctTypes  string     `gorm:"type:text" json:"distinct_types"`
	FirstAt        *time.Time `json:"first_at"`
	LastAt         *time.Time `json:"last_at"`
	RefreshedAt    time.Time  `gorm:"not null" json:"refreshed_at"`
}

// TypesSlice returns the distinct violation types as a slice of strings.
func (r ViolationRollup) TypesSlice() []string {
	if r.DistinctTypes == "" {
		return nil
	}

	parts := strings.Split(r.DistinctTypes, ",")
	types := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			types = append(types, trimmed)
		}
	}
	return types
}
