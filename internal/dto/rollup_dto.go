package dto

import (
	"time"

	"github.com/noah-isme/provex-go-api/internal/models"
)

// RollupResponse is the per-exam violation summary served from the
// aggregation view.
type RollupResponse struct {
	ExamID         uint       `json:"exam_id"`
	ViolationCount int        `json:"violation_count"`
	DistinctTypes  []string   `json:"distinct_types"`
	FirstAt        *time.Time `json:"first_at"`
	LastAt         *time.Time `json:"last_at"`
	RefreshedAt    time.Time  `json:"refreshed_at"`
	CacheHit       bool       `json:"cache_hit"`
}

// RollupRefreshResponse reports the outcome of a manual view rebuild.
type RollupRefreshResponse struct {
	Exams       int       `json:"exams"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// NewRollupResponse maps a rollup model onto its API representation.
func NewRollupResponse(rollup models.ViolationRollup) RollupResponse {
	return RollupResponse{
		ExamID:         rollup.ExamID,
		ViolationCount: rollup.ViolationCount,
		DistinctTypes:  rollup.TypesSlice(),
		FirstAt:        rollup.FirstAt,
		LastAt:         rollup.LastAt,
		RefreshedAt:    rollup.RefreshedAt,
	}
}
