package dto

import (
	"time"

	"github.com/noah-isme/provex-go-api/internal/models"
)

// SnapshotCreateRequest records the preflight diagnostic for an attempt.
// The tab token seeds the first lease heartbeat of the attempt.
type SnapshotCreateRequest struct {
	StudentID   uint                   `json:"student_id" validate:"required"`
	ExamID      uint                   `json:"exam_id" validate:"required"`
	ScreenOK    bool                   `json:"screen_ok"`
	NetworkOK   bool                   `json:"network_ok"`
	AudioOK     bool                   `json:"audio_ok"`
	LightingOK  bool                   `json:"lighting_ok"`
	TabToken    string                 `json:"tab_token" validate:"required,max=64"`
	Diagnostics map[string]interface{} `json:"diagnostics"`
}

// SnapshotResponse is the API representation of a stored snapshot.
type SnapshotResponse struct {
	ID          uint                   `json:"id"`
	StudentID   uint                   `json:"student_id"`
	ExamID      uint                   `json:"exam_id"`
	ScreenOK    bool                   `json:"screen_ok"`
	NetworkOK   bool                   `json:"network_ok"`
	AudioOK     bool                   `json:"audio_ok"`
	LightingOK  bool                   `json:"lighting_ok"`
	Passed      bool                   `json:"passed"`
	TabToken    string                 `json:"tab_token"`
	Diagnostics map[string]interface{} `json:"diagnostics,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// NewSnapshotResponse maps a model onto its API representation.
func NewSnapshotResponse(snapshot models.CompatibilitySnapshot) SnapshotResponse {
	return SnapshotResponse{
		ID:          snapshot.ID,
		StudentID:   snapshot.StudentID,
		ExamID:      snapshot.ExamID,
		ScreenOK:    snapshot.ScreenOK,
		NetworkOK:   snapshot.NetworkOK,
		AudioOK:     snapshot.AudioOK,
		LightingOK:  snapshot.LightingOK,
		Passed:      snapshot.Passed(),
		TabToken:    snapshot.TabToken,
		Diagnostics: map[string]interface{}(snapshot.Diagnostics),
		CreatedAt:   snapshot.CreatedAt,
	}
}
