package dto

import (
	"time"

	"github.com/noah-isme/provex-go-api/internal/models"
)

// Link outcomes reported back to the capture collaborator.
const (
	LinkOutcomeLinked     = "linked"
	LinkOutcomeUnresolved = "unresolved"
)

// Review reasons surfaced by the operator issues query.
const (
	ReviewReasonUnresolvedLink  = "unresolved_link"
	ReviewReasonLinkageMismatch = "linkage_mismatch"
)

// ViolationCreateRequest is the capture collaborator's write payload.
// ExamID and StudentID may be partial; the core resolves and validates them.
type ViolationCreateRequest struct {
	ExamID        *uint                  `json:"exam_id"`
	StudentID     *uint                  `json:"student_id"`
	ViolationType string                 `json:"violation_type" validate:"required,max=64"`
	Timestamp     time.Time              `json:"timestamp" validate:"required"`
	Note          string                 `json:"note" validate:"max=2000"`
	Details       map[string]interface{} `json:"details"`
}

// ViolationUpdateRequest re-links an existing violation. Nil fields keep
// their stored value; the same linkage validation applies before commit.
type ViolationUpdateRequest struct {
	ExamID    *uint `json:"exam_id"`
	StudentID *uint `json:"student_id"`
}

// ViolationResponse is the API representation of a violation record.
type ViolationResponse struct {
	ID            uint                   `json:"id"`
	ExamID        *uint                  `json:"exam_id"`
	StudentID     *uint                  `json:"student_id"`
	ViolationType string                 `json:"violation_type"`
	Timestamp     time.Time              `json:"timestamp"`
	Note          string                 `json:"note,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
	LinkOutcome   string                 `json:"link_outcome"`
	CreatedAt     time.Time              `json:"created_at"`
}

// ViolationReviewItem is one row of the "violations needing review" query.
type ViolationReviewItem struct {
	Violation ViolationResponse `json:"violation"`
	Reason    string            `json:"reason"`
}

// NewViolationResponse maps a model onto its API representation.
func NewViolationResponse(violation models.Violation, outcome string) ViolationResponse {
	return ViolationResponse{
		ID:            violation.ID,
		ExamID:        violation.ExamID,
		StudentID:     violation.StudentID,
		ViolationType: violation.ViolationType,
		Timestamp:     violation.Timestamp,
		Note:          violation.Note,
		Details:       map[string]interface{}(violation.Details),
		LinkOutcome:   outcome,
		CreatedAt:     violation.CreatedAt,
	}
}
