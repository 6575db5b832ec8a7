package service

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/provex-go-api/internal/dto"
	"github.com/noah-isme/provex-go-api/internal/models"
	"github.com/noah-isme/provex-go-api/internal/observability"
	"github.com/noah-isme/provex-go-api/internal/repository"
)

// ReconciliationService batch-repairs violations whose exam/student
// linkage is missing or inconsistent. Runs on demand, is idempotent, and
// is safe to run concurrently with live traffic because every write is a
// guarded conditional update.
type ReconciliationService interface {
	Run(ctx context.Context) (dto.ReconciliationSummary, error)
}

type reconciliationService struct {
	violations repository.ViolationRepository
	sessions   repository.ExamSessionRepository
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewReconciliationService constructs a ReconciliationService instance.
func NewReconciliationService(violations repository.ViolationRepository, sessions repository.ExamSessionRepository, logger zerolog.Logger) ReconciliationService {
	return &reconciliationService{
		violations: violations,
		sessions:   sessions,
		logger:     logger.With().Str("component", "reconciliation_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/provex-go-api/internal/service/reconciliation"),
		now:        time.Now,
	}
}

func (s *reconciliationService) Run(ctx context.Context) (dto.ReconciliationSummary, error) {
	spanCtx, span := s.tracer.Start(ctx, "reconciliation.run")
	defer span.End()

	summary := dto.ReconciliationSummary{}

	if err := s.backfillMissingExams(spanCtx, &summary); err != nil {
		return dto.ReconciliationSummary{}, err
	}

	if err := s.repairMismatchedPairs(spanCtx, &summary); err != nil {
		return dto.ReconciliationSummary{}, err
	}

	span.SetAttributes(
		attribute.Int("reconciliation.repaired", summary.Repaired),
		attribute.Int("reconciliation.skipped", summary.Skipped),
	)

	observability.ReconciliationRows().WithLabelValues("repaired").Add(float64(summary.Repaired))
	observability.ReconciliationRows().WithLabelValues("skipped").Add(float64(summary.Skipped))

	s.logger.Info().
		Int("repaired", summary.Repaired).
		Int("skipped", summary.Skipped).
		Msg("reconciliation run completed")

	return summary, nil
}

// backfillMissingExams resolves null exam ids from ranked session
// candidates. Rows with no candidate stay unresolved and count as skipped.
func (s *reconciliationService) backfillMissingExams(ctx context.Context, summary *dto.ReconciliationSummary) error {
	unlinked, err := s.violations.ListUnlinked(ctx)
	if err != nil {
		return err
	}

	now := s.now().UTC()

	for _, violation := range unlinked {
		sessions, err := s.sessions.ListForStudent(ctx, *violation.StudentID)
		if err != nil {
			return err
		}

		candidate, ok := bestCandidate(violation.Timestamp, sessions, now)
		if !ok {
			summary.Skipped++
			continue
		}

		changed, err := s.violations.AssignExam(ctx, violation.ID, candidate.ID)
		if err != nil {
			return err
		}
		if changed {
			summary.Repaired++
		} else {
			// A concurrent validator write resolved the row first.
			summary.Skipped++
		}
	}

	return nil
}

// repairMismatchedPairs overwrites student_id from the session, which is
// ground truth once exam_id was explicitly recorded.
func (s *reconciliationService) repairMismatchedPairs(ctx context.Context, summary *dto.ReconciliationSummary) error {
	mismatched, err := s.violations.ListMismatched(ctx)
	if err != nil {
		return err
	}

	for _, violation := range mismatched {
		session, err := s.sessions.GetByID(ctx, *violation.ExamID)
		if err != nil {
			summary.Skipped++
			s.logger.Warn().
				Uint("violation_id", violation.ID).
				Err(err).
				Msg("mismatched violation references missing exam session")
			continue
		}

		changed, err := s.violations.ReassignStudent(ctx, violation.ID, *violation.StudentID, session.StudentID)
		if err != nil {
			return err
		}
		if changed {
			summary.Repaired++
		} else {
			summary.Skipped++
		}
	}

	return nil
}

// bestCandidate ranks the student's sessions for a violation timestamp:
// sittings whose window covers the timestamp outrank the most-recent
// fallback; ties order by started_at descending with nulls last, then
// created_at descending. Pure function over a read-only snapshot.
func bestCandidate(ts time.Time, sessions []models.ExamSession, now time.Time) (models.ExamSession, bool) {
	if len(sessions) == 0 {
		return models.ExamSession{}, false
	}

	ranked := make([]models.ExamSession, len(sessions))
	copy(ranked, sessions)

	rank := func(session models.ExamSession) int {
		if session.Covers(ts, now) {
			return 1
		}
		return 2
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := rank(ranked[i]), rank(ranked[j])
		if ri != rj {
			return ri < rj
		}

		si, sj := ranked[i].StartedAt, ranked[j].StartedAt
		switch {
		case si != nil && sj != nil && !si.Equal(*sj):
			return si.After(*sj)
		case si != nil && sj == nil:
			return true
		case si == nil && sj != nil:
			return false
		}

		return ranked[i].CreatedAt.After(ranked[j].CreatedAt)
	})

	return ranked[0], true
}
