package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/provex-go-api/internal/dto"
	"github.com/noah-isme/provex-go-api/internal/models"
	"github.com/noah-isme/provex-go-api/internal/observability"
	"github.com/noah-isme/provex-go-api/internal/repository"
)

// ErrLeaseNotHeld indicates a release carried a token that does not hold the lease.
var ErrLeaseNotHeld = errors.New("lease is not held by this session token")

const defaultLeaseExpiry = 30 * time.Second

// LeaseService enforces the single-active-session invariant per
// (exam, student) pair. Detection is advisory: contested leases are
// reported, never evicted, and arbitration between live tabs belongs to
// the liveness detector running in the browsing contexts.
type LeaseService interface {
	Heartbeat(ctx context.Context, payload dto.HeartbeatRequest) (dto.HeartbeatResponse, error)
	Release(ctx context.Context, payload dto.ReleaseRequest) error
	Status(ctx context.Context, examID, studentID uint) (dto.LeaseStatusResponse, error)
}

type leaseService struct {
	leases    repository.ActiveLeaseRepository
	redis     *redis.Client
	sink      ContestedEventSink
	expiry    time.Duration
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewLeaseService constructs a LeaseService instance.
func NewLeaseService(leases repository.ActiveLeaseRepository, redisClient *redis.Client, sink ContestedEventSink, expiry time.Duration, validate *validator.Validate, logger zerolog.Logger) LeaseService {
	if expiry <= 0 {
		expiry = defaultLeaseExpiry
	}

	return &leaseService{
		leases:    leases,
		redis:     redisClient,
		sink:      sink,
		expiry:    expiry,
		validator: validate,
		logger:    logger.With().Str("component", "lease_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/provex-go-api/internal/service/lease"),
		now:       time.Now,
	}
}

func (s *leaseService) Heartbeat(ctx context.Context, payload dto.HeartbeatRequest) (dto.HeartbeatResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.HeartbeatResponse{}, err
	}

	spanCtx, span := s.tracer.Start(ctx, "leases.heartbeat", trace.WithAttributes(
		attribute.Int("lease.exam_id", int(payload.ExamID)),
		attribute.Int("lease.student_id", int(payload.StudentID)),
	))
	defer span.End()

	now := s.now().UTC()

	lease, err := s.leases.GetByPair(spanCtx, payload.ExamID, payload.StudentID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.HeartbeatResponse{}, err
		}
		return s.claim(spanCtx, payload, now)
	}

	switch {
	case lease.SessionToken == payload.SessionToken:
		if err := s.leases.Touch(spanCtx, lease.ID, now); err != nil {
			return dto.HeartbeatResponse{}, err
		}
		s.trackToken(spanCtx, payload.ExamID, payload.StudentID, payload.SessionToken)
		observability.LeaseHeartbeats().WithLabelValues("renewed").Inc()
		return dto.HeartbeatResponse{State: models.LeaseStateActive, Accepted: true, DistinctTokens: 1}, nil

	case !lease.IsActive || lease.ExpiredAt(now, s.expiry):
		// Released or expired slots are reclaimed without contention.
		lease.SessionToken = payload.SessionToken
		lease.LastHeartbeatAt = now
		lease.IsActive = true
		if err := s.leases.Save(spanCtx, &lease); err != nil {
			return dto.HeartbeatResponse{}, err
		}
		s.resetTokens(spanCtx, payload.ExamID, payload.StudentID)
		s.trackToken(spanCtx, payload.ExamID, payload.StudentID, payload.SessionToken)
		observability.LeaseHeartbeats().WithLabelValues("reclaimed").Inc()
		return dto.HeartbeatResponse{State: models.LeaseStateActive, Accepted: true, DistinctTokens: 1}, nil

	default:
		return s.contest(spanCtx, lease, payload, now)
	}
}

// claim creates the lease row for an unclaimed pair. Losing a creation
// race against another context simply turns this heartbeat into a
// contested one on the next attempt.
func (s *leaseService) claim(ctx context.Context, payload dto.HeartbeatRequest, now time.Time) (dto.HeartbeatResponse, error) {
	lease := models.ActiveLease{
		ExamID:          payload.ExamID,
		StudentID:       payload.StudentID,
		SessionToken:    payload.SessionToken,
		LastHeartbeatAt: now,
		IsActive:        true,
	}

	if err := s.leases.Create(ctx, &lease); err != nil {
		existing, getErr := s.leases.GetByPair(ctx, payload.ExamID, payload.StudentID)
		if getErr != nil {
			return dto.HeartbeatResponse{}, err
		}
		if existing.SessionToken != payload.SessionToken {
			return s.contest(ctx, existing, payload, now)
		}
		lease = existing
	}

	s.trackToken(ctx, payload.ExamID, payload.StudentID, payload.SessionToken)
	observability.LeaseHeartbeats().WithLabelValues("granted").Inc()

	s.logger.Info().
		Uint("exam_id", payload.ExamID).
		Uint("student_id", payload.StudentID).
		Msg("session lease granted")

	return dto.HeartbeatResponse{State: models.LeaseStateActive, Accepted: true, DistinctTokens: 1}, nil
}

// contest records a second live token for the pair and reports the
// condition. The holder is never evicted here.
func (s *leaseService) contest(ctx context.Context, lease models.ActiveLease, payload dto.HeartbeatRequest, now time.Time) (dto.HeartbeatResponse, error) {
	s.trackToken(ctx, payload.ExamID, payload.StudentID, lease.SessionToken)
	s.trackToken(ctx, payload.ExamID, payload.StudentID, payload.SessionToken)

	count := s.distinctTokens(ctx, payload.ExamID, payload.StudentID)
	if count < 2 {
		// Two live tokens were just observed even if the set is unavailable.
		count = 2
	}

	observability.LeaseHeartbeats().WithLabelValues("contested").Inc()
	observability.LeaseContested().Inc()

	s.logger.Warn().
		Uint("exam_id", payload.ExamID).
		Uint("student_id", payload.StudentID).
		Int64("distinct_tokens", count).
		Msg("multiple sessions detected for exam attempt")

	if s.sink != nil {
		s.sink.Broadcast(ctx, dto.ContestedLeaseEvent{
			ExamID:         payload.ExamID,
			StudentID:      payload.StudentID,
			ObservedToken:  payload.SessionToken,
			HolderToken:    lease.SessionToken,
			DistinctTokens: count,
			DetectedAt:     now,
		})
	}

	return dto.HeartbeatResponse{
		State:                    models.LeaseStateContested,
		Accepted:                 false,
		MultipleSessionsDetected: true,
		DistinctTokens:           count,
	}, nil
}

func (s *leaseService) Release(ctx context.Context, payload dto.ReleaseRequest) error {
	if err := s.validator.Struct(payload); err != nil {
		return err
	}

	lease, err := s.leases.GetByPair(ctx, payload.ExamID, payload.StudentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	if lease.SessionToken != payload.SessionToken {
		return ErrLeaseNotHeld
	}

	if err := s.leases.Deactivate(ctx, lease.ID); err != nil {
		return err
	}

	s.resetTokens(ctx, payload.ExamID, payload.StudentID)
	observability.LeaseHeartbeats().WithLabelValues("released").Inc()

	s.logger.Info().
		Uint("exam_id", payload.ExamID).
		Uint("student_id", payload.StudentID).
		Msg("session lease released")

	return nil
}

func (s *leaseService) Status(ctx context.Context, examID, studentID uint) (dto.LeaseStatusResponse, error) {
	response := dto.LeaseStatusResponse{ExamID: examID, StudentID: studentID, State: models.LeaseStateUnclaimed}

	lease, err := s.leases.GetByPair(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response, nil
		}
		return dto.LeaseStatusResponse{}, err
	}

	now := s.now().UTC()
	lastHeartbeat := lease.LastHeartbeatAt
	response.LastHeartbeatAt = &lastHeartbeat
	response.DistinctTokens = s.distinctTokens(ctx, examID, studentID)

	switch {
	case !lease.IsActive:
		response.State = models.LeaseStateReleased
	case lease.ExpiredAt(now, s.expiry):
		response.State = models.LeaseStateExpired
	case response.DistinctTokens > 1:
		response.State = models.LeaseStateContested
		response.MultipleSessionsDetected = true
	default:
		response.State = models.LeaseStateActive
	}

	return response, nil
}

// trackToken records an observed token in a per-pair Redis set whose TTL
// matches the lease expiry, so the distinct-token count decays with the
// contest itself.
func (s *leaseService) trackToken(ctx context.Context, examID, studentID uint, token string) {
	if s.redis == nil {
		return
	}

	key := s.tokenKey(examID, studentID)
	if err := s.redis.SAdd(ctx, key, token).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to track session token")
		return
	}
	if err := s.redis.Expire(ctx, key, s.expiry).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to expire session token set")
	}
}

func (s *leaseService) distinctTokens(ctx context.Context, examID, studentID uint) int64 {
	if s.redis == nil {
		return 1
	}

	count, err := s.redis.SCard(ctx, s.tokenKey(examID, studentID)).Result()
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to count session tokens")
		return 1
	}
	if count < 1 {
		count = 1
	}
	return count
}

func (s *leaseService) resetTokens(ctx context.Context, examID, studentID uint) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, s.tokenKey(examID, studentID)).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to reset session token set")
	}
}

func (s *leaseService) tokenKey(examID, studentID uint) string {
	return fmt.Sprintf("lease:tokens:v1:%d:%d", examID, studentID)
}
