package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/provex-go-api/internal/dto"
	"github.com/noah-isme/provex-go-api/internal/models"
	"github.com/noah-isme/provex-go-api/internal/observability"
	"github.com/noah-isme/provex-go-api/internal/repository"
)

// ErrRollupNotFound indicates no rollup exists for the exam yet.
var ErrRollupNotFound = errors.New("rollup not found for exam")

// RollupService maintains the derived per-exam violation summary. It is a
// read optimisation: the view is rebuilt from scratch on every refresh
// and staleness between refreshes is acceptable.
type RollupService interface {
	Refresh(ctx context.Context) (dto.RollupRefreshResponse, error)
	Get(ctx context.Context, examID uint) (dto.RollupResponse, error)
}

type rollupService struct {
	violations repository.ViolationRepository
	rollups    repository.ViolationRollupRepository
	cache      *redis.Client
	ttl        time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

// NewRollupService constructs a RollupService instance.
func NewRollupService(violations repository.ViolationRepository, rollups repository.ViolationRollupRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) RollupService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &rollupService{
		violations: violations,
		rollups:    rollups,
		cache:      cache,
		ttl:        ttl,
		logger:     logger.With().Str("component", "rollup_service").Logger(),
		now:        time.Now,
	}
}

type rollupAccumulator struct {
	count   int
	types   map[string]struct{}
	firstAt time.Time
	lastAt  time.Time
}

func (s *rollupService) Refresh(ctx context.Context) (dto.RollupRefreshResponse, error) {
	start := time.Now()
	defer func() {
		observability.RollupRefreshSeconds().Observe(time.Since(start).Seconds())
	}()

	linked, err := s.violations.ListLinked(ctx)
	if err != nil {
		return dto.RollupRefreshResponse{}, err
	}

	byExam := make(map[uint]*rollupAccumulator)
	for _, violation := range linked {
		acc, ok := byExam[*violation.ExamID]
		if !ok {
			acc = &rollupAccumulator{
				types:   make(map[string]struct{}),
				firstAt: violation.Timestamp,
				lastAt:  violation.Timestamp,
			}
			byExam[*violation.ExamID] = acc
		}

		acc.count++
		acc.types[violation.ViolationType] = struct{}{}
		if violation.Timestamp.Before(acc.firstAt) {
			acc.firstAt = violation.Timestamp
		}
		if violation.Timestamp.After(acc.lastAt) {
			acc.lastAt = violation.Timestamp
		}
	}

	refreshedAt := s.now().UTC()
	rollups := make([]models.ViolationRollup, 0, len(byExam))
	for examID, acc := range byExam {
		types := make([]string, 0, len(acc.types))
		for violationType := range acc.types {
			types = append(types, violationType)
		}
		sort.Strings(types)

		firstAt := acc.firstAt
		lastAt := acc.lastAt
		rollups = append(rollups, models.ViolationRollup{
			ExamID:         examID,
			ViolationCount: acc.count,
			DistinctTypes:  strings.Join(types, ","),
			FirstAt:        &firstAt,
			LastAt:         &lastAt,
			RefreshedAt:    refreshedAt,
		})
	}

	sort.Slice(rollups, func(i, j int) bool { return rollups[i].ExamID < rollups[j].ExamID })

	if err := s.rollups.ReplaceAll(ctx, rollups); err != nil {
		return dto.RollupRefreshResponse{}, err
	}

	s.invalidateCache(ctx, rollups)

	s.logger.Info().Int("exams", len(rollups)).Msg("violation rollup refreshed")

	return dto.RollupRefreshResponse{Exams: len(rollups), RefreshedAt: refreshedAt}, nil
}

func (s *rollupService) Get(ctx context.Context, examID uint) (dto.RollupResponse, error) {
	cacheKey := s.cacheKey(examID)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil && cached != "" {
			var response dto.RollupResponse
			if err := json.Unmarshal([]byte(cached), &response); err == nil {
				response.CacheHit = true
				return response, nil
			}
		}
	}

	rollup, err := s.rollups.GetByExam(ctx, examID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.RollupResponse{}, ErrRollupNotFound
		}
		return dto.RollupResponse{}, err
	}

	response := dto.NewRollupResponse(rollup)

	if s.cache != nil {
		if payload, err := json.Marshal(response); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.ttl).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to write rollup cache")
			}
		}
	}

	return response, nil
}

func (s *rollupService) invalidateCache(ctx context.Context, rollups []models.ViolationRollup) {
	if s.cache == nil || len(rollups) == 0 {
		return
	}

	keys := make([]string, 0, len(rollups))
	for _, rollup := range rollups {
		keys = append(keys, s.cacheKey(rollup.ExamID))
	}

	if err := s.cache.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate rollup cache")
	}
}

func (s *rollupService) cacheKey(examID uint) string {
	return fmt.Sprintf("rollup:exam:v1:%d", examID)
}
