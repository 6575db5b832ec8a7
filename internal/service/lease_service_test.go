package service

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/provex-go-api/internal/dto"
	"github.com/noah-isme/provex-go-api/internal/models"
	"github.com/noah-isme/provex-go-api/internal/repository"
)

type recordingSink struct {
	mu     sync.Mutex
	events []dto.ContestedLeaseEvent
}

func (s *recordingSink) Broadcast(_ context.Context, event dto.ContestedLeaseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) all() []dto.ContestedLeaseEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dto.ContestedLeaseEvent(nil), s.events...)
}

func newLeaseFixture(t *testing.T, name string, expiry time.Duration) (LeaseService, *recordingSink) {
	t.Helper()

	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)

	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})

	db := newTestDB(t, name)
	sink := &recordingSink{}
	svc := NewLeaseService(repository.NewActiveLeaseRepository(db), redisClient, sink, expiry, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())

	return svc, sink
}

func TestLeaseHeartbeatClaimAndRenew(t *testing.T) {
	svc, sink := newLeaseFixture(t, "lease_claim", 30*time.Second)
	ctx := context.Background()

	first, err := svc.Heartbeat(ctx, dto.HeartbeatRequest{ExamID: 1, StudentID: 2, SessionToken: "tab-a"})
	require.NoError(t, err)
	require.Equal(t, models.LeaseStateActive, first.State)
	require.True(t, first.Accepted)
	require.False(t, first.MultipleSessionsDetected)
	require.EqualValues(t, 1, first.DistinctTokens)

	renewed, err := svc.Heartbeat(ctx, dto.HeartbeatRequest{ExamID: 1, StudentID: 2, SessionToken: "tab-a"})
	require.NoError(t, err)
	require.Equal(t, models.LeaseStateActive, renewed.State)
	require.True(t, renewed.Accepted)
	require.Empty(t, sink.all())

	status, err := svc.Status(ctx, 1, 2)
	require.NoError(t, err)
	require.Equal(t, models.LeaseStateActive, status.State)
	require.False(t, status.MultipleSessionsDetected)
	require.NotNil(t, status.LastHeartbeatAt)
}

func TestLeaseHeartbeatDetectsSecondSession(t *testing.T) {
	svc, sink := newLeaseFixture(t, "lease_contested", 30*time.Second)
	ctx := context.Background()

	_, err := svc.Heartbeat(ctx, dto.HeartbeatRequest{ExamID: 3, StudentID: 4, SessionToken: "tab-a"})
	require.NoError(t, err)

	contested, err := svc.Heartbeat(ctx, dto.HeartbeatRequest{ExamID: 3, StudentID: 4, SessionToken: "tab-b"})
	require.NoError(t, err)
	require.Equal(t, models.LeaseStateContested, contested.State)
	require.False(t, contested.Accepted)
	require.True(t, contested.MultipleSessionsDetected)
	require.EqualValues(t, 2, contested.DistinctTokens)

	// The holder is never evicted: its heartbeat still renews.
	renewed, err := svc.Heartbeat(ctx, dto.HeartbeatRequest{ExamID: 3, StudentID: 4, SessionToken: "tab-a"})
	require.NoError(t, err)
	require.True(t, renewed.Accepted)

	events := sink.all()
	require.Len(t, events, 1)
	require.Equal(t, uint(3), events[0].ExamID)
	require.Equal(t, "tab-b", events[0].ObservedToken)
	require.Equal(t, "tab-a", events[0].HolderToken)
	require.EqualValues(t, 2, events[0].DistinctTokens)

	status, err := svc.Status(ctx, 3, 4)
	require.NoError(t, err)
	require.Equal(t, models.LeaseStateContested, status.State)
	require.True(t, status.MultipleSessionsDetected)
	require.EqualValues(t, 2, status.DistinctTokens)
}

func TestLeaseExpiredSlotIsReclaimed(t *testing.T) {
	svc, sink := newLeaseFixture(t, "lease_expiry", 40*time.Millisecond)
	ctx := context.Background()

	_, err := svc.Heartbeat(ctx, dto.HeartbeatRequest{ExamID: 5, StudentID: 6, SessionToken: "tab-a"})
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	status, err := svc.Status(ctx, 5, 6)
	require.NoError(t, err)
	require.Equal(t, models.LeaseStateExpired, status.State)

	// A new token takes over the expired slot without a contest.
	reclaimed, err := svc.Heartbeat(ctx, dto.HeartbeatRequest{ExamID: 5, StudentID: 6, SessionToken: "tab-b"})
	require.NoError(t, err)
	require.Equal(t, models.LeaseStateActive, reclaimed.State)
	require.True(t, reclaimed.Accepted)
	require.Empty(t, sink.all())
}

func TestLeaseRelease(t *testing.T) {
	svc, _ := newLeaseFixture(t, "lease_release", 30*time.Second)
	ctx := context.Background()

	// Releasing an unclaimed pair is a no-op.
	require.NoError(t, svc.Release(ctx, dto.ReleaseRequest{ExamID: 7, StudentID: 8, SessionToken: "tab-a"}))

	_, err := svc.Heartbeat(ctx, dto.HeartbeatRequest{ExamID: 7, StudentID: 8, SessionToken: "tab-a"})
	require.NoError(t, err)

	err = svc.Release(ctx, dto.ReleaseRequest{ExamID: 7, StudentID: 8, SessionToken: "tab-b"})
	require.ErrorIs(t, err, ErrLeaseNotHeld)

	require.NoError(t, svc.Release(ctx, dto.ReleaseRequest{ExamID: 7, StudentID: 8, SessionToken: "tab-a"}))

	status, err := svc.Status(ctx, 7, 8)
	require.NoError(t, err)
	require.Equal(t, models.LeaseStateReleased, status.State)

	// The released slot is claimable again.
	again, err := svc.Heartbeat(ctx, dto.HeartbeatRequest{ExamID: 7, StudentID: 8, SessionToken: "tab-b"})
	require.NoError(t, err)
	require.True(t, again.Accepted)
}

func TestLeaseStatusUnclaimed(t *testing.T) {
	svc, _ := newLeaseFixture(t, "lease_status", 30*time.Second)

	status, err := svc.Status(context.Background(), 9, 10)
	require.NoError(t, err)
	require.Equal(t, models.LeaseStateUnclaimed, status.State)
	require.Nil(t, status.LastHeartbeatAt)
}
