package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/provex-go-api/internal/dto"
)

func TestLeaseStreamDeliversToMatchingSubscribers(t *testing.T) {
	svc := NewLeaseStreamService(nil, "provex", zerolog.Nop())

	matching, cancelMatching := svc.Subscribe(1, 2)
	defer cancelMatching()

	other, cancelOther := svc.Subscribe(3, 4)
	defer cancelOther()

	event := dto.ContestedLeaseEvent{
		ExamID:         1,
		StudentID:      2,
		ObservedToken:  "tab-b",
		HolderToken:    "tab-a",
		DistinctTokens: 2,
		DetectedAt:     time.Now().UTC(),
	}
	svc.Broadcast(context.Background(), event)

	select {
	case received := <-matching:
		require.Equal(t, event.ObservedToken, received.ObservedToken)
		require.Equal(t, event.HolderToken, received.HolderToken)
		require.NotEmpty(t, received.Source)
	case <-time.After(time.Second):
		t.Fatal("matching subscriber never received the event")
	}

	select {
	case unexpected := <-other:
		t.Fatalf("subscriber for another pair received %+v", unexpected)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLeaseStreamCancelIsIdempotent(t *testing.T) {
	svc := NewLeaseStreamService(nil, "provex", zerolog.Nop())

	ch, cancel := svc.Subscribe(5, 6)
	cancel()
	cancel()

	_, open := <-ch
	require.False(t, open)

	// Broadcasting after cancellation must not panic or block.
	svc.Broadcast(context.Background(), dto.ContestedLeaseEvent{ExamID: 5, StudentID: 6})
}

func TestLeaseStreamDropsEventsForSlowConsumers(t *testing.T) {
	svc := NewLeaseStreamService(nil, "provex", zerolog.Nop())

	ch, cancel := svc.Subscribe(7, 8)
	defer cancel()

	// Overfill the buffer; extra events are dropped, never blocking the
	// heartbeat path.
	for i := 0; i < leaseStreamBufferSize*2; i++ {
		svc.Broadcast(context.Background(), dto.ContestedLeaseEvent{ExamID: 7, StudentID: 8, DistinctTokens: int64(i)})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			require.Equal(t, leaseStreamBufferSize, received)
			return
		}
	}
}
