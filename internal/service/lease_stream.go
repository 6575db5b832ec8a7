package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/provex-go-api/internal/dto"
)

const leaseStreamBufferSize = 16

// ContestedEventSink receives contested-lease conditions as they are detected.
type ContestedEventSink interface {
	Broadcast(ctx context.Context, event dto.ContestedLeaseEvent)
}

// LeaseStreamService fans contested-lease events out to local websocket
// subscribers and across nodes via NATS.
type LeaseStreamService interface {
	ContestedEventSink
	Subscribe(examID, studentID uint) (<-chan dto.ContestedLeaseEvent, func())
	Start(ctx context.Context)
}

type leaseStreamService struct {
	nats    *nats.Conn
	subject string
	logger  zerolog.Logger
	nodeID  string

	mu          sync.RWMutex
	subscribers map[string]map[chan dto.ContestedLeaseEvent]struct{}
}

// NewLeaseStreamService constructs a lease stream service. A nil NATS
// connection degrades to node-local delivery only.
func NewLeaseStreamService(natsConn *nats.Conn, channelBase string, logger zerolog.Logger) LeaseStreamService {
	subject := ""
	if channelBase != "" {
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".leases.contested"
	}

	return &leaseStreamService{
		nats:        natsConn,
		subject:     subject,
		logger:      logger.With().Str("component", "lease_stream_service").Logger(),
		nodeID:      uuid.NewString(),
		subscribers: make(map[string]map[chan dto.ContestedLeaseEvent]struct{}),
	}
}

// Start begins consuming cross-node contested events. Events published by
// this node are dropped to avoid double delivery.
func (s *leaseStreamService) Start(ctx context.Context) {
	if s.nats == nil || s.subject == "" {
		return
	}

	subscription, err := s.nats.Subscribe(s.subject, func(msg *nats.Msg) {
		var event dto.ContestedLeaseEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			s.logger.Warn().Err(err).Msg("discarding malformed contested-lease event")
			return
		}
		if event.Source == s.nodeID {
			return
		}
		s.deliver(event)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to contested-lease subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := subscription.Unsubscribe(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to unsubscribe contested-lease consumer")
		}
	}()
}

func (s *leaseStreamService) Broadcast(ctx context.Context, event dto.ContestedLeaseEvent) {
	if event.Source == "" {
		event.Source = s.nodeID
	}

	s.deliver(event)

	if s.nats == nil || s.subject == "" {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode contested-lease event")
		return
	}
	if err := s.nats.Publish(s.subject, payload); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish contested-lease event")
	}
}

// Subscribe registers a listener for one (exam, student) pair. The cancel
// function is idempotent and closes the returned channel.
func (s *leaseStreamService) Subscribe(examID, studentID uint) (<-chan dto.ContestedLeaseEvent, func()) {
	key := pairKey(examID, studentID)
	ch := make(chan dto.ContestedLeaseEvent, leaseStreamBufferSize)

	s.mu.Lock()
	if s.subscribers[key] == nil {
		s.subscribers[key] = make(map[chan dto.ContestedLeaseEvent]struct{})
	}
	s.subscribers[key][ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if set, ok := s.subscribers[key]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(s.subscribers, key)
				}
			}
			s.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel
}

func (s *leaseStreamService) deliver(event dto.ContestedLeaseEvent) {
	key := pairKey(event.ExamID, event.StudentID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch := range s.subscribers[key] {
		select {
		case ch <- event:
		default:
			// Slow consumers drop events; the lease status query remains
			// the authoritative view.
		}
	}
}

func pairKey(examID, studentID uint) string {
	return fmt.Sprintf("%d:%d", examID, studentID)
}
