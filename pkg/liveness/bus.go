package liveness

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Bus is the best-effort broadcast channel connecting the browsing
// contexts of one exam attempt. Delivery is unreliable by contract; the
// detector compensates with probing and the persistent slot fallback.
type Bus interface {
	Publish(ctx context.Context, data []byte) error
	Subscribe(handler func(data []byte)) (func(), error)
}

type natsBus struct {
	conn    *nats.Conn
	subject string
}

// NewNATSBus builds a Bus over a NATS subject scoped to one (exam, student) pair.
func NewNATSBus(conn *nats.Conn, examID, studentID uint) Bus {
	return &natsBus{
		conn:    conn,
		subject: fmt.Sprintf("provex.liveness.exam.%d.student.%d", examID, studentID),
	}
}

func (b *natsBus) Publish(_ context.Context, data []byte) error {
	return b.conn.Publish(b.subject, data)
}

func (b *natsBus) Subscribe(handler func(data []byte)) (func(), error) {
	subscription, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}

	return func() {
		_ = subscription.Unsubscribe()
	}, nil
}
