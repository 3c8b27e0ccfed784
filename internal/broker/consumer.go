package broker

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/jojees/project-genesis/internal/dispatch"
)

// subscribe starts the durable push consumer. One unacked delivery at a
// time: a redelivery storm from a failing downstream stays ordered and
// bounded.
func (m *Manager) subscribe(ctx context.Context, js nats.JetStreamContext, spec *ConsumeSpec) error {
	_, err := js.Subscribe(spec.Subject, m.settle(ctx, spec.Handler),
		nats.Durable(spec.Durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxAckPending(1),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", spec.Subject, err)
	}
	m.logger.Info("consumer started",
		zap.String("subject", spec.Subject),
		zap.String("durable", spec.Durable))
	return nil
}

// settle adapts a dispatch handler to a NATS message callback, applying
// the handler's decision to the delivery.
func (m *Manager) settle(ctx context.Context, handler dispatch.Handler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		decision := handler(ctx, msg.Data)

		var err error
		switch decision {
		case dispatch.Ack:
			err = msg.Ack()
		case dispatch.NackRequeue:
			err = msg.Nak()
		case dispatch.NackDrop:
			err = msg.Term()
		default:
			err = msg.Nak()
		}
		if err != nil {
			m.logger.Warn("message settlement failed",
				zap.Stringer("decision", decision),
				zap.Error(err))
		}
	}
}
