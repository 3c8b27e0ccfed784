// Package dispatch turns raw broker deliveries into rule evaluations and
// storage writes, and tells the consumer how to settle each message.
package dispatch

import "context"

// Handler processes one delivery payload and reports how to settle it.
type Handler func(ctx context.Context, payload []byte) Decision

// Decision is the settlement a handler asks for after processing one
// delivery.
type Decision int

const (
	// Ack removes the message from the stream.
	Ack Decision = iota
	// NackRequeue returns the message for redelivery after a transient
	// failure.
	NackRequeue
	// NackDrop terminates a message that can never be processed, so it is
	// not redelivered.
	NackDrop
)

func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case NackRequeue:
		return "nack_requeue"
	case NackDrop:
		return "nack_drop"
	}
	return "unknown"
}
