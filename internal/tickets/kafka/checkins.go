package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"ms-booking/internal/kafka"
	"ms-booking/internal/models"

	kafkago "github.com/segmentio/kafka-go"
)

// CheckInPublisher streams admissions to the ticket.checked_in topic, keyed
// by event so one door's scans stay ordered.
type CheckInPublisher struct {
	Publisher kafka.Publisher
	Topic     string
}

func NewCheckInPublisher(p kafka.Publisher, topic string) *CheckInPublisher {
	return &CheckInPublisher{Publisher: p, Topic: topic}
}

func (p *CheckInPublisher) PublishCheckIn(ctx context.Context, ev models.TicketCheckedInEvent) error {
	return kafka.PublishJSON(ctx, p.Publisher, p.Topic, ev.EventID, ev)
}

// Emitter receives relayed check-ins, usually the local SSE emitter.
type Emitter interface {
	Emit(ev models.TicketCheckedInEvent)
}

// Relay returns a consumer handler that forwards every check-in message to
// emitter, so SSE clients on any instance see scans made on every other.
func Relay(emitter Emitter) func(ctx context.Context, msg kafkago.Message) error {
	return func(_ context.Context, msg kafkago.Message) error {
		var ev models.TicketCheckedInEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return fmt.Errorf("decode check-in event: %w", err)
		}
		emitter.Emit(ev)
		return nil
	}
}
