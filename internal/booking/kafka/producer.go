package kafka

import (
	"context"
	"fmt"

	"ms-booking/internal/config"
	"ms-booking/internal/kafka"
	"ms-booking/internal/models"
)

const (
	EventCreated   = "booking.created"
	EventConfirmed = "booking.confirmed"
	EventCancelled = "booking.cancelled"
	EventExpired   = "booking.expired"
)

// BookingPublisher streams booking lifecycle events, keyed by booking id.
type BookingPublisher struct {
	Publisher kafka.Publisher
	Topics    config.TopicConfig
}

func NewBookingPublisher(p kafka.Publisher, topics config.TopicConfig) *BookingPublisher {
	return &BookingPublisher{Publisher: p, Topics: topics}
}

func (p *BookingPublisher) PublishBookingEvent(ctx context.Context, ev models.BookingEvent) error {
	topic, err := p.topicFor(ev.Type)
	if err != nil {
		return err
	}
	return kafka.PublishJSON(ctx, p.Publisher, topic, ev.BookingID, ev)
}

func (p *BookingPublisher) topicFor(eventType string) (string, error) {
	switch eventType {
	case EventCreated:
		return p.Topics.BookingCreated, nil
	case EventConfirmed:
		return p.Topics.BookingConfirmed, nil
	case EventCancelled:
		return p.Topics.BookingCancelled, nil
	case EventExpired:
		return p.Topics.BookingExpired, nil
	}
	return "", fmt.Errorf("unknown booking event type %q", eventType)
}

// EventTypeFor maps the status a booking reached to its event type.
func EventTypeFor(status models.BookingStatus) string {
	switch status {
	case models.BookingConfirmed:
		return EventConfirmed
	case models.BookingCancelled:
		return EventCancelled
	case models.BookingExpired:
		return EventExpired
	}
	return EventCreated
}
