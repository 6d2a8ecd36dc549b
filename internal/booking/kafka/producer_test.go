package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ms-booking/internal/config"
	"ms-booking/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	return m.Called(ctx, topic, key, value).Error(0)
}

func (m *MockPublisher) Close() error { return nil }

var topics = config.TopicConfig{
	BookingCreated:   "t.created",
	BookingConfirmed: "t.confirmed",
	BookingCancelled: "t.cancelled",
	BookingExpired:   "t.expired",
}

func TestPublishBookingEvent_RoutesByType(t *testing.T) {
	b := models.Booking{
		ID:        "bk1",
		EventID:   "ev1",
		Status:    models.BookingConfirmed,
		Currency:  "INR",
		Total:     decimal.NewFromInt(220),
		LineItems: []models.LineItem{{TicketTypeID: "A", Quantity: 2}},
	}
	ev := models.NewBookingEvent(EventTypeFor(b.Status), b, time.Unix(1700000000, 0).UTC())

	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, "t.confirmed", "bk1", mock.MatchedBy(func(v []byte) bool {
		var got models.BookingEvent
		if err := json.Unmarshal(v, &got); err != nil {
			return false
		}
		return got.Type == EventConfirmed && got.Quantity == 2 && got.Total.Equal(decimal.NewFromInt(220))
	})).Return(nil)

	err := NewBookingPublisher(pub, topics).PublishBookingEvent(context.Background(), ev)
	require.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestPublishBookingEvent_UnknownType(t *testing.T) {
	pub := new(MockPublisher)
	err := NewBookingPublisher(pub, topics).PublishBookingEvent(context.Background(), models.BookingEvent{Type: "nope"})
	assert.Error(t, err)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEventTypeFor(t *testing.T) {
	assert.Equal(t, EventCreated, EventTypeFor(models.BookingPendingPayment))
	assert.Equal(t, EventConfirmed, EventTypeFor(models.BookingConfirmed))
	assert.Equal(t, EventCancelled, EventTypeFor(models.BookingCancelled))
	assert.Equal(t, EventExpired, EventTypeFor(models.BookingExpired))
}
