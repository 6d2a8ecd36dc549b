package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ms-booking/internal/models"

	kafkago "github.com/segmentio/kafka-go"
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

type recordingEmitter struct {
	got []models.TicketCheckedInEvent
}

func (r *recordingEmitter) Emit(ev models.TicketCheckedInEvent) { r.got = append(r.got, ev) }

func TestPublishCheckIn(t *testing.T) {
	ev := models.TicketCheckedInEvent{TicketID: "t1", EventID: "ev1", CheckedInAt: time.Unix(1700000000, 0).UTC()}

	pub := new(MockPublisher)
	pub.On("Publish", mock.Anything, "ticket.checked_in", "ev1", mock.Anything).Return(nil)

	require.NoError(t, NewCheckInPublisher(pub, "ticket.checked_in").PublishCheckIn(context.Background(), ev))
	pub.AssertExpectations(t)
}

func TestRelay(t *testing.T) {
	ev := models.TicketCheckedInEvent{TicketID: "t1", EventID: "ev1", CheckedInAt: time.Unix(1700000000, 0).UTC()}
	value, err := json.Marshal(ev)
	require.NoError(t, err)

	emitter := &recordingEmitter{}
	handle := Relay(emitter)

	require.NoError(t, handle(context.Background(), kafkago.Message{Value: value}))
	assert.Error(t, handle(context.Background(), kafkago.Message{Value: []byte("not json")}))

	require.Len(t, emitter.got, 1)
	assert.Equal(t, ev, emitter.got[0])
}
