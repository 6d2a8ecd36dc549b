package tickets_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/sse"
	"ms-booking/internal/tickets/db"
	"ms-booking/internal/tickets/qr"
	tickets "ms-booking/internal/tickets/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

type MockCheckInPublisher struct {
	mock.Mock
}

func (m *MockCheckInPublisher) PublishCheckIn(ctx context.Context, ev models.TicketCheckedInEvent) error {
	return m.Called(ctx, ev).Error(0)
}

type stepClock struct {
	now time.Time
}

// Now advances one second per call so every admission gets its own time.
func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func setupService(t *testing.T, pub tickets.CheckInPublisher) (*tickets.TicketService, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	_, err = bunDB.NewCreateTable().Model((*models.Ticket)(nil)).Exec(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { bunDB.Close() })

	clock := &stepClock{now: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}
	svc := tickets.NewTicketService(&db.DB{Bun: bunDB}, qr.NewQRGenerator("test-secret"), pub, logger.NewDiscard(), tickets.WithClock(clock.Now))
	return svc, bunDB
}

func mint(t *testing.T, bunDB *bun.DB, eventID string, n int) []models.Ticket {
	out := make([]models.Ticket, n)
	for i := range out {
		out[i] = models.Ticket{
			ID:               fmt.Sprintf("%s-t%02d", eventID, i),
			BookingID:        "bk1",
			EventID:          eventID,
			TicketTypeID:     "general",
			VerificationCode: fmt.Sprintf("VC%s%02d", eventID, i),
			IssuedAt:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}
	}
	_, err := bunDB.NewInsert().Model(&out).Exec(context.Background())
	require.NoError(t, err)
	return out
}

func TestVerify_RoundTrip(t *testing.T) {
	svc, bunDB := setupService(t, nil)
	minted := mint(t, bunDB, "event-1", 2)
	ctx := context.Background()

	for _, tk := range minted {
		v, err := svc.Verify(ctx, "event-1", tk.VerificationCode)
		require.NoError(t, err)
		assert.Equal(t, tk.ID, v.Ticket.ID)
		assert.False(t, v.IsCheckedIn)
		assert.Nil(t, v.CheckInTime)
	}
}

func TestVerify_PayloadForms(t *testing.T) {
	svc, bunDB := setupService(t, nil)
	minted := mint(t, bunDB, "event-1", 1)
	ctx := context.Background()

	v, err := svc.Verify(ctx, "event-1", fmt.Sprintf(`{"event_id":"event-1","code":"%s"}`, minted[0].VerificationCode))
	require.NoError(t, err)
	assert.Equal(t, minted[0].ID, v.Ticket.ID)

	encrypted, err := svc.QR.Encode(minted[0])
	require.NoError(t, err)
	v, err = svc.Verify(ctx, "event-1", encrypted)
	require.NoError(t, err)
	assert.Equal(t, minted[0].ID, v.Ticket.ID)

	// a valid payload presented at the wrong event is unknown there
	_, err = svc.Verify(ctx, "event-2", encrypted)
	assert.ErrorIs(t, err, models.ErrTicketNotFound)

	_, err = svc.Verify(ctx, "event-2", fmt.Sprintf(`{"event_id":"event-1","code":"%s"}`, minted[0].VerificationCode))
	assert.ErrorIs(t, err, models.ErrTicketNotFound)

	for _, bad := range []string{"", "   ", "NOPE", "{not json", `{"event_id":"event-1"}`} {
		_, err = svc.Verify(ctx, "event-1", bad)
		assert.ErrorIs(t, err, models.ErrTicketNotFound, bad)
	}
}

func TestVerify_TypedCodeIgnoresCase(t *testing.T) {
	svc, bunDB := setupService(t, nil)
	ticket := models.Ticket{
		ID:               "event-1-typed",
		BookingID:        "bk1",
		EventID:          "event-1",
		TicketTypeID:     "general",
		VerificationCode: "K7QX2M9PLD4A",
		IssuedAt:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	_, err := bunDB.NewInsert().Model(&ticket).Exec(context.Background())
	require.NoError(t, err)

	for _, typed := range []string{"k7qx2m9pld4a", " K7qx2M9pld4A ", `{"event_id":"event-1","code":"k7qx2m9pld4a"}`} {
		v, err := svc.Verify(context.Background(), "event-1", typed)
		require.NoError(t, err, typed)
		assert.Equal(t, ticket.ID, v.Ticket.ID)
	}

	_, err = svc.Verify(context.Background(), "event-2", "k7qx2m9pld4a")
	assert.ErrorIs(t, err, models.ErrTicketNotFound)
}

func TestCheckIn_AtMostOnce(t *testing.T) {
	pub := new(MockCheckInPublisher)
	pub.On("PublishCheckIn", mock.Anything, mock.MatchedBy(func(ev models.TicketCheckedInEvent) bool {
		return ev.TicketID == "event-1-t00" && ev.EventID == "event-1" && ev.BookingID == "bk1"
	})).Return(nil).Once()

	svc, bunDB := setupService(t, pub)
	mint(t, bunDB, "event-1", 1)
	ctx := context.Background()

	first, err := svc.CheckIn(ctx, "event-1-t00")
	require.NoError(t, err)
	assert.True(t, first.IsCheckedIn)
	require.NotNil(t, first.CheckInTime)

	_, err = svc.CheckIn(ctx, "event-1-t00")
	var already *models.AlreadyCheckedInError
	require.ErrorAs(t, err, &already)
	assert.True(t, first.CheckInTime.Equal(already.CheckedInAt))

	// the first admission time is never overwritten
	v, err := svc.Verify(ctx, "event-1", "VCevent-100")
	require.NoError(t, err)
	assert.True(t, v.IsCheckedIn)
	assert.True(t, first.CheckInTime.Equal(*v.CheckInTime))

	_, err = svc.CheckIn(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrTicketNotFound)
	pub.AssertExpectations(t)
}

func TestCheckIn_PublishFailureStillAdmits(t *testing.T) {
	pub := new(MockCheckInPublisher)
	pub.On("PublishCheckIn", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	svc, bunDB := setupService(t, pub)
	mint(t, bunDB, "event-1", 1)

	got, err := svc.CheckIn(context.Background(), "event-1-t00")
	require.NoError(t, err)
	assert.True(t, got.IsCheckedIn)
}

func TestCheckIn_EmitsToLocalSSE(t *testing.T) {
	emitter := sse.NewCheckInEmitter()
	svc, bunDB := setupService(t, emitter)
	mint(t, bunDB, "event-1", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := emitter.Subscribe(ctx, "event-1")

	_, err := svc.CheckIn(context.Background(), "event-1-t00")
	require.NoError(t, err)

	select {
	case ev := <-stream:
		assert.Equal(t, "event-1-t00", ev.TicketID)
	case <-time.After(time.Second):
		t.Fatal("no check-in event streamed")
	}
}

func TestAdmit(t *testing.T) {
	svc, bunDB := setupService(t, nil)
	mint(t, bunDB, "event-1", 1)

	got, err := svc.Admit(context.Background(), "event-1", "VCevent-100")
	require.NoError(t, err)
	assert.True(t, got.IsCheckedIn)

	_, err = svc.Admit(context.Background(), "event-1", "VCevent-100")
	assert.ErrorIs(t, err, models.ErrAlreadyCheckedIn)
}

func TestStats(t *testing.T) {
	svc, bunDB := setupService(t, nil)
	minted := mint(t, bunDB, "event-1", 5)
	mint(t, bunDB, "event-2", 2)

	for _, tk := range minted[:2] {
		_, err := svc.CheckIn(context.Background(), tk.ID)
		require.NoError(t, err)
	}

	stats, err := svc.Stats(context.Background(), "event-1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckInStats{EventID: "event-1", Total: 5, CheckedIn: 2, Remaining: 3}, stats)
}

func TestRecentCheckIns(t *testing.T) {
	svc, bunDB := setupService(t, nil)
	minted := mint(t, bunDB, "event-1", 60)
	ctx := context.Background()

	for _, tk := range minted {
		_, err := svc.CheckIn(ctx, tk.ID)
		require.NoError(t, err)
	}

	collect := func(limit int) []string {
		var ids []string
		for tk, err := range svc.RecentCheckIns(ctx, "event-1", limit) {
			require.NoError(t, err)
			ids = append(ids, tk.ID)
		}
		return ids
	}

	// spans two pages, newest first
	ids := collect(55)
	require.Len(t, ids, 55)
	assert.Equal(t, minted[59].ID, ids[0])
	assert.Equal(t, minted[5].ID, ids[54])

	// restartable: a second range yields the same sequence
	assert.Equal(t, ids, collect(55))

	assert.Len(t, collect(100), 60)
	assert.Empty(t, collect(0))

	// early break stops fetching
	n := 0
	for range svc.RecentCheckIns(ctx, "event-1", 100) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestQRCodeAndBookingTickets(t *testing.T) {
	svc, bunDB := setupService(t, nil)
	mint(t, bunDB, "event-1", 2)

	png, err := svc.QRCode(context.Background(), "event-1-t01")
	require.NoError(t, err)
	assert.NotEmpty(t, png)

	_, err = svc.QRCode(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrTicketNotFound)

	list, err := svc.TicketsForBooking(context.Background(), "bk1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
