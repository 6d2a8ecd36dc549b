package inventory_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"ms-booking/internal/inventory"
	"ms-booking/internal/inventory/db"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupLedger(t *testing.T) (*inventory.Ledger, *db.DB, *fakeClock) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	for _, model := range []interface{}{(*models.TicketType)(nil), (*models.InventoryHold)(nil)} {
		_, err := bunDB.NewCreateTable().Model(model).Exec(context.Background())
		require.NoError(t, err)
	}
	t.Cleanup(func() { bunDB.Close() })

	store := &db.DB{Bun: bunDB}
	clock := &fakeClock{now: time.Now()}
	return inventory.NewLedger(store, logger.NewDiscard(), inventory.WithClock(clock.Now)), store, clock
}

// heldQuantity sums live hold rows to cross-check the quantity_held counter.
func heldQuantity(t *testing.T, store *db.DB, ticketTypeID string) int {
	var sum int
	err := store.Bun.NewSelect().
		Model((*models.InventoryHold)(nil)).
		ColumnExpr("COALESCE(SUM(quantity), 0)").
		Where("ticket_type_id = ?", ticketTypeID).
		Scan(context.Background(), &sum)
	require.NoError(t, err)
	return sum
}

func createType(t *testing.T, l *inventory.Ledger, total *int) *models.TicketType {
	tt, err := l.CreateTicketType(context.Background(), models.CreateTicketTypeRequest{
		EventID:       "event-1",
		Name:          "General",
		UnitPrice:     decimal.RequireFromString("100.00"),
		Currency:      "inr",
		TotalQuantity: total,
	})
	require.NoError(t, err)
	return tt
}

func intPtr(i int) *int { return &i }

func TestCreateTicketType(t *testing.T) {
	l, _, _ := setupLedger(t)
	tt := createType(t, l, intPtr(10))

	assert.Equal(t, "INR", tt.Currency)
	assert.True(t, tt.OnSale)

	avail, err := l.Available(context.Background(), tt.ID)
	require.NoError(t, err)
	require.NotNil(t, avail.Remaining)
	assert.Equal(t, 10, *avail.Remaining)
	assert.Equal(t, 0, avail.Sold)
}

func TestHoldCommitRelease(t *testing.T) {
	l, _, _ := setupLedger(t)
	ctx := context.Background()
	tt := createType(t, l, intPtr(10))

	token, err := l.Hold(ctx, tt.ID, 3, "b1", time.Minute)
	require.NoError(t, err)

	avail, _ := l.Available(ctx, tt.ID)
	assert.Equal(t, 3, avail.Held)
	assert.Equal(t, 7, *avail.Remaining)

	require.NoError(t, l.Commit(ctx, token))
	avail, _ = l.Available(ctx, tt.ID)
	assert.Equal(t, 0, avail.Held)
	assert.Equal(t, 3, avail.Sold)
	assert.Equal(t, 7, *avail.Remaining)

	assert.ErrorIs(t, l.Commit(ctx, token), models.ErrHoldNotFound)

	token, err = l.Hold(ctx, tt.ID, 2, "b2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, token))
	require.NoError(t, l.Release(ctx, token))

	avail, _ = l.Available(ctx, tt.ID)
	assert.Equal(t, 0, avail.Held)
	assert.Equal(t, 7, *avail.Remaining)
}

func TestHold_RejectsNonPositive(t *testing.T) {
	l, _, _ := setupLedger(t)
	tt := createType(t, l, nil)

	_, err := l.Hold(context.Background(), tt.ID, 0, "b1", time.Minute)
	assert.Error(t, err)
}

func TestHoldCart_AllOrNothing(t *testing.T) {
	l, store, _ := setupLedger(t)
	ctx := context.Background()
	plenty := createType(t, l, intPtr(10))
	scarce := createType(t, l, intPtr(1))

	cart := models.CartSelection{plenty.ID: 4, scarce.ID: 2}
	_, err := l.HoldCart(ctx, cart, "b1", time.Minute)

	var insufficient *models.InsufficientInventoryError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, scarce.ID, insufficient.TicketTypeID)
	assert.Equal(t, 1, insufficient.Available)

	// whichever hold was taken first was rolled back
	for _, id := range []string{plenty.ID, scarce.ID} {
		avail, err := l.Available(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, avail.Held, id)
	}
	holds, err := store.HoldsForBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Empty(t, holds)
}

func TestHoldCart_SkipsZeroQuantities(t *testing.T) {
	l, _, _ := setupLedger(t)
	ctx := context.Background()
	a := createType(t, l, intPtr(10))
	b := createType(t, l, intPtr(10))

	tokens, err := l.HoldCart(ctx, models.CartSelection{a.ID: 2, b.ID: 0}, "b1", time.Minute)
	require.NoError(t, err)
	assert.Len(t, tokens, 1)
}

func TestExpireStale_ReturnsInventory(t *testing.T) {
	l, _, clock := setupLedger(t)
	ctx := context.Background()
	tt := createType(t, l, intPtr(2))

	_, err := l.Hold(ctx, tt.ID, 2, "abandoned", time.Minute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	expired, err := l.ExpireStale(ctx)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "abandoned", expired[0].BookingID)

	avail, _ := l.Available(ctx, tt.ID)
	assert.Equal(t, 2, *avail.Remaining)

	expired, err = l.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestHold_ReclaimsLapsedHoldsBeforeRefusing(t *testing.T) {
	l, _, clock := setupLedger(t)
	ctx := context.Background()
	tt := createType(t, l, intPtr(1))

	_, err := l.Hold(ctx, tt.ID, 1, "first", time.Minute)
	require.NoError(t, err)

	_, err = l.Hold(ctx, tt.ID, 1, "second", time.Minute)
	assert.ErrorIs(t, err, models.ErrInsufficientInventory)

	clock.Advance(2 * time.Minute)

	_, err = l.Hold(ctx, tt.ID, 1, "second", time.Minute)
	require.NoError(t, err)

	avail, _ := l.Available(ctx, tt.ID)
	assert.Equal(t, 1, avail.Held)
	assert.Equal(t, 0, *avail.Remaining)
}

func TestHold_ConcurrentNeverOversells(t *testing.T) {
	l, store, _ := setupLedger(t)
	ctx := context.Background()
	tt := createType(t, l, intPtr(5))

	const buyers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted, refused := 0, 0

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Hold(ctx, tt.ID, 1, "buyer", time.Minute)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, models.ErrInsufficientInventory):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, granted)
	assert.Equal(t, buyers-5, refused)

	avail, err := l.Available(ctx, tt.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, avail.Sold+avail.Held, *avail.Total)

	assert.Equal(t, avail.Held, heldQuantity(t, store, tt.ID))
}

func TestTicketTypes_UnknownID(t *testing.T) {
	l, _, _ := setupLedger(t)
	tt := createType(t, l, nil)

	byID, err := l.TicketTypes(context.Background(), []string{tt.ID})
	require.NoError(t, err)
	assert.Contains(t, byID, tt.ID)

	_, err = l.TicketTypes(context.Background(), []string{tt.ID, "ghost"})
	assert.ErrorIs(t, err, models.ErrTicketTypeNotFound)
}

func TestSetOnSale(t *testing.T) {
	l, _, _ := setupLedger(t)
	ctx := context.Background()
	tt := createType(t, l, intPtr(3))

	require.NoError(t, l.SetOnSale(ctx, tt.ID, false))
	_, err := l.Hold(ctx, tt.ID, 1, "b1", time.Minute)
	assert.ErrorIs(t, err, models.ErrTicketTypeOffSale)

	require.NoError(t, l.SetOnSale(ctx, tt.ID, true))
	_, err = l.Hold(ctx, tt.ID, 1, "b1", time.Minute)
	assert.NoError(t, err)
}
