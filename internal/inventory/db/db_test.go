package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"ms-booking/internal/inventory/db"
	"ms-booking/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	// every :memory: connection is its own database
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	for _, model := range []interface{}{(*models.TicketType)(nil), (*models.InventoryHold)(nil)} {
		if _, err := bunDB.NewCreateTable().Model(model).Exec(context.Background()); err != nil {
			t.Fatalf("Failed to create table: %v", err)
		}
	}

	t.Cleanup(func() { bunDB.Close() })
	return &db.DB{Bun: bunDB}, bunDB
}

func intPtr(i int) *int { return &i }

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

func seedType(t *testing.T, store *db.DB, total *int) *models.TicketType {
	tt := &models.TicketType{
		ID:            uuid.New().String(),
		EventID:       "event-1",
		Name:          "General",
		UnitPrice:     decimal.RequireFromString("100.00"),
		Currency:      "INR",
		TotalQuantity: total,
		OnSale:        true,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, store.CreateTicketType(context.Background(), tt))
	return tt
}

func newHold(tt *models.TicketType, booking string, qty int, expires time.Time) *models.InventoryHold {
	return &models.InventoryHold{
		ID:           uuid.New().String(),
		TicketTypeID: tt.ID,
		BookingID:    booking,
		Quantity:     qty,
		ExpiresAt:    expires,
		CreatedAt:    time.Now(),
	}
}

func TestReserveHold(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	tt := seedType(t, store, intPtr(5))

	hold := newHold(tt, "b1", 3, time.Now().Add(time.Minute))
	require.NoError(t, store.ReserveHold(ctx, hold))

	got, err := store.GetTicketType(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.QuantityHeld)
	assert.Equal(t, 0, got.QuantitySold)

	// 3 held, 3 more would exceed 5
	err = store.ReserveHold(ctx, newHold(tt, "b2", 3, time.Now().Add(time.Minute)))
	var insufficient *models.InsufficientInventoryError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, tt.ID, insufficient.TicketTypeID)
	assert.Equal(t, 3, insufficient.Requested)
	assert.Equal(t, 2, insufficient.Available)

	// the refused hold left nothing behind
	got, err = store.GetTicketType(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.QuantityHeld)
	assert.Equal(t, 3, heldQuantity(t, store, tt.ID))
}

func TestReserveHold_UnlimitedAndOffSale(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	unlimited := seedType(t, store, nil)
	require.NoError(t, store.ReserveHold(ctx, newHold(unlimited, "b1", 1000, time.Now().Add(time.Minute))))

	offSale := seedType(t, store, intPtr(10))
	require.NoError(t, store.SetOnSale(ctx, offSale.ID, false))
	err := store.ReserveHold(ctx, newHold(offSale, "b1", 1, time.Now().Add(time.Minute)))
	assert.ErrorIs(t, err, models.ErrTicketTypeOffSale)

	missing := &models.TicketType{ID: "nope"}
	err = store.ReserveHold(ctx, newHold(missing, "b1", 1, time.Now().Add(time.Minute)))
	assert.ErrorIs(t, err, models.ErrTicketTypeNotFound)
}

func TestCommitHold(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	tt := seedType(t, store, intPtr(5))

	hold := newHold(tt, "b1", 2, time.Now().Add(time.Minute))
	require.NoError(t, store.ReserveHold(ctx, hold))

	committed, err := store.CommitHold(ctx, hold.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, committed.Quantity)

	got, err := store.GetTicketType(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.QuantityHeld)
	assert.Equal(t, 2, got.QuantitySold)

	// second commit of the same token
	_, err = store.CommitHold(ctx, hold.ID, time.Now())
	assert.ErrorIs(t, err, models.ErrHoldNotFound)
}

func TestCommitHold_Expired(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	tt := seedType(t, store, intPtr(5))

	hold := newHold(tt, "b1", 2, time.Now().Add(-time.Second))
	require.NoError(t, store.ReserveHold(ctx, hold))

	_, err := store.CommitHold(ctx, hold.ID, time.Now())
	assert.ErrorIs(t, err, models.ErrHoldNotFound)

	got, err := store.GetTicketType(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.QuantitySold)
	assert.Equal(t, 2, got.QuantityHeld)
}

func TestReleaseHold_Idempotent(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	tt := seedType(t, store, intPtr(5))

	hold := newHold(tt, "b1", 4, time.Now().Add(time.Minute))
	require.NoError(t, store.ReserveHold(ctx, hold))

	released, err := store.ReleaseHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = store.ReleaseHold(ctx, hold.ID)
	require.NoError(t, err)
	assert.False(t, released)

	released, err = store.ReleaseHold(ctx, "never-existed")
	require.NoError(t, err)
	assert.False(t, released)

	got, err := store.GetTicketType(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.QuantityHeld)
}

func TestBookingHoldsInCallerTx(t *testing.T) {
	store, bunDB := setupTestDB(t)
	ctx := context.Background()
	a := seedType(t, store, intPtr(5))
	b := seedType(t, store, intPtr(5))

	require.NoError(t, store.ReserveHold(ctx, newHold(a, "booking", 1, time.Now().Add(time.Minute))))
	require.NoError(t, store.ReserveHold(ctx, newHold(b, "booking", 2, time.Now().Add(time.Minute))))

	// a rolled back tx leaves holds untouched
	rollback := errors.New("rollback")
	err := bunDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		committed, err := db.CommitHoldsForBooking(ctx, tx, "booking", time.Now())
		require.NoError(t, err)
		assert.Len(t, committed, 2)
		return rollback
	})
	assert.ErrorIs(t, err, rollback)

	holds, err := store.HoldsForBooking(ctx, "booking")
	require.NoError(t, err)
	assert.Len(t, holds, 2)

	err = bunDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := db.CommitHoldsForBooking(ctx, tx, "booking", time.Now())
		return err
	})
	require.NoError(t, err)

	gotA, _ := store.GetTicketType(ctx, a.ID)
	gotB, _ := store.GetTicketType(ctx, b.ID)
	assert.Equal(t, 1, gotA.QuantitySold)
	assert.Equal(t, 2, gotB.QuantitySold)
	assert.Zero(t, gotA.QuantityHeld+gotB.QuantityHeld)

	_, err = db.CommitHoldsForBooking(ctx, bunDB, "booking", time.Now())
	assert.ErrorIs(t, err, models.ErrHoldNotFound)
}

func TestReleaseHoldsForBooking(t *testing.T) {
	store, bunDB := setupTestDB(t)
	ctx := context.Background()
	a := seedType(t, store, intPtr(5))

	require.NoError(t, store.ReserveHold(ctx, newHold(a, "booking", 1, time.Now().Add(time.Minute))))
	require.NoError(t, store.ReserveHold(ctx, newHold(a, "booking", 2, time.Now().Add(time.Minute))))
	require.NoError(t, store.ReserveHold(ctx, newHold(a, "other", 1, time.Now().Add(time.Minute))))

	released, err := db.ReleaseHoldsForBooking(ctx, bunDB, "booking")
	require.NoError(t, err)
	assert.Len(t, released, 2)

	got, _ := store.GetTicketType(ctx, a.ID)
	assert.Equal(t, 1, got.QuantityHeld)
}

func TestExpiredHolds(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	a := seedType(t, store, intPtr(5))
	b := seedType(t, store, intPtr(5))

	require.NoError(t, store.ReserveHold(ctx, newHold(a, "x", 1, time.Now().Add(-time.Minute))))
	require.NoError(t, store.ReserveHold(ctx, newHold(b, "y", 1, time.Now().Add(-time.Minute))))
	require.NoError(t, store.ReserveHold(ctx, newHold(a, "z", 1, time.Now().Add(time.Hour))))

	all, err := store.ExpiredHolds(ctx, time.Now(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyA, err := store.ExpiredHolds(ctx, time.Now(), a.ID)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, "x", onlyA[0].BookingID)
}

func TestGetTicketTypes(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()
	a := seedType(t, store, intPtr(1))
	b := seedType(t, store, nil)

	types, err := store.GetTicketTypes(ctx, []string{a.ID, b.ID})
	require.NoError(t, err)
	assert.Len(t, types, 2)

	byEvent, err := store.ListTicketTypesByEvent(ctx, "event-1")
	require.NoError(t, err)
	assert.Len(t, byEvent, 2)

	_, err = store.GetTicketType(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrTicketTypeNotFound)

	assert.ErrorIs(t, store.SetOnSale(ctx, "missing", true), models.ErrTicketTypeNotFound)
}
