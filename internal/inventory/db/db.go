package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- TICKET TYPES ----------------

// CreateTicketType → insert a new ticket type with zeroed counters
func (d *DB) CreateTicketType(ctx context.Context, tt *models.TicketType) error {
	_, err := d.Bun.NewInsert().Model(tt).Exec(ctx)
	return err
}

// GetTicketType → fetch one ticket type by id
func (d *DB) GetTicketType(ctx context.Context, id string) (*models.TicketType, error) {
	return getTicketType(ctx, d.Bun, id)
}

func getTicketType(ctx context.Context, idb bun.IDB, id string) (*models.TicketType, error) {
	var tt models.TicketType
	err := idb.NewSelect().
		Model(&tt).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTicketTypeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tt, nil
}

// GetTicketTypes → fetch several ticket types, ordered by id
func (d *DB) GetTicketTypes(ctx context.Context, ids []string) ([]models.TicketType, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var types []models.TicketType
	err := d.Bun.NewSelect().
		Model(&types).
		Where("id IN (?)", bun.In(ids)).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return types, nil
}

// ListTicketTypesByEvent → every ticket type of an event
func (d *DB) ListTicketTypesByEvent(ctx context.Context, eventID string) ([]models.TicketType, error) {
	var types []models.TicketType
	err := d.Bun.NewSelect().
		Model(&types).
		Where("event_id = ?", eventID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return types, nil
}

// SetOnSale → soft-enable or soft-disable a ticket type
func (d *DB) SetOnSale(ctx context.Context, id string, onSale bool) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("on_sale = ?", onSale).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrTicketTypeNotFound
	}
	return nil
}

// ---------------- HOLDS ----------------

// ReserveHold atomically bumps quantity_held on the ticket type and records
// the hold. The conditional update takes the row lock of that one ticket
// type, so concurrent holds on the same type serialize and holds on other
// types do not contend.
func (d *DB) ReserveHold(ctx context.Context, hold *models.InventoryHold) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.TicketType)(nil)).
			Set("quantity_held = quantity_held + ?", hold.Quantity).
			Where("id = ?", hold.TicketTypeID).
			Where("on_sale = ?", true).
			Where("(total_quantity IS NULL OR quantity_sold + quantity_held + ? <= total_quantity)", hold.Quantity).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("reserve quantity: %w", err)
		}

		if n, _ := res.RowsAffected(); n == 0 {
			return refusal(ctx, tx, hold)
		}

		if _, err := tx.NewInsert().Model(hold).Exec(ctx); err != nil {
			return fmt.Errorf("insert hold: %w", err)
		}
		return nil
	})
}

// refusal explains why the conditional reserve matched no row.
func refusal(ctx context.Context, idb bun.IDB, hold *models.InventoryHold) error {
	tt, err := getTicketType(ctx, idb, hold.TicketTypeID)
	if err != nil {
		return err
	}
	if !tt.OnSale {
		return fmt.Errorf("%w: %s", models.ErrTicketTypeOffSale, tt.ID)
	}
	available := 0
	if r := tt.Remaining(); r != nil {
		available = *r
	}
	return &models.InsufficientInventoryError{
		TicketTypeID: tt.ID,
		Requested:    hold.Quantity,
		Available:    available,
	}
}

func getHold(ctx context.Context, idb bun.IDB, token string) (*models.InventoryHold, error) {
	var hold models.InventoryHold
	err := idb.NewSelect().
		Model(&hold).
		Where("id = ?", token).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

// HoldsForBooking → every live hold row of a booking, ordered by ticket type
func (d *DB) HoldsForBooking(ctx context.Context, bookingID string) ([]models.InventoryHold, error) {
	return holdsForBooking(ctx, d.Bun, bookingID)
}

func holdsForBooking(ctx context.Context, idb bun.IDB, bookingID string) ([]models.InventoryHold, error) {
	var holds []models.InventoryHold
	err := idb.NewSelect().
		Model(&holds).
		Where("booking_id = ?", bookingID).
		Order("ticket_type_id ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return holds, nil
}

// CommitHold converts one hold into sold quantity.
func (d *DB) CommitHold(ctx context.Context, token string, now time.Time) (*models.InventoryHold, error) {
	var committed *models.InventoryHold
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		hold, err := commitHold(ctx, tx, token, now)
		committed = hold
		return err
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// CommitHoldsForBooking commits every hold of a booking using idb, which is
// normally the caller's transaction. Any missing or lapsed hold fails the
// whole call with ErrHoldNotFound.
func CommitHoldsForBooking(ctx context.Context, idb bun.IDB, bookingID string, now time.Time) ([]models.InventoryHold, error) {
	holds, err := holdsForBooking(ctx, idb, bookingID)
	if err != nil {
		return nil, err
	}
	if len(holds) == 0 {
		return nil, fmt.Errorf("%w: booking %s has no holds", models.ErrHoldNotFound, bookingID)
	}

	committed := make([]models.InventoryHold, 0, len(holds))
	for _, h := range holds {
		c, err := commitHold(ctx, idb, h.ID, now)
		if err != nil {
			return nil, err
		}
		committed = append(committed, *c)
	}
	return committed, nil
}

func commitHold(ctx context.Context, idb bun.IDB, token string, now time.Time) (*models.InventoryHold, error) {
	hold, err := getHold(ctx, idb, token)
	if err != nil {
		return nil, err
	}
	if hold.Expired(now) {
		return nil, fmt.Errorf("%w: hold %s expired at %s", models.ErrHoldNotFound, hold.ID, hold.ExpiresAt.UTC().Format(time.RFC3339))
	}

	// Deleting first makes a concurrent commit or release of the same hold
	// see zero rows and back off.
	deleted, err := deleteHold(ctx, idb, hold.ID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, models.ErrHoldNotFound
	}

	_, err = idb.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("quantity_held = quantity_held - ?", hold.Quantity).
		Set("quantity_sold = quantity_sold + ?", hold.Quantity).
		Where("id = ?", hold.TicketTypeID).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("commit quantity: %w", err)
	}
	return hold, nil
}

// ReleaseHold returns a hold's quantity to the pool. A missing hold is not an
// error; the returned bool reports whether anything was released.
func (d *DB) ReleaseHold(ctx context.Context, token string) (bool, error) {
	var released bool
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		released, err = releaseHold(ctx, tx, token)
		return err
	})
	return released, err
}

// ReleaseHoldsForBooking releases every hold of a booking using idb.
func ReleaseHoldsForBooking(ctx context.Context, idb bun.IDB, bookingID string) ([]models.InventoryHold, error) {
	holds, err := holdsForBooking(ctx, idb, bookingID)
	if err != nil {
		return nil, err
	}

	released := make([]models.InventoryHold, 0, len(holds))
	for _, h := range holds {
		ok, err := releaseHold(ctx, idb, h.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			released = append(released, h)
		}
	}
	return released, nil
}

func releaseHold(ctx context.Context, idb bun.IDB, token string) (bool, error) {
	hold, err := getHold(ctx, idb, token)
	if errors.Is(err, models.ErrHoldNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	deleted, err := deleteHold(ctx, idb, hold.ID)
	if err != nil || !deleted {
		return false, err
	}

	_, err = idb.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("quantity_held = quantity_held - ?", hold.Quantity).
		Where("id = ?", hold.TicketTypeID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("release quantity: %w", err)
	}
	return true, nil
}

func deleteHold(ctx context.Context, idb bun.IDB, token string) (bool, error) {
	res, err := idb.NewDelete().
		Model((*models.InventoryHold)(nil)).
		Where("id = ?", token).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("delete hold: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ExpiredHolds → holds whose expires_at is before now, optionally limited to
// one ticket type
func (d *DB) ExpiredHolds(ctx context.Context, now time.Time, ticketTypeID string) ([]models.InventoryHold, error) {
	var holds []models.InventoryHold
	q := d.Bun.NewSelect().
		Model(&holds).
		Where("expires_at < ?", now)
	if ticketTypeID != "" {
		q = q.Where("ticket_type_id = ?", ticketTypeID)
	}
	if err := q.Order("expires_at ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return holds, nil
}
