package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-booking/internal/discount"
	inventorydb "ms-booking/internal/inventory/db"
	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- BOOKINGS ----------------

// CreateBooking → insert a booking and its line items
func (d *DB) CreateBooking(ctx context.Context, b *models.Booking) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return insertBooking(ctx, tx, b)
	})
}

func insertBooking(ctx context.Context, idb bun.IDB, b *models.Booking) error {
	if _, err := idb.NewInsert().Model(b).Exec(ctx); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	for i := range b.LineItems {
		b.LineItems[i].BookingID = b.ID
	}
	if len(b.LineItems) > 0 {
		if _, err := idb.NewInsert().Model(&b.LineItems).Exec(ctx); err != nil {
			return fmt.Errorf("insert line items: %w", err)
		}
	}
	return nil
}

// GetBookingByID → fetch a booking with its line items and tickets
func (d *DB) GetBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	return getBooking(ctx, d.Bun, id)
}

func getBooking(ctx context.Context, idb bun.IDB, id string) (*models.Booking, error) {
	var b models.Booking
	err := idb.NewSelect().
		Model(&b).
		Relation("LineItems", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("ticket_type_id ASC")
		}).
		Relation("Tickets", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("ticket_type_id ASC", "id ASC")
		}).
		Where("booking.id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func getStatus(ctx context.Context, idb bun.IDB, id string) (models.BookingStatus, error) {
	var status string
	err := idb.NewSelect().
		Model((*models.Booking)(nil)).
		Column("status").
		Where("id = ?", id).
		Limit(1).
		Scan(ctx, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrBookingNotFound
	}
	return models.BookingStatus(status), err
}

// refuse builds the error for a status-guarded update that matched no row.
func refuse(ctx context.Context, idb bun.IDB, id string, to models.BookingStatus) error {
	from, err := getStatus(ctx, idb, id)
	if err != nil {
		return err
	}
	return &models.InvalidTransitionError{BookingID: id, From: from, To: to}
}

// SetPaymentSession records the gateway session of a pending booking.
func (d *DB) SetPaymentSession(ctx context.Context, id string, method models.PaymentMethod, ref, redirectURL string, now time.Time) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("payment_method = ?", method).
		Set("payment_session_ref = ?", ref).
		Set("payment_redirect_url = ?", redirectURL).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.BookingPendingPayment).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return refuse(ctx, d.Bun, id, models.BookingPendingPayment)
	}
	return nil
}

// FindBySessionRef → booking id owning a provider session
func (d *DB) FindBySessionRef(ctx context.Context, ref string) (string, error) {
	var id string
	err := d.Bun.NewSelect().
		Model((*models.Booking)(nil)).
		Column("id").
		Where("payment_session_ref = ?", ref).
		Limit(1).
		Scan(ctx, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrBookingNotFound
	}
	return id, err
}

// ConfirmBooking moves a pending booking to Confirmed in one transaction:
// claim the row, commit its holds, mint tickets and count the discount
// redemption. A reader never sees Confirmed without tickets.
func (d *DB) ConfirmBooking(ctx context.Context, b *models.Booking, tickets []models.Ticket, now time.Time) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Booking)(nil)).
			Set("status = ?", models.BookingConfirmed).
			Set("confirmed_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", b.ID).
			Where("status = ?", models.BookingPendingPayment).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("claim booking: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return refuse(ctx, tx, b.ID, models.BookingConfirmed)
		}
		return finalize(ctx, tx, b, tickets, now)
	})
}

// CreateConfirmedBooking persists a free booking directly as Confirmed.
func (d *DB) CreateConfirmedBooking(ctx context.Context, b *models.Booking, tickets []models.Ticket, now time.Time) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		b.Status = models.BookingConfirmed
		b.ConfirmedAt = &now
		if err := insertBooking(ctx, tx, b); err != nil {
			return err
		}
		return finalize(ctx, tx, b, tickets, now)
	})
}

func finalize(ctx context.Context, tx bun.Tx, b *models.Booking, tickets []models.Ticket, now time.Time) error {
	committed, err := inventorydb.CommitHoldsForBooking(ctx, tx, b.ID, now)
	if err != nil {
		return err
	}
	if err := coversLineItems(b, committed); err != nil {
		return err
	}

	if len(tickets) > 0 {
		if _, err := tx.NewInsert().Model(&tickets).Exec(ctx); err != nil {
			return fmt.Errorf("mint tickets: %w", err)
		}
	}

	if err := discount.IncrementUsage(ctx, tx, b.DiscountCode); err != nil {
		return fmt.Errorf("count discount redemption: %w", err)
	}
	return nil
}

// coversLineItems checks that the committed holds account for every unit
// the booking is about to mint.
func coversLineItems(b *models.Booking, holds []models.InventoryHold) error {
	held := make(map[string]int, len(holds))
	for _, h := range holds {
		held[h.TicketTypeID] += h.Quantity
	}
	for _, li := range b.LineItems {
		if held[li.TicketTypeID] != li.Quantity {
			return fmt.Errorf("%w: booking %s holds %d of %d units of %s",
				models.ErrHoldNotFound, b.ID, held[li.TicketTypeID], li.Quantity, li.TicketTypeID)
		}
	}
	return nil
}

// CloseBooking moves a pending booking to Cancelled or Expired and releases
// its holds in the same transaction. It returns the released holds.
func (d *DB) CloseBooking(ctx context.Context, id string, to models.BookingStatus, reason string, now time.Time) ([]models.InventoryHold, error) {
	var released []models.InventoryHold
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Booking)(nil)).
			Set("status = ?", to).
			Set("cancel_reason = ?", reason).
			Set("updated_at = ?", now).
			Where("id = ?", id).
			Where("status IN (?)", bun.In([]string{string(models.BookingDraft), string(models.BookingPendingPayment)})).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("close booking: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return refuse(ctx, tx, id, to)
		}

		released, err = inventorydb.ReleaseHoldsForBooking(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// ListOverduePending → ids of pending bookings whose hold deadline passed
func (d *DB) ListOverduePending(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.Booking)(nil)).
		Column("id").
		Where("status = ?", models.BookingPendingPayment).
		Where("hold_expires_at < ?", now).
		Order("hold_expires_at ASC").
		Limit(limit).
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}
