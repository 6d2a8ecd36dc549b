package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// Cursor marks the last row of a recent check-ins page.
type Cursor struct {
	CheckInTime time.Time
	TicketID    string
}

// GetTicketByID → fetch one ticket
func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// GetTicketByCode → ticket with a verification code, scoped to one event
func (d *DB) GetTicketByCode(ctx context.Context, eventID, code string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("event_id = ?", eventID).
		Where("verification_code = ?", code).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// ListTicketsByBooking → all tickets minted for a booking
func (d *DB) ListTicketsByBooking(ctx context.Context, bookingID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("booking_id = ?", bookingID).
		Order("ticket_type_id ASC", "id ASC").
		Scan(ctx)
	return tickets, err
}

// CheckIn admits a ticket once. The flag flips in a single conditional
// update, so of two simultaneous scans exactly one matches a row.
func (d *DB) CheckIn(ctx context.Context, id string, now time.Time) (*models.Ticket, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("is_checked_in = ?", true).
		Set("check_in_time = ?", now).
		Where("id = ?", id).
		Where("is_checked_in = ?", false).
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	ticket, err := d.GetTicketByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		at := time.Time{}
		if ticket.CheckInTime != nil {
			at = *ticket.CheckInTime
		}
		return nil, &models.AlreadyCheckedInError{TicketID: id, CheckedInAt: at}
	}
	return ticket, nil
}

// CountTickets → total and checked-in tickets of an event
func (d *DB) CountTickets(ctx context.Context, eventID string) (total int, checkedIn int, err error) {
	total, err = d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("event_id = ?", eventID).
		Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	checkedIn, err = d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("event_id = ?", eventID).
		Where("is_checked_in = ?", true).
		Count(ctx)
	return total, checkedIn, err
}

// RecentCheckIns → one page of checked-in tickets, newest first, strictly
// after the cursor when one is given
func (d *DB) RecentCheckIns(ctx context.Context, eventID string, after *Cursor, limit int) ([]models.Ticket, error) {
	var tickets []models.Ticket
	q := d.Bun.NewSelect().
		Model(&tickets).
		Where("event_id = ?", eventID).
		Where("is_checked_in = ?", true)
	if after != nil {
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("check_in_time < ?", after.CheckInTime).
				WhereOr("check_in_time = ? AND id < ?", after.CheckInTime, after.TicketID)
		})
	}
	err := q.Order("check_in_time DESC", "id DESC").
		Limit(limit).
		Scan(ctx)
	return tickets, err
}
