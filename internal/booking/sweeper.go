package booking

import (
	"context"
	"fmt"
	"time"

	"ms-booking/internal/logger"
)

// Sweeper expires overdue bookings and then reclaims any lapsed holds that
// no booking accounted for.
type Sweeper struct {
	Bookings *BookingService
	Interval time.Duration
	Logger   *logger.Logger
}

func NewSweeper(bookings *BookingService, interval time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{Bookings: bookings, Interval: interval, Logger: log}
}

// Run sweeps every Interval until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	sw.Logger.Info("SWEEPER", fmt.Sprintf("Started hold sweeper with %v interval", sw.Interval))
	for {
		select {
		case <-ticker.C:
			sw.Sweep(ctx)
		case <-ctx.Done():
			sw.Logger.Info("SWEEPER", "Hold sweeper stopped")
			return nil
		}
	}
}

// Sweep runs one pass.
func (sw *Sweeper) Sweep(ctx context.Context) {
	expired, err := sw.Bookings.ExpireOverdue(ctx)
	if err != nil {
		sw.Logger.Error("SWEEPER", fmt.Sprintf("Error expiring bookings: %v", err))
	}
	if expired > 0 {
		sw.Logger.Info("SWEEPER", fmt.Sprintf("Expired %d overdue bookings", expired))
	}

	if _, err := sw.Bookings.Inventory.ExpireStale(ctx); err != nil {
		sw.Logger.Error("SWEEPER", fmt.Sprintf("Error releasing stale holds: %v", err))
	}
}
