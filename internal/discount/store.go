package discount

import (
	"context"
	"database/sql"
	"errors"

	"ms-booking/internal/models"

	"github.com/uptrace/bun"
)

var ErrCodeNotFound = errors.New("discount code not found")

type Store struct {
	Bun *bun.DB
}

// GetCode → fetch one discount code
func (s *Store) GetCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	var dc models.DiscountCode
	err := s.Bun.NewSelect().
		Model(&dc).
		Where("code = ?", code).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &dc, nil
}

// CreateCode → insert a discount code
func (s *Store) CreateCode(ctx context.Context, dc *models.DiscountCode) error {
	dc.Code = Normalize(dc.Code)
	_, err := s.Bun.NewInsert().Model(dc).Exec(ctx)
	return err
}

// IncrementUsage counts one redemption of code. It runs on idb so the count
// only moves when the booking that redeemed it is confirmed. The limit is
// enforced at Resolve time; a paid booking is never refused here.
func IncrementUsage(ctx context.Context, idb bun.IDB, code string) error {
	if code == "" {
		return nil
	}
	_, err := idb.NewUpdate().
		Model((*models.DiscountCode)(nil)).
		Set("current_usage = current_usage + 1").
		Where("code = ?", code).
		Exec(ctx)
	return err
}
