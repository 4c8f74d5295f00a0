package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/promocode/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.PromoCode, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, nil
	}
	var item domain.PromoCode
	err := db.WithContext(ctx).Where("code = ?", code).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) CountUserUsage(ctx context.Context, db *gorm.DB, codeID, userID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM orders
		 WHERE promo_code_id = ?
		   AND user_id = ?
		   AND payment_status IN ('paid', 'partially_paid')`,
		codeID,
		userID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) Consume(ctx context.Context, db *gorm.DB, codeID snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE promo_codes
		 SET current_usage_count = current_usage_count + 1,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?
		   AND (max_usage_count = 0 OR current_usage_count < max_usage_count)`,
		codeID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Restore(ctx context.Context, db *gorm.DB, codeID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE promo_codes
		 SET current_usage_count = current_usage_count - 1,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND current_usage_count > 0`,
		codeID,
	).Error
}
