package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/specialoffer/domain"
	"gorm.io/gorm"
)

type repositoryImpl struct{}

func Provide() domain.Repository {
	return &repositoryImpl{}
}

func (r *repositoryImpl) FindOffer(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.SpecialOffer, error) {
	var offer domain.SpecialOffer
	if err := db.WithContext(ctx).First(&offer, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &offer, nil
}

func (r *repositoryImpl) FindGrant(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.UserSpecialOffer, error) {
	var grant domain.UserSpecialOffer
	if err := db.WithContext(ctx).First(&grant, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &grant, nil
}

func (r *repositoryImpl) ListGrants(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]domain.UserSpecialOffer, error) {
	var grants []domain.UserSpecialOffer
	if err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&grants).Error; err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repositoryImpl) CreateGrant(ctx context.Context, db *gorm.DB, grant *domain.UserSpecialOffer) error {
	return db.WithContext(ctx).Create(grant).Error
}

func (r *repositoryImpl) Consume(ctx context.Context, db *gorm.DB, grantID, orderID snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(`
		UPDATE user_special_offers
		SET is_used = TRUE,
		    used_on_order_id = ?,
		    updated_at = ?
		WHERE id = ?
		  AND is_used = FALSE
	`, orderID, now, grantID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repositoryImpl) CountPaidOrders(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`
		SELECT COUNT(1)
		FROM orders
		WHERE user_id = ?
		  AND payment_status IN ('paid', 'partially_paid', 'refunded')
	`, userID).Scan(&count).Error
	return count, err
}

func (r *repositoryImpl) Restore(ctx context.Context, db *gorm.DB, grantID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(`
		UPDATE user_special_offers
		SET is_used = FALSE,
		    used_on_order_id = NULL,
		    updated_at = ?
		WHERE id = ?
	`, now, grantID).Error
}
