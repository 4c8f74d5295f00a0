package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ActiveForUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) (*domain.Subscription, *domain.Tier, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND start_at <= ?", userID, domain.SubscriptionStatusActive, now).
		Where("ended_at IS NULL OR ended_at > ?", now).
		Order("start_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	var tier domain.Tier
	err = db.WithContext(ctx).
		Where("id = ? AND active = ?", sub.TierID, true).
		First(&tier).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &sub, nil, domain.ErrTierNotFound
		}
		return nil, nil, err
	}
	return &sub, &tier, nil
}
