package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindService(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Service, error) {
	var item domain.Service
	err := db.WithContext(ctx).
		Preload("Ranges").
		Where("id = ? AND active = ?", id, true).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindExtra(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ExtraService, error) {
	var item domain.ExtraService
	err := db.WithContext(ctx).
		Where("id = ? AND active = ?", id, true).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) ListServices(ctx context.Context, db *gorm.DB) ([]domain.Service, error) {
	var items []domain.Service
	err := db.WithContext(ctx).
		Preload("Ranges").
		Where("active = ?", true).
		Order("code").
		Find(&items).Error
	return items, err
}

func (r *repo) ListExtras(ctx context.Context, db *gorm.DB) ([]domain.ExtraService, error) {
	var items []domain.ExtraService
	err := db.WithContext(ctx).
		Where("active = ?", true).
		Order("code").
		Find(&items).Error
	return items, err
}
