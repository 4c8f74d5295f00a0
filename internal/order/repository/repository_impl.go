package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/order/domain"
	"gorm.io/gorm"
)

type repositoryImpl struct{}

func Provide() domain.Repository {
	return &repositoryImpl{}
}

func (r *repositoryImpl) Create(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Create(order).Error
}

func (r *repositoryImpl) Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).
		Preload("Items").
		Preload("Extras").
		First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repositoryImpl) FindForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var order domain.Order
	res := tx.WithContext(ctx).
		Raw(`SELECT * FROM orders WHERE id = ? FOR UPDATE`, id).
		Scan(&order)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repositoryImpl) FindByIntentID(ctx context.Context, db *gorm.DB, intentID string) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).
		Where("payment_intent_id = ? OR pending_additional_intent_id = ?", intentID, intentID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repositoryImpl) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	return db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repositoryImpl) ReplaceLines(ctx context.Context, db *gorm.DB, orderID snowflake.ID, items []domain.OrderItem, extras []domain.OrderExtra) error {
	if err := db.WithContext(ctx).Delete(&domain.OrderItem{}, "order_id = ?", orderID).Error; err != nil {
		return err
	}
	if err := db.WithContext(ctx).Delete(&domain.OrderExtra{}, "order_id = ?", orderID).Error; err != nil {
		return err
	}
	if len(items) > 0 {
		if err := db.WithContext(ctx).Create(&items).Error; err != nil {
			return err
		}
	}
	if len(extras) > 0 {
		if err := db.WithContext(ctx).Create(&extras).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repositoryImpl) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]domain.Order, error) {
	var orders []domain.Order
	if err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repositoryImpl) ListStaleAuthorizations(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	if err := db.WithContext(ctx).
		Where("payment_status = ?", domain.PaymentStatusAuthorizationHeld).
		Where("updated_at < ?", cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
