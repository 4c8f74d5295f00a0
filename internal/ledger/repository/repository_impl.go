package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/ledger/domain"
	"github.com/freshnest/freshnest/internal/money"
	"gorm.io/gorm"
)

type repositoryImpl struct{}

func Provide() domain.Repository {
	return &repositoryImpl{}
}

func (r *repositoryImpl) Insert(ctx context.Context, db *gorm.DB, record *domain.PaymentRecord) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repositoryImpl) ListByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]domain.PaymentRecord, error) {
	var records []domain.PaymentRecord
	if err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repositoryImpl) SumByType(ctx context.Context, db *gorm.DB, orderID snowflake.ID, t domain.PaymentType) (money.Cents, error) {
	var total int64
	err := db.WithContext(ctx).Raw(`
		SELECT COALESCE(SUM(amount), 0)
		FROM payment_history
		WHERE order_id = ?
		  AND payment_type = ?
	`, orderID, t).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return money.Cents(total), nil
}
