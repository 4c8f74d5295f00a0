package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/giftcard/domain"
	"github.com/freshnest/freshnest/internal/money"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.GiftCard, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, nil
	}
	var item domain.GiftCard
	err := db.WithContext(ctx).Where("code = ?", code).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.GiftCard, error) {
	var item domain.GiftCard
	err := db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) Debit(ctx context.Context, db *gorm.DB, cardID snowflake.ID, amount money.Cents) (money.Cents, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE gift_cards
		 SET current_balance = current_balance - ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?
		   AND is_paid = ?
		   AND current_balance >= ?`,
		amount,
		cardID,
		true,
		amount,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, domain.ErrBalanceConflict
	}

	var balance money.Cents
	if err := db.WithContext(ctx).Raw(
		`SELECT current_balance FROM gift_cards WHERE id = ?`,
		cardID,
	).Scan(&balance).Error; err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *repo) Credit(ctx context.Context, db *gorm.DB, cardID snowflake.ID, amount money.Cents) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE gift_cards
		 SET current_balance = current_balance + ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?
		   AND current_balance + ? <= original_amount`,
		amount,
		cardID,
		amount,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrBalanceConflict
	}
	return nil
}

func (r *repo) InsertUsage(ctx context.Context, db *gorm.DB, usage *domain.GiftCardUsage) error {
	return db.WithContext(ctx).Create(usage).Error
}

func (r *repo) ListUsages(ctx context.Context, db *gorm.DB, cardID snowflake.ID) ([]domain.GiftCardUsage, error) {
	var usages []domain.GiftCardUsage
	err := db.WithContext(ctx).
		Where("gift_card_id = ?", cardID).
		Order("created_at, id").
		Find(&usages).Error
	return usages, err
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, card *domain.GiftCard) error {
	return db.WithContext(ctx).Create(card).Error
}

func (r *repo) MarkPaid(ctx context.Context, db *gorm.DB, cardID snowflake.ID, paidAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE gift_cards
		 SET is_paid = ?, paid_at = COALESCE(paid_at, ?), updated_at = ?
		 WHERE id = ?`,
		true,
		paidAt,
		paidAt,
		cardID,
	).Error
}
