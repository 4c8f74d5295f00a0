package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/money"
	promodomain "github.com/freshnest/freshnest/internal/promocode/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo promodomain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo promodomain.Repository
}

func NewService(p Params) promodomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("promocode.service"),
		repo: p.Repo,
	}
}

func (s *Service) Resolve(ctx context.Context, code string, userID snowflake.ID, base money.Cents, now time.Time) (*promodomain.PromoCode, money.Cents, error) {
	promo, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, 0, err
	}
	if promo == nil {
		return nil, 0, promodomain.ErrCodeNotFound
	}
	if !promo.Active {
		return nil, 0, promodomain.ErrCodeInactive
	}
	if now.Before(promo.ValidFrom) {
		return nil, 0, promodomain.ErrCodeNotStarted
	}
	if now.After(promo.ValidUntil) {
		return nil, 0, promodomain.ErrCodeExpired
	}
	if promo.MaxUsageCount > 0 && promo.CurrentUsageCount >= promo.MaxUsageCount {
		return nil, 0, promodomain.ErrCodeExhausted
	}
	if base < promo.MinimumOrderAmount {
		return nil, 0, promodomain.ErrCodeBelowMinimum
	}
	if promo.MaxUsagePerUser > 0 {
		used, err := s.repo.CountUserUsage(ctx, s.db, promo.ID, userID)
		if err != nil {
			return nil, 0, err
		}
		if used >= promo.MaxUsagePerUser {
			return nil, 0, promodomain.ErrCodeUserLimitReached
		}
	}
	return promo, promo.DiscountOn(base), nil
}

func (s *Service) Consume(ctx context.Context, tx *gorm.DB, codeID snowflake.ID) error {
	consumed, err := s.repo.Consume(ctx, tx, codeID)
	if err != nil {
		return err
	}
	if !consumed {
		// The validated cap was taken by a concurrent order between quote
		// and capture.
		return promodomain.ErrCodeExhausted
	}
	return nil
}

func (s *Service) Restore(ctx context.Context, tx *gorm.DB, codeID snowflake.ID) error {
	return s.repo.Restore(ctx, tx, codeID)
}
