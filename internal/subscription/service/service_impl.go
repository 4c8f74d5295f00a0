package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/money"
	subscriptiondomain "github.com/freshnest/freshnest/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo subscriptiondomain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo subscriptiondomain.Repository
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("subscription.service"),
		repo: p.Repo,
	}
}

func (s *Service) ActiveDiscount(ctx context.Context, userID snowflake.ID, now time.Time) (money.BasisPoints, error) {
	_, tier, err := s.repo.ActiveForUser(ctx, s.db, userID, now)
	if err != nil {
		return 0, err
	}
	if tier == nil || tier.DiscountBps <= 0 {
		return 0, nil
	}
	return tier.DiscountBps, nil
}
