package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/specialoffer/domain"
	"github.com/freshnest/freshnest/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("specialoffer.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Resolve(ctx context.Context, grantID, userID snowflake.ID, now time.Time) (*domain.UserSpecialOffer, *domain.SpecialOffer, error) {
	grant, err := s.repo.FindGrant(ctx, s.db, grantID)
	if err != nil {
		return nil, nil, err
	}
	if grant == nil {
		return nil, nil, domain.ErrOfferNotFound
	}
	if grant.UserID != userID {
		return nil, nil, domain.ErrOfferNotOwned
	}
	if grant.IsUsed {
		return nil, nil, domain.ErrOfferUsed
	}
	if now.After(grant.ExpiresAt) {
		return nil, nil, domain.ErrOfferExpired
	}

	offer, err := s.repo.FindOffer(ctx, s.db, grant.SpecialOfferID)
	if err != nil {
		return nil, nil, err
	}
	if offer == nil {
		return nil, nil, domain.ErrOfferNotFound
	}
	if !offer.Active {
		return nil, nil, domain.ErrOfferInactive
	}
	if offer.FirstTimeCustomerOnly {
		paid, err := s.repo.CountPaidOrders(ctx, s.db, userID)
		if err != nil {
			return nil, nil, err
		}
		if paid > 0 {
			return nil, nil, domain.ErrNotFirstTimeCustomer
		}
	}
	return grant, offer, nil
}

func (s *Service) Consume(ctx context.Context, tx *gorm.DB, grantID, orderID snowflake.ID, now time.Time) error {
	ok, err := s.repo.Consume(ctx, tx, grantID, orderID, now)
	if err != nil {
		return err
	}
	if !ok {
		// A concurrent order got there first.
		return domain.ErrOfferUsed
	}
	return nil
}

func (s *Service) Restore(ctx context.Context, tx *gorm.DB, grantID snowflake.ID, now time.Time) error {
	return s.repo.Restore(ctx, tx, grantID, now)
}

func (s *Service) Grant(ctx context.Context, offerID, userID snowflake.ID, now time.Time) (*domain.UserSpecialOffer, error) {
	offer, err := s.repo.FindOffer(ctx, s.db, offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, domain.ErrOfferNotFound
	}
	if !offer.Active {
		return nil, domain.ErrOfferInactive
	}
	if offer.ValidFrom != nil && now.Before(*offer.ValidFrom) {
		return nil, domain.ErrOfferInactive
	}
	if offer.ValidUntil != nil && now.After(*offer.ValidUntil) {
		return nil, domain.ErrOfferExpired
	}

	grant := &domain.UserSpecialOffer{
		ID:             s.genID.Generate(),
		UserID:         userID,
		SpecialOfferID: offerID,
		ExpiresAt:      now.AddDate(0, 0, offer.ValidityDays),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateGrant(ctx, s.db, grant); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyGranted
		}
		return nil, err
	}
	return grant, nil
}

func (s *Service) ListForUser(ctx context.Context, userID snowflake.ID) ([]domain.UserSpecialOffer, error) {
	return s.repo.ListGrants(ctx, s.db, userID)
}
