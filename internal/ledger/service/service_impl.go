package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/freshnest/freshnest/internal/ledger/domain"
	"github.com/freshnest/freshnest/internal/money"
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
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Append(ctx context.Context, tx *gorm.DB, record *domain.PaymentRecord) error {
	if record.ID == 0 {
		record.ID = s.genID.Generate()
	}
	if err := s.repo.Insert(ctx, tx, record); err != nil {
		return err
	}
	s.log.Info("payment record appended",
		zap.Int64("order_id", int64(record.OrderID)),
		zap.String("payment_type", string(record.PaymentType)),
		zap.Int64("amount", int64(record.Amount)),
	)
	return nil
}

func (s *Service) ListByOrder(ctx context.Context, orderID snowflake.ID) ([]domain.PaymentRecord, error) {
	return s.repo.ListByOrder(ctx, s.db, orderID)
}

func (s *Service) SumCaptured(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (money.Cents, error) {
	captured, err := s.repo.SumByType(ctx, db, orderID, domain.PaymentTypeCapture)
	if err != nil {
		return 0, err
	}
	additional, err := s.repo.SumByType(ctx, db, orderID, domain.PaymentTypeAdditionalCharge)
	if err != nil {
		return 0, err
	}
	return captured + additional, nil
}

func (s *Service) SumRefunded(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (money.Cents, error) {
	return s.repo.SumByType(ctx, db, orderID, domain.PaymentTypeRefund)
}
