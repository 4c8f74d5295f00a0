package service

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	giftcarddomain "github.com/freshnest/freshnest/internal/giftcard/domain"
	"github.com/freshnest/freshnest/internal/money"
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
	Repo  giftcarddomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  giftcarddomain.Repository
}

func NewService(p Params) giftcarddomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("giftcard.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Resolve(ctx context.Context, code string, remaining money.Cents) (*giftcarddomain.GiftCard, money.Cents, error) {
	card, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, 0, err
	}
	if card == nil {
		return nil, 0, giftcarddomain.ErrCardNotFound
	}
	if !card.IsPaid {
		return nil, 0, giftcarddomain.ErrCardUnpaid
	}
	if card.CurrentBalance <= 0 {
		return nil, 0, giftcarddomain.ErrCardEmpty
	}
	if remaining <= 0 {
		return card, 0, nil
	}
	return card, money.Min(card.CurrentBalance, remaining), nil
}

func (s *Service) Debit(ctx context.Context, tx *gorm.DB, cardID, orderID snowflake.ID, amount money.Cents) error {
	balanceAfter, err := s.repo.Debit(ctx, tx, cardID, amount)
	if err != nil {
		return err
	}
	// The usage row and the balance decrement commit or roll back together.
	return s.repo.InsertUsage(ctx, tx, &giftcarddomain.GiftCardUsage{
		ID:                s.genID.Generate(),
		GiftCardID:        cardID,
		OrderID:           orderID,
		AmountUsed:        amount,
		BalanceAfterUsage: balanceAfter,
		CreatedAt:         time.Now().UTC(),
	})
}

func (s *Service) DebitUpTo(ctx context.Context, tx *gorm.DB, cardID, orderID snowflake.ID, amount money.Cents) (money.Cents, error) {
	for attempt := 0; attempt < 3; attempt++ {
		card, err := s.repo.FindByID(ctx, tx, cardID)
		if err != nil {
			return 0, err
		}
		if card == nil {
			return 0, giftcarddomain.ErrCardNotFound
		}
		take := money.Min(card.CurrentBalance, amount)
		if take <= 0 {
			return 0, nil
		}
		err = s.Debit(ctx, tx, cardID, orderID, take)
		if errors.Is(err, giftcarddomain.ErrBalanceConflict) {
			// The balance moved between the read and the decrement;
			// re-read and take what is left.
			continue
		}
		if err != nil {
			return 0, err
		}
		return take, nil
	}
	return 0, giftcarddomain.ErrBalanceConflict
}

func (s *Service) Credit(ctx context.Context, tx *gorm.DB, cardID snowflake.ID, amount money.Cents) error {
	return s.repo.Credit(ctx, tx, cardID, amount)
}

func (s *Service) Purchase(ctx context.Context, userID snowflake.ID, amount money.Cents) (*giftcarddomain.GiftCard, error) {
	if amount <= 0 {
		return nil, giftcarddomain.ErrInvalidAmount
	}

	now := time.Now().UTC()
	// Retry on the rare code collision.
	for attempt := 0; attempt < 3; attempt++ {
		card := &giftcarddomain.GiftCard{
			ID:                s.genID.Generate(),
			Code:              generateCode(),
			OriginalAmount:    amount,
			CurrentBalance:    amount,
			IsPaid:            false,
			PurchasedByUserID: userID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		err := s.repo.Create(ctx, s.db, card)
		if err == nil {
			return card, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
	}
	return nil, giftcarddomain.ErrCardNotFound
}

func (s *Service) MarkPaid(ctx context.Context, tx *gorm.DB, cardID snowflake.ID, paidAt time.Time) error {
	return s.repo.MarkPaid(ctx, tx, cardID, paidAt)
}

func (s *Service) Lookup(ctx context.Context, code string) (*giftcarddomain.GiftCard, error) {
	card, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, giftcarddomain.ErrCardNotFound
	}
	return card, nil
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func generateCode() string {
	buf := make([]byte, giftcarddomain.CodeLength)
	_, _ = rand.Read(buf)
	for i := range buf {
		buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
	}
	return string(buf)
}
