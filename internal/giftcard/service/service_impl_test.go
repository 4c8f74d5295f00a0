package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	giftcarddomain "github.com/freshnest/freshnest/internal/giftcard/domain"
	"github.com/freshnest/freshnest/internal/giftcard/repository"
	"github.com/freshnest/freshnest/internal/money"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*gorm.DB, giftcarddomain.Service) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&giftcarddomain.GiftCard{}, &giftcarddomain.GiftCardUsage{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})
	return db, svc
}

// seedNode is shared by every seed call; a fresh node per seed can mint
// the same ID twice within one millisecond.
var seedNode = func() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}()

func seedCard(t *testing.T, db *gorm.DB, code string, balance money.Cents, paid bool) *giftcarddomain.GiftCard {
	t.Helper()

	now := time.Now().UTC()
	card := &giftcarddomain.GiftCard{
		ID:                seedNode.Generate(),
		Code:              code,
		OriginalAmount:    balance,
		CurrentBalance:    balance,
		IsPaid:            paid,
		PurchasedByUserID: seedNode.Generate(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if paid {
		card.PaidAt = &now
	}
	require.NoError(t, db.Create(card).Error)
	return card
}

func TestResolveCapsAtRemaining(t *testing.T) {
	db, svc := newTestService(t)
	seedCard(t, db, "AAAABBBBCCCCDDDD", 3000, true)

	card, applicable, err := svc.Resolve(context.Background(), "AAAABBBBCCCCDDDD", 1200)
	require.NoError(t, err)
	require.Equal(t, money.Cents(1200), applicable)
	require.Equal(t, money.Cents(3000), card.CurrentBalance)
}

func TestResolveCapsAtBalance(t *testing.T) {
	db, svc := newTestService(t)
	seedCard(t, db, "AAAABBBBCCCCDDDD", 500, true)

	_, applicable, err := svc.Resolve(context.Background(), "AAAABBBBCCCCDDDD", 9900)
	require.NoError(t, err)
	require.Equal(t, money.Cents(500), applicable)
}

func TestResolveRejectsUnpaidAndEmpty(t *testing.T) {
	db, svc := newTestService(t)
	seedCard(t, db, "UNPAIDUNPAIDUNPA", 2000, false)
	empty := seedCard(t, db, "EMPTYEMPTYEMPTYE", 2000, true)
	require.NoError(t, db.Model(&giftcarddomain.GiftCard{}).
		Where("id = ?", empty.ID).
		Update("current_balance", 0).Error)

	_, _, err := svc.Resolve(context.Background(), "UNPAIDUNPAIDUNPA", 1000)
	require.ErrorIs(t, err, giftcarddomain.ErrCardUnpaid)

	_, _, err = svc.Resolve(context.Background(), "EMPTYEMPTYEMPTYE", 1000)
	require.ErrorIs(t, err, giftcarddomain.ErrCardEmpty)

	_, _, err = svc.Resolve(context.Background(), "NOSUCHCODEXXXXXX", 1000)
	require.ErrorIs(t, err, giftcarddomain.ErrCardNotFound)
}

func TestDebitWritesUsagePair(t *testing.T) {
	db, svc := newTestService(t)
	card := seedCard(t, db, "AAAABBBBCCCCDDDD", 3000, true)

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	orderID := node.Generate()

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.Debit(context.Background(), tx, card.ID, orderID, 1200)
	})
	require.NoError(t, err)

	var got giftcarddomain.GiftCard
	require.NoError(t, db.First(&got, "id = ?", card.ID).Error)
	require.Equal(t, money.Cents(1800), got.CurrentBalance)

	var usages []giftcarddomain.GiftCardUsage
	require.NoError(t, db.Find(&usages, "gift_card_id = ?", card.ID).Error)
	require.Len(t, usages, 1)
	require.Equal(t, orderID, usages[0].OrderID)
	require.Equal(t, money.Cents(1200), usages[0].AmountUsed)
	require.Equal(t, money.Cents(1800), usages[0].BalanceAfterUsage)
}

func TestDebitConflictRollsBackUsage(t *testing.T) {
	db, svc := newTestService(t)
	card := seedCard(t, db, "AAAABBBBCCCCDDDD", 1000, true)

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.Debit(context.Background(), tx, card.ID, node.Generate(), 1500)
	})
	require.ErrorIs(t, err, giftcarddomain.ErrBalanceConflict)

	var got giftcarddomain.GiftCard
	require.NoError(t, db.First(&got, "id = ?", card.ID).Error)
	require.Equal(t, money.Cents(1000), got.CurrentBalance)

	var count int64
	require.NoError(t, db.Model(&giftcarddomain.GiftCardUsage{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestPurchaseThenMarkPaid(t *testing.T) {
	db, svc := newTestService(t)

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	card, err := svc.Purchase(context.Background(), node.Generate(), 5000)
	require.NoError(t, err)
	require.Len(t, card.Code, giftcarddomain.CodeLength)
	require.False(t, card.IsPaid)

	_, _, err = svc.Resolve(context.Background(), card.Code, 1000)
	require.ErrorIs(t, err, giftcarddomain.ErrCardUnpaid)

	require.NoError(t, svc.MarkPaid(context.Background(), db, card.ID, time.Now().UTC()))

	got, applicable, err := svc.Resolve(context.Background(), card.Code, 1000)
	require.NoError(t, err)
	require.True(t, got.IsPaid)
	require.Equal(t, money.Cents(1000), applicable)
}

func TestPurchaseRejectsNonPositiveAmount(t *testing.T) {
	_, svc := newTestService(t)

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	_, err = svc.Purchase(context.Background(), node.Generate(), 0)
	require.ErrorIs(t, err, giftcarddomain.ErrInvalidAmount)
}
