package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/freshnest/freshnest/internal/specialoffer/domain"
	"github.com/freshnest/freshnest/internal/specialoffer/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*gorm.DB, domain.Service, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.SpecialOffer{}, &domain.UserSpecialOffer{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})
	return db, svc, node
}

func seedOffer(t *testing.T, db *gorm.DB, node *snowflake.Node, active bool) *domain.SpecialOffer {
	t.Helper()

	now := time.Now().UTC()
	offer := &domain.SpecialOffer{
		ID:           node.Generate(),
		Name:         "Spring deep clean",
		DiscountBps:  1500,
		ValidityDays: 30,
		Active:       active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, db.Create(offer).Error)
	return offer
}

func TestGrantThenResolve(t *testing.T) {
	db, svc, node := newTestService(t)
	offer := seedOffer(t, db, node, true)
	userID := node.Generate()
	now := time.Now().UTC()

	grant, err := svc.Grant(context.Background(), offer.ID, userID, now)
	require.NoError(t, err)
	require.Equal(t, now.AddDate(0, 0, 30), grant.ExpiresAt)

	gotGrant, gotOffer, err := svc.Resolve(context.Background(), grant.ID, userID, now)
	require.NoError(t, err)
	require.Equal(t, grant.ID, gotGrant.ID)
	require.Equal(t, offer.DiscountBps, gotOffer.DiscountBps)
}

func TestGrantIsOncePerUser(t *testing.T) {
	db, svc, node := newTestService(t)
	offer := seedOffer(t, db, node, true)
	userID := node.Generate()
	now := time.Now().UTC()

	_, err := svc.Grant(context.Background(), offer.ID, userID, now)
	require.NoError(t, err)

	_, err = svc.Grant(context.Background(), offer.ID, userID, now)
	require.ErrorIs(t, err, domain.ErrAlreadyGranted)
}

func TestResolveRejections(t *testing.T) {
	db, svc, node := newTestService(t)
	offer := seedOffer(t, db, node, true)
	userID := node.Generate()
	now := time.Now().UTC()

	grant, err := svc.Grant(context.Background(), offer.ID, userID, now)
	require.NoError(t, err)

	_, _, err = svc.Resolve(context.Background(), grant.ID, node.Generate(), now)
	require.ErrorIs(t, err, domain.ErrOfferNotOwned)

	_, _, err = svc.Resolve(context.Background(), grant.ID, userID, now.AddDate(0, 0, 31))
	require.ErrorIs(t, err, domain.ErrOfferExpired)

	require.NoError(t, db.Model(&domain.SpecialOffer{}).
		Where("id = ?", offer.ID).
		Update("active", false).Error)
	_, _, err = svc.Resolve(context.Background(), grant.ID, userID, now)
	require.ErrorIs(t, err, domain.ErrOfferInactive)
}

func TestConsumeIsSingleUse(t *testing.T) {
	db, svc, node := newTestService(t)
	offer := seedOffer(t, db, node, true)
	userID := node.Generate()
	now := time.Now().UTC()

	grant, err := svc.Grant(context.Background(), offer.ID, userID, now)
	require.NoError(t, err)

	orderID := node.Generate()
	require.NoError(t, svc.Consume(context.Background(), db, grant.ID, orderID, now))

	err = svc.Consume(context.Background(), db, grant.ID, node.Generate(), now)
	require.ErrorIs(t, err, domain.ErrOfferUsed)

	var got domain.UserSpecialOffer
	require.NoError(t, db.First(&got, "id = ?", grant.ID).Error)
	require.True(t, got.IsUsed)
	require.NotNil(t, got.UsedOnOrderID)
	require.Equal(t, orderID, *got.UsedOnOrderID)

	_, _, err = svc.Resolve(context.Background(), grant.ID, userID, now)
	require.ErrorIs(t, err, domain.ErrOfferUsed)
}

func TestRestoreReopensGrant(t *testing.T) {
	db, svc, node := newTestService(t)
	offer := seedOffer(t, db, node, true)
	userID := node.Generate()
	now := time.Now().UTC()

	grant, err := svc.Grant(context.Background(), offer.ID, userID, now)
	require.NoError(t, err)
	require.NoError(t, svc.Consume(context.Background(), db, grant.ID, node.Generate(), now))
	require.NoError(t, svc.Restore(context.Background(), db, grant.ID, now))

	_, _, err = svc.Resolve(context.Background(), grant.ID, userID, now)
	require.NoError(t, err)
}
