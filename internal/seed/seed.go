package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/freshnest/freshnest/internal/catalog/domain"
	"github.com/freshnest/freshnest/internal/money"
	subscriptiondomain "github.com/freshnest/freshnest/internal/subscription/domain"
	"gorm.io/gorm"
)

// EnsureCatalog seeds the baseline cleaning services, add-ons, and
// subscription tiers so a fresh install can quote an order immediately.
// Existing rows are left untouched.
func EnsureCatalog(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureServices(ctx, tx, node); err != nil {
			return err
		}
		if err := ensureExtras(ctx, tx, node); err != nil {
			return err
		}
		return ensureTiers(ctx, tx, node)
	})
}

func ensureServices(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	now := time.Now().UTC()
	services := []catalogdomain.Service{
		{
			Code:        "home_cleaning",
			Name:        "Home Cleaning",
			PricingMode: catalogdomain.PricingModeRanged,
			Active:      true,
		},
		{
			Code:        "office_cleaning",
			Name:        "Office Cleaning",
			PricingMode: catalogdomain.PricingModePerUnit,
			UnitAmount:  money.Cents(3500),
			Active:      true,
		},
		{
			Code:        "window_washing",
			Name:        "Window Washing",
			PricingMode: catalogdomain.PricingModeStepped,
			StepSize:    5,
			StepAmount:  money.Cents(4000),
			Active:      true,
		},
	}

	ranges := map[string][]catalogdomain.ServiceRange{
		"home_cleaning": {
			{MinQuantity: 1, MaxQuantity: 2, Amount: money.Cents(8900)},
			{MinQuantity: 3, MaxQuantity: 4, Amount: money.Cents(12900)},
			{MinQuantity: 5, MaxQuantity: 8, Amount: money.Cents(17900)},
		},
	}

	for _, svc := range services {
		var existing catalogdomain.Service
		err := tx.WithContext(ctx).Where("code = ?", svc.Code).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		svc.ID = node.Generate()
		svc.CreatedAt = now
		svc.UpdatedAt = now
		if err := tx.WithContext(ctx).Create(&svc).Error; err != nil {
			return err
		}

		for _, r := range ranges[svc.Code] {
			r.ID = node.Generate()
			r.ServiceID = svc.ID
			if err := tx.WithContext(ctx).Create(&r).Error; err != nil {
				return err
			}
		}
	}

	return nil
}

func ensureExtras(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	now := time.Now().UTC()
	extras := []catalogdomain.ExtraService{
		{
			Code:        "inside_fridge",
			Name:        "Inside Fridge",
			PricingMode: catalogdomain.ExtraPricingModeFlat,
			Amount:      money.Cents(2500),
			Active:      true,
		},
		{
			Code:        "laundry",
			Name:        "Laundry",
			PricingMode: catalogdomain.ExtraPricingModePerQuantity,
			Amount:      money.Cents(1500),
			Active:      true,
		},
		{
			Code:        "organizing",
			Name:        "Organizing",
			PricingMode: catalogdomain.ExtraPricingModePerHour,
			Amount:      money.Cents(3000),
			Active:      true,
		},
		{
			Code:          "deep_cleaning",
			Name:          "Deep Cleaning",
			PricingMode:   catalogdomain.ExtraPricingModeMultiplier,
			MultiplierBps: money.BasisPoints(3000),
			Active:        true,
		},
	}

	for _, extra := range extras {
		var existing catalogdomain.ExtraService
		err := tx.WithContext(ctx).Where("code = ?", extra.Code).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		extra.ID = node.Generate()
		extra.CreatedAt = now
		extra.UpdatedAt = now
		if err := tx.WithContext(ctx).Create(&extra).Error; err != nil {
			return err
		}
	}

	return nil
}

func ensureTiers(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	now := time.Now().UTC()
	tiers := []subscriptiondomain.Tier{
		{Code: "weekly", Name: "Weekly", DiscountBps: money.BasisPoints(1500), Active: true},
		{Code: "biweekly", Name: "Every Two Weeks", DiscountBps: money.BasisPoints(1000), Active: true},
		{Code: "monthly", Name: "Monthly", DiscountBps: money.BasisPoints(500), Active: true},
	}

	for _, tier := range tiers {
		var existing subscriptiondomain.Tier
		err := tx.WithContext(ctx).Where("code = ?", tier.Code).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		tier.ID = node.Generate()
		tier.CreatedAt = now
		if err := tx.WithContext(ctx).Create(&tier).Error; err != nil {
			return err
		}
	}

	return nil
}
