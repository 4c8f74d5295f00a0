package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindService(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Service, error)
	FindExtra(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ExtraService, error)
	ListServices(ctx context.Context, db *gorm.DB) ([]Service, error)
	ListExtras(ctx context.Context, db *gorm.DB) ([]ExtraService, error)
}
