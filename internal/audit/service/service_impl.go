package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/freshnest/freshnest/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
	}
}

func (s *Service) AuditLog(ctx context.Context, actorType, action, targetType, targetID string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return nil
	}
	if actorType == "" {
		actorType = "system"
	}

	row := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		Action:     action,
		TargetType: strings.TrimSpace(targetType),
		TargetID:   strings.TrimSpace(targetID),
		Metadata:   datatypes.JSONMap(metadata),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("target_id", row.TargetID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
