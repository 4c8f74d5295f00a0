package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// AuditLog is an append-only record of money-bearing state transitions.
type AuditLog struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	ActorType  string            `json:"actor_type" gorm:"type:text;not null"`
	Action     string            `json:"action" gorm:"type:text;not null;index"`
	TargetType string            `json:"target_type" gorm:"type:text;not null"`
	TargetID   string            `json:"target_id" gorm:"type:text;not null;index"`
	Metadata   datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt  time.Time         `json:"created_at" gorm:"not null"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Service writes audit rows. Failures are logged by implementations, never
// propagated into the transition that triggered them.
type Service interface {
	AuditLog(ctx context.Context, actorType, action, targetType, targetID string, metadata map[string]any) error
}
