package repository

import (
	"context"
	"time"

	"github.com/freshnest/freshnest/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.WebhookEventRepository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			event_id, provider, event_type, intent_id,
			payload, is_processed, error_message, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID,
		event.Provider,
		event.EventType,
		event.IntentID,
		event.Payload,
		event.IsProcessed,
		event.ErrorMessage,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, eventID string) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT event_id, provider, event_type, intent_id,
			payload, is_processed, error_message, received_at, processed_at
		 FROM webhook_events
		 WHERE event_id = ?
		 LIMIT 1`,
		eventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.EventID == "" {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, eventID string, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET is_processed = TRUE,
		     error_message = '',
		     processed_at = ?
		 WHERE event_id = ?`,
		processedAt,
		eventID,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, eventID string, message string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET is_processed = FALSE,
		     error_message = ?
		 WHERE event_id = ?`,
		message,
		eventID,
	).Error
}

func (r *repo) ListUnprocessed(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.WebhookEvent, error) {
	var events []domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT event_id, provider, event_type, intent_id,
			payload, is_processed, error_message, received_at, processed_at
		 FROM webhook_events
		 WHERE is_processed = FALSE
		   AND received_at < ?
		 ORDER BY received_at ASC
		 LIMIT ?`,
		cutoff,
		limit,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
