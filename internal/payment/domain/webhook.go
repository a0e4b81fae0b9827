package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// WebhookEvent archives every verified provider event. The unique
// provider event id doubles as the delivery dedup key: an insert that
// hits the constraint means the event was already handled.
type WebhookEvent struct {
	ID              snowflake.ID   `gorm:"column:id;primaryKey"`
	ProviderEventID string         `gorm:"column:provider_event_id;uniqueIndex"`
	EventType       string         `gorm:"column:event_type"`
	Payload         datatypes.JSON `gorm:"column:payload"`
	ReceivedAt      time.Time      `gorm:"column:received_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// WebhookService reconciles verified provider notifications into the
// subscription state store.
type WebhookService interface {
	Process(ctx context.Context, payload []byte, header http.Header) error
}
