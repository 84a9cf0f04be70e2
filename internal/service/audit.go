package service

import (
	"context"
	"encoding/json"
	"fmt"

	"loft/internal/domain"
	"loft/internal/events"
	"loft/internal/models"

	"github.com/rs/zerolog"
)

// AuditRecorder appends every reservation event to the audit log.
type AuditRecorder struct {
	store  domain.AuditStore
	logger *zerolog.Logger
}

func NewAuditRecorder(store domain.AuditStore, logger *zerolog.Logger) *AuditRecorder {
	return &AuditRecorder{store: store, logger: logger}
}

// Handle is an events.EventHandler.
func (a *AuditRecorder) Handle(event *events.Event) error {
	var ref struct {
		BookingID int64  `json:"booking_id"`
		ChangedBy string `json:"changed_by"`
		CreatedBy string `json:"created_by"`
	}
	if err := json.Unmarshal(event.Payload, &ref); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.Type, err)
	}

	actor := ref.ChangedBy
	if actor == "" {
		actor = ref.CreatedBy
	}

	entry := &models.AuditEntry{
		EventType: event.Type,
		BookingID: ref.BookingID,
		Actor:     actor,
		Payload:   string(event.Payload),
		CreatedAt: event.CreatedAt,
	}
	if err := a.store.InsertAuditEntry(context.Background(), entry); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	if a.logger != nil {
		a.logger.Debug().Str("event", event.Type).Int64("booking_id", ref.BookingID).Msg("audit entry recorded")
	}
	return nil
}
