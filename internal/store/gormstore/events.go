package gormstore

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarkoPoloResearchLab/forwarder/internal/payments"
	"gorm.io/gorm"
)

// EventStore implements payments.EventStore using GORM.
type EventStore struct {
	db *gorm.DB
}

// NewEventStore returns an EventStore backed by db.
func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

func (store *EventStore) RecordEvent(ctx context.Context, event payments.Event) (payments.Event, error) {
	row := WebhookEvent{
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		Type:            event.Type,
		Payload:         event.Payload,
		Status:          string(event.Status),
		Detail:          event.Detail,
		ReceivedAt:      event.ReceivedAt,
	}
	if row.Payload == nil {
		row.Payload = []byte{}
	}
	if row.ReceivedAt.IsZero() {
		row.ReceivedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return payments.Event{}, wrapStoreError(errorSubjectEvent, errorCodeInsert, err)
	}
	return mapEvent(row), nil
}

func (store *EventStore) MarkEvent(ctx context.Context, update payments.EventUpdate) error {
	processedAt := update.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("event_id = ?", update.ID).
		Updates(map[string]interface{}{
			"provider_event_id": update.ProviderEventID,
			"type":              update.Type,
			"status":            string(update.Status),
			"detail":            truncate(update.Detail, maxEventDetailLength),
			"processed_at":      processedAt,
		}).Error
	if err != nil {
		return wrapStoreError(errorSubjectEvent, errorCodeUpdate, err)
	}
	return nil
}

// PurgeEvents deletes processed events received before the cutoff. Events
// still marked received are kept.
func (store *EventStore) PurgeEvents(ctx context.Context, before time.Time) (int64, error) {
	result := store.db.WithContext(ctx).
		Where("received_at < ? AND status <> ?", before.UTC(), string(payments.EventReceived)).
		Delete(&WebhookEvent{})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectEvent, errorCodePurge, result.Error)
	}
	return result.RowsAffected, nil
}

// GetEvent returns a recorded event by id.
func (store *EventStore) GetEvent(ctx context.Context, id string) (payments.Event, error) {
	var row WebhookEvent
	if err := store.db.WithContext(ctx).Where("event_id = ?", id).Take(&row).Error; err != nil {
		return payments.Event{}, wrapStoreError(errorSubjectEvent, errorCodeGet, err)
	}
	return mapEvent(row), nil
}

// ListEvents returns events for a provider event id, oldest first.
func (store *EventStore) ListEvents(ctx context.Context, providerEventID string) ([]payments.Event, error) {
	var rows []WebhookEvent
	err := store.db.WithContext(ctx).
		Where("provider_event_id = ?", providerEventID).
		Order("received_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEvent, errorCodeList, err)
	}
	events := make([]payments.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, mapEvent(row))
	}
	return events, nil
}

const maxEventDetailLength = 1024

func mapEvent(row WebhookEvent) payments.Event {
	return payments.Event{
		ID:              row.EventID,
		Provider:        row.Provider,
		ProviderEventID: row.ProviderEventID,
		Type:            row.Type,
		Payload:         row.Payload,
		Status:          payments.EventStatus(row.Status),
		Detail:          row.Detail,
		ReceivedAt:      row.ReceivedAt.UTC(),
		ProcessedAt:     row.ProcessedAt,
	}
}

// truncate caps value at limit bytes without splitting a rune. Invalid
// sequences are dropped since text columns reject them.
func truncate(value string, limit int) string {
	value = strings.ToValidUTF8(value, "")
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
