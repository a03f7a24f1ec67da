// Package audit appends order mutation records to the audit side channel.
// Every write is best-effort: the primary state change never waits on, or
// rolls back for, an audit failure.
package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/dinehub/services/orders/internal/messaging"
	"example.com/dinehub/services/orders/internal/models"
	"example.com/dinehub/services/orders/internal/search"
)

// Entry is one audit event before serialization.
type Entry struct {
	Action   string
	EntityID string
	Actor    string
	Before   interface{}
	After    interface{}
	Metadata interface{}
}

// Recorder appends audit entries.
type Recorder interface {
	Append(ctx context.Context, entry Entry) error
}

// recorder persists entries to the audit table and fans them out to the
// service bus queue and Elasticsearch when those are configured.
type recorder struct {
	db      *gorm.DB
	bus     messaging.ServiceBusClient
	elastic *search.ElasticClient
}

// NewRecorder creates an audit recorder. bus and elastic may be nil.
func NewRecorder(db *gorm.DB, bus messaging.ServiceBusClient, elastic *search.ElasticClient) Recorder {
	return &recorder{db: db, bus: bus, elastic: elastic}
}

// Append writes the entry to the audit table and publishes it to the
// configured side channels. Side channel failures are logged, not returned;
// only a table write failure surfaces, and the caller is expected to swallow
// that too.
func (r *recorder) Append(ctx context.Context, entry Entry) error {
	rec := &models.AuditRecord{
		ID:         uuid.New().String(),
		Action:     entry.Action,
		EntityType: "Order",
		EntityID:   entry.EntityID,
		Actor:      entry.Actor,
		Before:     marshal(entry.Before),
		After:      marshal(entry.After),
		Metadata:   marshal(entry.Metadata),
	}

	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return errors.Wrap(err, "failed to persist audit record")
	}

	if r.bus != nil {
		if err := r.bus.SendMessage(ctx, rec); err != nil {
			log.Warn().Err(err).Str("action", rec.Action).Msg("Failed to publish audit record")
		}
	}

	if r.elastic != nil {
		if err := r.elastic.IndexAuditRecord(ctx, rec); err != nil {
			log.Warn().Err(err).Str("action", rec.Action).Msg("Failed to index audit record")
		}
	}

	return nil
}

func marshal(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to marshal audit field")
		return nil
	}
	return data
}
