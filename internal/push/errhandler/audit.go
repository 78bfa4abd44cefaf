package errhandler

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS rejected_records (
	id          BIGSERIAL PRIMARY KEY,
	stream      TEXT        NOT NULL,
	topic       TEXT        NOT NULL,
	partition   INTEGER     NOT NULL,
	record_offset BIGINT    NOT NULL,
	fault_kind  TEXT        NOT NULL,
	fault       TEXT        NOT NULL,
	record_key  BYTEA,
	record_value BYTEA,
	rejected_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const indexDDL = `
CREATE INDEX IF NOT EXISTS rejected_records_topic_idx
	ON rejected_records (topic, partition, record_offset)`

// AuditStore keeps one row per dropped record in PostgreSQL.
type AuditStore struct {
	db *postgres.Client
}

// NewAuditStore creates the audit table if needed.
func NewAuditStore(ctx context.Context, db *postgres.Client) (*AuditStore, error) {
	err := db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, indexDDL)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating rejected_records schema: %w", err)
	}
	return &AuditStore{db: db}, nil
}

// Record inserts r.
func (s *AuditStore) Record(ctx context.Context, r Rejection) error {
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO rejected_records (stream, topic, partition, record_offset, fault_kind, fault, record_key, record_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.Stream, r.Record.Topic, r.Record.Partition, r.Record.Offset,
		r.Kind.String(), r.Err.Error(), r.Record.Key, r.Record.Value,
	)
	if err != nil {
		return fmt.Errorf("inserting rejected record: %w", err)
	}
	return nil
}
