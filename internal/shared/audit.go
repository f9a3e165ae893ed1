package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/quoting/internal/quoting/refs"
)

// Execer is satisfied by pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
}

var _ Execer = (pgx.Tx)(nil)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID       int64
	Action        string
	Entity        refs.EntityRef
	CorrelationID string
	Meta          map[string]any
	At            time.Time
}

// AuditLogger writes records into audit_logs. Bound to a transaction it
// commits or rolls back together with the change it describes.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" {
		return errors.New("audit log requires action")
	}
	if err := log.Entity.Validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	var correlation *string
	if log.CorrelationID != "" {
		correlation = &log.CorrelationID
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, correlation_id, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		log.ActorID, log.Action, string(log.Entity.Kind), log.Entity.ID, correlation, metaJSON, at)
	return err
}
