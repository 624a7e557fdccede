package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tutorledger/tutorledger/internal/platform/db"
)

// AuditLog is one operator action: credit overwrites, code issuance,
// progress resets and account state changes.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Validate checks the fields every audit row needs.
func (l AuditLog) Validate() error {
	if l.Action == "" || l.Entity == "" || l.EntityID == "" {
		return fmt.Errorf("audit log needs action, entity and entity id: %w", ErrValidation)
	}
	return nil
}

// AuditLogger appends to audit_logs.
type AuditLogger struct {
	conn db.DBTX
}

// NewAuditLogger binds the logger to conn.
func NewAuditLogger(conn db.DBTX) *AuditLogger {
	return &AuditLogger{conn: conn}
}

// Record appends log. A zero At means the database clock.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.conn == nil {
		return errors.New("shared: audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	var meta []byte
	if len(log.Meta) > 0 {
		encoded, err := json.Marshal(log.Meta)
		if err != nil {
			return fmt.Errorf("shared: encode audit meta: %w", err)
		}
		meta = encoded
	}
	var at *time.Time
	if !log.At.IsZero() {
		ts := log.At.UTC()
		at = &ts
	}
	_, err := l.conn.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, meta, at)
	if err != nil {
		return fmt.Errorf("shared: record audit %s: %w", log.Action, err)
	}
	return nil
}
