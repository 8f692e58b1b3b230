package database

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
)

const (
	EventSessionStart = "SESSION_START"
	EventSessionStop  = "SESSION_STOP"
)

// LogEvent appends one audit record.
func (d *Database) LogEvent(ctx context.Context, sessionID string, count int, eventType, details string) error {
	_, err := d.querier(ctx).ExecContext(ctx,
		`INSERT INTO audit_events (ts, session_id, event_type, details, count) VALUES ($1, $2, $3, $4, $5)`,
		time.Now().UTC(),
		sessionID,
		eventType,
		details,
		count,
	)
	return errors.Wrap(err, "insert audit event")
}

// ListEvents returns the newest records first.
func (d *Database) ListEvents(ctx context.Context, sessionID string, limit int) ([]models.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.querier(ctx).QueryContext(ctx, `
		SELECT ts, session_id, event_type, details, count
		FROM audit_events
		WHERE session_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list audit events")
	}
	defer rows.Close()

	var records []models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		if err := rows.Scan(&r.Timestamp, &r.SessionID, &r.EventType, &r.Details, &r.Count); err != nil {
			return nil, errors.Wrap(err, "scan audit event")
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// StartSession records the session and its start event together.
func (d *Database) StartSession(ctx context.Context, session *models.Session) error {
	return d.InTx(ctx, func(ctx context.Context) error {
		if err := d.CreateSession(ctx, session); err != nil {
			return err
		}
		return d.LogEvent(ctx, session.ID, 0, EventSessionStart, session.VideoSource)
	})
}

// StopSession marks the session stopped and records why.
func (d *Database) StopSession(ctx context.Context, sessionID, reason string) error {
	return d.InTx(ctx, func(ctx context.Context) error {
		if err := d.ChangeSessionAction(ctx, sessionID, models.CommandStop); err != nil {
			return err
		}
		return d.LogEvent(ctx, sessionID, 0, EventSessionStop, reason)
	})
}
