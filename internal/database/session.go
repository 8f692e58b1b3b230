package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
)

const sessionColumns = `id, action, video_source, ppe_enabled, created_at, updated_at`

// CreateSession inserts the session or restarts an existing one.
func (d *Database) CreateSession(ctx context.Context, session *models.Session) error {
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := d.querier(ctx).ExecContext(ctx,
		`INSERT INTO sessions (id, action, video_source, ppe_enabled, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET action = $2, video_source = $3, ppe_enabled = $4, updated_at = $6`,
		session.ID,
		session.Action,
		session.VideoSource,
		session.PPEEnabled,
		session.CreatedAt,
		session.UpdatedAt,
	)
	return errors.Wrapf(err, "create session %s", session.ID)
}

// GetSession returns nil without error when the session does not exist.
func (d *Database) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	row := d.querier(ctx).QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to get session %s", sessionID)
	}
	return s, nil
}

func (d *Database) ListSessions(ctx context.Context, action models.CommandAction) ([]models.Session, error) {
	rows, err := d.querier(ctx).QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE action = $1 ORDER BY id`, action)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// FindStaleSessions returns started sessions whose owner has not touched them
// since cutoff.
func (d *Database) FindStaleSessions(ctx context.Context, cutoff time.Time) ([]models.Session, error) {
	rows, err := d.querier(ctx).QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE action = $1 AND updated_at < $2 ORDER BY id`,
		models.CommandStart,
		cutoff.UTC(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "find stale sessions")
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func (d *Database) ChangeSessionAction(ctx context.Context, sessionID string, newAction models.CommandAction) error {
	_, err := d.querier(ctx).ExecContext(ctx,
		"UPDATE sessions SET action = $1, updated_at = $2 WHERE id = $3",
		newAction,
		time.Now().UTC(),
		sessionID,
	)
	return errors.Wrapf(err, "change action of %s", sessionID)
}

func (d *Database) UpdateSessionTimestamp(ctx context.Context, sessionID string) error {
	_, err := d.querier(ctx).ExecContext(ctx,
		"UPDATE sessions SET updated_at = $1 WHERE id = $2",
		time.Now().UTC(),
		sessionID,
	)
	return errors.Wrapf(err, "touch session %s", sessionID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID,
		&s.Action,
		&s.VideoSource,
		&s.PPEEnabled,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
