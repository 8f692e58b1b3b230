package database

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

type Config struct {
	Driver string `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN    string `yaml:"dsn" env:"DATABASE_DSN"`
}

// Database holds sessions and the audit trail.
type Database struct {
	DB     *sql.DB
	driver string
	logger *zap.SugaredLogger
}

func New(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (*Database, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPostgres
	}
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, errors.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if driver == DriverSQLite {
		// one writer at a time; concurrent audit tasks would otherwise hit SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	return &Database{DB: db, driver: driver, logger: logger.Named("database")}, nil
}

// Init creates the required tables if they don't exist.
func (d *Database) Init(ctx context.Context) error {
	createTables := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		video_source TEXT NOT NULL,
		ppe_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS audit_events (
		ts TIMESTAMP NOT NULL,
		session_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT NOT NULL,
		count INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS audit_events_session_ts ON audit_events (session_id, ts);
	`

	_, err := d.DB.ExecContext(ctx, createTables)
	return errors.Wrap(err, "create tables")
}

func (d *Database) Close() error {
	return d.DB.Close()
}
