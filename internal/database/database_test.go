package database

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	ctx := context.Background()
	db, err := New(ctx, Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "runner.db"),
	}, zaptest.NewLogger(t).Sugar())
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { db.Close() })
	test.That(t, db.Init(ctx), test.ShouldBeNil)
	return db
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), Config{Driver: "oracle"}, zaptest.NewLogger(t).Sugar())
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	missing, err := db.GetSession(ctx, "cam-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, missing, test.ShouldBeNil)

	test.That(t, db.CreateSession(ctx, &models.Session{
		ID:          "cam-1",
		Action:      models.CommandStart,
		VideoSource: "http://minio:9000/videos/cam-1",
		PPEEnabled:  true,
	}), test.ShouldBeNil)

	got, err := db.GetSession(ctx, "cam-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Action, test.ShouldEqual, models.CommandStart)
	test.That(t, got.PPEEnabled, test.ShouldBeTrue)
	test.That(t, got.VideoSource, test.ShouldEqual, "http://minio:9000/videos/cam-1")

	test.That(t, db.ChangeSessionAction(ctx, "cam-1", models.CommandStop), test.ShouldBeNil)
	test.That(t, db.UpdateSessionTimestamp(ctx, "cam-1"), test.ShouldBeNil)

	stopped, err := db.ListSessions(ctx, models.CommandStop)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stopped, test.ShouldHaveLength, 1)

	// restarting flips the action back and keeps one row
	test.That(t, db.CreateSession(ctx, &models.Session{
		ID:          "cam-1",
		Action:      models.CommandStart,
		VideoSource: "http://minio:9000/videos/cam-1b",
	}), test.ShouldBeNil)
	running, err := db.ListSessions(ctx, models.CommandStart)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, running, test.ShouldHaveLength, 1)
	test.That(t, running[0].VideoSource, test.ShouldEqual, "http://minio:9000/videos/cam-1b")
	test.That(t, running[0].PPEEnabled, test.ShouldBeFalse)
}

func TestFindStaleSessions(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	test.That(t, db.CreateSession(ctx, &models.Session{ID: "cam-1", Action: models.CommandStart}), test.ShouldBeNil)
	test.That(t, db.CreateSession(ctx, &models.Session{ID: "cam-2", Action: models.CommandStop}), test.ShouldBeNil)

	fresh, err := db.FindStaleSessions(ctx, time.Now().Add(-time.Hour))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fresh, test.ShouldBeEmpty)

	stale, err := db.FindStaleSessions(ctx, time.Now().Add(time.Hour))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stale, test.ShouldHaveLength, 1)
	test.That(t, stale[0].ID, test.ShouldEqual, "cam-1")
}

func TestAuditEvents(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	test.That(t, db.LogEvent(ctx, "cam-1", 2, "VIOLATION", "No Helmet Detected"), test.ShouldBeNil)
	test.That(t, db.LogEvent(ctx, "cam-1", 1, "VIOLATION", "Restricted Zone Violation"), test.ShouldBeNil)
	test.That(t, db.LogEvent(ctx, "cam-2", 1, "VIOLATION", "Restricted Zone Violation"), test.ShouldBeNil)

	events, err := db.ListEvents(ctx, "cam-1", 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, events, test.ShouldHaveLength, 2)

	details := []string{events[0].Details, events[1].Details}
	sort.Strings(details)
	test.That(t, details, test.ShouldResemble, []string{"No Helmet Detected", "Restricted Zone Violation"})
	for _, e := range events {
		test.That(t, e.SessionID, test.ShouldEqual, "cam-1")
		test.That(t, e.EventType, test.ShouldEqual, "VIOLATION")
		test.That(t, e.Timestamp.IsZero(), test.ShouldBeFalse)
	}

	limited, err := db.ListEvents(ctx, "cam-1", 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, limited, test.ShouldHaveLength, 1)
}

func TestStartStopSession(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	test.That(t, db.StartSession(ctx, &models.Session{
		ID:          "cam-1",
		Action:      models.CommandStart,
		VideoSource: "src",
	}), test.ShouldBeNil)
	test.That(t, db.StopSession(ctx, "cam-1", "stop command"), test.ShouldBeNil)

	s, err := db.GetSession(ctx, "cam-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Action, test.ShouldEqual, models.CommandStop)

	events, err := db.ListEvents(ctx, "cam-1", 10)
	test.That(t, err, test.ShouldBeNil)
	types := []string{events[0].EventType, events[1].EventType}
	sort.Strings(types)
	test.That(t, types, test.ShouldResemble, []string{EventSessionStart, EventSessionStop})
}

func TestInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	boom := errors.New("boom")
	err := db.InTx(ctx, func(ctx context.Context) error {
		if err := db.LogEvent(ctx, "cam-1", 1, "VIOLATION", "x"); err != nil {
			return err
		}
		// nested call joins the outer transaction
		return db.InTx(ctx, func(ctx context.Context) error {
			if err := db.LogEvent(ctx, "cam-1", 1, "VIOLATION", "y"); err != nil {
				return err
			}
			return boom
		})
	})
	test.That(t, err, test.ShouldEqual, boom)

	events, err := db.ListEvents(ctx, "cam-1", 10)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, events, test.ShouldBeEmpty)
}
