// Package dispatch delivers alerts to the notification, audit and
// scene-analysis services without ever blocking frame processing.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/metrics"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
)

const (
	EventViolation     = "VIOLATION"
	RoutineScanReason  = "Routine General Hazard Scan"
	alertTriggerPrefix = "High Priority: "
)

type Notifier interface {
	SendSnapshot(ctx context.Context, image []byte, caption string) error
	SendAlert(ctx context.Context, text string) error
}

type AuditLogger interface {
	LogEvent(ctx context.Context, sessionID string, count int, eventType, details string) error
}

type SceneAnalyzer interface {
	AnalyzeScene(ctx context.Context, sessionID string, frame []byte, reason string) error
}

type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, sessionID, name string, image []byte) (string, error)
}

type EventPublisher interface {
	PublishAlert(ctx context.Context, event models.AlertEvent) error
}

// Collaborators are the external services alerts are sent to. Nil members
// are skipped.
type Collaborators struct {
	Notifier  Notifier
	Audit     AuditLogger
	Scene     SceneAnalyzer
	Snapshots SnapshotStore
	Events    EventPublisher
}

type Options struct {
	Cooldown    time.Duration `yaml:"cooldown" env:"DISPATCH_COOLDOWN"`
	AuditEvery  uint64        `yaml:"audit_every" env:"DISPATCH_AUDIT_EVERY"`
	RoutineScan time.Duration `yaml:"routine_scan" env:"DISPATCH_ROUTINE_SCAN"`
	Workers     int           `yaml:"workers" env:"DISPATCH_WORKERS"`
	QueueSize   int           `yaml:"queue_size" env:"DISPATCH_QUEUE_SIZE"`
	TaskTimeout time.Duration `yaml:"task_timeout" env:"DISPATCH_TASK_TIMEOUT"`
}

func DefaultOptions() Options {
	return Options{
		Cooldown:    15 * time.Second,
		AuditEvery:  60,
		RoutineScan: 15 * time.Second,
		Workers:     4,
		QueueSize:   32,
		TaskTimeout: 10 * time.Second,
	}
}

// Label joins reason names in display order.
func Label(reasons models.ReasonSet) string {
	return strings.Join(lo.Map(reasons.List(), func(r models.AlertReason, _ int) string {
		return r.String()
	}), " + ")
}

// Alert is what the pipeline hands over on an alert-active frame.
type Alert struct {
	Seq        uint64
	// Processed counts the frames the session has decided on so far,
	// including this one. Capture sequence numbers skip dropped frames.
	Processed  uint64
	Reasons    models.ReasonSet
	Label      string
	Violations int
	Frame      []byte
}

// Dispatcher belongs to one session. Dispatch and Clear must be called from
// the session's processing goroutine only; the cooldown timestamp is not
// locked.
type Dispatcher struct {
	sessionID string
	opts      Options
	collab    Collaborators
	pool      *Pool
	clock     clock.Clock
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics

	lastNotified time.Time
	notified     bool
	inEpisode    bool
}

func New(sessionID string, opts Options, collab Collaborators, pool *Pool, clk clock.Clock, logger *zap.SugaredLogger, m *metrics.Metrics) *Dispatcher {
	if clk == nil {
		clk = clock.New()
	}
	return &Dispatcher{
		sessionID: sessionID,
		opts:      opts,
		collab:    collab,
		pool:      pool,
		clock:     clk,
		logger:    logger.With("session", sessionID),
		metrics:   m,
	}
}

// Dispatch schedules the side effects of one alert-active frame.
func (d *Dispatcher) Dispatch(a Alert) models.DispatchOutcome {
	var out models.DispatchOutcome

	if !d.inEpisode {
		d.inEpisode = true
		out.Onset = d.sendOnset(a)
	}

	if d.opts.AuditEvery > 0 && a.Processed%d.opts.AuditEvery == 0 {
		out.Audited = d.audit(a)
	}

	now := d.clock.Now()
	if d.notified && now.Sub(d.lastNotified) < d.opts.Cooldown {
		out.Suppressed = true
		if d.metrics != nil {
			d.metrics.Suppressed.Inc()
		}
		return out
	}
	// a notification the pool dropped does not start the cooldown
	out.Notified = d.notify(a, now)
	if out.Notified {
		d.lastNotified = now
		d.notified = true
	}
	return out
}

// Clear ends the current alert episode so the next alert counts as an onset.
func (d *Dispatcher) Clear() {
	d.inEpisode = false
}

// RoutineScan requests a scene assessment regardless of violation state.
// Safe to call from the scheduler goroutine.
func (d *Dispatcher) RoutineScan(frame []byte) bool {
	if d.collab.Scene == nil || len(frame) == 0 {
		return false
	}
	snapshot := bytes.Clone(frame)
	ok := d.pool.Submit("routine_scan", func(ctx context.Context) error {
		return d.collab.Scene.AnalyzeScene(ctx, d.sessionID, snapshot, RoutineScanReason)
	})
	if ok && d.metrics != nil {
		d.metrics.RoutineScans.Inc()
	}
	return ok
}

func (d *Dispatcher) sendOnset(a Alert) bool {
	if d.collab.Notifier == nil {
		return false
	}
	text := fmt.Sprintf("ALERT: %s (session %s, %d violation(s))", a.Label, d.sessionID, a.Violations)
	return d.pool.Submit("alert_text", func(ctx context.Context) error {
		return d.collab.Notifier.SendAlert(ctx, text)
	})
}

func (d *Dispatcher) audit(a Alert) bool {
	if d.collab.Audit == nil {
		return false
	}
	ok := d.pool.Submit("audit", func(ctx context.Context) error {
		return d.collab.Audit.LogEvent(ctx, d.sessionID, a.Violations, EventViolation, a.Label)
	})
	if ok && d.metrics != nil {
		d.metrics.AuditWrites.Inc()
	}
	return ok
}

func (d *Dispatcher) notify(a Alert, now time.Time) bool {
	event := models.AlertEvent{
		ID:        uuid.NewString(),
		SessionID: d.sessionID,
		Timestamp: now.UTC(),
		Reasons:   a.Reasons,
		Label:     a.Label,
	}
	snapshot := bytes.Clone(a.Frame)
	d.logger.Infow("dispatching alert", "event", event.ID, "label", a.Label, "seq", a.Seq)

	ok := d.pool.Submit("notify", func(ctx context.Context) error {
		var errs error
		if d.collab.Snapshots != nil && len(snapshot) > 0 {
			ref, err := d.collab.Snapshots.SaveSnapshot(ctx, d.sessionID, event.ID, snapshot)
			errs = multierr.Append(errs, err)
			event.SnapshotRef = ref
		}
		if d.collab.Notifier != nil && len(snapshot) > 0 {
			errs = multierr.Append(errs, d.collab.Notifier.SendSnapshot(ctx, snapshot, "🚨 ALERT: "+a.Label))
		}
		if d.collab.Events != nil {
			errs = multierr.Append(errs, d.collab.Events.PublishAlert(ctx, event))
		}
		return errs
	})

	if d.collab.Scene != nil && len(snapshot) > 0 {
		d.pool.Submit("scene", func(ctx context.Context) error {
			return d.collab.Scene.AnalyzeScene(ctx, d.sessionID, snapshot, alertTriggerPrefix+a.Label)
		})
	}

	if ok && d.metrics != nil {
		d.metrics.Notifications.Inc()
	}
	return ok
}
