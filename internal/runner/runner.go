// Package runner owns the monitoring sessions: it reacts to Kafka commands,
// runs one capture and decision loop per session and reports liveness.
package runner

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/capture"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/dispatch"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/kafka"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/metrics"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/pipeline"
)

const (
	defaultHeartbeat        = 5 * time.Second
	checkStopEventsInterval = 10 * time.Second
	readyTimeout            = 3 * time.Second

	stopReasonCommand  = "stop command"
	stopReasonShutdown = "runner shutdown"
	stopReasonFinished = "source exhausted"
	stopReasonFailed   = "capture failed"
)

// Store persists sessions. *database.Database implements it.
type Store interface {
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	StartSession(ctx context.Context, session *models.Session) error
	StopSession(ctx context.Context, sessionID, reason string) error
	ChangeSessionAction(ctx context.Context, sessionID string, action models.CommandAction) error
	UpdateSessionTimestamp(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context, action models.CommandAction) ([]models.Session, error)
}

type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]models.Detection, error)
	Ready(ctx context.Context) error
}

type HeartbeatSender interface {
	SendHeartbeat(msg models.Heartbeat) error
}

// ResultPublisher receives every per-frame decision, e.g. the websocket hub.
type ResultPublisher interface {
	Publish(res models.Result)
}

// SourceOpener opens the frame source behind a session's video_source.
type SourceOpener func(ctx context.Context, videoSource string) (capture.Source, error)

type Options struct {
	Heartbeat       time.Duration
	CaptureInterval time.Duration
	Dispatch        dispatch.Options
}

// Deps are the collaborators shared by all sessions. Equipment, Results and
// Scheduler may be nil.
type Deps struct {
	Store      Store
	Sources    SourceOpener
	Persons    Detector
	Equipment  Detector
	Heartbeats HeartbeatSender
	Results    ResultPublisher

	Pipeline      *pipeline.Pipeline
	Pool          *dispatch.Pool
	Scheduler     *dispatch.Scheduler
	Collaborators dispatch.Collaborators

	Clock   clock.Clock
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
}

// Status is a snapshot of a running session.
type Status struct {
	SessionID   string         `json:"session_id"`
	VideoSource string         `json:"video_source"`
	PPEEnabled  bool           `json:"ppe_enabled"`
	StartedAt   time.Time      `json:"started_at"`
	Frames      uint64         `json:"frames"`
	Dropped     uint64         `json:"dropped"`
	Last        *models.Result `json:"last,omitempty"`
}

type activeSession struct {
	cancel context.CancelFunc
	done   chan struct{}
	slot   *capture.Slot

	mu     sync.Mutex
	status Status
}

func (a *activeSession) record(res models.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status.Frames++
	a.status.Last = &res
}

func (a *activeSession) snapshot() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.status
	s.Dropped = a.slot.Drops()
	if s.Last != nil {
		last := *s.Last
		s.Last = &last
	}
	return s
}

type Runner struct {
	opts   Options
	deps   Deps
	clock  clock.Clock
	logger *zap.SugaredLogger

	// sessions outlive the command that started them
	ctx       context.Context
	cancelAll context.CancelFunc

	activeRunners map[string]*activeSession
	mu            sync.Mutex
	wg            sync.WaitGroup
}

func New(opts Options, deps Deps) *Runner {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		ctx:           ctx,
		cancelAll:     cancel,
		opts:          opts,
		deps:          deps,
		clock:         clk,
		logger:        deps.Logger.Named("runner"),
		activeRunners: make(map[string]*activeSession),
	}
}

// ListenAndRun handles session commands until ctx is done or the channel is
// closed. A message is acknowledged only after it was handled; malformed
// messages are acknowledged so they are not redelivered forever.
func (r *Runner) ListenAndRun(ctx context.Context, messages <-chan kafka.Message) {
	r.logger.Info("listening for session commands")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("shutting down")
			return
		case msg, ok := <-messages:
			if !ok {
				r.logger.Info("command stream closed")
				return
			}

			var cmd models.SessionCommand
			if err := json.Unmarshal(msg.Value, &cmd); err != nil {
				r.logger.Warnw("invalid command", "error", err)
				msg.Ack()
				continue
			}
			r.logger.Infow("received command", "session", cmd.SessionID, "action", cmd.Action)

			if err := r.Handle(ctx, cmd); err != nil {
				r.logger.Errorw("command failed", "session", cmd.SessionID, "action", cmd.Action, "error", err)
				continue
			}
			msg.Ack()
		}
	}
}

// Handle applies one command.
func (r *Runner) Handle(ctx context.Context, cmd models.SessionCommand) error {
	if cmd.SessionID == "" {
		return errors.New("command without session id")
	}
	switch cmd.Action {
	case models.CommandStart:
		return r.Start(ctx, cmd)
	case models.CommandStop:
		return r.RegisterStopEvent(ctx, cmd.SessionID)
	default:
		r.logger.Warnw("unknown command", "session", cmd.SessionID, "action", cmd.Action)
		return nil
	}
}

// Start launches a session unless it already runs here or another runner
// heartbeated it recently.
func (r *Runner) Start(ctx context.Context, cmd models.SessionCommand) error {
	r.mu.Lock()
	_, running := r.activeRunners[cmd.SessionID]
	r.mu.Unlock()
	if running {
		r.logger.Infow("session already running", "session", cmd.SessionID)
		return nil
	}

	existing, err := r.deps.Store.GetSession(ctx, cmd.SessionID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Action == models.CommandStart &&
		r.clock.Since(existing.UpdatedAt) < r.opts.Heartbeat*3 {
		r.logger.Infow("session owned by another runner", "session", cmd.SessionID)
		return nil
	}

	ppe := r.equipmentReady(ctx, cmd.SessionID)

	session := &models.Session{
		ID:          cmd.SessionID,
		Action:      models.CommandStart,
		VideoSource: cmd.VideoSource,
		PPEEnabled:  ppe,
	}
	if err := r.deps.Store.StartSession(ctx, session); err != nil {
		return err
	}

	src, err := r.deps.Sources(ctx, cmd.VideoSource)
	if err != nil {
		r.finish(cmd.SessionID, stopReasonFailed)
		return errors.Wrapf(err, "open source of %s", cmd.SessionID)
	}

	r.sendHeartbeat(models.Heartbeat{SessionID: cmd.SessionID, Action: models.CommandStart})

	childCtx, cancel := context.WithCancel(r.ctx)
	active := &activeSession{
		cancel: cancel,
		done:   make(chan struct{}),
		slot:   capture.NewSlot(),
		status: Status{
			SessionID:   cmd.SessionID,
			VideoSource: cmd.VideoSource,
			PPEEnabled:  ppe,
			StartedAt:   r.clock.Now().UTC(),
		},
	}

	r.mu.Lock()
	r.activeRunners[cmd.SessionID] = active
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(active.done)

		reason := stopReasonFinished
		if err := r.processSession(childCtx, active, src); err != nil {
			r.logger.Errorw("session failed", "session", cmd.SessionID, "error", err)
			reason = stopReasonFailed
		} else if r.ctx.Err() != nil {
			reason = stopReasonShutdown
		} else if childCtx.Err() != nil {
			reason = stopReasonCommand
		}
		cancel()

		r.mu.Lock()
		delete(r.activeRunners, cmd.SessionID)
		r.mu.Unlock()

		r.finish(cmd.SessionID, reason)
		r.logger.Infow("session finished", "session", cmd.SessionID, "reason", reason)
	}()

	r.logger.Infow("session started", "session", cmd.SessionID, "source", cmd.VideoSource, "ppe", ppe)
	return nil
}

// equipmentReady decides once per session whether helmet checks run.
func (r *Runner) equipmentReady(ctx context.Context, sessionID string) bool {
	if r.deps.Equipment == nil {
		r.logger.Warnw("no equipment detector, helmet checks disabled", "session", sessionID)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := r.deps.Equipment.Ready(ctx); err != nil {
		r.logger.Warnw("equipment detector unavailable, helmet checks disabled", "session", sessionID, "error", err)
		return false
	}
	return true
}

// processSession runs capture in the background and decides frames as fast
// as detection allows. Frames captured in the meantime are skipped.
func (r *Runner) processSession(ctx context.Context, active *activeSession, src capture.Source) error {
	id := active.status.SessionID
	logger := r.logger.With("session", id)

	ctx, cancel := context.WithCancel(ctx)

	d := dispatch.New(id, r.opts.Dispatch, r.deps.Collaborators, r.deps.Pool, r.clock, r.deps.Logger.Named("dispatch"), r.deps.Metrics)
	session := r.deps.Pipeline.NewSession(id, active.status.PPEEnabled, d)

	if r.deps.Scheduler != nil && r.opts.Dispatch.RoutineScan > 0 {
		err := r.deps.Scheduler.Every(id, r.opts.Dispatch.RoutineScan, func() {
			if f, ok := active.slot.Latest(); ok {
				d.RoutineScan(f.Data)
			}
		})
		if err != nil {
			logger.Warnw("routine scan not scheduled", "error", err)
		} else {
			defer r.deps.Scheduler.Remove(id)
		}
	}

	captureErr := make(chan error, 1)
	go func() {
		captureErr <- capture.Runner{
			Session:  id,
			Interval: r.opts.CaptureInterval,
			Clock:    r.clock,
			Logger:   logger,
			Metrics:  r.deps.Metrics,
		}.Run(ctx, src, active.slot)
	}()

	ticker := r.clock.Ticker(r.opts.Heartbeat)
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		defer ticker.Stop()
		r.heartbeat(ctx, active, ticker)
	}()
	defer func() {
		cancel()
		<-heartbeatDone
	}()

	var last uint64
	for {
		frame, err := active.slot.Next(ctx, last)
		if err != nil {
			if errors.Is(err, capture.ErrClosed) || ctx.Err() != nil {
				break
			}
			// the slot carries the capture error; wait for the goroutine to exit
			<-captureErr
			return err
		}
		last = frame.Seq

		dets := r.detect(ctx, frame, session.PPEEnabled)
		res := r.deps.Pipeline.Process(session, frame, dets)
		active.record(res)
		if r.deps.Results != nil {
			r.deps.Results.Publish(res)
		}
	}
	return <-captureErr
}

// detect runs both detectors concurrently. A failing detector counts as
// having found nothing on this frame.
func (r *Runner) detect(ctx context.Context, frame models.Frame, ppe bool) models.FrameDetections {
	dets := models.FrameDetections{FrameWidth: frame.Width, FrameHeight: frame.Height}

	var g errgroup.Group
	g.Go(func() error {
		persons, err := r.deps.Persons.Detect(ctx, frame.Data)
		if err != nil {
			r.detectorFailed("persons", frame, err)
		}
		dets.Persons = persons
		return nil
	})
	if ppe && r.deps.Equipment != nil {
		g.Go(func() error {
			equipment, err := r.deps.Equipment.Detect(ctx, frame.Data)
			if err != nil {
				r.detectorFailed("equipment", frame, err)
			}
			dets.Equipment = equipment
			return nil
		})
	}
	_ = g.Wait()
	return dets
}

func (r *Runner) detectorFailed(detector string, frame models.Frame, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	r.logger.Warnw("detection failed", "detector", detector, "seq", frame.Seq, "error", err)
	if r.deps.Metrics != nil {
		r.deps.Metrics.DetectorErrors.WithLabelValues(detector).Inc()
	}
}

func (r *Runner) heartbeat(ctx context.Context, active *activeSession, ticker *clock.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := active.snapshot()
			if err := r.deps.Store.UpdateSessionTimestamp(ctx, st.SessionID); err != nil {
				r.logger.Warnw("update session timestamp", "session", st.SessionID, "error", err)
			}
			hb := models.Heartbeat{
				SessionID: st.SessionID,
				Action:    models.CommandStart,
				Frame:     int64(st.Frames),
			}
			if st.Last != nil {
				hb.AlertActive = st.Last.AlertActive
				hb.Counter = st.Last.Counter
			}
			r.sendHeartbeat(hb)
		}
	}
}

// finish records the stop even when the session context is already gone.
func (r *Runner) finish(sessionID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()

	if err := r.deps.Store.StopSession(ctx, sessionID, reason); err != nil {
		r.logger.Warnw("record session stop", "session", sessionID, "error", err)
	}
	r.sendHeartbeat(models.Heartbeat{SessionID: sessionID, Action: models.CommandStop})
	if r.deps.Metrics != nil {
		r.deps.Metrics.Forget(sessionID)
	}
}

func (r *Runner) sendHeartbeat(hb models.Heartbeat) {
	if r.deps.Heartbeats == nil {
		return
	}
	hb.TimeStamp = r.clock.Now().UTC()
	if err := r.deps.Heartbeats.SendHeartbeat(hb); err != nil {
		r.logger.Warnw("send heartbeat", "session", hb.SessionID, "action", hb.Action, "error", err)
	}
}

// RegisterStopEvent marks the session stopped in the store. Whichever runner
// owns it picks the change up in ProcessStopEvent.
func (r *Runner) RegisterStopEvent(ctx context.Context, sessionID string) error {
	return r.deps.Store.ChangeSessionAction(ctx, sessionID, models.CommandStop)
}

// ProcessStopEvent polls the store for stopped sessions still running here.
func (r *Runner) ProcessStopEvent(ctx context.Context) {
	ticker := r.clock.Ticker(checkStopEventsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.stopRegistered(ctx)
		}
	}
}

func (r *Runner) stopRegistered(ctx context.Context) {
	sessions, err := r.deps.Store.ListSessions(ctx, models.CommandStop)
	if err != nil {
		r.logger.Warnw("list stopped sessions", "error", err)
		return
	}
	for _, id := range lo.Map(sessions, func(s models.Session, _ int) string { return s.ID }) {
		r.Stop(id)
	}
}

// Stop cancels a running session and reports whether it was running here.
func (r *Runner) Stop(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if active, ok := r.activeRunners[sessionID]; ok {
		active.cancel()
		r.logger.Infow("session stopping", "session", sessionID)
		return true
	}
	return false
}

// Status reports a session running on this runner.
func (r *Runner) Status(sessionID string) (Status, bool) {
	r.mu.Lock()
	active, ok := r.activeRunners[sessionID]
	r.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return active.snapshot(), true
}

func (r *Runner) Sessions() []Status {
	r.mu.Lock()
	actives := lo.Values(r.activeRunners)
	r.mu.Unlock()

	statuses := lo.Map(actives, func(a *activeSession, _ int) Status { return a.snapshot() })
	slices.SortFunc(statuses, func(a, b Status) int { return strings.Compare(a.SessionID, b.SessionID) })
	return statuses
}

// Shutdown stops every session and waits for them to record their stop.
func (r *Runner) Shutdown() {
	r.cancelAll()
	r.wg.Wait()
}

// Done returns a channel closed when the session ends, or nil when it is
// not running here.
func (r *Runner) Done(sessionID string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if active, ok := r.activeRunners[sessionID]; ok {
		return active.done
	}
	return nil
}
