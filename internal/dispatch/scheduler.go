package dispatch

import (
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Scheduler runs periodic routine scans, one job per session.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.SugaredLogger

	mu   sync.Mutex
	jobs map[string]uuid.UUID
}

func NewScheduler(logger *zap.SugaredLogger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.Wrap(err, "create scheduler")
	}
	return &Scheduler{
		scheduler: s,
		logger:    logger.Named("scheduler"),
		jobs:      make(map[string]uuid.UUID),
	}, nil
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Every registers fn to run every interval for the session, replacing any
// job already registered for it. Runs of one job never overlap.
func (s *Scheduler) Every(sessionID string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return errors.Errorf("invalid routine scan interval %s", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.jobs[sessionID]; ok {
		if err := s.scheduler.RemoveJob(id); err != nil {
			s.logger.Warnw("remove previous job", "session", sessionID, "error", err)
		}
		delete(s.jobs, sessionID)
	}

	j, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("routine-scan-"+sessionID),
	)
	if err != nil {
		return errors.Wrapf(err, "schedule routine scan for %s", sessionID)
	}
	s.jobs[sessionID] = j.ID()
	s.logger.Debugw("routine scan scheduled", "session", sessionID, "every", interval, "job", j.ID())
	return nil
}

func (s *Scheduler) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.jobs[sessionID]
	if !ok {
		return
	}
	delete(s.jobs, sessionID)
	if err := s.scheduler.RemoveJob(id); err != nil {
		s.logger.Warnw("remove job", "session", sessionID, "error", err)
	}
}

func (s *Scheduler) Shutdown() error {
	return errors.Wrap(s.scheduler.Shutdown(), "shutdown scheduler")
}
