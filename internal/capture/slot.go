// Package capture moves frames from a video source into a single
// latest-frame slot that the decision loop consumes at its own pace.
package capture

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
)

// ErrClosed is returned by Next once the slot is closed and holds no newer frame.
var ErrClosed = errors.New("capture slot closed")

// Slot holds only the most recent frame. Publishing never blocks; a frame
// that is overwritten before anyone consumed it counts as dropped.
type Slot struct {
	mu       sync.Mutex
	frame    models.Frame
	seq      uint64
	consumed uint64
	drops    uint64
	notify   chan struct{}
	closed   bool
	err      error
}

func NewSlot() *Slot {
	return &Slot{notify: make(chan struct{})}
}

// Publish stores f under the next sequence number and reports whether an
// unconsumed frame was overwritten.
func (s *Slot) Publish(f models.Frame) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	if s.seq > s.consumed {
		s.drops++
		dropped = true
	}
	s.seq++
	f.Seq = s.seq
	s.frame = f

	close(s.notify)
	s.notify = make(chan struct{})
	return dropped
}

// Next waits for a frame newer than after. Frames published in between are
// skipped.
func (s *Slot) Next(ctx context.Context, after uint64) (models.Frame, error) {
	for {
		s.mu.Lock()
		if s.seq > after {
			f := s.frame
			s.consumed = s.seq
			s.mu.Unlock()
			return f, nil
		}
		if s.closed {
			err := s.err
			s.mu.Unlock()
			if err == nil {
				err = ErrClosed
			}
			return models.Frame{}, err
		}
		ch := s.notify
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return models.Frame{}, ctx.Err()
		case <-ch:
		}
	}
}

// Latest returns the newest frame without consuming it.
func (s *Slot) Latest() (models.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.seq > 0
}

func (s *Slot) Drops() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}

// Close wakes waiting consumers. err, if set, is what they receive instead
// of ErrClosed.
func (s *Slot) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.notify)
}
