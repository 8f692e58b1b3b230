// Package tracker turns flickering per-frame violation flags into a committed
// alert state using a saturating counter.
package tracker

import "github.com/pkg/errors"

type Params struct {
	Cap            int `yaml:"cap" env:"TRACKER_CAP"`
	ZoneStep       int `yaml:"zone_step" env:"TRACKER_ZONE_STEP"`
	PPEStep        int `yaml:"ppe_step" env:"TRACKER_PPE_STEP"`
	RecoveryStep   int `yaml:"recovery_step" env:"TRACKER_RECOVERY_STEP"`
	AlertThreshold int `yaml:"alert_threshold" env:"TRACKER_ALERT_THRESHOLD"`
}

// DefaultParams escalates fast on zone intrusion, slowly on missing equipment
// and recovers faster than it escalates.
func DefaultParams() Params {
	return Params{
		Cap:            30,
		ZoneStep:       10,
		PPEStep:        2,
		RecoveryStep:   4,
		AlertThreshold: 12,
	}
}

func (p Params) Validate() error {
	if p.Cap <= 0 {
		return errors.Errorf("tracker cap must be positive, got %d", p.Cap)
	}
	if p.ZoneStep <= 0 || p.PPEStep <= 0 || p.RecoveryStep <= 0 {
		return errors.New("tracker steps must be positive")
	}
	if p.AlertThreshold < 0 || p.AlertThreshold >= p.Cap {
		return errors.Errorf("tracker alert threshold must be in [0, %d), got %d", p.Cap, p.AlertThreshold)
	}
	return nil
}

// State is owned by one monitoring session and survives across frames.
// The zero value is the initial state.
type State struct {
	Counter     int  `json:"counter"`
	AlertActive bool `json:"alert_active"`
}

// Signal is the per-frame summary fed to the tracker.
type Signal struct {
	Zone      bool
	PPE       bool
	AnyPerson bool
}

type Tracker struct {
	params Params
}

func New(params Params) *Tracker {
	return &Tracker{params: params}
}

func (t *Tracker) Params() Params {
	return t.params
}

// Update applies one frame. Rules are checked in priority order: zone
// intrusion, empty scene, missing equipment, then recovery.
func (t *Tracker) Update(s State, sig Signal) State {
	switch {
	case sig.Zone:
		s.Counter = min(t.params.Cap, s.Counter+t.params.ZoneStep)
	case !sig.AnyPerson:
		s.Counter = 0
	case sig.PPE:
		s.Counter = min(t.params.Cap, s.Counter+t.params.PPEStep)
	default:
		s.Counter = max(0, s.Counter-t.params.RecoveryStep)
	}

	// zone intrusion bypasses the counter
	s.AlertActive = sig.Zone || s.Counter > t.params.AlertThreshold
	return s
}

// Sustained reports whether the counter alone holds the alert.
func (t *Tracker) Sustained(s State) bool {
	return s.Counter > t.params.AlertThreshold
}
