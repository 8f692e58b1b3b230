package models

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// AlertReason is a cause of an alert. The numeric order is the display order.
type AlertReason uint8

const (
	ZoneIntrusion AlertReason = iota
	PPEViolation
)

var reasonOrder = []AlertReason{ZoneIntrusion, PPEViolation}

func (r AlertReason) String() string {
	switch r {
	case ZoneIntrusion:
		return "Restricted Zone Violation"
	case PPEViolation:
		return "No Helmet Detected"
	default:
		return "Unknown"
	}
}

// ReasonSet is a set of alert reasons.
type ReasonSet uint8

func NewReasonSet(reasons ...AlertReason) ReasonSet {
	var s ReasonSet
	for _, r := range reasons {
		s = s.With(r)
	}
	return s
}

func (s ReasonSet) With(r AlertReason) ReasonSet { return s | 1<<r }
func (s ReasonSet) Has(r AlertReason) bool       { return s&(1<<r) != 0 }
func (s ReasonSet) Empty() bool                  { return s == 0 }

// List returns the reasons in display order: zone intrusion first.
func (s ReasonSet) List() []AlertReason {
	out := make([]AlertReason, 0, len(reasonOrder))
	for _, r := range reasonOrder {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s ReasonSet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(reasonOrder))
	for _, r := range s.List() {
		names = append(names, r.String())
	}
	return json.Marshal(names)
}

func (s *ReasonSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var out ReasonSet
	for _, name := range names {
		r, ok := reasonByName(name)
		if !ok {
			return errors.Errorf("unknown alert reason %q", name)
		}
		out = out.With(r)
	}
	*s = out
	return nil
}

func reasonByName(name string) (AlertReason, bool) {
	for _, r := range reasonOrder {
		if r.String() == name {
			return r, true
		}
	}
	return 0, false
}

// PersonStatus is the per-frame verdict for one detected person.
type PersonStatus struct {
	Box           BoundingBox `json:"box"`
	Compliant     bool        `json:"compliant"`
	ZoneViolation bool        `json:"zone_violation"`
}

// AlertEvent describes one permitted notification dispatch.
type AlertEvent struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Timestamp   time.Time `json:"timestamp"`
	Reasons     ReasonSet `json:"reasons"`
	Label       string    `json:"label"`
	SnapshotRef string    `json:"snapshot_ref,omitempty"`
}

// DispatchOutcome reports which side effects a frame scheduled.
type DispatchOutcome struct {
	Notified   bool `json:"notified"`
	Suppressed bool `json:"suppressed"`
	Audited    bool `json:"audited"`
	Onset      bool `json:"onset"`
}

// Result is the structured per-frame decision handed to rendering and logging.
type Result struct {
	SessionID   string          `json:"session_id"`
	Seq         uint64          `json:"seq"`
	Persons     []PersonStatus  `json:"persons"`
	AlertActive bool            `json:"alert_active"`
	Reasons     ReasonSet       `json:"reasons"`
	Label       string          `json:"label"`
	Status      string          `json:"status"`
	Counter     int             `json:"counter"`
	PPEChecked  bool            `json:"ppe_checked"`
	Dispatch    DispatchOutcome `json:"dispatch"`
}
