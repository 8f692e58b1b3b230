// Package pipeline turns one frame's detections into a compliance decision:
// zone intrusion per person, helmet matching, hysteresis, and dispatch.
package pipeline

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/dispatch"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/matcher"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/metrics"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/tracker"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/zone"
)

const statusMonitoring = "Status: Monitoring"

type Config struct {
	MinPersonHeightFraction float64  `yaml:"min_person_height_fraction" env:"PIPELINE_MIN_PERSON_HEIGHT"`
	PersonConfidence        float64  `yaml:"person_confidence" env:"PIPELINE_PERSON_CONFIDENCE"`
	EquipmentConfidence     float64  `yaml:"equipment_confidence" env:"PIPELINE_EQUIPMENT_CONFIDENCE"`
	EquipmentLabels         []string `yaml:"equipment_labels" env:"PIPELINE_EQUIPMENT_LABELS" envSeparator:","`
	StatsEvery              uint64   `yaml:"stats_every" env:"PIPELINE_STATS_EVERY"`
}

func DefaultConfig() Config {
	return Config{
		MinPersonHeightFraction: 0.25,
		PersonConfidence:        0.6,
		EquipmentConfidence:     0.7,
		EquipmentLabels:         []string{"hat", "helmet"},
		StatsEvery:              30,
	}
}

func (c Config) Validate() error {
	if c.MinPersonHeightFraction < 0 || c.MinPersonHeightFraction >= 1 {
		return errors.Errorf("min person height fraction must be in [0, 1), got %v", c.MinPersonHeightFraction)
	}
	if c.PersonConfidence < 0 || c.PersonConfidence > 1 || c.EquipmentConfidence < 0 || c.EquipmentConfidence > 1 {
		return errors.New("confidence thresholds must be in [0, 1]")
	}
	if len(c.EquipmentLabels) == 0 {
		return errors.New("at least one equipment label is required")
	}
	return nil
}

// Dispatcher receives the side effects of alert-active frames.
type Dispatcher interface {
	Dispatch(a dispatch.Alert) models.DispatchOutcome
	Clear()
}

// Session is the per-stream state carried across frames. It must only be
// used by one goroutine.
type Session struct {
	ID         string
	PPEEnabled bool

	state      tracker.State
	reasons    models.ReasonSet
	frames     uint64
	dispatcher Dispatcher
}

func (s *Session) State() tracker.State { return s.state }
func (s *Session) Frames() uint64       { return s.frames }

type Pipeline struct {
	cfg     Config
	matcher *matcher.Matcher
	tracker *tracker.Tracker
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	labels  []string
}

func New(cfg Config, m *matcher.Matcher, t *tracker.Tracker, logger *zap.SugaredLogger, met *metrics.Metrics) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		matcher: m,
		tracker: t,
		logger:  logger.Named("pipeline"),
		metrics: met,
		labels: lo.Map(cfg.EquipmentLabels, func(l string, _ int) string {
			return strings.ToLower(l)
		}),
	}
}

// NewSession starts with a zero counter and no alert. A nil dispatcher
// disables side effects.
func (p *Pipeline) NewSession(id string, ppeEnabled bool, d Dispatcher) *Session {
	return &Session{ID: id, PPEEnabled: ppeEnabled, dispatcher: d}
}

// Process decides one frame. Apart from dispatch it depends only on the
// detections, the frame size and the session state.
func (p *Pipeline) Process(s *Session, frame models.Frame, dets models.FrameDetections) models.Result {
	s.frames++
	width, height := dets.FrameWidth, dets.FrameHeight
	if width <= 0 || height <= 0 {
		width, height = frame.Width, frame.Height
	}

	persons := p.persons(dets.Persons, height)
	var equipment []models.BoundingBox
	if s.PPEEnabled {
		equipment = p.equipment(dets.Equipment)
	}

	area := zone.For(width, height)
	statuses := make([]models.PersonStatus, len(persons))
	var assignment matcher.Assignment
	if s.PPEEnabled {
		assignment = p.matcher.Match(persons, equipment)
	}

	sig := tracker.Signal{AnyPerson: len(persons) > 0}
	for i, box := range persons {
		compliant := !s.PPEEnabled || assignment.Compliant[i]
		inZone := area.Contains(box.FeetPoint())
		statuses[i] = models.PersonStatus{Box: box, Compliant: compliant, ZoneViolation: inZone}
		sig.Zone = sig.Zone || inZone
		sig.PPE = sig.PPE || !compliant
	}

	s.state = p.tracker.Update(s.state, sig)

	res := models.Result{
		SessionID:   s.ID,
		Seq:         frame.Seq,
		Persons:     statuses,
		AlertActive: s.state.AlertActive,
		Counter:     s.state.Counter,
		PPEChecked:  s.PPEEnabled,
		Status:      statusMonitoring,
	}

	if s.state.AlertActive {
		reasons := models.NewReasonSet()
		if sig.Zone {
			reasons = reasons.With(models.ZoneIntrusion)
		}
		if sig.PPE && p.tracker.Sustained(s.state) {
			reasons = reasons.With(models.PPEViolation)
		}
		switch {
		case !reasons.Empty():
			s.reasons = reasons
		case s.reasons.Empty():
			// counter held above threshold with nothing to attribute it to yet
			s.reasons = models.NewReasonSet(models.PPEViolation)
		}

		res.Reasons = s.reasons
		res.Label = dispatch.Label(s.reasons)
		res.Status = "ALERT: " + res.Label

		if s.dispatcher != nil {
			violations := lo.CountBy(statuses, func(ps models.PersonStatus) bool {
				return ps.ZoneViolation || !ps.Compliant
			})
			res.Dispatch = s.dispatcher.Dispatch(dispatch.Alert{
				Seq:        frame.Seq,
				Processed:  s.frames,
				Reasons:    s.reasons,
				Label:      res.Label,
				Violations: violations,
				Frame:      frame.Data,
			})
		}
	} else {
		s.reasons = models.NewReasonSet()
		if s.dispatcher != nil {
			s.dispatcher.Clear()
		}
	}

	if p.metrics != nil {
		p.metrics.FramesProcessed.WithLabelValues(s.ID).Inc()
		p.metrics.ViolationCounter.WithLabelValues(s.ID).Set(float64(s.state.Counter))
		if s.state.AlertActive {
			p.metrics.AlertFrames.WithLabelValues(s.ID).Inc()
		}
	}
	if p.cfg.StatsEvery > 0 && s.frames%p.cfg.StatsEvery == 0 {
		p.logger.Debugw("frame stats",
			"session", s.ID,
			"frames", s.frames,
			"persons", len(persons),
			"equipment", len(equipment),
			"person_conf", meanConfidence(dets.Persons),
			"equipment_conf", meanConfidence(dets.Equipment),
			"counter", s.state.Counter,
			"alert", s.state.AlertActive,
		)
	}
	return res
}

// persons drops low-confidence detections and boxes too short to be a whole
// person, typically hands or occlusion fragments.
func (p *Pipeline) persons(dets []models.Detection, frameHeight int) []models.BoundingBox {
	minHeight := p.cfg.MinPersonHeightFraction * float64(frameHeight)
	return lo.FilterMap(dets, func(d models.Detection, _ int) (models.BoundingBox, bool) {
		ok := d.Box.Valid() &&
			d.Confidence >= p.cfg.PersonConfidence &&
			float64(d.Box.Height()) >= minHeight
		return d.Box, ok
	})
}

func (p *Pipeline) equipment(dets []models.Detection) []models.BoundingBox {
	return lo.FilterMap(dets, func(d models.Detection, _ int) (models.BoundingBox, bool) {
		if !d.Box.Valid() || d.Confidence < p.cfg.EquipmentConfidence {
			return d.Box, false
		}
		label := strings.ToLower(d.Label)
		return d.Box, lo.ContainsBy(p.labels, func(l string) bool {
			return strings.Contains(label, l)
		})
	})
}

func meanConfidence(dets []models.Detection) float64 {
	return lo.MeanBy(dets, func(d models.Detection) float64 { return d.Confidence })
}
