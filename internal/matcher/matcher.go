// Package matcher assigns safety equipment detections to person detections.
//
// Every person/equipment pair that passes the geometric checks becomes a
// scored edge. Edges are walked from the lowest score and an edge is taken
// when neither endpoint is already used. This greedy 1-to-1 pass is an
// approximation of an optimal assignment and is kept that way on purpose:
// it is deterministic and cheap for the handful of boxes in a frame.
package matcher

import (
	"cmp"
	"slices"

	"github.com/pkg/errors"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
)

// Unassigned marks a person without matching equipment.
const Unassigned = -1

// Params tunes the geometric checks. Distances are in pixels.
type Params struct {
	// SlackX widens the person box horizontally when looking for equipment.
	SlackX int `yaml:"slack_x" env:"MATCH_SLACK_X"`
	// SlackAbove lets equipment sit above the top of the person box.
	SlackAbove int `yaml:"slack_above" env:"MATCH_SLACK_ABOVE"`

	MaxWidthRatio  float64 `yaml:"max_width_ratio" env:"MATCH_MAX_WIDTH_RATIO"`
	MaxHeightRatio float64 `yaml:"max_height_ratio" env:"MATCH_MAX_HEIGHT_RATIO"`
	MinSize        int     `yaml:"min_size" env:"MATCH_MIN_SIZE"`

	GuardSlackX     int `yaml:"guard_slack_x" env:"MATCH_GUARD_SLACK_X"`
	GuardSlackAbove int `yaml:"guard_slack_above" env:"MATCH_GUARD_SLACK_ABOVE"`

	// An edge is kept when score < ScoreWidthFactor*personWidth + ScoreOffset.
	ScoreWidthFactor int `yaml:"score_width_factor" env:"MATCH_SCORE_WIDTH_FACTOR"`
	ScoreOffset      int `yaml:"score_offset" env:"MATCH_SCORE_OFFSET"`
}

func DefaultParams() Params {
	return Params{
		SlackX:           40,
		SlackAbove:       60,
		MaxWidthRatio:    1.5,
		MaxHeightRatio:   0.6,
		MinSize:          20,
		GuardSlackX:      20,
		GuardSlackAbove:  30,
		ScoreWidthFactor: 2,
		ScoreOffset:      100,
	}
}

func (p Params) Validate() error {
	if p.SlackX < 0 || p.SlackAbove < 0 || p.GuardSlackX < 0 || p.GuardSlackAbove < 0 {
		return errors.New("matcher slack values must not be negative")
	}
	if p.MaxWidthRatio <= 0 || p.MaxHeightRatio <= 0 {
		return errors.New("matcher size ratios must be positive")
	}
	if p.ScoreWidthFactor <= 0 {
		return errors.Errorf("matcher score width factor must be positive, got %d", p.ScoreWidthFactor)
	}
	return nil
}

// Assignment maps each person index to an equipment index or Unassigned.
type Assignment struct {
	Equipment []int
	Compliant []bool
}

type edge struct {
	person    int
	equipment int
	score     int
}

type Matcher struct {
	params Params
}

func New(params Params) *Matcher {
	return &Matcher{params: params}
}

// Match pairs equipment with persons. Inputs must already be class filtered.
// Identical ordered inputs always produce identical assignments.
func (m *Matcher) Match(persons, equipment []models.BoundingBox) Assignment {
	res := Assignment{
		Equipment: make([]int, len(persons)),
		Compliant: make([]bool, len(persons)),
	}
	for i := range res.Equipment {
		res.Equipment[i] = Unassigned
	}

	edges := m.candidates(persons, equipment)
	slices.SortFunc(edges, func(a, b edge) int {
		return cmp.Or(
			cmp.Compare(a.score, b.score),
			cmp.Compare(a.person, b.person),
			cmp.Compare(a.equipment, b.equipment),
		)
	})

	used := make([]bool, len(equipment))
	for _, e := range edges {
		if res.Compliant[e.person] || used[e.equipment] {
			continue
		}
		res.Compliant[e.person] = true
		res.Equipment[e.person] = e.equipment
		used[e.equipment] = true
	}

	return res
}

func (m *Matcher) candidates(persons, equipment []models.BoundingBox) []edge {
	var edges []edge
	for pi, p := range persons {
		for ei, e := range equipment {
			if !m.plausible(p, e) {
				continue
			}
			c := e.Center()
			if m.claimedByOther(persons, pi, c) {
				continue
			}
			score := abs(p.Center().X-c.X) + 2*abs(p.Y1-c.Y)
			if score >= m.params.ScoreWidthFactor*p.Width()+m.params.ScoreOffset {
				continue
			}
			edges = append(edges, edge{person: pi, equipment: ei, score: score})
		}
	}
	return edges
}

// plausible checks position relative to the head region and equipment size.
func (m *Matcher) plausible(p, e models.BoundingBox) bool {
	c := e.Center()
	if c.X <= p.X1-m.params.SlackX || c.X >= p.X2+m.params.SlackX {
		return false
	}
	if c.Y <= p.Y1-m.params.SlackAbove || c.Y >= p.HeadLimit() {
		return false
	}
	if float64(e.Width()) > float64(p.Width())*m.params.MaxWidthRatio ||
		float64(e.Height()) > float64(p.Height())*m.params.MaxHeightRatio {
		return false
	}
	return e.Width() >= m.params.MinSize && e.Height() >= m.params.MinSize
}

// claimedByOther reports whether c falls in the head region of any person
// other than self, so one helmet cannot vouch for a neighbour.
func (m *Matcher) claimedByOther(persons []models.BoundingBox, self int, c models.Point) bool {
	for oi, o := range persons {
		if oi == self {
			continue
		}
		if c.X > o.X1-m.params.GuardSlackX && c.X < o.X2+m.params.GuardSlackX &&
			c.Y > o.Y1-m.params.GuardSlackAbove && c.Y < o.HeadLimit() {
			return true
		}
	}
	return false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
