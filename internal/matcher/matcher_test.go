package matcher

import (
	"math/rand/v2"
	"testing"

	"go.viam.com/test"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
)

func box(x1, y1, x2, y2 int) models.BoundingBox {
	return models.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

var (
	personA = box(100, 100, 200, 400)
	personB = box(300, 100, 400, 400)
	helmetA = box(130, 80, 170, 120)
	helmetB = box(330, 80, 370, 120)
)

func TestMatchSinglePerson(t *testing.T) {
	m := New(DefaultParams())

	t.Run("helmet on head", func(t *testing.T) {
		res := m.Match([]models.BoundingBox{personA}, []models.BoundingBox{helmetA})
		test.That(t, res.Compliant, test.ShouldResemble, []bool{true})
		test.That(t, res.Equipment, test.ShouldResemble, []int{0})
	})

	t.Run("no equipment", func(t *testing.T) {
		res := m.Match([]models.BoundingBox{personA}, nil)
		test.That(t, res.Compliant, test.ShouldResemble, []bool{false})
		test.That(t, res.Equipment, test.ShouldResemble, []int{Unassigned})
	})

	t.Run("helmet held at waist", func(t *testing.T) {
		res := m.Match([]models.BoundingBox{personA}, []models.BoundingBox{box(130, 260, 170, 300)})
		test.That(t, res.Compliant[0], test.ShouldBeFalse)
	})

	t.Run("noise sized detection", func(t *testing.T) {
		res := m.Match([]models.BoundingBox{personA}, []models.BoundingBox{box(145, 95, 155, 105)})
		test.That(t, res.Compliant[0], test.ShouldBeFalse)
	})

	t.Run("implausibly wide detection", func(t *testing.T) {
		res := m.Match([]models.BoundingBox{personA}, []models.BoundingBox{box(50, 80, 250, 120)})
		test.That(t, res.Compliant[0], test.ShouldBeFalse)
	})

	t.Run("implausibly tall detection", func(t *testing.T) {
		res := m.Match([]models.BoundingBox{personA}, []models.BoundingBox{box(130, 0, 170, 190)})
		test.That(t, res.Compliant[0], test.ShouldBeFalse)
	})

	t.Run("above the head within slack", func(t *testing.T) {
		res := m.Match([]models.BoundingBox{personA}, []models.BoundingBox{box(130, 40, 170, 80)})
		test.That(t, res.Compliant[0], test.ShouldBeTrue)
	})

	t.Run("too far away scores out", func(t *testing.T) {
		narrow := box(100, 100, 130, 400)
		res := m.Match([]models.BoundingBox{narrow}, []models.BoundingBox{box(155, 31, 175, 51)})
		test.That(t, res.Compliant[0], test.ShouldBeFalse)
	})
}

func TestMatchTwoPeopleTwoHelmets(t *testing.T) {
	m := New(DefaultParams())
	res := m.Match(
		[]models.BoundingBox{personA, personB},
		[]models.BoundingBox{helmetB, helmetA},
	)
	test.That(t, res.Equipment, test.ShouldResemble, []int{1, 0})
	test.That(t, res.Compliant, test.ShouldResemble, []bool{true, true})
}

func TestMatchAmbiguousHelmet(t *testing.T) {
	m := New(DefaultParams())
	left := box(100, 100, 200, 400)
	right := box(210, 100, 310, 400)

	t.Run("inside one guarded head region", func(t *testing.T) {
		res := m.Match([]models.BoundingBox{left, right}, []models.BoundingBox{box(160, 80, 200, 120)})
		test.That(t, res.Equipment, test.ShouldResemble, []int{0, Unassigned})
		test.That(t, res.Compliant, test.ShouldResemble, []bool{true, false})
	})

	t.Run("between heads goes to nearer person", func(t *testing.T) {
		res := m.Match([]models.BoundingBox{left, right}, []models.BoundingBox{box(180, 40, 220, 80)})
		test.That(t, res.Equipment, test.ShouldResemble, []int{0, Unassigned})

		res = m.Match([]models.BoundingBox{right, left}, []models.BoundingBox{box(180, 40, 220, 80)})
		test.That(t, res.Equipment, test.ShouldResemble, []int{Unassigned, 0})
	})

	t.Run("tie goes to lower person index", func(t *testing.T) {
		res := m.Match([]models.BoundingBox{left, right}, []models.BoundingBox{box(185, 40, 225, 80)})
		test.That(t, res.Equipment, test.ShouldResemble, []int{0, Unassigned})
	})

	t.Run("inside both guarded regions validates nobody", func(t *testing.T) {
		overlapping := []models.BoundingBox{box(100, 100, 200, 400), box(150, 100, 250, 400)}
		res := m.Match(overlapping, []models.BoundingBox{box(155, 80, 195, 120)})
		test.That(t, res.Compliant, test.ShouldResemble, []bool{false, false})
	})
}

func TestMatchIsOneToOneAndDeterministic(t *testing.T) {
	m := New(DefaultParams())
	rng := rand.New(rand.NewPCG(7, 11))

	randomBox := func(maxW, maxH int) models.BoundingBox {
		x1 := rng.IntN(600)
		y1 := rng.IntN(400)
		return box(x1, y1, x1+1+rng.IntN(maxW), y1+1+rng.IntN(maxH))
	}

	for round := 0; round < 200; round++ {
		persons := make([]models.BoundingBox, rng.IntN(6))
		for i := range persons {
			persons[i] = randomBox(150, 350)
		}
		equipment := make([]models.BoundingBox, rng.IntN(6))
		for i := range equipment {
			equipment[i] = randomBox(60, 60)
		}

		first := m.Match(persons, equipment)
		second := m.Match(persons, equipment)
		test.That(t, second, test.ShouldResemble, first)

		seen := map[int]bool{}
		for pi, ei := range first.Equipment {
			test.That(t, first.Compliant[pi], test.ShouldEqual, ei != Unassigned)
			if ei == Unassigned {
				continue
			}
			test.That(t, seen[ei], test.ShouldBeFalse)
			seen[ei] = true
		}
	}
}

func TestParamsValidate(t *testing.T) {
	test.That(t, DefaultParams().Validate(), test.ShouldBeNil)

	p := DefaultParams()
	p.SlackX = -1
	test.That(t, p.Validate(), test.ShouldNotBeNil)

	p = DefaultParams()
	p.MaxHeightRatio = 0
	test.That(t, p.Validate(), test.ShouldNotBeNil)

	p = DefaultParams()
	p.ScoreWidthFactor = 0
	test.That(t, p.Validate().Error(), test.ShouldContainSubstring, "score width factor")
}
