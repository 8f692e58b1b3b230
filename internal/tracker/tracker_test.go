package tracker

import (
	"math/rand/v2"
	"testing"

	"go.viam.com/test"
)

func TestUpdateRules(t *testing.T) {
	tr := New(DefaultParams())

	t.Run("ppe violation adds small step", func(t *testing.T) {
		s := tr.Update(State{}, Signal{PPE: true, AnyPerson: true})
		test.That(t, s.Counter, test.ShouldEqual, 2)
		test.That(t, s.AlertActive, test.ShouldBeFalse)
	})

	t.Run("ppe violation above threshold alerts", func(t *testing.T) {
		s := tr.Update(State{Counter: 13}, Signal{PPE: true, AnyPerson: true})
		test.That(t, s.Counter, test.ShouldEqual, 15)
		test.That(t, s.AlertActive, test.ShouldBeTrue)
	})

	t.Run("zone intrusion alerts immediately", func(t *testing.T) {
		s := tr.Update(State{}, Signal{Zone: true, AnyPerson: true})
		test.That(t, s.Counter, test.ShouldEqual, 10)
		test.That(t, s.AlertActive, test.ShouldBeTrue)
	})

	t.Run("zone intrusion wins over empty scene", func(t *testing.T) {
		s := tr.Update(State{Counter: 5}, Signal{Zone: true})
		test.That(t, s.Counter, test.ShouldEqual, 15)
	})

	t.Run("empty scene resets", func(t *testing.T) {
		s := tr.Update(State{Counter: 25, AlertActive: true}, Signal{PPE: true})
		test.That(t, s.Counter, test.ShouldEqual, 0)
		test.That(t, s.AlertActive, test.ShouldBeFalse)
	})

	t.Run("compliant frame recovers", func(t *testing.T) {
		s := tr.Update(State{Counter: 14}, Signal{AnyPerson: true})
		test.That(t, s.Counter, test.ShouldEqual, 10)
		test.That(t, s.AlertActive, test.ShouldBeFalse)

		s = tr.Update(State{Counter: 3}, Signal{AnyPerson: true})
		test.That(t, s.Counter, test.ShouldEqual, 0)
	})

	t.Run("counter saturates", func(t *testing.T) {
		s := tr.Update(State{Counter: 25}, Signal{Zone: true, AnyPerson: true})
		test.That(t, s.Counter, test.ShouldEqual, 30)
		s = tr.Update(State{Counter: 29}, Signal{PPE: true, AnyPerson: true})
		test.That(t, s.Counter, test.ShouldEqual, 30)
	})

	t.Run("threshold is exclusive", func(t *testing.T) {
		s := tr.Update(State{Counter: 10}, Signal{PPE: true, AnyPerson: true})
		test.That(t, s.Counter, test.ShouldEqual, 12)
		test.That(t, s.AlertActive, test.ShouldBeFalse)
	})
}

func TestSingleMissedFrameDoesNotClearAlert(t *testing.T) {
	tr := New(DefaultParams())
	s := State{}
	for i := 0; i < 10; i++ {
		s = tr.Update(s, Signal{PPE: true, AnyPerson: true})
	}
	test.That(t, s.Counter, test.ShouldEqual, 20)
	test.That(t, s.AlertActive, test.ShouldBeTrue)

	s = tr.Update(s, Signal{AnyPerson: true})
	test.That(t, s.AlertActive, test.ShouldBeTrue)
	test.That(t, tr.Sustained(s), test.ShouldBeTrue)
}

func TestCounterStaysInRange(t *testing.T) {
	tr := New(DefaultParams())
	rng := rand.New(rand.NewPCG(3, 5))
	s := State{}
	for i := 0; i < 5000; i++ {
		s = tr.Update(s, Signal{
			Zone:      rng.IntN(10) == 0,
			PPE:       rng.IntN(2) == 0,
			AnyPerson: rng.IntN(8) != 0,
		})
		test.That(t, s.Counter, test.ShouldBeBetweenOrEqual, 0, 30)
	}
}

func TestParamsValidate(t *testing.T) {
	test.That(t, DefaultParams().Validate(), test.ShouldBeNil)

	p := DefaultParams()
	p.Cap = 0
	test.That(t, p.Validate(), test.ShouldNotBeNil)

	p = DefaultParams()
	p.RecoveryStep = 0
	test.That(t, p.Validate(), test.ShouldNotBeNil)

	p = DefaultParams()
	p.AlertThreshold = 30
	test.That(t, p.Validate().Error(), test.ShouldContainSubstring, "alert threshold")
}
