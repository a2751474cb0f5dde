package travel

import (
	"testing"
	"time"
)

// fakeClock drives a Calculator deterministically.
type fakeClock struct {
	current time.Time
}

func (f *fakeClock) advance(d time.Duration) {
	f.current = f.current.Add(d)
}

func newTestCalculator(down, up time.Duration) (*Calculator, *fakeClock) {
	clock := &fakeClock{current: time.Unix(1700000000, 0)}
	c := New(down, up)
	c.now = func() time.Time { return clock.current }
	return c, clock
}

func TestCalculator_SetPosition(t *testing.T) {
	c, _ := newTestCalculator(10*time.Second, 10*time.Second)

	c.SetPosition(40)
	if got := c.CurrentPosition(); got != 40 {
		t.Errorf("CurrentPosition() = %d, want 40", got)
	}
	if c.IsTraveling() {
		t.Error("IsTraveling() = true after position report")
	}

	// Reports are clamped.
	c.SetPosition(150)
	if got := c.CurrentPosition(); got != 100 {
		t.Errorf("CurrentPosition() = %d, want 100 (clamped)", got)
	}
}

func TestCalculator_TravelDown(t *testing.T) {
	c, clock := newTestCalculator(10*time.Second, 10*time.Second)
	c.SetPosition(0)

	c.StartTravelDown()
	if !c.IsClosing() {
		t.Error("IsClosing() = false during downward travel")
	}

	clock.advance(5 * time.Second)
	if got := c.CurrentPosition(); got != 50 {
		t.Errorf("CurrentPosition() at halfway = %d, want 50", got)
	}
	if c.PositionReached() {
		t.Error("PositionReached() = true at halfway")
	}

	clock.advance(5 * time.Second)
	if got := c.CurrentPosition(); got != 100 {
		t.Errorf("CurrentPosition() at end = %d, want 100", got)
	}
	if !c.PositionReached() {
		t.Error("PositionReached() = false after full travel time")
	}
	if !c.IsClosed() {
		t.Error("IsClosed() = false after closing")
	}
	if c.IsTraveling() {
		t.Error("IsTraveling() = true after arrival")
	}
}

func TestCalculator_AsymmetricTravelTimes(t *testing.T) {
	// Opening against gravity is slower: 20s up, 10s down.
	c, clock := newTestCalculator(10*time.Second, 20*time.Second)
	c.SetPosition(100)

	c.StartTravelUp()
	if !c.IsOpening() {
		t.Error("IsOpening() = false during upward travel")
	}

	clock.advance(10 * time.Second)
	if got := c.CurrentPosition(); got != 50 {
		t.Errorf("CurrentPosition() after 10s of 20s = %d, want 50", got)
	}

	clock.advance(10 * time.Second)
	if !c.IsOpen() {
		t.Errorf("IsOpen() = false after full travel, position %d", c.CurrentPosition())
	}
}

func TestCalculator_PartialTravel(t *testing.T) {
	c, clock := newTestCalculator(10*time.Second, 10*time.Second)
	c.SetPosition(20)

	// 20 -> 70 covers half the range, so half the full travel time.
	c.StartTravel(70)
	clock.advance(5 * time.Second)
	if got := c.CurrentPosition(); got != 70 {
		t.Errorf("CurrentPosition() = %d, want 70", got)
	}
	if !c.PositionReached() {
		t.Error("PositionReached() = false after proportional travel time")
	}
}

func TestCalculator_StopMovement(t *testing.T) {
	c, clock := newTestCalculator(10*time.Second, 10*time.Second)
	c.SetPosition(0)

	c.StartTravelDown()
	clock.advance(3 * time.Second)
	c.StopMovement()

	if got := c.CurrentPosition(); got != 30 {
		t.Errorf("CurrentPosition() after stop = %d, want 30", got)
	}
	if c.IsTraveling() {
		t.Error("IsTraveling() = true after stop")
	}
	if c.TravelDirection() != DirectionStop {
		t.Errorf("TravelDirection() = %v, want stop", c.TravelDirection())
	}

	// Time passing changes nothing once stopped.
	clock.advance(time.Minute)
	if got := c.CurrentPosition(); got != 30 {
		t.Errorf("CurrentPosition() drifted to %d after stop", got)
	}
}

func TestCalculator_TravelToCurrentPosition(t *testing.T) {
	c, _ := newTestCalculator(10*time.Second, 10*time.Second)
	c.SetPosition(60)

	c.StartTravel(60)
	if c.IsTraveling() {
		t.Error("IsTraveling() = true for travel to current position")
	}
	if !c.PositionReached() {
		t.Error("PositionReached() = false for travel to current position")
	}
}

func TestCalculator_UnknownPositionAssumedClosed(t *testing.T) {
	c, clock := newTestCalculator(10*time.Second, 10*time.Second)

	c.StartTravelUp()
	if !c.IsOpening() {
		t.Error("IsOpening() = false; unknown position should travel from closed")
	}

	clock.advance(10 * time.Second)
	if !c.IsOpen() {
		t.Errorf("IsOpen() = false after full open from assumed closed, position %d", c.CurrentPosition())
	}
}

func TestCalculator_DirectionString(t *testing.T) {
	if DirectionUp.String() != "up" || DirectionDown.String() != "down" || DirectionStop.String() != "stop" {
		t.Error("Direction.String() mapping broken")
	}
}

func TestCalculator_TargetClamped(t *testing.T) {
	c, clock := newTestCalculator(10*time.Second, 10*time.Second)
	c.SetPosition(50)

	c.StartTravel(200)
	clock.advance(10 * time.Second)
	if got := c.CurrentPosition(); got != 100 {
		t.Errorf("CurrentPosition() = %d, want 100", got)
	}
}
