// Package travel estimates cover position from travel time.
//
// Motorised covers rarely report their position; what is known is how
// long a full open or close takes. The Calculator tracks when travel
// started and in which direction, and interpolates position from
// elapsed time. Position is percent closed: 0 is fully open, 100 fully
// closed.
package travel

import (
	"sync"
	"time"
)

// Position bounds (percent closed).
const (
	PositionOpen   = 0
	PositionClosed = 100
)

// Direction of cover movement. Up moves toward open (0), down toward
// closed (100).
type Direction int

const (
	DirectionStop Direction = iota
	DirectionUp
	DirectionDown
)

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	default:
		return "stop"
	}
}

// Calculator estimates the position of one cover. All methods are safe
// for concurrent use.
type Calculator struct {
	travelTimeDown time.Duration
	travelTimeUp   time.Duration

	mu            sync.Mutex
	knownPosition int
	positionKnown bool
	traveling     bool
	travelFrom    int
	travelTo      int
	startedAt     time.Time

	now func() time.Time
}

// New creates a calculator for a cover that takes travelTimeDown for a
// full close and travelTimeUp for a full open.
func New(travelTimeDown, travelTimeUp time.Duration) *Calculator {
	return &Calculator{
		travelTimeDown: travelTimeDown,
		travelTimeUp:   travelTimeUp,
		now:            time.Now,
	}
}

// SetPosition records a confirmed position report and stops any
// estimated travel.
func (c *Calculator) SetPosition(position int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.knownPosition = clamp(position)
	c.positionKnown = true
	c.traveling = false
}

// StartTravel begins estimated travel toward target. Travel to the
// current position completes immediately. A cover whose position was
// never reported is assumed closed.
func (c *Calculator) StartTravel(target int) {
	target = clamp(target)

	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.currentPositionLocked()
	if !c.positionKnown {
		from = PositionClosed
		c.knownPosition = from
		c.positionKnown = true
	}

	if from == target {
		c.knownPosition = target
		c.traveling = false
		return
	}

	c.travelFrom = from
	c.travelTo = target
	c.startedAt = c.now()
	c.traveling = true
}

// StartTravelUp begins travel to fully open.
func (c *Calculator) StartTravelUp() {
	c.StartTravel(PositionOpen)
}

// StartTravelDown begins travel to fully closed.
func (c *Calculator) StartTravelDown() {
	c.StartTravel(PositionClosed)
}

// StopMovement freezes the estimate at the current interpolated
// position.
func (c *Calculator) StopMovement() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.knownPosition = c.currentPositionLocked()
	c.positionKnown = true
	c.traveling = false
}

// CurrentPosition returns the estimated position, interpolated while
// traveling.
func (c *Calculator) CurrentPosition() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPositionLocked()
}

// currentPositionLocked interpolates from elapsed time. Caller holds mu.
func (c *Calculator) currentPositionLocked() int {
	if !c.traveling {
		return c.knownPosition
	}

	distance := c.travelTo - c.travelFrom
	fullTravel := c.travelTimeUp
	if distance > 0 {
		fullTravel = c.travelTimeDown
	}

	required := time.Duration(float64(fullTravel) * float64(abs(distance)) / 100.0)
	elapsed := c.now().Sub(c.startedAt)
	if required <= 0 || elapsed >= required {
		return c.travelTo
	}

	progress := float64(elapsed) / float64(required)
	return clamp(c.travelFrom + int(float64(distance)*progress))
}

// PositionReached reports whether the cover has arrived at its target.
// A cover that is not traveling has trivially reached its position.
func (c *Calculator) PositionReached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.traveling {
		return true
	}
	return c.currentPositionLocked() == c.travelTo
}

// IsTraveling reports whether the cover is still moving.
func (c *Calculator) IsTraveling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.traveling && c.currentPositionLocked() != c.travelTo
}

// IsOpen reports whether the cover is fully open.
func (c *Calculator) IsOpen() bool {
	return c.CurrentPosition() == PositionOpen
}

// IsClosed reports whether the cover is fully closed.
func (c *Calculator) IsClosed() bool {
	return c.CurrentPosition() == PositionClosed
}

// IsOpening reports movement toward open.
func (c *Calculator) IsOpening() bool {
	return c.TravelDirection() == DirectionUp
}

// IsClosing reports movement toward closed.
func (c *Calculator) IsClosing() bool {
	return c.TravelDirection() == DirectionDown
}

// TravelDirection returns the direction of current movement, or
// DirectionStop when idle or arrived.
func (c *Calculator) TravelDirection() Direction {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.traveling || c.currentPositionLocked() == c.travelTo {
		return DirectionStop
	}
	if c.travelTo > c.travelFrom {
		return DirectionDown
	}
	return DirectionUp
}

func clamp(position int) int {
	if position < PositionOpen {
		return PositionOpen
	}
	if position > PositionClosed {
		return PositionClosed
	}
	return position
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
