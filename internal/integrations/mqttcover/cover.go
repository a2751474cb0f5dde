package mqttcover

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ember-home/ember-core/internal/entity"
	"github.com/ember-home/ember-core/internal/travel"
)

// updateInterval is how often state is rewritten while traveling.
const updateInterval = 100 * time.Millisecond

// cover is the runtime state of one configured cover.
type cover struct {
	entityID string
	calc     *travel.Calculator

	commandTopic      string
	stateTopic        string
	availabilityTopic string
	setPositionTopic  string

	payloadOpen  string
	payloadClose string
	payloadStop  string

	mu            sync.Mutex
	cancelUpdater context.CancelFunc

	// writeMu orders state writes. The updater holds it per tick, so
	// once a confirmed write acquires it no stale estimate can land
	// afterwards.
	writeMu sync.Mutex
}

// stopUpdater cancels the in-flight travel updater, if any.
func (c *cover) stopUpdater() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelUpdater != nil {
		c.cancelUpdater()
		c.cancelUpdater = nil
	}
}

// swapUpdater installs a new updater context, cancelling the previous
// one, and returns the context the new updater should watch.
func (c *cover) swapUpdater() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelUpdater != nil {
		c.cancelUpdater()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelUpdater = cancel
	return ctx
}

func (i *Integration) openCover(ctx context.Context, c *cover) error {
	if err := i.broker.Publish(c.commandTopic, []byte(c.payloadOpen), 0, false); err != nil {
		return err
	}
	c.calc.StartTravelUp()
	i.startUpdater(c, false)
	return i.writeState(ctx, c)
}

func (i *Integration) closeCover(ctx context.Context, c *cover) error {
	if err := i.broker.Publish(c.commandTopic, []byte(c.payloadClose), 0, false); err != nil {
		return err
	}
	c.calc.StartTravelDown()
	i.startUpdater(c, false)
	return i.writeState(ctx, c)
}

func (i *Integration) stopCover(ctx context.Context, c *cover) error {
	if err := i.broker.Publish(c.commandTopic, []byte(c.payloadStop), 0, false); err != nil {
		return err
	}
	c.stopUpdater()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.calc.StopMovement()
	return i.writeState(ctx, c)
}

// setPosition moves to an intermediate position. Devices with a native
// position topic get the target directly; otherwise the move is
// emulated with a directional command followed by a stop once the
// estimate reaches the target.
func (i *Integration) setPosition(ctx context.Context, c *cover, target int) error {
	if target < travel.PositionOpen {
		target = travel.PositionOpen
	}
	if target > travel.PositionClosed {
		target = travel.PositionClosed
	}

	if c.setPositionTopic != "" {
		payload := []byte(strconv.Itoa(target))
		if err := i.broker.Publish(c.setPositionTopic, payload, 0, false); err != nil {
			return err
		}
		c.calc.StartTravel(target)
		i.startUpdater(c, false)
		return i.writeState(ctx, c)
	}

	current := c.calc.CurrentPosition()
	if target == current {
		return i.writeState(ctx, c)
	}

	payload := c.payloadOpen
	if target > current {
		payload = c.payloadClose
	}
	if err := i.broker.Publish(c.commandTopic, []byte(payload), 0, false); err != nil {
		return err
	}

	c.calc.StartTravel(target)
	sendStop := target != travel.PositionOpen && target != travel.PositionClosed
	i.startUpdater(c, sendStop)
	return i.writeState(ctx, c)
}

// startUpdater rewrites state on an interval until the travel estimate
// arrives, optionally stopping the device at the target.
func (i *Integration) startUpdater(c *cover, sendStop bool) {
	ctx := c.swapUpdater()

	go func() {
		ticker := time.NewTicker(updateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			c.writeMu.Lock()
			if ctx.Err() != nil {
				c.writeMu.Unlock()
				return
			}

			reached := c.calc.PositionReached()
			if reached && sendStop {
				if err := i.broker.Publish(c.commandTopic, []byte(c.payloadStop), 0, false); err != nil {
					i.logger.Warn("stop command failed", "entity_id", c.entityID, "error", err)
				}
			}

			writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := i.writeState(writeCtx, c); err != nil {
				i.logger.Warn("cover state write failed", "entity_id", c.entityID, "error", err)
			}
			cancel()
			c.writeMu.Unlock()

			if reached {
				c.stopUpdater()
				return
			}
		}
	}()
}

// writeState publishes the current estimate into the entity registry.
func (i *Integration) writeState(ctx context.Context, c *cover) error {
	position := c.calc.CurrentPosition()

	var state string
	switch {
	case c.calc.IsOpening():
		state = entity.StateOpening
	case c.calc.IsClosing():
		state = entity.StateClosing
	case c.calc.IsClosed():
		state = entity.StateClosed
	default:
		state = entity.StateOpen
	}

	return i.entities.SetState(ctx, c.entityID, state, entity.Attributes{
		"position": position,
		"source":   Domain,
	})
}
