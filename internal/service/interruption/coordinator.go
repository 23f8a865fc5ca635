// Package interruption coordinates barge-in across pipeline stages.
package interruption

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-dialogue-service/internal/observability/logging"
)

// Callback runs asynchronously after an interruption is triggered.
type Callback func() error

// CallbackID identifies a registered callback.
type CallbackID uint64

type registration struct {
	id CallbackID
	fn Callback
}

// Coordinator holds the interrupted flag shared by all stages.
//
// Trigger flips the flag once and bumps the epoch; further triggers are
// no-ops until Reset. Stages that captured an earlier epoch treat their work
// as stale even after the flag has been reset.
type Coordinator struct {
	triggered atomic.Bool
	epoch     atomic.Uint64

	mu          sync.Mutex
	lastTrigger time.Time
	callbacks   []registration
	nextID      CallbackID

	inflight sync.WaitGroup
	logger   zerolog.Logger
	now      func() time.Time
}

// NewCoordinator creates a coordinator in the non-triggered state.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		logger: logging.WithComponent("interruption"),
		now:    time.Now,
	}
}

// Trigger marks the pipeline as interrupted and schedules callbacks. It
// returns false without side effects if already triggered.
func (c *Coordinator) Trigger() bool {
	if !c.triggered.CompareAndSwap(false, true) {
		return false
	}
	epoch := c.epoch.Add(1)

	c.mu.Lock()
	c.lastTrigger = c.now()
	callbacks := make([]registration, len(c.callbacks))
	copy(callbacks, c.callbacks)
	c.mu.Unlock()

	c.logger.Info().Uint64("epoch", epoch).Msg("Interruption triggered")

	for _, r := range callbacks {
		c.inflight.Add(1)
		go c.run(r)
	}
	return true
}

func (c *Coordinator) run(r registration) {
	defer c.inflight.Done()
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error().
				Uint64("callbackId", uint64(r.id)).
				Str("panic", fmt.Sprint(p)).
				Msg("Interruption callback panicked")
		}
	}()

	if err := r.fn(); err != nil {
		c.logger.Error().
			Err(err).
			Uint64("callbackId", uint64(r.id)).
			Msg("Interruption callback failed")
	}
}

// Reset clears the flag. The last trigger time is kept.
func (c *Coordinator) Reset() {
	if c.triggered.CompareAndSwap(true, false) {
		c.logger.Debug().Msg("Interruption state reset")
	}
}

// IsTriggered reports whether an interruption is in progress.
func (c *Coordinator) IsTriggered() bool {
	return c.triggered.Load()
}

// Epoch returns the number of interruptions triggered so far.
func (c *Coordinator) Epoch() uint64 {
	return c.epoch.Load()
}

// Register adds a callback and returns its id.
func (c *Coordinator) Register(fn Callback) CallbackID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.callbacks = append(c.callbacks, registration{id: c.nextID, fn: fn})
	return c.nextID
}

// Unregister removes a callback. Unknown ids are ignored.
func (c *Coordinator) Unregister(id CallbackID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.callbacks {
		if r.id == id {
			c.callbacks = append(c.callbacks[:i], c.callbacks[i+1:]...)
			return
		}
	}
}

// SinceLastTrigger returns the time since the last interruption, or false
// if none has happened.
func (c *Coordinator) SinceLastTrigger() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastTrigger.IsZero() {
		return 0, false
	}
	return c.now().Sub(c.lastTrigger), true
}

// Wait blocks until every scheduled callback has returned.
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}
