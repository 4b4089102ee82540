// Package pin implements the time-driven digit cursor for touchless PIN
// entry. The cursor rotates over a fixed digit set on a wall-clock cadence,
// independent of blink timing; a blink selects whatever digit the cursor
// is on.
package pin

import (
	"time"
)

// DefaultDigits is the standard keypad ordering.
const DefaultDigits = "1234567890"

// Cycler rotates a cursor over a fixed ordered digit set. It is not safe
// for concurrent use; each connection owns its own.
type Cycler struct {
	digits    string
	delay     time.Duration
	cursor    int
	lastCycle time.Time
}

// NewCycler creates a cycler over the given digit set. An empty set falls
// back to DefaultDigits.
func NewCycler(digits string, delay time.Duration) *Cycler {
	if digits == "" {
		digits = DefaultDigits
	}
	return &Cycler{digits: digits, delay: delay}
}

// Start resets the cursor to the first digit and restarts the cycle timer.
func (c *Cycler) Start(now time.Time) {
	c.cursor = 0
	c.lastCycle = now
}

// Tick advances the cursor if the cycle delay has elapsed, wrapping at the
// end of the digit set. Reports whether the highlighted digit changed.
func (c *Cycler) Tick(now time.Time) bool {
	if now.Sub(c.lastCycle) <= c.delay {
		return false
	}
	c.cursor = (c.cursor + 1) % len(c.digits)
	c.lastCycle = now
	return true
}

// Current returns the digit under the cursor.
func (c *Cycler) Current() byte {
	return c.digits[c.cursor]
}

// Select reads the digit under the cursor, then resets the cursor to the
// first digit and restarts the cycle timer, so every selection begins a
// fresh, predictable cycle.
func (c *Cycler) Select(now time.Time) byte {
	digit := c.digits[c.cursor]
	c.Start(now)
	return digit
}
