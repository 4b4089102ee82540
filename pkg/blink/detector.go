package blink

import (
	"time"
)

// Options configures a Detector.
type Options struct {
	Threshold       float64       // EAR below this counts as a closed eye
	MinConsecFrames int           // closed frames required to accept a blink
	Debounce        time.Duration // min gap between accepted blinks
}

// Detector is a stateful per-connection filter over an EAR stream.
// It is not safe for concurrent use; each connection owns its own.
type Detector struct {
	opts       Options
	runLength  int
	lastAccept time.Time
}

// NewDetector creates a detector with the given options.
func NewDetector(opts Options) *Detector {
	return &Detector{opts: opts}
}

// Observe feeds one frame's EAR reading and reports whether this frame
// completes an accepted blink.
//
// faceTracked must be false when no face was detected this frame: a blink
// cannot be inferred without continuous tracking, so the closed-frame run
// resets without producing an event. An invalid EAR on a tracked face is
// treated as eyes open.
func (d *Detector) Observe(ear float64, faceTracked bool, now time.Time) bool {
	if !faceTracked {
		d.runLength = 0
		return false
	}

	if ear >= 0 && ear < d.opts.Threshold {
		d.runLength++
		return false
	}

	// Eyes open (or unreadable): the closed run, if any, just ended.
	accepted := false
	if d.runLength >= d.opts.MinConsecFrames && now.Sub(d.lastAccept) > d.opts.Debounce {
		d.lastAccept = now
		accepted = true
	}
	d.runLength = 0
	return accepted
}

// RunLength returns the current count of consecutive closed frames.
func (d *Detector) RunLength() int {
	return d.runLength
}

// Reset clears the closed-frame run, keeping the debounce clock.
func (d *Detector) Reset() {
	d.runLength = 0
}
