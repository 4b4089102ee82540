// Package blink turns a stream of eye landmark geometry into discrete,
// debounced blink events. A low eye aspect ratio (EAR) indicates a closed
// eyelid; the detector requires a minimum run of closed frames and a
// minimum gap between accepted blinks to reject detector noise.
package blink

import (
	"image"
	"math"
)

// OpenSentinel is the EAR value reported for degenerate eye geometry
// (zero horizontal corner distance). It is far above any plausible
// threshold, so degenerate frames always read as eyes open.
const OpenSentinel = 100.0

// EARInvalid marks frames where no EAR could be computed.
const EARInvalid = -1.0

// pointsPerEye is the number of landmarks the EAR formula consumes:
// two corners, two upper-lid points, two lower-lid points.
const pointsPerEye = 6

// EyeAspectRatio computes EAR from six eye landmarks ordered
// p1..p6 per the canonical 68-point scheme:
//
//	EAR = (|p2-p6| + |p3-p5|) / (2 * |p1-p4|)
//
// Returns EARInvalid if the wrong number of points is supplied, and
// OpenSentinel when the horizontal corner distance is zero.
func EyeAspectRatio(eye []image.Point) float64 {
	if len(eye) != pointsPerEye {
		return EARInvalid
	}

	v1 := euclidean(eye[1], eye[5])
	v2 := euclidean(eye[2], eye[4])
	h := euclidean(eye[0], eye[3])

	if h == 0 {
		return OpenSentinel
	}
	return (v1 + v2) / (2.0 * h)
}

// AverageEAR computes the per-frame EAR as the mean of both eyes.
// Returns EARInvalid if either eye is unusable.
func AverageEAR(left, right []image.Point) float64 {
	l := EyeAspectRatio(left)
	r := EyeAspectRatio(right)
	if l == EARInvalid || r == EARInvalid {
		return EARInvalid
	}
	return (l + r) / 2.0
}

func euclidean(a, b image.Point) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}
