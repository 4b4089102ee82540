// Package recognition wraps dlib (via go-face) behind the biometric
// operations the terminal needs: face location, embedding extraction,
// facial landmarks, and embedding comparison. The vision models themselves
// are opaque; this package only defines their input/output contracts.
package recognition

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/faceteller/faceteller/pkg/logging"
)

// Descriptor is a 128-dimensional face embedding from dlib.
type Descriptor = face.Descriptor

// Face is a face located in a frame. Landmarks follow the canonical
// 68-point facial landmark scheme when the 68-point shape predictor is
// installed; a zero Descriptor means the encoder produced no usable
// embedding for this face.
type Face struct {
	BoundingBox image.Rectangle
	Landmarks   []image.Point
	Descriptor  Descriptor
}

// Encoded reports whether the face carries a usable embedding.
func (f *Face) Encoded() bool {
	for _, v := range f.Descriptor {
		if v != 0 {
			return true
		}
	}
	return false
}

// Landmark index ranges for the eyes in the 68-point scheme.
const (
	LeftEyeStart  = 36
	LeftEyeEnd    = 42
	RightEyeStart = 42
	RightEyeEnd   = 48
	landmarkCount = 68
)

// EyeLandmarks extracts the six left-eye and six right-eye points from a
// face's landmark set. ok is false when the landmark set is incomplete.
func EyeLandmarks(f *Face) (left, right []image.Point, ok bool) {
	if len(f.Landmarks) < landmarkCount {
		return nil, nil, false
	}
	return f.Landmarks[LeftEyeStart:LeftEyeEnd], f.Landmarks[RightEyeStart:RightEyeEnd], true
}

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// faceEngine is the seam between this package and go-face, mockable in tests.
type faceEngine interface {
	Recognize(jpegData []byte) ([]face.Face, error)
	Close()
}

// Service performs face detection and recognition using dlib models.
type Service struct {
	mu        sync.RWMutex
	engine    faceEngine
	tolerance float64
}

// NewService creates an unloaded recognition service.
func NewService(tolerance float64) *Service {
	return &Service{tolerance: tolerance}
}

// LoadModels loads the dlib models from the given directory. The directory
// must contain the shape predictor and the face recognition resnet model.
func (s *Service) LoadModels(modelPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine != nil {
		return nil
	}

	logging.Component("recognition").Infof("loading face models from %s", modelPath)

	rec, err := face.NewRecognizer(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load face models: %w", err)
	}
	s.engine = rec
	return nil
}

// Close releases the underlying dlib resources.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine != nil {
		s.engine.Close()
		s.engine = nil
	}
	return nil
}

// SetTolerance sets the max embedding distance treated as a match.
// Lower values are stricter.
func (s *Service) SetTolerance(tolerance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tolerance = tolerance
}

// Tolerance returns the configured match tolerance.
func (s *Service) Tolerance() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tolerance
}

// Detect locates every face in a JPEG frame, with landmarks and embeddings.
// An empty result is not an error; frames without faces are routine.
func (s *Service) Detect(jpegData []byte) ([]Face, error) {
	s.mu.RLock()
	engine := s.engine
	s.mu.RUnlock()

	if engine == nil {
		return nil, ErrModelNotLoaded
	}

	found, err := engine.Recognize(jpegData)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	result := make([]Face, len(found))
	for i, f := range found {
		result[i] = Face{
			BoundingBox: f.Rectangle,
			Landmarks:   f.Shapes,
			Descriptor:  f.Descriptor,
		}
	}
	return result, nil
}

// Match reports whether two embeddings are within tolerance of each other.
func (s *Service) Match(a, b Descriptor) bool {
	return EuclideanDistance(a, b) < s.Tolerance()
}

// FindBestMatch compares a probe embedding against a gallery and returns
// the index and distance of the closest entry, and whether that distance
// is within tolerance. Returns index -1 for an empty gallery.
func (s *Service) FindBestMatch(probe Descriptor, gallery []Descriptor) (int, float64, bool) {
	if len(gallery) == 0 {
		return -1, math.MaxFloat64, false
	}

	bestIdx := 0
	bestDist := math.MaxFloat64
	for i, candidate := range gallery {
		if dist := EuclideanDistance(probe, candidate); dist < bestDist {
			bestDist = dist
			bestIdx = i
		}
	}
	return bestIdx, bestDist, bestDist < s.Tolerance()
}

// EuclideanDistance calculates the distance between two embeddings.
func EuclideanDistance(a, b Descriptor) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i] - b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
