package recognition

import (
	"github.com/Kagami/go-face"
)

type mockFaceEngine struct {
	RecognizeFunc func(data []byte) ([]face.Face, error)
	CloseFunc     func()
}

func (m *mockFaceEngine) Recognize(data []byte) ([]face.Face, error) {
	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(data)
	}
	return nil, nil
}

func (m *mockFaceEngine) Close() {
	if m.CloseFunc != nil {
		m.CloseFunc()
	}
}

// withEngine injects a mock engine into a service for testing.
func withEngine(tolerance float64, engine faceEngine) *Service {
	s := NewService(tolerance)
	s.engine = engine
	return s
}
