// Package session implements the per-connection authentication state
// machine. Each live connection owns exactly one Session; it consumes the
// connection's frame stream in arrival order and drives the subject through
// face capture, face recognition, blink-driven PIN entry, and PIN
// verification, ending in a single-use login token.
//
// A Session is confined to its connection's goroutine and holds no shared
// state; the identity gallery and token table it consults are guarded by
// their own packages.
package session

import (
	"image"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/faceteller/faceteller/pkg/blink"
	"github.com/faceteller/faceteller/pkg/frame"
	"github.com/faceteller/faceteller/pkg/logging"
	"github.com/faceteller/faceteller/pkg/pin"
	"github.com/faceteller/faceteller/pkg/recognition"
	"github.com/faceteller/faceteller/pkg/store"
	"github.com/faceteller/faceteller/pkg/token"
)

// Mode is the state machine's active stage.
type Mode int

const (
	ModeIdle Mode = iota
	ModeEnrolling
	ModeRecognizing
	ModePinEntry
	ModeVerifying
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeEnrolling:
		return "enrolling"
	case ModeRecognizing:
		return "recognizing"
	case ModePinEntry:
		return "pin_entry"
	case ModeVerifying:
		return "verifying"
	}
	return "unknown"
}

// Engine provides the biometric operations the state machine invokes.
// Implementations may gate calls through a worker pool; errors degrade to
// "no usable signal this frame" and never terminate the connection.
type Engine interface {
	Detect(jpegData []byte) ([]recognition.Face, error)
	FindBestMatch(probe recognition.Descriptor, gallery []recognition.Descriptor) (int, float64, bool)
}

// Directory provides the enrolled-identity store.
type Directory interface {
	Gallery() *store.Gallery
	PIN(username string) (string, error)
	SaveEnrollment(username string, jpegImage []byte, embedding recognition.Descriptor) (string, error)
}

// Issuer mints login tokens on successful verification.
type Issuer interface {
	Issue(username string) (token.Token, error)
}

// Emitter delivers events back over the connection's channel.
type Emitter interface {
	Emit(event string, payload interface{})
}

// Config holds the per-connection tunables.
type Config struct {
	Blink          blink.Options
	PINLength      int
	PINDigits      string
	CycleDelay     time.Duration
	VerifyDelay    time.Duration // UX pause before announcing the verdict
	StatusInterval time.Duration // min gap between repeated status updates
}

// Session is one connection's authentication state. Not safe for
// concurrent use; the owning connection processes frames strictly in
// arrival order.
type Session struct {
	ID  string
	cfg Config

	engine Engine
	dir    Directory
	tokens Issuer
	out    Emitter
	log    *logrus.Entry

	now   func() time.Time
	sleep func(time.Duration)

	mode         Mode
	enrollTarget string
	candidate    string
	entered      []byte
	cycler       *pin.Cycler
	blinker      *blink.Detector
	lastStatusAt time.Time
}

// New creates an idle session for a freshly opened connection.
func New(cfg Config, engine Engine, dir Directory, tokens Issuer, out Emitter) *Session {
	id := uuid.NewString()
	return &Session{
		ID:      id,
		cfg:     cfg,
		engine:  engine,
		dir:     dir,
		tokens:  tokens,
		out:     out,
		log:     logging.Component("session").WithField("sid", id),
		now:     time.Now,
		sleep:   time.Sleep,
		mode:    ModeIdle,
		cycler:  pin.NewCycler(cfg.PINDigits, cfg.CycleDelay),
		blinker: blink.NewDetector(cfg.Blink),
	}
}

// Mode returns the currently active stage.
func (s *Session) Mode() Mode {
	return s.mode
}

// Close discards all per-connection state. Called on disconnect; any
// partial PIN entry or candidate identity is gone afterwards.
func (s *Session) Close() {
	s.reset()
	s.log.Debug("session closed")
}

// reset clears all authentication progress and returns to Idle.
func (s *Session) reset() {
	s.mode = ModeIdle
	s.enrollTarget = ""
	s.candidate = ""
	s.entered = nil
	s.blinker.Reset()
}

// ValidUsername reports whether a username is a well-formed identifier:
// letters, digits and underscores, not starting with a digit.
func ValidUsername(username string) bool {
	if username == "" {
		return false
	}
	for i, r := range username {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if unicode.IsDigit(r) && i > 0 {
			continue
		}
		return false
	}
	return true
}

// StartEnrollment switches the connection into face capture for the given
// username. A malformed username is rejected without a state change.
func (s *Session) StartEnrollment(username string) {
	if !ValidUsername(username) {
		s.out.Emit(EventEnrollmentError, MessagePayload{Message: "Invalid username."})
		return
	}

	s.reset()
	s.mode = ModeEnrolling
	s.enrollTarget = username
	s.lastStatusAt = time.Time{}
	s.log.WithField("user", username).Info("enrollment capture started")
	s.out.Emit(EventEnrollmentReady, struct{}{})
}

// StartLogin switches the connection into face recognition. With no
// enrolled identities the attempt is rejected immediately.
func (s *Session) StartLogin() {
	if s.dir.Gallery().Empty() {
		s.out.Emit(EventLoginStatus, LoginStatusPayload{
			Status:  StatusError,
			Message: "No enrolled users. Ask the operator to enroll you first.",
		})
		return
	}

	s.reset()
	s.mode = ModeRecognizing
	s.lastStatusAt = time.Time{}
	s.log.Info("login started")
	s.out.Emit(EventLoginStatus, LoginStatusPayload{
		Status:  StatusRecognizing,
		Message: "Look at the camera...",
	})
}

// HandleFrame consumes one transport-encoded frame. Undecodable frames are
// dropped silently; biometric failures degrade to a frame without signal.
func (s *Session) HandleFrame(payload string) {
	if s.mode == ModeIdle {
		return
	}

	f, err := frame.DecodeDataURL(payload)
	if err != nil {
		s.log.Debug("dropped undecodable frame")
		return
	}

	switch s.mode {
	case ModeEnrolling:
		s.enrollFrame(f)
	case ModeRecognizing:
		s.recognizeFrame(f)
	case ModePinEntry:
		s.pinFrame(f)
	}
}

// enrollFrame is one-shot capture: the first frame with exactly one
// encodable face completes the request.
func (s *Session) enrollFrame(f *frame.Frame) {
	faces, err := s.engine.Detect(f.JPEG)
	if err != nil {
		s.log.WithError(err).Debug("detection failed during enrollment")
		return
	}

	now := s.now()
	switch {
	case len(faces) == 0:
		s.statusLimited(now, EventEnrollmentStatus, MessagePayload{Message: "No face detected. Position your face in the frame."})
	case len(faces) > 1:
		s.statusLimited(now, EventEnrollmentStatus, MessagePayload{Message: "Multiple faces detected. Only the enrollee may be in frame."})
	case !faces[0].Encoded():
		s.statusLimited(now, EventEnrollmentStatus, MessagePayload{Message: "Face detected, but encoding failed. Hold still."})
	default:
		imagePath, err := s.dir.SaveEnrollment(s.enrollTarget, f.JPEG, faces[0].Descriptor)
		if err != nil {
			s.log.WithError(err).Error("failed to persist enrollment")
			s.out.Emit(EventEnrollmentError, MessagePayload{Message: "Could not save the capture. Try again."})
			return
		}
		s.log.WithField("user", s.enrollTarget).Info("enrollment capture saved")
		s.out.Emit(EventEnrollmentSucceeded, EnrollmentSucceededPayload{ImagePath: imagePath})
		s.reset()
	}
}

func (s *Session) recognizeFrame(f *frame.Frame) {
	gallery := s.dir.Gallery()
	if gallery.Empty() {
		return
	}

	faces, err := s.engine.Detect(f.JPEG)
	if err != nil {
		s.log.WithError(err).Debug("detection failed during recognition")
		faces = nil
	}

	if len(faces) > 0 && faces[0].Encoded() {
		idx, dist, matched := s.engine.FindBestMatch(faces[0].Descriptor, gallery.Embeddings)
		if matched {
			s.acceptCandidate(gallery.Names[idx], dist)
			return
		}
	}

	msg := "Looking for a face..."
	if len(faces) > 0 {
		msg = "Face detected, not recognized."
	}
	s.statusLimited(s.now(), EventLoginStatus, LoginStatusPayload{Status: StatusRecognizing, Message: msg})
}

// acceptCandidate moves a recognized user into PIN entry with a fresh
// digit cycle and no blink history.
func (s *Session) acceptCandidate(username string, dist float64) {
	now := s.now()
	s.mode = ModePinEntry
	s.candidate = username
	s.entered = nil
	s.blinker.Reset()
	s.cycler.Start(now)
	s.lastStatusAt = time.Time{}

	s.log.WithFields(logrus.Fields{"user": username, "distance": dist}).Info("face recognized")
	s.out.Emit(EventLoginStatus, LoginStatusPayload{
		Status:       StatusPinEntry,
		Message:      "Welcome " + username + "! Blink to select each PIN digit.",
		User:         username,
		CurrentDigit: string(s.cycler.Current()),
		PinSoFar:     s.masked(),
	})
}

func (s *Session) pinFrame(f *frame.Frame) {
	now := s.now()

	// The cursor advances on wall time whether or not a face is visible.
	if s.cycler.Tick(now) {
		s.out.Emit(EventPinDigitUpdate, PinDigitPayload{
			CurrentDigit: string(s.cycler.Current()),
			PinSoFar:     s.masked(),
		})
	}

	faces, err := s.engine.Detect(f.JPEG)
	if err != nil {
		s.log.WithError(err).Debug("detection failed during pin entry")
		faces = nil
	}
	faceTracked := len(faces) > 0

	ear := blink.EARInvalid
	var eyePoints []image.Point
	if faceTracked {
		if left, right, ok := recognition.EyeLandmarks(&faces[0]); ok {
			ear = blink.AverageEAR(left, right)
			eyePoints = make([]image.Point, 0, len(left)+len(right))
			eyePoints = append(eyePoints, left...)
			eyePoints = append(eyePoints, right...)
		}
	}

	if s.blinker.Observe(ear, faceTracked, now) {
		digit := s.cycler.Select(now)
		s.entered = append(s.entered, digit)
		s.log.WithField("pin_so_far", s.masked()).Debug("blink accepted")

		if len(s.entered) >= s.cfg.PINLength {
			s.verify()
			return
		}
		s.out.Emit(EventPinDigitUpdate, PinDigitPayload{
			CurrentDigit: string(s.cycler.Current()),
			PinSoFar:     s.masked(),
		})
	}

	if preview, err := frame.Annotate(f, eyePoints, ear, s.cfg.Blink.Threshold); err == nil {
		s.out.Emit(EventPinFramePreview, PinFramePayload{
			ImageData:    preview,
			CurrentDigit: string(s.cycler.Current()),
			PinSoFar:     s.masked(),
		})
	}
}

// verify compares the entered digits against the stored PIN and ends the
// attempt. State is destroyed on both outcomes; the token alone bridges a
// success to the web session.
func (s *Session) verify() {
	s.mode = ModeVerifying
	s.out.Emit(EventLoginStatus, LoginStatusPayload{Status: StatusVerifying, Message: "Verifying PIN..."})

	entered := string(s.entered)
	stored, err := s.dir.PIN(s.candidate)

	if s.cfg.VerifyDelay > 0 {
		s.sleep(s.cfg.VerifyDelay)
	}

	success := err == nil && stored != "" && entered == stored
	if !success {
		s.log.WithField("user", s.candidate).Info("pin verification failed")
		s.out.Emit(EventLoginResult, LoginResultPayload{Success: false})
		s.reset()
		return
	}

	tok, err := s.tokens.Issue(s.candidate)
	if err != nil {
		s.log.WithError(err).Error("token issuance failed")
		s.out.Emit(EventLoginResult, LoginResultPayload{Success: false})
		s.reset()
		return
	}

	s.log.WithField("user", s.candidate).Info("pin verified, token issued")
	s.out.Emit(EventLoginResult, LoginResultPayload{Success: true, Token: tok.Value})
	s.reset()
}

// statusLimited emits at most one status update per StatusInterval.
func (s *Session) statusLimited(now time.Time, event string, payload interface{}) {
	if now.Sub(s.lastStatusAt) <= s.cfg.StatusInterval {
		return
	}
	s.lastStatusAt = now
	s.out.Emit(event, payload)
}

func (s *Session) masked() string {
	return strings.Repeat("*", len(s.entered))
}
