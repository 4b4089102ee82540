package session

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/faceteller/faceteller/pkg/blink"
	"github.com/faceteller/faceteller/pkg/frame"
	"github.com/faceteller/faceteller/pkg/recognition"
	"github.com/faceteller/faceteller/pkg/store"
	"github.com/faceteller/faceteller/pkg/token"
)

// fakeEngine scripts detection results and the gallery match verdict.
type fakeEngine struct {
	detectFunc func(jpegData []byte) ([]recognition.Face, error)
	matchIdx   int
	matchDist  float64
	matched    bool
}

func (e *fakeEngine) Detect(jpegData []byte) ([]recognition.Face, error) {
	if e.detectFunc != nil {
		return e.detectFunc(jpegData)
	}
	return nil, nil
}

func (e *fakeEngine) FindBestMatch(probe recognition.Descriptor, gallery []recognition.Descriptor) (int, float64, bool) {
	return e.matchIdx, e.matchDist, e.matched
}

type savedEnrollment struct {
	username  string
	embedding recognition.Descriptor
}

// fakeDirectory is an in-memory Directory.
type fakeDirectory struct {
	gallery *store.Gallery
	pins    map[string]string
	saveErr error
	saved   []savedEnrollment
}

func (d *fakeDirectory) Gallery() *store.Gallery {
	if d.gallery == nil {
		return &store.Gallery{}
	}
	return d.gallery
}

func (d *fakeDirectory) PIN(username string) (string, error) {
	pin, ok := d.pins[username]
	if !ok {
		return "", store.ErrUserNotFound
	}
	return pin, nil
}

func (d *fakeDirectory) SaveEnrollment(username string, jpegImage []byte, embedding recognition.Descriptor) (string, error) {
	if d.saveErr != nil {
		return "", d.saveErr
	}
	d.saved = append(d.saved, savedEnrollment{username: username, embedding: embedding})
	return "known_faces/" + username + "/face.jpg", nil
}

// fakeIssuer mints predictable tokens and counts issuance.
type fakeIssuer struct {
	issued []string
	err    error
}

func (i *fakeIssuer) Issue(username string) (token.Token, error) {
	if i.err != nil {
		return token.Token{}, i.err
	}
	i.issued = append(i.issued, username)
	return token.Token{Value: "tok-" + username, Username: username}, nil
}

// recordedEvent is one emitted (event, payload) pair.
type recordedEvent struct {
	event   string
	payload interface{}
}

// recorder captures every emitted event in order.
type recorder struct {
	events []recordedEvent
}

func (r *recorder) Emit(event string, payload interface{}) {
	r.events = append(r.events, recordedEvent{event: event, payload: payload})
}

func (r *recorder) byName(event string) []recordedEvent {
	var out []recordedEvent
	for _, e := range r.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) last(t *testing.T, event string) recordedEvent {
	t.Helper()
	matches := r.byName(event)
	if len(matches) == 0 {
		t.Fatalf("no %q event emitted; got %v", event, r.events)
	}
	return matches[len(matches)-1]
}

func (r *recorder) reset() {
	r.events = nil
}

// testClock drives the session's view of time.
type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// eye landmark fixtures: open EAR 0.8, closed EAR 0.1 (threshold 0.25).
var (
	openEyePts = []image.Point{
		{X: 0, Y: 10}, {X: 3, Y: 6}, {X: 7, Y: 6},
		{X: 10, Y: 10}, {X: 7, Y: 14}, {X: 3, Y: 14},
	}
	closedEyePts = []image.Point{
		{X: 0, Y: 10}, {X: 3, Y: 10}, {X: 7, Y: 10},
		{X: 10, Y: 10}, {X: 7, Y: 11}, {X: 3, Y: 11},
	}
)

// landmarks68 builds a full landmark set with both eyes open or closed.
func landmarks68(eyesOpen bool) []image.Point {
	pts := make([]image.Point, 68)
	eye := closedEyePts
	if eyesOpen {
		eye = openEyePts
	}
	for i, p := range eye {
		pts[recognition.LeftEyeStart+i] = p
		pts[recognition.RightEyeStart+i] = image.Pt(p.X+20, p.Y)
	}
	return pts
}

func faceWith(eyesOpen bool, descriptorSeed float32) recognition.Face {
	var d recognition.Descriptor
	d[0] = descriptorSeed
	return recognition.Face{
		BoundingBox: image.Rect(0, 0, 32, 32),
		Landmarks:   landmarks68(eyesOpen),
		Descriptor:  d,
	}
}

// testFramePayload is a small valid JPEG data URL.
func testFramePayload(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.Gray{Y: uint8(x * y)})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode fixture frame: %v", err)
	}
	return frame.EncodeDataURL(buf.Bytes())
}

var testCfg = Config{
	Blink: blink.Options{
		Threshold:       0.25,
		MinConsecFrames: 2,
		Debounce:        100 * time.Millisecond,
	},
	PINLength:      4,
	PINDigits:      "1234567890",
	CycleDelay:     time.Second,
	VerifyDelay:    0,
	StatusInterval: time.Second,
}

// harness bundles a session with its fakes.
type harness struct {
	s      *Session
	engine *fakeEngine
	dir    *fakeDirectory
	issuer *fakeIssuer
	out    *recorder
	clock  *testClock
	frame  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		engine: &fakeEngine{},
		dir:    &fakeDirectory{pins: map[string]string{}},
		issuer: &fakeIssuer{},
		out:    &recorder{},
		clock:  &testClock{t: time.Unix(1_700_000_000, 0)},
	}
	h.frame = testFramePayload(t)
	h.s = New(testCfg, h.engine, h.dir, h.issuer, h.out)
	h.s.now = h.clock.Now
	h.s.sleep = func(time.Duration) {}
	return h
}

// withAlice enrolls alice in the fake directory with a matching engine.
func (h *harness) withAlice(pin string) {
	var d recognition.Descriptor
	d[0] = 0.5
	h.dir.gallery = &store.Gallery{
		Names:      []string{"alice"},
		Embeddings: []recognition.Descriptor{d},
	}
	h.dir.pins["alice"] = pin
	h.engine.matchIdx = 0
	h.engine.matchDist = 0.31
	h.engine.matched = true
}

func (h *harness) sendFrame() {
	h.s.HandleFrame(h.frame)
}

// detectFaces scripts the engine to return the given faces every frame.
func (h *harness) detectFaces(faces ...recognition.Face) {
	h.engine.detectFunc = func([]byte) ([]recognition.Face, error) {
		return faces, nil
	}
}

// blinkOnce plays a minimal accepted blink: two closed frames then an open
// one, spaced tightly enough that the digit cursor stays put.
func (h *harness) blinkOnce() {
	h.detectFaces(faceWith(false, 0.5))
	h.sendFrame()
	h.clock.Advance(33 * time.Millisecond)
	h.sendFrame()
	h.clock.Advance(33 * time.Millisecond)
	h.detectFaces(faceWith(true, 0.5))
	h.sendFrame()
}

// cycleDigits advances the cursor n positions with open-eye frames.
func (h *harness) cycleDigits(n int) {
	h.detectFaces(faceWith(true, 0.5))
	for i := 0; i < n; i++ {
		h.clock.Advance(testCfg.CycleDelay + time.Millisecond)
		h.sendFrame()
	}
}
