package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/faceteller/faceteller/pkg/session"
)

// Client-to-server message types on the real-time channel.
const (
	msgStartEnrollment = "start_enrollment"
	msgStartLogin      = "start_login"
	msgFrame           = "frame"
)

// clientMessage is one inbound event from the terminal page.
type clientMessage struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Image    string `json:"image,omitempty"`
}

// serverMessage is the outbound event envelope.
type serverMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// outboundBuffer bounds queued messages per connection. PIN previews are
// high rate; a slow client loses previews rather than stalling the frame
// loop.
const outboundBuffer = 64

// wsEmitter pumps session events to the socket through a single writer
// goroutine. After the connection is gone, Emit becomes a no-op.
type wsEmitter struct {
	send chan serverMessage
	done chan struct{}
	once sync.Once
	log  *logrus.Entry
}

func newWSEmitter(log *logrus.Entry) *wsEmitter {
	return &wsEmitter{
		send: make(chan serverMessage, outboundBuffer),
		done: make(chan struct{}),
		log:  log,
	}
}

func (e *wsEmitter) Emit(event string, payload interface{}) {
	msg := serverMessage{Event: event, Payload: payload}
	select {
	case <-e.done:
	case e.send <- msg:
	default:
		e.log.Debugf("dropping %s event for slow client", event)
	}
}

func (e *wsEmitter) close() {
	e.once.Do(func() { close(e.done) })
}

// writePump serializes all writes to the socket.
func (e *wsEmitter) writePump(conn *websocket.Conn) {
	for {
		select {
		case <-e.done:
			return
		case msg := <-e.send:
			if err := conn.WriteJSON(msg); err != nil {
				e.log.WithError(err).Debug("socket write failed")
				return
			}
		}
	}
}

// handleWS runs one connection: upgrade, spawn the writer, then process
// inbound events strictly in arrival order on this goroutine. The session
// and everything it owns dies with the connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	emitter := newWSEmitter(s.log)
	defer emitter.close()
	go emitter.writePump(conn)

	engine := &pooledEngine{svc: s.rec, pool: s.pool, ctx: r.Context()}
	sess := session.New(s.sessionConfig(), engine, s.store, s.tokens, emitter)
	defer sess.Close()

	log := s.log.WithField("sid", sess.ID)
	log.Info("connection opened")
	defer log.Info("connection closed")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug("dropped unparseable message")
			continue
		}

		switch msg.Type {
		case msgStartEnrollment:
			sess.StartEnrollment(msg.Username)
		case msgStartLogin:
			sess.StartLogin()
		case msgFrame:
			sess.HandleFrame(msg.Image)
		default:
			log.Debugf("ignoring unknown message type %q", msg.Type)
		}
	}
}
