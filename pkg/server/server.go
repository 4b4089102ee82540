// Package server exposes FaceTeller over HTTP: the websocket channel that
// streams camera frames through the per-connection state machine, and the
// page-facing routes that redeem login tokens and serve the account.
package server

import (
	"context"
	"crypto/rand"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/faceteller/faceteller/pkg/blink"
	"github.com/faceteller/faceteller/pkg/config"
	"github.com/faceteller/faceteller/pkg/logging"
	"github.com/faceteller/faceteller/pkg/pin"
	"github.com/faceteller/faceteller/pkg/recognition"
	"github.com/faceteller/faceteller/pkg/session"
	"github.com/faceteller/faceteller/pkg/store"
	"github.com/faceteller/faceteller/pkg/token"
	"github.com/faceteller/faceteller/pkg/worker"
)

// sessionCookie is the cookie bound at token redemption.
const sessionCookie = "faceteller_session"

// Server wires the shared components behind the HTTP surface.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	tokens   *token.Store
	rec      *recognition.Service
	pool     *worker.Pool
	cookies  *sessions.CookieStore
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// New creates a server over the shared stores and recognition service.
func New(cfg *config.Config, st *store.Store, tokens *token.Store, rec *recognition.Service) *Server {
	secret := []byte(cfg.Server.SessionSecret)
	if len(secret) == 0 {
		// Ephemeral secret: sessions do not survive a restart.
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
		logging.Component("server").Warn("no session_secret configured, using an ephemeral one")
	}

	return &Server{
		cfg:     cfg,
		store:   st,
		tokens:  tokens,
		rec:     rec,
		pool:    worker.NewPool(int64(cfg.Server.Workers)),
		cookies: sessions.NewCookieStore(secret),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 20,
			WriteBufferSize: 1 << 20,
			// The terminal page may be served from another origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logging.Component("server"),
	}
}

// sessionConfig maps the configuration onto the state machine's tunables.
func (s *Server) sessionConfig() session.Config {
	return session.Config{
		Blink: blink.Options{
			Threshold:       s.cfg.Blink.Threshold,
			MinConsecFrames: s.cfg.Blink.MinConsecFrames,
			Debounce:        s.cfg.Blink.Debounce,
		},
		PINLength:      s.cfg.PIN.Length,
		PINDigits:      pin.DefaultDigits,
		CycleDelay:     s.cfg.PIN.CycleDelay,
		VerifyDelay:    s.cfg.PIN.VerifyDelay,
		StatusInterval: time.Second,
	}
}

// pooledEngine gates the CPU-heavy detection call through the worker pool
// so one connection's frame cannot starve the others. Embedding comparison
// is cheap and runs inline.
type pooledEngine struct {
	svc  *recognition.Service
	pool *worker.Pool
	ctx  context.Context
}

func (e *pooledEngine) Detect(jpegData []byte) ([]recognition.Face, error) {
	var faces []recognition.Face
	var err error
	if perr := e.pool.Do(e.ctx, func() {
		faces, err = e.svc.Detect(jpegData)
	}); perr != nil {
		return nil, perr
	}
	return faces, err
}

func (e *pooledEngine) FindBestMatch(probe recognition.Descriptor, gallery []recognition.Descriptor) (int, float64, bool) {
	return e.svc.FindBestMatch(probe, gallery)
}
