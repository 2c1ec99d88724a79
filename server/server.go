// Package server streams audio to decode sessions over websockets.
//
// Each connection to /v1/stream gets its own session cloned from a base
// Decoder. Binary client messages carry PCM at the session's bits per
// sample; text messages are JSON controls ({"type":"finish"} or
// {"type":"reset"}). The server answers with a ready message, partial
// results as the best path changes, and a final result with word
// posteriors at each endpoint or finish.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	livedecode "github.com/ieee0824/livedecode-go"
	"github.com/ieee0824/livedecode-go/audio"
	"github.com/ieee0824/livedecode-go/internal/telemetry"
	"github.com/ieee0824/livedecode-go/store"
)

// StreamPath is the websocket endpoint.
const StreamPath = "/v1/stream"

// ResultStore persists final results.
type ResultStore interface {
	Put(ctx context.Context, r store.Result) (string, error)
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithStore persists every final result to st.
func WithStore(st ResultStore) Option {
	return func(s *Server) { s.store = st }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMaxFrames bounds how many frames one Decode call advances before the
// server checks for an endpoint and sends a partial. Default 20.
func WithMaxFrames(n int) Option {
	return func(s *Server) { s.maxFrames = n }
}

// Server serves streaming decode sessions.
type Server struct {
	base      *livedecode.Decoder
	log       zerolog.Logger
	store     ResultStore
	metrics   *telemetry.Metrics
	maxFrames int
	upgrader  websocket.Upgrader
}

// New returns a server whose sessions share base's configuration and
// models. base must be set up.
func New(base *livedecode.Decoder, opts ...Option) *Server {
	s := &Server{
		base:      base,
		log:       zerolog.Nop(),
		metrics:   telemetry.Nop(),
		maxFrames: 20,
		upgrader: websocket.Upgrader{
			Subprotocols:    []string{ProtocolJSON, ProtocolMsgpack},
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the HTTP handler serving StreamPath and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+StreamPath, s.handleStream)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("listening")
		errCh <- hs.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	modelRate := s.base.SampleRate()
	rate := modelRate
	if q := r.URL.Query().Get("rate"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v <= 0 {
			http.Error(w, "rate must be a positive integer", http.StatusBadRequest)
			return
		}
		rate = v
	}
	var rs *audio.Resampler
	if rate != modelRate {
		var err error
		if rs, err = audio.NewResampler(rate, modelRate); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	id := uuid.NewString()
	sess, err := s.base.NewSession(livedecode.WithSessionID(id))
	if err != nil {
		s.log.Error().Err(err).Msg("cannot create session")
		http.Error(w, "decoder unavailable", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("upgrade failed")
		return
	}
	defer ws.Close()

	log := s.log.With().Str("session", id).Str("remote", r.RemoteAddr).Logger()
	log.Info().Int("rate", rate).Str("protocol", ws.Subprotocol()).Msg("connection opened")
	s.metrics.SessionStarted(r.Context())
	defer s.metrics.SessionEnded(r.Context())

	c := &conn{
		srv:   s,
		ws:    ws,
		codec: codecFor(ws.Subprotocol()),
		sess:  sess,
		rs:    rs,
		pcm:   audio.PCMDecoder{Bits: sess.BitsPerSample()},
		log:   log,
		id:    id,
		rate:  rate,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	c.run(r.Context())
	log.Info().Int("utterances", c.utterances).Msg("connection closed")
}
