package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lmoretti/voxbridge/internal/config"
	"github.com/lmoretti/voxbridge/internal/observability"
	"github.com/lmoretti/voxbridge/internal/protocol"
	"github.com/lmoretti/voxbridge/internal/relay"
	"github.com/lmoretti/voxbridge/internal/session"
)

type Server struct {
	cfg      config.Config
	engine   *relay.Engine
	metrics  *observability.Metrics
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, engine *relay.Engine, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		engine:  engine,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Telephony providers and non-browser observers omit the
				// Origin header; browsers must come from our own host.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/incoming-call", s.handleIncomingCall)
	r.Post("/incoming-call", s.handleIncomingCall)
	r.Get("/v1/stream/ws", s.handleStreamWS)
	r.Get("/v1/observer/ws", s.handleObserverWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.engine.Sessions().Len(),
	})
}

// handleIncomingCall answers the telephony provider's call webhook with
// TwiML pointing the media stream at our websocket endpoint.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	host := strings.TrimSpace(s.cfg.PublicHost)
	if host == "" {
		host = r.Host
	}
	twiml := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="wss://%s/v1/stream/ws" />
    </Connect>
</Response>`, host)

	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(twiml))
}

// handleStreamWS owns one telephony connection: it upgrades, pumps frames
// into the relay engine, and tears the call down when the socket dies.
func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	peer := relay.NewPeer(conn)
	logger := s.logger.With().Str("remote", r.RemoteAddr).Logger()
	logger.Info().Msg("telephony connected")

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	var sess *session.Session
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.ParseTelephonyMessage(data)
		if err != nil {
			// Malformed or unknown frames are ignored, not fatal.
			continue
		}

		switch m := msg.(type) {
		case protocol.StreamConnected:
			// First frame after upgrade, no call state yet.
		case protocol.StreamStart:
			created, err := s.engine.StartCall(r.Context(), peer, m)
			if err != nil {
				logger.Warn().Err(err).Str("stream_sid", m.SID()).Msg("call start rejected")
				continue
			}
			sess = created
			logger = logger.With().Str("stream_sid", sess.ID).Logger()
		case protocol.StreamMedia:
			if sess != nil {
				s.engine.HandleMedia(sess, m)
			}
		case protocol.StreamMark:
			if sess != nil {
				s.engine.HandleMark(sess, m)
			}
		case protocol.StreamStop:
			if sess != nil {
				s.engine.EndCall(sess)
				sess = nil
			}
		}
	}

	if sess != nil {
		s.engine.EndCall(sess)
	}
	logger.Info().Msg("telephony disconnected")
}

// handleObserverWS owns the monitor/control connection shared across all
// sessions.
func (s *Server) handleObserverWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	peer := relay.NewPeer(conn)
	s.engine.AttachObserver(peer)
	defer s.engine.DetachObserver(peer)

	conn.SetReadLimit(2 << 20)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.engine.HandleObserverMessage(data)
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Run serves until the context is cancelled, then drains with the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.cfg.BindAddr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		_ = httpServer.Close()
		return err
	}
	return nil
}
