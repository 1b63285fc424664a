package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lmoretti/voxbridge/internal/config"
	"github.com/lmoretti/voxbridge/internal/functions"
	"github.com/lmoretti/voxbridge/internal/observability"
	"github.com/lmoretti/voxbridge/internal/relay"
	"github.com/lmoretti/voxbridge/internal/session"
)

// Prometheus instruments register globally, so the package shares one set.
var testMetrics = observability.NewMetrics("voxbridge_httpapi_test")

func newTestServer(cfg config.Config) (*Server, *session.Store) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = time.Second
	}
	if cfg.ModelDialTimeout == 0 {
		cfg.ModelDialTimeout = time.Second
	}
	st := session.NewStore(time.Minute)
	engine := relay.NewEngine(cfg, st, functions.NewRegistry(), testMetrics, zerolog.Nop())
	return New(cfg, engine, testMetrics, zerolog.Nop()), st
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(config.Config{})
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %v, want ok", body["status"])
	}
}

func TestReadyzReportsActiveSessions(t *testing.T) {
	s, st := newTestServer(config.Config{})
	st.Create("MZ1", "CA1", "")

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["active_sessions"] != float64(1) {
		t.Fatalf("active_sessions = %v, want 1", body["active_sessions"])
	}
}

func TestIncomingCallTwiML(t *testing.T) {
	s, _ := newTestServer(config.Config{PublicHost: "voice.example.com"})

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, httptest.NewRequest(method, "/incoming-call", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", method, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
			t.Fatalf("%s content type = %q, want text/xml", method, ct)
		}
		if !strings.Contains(rec.Body.String(), `wss://voice.example.com/v1/stream/ws`) {
			t.Fatalf("%s TwiML missing stream URL:\n%s", method, rec.Body.String())
		}
	}
}

func TestIncomingCallFallsBackToRequestHost(t *testing.T) {
	s, _ := newTestServer(config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/incoming-call", nil)
	req.Host = "tunnel.local:8080"

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `wss://tunnel.local:8080/v1/stream/ws`) {
		t.Fatalf("TwiML missing request-host stream URL:\n%s", rec.Body.String())
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestStreamWSCallLifecycle(t *testing.T) {
	s, st := newTestServer(config.Config{AllowAnyOrigin: true})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frames := []string{
		`{"event":"connected","protocol":"Call","version":"1.0.0"}`,
		`{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1"},"streamSid":"MZ1"}`,
		`{"event":"media","media":{"timestamp":"160","payload":"AQID"}}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	waitFor(t, func() bool {
		sess, err := st.Get("MZ1")
		return err == nil && sess.LatestMediaTimestamp() == 160
	}, "session creation and media clock")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop","streamSid":"MZ1"}`)); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	waitFor(t, func() bool { return st.Len() == 0 }, "session teardown on stop")
}

func TestStreamWSDisconnectEndsCall(t *testing.T) {
	s, st := newTestServer(config.Config{AllowAnyOrigin: true})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"start","start":{"streamSid":"MZ2","callSid":"CA2"},"streamSid":"MZ2"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool { return st.Len() == 1 }, "session creation")

	conn.Close()
	waitFor(t, func() bool { return st.Len() == 0 }, "session teardown on disconnect")
}
