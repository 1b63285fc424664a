package relay

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/lmoretti/voxbridge/internal/protocol"
	"github.com/lmoretti/voxbridge/internal/session"
)

// ModelConn is the model-side channel: a peer the relay can write to plus
// the read side the pump drains.
type ModelConn interface {
	session.Peer
	ReadMessage() ([]byte, error)
}

// ModelDialer opens the backend connection for one session's credential.
// Swappable so tests can inject a fake backend.
type ModelDialer func(ctx context.Context, url, credential string) (ModelConn, error)

func dialModel(ctx context.Context, url, credential string) (ModelConn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+credential)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	return newWSPeer(conn), nil
}

// connectModel opens the backend link for a session that has none yet,
// sends the configuration handshake, and starts the model pump. Missing
// credentials or an already-established link skip the attempt silently.
func (e *Engine) connectModel(ctx context.Context, sess *session.Session) {
	if sess.Credential == "" {
		e.logger.Debug().Str("stream_sid", sess.ID).Msg("no credential, model connection skipped")
		return
	}
	if sess.Model() != nil {
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.cfg.ModelDialTimeout)
	defer cancel()

	mc, err := e.dial(dialCtx, e.cfg.ModelURL(), sess.Credential)
	if err != nil {
		e.metrics.SessionEvents.WithLabelValues("model_dial_failed").Inc()
		e.logger.Warn().Err(err).Str("stream_sid", sess.ID).Msg("model dial failed")
		return
	}
	if !sess.AttachModel(mc) {
		// Lost the race against another attempt.
		_ = mc.Close()
		return
	}

	if err := mc.Send(e.handshake(sess)); err != nil {
		e.logger.Warn().Err(err).Str("stream_sid", sess.ID).Msg("model handshake failed")
		e.releaseModel(sess)
		return
	}

	e.metrics.SessionEvents.WithLabelValues("model_connected").Inc()
	e.logger.Info().Str("stream_sid", sess.ID).Msg("model connected")

	go e.modelReadLoop(sess, mc)
}

// handshake builds the session.update sent right after connect. Baseline
// fields come from config; observer-supplied fields win on key conflicts.
func (e *Engine) handshake(sess *session.Session) protocol.SessionUpdate {
	base := map[string]any{
		"modalities":     []string{"text", "audio"},
		"turn_detection": map[string]any{"type": e.cfg.TurnDetection},
		"voice":          e.cfg.Voice,
		"instructions":   e.cfg.Instructions,
		"input_audio_transcription": map[string]any{
			"model": e.cfg.TranscriptionModel,
		},
		"input_audio_format":  e.cfg.InputAudioFormat,
		"output_audio_format": e.cfg.OutputAudioFormat,
	}
	for k, v := range sess.Config() {
		base[k] = v
	}
	return protocol.NewSessionUpdate(base)
}

// modelReadLoop drains backend events until the link dies. Read errors
// and remote closes converge on the same release path.
func (e *Engine) modelReadLoop(sess *session.Session, mc ModelConn) {
	for {
		raw, err := mc.ReadMessage()
		if err != nil {
			break
		}
		e.handleModelEvent(sess, raw)
	}
	e.releaseModel(sess)
}
