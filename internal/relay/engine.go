package relay

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lmoretti/voxbridge/internal/config"
	"github.com/lmoretti/voxbridge/internal/functions"
	"github.com/lmoretti/voxbridge/internal/observability"
	"github.com/lmoretti/voxbridge/internal/protocol"
	"github.com/lmoretti/voxbridge/internal/session"
)

// Engine is the bidirectional pump between the telephony peer and the
// model backend, and owns the truncation state machine. All shared state
// (the session store and the observer slot) hangs off the engine rather
// than package globals.
type Engine struct {
	cfg       config.Config
	sessions  *session.Store
	functions *functions.Registry
	metrics   *observability.Metrics
	logger    zerolog.Logger
	observer  *Observer
	dial      ModelDialer
}

func NewEngine(cfg config.Config, sessions *session.Store, registry *functions.Registry, metrics *observability.Metrics, logger zerolog.Logger) *Engine {
	e := &Engine{
		cfg:       cfg,
		sessions:  sessions,
		functions: registry,
		metrics:   metrics,
		logger:    logger,
		observer:  newObserver(),
		dial:      dialModel,
	}
	sessions.SetEvictHook(e.evictSession)
	return e
}

// Sessions exposes the store for surfaces that report on it.
func (e *Engine) Sessions() *session.Store { return e.sessions }

// StartCall creates the session for a telephony start frame and kicks off
// the model connection. The credential comes from the start frame's
// custom parameters, falling back to the configured default key.
func (e *Engine) StartCall(ctx context.Context, peer session.Peer, msg protocol.StreamStart) (*session.Session, error) {
	credential := msg.Start.CustomParameters["apiKey"]
	if credential == "" {
		credential = e.cfg.ModelAPIKey
	}

	sess, err := e.sessions.Create(msg.SID(), msg.Start.CallSID, credential)
	if err != nil {
		return nil, err
	}
	sess.AttachTelephony(peer)

	e.metrics.ActiveSessions.Set(float64(e.sessions.Len()))
	e.metrics.SessionEvents.WithLabelValues("created").Inc()
	e.logger.Info().Str("stream_sid", sess.ID).Str("call_sid", sess.CallSID).Msg("call started")

	go e.connectModel(ctx, sess)
	return sess, nil
}

// HandleMedia forwards caller audio to the model. The media clock updates
// unconditionally, model link up or not, so truncation math stays correct
// once the link recovers.
func (e *Engine) HandleMedia(sess *session.Session, msg protocol.StreamMedia) {
	sess.NoteMedia(msg.TimestampMS())
	if mc := sess.Model(); mc != nil {
		_ = mc.Send(protocol.NewInputAudioAppend(msg.Media.Payload))
	}
	e.metrics.WSMessages.WithLabelValues("inbound", string(protocol.EventMedia)).Inc()
}

// HandleMark records a playback acknowledgement from the telephony peer.
func (e *Engine) HandleMark(sess *session.Session, _ protocol.StreamMark) {
	sess.Touch()
	e.metrics.WSMessages.WithLabelValues("inbound", string(protocol.EventMark)).Inc()
}

// EndCall tears down both channels for a session. Teardown is idempotent:
// whichever side closes first wins and later calls are no-ops.
func (e *Engine) EndCall(sess *session.Session) {
	if p := sess.DetachTelephony(); p != nil {
		_ = p.Close()
	}
	if p := sess.DetachModel(); p != nil {
		_ = p.Close()
	}
	e.metrics.SessionEvents.WithLabelValues("ended").Inc()
	e.maybeDelete(sess)
}

// handleModelEvent reacts to one decoded backend event and mirrors it to
// the observer regardless of type.
func (e *Engine) handleModelEvent(sess *session.Session, raw []byte) {
	msg, err := protocol.ParseModelEvent(raw)
	if err != nil {
		return
	}
	e.observer.Mirror(raw)

	switch m := msg.(type) {
	case protocol.SpeechStarted:
		e.metrics.ModelEvents.WithLabelValues(string(protocol.ModelSpeechStarted)).Inc()
		e.truncateResponse(sess)
	case protocol.AudioDelta:
		e.metrics.ModelEvents.WithLabelValues(string(protocol.ModelAudioDelta)).Inc()
		e.forwardAudio(sess, m)
	case protocol.OutputItemDone:
		e.metrics.ModelEvents.WithLabelValues(string(protocol.ModelOutputItemDone)).Inc()
		if m.Item.IsFunctionCall() {
			go e.completeFunctionCall(context.Background(), sess, m.Item)
		}
	case protocol.UnrecognizedModelEvent:
		e.metrics.ModelEvents.WithLabelValues("unrecognized").Inc()
	}
}

// forwardAudio relays an assistant audio delta to the telephony peer,
// followed by a mark frame the peer echoes back as playback progresses.
func (e *Engine) forwardAudio(sess *session.Session, m protocol.AudioDelta) {
	tel := sess.Telephony()
	if tel == nil {
		return
	}

	if first := sess.BeginAudio(m.ItemID); first {
		e.metrics.ObserveFirstAudioLatency(time.Since(sess.StartedAt))
	}
	_ = tel.Send(protocol.NewOutboundMedia(sess.ID, m.Delta))
	_ = tel.Send(protocol.NewOutboundMark(sess.ID, uuid.NewString()))
	e.metrics.WSMessages.WithLabelValues("outbound", string(protocol.EventMedia)).Inc()
}

// truncateResponse runs the barge-in algorithm: when the caller starts
// talking over an in-flight response, tell the model how much of it was
// actually heard and flush the peer's playback buffer. With nothing in
// flight this is a no-op.
func (e *Engine) truncateResponse(sess *session.Session) {
	itemID, elapsedMS, ok := sess.CutInterruption()
	if !ok {
		return
	}

	if mc := sess.Model(); mc != nil {
		_ = mc.Send(protocol.NewItemTruncate(itemID, elapsedMS))
	}
	if tel := sess.Telephony(); tel != nil {
		_ = tel.Send(protocol.NewOutboundClear(sess.ID))
	}
	e.metrics.Truncations.Inc()
	e.logger.Debug().Str("stream_sid", sess.ID).Str("item_id", itemID).Int64("audio_end_ms", elapsedMS).Msg("response truncated")
}

// completeFunctionCall invokes the named function and, if the model link
// survived the invocation, returns the output and asks for the next
// response. A link that closed while the call was pending swallows the
// result.
func (e *Engine) completeFunctionCall(ctx context.Context, sess *session.Session, item protocol.OutputItem) {
	output := e.functions.Invoke(ctx, item.Name, item.Arguments)

	mc := sess.Model()
	if mc == nil {
		e.metrics.FunctionCalls.WithLabelValues(item.Name, "dropped").Inc()
		return
	}
	_ = mc.Send(protocol.NewFunctionOutput(item.CallID, output))
	_ = mc.Send(protocol.NewResponseCreate())
	e.metrics.FunctionCalls.WithLabelValues(item.Name, "completed").Inc()
}

// releaseModel is the model-side teardown path, shared by error and close.
func (e *Engine) releaseModel(sess *session.Session) {
	if p := sess.DetachModel(); p != nil {
		_ = p.Close()
	}
	e.metrics.SessionEvents.WithLabelValues("model_closed").Inc()
	e.maybeDelete(sess)
}

// maybeDelete removes the session once both peer channels are gone and no
// observer is watching. An attached observer keeps the record visible;
// the store janitor is the backstop against those records piling up.
func (e *Engine) maybeDelete(sess *session.Session) {
	if sess.HasPeers() {
		return
	}
	if e.observer.Attached() {
		return
	}
	if e.sessions.Delete(sess.ID) {
		e.metrics.ActiveSessions.Set(float64(e.sessions.Len()))
		e.metrics.SessionEvents.WithLabelValues("deleted").Inc()
		e.logger.Info().Str("stream_sid", sess.ID).Msg("session deleted")
	}
}

// evictSession is the janitor hook: the record is already out of the
// store, only the channels still need closing.
func (e *Engine) evictSession(sess *session.Session) {
	if p := sess.DetachTelephony(); p != nil {
		_ = p.Close()
	}
	if p := sess.DetachModel(); p != nil {
		_ = p.Close()
	}
	e.metrics.ActiveSessions.Set(float64(e.sessions.Len()))
	e.metrics.SessionEvents.WithLabelValues("evicted").Inc()
	e.logger.Info().Str("stream_sid", sess.ID).Msg("idle session evicted")
}
