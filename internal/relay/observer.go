package relay

import (
	"encoding/json"
	"sync"

	"github.com/lmoretti/voxbridge/internal/protocol"
	"github.com/lmoretti/voxbridge/internal/session"
)

// Observer is the single optional monitor/control slot shared by every
// session. It is not scoped to any call: model events from all sessions
// fan into it, and anything it sends fans out to all model channels.
type Observer struct {
	mu   sync.Mutex
	peer session.Peer
}

func newObserver() *Observer {
	return &Observer{}
}

// attach installs a new observer, closing any previous one.
func (o *Observer) attach(p session.Peer) {
	o.mu.Lock()
	old := o.peer
	o.peer = p
	o.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// detach clears the slot only if p is still the current observer, so a
// stale connection's teardown cannot kick out its replacement.
func (o *Observer) detach(p session.Peer) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.peer != p {
		return false
	}
	o.peer = nil
	return true
}

func (o *Observer) Attached() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.peer != nil
}

// Mirror forwards one raw model event verbatim. Without an observer, or
// to a dying socket, the event is dropped.
func (o *Observer) Mirror(raw []byte) {
	o.mu.Lock()
	p := o.peer
	o.mu.Unlock()
	if p == nil {
		return
	}
	_ = p.Send(json.RawMessage(raw))
}

// AttachObserver installs the monitor connection, replacing any previous
// one.
func (e *Engine) AttachObserver(p session.Peer) {
	e.observer.attach(p)
	e.metrics.SessionEvents.WithLabelValues("observer_attached").Inc()
	e.logger.Info().Msg("observer attached")
}

// DetachObserver removes the monitor connection and sweeps out sessions
// it was keeping alive after both peers had already gone.
func (e *Engine) DetachObserver(p session.Peer) {
	if !e.observer.detach(p) {
		return
	}
	e.metrics.SessionEvents.WithLabelValues("observer_detached").Inc()
	e.logger.Info().Msg("observer detached")

	for _, sess := range e.sessions.Snapshot() {
		e.maybeDelete(sess)
	}
}

// HandleObserverMessage forwards an observer command to every open model
// channel. Configuration updates additionally overwrite every session's
// saved configuration, last writer wins.
func (e *Engine) HandleObserverMessage(raw []byte) {
	msg, err := protocol.ParseObserverMessage(raw)
	if err != nil {
		return
	}

	switch m := msg.(type) {
	case protocol.ObserverSessionUpdate:
		for _, sess := range e.sessions.Snapshot() {
			sess.SetConfig(m.Session)
			if mc := sess.Model(); mc != nil {
				_ = mc.Send(json.RawMessage(m.Raw))
			}
		}
		e.metrics.WSMessages.WithLabelValues("observer", "session.update").Inc()
	case protocol.ObserverCommand:
		for _, sess := range e.sessions.Snapshot() {
			if mc := sess.Model(); mc != nil {
				_ = mc.Send(json.RawMessage(m.Raw))
			}
		}
		e.metrics.WSMessages.WithLabelValues("observer", m.Type).Inc()
	}
}
