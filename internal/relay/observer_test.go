package relay

import (
	"encoding/json"
	"testing"
)

func TestObserverMirrorsDecodedModelEvents(t *testing.T) {
	e, st := newTestEngine(nil)
	obs := &fakePeer{}
	e.AttachObserver(obs)
	defer e.DetachObserver(obs)

	sess, _ := st.Create("MZ1", "CA1", "sk-test")
	raw := []byte(`{"type":"response.done","response":{"id":"r1"}}`)
	e.handleModelEvent(sess, raw)

	sent := obs.Sent()
	if len(sent) != 1 {
		t.Fatalf("observer received %d messages, want 1", len(sent))
	}
	mirrored, ok := sent[0].(json.RawMessage)
	if !ok || string(mirrored) != string(raw) {
		t.Fatalf("observer received %v, want verbatim event", sent[0])
	}
}

func TestObserverIgnoresMalformedModelPayloads(t *testing.T) {
	e, st := newTestEngine(nil)
	obs := &fakePeer{}
	e.AttachObserver(obs)
	defer e.DetachObserver(obs)

	sess, _ := st.Create("MZ1", "CA1", "sk-test")
	e.handleModelEvent(sess, []byte(`not json`))

	if len(obs.Sent()) != 0 {
		t.Fatalf("malformed payload mirrored to observer")
	}
}

func TestObserverSessionUpdateAppliesToAllSessions(t *testing.T) {
	e, st := newTestEngine(nil)

	s1, _ := st.Create("MZ1", "CA1", "sk-test")
	s2, _ := st.Create("MZ2", "CA2", "sk-test")
	m1 := newFakeModelConn()
	m2 := newFakeModelConn()
	s1.AttachModel(m1)
	s2.AttachModel(m2)

	raw := []byte(`{"type":"session.update","session":{"voice":"verse"}}`)
	e.HandleObserverMessage(raw)

	for _, s := range []struct {
		sess  interface{ Config() map[string]any }
		model *fakeModelConn
	}{{s1, m1}, {s2, m2}} {
		cfg := s.sess.Config()
		if cfg["voice"] != "verse" {
			t.Fatalf("savedConfig = %v, want voice=verse", cfg)
		}
		sent := s.model.Sent()
		if len(sent) != 1 {
			t.Fatalf("model received %d messages, want forwarded update", len(sent))
		}
		if string(sent[0].(json.RawMessage)) != string(raw) {
			t.Fatalf("model received %v, want verbatim update", sent[0])
		}
	}

	// A later handshake picks up the override.
	if e.handshake(s1).Session["voice"] != "verse" {
		t.Fatalf("handshake does not carry observer voice override")
	}
}

func TestObserverCommandForwardedToOpenModelChannelsOnly(t *testing.T) {
	e, st := newTestEngine(nil)

	withModel, _ := st.Create("MZ1", "CA1", "sk-test")
	withoutModel, _ := st.Create("MZ2", "CA2", "sk-test")
	model := newFakeModelConn()
	withModel.AttachModel(model)

	raw := []byte(`{"type":"response.cancel"}`)
	e.HandleObserverMessage(raw)

	if len(model.Sent()) != 1 {
		t.Fatalf("open model channel received %d messages, want 1", len(model.Sent()))
	}
	if cfg := withoutModel.Config(); cfg != nil {
		t.Fatalf("plain command mutated savedConfig: %v", cfg)
	}
}

func TestObserverReplacementClosesPrevious(t *testing.T) {
	e, _ := newTestEngine(nil)
	first := &fakePeer{}
	second := &fakePeer{}

	e.AttachObserver(first)
	e.AttachObserver(second)

	if !first.Closed() {
		t.Fatalf("previous observer not closed on replacement")
	}
	// The stale connection's teardown must not kick out its replacement.
	e.DetachObserver(first)
	if !e.observer.Attached() {
		t.Fatalf("stale detach removed the current observer")
	}
	e.DetachObserver(second)
	if e.observer.Attached() {
		t.Fatalf("observer still attached after detach")
	}
}

func TestMirrorWithoutObserverIsNoop(t *testing.T) {
	e, st := newTestEngine(nil)
	sess, _ := st.Create("MZ1", "CA1", "sk-test")
	// No observer attached; decoded events are simply not mirrored.
	e.handleModelEvent(sess, []byte(`{"type":"session.created"}`))
}

func TestUnrecognizedEventDrivesNoStateChange(t *testing.T) {
	e, st := newTestEngine(nil)
	sess, _ := st.Create("MZ1", "CA1", "sk-test")
	tel := &fakePeer{}
	sess.AttachTelephony(tel)

	e.handleModelEvent(sess, []byte(`{"type":"response.created"}`))

	if len(tel.Sent()) != 0 {
		t.Fatalf("unrecognized event produced telephony frames: %v", tel.Sent())
	}
	if _, active := sess.ResponseStart(); active {
		t.Fatalf("unrecognized event activated a response")
	}
}
