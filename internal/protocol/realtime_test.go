package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseModelEventAudioDelta(t *testing.T) {
	raw := []byte(`{"type":"response.audio.delta","response_id":"r1","item_id":"a1","delta":"AQID"}`)
	msg, err := ParseModelEvent(raw)
	if err != nil {
		t.Fatalf("ParseModelEvent() error = %v", err)
	}

	delta, ok := msg.(AudioDelta)
	if !ok {
		t.Fatalf("event type = %T, want AudioDelta", msg)
	}
	if delta.ItemID != "a1" || delta.Delta != "AQID" {
		t.Fatalf("unexpected delta: %+v", delta)
	}
}

func TestParseModelEventSpeechStarted(t *testing.T) {
	msg, err := ParseModelEvent([]byte(`{"type":"input_audio_buffer.speech_started","audio_start_ms":420,"item_id":"u1"}`))
	if err != nil {
		t.Fatalf("ParseModelEvent() error = %v", err)
	}
	if _, ok := msg.(SpeechStarted); !ok {
		t.Fatalf("event type = %T, want SpeechStarted", msg)
	}
}

func TestParseModelEventFunctionCallDone(t *testing.T) {
	raw := []byte(`{"type":"response.output_item.done","item":{"id":"i1","type":"function_call","name":"get_time","arguments":"{}","call_id":"c1"}}`)
	msg, err := ParseModelEvent(raw)
	if err != nil {
		t.Fatalf("ParseModelEvent() error = %v", err)
	}

	done, ok := msg.(OutputItemDone)
	if !ok {
		t.Fatalf("event type = %T, want OutputItemDone", msg)
	}
	if !done.Item.IsFunctionCall() {
		t.Fatalf("IsFunctionCall() = false for %+v", done.Item)
	}
	if done.Item.Name != "get_time" || done.Item.CallID != "c1" {
		t.Fatalf("unexpected item: %+v", done.Item)
	}
}

func TestParseModelEventNonFunctionItemDone(t *testing.T) {
	raw := []byte(`{"type":"response.output_item.done","item":{"id":"i1","type":"message"}}`)
	msg, err := ParseModelEvent(raw)
	if err != nil {
		t.Fatalf("ParseModelEvent() error = %v", err)
	}
	if msg.(OutputItemDone).Item.IsFunctionCall() {
		t.Fatalf("message item misclassified as function call")
	}
}

func TestParseModelEventUnknownTypeIsUnrecognized(t *testing.T) {
	raw := []byte(`{"type":"response.done","response":{"id":"r1"}}`)
	msg, err := ParseModelEvent(raw)
	if err != nil {
		t.Fatalf("ParseModelEvent() error = %v", err)
	}

	unk, ok := msg.(UnrecognizedModelEvent)
	if !ok {
		t.Fatalf("event type = %T, want UnrecognizedModelEvent", msg)
	}
	if unk.Type != "response.done" {
		t.Fatalf("Type = %q, want response.done", unk.Type)
	}
	if string(unk.Raw) != string(raw) {
		t.Fatalf("Raw not preserved verbatim: %s", unk.Raw)
	}
}

func TestParseModelEventRejectsMalformed(t *testing.T) {
	if _, err := ParseModelEvent([]byte(`not json`)); err == nil {
		t.Fatalf("expected envelope error")
	}
	if _, err := ParseModelEvent([]byte(`{"delta":"AQID"}`)); err == nil {
		t.Fatalf("expected missing-type error")
	}
}

func TestModelCommandsEncode(t *testing.T) {
	trunc, err := json.Marshal(NewItemTruncate("a1", 1200))
	if err != nil {
		t.Fatalf("marshal truncate: %v", err)
	}
	if string(trunc) != `{"type":"conversation.item.truncate","item_id":"a1","content_index":0,"audio_end_ms":1200}` {
		t.Fatalf("unexpected truncate command: %s", trunc)
	}

	out, err := json.Marshal(NewFunctionOutput("c1", `{"time":"12:00"}`))
	if err != nil {
		t.Fatalf("marshal function output: %v", err)
	}
	if string(out) != `{"type":"conversation.item.create","item":{"type":"function_call_output","call_id":"c1","output":"{\"time\":\"12:00\"}"}}` {
		t.Fatalf("unexpected item.create command: %s", out)
	}

	rc, err := json.Marshal(NewResponseCreate())
	if err != nil {
		t.Fatalf("marshal response.create: %v", err)
	}
	if string(rc) != `{"type":"response.create"}` {
		t.Fatalf("unexpected response.create command: %s", rc)
	}
}

func TestParseObserverMessageSessionUpdate(t *testing.T) {
	raw := []byte(`{"type":"session.update","session":{"voice":"verse"}}`)
	msg, err := ParseObserverMessage(raw)
	if err != nil {
		t.Fatalf("ParseObserverMessage() error = %v", err)
	}

	upd, ok := msg.(ObserverSessionUpdate)
	if !ok {
		t.Fatalf("message type = %T, want ObserverSessionUpdate", msg)
	}
	if upd.Session["voice"] != "verse" {
		t.Fatalf("Session = %v, want voice=verse", upd.Session)
	}
}

func TestParseObserverMessageCommandPassthrough(t *testing.T) {
	raw := []byte(`{"type":"response.cancel"}`)
	msg, err := ParseObserverMessage(raw)
	if err != nil {
		t.Fatalf("ParseObserverMessage() error = %v", err)
	}

	cmd, ok := msg.(ObserverCommand)
	if !ok {
		t.Fatalf("message type = %T, want ObserverCommand", msg)
	}
	if cmd.Type != "response.cancel" || string(cmd.Raw) != string(raw) {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}
