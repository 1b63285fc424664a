package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Model backend wire shapes. Events from the backend are JSON objects
// tagged by "type"; only the handful the relay reacts to get dedicated
// variants, everything else decodes to UnrecognizedModelEvent so it can
// still be mirrored to the observer.

type ModelEventType string

const (
	ModelSpeechStarted  ModelEventType = "input_audio_buffer.speech_started"
	ModelAudioDelta     ModelEventType = "response.audio.delta"
	ModelOutputItemDone ModelEventType = "response.output_item.done"
)

var ErrEmptyModelEvent = errors.New("model event missing type")

type modelEnvelope struct {
	Type ModelEventType `json:"type"`
}

type SpeechStarted struct {
	Type         ModelEventType `json:"type"`
	AudioStartMS int64          `json:"audio_start_ms"`
	ItemID       string         `json:"item_id"`
}

type AudioDelta struct {
	Type       ModelEventType `json:"type"`
	ResponseID string         `json:"response_id"`
	ItemID     string         `json:"item_id"`
	// Base64 audio in the session's output format.
	Delta string `json:"delta"`
}

type OutputItemDone struct {
	Type ModelEventType `json:"type"`
	Item OutputItem     `json:"item"`
}

type OutputItem struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`
}

func (i OutputItem) IsFunctionCall() bool {
	return i.Type == "function_call"
}

type UnrecognizedModelEvent struct {
	Type ModelEventType
	Raw  json.RawMessage
}

// ParseModelEvent decodes one backend event. Malformed payloads return an
// error the caller drops on the floor; well-formed events of an unknown
// type come back as UnrecognizedModelEvent.
func ParseModelEvent(raw []byte) (any, error) {
	var env modelEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrEmptyModelEvent
	}

	switch env.Type {
	case ModelSpeechStarted:
		var msg SpeechStarted
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case ModelAudioDelta:
		var msg AudioDelta
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case ModelOutputItemDone:
		var msg OutputItemDone
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return UnrecognizedModelEvent{Type: env.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

// Commands to the model backend.

type SessionUpdate struct {
	Type    string         `json:"type"`
	Session map[string]any `json:"session"`
}

func NewSessionUpdate(session map[string]any) SessionUpdate {
	return SessionUpdate{Type: "session.update", Session: session}
}

type InputAudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

func NewInputAudioAppend(audio string) InputAudioAppend {
	return InputAudioAppend{Type: "input_audio_buffer.append", Audio: audio}
}

type ItemTruncate struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int64  `json:"audio_end_ms"`
}

func NewItemTruncate(itemID string, audioEndMS int64) ItemTruncate {
	return ItemTruncate{Type: "conversation.item.truncate", ItemID: itemID, ContentIndex: 0, AudioEndMS: audioEndMS}
}

type ItemCreate struct {
	Type string             `json:"type"`
	Item FunctionCallOutput `json:"item"`
}

type FunctionCallOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

func NewFunctionOutput(callID, output string) ItemCreate {
	return ItemCreate{
		Type: "conversation.item.create",
		Item: FunctionCallOutput{Type: "function_call_output", CallID: callID, Output: output},
	}
}

type ResponseCreate struct {
	Type string `json:"type"`
}

func NewResponseCreate() ResponseCreate {
	return ResponseCreate{Type: "response.create"}
}

// Observer messages. The observer may push a session.update that retargets
// every live session's saved configuration; anything else is an opaque
// command forwarded to the model channels verbatim.

type ObserverSessionUpdate struct {
	Session map[string]any
	Raw     json.RawMessage
}

type ObserverCommand struct {
	Type string
	Raw  json.RawMessage
}

func ParseObserverMessage(raw []byte) (any, error) {
	var env struct {
		Type    string         `json:"type"`
		Session map[string]any `json:"session"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Type == "" {
		return nil, errors.New("observer message missing type")
	}

	if env.Type == "session.update" {
		return ObserverSessionUpdate{Session: env.Session, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
	return ObserverCommand{Type: env.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
}
