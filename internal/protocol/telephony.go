package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Telephony wire shapes follow the Twilio media streams protocol: every
// frame is a JSON object tagged by an "event" field.

type TelephonyEvent string

const (
	EventConnected TelephonyEvent = "connected"
	EventStart     TelephonyEvent = "start"
	EventMedia     TelephonyEvent = "media"
	EventMark      TelephonyEvent = "mark"
	EventStop      TelephonyEvent = "stop"
	EventClear     TelephonyEvent = "clear"
)

var ErrUnknownTelephonyEvent = errors.New("unknown telephony event")

type telephonyEnvelope struct {
	Event TelephonyEvent `json:"event"`
}

// StreamConnected is the first frame the telephony peer sends after the
// websocket opens. It carries no call state.
type StreamConnected struct {
	Event TelephonyEvent `json:"event"`
}

type StreamStart struct {
	Event     TelephonyEvent `json:"event"`
	StreamSID string         `json:"streamSid"`
	Start     StartPayload   `json:"start"`
}

type StartPayload struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	AccountSID       string            `json:"accountSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// SID returns the stream identifier, preferring the nested start payload
// (some peers omit the top-level copy).
func (m StreamStart) SID() string {
	if m.Start.StreamSID != "" {
		return m.Start.StreamSID
	}
	return m.StreamSID
}

type StreamMedia struct {
	Event TelephonyEvent `json:"event"`
	Media MediaPayload   `json:"media"`
}

type MediaPayload struct {
	Track string `json:"track,omitempty"`
	// Millisecond media-clock position, transmitted as a decimal string.
	Timestamp string `json:"timestamp"`
	// Base64 mu-law audio.
	Payload string `json:"payload"`
}

// TimestampMS parses the media-clock position. Unparsable values come back
// as 0 so a single bad frame cannot corrupt truncation math.
func (m StreamMedia) TimestampMS() int64 {
	ts, err := strconv.ParseInt(m.Media.Timestamp, 10, 64)
	if err != nil || ts < 0 {
		return 0
	}
	return ts
}

// StreamMark is the peer's playback acknowledgement for a mark frame the
// bridge sent earlier.
type StreamMark struct {
	Event TelephonyEvent `json:"event"`
	Mark  MarkPayload    `json:"mark"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

type StreamStop struct {
	Event TelephonyEvent `json:"event"`
	Stop  StopPayload    `json:"stop"`
}

type StopPayload struct {
	CallSID   string `json:"callSid"`
	StreamSID string `json:"streamSid"`
}

// ParseTelephonyMessage decodes one inbound telephony frame into its
// variant. Callers treat any error as "ignore this frame".
func ParseTelephonyMessage(raw []byte) (any, error) {
	var env telephonyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case EventConnected:
		var msg StreamConnected
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventStart:
		var msg StreamStart
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SID() == "" {
			return nil, errors.New("start frame missing streamSid")
		}
		return msg, nil
	case EventMedia:
		var msg StreamMedia
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventMark:
		var msg StreamMark
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventStop:
		var msg StreamStop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnknownTelephonyEvent
	}
}

// Outbound frames to the telephony peer.

type OutboundMedia struct {
	Event     TelephonyEvent       `json:"event"`
	StreamSID string               `json:"streamSid"`
	Media     OutboundMediaPayload `json:"media"`
}

type OutboundMediaPayload struct {
	Payload string `json:"payload"`
}

type OutboundMark struct {
	Event     TelephonyEvent `json:"event"`
	StreamSID string         `json:"streamSid"`
	Mark      MarkPayload    `json:"mark"`
}

type OutboundClear struct {
	Event     TelephonyEvent `json:"event"`
	StreamSID string         `json:"streamSid"`
}

func NewOutboundMedia(streamSID, payload string) OutboundMedia {
	return OutboundMedia{Event: EventMedia, StreamSID: streamSID, Media: OutboundMediaPayload{Payload: payload}}
}

func NewOutboundMark(streamSID, name string) OutboundMark {
	return OutboundMark{Event: EventMark, StreamSID: streamSID, Mark: MarkPayload{Name: name}}
}

func NewOutboundClear(streamSID string) OutboundClear {
	return OutboundClear{Event: EventClear, StreamSID: streamSID}
}
