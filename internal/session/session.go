package session

import (
	"sync"
	"time"
)

// Peer is one side of a live bridge: something that accepts outbound
// messages and can be closed. Websocket wrappers and test fakes both
// implement it. Send to a dead peer returns an error the relay ignores;
// delivery is not guaranteed once a socket is closing.
type Peer interface {
	Send(v any) error
	Close() error
}

// Session is the bridging state for one active telephony call. All
// mutable fields are serialized behind the session mutex, so the
// telephony pump, the model pump and the observer fan-out can touch the
// same record from different goroutines.
type Session struct {
	ID         string // telephony stream SID, primary key
	CallSID    string
	Credential string
	StartedAt  time.Time

	mu             sync.Mutex
	telephony      Peer
	model          Peer
	savedConfig    map[string]any
	lastItemID     string
	responseStart  int64
	responseActive bool
	latestMediaTS  int64
	interruptions  int
	lastActivity   time.Time
}

func newSession(streamSID, callSID, credential string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           streamSID,
		CallSID:      callSID,
		Credential:   credential,
		StartedAt:    now,
		lastActivity: now,
	}
}

func (s *Session) AttachTelephony(p Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telephony = p
	s.lastActivity = time.Now().UTC()
}

// DetachTelephony clears the telephony handle and returns the previous
// one so the caller can close it outside the lock.
func (s *Session) DetachTelephony() Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.telephony
	s.telephony = nil
	return p
}

// AttachModel installs the model handle. It refuses when a connection is
// already established so a racing second dial cannot clobber the first.
func (s *Session) AttachModel(p Peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model != nil {
		return false
	}
	s.model = p
	s.lastActivity = time.Now().UTC()
	return true
}

func (s *Session) DetachModel() Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.model
	s.model = nil
	return p
}

func (s *Session) Telephony() Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telephony
}

func (s *Session) Model() Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

func (s *Session) HasPeers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telephony != nil || s.model != nil
}

// NoteMedia records the media-clock position of an inbound audio frame.
// It runs unconditionally, model link up or not, so truncation math stays
// correct once the link recovers.
func (s *Session) NoteMedia(timestampMS int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestMediaTS = timestampMS
	s.lastActivity = time.Now().UTC()
}

func (s *Session) LatestMediaTimestamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestMediaTS
}

// BeginAudio records an assistant audio delta. On the first delta of a
// response it stamps the response start from the current media clock and
// reports true; every delta refreshes the in-flight item id.
func (s *Session) BeginAudio(itemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := false
	if !s.responseActive {
		s.responseActive = true
		s.responseStart = s.latestMediaTS
		first = true
	}
	s.lastItemID = itemID
	s.lastActivity = time.Now().UTC()
	return first
}

// CutInterruption consumes the in-flight response state for a barge-in.
// It reports false when nothing is streaming; otherwise it returns the
// item to truncate and how many milliseconds of it the caller heard,
// clamped to zero, and resets the session to idle.
func (s *Session) CutInterruption() (itemID string, elapsedMS int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.responseActive || s.lastItemID == "" {
		return "", 0, false
	}
	elapsedMS = s.latestMediaTS - s.responseStart
	if elapsedMS < 0 {
		elapsedMS = 0
	}
	itemID = s.lastItemID
	s.lastItemID = ""
	s.responseStart = 0
	s.responseActive = false
	s.interruptions++
	s.lastActivity = time.Now().UTC()
	return itemID, elapsedMS, true
}

// ResponseStart reports the media-clock stamp of the current response and
// whether one is in flight.
func (s *Session) ResponseStart() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responseStart, s.responseActive
}

func (s *Session) LastAssistantItem() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastItemID
}

func (s *Session) InterruptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interruptions
}

// SetConfig overwrites the observer-supplied configuration applied to the
// next model handshake.
func (s *Session) SetConfig(cfg map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == nil {
		s.savedConfig = nil
		return
	}
	copied := make(map[string]any, len(cfg))
	for k, v := range cfg {
		copied[k] = v
	}
	s.savedConfig = copied
}

// Config returns a copy of the saved observer configuration.
func (s *Session) Config() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.savedConfig == nil {
		return nil
	}
	copied := make(map[string]any, len(s.savedConfig))
	for k, v := range s.savedConfig {
		copied[k] = v
	}
	return copied
}

func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now().UTC()
}

func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
