package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v3"
)

// Relayed event names. The server only forwards them between the two sides of a room.
const (
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice_candidate"
	EventMessage      = "message"
)

// maxChatMessageBytes bounds a relayed chat payload.
const maxChatMessageBytes = 4096

var (
	errEmptyPayload = errors.New("empty payload")
	errUnknownRelay = errors.New("unknown relay event")
)

// Signaling holds the ICE servers handed to peers and validates relayed payloads.
type Signaling struct {
	iceServers []webrtc.ICEServer
}

// NewSignaling creates a Signaling with the given STUN/TURN urls, defaulting to Google's public STUN.
func NewSignaling(iceURLs []string) *Signaling {
	servers := make([]webrtc.ICEServer, 0, len(iceURLs))
	for _, u := range iceURLs {
		if u != "" {
			servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
		}
	}
	if len(servers) == 0 {
		servers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return &Signaling{iceServers: servers}
}

// Configuration returns the peer connection configuration clients should use.
func (s *Signaling) Configuration() webrtc.Configuration {
	return webrtc.Configuration{ICEServers: s.iceServers}
}

// ValidateRelay checks that payload is well-formed for event before it is forwarded.
func ValidateRelay(event string, payload json.RawMessage) error {
	if len(payload) == 0 || string(payload) == "null" {
		return errEmptyPayload
	}
	switch event {
	case EventOffer, EventAnswer:
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(payload, &sd); err != nil {
			return fmt.Errorf("session description: %w", err)
		}
		want := webrtc.SDPTypeOffer
		if event == EventAnswer {
			want = webrtc.SDPTypeAnswer
		}
		if sd.Type != want {
			return fmt.Errorf("session description type %q, want %q", sd.Type, want)
		}
		if sd.SDP == "" {
			return errors.New("session description without sdp")
		}
		return nil
	case EventICECandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(payload, &cand); err != nil {
			return fmt.Errorf("ice candidate: %w", err)
		}
		return nil
	case EventMessage:
		if len(payload) > maxChatMessageBytes {
			return fmt.Errorf("message of %d bytes exceeds %d", len(payload), maxChatMessageBytes)
		}
		return nil
	default:
		return errUnknownRelay
	}
}
