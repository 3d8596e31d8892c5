package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	pion "github.com/pion/webrtc/v4"
)

// Envelope is the JSON frame exchanged with the relay. Payload is kept raw
// until Parse turns it into a typed Signal.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	RoomID  string          `json:"room_id,omitempty"`
	From    string          `json:"from,omitempty"`
}

// Negotiation and chat events.
const (
	EventOffer          = "offer"
	EventAnswer         = "answer"
	EventICECandidate   = "ice-candidate"
	EventSendMessage    = "send-message"
	EventReceiveMessage = "receive-message"
)

// Relay control events.
const (
	EventCreateRoom  = "create_room"
	EventJoinRoom    = "join_room"
	EventRoomCreated = "room_created"
	EventJoinSuccess = "join_success"
	EventPeerJoined  = "peer_joined"
	EventPeerLeft    = "peer_left"
	EventError       = "error"
)

var (
	ErrUnknownEvent   = errors.New("unknown signaling event")
	ErrInvalidPayload = errors.New("invalid signaling payload")
	ErrClientClosed   = errors.New("signaling client closed")
)

// ErrorPayload is carried by EventError.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Signal is the closed set of messages that reach the negotiation core.
type Signal interface {
	Event() string
}

// Offer carries the caller's session description.
type Offer struct {
	Description pion.SessionDescription
}

// Answer carries the callee's session description.
type Answer struct {
	Description pion.SessionDescription
}

// Candidate carries one connectivity candidate. The descriptor stays raw here:
// it is only decoded when the session applies it.
type Candidate struct {
	Init json.RawMessage
}

// ChatSend is a chat line handed to the relay.
type ChatSend struct {
	Text string
}

// ChatReceive is a chat line delivered by the relay.
type ChatReceive struct {
	Text string
}

func (Offer) Event() string       { return EventOffer }
func (Answer) Event() string      { return EventAnswer }
func (Candidate) Event() string   { return EventICECandidate }
func (ChatSend) Event() string    { return EventSendMessage }
func (ChatReceive) Event() string { return EventReceiveMessage }

// IsSignalEvent reports whether eventType is one Parse understands.
func IsSignalEvent(eventType string) bool {
	switch eventType {
	case EventOffer, EventAnswer, EventICECandidate, EventSendMessage, EventReceiveMessage:
		return true
	}
	return false
}

// Parse validates an envelope and converts it into its Signal variant.
func Parse(env Envelope) (Signal, error) {
	switch env.Type {
	case EventOffer:
		desc, err := parseDescription(env.Payload, pion.SDPTypeOffer)
		if err != nil {
			return nil, err
		}
		return Offer{Description: desc}, nil

	case EventAnswer:
		desc, err := parseDescription(env.Payload, pion.SDPTypeAnswer)
		if err != nil {
			return nil, err
		}
		return Answer{Description: desc}, nil

	case EventICECandidate:
		raw := bytes.TrimSpace(env.Payload)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			return nil, fmt.Errorf("%w: empty candidate", ErrInvalidPayload)
		}
		return Candidate{Init: append(json.RawMessage(nil), raw...)}, nil

	case EventSendMessage, EventReceiveMessage:
		var text string
		if err := json.Unmarshal(env.Payload, &text); err != nil {
			return nil, fmt.Errorf("%w: chat text: %v", ErrInvalidPayload, err)
		}
		if env.Type == EventSendMessage {
			return ChatSend{Text: text}, nil
		}
		return ChatReceive{Text: text}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

func parseDescription(payload json.RawMessage, want pion.SDPType) (pion.SessionDescription, error) {
	var desc pion.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return desc, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, want, err)
	}
	if desc.SDP == "" {
		return desc, fmt.Errorf("%w: %s without sdp", ErrInvalidPayload, want)
	}
	switch desc.Type {
	case want:
	case pion.SDPTypeUnknown:
		desc.Type = want
	default:
		return desc, fmt.Errorf("%w: %s event carries a %s description", ErrInvalidPayload, want, desc.Type)
	}
	return desc, nil
}

// Encode builds the envelope for sig.
func Encode(sig Signal) (Envelope, error) {
	var payload any
	switch s := sig.(type) {
	case Offer:
		payload = s.Description
	case Answer:
		payload = s.Description
	case Candidate:
		if len(s.Init) == 0 {
			return Envelope{}, fmt.Errorf("%w: empty candidate", ErrInvalidPayload)
		}
		return Envelope{Type: EventICECandidate, Payload: s.Init}, nil
	case ChatSend:
		payload = s.Text
	case ChatReceive:
		payload = s.Text
	default:
		return Envelope{}, fmt.Errorf("%w: %T", ErrUnknownEvent, sig)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return Envelope{Type: sig.Event(), Payload: b}, nil
}

// CandidateSignal wraps a gathered local candidate for sending.
func CandidateSignal(init pion.ICECandidateInit) (Candidate, error) {
	b, err := json.Marshal(init)
	if err != nil {
		return Candidate{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return Candidate{Init: b}, nil
}
