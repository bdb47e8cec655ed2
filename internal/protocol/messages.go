// Package protocol defines the WebSocket event types and structures exchanged
// between clients and the coordination core. All events are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeAuthenticate = "authenticate"
	TypeFindMatch    = "find-match"
	TypeCancelMatch  = "cancel-match"
	TypeSkip         = "skip"
	TypeSendMessage  = "send-message"
	TypeTyping       = "typing"
	TypeStopTyping   = "stop-typing"
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice-candidate"
	TypeVideoToggle  = "video-toggle"
	TypeAudioToggle  = "audio-toggle"
	TypePing         = "ping"
)

// Server -> Client event types. Offer/answer/ice-candidate keep the same
// names in both directions; the core rewrites "to" into "from" on relay.
const (
	TypeAuthenticated      = "authenticated"
	TypeSearching          = "searching"
	TypeMatchFound         = "match-found"
	TypeMatchCancelled     = "match-cancelled"
	TypeMatchEnded         = "match-ended"
	TypeReceiveMessage     = "receive-message"
	TypeMessageBlocked     = "message-blocked"
	TypeUserTyping         = "user-typing"
	TypeUserStoppedTyping  = "user-stopped-typing"
	TypePeerVideoToggle    = "peer-video-toggle"
	TypePeerAudioToggle    = "peer-audio-toggle"
	TypeMatchmakingStopped = "matchmaking-stopped"
	TypeSkipSuccess        = "skip-success"
	TypeError              = "error"
	TypePong               = "pong"
)

// ---------------------------------------------------------------------------
// Tiers and preferences
// ---------------------------------------------------------------------------

// Tier is a user's subscription level. It influences match scoring.
type Tier string

// Known tiers, from lowest to highest.
const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
	TierPro     Tier = "pro"
)

// Tiers lists every known tier. Used for tier-bucket iteration.
var Tiers = []Tier{TierFree, TierPremium, TierPro}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPremium || t == TierPro
}

// PrefAny is the wildcard value for gender and region preferences.
const PrefAny = "any"

// Preferences are the matchmaking filters a user searches with.
type Preferences struct {
	Tier   Tier   `json:"tier"`
	Gender string `json:"gender"`
	Region string `json:"region"`
}

// Normalize fills empty preference fields with their wildcard/default values.
func (p Preferences) Normalize() Preferences {
	if !p.Tier.Valid() {
		p.Tier = TierFree
	}
	if p.Gender == "" {
		p.Gender = PrefAny
	}
	if p.Region == "" {
		p.Region = PrefAny
	}
	return p
}

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// AuthenticateMsg binds an identity token to the current session.
type AuthenticateMsg struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// FindMatchMsg is sent by the client to enter the matchmaking queue.
// UserID is the anonymous fallback identity for sessions that never
// authenticated with a token.
type FindMatchMsg struct {
	Type        string      `json:"type"`
	UserID      string      `json:"userId"`
	Preferences Preferences `json:"preferences"`
}

// CancelMatchMsg is sent by the client to leave the matchmaking queue.
type CancelMatchMsg struct {
	Type string `json:"type"`
}

// SkipMsg ends the current pairing. When AutoRequeue is set the sender is
// re-enqueued after a short teardown delay; the skipped peer is always
// re-enqueued.
type SkipMsg struct {
	Type        string       `json:"type"`
	UserID      string       `json:"userId,omitempty"`
	Preferences *Preferences `json:"preferences,omitempty"`
	AutoRequeue bool         `json:"autoRequeue"`
}

// SendMessageMsg is a chat message addressed to the current partner.
type SendMessageMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// TypingMsg indicates the client started typing.
type TypingMsg struct {
	Type string `json:"type"`
}

// StopTypingMsg indicates the client stopped typing.
type StopTypingMsg struct {
	Type string `json:"type"`
}

// SignalMsg carries a WebRTC signaling blob (offer, answer or ICE candidate)
// addressed to a declared target session. The payload is opaque to the core;
// it is forwarded byte-for-byte with "to" rewritten to "from".
type SignalMsg struct {
	Type    string          `json:"type"`
	To      string          `json:"to,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MediaToggleMsg reports that the sender enabled or disabled a media track.
type MediaToggleMsg struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// AuthenticatedMsg confirms a successful identity binding.
type AuthenticatedMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Tier   Tier   `json:"tier"`
}

// SearchingMsg is a progress tick emitted while the search driver polls.
type SearchingMsg struct {
	Type           string `json:"type"`
	QueuePosition  int    `json:"queuePosition,omitempty"`
	WaitTime       int64  `json:"waitTime"` // milliseconds since enqueue
	SearchAttempts int    `json:"searchAttempts"`
}

// MatchFoundMsg is sent to both peers when a pairing is created.
type MatchFoundMsg struct {
	Type           string `json:"type"`
	MatchSessionID string `json:"matchSessionID"`
	MatchUserID    string `json:"matchUserID"`
	WaitTime       int64  `json:"waitTime"` // milliseconds spent searching
}

// MatchCancelledMsg acknowledges an aborted search.
type MatchCancelledMsg struct {
	Type string `json:"type"`
}

// MatchEndedMsg notifies a peer that its pairing was destroyed.
type MatchEndedMsg struct {
	Type          string `json:"type"`
	Reason        string `json:"reason"` // "skipped" | "disconnected"
	FromSessionID string `json:"fromSessionID"`
	Disconnected  bool   `json:"disconnected"`
	AutoRequeue   bool   `json:"autoRequeue"`
}

// ReceiveMessageMsg is a moderated chat message delivered to both peers. The
// echo to the sender carries the single authoritative timestamp.
type ReceiveMessageMsg struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	SenderID  string `json:"senderId"`
}

// MessageBlockedMsg is sent to the sender only when the moderator vetoes.
type MessageBlockedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// UserTypingMsg relays that the partner started typing.
type UserTypingMsg struct {
	Type string `json:"type"`
}

// UserStoppedTypingMsg relays that the partner stopped typing.
type UserStoppedTypingMsg struct {
	Type string `json:"type"`
}

// PeerMediaToggleMsg relays the partner's media toggle.
type PeerMediaToggleMsg struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// MatchmakingStoppedMsg reports that the server tore down the search driver.
type MatchmakingStoppedMsg struct {
	Type string `json:"type"`
}

// SkipSuccessMsg acknowledges a skip to the skipping session.
type SkipSuccessMsg struct {
	Type        string `json:"type"`
	AutoRequeue bool   `json:"autoRequeue"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client event.
// It returns the event type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only event types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAuthenticate:
		var m AuthenticateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFindMatch:
		var m FindMatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCancelMatch:
		var m CancelMatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSkip:
		var m SkipMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStopTyping:
		var m StopTypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeOffer, TypeAnswer, TypeICECandidate:
		var m SignalMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeVideoToggle, TypeAudioToggle:
		var m MediaToggleMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server event.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server-side structs above; this function marshals it
// to JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
